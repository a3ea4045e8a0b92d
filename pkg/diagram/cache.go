package diagram

import (
	"sort"
	"sync"

	"github.com/gitgov-io/gitgov/pkg/canonicalize"
	"github.com/gitgov-io/gitgov/pkg/record"
)

// Cache memoizes the last built graph behind a content fingerprint, so
// repeated renders over unchanged records skip the rebuild.
type Cache struct {
	mu          sync.Mutex
	fingerprint string
	graph       *Graph
}

// NewCache creates an empty cache.
func NewCache() *Cache { return &Cache{} }

// Analyze returns the cached graph when the fingerprint matches,
// rebuilding otherwise. The bool reports a cache hit.
func (c *Cache) Analyze(cycles []record.CycleRecord, tasks []record.TaskRecord, opts FilterOptions) (*Graph, bool) {
	fp := Fingerprint(cycles, tasks, opts)
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.graph != nil && c.fingerprint == fp {
		return c.graph, true
	}
	c.graph = AnalyzeRelationships(cycles, tasks, opts)
	c.fingerprint = fp
	return c.graph, false
}

// fingerprintInput pins down exactly what invalidates the cache: the
// fields that influence nodes and edges, plus the filter options.
type fingerprintInput struct {
	Cycles []record.CycleRecord `json:"cycles"`
	Tasks  []fingerprintTask    `json:"tasks"`
	Opts   FilterOptions        `json:"opts"`
}

type fingerprintTask struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Status string   `json:"status"`
	Tags   []string `json:"tags"`
}

// Fingerprint hashes the sorted, canonicalized graph inputs. Input order
// never changes the fingerprint.
func Fingerprint(cycles []record.CycleRecord, tasks []record.TaskRecord, opts FilterOptions) string {
	in := fingerprintInput{Opts: opts}
	in.Cycles = append(in.Cycles, cycles...)
	sort.Slice(in.Cycles, func(i, j int) bool { return in.Cycles[i].ID < in.Cycles[j].ID })
	for _, t := range tasks {
		in.Tasks = append(in.Tasks, fingerprintTask{ID: t.ID, Title: t.Title, Status: string(t.Status), Tags: t.Tags})
	}
	sort.Slice(in.Tasks, func(i, j int) bool { return in.Tasks[i].ID < in.Tasks[j].ID })

	data, err := canonicalize.Canonicalize(in)
	if err != nil {
		// Canonicalization of plain structs cannot fail in practice; an
		// empty fingerprint just disables caching for this input.
		return ""
	}
	return canonicalize.HashBytes(data)
}
