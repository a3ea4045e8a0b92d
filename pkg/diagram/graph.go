// Package diagram derives a cycle/task relationship graph and renders it
// as Mermaid text. Hierarchy comes exclusively from CycleRecord's
// childCycleIds and taskIds; nothing is inferred from tags or naming.
package diagram

import (
	"sort"

	"github.com/gitgov-io/gitgov/pkg/record"
)

// NodeType distinguishes graph node kinds.
type NodeType string

const (
	NodeCycle NodeType = "cycle"
	NodeTask  NodeType = "task"
)

// Node is one graph vertex.
type Node struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Type   NodeType `json:"type"`
	Status string   `json:"status"`
}

// Edge is a containment edge from a cycle to a child cycle or task.
type Edge struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// Graph is the relationship projection.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// FilterOptions narrow the graph. Zero values mean "everything", except
// archived entities which are excluded unless IncludeArchived is set.
type FilterOptions struct {
	CycleID         string
	TaskID          string
	PackageName     string
	IncludeArchived bool
}

// AnalyzeRelationships builds the graph from the authoritative hierarchy.
// Edges pointing at missing or filtered-out records are dropped, never
// invented.
func AnalyzeRelationships(cycles []record.CycleRecord, tasks []record.TaskRecord, opts FilterOptions) *Graph {
	cycleByID := make(map[string]record.CycleRecord, len(cycles))
	for _, c := range cycles {
		if !opts.IncludeArchived && c.Status == record.CycleArchived {
			continue
		}
		cycleByID[c.ID] = c
	}
	taskByID := make(map[string]record.TaskRecord, len(tasks))
	for _, t := range tasks {
		if !opts.IncludeArchived && t.Status == record.TaskArchived {
			continue
		}
		if opts.PackageName != "" && !hasPackageTag(t.Tags, opts.PackageName) {
			continue
		}
		taskByID[t.ID] = t
	}

	keepCycle, keepTask := selectScope(cycleByID, taskByID, opts)

	g := &Graph{}
	for id := range keepCycle {
		c := cycleByID[id]
		g.Nodes = append(g.Nodes, Node{ID: c.ID, Title: c.Title, Type: NodeCycle, Status: string(c.Status)})
	}
	for id := range keepTask {
		t := taskByID[id]
		g.Nodes = append(g.Nodes, Node{ID: t.ID, Title: t.Title, Type: NodeTask, Status: string(t.Status)})
	}
	for id := range keepCycle {
		c := cycleByID[id]
		for _, child := range c.ChildCycleIDs {
			if keepCycle[child] {
				g.Edges = append(g.Edges, Edge{From: c.ID, To: child})
			}
		}
		for _, task := range c.TaskIDs {
			if keepTask[task] {
				g.Edges = append(g.Edges, Edge{From: c.ID, To: task})
			}
		}
	}

	sort.Slice(g.Nodes, func(i, j int) bool { return g.Nodes[i].ID < g.Nodes[j].ID })
	sort.Slice(g.Edges, func(i, j int) bool {
		if g.Edges[i].From != g.Edges[j].From {
			return g.Edges[i].From < g.Edges[j].From
		}
		return g.Edges[i].To < g.Edges[j].To
	})
	return g
}

// selectScope applies the cycle/task focus filters over the surviving
// records.
func selectScope(cycleByID map[string]record.CycleRecord, taskByID map[string]record.TaskRecord, opts FilterOptions) (map[string]bool, map[string]bool) {
	keepCycle := map[string]bool{}
	keepTask := map[string]bool{}

	switch {
	case opts.CycleID != "":
		// The focused cycle plus everything reachable below it.
		var walk func(id string)
		walk = func(id string) {
			c, ok := cycleByID[id]
			if !ok || keepCycle[id] {
				return
			}
			keepCycle[id] = true
			for _, child := range c.ChildCycleIDs {
				walk(child)
			}
			for _, task := range c.TaskIDs {
				if _, ok := taskByID[task]; ok {
					keepTask[task] = true
				}
			}
		}
		walk(opts.CycleID)
	case opts.TaskID != "":
		if _, ok := taskByID[opts.TaskID]; ok {
			keepTask[opts.TaskID] = true
			for id, c := range cycleByID {
				for _, task := range c.TaskIDs {
					if task == opts.TaskID {
						keepCycle[id] = true
					}
				}
			}
		}
	default:
		for id := range cycleByID {
			keepCycle[id] = true
		}
		for id := range taskByID {
			keepTask[id] = true
		}
	}
	return keepCycle, keepTask
}

func hasPackageTag(tags []string, name string) bool {
	for _, tag := range tags {
		if tag == "package:"+name || tag == name {
			return true
		}
	}
	return false
}
