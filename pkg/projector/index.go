// Package projector aggregates every record into a deterministic,
// metrics-enriched IndexData snapshot and persists it through sinks.
package projector

import (
	"sort"

	"github.com/gitgov-io/gitgov/pkg/record"
)

// Metadata describes one projection run.
type Metadata struct {
	GeneratedAt      int64          `json:"generatedAt"`
	GenerationTimeMs int64          `json:"generationTime"`
	RecordCounts     map[string]int `json:"recordCounts"`
	IntegrityStatus  string         `json:"integrityStatus"`
}

// EnrichedTask is a task payload plus computed flags.
type EnrichedTask struct {
	record.TaskRecord
	HealthScore           float64 `json:"healthScore"`
	IsStalled             bool    `json:"isStalled"`
	IsAtRisk              bool    `json:"isAtRisk"`
	NeedsClarification    bool    `json:"needsClarification"`
	IsBlockedByDependency bool    `json:"isBlockedByDependency"`
	TimeInCurrentStage    float64 `json:"timeInCurrentStage"`
	ExecutionCount        int     `json:"executionCount"`
}

// ActivityEvent is one fold entry of the activity history.
type ActivityEvent struct {
	Timestamp int64  `json:"timestamp"`
	Actor     string `json:"actor"`
	Kind      string `json:"kind"`
	EntityID  string `json:"entityId"`
}

// IndexData is the denormalized snapshot consumers read instead of
// touching record stores.
type IndexData struct {
	Metadata        Metadata                 `json:"metadata"`
	Tasks           []EnrichedTask           `json:"tasks"`
	Cycles          []record.CycleRecord     `json:"cycles"`
	Actors          []record.ActorRecord     `json:"actors"`
	Feedback        []record.FeedbackRecord  `json:"feedback"`
	Executions      []record.ExecutionRecord `json:"executions"`
	Changelogs      []record.ChangelogRecord `json:"changelogs"`
	Agents          []record.AgentRecord     `json:"agents"`
	DerivedStates   map[string][]string      `json:"derivedStates"`
	ActivityHistory []ActivityEvent          `json:"activityHistory"`
}

// normalize sorts every collection so two equivalent projections are
// byte-identical regardless of store enumeration order.
func (d *IndexData) normalize() {
	sort.Slice(d.Tasks, func(i, j int) bool { return d.Tasks[i].ID < d.Tasks[j].ID })
	sort.Slice(d.Cycles, func(i, j int) bool { return d.Cycles[i].ID < d.Cycles[j].ID })
	sort.Slice(d.Actors, func(i, j int) bool { return d.Actors[i].ID < d.Actors[j].ID })
	sort.Slice(d.Feedback, func(i, j int) bool { return d.Feedback[i].ID < d.Feedback[j].ID })
	sort.Slice(d.Executions, func(i, j int) bool { return d.Executions[i].ID < d.Executions[j].ID })
	sort.Slice(d.Changelogs, func(i, j int) bool { return d.Changelogs[i].ID < d.Changelogs[j].ID })
	sort.Slice(d.Agents, func(i, j int) bool { return d.Agents[i].ID < d.Agents[j].ID })
	sort.SliceStable(d.ActivityHistory, func(i, j int) bool {
		a, b := d.ActivityHistory[i], d.ActivityHistory[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.EntityID != b.EntityID {
			return a.EntityID < b.EntityID
		}
		return a.Kind < b.Kind
	})
	for status := range d.DerivedStates {
		sort.Strings(d.DerivedStates[status])
	}
}
