// Package metrics computes derived health and flow indicators over record
// sets. Every calculator is pure and deterministic: no I/O, inputs are
// validated, empty inputs yield zeros instead of dividing by zero.
package metrics

import (
	"errors"
	"fmt"
	"time"

	"github.com/gitgov-io/gitgov/pkg/record"
)

var (
	// ErrInvalidData is returned when an input record cannot be decoded as
	// the expected payload type.
	ErrInvalidData = errors.New("invalid metric input data")
	// ErrNotImplemented marks metric tiers that are specified but not yet
	// shipped.
	ErrNotImplemented = errors.New("metric not implemented")
)

const day = 24 * time.Hour

// statusPoints weights a task's contribution to the health score. The
// legacy "cancelled" status still appears in imported histories and
// scores zero like the other dead-end states.
var statusPoints = map[record.TaskStatus]float64{
	record.TaskDone:                100,
	record.TaskArchived:            100,
	record.TaskActive:              80,
	record.TaskReview:              80,
	record.TaskReady:               80,
	record.TaskDraft:               60,
	record.TaskPaused:              0,
	record.TaskBlocked:             0,
	record.TaskDiscarded:           0,
	record.TaskStatus("cancelled"): 0,
}

// backlogStatuses are the model statuses the distribution reports on;
// anything outside the enum is ignored.
var backlogStatuses = map[record.TaskStatus]bool{
	record.TaskDraft:     true,
	record.TaskReview:    true,
	record.TaskReady:     true,
	record.TaskActive:    true,
	record.TaskDone:      true,
	record.TaskArchived:  true,
	record.TaskPaused:    true,
	record.TaskDiscarded: true,
	record.TaskBlocked:   true,
}

// closedStatuses are the terminal states that contribute to lead/cycle
// time and throughput.
var closedStatuses = map[record.TaskStatus]bool{
	record.TaskDone:     true,
	record.TaskArchived: true,
}

// Calculator evaluates metrics against an injected clock.
type Calculator struct {
	now func() time.Time
}

// NewCalculator uses the wall clock.
func NewCalculator() *Calculator {
	return &Calculator{now: time.Now}
}

// WithClock overrides the clock for tests.
func (c *Calculator) WithClock(now func() time.Time) *Calculator {
	c.now = now
	return c
}

func decodeTask(r *record.Record) (*record.TaskRecord, error) {
	var task record.TaskRecord
	if err := record.DecodePayload(r, record.TypeTask, &task); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidData, err)
	}
	return &task, nil
}

// recordTime is the reference instant of a record: its newest signature,
// falling back to the timestamp embedded in the payload ID.
func recordTime(r *record.Record) (int64, bool) {
	if ts, ok := record.LastSignatureTime(r); ok {
		return ts, true
	}
	id, err := record.PayloadID(r)
	if err != nil {
		return 0, false
	}
	return record.IDTimestamp(id)
}

// Health returns a weighted score in [0,100] over the task set. Every
// task counts in the denominator; unscored statuses contribute zero.
// Empty input scores 0.
func (c *Calculator) Health(tasks []*record.Record) (float64, error) {
	if len(tasks) == 0 {
		return 0, nil
	}
	var sum float64
	for _, r := range tasks {
		task, err := decodeTask(r)
		if err != nil {
			return 0, err
		}
		sum += statusPoints[task.Status]
	}
	return sum / (float64(len(tasks)) * 100) * 100, nil
}

// BacklogDistribution maps status to percentage of the task set. Tasks
// with an unknown status are ignored.
func (c *Calculator) BacklogDistribution(tasks []*record.Record) (map[string]float64, error) {
	dist := map[string]float64{}
	counts := map[record.TaskStatus]int{}
	total := 0
	for _, r := range tasks {
		task, err := decodeTask(r)
		if err != nil {
			return nil, err
		}
		if !backlogStatuses[task.Status] {
			continue
		}
		counts[task.Status]++
		total++
	}
	if total == 0 {
		return dist, nil
	}
	for status, n := range counts {
		dist[string(status)] = float64(n) / float64(total) * 100
	}
	return dist, nil
}

// TimeInCurrentStage returns days since the task's latest signature, or
// since the timestamp embedded in its ID when it carries none. A
// non-temporal ID yields 0.
func (c *Calculator) TimeInCurrentStage(task *record.Record) (float64, error) {
	if task == nil {
		return 0, fmt.Errorf("%w: nil task", ErrInvalidData)
	}
	if _, err := decodeTask(task); err != nil {
		return 0, err
	}
	ts, ok := recordTime(task)
	if !ok {
		return 0, nil
	}
	return c.daysSince(ts), nil
}

// StalenessIndex returns days since the newest execution in the set.
// Empty input returns 0.
func (c *Calculator) StalenessIndex(executions []*record.Record) (float64, error) {
	var newest int64
	for _, r := range executions {
		if r.Header.Type != record.TypeExecution {
			return 0, fmt.Errorf("%w: record %q is not an execution", ErrInvalidData, r.Header.Type)
		}
		if ts, ok := recordTime(r); ok && ts > newest {
			newest = ts
		}
	}
	if newest == 0 {
		return 0, nil
	}
	return c.daysSince(newest), nil
}

// BlockingFeedbackAge returns the max age in days among open blocking
// feedback. No open blocking feedback returns 0.
func (c *Calculator) BlockingFeedbackAge(feedback []*record.Record) (float64, error) {
	var oldest int64
	for _, r := range feedback {
		var fb record.FeedbackRecord
		if err := record.DecodePayload(r, record.TypeFeedback, &fb); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		if fb.Status != record.FeedbackOpen || fb.Type != record.FeedbackBlocking {
			continue
		}
		if ts, ok := recordTime(r); ok && (oldest == 0 || ts < oldest) {
			oldest = ts
		}
	}
	if oldest == 0 {
		return 0, nil
	}
	return c.daysSince(oldest), nil
}

// Throughput counts tasks completed in the last 7 days.
func (c *Calculator) Throughput(tasks []*record.Record) (int, error) {
	cutoff := c.now().Add(-7 * day).Unix()
	n := 0
	for _, r := range tasks {
		task, err := decodeTask(r)
		if err != nil {
			return 0, err
		}
		if !closedStatuses[task.Status] {
			continue
		}
		if ts, ok := recordTime(r); ok && ts >= cutoff {
			n++
		}
	}
	return n, nil
}

// LeadTime averages, over closed tasks, the days between creation (the ID
// timestamp) and the final signature. No qualifying tasks returns 0.
func (c *Calculator) LeadTime(tasks []*record.Record) (float64, error) {
	return c.averageTransition(tasks, func(r *record.Record, task *record.TaskRecord) (int64, int64, bool) {
		created, ok := record.IDTimestamp(task.ID)
		if !ok {
			return 0, 0, false
		}
		closed, ok := record.LastSignatureTime(r)
		if !ok {
			return 0, 0, false
		}
		return created, closed, true
	})
}

// CycleTime averages, over closed tasks, the days between the first and
// last signatures (work started to work finished).
func (c *Calculator) CycleTime(tasks []*record.Record) (float64, error) {
	return c.averageTransition(tasks, func(r *record.Record, task *record.TaskRecord) (int64, int64, bool) {
		first, ok := record.FirstSignatureTime(r)
		if !ok {
			return 0, 0, false
		}
		last, ok := record.LastSignatureTime(r)
		if !ok {
			return 0, 0, false
		}
		return first, last, true
	})
}

func (c *Calculator) averageTransition(tasks []*record.Record, bounds func(*record.Record, *record.TaskRecord) (int64, int64, bool)) (float64, error) {
	var total float64
	var n int
	for _, r := range tasks {
		task, err := decodeTask(r)
		if err != nil {
			return 0, err
		}
		if !closedStatuses[task.Status] {
			continue
		}
		from, to, ok := bounds(r, task)
		if !ok || to < from {
			continue
		}
		total += float64(to-from) / day.Seconds()
		n++
	}
	if n == 0 {
		return 0, nil
	}
	return total / float64(n), nil
}

// ActiveAgents counts distinct agent actors with executions in the last
// 24 hours, matched by the executions' signing key.
func (c *Calculator) ActiveAgents(actors, executions []*record.Record) (int, error) {
	agents := map[string]bool{}
	for _, r := range actors {
		var actor record.ActorRecord
		if err := record.DecodePayload(r, record.TypeActor, &actor); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrInvalidData, err)
		}
		if actor.Type == record.ActorAgent {
			agents[actor.ID] = true
		}
	}
	cutoff := c.now().Add(-day).Unix()
	active := map[string]bool{}
	for _, r := range executions {
		if r.Header.Type != record.TypeExecution {
			return 0, fmt.Errorf("%w: record %q is not an execution", ErrInvalidData, r.Header.Type)
		}
		for _, sig := range r.Header.Signatures {
			if sig.Timestamp >= cutoff && agents[sig.KeyID] {
				active[sig.KeyID] = true
			}
		}
	}
	return len(active), nil
}

// CollaborationIndex is a tier-2 metric, not yet shipped.
func (c *Calculator) CollaborationIndex([]*record.Record) (float64, error) {
	return 0, ErrNotImplemented
}

// VelocityTrend is a tier-2 metric, not yet shipped.
func (c *Calculator) VelocityTrend([]*record.Record) (float64, error) {
	return 0, ErrNotImplemented
}

func (c *Calculator) daysSince(ts int64) float64 {
	delta := c.now().Unix() - ts
	if delta < 0 {
		return 0
	}
	return float64(delta) / day.Seconds()
}
