package projector

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gitgov-io/gitgov/pkg/metrics"
	"github.com/gitgov-io/gitgov/pkg/record"
	"github.com/gitgov-io/gitgov/pkg/store"
)

// stalledAfterDays is how long a task may go without activity before it is
// flagged stalled.
const stalledAfterDays = 7.0

// Projector composes the store set and the metrics calculator into
// IndexData snapshots. Instances are stateless after construction;
// multiple may run in parallel against the same stores.
type Projector struct {
	stores *store.Set
	calc   *metrics.Calculator
	logger *slog.Logger
	tracer trace.Tracer
	now    func() time.Time
}

// New builds a projector. logger may be nil.
func New(stores *store.Set, calc *metrics.Calculator, logger *slog.Logger) *Projector {
	if logger == nil {
		logger = slog.Default()
	}
	if calc == nil {
		calc = metrics.NewCalculator()
	}
	return &Projector{
		stores: stores,
		calc:   calc,
		logger: logger,
		tracer: otel.Tracer("gitgov/projector"),
		now:    time.Now,
	}
}

// WithClock overrides the clock for tests.
func (p *Projector) WithClock(now func() time.Time) *Projector {
	p.now = now
	return p
}

// ComputeProjection reads every record and derives the snapshot. Invalid
// wrappers are logged and skipped; a single bad record never sinks the
// projection.
func (p *Projector) ComputeProjection(ctx context.Context) (*IndexData, error) {
	ctx, span := p.tracer.Start(ctx, "projector.compute")
	defer span.End()

	start := p.now()
	raw := map[record.Type][]*record.Record{}
	for _, t := range record.Types {
		recs, err := p.readAll(ctx, t)
		if err != nil {
			return nil, err
		}
		raw[t] = recs
	}

	index := &IndexData{
		Metadata: Metadata{
			RecordCounts:    map[string]int{},
			IntegrityStatus: "verified",
		},
		DerivedStates: map[string][]string{},
	}
	for t, recs := range raw {
		index.Metadata.RecordCounts[string(t)] = len(recs)
	}

	if err := p.decodeEntities(raw, index); err != nil {
		return nil, err
	}
	if err := p.enrichTasks(raw, index); err != nil {
		return nil, err
	}
	p.foldActivity(raw, index)
	p.deriveStates(index)

	index.normalize()
	index.Metadata.GeneratedAt = p.now().Unix()
	index.Metadata.GenerationTimeMs = p.now().Sub(start).Milliseconds()
	return index, nil
}

// readAll loads every record of one type, dropping unparseable entries
// with a warning.
func (p *Projector) readAll(ctx context.Context, t record.Type) ([]*record.Record, error) {
	s := p.stores.ByType(t)
	if s == nil {
		return nil, nil
	}
	ids, err := s.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list %s records: %w", t, err)
	}
	recs := make([]*record.Record, 0, len(ids))
	for _, id := range ids {
		rec, err := s.Get(ctx, id)
		if err != nil {
			p.logger.Warn("skipping invalid record", "type", t, "id", id, "error", err)
			continue
		}
		recs = append(recs, rec)
	}
	return recs, nil
}

func (p *Projector) decodeEntities(raw map[record.Type][]*record.Record, index *IndexData) error {
	decode := func(t record.Type, out func(*record.Record) error) error {
		for _, rec := range raw[t] {
			if err := out(rec); err != nil {
				p.logger.Warn("skipping undecodable payload", "type", t, "error", err)
			}
		}
		return nil
	}
	_ = decode(record.TypeCycle, func(r *record.Record) error {
		var c record.CycleRecord
		if err := record.DecodePayload(r, record.TypeCycle, &c); err != nil {
			return err
		}
		index.Cycles = append(index.Cycles, c)
		return nil
	})
	_ = decode(record.TypeActor, func(r *record.Record) error {
		var a record.ActorRecord
		if err := record.DecodePayload(r, record.TypeActor, &a); err != nil {
			return err
		}
		index.Actors = append(index.Actors, a)
		return nil
	})
	_ = decode(record.TypeFeedback, func(r *record.Record) error {
		var f record.FeedbackRecord
		if err := record.DecodePayload(r, record.TypeFeedback, &f); err != nil {
			return err
		}
		index.Feedback = append(index.Feedback, f)
		return nil
	})
	_ = decode(record.TypeExecution, func(r *record.Record) error {
		var e record.ExecutionRecord
		if err := record.DecodePayload(r, record.TypeExecution, &e); err != nil {
			return err
		}
		index.Executions = append(index.Executions, e)
		return nil
	})
	_ = decode(record.TypeChangelog, func(r *record.Record) error {
		var c record.ChangelogRecord
		if err := record.DecodePayload(r, record.TypeChangelog, &c); err != nil {
			return err
		}
		index.Changelogs = append(index.Changelogs, c)
		return nil
	})
	_ = decode(record.TypeAgent, func(r *record.Record) error {
		var a record.AgentRecord
		if err := record.DecodePayload(r, record.TypeAgent, &a); err != nil {
			return err
		}
		index.Agents = append(index.Agents, a)
		return nil
	})
	return nil
}

func (p *Projector) enrichTasks(raw map[record.Type][]*record.Record, index *IndexData) error {
	// Group executions and feedback by task for the per-task flags.
	execsByTask := map[string][]*record.Record{}
	for _, rec := range raw[record.TypeExecution] {
		var e record.ExecutionRecord
		if err := record.DecodePayload(rec, record.TypeExecution, &e); err != nil {
			continue
		}
		execsByTask[e.TaskID] = append(execsByTask[e.TaskID], rec)
	}
	openFeedback := map[string][]record.FeedbackRecord{}
	for _, fb := range index.Feedback {
		if fb.Status == record.FeedbackOpen && fb.EntityType == record.EntityTask {
			openFeedback[fb.EntityID] = append(openFeedback[fb.EntityID], fb)
		}
	}

	for _, rec := range raw[record.TypeTask] {
		var task record.TaskRecord
		if err := record.DecodePayload(rec, record.TypeTask, &task); err != nil {
			p.logger.Warn("skipping undecodable task", "error", err)
			continue
		}
		health, err := p.calc.Health([]*record.Record{rec})
		if err != nil {
			return err
		}
		stage, err := p.calc.TimeInCurrentStage(rec)
		if err != nil {
			return err
		}
		staleness := stage
		if execs := execsByTask[task.ID]; len(execs) > 0 {
			if staleness, err = p.calc.StalenessIndex(execs); err != nil {
				return err
			}
		}

		inFlight := task.Status == record.TaskActive || task.Status == record.TaskReview || task.Status == record.TaskReady
		stalled := inFlight && staleness > stalledAfterDays

		var blocked, clarification bool
		for _, fb := range openFeedback[task.ID] {
			switch fb.Type {
			case record.FeedbackBlocking:
				blocked = true
			case record.FeedbackQuestion:
				clarification = true
			}
		}
		highStakes := task.Priority == record.PriorityHigh || task.Priority == record.PriorityCritical

		index.Tasks = append(index.Tasks, EnrichedTask{
			TaskRecord:            task,
			HealthScore:           health,
			IsStalled:             stalled,
			IsAtRisk:              blocked || (stalled && highStakes),
			NeedsClarification:    clarification,
			IsBlockedByDependency: blocked || task.Status == record.TaskBlocked,
			TimeInCurrentStage:    stage,
			ExecutionCount:        len(execsByTask[task.ID]),
		})
	}
	return nil
}

// foldActivity turns every signature into an activity event, dropping
// entries whose timestamp is non-positive (these can arise from
// non-temporal ID prefixes or hand-edited records).
func (p *Projector) foldActivity(raw map[record.Type][]*record.Record, index *IndexData) {
	for t, recs := range raw {
		for _, rec := range recs {
			id, err := record.PayloadID(rec)
			if err != nil {
				continue
			}
			for _, sig := range rec.Header.Signatures {
				if sig.Timestamp <= 0 {
					continue
				}
				index.ActivityHistory = append(index.ActivityHistory, ActivityEvent{
					Timestamp: sig.Timestamp,
					Actor:     sig.KeyID,
					Kind:      fmt.Sprintf("%s.%s", t, sig.Role),
					EntityID:  id,
				})
			}
		}
	}
}

func (p *Projector) deriveStates(index *IndexData) {
	for _, task := range index.Tasks {
		key := string(task.Status)
		index.DerivedStates[key] = append(index.DerivedStates[key], task.ID)
	}
	for _, cycle := range index.Cycles {
		key := "cycle:" + string(cycle.Status)
		index.DerivedStates[key] = append(index.DerivedStates[key], cycle.ID)
	}
}

// Persist writes the snapshot to every sink, failing on the first error.
func (p *Projector) Persist(ctx context.Context, index *IndexData, sinks ...Sink) error {
	ctx, span := p.tracer.Start(ctx, "projector.persist")
	defer span.End()
	for _, sink := range sinks {
		if err := sink.Persist(ctx, index); err != nil {
			return err
		}
	}
	return nil
}
