package metrics

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gitgov-io/gitgov/pkg/record"
)

var fixedNow = time.Unix(1700000000, 0).UTC()

func calc() *Calculator {
	return NewCalculator().WithClock(func() time.Time { return fixedNow })
}

// taskRec builds an unsigned-but-wrapped task record with an optional
// signature timestamp.
func taskRec(t *testing.T, id string, status record.TaskStatus, sigTimes ...int64) *record.Record {
	t.Helper()
	payload := record.TaskRecord{
		ID: id, Title: "t", Status: status, Priority: record.PriorityMedium,
		Description: "d", Tags: []string{}, References: []string{}, CycleIDs: []string{},
	}
	rec, err := record.Wrap(record.TypeTask, payload)
	require.NoError(t, err)
	for _, ts := range sigTimes {
		rec.Header.Signatures = append(rec.Header.Signatures, record.Signature{
			KeyID: "human:a", Role: record.RoleAuthor, Signature: "00", Timestamp: ts,
		})
	}
	return rec
}

func execRec(t *testing.T, id, keyID string, sigTime int64) *record.Record {
	t.Helper()
	payload := record.ExecutionRecord{
		ID: id, TaskID: "1690000000-task-x", Type: record.ExecProgress,
		Title: "step", Result: "did the thing, ten chars plus",
	}
	rec, err := record.Wrap(record.TypeExecution, payload)
	require.NoError(t, err)
	rec.Header.Signatures = append(rec.Header.Signatures, record.Signature{
		KeyID: keyID, Role: record.RoleAuthor, Signature: "00", Timestamp: sigTime,
	})
	return rec
}

func TestHealthWeights(t *testing.T) {
	tasks := []*record.Record{
		taskRec(t, "1690000000-task-a", record.TaskDone),
		taskRec(t, "1690000001-task-b", record.TaskActive),
		taskRec(t, "1690000002-task-c", record.TaskDraft),
		taskRec(t, "1690000003-task-d", record.TaskBlocked),
	}
	score, err := calc().Health(tasks)
	require.NoError(t, err)
	// (100 + 80 + 60 + 0) / 400 * 100
	assert.InDelta(t, 60.0, score, 0.001)
}

func TestHealthScoresLegacyAndUnknownStatusesZero(t *testing.T) {
	tasks := []*record.Record{
		taskRec(t, "1690000000-task-a", record.TaskDone),
		taskRec(t, "1690000001-task-b", record.TaskStatus("cancelled")),
	}
	score, err := calc().Health(tasks)
	require.NoError(t, err)
	// (100 + 0) / 200 * 100 — the cancelled task stays in the denominator.
	assert.InDelta(t, 50.0, score, 0.001)

	tasks = append(tasks, taskRec(t, "1690000002-task-c", record.TaskStatus("weird")))
	score, err = calc().Health(tasks)
	require.NoError(t, err)
	assert.InDelta(t, 100.0/3, score, 0.001)
}

func TestHealthEmptyIsZero(t *testing.T) {
	score, err := calc().Health(nil)
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestHealthRejectsNonTask(t *testing.T) {
	exec := execRec(t, "1690000000-exec-a", "agent:bot", 1690000000)
	_, err := calc().Health([]*record.Record{exec})
	assert.ErrorIs(t, err, ErrInvalidData)
}

func TestBacklogDistribution(t *testing.T) {
	tasks := []*record.Record{
		taskRec(t, "1690000000-task-a", record.TaskDone),
		taskRec(t, "1690000001-task-b", record.TaskDone),
		taskRec(t, "1690000002-task-c", record.TaskActive),
		taskRec(t, "1690000003-task-d", record.TaskStatus("weird")),
		taskRec(t, "1690000004-task-e", record.TaskStatus("cancelled")),
	}
	dist, err := calc().BacklogDistribution(tasks)
	require.NoError(t, err)
	assert.InDelta(t, 66.666, dist["done"], 0.01)
	assert.InDelta(t, 33.333, dist["active"], 0.01)
	assert.NotContains(t, dist, "weird")
	assert.NotContains(t, dist, "cancelled")
}

func TestBacklogDistributionEmpty(t *testing.T) {
	dist, err := calc().BacklogDistribution(nil)
	require.NoError(t, err)
	assert.Empty(t, dist)
}

func TestTimeInCurrentStageFromSignature(t *testing.T) {
	twoDaysAgo := fixedNow.Add(-48 * time.Hour).Unix()
	task := taskRec(t, "1690000000-task-a", record.TaskActive, twoDaysAgo)
	days, err := calc().TimeInCurrentStage(task)
	require.NoError(t, err)
	assert.InDelta(t, 2.0, days, 0.001)
}

func TestTimeInCurrentStageFallsBackToID(t *testing.T) {
	// No signatures: use the ID timestamp (1690000000 ≈ 115.7 days before
	// the fixed clock).
	task := taskRec(t, "1690000000-task-a", record.TaskActive)
	days, err := calc().TimeInCurrentStage(task)
	require.NoError(t, err)
	assert.InDelta(t, float64(1700000000-1690000000)/86400, days, 0.001)
}

func TestStalenessIndex(t *testing.T) {
	execs := []*record.Record{
		execRec(t, "1690000000-exec-a", "agent:bot", fixedNow.Add(-72*time.Hour).Unix()),
		execRec(t, "1690000001-exec-b", "agent:bot", fixedNow.Add(-24*time.Hour).Unix()),
	}
	days, err := calc().StalenessIndex(execs)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, days, 0.001)

	days, err = calc().StalenessIndex(nil)
	require.NoError(t, err)
	assert.Zero(t, days)
}

func TestBlockingFeedbackAge(t *testing.T) {
	mk := func(id string, fbType record.FeedbackType, status record.FeedbackStatus, ts int64) *record.Record {
		payload := record.FeedbackRecord{
			ID: id, EntityType: record.EntityTask, EntityID: "1690000000-task-x",
			Type: fbType, Status: status, Content: "c",
		}
		rec, err := record.Wrap(record.TypeFeedback, payload)
		require.NoError(t, err)
		rec.Header.Signatures = []record.Signature{{KeyID: "human:a", Role: record.RoleAuthor, Signature: "00", Timestamp: ts}}
		return rec
	}
	fb := []*record.Record{
		mk("1690000000-feedback-a", record.FeedbackBlocking, record.FeedbackOpen, fixedNow.Add(-5*24*time.Hour).Unix()),
		mk("1690000001-feedback-b", record.FeedbackBlocking, record.FeedbackResolved, fixedNow.Add(-30*24*time.Hour).Unix()),
		mk("1690000002-feedback-c", record.FeedbackQuestion, record.FeedbackOpen, fixedNow.Add(-50*24*time.Hour).Unix()),
	}
	days, err := calc().BlockingFeedbackAge(fb)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, days, 0.001)
}

func TestThroughputLastSevenDays(t *testing.T) {
	tasks := []*record.Record{
		taskRec(t, "1690000000-task-a", record.TaskDone, fixedNow.Add(-2*24*time.Hour).Unix()),
		taskRec(t, "1690000001-task-b", record.TaskDone, fixedNow.Add(-10*24*time.Hour).Unix()),
		taskRec(t, "1690000002-task-c", record.TaskActive, fixedNow.Add(-1*24*time.Hour).Unix()),
	}
	n, err := calc().Throughput(tasks)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestLeadAndCycleTime(t *testing.T) {
	created := int64(1690000000)
	started := created + 86400   // first signature one day later
	finished := created + 3*86400 // closed two days after start
	id := fmt.Sprintf("%d-task-a", created)
	done := taskRec(t, id, record.TaskDone, started, finished)
	open := taskRec(t, "1690000005-task-b", record.TaskActive, started)

	lead, err := calc().LeadTime([]*record.Record{done, open})
	require.NoError(t, err)
	assert.InDelta(t, 3.0, lead, 0.001)

	cycle, err := calc().CycleTime([]*record.Record{done, open})
	require.NoError(t, err)
	assert.InDelta(t, 2.0, cycle, 0.001)
}

func TestLeadTimeNoClosedTasksIsZero(t *testing.T) {
	open := taskRec(t, "1690000000-task-a", record.TaskActive, 1690000001)
	lead, err := calc().LeadTime([]*record.Record{open})
	require.NoError(t, err)
	assert.Zero(t, lead)
}

func TestActiveAgents(t *testing.T) {
	mkActor := func(id string, at record.ActorType) *record.Record {
		payload := record.ActorRecord{ID: id, Type: at, DisplayName: "x", PublicKey: "aa", Roles: []string{"author"}}
		rec, err := record.Wrap(record.TypeActor, payload)
		require.NoError(t, err)
		return rec
	}
	actors := []*record.Record{
		mkActor("agent:bot", record.ActorAgent),
		mkActor("agent:idle", record.ActorAgent),
		mkActor("human:a", record.ActorHuman),
	}
	execs := []*record.Record{
		execRec(t, "1690000000-exec-a", "agent:bot", fixedNow.Add(-time.Hour).Unix()),
		execRec(t, "1690000001-exec-b", "agent:idle", fixedNow.Add(-48*time.Hour).Unix()),
		execRec(t, "1690000002-exec-c", "human:a", fixedNow.Add(-time.Hour).Unix()),
	}
	n, err := calc().ActiveAgents(actors, execs)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestFutureTiersNotImplemented(t *testing.T) {
	_, err := calc().CollaborationIndex(nil)
	assert.ErrorIs(t, err, ErrNotImplemented)
	_, err = calc().VelocityTrend(nil)
	assert.ErrorIs(t, err, ErrNotImplemented)
}

func TestCalculatorsAreFastEnough(t *testing.T) {
	tasks := make([]*record.Record, 0, 1000)
	for i := 0; i < 1000; i++ {
		tasks = append(tasks, taskRec(t, fmt.Sprintf("%d-task-t%d", 1690000000+i, i), record.TaskActive, int64(1690000000+i)))
	}
	start := time.Now()
	_, err := calc().Health(tasks)
	require.NoError(t, err)
	_, err = calc().BacklogDistribution(tasks)
	require.NoError(t, err)
	_, err = calc().LeadTime(tasks)
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

// Guard against metadata with arbitrary JSON shapes tripping decode.
func TestExecutionMetadataIsOpen(t *testing.T) {
	payload := record.ExecutionRecord{
		ID: "1690000000-exec-a", TaskID: "1690000000-task-x", Type: record.ExecInfo,
		Title: "m", Result: "ten chars plus some",
		Metadata: map[string]json.RawMessage{
			"nested": json.RawMessage(`{"a":[1,2,{"b":null}]}`),
		},
	}
	_, err := record.Wrap(record.TypeExecution, payload)
	assert.NoError(t, err)
}
