package projector

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/gitgov-io/gitgov/pkg/record"
)

// The sqlite tests exercise real SQL; this one pins down the postgres
// wire shape: every statement must reach the driver with $n placeholders.
func TestSQLSinkPostgresPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	defer db.Close()
	mock.MatchExpectationsInOrder(false)

	sink := &SQLSink{db: db, dialect: DialectPostgres, repoID: "repo-1", projectionType: "full"}
	index := &IndexData{
		Metadata: Metadata{RecordCounts: map[string]int{"task": 1}, IntegrityStatus: "verified"},
		Tasks: []EnrichedTask{{
			TaskRecord: record.TaskRecord{
				ID: "1700000000-task-pg", Title: "pg", Status: record.TaskDraft,
				Priority: record.PriorityLow, Tags: []string{}, References: []string{}, CycleIDs: []string{},
			},
		}},
	}

	mock.ExpectBegin()
	mock.ExpectExec(`(?s)INSERT INTO gitgov_task .*\$14`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM gitgov_task .*NOT IN \(\$3\)`).WillReturnResult(sqlmock.NewResult(0, 0))
	for _, table := range []string{"gitgov_cycle", "gitgov_actor", "gitgov_feedback", "gitgov_activity"} {
		mock.ExpectExec(`DELETE FROM ` + table + ` WHERE repo_id = \$1 AND projection_type = \$2`).
			WillReturnResult(sqlmock.NewResult(0, 0))
	}
	for i := 0; i < 8; i++ {
		mock.ExpectExec(`(?s)INSERT INTO gitgov_meta .*\$4`).WillReturnResult(sqlmock.NewResult(0, 1))
	}
	mock.ExpectCommit()

	require.NoError(t, sink.Persist(context.Background(), index))
	require.NoError(t, mock.ExpectationsWereMet())
}
