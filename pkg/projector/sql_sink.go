package projector

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/gitgov-io/gitgov/pkg/record"
)

// Dialect selects placeholder style for the relational sink.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// SQLSink persists IndexData into six relational tables keyed by
// (repo_id, projection_type, record_id). Writes run in one transaction;
// re-projecting the same state leaves row counts and contents unchanged.
type SQLSink struct {
	db             *sql.DB
	dialect        Dialect
	repoID         string
	projectionType string
}

// OpenDatabase opens the sink database from a DATABASE_URL-style string:
// postgres:// URLs use lib/pq, anything else is treated as a sqlite path.
func OpenDatabase(url string) (*sql.DB, Dialect, error) {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		db, err := sql.Open("postgres", url)
		return db, DialectPostgres, err
	}
	db, err := sql.Open("sqlite", url)
	return db, DialectSQLite, err
}

// OpenDatabaseFromEnv reads DATABASE_URL.
func OpenDatabaseFromEnv() (*sql.DB, Dialect, error) {
	url := os.Getenv("DATABASE_URL")
	if url == "" {
		return nil, "", fmt.Errorf("DATABASE_URL not set")
	}
	return OpenDatabase(url)
}

// NewSQLSink runs migrations and binds the sink to a projection key.
func NewSQLSink(db *sql.DB, dialect Dialect, repoID, projectionType string) (*SQLSink, error) {
	s := &SQLSink{db: db, dialect: dialect, repoID: repoID, projectionType: projectionType}
	if err := s.migrate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *SQLSink) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS gitgov_task (
			repo_id TEXT NOT NULL,
			projection_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			priority TEXT NOT NULL,
			payload TEXT NOT NULL,
			health_score REAL NOT NULL,
			is_stalled INTEGER NOT NULL,
			is_at_risk INTEGER NOT NULL,
			needs_clarification INTEGER NOT NULL,
			is_blocked INTEGER NOT NULL,
			time_in_stage REAL NOT NULL,
			execution_count INTEGER NOT NULL,
			PRIMARY KEY (repo_id, projection_type, record_id)
		)`,
		`CREATE TABLE IF NOT EXISTS gitgov_cycle (
			repo_id TEXT NOT NULL,
			projection_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			title TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (repo_id, projection_type, record_id)
		)`,
		`CREATE TABLE IF NOT EXISTS gitgov_actor (
			repo_id TEXT NOT NULL,
			projection_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			actor_type TEXT NOT NULL,
			display_name TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (repo_id, projection_type, record_id)
		)`,
		`CREATE TABLE IF NOT EXISTS gitgov_feedback (
			repo_id TEXT NOT NULL,
			projection_type TEXT NOT NULL,
			record_id TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			feedback_type TEXT NOT NULL,
			status TEXT NOT NULL,
			payload TEXT NOT NULL,
			PRIMARY KEY (repo_id, projection_type, record_id)
		)`,
		`CREATE TABLE IF NOT EXISTS gitgov_activity (
			repo_id TEXT NOT NULL,
			projection_type TEXT NOT NULL,
			seq INTEGER NOT NULL,
			ts INTEGER NOT NULL,
			actor TEXT NOT NULL,
			kind TEXT NOT NULL,
			entity_id TEXT NOT NULL,
			PRIMARY KEY (repo_id, projection_type, seq)
		)`,
		`CREATE TABLE IF NOT EXISTS gitgov_meta (
			repo_id TEXT NOT NULL,
			projection_type TEXT NOT NULL,
			meta_key TEXT NOT NULL,
			meta_value TEXT NOT NULL,
			PRIMARY KEY (repo_id, projection_type, meta_key)
		)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.ExecContext(context.Background(), stmt); err != nil {
			return fmt.Errorf("migrate sink: %w", err)
		}
	}
	return nil
}

// rebind converts '?' placeholders to the dialect's style.
func (s *SQLSink) rebind(query string) string {
	if s.dialect != DialectPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *SQLSink) upsertSuffix(conflictCols string, updateCols []string) string {
	sets := make([]string, 0, len(updateCols))
	for _, c := range updateCols {
		sets = append(sets, fmt.Sprintf("%s = excluded.%s", c, c))
	}
	return fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", conflictCols, strings.Join(sets, ", "))
}

// Persist writes the whole snapshot inside a single transaction. Entity
// rows are upserted and rows absent from the snapshot are removed, so the
// table always mirrors exactly one projection per key.
func (s *SQLSink) Persist(ctx context.Context, index *IndexData) (err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin sink tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.persistTasks(ctx, tx, index.Tasks); err != nil {
		return err
	}
	if err = s.persistCycles(ctx, tx, index.Cycles); err != nil {
		return err
	}
	if err = s.persistActors(ctx, tx, index.Actors); err != nil {
		return err
	}
	if err = s.persistFeedback(ctx, tx, index.Feedback); err != nil {
		return err
	}
	if err = s.persistActivity(ctx, tx, index.ActivityHistory); err != nil {
		return err
	}
	if err = s.persistMeta(ctx, tx, index); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit sink tx: %w", err)
	}
	return nil
}

func (s *SQLSink) persistTasks(ctx context.Context, tx *sql.Tx, tasks []EnrichedTask) error {
	query := s.rebind(`INSERT INTO gitgov_task (
		repo_id, projection_type, record_id, title, status, priority, payload,
		health_score, is_stalled, is_at_risk, needs_clarification, is_blocked,
		time_in_stage, execution_count
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)` +
		s.upsertSuffix("repo_id, projection_type, record_id", []string{
			"title", "status", "priority", "payload", "health_score", "is_stalled",
			"is_at_risk", "needs_clarification", "is_blocked", "time_in_stage", "execution_count",
		}))
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		payload, err := json.Marshal(task.TaskRecord)
		if err != nil {
			return fmt.Errorf("serialize task %s: %w", task.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query,
			s.repoID, s.projectionType, task.ID, task.Title, string(task.Status), string(task.Priority), string(payload),
			task.HealthScore, boolInt(task.IsStalled), boolInt(task.IsAtRisk), boolInt(task.NeedsClarification),
			boolInt(task.IsBlockedByDependency), task.TimeInCurrentStage, task.ExecutionCount,
		); err != nil {
			return fmt.Errorf("upsert task %s: %w", task.ID, err)
		}
		ids = append(ids, task.ID)
	}
	return s.pruneMissing(ctx, tx, "gitgov_task", ids)
}

func (s *SQLSink) persistCycles(ctx context.Context, tx *sql.Tx, cycles []record.CycleRecord) error {
	query := s.rebind(`INSERT INTO gitgov_cycle (repo_id, projection_type, record_id, title, status, payload)
		VALUES (?, ?, ?, ?, ?, ?)` +
		s.upsertSuffix("repo_id, projection_type, record_id", []string{"title", "status", "payload"}))
	ids := make([]string, 0, len(cycles))
	for _, c := range cycles {
		payload, err := json.Marshal(c)
		if err != nil {
			return fmt.Errorf("serialize cycle %s: %w", c.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, s.repoID, s.projectionType, c.ID, c.Title, string(c.Status), string(payload)); err != nil {
			return fmt.Errorf("upsert cycle %s: %w", c.ID, err)
		}
		ids = append(ids, c.ID)
	}
	return s.pruneMissing(ctx, tx, "gitgov_cycle", ids)
}

func (s *SQLSink) persistActors(ctx context.Context, tx *sql.Tx, actors []record.ActorRecord) error {
	query := s.rebind(`INSERT INTO gitgov_actor (repo_id, projection_type, record_id, actor_type, display_name, payload)
		VALUES (?, ?, ?, ?, ?, ?)` +
		s.upsertSuffix("repo_id, projection_type, record_id", []string{"actor_type", "display_name", "payload"}))
	ids := make([]string, 0, len(actors))
	for _, a := range actors {
		payload, err := json.Marshal(a)
		if err != nil {
			return fmt.Errorf("serialize actor %s: %w", a.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, s.repoID, s.projectionType, a.ID, string(a.Type), a.DisplayName, string(payload)); err != nil {
			return fmt.Errorf("upsert actor %s: %w", a.ID, err)
		}
		ids = append(ids, a.ID)
	}
	return s.pruneMissing(ctx, tx, "gitgov_actor", ids)
}

func (s *SQLSink) persistFeedback(ctx context.Context, tx *sql.Tx, feedback []record.FeedbackRecord) error {
	query := s.rebind(`INSERT INTO gitgov_feedback (repo_id, projection_type, record_id, entity_id, feedback_type, status, payload)
		VALUES (?, ?, ?, ?, ?, ?, ?)` +
		s.upsertSuffix("repo_id, projection_type, record_id", []string{"entity_id", "feedback_type", "status", "payload"}))
	ids := make([]string, 0, len(feedback))
	for _, f := range feedback {
		payload, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("serialize feedback %s: %w", f.ID, err)
		}
		if _, err := tx.ExecContext(ctx, query, s.repoID, s.projectionType, f.ID, f.EntityID, string(f.Type), string(f.Status), string(payload)); err != nil {
			return fmt.Errorf("upsert feedback %s: %w", f.ID, err)
		}
		ids = append(ids, f.ID)
	}
	return s.pruneMissing(ctx, tx, "gitgov_feedback", ids)
}

func (s *SQLSink) persistActivity(ctx context.Context, tx *sql.Tx, events []ActivityEvent) error {
	// Activity rows have no stable record ID; replace the window wholesale,
	// keyed by position so identical events each keep their own row.
	del := s.rebind(`DELETE FROM gitgov_activity WHERE repo_id = ? AND projection_type = ?`)
	if _, err := tx.ExecContext(ctx, del, s.repoID, s.projectionType); err != nil {
		return fmt.Errorf("clear activity: %w", err)
	}
	ins := s.rebind(`INSERT INTO gitgov_activity (repo_id, projection_type, seq, ts, actor, kind, entity_id)
		VALUES (?, ?, ?, ?, ?, ?, ?)`)
	for i, e := range events {
		if _, err := tx.ExecContext(ctx, ins, s.repoID, s.projectionType, i, e.Timestamp, e.Actor, e.Kind, e.EntityID); err != nil {
			return fmt.Errorf("insert activity: %w", err)
		}
	}
	return nil
}

func (s *SQLSink) persistMeta(ctx context.Context, tx *sql.Tx, index *IndexData) error {
	query := s.rebind(`INSERT INTO gitgov_meta (repo_id, projection_type, meta_key, meta_value)
		VALUES (?, ?, ?, ?)` + s.upsertSuffix("repo_id, projection_type, meta_key", []string{"meta_value"}))
	entries := map[string]interface{}{
		"generated_at":     index.Metadata.GeneratedAt,
		"generation_time":  index.Metadata.GenerationTimeMs,
		"integrity_status": index.Metadata.IntegrityStatus,
		"record_counts":    index.Metadata.RecordCounts,
		"executions":       index.Executions,
		"changelogs":       index.Changelogs,
		"agents":           index.Agents,
		"derived_states":   index.DerivedStates,
	}
	for key, value := range entries {
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("serialize meta %s: %w", key, err)
		}
		if _, err := tx.ExecContext(ctx, query, s.repoID, s.projectionType, key, string(raw)); err != nil {
			return fmt.Errorf("upsert meta %s: %w", key, err)
		}
	}
	return nil
}

// pruneMissing drops rows for records no longer present in the snapshot.
func (s *SQLSink) pruneMissing(ctx context.Context, tx *sql.Tx, table string, keep []string) error {
	if len(keep) == 0 {
		query := s.rebind(fmt.Sprintf(`DELETE FROM %s WHERE repo_id = ? AND projection_type = ?`, table))
		_, err := tx.ExecContext(ctx, query, s.repoID, s.projectionType)
		return err
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(keep)), ", ")
	query := s.rebind(fmt.Sprintf(
		`DELETE FROM %s WHERE repo_id = ? AND projection_type = ? AND record_id NOT IN (%s)`,
		table, placeholders))
	args := make([]interface{}, 0, len(keep)+2)
	args = append(args, s.repoID, s.projectionType)
	for _, id := range keep {
		args = append(args, id)
	}
	_, err := tx.ExecContext(ctx, query, args...)
	return err
}

// Read reconstructs the last persisted snapshot.
func (s *SQLSink) Read(ctx context.Context) (*IndexData, error) {
	index := &IndexData{DerivedStates: map[string][]string{}, Metadata: Metadata{RecordCounts: map[string]int{}}}

	if err := s.readTasks(ctx, index); err != nil {
		return nil, err
	}
	if err := s.readEntities(ctx, index); err != nil {
		return nil, err
	}
	if err := s.readActivity(ctx, index); err != nil {
		return nil, err
	}
	if err := s.readMeta(ctx, index); err != nil {
		return nil, err
	}
	index.normalize()
	return index, nil
}

func (s *SQLSink) readTasks(ctx context.Context, index *IndexData) error {
	query := s.rebind(`SELECT payload, health_score, is_stalled, is_at_risk, needs_clarification,
		is_blocked, time_in_stage, execution_count
		FROM gitgov_task WHERE repo_id = ? AND projection_type = ? ORDER BY record_id`)
	rows, err := s.db.QueryContext(ctx, query, s.repoID, s.projectionType)
	if err != nil {
		return fmt.Errorf("read tasks: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var payload string
		var task EnrichedTask
		var stalled, atRisk, clarification, blocked int
		if err := rows.Scan(&payload, &task.HealthScore, &stalled, &atRisk, &clarification,
			&blocked, &task.TimeInCurrentStage, &task.ExecutionCount); err != nil {
			return fmt.Errorf("scan task: %w", err)
		}
		if err := json.Unmarshal([]byte(payload), &task.TaskRecord); err != nil {
			return fmt.Errorf("decode task payload: %w", err)
		}
		task.IsStalled = stalled != 0
		task.IsAtRisk = atRisk != 0
		task.NeedsClarification = clarification != 0
		task.IsBlockedByDependency = blocked != 0
		index.Tasks = append(index.Tasks, task)
	}
	return rows.Err()
}

func (s *SQLSink) readEntities(ctx context.Context, index *IndexData) error {
	readPayloads := func(table string, decode func([]byte) error) error {
		query := s.rebind(fmt.Sprintf(
			`SELECT payload FROM %s WHERE repo_id = ? AND projection_type = ? ORDER BY record_id`, table))
		rows, err := s.db.QueryContext(ctx, query, s.repoID, s.projectionType)
		if err != nil {
			return fmt.Errorf("read %s: %w", table, err)
		}
		defer func() { _ = rows.Close() }()
		for rows.Next() {
			var payload string
			if err := rows.Scan(&payload); err != nil {
				return fmt.Errorf("scan %s: %w", table, err)
			}
			if err := decode([]byte(payload)); err != nil {
				return err
			}
		}
		return rows.Err()
	}
	if err := readPayloads("gitgov_cycle", func(b []byte) error {
		var c record.CycleRecord
		if err := json.Unmarshal(b, &c); err != nil {
			return err
		}
		index.Cycles = append(index.Cycles, c)
		return nil
	}); err != nil {
		return err
	}
	if err := readPayloads("gitgov_actor", func(b []byte) error {
		var a record.ActorRecord
		if err := json.Unmarshal(b, &a); err != nil {
			return err
		}
		index.Actors = append(index.Actors, a)
		return nil
	}); err != nil {
		return err
	}
	return readPayloads("gitgov_feedback", func(b []byte) error {
		var f record.FeedbackRecord
		if err := json.Unmarshal(b, &f); err != nil {
			return err
		}
		index.Feedback = append(index.Feedback, f)
		return nil
	})
}

func (s *SQLSink) readActivity(ctx context.Context, index *IndexData) error {
	query := s.rebind(`SELECT ts, actor, kind, entity_id FROM gitgov_activity
		WHERE repo_id = ? AND projection_type = ? ORDER BY seq`)
	rows, err := s.db.QueryContext(ctx, query, s.repoID, s.projectionType)
	if err != nil {
		return fmt.Errorf("read activity: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var e ActivityEvent
		if err := rows.Scan(&e.Timestamp, &e.Actor, &e.Kind, &e.EntityID); err != nil {
			return fmt.Errorf("scan activity: %w", err)
		}
		index.ActivityHistory = append(index.ActivityHistory, e)
	}
	return rows.Err()
}

func (s *SQLSink) readMeta(ctx context.Context, index *IndexData) error {
	query := s.rebind(`SELECT meta_key, meta_value FROM gitgov_meta WHERE repo_id = ? AND projection_type = ?`)
	rows, err := s.db.QueryContext(ctx, query, s.repoID, s.projectionType)
	if err != nil {
		return fmt.Errorf("read meta: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return fmt.Errorf("scan meta: %w", err)
		}
		var derr error
		switch key {
		case "generated_at":
			derr = json.Unmarshal([]byte(value), &index.Metadata.GeneratedAt)
		case "generation_time":
			derr = json.Unmarshal([]byte(value), &index.Metadata.GenerationTimeMs)
		case "integrity_status":
			derr = json.Unmarshal([]byte(value), &index.Metadata.IntegrityStatus)
		case "record_counts":
			derr = json.Unmarshal([]byte(value), &index.Metadata.RecordCounts)
		case "executions":
			derr = json.Unmarshal([]byte(value), &index.Executions)
		case "changelogs":
			derr = json.Unmarshal([]byte(value), &index.Changelogs)
		case "agents":
			derr = json.Unmarshal([]byte(value), &index.Agents)
		case "derived_states":
			derr = json.Unmarshal([]byte(value), &index.DerivedStates)
		}
		if derr != nil {
			return fmt.Errorf("decode meta %s: %w", key, derr)
		}
	}
	return rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
