// Package store provides typed key→record CRUD over pluggable backends: a
// local filesystem directory and a git-hosted remote API.
package store

import (
	"context"
	"errors"

	"github.com/gitgov-io/gitgov/pkg/record"
)

var (
	// ErrRecordNotFound is returned by Get/Delete on a missing ID.
	ErrRecordNotFound = errors.New("record not found")
	// ErrConcurrentUpdate is returned when a hosted-backend write races a
	// newer write to the same path. Callers retry with a fresh read.
	ErrConcurrentUpdate = errors.New("concurrent update")
)

// PutResult describes a completed write. CommitSHA is set only by backends
// that commit (the hosted backend); the filesystem backend leaves it empty.
type PutResult struct {
	CommitSHA string
}

// Store is the capability set every record backend implements.
type Store interface {
	Put(ctx context.Context, id string, rec *record.Record) (PutResult, error)
	Get(ctx context.Context, id string) (*record.Record, error)
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
}

// Set bundles one store per record type, matching the on-disk layout under
// .gitgov/.
type Set struct {
	Tasks      Store
	Cycles     Store
	Actors     Store
	Agents     Store
	Executions Store
	Feedbacks  Store
	Changelogs Store
}

// ByType returns the store for a record type.
func (s *Set) ByType(t record.Type) Store {
	switch t {
	case record.TypeTask:
		return s.Tasks
	case record.TypeCycle:
		return s.Cycles
	case record.TypeActor:
		return s.Actors
	case record.TypeAgent:
		return s.Agents
	case record.TypeExecution:
		return s.Executions
	case record.TypeFeedback:
		return s.Feedbacks
	case record.TypeChangelog:
		return s.Changelogs
	}
	return nil
}

// DirFor maps a record type to its directory name under .gitgov/.
func DirFor(t record.Type) string {
	switch t {
	case record.TypeTask:
		return "tasks"
	case record.TypeCycle:
		return "cycles"
	case record.TypeActor:
		return "actors"
	case record.TypeAgent:
		return "agents"
	case record.TypeExecution:
		return "executions"
	case record.TypeFeedback:
		return "feedbacks"
	case record.TypeChangelog:
		return "changelogs"
	}
	return ""
}
