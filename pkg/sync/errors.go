package sync

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrRebaseInProgress guards push and pull while a rebase is active.
	ErrRebaseInProgress = errors.New("a rebase is already in progress; resolve or abort it first")

	// ErrNoRebaseInProgress means resolveConflict was called with nothing
	// to resolve.
	ErrNoRebaseInProgress = errors.New("no rebase in progress")

	// ErrActorIdentityMismatch means the caller-supplied actor does not
	// match the engine's authenticated identity.
	ErrActorIdentityMismatch = errors.New("actor identity mismatch")
)

// ConflictMarkersError lists files that still contain conflict markers
// when resolution was attempted.
type ConflictMarkersError struct {
	Files []string
}

func (e *ConflictMarkersError) Error() string {
	return fmt.Sprintf("conflict markers still present in: %s", strings.Join(e.Files, ", "))
}

// StateBranchSetupError wraps a failure to create or track the state
// branch itself, before any worktree exists for it.
type StateBranchSetupError struct {
	Branch string
	Err    error
}

func (e *StateBranchSetupError) Error() string {
	return fmt.Sprintf("state branch setup failed for %s: %v", e.Branch, e.Err)
}

func (e *StateBranchSetupError) Unwrap() error { return e.Err }

// WorktreeSetupError wraps a failure to create or repair the worktree.
type WorktreeSetupError struct {
	Path string
	Err  error
}

func (e *WorktreeSetupError) Error() string {
	return fmt.Sprintf("worktree setup failed at %s: %v", e.Path, e.Err)
}

func (e *WorktreeSetupError) Unwrap() error { return e.Err }
