package sync

import (
	"context"
	"fmt"

	"github.com/gitgov-io/gitgov/pkg/lint"
)

// PushOptions parameterize one pushState call.
type PushOptions struct {
	ActorID      string
	SourceBranch string
	DryRun       bool
	Force        bool
}

// PushState publishes local record changes to the state branch: lint,
// stage, commit, rebase onto the remote, push. Lint failures and rebase
// conflicts come back in the result; unexpected git failures are errors.
func (e *Engine) PushState(ctx context.Context, opts PushOptions) (*PushResult, error) {
	ctx, span := e.tracer.Start(ctx, "sync.push_state")
	defer span.End()

	if e.rebaseInProgress() {
		return nil, ErrRebaseInProgress
	}
	if opts.ActorID != e.actorID {
		return nil, fmt.Errorf("%w: got %q, authenticated as %q", ErrActorIdentityMismatch, opts.ActorID, e.actorID)
	}
	if err := e.EnsureWorktree(ctx); err != nil {
		return nil, err
	}

	if e.linter != nil {
		report, err := e.linter.Lint(ctx, lint.Options{VerifyChecksums: true})
		if err != nil {
			return nil, fmt.Errorf("lint before push: %w", err)
		}
		if n := report.ErrorCount(); n > 0 {
			return &PushResult{
				Success: false,
				Error:   fmt.Sprintf("Lint validation failed: %d error(s)", n),
			}, nil
		}
	}

	delta, err := e.computeDelta(ctx)
	if err != nil {
		return nil, err
	}

	if len(delta) == 0 {
		if _, ok := e.remoteHead(ctx); ok {
			ahead, err := e.runner.Run(ctx, e.worktreePath, "rev-list", "--count", "origin/"+e.branch+"..HEAD")
			if err == nil && ahead == "0" {
				return &PushResult{Success: true, FilesSynced: 0}, nil
			}
		}
		// Local commits exist (or the remote branch is missing entirely):
		// nothing to stage, but the existing history still has to go out.
		result := &PushResult{Success: true, FilesSynced: 0, CommitHash: e.headCommit(ctx)}
		return e.publish(ctx, result, opts.Force)
	}

	if opts.DryRun {
		return &PushResult{
			Success:       true,
			FilesSynced:   len(delta),
			DryRun:        true,
			CommitMessage: fmt.Sprintf("[dry-run] gitgov: sync state [actor:%s]", opts.ActorID),
		}, nil
	}

	for _, d := range delta {
		var err error
		if d.Status == StatusDeleted {
			_, err = e.runner.Run(ctx, e.worktreePath, "rm", "--", d.File)
		} else {
			// -f: .gitgov/ is commonly listed in the project's .gitignore.
			_, err = e.runner.Run(ctx, e.worktreePath, "add", "-f", "--", d.File)
		}
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", d.File, err)
		}
	}

	message := fmt.Sprintf("gitgov: sync state [actor:%s]", opts.ActorID)
	if _, err := e.runner.Run(ctx, e.worktreePath, "commit", "-m", message); err != nil {
		return nil, fmt.Errorf("commit state: %w", err)
	}

	result := &PushResult{
		Success:       true,
		FilesSynced:   len(delta),
		CommitHash:    e.headCommit(ctx),
		CommitMessage: message,
	}
	return e.publish(ctx, result, opts.Force)
}

// publish rebases onto the remote (unless forced) and pushes. A rebase
// that moves HEAD means remote commits landed locally: that is an
// implicit pull and triggers a re-index.
func (e *Engine) publish(ctx context.Context, result *PushResult, force bool) (*PushResult, error) {
	if !force {
		if _, ok := e.remoteHead(ctx); ok {
			before := e.headCommit(ctx)
			if _, err := e.runner.Run(ctx, e.worktreePath, "pull", "--rebase", "origin", e.branch); err != nil {
				files, ferr := e.conflictedFiles(ctx)
				if ferr != nil {
					return nil, ferr
				}
				return &PushResult{
					Success:          false,
					ConflictDetected: true,
					ConflictInfo:     e.conflictInfo(files),
				}, nil
			}
			if after := e.headCommit(ctx); after != before {
				updated := e.syncableDiffCount(ctx, before, "HEAD")
				if err := e.reindex(ctx); err != nil {
					return nil, fmt.Errorf("reindex after implicit pull: %w", err)
				}
				result.ImplicitPull = &PullResult{
					Success:      true,
					HasChanges:   true,
					FilesUpdated: updated,
					Reindexed:    true,
				}
				result.CommitHash = after
			}
		}
	}
	if _, err := e.runner.Run(ctx, e.worktreePath, "push", "origin", e.branch); err != nil {
		return nil, fmt.Errorf("push state branch: %w", err)
	}
	return result, nil
}

// syncableDiffCount counts syncable files changed between two commits.
func (e *Engine) syncableDiffCount(ctx context.Context, from, to string) int {
	out, err := e.runner.Run(ctx, e.worktreePath, "diff", "--name-only", from+".."+to)
	if err != nil {
		return 0
	}
	n := 0
	for _, line := range splitLines(out) {
		if ShouldSyncFile(line) {
			n++
		}
	}
	return n
}
