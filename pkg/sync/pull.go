package sync

import (
	"context"
	"fmt"
	"strings"
)

// PullOptions parameterize one pullState call.
type PullOptions struct {
	// Force discards local syncable modifications instead of
	// auto-committing them.
	Force bool
	// ForceReindex re-runs the projector even when nothing was pulled.
	ForceReindex bool
}

// PullState brings the worktree up to date with the remote state branch
// and re-indexes when anything changed.
func (e *Engine) PullState(ctx context.Context, opts PullOptions) (*PullResult, error) {
	ctx, span := e.tracer.Start(ctx, "sync.pull_state")
	defer span.End()

	if e.rebaseInProgress() {
		return nil, ErrRebaseInProgress
	}
	if err := e.EnsureWorktree(ctx); err != nil {
		return nil, err
	}

	if opts.Force {
		if err := e.discardLocalChanges(ctx); err != nil {
			return nil, err
		}
	} else if err := e.autoCommitLocalChanges(ctx); err != nil {
		return nil, err
	}

	// The remote branch may not exist yet; a failed fetch is not fatal.
	if _, err := e.runner.Run(ctx, e.worktreePath, "fetch", "origin", e.branch); err != nil {
		e.logger.Debug("fetch failed, remote state branch may not exist", "error", err)
	}

	before := e.headCommit(ctx)
	remote, remoteOK := e.remoteHead(ctx)
	if (!remoteOK || before == remote) && !opts.ForceReindex {
		return &PullResult{Success: true, HasChanges: false}, nil
	}

	if remoteOK && before != remote {
		if _, err := e.runner.Run(ctx, e.worktreePath, "pull", "--rebase", "origin", e.branch); err != nil {
			files, ferr := e.conflictedFiles(ctx)
			if ferr != nil {
				return nil, ferr
			}
			return &PullResult{
				Success:          false,
				ConflictDetected: true,
				ConflictInfo:     e.conflictInfo(files),
			}, nil
		}
	}

	after := e.headCommit(ctx)
	updated := 0
	if after != before {
		updated = e.syncableDiffCount(ctx, before, "HEAD")
	}
	if err := e.reindex(ctx); err != nil {
		return nil, fmt.Errorf("reindex after pull: %w", err)
	}
	return &PullResult{
		Success:      true,
		HasChanges:   after != before,
		FilesUpdated: updated,
		Reindexed:    true,
	}, nil
}

// autoCommitLocalChanges commits syncable local edits so pull --rebase
// never refuses over unstaged tracked changes. LOCAL_ONLY and excluded
// files are untouched.
func (e *Engine) autoCommitLocalChanges(ctx context.Context) error {
	delta, err := e.computeDelta(ctx)
	if err != nil {
		return err
	}
	if len(delta) == 0 {
		return nil
	}
	for _, d := range delta {
		var err error
		if d.Status == StatusDeleted {
			_, err = e.runner.Run(ctx, e.worktreePath, "rm", "--", d.File)
		} else {
			_, err = e.runner.Run(ctx, e.worktreePath, "add", "-f", "--", d.File)
		}
		if err != nil {
			return fmt.Errorf("stage %s before pull: %w", d.File, err)
		}
	}
	if _, err := e.runner.Run(ctx, e.worktreePath, "commit", "-m", "state: Auto-commit local changes before pull"); err != nil {
		return fmt.Errorf("auto-commit before pull: %w", err)
	}
	return nil
}

// discardLocalChanges reverts tracked modifications and cleans untracked
// syncable files, sparing every local-only name and excluded pattern.
func (e *Engine) discardLocalChanges(ctx context.Context) error {
	if _, err := e.runner.Run(ctx, e.worktreePath, "checkout", "--", GitgovDir+"/"); err != nil {
		// Nothing tracked under .gitgov/ yet is fine.
		if !strings.Contains(err.Error(), "did not match any") {
			return fmt.Errorf("revert tracked changes: %w", err)
		}
	}
	args := []string{"clean", "-fd"}
	for name := range localOnlyFiles {
		args = append(args, "-e", name)
	}
	for _, pattern := range excludedPatterns {
		args = append(args, "-e", pattern)
	}
	args = append(args, "--", GitgovDir+"/")
	if _, err := e.runner.Run(ctx, e.worktreePath, args...); err != nil {
		return fmt.Errorf("clean untracked files: %w", err)
	}
	return nil
}

func splitLines(s string) []string {
	if s == "" {
		return nil
	}
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}
