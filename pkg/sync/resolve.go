package sync

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gitgov-io/gitgov/pkg/record"
)

// ResolveOptions parameterize one resolveConflict call.
type ResolveOptions struct {
	Reason  string
	ActorID string
}

// ResolveConflict finishes an interrupted rebase: verifies every
// conflicted file was actually cleaned up, re-signs the resolved records
// with role resolver, continues the rebase, and leaves an empty marker
// commit so audits can pair the rebase with its resolution.
func (e *Engine) ResolveConflict(ctx context.Context, opts ResolveOptions) (*ResolveResult, error) {
	ctx, span := e.tracer.Start(ctx, "sync.resolve_conflict")
	defer span.End()

	if !e.rebaseInProgress() {
		return nil, ErrNoRebaseInProgress
	}
	if opts.ActorID != e.actorID {
		return nil, fmt.Errorf("%w: got %q, authenticated as %q", ErrActorIdentityMismatch, opts.ActorID, e.actorID)
	}

	files, err := e.conflictedFiles(ctx)
	if err != nil {
		return nil, err
	}

	var dirty []string
	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(e.worktreePath, file))
		if err != nil {
			return nil, fmt.Errorf("read conflicted file %s: %w", file, err)
		}
		if containsConflictMarkers(string(data)) {
			dirty = append(dirty, file)
		}
	}
	if len(dirty) > 0 {
		return nil, &ConflictMarkersError{Files: dirty}
	}

	for _, file := range files {
		if err := e.resignResolvedRecord(file, opts.Reason); err != nil {
			return nil, err
		}
	}

	if _, err := e.runner.Run(ctx, e.worktreePath, "add", GitgovDir+"/"); err != nil {
		return nil, fmt.Errorf("stage resolved files: %w", err)
	}
	if _, err := e.runner.Run(ctx, e.worktreePath, "rebase", "--continue"); err != nil {
		return nil, fmt.Errorf("continue rebase: %w", err)
	}

	message := fmt.Sprintf("gitgov: resolve conflict [actor:%s] reason: %s", opts.ActorID, opts.Reason)
	if _, err := e.runner.Run(ctx, e.worktreePath, "commit", "--allow-empty", "-m", message); err != nil {
		return nil, fmt.Errorf("record resolution marker: %w", err)
	}
	if _, err := e.runner.Run(ctx, e.worktreePath, "push", "origin", e.branch); err != nil {
		return nil, fmt.Errorf("push resolution: %w", err)
	}
	if err := e.reindex(ctx); err != nil {
		return nil, fmt.Errorf("reindex after resolution: %w", err)
	}
	return &ResolveResult{
		Success:       true,
		CommitHash:    e.headCommit(ctx),
		FilesResolved: files,
	}, nil
}

// resignResolvedRecord re-signs one resolved record file so its hand-merged
// content is attested by the resolver. Non-record files (config.json,
// workflows) pass through untouched.
func (e *Engine) resignResolvedRecord(file, reason string) error {
	if e.signer == nil || !ShouldSyncFile(file) {
		return nil
	}
	full := filepath.Join(e.worktreePath, file)
	data, err := os.ReadFile(full)
	if err != nil {
		return fmt.Errorf("read resolved file %s: %w", file, err)
	}
	rec, err := record.Parse(data)
	if err != nil {
		return nil
	}
	// The merged payload may differ from both sides; the checksum has to
	// be recomputed before the resolver signature covers it.
	checksum, err := record.Checksum(rec.Payload)
	if err != nil {
		return fmt.Errorf("checksum resolved %s: %w", file, err)
	}
	rec.Header.PayloadChecksum = checksum
	if err := record.Sign(rec, e.signer, record.RoleResolver, reason, e.now()); err != nil {
		return fmt.Errorf("re-sign %s: %w", file, err)
	}
	out, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("serialize re-signed %s: %w", file, err)
	}
	if err := os.WriteFile(full, out, 0o644); err != nil {
		return fmt.Errorf("rewrite %s: %w", file, err)
	}
	return nil
}

func containsConflictMarkers(content string) bool {
	for _, line := range strings.Split(content, "\n") {
		if strings.HasPrefix(line, "<<<<<<<") || strings.HasPrefix(line, ">>>>>>>") {
			return true
		}
	}
	return false
}
