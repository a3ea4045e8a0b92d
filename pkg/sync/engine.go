package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/gitgov-io/gitgov/pkg/crypto"
	"github.com/gitgov-io/gitgov/pkg/lint"
)

// WorktreeDirName is where the state-branch worktree lives, next to the
// repository's own checkout.
const WorktreeDirName = ".gitgov-worktree"

// Options configures an Engine. RepoRoot, ActorID, and Runner are
// required; everything else has a working default.
type Options struct {
	RepoRoot string
	Branch   string
	ActorID  string
	Runner   Runner
	Linter   lint.Linter
	Signer   crypto.Signer
	Reindex  func(context.Context) error
	Logger   *slog.Logger
}

// Engine reconciles records over the state branch. One engine instance
// owns the worktree; two engines sharing a worktree path is a caller bug.
type Engine struct {
	repoRoot     string
	worktreePath string
	branch       string
	actorID      string
	runner       Runner
	linter       lint.Linter
	signer       crypto.Signer
	reindex      func(context.Context) error
	logger       *slog.Logger
	tracer       trace.Tracer
	now          func() time.Time
}

// New validates options and builds an engine.
func New(opts Options) (*Engine, error) {
	if opts.RepoRoot == "" {
		return nil, fmt.Errorf("sync: RepoRoot is required")
	}
	if opts.ActorID == "" {
		return nil, fmt.Errorf("sync: ActorID is required")
	}
	if opts.Runner == nil {
		return nil, fmt.Errorf("sync: Runner is required")
	}
	branch := opts.Branch
	if branch == "" {
		branch = StateBranch
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	reindex := opts.Reindex
	if reindex == nil {
		reindex = func(context.Context) error { return nil }
	}
	return &Engine{
		repoRoot:     opts.RepoRoot,
		worktreePath: filepath.Join(opts.RepoRoot, WorktreeDirName),
		branch:       branch,
		actorID:      opts.ActorID,
		runner:       opts.Runner,
		linter:       opts.Linter,
		signer:       opts.Signer,
		reindex:      reindex,
		logger:       logger,
		tracer:       otel.Tracer("gitgov/sync"),
		now:          time.Now,
	}, nil
}

// WorktreePath returns the worktree location for diagnostics.
func (e *Engine) WorktreePath() string { return e.worktreePath }

// rebaseInProgress resolves the worktree's gitdir and probes for
// rebase-merge/ or rebase-apply/. Worktrees keep a .git *file* pointing
// at the real gitdir, so the pointer has to be followed first.
func (e *Engine) rebaseInProgress() bool {
	gitdir := e.resolveGitDir()
	if gitdir == "" {
		return false
	}
	for _, marker := range []string{"rebase-merge", "rebase-apply"} {
		if _, err := os.Stat(filepath.Join(gitdir, marker)); err == nil {
			return true
		}
	}
	return false
}

func (e *Engine) resolveGitDir() string {
	pointer := filepath.Join(e.worktreePath, ".git")
	info, err := os.Stat(pointer)
	if err != nil {
		return ""
	}
	if info.IsDir() {
		return pointer
	}
	data, err := os.ReadFile(pointer)
	if err != nil {
		return ""
	}
	line := strings.TrimSpace(string(data))
	if !strings.HasPrefix(line, "gitdir:") {
		return ""
	}
	dir := strings.TrimSpace(strings.TrimPrefix(line, "gitdir:"))
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(e.worktreePath, dir)
	}
	return dir
}

// EnsureWorktree makes sure a healthy worktree for the state branch
// exists, creating the branch from origin or as an orphan when needed.
func (e *Engine) EnsureWorktree(ctx context.Context) error {
	ctx, span := e.tracer.Start(ctx, "sync.ensure_worktree")
	defer span.End()

	if e.worktreeHealthy(ctx) {
		return nil
	}
	if _, err := os.Stat(e.worktreePath); err == nil {
		e.logger.Warn("rebuilding corrupted worktree", "path", e.worktreePath)
		e.removeWorktree(ctx)
	}
	if err := e.ensureStateBranch(ctx); err != nil {
		return &StateBranchSetupError{Branch: e.branch, Err: err}
	}
	if _, err := e.runner.Run(ctx, e.repoRoot, "worktree", "add", e.worktreePath, e.branch); err != nil {
		return &WorktreeSetupError{Path: e.worktreePath, Err: err}
	}
	if err := e.dropLegacyGitignore(ctx); err != nil {
		return &WorktreeSetupError{Path: e.worktreePath, Err: err}
	}
	return nil
}

func (e *Engine) worktreeHealthy(ctx context.Context) bool {
	if e.resolveGitDir() == "" {
		return false
	}
	head, err := e.runner.Run(ctx, e.worktreePath, "rev-parse", "--abbrev-ref", "HEAD")
	return err == nil && head == e.branch
}

func (e *Engine) removeWorktree(ctx context.Context) {
	if _, err := e.runner.Run(ctx, e.repoRoot, "worktree", "remove", "--force", e.worktreePath); err != nil {
		// Fall back to brute force plus prune so a half-removed worktree
		// never wedges the engine.
		_ = os.RemoveAll(e.worktreePath)
		_, _ = e.runner.Run(ctx, e.repoRoot, "worktree", "prune")
	}
}

func (e *Engine) ensureStateBranch(ctx context.Context) error {
	if _, err := e.runner.Run(ctx, e.repoRoot, "rev-parse", "--verify", "refs/heads/"+e.branch); err == nil {
		return nil
	}
	if _, err := e.runner.Run(ctx, e.repoRoot, "rev-parse", "--verify", "refs/remotes/origin/"+e.branch); err == nil {
		_, err := e.runner.Run(ctx, e.repoRoot, "branch", e.branch, "origin/"+e.branch)
		return err
	}
	// Orphan bootstrap: an empty tree committed with no parent, so the
	// state branch shares no history with the project.
	tree, err := e.runner.Run(ctx, e.repoRoot, "hash-object", "-t", "tree", os.DevNull)
	if err != nil {
		return fmt.Errorf("create empty tree: %w", err)
	}
	commit, err := e.runner.Run(ctx, e.repoRoot, "commit-tree", tree, "-m", "gitgov: initialize state branch")
	if err != nil {
		return fmt.Errorf("create root commit: %w", err)
	}
	if _, err := e.runner.Run(ctx, e.repoRoot, "update-ref", "refs/heads/"+e.branch, commit); err != nil {
		return fmt.Errorf("create state branch ref: %w", err)
	}
	return nil
}

// dropLegacyGitignore removes a .gitignore committed to the state branch
// by older tooling. The state branch must carry records only.
func (e *Engine) dropLegacyGitignore(ctx context.Context) error {
	ignorePath := filepath.Join(e.worktreePath, ".gitignore")
	if _, err := os.Stat(ignorePath); err != nil {
		return nil
	}
	if _, err := e.runner.Run(ctx, e.worktreePath, "rm", "-f", ".gitignore"); err != nil {
		return err
	}
	_, err := e.runner.Run(ctx, e.worktreePath, "commit", "-m", "gitgov: remove legacy .gitignore from state branch")
	return err
}

// computeDelta parses porcelain status inside the worktree and keeps only
// syncable paths.
func (e *Engine) computeDelta(ctx context.Context) ([]DeltaFile, error) {
	out, err := e.runner.Run(ctx, e.worktreePath, "status", "--porcelain", "-uall", "--ignored=traditional")
	if err != nil {
		return nil, fmt.Errorf("compute delta: %w", err)
	}
	var delta []DeltaFile
	for _, line := range strings.Split(out, "\n") {
		if len(line) < 4 {
			continue
		}
		code, file := line[:2], strings.TrimSpace(line[3:])
		// Renames surface as "R  old -> new"; sync only the destination.
		if i := strings.Index(file, " -> "); i >= 0 {
			file = file[i+4:]
		}
		file = strings.Trim(file, `"`)
		if code == "!!" || !ShouldSyncFile(file) {
			continue
		}
		delta = append(delta, DeltaFile{File: file, Status: statusFromPorcelain(code)})
	}
	return delta, nil
}

func statusFromPorcelain(code string) DeltaStatus {
	switch {
	case code == "??":
		return StatusAdded
	case strings.Contains(code, "D"):
		return StatusDeleted
	case strings.Contains(code, "A"):
		return StatusAdded
	default:
		return StatusModified
	}
}

// headCommit returns the worktree HEAD hash, empty when unresolvable.
func (e *Engine) headCommit(ctx context.Context) string {
	out, err := e.runner.Run(ctx, e.worktreePath, "rev-parse", "HEAD")
	if err != nil {
		return ""
	}
	return out
}

// remoteHead returns origin/<branch>, with ok=false when the remote ref
// does not exist yet.
func (e *Engine) remoteHead(ctx context.Context) (string, bool) {
	out, err := e.runner.Run(ctx, e.worktreePath, "rev-parse", "--verify", "refs/remotes/origin/"+e.branch)
	if err != nil {
		return "", false
	}
	return out, true
}

// conflictedFiles lists paths with unresolved merge conflicts.
func (e *Engine) conflictedFiles(ctx context.Context) ([]string, error) {
	out, err := e.runner.Run(ctx, e.worktreePath, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("list conflicted files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(out, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

func (e *Engine) conflictInfo(files []string) *ConflictInfo {
	return &ConflictInfo{
		Type:            "rebase_conflict",
		AffectedFiles:   files,
		ResolutionSteps: resolutionSteps,
	}
}
