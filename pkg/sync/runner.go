package sync

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// Runner executes git in a directory. The engine only ever talks to git
// through this interface, so tests substitute a scripted runner.
type Runner interface {
	Run(ctx context.Context, dir string, args ...string) (string, error)
}

// GitError carries the failing invocation and its stderr.
type GitError struct {
	Args   []string
	Stderr string
	Err    error
}

func (e *GitError) Error() string {
	return fmt.Sprintf("git %s: %v: %s", strings.Join(e.Args, " "), e.Err, strings.TrimSpace(e.Stderr))
}

func (e *GitError) Unwrap() error { return e.Err }

// ExecRunner shells out to the git binary.
type ExecRunner struct {
	// GitPath overrides the binary; empty means "git" from PATH.
	GitPath string
}

// Run executes git and returns trimmed stdout. GIT_EDITOR is forced to
// true so rebase continuation never opens an editor.
func (r *ExecRunner) Run(ctx context.Context, dir string, args ...string) (string, error) {
	bin := r.GitPath
	if bin == "" {
		bin = "git"
	}
	cmd := exec.CommandContext(ctx, bin, args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GIT_EDITOR=true", "GIT_SEQUENCE_EDITOR=true")
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return strings.TrimSpace(stdout.String()), &GitError{Args: args, Stderr: stderr.String(), Err: err}
	}
	return strings.TrimSpace(stdout.String()), nil
}
