package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gitgov-io/gitgov/pkg/lint"
)

// AuditOptions parameterize one auditState call.
type AuditOptions struct {
	Scope               string
	VerifyChecksums     bool
	VerifySignatures    bool
	VerifyExpectedFiles bool
	// ExpectedFiles overrides the canonical expected set.
	ExpectedFiles []string
}

// canonicalExpectedFiles is what a healthy state branch always carries.
var canonicalExpectedFiles = []string{"tasks", "cycles", "actors", "config.json"}

// logEntry is one parsed commit from the state branch history.
type logEntry struct {
	hash      string
	subject   string
	timestamp int64
	author    string
}

// AuditState walks the state branch history looking for rebases that were
// never followed by a resolution marker, then lints the records.
func (e *Engine) AuditState(ctx context.Context, opts AuditOptions) (*AuditResult, error) {
	ctx, span := e.tracer.Start(ctx, "sync.audit_state")
	defer span.End()

	entries, err := e.stateLog(ctx)
	if err != nil {
		return nil, err
	}

	result := &AuditResult{
		Scope:               opts.Scope,
		TotalCommits:        len(entries),
		IntegrityViolations: []IntegrityViolation{},
	}

	// entries are newest-first: the commit after a rebase is the previous
	// element. An unpaired rebase at the tip is itself a violation.
	for i, entry := range entries {
		subject := strings.ToLower(entry.subject)
		isRebase := strings.Contains(subject, "rebase") && !strings.Contains(subject, "resolve")
		if strings.Contains(subject, "resolve") {
			result.ResolutionCommits++
		}
		if !isRebase {
			continue
		}
		result.RebaseCommits++
		resolved := i > 0 && strings.Contains(strings.ToLower(entries[i-1].subject), "resolve")
		if !resolved {
			result.IntegrityViolations = append(result.IntegrityViolations, IntegrityViolation{
				RebaseCommitHash: entry.hash,
				CommitMessage:    entry.subject,
				Timestamp:        entry.timestamp,
				Author:           entry.author,
			})
		}
	}

	if e.linter != nil && (opts.VerifyChecksums || opts.VerifySignatures) {
		report, err := e.linter.Lint(ctx, lint.Options{
			VerifyChecksums:  opts.VerifyChecksums,
			VerifySignatures: opts.VerifySignatures,
		})
		if err != nil {
			return nil, fmt.Errorf("audit lint: %w", err)
		}
		result.LintReport = report
	}

	if opts.VerifyExpectedFiles {
		expected := opts.ExpectedFiles
		if len(expected) == 0 {
			expected = canonicalExpectedFiles
		}
		for _, name := range expected {
			if _, err := os.Stat(filepath.Join(e.worktreePath, GitgovDir, name)); err != nil {
				result.MissingExpectedFiles = append(result.MissingExpectedFiles, name)
			}
		}
	}

	lintErrors := 0
	if result.LintReport != nil {
		lintErrors = result.LintReport.ErrorCount()
	}
	result.Passed = len(result.IntegrityViolations) == 0 &&
		len(result.MissingExpectedFiles) == 0 &&
		lintErrors == 0
	result.Summary = fmt.Sprintf(
		"%d commits audited: %d rebase, %d resolution, %d violation(s), %d lint error(s)",
		result.TotalCommits, result.RebaseCommits, result.ResolutionCommits,
		len(result.IntegrityViolations), lintErrors,
	)
	return result, nil
}

// stateLog reads the full state branch history, newest first. The unit
// separator keeps subjects with embedded spaces intact.
func (e *Engine) stateLog(ctx context.Context) ([]logEntry, error) {
	out, err := e.runner.Run(ctx, e.worktreePath, "log", "--format=%H%x1f%s%x1f%at%x1f%an", e.branch)
	if err != nil {
		return nil, fmt.Errorf("read state branch log: %w", err)
	}
	var entries []logEntry
	for _, line := range splitLines(out) {
		parts := strings.Split(line, "\x1f")
		if len(parts) != 4 {
			continue
		}
		ts, _ := strconv.ParseInt(parts[2], 10, 64)
		entries = append(entries, logEntry{
			hash:      parts[0],
			subject:   parts[1],
			timestamp: ts,
			author:    parts[3],
		})
	}
	return entries, nil
}
