// Package sync reconciles .gitgov records between the local repository
// and a shared state branch through a dedicated git worktree, so callers
// never switch branches in their own checkout.
package sync

import (
	"path"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// StateBranch is the default shared branch name.
const StateBranch = "gitgov-state"

// GitgovDir is the record directory name at the repository root.
const GitgovDir = ".gitgov"

// syncDirectories are the record directories that travel over the state
// branch.
var syncDirectories = map[string]bool{
	"tasks":      true,
	"cycles":     true,
	"actors":     true,
	"agents":     true,
	"executions": true,
	"feedbacks":  true,
	"changelogs": true,
	"workflows":  true,
}

// syncRootFiles are the only .gitgov root files that sync.
var syncRootFiles = map[string]bool{
	"config.json": true,
}

// localOnlyFiles never leave the machine.
var localOnlyFiles = map[string]bool{
	".session.json": true,
	"index.json":    true,
	"gitgov":        true,
}

// excludedPatterns match filenames that must never sync, whatever
// directory they sit in.
var excludedPatterns = []string{
	"*.key",
	"*.backup",
	"*.backup-*",
	"*.tmp",
	"*.bak",
}

// ShouldSyncFile reports whether a path belongs on the state branch. It
// accepts any spelling of the path: absolute, repo-relative with a
// .gitgov/ prefix, or already relative to .gitgov/. Windows separators
// are normalized first.
func ShouldSyncFile(p string) bool {
	p = strings.ReplaceAll(p, `\`, "/")
	if i := strings.Index(p, GitgovDir+"/"); i >= 0 {
		p = p[i+len(GitgovDir)+1:]
	}
	p = strings.TrimPrefix(p, "/")
	if p == "" {
		return false
	}

	base := path.Base(p)
	if path.Ext(base) != ".json" {
		return false
	}
	if localOnlyFiles[base] {
		return false
	}
	for _, pattern := range excludedPatterns {
		if ok, _ := doublestar.Match(pattern, base); ok {
			return false
		}
	}

	if !strings.Contains(p, "/") {
		return syncRootFiles[base]
	}
	first := p[:strings.Index(p, "/")]
	return syncDirectories[first]
}
