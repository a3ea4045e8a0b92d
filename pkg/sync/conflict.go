package sync

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// GetConflictDiff splits every conflicted file into its local, remote,
// and (for diff3-style markers) base sides so callers can present the
// conflict without shelling out themselves. files may be nil to use the
// current conflict set.
func (e *Engine) GetConflictDiff(ctx context.Context, files []string) (*ConflictDiff, error) {
	if files == nil {
		var err error
		files, err = e.conflictedFiles(ctx)
		if err != nil {
			return nil, err
		}
	}
	diff := &ConflictDiff{ResolutionSteps: resolutionSteps}
	for _, file := range files {
		data, err := os.ReadFile(filepath.Join(e.worktreePath, file))
		if err != nil {
			return nil, fmt.Errorf("read conflicted file %s: %w", file, err)
		}
		fd := parseConflictFile(file, string(data))
		diff.Files = append(diff.Files, fd)
	}
	diff.Message = fmt.Sprintf("%d file(s) in conflict on the state branch", len(diff.Files))
	return diff, nil
}

// conflictSection tracks which side of a marker block a line belongs to.
type conflictSection int

const (
	sectionNone conflictSection = iota
	sectionLocal
	sectionBase
	sectionRemote
)

// parseConflictFile walks the file line by line. Lines outside marker
// blocks are common to both sides and are appended to each.
func parseConflictFile(path, content string) ConflictFileDiff {
	var local, remote, base strings.Builder
	section := sectionNone
	for _, line := range strings.Split(content, "\n") {
		switch {
		case strings.HasPrefix(line, "<<<<<<<"):
			section = sectionLocal
		case strings.HasPrefix(line, "|||||||") && section == sectionLocal:
			section = sectionBase
		case strings.HasPrefix(line, "=======") && (section == sectionLocal || section == sectionBase):
			section = sectionRemote
		case strings.HasPrefix(line, ">>>>>>>") && section == sectionRemote:
			section = sectionNone
		default:
			switch section {
			case sectionLocal:
				local.WriteString(line + "\n")
			case sectionBase:
				base.WriteString(line + "\n")
			case sectionRemote:
				remote.WriteString(line + "\n")
			default:
				local.WriteString(line + "\n")
				remote.WriteString(line + "\n")
				base.WriteString(line + "\n")
			}
		}
	}
	fd := ConflictFileDiff{
		FilePath:      path,
		LocalContent:  strings.TrimSuffix(local.String(), "\n"),
		RemoteContent: strings.TrimSuffix(remote.String(), "\n"),
	}
	if strings.Contains(content, "|||||||") {
		fd.BaseContent = strings.TrimSuffix(base.String(), "\n")
	}
	return fd
}
