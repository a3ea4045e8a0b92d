package sync

import "github.com/gitgov-io/gitgov/pkg/lint"

// DeltaStatus is a single-letter git status for a syncable file.
type DeltaStatus string

const (
	StatusAdded    DeltaStatus = "A"
	StatusModified DeltaStatus = "M"
	StatusDeleted  DeltaStatus = "D"
)

// DeltaFile pairs a path with its change status.
type DeltaFile struct {
	File   string      `json:"file"`
	Status DeltaStatus `json:"status"`
}

// ConflictInfo describes a rebase conflict for callers that want to
// present resolution guidance.
type ConflictInfo struct {
	Type            string   `json:"type"`
	AffectedFiles   []string `json:"affectedFiles"`
	ResolutionSteps []string `json:"resolutionSteps"`
}

// resolutionSteps is the guidance attached to every rebase conflict.
var resolutionSteps = []string{
	"Inspect the conflicted records with getConflictDiff",
	"Edit each file to the intended content and remove all conflict markers",
	"Run resolveConflict with your actor identity and a reason",
}

// PushResult reports one pushState call.
type PushResult struct {
	Success          bool          `json:"success"`
	FilesSynced      int           `json:"filesSynced"`
	CommitHash       string        `json:"commitHash,omitempty"`
	CommitMessage    string        `json:"commitMessage,omitempty"`
	DryRun           bool          `json:"dryRun,omitempty"`
	ConflictDetected bool          `json:"conflictDetected"`
	ConflictInfo     *ConflictInfo `json:"conflictInfo,omitempty"`
	ImplicitPull     *PullResult   `json:"implicitPull,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// PullResult reports one pullState call.
type PullResult struct {
	Success          bool          `json:"success"`
	HasChanges       bool          `json:"hasChanges"`
	FilesUpdated     int           `json:"filesUpdated"`
	Reindexed        bool          `json:"reindexed"`
	ConflictDetected bool          `json:"conflictDetected"`
	ConflictInfo     *ConflictInfo `json:"conflictInfo,omitempty"`
	Error            string        `json:"error,omitempty"`
}

// ResolveResult reports one resolveConflict call.
type ResolveResult struct {
	Success       bool     `json:"success"`
	CommitHash    string   `json:"commitHash,omitempty"`
	FilesResolved []string `json:"filesResolved"`
}

// IntegrityViolation is a rebase commit with no resolution marker after it.
type IntegrityViolation struct {
	RebaseCommitHash string `json:"rebaseCommitHash"`
	CommitMessage    string `json:"commitMessage"`
	Timestamp        int64  `json:"timestamp"`
	Author           string `json:"author"`
}

// AuditResult reports one auditState call.
type AuditResult struct {
	Passed               bool                 `json:"passed"`
	Scope                string               `json:"scope"`
	TotalCommits         int                  `json:"totalCommits"`
	RebaseCommits        int                  `json:"rebaseCommits"`
	ResolutionCommits    int                  `json:"resolutionCommits"`
	IntegrityViolations  []IntegrityViolation `json:"integrityViolations"`
	MissingExpectedFiles []string             `json:"missingExpectedFiles,omitempty"`
	LintReport           *lint.Report         `json:"lintReport,omitempty"`
	Summary              string               `json:"summary"`
}

// ConflictFileDiff is one conflicted file split into its sides.
type ConflictFileDiff struct {
	FilePath      string `json:"filePath"`
	LocalContent  string `json:"localContent"`
	RemoteContent string `json:"remoteContent"`
	BaseContent   string `json:"baseContent,omitempty"`
}

// ConflictDiff is the full conflict view returned by GetConflictDiff.
type ConflictDiff struct {
	Files           []ConflictFileDiff `json:"files"`
	Message         string             `json:"message"`
	ResolutionSteps []string           `json:"resolutionSteps"`
}
