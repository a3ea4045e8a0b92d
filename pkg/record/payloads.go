package record

import "encoding/json"

// TaskStatus enumerates the task lifecycle.
type TaskStatus string

const (
	TaskDraft     TaskStatus = "draft"
	TaskReview    TaskStatus = "review"
	TaskReady     TaskStatus = "ready"
	TaskActive    TaskStatus = "active"
	TaskDone      TaskStatus = "done"
	TaskArchived  TaskStatus = "archived"
	TaskPaused    TaskStatus = "paused"
	TaskDiscarded TaskStatus = "discarded"
	TaskBlocked   TaskStatus = "blocked"
)

// TaskPriority enumerates task priorities.
type TaskPriority string

const (
	PriorityLow      TaskPriority = "low"
	PriorityMedium   TaskPriority = "medium"
	PriorityHigh     TaskPriority = "high"
	PriorityCritical TaskPriority = "critical"
)

// TaskRecord is the unit of work.
type TaskRecord struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Status      TaskStatus   `json:"status"`
	Priority    TaskPriority `json:"priority"`
	Description string       `json:"description"`
	Tags        []string     `json:"tags"`
	References  []string     `json:"references"`
	CycleIDs    []string     `json:"cycleIds"`
}

// CycleStatus enumerates the cycle lifecycle.
type CycleStatus string

const (
	CyclePlanning  CycleStatus = "planning"
	CycleActive    CycleStatus = "active"
	CycleCompleted CycleStatus = "completed"
	CycleArchived  CycleStatus = "archived"
)

// CycleRecord groups tasks and child cycles. Containment is by ID only;
// traversal is done via lookup, never by shared ownership.
type CycleRecord struct {
	ID            string      `json:"id"`
	Title         string      `json:"title"`
	Status        CycleStatus `json:"status"`
	TaskIDs       []string    `json:"taskIds"`
	ChildCycleIDs []string    `json:"childCycleIds"`
	Tags          []string    `json:"tags"`
}

// ActorType distinguishes humans from agents.
type ActorType string

const (
	ActorHuman ActorType = "human"
	ActorAgent ActorType = "agent"
)

// ActorRecord identifies a participant and carries its verification key.
type ActorRecord struct {
	ID          string    `json:"id"`
	Type        ActorType `json:"type"`
	DisplayName string    `json:"displayName"`
	PublicKey   string    `json:"publicKey"`
	Roles       []string  `json:"roles"`
}

// EngineType enumerates agent execution backends.
type EngineType string

const (
	EngineLocal EngineType = "local"
	EngineAPI   EngineType = "api"
	EngineMCP   EngineType = "mcp"
)

// AgentEngine configures how an agent is invoked.
type AgentEngine struct {
	Type       EngineType `json:"type"`
	Runtime    string     `json:"runtime,omitempty"`
	Entrypoint string     `json:"entrypoint,omitempty"`
	Function   string     `json:"function,omitempty"`
	URL        string     `json:"url,omitempty"`
	Auth       string     `json:"auth,omitempty"`
}

// AgentRecord declares an automated participant's engine and needs.
type AgentRecord struct {
	ID                       string      `json:"id"`
	Engine                   AgentEngine `json:"engine"`
	Triggers                 []string    `json:"triggers,omitempty"`
	KnowledgeDependencies    []string    `json:"knowledge_dependencies,omitempty"`
	PromptEngineRequirements []string    `json:"prompt_engine_requirements,omitempty"`
}

// ExecutionType classifies a recorded run step.
type ExecutionType string

const (
	ExecAnalysis   ExecutionType = "analysis"
	ExecProgress   ExecutionType = "progress"
	ExecBlocker    ExecutionType = "blocker"
	ExecCompletion ExecutionType = "completion"
	ExecInfo       ExecutionType = "info"
	ExecCorrection ExecutionType = "correction"
)

// ExecutionRecord documents one unit of work performed against a task.
// Metadata is an open JSON object; the only constraint is "object at the
// root".
type ExecutionRecord struct {
	ID         string                     `json:"id"`
	TaskID     string                     `json:"taskId"`
	Type       ExecutionType              `json:"type"`
	Title      string                     `json:"title"`
	Result     string                     `json:"result"`
	Notes      string                     `json:"notes,omitempty"`
	References []string                   `json:"references,omitempty"`
	Metadata   map[string]json.RawMessage `json:"metadata,omitempty"`
}

// FeedbackEntityType enumerates what feedback can target.
type FeedbackEntityType string

const (
	EntityTask          FeedbackEntityType = "task"
	EntityCycle         FeedbackEntityType = "cycle"
	EntityAgent         FeedbackEntityType = "agent"
	EntitySystem        FeedbackEntityType = "system"
	EntityConfiguration FeedbackEntityType = "configuration"
)

// FeedbackType classifies feedback intent.
type FeedbackType string

const (
	FeedbackQuestion   FeedbackType = "question"
	FeedbackSuggestion FeedbackType = "suggestion"
	FeedbackBlocking   FeedbackType = "blocking"
	FeedbackAssignment FeedbackType = "assignment"
	FeedbackApproval   FeedbackType = "approval"
)

// FeedbackStatus is open or resolved.
type FeedbackStatus string

const (
	FeedbackOpen     FeedbackStatus = "open"
	FeedbackResolved FeedbackStatus = "resolved"
)

// FeedbackRecord attaches review state to another entity.
type FeedbackRecord struct {
	ID                 string             `json:"id"`
	EntityType         FeedbackEntityType `json:"entityType"`
	EntityID           string             `json:"entityId"`
	Type               FeedbackType       `json:"type"`
	Status             FeedbackStatus     `json:"status"`
	Content            string             `json:"content"`
	Assignee           string             `json:"assignee,omitempty"`
	ResolvesFeedbackID string             `json:"resolvesFeedbackId,omitempty"`
}

// ChangeType classifies a changelog entry.
type ChangeType string

const (
	ChangeCreation   ChangeType = "creation"
	ChangeCompletion ChangeType = "completion"
	ChangeUpdate     ChangeType = "update"
	ChangeDeletion   ChangeType = "deletion"
	ChangeHotfix     ChangeType = "hotfix"
)

// RiskLevel grades a change.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// ChangelogReferences links a changelog entry to related records.
type ChangelogReferences struct {
	Tasks   []string `json:"tasks,omitempty"`
	Cycles  []string `json:"cycles,omitempty"`
	Commits []string `json:"commits,omitempty"`
}

// ChangelogRecord is the auditable history of a change to an entity.
type ChangelogRecord struct {
	ID                   string               `json:"id"`
	EntityType           string               `json:"entityType"`
	EntityID             string               `json:"entityId"`
	ChangeType           ChangeType           `json:"changeType"`
	Title                string               `json:"title"`
	Description          string               `json:"description"`
	Timestamp            int64                `json:"timestamp"`
	Trigger              string               `json:"trigger"`
	TriggeredBy          string               `json:"triggeredBy"`
	Reason               string               `json:"reason"`
	RiskLevel            RiskLevel            `json:"riskLevel"`
	RollbackInstructions string               `json:"rollbackInstructions,omitempty"`
	UsersAffected        string               `json:"usersAffected,omitempty"`
	References           *ChangelogReferences `json:"references,omitempty"`
}
