package record

import (
	"fmt"
	"time"
)

// Factories validate before returning; a non-nil error means the payload
// was never acceptable and nothing should be persisted.

// NewTaskRecord builds a draft task with a timestamped ID derived from the
// title.
func NewTaskRecord(title, description string, priority TaskPriority, now time.Time) (*TaskRecord, error) {
	id, err := NewRecordID(TypeTask, title, now)
	if err != nil {
		return nil, err
	}
	task := &TaskRecord{
		ID:          id,
		Title:       title,
		Status:      TaskDraft,
		Priority:    priority,
		Description: description,
		Tags:        []string{},
		References:  []string{},
		CycleIDs:    []string{},
	}
	if err := ValidatePayload(task, TypeTask); err != nil {
		return nil, err
	}
	return task, nil
}

// NewCycleRecord builds a planning cycle.
func NewCycleRecord(title string, now time.Time) (*CycleRecord, error) {
	id, err := NewRecordID(TypeCycle, title, now)
	if err != nil {
		return nil, err
	}
	cycle := &CycleRecord{
		ID:            id,
		Title:         title,
		Status:        CyclePlanning,
		TaskIDs:       []string{},
		ChildCycleIDs: []string{},
		Tags:          []string{},
	}
	if err := ValidatePayload(cycle, TypeCycle); err != nil {
		return nil, err
	}
	return cycle, nil
}

// NewActorRecord builds an actor. The ID is supplied, not generated: actor
// IDs are stable identities like "human:alice".
func NewActorRecord(id string, actorType ActorType, displayName, publicKey string, roles []string) (*ActorRecord, error) {
	if !ValidActorID(id) {
		return nil, &DetailedValidationError{RecordType: TypeActor, Issues: []ValidationIssue{
			{Field: "id", Message: "must match ^(human|agent):[a-z0-9-]+$", Value: id},
		}}
	}
	actor := &ActorRecord{
		ID:          id,
		Type:        actorType,
		DisplayName: displayName,
		PublicKey:   publicKey,
		Roles:       roles,
	}
	if err := ValidatePayload(actor, TypeActor); err != nil {
		return nil, err
	}
	return actor, nil
}

// NewExecutionRecord builds an execution entry for a task.
func NewExecutionRecord(taskID string, execType ExecutionType, title, result string, now time.Time) (*ExecutionRecord, error) {
	id, err := NewRecordID(TypeExecution, title, now)
	if err != nil {
		return nil, err
	}
	exec := &ExecutionRecord{
		ID:     id,
		TaskID: taskID,
		Type:   execType,
		Title:  title,
		Result: result,
	}
	if err := ValidatePayload(exec, TypeExecution); err != nil {
		return nil, err
	}
	return exec, nil
}

// NewFeedbackRecord builds open feedback against an entity.
func NewFeedbackRecord(entityType FeedbackEntityType, entityID string, fbType FeedbackType, content string, now time.Time) (*FeedbackRecord, error) {
	id, err := NewRecordID(TypeFeedback, string(fbType)+"-"+entityID, now)
	if err != nil {
		return nil, err
	}
	fb := &FeedbackRecord{
		ID:         id,
		EntityType: entityType,
		EntityID:   entityID,
		Type:       fbType,
		Status:     FeedbackOpen,
		Content:    content,
	}
	if err := ValidatePayload(fb, TypeFeedback); err != nil {
		return nil, err
	}
	return fb, nil
}

// NewChangelogRecord builds a changelog entry. Risk gating (rollback
// instructions, users affected, completion references) is enforced by
// validation.
func NewChangelogRecord(cl ChangelogRecord, now time.Time) (*ChangelogRecord, error) {
	if cl.ID == "" {
		id, err := NewRecordID(TypeChangelog, cl.Title, now)
		if err != nil {
			return nil, err
		}
		cl.ID = id
	}
	if cl.Timestamp == 0 {
		cl.Timestamp = now.Unix()
	}
	if err := ValidatePayload(&cl, TypeChangelog); err != nil {
		return nil, err
	}
	return &cl, nil
}

// NewAgentRecord builds an agent definition.
func NewAgentRecord(hint string, engine AgentEngine, now time.Time) (*AgentRecord, error) {
	id, err := NewRecordID(TypeAgent, hint, now)
	if err != nil {
		return nil, err
	}
	agent := &AgentRecord{ID: id, Engine: engine}
	if err := ValidatePayload(agent, TypeAgent); err != nil {
		return nil, err
	}
	return agent, nil
}

// TypeOfID infers the record type from a timestamped record ID.
func TypeOfID(id string) (Type, error) {
	if ValidActorID(id) {
		return TypeActor, nil
	}
	if !ValidRecordID(id) {
		return "", fmt.Errorf("unrecognized record id %q", id)
	}
	for t, prefix := range idPrefixes {
		if len(id) > 11 && id[11:11+len(prefix)] == prefix && id[11+len(prefix)] == '-' {
			return t, nil
		}
	}
	return "", fmt.Errorf("unrecognized record id %q", id)
}
