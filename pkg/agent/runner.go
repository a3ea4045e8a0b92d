package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/gitgov-io/gitgov/pkg/crypto"
	"github.com/gitgov-io/gitgov/pkg/events"
	"github.com/gitgov-io/gitgov/pkg/record"
	"github.com/gitgov-io/gitgov/pkg/store"
)

// Event topics emitted around every run.
const (
	TopicStarted   = "agent:started"
	TopicCompleted = "agent:completed"
	TopicError     = "agent:error"
)

// Run statuses.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// IdentityAdapter signs outbound API requests on behalf of the actor.
// Engines with auth "actor-signature" require one.
type IdentityAdapter interface {
	SignRequest(req *http.Request, actorID string) error
}

// Request asks for one agent run.
type Request struct {
	AgentID string
	TaskID  string
	ActorID string
	Input   json.RawMessage
}

// Response is always returned once the agent record loaded; failures are
// carried in Status and Error, never thrown.
type Response struct {
	RunID             string          `json:"runId"`
	AgentID           string          `json:"agentId"`
	Status            string          `json:"status"`
	ExecutionRecordID string          `json:"executionRecordId,omitempty"`
	Output            json.RawMessage `json:"output,omitempty"`
	Error             string          `json:"error,omitempty"`
	StartedAt         int64           `json:"startedAt"`
	CompletedAt       int64           `json:"completedAt"`
	DurationMs        int64           `json:"durationMs"`
}

// Runner loads agent records, dispatches on engine type, and persists an
// execution record for every run.
type Runner struct {
	stores   *store.Set
	registry *Registry
	signer   crypto.Signer
	identity IdentityAdapter
	bus      events.Bus
	client   *http.Client
	logger   *slog.Logger
	now      func() time.Time
}

// RunnerOptions configure a Runner. Stores and Registry are required.
type RunnerOptions struct {
	Stores   *store.Set
	Registry *Registry
	Signer   crypto.Signer
	Identity IdentityAdapter
	Bus      events.Bus
	Client   *http.Client
	Logger   *slog.Logger
}

// NewRunner builds a runner.
func NewRunner(opts RunnerOptions) (*Runner, error) {
	if opts.Stores == nil {
		return nil, fmt.Errorf("agent: Stores is required")
	}
	registry := opts.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NopBus{}
	}
	client := opts.Client
	if client == nil {
		client = &http.Client{Timeout: 60 * time.Second}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{
		stores:   opts.Stores,
		registry: registry,
		signer:   opts.Signer,
		identity: opts.Identity,
		bus:      bus,
		client:   client,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// WithClock overrides the clock for tests.
func (r *Runner) WithClock(now func() time.Time) *Runner {
	r.now = now
	return r
}

// Run executes one agent. Only a missing agent record is an error; every
// later failure becomes a failed Response plus a blocker execution record.
func (r *Runner) Run(ctx context.Context, req Request) (*Response, error) {
	rec, err := r.stores.Agents.Get(ctx, req.AgentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrAgentNotFound, req.AgentID)
	}
	var agent record.AgentRecord
	if err := record.DecodePayload(rec, record.TypeAgent, &agent); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrAgentNotFound, req.AgentID, err)
	}

	actorID := req.ActorID
	if actorID == "" {
		actorID = req.AgentID
	}
	ec := ExecContext{
		AgentID: req.AgentID,
		ActorID: actorID,
		TaskID:  req.TaskID,
		RunID:   uuid.NewString(),
		Input:   req.Input,
	}
	started := r.now()
	r.bus.Publish(ctx, events.Event{Topic: TopicStarted, Payload: map[string]interface{}{
		"agentId": req.AgentID, "taskId": req.TaskID, "runId": ec.RunID,
	}})

	output, runErr := r.dispatch(ctx, agent, ec)
	completed := r.now()

	resp := &Response{
		RunID:       ec.RunID,
		AgentID:     req.AgentID,
		StartedAt:   started.Unix(),
		CompletedAt: completed.Unix(),
		DurationMs:  completed.Sub(started).Milliseconds(),
		Output:      output,
	}
	if runErr != nil {
		resp.Status = StatusFailed
		resp.Error = runErr.Error()
	} else {
		resp.Status = StatusCompleted
	}

	execID, recordErr := r.writeExecutionRecord(ctx, agent, ec, resp)
	if recordErr != nil {
		r.logger.Error("failed to persist execution record", "agent", req.AgentID, "run", ec.RunID, "error", recordErr)
		if runErr == nil {
			resp.Status = StatusFailed
			resp.Error = recordErr.Error()
		}
	}
	resp.ExecutionRecordID = execID

	topic := TopicCompleted
	if resp.Status != StatusCompleted {
		topic = TopicError
	}
	r.bus.Publish(ctx, events.Event{Topic: topic, Payload: map[string]interface{}{
		"agentId": req.AgentID, "taskId": req.TaskID, "runId": ec.RunID,
		"status": resp.Status, "executionRecordId": execID,
	}})
	return resp, nil
}

func (r *Runner) dispatch(ctx context.Context, agent record.AgentRecord, ec ExecContext) (json.RawMessage, error) {
	switch agent.Engine.Type {
	case record.EngineLocal:
		return r.runLocal(ctx, agent, ec)
	case record.EngineAPI:
		return r.runAPI(ctx, agent, ec)
	case record.EngineMCP:
		handler, ok := r.registry.Runtime("mcp")
		if !ok {
			return nil, fmt.Errorf("%w: no mcp runtime handler registered", ErrMissingDependency)
		}
		return handler(ctx, ec)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngineType, agent.Engine.Type)
	}
}

func (r *Runner) runLocal(ctx context.Context, agent record.AgentRecord, ec ExecContext) (json.RawMessage, error) {
	engine := agent.Engine
	if engine.Runtime != "" {
		handler, ok := r.registry.Runtime(engine.Runtime)
		if !ok {
			return nil, fmt.Errorf("%w: no handler for runtime %q", ErrMissingDependency, engine.Runtime)
		}
		return handler(ctx, ec)
	}
	if engine.Entrypoint == "" {
		return nil, fmt.Errorf("%w: agent %s", ErrLocalEngineConfig, agent.ID)
	}
	function := engine.Function
	if function == "" {
		function = DefaultFunction
	}
	f, entryOK, fnOK := r.registry.Function(engine.Entrypoint, function)
	if !entryOK {
		return nil, fmt.Errorf("%w: entrypoint %q is not registered", ErrLocalEngineConfig, engine.Entrypoint)
	}
	if !fnOK {
		return nil, fmt.Errorf("%w: %s has no %q", ErrFunctionNotExported, engine.Entrypoint, function)
	}
	return f(ctx, ec)
}

func (r *Runner) runAPI(ctx context.Context, agent record.AgentRecord, ec ExecContext) (json.RawMessage, error) {
	engine := agent.Engine
	if engine.URL == "" {
		return nil, fmt.Errorf("%w: agent %s", ErrAPIEngineConfig, agent.ID)
	}
	body, err := json.Marshal(ec)
	if err != nil {
		return nil, fmt.Errorf("serialize execution context: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, engine.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build api request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if engine.Auth == "actor-signature" {
		if r.identity == nil {
			return nil, fmt.Errorf("%w: actor-signature auth requires an identity adapter", ErrMissingDependency)
		}
		if err := r.identity.SignRequest(req, ec.ActorID); err != nil {
			return nil, fmt.Errorf("sign api request: %w", err)
		}
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("call agent api: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	out, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read api response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("agent api returned %d: %s", resp.StatusCode, out)
	}
	return out, nil
}

// writeExecutionRecord persists the run outcome: completion on success,
// blocker on failure, with run metadata attached.
func (r *Runner) writeExecutionRecord(ctx context.Context, agent record.AgentRecord, ec ExecContext, resp *Response) (string, error) {
	execType := record.ExecCompletion
	result := "Agent run completed"
	if resp.Status != StatusCompleted || resp.Error != "" {
		execType = record.ExecBlocker
		result = "Agent run failed: " + resp.Error
	}
	exec, err := record.NewExecutionRecord(ec.TaskID, execType, "Agent run "+agent.ID, result, r.now())
	if err != nil {
		return "", fmt.Errorf("build execution record: %w", err)
	}
	exec.Metadata = map[string]json.RawMessage{
		"runId":      json.RawMessage(strconv.Quote(ec.RunID)),
		"agentId":    json.RawMessage(strconv.Quote(agent.ID)),
		"engineType": json.RawMessage(strconv.Quote(string(agent.Engine.Type))),
		"durationMs": json.RawMessage(strconv.FormatInt(resp.DurationMs, 10)),
	}
	wrapped, err := record.Wrap(record.TypeExecution, exec)
	if err != nil {
		return "", fmt.Errorf("wrap execution record: %w", err)
	}
	if r.signer != nil {
		if err := record.Sign(wrapped, r.signer, record.RoleAuthor, "agent run "+ec.RunID, r.now()); err != nil {
			return "", fmt.Errorf("sign execution record: %w", err)
		}
	}
	if _, err := r.stores.Executions.Put(ctx, exec.ID, wrapped); err != nil {
		return "", fmt.Errorf("store execution record: %w", err)
	}
	return exec.ID, nil
}
