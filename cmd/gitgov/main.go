package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"github.com/gitgov-io/gitgov/pkg/agent"
	"github.com/gitgov-io/gitgov/pkg/config"
	"github.com/gitgov-io/gitgov/pkg/crypto"
	"github.com/gitgov-io/gitgov/pkg/diagram"
	"github.com/gitgov-io/gitgov/pkg/events"
	"github.com/gitgov-io/gitgov/pkg/lint"
	"github.com/gitgov-io/gitgov/pkg/metrics"
	"github.com/gitgov-io/gitgov/pkg/projector"
	"github.com/gitgov-io/gitgov/pkg/record"
	"github.com/gitgov-io/gitgov/pkg/scheduler"
	"github.com/gitgov-io/gitgov/pkg/store"
	"github.com/gitgov-io/gitgov/pkg/sync"
	"github.com/gitgov-io/gitgov/pkg/webhook"
)

func main() {
	os.Exit(Run(os.Args, os.Stdout, os.Stderr))
}

// Run is the entrypoint for testing.
func Run(args []string, stdout, stderr io.Writer) int {
	if len(args) < 2 {
		usage(stderr)
		return 2
	}
	switch args[1] {
	case "init":
		return runInit(args[2:], stdout, stderr)
	case "index":
		return runIndex(args[2:], stdout, stderr)
	case "push":
		return runPush(args[2:], stdout, stderr)
	case "pull":
		return runPull(args[2:], stdout, stderr)
	case "resolve":
		return runResolve(args[2:], stdout, stderr)
	case "audit":
		return runAudit(args[2:], stdout, stderr)
	case "lint":
		return runLint(args[2:], stdout, stderr)
	case "diagram":
		return runDiagram(args[2:], stdout, stderr)
	case "agent":
		return runAgent(args[2:], stdout, stderr)
	case "serve":
		return runServe(args[2:], stdout, stderr)
	case "help", "-h", "--help":
		usage(stdout)
		return 0
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n", args[1])
		usage(stderr)
		return 2
	}
}

func usage(w io.Writer) {
	_, _ = fmt.Fprintln(w, `Usage: gitgov <command> [flags]

Commands:
  init      create .gitgov/ with a fresh config
  index     project all records into index.json (and DATABASE_URL if set)
  push      publish local record changes to the state branch
  pull      bring the state branch up to date locally
  resolve   finish a conflicted rebase on the state branch
  audit     check state branch history and record integrity
  lint      validate all records
  diagram   render the cycle/task graph as Mermaid
  agent     run a registered agent against a task
  serve     webhook listener plus background pull scheduler`)
}

// app bundles everything a command needs.
type app struct {
	repoRoot   string
	gitgovRoot string
	cfg        *config.Config
	session    *config.Session
	stores     *store.Set
	logger     *slog.Logger
}

func loadApp(repoRoot string) (*app, error) {
	if repoRoot == "" {
		var err error
		if repoRoot, err = os.Getwd(); err != nil {
			return nil, err
		}
	}
	gitgovRoot := filepath.Join(repoRoot, sync.GitgovDir)
	cfg, err := config.NewManager(gitgovRoot).Load()
	if err != nil {
		return nil, fmt.Errorf("load %s/config.json: %w", sync.GitgovDir, err)
	}
	session, err := config.NewSessionManager(gitgovRoot).Load()
	if err != nil {
		return nil, err
	}
	stores, err := store.NewFSSet(gitgovRoot)
	if err != nil {
		return nil, err
	}
	return &app{
		repoRoot:   repoRoot,
		gitgovRoot: gitgovRoot,
		cfg:        cfg,
		session:    session,
		stores:     stores,
		logger:     slog.New(slog.NewTextHandler(os.Stderr, nil)),
	}, nil
}

func (a *app) signer() (crypto.Signer, error) {
	if a.session.ActorID == "" {
		return nil, fmt.Errorf("no actorId in .session.json; run gitgov init or edit the session")
	}
	if a.session.SigningKeyPath == "" {
		return nil, fmt.Errorf("no signingKeyPath in .session.json")
	}
	keyHex, err := os.ReadFile(a.session.SigningKeyPath)
	if err != nil {
		return nil, fmt.Errorf("read signing key: %w", err)
	}
	return crypto.NewEd25519SignerFromHex(strings.TrimSpace(string(keyHex)), a.session.ActorID)
}

func (a *app) projector() *projector.Projector {
	return projector.New(a.stores, metrics.NewCalculator(), a.logger)
}

// reindex recomputes the snapshot and persists it to the filesystem sink
// plus the relational sink when DATABASE_URL is set.
func (a *app) reindex(ctx context.Context) error {
	p := a.projector()
	index, err := p.ComputeProjection(ctx)
	if err != nil {
		return err
	}
	sinks := []projector.Sink{projector.NewFSSink(a.gitgovRoot)}
	if os.Getenv("DATABASE_URL") != "" {
		db, dialect, err := projector.OpenDatabaseFromEnv()
		if err != nil {
			return err
		}
		defer func() { _ = db.Close() }()
		sqlSink, err := projector.NewSQLSink(db, dialect, a.cfg.ProjectID, "full")
		if err != nil {
			return err
		}
		sinks = append(sinks, sqlSink)
	}
	return p.Persist(ctx, index, sinks...)
}

func (a *app) engine() (*sync.Engine, error) {
	signer, err := a.signer()
	if err != nil {
		return nil, err
	}
	ring, err := lint.RingFromActors(context.Background(), a.stores.Actors)
	if err != nil {
		return nil, err
	}
	return sync.New(sync.Options{
		RepoRoot: a.repoRoot,
		Branch:   a.cfg.Branch(),
		ActorID:  a.session.ActorID,
		Runner:   &sync.ExecRunner{},
		Linter:   lint.NewRecordLinter(a.stores, ring),
		Signer:   signer,
		Reindex:  a.reindex,
		Logger:   a.logger,
	})
}

func printJSON(w io.Writer, v interface{}) int {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return 1
	}
	return 0
}

func fail(stderr io.Writer, err error) int {
	_, _ = fmt.Fprintln(stderr, "error:", err)
	return 1
}

func runInit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	fs.SetOutput(stderr)
	name := fs.String("name", "", "project name")
	actor := fs.String("actor", "", "actor identity, e.g. human:alice")
	repo := fs.String("C", "", "repository root (default: cwd)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	root := *repo
	if root == "" {
		var err error
		if root, err = os.Getwd(); err != nil {
			return fail(stderr, err)
		}
	}
	gitgovRoot := filepath.Join(root, sync.GitgovDir)
	if err := os.MkdirAll(gitgovRoot, 0o755); err != nil {
		return fail(stderr, err)
	}
	set, err := store.NewFSSet(gitgovRoot)
	if err != nil {
		return fail(stderr, err)
	}

	projectName := *name
	if projectName == "" {
		projectName = filepath.Base(root)
	}
	cfg := &config.Config{
		ProtocolVersion: "1.0.0",
		ProjectID:       record.Slugify(projectName),
		ProjectName:     projectName,
		State:           config.StateConfig{Branch: sync.StateBranch},
	}
	if err := config.NewManager(gitgovRoot).Save(cfg); err != nil {
		return fail(stderr, err)
	}

	session := &config.Session{}
	if *actor != "" {
		if !record.ValidActorID(*actor) {
			return fail(stderr, fmt.Errorf("invalid actor id %q", *actor))
		}
		signer, err := crypto.NewEd25519Signer(*actor)
		if err != nil {
			return fail(stderr, err)
		}
		keyPath := filepath.Join(gitgovRoot, "actors", strings.ReplaceAll(*actor, ":", "__")+".key")
		if err := os.MkdirAll(filepath.Dir(keyPath), 0o755); err != nil {
			return fail(stderr, err)
		}
		if err := os.WriteFile(keyPath, []byte(signer.PrivateKeyHex()), 0o600); err != nil {
			return fail(stderr, err)
		}
		session.ActorID = *actor
		session.SigningKeyPath = keyPath

		kind := record.ActorHuman
		if strings.HasPrefix(*actor, "agent:") {
			kind = record.ActorAgent
		}
		actorRec, err := record.NewActorRecord(*actor, kind, *actor, signer.PublicKey(), []string{"author"})
		if err != nil {
			return fail(stderr, err)
		}
		wrapped, err := record.Wrap(record.TypeActor, actorRec)
		if err != nil {
			return fail(stderr, err)
		}
		if err := record.Sign(wrapped, signer, record.RoleAuthor, "", time.Now()); err != nil {
			return fail(stderr, err)
		}
		if _, err := set.Actors.Put(context.Background(), actorRec.ID, wrapped); err != nil {
			return fail(stderr, err)
		}
	}
	if err := config.NewSessionManager(gitgovRoot).Save(session); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintf(stdout, "initialized %s\n", gitgovRoot)
	return 0
}

func runIndex(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("index", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	if err := a.reindex(context.Background()); err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprintln(stdout, "index written to", filepath.Join(a.gitgovRoot, "index.json"))
	return 0
}

func runPush(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("push", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	dryRun := fs.Bool("dry-run", false, "preview without committing")
	force := fs.Bool("force", false, "skip the pre-push rebase")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	engine, err := a.engine()
	if err != nil {
		return fail(stderr, err)
	}
	result, err := engine.PushState(context.Background(), sync.PushOptions{
		ActorID: a.session.ActorID,
		DryRun:  *dryRun,
		Force:   *force,
	})
	if err != nil {
		return fail(stderr, err)
	}
	if code := printJSON(stdout, result); code != 0 {
		return code
	}
	if !result.Success {
		return 1
	}
	return 0
}

func runPull(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("pull", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	force := fs.Bool("force", false, "discard local syncable changes")
	forceReindex := fs.Bool("reindex", false, "re-index even without new commits")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	engine, err := a.engine()
	if err != nil {
		return fail(stderr, err)
	}
	result, err := engine.PullState(context.Background(), sync.PullOptions{
		Force:        *force,
		ForceReindex: *forceReindex,
	})
	if err != nil {
		return fail(stderr, err)
	}
	if code := printJSON(stdout, result); code != 0 {
		return code
	}
	if !result.Success {
		return 1
	}
	return 0
}

func runResolve(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("resolve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	reason := fs.String("reason", "", "why this resolution is correct (required)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *reason == "" {
		_, _ = fmt.Fprintln(stderr, "resolve requires -reason")
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	engine, err := a.engine()
	if err != nil {
		return fail(stderr, err)
	}
	result, err := engine.ResolveConflict(context.Background(), sync.ResolveOptions{
		Reason:  *reason,
		ActorID: a.session.ActorID,
	})
	if err != nil {
		return fail(stderr, err)
	}
	return printJSON(stdout, result)
}

func runAudit(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	checksums := fs.Bool("checksums", true, "verify payload checksums")
	signatures := fs.Bool("signatures", false, "verify record signatures")
	expected := fs.Bool("expected-files", false, "verify the canonical file set exists")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	engine, err := a.engine()
	if err != nil {
		return fail(stderr, err)
	}
	result, err := engine.AuditState(context.Background(), sync.AuditOptions{
		Scope:               "full",
		VerifyChecksums:     *checksums,
		VerifySignatures:    *signatures,
		VerifyExpectedFiles: *expected,
	})
	if err != nil {
		return fail(stderr, err)
	}
	if code := printJSON(stdout, result); code != 0 {
		return code
	}
	if !result.Passed {
		return 1
	}
	return 0
}

func runLint(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("lint", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	checksums := fs.Bool("checksums", true, "verify payload checksums")
	signatures := fs.Bool("signatures", false, "verify record signatures")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	ring, err := lint.RingFromActors(context.Background(), a.stores.Actors)
	if err != nil {
		return fail(stderr, err)
	}
	report, err := lint.NewRecordLinter(a.stores, ring).Lint(context.Background(), lint.Options{
		VerifyChecksums:  *checksums,
		VerifySignatures: *signatures,
	})
	if err != nil {
		return fail(stderr, err)
	}
	if code := printJSON(stdout, report); code != 0 {
		return code
	}
	if report.ErrorCount() > 0 {
		return 1
	}
	return 0
}

func runDiagram(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("diagram", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	cycleID := fs.String("cycle", "", "focus on one cycle and its descendants")
	taskID := fs.String("task", "", "focus on one task and its parent cycles")
	pkg := fs.String("package", "", "only tasks tagged package:<name>")
	archived := fs.Bool("archived", false, "include archived records")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	index, err := a.projector().ComputeProjection(context.Background())
	if err != nil {
		return fail(stderr, err)
	}
	tasks := make([]record.TaskRecord, 0, len(index.Tasks))
	for _, t := range index.Tasks {
		tasks = append(tasks, t.TaskRecord)
	}
	graph := diagram.AnalyzeRelationships(index.Cycles, tasks, diagram.FilterOptions{
		CycleID:         *cycleID,
		TaskID:          *taskID,
		PackageName:     *pkg,
		IncludeArchived: *archived,
	})
	out, err := diagram.RenderMermaid(graph)
	if err != nil {
		return fail(stderr, err)
	}
	_, _ = fmt.Fprint(stdout, out)
	return 0
}

func runAgent(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	agentID := fs.String("id", "", "agent record id (required)")
	taskID := fs.String("task", "", "task the run is for (required)")
	input := fs.String("input", "", "JSON input passed to the agent")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *agentID == "" || *taskID == "" {
		_, _ = fmt.Fprintln(stderr, "agent requires -id and -task")
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	signer, err := a.signer()
	if err != nil {
		return fail(stderr, err)
	}
	runner, err := agent.NewRunner(agent.RunnerOptions{
		Stores: a.stores,
		Signer: signer,
		Logger: a.logger,
	})
	if err != nil {
		return fail(stderr, err)
	}
	req := agent.Request{AgentID: *agentID, TaskID: *taskID, ActorID: a.session.ActorID}
	if *input != "" {
		req.Input = json.RawMessage(*input)
	}
	resp, err := runner.Run(context.Background(), req)
	if err != nil {
		return fail(stderr, err)
	}
	if code := printJSON(stdout, resp); code != 0 {
		return code
	}
	if resp.Status != agent.StatusCompleted {
		return 1
	}
	return 0
}

func runServe(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(stderr)
	repo := fs.String("C", "", "repository root (default: cwd)")
	addr := fs.String("addr", ":8787", "webhook listen address")
	secret := fs.String("secret", os.Getenv("GITGOV_WEBHOOK_SECRET"), "webhook HMAC secret")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *secret == "" {
		_, _ = fmt.Fprintln(stderr, "serve requires -secret or GITGOV_WEBHOOK_SECRET")
		return 2
	}
	a, err := loadApp(*repo)
	if err != nil {
		return fail(stderr, err)
	}
	engine, err := a.engine()
	if err != nil {
		return fail(stderr, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	bus := events.NewInMemoryBus()
	sched := scheduler.New(engine, func() config.SchedulerSettings {
		return config.ResolveSchedulerSettings(a.session, a.cfg)
	}, bus, a.logger)
	sched.Start(ctx)
	defer sched.Stop()

	handler := webhook.NewHandler(*secret, a.cfg.Branch(), a.logger)
	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
		if err != nil {
			http.Error(w, "body too large", http.StatusRequestEntityTooLarge)
			return
		}
		result := handler.Process(webhook.Request{
			Signature:  r.Header.Get("X-Hub-Signature-256"),
			Event:      r.Header.Get("X-GitHub-Event"),
			DeliveryID: r.Header.Get("X-GitHub-Delivery"),
			RawBody:    body,
		})
		if result.Action == webhook.ActionSync {
			if _, err := sched.PullNow(r.Context()); err != nil {
				a.logger.Error("webhook-triggered pull failed", "delivery", result.DeliveryID, "error", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		if result.Action == webhook.ActionError {
			w.WriteHeader(http.StatusBadRequest)
		}
		_ = json.NewEncoder(w).Encode(result)
	})

	server := &http.Server{Addr: *addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	_, _ = fmt.Fprintf(stdout, "listening on %s\n", *addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fail(stderr, err)
	}
	return 0
}
