package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/DocQA-Labs/docrag/internal/async"
	"github.com/DocQA-Labs/docrag/internal/ingest"
	"github.com/DocQA-Labs/docrag/internal/namespace"
	"github.com/DocQA-Labs/docrag/internal/rag"
)

// Daemon serves questions over a Unix socket, keeping the orchestrator
// and its namespaces resident between CLI invocations. It also runs
// background namespace builds and idle cache snapshots.
type Daemon struct {
	config   Config
	orch     *rag.Orchestrator
	preparer *async.Preparer
	maint    *Maintainer
	server   *Server
	pidfile  *PIDFile

	mu     sync.Mutex
	runCtx context.Context
}

// NewDaemon creates a daemon around an orchestrator. The orchestrator
// stays owned by the caller and is not closed on shutdown.
func NewDaemon(cfg Config, orch *rag.Orchestrator) (*Daemon, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if orch == nil {
		return nil, errors.New("orchestrator is required")
	}

	// Background builds borrow the shared ingest builder's progress
	// hook for the duration of one job; the preparer serializes jobs
	// so the swap is safe.
	preparer := async.NewPreparer(async.PreparerConfig{MarkerDir: cfg.DataDir})
	preparer.PrepareFunc = func(ctx context.Context, id namespace.ID, force bool, onEvent func(ingest.Event)) (*ingest.Result, error) {
		b := orch.Builder()
		b.SetProgress(onEvent)
		defer b.SetProgress(nil)
		return orch.PrepareNamespace(ctx, id.Tenant, id.Scenario, force)
	}

	return &Daemon{
		config:   cfg,
		orch:     orch,
		preparer: preparer,
		maint:    NewMaintainer(orch, cfg.SnapshotIdle, cfg.SnapshotCooldown),
		server:   NewServer(cfg.SocketPath, cfg.RequestTimeout),
		pidfile:  NewPIDFile(cfg.PIDPath),
	}, nil
}

// Start runs the daemon until the context is canceled. Stale socket
// and PID files from a crashed run are cleared first; a live daemon on
// the same PID file refuses the second start.
func (d *Daemon) Start(ctx context.Context) error {
	if err := d.config.EnsureDir(); err != nil {
		return err
	}

	if err := d.pidfile.ClearStale(); err != nil {
		return err
	}
	if d.pidfile.IsRunning() {
		pid, _ := d.pidfile.Read()
		return fmt.Errorf("daemon already running (pid %d)", pid)
	}
	if err := d.pidfile.Write(); err != nil {
		return err
	}
	defer func() { _ = d.pidfile.Remove() }()

	d.mu.Lock()
	d.runCtx = ctx
	d.mu.Unlock()

	d.server.SetHandler(d)

	defer d.maint.Stop()
	defer d.preparer.Stop()

	return d.server.ListenAndServe(ctx)
}

// HandleAsk answers one question through the resident pipeline.
func (d *Daemon) HandleAsk(ctx context.Context, params AskParams) (*rag.AnswerRecord, error) {
	record, err := d.orch.ProcessQuestion(ctx, params.Tenant, params.Scenario, params.Question, params.QuestionType)
	if err != nil {
		return nil, err
	}

	if id, idErr := namespace.NewID(params.Tenant, params.Scenario); idErr == nil {
		d.maint.OnQuestionComplete(id)
	}
	return record, nil
}

// HandlePrepare starts a background build. The build is tied to the
// daemon's lifetime, not to the request connection, so it survives the
// client disconnecting.
func (d *Daemon) HandlePrepare(_ context.Context, params PrepareParams) (*async.BuildSnapshot, error) {
	id, err := namespace.NewID(params.Tenant, params.Scenario)
	if err != nil {
		return nil, err
	}

	d.mu.Lock()
	runCtx := d.runCtx
	d.mu.Unlock()
	if runCtx == nil {
		runCtx = context.Background()
	}

	job, err := d.preparer.Start(runCtx, id, params.Force)
	if err != nil {
		return nil, err
	}

	snap := job.Progress().Snapshot()
	return &snap, nil
}

// HandleStatus reports the daemon's domain state. The server layers the
// liveness fields on top.
func (d *Daemon) HandleStatus(ctx context.Context, params StatusParams) (StatusResult, error) {
	gw := d.orch.Gateway()
	status := StatusResult{
		Provider:   gw.ModelName(),
		Dimensions: gw.Dimensions(),
	}

	for _, id := range d.orch.LoadedNamespaces() {
		status.LoadedNamespaces = append(status.LoadedNamespaces, id.String())
	}

	if job, ok := d.preparer.Active(); ok {
		snap := job.Progress().Snapshot()
		status.Building = &snap
	}

	if params.Tenant != "" && params.Scenario != "" {
		id, err := namespace.NewID(params.Tenant, params.Scenario)
		if err != nil {
			return StatusResult{}, err
		}

		// A namespace-scoped status shows that namespace's last build,
		// running or finished, so clients can poll one prepare to done.
		if job, ok := d.preparer.Job(id); ok {
			snap := job.Progress().Snapshot()
			status.Building = &snap
		}

		report, err := d.orch.GetStatus(ctx, params.Tenant, params.Scenario)
		if err != nil {
			return StatusResult{}, err
		}
		status.Namespace = report
	}

	return status, nil
}
