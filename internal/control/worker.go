package control

import (
	"context"
	"log/slog"

	"github.com/robfig/cron/v3"

	"github.com/vietddude/erawatcher/internal/indexing/nodepool"
	"github.com/vietddude/erawatcher/internal/indexing/worker"
)

// WorkerApp is a worker process: it ingests the heights the orchestrator
// assigns to it.
type WorkerApp struct {
	worker *worker.Worker
	nodes  *nodepool.Pool
	// scheduler refreshes nodes; nil when the pool belongs to the orchestrator.
	scheduler *cron.Cron
	log       *slog.Logger
}

// NewWorkerApp builds a standalone worker on deps with its own node pool and
// peer refresh job. A non-empty id overrides worker.id.
func NewWorkerApp(deps *Deps, id string) (*WorkerApp, error) {
	app := newWorkerApp(deps, id, deps.NewNodePool())
	app.scheduler = newScheduler()
	if err := schedulePeerRefresh(app.scheduler, app.nodes, deps.Config.Nodes, app.log); err != nil {
		return nil, err
	}
	return app, nil
}

// newWorkerApp builds a worker reading through nodes.
func newWorkerApp(deps *Deps, id string, nodes *nodepool.Pool) *WorkerApp {
	cfg := deps.Config.Worker
	if id == "" {
		id = cfg.ID
	}

	w := worker.New(deps.Bus, deps.NewIngester(nodes), nodes, worker.Config{
		ID:               id,
		Concurrency:      cfg.Concurrency,
		QueueSize:        cfg.QueueSize,
		RegisterInterval: cfg.RegisterInterval,
	})
	return &WorkerApp{
		worker: w,
		nodes:  nodes,
		log:    slog.Default().With("component", "worker-app", "worker_id", w.ID()),
	}
}

// ID returns the worker identity.
func (a *WorkerApp) ID() string {
	return a.worker.ID()
}

// Run serves until ctx is done.
func (a *WorkerApp) Run(ctx context.Context) error {
	a.log.Info("Starting worker")
	if a.scheduler != nil {
		a.scheduler.Start()
		defer func() {
			<-a.scheduler.Stop().Done()
			if err := a.nodes.Close(); err != nil {
				a.log.Warn("Failed to close node pool", "error", err)
			}
		}()
	}
	return a.worker.Run(ctx)
}
