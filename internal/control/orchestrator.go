package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/vietddude/erawatcher/internal/indexing/health"
	"github.com/vietddude/erawatcher/internal/indexing/nodepool"
	"github.com/vietddude/erawatcher/internal/indexing/orchestrator"
)

const dbMetricsSpec = "@every 15s"

// OrchestratorApp is the orchestrator process, optionally hosting in-process
// workers.
type OrchestratorApp struct {
	deps         *Deps
	pool         *nodepool.Pool
	orch         *orchestrator.Orchestrator
	workers      []*WorkerApp
	scheduler    *cron.Cron
	healthServer *health.Server
	wg           sync.WaitGroup
	log          *slog.Logger
}

// NewOrchestratorApp builds the orchestrator and withWorkers local workers.
func NewOrchestratorApp(deps *Deps, withWorkers int) (*OrchestratorApp, error) {
	cfg := deps.Config
	if withWorkers == 0 && !deps.Distributed() {
		return nil, errors.New("in-process bus needs local workers, set --with-workers or redis.url")
	}

	pool := deps.NewNodePool()
	agg, err := deps.NewAggregator(deps.NewCalculator())
	if err != nil {
		return nil, err
	}

	orch := orchestrator.New(deps.Bus, deps.Tracker, pool, agg, orchestrator.Config{
		StartupDelay:   cfg.Crawler.StartupDelay,
		Interval:       cfg.Crawler.Interval,
		FinishTimeout:  cfg.Crawler.FinishTimeout,
		CalculatingTTL: cfg.Crawler.CalculatingTTL,
		MaxDispatch:    cfg.Crawler.MaxDispatch,
		WorkerTTL:      3 * cfg.Worker.RegisterInterval,
	})

	app := &OrchestratorApp{
		deps:      deps,
		pool:      pool,
		orch:      orch,
		scheduler: newScheduler(),
		log:       slog.Default().With("component", "orchestrator-app"),
	}

	for i := 0; i < withWorkers; i++ {
		app.workers = append(app.workers, newWorkerApp(deps, fmt.Sprintf("local-%d", i), pool))
	}

	monitor := health.NewMonitor(pool, deps.Tracker, orch, cfg.Server.LagThreshold)
	if db := deps.DB(); db != nil {
		monitor.WithDatabase(db)
	}
	app.healthServer = health.NewServer(monitor, cfg.Server.Port)

	if err := app.schedule(); err != nil {
		return nil, err
	}
	return app, nil
}

func (a *OrchestratorApp) schedule() error {
	if err := schedulePeerRefresh(a.scheduler, a.pool, a.deps.Config.Nodes, a.log); err != nil {
		return err
	}

	if db := a.deps.DB(); db != nil {
		if _, err := a.scheduler.AddFunc(dbMetricsSpec, db.CollectMetrics); err != nil {
			return fmt.Errorf("schedule db metrics: %w", err)
		}
	}
	return nil
}

// Start launches the health server, the scheduler, local workers and the
// crawl loop. It returns once everything is running.
func (a *OrchestratorApp) Start(ctx context.Context) error {
	if err := a.orch.Start(ctx); err != nil {
		return err
	}

	go func() {
		if err := a.healthServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("Health server failed", "error", err)
		}
	}()

	a.scheduler.Start()

	for _, w := range a.workers {
		a.wg.Add(1)
		go func(w *WorkerApp) {
			defer a.wg.Done()
			if err := w.Run(ctx); err != nil {
				a.log.Error("Local worker failed", "worker_id", w.ID(), "error", err)
			}
		}(w)
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.orch.Run(ctx); err != nil {
			a.log.Error("Orchestrator failed", "error", err)
		}
	}()

	a.log.Info("Orchestrator app started",
		"port", a.deps.Config.Server.Port,
		"local_workers", len(a.workers),
		"distributed", a.deps.Distributed(),
	)
	return nil
}

// Stop waits for the crawl loop and local workers to exit. The caller cancels
// the context given to Start first.
func (a *OrchestratorApp) Stop(ctx context.Context) error {
	a.log.Info("Stopping orchestrator app...")

	<-a.scheduler.Stop().Done()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.log.Warn("Shutdown timed out waiting for the crawl loop")
	}

	if err := a.pool.Close(); err != nil {
		a.log.Warn("Failed to close node pool", "error", err)
	}

	return a.healthServer.Stop(ctx)
}
