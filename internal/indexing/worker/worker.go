// Package worker implements the crawl worker: it queues the heights assigned
// to it, drains the queue on the orchestrator's start signal and reports every
// height on the done or error channel.
package worker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/google/uuid"

	"github.com/vietddude/erawatcher/internal/core/domain"
	"github.com/vietddude/erawatcher/internal/infra/bus"
)

// Ingester ingests one height.
type Ingester interface {
	Ingest(ctx context.Context, height uint64) error
}

// Prober brings the node pool online before a drain.
type Prober interface {
	ProbeWithRetry(ctx context.Context) (uint64, error)
}

// Config holds worker settings.
type Config struct {
	// ID identifies the worker on the bus. A random id is used when empty.
	ID               string
	Concurrency      int
	QueueSize        int
	RegisterInterval time.Duration
}

// Worker is a bus subscriber bound to one identity.
type Worker struct {
	id       string
	bus      bus.Bus
	ingester Ingester
	prober   Prober
	cfg      Config
	pool     pond.Pool
	logger   *slog.Logger

	mu           sync.Mutex
	queue        []uint64
	generation   uint64
	startPending bool
	draining     bool
}

// New creates a worker.
func New(b bus.Bus, ingester Ingester, prober Prober, cfg Config) *Worker {
	if cfg.ID == "" {
		cfg.ID = uuid.NewString()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &Worker{
		id:       cfg.ID,
		bus:      b,
		ingester: ingester,
		prober:   prober,
		cfg:      cfg,
		pool:     pond.NewPool(cfg.Concurrency),
		logger:   slog.Default().With("component", "worker", "worker_id", cfg.ID),
	}
}

// ID returns the worker identity.
func (w *Worker) ID() string {
	return w.id
}

// QueueLen returns the number of heights waiting for a start signal.
func (w *Worker) QueueLen() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.queue)
}

// Run subscribes, registers and serves messages until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	sub, err := w.bus.Subscribe(ctx, bus.AssignChannel(w.id), bus.ChannelControl)
	if err != nil {
		return err
	}
	defer sub.Close()
	defer w.pool.StopAndWait()

	if err := w.register(ctx); err != nil {
		return err
	}
	w.logger.Info("Worker registered", "concurrency", w.cfg.Concurrency)

	if w.cfg.RegisterInterval > 0 {
		go w.heartbeat(ctx)
	}

	bus.Listen(ctx, sub, bus.Handler{
		OnAssign:  w.onAssign,
		OnControl: w.onControl,
	})
	return nil
}

func (w *Worker) register(ctx context.Context) error {
	return w.bus.Publish(ctx, bus.Register{WorkerID: w.id})
}

// heartbeat re-registers so a restarted orchestrator learns about this worker.
func (w *Worker) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.RegisterInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.register(ctx); err != nil && ctx.Err() == nil {
				w.logger.Warn("Failed to re-register", "error", err)
			}
		}
	}
}

func (w *Worker) onAssign(ctx context.Context, m bus.Assign) {
	if m.WorkerID != w.id {
		return
	}

	w.mu.Lock()
	full := w.cfg.QueueSize > 0 && len(w.queue) >= w.cfg.QueueSize
	if !full {
		w.queue = append(w.queue, m.Height)
	}
	w.mu.Unlock()

	if full {
		w.logger.Warn("Queue full, rejecting height", "height", m.Height)
		w.ack(ctx, m.Height, false)
	}
}

func (w *Worker) onControl(ctx context.Context, m bus.Control) {
	switch m.Signal {
	case bus.SignalStart:
		w.mu.Lock()
		w.startPending = true
		start := !w.draining
		w.draining = true
		w.mu.Unlock()
		if start {
			go w.drainLoop(ctx)
		}
	case bus.SignalStop:
		w.mu.Lock()
		dropped := len(w.queue)
		w.queue = nil
		w.generation++
		w.startPending = false
		w.mu.Unlock()
		w.logger.Info("Stop received, queue discarded", "dropped", dropped)
	}
}

// drainLoop drains batches while start signals keep arriving.
func (w *Worker) drainLoop(ctx context.Context) {
	for {
		w.mu.Lock()
		if !w.startPending || ctx.Err() != nil {
			w.draining = false
			w.mu.Unlock()
			return
		}
		w.startPending = false
		batch := w.queue
		w.queue = nil
		gen := w.generation
		w.mu.Unlock()

		w.drain(ctx, batch, gen)
	}
}

func (w *Worker) stale(gen uint64) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.generation != gen
}

// drain ingests one batch with bounded concurrency and reports finished
// unless a stop arrived meanwhile. In-flight ingestions are not aborted by a stop.
func (w *Worker) drain(ctx context.Context, batch []uint64, gen uint64) {
	start := time.Now()
	var ok, failed int
	var mu sync.Mutex

	if len(batch) > 0 && w.prober != nil {
		if _, err := w.prober.ProbeWithRetry(ctx); err != nil {
			w.logger.Error("Node pool unavailable, failing batch", "heights", len(batch), "error", err)
			for _, h := range batch {
				w.ack(ctx, h, false)
			}
			w.finish(ctx, gen)
			return
		}
	}

	group := w.pool.NewGroupContext(ctx)
	for _, height := range batch {
		group.Submit(func() {
			if w.stale(gen) {
				return
			}

			err := w.ingester.Ingest(ctx, height)
			success := err == nil || errors.Is(err, domain.ErrAlreadyCrawled)
			if !success {
				w.logger.Warn("Height failed", "height", height, "error", err)
			}

			mu.Lock()
			if success {
				ok++
			} else {
				failed++
			}
			mu.Unlock()

			w.ack(ctx, height, success)
		})
	}
	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) && !errors.Is(err, pond.ErrGroupStopped) && !errors.Is(err, pond.ErrPoolStopped) {
		w.logger.Error("Drain interrupted", "error", err)
	}

	w.logger.Info("Batch drained",
		"heights", len(batch),
		"ok", ok,
		"failed", failed,
		"duration", time.Since(start),
	)
	w.finish(ctx, gen)
}

func (w *Worker) finish(ctx context.Context, gen uint64) {
	if w.stale(gen) || ctx.Err() != nil {
		return
	}
	if err := w.bus.Publish(ctx, bus.Control{WorkerID: w.id, Signal: bus.SignalFinished}); err != nil {
		w.logger.Error("Failed to publish finished", "error", err)
	}
}

func (w *Worker) ack(ctx context.Context, height uint64, ok bool) {
	if err := w.bus.Publish(ctx, bus.Ack{WorkerID: w.id, Height: height, OK: ok}); err != nil {
		w.logger.Error("Failed to publish ack", "height", height, "ok", ok, "error", err)
	}
}
