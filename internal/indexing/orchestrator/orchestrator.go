// Package orchestrator drives crawl cycles: it probes the node pool, hands
// pending heights to registered workers, waits for their batches and starts
// aggregation once every height of the cycle was ingested.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/vietddude/erawatcher/internal/core/crawl"
	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/indexing/metrics"
	"github.com/vietddude/erawatcher/internal/infra/bus"
)

// Prober reports the network height agreed by the retained nodes.
type Prober interface {
	ProbeWithRetry(ctx context.Context) (uint64, error)
}

// Aggregator runs one aggregation pass.
type Aggregator interface {
	Run(ctx context.Context) (int, error)
}

// Config holds orchestrator settings.
type Config struct {
	StartupDelay   time.Duration
	Interval       time.Duration
	FinishTimeout  time.Duration
	CalculatingTTL time.Duration
	// MaxDispatch caps the heights handed out per cycle, 0 = unlimited.
	MaxDispatch int
	// WorkerTTL drops workers not seen for this long, 0 = never.
	WorkerTTL time.Duration
}

// cycleState tallies one dispatch round. It is swapped atomically so bus
// callbacks never see a half-built cycle.
type cycleState struct {
	queued   int
	workers  map[string]int
	assigned *xsync.Map[uint64, string]
	done     *xsync.Counter
	failed   *xsync.Counter
	finished *xsync.Map[string, struct{}]
	notify   chan struct{}
}

func newCycleState() *cycleState {
	return &cycleState{
		workers:  make(map[string]int),
		assigned: xsync.NewMap[uint64, string](),
		done:     xsync.NewCounter(),
		failed:   xsync.NewCounter(),
		finished: xsync.NewMap[string, struct{}](),
		notify:   make(chan struct{}, 1),
	}
}

func (c *cycleState) signal() {
	select {
	case c.notify <- struct{}{}:
	default:
	}
}

func (c *cycleState) acked() int {
	return int(c.done.Value() + c.failed.Value())
}

func (c *cycleState) complete() bool {
	for id := range c.workers {
		if _, ok := c.finished.Load(id); !ok {
			return false
		}
	}
	return c.acked() >= c.queued
}

func (c *cycleState) stuck() []string {
	var ids []string
	for id := range c.workers {
		if _, ok := c.finished.Load(id); !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Orchestrator coordinates workers over the bus.
type Orchestrator struct {
	bus     bus.Bus
	tracker *progress.Tracker
	prober  Prober
	agg     Aggregator
	cfg     Config
	machine *crawl.Machine
	logger  *slog.Logger

	workers *xsync.Map[string, time.Time]
	cycle   atomic.Pointer[cycleState]
	aggWG   sync.WaitGroup
	now     func() time.Time

	// aggregating is set while a pass started by this process is running.
	aggregating atomic.Bool
}

// New creates an orchestrator.
func New(b bus.Bus, tracker *progress.Tracker, prober Prober, agg Aggregator, cfg Config) *Orchestrator {
	logger := slog.Default().With("component", "orchestrator")
	return &Orchestrator{
		bus:     b,
		tracker: tracker,
		prober:  prober,
		agg:     agg,
		cfg:     cfg,
		logger:  logger,
		workers: xsync.NewMap[string, time.Time](),
		now:     time.Now,
		machine: crawl.NewMachine(func(t crawl.Transition) {
			metrics.OrchestratorState.Set(t.To.Index())
			logger.Debug("State transition", "from", t.From, "to", t.To, "reason", t.Reason)
		}),
	}
}

// State returns the current cycle state.
func (o *Orchestrator) State() crawl.State {
	return o.machine.Current()
}

// WorkerCount returns the number of registered workers.
func (o *Orchestrator) WorkerCount() int {
	return o.workers.Size()
}

// Start subscribes to the worker channels and serves them in the background.
func (o *Orchestrator) Start(ctx context.Context) error {
	sub, err := o.bus.Subscribe(ctx, bus.ChannelRegister, bus.ChannelControl, bus.ChannelDone, bus.ChannelError)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}

	go func() {
		defer sub.Close()
		bus.Listen(ctx, sub, bus.Handler{
			OnRegister: o.onRegister,
			OnControl:  o.onControl,
			OnAck:      o.onAck,
		})
	}()
	return nil
}

// Run loops crawl cycles until ctx is done. Start must be called first.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.logger.Info("Orchestrator started",
		"startup_delay", o.cfg.StartupDelay,
		"interval", o.cfg.Interval,
	)

	timer := time.NewTimer(o.cfg.StartupDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			o.Wait()
			o.logger.Info("Orchestrator stopped")
			return nil
		case <-timer.C:
			timer.Reset(o.Cycle(ctx))
		}
	}
}

// Wait blocks until a running aggregation pass returns.
func (o *Orchestrator) Wait() {
	o.aggWG.Wait()
}

func (o *Orchestrator) onRegister(ctx context.Context, m bus.Register) {
	if m.WorkerID == "" {
		return
	}
	if _, known := o.workers.Load(m.WorkerID); !known {
		o.logger.Info("Worker registered", "worker_id", m.WorkerID)
	}
	o.workers.Store(m.WorkerID, o.now())
	metrics.RegisteredWorkers.Set(float64(o.workers.Size()))
}

func (o *Orchestrator) onControl(ctx context.Context, m bus.Control) {
	if m.Signal != bus.SignalFinished || m.WorkerID == "" {
		return
	}
	o.workers.Store(m.WorkerID, o.now())

	cs := o.cycle.Load()
	if cs == nil {
		return
	}
	if _, ok := cs.workers[m.WorkerID]; !ok {
		return
	}
	cs.finished.Store(m.WorkerID, struct{}{})
	cs.signal()
}

func (o *Orchestrator) onAck(ctx context.Context, m bus.Ack) {
	cs := o.cycle.Load()
	if cs == nil {
		return
	}
	// Only heights handed out in this cycle count, each at most once.
	if _, ok := cs.assigned.LoadAndDelete(m.Height); !ok {
		return
	}
	if m.OK {
		cs.done.Inc()
		metrics.HeightsAcked.WithLabelValues("done").Inc()
	} else {
		cs.failed.Inc()
		metrics.HeightsAcked.WithLabelValues("error").Inc()
	}
	cs.signal()
}

func (o *Orchestrator) to(next crawl.State, reason string) {
	if err := o.machine.To(next, reason); err != nil {
		o.logger.Error("Invalid state transition", "from", o.machine.Current(), "to", next, "error", err)
	}
}

// Cycle runs one crawl cycle and returns the delay before the next one.
func (o *Orchestrator) Cycle(ctx context.Context) time.Duration {
	o.to(crawl.StateProbing, "timer")

	calculating, err := o.tracker.IsCalculating(ctx)
	if err != nil {
		o.logger.Error("Failed to read calculating lock", "error", err)
		o.to(crawl.StateIdle, "progress store error")
		return o.cfg.Interval
	}
	if calculating || o.aggregating.Load() {
		o.logger.Debug("Aggregation still running, skipping cycle")
		o.to(crawl.StateIdle, "calculating")
		return o.cfg.Interval
	}

	height, err := o.prober.ProbeWithRetry(ctx)
	if err != nil {
		o.logger.Warn("Probe failed, rescheduling", "error", err)
		o.to(crawl.StateIdle, "probe failed")
		return o.cfg.Interval
	}
	metrics.ChainLatestBlock.Set(float64(height))

	o.to(crawl.StateDispatching, "probed")

	last, err := o.tracker.LastCalculatedHeight(ctx)
	if err != nil {
		o.logger.Error("Failed to read last calculated height", "error", err)
		o.to(crawl.StateIdle, "progress store error")
		return o.cfg.Interval
	}

	pending, err := o.pending(ctx, last, height)
	if err != nil {
		o.logger.Error("Failed to list pending heights", "error", err)
		o.to(crawl.StateIdle, "progress store error")
		return o.cfg.Interval
	}

	if len(pending) == 0 {
		// Heights crawled by an earlier cycle may still await aggregation.
		if last < int64(height) {
			o.aggregate(ctx)
		} else {
			o.to(crawl.StateIdle, "up to date")
		}
		return o.cfg.Interval
	}

	workers := o.liveWorkers()
	if len(workers) == 0 {
		o.logger.Warn("No registered workers, rescheduling", "pending", len(pending))
		o.to(crawl.StateIdle, "no workers")
		return o.cfg.Interval
	}

	cs := o.dispatch(ctx, workers, pending)
	if int(cs.failed.Value()) == cs.queued {
		o.cycle.Store(nil)
		o.to(crawl.StateIdle, "dispatch failed")
		return o.cfg.Interval
	}

	o.to(crawl.StateWaitingForWorkers, "dispatched")
	if err := o.bus.Publish(ctx, bus.Control{Signal: bus.SignalStart}); err != nil {
		o.logger.Error("Failed to broadcast start", "error", err)
		o.cycle.Store(nil)
		o.to(crawl.StateIdle, "start failed")
		return o.cfg.Interval
	}

	finished := o.wait(ctx, cs)
	done, failed := int(cs.done.Value()), int(cs.failed.Value())

	if !finished && ctx.Err() != nil {
		o.cycle.Store(nil)
		o.to(crawl.StateIdle, "shutdown")
		return 0
	}
	if !finished {
		stuck := cs.stuck()
		o.logger.Warn("Workers did not finish in time",
			"stuck", stuck,
			"queued", cs.queued,
			"done", done,
			"failed", failed,
			"timeout", o.cfg.FinishTimeout,
		)
		for _, id := range stuck {
			o.workers.Delete(id)
		}
		metrics.RegisteredWorkers.Set(float64(o.workers.Size()))
		if err := o.bus.Publish(ctx, bus.Control{Signal: bus.SignalStop}); err != nil {
			o.logger.Error("Failed to broadcast stop", "error", err)
		}
		o.cycle.Store(nil)
		o.to(crawl.StateIdle, "finish timeout")
		return o.cfg.Interval
	}
	o.cycle.Store(nil)

	o.logger.Info("Cycle finished",
		"height", height,
		"queued", cs.queued,
		"done", done,
		"failed", failed,
	)

	if done != cs.queued {
		o.to(crawl.StateIdle, "heights failed")
		return 0
	}

	o.aggregate(ctx)
	return o.cfg.Interval
}

// pending lists un-crawled heights in (last, height], capped at MaxDispatch.
func (o *Orchestrator) pending(ctx context.Context, last int64, height uint64) ([]uint64, error) {
	var out []uint64
	for h := uint64(last + 1); h <= height; h++ {
		if o.cfg.MaxDispatch > 0 && len(out) >= o.cfg.MaxDispatch {
			break
		}
		crawled, err := o.tracker.IsCrawled(ctx, h)
		if err != nil {
			return nil, err
		}
		if !crawled {
			out = append(out, h)
		}
	}
	return out, nil
}

// liveWorkers returns registered workers sorted by id, dropping expired ones.
func (o *Orchestrator) liveWorkers() []string {
	now := o.now()
	var ids []string
	o.workers.Range(func(id string, seen time.Time) bool {
		if o.cfg.WorkerTTL > 0 && now.Sub(seen) > o.cfg.WorkerTTL {
			o.workers.Delete(id)
			o.logger.Warn("Worker expired", "worker_id", id, "last_seen", seen)
			return true
		}
		ids = append(ids, id)
		return true
	})
	metrics.RegisteredWorkers.Set(float64(len(ids)))
	sort.Strings(ids)
	return ids
}

// dispatch assigns heights round-robin. The cycle is published before the
// first assignment so early acks are counted; a height that cannot be
// published counts as failed.
func (o *Orchestrator) dispatch(ctx context.Context, workers []string, heights []uint64) *cycleState {
	cs := newCycleState()
	cs.queued = len(heights)
	for i, h := range heights {
		id := workers[i%len(workers)]
		cs.assigned.Store(h, id)
		cs.workers[id]++
	}
	o.cycle.Store(cs)

	for i, h := range heights {
		id := workers[i%len(workers)]
		if err := o.bus.Publish(ctx, bus.Assign{WorkerID: id, Height: h}); err != nil {
			o.logger.Error("Failed to assign height", "height", h, "worker_id", id, "error", err)
			if _, ok := cs.assigned.LoadAndDelete(h); ok {
				cs.failed.Inc()
			}
		}
	}
	metrics.HeightsQueued.Add(float64(cs.queued))

	o.logger.Info("Heights dispatched",
		"from", heights[0],
		"to", heights[len(heights)-1],
		"queued", cs.queued,
		"workers", len(cs.workers),
	)
	return cs
}

// wait blocks until every assigned worker reported finished and every height
// was acknowledged, or the finish timeout expires.
func (o *Orchestrator) wait(ctx context.Context, cs *cycleState) bool {
	var timeout <-chan time.Time
	if o.cfg.FinishTimeout > 0 {
		timer := time.NewTimer(o.cfg.FinishTimeout)
		defer timer.Stop()
		timeout = timer.C
	}

	for {
		if cs.complete() {
			return true
		}
		select {
		case <-cs.notify:
		case <-timeout:
			return cs.complete()
		case <-ctx.Done():
			return false
		}
	}
}

// aggregate starts an aggregation pass in the background under the
// calculating lock and returns to Idle without waiting for it. At most one
// pass runs per process; the lock TTL is refreshed while it is running.
func (o *Orchestrator) aggregate(ctx context.Context) {
	o.to(crawl.StateAggregating, "batch complete")
	defer o.to(crawl.StateIdle, "aggregation started")

	if !o.aggregating.CompareAndSwap(false, true) {
		o.logger.Debug("Aggregation already in flight")
		return
	}
	if err := o.tracker.SetCalculating(ctx, o.cfg.CalculatingTTL); err != nil {
		o.aggregating.Store(false)
		o.logger.Error("Failed to set calculating lock", "error", err)
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	kept := make(chan struct{})
	go func() {
		defer close(kept)
		o.keepCalculating(runCtx)
	}()

	o.aggWG.Add(1)
	go func() {
		defer o.aggWG.Done()
		defer o.aggregating.Store(false)
		defer func() {
			cancel()
			<-kept
			if err := o.tracker.ClearCalculating(context.WithoutCancel(ctx)); err != nil {
				o.logger.Error("Failed to clear calculating lock", "error", err)
			}
		}()

		start := time.Now()
		n, err := o.agg.Run(ctx)
		metrics.AggregationDuration.Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			o.logger.Error("Aggregation failed", "processed", n, "error", err)
			return
		}
		o.logger.Info("Aggregation finished", "processed", n, "duration", time.Since(start))
	}()
}

// keepCalculating re-arms the calculating lock at half its TTL until ctx
// is cancelled.
func (o *Orchestrator) keepCalculating(ctx context.Context) {
	if o.cfg.CalculatingTTL <= 0 {
		return
	}
	ticker := time.NewTicker(o.cfg.CalculatingTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := o.tracker.SetCalculating(ctx, o.cfg.CalculatingTTL); err != nil && ctx.Err() == nil {
				o.logger.Warn("Failed to refresh calculating lock", "error", err)
			}
		}
	}
}
