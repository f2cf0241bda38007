package health

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/vietddude/erawatcher/internal/core/crawl"
	"github.com/vietddude/erawatcher/internal/core/progress"
	"github.com/vietddude/erawatcher/internal/indexing/nodepool"
)

// NodeStats reports the node pool snapshot.
type NodeStats interface {
	Stats() nodepool.Stats
}

// CycleState reports the orchestrator state.
type CycleState interface {
	State() crawl.State
	WorkerCount() int
}

// Pinger checks a backing database.
type Pinger interface {
	Health(ctx context.Context) error
}

const checkInterval = 10 * time.Second

// Monitor aggregates health status from the node pool, the progress ledger
// and the orchestrator.
type Monitor struct {
	nodes        NodeStats
	tracker      *progress.Tracker
	cycle        CycleState
	db           Pinger
	lagThreshold uint64

	mu         sync.Mutex
	lastCheck  time.Time
	lastReport *Report
	now        func() time.Time
}

// NewMonitor creates a new health monitor.
func NewMonitor(nodes NodeStats, tracker *progress.Tracker, cycle CycleState, lagThreshold uint64) *Monitor {
	return &Monitor{
		nodes:        nodes,
		tracker:      tracker,
		cycle:        cycle,
		lagThreshold: lagThreshold,
		now:          time.Now,
	}
}

// WithDatabase adds a database ping to every report.
func (m *Monitor) WithDatabase(db Pinger) *Monitor {
	m.db = db
	return m
}

// CheckHealth builds a report, reusing the previous one for a few seconds.
func (m *Monitor) CheckHealth(ctx context.Context) Report {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if m.lastReport != nil && now.Sub(m.lastCheck) < checkInterval {
		return *m.lastReport
	}

	stats := m.nodes.Stats()
	report := Report{
		Status:         StatusHealthy,
		ChainHeight:    stats.Height,
		CandidateNodes: stats.Candidates,
		RetainedNodes:  stats.Retained,
		NodeBans:       stats.Bans,
		CheckedAt:      now,
	}
	if m.cycle != nil {
		report.State = string(m.cycle.State())
		report.Workers = m.cycle.WorkerCount()
	}

	last, err := m.tracker.LastCalculatedHeight(ctx)
	if err != nil {
		report.Status = StatusCritical
		report.Reasons = append(report.Reasons, fmt.Sprintf("progress store: %v", err))
	} else {
		report.LastCalculatedHeight = last
		if int64(stats.Height) > last {
			report.Lag = uint64(int64(stats.Height) - last)
		}
	}

	if m.db != nil {
		if err := m.db.Health(ctx); err != nil {
			report.Database = "unreachable"
			report.Status = StatusCritical
			report.Reasons = append(report.Reasons, fmt.Sprintf("database: %v", err))
		} else {
			report.Database = "ok"
		}
	}

	if calculating, err := m.tracker.IsCalculating(ctx); err == nil {
		report.Calculating = calculating
	}

	if report.Status != StatusCritical {
		if len(stats.Retained) == 0 {
			report.Status = StatusDegraded
			report.Reasons = append(report.Reasons, "no retained nodes")
		}
		if m.lagThreshold > 0 && report.Lag > m.lagThreshold {
			report.Status = StatusDegraded
			report.Reasons = append(report.Reasons, fmt.Sprintf("lag %d above %d", report.Lag, m.lagThreshold))
		}
	}

	m.lastCheck = now
	m.lastReport = &report
	return report
}
