package casper

import (
	"strings"
	"sync"
	"time"
)

// Status represents the health state of a node as seen from its responses.
type Status int

const (
	StatusHealthy   Status = iota // Node is working normally
	StatusDegraded                // Node is slow but working
	StatusThrottled               // Node is rate limiting
	StatusBlocked                 // Node has blocked this client
)

func (s Status) String() string {
	switch s {
	case StatusDegraded:
		return "degraded"
	case StatusThrottled:
		return "throttled"
	case StatusBlocked:
		return "blocked"
	default:
		return "healthy"
	}
}

// MonitorStats holds monitoring statistics for a node.
type MonitorStats struct {
	Status           Status
	AverageLatency   time.Duration
	ThrottleCount429 int
	ThrottleCount403 int
	Requests         int
	Failures         int
}

// Monitor tracks node latency and throttling.
type Monitor struct {
	mu sync.RWMutex

	recentLatencies  []time.Duration
	maxLatencyWindow int

	status429Count     int
	status403Count     int
	throttlePatterns   []string
	lastThrottleTime   time.Time
	retryAfterDuration time.Duration

	requests int
	failures int

	slowResponseThreshold time.Duration
	now                   func() time.Time
}

// NewMonitor creates a new monitor with default settings.
func NewMonitor() *Monitor {
	return &Monitor{
		recentLatencies:  make([]time.Duration, 0, 50),
		maxLatencyWindow: 50,
		throttlePatterns: []string{
			"rate limit exceeded",
			"too many requests",
			"request limit",
			"too many connections",
		},
		slowResponseThreshold: 3 * time.Second,
		now:                   time.Now,
	}
}

// RecordRequest records a successful request with its latency.
func (m *Monitor) RecordRequest(latency time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.requests++
	m.recentLatencies = append(m.recentLatencies, latency)
	if len(m.recentLatencies) > m.maxLatencyWindow {
		m.recentLatencies = m.recentLatencies[1:]
	}
}

// RecordFailure records a failed request.
func (m *Monitor) RecordFailure() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests++
	m.failures++
}

// RecordThrottle records a rate limiting or blocking response.
func (m *Monitor) RecordThrottle(statusCode int, retryAfter string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastThrottleTime = m.now()

	switch statusCode {
	case 429:
		m.status429Count++
		m.retryAfterDuration = time.Minute
		if d, err := time.ParseDuration(retryAfter + "s"); err == nil && d > 0 {
			m.retryAfterDuration = d
		}
	case 403:
		m.status403Count++
		m.retryAfterDuration = 10 * time.Minute // Longer for IP block
	}
}

// DetectThrottlePattern checks if a message contains throttle patterns.
func (m *Monitor) DetectThrottlePattern(message string) bool {
	lowerMsg := strings.ToLower(message)
	for _, pattern := range m.throttlePatterns {
		if strings.Contains(lowerMsg, pattern) {
			return true
		}
	}
	return false
}

// Status returns the current status of the node.
func (m *Monitor) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statusLocked()
}

func (m *Monitor) statusLocked() Status {
	sinceThrottle := m.now().Sub(m.lastThrottleTime)

	if m.status403Count > 0 && sinceThrottle < m.retryAfterDuration {
		return StatusBlocked
	}
	if m.status429Count > 0 && sinceThrottle < m.retryAfterDuration {
		return StatusThrottled
	}

	if len(m.recentLatencies) > 10 && m.averageLocked() > m.slowResponseThreshold {
		return StatusDegraded
	}
	return StatusHealthy
}

// RetryAfter returns remaining time before the node should be used again.
func (m *Monitor) RetryAfter() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()

	remaining := m.retryAfterDuration - m.now().Sub(m.lastThrottleTime)
	if remaining > 0 {
		return remaining
	}
	return 0
}

// AverageLatency returns the average latency of recent requests.
func (m *Monitor) AverageLatency() time.Duration {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.averageLocked()
}

func (m *Monitor) averageLocked() time.Duration {
	if len(m.recentLatencies) == 0 {
		return 0
	}
	var total time.Duration
	for _, lat := range m.recentLatencies {
		total += lat
	}
	return total / time.Duration(len(m.recentLatencies))
}

// Stats returns current monitoring statistics.
func (m *Monitor) Stats() MonitorStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return MonitorStats{
		Status:           m.statusLocked(),
		AverageLatency:   m.averageLocked(),
		ThrottleCount429: m.status429Count,
		ThrottleCount403: m.status403Count,
		Requests:         m.requests,
		Failures:         m.failures,
	}
}
