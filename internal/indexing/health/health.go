// Package health provides system health monitoring and status reporting.
package health

import "time"

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// Report contains the full health report of the orchestrator process.
type Report struct {
	Status               SystemStatus `json:"status"`
	Reasons              []string     `json:"reasons,omitempty"`
	ChainHeight          uint64       `json:"chain_height"`
	LastCalculatedHeight int64        `json:"last_calculated_height"`
	Lag                  uint64       `json:"lag"`
	CandidateNodes       int          `json:"candidate_nodes"`
	RetainedNodes        []string     `json:"retained_nodes"`
	NodeBans             int          `json:"node_bans"`
	Workers              int          `json:"workers"`
	State                string       `json:"state"`
	Calculating          bool         `json:"calculating"`
	Database             string       `json:"database,omitempty"`
	CheckedAt            time.Time    `json:"checked_at"`
}
