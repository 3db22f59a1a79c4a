package types

import "time"

type HealthStatus string

const (
	HealthStatusUp       HealthStatus = "UP"
	HealthStatusDown     HealthStatus = "DOWN"
	HealthStatusDegraded HealthStatus = "DEGRADED"
)

// Component names reported by the ledger health check.
const (
	ComponentLedgerStore = "ledger_store"
	ComponentEventBus    = "event_bus"
)

// HealthComponent is the state of one dependency. Driver names the ledger
// store backend and is empty for other components.
type HealthComponent struct {
	Status    HealthStatus `json:"status"`
	Driver    string       `json:"driver,omitempty"`
	LatencyMs int64        `json:"latencyMs"`
	Details   string       `json:"details,omitempty"`
}

type HealthCheck struct {
	Service       string                     `json:"service"`
	Status        HealthStatus               `json:"status"`
	Components    map[string]HealthComponent `json:"components"`
	Version       string                     `json:"version"`
	CheckedAt     time.Time                  `json:"checkedAt"`
	StartedAt     time.Time                  `json:"startedAt"`
	UptimeSeconds int64                      `json:"uptimeSeconds"`
}

// Ready reports whether the ledger can serve requests. A degraded event bus
// still counts as ready.
func (h HealthCheck) Ready() bool {
	return h.Status != HealthStatusDown
}
