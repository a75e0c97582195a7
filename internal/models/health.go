package models

import "time"

// HealthState describes a service's condition as seen by the recovery
// coordinator.
type HealthState string

// Health states.
const (
	HealthHealthy    HealthState = "healthy"
	HealthDegraded   HealthState = "degraded"
	HealthUnhealthy  HealthState = "unhealthy"
	HealthRecovering HealthState = "recovering"
	HealthFailed     HealthState = "failed"
)

// ServiceHealth tracks recovery outcomes per service. Mutated only by the
// recovery coordinator; the consecutive-failure counter feeds external
// circuit-breaker decisions.
type ServiceHealth struct {
	ServiceName         string      `json:"service_name"`
	State               HealthState `json:"state"`
	LastCheck           time.Time   `json:"last_check"`
	ConsecutiveFailures int         `json:"consecutive_failures"`
	RecoveryAttempts    int         `json:"recovery_attempts"`
}
