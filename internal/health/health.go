// Package health tracks the three-state health classification shared by
// publishers and subscribers.
package health

import "sync"

// Status is the health classification of a running component.
type Status string

const (
	StatusStopped   Status = "stopped"
	StatusStarting  Status = "starting"
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// Thresholds controls when a component's classification changes. The numeric
// cut-offs are policy, exposed through configuration rather than fixed here.
type Thresholds struct {
	// DegradedErrors is the consecutive-error count at which a component
	// reports degraded; UnhealthyErrors the count at which it reports
	// unhealthy. UnhealthyErrors must be >= DegradedErrors.
	DegradedErrors  int
	UnhealthyErrors int

	// HealthyRate and UnhealthyRate are success-rate percentage bands for
	// per-cycle classification: at or above HealthyRate is healthy, below
	// UnhealthyRate is unhealthy, in between is degraded.
	HealthyRate   float64
	UnhealthyRate float64
}

// DefaultThresholds are used when a component's config leaves them unset.
func DefaultThresholds() Thresholds {
	return Thresholds{
		DegradedErrors:  3,
		UnhealthyErrors: 10,
		HealthyRate:     90,
		UnhealthyRate:   50,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	d := DefaultThresholds()
	if t.DegradedErrors <= 0 {
		t.DegradedErrors = d.DegradedErrors
	}
	if t.UnhealthyErrors <= 0 {
		t.UnhealthyErrors = d.UnhealthyErrors
	}
	if t.UnhealthyErrors < t.DegradedErrors {
		t.UnhealthyErrors = t.DegradedErrors
	}
	if t.HealthyRate <= 0 {
		t.HealthyRate = d.HealthyRate
	}
	if t.UnhealthyRate <= 0 {
		t.UnhealthyRate = d.UnhealthyRate
	}
	return t
}

// ClassifyRate maps a success-rate percentage to a status.
func (t Thresholds) ClassifyRate(successRate float64) Status {
	t = t.withDefaults()
	switch {
	case successRate >= t.HealthyRate:
		return StatusHealthy
	case successRate < t.UnhealthyRate:
		return StatusUnhealthy
	default:
		return StatusDegraded
	}
}

// Tracker recomputes a component's status from its consecutive-error streak.
// Safe for concurrent use.
type Tracker struct {
	mu          sync.Mutex
	thresholds  Thresholds
	consecutive int
	status      Status
}

// NewTracker returns a tracker in the stopped state.
func NewTracker(t Thresholds) *Tracker {
	return &Tracker{thresholds: t.withDefaults(), status: StatusStopped}
}

// SetStatus forces the status, used on lifecycle transitions.
func (tr *Tracker) SetStatus(s Status) {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.status = s
	if s == StatusHealthy || s == StatusStopped {
		tr.consecutive = 0
	}
}

// RecordSuccess clears the error streak and restores healthy while running.
func (tr *Tracker) RecordSuccess() {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.consecutive = 0
	if tr.status == StatusDegraded || tr.status == StatusUnhealthy {
		tr.status = StatusHealthy
	}
}

// RecordError extends the error streak and recomputes the status.
func (tr *Tracker) RecordError() Status {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	tr.consecutive++
	if tr.status == StatusStopped || tr.status == StatusStarting {
		return tr.status
	}
	switch {
	case tr.consecutive >= tr.thresholds.UnhealthyErrors:
		tr.status = StatusUnhealthy
	case tr.consecutive >= tr.thresholds.DegradedErrors:
		tr.status = StatusDegraded
	}
	return tr.status
}

// Status returns the current classification.
func (tr *Tracker) Status() Status {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.status
}

// ConsecutiveErrors returns the current error streak length.
func (tr *Tracker) ConsecutiveErrors() int {
	tr.mu.Lock()
	defer tr.mu.Unlock()
	return tr.consecutive
}
