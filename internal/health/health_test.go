package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRate(t *testing.T) {
	th := Thresholds{HealthyRate: 90, UnhealthyRate: 50}

	assert.Equal(t, StatusHealthy, th.ClassifyRate(100))
	assert.Equal(t, StatusHealthy, th.ClassifyRate(90))
	assert.Equal(t, StatusDegraded, th.ClassifyRate(80))
	assert.Equal(t, StatusDegraded, th.ClassifyRate(50))
	assert.Equal(t, StatusUnhealthy, th.ClassifyRate(49.9))
	assert.Equal(t, StatusUnhealthy, th.ClassifyRate(0))
}

func TestTrackerErrorStreak(t *testing.T) {
	tr := NewTracker(Thresholds{DegradedErrors: 2, UnhealthyErrors: 4})
	tr.SetStatus(StatusHealthy)

	assert.Equal(t, StatusHealthy, tr.RecordError())
	assert.Equal(t, StatusDegraded, tr.RecordError())
	assert.Equal(t, StatusDegraded, tr.RecordError())
	assert.Equal(t, StatusUnhealthy, tr.RecordError())

	tr.RecordSuccess()
	assert.Equal(t, StatusHealthy, tr.Status())
	assert.Equal(t, 0, tr.ConsecutiveErrors())
}

func TestTrackerStoppedIgnoresErrors(t *testing.T) {
	tr := NewTracker(Thresholds{DegradedErrors: 1, UnhealthyErrors: 2})

	assert.Equal(t, StatusStopped, tr.RecordError())
	assert.Equal(t, StatusStopped, tr.Status())
}

func TestTrackerDefaultsApplied(t *testing.T) {
	tr := NewTracker(Thresholds{})
	tr.SetStatus(StatusHealthy)

	// Defaults: degraded after 3 consecutive errors.
	tr.RecordError()
	tr.RecordError()
	assert.Equal(t, StatusHealthy, tr.Status())
	tr.RecordError()
	assert.Equal(t, StatusDegraded, tr.Status())
}
