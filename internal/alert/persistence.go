package alert

import (
	"fmt"
	"sync"
	"time"
)

// PersistenceTracker tracks how long an alert condition has continuously
// held true, for alert types that require a minimum persistence duration
// before firing. Safe for concurrent use.
type PersistenceTracker struct {
	mu         sync.Mutex
	startTimes map[string]time.Time
}

// NewPersistenceTracker constructs an empty tracker.
func NewPersistenceTracker() *PersistenceTracker {
	return &PersistenceTracker{startTimes: make(map[string]time.Time)}
}

// BuildConditionKey formats the standard "alert_type:instrument:exchange" key.
func BuildConditionKey(alertType, instrument, exchange string) string {
	return fmt.Sprintf("%s:%s:%s", alertType, instrument, exchange)
}

// Track records a condition state transition. When isMet is true and no
// tracking exists yet, the start time is recorded; it returns the (possibly
// pre-existing) start time. When isMet is false, any tracking is cleared and
// Track returns the zero time with ok=false.
func (t *PersistenceTracker) Track(conditionKey string, isMet bool, timestamp time.Time) (time.Time, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if isMet {
		if start, ok := t.startTimes[conditionKey]; ok {
			return start, true
		}
		t.startTimes[conditionKey] = timestamp
		return timestamp, true
	}

	delete(t.startTimes, conditionKey)
	return time.Time{}, false
}

// GetDuration returns how long conditionKey has been continuously true, or
// false if it is not currently tracked.
func (t *PersistenceTracker) GetDuration(conditionKey string, currentTime time.Time) (time.Duration, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	start, ok := t.startTimes[conditionKey]
	if !ok {
		return 0, false
	}
	return currentTime.Sub(start), true
}

// IsPersistenceMet reports whether conditionKey has held for at least
// requiredSeconds.
func (t *PersistenceTracker) IsPersistenceMet(conditionKey string, requiredSeconds int, currentTime time.Time) bool {
	duration, ok := t.GetDuration(conditionKey, currentTime)
	if !ok {
		return false
	}
	return duration >= time.Duration(requiredSeconds)*time.Second
}

// Clear manually clears tracking for one condition, e.g. after it fires.
func (t *PersistenceTracker) Clear(conditionKey string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.startTimes, conditionKey)
}

// ClearAll clears every tracked condition.
func (t *PersistenceTracker) ClearAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.startTimes = make(map[string]time.Time)
}

// TrackedKeys returns every condition key currently being tracked.
func (t *PersistenceTracker) TrackedKeys() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	keys := make([]string, 0, len(t.startTimes))
	for k := range t.startTimes {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of conditions currently tracked.
func (t *PersistenceTracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.startTimes)
}
