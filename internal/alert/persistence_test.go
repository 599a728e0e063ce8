package alert

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPersistenceTracker_TrackAndDuration(t *testing.T) {
	pt := NewPersistenceTracker()
	key := BuildConditionKey("basis_warning", "BTC-USDT-PERP", "binance")
	t0 := time.Now()

	start, ok := pt.Track(key, true, t0)
	require.True(t, ok)
	assert.Equal(t, t0, start)

	// Re-entry with a later timestamp leaves the first-met time unchanged.
	later := t0.Add(30 * time.Second)
	start2, ok := pt.Track(key, true, later)
	require.True(t, ok)
	assert.Equal(t, t0, start2)

	duration, ok := pt.GetDuration(key, t0.Add(125*time.Second))
	require.True(t, ok)
	assert.Equal(t, 125*time.Second, duration)
}

func TestPersistenceTracker_NonMetObservationResetsClock(t *testing.T) {
	pt := NewPersistenceTracker()
	key := BuildConditionKey("basis_warning", "BTC-USDT-PERP", "binance")
	t0 := time.Now()

	pt.Track(key, true, t0)
	pt.Track(key, false, t0.Add(10*time.Second))

	_, ok := pt.GetDuration(key, t0.Add(20*time.Second))
	assert.False(t, ok)
}

func TestPersistenceTracker_IsPersistenceMet(t *testing.T) {
	pt := NewPersistenceTracker()
	key := BuildConditionKey("basis_warning", "BTC-USDT-PERP", "binance")
	t0 := time.Now()

	pt.Track(key, true, t0)
	assert.False(t, pt.IsPersistenceMet(key, 120, t0.Add(90*time.Second)))
	assert.True(t, pt.IsPersistenceMet(key, 120, t0.Add(125*time.Second)))
}

func TestPersistenceTracker_ClearAndClearAll(t *testing.T) {
	pt := NewPersistenceTracker()
	k1 := BuildConditionKey("a", "i1", "e1")
	k2 := BuildConditionKey("b", "i2", "e2")
	t0 := time.Now()

	pt.Track(k1, true, t0)
	pt.Track(k2, true, t0)
	assert.Equal(t, 2, pt.Len())

	pt.Clear(k1)
	assert.Equal(t, 1, pt.Len())
	_, ok := pt.GetDuration(k1, t0)
	assert.False(t, ok)

	pt.ClearAll()
	assert.Equal(t, 0, pt.Len())
}

func TestBuildConditionKey_Format(t *testing.T) {
	assert.Equal(t, "spread_warning:BTC-USDT-PERP:binance", BuildConditionKey("spread_warning", "BTC-USDT-PERP", "binance"))
}
