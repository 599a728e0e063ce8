package venue

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetectGap_ForwardJumpsAreNeverGaps(t *testing.T) {
	reason, isGap := DetectGap(100, 105)
	assert.False(t, isGap)
	assert.Empty(t, reason)

	// Large forward jumps (top-N partial-depth streams skip ids that
	// don't touch the top levels) must still not raise a gap.
	reason, isGap = DetectGap(100, 10_000)
	assert.False(t, isGap)
	assert.Empty(t, reason)
}

func TestDetectGap_BackwardsAndDuplicate(t *testing.T) {
	reason, isGap := DetectGap(105, 100)
	assert.True(t, isGap)
	assert.Equal(t, "sequence_backwards", reason)

	reason, isGap = DetectGap(100, 100)
	assert.True(t, isGap)
	assert.Equal(t, "sequence_duplicate", reason)
}

func TestDetectGap_OnlyTwoReasonsProduced(t *testing.T) {
	seen := map[string]bool{}
	pairs := [][2]int64{{10, 5}, {10, 10}, {10, 20}, {0, 0}, {-5, -10}}
	for _, p := range pairs {
		reason, isGap := DetectGap(p[0], p[1])
		if isGap {
			seen[reason] = true
		}
	}
	for reason := range seen {
		assert.Contains(t, []string{"sequence_backwards", "sequence_duplicate"}, reason)
	}
}
