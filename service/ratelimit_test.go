package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/askmygarmin/backend/core"
)

func testLimiter() (*LoginLimiter, *time.Time) {
	now := time.Unix(1_700_000_000, 0)
	l := NewLoginLimiter()
	l.now = func() time.Time { return now }
	return l, &now
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	l, _ := testLimiter()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Check("1.2.3.4"), "attempt %d", i+1)
	}
}

func TestLimiterRejectsSixthInWindow(t *testing.T) {
	l, now := testLimiter()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Check("1.2.3.4"))
		*now = now.Add(time.Minute)
	}
	assert.ErrorIs(t, l.Check("1.2.3.4"), core.ErrRateLimited)

	// Rejection does not consume an attempt slot.
	assert.ErrorIs(t, l.Check("1.2.3.4"), core.ErrRateLimited)
}

func TestLimiterAllowsAfterWindowElapses(t *testing.T) {
	l, now := testLimiter()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Check("1.2.3.4"))
	}
	assert.ErrorIs(t, l.Check("1.2.3.4"), core.ErrRateLimited)

	*now = now.Add(901 * time.Second)
	assert.NoError(t, l.Check("1.2.3.4"))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l, _ := testLimiter()
	for i := 0; i < 5; i++ {
		require.NoError(t, l.Check("1.2.3.4"))
	}
	assert.ErrorIs(t, l.Check("1.2.3.4"), core.ErrRateLimited)
	assert.NoError(t, l.Check("5.6.7.8"))
}
