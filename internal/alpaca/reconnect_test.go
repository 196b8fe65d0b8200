package alpaca

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBackoffSequenceNoJitter(t *testing.T) {
	p := NewReconnectPolicy(100*time.Millisecond, 5*time.Second, 2, 0, 0)

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1600 * time.Millisecond,
		3200 * time.Millisecond,
		5 * time.Second,
		5 * time.Second,
	}
	for i, w := range want {
		d, ok := p.Next()
		require.True(t, ok)
		assert.Equal(t, w, d, "attempt %d", i)
	}
}

func TestBackoffMonotoneUntilCap(t *testing.T) {
	p := NewReconnectPolicy(50*time.Millisecond, 2*time.Second, 1.7, 0, 0)
	prev := time.Duration(0)
	for i := 0; i < 20; i++ {
		d, ok := p.Next()
		require.True(t, ok)
		assert.GreaterOrEqual(t, d, prev)
		assert.LessOrEqual(t, d, 2*time.Second)
		prev = d
	}
	assert.Equal(t, 2*time.Second, prev)
}

func TestBackoffAttemptCap(t *testing.T) {
	p := NewReconnectPolicy(100*time.Millisecond, 5*time.Second, 2, 0, 3)
	for i := 0; i < 3; i++ {
		_, ok := p.Next()
		require.True(t, ok)
	}
	_, ok := p.Next()
	assert.False(t, ok, "max_attempts=3 caps at three")
}

func TestBackoffJitterBounds(t *testing.T) {
	const jitter = 0.25
	p := NewReconnectPolicy(100*time.Millisecond, 10*time.Second, 2, jitter, 0).WithSeed(7)

	base := float64(100 * time.Millisecond)
	for i := 0; i < 6; i++ {
		d, ok := p.Next()
		require.True(t, ok)
		lo := time.Duration(base * (1 - jitter))
		hi := time.Duration(base * (1 + jitter))
		assert.GreaterOrEqual(t, d, lo, "attempt %d", i)
		assert.LessOrEqual(t, d, hi, "attempt %d", i)
		base *= 2
	}
}

func TestBackoffResetOnStreaming(t *testing.T) {
	p := NewReconnectPolicy(100*time.Millisecond, 5*time.Second, 2, 0, 0)
	p.Next()
	p.Next()
	p.Next()
	p.Reset()
	d, ok := p.Next()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d)
}
