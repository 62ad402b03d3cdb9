package gate

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquire_RejectsBeyondLimit(t *testing.T) {
	g := New(2)

	require.True(t, g.Acquire())
	require.True(t, g.Acquire())
	assert.False(t, g.Acquire())

	g.Release()
	assert.True(t, g.Acquire())
}

func TestAcquire_NeverBlocks(t *testing.T) {
	g := New(1)
	require.True(t, g.Acquire())

	// The second caller must be answered immediately while the first permit
	// is still held, not after the holder finishes.
	start := time.Now()
	ok := g.Acquire()
	elapsed := time.Since(start)

	assert.False(t, ok)
	assert.Less(t, elapsed, 50*time.Millisecond)
}

func TestNew_DefaultsToOnePermit(t *testing.T) {
	g := New(0)
	assert.Equal(t, 1, g.Limit())
	require.True(t, g.Acquire())
	assert.False(t, g.Acquire())
}
