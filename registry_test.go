package relay

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_MostRecentEmpty(t *testing.T) {
	r := NewRegistry(nil)
	id, ok := r.MostRecent()
	assert.False(t, ok)
	assert.Empty(t, id)
}

func TestRegistry_MostRecentOnlyTouchedSessions(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(clock.Now)
	r.Touch("a")
	clock.Advance(time.Second)
	r.Touch("b")

	id, ok := r.MostRecent()
	require.True(t, ok)
	assert.Contains(t, []string{"a", "b"}, id)
	_, known := r.LastActive("never-seen")
	assert.False(t, known)
}

func TestRegistry_TouchOverwritesRecency(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(clock.Now)
	r.Touch("A")
	clock.Advance(time.Second)
	r.Touch("B")
	clock.Advance(time.Second)
	r.Touch("A")

	id, ok := r.MostRecent()
	require.True(t, ok)
	assert.Equal(t, "A", id)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_TieBreakIsLexicographic(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(clock.Now)
	r.Touch("zeta")
	r.Touch("alpha")
	r.Touch("mid")

	id, ok := r.MostRecent()
	require.True(t, ok)
	assert.Equal(t, "alpha", id)
}

func TestRegistry_EvictOlderThan(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(clock.Now)
	ttl := 30 * time.Minute

	r.Touch("old-1")
	r.Touch("old-2")
	clock.Advance(10 * time.Minute)
	r.Touch("fresh")
	clock.Advance(20 * time.Minute)
	r.Touch("exact")

	// old-* have been idle exactly ttl: not strictly older, kept.
	assert.Empty(t, r.EvictOlderThan(ttl))

	clock.Advance(time.Second)
	assert.Equal(t, []string{"old-1", "old-2"}, r.EvictOlderThan(ttl))
	assert.Empty(t, r.EvictOlderThan(ttl), "second pass evicts nothing new")

	_, ok := r.LastActive("fresh")
	assert.True(t, ok)
	_, ok = r.LastActive("exact")
	assert.True(t, ok)
	assert.Equal(t, 2, r.Len())
}

func TestRegistry_ExpireReleasesUnderLock(t *testing.T) {
	clock := newFakeClock()
	r := NewRegistry(clock.Now)
	r.Touch("b")
	r.Touch("a")
	r.Touch("c")
	clock.Advance(time.Minute)
	r.Touch("c")

	var released []string
	expired := r.Expire(30*time.Second, func(id string) {
		_, ok := r.lastActive[id]
		assert.False(t, ok, "%s must already be gone", id)
		released = append(released, id)
	})

	assert.Equal(t, []string{"a", "b"}, expired)
	assert.Equal(t, expired, released)
	assert.Equal(t, 1, r.Len())
}
