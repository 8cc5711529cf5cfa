package directory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubDirectory struct {
	calls int
	names map[int]string
}

func (s *stubDirectory) Nicknames(_ context.Context, ids []int) (map[int]string, error) {
	s.calls++
	out := map[int]string{}
	for _, id := range ids {
		if n, ok := s.names[id]; ok {
			out[id] = n
		}
	}
	return out, nil
}

func TestCacheServesRememberedNames(t *testing.T) {
	backend := &stubDirectory{names: map[int]string{2: "bob"}}
	c := NewCache(backend)
	c.Remember(1, "alice")

	got, err := c.Nicknames(context.Background(), []int{1})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "alice"}, got)
	assert.Equal(t, 0, backend.calls)

	got, err = c.Nicknames(context.Background(), []int{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, map[int]string{1: "alice", 2: "bob"}, got)
	assert.Equal(t, 1, backend.calls)

	_, err = c.Nicknames(context.Background(), []int{2})
	require.NoError(t, err)
	assert.Equal(t, 1, backend.calls, "second lookup should hit the cache")
}

func TestCacheWithoutBackend(t *testing.T) {
	c := NewCache(nil)
	got, err := c.Nicknames(context.Background(), []int{7})
	require.NoError(t, err)
	assert.Empty(t, got)
}
