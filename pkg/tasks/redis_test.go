package tasks

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer store.Close()

	testStore(t, store)
}

func TestRedisStoreKeysByTask(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer store.Close()

	rec := NewRecord("q", true)
	require.NoError(t, store.Create(context.Background(), rec))

	assert.True(t, mr.Exists("deep-research:task:"+rec.ID))
	members, err := mr.ZMembers("deep-research:tasks")
	require.NoError(t, err)
	assert.Equal(t, []string{rec.ID}, members)
}

func TestNewRedisStoreBadURL(t *testing.T) {
	_, err := NewRedisStore(context.Background(), "not-a-url")
	assert.Error(t, err)
}

func TestRedisStoreCreateLeavesNoOrphanKey(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), "redis://"+mr.Addr())
	require.NoError(t, err)
	defer store.Close()

	// A string under the index key makes ZADD fail with WRONGTYPE.
	require.NoError(t, mr.Set("deep-research:tasks", "not-a-zset"))

	rec := NewRecord("q", true)
	require.Error(t, store.Create(context.Background(), rec))
	assert.False(t, mr.Exists("deep-research:task:"+rec.ID))

	_, err = store.Get(context.Background(), rec.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}
