package blackboard

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisStore(t *testing.T) *RedisDocStore {
	t.Helper()
	mr := miniredis.RunT(t)

	store, err := NewRedisDocStore(RedisConfig{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestRedisDocStore_MissingDocReadsTemplate(t *testing.T) {
	store := newRedisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "global-whiteboard.md")
	assert.ErrorIs(t, err, ErrNotFound)

	doc, err := New(store, DefaultBlackboardConfig()).Read(ctx, ScopeGlobal, "", topActor)
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Version)
}

func TestRedisDocStore_BlackboardWrites(t *testing.T) {
	store := newRedisStore(t)
	bb := New(store, DefaultBlackboardConfig())
	ctx := context.Background()

	require.NoError(t, bb.Write(ctx, ScopeTop, "", topActor, "strategy v1", 0))
	require.NoError(t, bb.Append(ctx, ScopeTop, "", topActor, "addendum"))

	doc, err := bb.Read(ctx, ScopeTop, "", topActor)
	require.NoError(t, err)
	assert.Equal(t, int64(2), doc.Version)
	assert.Contains(t, doc.Content, "strategy v1")
	assert.Contains(t, doc.Content, "addendum")
	assert.Equal(t, "t1", doc.LastModifiedBy)
}
