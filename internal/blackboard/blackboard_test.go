package blackboard

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/hivemind/internal/roster"
)

var (
	topActor    = Actor{ID: "t1", Layer: roster.LayerTop}
	midActor    = Actor{ID: "m1", Layer: roster.LayerMid, Supervisor: "t1"}
	otherMid    = Actor{ID: "m2", Layer: roster.LayerMid, Supervisor: "t1"}
	bottomActor = Actor{ID: "b1", Layer: roster.LayerBottom, Supervisor: "m1"}
	otherBottom = Actor{ID: "b2", Layer: roster.LayerBottom, Supervisor: "m2"}
)

func newBB(t *testing.T) *Blackboard {
	t.Helper()
	return New(NewMemoryDocStore(), DefaultBlackboardConfig())
}

func TestPath(t *testing.T) {
	p, err := Path(ScopeGlobal, "")
	require.NoError(t, err)
	assert.Equal(t, "global-whiteboard.md", p)

	p, err = Path(ScopeTop, "")
	require.NoError(t, err)
	assert.Equal(t, "whiteboards/top-layer.md", p)

	p, err = Path(ScopeMid, "m1")
	require.NoError(t, err)
	assert.Equal(t, "whiteboards/mid-layer-m1.md", p)

	p, err = Path(ScopeBottom, "b1")
	require.NoError(t, err)
	assert.Equal(t, "whiteboards/bottom-layer-b1.md", p)

	_, err = Path(ScopeMid, "")
	assert.ErrorIs(t, err, ErrOwnerRequired)
}

func TestPermissionMatrix(t *testing.T) {
	bb := newBB(t)
	ctx := context.Background()

	cases := []struct {
		name    string
		scope   Scope
		owner   string
		actor   Actor
		canRead bool
		write   error // nil = allowed
		app     error
	}{
		{"top on global", ScopeGlobal, "", topActor, true, nil, nil},
		{"mid on global", ScopeGlobal, "", midActor, true, ErrPermissionDenied, nil},
		{"bottom on global", ScopeGlobal, "", bottomActor, true, ErrPermissionDenied, ErrPermissionDenied},
		{"top on top", ScopeTop, "", topActor, true, nil, nil},
		{"mid on top", ScopeTop, "", midActor, true, ErrPermissionDenied, ErrPermissionDenied},
		{"bottom on top", ScopeTop, "", bottomActor, true, ErrPermissionDenied, ErrPermissionDenied},
		{"top on mid:m1", ScopeMid, "m1", topActor, true, ErrPermissionDenied, ErrPermissionDenied},
		{"owner mid on mid:m1", ScopeMid, "m1", midActor, true, nil, nil},
		{"other mid on mid:m1", ScopeMid, "m1", otherMid, true, ErrPermissionDenied, ErrPermissionDenied},
		{"supervised bottom on mid:m1", ScopeMid, "m1", bottomActor, true, ErrPermissionDenied, ErrPermissionDenied},
		{"foreign bottom on mid:m1", ScopeMid, "m1", otherBottom, false, ErrPermissionDenied, ErrPermissionDenied},
		{"top on bottom:b1", ScopeBottom, "b1", topActor, true, ErrPermissionDenied, ErrPermissionDenied},
		{"mid on bottom:b1", ScopeBottom, "b1", midActor, true, ErrPermissionDenied, ErrPermissionDenied},
		{"owner bottom on bottom:b1", ScopeBottom, "b1", bottomActor, true, nil, nil},
		{"other bottom on bottom:b1", ScopeBottom, "b1", otherBottom, false, ErrPermissionDenied, ErrPermissionDenied},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			doc, err := bb.Read(ctx, tc.scope, tc.owner, tc.actor)
			if tc.canRead {
				require.NoError(t, err)
				assert.NotEmpty(t, doc.Content)
			} else {
				assert.ErrorIs(t, err, ErrPermissionDenied)
			}

			err = bb.Write(ctx, tc.scope, tc.owner, tc.actor, "new content", 1<<40)
			if tc.write == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.write)
			}

			err = bb.Append(ctx, tc.scope, tc.owner, tc.actor, "note")
			if tc.app == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tc.app)
			}
		})
	}
}

func TestRead_TemplateWhenAbsent(t *testing.T) {
	bb := newBB(t)
	doc, err := bb.Read(context.Background(), ScopeGlobal, "", bottomActor)
	require.NoError(t, err)
	assert.Equal(t, int64(0), doc.Version)
	assert.Contains(t, doc.Content, "Global Whiteboard")
}

func TestWrite_VersionIncrementsByOne(t *testing.T) {
	bb := newBB(t)
	ctx := context.Background()

	for i := 1; i <= 5; i++ {
		doc, err := bb.Read(ctx, ScopeTop, "", topActor)
		require.NoError(t, err)
		require.NoError(t, bb.Write(ctx, ScopeTop, "", topActor, "v", doc.Version))

		after, err := bb.Read(ctx, ScopeTop, "", topActor)
		require.NoError(t, err)
		assert.Equal(t, doc.Version+1, after.Version)
	}
}

func TestWrite_VersionConflict(t *testing.T) {
	bb := newBB(t)
	ctx := context.Background()

	doc, err := bb.Read(ctx, ScopeTop, "", topActor)
	require.NoError(t, err)

	require.NoError(t, bb.Write(ctx, ScopeTop, "", topActor, "first", doc.Version))

	// Second write against the stale observation fails
	err = bb.Write(ctx, ScopeTop, "", topActor, "second", doc.Version-1)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestAppend_SuffixFormat(t *testing.T) {
	bb := newBB(t)
	ctx := context.Background()

	require.NoError(t, bb.Append(ctx, ScopeGlobal, "", midActor, "milestone reached"))

	doc, err := bb.Read(ctx, ScopeGlobal, "", midActor)
	require.NoError(t, err)
	assert.Contains(t, doc.Content, "### Update - ")
	assert.Contains(t, doc.Content, "**By**: m1")
	assert.Contains(t, doc.Content, "milestone reached")
	assert.True(t, strings.HasPrefix(doc.Content, "# Global Whiteboard"), "template preserved")
}

func TestLock_ExpiryTakeover(t *testing.T) {
	locks := newLockTable(20 * time.Millisecond)

	ok, _ := locks.acquire("p", "a1")
	require.True(t, ok)

	ok, holder := locks.acquire("p", "a2")
	assert.False(t, ok)
	assert.Equal(t, "a1", holder)

	// Reentrant for the same holder
	ok, _ = locks.acquire("p", "a1")
	assert.True(t, ok)

	time.Sleep(30 * time.Millisecond)

	// Expired: another holder may take over
	ok, _ = locks.acquire("p", "a2")
	assert.True(t, ok)

	// The expired holder's release is a no-op
	locks.release("p", "a1")
	holder, held := locks.holderOf("p")
	assert.True(t, held)
	assert.Equal(t, "a2", holder)
}

func TestCacheInvalidationOnWrite(t *testing.T) {
	bb := newBB(t)
	ctx := context.Background()

	first, err := bb.Read(ctx, ScopeTop, "", topActor)
	require.NoError(t, err)

	require.NoError(t, bb.Write(ctx, ScopeTop, "", topActor, "fresh content", first.Version))

	after, err := bb.Read(ctx, ScopeTop, "", topActor)
	require.NoError(t, err)
	assert.Equal(t, "fresh content", after.Content)
	assert.Equal(t, first.Version+1, after.Version)
}

func TestUpdateHandler(t *testing.T) {
	bb := newBB(t)

	var gotPath, gotBy string
	var gotVersion int64
	bb.SetUpdateHandler(func(path string, version int64, by string) {
		gotPath, gotVersion, gotBy = path, version, by
	})

	require.NoError(t, bb.Write(context.Background(), ScopeTop, "", topActor, "x", 0))
	assert.Equal(t, "whiteboards/top-layer.md", gotPath)
	assert.Equal(t, int64(1), gotVersion)
	assert.Equal(t, "t1", gotBy)
}
