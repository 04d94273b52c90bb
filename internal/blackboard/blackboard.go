package blackboard

import (
	"context"
	"errors"
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/hivemind/internal/roster"
)

// Scope identifies a whiteboard tier
type Scope string

const (
	ScopeGlobal Scope = "global"
	ScopeTop    Scope = "top"
	ScopeMid    Scope = "mid"
	ScopeBottom Scope = "bottom"
)

// Sentinel failures surfaced to callers. Concurrency errors are
// retryable; permission errors are not.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrLockedByOther    = errors.New("locked by another agent")
	ErrVersionConflict  = errors.New("version conflict")
	ErrOwnerRequired    = errors.New("scope requires an owner")
)

// Actor identifies a requester to the permission matrix
type Actor struct {
	ID         string
	Layer      roster.Layer
	Supervisor string
}

// UpdateHandler observes every successful write
type UpdateHandler func(path string, version int64, modifiedBy string)

// Config configures the blackboard
type Config struct {
	LockTTL      time.Duration
	CacheTTL     time.Duration
	CacheMaxDocs int
}

// DefaultBlackboardConfig returns the default blackboard configuration
func DefaultBlackboardConfig() Config {
	return Config{
		LockTTL:      5 * time.Second,
		CacheTTL:     30 * time.Second,
		CacheMaxDocs: 256,
	}
}

// Blackboard mediates all whiteboard access: permission checks, the
// advisory lock table, optimistic versioning, and a bounded read cache
// invalidated on write.
type Blackboard struct {
	store    DocStore
	locks    *lockTable
	cache    *gocache.Cache
	maxDocs  int
	log      zerolog.Logger
	onUpdate UpdateHandler
}

// New creates a blackboard over the given document store
func New(store DocStore, config Config) *Blackboard {
	if config.CacheTTL <= 0 {
		config.CacheTTL = 30 * time.Second
	}
	if config.CacheMaxDocs <= 0 {
		config.CacheMaxDocs = 256
	}
	return &Blackboard{
		store:   store,
		locks:   newLockTable(config.LockTTL),
		cache:   gocache.New(config.CacheTTL, 2*config.CacheTTL),
		maxDocs: config.CacheMaxDocs,
		log:     log.With().Str("component", "blackboard").Logger(),
	}
}

// SetUpdateHandler installs the write observer
func (b *Blackboard) SetUpdateHandler(h UpdateHandler) {
	b.onUpdate = h
}

// Path derives the document path for a scope and owner
func Path(scope Scope, owner string) (string, error) {
	switch scope {
	case ScopeGlobal:
		return "global-whiteboard.md", nil
	case ScopeTop:
		return "whiteboards/top-layer.md", nil
	case ScopeMid:
		if owner == "" {
			return "", ErrOwnerRequired
		}
		return fmt.Sprintf("whiteboards/mid-layer-%s.md", owner), nil
	case ScopeBottom:
		if owner == "" {
			return "", ErrOwnerRequired
		}
		return fmt.Sprintf("whiteboards/bottom-layer-%s.md", owner), nil
	default:
		return "", fmt.Errorf("unknown scope %q", scope)
	}
}

type operation int

const (
	opRead operation = iota
	opWrite
	opAppend
)

// allowed applies the contractual permission matrix
func allowed(scope Scope, owner string, actor Actor, op operation) bool {
	switch scope {
	case ScopeGlobal:
		switch actor.Layer {
		case roster.LayerTop:
			return true
		case roster.LayerMid:
			return op == opRead || op == opAppend
		case roster.LayerBottom:
			return op == opRead
		}
	case ScopeTop:
		switch actor.Layer {
		case roster.LayerTop:
			return op == opRead || op == opWrite || op == opAppend
		case roster.LayerMid, roster.LayerBottom:
			return op == opRead
		}
	case ScopeMid:
		switch actor.Layer {
		case roster.LayerTop:
			return op == opRead
		case roster.LayerMid:
			if op == opRead {
				return true
			}
			return actor.ID == owner
		case roster.LayerBottom:
			return op == opRead && actor.Supervisor == owner
		}
	case ScopeBottom:
		switch actor.Layer {
		case roster.LayerTop, roster.LayerMid:
			return op == opRead
		case roster.LayerBottom:
			return actor.ID == owner
		}
	}
	return false
}

// Read returns the current document for a scope, or its template when
// it has never been written. Reads may be served from the bounded cache.
func (b *Blackboard) Read(ctx context.Context, scope Scope, owner string, actor Actor) (*Document, error) {
	path, err := Path(scope, owner)
	if err != nil {
		return nil, err
	}
	if !allowed(scope, owner, actor, opRead) {
		return nil, fmt.Errorf("%w: %s may not read %s", ErrPermissionDenied, actor.ID, path)
	}

	if cached, ok := b.cache.Get(path); ok {
		doc := cached.(Document)
		return &doc, nil
	}

	doc, err := b.store.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		doc = &Document{Path: path, Content: templateFor(scope, owner), Version: 0}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}

	if b.cache.ItemCount() < b.maxDocs {
		b.cache.SetDefault(path, *doc)
	}
	return doc, nil
}

// Write replaces the document content. The caller supplies the version
// it observed at read time; a write against a stale observation fails
// with ErrVersionConflict. The advisory lock is held for the duration
// of the write only.
func (b *Blackboard) Write(ctx context.Context, scope Scope, owner string, actor Actor, content string, observedVersion int64) error {
	path, err := Path(scope, owner)
	if err != nil {
		return err
	}
	if !allowed(scope, owner, actor, opWrite) {
		return fmt.Errorf("%w: %s may not write %s", ErrPermissionDenied, actor.ID, path)
	}
	return b.writeLocked(ctx, scope, path, actor, content, observedVersion, false)
}

// Append adds a timestamped update block to the document. Append has
// write-semantics against the matrix's append column and never
// conflicts: the suffix is computed against the current version under
// the lock.
func (b *Blackboard) Append(ctx context.Context, scope Scope, owner string, actor Actor, content string) error {
	path, err := Path(scope, owner)
	if err != nil {
		return err
	}
	if !allowed(scope, owner, actor, opAppend) {
		return fmt.Errorf("%w: %s may not append to %s", ErrPermissionDenied, actor.ID, path)
	}
	return b.writeLocked(ctx, scope, path, actor, content, -1, true)
}

func (b *Blackboard) writeLocked(ctx context.Context, scope Scope, path string, actor Actor, content string, observedVersion int64, isAppend bool) error {
	ok, heldBy := b.locks.acquire(path, actor.ID)
	if !ok {
		return fmt.Errorf("%w: %s holds %s", ErrLockedByOther, heldBy, path)
	}
	defer b.locks.release(path, actor.ID)

	current, err := b.store.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		current = &Document{Path: path, Content: templateFor(scope, ""), Version: 0}
	} else if err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}

	if !isAppend && observedVersion < current.Version {
		return fmt.Errorf("%w: observed %d, stored %d", ErrVersionConflict, observedVersion, current.Version)
	}

	next := &Document{
		Path:           path,
		Version:        current.Version + 1,
		LastModifiedBy: actor.ID,
		UpdatedAt:      time.Now(),
	}
	if isAppend {
		next.Content = current.Content + appendSuffix(actor.ID, content)
	} else {
		next.Content = content
	}

	if err := b.store.Put(ctx, next); err != nil {
		return fmt.Errorf("failed to store %s: %w", path, err)
	}

	b.cache.Delete(path)

	b.log.Debug().
		Str("path", path).
		Int64("version", next.Version).
		Str("by", actor.ID).
		Bool("append", isAppend).
		Msg("Whiteboard updated")

	if b.onUpdate != nil {
		b.onUpdate(path, next.Version, actor.ID)
	}
	return nil
}

func appendSuffix(requester, content string) string {
	return fmt.Sprintf("\n\n### Update - %s\n**By**: %s\n\n%s",
		time.Now().Format(time.RFC3339), requester, content)
}

// LockHolder exposes the current valid lock holder for a document
func (b *Blackboard) LockHolder(scope Scope, owner string) (string, bool) {
	path, err := Path(scope, owner)
	if err != nil {
		return "", false
	}
	return b.locks.holderOf(path)
}

func templateFor(scope Scope, owner string) string {
	switch scope {
	case ScopeGlobal:
		return "# Global Whiteboard\n\nShared coordination space for the whole team.\n"
	case ScopeTop:
		return "# Top Layer Whiteboard\n\nStrategic decisions and arbitration outcomes.\n"
	case ScopeMid:
		return fmt.Sprintf("# Mid Layer Whiteboard %s\n\nSubordinate status and task decomposition.\n", owner)
	case ScopeBottom:
		return fmt.Sprintf("# Bottom Layer Whiteboard %s\n\nWork results and progress notes.\n", owner)
	default:
		return ""
	}
}
