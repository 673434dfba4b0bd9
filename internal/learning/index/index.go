// Package index keeps an in-memory, time-bounded-fresh snapshot of the
// matchable pattern corpus so lookups never scan the store. Snapshots are
// immutable and swapped atomically; refresh is single-flight so concurrent
// callers hitting a stale snapshot share one reload.
package index

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/yungbote/rulelearn/internal/logger"
	apperrors "github.com/yungbote/rulelearn/internal/pkg/errors"
	"github.com/yungbote/rulelearn/internal/types"
)

// Store is the slice of the pattern store the index needs.
type Store interface {
	ListMatchable(ctx context.Context) ([]*types.RulePattern, error)
}

// Snapshot is one immutable build of the lookup structures. Readers share it
// without locking.
type Snapshot struct {
	ByField map[string][]*types.RulePattern
	ByType  map[string][]*types.RulePattern
	ByHash  map[string]*types.RulePattern
	All     []*types.RulePattern
	BuiltAt time.Time
}

type Index struct {
	store     Store
	log       *logger.Logger
	staleness time.Duration

	snap  atomic.Pointer[Snapshot]
	group singleflight.Group
}

const DefaultStaleness = time.Hour

func New(store Store, baseLog *logger.Logger, staleness time.Duration) *Index {
	if staleness <= 0 {
		staleness = DefaultStaleness
	}
	return &Index{
		store:     store,
		log:       baseLog.With("component", "PatternIndex"),
		staleness: staleness,
	}
}

// Current returns a fresh-enough snapshot, rebuilding it when the staleness
// bound has passed. If a rebuild fails but a previous snapshot exists, the
// stale snapshot is served; bounded staleness beats an outage on the read
// path.
func (ix *Index) Current(ctx context.Context) (*Snapshot, error) {
	snap := ix.snap.Load()
	if snap != nil && time.Since(snap.BuiltAt) < ix.staleness {
		return snap, nil
	}
	built, err, shared := ix.group.Do("refresh", func() (interface{}, error) {
		// Another caller may have completed the reload while this one
		// waited on the flight key.
		if s := ix.snap.Load(); s != nil && time.Since(s.BuiltAt) < ix.staleness {
			return s, nil
		}
		// The reload outlives the triggering caller; waiters sharing the
		// flight must not fail on that caller's cancellation.
		return ix.rebuild(context.WithoutCancel(ctx))
	})
	if err != nil {
		if snap != nil {
			ix.log.Warn("index refresh failed, serving stale snapshot", "error", err, "age", time.Since(snap.BuiltAt))
			return snap, nil
		}
		return nil, fmt.Errorf("index refresh: %w: %v", apperrors.ErrStoreUnavailable, err)
	}
	if shared {
		ix.log.Debug("index refresh shared with concurrent caller")
	}
	return built.(*Snapshot), nil
}

func (ix *Index) rebuild(ctx context.Context) (*Snapshot, error) {
	rows, err := ix.store.ListMatchable(ctx)
	if err != nil {
		return nil, err
	}
	snap := &Snapshot{
		ByField: map[string][]*types.RulePattern{},
		ByType:  map[string][]*types.RulePattern{},
		ByHash:  make(map[string]*types.RulePattern, len(rows)),
		All:     rows,
		BuiltAt: time.Now().UTC(),
	}
	for _, p := range rows {
		if p.FieldNameHint != "" {
			snap.ByField[p.FieldNameHint] = append(snap.ByField[p.FieldNameHint], p)
		}
		snap.ByType[p.RuleType] = append(snap.ByType[p.RuleType], p)
		snap.ByHash[p.PatternHash+"|"+p.FieldNameHint] = p
	}
	ix.snap.Store(snap)
	ix.log.Debug("index snapshot rebuilt", "patterns", len(rows))
	return snap, nil
}

// Invalidate drops the current snapshot so the next lookup rebuilds. Writers
// call this after saves and status changes; remote replicas call it from the
// pattern bus.
func (ix *Index) Invalidate() {
	ix.snap.Store(nil)
}

// CandidatesFor returns the field-scoped candidate pool.
func (ix *Index) CandidatesFor(ctx context.Context, fieldName string) ([]*types.RulePattern, error) {
	snap, err := ix.Current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.ByField[fieldName], nil
}

// AllCandidates returns the full matchable corpus.
func (ix *Index) AllCandidates(ctx context.Context) ([]*types.RulePattern, error) {
	snap, err := ix.Current(ctx)
	if err != nil {
		return nil, err
	}
	return snap.All, nil
}
