// Package cache implements the entity cache in memory.
package cache

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/luciancaetano/kephasgate"
	"github.com/luciancaetano/kephasgate/entity"
)

var ErrUnknownKind = errors.New("cache: unknown entity kind")

var _ kephasgate.Cache = (*Memory)(nil)

// Memory is an in-memory cache. Each kind is guarded by its own lock;
// mutations hold it for the whole read-modify-write. Snapshots are cloned
// on the way in and out, so callers never share memory with the cache.
type Memory struct {
	stores map[entity.Kind]*store
}

type store struct {
	mu    sync.RWMutex
	items map[entity.Key]entity.Entity
}

// NewMemory creates an empty cache.
func NewMemory() *Memory {
	m := &Memory{stores: make(map[entity.Kind]*store, len(entity.Kinds))}
	for _, k := range entity.Kinds {
		m.stores[k] = &store{items: make(map[entity.Key]entity.Entity)}
	}
	return m
}

func (m *Memory) store(kind entity.Kind) (*store, error) {
	s, ok := m.stores[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownKind, kind)
	}
	return s, nil
}

// Len returns the number of cached snapshots of kind.
func (m *Memory) Len(kind entity.Kind) int {
	s, err := m.store(kind)
	if err != nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

func (m *Memory) Get(_ context.Context, kind entity.Kind, key entity.Key) (entity.Entity, bool, error) {
	s, err := m.store(kind)
	if err != nil {
		return nil, false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.items[key]
	if !ok {
		return nil, false, nil
	}
	return entity.Clone(e), true, nil
}

func (m *Memory) Query(_ context.Context, kind entity.Kind, match func(entity.Entity) bool) ([]entity.Entity, error) {
	s, err := m.store(kind)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []entity.Entity
	for _, e := range s.items {
		if match == nil || match(e) {
			out = append(out, entity.Clone(e))
		}
	}
	sortByKey(out)
	return out, nil
}

func (m *Memory) Put(_ context.Context, e entity.Entity) (entity.Change, error) {
	s, err := m.store(e.Kind())
	if err != nil {
		return entity.Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old := s.items[e.Key()]
	s.items[e.Key()] = entity.Clone(e)
	return entity.Change{Old: old, New: e}, nil
}

func (m *Memory) PutAll(ctx context.Context, es []entity.Entity) error {
	for _, e := range es {
		if _, err := m.Put(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) Update(_ context.Context, kind entity.Kind, match func(entity.Entity) bool, merge func(entity.Entity) entity.Entity) ([]entity.Change, error) {
	s, err := m.store(kind)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var changes []entity.Change
	for key, old := range s.items {
		if match != nil && !match(old) {
			continue
		}
		updated := merge(entity.Clone(old))
		if updated == nil {
			delete(s.items, key)
		} else {
			s.items[key] = entity.Clone(updated)
		}
		changes = append(changes, entity.Change{Old: old, New: updated})
	}
	slices.SortFunc(changes, func(a, b entity.Change) int { return compareKeys(a.Old.Key(), b.Old.Key()) })
	return changes, nil
}

func (m *Memory) UpdateKey(_ context.Context, kind entity.Kind, key entity.Key, merge func(entity.Entity) entity.Entity) (entity.Change, error) {
	s, err := m.store(kind)
	if err != nil {
		return entity.Change{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.items[key]
	var updated entity.Entity
	if ok {
		updated = merge(entity.Clone(old))
	} else {
		updated = merge(nil)
	}
	if updated == nil {
		delete(s.items, key)
	} else {
		if updated.Kind() != kind || updated.Key() != key {
			return entity.Change{}, fmt.Errorf("cache: merge moved %s %v to %s %v", kind, key, updated.Kind(), updated.Key())
		}
		s.items[key] = entity.Clone(updated)
	}
	return entity.Change{Old: old, New: updated}, nil
}

func (m *Memory) Remove(_ context.Context, kind entity.Kind, match func(entity.Entity) bool) ([]entity.Entity, error) {
	s, err := m.store(kind)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []entity.Entity
	for key, e := range s.items {
		if match == nil || match(e) {
			removed = append(removed, e)
			delete(s.items, key)
		}
	}
	sortByKey(removed)
	return removed, nil
}

func sortByKey(es []entity.Entity) {
	slices.SortFunc(es, func(a, b entity.Entity) int { return compareKeys(a.Key(), b.Key()) })
}

func compareKeys(a, b entity.Key) int {
	return cmp.Or(
		cmp.Compare(a.Parent, b.Parent),
		cmp.Compare(a.ID, b.ID),
		cmp.Compare(a.Code, b.Code),
	)
}
