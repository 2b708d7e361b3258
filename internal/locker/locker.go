// Package locker serializes work per key. Sessions use it as their mutual
// exclusion boundary: operations on one session run one at a time while
// different sessions proceed in parallel.
package locker

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var ErrEmptyKey = errors.New("locker: key is required")

type Keyed struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	sem  chan struct{}
	refs int
}

func New() *Keyed {
	return &Keyed{slots: make(map[string]*slot)}
}

// Lock blocks until the key is free or ctx is done. The returned release
// function must be called exactly once.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrEmptyKey
	}
	s := k.acquireSlot(key)
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		k.releaseSlot(key, s)
		return nil, ctx.Err()
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.sem
			k.releaseSlot(key, s)
		})
	}, nil
}

// Held reports how many callers currently hold or wait for key.
func (k *Keyed) Held(key string) int {
	k.mu.Lock()
	defer k.mu.Unlock()
	if s, ok := k.slots[key]; ok {
		return s.refs
	}
	return 0
}

func (k *Keyed) acquireSlot(key string) *slot {
	k.mu.Lock()
	defer k.mu.Unlock()
	s, ok := k.slots[key]
	if !ok {
		s = &slot{sem: make(chan struct{}, 1)}
		k.slots[key] = s
	}
	s.refs++
	return s
}

func (k *Keyed) releaseSlot(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.slots, key)
	}
}
