// Package lock serializes work per key, typically per chat sender.
package lock

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrTimeout is returned when ctx ends before the lock is acquired.
var ErrTimeout = errors.New("lock: timed out waiting for key")

// Locker grants exclusive access to a key. The returned func releases it and
// is safe to call once.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

// Keyed is an in-process Locker. Entries live only while held or awaited.
type Keyed struct {
	mu    sync.Mutex
	byKey map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

// NewKeyed builds an in-process per-key lock table.
func NewKeyed() *Keyed {
	return &Keyed{byKey: make(map[string]*slot)}
}

// Lock implements Locker.
func (k *Keyed) Lock(ctx context.Context, key string) (func(), error) {
	key = strings.TrimSpace(key)

	k.mu.Lock()
	s, ok := k.byKey[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		k.byKey[key] = s
	}
	s.refs++
	k.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(key, s)
		return nil, ErrTimeout
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-s.ch
			k.release(key, s)
		})
	}, nil
}

func (k *Keyed) release(key string, s *slot) {
	k.mu.Lock()
	defer k.mu.Unlock()
	s.refs--
	if s.refs == 0 {
		delete(k.byKey, key)
	}
}

// Len reports how many keys are held or awaited.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.byKey)
}
