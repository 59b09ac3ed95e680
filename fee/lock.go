package fee

import (
	"context"
	"fmt"
	"sync"
)

// SubjectLocker serializes mutating operations on one subject. The returned
// unlock func must be called exactly once; calling it again is a no-op.
type SubjectLocker interface {
	Lock(ctx context.Context, id SubjectID) (unlock func(), err error)
}

// KeyedMutex is the in-process SubjectLocker. Locks for idle subjects are
// released so the map does not grow with the subject count.
type KeyedMutex struct {
	mu    sync.Mutex
	locks map[SubjectID]*keyedLock
}

type keyedLock struct {
	ch   chan struct{}
	refs int
}

func NewKeyedMutex() *KeyedMutex {
	return &KeyedMutex{locks: make(map[SubjectID]*keyedLock)}
}

func (k *KeyedMutex) Lock(ctx context.Context, id SubjectID) (func(), error) {
	k.mu.Lock()
	l, ok := k.locks[id]
	if !ok {
		l = &keyedLock{ch: make(chan struct{}, 1)}
		k.locks[id] = l
	}
	l.refs++
	k.mu.Unlock()

	select {
	case l.ch <- struct{}{}:
	case <-ctx.Done():
		k.release(id, l)
		return nil, fmt.Errorf("%w: subject %s: %v", ErrLockUnavailable, id, ctx.Err())
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-l.ch
			k.release(id, l)
		})
	}, nil
}

func (k *KeyedMutex) release(id SubjectID, l *keyedLock) {
	k.mu.Lock()
	defer k.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(k.locks, id)
	}
}
