package lock

import (
	"context"
	"sync"

	"gorm.io/gorm"
)

// MemoryLocker serializes callers within one process. Used by tests and single
// node deployments on SQLite.
type MemoryLocker struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
	opts  Options
}

func NewMemoryLocker(opts Options) *MemoryLocker {
	return &MemoryLocker{slots: make(map[string]chan struct{}), opts: opts.withDefaults()}
}

func (l *MemoryLocker) slot(contractID string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[contractID]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[contractID] = ch
	}
	return ch
}

func (l *MemoryLocker) Lock(ctx context.Context, _ *gorm.DB, contractID string) (func(), error) {
	ch := l.slot(contractID)
	err := poll(ctx, l.opts, contractID, func() (bool, error) {
		select {
		case ch <- struct{}{}:
			return true, nil
		default:
			return false, nil
		}
	})
	if err != nil {
		return nil, err
	}
	var once sync.Once
	return func() { once.Do(func() { <-ch }) }, nil
}
