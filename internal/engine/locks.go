package engine

import (
	"errors"
	"sync"
)

// ErrRunInProgress is returned when a computation is requested for a symbol
// whose run lock is already held. Callers may retry later; requests are never
// queued silently.
var ErrRunInProgress = errors.New("run already in progress for symbol")

// LockRegistry provides per-symbol try-locks. Exactly one run per symbol may
// hold its lock; different symbols are independent.
type LockRegistry struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLockRegistry creates an empty registry.
func NewLockRegistry() *LockRegistry {
	return &LockRegistry{
		held: make(map[string]bool),
	}
}

// TryAcquire attempts to take the lock for a symbol without blocking.
func (r *LockRegistry) TryAcquire(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.held[symbol] {
		return false
	}
	r.held[symbol] = true
	return true
}

// Release frees the lock for a symbol.
func (r *LockRegistry) Release(symbol string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.held, symbol)
}

// Held reports whether the lock for a symbol is currently held.
func (r *LockRegistry) Held(symbol string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[symbol]
}
