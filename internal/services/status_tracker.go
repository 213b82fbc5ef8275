package services

import (
	"sync"

	"github.com/tbourn/go-chat-delivery/internal/domain"
)

// StatusTracker is the in-memory map from message id to delivery status.
//
// It is a display cache, not a source of truth: the orchestrator updates it
// as a side effect of each lifecycle step, and it is rebuilt from scratch
// after a restart (queued message ids come back as failed, everything else
// is forgotten). It is never persisted.
//
// Safe for concurrent use.
type StatusTracker struct {
	mu sync.RWMutex
	m  map[string]domain.DeliveryStatus
}

// NewStatusTracker returns an empty tracker ready for use.
func NewStatusTracker() *StatusTracker {
	return &StatusTracker{m: make(map[string]domain.DeliveryStatus)}
}

// Set records (or overwrites) the status for a message id.
func (t *StatusTracker) Set(id string, s domain.DeliveryStatus) {
	t.mu.Lock()
	t.m[id] = s
	t.mu.Unlock()
}

// Get returns the status for id. ok is false for unknown ids, which
// consumers treat as "no special status".
func (t *StatusTracker) Get(id string) (s domain.DeliveryStatus, ok bool) {
	t.mu.RLock()
	s, ok = t.m[id]
	t.mu.RUnlock()
	return s, ok
}

// Forget removes the entry for id, if any.
func (t *StatusTracker) Forget(id string) {
	t.mu.Lock()
	delete(t.m, id)
	t.mu.Unlock()
}

// Len reports how many entries are currently tracked.
func (t *StatusTracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
