package subscription

import (
	"sync"
	"time"
)

// Revocations records subscriptions deleted while a propagation cycle may
// still hold them in memory.
type Revocations struct {
	mu  sync.RWMutex
	ids map[string]time.Time
	now func() time.Time
}

func NewRevocations() *Revocations {
	return &Revocations{ids: make(map[string]time.Time), now: time.Now}
}

func (r *Revocations) Revoke(id string) {
	r.mu.Lock()
	r.ids[id] = r.now()
	r.mu.Unlock()
}

func (r *Revocations) IsRevoked(id string) bool {
	r.mu.RLock()
	_, ok := r.ids[id]
	r.mu.RUnlock()
	return ok
}

// Prune drops entries older than maxAge. Deleted rows never reappear in
// ListTargets, so old entries serve no purpose.
func (r *Revocations) Prune(maxAge time.Duration) int {
	cutoff := r.now().Add(-maxAge)

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, at := range r.ids {
		if at.Before(cutoff) {
			delete(r.ids, id)
			removed++
		}
	}
	return removed
}
