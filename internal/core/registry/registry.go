// Package registry implements the bounded connection core shared by the
// control and overlay channels: a fixed-size slot table of peer records
// guarded by one mutex, with first-free-slot insertion and hard capacity
// rejection.
package registry

import (
	"sync"

	"roverlink/internal/core/domain"

	"go.uber.org/zap"
)

// Verdict is a ForEachLive callback's decision about the visited peer.
type Verdict int

const (
	// Keep leaves the slot untouched.
	Keep Verdict = iota
	// Evict closes the peer's handle and frees the slot before the scan
	// moves on. This is how both the liveness monitor and a dispatcher's
	// hard-send-error path reclaim capacity in a single locked pass.
	Evict
)

// Registry is a fixed-capacity table of peer connections. Capacity never
// grows; a full table rejects inserts rather than queueing or displacing a
// live peer. All methods are safe for concurrent use. The lock is held only
// across in-memory slot scans and the caller's non-blocking socket calls,
// never across blocking I/O.
type Registry struct {
	mu    sync.Mutex
	slots []domain.Peer
	log   *zap.SugaredLogger
}

func New(capacity int, log *zap.SugaredLogger) *Registry {
	return &Registry{
		slots: make([]domain.Peer, capacity),
		log:   log,
	}
}

// Insert places a new peer into the first free slot and returns its index.
// A full table returns domain.ErrRegistryFull; the caller must close the
// connection immediately.
func (r *Registry) Insert(h domain.Handle, remoteAddr string) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if !r.slots[i].Connected {
			r.slots[i] = domain.Peer{Handle: h, Connected: true, RemoteAddr: remoteAddr}
			r.log.Infow("peer registered", "slot", i, "remote_addr", remoteAddr)
			return i, nil
		}
	}
	return -1, domain.ErrRegistryFull
}

// Remove closes the peer in the given slot and frees it. Removing an
// already-free or out-of-range slot is a no-op, so the handle is closed at
// most once no matter how many paths race to evict the same peer.
func (r *Registry) Remove(slot int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.evictLocked(slot)
}

// ForEachLive invokes f on every connected peer in table order under the
// registry lock. Returning Evict closes and frees that slot in place. f must
// restrict itself to non-blocking calls; a slow peer must not be able to
// stall the scan.
func (r *Registry) ForEachLive(f func(slot int, p *domain.Peer) Verdict) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i := range r.slots {
		if !r.slots[i].Connected {
			continue
		}
		if f(i, &r.slots[i]) == Evict {
			r.evictLocked(i)
		}
	}
}

// Count returns the number of live peers.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for i := range r.slots {
		if r.slots[i].Connected {
			n++
		}
	}
	return n
}

// Capacity returns the fixed slot count.
func (r *Registry) Capacity() int {
	return len(r.slots)
}

func (r *Registry) evictLocked(slot int) {
	if slot < 0 || slot >= len(r.slots) || !r.slots[slot].Connected {
		return
	}
	if h := r.slots[slot].Handle; h != nil {
		if err := h.Close(); err != nil {
			r.log.Debugw("peer close failed", "slot", slot, "error", err)
		}
	}
	r.log.Infow("peer evicted", "slot", slot, "remote_addr", r.slots[slot].RemoteAddr)
	r.slots[slot] = domain.Peer{}
}
