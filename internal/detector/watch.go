package detector

import (
	"sort"
	"strings"
	"sync"
	"time"
)

// WalletWatch is the bounded set of wallets scanned by the position tracker.
// Pinned wallets come from configuration and are never evicted; discovered
// wallets are added from whale trades and the least recently seen one is
// evicted when the set is full.
type WalletWatch struct {
	mu       sync.RWMutex
	pinned   map[string]struct{}
	lastSeen map[string]time.Time
	max      int
	now      func() time.Time
}

// NewWalletWatch creates a watch set with the pinned wallets and room for
// max discovered ones.
func NewWalletWatch(pinned []string, max int) *WalletWatch {
	w := &WalletWatch{
		pinned:   make(map[string]struct{}, len(pinned)),
		lastSeen: make(map[string]time.Time),
		max:      max,
		now:      time.Now,
	}
	for _, addr := range pinned {
		if addr = strings.ToLower(strings.TrimSpace(addr)); addr != "" {
			w.pinned[addr] = struct{}{}
		}
	}
	return w
}

// Record marks a wallet as seen and reports whether it was newly added.
func (w *WalletWatch) Record(addr string) bool {
	addr = strings.ToLower(addr)
	if addr == "" || w.max <= 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, ok := w.pinned[addr]; ok {
		return false
	}

	_, exists := w.lastSeen[addr]
	if !exists && len(w.lastSeen) >= w.max {
		w.evictOldest()
	}
	w.lastSeen[addr] = w.now()
	return !exists
}

// evictOldest removes the least recently seen wallet. Must be called with lock held.
func (w *WalletWatch) evictOldest() {
	var oldest string
	var oldestAt time.Time
	for addr, at := range w.lastSeen {
		if oldest == "" || at.Before(oldestAt) {
			oldest, oldestAt = addr, at
		}
	}
	delete(w.lastSeen, oldest)
}

// Wallets returns pinned and discovered wallets in a stable order.
func (w *WalletWatch) Wallets() []string {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := make([]string, 0, len(w.pinned)+len(w.lastSeen))
	for addr := range w.pinned {
		out = append(out, addr)
	}
	for addr := range w.lastSeen {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Len returns the number of watched wallets.
func (w *WalletWatch) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.pinned) + len(w.lastSeen)
}

// Cleanup removes discovered wallets not seen within maxAge.
// Should be called periodically to keep the scan list fresh.
func (w *WalletWatch) Cleanup(maxAge time.Duration) int {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-maxAge)
	removed := 0
	for addr, at := range w.lastSeen {
		if at.Before(cutoff) {
			delete(w.lastSeen, addr)
			removed++
		}
	}
	return removed
}
