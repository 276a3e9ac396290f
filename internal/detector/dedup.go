package detector

import "sync"

// DefaultDedupCapacity is the number of trade IDs remembered by default.
const DefaultDedupCapacity = 10000

// Deduplicator remembers recently seen trade IDs in bounded memory.
//
// IDs are kept in a fixed ring plus a membership set. When the ring is
// full, the oldest tenth is evicted in one batch, so an evicted ID may be
// admitted again later.
type Deduplicator struct {
	mu    sync.Mutex
	seen  map[string]struct{}
	ring  []string
	head  int // index of the oldest entry
	count int
	batch int
}

// NewDeduplicator creates a deduplicator holding at most capacity IDs.
func NewDeduplicator(capacity int) *Deduplicator {
	if capacity < 1 {
		capacity = DefaultDedupCapacity
	}
	batch := capacity / 10
	if batch < 1 {
		batch = 1
	}
	return &Deduplicator{
		seen:  make(map[string]struct{}, capacity),
		ring:  make([]string, capacity),
		batch: batch,
	}
}

// Admit returns true the first time id is seen and records it.
func (d *Deduplicator) Admit(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false
	}

	if d.count == len(d.ring) {
		d.evict()
	}

	tail := (d.head + d.count) % len(d.ring)
	d.ring[tail] = id
	d.seen[id] = struct{}{}
	d.count++
	return true
}

// evict drops the oldest batch. Must be called with lock held.
func (d *Deduplicator) evict() {
	for i := 0; i < d.batch && d.count > 0; i++ {
		delete(d.seen, d.ring[d.head])
		d.ring[d.head] = ""
		d.head = (d.head + 1) % len(d.ring)
		d.count--
	}
}

// Len returns the number of remembered IDs.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.count
}
