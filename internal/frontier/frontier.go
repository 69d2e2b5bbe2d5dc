// Package frontier implements the URL frontier: a priority queue of
// pending URLs with lease-based dispatch and atomic admission.
package frontier

import (
	"container/heap"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Frontier is the operation set every frontier implementation (local
// or distributed) exposes to the scheduler.
type Frontier interface {
	Admit(rec URLRecord) bool
	Lease(workerID string) (*Lease, bool)
	Complete(leaseID string, outcome Outcome) error
	Snapshot() Snapshot
	Restore(snap Snapshot) error
	Size() int
	Stats() Stats
}

// Stats summarizes frontier occupancy.
type Stats struct {
	Queued     int
	Visited    int
	Leased     int
	TotalAdmitted int
	Duplicates int
}

// Snapshot is a consistent point-in-time view of the frontier's
// visited set and pending entries, used by the checkpointer.
type Snapshot struct {
	Visited []string
	Pending []URLRecord
}

type heapItem struct {
	record URLRecord
	seq    int64
	index  int
}

type recordHeap []*heapItem

func (h recordHeap) Len() int { return len(h) }
func (h recordHeap) Less(i, j int) bool {
	a, b := h[i].record, h[j].record
	if a.Priority != b.Priority {
		return a.Priority > b.Priority // higher priority first
	}
	if a.Depth != b.Depth {
		return a.Depth < b.Depth // shallower first
	}
	return h[i].seq < h[j].seq // FIFO on ties
}
func (h recordHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}
func (h *recordHeap) Push(x any) {
	item := x.(*heapItem)
	item.index = len(*h)
	*h = append(*h, item)
}
func (h *recordHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[:n-1]
	return item
}

// LocalFrontier is the in-process, heap-backed Frontier used outside
// distributed mode. One per crawl; safe for concurrent callers.
type LocalFrontier struct {
	mu sync.Mutex

	pq      recordHeap
	visited map[string]struct{}
	leases  map[string]*Lease
	nextSeq int64

	leaseTimeout time.Duration

	totalAdmitted int
	duplicates    int
}

// NewLocalFrontier creates an empty LocalFrontier.
func NewLocalFrontier(leaseTimeout time.Duration) *LocalFrontier {
	if leaseTimeout <= 0 {
		leaseTimeout = 120 * time.Second
	}
	f := &LocalFrontier{
		visited:      make(map[string]struct{}),
		leases:       make(map[string]*Lease),
		leaseTimeout: leaseTimeout,
	}
	heap.Init(&f.pq)
	return f
}

// Admit inserts rec if its URL has not already been admitted. The
// visited-set insert and the heap push happen under the same lock, so
// two callers racing on the same canonical URL can never both admit it.
func (f *LocalFrontier) Admit(rec URLRecord) bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, dup := f.visited[rec.URL]; dup {
		f.duplicates++
		return false
	}

	if rec.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = time.Now()
	}

	f.visited[rec.URL] = struct{}{}
	heap.Push(&f.pq, &heapItem{record: rec, seq: f.nextSeq})
	f.nextSeq++
	f.totalAdmitted++

	return true
}

// Lease pops the highest-priority queued record and assigns it to
// workerID for up to the configured lease timeout. ScheduledAt is not
// consulted, so a record re-queued by OutcomeRetry can be leased again
// at once.
func (f *LocalFrontier) Lease(workerID string) (*Lease, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.reapExpiredLocked()

	if f.pq.Len() == 0 {
		return nil, false
	}

	item := heap.Pop(&f.pq).(*heapItem)
	lease := &Lease{
		ID:       uuid.NewString(),
		Record:   item.record,
		Worker:   workerID,
		Deadline: time.Now().Add(f.leaseTimeout),
	}
	f.leases[lease.ID] = lease

	return lease, true
}

// Complete resolves a lease. OutcomeSucceeded and OutcomeFailed both
// retire the lease terminally; OutcomeRetry re-admits the record with
// an incremented retry count, bypassing the visited check (the URL is
// already visited).
func (f *LocalFrontier) Complete(leaseID string, outcome Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	lease, ok := f.leases[leaseID]
	if !ok {
		return ErrUnknownLease
	}
	delete(f.leases, leaseID)

	if outcome == OutcomeRetry {
		rec := lease.Record
		rec.RetryCount++
		rec.ScheduledAt = time.Now().Add(backoffFor(rec.RetryCount))
		heap.Push(&f.pq, &heapItem{record: rec, seq: f.nextSeq})
		f.nextSeq++
	}

	return nil
}

func backoffFor(retryCount int) time.Duration {
	d := time.Second * time.Duration(1<<uint(retryCount))
	cap := 30 * time.Second
	if d > cap {
		d = cap
	}
	return d
}

// reapExpiredLocked re-admits leases past their deadline with an
// incremented retry count. Caller must hold f.mu.
func (f *LocalFrontier) reapExpiredLocked() {
	now := time.Now()
	for id, lease := range f.leases {
		if now.Before(lease.Deadline) {
			continue
		}
		delete(f.leases, id)
		rec := lease.Record
		rec.RetryCount++
		heap.Push(&f.pq, &heapItem{record: rec, seq: f.nextSeq})
		f.nextSeq++
	}
}

// Snapshot returns a consistent copy of visited URLs and pending
// records for the checkpointer.
func (f *LocalFrontier) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	visited := make([]string, 0, len(f.visited))
	for u := range f.visited {
		visited = append(visited, u)
	}

	pending := make([]URLRecord, 0, f.pq.Len())
	for _, item := range f.pq {
		pending = append(pending, item.record)
	}
	for _, lease := range f.leases {
		pending = append(pending, lease.Record)
	}

	return Snapshot{Visited: visited, Pending: pending}
}

// Restore replaces the frontier's state with snap. Any existing state
// is discarded.
func (f *LocalFrontier) Restore(snap Snapshot) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.visited = make(map[string]struct{}, len(snap.Visited))
	for _, u := range snap.Visited {
		f.visited[u] = struct{}{}
	}

	f.pq = nil
	heap.Init(&f.pq)
	f.nextSeq = 0
	for _, rec := range snap.Pending {
		heap.Push(&f.pq, &heapItem{record: rec, seq: f.nextSeq})
		f.nextSeq++
		f.visited[rec.URL] = struct{}{}
	}

	f.leases = make(map[string]*Lease)

	return nil
}

// Size returns the number of records currently queued (not leased).
func (f *LocalFrontier) Size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pq.Len()
}

// Stats returns current frontier counters.
func (f *LocalFrontier) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()

	return Stats{
		Queued:        f.pq.Len(),
		Visited:       len(f.visited),
		Leased:        len(f.leases),
		TotalAdmitted: f.totalAdmitted,
		Duplicates:    f.duplicates,
	}
}
