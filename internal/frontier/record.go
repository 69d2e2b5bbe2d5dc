package frontier

import "time"

// URLRecord is one URL known to the crawl: its canonical form, where
// it was discovered, and its place in the priority ordering.
type URLRecord struct {
	URL          string
	Host         string
	Depth        int
	Priority     float64
	ParentURL    string
	DiscoveredAt time.Time
	RetryCount   int
	ScheduledAt  time.Time // zero unless deferred by retry backoff
}

// CanCrawl reports whether a retry-scheduled record is ready to be
// leased again.
func (r *URLRecord) CanCrawl() bool {
	return r.ScheduledAt.IsZero() || !time.Now().Before(r.ScheduledAt)
}

// Outcome classifies how a leased URL's fetch concluded, reported back
// to Frontier.Complete.
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeFailed
	OutcomeRetry
)

// Lease is a temporary assignment of a URLRecord to a worker.
type Lease struct {
	ID       string
	Record   URLRecord
	Worker   string
	Deadline time.Time
}
