package diststore_test

import (
	"os"
	"testing"
	"time"

	"github.com/deepharvest/crawler/internal/diststore"
	"github.com/deepharvest/crawler/internal/frontier"
	"github.com/deepharvest/crawler/internal/logging"
)

func TestNewClient_EmptyURLErrors(t *testing.T) {
	_, err := diststore.NewClient("")
	if err == nil {
		t.Fatal("expected error for empty redis url")
	}
	if err != diststore.ErrEmptyAddress {
		t.Errorf("expected ErrEmptyAddress, got %v", err)
	}
}

func TestNewClient_UnreachableHostErrors(t *testing.T) {
	_, err := diststore.NewClient("redis://127.0.0.1:1/0")
	if err == nil {
		t.Fatal("expected error connecting to an unreachable redis")
	}
}

// redisURLForTest returns a connectable Redis URL, skipping the test
// when none is available (matching this suite's integration tests
// against a local Redis instance).
func redisURLForTest(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping redis integration test in short mode")
	}
	url := os.Getenv("DEEPHARVEST_TEST_REDIS_URL")
	if url == "" {
		url = "redis://127.0.0.1:6379/0"
	}
	client, err := diststore.NewClient(url)
	if err != nil {
		t.Skipf("no reachable redis at %s, skipping: %v", url, err)
	}
	client.Close()
	return url
}

func newTestStore(t *testing.T) *diststore.Store {
	t.Helper()
	url := redisURLForTest(t)
	client, err := diststore.NewClient(url)
	if err != nil {
		t.Fatalf("unexpected error connecting to redis: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	store := diststore.New(client, diststore.Config{
		ShardCount:   4,
		LeaseTimeout: 5 * time.Second,
	}, logging.Nop())

	// Start each test from a clean slate.
	if err := store.Restore(frontier.Snapshot{}); err != nil {
		t.Fatalf("unexpected error resetting store: %v", err)
	}
	return store
}

func TestStore_AdmitRejectsDuplicateURL(t *testing.T) {
	store := newTestStore(t)

	rec := frontier.URLRecord{URL: "https://example.com/a", Host: "example.com"}
	if !store.Admit(rec) {
		t.Fatal("expected first admit to succeed")
	}
	if store.Admit(rec) {
		t.Error("expected second admit of the same URL to be rejected")
	}
}

func TestStore_LeaseReturnsAdmittedRecord(t *testing.T) {
	store := newTestStore(t)

	rec := frontier.URLRecord{URL: "https://example.com/b", Host: "example.com", Depth: 1}
	if !store.Admit(rec) {
		t.Fatal("expected admit to succeed")
	}

	lease, ok := store.Lease("worker-1")
	if !ok {
		t.Fatal("expected a lease to be available")
	}
	if lease.Record.URL != rec.URL {
		t.Errorf("expected leased record %q, got %q", rec.URL, lease.Record.URL)
	}
	if lease.Worker != "worker-1" {
		t.Errorf("expected lease worker 'worker-1', got %q", lease.Worker)
	}
}

func TestStore_LeaseOnEmptyQueueReturnsFalse(t *testing.T) {
	store := newTestStore(t)

	if _, ok := store.Lease("worker-1"); ok {
		t.Error("expected no lease from an empty queue")
	}
}

func TestStore_CompleteUnknownLeaseErrors(t *testing.T) {
	store := newTestStore(t)

	err := store.Complete("not-a-real-lease-id", frontier.OutcomeSucceeded)
	if err != frontier.ErrUnknownLease {
		t.Errorf("expected ErrUnknownLease, got %v", err)
	}
}

func TestStore_CompleteRetryReenqueuesRecord(t *testing.T) {
	store := newTestStore(t)

	rec := frontier.URLRecord{URL: "https://example.com/c", Host: "example.com"}
	store.Admit(rec)
	lease, ok := store.Lease("worker-1")
	if !ok {
		t.Fatal("expected a lease")
	}

	if err := store.Complete(lease.ID, frontier.OutcomeRetry); err != nil {
		t.Fatalf("unexpected error completing with retry: %v", err)
	}

	lease2, ok := store.Lease("worker-1")
	if !ok {
		t.Fatal("expected the retried record to be leasable again")
	}
	if lease2.Record.URL != rec.URL {
		t.Errorf("expected retried record %q back, got %q", rec.URL, lease2.Record.URL)
	}
	if lease2.Record.RetryCount != 1 {
		t.Errorf("expected retry count 1, got %d", lease2.Record.RetryCount)
	}
}

func TestStore_ConsecutiveStoreFailuresResetsOnSuccess(t *testing.T) {
	store := newTestStore(t)

	if got := store.ConsecutiveStoreFailures(); got != 0 {
		t.Fatalf("expected zero consecutive failures on a fresh store, got %d", got)
	}

	rec := frontier.URLRecord{URL: "https://example.com/d", Host: "example.com"}
	if !store.Admit(rec) {
		t.Fatal("expected admit to succeed")
	}
	if got := store.ConsecutiveStoreFailures(); got != 0 {
		t.Errorf("expected a successful Admit to keep the failure count at 0, got %d", got)
	}
}

func TestStore_SnapshotRestoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	recs := []frontier.URLRecord{
		{URL: "https://example.com/e", Host: "example.com", Depth: 0},
		{URL: "https://example.com/f", Host: "example.com", Depth: 1},
	}
	for _, r := range recs {
		if !store.Admit(r) {
			t.Fatalf("expected admit of %s to succeed", r.URL)
		}
	}

	snap := store.Snapshot()
	if len(snap.Visited) != 2 {
		t.Errorf("expected 2 visited URLs in snapshot, got %d", len(snap.Visited))
	}
	if len(snap.Pending) != 2 {
		t.Errorf("expected 2 pending records in snapshot, got %d", len(snap.Pending))
	}

	other := newTestStore(t)
	if err := other.Restore(snap); err != nil {
		t.Fatalf("unexpected error restoring snapshot: %v", err)
	}
	if other.Size() != 2 {
		t.Errorf("expected restored store to queue 2 records, got %d", other.Size())
	}
}

func TestStore_LoadHostStateDefaultsToZeroValue(t *testing.T) {
	store := newTestStore(t)

	hs := store.LoadHostState("never-seen.example.com")
	if hs != (diststore.HostState{}) {
		t.Errorf("expected zero-value HostState for an unseen host, got %+v", hs)
	}
}

func TestStore_SaveAndLoadHostStateRoundTrip(t *testing.T) {
	store := newTestStore(t)

	want := diststore.HostState{
		CurrentGapMillis: 1500,
		ConsecutiveFails: 2,
		BreakerOpen:      true,
		LastFetchUnix:    1700000000,
	}
	store.SaveHostState("example.com", want)

	got := store.LoadHostState("example.com")
	if got != want {
		t.Errorf("expected %+v, got %+v", want, got)
	}
}
