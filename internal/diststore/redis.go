// Package diststore implements the distributed, Redis-backed frontier
// used when config.CrawlConfig.Distributed is set: multiple worker
// processes share one frontier, visited set, and per-host state
// instead of each holding its own in-process copy.
package diststore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/deepharvest/crawler/internal/frontier"
	"github.com/deepharvest/crawler/internal/logging"
)

// connectionTimeout bounds the initial ping used to verify the Redis
// connection at construction time.
const connectionTimeout = 5 * time.Second

// ErrEmptyAddress is returned when no Redis URL is configured.
var ErrEmptyAddress = errors.New("diststore: redis url is required")

// Config configures a Store.
type Config struct {
	RedisURL     string
	ShardCount   int
	LeaseTimeout time.Duration
}

// NewClient dials Redis and verifies connectivity with a bounded ping,
// the same pattern the rest of this codebase's lineage uses for its
// own Redis client.
func NewClient(redisURL string) (*redis.Client, error) {
	if redisURL == "" {
		return nil, ErrEmptyAddress
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("diststore: parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("diststore: redis ping failed: %w", err)
	}

	return client, nil
}

// Store is a Redis-backed frontier.Frontier. Keys follow the
// distributed store layout: frontier:shard:{i} (sorted set), visited
// (set), visited:bloom (bitmap), lease:{id} (hash with TTL), stats
// (hash), hoststate:{host} (hash).
type Store struct {
	client *redis.Client
	shards int
	lease  time.Duration
	log    logging.Logger

	// consecutiveFailures tracks unbroken Redis errors across public
	// calls. The orchestrator polls it to implement §7's store_error
	// escalation: three consecutive failures halt the crawl.
	consecutiveFailures atomic.Int64
}

// New wraps an already-connected client.
func New(client *redis.Client, cfg Config, log logging.Logger) *Store {
	shards := cfg.ShardCount
	if shards <= 0 {
		shards = 1
	}
	lease := cfg.LeaseTimeout
	if lease <= 0 {
		lease = 120 * time.Second
	}
	return &Store{client: client, shards: shards, lease: lease, log: log}
}

// entry is the JSON payload stored as a sorted-set member.
type entry struct {
	Seq int64 `json:"seq"`
	Rec frontier.URLRecord
}

func shardKey(i int) string        { return fmt.Sprintf("frontier:shard:%d", i) }
func leaseKey(id string) string    { return "lease:" + id }
func hostStateKey(h string) string { return "hoststate:" + h }

func (s *Store) shardFor(host string) int {
	if s.shards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(host))
	return int(h.Sum32() % uint32(s.shards))
}

// score combines priority and depth into a single ZSET score: higher
// priority sorts first (negated, since ZPOPMIN pops the lowest score),
// shallower depth breaks ties.
func score(priority float64, depth int) float64 {
	return -(priority * 1e6) + float64(depth)
}

// Admit inserts rec if its URL has not already been admitted. SADD's
// return value (1 = newly added) is the atomic check-and-set; no
// separate existence check is needed, so two workers racing on the
// same URL can never both admit it.
func (s *Store) Admit(rec frontier.URLRecord) bool {
	ctx := context.Background()

	added, err := s.client.SAdd(ctx, "visited", rec.URL).Result()
	if err != nil {
		s.warn("admit: sadd visited", err)
		return false
	}
	if added == 0 {
		return false
	}

	s.client.SetBit(ctx, "visited:bloom", bloomBit(rec.URL), 1)

	if rec.DiscoveredAt.IsZero() {
		rec.DiscoveredAt = time.Now()
	}
	seq, err := s.client.HIncrBy(ctx, "stats", "seq", 1).Result()
	if err != nil {
		s.warn("admit: incr seq", err)
	}

	payload, err := json.Marshal(entry{Seq: seq, Rec: rec})
	if err != nil {
		s.warn("admit: marshal", err)
		return false
	}

	shard := s.shardFor(rec.Host)
	if err := s.client.ZAdd(ctx, shardKey(shard), redis.Z{
		Score:  score(rec.Priority, rec.Depth),
		Member: payload,
	}).Err(); err != nil {
		s.warn("admit: zadd", err)
		return false
	}

	s.client.HIncrBy(ctx, "stats", "total_admitted", 1)
	s.consecutiveFailures.Store(0)
	return true
}

// Lease pops the highest-priority record of the first non-empty shard,
// scanning round-robin from a starting shard derived from workerID so
// workers don't all contend on shard 0. Priorities are not compared
// across shards.
func (s *Store) Lease(workerID string) (*frontier.Lease, bool) {
	ctx := context.Background()

	start := s.shardFor(workerID)
	for i := 0; i < s.shards; i++ {
		shard := (start + i) % s.shards
		results, err := s.client.ZPopMin(ctx, shardKey(shard), 1).Result()
		if err != nil {
			s.warn("lease: zpopmin", err)
			continue
		}
		if len(results) == 0 {
			continue
		}

		var e entry
		if err := json.Unmarshal([]byte(results[0].Member.(string)), &e); err != nil {
			s.warn("lease: unmarshal", err)
			continue
		}

		lease := &frontier.Lease{
			ID:       uuid.NewString(),
			Record:   e.Rec,
			Worker:   workerID,
			Deadline: time.Now().Add(s.lease),
		}
		leasePayload, _ := json.Marshal(lease)
		s.client.HSet(ctx, leaseKey(lease.ID), "data", leasePayload)
		s.client.Expire(ctx, leaseKey(lease.ID), s.lease)

		s.consecutiveFailures.Store(0)
		return lease, true
	}

	return nil, false
}

// Complete resolves a lease. OutcomeRetry re-enqueues the record into
// its shard with an incremented retry count; the other outcomes simply
// retire the lease, since the URL stays in the visited set either way.
func (s *Store) Complete(leaseID string, outcome frontier.Outcome) error {
	ctx := context.Background()

	data, err := s.client.HGet(ctx, leaseKey(leaseID), "data").Result()
	if err == redis.Nil {
		return frontier.ErrUnknownLease
	}
	if err != nil {
		return fmt.Errorf("diststore: complete: %w", err)
	}
	s.client.Del(ctx, leaseKey(leaseID))
	s.consecutiveFailures.Store(0)

	if outcome != frontier.OutcomeRetry {
		return nil
	}

	var lease frontier.Lease
	if err := json.Unmarshal([]byte(data), &lease); err != nil {
		return fmt.Errorf("diststore: complete: decode lease: %w", err)
	}

	rec := lease.Record
	rec.RetryCount++
	seq, _ := s.client.HIncrBy(ctx, "stats", "seq", 1).Result()
	payload, _ := json.Marshal(entry{Seq: seq, Rec: rec})

	shard := s.shardFor(rec.Host)
	return s.client.ZAdd(ctx, shardKey(shard), redis.Z{
		Score:  score(rec.Priority, rec.Depth),
		Member: payload,
	}).Err()
}

// Snapshot dumps the visited set and every shard's pending entries.
func (s *Store) Snapshot() frontier.Snapshot {
	ctx := context.Background()

	visited, err := s.client.SMembers(ctx, "visited").Result()
	if err != nil {
		s.warn("snapshot: smembers", err)
	}

	var pending []frontier.URLRecord
	for i := 0; i < s.shards; i++ {
		members, err := s.client.ZRange(ctx, shardKey(i), 0, -1).Result()
		if err != nil {
			s.warn("snapshot: zrange", err)
			continue
		}
		for _, m := range members {
			var e entry
			if err := json.Unmarshal([]byte(m), &e); err != nil {
				continue
			}
			pending = append(pending, e.Rec)
		}
	}

	return frontier.Snapshot{Visited: visited, Pending: pending}
}

// Restore replaces the store's state with snap.
func (s *Store) Restore(snap frontier.Snapshot) error {
	ctx := context.Background()

	s.client.Del(ctx, "visited", "visited:bloom")
	for i := 0; i < s.shards; i++ {
		s.client.Del(ctx, shardKey(i))
	}

	if len(snap.Visited) > 0 {
		members := make([]interface{}, len(snap.Visited))
		for i, u := range snap.Visited {
			members[i] = u
			s.client.SetBit(ctx, "visited:bloom", bloomBit(u), 1)
		}
		if err := s.client.SAdd(ctx, "visited", members...).Err(); err != nil {
			return fmt.Errorf("diststore: restore: sadd: %w", err)
		}
	}

	for i, rec := range snap.Pending {
		payload, err := json.Marshal(entry{Seq: int64(i), Rec: rec})
		if err != nil {
			continue
		}
		shard := s.shardFor(rec.Host)
		if err := s.client.ZAdd(ctx, shardKey(shard), redis.Z{
			Score:  score(rec.Priority, rec.Depth),
			Member: payload,
		}).Err(); err != nil {
			return fmt.Errorf("diststore: restore: zadd: %w", err)
		}
	}

	return nil
}

// Size returns the number of records currently queued across shards.
func (s *Store) Size() int {
	ctx := context.Background()
	var total int64
	for i := 0; i < s.shards; i++ {
		n, err := s.client.ZCard(ctx, shardKey(i)).Result()
		if err != nil {
			continue
		}
		total += n
	}
	return int(total)
}

// Stats returns current store counters.
func (s *Store) Stats() frontier.Stats {
	ctx := context.Background()

	visited, _ := s.client.SCard(ctx, "visited").Result()
	totalAdmitted, _ := s.client.HGet(ctx, "stats", "total_admitted").Int64()

	return frontier.Stats{
		Queued:        s.Size(),
		Visited:       int(visited),
		TotalAdmitted: int(totalAdmitted),
	}
}

// ProbablyVisited consults the visited bloom bitmap for a fast,
// possibly-false-positive pre-check before the authoritative SADD in
// Admit — cheap enough for callers to skip a round trip for URLs that
// are obviously new.
func (s *Store) ProbablyVisited(rawURL string) bool {
	ok, err := s.client.GetBit(context.Background(), "visited:bloom", bloomBit(rawURL)).Result()
	if err != nil {
		return false
	}
	return ok == 1
}

const bloomBits = 1 << 24 // 16M bits (~2MB), fixed-size bitmap per crawl

func bloomBit(rawURL string) int64 {
	h := fnv.New64a()
	h.Write([]byte(rawURL))
	return int64(h.Sum64() % bloomBits)
}

// HostState is the per-host scheduling state shared across distributed
// workers, mirroring what the in-process scheduler keeps locally in
// non-distributed mode.
type HostState struct {
	CurrentGapMillis int64
	ConsecutiveFails int
	BreakerOpen      bool
	LastFetchUnix    int64
}

// LoadHostState fetches the shared state for host, returning the zero
// value if none has been recorded yet.
func (s *Store) LoadHostState(host string) HostState {
	ctx := context.Background()
	vals, err := s.client.HGetAll(ctx, hostStateKey(host)).Result()
	if err != nil || len(vals) == 0 {
		return HostState{}
	}

	var hs HostState
	if v, ok := vals["gap_ms"]; ok {
		fmt.Sscanf(v, "%d", &hs.CurrentGapMillis)
	}
	if v, ok := vals["fails"]; ok {
		fmt.Sscanf(v, "%d", &hs.ConsecutiveFails)
	}
	if v, ok := vals["breaker_open"]; ok {
		hs.BreakerOpen = v == "1"
	}
	if v, ok := vals["last_fetch"]; ok {
		fmt.Sscanf(v, "%d", &hs.LastFetchUnix)
	}
	return hs
}

// SaveHostState writes the shared state for host so other workers
// observe the same politeness and breaker state.
func (s *Store) SaveHostState(host string, hs HostState) {
	ctx := context.Background()
	breakerOpen := "0"
	if hs.BreakerOpen {
		breakerOpen = "1"
	}
	s.client.HSet(ctx, hostStateKey(host), map[string]interface{}{
		"gap_ms":       hs.CurrentGapMillis,
		"fails":        hs.ConsecutiveFails,
		"breaker_open": breakerOpen,
		"last_fetch":   hs.LastFetchUnix,
	})
}

func (s *Store) warn(op string, err error) {
	s.consecutiveFailures.Add(1)
	if s.log != nil {
		s.log.Warn("diststore error", logging.String("op", op), logging.Err(err))
	}
}

// ConsecutiveStoreFailures reports the current unbroken run of Redis
// errors observed across Admit/Lease/Complete/Snapshot calls.
func (s *Store) ConsecutiveStoreFailures() int {
	return int(s.consecutiveFailures.Load())
}

var _ frontier.Frontier = (*Store)(nil)
