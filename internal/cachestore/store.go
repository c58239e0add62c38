// Package cachestore implements the hierarchical Redis cache store from
// spec §4.2: JSON get/set/del, cursor-based pattern deletion, and per-type
// statistics. It is built on github.com/redis/go-redis/v9, the same client
// evalgo-org-eve/db/repository/redis.go uses for its CacheRepository.
//
// Every operation swallows its own failures into the return value (spec
// §4.2(a)'s "graceful degradation" contract) - a cache fault must never
// propagate up and break the correctness of a read/write path that happens
// to also touch the cache.
package cachestore

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jakekausler/campaign-manager/internal/logging"
)

const scanBatchSize = 100

// Store wraps a Redis client with the get/set/del/delPattern/stats surface
// spec §4.2 names.
type Store struct {
	client      *redis.Client
	keyPrefix   string // transparently prepended to every key, per §4.2(c)
	defaultTTL  time.Duration
	statsEnabled bool

	mu         sync.Mutex
	stats      map[string]*prefixStats
	startTime  time.Time

	resetTicker *time.Ticker
	stopReset   chan struct{}
}

type prefixStats struct {
	Hits, Misses, Sets, Invalidations, CascadeInvalidations int64
}

// Config configures a new Store.
type Config struct {
	Client       *redis.Client
	KeyPrefix    string // e.g. "cache" - namespaces every key (§6)
	DefaultTTL   time.Duration
	StatsEnabled bool
	ResetPeriod  time.Duration // 0 disables the auto-reset timer
}

func New(cfg Config) *Store {
	s := &Store{
		client:       cfg.Client,
		keyPrefix:    cfg.KeyPrefix,
		defaultTTL:   cfg.DefaultTTL,
		statsEnabled: cfg.StatsEnabled,
		stats:        make(map[string]*prefixStats),
		startTime:    time.Now(),
		stopReset:    make(chan struct{}),
	}
	if cfg.ResetPeriod > 0 {
		s.resetTicker = time.NewTicker(cfg.ResetPeriod)
		go s.runAutoReset()
	}
	return s
}

func (s *Store) runAutoReset() {
	for {
		select {
		case <-s.resetTicker.C:
			s.ResetStats()
		case <-s.stopReset:
			return
		}
	}
}

// Close stops the auto-reset timer, if any. Process lifecycle hooks should
// call this on shutdown (spec §9 "global mutable state").
func (s *Store) Close() {
	if s.resetTicker != nil {
		s.resetTicker.Stop()
		close(s.stopReset)
	}
}

func (s *Store) namespaced(key string) string {
	if s.keyPrefix == "" {
		return key
	}
	return s.keyPrefix + ":" + key
}

func prefixOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[:i]
	}
	return key
}

func (s *Store) bump(key string, f func(*prefixStats)) {
	if !s.statsEnabled {
		return
	}
	p := prefixOf(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.stats[p]
	if !ok {
		st = &prefixStats{}
		s.stats[p] = st
	}
	f(st)
}

// Get reports the decoded value for key, or absent (false) on miss or
// error - a Redis fault degrades to a miss rather than propagating.
func (s *Store) Get(ctx context.Context, key string, out interface{}) (found bool) {
	data, err := s.client.Get(ctx, s.namespaced(key)).Bytes()
	if err != nil {
		s.bump(key, func(p *prefixStats) { p.Misses++ })
		return false
	}
	if err := json.Unmarshal(data, out); err != nil {
		s.bump(key, func(p *prefixStats) { p.Misses++ })
		return false
	}
	s.bump(key, func(p *prefixStats) { p.Hits++ })
	return true
}

// Set stores value JSON-encoded with a TTL (0 uses the store's default).
// Errors are logged, never returned, per §4.2(a).
func (s *Store) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) {
	if ttl <= 0 {
		ttl = s.defaultTTL
	}
	data, err := json.Marshal(value)
	if err != nil {
		logging.WithComponent("cachestore").WithError(err).Warn("set: marshal failed")
		return
	}
	if err := s.client.Set(ctx, s.namespaced(key), data, ttl).Err(); err != nil {
		logging.WithComponent("cachestore").WithError(err).Debug("set: redis error")
		return
	}
	s.bump(key, func(p *prefixStats) { p.Sets++ })
}

// Del deletes key and returns how many keys were removed (0 on error).
func (s *Store) Del(ctx context.Context, key string) int {
	n, err := s.client.Del(ctx, s.namespaced(key)).Result()
	if err != nil {
		return 0
	}
	if n > 0 {
		s.bump(key, func(p *prefixStats) { p.Invalidations++ })
	}
	return int(n)
}

// DeletePatternResult is delPattern's return shape from spec §4.2.
type DeletePatternResult struct {
	OK          bool
	KeysDeleted int
	Error       string
}

// DeletePattern deletes every key matching a Redis glob pattern using an
// incremental SCAN cursor with a bounded batch size, per spec §4.2(b): loop
// until the cursor returns to 0, and only issue a DEL for non-empty
// batches. The MATCH pattern is namespaced before the SCAN; the scanned keys
// are full Redis keys that already carry the namespace and are passed to DEL
// as returned.
func (s *Store) DeletePattern(ctx context.Context, pattern string) DeletePatternResult {
	namespacedPattern := s.namespaced(pattern)
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := s.client.Scan(ctx, cursor, namespacedPattern, scanBatchSize).Result()
		if err != nil {
			return DeletePatternResult{OK: false, KeysDeleted: 0, Error: err.Error()}
		}
		if len(keys) > 0 {
			n, err := s.client.Del(ctx, keys...).Result()
			if err != nil {
				return DeletePatternResult{OK: false, KeysDeleted: deleted, Error: err.Error()}
			}
			deleted += int(n)
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	s.bump(pattern, func(p *prefixStats) { p.Invalidations += int64(deleted) })
	return DeletePatternResult{OK: true, KeysDeleted: deleted}
}

// StatsSnapshot is the aggregate statistics shape from spec §4.2.
type StatsSnapshot struct {
	ByType                    map[string]prefixStats
	TotalHits                 int64
	TotalMisses               int64
	HitRate                   float64
	TotalSets                 int64
	TotalInvalidations        int64
	TotalCascadeInvalidations int64
	StartTime                 time.Time
	Enabled                   bool
}

func (s *Store) GetStats() StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := StatsSnapshot{ByType: make(map[string]prefixStats, len(s.stats)), StartTime: s.startTime, Enabled: s.statsEnabled}
	for k, v := range s.stats {
		snap.ByType[k] = *v
		snap.TotalHits += v.Hits
		snap.TotalMisses += v.Misses
		snap.TotalSets += v.Sets
		snap.TotalInvalidations += v.Invalidations
		snap.TotalCascadeInvalidations += v.CascadeInvalidations
	}
	if total := snap.TotalHits + snap.TotalMisses; total > 0 {
		snap.HitRate = float64(snap.TotalHits) / float64(total)
	}
	return snap
}

func (s *Store) ResetStats() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stats = make(map[string]*prefixStats)
	s.startTime = time.Now()
}

// RecordCascadeInvalidation lets the cascade package (C3) attribute a bulk
// invalidation's cost to the prefix it targeted.
func (s *Store) RecordCascadeInvalidation(prefix string, count int) {
	s.bump(prefix+":x", func(p *prefixStats) { p.CascadeInvalidations += int64(count) })
}

// prefixCostMS is the time-saved-per-hit estimator table from spec §4.2.
var prefixCostMS = map[string]float64{
	"computed-fields": 300,
	"spatial":         100,
}

// EstimatedTimeSavedMS multiplies each prefix's hit count by its
// per-prefix cost, defaulting to 50ms, except list-prefixed keys which cost
// 25ms, per spec §4.2.
func EstimatedTimeSavedMS(snap StatsSnapshot) float64 {
	var total float64
	for prefix, st := range snap.ByType {
		cost, ok := prefixCostMS[prefix]
		if !ok {
			switch {
			case strings.HasPrefix(prefix, "list"):
				cost = 25
			default:
				cost = 50
			}
		}
		total += float64(st.Hits) * cost
	}
	return total
}
