// Package candle implements the per-(symbol,timeframe) candle cache
// (spec.md §4.2): a bounded ring buffer with update-in-place-on-open /
// append-on-close semantics, generalized from the teacher's
// internal/binance/market_data_cache.go (a sync.Map-keyed, TTL-staleness
// kline cache for a single exchange) into an exchange-agnostic cache keyed
// by arbitrary (symbol, timeframe) pairs.
package candle

import (
	"fmt"
	"sync"
	"time"
)

// Timeframe is one of the supported kline intervals.
type Timeframe string

const (
	TF1m  Timeframe = "1m"
	TF5m  Timeframe = "5m"
	TF15m Timeframe = "15m"
	TF1h  Timeframe = "1h"
	TF4h  Timeframe = "4h"
)

// Duration returns the wall-clock duration of one bar of this timeframe.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case TF1m:
		return time.Minute
	case TF5m:
		return 5 * time.Minute
	case TF15m:
		return 15 * time.Minute
	case TF1h:
		return time.Hour
	case TF4h:
		return 4 * time.Hour
	default:
		return 0
	}
}

// Candle is one OHLCV bar. OpenTimeMs is the key within a series; within a
// series candles are ordered strictly by OpenTimeMs (spec.md §3).
type Candle struct {
	OpenTimeMs int64
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     float64
}

// CloseTimeMs returns the open time of the bar plus the timeframe's
// duration, i.e. the instant at which this candle becomes closed.
func (c Candle) CloseTimeMs(tf Timeframe) int64 {
	return c.OpenTimeMs + tf.Duration().Milliseconds()
}

const defaultCacheSize = 100

// Series is a bounded FIFO ring of at most Size candles (spec.md §3).
// It is not itself safe for concurrent use; callers go through Cache for
// the single-writer/many-reader discipline spec.md §4.2 and §5 require.
type Series struct {
	Size       int
	candles    []Candle
	updatedAt  time.Time
}

// NewSeries creates an empty series bounded to size (defaultCacheSize if
// size <= 0).
func NewSeries(size int) *Series {
	if size <= 0 {
		size = defaultCacheSize
	}
	return &Series{Size: size, candles: make([]Candle, 0, size)}
}

// Snapshot returns an independent copy of up to limit most-recent candles
// (all of them if limit <= 0), ascending by OpenTimeMs.
func (s *Series) Snapshot(limit int) []Candle {
	if s == nil || len(s.candles) == 0 {
		return nil
	}
	start := 0
	if limit > 0 && limit < len(s.candles) {
		start = len(s.candles) - limit
	}
	out := make([]Candle, len(s.candles)-start)
	copy(out, s.candles[start:])
	return out
}

// Len returns the number of candles currently held.
func (s *Series) Len() int {
	if s == nil {
		return 0
	}
	return len(s.candles)
}

// Last returns the most recent candle and true, or the zero value and
// false if the series is empty.
func (s *Series) Last() (Candle, bool) {
	if s == nil || len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// UpdatedAt returns the wall-clock time of the last write to this series.
func (s *Series) UpdatedAt() time.Time { return s.updatedAt }

// replace atomically swaps the series contents (used by set_series).
func (s *Series) replace(candles []Candle) {
	cp := make([]Candle, len(candles))
	copy(cp, candles)
	if len(cp) > s.Size {
		cp = cp[len(cp)-s.Size:]
	}
	s.candles = cp
	s.updatedAt = time.Now()
}

// upsert implements update(): replace the last candle in place if its
// open time matches (intra-candle update), otherwise append and evict the
// oldest candle if the series is over capacity.
func (s *Series) upsert(c Candle) {
	n := len(s.candles)
	if n > 0 && s.candles[n-1].OpenTimeMs == c.OpenTimeMs {
		s.candles[n-1] = c
		s.updatedAt = time.Now()
		return
	}
	s.candles = append(s.candles, c)
	if len(s.candles) > s.Size {
		s.candles = s.candles[len(s.candles)-s.Size:]
	}
	s.updatedAt = time.Now()
}

type key struct {
	symbol string
	tf     Timeframe
}

// Cache maps (symbol, timeframe) -> Series with the single-writer,
// many-reader discipline spec.md §4.2/§5 call for: FeedManager is the only
// writer, and Get/Snapshot calls from analysis code never block on it.
type Cache struct {
	mu       sync.RWMutex
	series   map[key]*Series
	cacheSize int
}

// NewCache creates an empty cache; cacheSize bounds every series created
// within it (CACHE_SIZE from spec.md §6, default 100).
func NewCache(cacheSize int) *Cache {
	if cacheSize <= 0 {
		cacheSize = defaultCacheSize
	}
	return &Cache{series: make(map[key]*Series), cacheSize: cacheSize}
}

func (c *Cache) seriesFor(symbol string, tf Timeframe) *Series {
	k := key{symbol, tf}
	s, ok := c.series[k]
	if !ok {
		s = NewSeries(c.cacheSize)
		c.series[k] = s
	}
	return s
}

// SetSeries atomically replaces the series for (symbol, tf), used to seed
// from a REST backfill. Post-condition: GetSeries returns an identical
// ordered copy.
func (c *Cache) SetSeries(symbol string, tf Timeframe, candles []Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seriesFor(symbol, tf).replace(candles)
}

// Update merges a single candle into the series for (symbol, tf): if the
// latest candle shares the same OpenTimeMs it is replaced in place
// (intra-candle update), otherwise the candle is appended and the oldest
// candle is evicted if the series is at capacity.
func (c *Cache) Update(symbol string, tf Timeframe, candle Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seriesFor(symbol, tf).upsert(candle)
}

// GetSeries returns a snapshot of up to limit most-recent candles for
// (symbol, tf) (all of them if limit <= 0). Missing keys yield an empty,
// non-nil slice: the operation is total and never blocks on FeedManager.
func (c *Cache) GetSeries(symbol string, tf Timeframe, limit int) []Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[key{symbol, tf}]
	if !ok {
		return []Candle{}
	}
	snap := s.Snapshot(limit)
	if snap == nil {
		return []Candle{}
	}
	return snap
}

// Len returns the number of candles currently cached for (symbol, tf).
func (c *Cache) Len(symbol string, tf Timeframe) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[key{symbol, tf}]
	if !ok {
		return 0
	}
	return s.Len()
}

// IsStale reports whether the series' most recent update time exceeds
// maxAgeS seconds ago. A never-written series is considered stale.
func (c *Cache) IsStale(symbol string, tf Timeframe, maxAgeS int) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.series[key{symbol, tf}]
	if !ok {
		return true
	}
	if s.updatedAt.IsZero() {
		return true
	}
	return time.Since(s.updatedAt) > time.Duration(maxAgeS)*time.Second
}

// String identifies a (symbol, timeframe) pair for logging.
func (k key) String() string { return fmt.Sprintf("%s@%s", k.symbol, k.tf) }
