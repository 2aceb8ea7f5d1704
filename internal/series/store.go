// Package series holds pre-fetched price series and exposes them to the
// simulation loop as constant-time lookups by timestamp.
package series

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/seenimoa/signalsim/pkg/models"
)

var (
	ErrNoData      = errors.New("no price data")
	ErrBadInterval = errors.New("invalid bar interval")
)

// Series is a single symbol's bars in ascending time order with an index
// from bar open time (epoch ms) to position.
type Series struct {
	Symbol string
	bars   []models.OHLCV
	index  map[int64]int
}

// New builds a series from bars. Bars are copied, sorted, and de-duplicated
// by timestamp (the last occurrence wins). Invalid bars are dropped.
func New(symbol string, bars []models.OHLCV) *Series {
	sorted := make([]models.OHLCV, 0, len(bars))
	for _, b := range bars {
		if b.Valid() {
			sorted = append(sorted, b)
		}
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	s := &Series{Symbol: symbol, index: make(map[int64]int, len(sorted))}
	for _, b := range sorted {
		ts := b.TS()
		if i, ok := s.index[ts]; ok {
			s.bars[i] = b
			continue
		}
		s.index[ts] = len(s.bars)
		s.bars = append(s.bars, b)
	}
	return s
}

// Len returns the number of bars.
func (s *Series) Len() int { return len(s.bars) }

// Bars returns the underlying bars. Callers must not modify them.
func (s *Series) Bars() []models.OHLCV { return s.bars }

// At returns the bar that opens exactly at ts.
func (s *Series) At(ts int64) (models.OHLCV, bool) {
	i, ok := s.index[ts]
	if !ok {
		return models.OHLCV{}, false
	}
	return s.bars[i], true
}

// Window returns up to n bars ending with the bar at ts (inclusive).
// It returns nil when there is no bar at ts. The returned slice aliases
// the series storage.
func (s *Series) Window(ts int64, n int) []models.OHLCV {
	i, ok := s.index[ts]
	if !ok || n <= 0 {
		return nil
	}
	from := i + 1 - n
	if from < 0 {
		from = 0
	}
	return s.bars[from : i+1]
}

// LastAtOrBefore returns the latest bar opening at or before ts.
func (s *Series) LastAtOrBefore(ts int64) (models.OHLCV, bool) {
	if i, ok := s.index[ts]; ok {
		return s.bars[i], true
	}
	i := sort.Search(len(s.bars), func(i int) bool { return s.bars[i].TS() > ts })
	if i == 0 {
		return models.OHLCV{}, false
	}
	return s.bars[i-1], true
}

// Span returns the first and last bar times, or false when empty.
func (s *Series) Span() (first, last int64, ok bool) {
	if len(s.bars) == 0 {
		return 0, 0, false
	}
	return s.bars[0].TS(), s.bars[len(s.bars)-1].TS(), true
}

// Store is a set of series keyed by symbol. It is safe to populate
// concurrently; lookups after loading are lock-free reads guarded by RLock.
type Store struct {
	mu     sync.RWMutex
	series map[string]*Series
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{series: make(map[string]*Series)}
}

// Put adds or replaces a symbol's series.
func (st *Store) Put(s *Series) {
	st.mu.Lock()
	st.series[s.Symbol] = s
	st.mu.Unlock()
}

// Get returns a symbol's series.
func (st *Store) Get(symbol string) (*Series, bool) {
	st.mu.RLock()
	s, ok := st.series[symbol]
	st.mu.RUnlock()
	return s, ok
}

// Symbols returns the loaded symbols in sorted order.
func (st *Store) Symbols() []string {
	st.mu.RLock()
	out := make([]string, 0, len(st.series))
	for sym := range st.series {
		out = append(out, sym)
	}
	st.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Bar implements the engine's price feed.
func (st *Store) Bar(symbol string, ts int64) (models.OHLCV, bool) {
	s, ok := st.Get(symbol)
	if !ok {
		return models.OHLCV{}, false
	}
	return s.At(ts)
}

// Window implements the engine's price feed.
func (st *Store) Window(symbol string, ts int64, n int) []models.OHLCV {
	s, ok := st.Get(symbol)
	if !ok {
		return nil
	}
	return s.Window(ts, n)
}

// LastAtOrBefore implements the engine's price feed.
func (st *Store) LastAtOrBefore(symbol string, ts int64) (models.OHLCV, bool) {
	s, ok := st.Get(symbol)
	if !ok {
		return models.OHLCV{}, false
	}
	return s.LastAtOrBefore(ts)
}

// Coverage returns the fraction of the reference symbol's bars in
// [from, to] that also exist for symbol. Upstream callers use it to flag
// series that are badly misaligned with the market leader.
func (st *Store) Coverage(symbol, reference string, from, to int64) (float64, error) {
	ref, ok := st.Get(reference)
	if !ok {
		return 0, fmt.Errorf("reference %s: %w", reference, ErrNoData)
	}
	s, ok := st.Get(symbol)
	if !ok {
		return 0, fmt.Errorf("%s: %w", symbol, ErrNoData)
	}

	total, hit := 0, 0
	for _, b := range ref.bars {
		ts := b.TS()
		if ts < from || ts > to {
			continue
		}
		total++
		if _, ok := s.index[ts]; ok {
			hit++
		}
	}
	if total == 0 {
		return 0, nil
	}
	return float64(hit) / float64(total), nil
}
