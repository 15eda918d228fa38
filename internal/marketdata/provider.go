package marketdata

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/replay-engine/internal/clock"
	"github.com/Rajchodisetti/replay-engine/internal/observ"
)

// Bar is one OHLCV candle. Bars are immutable once loaded and kept per ticker
// in ascending timestamp order.
type Bar struct {
	Ticker    string    `json:"ticker"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
}

// Snapshot pairs the latest price with the close of the bar before it.
// For the very first bar the previous close falls back to that bar's open.
type Snapshot struct {
	Last          float64 `json:"last"`
	PreviousClose float64 `json:"previous_close"`
}

// PriceChange is the batch-lookup result for one ticker.
type PriceChange struct {
	Price     float64 `json:"price"`
	ChangePct float64 `json:"change_pct"`
}

type cachedLookup struct {
	asOf time.Time
	idx  int
}

// Provider answers "most recent bar at or before now" against the active
// clock. Lookups are idempotent and repeatable; unlike the event feed there
// is no delivery state.
type Provider struct {
	mu      sync.Mutex
	clk     clock.Provider
	series  map[string][]Bar
	cache   map[string]cachedLookup // invalidated whenever now moves
	skipped int
}

// NewProvider groups bars by ticker and sorts each series ascending. Records
// with a missing ticker or timestamp are dropped with a logged warning.
func NewProvider(clk clock.Provider, bars []Bar) *Provider {
	p := &Provider{
		clk:    clk,
		series: map[string][]Bar{},
		cache:  map[string]cachedLookup{},
	}
	for _, b := range bars {
		b.Ticker = strings.ToUpper(strings.TrimSpace(b.Ticker))
		if b.Ticker == "" || b.Timestamp.IsZero() {
			p.skipped++
			observ.Warn("bar_record_skipped", map[string]any{"ticker": b.Ticker})
			observ.IncCounter("bar_records_skipped_total", nil)
			continue
		}
		b.Timestamp = b.Timestamp.UTC()
		p.series[b.Ticker] = append(p.series[b.Ticker], b)
	}
	for t := range p.series {
		s := p.series[t]
		sort.SliceStable(s, func(i, j int) bool { return s[i].Timestamp.Before(s[j].Timestamp) })
	}
	return p
}

// lookupLocked finds the index of the bar with the greatest timestamp <= now.
// Returns false for unknown tickers and times before the first bar.
func (p *Provider) lookupLocked(ticker string, now time.Time) (int, bool) {
	bars, ok := p.series[ticker]
	if !ok || len(bars) == 0 {
		return 0, false
	}
	if c, hit := p.cache[ticker]; hit && c.asOf.Equal(now) {
		return c.idx, c.idx >= 0
	}
	// first index with timestamp strictly after now; the answer precedes it
	n := sort.Search(len(bars), func(i int) bool {
		return bars[i].Timestamp.After(now)
	})
	idx := n - 1
	p.cache[ticker] = cachedLookup{asOf: now, idx: idx}
	return idx, idx >= 0
}

// LastPrice returns the close of the most recent bar at or before now.
func (p *Provider) LastPrice(ticker string) (float64, bool) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	now := p.clk.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.lookupLocked(ticker, now)
	if !ok {
		return 0, false
	}
	return p.series[ticker][idx].Close, true
}

// LastPriceSnapshot returns the latest price and the prior bar's close.
func (p *Provider) LastPriceSnapshot(ticker string) (Snapshot, bool) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	now := p.clk.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.lookupLocked(ticker, now)
	if !ok {
		return Snapshot{}, false
	}
	bars := p.series[ticker]
	snap := Snapshot{Last: bars[idx].Close}
	if idx > 0 {
		snap.PreviousClose = bars[idx-1].Close
	} else {
		snap.PreviousClose = bars[idx].Open
	}
	return snap, true
}

// BatchPrices looks up every requested ticker, skipping those with no data.
func (p *Provider) BatchPrices(tickers []string) map[string]PriceChange {
	out := make(map[string]PriceChange, len(tickers))
	for _, t := range tickers {
		snap, ok := p.LastPriceSnapshot(t)
		if !ok {
			continue
		}
		pc := PriceChange{Price: snap.Last}
		if snap.PreviousClose != 0 {
			pc.ChangePct = (snap.Last - snap.PreviousClose) / snap.PreviousClose * 100
		}
		out[strings.ToUpper(strings.TrimSpace(t))] = pc
	}
	return out
}

// OHLCV returns the full bar selected by the LastPrice rule.
func (p *Provider) OHLCV(ticker string) (Bar, bool) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	now := p.clk.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	idx, ok := p.lookupLocked(ticker, now)
	if !ok {
		return Bar{}, false
	}
	return p.series[ticker][idx], true
}

// PriceRange returns the earliest and latest bar timestamps for a ticker.
func (p *Provider) PriceRange(ticker string) (time.Time, time.Time, bool) {
	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	p.mu.Lock()
	defer p.mu.Unlock()
	bars, ok := p.series[ticker]
	if !ok || len(bars) == 0 {
		return time.Time{}, time.Time{}, false
	}
	return bars[0].Timestamp, bars[len(bars)-1].Timestamp, true
}

// Tickers lists all tickers with loaded data, sorted.
func (p *Provider) Tickers() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.series))
	for t := range p.series {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

// Skipped reports how many malformed bar records were dropped at load time.
func (p *Provider) Skipped() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.skipped
}
