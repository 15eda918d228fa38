package feed

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Rajchodisetti/replay-engine/internal/clock"
	"github.com/Rajchodisetti/replay-engine/internal/observ"
)

// Kind partitions delivery: each kind has its own ledger, so a news consumer
// and a combined consumer never steal events from each other.
type Kind string

const (
	KindNews     Kind = "news"
	KindFiling   Kind = "filing"
	KindCombined Kind = "combined"
)

// Event is a timestamped news or filing record. The typed core carries what
// every consumer needs; kind-specific extras (headline hash, provider, form
// type, link) live in the bounded Fields map.
type Event struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Kind      Kind              `json:"kind"`
	Tickers   []string          `json:"tickers,omitempty"`
	Title     string            `json:"title,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
}

// Stats summarizes delivery progress for one kind.
type Stats struct {
	Total     int `json:"total"`
	Delivered int `json:"delivered"`
	Remaining int `json:"remaining"`
	Skipped   int `json:"skipped"`
}

// ledger is a forward cursor over a pre-sorted event slice plus the set of
// delivered IDs. The cursor keeps repeated polls amortized linear; the ID set
// makes the at-most-once guarantee explicit and survives Reset re-runs.
type ledger struct {
	events    []Event
	cursor    int
	delivered map[string]bool
}

func newLedger(events []Event) *ledger {
	return &ledger{events: events, delivered: map[string]bool{}}
}

func (l *ledger) pollNew(now time.Time) []Event {
	var due []Event
	for l.cursor < len(l.events) {
		ev := l.events[l.cursor]
		if ev.Timestamp.After(now) {
			break
		}
		if !l.delivered[ev.ID] {
			l.delivered[ev.ID] = true
			due = append(due, ev)
		}
		l.cursor++
	}
	return due
}

func (l *ledger) peek() (time.Time, bool) {
	if l.cursor >= len(l.events) {
		return time.Time{}, false
	}
	return l.events[l.cursor].Timestamp, true
}

func (l *ledger) reset() {
	l.cursor = 0
	l.delivered = map[string]bool{}
}

// Provider holds pre-loaded, timestamp-sorted events and answers polls gated
// by the clock. Events are immutable once loaded; only delivery state mutates.
type Provider struct {
	mu      sync.Mutex
	clk     clock.Provider
	ledgers map[Kind]*ledger
	skipped int
}

// NewProvider loads news and filing events, dropping records with a missing
// ID or timestamp (logged, never fatal). Events are sorted ascending by
// timestamp, ties broken by load order.
func NewProvider(clk clock.Provider, news, filings []Event) *Provider {
	p := &Provider{clk: clk, ledgers: map[Kind]*ledger{}}

	cleanNews := p.sanitize(news, KindNews)
	cleanFilings := p.sanitize(filings, KindFiling)

	combined := make([]Event, 0, len(cleanNews)+len(cleanFilings))
	combined = append(combined, cleanNews...)
	combined = append(combined, cleanFilings...)
	sortByTimestamp(combined)

	p.ledgers[KindNews] = newLedger(cleanNews)
	p.ledgers[KindFiling] = newLedger(cleanFilings)
	p.ledgers[KindCombined] = newLedger(combined)
	return p
}

func (p *Provider) sanitize(events []Event, kind Kind) []Event {
	clean := make([]Event, 0, len(events))
	for _, ev := range events {
		if ev.ID == "" || ev.Timestamp.IsZero() {
			p.skipped++
			observ.Warn("feed_record_skipped", map[string]any{
				"kind": string(kind), "id": ev.ID, "title": ev.Title,
			})
			observ.IncCounter("feed_records_skipped_total", map[string]string{"kind": string(kind)})
			continue
		}
		ev.Kind = kind
		ev.Timestamp = ev.Timestamp.UTC()
		for i, t := range ev.Tickers {
			ev.Tickers[i] = strings.ToUpper(strings.TrimSpace(t))
		}
		clean = append(clean, ev)
	}
	sortByTimestamp(clean)
	return clean
}

func sortByTimestamp(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Timestamp.Before(events[j].Timestamp)
	})
}

// PollNew returns all undelivered events of the given kind with timestamps at
// or before the clock's now, in timestamp order, and marks them delivered.
// Polling again without elapsed virtual time returns an empty slice.
func (p *Provider) PollNew(kind Kind) []Event {
	now := p.clk.Now()
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.ledgers[kind]
	if !ok {
		return nil
	}
	due := l.pollNew(now)
	if len(due) > 0 {
		observ.IncCounterBy("feed_events_delivered_total", map[string]string{"kind": string(kind)}, int64(len(due)))
	}
	return due
}

// PeekNextTimestamp returns the timestamp of the next undelivered event
// without affecting delivery state. The second return is false when the feed
// is exhausted.
func (p *Provider) PeekNextTimestamp(kind Kind) (time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.ledgers[kind]
	if !ok {
		return time.Time{}, false
	}
	return l.peek()
}

// Reset clears all delivery ledgers, restoring the full undelivered set so
// the same dataset can be replayed deterministically.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, l := range p.ledgers {
		l.reset()
	}
}

// Stats reports totals for one kind. Skipped counts malformed records dropped
// at load time across the whole provider.
func (p *Provider) Stats(kind Kind) Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	l, ok := p.ledgers[kind]
	if !ok {
		return Stats{Skipped: p.skipped}
	}
	delivered := len(l.delivered)
	return Stats{
		Total:     len(l.events),
		Delivered: delivered,
		Remaining: len(l.events) - delivered,
		Skipped:   p.skipped,
	}
}
