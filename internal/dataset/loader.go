// Package dataset implements the historical-data boundary for fixture files.
// The core never does I/O itself; it receives the loaded, ordered collections
// through the controller's Loader interface.
package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/Rajchodisetti/replay-engine/internal/feed"
	"github.com/Rajchodisetti/replay-engine/internal/marketdata"
	"github.com/Rajchodisetti/replay-engine/internal/observ"
)

type newsFile struct {
	News []struct {
		ID             string   `json:"id"`
		Timestamp      string   `json:"timestamp"`
		Tickers        []string `json:"tickers"`
		Title          string   `json:"title"`
		Provider       string   `json:"provider"`
		Link           string   `json:"link"`
		HeadlineHash   string   `json:"headline_hash"`
		IsPressRelease bool     `json:"is_press_release"`
	} `json:"news"`
}

type filingsFile struct {
	Filings []struct {
		ID        string `json:"id"`
		Timestamp string `json:"timestamp"`
		Ticker    string `json:"ticker"`
		FormType  string `json:"form_type"`
		Title     string `json:"title"`
		Link      string `json:"link"`
	} `json:"filings"`
}

type barsFile struct {
	Bars []struct {
		Ticker    string  `json:"ticker"`
		Timestamp string  `json:"timestamp"`
		Open      float64 `json:"open"`
		High      float64 `json:"high"`
		Low       float64 `json:"low"`
		Close     float64 `json:"close"`
		Volume    int64   `json:"volume"`
	} `json:"bars"`
}

// LoadNews reads a news fixture. Records with an unparseable timestamp are
// skipped with a warning; a missing or unreadable file is an error.
func LoadNews(path string) ([]feed.Event, error) {
	var f newsFile
	if err := readJSON(path, &f); err != nil {
		return nil, err
	}
	events := make([]feed.Event, 0, len(f.News))
	for _, n := range f.News {
		ts, ok := parseTimestamp(n.Timestamp, "news", n.ID)
		if !ok {
			continue
		}
		fields := map[string]string{}
		if n.Provider != "" {
			fields["provider"] = n.Provider
		}
		if n.Link != "" {
			fields["link"] = n.Link
		}
		if n.HeadlineHash != "" {
			fields["headline_hash"] = n.HeadlineHash
		}
		if n.IsPressRelease {
			fields["is_press_release"] = "true"
		}
		events = append(events, feed.Event{
			ID:        n.ID,
			Timestamp: ts,
			Kind:      feed.KindNews,
			Tickers:   n.Tickers,
			Title:     n.Title,
			Fields:    fields,
		})
	}
	return events, nil
}

// LoadFilings reads a regulatory-filing fixture.
func LoadFilings(path string) ([]feed.Event, error) {
	var f filingsFile
	if err := readJSON(path, &f); err != nil {
		return nil, err
	}
	events := make([]feed.Event, 0, len(f.Filings))
	for _, r := range f.Filings {
		ts, ok := parseTimestamp(r.Timestamp, "filing", r.ID)
		if !ok {
			continue
		}
		fields := map[string]string{}
		if r.FormType != "" {
			fields["form_type"] = r.FormType
		}
		if r.Link != "" {
			fields["link"] = r.Link
		}
		events = append(events, feed.Event{
			ID:        r.ID,
			Timestamp: ts,
			Kind:      feed.KindFiling,
			Tickers:   []string{r.Ticker},
			Title:     r.Title,
			Fields:    fields,
		})
	}
	return events, nil
}

// LoadBars reads a price-bar fixture.
func LoadBars(path string) ([]marketdata.Bar, error) {
	var f barsFile
	if err := readJSON(path, &f); err != nil {
		return nil, err
	}
	bars := make([]marketdata.Bar, 0, len(f.Bars))
	for _, b := range f.Bars {
		ts, ok := parseTimestamp(b.Timestamp, "bar", b.Ticker)
		if !ok {
			continue
		}
		bars = append(bars, marketdata.Bar{
			Ticker:    b.Ticker,
			Timestamp: ts,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			Volume:    b.Volume,
		})
	}
	return bars, nil
}

func readJSON(path string, v any) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read dataset %s: %w", path, err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("parse dataset %s: %w", path, err)
	}
	return nil
}

// parseTimestamp accepts RFC3339 or a naive "2006-01-02T15:04:05", which is
// taken as UTC rather than rejected.
func parseTimestamp(s, kind, id string) (time.Time, bool) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), true
	}
	if t, err := time.ParseInLocation("2006-01-02T15:04:05", s, time.UTC); err == nil {
		return t, true
	}
	observ.Warn("dataset_record_skipped", map[string]any{
		"kind": kind, "id": id, "timestamp": s, "reason": "bad timestamp",
	})
	observ.IncCounter("dataset_records_skipped_total", map[string]string{"kind": kind})
	return time.Time{}, false
}
