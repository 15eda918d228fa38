package dataset

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFixture(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadNewsSkipsBadTimestamps(t *testing.T) {
	path := writeFixture(t, "news.json", `{
  "news": [
    {"id": "n1", "timestamp": "2024-11-12T14:30:00Z", "tickers": ["AAPL"], "title": "good", "provider": "wire"},
    {"id": "n2", "timestamp": "yesterday-ish", "tickers": ["AAPL"], "title": "bad ts"}
  ]
}`)
	events, err := LoadNews(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want the bad-timestamp record skipped", len(events))
	}
	ev := events[0]
	if ev.ID != "n1" || !ev.Timestamp.Equal(time.Date(2024, 11, 12, 14, 30, 0, 0, time.UTC)) {
		t.Fatalf("event=%+v", ev)
	}
	if ev.Fields["provider"] != "wire" {
		t.Fatalf("provider field lost: %v", ev.Fields)
	}
}

func TestNaiveTimestampTakenAsUTC(t *testing.T) {
	path := writeFixture(t, "filings.json", `{
  "filings": [
    {"id": "f1", "timestamp": "2024-11-12T11:00:00", "ticker": "BIOX", "form_type": "8-K", "title": "report"}
  ]
}`)
	events, err := LoadFilings(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events", len(events))
	}
	want := time.Date(2024, 11, 12, 11, 0, 0, 0, time.UTC)
	if !events[0].Timestamp.Equal(want) {
		t.Fatalf("timestamp=%v, want naive parsed as UTC %v", events[0].Timestamp, want)
	}
	if events[0].Fields["form_type"] != "8-K" {
		t.Fatalf("fields=%v", events[0].Fields)
	}
}

func TestLoadBars(t *testing.T) {
	path := writeFixture(t, "bars.json", `{
  "bars": [
    {"ticker": "AAPL", "timestamp": "2024-11-12T14:30:00Z", "open": 100, "high": 101, "low": 99, "close": 100.5, "volume": 1200}
  ]
}`)
	bars, err := LoadBars(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(bars) != 1 || bars[0].Ticker != "AAPL" || bars[0].Close != 100.5 || bars[0].Volume != 1200 {
		t.Fatalf("bars=%+v", bars)
	}
}

func TestMissingFileIsFatal(t *testing.T) {
	if _, err := LoadNews(filepath.Join(t.TempDir(), "absent.json")); err == nil {
		t.Fatal("missing file must be an error, not an empty feed")
	}
}

func TestMalformedJSONIsFatal(t *testing.T) {
	path := writeFixture(t, "bars.json", `{"bars": [`)
	if _, err := LoadBars(path); err == nil {
		t.Fatal("truncated JSON must be an error")
	}
}

func TestFixtureLoaderOptionalFeeds(t *testing.T) {
	bars := writeFixture(t, "bars.json", `{
  "bars": [{"ticker": "AAPL", "timestamp": "2024-11-12T14:30:00Z", "open": 1, "high": 1, "low": 1, "close": 1, "volume": 1}]
}`)
	ds, err := FixtureLoader{BarsPath: bars}.Load()
	if err != nil {
		t.Fatal(err)
	}
	if len(ds.Bars) != 1 || len(ds.News) != 0 || len(ds.Filings) != 0 {
		t.Fatalf("set=%+v, want bars only", ds)
	}

	if _, err := (FixtureLoader{}).Load(); err == nil {
		t.Fatal("bars path is required")
	}
}
