package marketdata

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/Rajchodisetti/replay-engine/internal/clock"
)

var t0 = time.Date(2024, 11, 12, 9, 30, 0, 0, time.UTC)

func barAt(ticker string, offset time.Duration, open, close float64) Bar {
	return Bar{Ticker: ticker, Timestamp: t0.Add(offset), Open: open, High: close + 1, Low: open - 1, Close: close, Volume: 1000}
}

func instantClock(t *testing.T) *clock.SimClock {
	t.Helper()
	c, err := clock.NewSimClock(t0, clock.WithSpeed(0))
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func TestLastPriceGreatestBarAtOrBeforeNow(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{
		barAt("AAPL", 0, 100, 101),
		barAt("AAPL", 30*time.Minute, 101, 102),
		barAt("AAPL", 60*time.Minute, 102, 103),
	})

	cases := []struct {
		advanceTo time.Duration
		want      float64
	}{
		{0, 101},
		{10 * time.Minute, 101},
		{30 * time.Minute, 102},
		{59 * time.Minute, 102},
		{60 * time.Minute, 103},
		{5 * time.Hour, 103},
	}
	for _, tc := range cases {
		clk.JumpTo(t0.Add(tc.advanceTo))
		got, ok := p.LastPrice("AAPL")
		if !ok || got != tc.want {
			t.Fatalf("at +%v: got %.2f ok=%v, want %.2f", tc.advanceTo, got, ok, tc.want)
		}
	}
}

func TestLastPriceBeforeFirstBar(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{barAt("AAPL", time.Hour, 100, 101)})
	if _, ok := p.LastPrice("AAPL"); ok {
		t.Fatal("expected no price before the first bar")
	}
}

func TestUnknownTickerIsNotAnError(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{barAt("AAPL", 0, 100, 101)})
	if _, ok := p.LastPrice("ZZZZ"); ok {
		t.Fatal("unknown ticker should return no price")
	}
	if _, _, ok := p.PriceRange("ZZZZ"); ok {
		t.Fatal("unknown ticker should have no range")
	}
}

func TestSnapshotPreviousClose(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{
		barAt("NVDA", 0, 448, 450),
		barAt("NVDA", 30*time.Minute, 450, 453),
	})

	// very first bar: previous close falls back to its open
	snap, ok := p.LastPriceSnapshot("NVDA")
	if !ok || snap.Last != 450 || snap.PreviousClose != 448 {
		t.Fatalf("first-bar snapshot=%+v ok=%v", snap, ok)
	}

	clk.JumpTo(t0.Add(time.Hour))
	snap, ok = p.LastPriceSnapshot("NVDA")
	if !ok || snap.Last != 453 || snap.PreviousClose != 450 {
		t.Fatalf("second-bar snapshot=%+v ok=%v", snap, ok)
	}
}

func TestBatchPricesChangePct(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{
		barAt("AAPL", 0, 100, 100),
		barAt("AAPL", 30*time.Minute, 100, 110),
		barAt("NVDA", 0, 200, 200),
	})
	clk.JumpTo(t0.Add(time.Hour))

	out := p.BatchPrices([]string{"AAPL", "NVDA", "ZZZZ"})
	if len(out) != 2 {
		t.Fatalf("batch returned %d tickers, want 2", len(out))
	}
	if got := out["AAPL"]; got.Price != 110 || math.Abs(got.ChangePct-10) > 1e-9 {
		t.Fatalf("AAPL change=%+v, want price 110 pct 10", got)
	}
	if got := out["NVDA"]; got.Price != 200 || got.ChangePct != 0 {
		t.Fatalf("NVDA change=%+v, want flat", got)
	}
}

func TestOHLCVMatchesLastPriceRule(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{
		barAt("AAPL", 0, 100, 101),
		barAt("AAPL", 30*time.Minute, 101, 102),
	})
	clk.JumpTo(t0.Add(45 * time.Minute))
	bar, ok := p.OHLCV("AAPL")
	if !ok || !bar.Timestamp.Equal(t0.Add(30*time.Minute)) || bar.Close != 102 {
		t.Fatalf("ohlcv=%+v ok=%v", bar, ok)
	}
}

func TestPriceRange(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{
		barAt("AAPL", 2*time.Hour, 102, 103),
		barAt("AAPL", 0, 100, 101),
	})
	earliest, latest, ok := p.PriceRange("AAPL")
	if !ok || !earliest.Equal(t0) || !latest.Equal(t0.Add(2*time.Hour)) {
		t.Fatalf("range=[%v %v] ok=%v", earliest, latest, ok)
	}
}

func TestCacheInvalidatedOnClockAdvance(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{
		barAt("AAPL", 0, 100, 101),
		barAt("AAPL", time.Minute, 101, 105),
	})
	if got, _ := p.LastPrice("AAPL"); got != 101 {
		t.Fatalf("initial price %v", got)
	}
	// repeated lookup at the same instant hits the cache and must agree
	if got, _ := p.LastPrice("AAPL"); got != 101 {
		t.Fatalf("cached price %v", got)
	}
	_ = clk.Sleep(context.Background(), 2*time.Minute)
	if got, _ := p.LastPrice("AAPL"); got != 105 {
		t.Fatalf("price after advance %v, want 105", got)
	}
}

func TestMalformedBarsSkipped(t *testing.T) {
	clk := instantClock(t)
	p := NewProvider(clk, []Bar{
		barAt("AAPL", 0, 100, 101),
		{Ticker: "", Timestamp: t0},
		{Ticker: "NVDA"}, // zero timestamp
	})
	if p.Skipped() != 2 {
		t.Fatalf("skipped=%d, want 2", p.Skipped())
	}
	if got := p.Tickers(); len(got) != 1 || got[0] != "AAPL" {
		t.Fatalf("tickers=%v", got)
	}
}
