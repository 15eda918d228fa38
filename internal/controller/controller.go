package controller

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/Rajchodisetti/replay-engine/internal/artifact"
	"github.com/Rajchodisetti/replay-engine/internal/broker"
	"github.com/Rajchodisetti/replay-engine/internal/clock"
	"github.com/Rajchodisetti/replay-engine/internal/config"
	"github.com/Rajchodisetti/replay-engine/internal/dataset"
	"github.com/Rajchodisetti/replay-engine/internal/feed"
	"github.com/Rajchodisetti/replay-engine/internal/marketdata"
	"github.com/Rajchodisetti/replay-engine/internal/observ"
)

// Loader supplies the historical dataset for a run. Implementations live
// outside the core; the controller treats the result purely as data.
type Loader interface {
	Load() (dataset.Set, error)
}

// Tick is what registered handlers receive: the virtual instant, newly
// delivered events for the handler's kind, and price snapshots for every
// tracked ticker. Events within one kind arrive in non-decreasing timestamp
// order and are never delivered twice; cross-kind ordering is not guaranteed.
type Tick struct {
	Now    time.Time
	Kind   feed.Kind
	Events []feed.Event
	Prices map[string]marketdata.PriceChange
}

// Handler is the strategy/alerting hook. Handlers may call back into the
// broker; they run on the controller's loop goroutine.
type Handler func(Tick)

// RunResult is the structured outcome of a run, stable for persistence.
type RunResult struct {
	ResultVersion   int                        `json:"result_version"`
	RunID           string                     `json:"run_id"`
	Status          string                     `json:"status"` // completed | stopped | failed
	Error           string                     `json:"error,omitempty"`
	SimulatedDate   string                     `json:"simulated_date,omitempty"`
	SessionStart    time.Time                  `json:"session_start,omitempty"`
	SessionEnd      time.Time                  `json:"session_end,omitempty"`
	Speed           float64                    `json:"speed"`
	EventsProcessed int                        `json:"events_processed"`
	RecordsSkipped  int                        `json:"records_skipped"`
	OrdersAccepted  int                        `json:"orders_accepted"`
	OrdersRejected  int                        `json:"orders_rejected"`
	Portfolio       broker.PortfolioSnapshot   `json:"portfolio"`
	Positions       map[string]broker.Position `json:"positions"`
	Orders          []broker.Order             `json:"orders"`
	Fills           []broker.Fill              `json:"fills"`
}

// Status reports lifecycle state, safe to read from any goroutine.
type Status struct {
	RunID          string   `json:"run_id"`
	Running        bool     `json:"running"`
	Paused         bool     `json:"paused"`
	SetupComplete  bool     `json:"setup_complete"`
	CriticalErrors []string `json:"critical_errors,omitempty"`
}

// Controller owns configuration, constructs and wires the clock, feeds,
// market data and broker, and drives the run loop. The loop itself is
// single-threaded by design (deterministic replay needs a single ordering
// authority); lifecycle controls are safe from other goroutines.
type Controller struct {
	mu   sync.Mutex
	cond *sync.Cond

	cfg    config.Root
	loader Loader

	clk     clock.Provider
	feeds   *feed.Provider
	quotes  *marketdata.Provider
	brk     *broker.Simulator
	tracked []string

	handlers map[feed.Kind][]Handler

	runID   string
	simDate string
	start   time.Time
	end     time.Time
	rng     *rand.Rand

	setupDone     bool
	running       bool
	paused        bool
	stopRequested bool
	cancel        context.CancelFunc

	eventsProcessed int
	criticalErrs    []string
}

// New creates a controller. Defaults are applied to the config; call
// Validate before Run to surface problems early, or let Run do it.
func New(cfg config.Root, loader Loader) *Controller {
	cfg.ApplyDefaults()
	c := &Controller{
		cfg:      cfg,
		loader:   loader,
		handlers: map[feed.Kind][]Handler{},
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Validate collects all configuration problems without starting anything.
func (c *Controller) Validate() []config.ValidationError {
	return c.cfg.Validate()
}

// RegisterHandler adds an independent consumer for one event kind. Multiple
// handlers per kind are invoked in registration order.
func (c *Controller) RegisterHandler(kind feed.Kind, fn Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[kind] = append(c.handlers[kind], fn)
}

// Broker exposes the simulator for strategy code. Nil before Setup.
func (c *Controller) Broker() *broker.Simulator {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.brk
}

// Setup is idempotent: it constructs the clock, loads datasets into the
// providers, and builds the broker. Subsequent calls are no-ops until
// Cleanup. A missing required dataset is fatal for the run.
func (c *Controller) Setup() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.setupDone {
		return nil
	}

	c.rng = rand.New(rand.NewSource(c.cfg.Simulation.Seed))

	ds, err := c.loader.Load()
	if err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	live := c.cfg.Simulation.Mode == "live"
	if live {
		c.simDate = time.Now().UTC().Format("2006-01-02")
		c.runID = artifact.NewRunID(c.simDate, c.cfg.Simulation.Seed)
		c.clk = clock.RealClock{}
	} else {
		date, err := c.resolveDate(ds)
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		c.simDate = date.Format("2006-01-02")
		c.runID = artifact.NewRunID(c.simDate, c.cfg.Simulation.Seed)
		c.start, c.end, err = c.cfg.SessionWindow(date)
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		sim, err := clock.NewSimClock(c.start,
			clock.WithEnd(c.end),
			clock.WithSpeed(c.cfg.Simulation.Speed),
			clock.WithRunID(c.runID))
		if err != nil {
			return fmt.Errorf("setup: %w", err)
		}
		c.clk = sim
	}
	clock.SetActive(c.clk)

	c.feeds = feed.NewProvider(c.clk, ds.News, ds.Filings)
	c.quotes = marketdata.NewProvider(c.clk, ds.Bars)
	c.tracked = c.quotes.Tickers()

	c.brk = broker.NewSimulator(c.clk, c.quotes, broker.Config{
		StartingCash:        *c.cfg.Broker.StartingCash,
		SlippageModel:       broker.SlippageModel(c.cfg.Broker.Slippage.Model),
		SlippagePct:         c.cfg.Broker.Slippage.Pct,
		SlippageAmount:      c.cfg.Broker.Slippage.Amount,
		SlippageMinBps:      c.cfg.Broker.Slippage.MinBps,
		SlippageMaxBps:      c.cfg.Broker.Slippage.MaxBps,
		CommissionPerOrder:  c.cfg.Broker.CommissionPerOrder,
		CommissionPerShare:  c.cfg.Broker.CommissionPerShare,
		ShortSellingEnabled: c.cfg.Broker.ShortSellingEnabled,
		Seed:                c.cfg.Simulation.Seed,
	})
	if c.cfg.Output.Dir != "" {
		journal, err := artifact.NewJournal(filepath.Join(c.cfg.Output.Dir, c.runID+".jsonl"))
		if err != nil {
			observ.Warn("journal_open_failed", map[string]any{"error": err.Error()})
		} else {
			c.brk.AttachJournal(journal)
		}
	}

	c.setupDone = true
	observ.Log("simulation_setup", map[string]any{
		"run_id": c.runID, "date": c.simDate, "mode": c.cfg.Simulation.Mode,
		"speed": c.cfg.Simulation.Speed, "tickers": len(c.tracked),
		"news": len(ds.News), "filings": len(ds.Filings), "bars": len(ds.Bars),
	})
	return nil
}

// resolveDate picks the simulated day: the configured date, or a seeded
// random weekday within the dataset's bar range for "random".
func (c *Controller) resolveDate(ds dataset.Set) (time.Time, error) {
	if c.cfg.Simulation.Date != config.DateRandom {
		return time.Parse("2006-01-02", c.cfg.Simulation.Date)
	}
	seen := map[string]bool{}
	var days []time.Time
	for _, b := range ds.Bars {
		day := b.Timestamp.UTC().Truncate(24 * time.Hour)
		if wd := day.Weekday(); wd == time.Saturday || wd == time.Sunday {
			continue
		}
		key := day.Format("2006-01-02")
		if !seen[key] {
			seen[key] = true
			days = append(days, day)
		}
	}
	if len(days) == 0 {
		return time.Time{}, fmt.Errorf("random trading day requested but dataset has no weekday bars")
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days[c.rng.Intn(len(days))], nil
}

// Run drives the loop to completion and returns the aggregated result.
// Configuration and setup failures come back as a failed result rather than
// an error: one bad run must not take down a batch of runs.
func (c *Controller) Run() RunResult {
	if errs := c.Validate(); len(errs) > 0 {
		msgs := make([]string, len(errs))
		for i, e := range errs {
			msgs[i] = e.Error()
		}
		c.mu.Lock()
		c.criticalErrs = msgs
		c.mu.Unlock()
		return RunResult{
			ResultVersion: artifact.ResultVersion,
			Status:        "failed",
			Error:         "invalid configuration: " + strings.Join(msgs, "; "),
		}
	}
	if err := c.Setup(); err != nil {
		c.mu.Lock()
		c.criticalErrs = append(c.criticalErrs, err.Error())
		c.mu.Unlock()
		observ.Warn("simulation_setup_failed", map[string]any{"error": err.Error()})
		return RunResult{
			ResultVersion: artifact.ResultVersion,
			RunID:         c.runID,
			Status:        "failed",
			Error:         err.Error(),
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.mu.Lock()
	c.running = true
	c.cancel = cancel
	c.mu.Unlock()
	defer cancel()

	c.clk.Start()
	c.loop(ctx)

	c.mu.Lock()
	stopped := c.stopRequested
	c.running = false
	c.mu.Unlock()

	c.clk.Stop()
	result := c.buildResult(stopped)
	if c.cfg.Output.Dir != "" {
		path := filepath.Join(c.cfg.Output.Dir, c.runID+".json")
		if err := artifact.WriteResult(path, result); err != nil {
			observ.Warn("result_write_failed", map[string]any{"error": err.Error()})
		}
	}
	observ.Log("simulation_finished", map[string]any{
		"run_id": result.RunID, "status": result.Status,
		"events_processed": result.EventsProcessed,
		"orders_accepted":  result.OrdersAccepted,
		"orders_rejected":  result.OrdersRejected,
		"cash":             result.Portfolio.Cash,
	})
	return result
}

func (c *Controller) loop(ctx context.Context) {
	tick := time.Duration(c.cfg.Simulation.TickGranularitySeconds) * time.Second

	// Live mode has no end time; pacing comes from a wall-clock limiter and
	// the run ends only on Stop.
	var limiter *rate.Limiter
	if c.cfg.Simulation.Mode == "live" {
		limiter = rate.NewLimiter(rate.Every(tick), 1)
	}

	for {
		c.mu.Lock()
		for c.paused && !c.stopRequested {
			c.cond.Wait()
		}
		if c.stopRequested {
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		c.dispatchTick()

		// checked after the dispatch: the sleep clamps to the session end,
		// and events stamped exactly at that instant come due on the final
		// iteration
		if c.clk.IsPastEnd() {
			return
		}

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return
			}
			continue
		}

		// Advance to the sooner of one tick or the next due event, clamped
		// by the clock itself to the session end.
		d := tick
		now := c.clk.Now()
		if next, ok := c.earliestNext(); ok {
			if until := next.Sub(now); until > 0 && until < d {
				d = until
			}
		}
		if err := c.clk.Sleep(ctx, d); err != nil {
			return
		}
	}
}

// earliestNext is the minimum undelivered timestamp across the news and
// filing feeds.
func (c *Controller) earliestNext() (time.Time, bool) {
	var best time.Time
	var ok bool
	for _, kind := range []feed.Kind{feed.KindNews, feed.KindFiling} {
		if ts, have := c.feeds.PeekNextTimestamp(kind); have {
			if !ok || ts.Before(best) {
				best = ts
				ok = true
			}
		}
	}
	return best, ok
}

// dispatchTick polls feeds and prices once and fans out to handlers. A
// handler is never invoked twice for the same event; within a kind events
// arrive in non-decreasing timestamp order.
func (c *Controller) dispatchTick() {
	now := c.clk.Now()
	prices := c.quotes.BatchPrices(c.tracked)

	byKind := map[feed.Kind][]feed.Event{
		feed.KindNews:   c.feeds.PollNew(feed.KindNews),
		feed.KindFiling: c.feeds.PollNew(feed.KindFiling),
	}
	c.mu.Lock()
	c.eventsProcessed += len(byKind[feed.KindNews]) + len(byKind[feed.KindFiling])
	hasCombined := len(c.handlers[feed.KindCombined]) > 0
	c.mu.Unlock()
	if hasCombined {
		byKind[feed.KindCombined] = c.feeds.PollNew(feed.KindCombined)
	}

	for _, kind := range []feed.Kind{feed.KindNews, feed.KindFiling, feed.KindCombined} {
		c.mu.Lock()
		hs := append([]Handler(nil), c.handlers[kind]...)
		c.mu.Unlock()
		for _, h := range hs {
			h(Tick{Now: now, Kind: kind, Events: byKind[kind], Prices: prices})
		}
	}
}

func (c *Controller) buildResult(stopped bool) RunResult {
	status := "completed"
	if stopped {
		status = "stopped"
	}
	accepted, rejected := c.brk.Counts()
	skipped := c.feeds.Stats(feed.KindCombined).Skipped + c.quotes.Skipped()
	return RunResult{
		ResultVersion:   artifact.ResultVersion,
		RunID:           c.runID,
		Status:          status,
		SimulatedDate:   c.simDate,
		SessionStart:    c.start,
		SessionEnd:      c.end,
		Speed:           c.cfg.Simulation.Speed,
		EventsProcessed: c.eventsProcessed,
		RecordsSkipped:  skipped,
		OrdersAccepted:  accepted,
		OrdersRejected:  rejected,
		Portfolio:       c.brk.Snapshot(),
		Positions:       c.brk.Positions(),
		Orders:          c.brk.OrderHistory(),
		Fills:           c.brk.Fills(),
	}
}

// Pause freezes the clock and gates the loop. Safe from any goroutine.
func (c *Controller) Pause() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.paused {
		return
	}
	c.paused = true
	if c.clk != nil {
		c.clk.Pause()
	}
	observ.Log("simulation_paused", map[string]any{"run_id": c.runID})
}

// Resume unfreezes the clock and wakes the loop.
func (c *Controller) Resume() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.paused {
		return
	}
	c.paused = false
	if c.clk != nil {
		c.clk.Resume()
	}
	c.cond.Broadcast()
	observ.Log("simulation_resumed", map[string]any{"run_id": c.runID})
}

// Stop requests loop exit. It interrupts an in-flight real-time wait, so a
// long run stops promptly rather than waiting out its sleep.
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopRequested {
		return
	}
	c.stopRequested = true
	if c.cancel != nil {
		c.cancel()
	}
	c.cond.Broadcast()
	observ.Log("simulation_stop_requested", map[string]any{"run_id": c.runID})
}

// GetStatus snapshots lifecycle state.
func (c *Controller) GetStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Status{
		RunID:          c.runID,
		Running:        c.running,
		Paused:         c.paused,
		SetupComplete:  c.setupDone,
		CriticalErrors: append([]string(nil), c.criticalErrs...),
	}
}

// Cleanup releases run state and resets the process-wide clock registration
// so code outside the core reads real time again. It is a no-op while a run
// is in flight: call Stop and wait for Run to return first.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return
	}
	clock.ResetActive()
	c.clk = nil
	c.feeds = nil
	c.quotes = nil
	c.brk = nil
	c.tracked = nil
	c.setupDone = false
	c.stopRequested = false
	c.paused = false
	c.eventsProcessed = 0
	c.criticalErrs = nil
}
