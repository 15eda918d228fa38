package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/Rajchodisetti/replay-engine/internal/broker"
	"github.com/Rajchodisetti/replay-engine/internal/config"
	"github.com/Rajchodisetti/replay-engine/internal/controller"
	"github.com/Rajchodisetti/replay-engine/internal/dataset"
	"github.com/Rajchodisetti/replay-engine/internal/feed"
	"github.com/Rajchodisetti/replay-engine/internal/observ"
)

func main() {
	log.SetFlags(0)

	configPath := flag.String("config", "config/simulation.yaml", "path to simulation config")
	date := flag.String("date", "", "override simulation.date (YYYY-MM-DD or \"random\")")
	speed := flag.Float64("speed", -1, "override simulation.speed (0 = instant)")
	cash := flag.Float64("cash", -1, "override broker.starting_cash")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config %s: %v", *configPath, err)
	}
	if *date != "" {
		cfg.Simulation.Date = *date
	}
	if *speed >= 0 {
		cfg.Simulation.Speed = *speed
	}
	if *cash >= 0 {
		cfg.Broker.StartingCash = cash
	}

	loader := dataset.FixtureLoader{
		NewsPath:    cfg.Data.News,
		FilingsPath: cfg.Data.Filings,
		BarsPath:    cfg.Data.Bars,
	}
	ctl := controller.New(cfg, loader)

	if errs := ctl.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(os.Stderr, "config error: %s\n", e)
		}
		os.Exit(1)
	}

	// Audit consumer: log every delivered event with its virtual timestamp.
	ctl.RegisterHandler(feed.KindCombined, func(t controller.Tick) {
		for _, ev := range t.Events {
			observ.Log("event_delivered", map[string]any{
				"id": ev.ID, "kind": string(ev.Kind), "title": ev.Title,
				"tickers": ev.Tickers, "event_ts": ev.Timestamp,
			})
		}
	})

	// Demo strategy: buy a small clip on positive news when the ticker is up
	// on the day, flatten everything on filings. Exists to exercise the
	// broker end to end; real strategies register the same way.
	ctl.RegisterHandler(feed.KindNews, func(t controller.Tick) {
		brk := ctl.Broker()
		for _, ev := range t.Events {
			for _, ticker := range ev.Tickers {
				pc, ok := t.Prices[ticker]
				if !ok || pc.ChangePct <= 0 {
					continue
				}
				if _, err := brk.SubmitOrder(ticker, broker.Buy, 10); err != nil {
					observ.Log("order_rejected", map[string]any{"ticker": ticker, "error": err.Error()})
				}
			}
		}
	})
	ctl.RegisterHandler(feed.KindFiling, func(t controller.Tick) {
		brk := ctl.Broker()
		for _, ev := range t.Events {
			for _, ticker := range ev.Tickers {
				pos, ok := brk.Positions()[ticker]
				if !ok || pos.Quantity <= 0 {
					continue
				}
				if _, err := brk.SubmitOrder(ticker, broker.Sell, pos.Quantity); err != nil {
					observ.Log("order_rejected", map[string]any{"ticker": ticker, "error": err.Error()})
				}
			}
		}
	})

	result := ctl.Run()
	ctl.Cleanup()

	if result.Status == "failed" {
		log.Fatalf("run failed: %s", result.Error)
	}
	fmt.Printf("run %s %s: %d events, %d orders filled, %d rejected, cash %.2f equity %.2f\n",
		result.RunID, result.Status, result.EventsProcessed,
		result.OrdersAccepted, result.OrdersRejected,
		result.Portfolio.Cash, result.Portfolio.Equity)
}
