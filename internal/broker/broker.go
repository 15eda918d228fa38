package broker

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"time"

	"github.com/Rajchodisetti/replay-engine/internal/artifact"
	"github.com/Rajchodisetti/replay-engine/internal/clock"
	"github.com/Rajchodisetti/replay-engine/internal/marketdata"
	"github.com/Rajchodisetti/replay-engine/internal/observ"
)

type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

type OrderStatus string

const (
	StatusPending  OrderStatus = "PENDING"
	StatusFilled   OrderStatus = "FILLED"
	StatusRejected OrderStatus = "REJECTED"
)

// SlippageModel selects how execution cost is applied to the snapshot price.
type SlippageModel string

const (
	SlippageFixedPct    SlippageModel = "fixed_pct"
	SlippageFixedAmount SlippageModel = "fixed_amount"
)

// Order records a submitted market order. Only market orders are supported:
// every accepted order fills immediately and fully at the snapshot price.
type Order struct {
	ID           string      `json:"id"`
	Ticker       string      `json:"ticker"`
	Side         Side        `json:"side"`
	Quantity     int         `json:"quantity"`
	Type         string      `json:"type"`
	Status       OrderStatus `json:"status"`
	SubmittedAt  time.Time   `json:"submitted_at"`
	RejectReason string      `json:"reject_reason,omitempty"`
}

// Fill is the execution record for an accepted order.
type Fill struct {
	OrderID    string    `json:"order_id"`
	Ticker     string    `json:"ticker"`
	Side       Side      `json:"side"`
	Quantity   int       `json:"quantity"`
	Price      float64   `json:"price"` // after slippage
	Commission float64   `json:"commission"`
	FilledAt   time.Time `json:"filled_at"`
}

// Position is the holding for one ticker. Quantity is negative only when
// short selling is enabled.
type Position struct {
	Quantity int     `json:"quantity"`
	AvgCost  float64 `json:"avg_cost"`
}

// PositionView adds mark-to-market fields for reporting.
type PositionView struct {
	Quantity      int     `json:"quantity"`
	AvgCost       float64 `json:"avg_cost"`
	LastPrice     float64 `json:"last_price,omitempty"`
	UnrealizedPnL float64 `json:"unrealized_pnl"`
}

// PortfolioSnapshot is a consistent view of the ledger at one virtual instant.
type PortfolioSnapshot struct {
	Cash        float64                 `json:"cash"`
	Equity      float64                 `json:"equity"`
	RealizedPnL float64                 `json:"realized_pnl"`
	Positions   map[string]PositionView `json:"positions"`
	AsOf        time.Time               `json:"as_of"`
}

// Config sets the broker's execution and bookkeeping behavior. Seed feeds the
// slippage jitter generator so repeated runs are reproducible.
type Config struct {
	StartingCash        float64
	SlippageModel       SlippageModel
	SlippagePct         float64 // percentage, e.g. 0.1 for 0.1%
	SlippageAmount      float64 // absolute per-share amount
	SlippageMinBps      int     // optional jitter range on top of the model
	SlippageMaxBps      int
	CommissionPerOrder  float64
	CommissionPerShare  float64
	ShortSellingEnabled bool
	Seed                int64
}

// Simulator executes orders against market data snapshots and keeps the
// cash/position ledger. All mutations are serialized through one mutex: an
// order is applied atomically or not at all. When orders race from multiple
// goroutines they are applied in acceptance order, not issue order.
type Simulator struct {
	mu        sync.Mutex
	clk       clock.Provider
	quotes    *marketdata.Provider
	cfg       Config
	rng       *rand.Rand
	journal   *artifact.Journal
	cash      float64
	positions map[string]Position
	realized  float64
	orders    []Order
	fills     []Fill
	accepted  int
	rejected  int
	seq       int64
}

// NewSimulator creates a broker with the configured starting cash.
func NewSimulator(clk clock.Provider, quotes *marketdata.Provider, cfg Config) *Simulator {
	return &Simulator{
		clk:       clk,
		quotes:    quotes,
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(cfg.Seed)),
		cash:      cfg.StartingCash,
		positions: map[string]Position{},
	}
}

// AttachJournal makes the broker record every order and fill to a JSONL
// journal. Journal write failures are logged, never fatal.
func (s *Simulator) AttachJournal(j *artifact.Journal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.journal = j
}

// SubmitOrder executes a market order. Rejections come back as a typed
// *OrderError so strategy code can branch on the reason; the portfolio is
// untouched by a rejected order.
func (s *Simulator) SubmitOrder(ticker string, side Side, quantity int) (Fill, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clk.Now()
	s.seq++
	order := Order{
		ID:          fmt.Sprintf("order_%s_%d_%d", ticker, now.Unix(), s.seq),
		Ticker:      ticker,
		Side:        side,
		Quantity:    quantity,
		Type:        "MARKET",
		Status:      StatusPending,
		SubmittedAt: now,
	}

	if quantity <= 0 {
		return s.rejectLocked(order, NewInvalidOrderError(ticker, fmt.Sprintf("quantity must be positive, got %d", quantity)))
	}
	if side != Buy && side != Sell {
		return s.rejectLocked(order, NewInvalidOrderError(ticker, fmt.Sprintf("unknown side %q", side)))
	}

	last, ok := s.quotes.LastPrice(ticker)
	if !ok {
		return s.rejectLocked(order, NewNoPriceDataError(ticker))
	}

	price := s.slippedPrice(side, last)
	commission := s.cfg.CommissionPerOrder + s.cfg.CommissionPerShare*float64(quantity)
	gross := price * float64(quantity)

	switch side {
	case Buy:
		if s.cash < gross+commission {
			return s.rejectLocked(order, NewInsufficientFundsError(ticker, gross+commission, s.cash))
		}
		s.cash -= gross + commission
		s.applyLocked(ticker, quantity, price)
	case Sell:
		held := s.positions[ticker].Quantity
		if !s.cfg.ShortSellingEnabled && quantity > held {
			return s.rejectLocked(order, NewInsufficientPositionError(ticker, quantity, held))
		}
		if s.cash+gross-commission < 0 {
			return s.rejectLocked(order, NewInsufficientFundsError(ticker, commission-gross, s.cash))
		}
		s.cash += gross - commission
		s.applyLocked(ticker, -quantity, price)
	}

	order.Status = StatusFilled
	fill := Fill{
		OrderID:    order.ID,
		Ticker:     ticker,
		Side:       side,
		Quantity:   quantity,
		Price:      price,
		Commission: commission,
		FilledAt:   now,
	}
	s.orders = append(s.orders, order)
	s.fills = append(s.fills, fill)
	s.accepted++
	s.journalLocked(order, &fill)
	observ.IncCounter("broker_orders_accepted_total", map[string]string{"side": string(side)})
	return fill, nil
}

// rejectLocked records the rejection and returns the typed error.
func (s *Simulator) rejectLocked(order Order, oerr *OrderError) (Fill, error) {
	order.Status = StatusRejected
	order.RejectReason = oerr.Type
	s.orders = append(s.orders, order)
	s.rejected++
	s.journalLocked(order, nil)
	observ.IncCounter("broker_orders_rejected_total", map[string]string{"reason": oerr.Type})
	return Fill{}, oerr
}

func (s *Simulator) journalLocked(order Order, fill *Fill) {
	if s.journal == nil {
		return
	}
	if err := s.journal.WriteOrder(order); err != nil {
		observ.Warn("journal_write_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
	}
	if fill != nil {
		if err := s.journal.WriteFill(*fill); err != nil {
			observ.Warn("journal_write_failed", map[string]any{"order_id": order.ID, "error": err.Error()})
		}
	}
}

// slippedPrice applies the configured model plus optional seeded jitter.
// Buys pay up, sells receive less.
func (s *Simulator) slippedPrice(side Side, price float64) float64 {
	adjusted := price
	switch s.cfg.SlippageModel {
	case SlippageFixedPct:
		frac := s.cfg.SlippagePct / 100
		if side == Buy {
			adjusted = price * (1 + frac)
		} else {
			adjusted = price * (1 - frac)
		}
	case SlippageFixedAmount:
		if side == Buy {
			adjusted = price + s.cfg.SlippageAmount
		} else {
			adjusted = price - s.cfg.SlippageAmount
		}
	}
	if s.cfg.SlippageMaxBps > s.cfg.SlippageMinBps {
		bps := s.cfg.SlippageMinBps + s.rng.Intn(s.cfg.SlippageMaxBps-s.cfg.SlippageMinBps+1)
		mult := 1 + float64(bps)/10000
		if side == Buy {
			adjusted *= mult
		} else {
			adjusted /= mult
		}
	}
	tick := tickSize(adjusted)
	if adjusted < tick {
		adjusted = tick
	}
	return roundToTick(adjusted, tick)
}

// applyLocked updates the position for a signed quantity delta (buys
// positive, sells negative), realizing P&L when a position is reduced,
// closed, or reversed.
func (s *Simulator) applyLocked(ticker string, delta int, price float64) {
	pos := s.positions[ticker]
	switch {
	case pos.Quantity == 0:
		pos.Quantity = delta
		pos.AvgCost = price
	case (pos.Quantity > 0) == (delta > 0):
		// adding to the position: weighted-average cost
		totalCost := pos.AvgCost*float64(pos.Quantity) + price*float64(delta)
		pos.Quantity += delta
		pos.AvgCost = totalCost / float64(pos.Quantity)
	default:
		closed := absInt(delta)
		if held := absInt(pos.Quantity); closed > held {
			closed = held
		}
		if pos.Quantity > 0 {
			s.realized += (price - pos.AvgCost) * float64(closed)
		} else {
			s.realized += (pos.AvgCost - price) * float64(closed)
		}
		prev := pos.Quantity
		pos.Quantity += delta
		if pos.Quantity == 0 {
			delete(s.positions, ticker)
			return
		}
		if (pos.Quantity > 0) != (prev > 0) {
			// reversed through zero: remainder entered at the fill price
			pos.AvgCost = price
		}
	}
	s.positions[ticker] = pos
}

// Snapshot returns a consistent mark-to-market view of the portfolio.
func (s *Simulator) Snapshot() PortfolioSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := PortfolioSnapshot{
		Cash:        s.cash,
		Equity:      s.cash,
		RealizedPnL: s.realized,
		Positions:   make(map[string]PositionView, len(s.positions)),
		AsOf:        s.clk.Now(),
	}
	for ticker, pos := range s.positions {
		view := PositionView{Quantity: pos.Quantity, AvgCost: pos.AvgCost}
		mark := pos.AvgCost
		if last, ok := s.quotes.LastPrice(ticker); ok {
			view.LastPrice = last
			mark = last
		}
		view.UnrealizedPnL = float64(pos.Quantity) * (mark - pos.AvgCost)
		snap.Equity += float64(pos.Quantity) * mark
		snap.Positions[ticker] = view
	}
	return snap
}

// Positions returns a copy of current holdings.
func (s *Simulator) Positions() map[string]Position {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]Position, len(s.positions))
	for t, p := range s.positions {
		out[t] = p
	}
	return out
}

// OrderHistory returns every submitted order, accepted and rejected, in
// acceptance order.
func (s *Simulator) OrderHistory() []Order {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Order, len(s.orders))
	copy(out, s.orders)
	return out
}

// Fills returns all executions in acceptance order.
func (s *Simulator) Fills() []Fill {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Fill, len(s.fills))
	copy(out, s.fills)
	return out
}

// Cash returns available cash.
func (s *Simulator) Cash() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cash
}

// Counts reports accepted and rejected order totals.
func (s *Simulator) Counts() (accepted, rejected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accepted, s.rejected
}

func tickSize(price float64) float64 {
	if price >= 1.00 {
		return 0.01
	}
	return 0.0001
}

func roundToTick(price, tick float64) float64 {
	return math.Round(price/tick) * tick
}

func absInt(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
