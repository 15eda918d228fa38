package broker

import "fmt"

// OrderError reason types. Strategy code branches on these rather than on
// message text.
const (
	ErrTypeNoPriceData          = "no_price_data"
	ErrTypeInsufficientFunds    = "insufficient_funds"
	ErrTypeInsufficientPosition = "insufficient_position"
	ErrTypeInvalidOrder         = "invalid_order"
)

// OrderError is a typed rejection returned by SubmitOrder.
type OrderError struct {
	Type    string
	Ticker  string
	Message string
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s error for %s: %s", e.Type, e.Ticker, e.Message)
}

func NewNoPriceDataError(ticker string) *OrderError {
	return &OrderError{Type: ErrTypeNoPriceData, Ticker: ticker, Message: "no price data at current simulation time"}
}

func NewInsufficientFundsError(ticker string, need, have float64) *OrderError {
	return &OrderError{
		Type:    ErrTypeInsufficientFunds,
		Ticker:  ticker,
		Message: fmt.Sprintf("need %.2f, have %.2f", need, have),
	}
}

func NewInsufficientPositionError(ticker string, want, have int) *OrderError {
	return &OrderError{
		Type:    ErrTypeInsufficientPosition,
		Ticker:  ticker,
		Message: fmt.Sprintf("sell %d exceeds holding %d and short selling is disabled", want, have),
	}
}

func NewInvalidOrderError(ticker, message string) *OrderError {
	return &OrderError{Type: ErrTypeInvalidOrder, Ticker: ticker, Message: message}
}
