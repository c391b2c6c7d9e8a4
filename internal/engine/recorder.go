package engine

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// Recorder receives engine events for instrumentation.
type Recorder interface {
	OrderAccepted(symbol string, side Side)
	OrderRejected(reason string)
	TradeExecuted(symbol string, qty int64, price decimal.Decimal)
	OrdersCancelled(symbol string, n int)
	MatchLatency(symbol string, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) OrderAccepted(string, Side)                   {}
func (nopRecorder) OrderRejected(string)                         {}
func (nopRecorder) TradeExecuted(string, int64, decimal.Decimal) {}
func (nopRecorder) OrdersCancelled(string, int)                  {}
func (nopRecorder) MatchLatency(string, time.Duration)           {}

// rejectReason names the sentinel behind a rejection for metrics labels.
func rejectReason(err error) string {
	for _, r := range []struct {
		err    error
		reason string
	}{
		{ErrUnknownInstrument, "unknown_instrument"},
		{ErrInvalidSide, "invalid_side"},
		{ErrInvalidPrice, "invalid_price"},
		{ErrInvalidQuantity, "invalid_quantity"},
		{ErrInvalidUser, "invalid_user"},
		{ErrUnknownUser, "unknown_user"},
		{ErrOrderNotFound, "order_not_found"},
		{ErrOrderNotOwned, "order_not_owned"},
		{ErrOrderWrongInstrument, "order_wrong_instrument"},
		{ErrOrderNotCancellable, "order_not_cancellable"},
	} {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "other"
}
