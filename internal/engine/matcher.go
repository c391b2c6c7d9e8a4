package engine

import (
	"time"

	"github.com/google/uuid"
)

// FillHandler is called once per match, after both orders have been
// decremented and before matching continues. maker is the resting order.
type FillHandler func(maker *Order, trade Trade)

// Matcher runs price-time matching of one incoming order against one book.
type Matcher struct {
	now   func() time.Time
	newID func() string
}

// NewMatcher creates a matcher stamping trades with the given clock.
func NewMatcher(now func() time.Time) *Matcher {
	if now == nil {
		now = time.Now
	}
	return &Matcher{
		now:   now,
		newID: func() string { return uuid.New().String() },
	}
}

// Match walks the opposite side best level first, FIFO within a level,
// until the incoming order is exhausted, the side is empty, or the best
// price no longer crosses. Any residual rests on the incoming order's side.
func (m *Matcher) Match(book *OrderBook, incoming *Order, onFill FillHandler) []Trade {
	var trades []Trade
	contra := incoming.Side.Opposite()

	for incoming.Quantity > 0 {
		level := book.best(contra)
		if level == nil {
			break
		}
		// Levels are visited best first, so nothing further can cross either.
		if !incoming.crosses(level.Price) {
			break
		}

		for len(level.Orders) > 0 && incoming.Quantity > 0 {
			maker := level.Orders[0]
			qty := min(incoming.Quantity, maker.Quantity)

			// The resting order set the price: it was accepted before the
			// incoming one could exist.
			price := maker.Price

			maker.fill(qty, price)
			incoming.fill(qty, price)
			if maker.Quantity == 0 {
				book.popFront(level)
			}

			trade := m.newTrade(incoming, maker, qty)
			trades = append(trades, trade)
			if onFill != nil {
				onFill(maker, trade)
			}
		}

		if len(level.Orders) == 0 {
			book.dropBest(contra)
		}
	}

	if incoming.Quantity > 0 {
		book.Add(incoming)
	}
	return trades
}

func (m *Matcher) newTrade(incoming, maker *Order, qty int64) Trade {
	buy, sell := incoming, maker
	if incoming.Side == SELL {
		buy, sell = maker, incoming
	}
	return Trade{
		ID:          m.newID(),
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Symbol:      maker.Symbol,
		Quantity:    qty,
		Price:       maker.Price,
		Timestamp:   m.now(),
		BuyerID:     buy.UserID,
		SellerID:    sell.UserID,
	}
}
