package engine

import (
	"encoding/json"
	"fmt"
	"slices"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// OrderBook holds the resting orders of one symbol. It is not safe for
// concurrent use; the owning market serializes access.
type OrderBook struct {
	Symbol string

	// Buy orders sorted by price (high to low), FIFO within a level
	Bids []*PriceLevel

	// Sell orders sorted by price (low to high), FIFO within a level
	Asks []*PriceLevel

	// Quick lookup of resting orders by ID
	orders map[string]*Order
}

// NewOrderBook creates a new order book
func NewOrderBook(symbol string) *OrderBook {
	return &OrderBook{
		Symbol: symbol,
		Bids:   make([]*PriceLevel, 0),
		Asks:   make([]*PriceLevel, 0),
		orders: make(map[string]*Order),
	}
}

// Add rests an order at the back of its price level.
func (ob *OrderBook) Add(order *Order) {
	if order.Quantity <= 0 || !order.Status.IsOpen() {
		panic(invariantf("resting order %s with quantity %d and status %s", order.ID, order.Quantity, order.Status))
	}
	if _, exists := ob.orders[order.ID]; exists {
		panic(invariantf("order %s already rests in %s", order.ID, ob.Symbol))
	}

	levels := ob.side(order.Side)
	i, found := ob.levelIndex(order.Side, order.Price)
	if found {
		(*levels)[i].Orders = append((*levels)[i].Orders, order)
	} else {
		*levels = slices.Insert(*levels, i, &PriceLevel{
			Price:  order.Price,
			Orders: []*Order{order},
		})
	}
	ob.orders[order.ID] = order
}

// Remove takes a resting order out of the book, pruning its level if it
// becomes empty. It reports whether the order was resting here.
func (ob *OrderBook) Remove(orderID string) bool {
	order, exists := ob.orders[orderID]
	if !exists {
		return false
	}

	levels := ob.side(order.Side)
	i, found := ob.levelIndex(order.Side, order.Price)
	if !found {
		panic(invariantf("order %s indexed in %s but its level %s is missing", orderID, ob.Symbol, order.Price))
	}
	level := (*levels)[i]
	j := slices.Index(level.Orders, order)
	if j < 0 {
		panic(invariantf("order %s indexed in %s but absent from level %s", orderID, ob.Symbol, order.Price))
	}
	level.Orders = slices.Delete(level.Orders, j, j+1)
	if len(level.Orders) == 0 {
		*levels = slices.Delete(*levels, i, i+1)
	}
	delete(ob.orders, orderID)
	return true
}

// RemoveAllForUser removes every resting order of a user on both sides,
// calling fn for each one removed. It returns the number removed.
func (ob *OrderBook) RemoveAllForUser(userID string, fn func(*Order)) int {
	count := 0
	for _, levels := range []*[]*PriceLevel{&ob.Bids, &ob.Asks} {
		*levels = slices.DeleteFunc(*levels, func(level *PriceLevel) bool {
			level.Orders = slices.DeleteFunc(level.Orders, func(o *Order) bool {
				if o.UserID != userID {
					return false
				}
				delete(ob.orders, o.ID)
				count++
				if fn != nil {
					fn(o)
				}
				return true
			})
			return len(level.Orders) == 0
		})
	}
	return count
}

// Contains reports whether the order currently rests in the book.
func (ob *OrderBook) Contains(orderID string) bool {
	_, ok := ob.orders[orderID]
	return ok
}

// Len returns the number of resting orders.
func (ob *OrderBook) Len() int {
	return len(ob.orders)
}

// BestBid returns the highest buy price
func (ob *OrderBook) BestBid() (decimal.Decimal, bool) {
	if len(ob.Bids) == 0 {
		return decimal.Zero, false
	}
	return ob.Bids[0].Price, true
}

// BestAsk returns the lowest sell price
func (ob *OrderBook) BestAsk() (decimal.Decimal, bool) {
	if len(ob.Asks) == 0 {
		return decimal.Zero, false
	}
	return ob.Asks[0].Price, true
}

// Snapshot aggregates the remaining quantity per price level.
func (ob *OrderBook) Snapshot() BookSnapshot {
	return BookSnapshot{
		Symbol:    ob.Symbol,
		Timestamp: time.Now().UnixMilli(),
		Bids:      aggregate(ob.Bids),
		Asks:      aggregate(ob.Asks),
	}
}

func aggregate(levels []*PriceLevel) []LevelSnapshot {
	out := make([]LevelSnapshot, 0, len(levels))
	for _, level := range levels {
		if qty := level.TotalQuantity(); qty > 0 {
			out = append(out, LevelSnapshot{Price: level.Price, Quantity: qty})
		}
	}
	return out
}

// best returns the best level on a side, or nil when the side is empty.
func (ob *OrderBook) best(side Side) *PriceLevel {
	levels := *ob.side(side)
	if len(levels) == 0 {
		return nil
	}
	return levels[0]
}

// dropBest prunes the best level on a side. The level must be empty.
func (ob *OrderBook) dropBest(side Side) {
	levels := ob.side(side)
	if len((*levels)[0].Orders) != 0 {
		panic(invariantf("pruning non-empty level %s in %s", (*levels)[0].Price, ob.Symbol))
	}
	*levels = (*levels)[1:]
}

// popFront removes the first order of a level after it has been filled.
func (ob *OrderBook) popFront(level *PriceLevel) {
	delete(ob.orders, level.Orders[0].ID)
	level.Orders[0] = nil
	level.Orders = level.Orders[1:]
}

func (ob *OrderBook) side(side Side) *[]*PriceLevel {
	if side == BUY {
		return &ob.Bids
	}
	return &ob.Asks
}

// levelIndex finds the level holding price, or where it would be inserted.
func (ob *OrderBook) levelIndex(side Side, price decimal.Decimal) (int, bool) {
	levels := *ob.side(side)
	i := sort.Search(len(levels), func(i int) bool {
		if side == BUY {
			return levels[i].Price.LessThanOrEqual(price)
		}
		return levels[i].Price.GreaterThanOrEqual(price)
	})
	return i, i < len(levels) && levels[i].Price.Equal(price)
}

// BookSnapshot represents a point-in-time view of the order book
type BookSnapshot struct {
	Symbol    string          `json:"symbol"`
	Timestamp int64           `json:"timestamp"`
	Bids      []LevelSnapshot `json:"bids"`
	Asks      []LevelSnapshot `json:"asks"`
}

// Depth keeps at most n levels per side. n <= 0 keeps everything.
func (s BookSnapshot) Depth(n int) BookSnapshot {
	if n <= 0 {
		return s
	}
	if len(s.Bids) > n {
		s.Bids = s.Bids[:n]
	}
	if len(s.Asks) > n {
		s.Asks = s.Asks[:n]
	}
	return s
}

// LevelSnapshot represents aggregated quantity at a price level.
// It encodes as a [price, quantity] pair.
type LevelSnapshot struct {
	Price    decimal.Decimal
	Quantity int64
}

func (l LevelSnapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{json.Number(l.Price.String()), l.Quantity})
}

func (l *LevelSnapshot) UnmarshalJSON(data []byte) error {
	var pair []json.RawMessage
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}
	if len(pair) != 2 {
		return fmt.Errorf("price level: want [price, quantity], got %s", data)
	}
	if err := l.Price.UnmarshalJSON(pair[0]); err != nil {
		return err
	}
	return json.Unmarshal(pair[1], &l.Quantity)
}
