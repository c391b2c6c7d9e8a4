package engine

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Side represents buy or sell
type Side string

const (
	BUY  Side = "BUY"
	SELL Side = "SELL"
)

// ParseSide accepts "buy"/"sell" in any case.
func ParseSide(s string) (Side, error) {
	switch Side(strings.ToUpper(strings.TrimSpace(s))) {
	case BUY:
		return BUY, nil
	case SELL:
		return SELL, nil
	}
	return "", fmt.Errorf("side %q: %w", s, ErrInvalidSide)
}

// Opposite returns the side an order of this side matches against.
func (s Side) Opposite() Side {
	if s == BUY {
		return SELL
	}
	return BUY
}

func (s Side) valid() bool {
	return s == BUY || s == SELL
}

// Order represents a single limit order. Quantity is the remaining quantity
// and only ever decreases.
type Order struct {
	ID                 string              `json:"orderId"`
	Symbol             string              `json:"book"`
	Side               Side                `json:"type"`
	Price              decimal.Decimal     `json:"price"`
	Quantity           int64               `json:"quantity"`
	OriginalQuantity   int64               `json:"originalQuantity"`
	UserID             string              `json:"username"`
	Status             OrderStatus         `json:"status"`
	Timestamp          time.Time           `json:"timestamp"`
	LastExecutionPrice decimal.NullDecimal `json:"lastExecutionPrice"`

	// seq is the arrival sequence; account summaries list open orders by it.
	seq uint64
}

// FilledQuantity returns how much of the order has executed.
func (o *Order) FilledQuantity() int64 {
	return o.OriginalQuantity - o.Quantity
}

// fill decrements the remaining quantity and moves the order along its
// status machine.
func (o *Order) fill(qty int64, price decimal.Decimal) {
	if qty <= 0 || qty > o.Quantity {
		panic(invariantf("fill of %d on order %s with %d remaining", qty, o.ID, o.Quantity))
	}
	o.Quantity -= qty
	o.LastExecutionPrice = decimal.NewNullDecimal(price)
	if o.Quantity == 0 {
		o.setStatus(FILLED)
	} else {
		o.setStatus(PARTIALLY_FILLED)
	}
}

// crosses reports whether the order is marketable against a resting level price.
func (o *Order) crosses(levelPrice decimal.Decimal) bool {
	if o.Side == BUY {
		return o.Price.GreaterThanOrEqual(levelPrice)
	}
	return o.Price.LessThanOrEqual(levelPrice)
}

// Trade represents an executed trade
type Trade struct {
	ID          string          `json:"tradeId"`
	BuyOrderID  string          `json:"buyOrderId"`
	SellOrderID string          `json:"sellOrderId"`
	Symbol      string          `json:"symbol"`
	Quantity    int64           `json:"quantity"`
	Price       decimal.Decimal `json:"price"`
	Timestamp   time.Time       `json:"timestamp"`
	BuyerID     string          `json:"buyer"`
	SellerID    string          `json:"seller"`
}

// PriceLevel represents all resting orders at a specific price, in arrival order
type PriceLevel struct {
	Price  decimal.Decimal
	Orders []*Order
}

// TotalQuantity sums the remaining quantity of every order at the level.
func (pl *PriceLevel) TotalQuantity() int64 {
	var total int64
	for _, o := range pl.Orders {
		total += o.Quantity
	}
	return total
}

// SubmitResult represents the result of submitting an order
type SubmitResult struct {
	OrderID           string      `json:"orderId"`
	Status            OrderStatus `json:"status"`
	FilledQuantity    int64       `json:"filledQuantity"`
	RemainingQuantity int64       `json:"remainingQuantity"`
	Trades            []Trade     `json:"trades,omitempty"`
}
