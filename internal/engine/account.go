package engine

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// Position is a signed holding in one symbol. Positive is long, negative
// is short. A flat position is never stored.
type Position struct {
	Symbol      string
	Quantity    int64
	AverageCost decimal.Decimal
}

func (p Position) IsLong() bool  { return p.Quantity > 0 }
func (p Position) IsShort() bool { return p.Quantity < 0 }

// Type returns LONG or SHORT.
func (p Position) Type() string {
	if p.IsShort() {
		return "SHORT"
	}
	return "LONG"
}

// MarketValue values the position at mark.
func (p Position) MarketValue(mark decimal.Decimal) decimal.Decimal {
	return mark.Mul(decimal.NewFromInt(p.Quantity))
}

// UnrealizedPnL is what closing the whole position at mark would realize.
func (p Position) UnrealizedPnL(mark decimal.Decimal) decimal.Decimal {
	return mark.Sub(p.AverageCost).Mul(decimal.NewFromInt(p.Quantity))
}

// Account aggregates one user's open orders, positions, realized profit
// and trade history.
type Account struct {
	UserID string

	mu             sync.Mutex
	activeOrders   map[string]*Order
	positions      map[string]*Position
	realizedProfit decimal.Decimal
	trades         []Trade
}

func newAccount(userID string) *Account {
	return &Account{
		UserID:       userID,
		activeOrders: make(map[string]*Order),
		positions:    make(map[string]*Position),
	}
}

// ApplyFill books one execution against the account and returns the
// profit it realized.
func (a *Account) ApplyFill(symbol string, side Side, qty int64, price decimal.Decimal) decimal.Decimal {
	if qty == 0 {
		return decimal.Zero
	}
	a.mu.Lock()
	defer a.mu.Unlock()

	var oldQty int64
	oldCost := decimal.Zero
	pos, ok := a.positions[symbol]
	if ok {
		oldQty, oldCost = pos.Quantity, pos.AverageCost
	}

	delta := qty
	if side == SELL {
		delta = -qty
	}
	newQty := oldQty + delta
	realized := decimal.Zero

	if oldQty != 0 && sign(oldQty) != sign(delta) {
		closing := decimal.NewFromInt(min(qty, abs(oldQty)))
		if oldQty > 0 {
			realized = price.Sub(oldCost).Mul(closing)
		} else {
			realized = oldCost.Sub(price).Mul(closing)
		}
		a.realizedProfit = a.realizedProfit.Add(realized)

		switch {
		case newQty == 0:
			delete(a.positions, symbol)
		case sign(newQty) != sign(oldQty):
			// The excess opens a fresh position at the fill price.
			pos.Quantity, pos.AverageCost = newQty, price
		default:
			pos.Quantity = newQty
		}
		return realized
	}

	cost := decimal.NewFromInt(abs(oldQty)).Mul(oldCost).
		Add(decimal.NewFromInt(qty).Mul(price)).
		Div(decimal.NewFromInt(abs(newQty)))
	if !ok {
		pos = &Position{Symbol: symbol}
		a.positions[symbol] = pos
	}
	pos.Quantity, pos.AverageCost = newQty, cost
	return realized
}

// RecordTrade appends to the trade history.
func (a *Account) RecordTrade(t Trade) {
	a.mu.Lock()
	a.trades = append(a.trades, t)
	a.mu.Unlock()
}

// Position returns the open position in symbol, if any.
func (a *Account) Position(symbol string) (Position, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	pos, ok := a.positions[symbol]
	if !ok {
		return Position{}, false
	}
	return *pos, true
}

// RealizedProfit returns the running realized profit.
func (a *Account) RealizedProfit() decimal.Decimal {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.realizedProfit
}

func (a *Account) addOrder(o *Order) {
	a.mu.Lock()
	a.activeOrders[o.ID] = o
	a.mu.Unlock()
}

func (a *Account) removeOrder(orderID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.activeOrders[orderID]; !ok {
		return false
	}
	delete(a.activeOrders, orderID)
	return true
}

// openOrdersIn counts active orders the account holds in symbol.
func (a *Account) openOrdersIn(symbol string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	n := 0
	for _, o := range a.activeOrders {
		if o.Symbol == symbol {
			n++
		}
	}
	return n
}

// AccountSummary is a read-only projection of an account.
type AccountSummary struct {
	Username       string          `json:"username"`
	RealizedProfit decimal.Decimal `json:"realizedProfit"`
	Positions      []PositionView  `json:"positions"`
	ActiveOrders   []Order         `json:"activeOrders"`
	ExecutedTrades []ExecutedTrade `json:"executedTrades"`
}

// PositionView renders a position for display.
type PositionView struct {
	Symbol        string           `json:"symbol"`
	Quantity      int64            `json:"quantity"`
	AverageCost   decimal.Decimal  `json:"averageCost"`
	PositionType  string           `json:"positionType"`
	UnrealizedPnL *decimal.Decimal `json:"unrealizedPnl,omitempty"`
}

// ExecutedTrade is a trade seen from one participant's side.
type ExecutedTrade struct {
	TradeID      string          `json:"tradeId"`
	OrderID      string          `json:"orderId"`
	Symbol       string          `json:"symbol"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Side         Side            `json:"side"`
	Timestamp    string          `json:"timestamp"`
	Counterparty string          `json:"counterparty"`
}

// RankingEntry is one row of the leaderboard.
type RankingEntry struct {
	Username         string          `json:"username"`
	RealizedProfit   decimal.Decimal `json:"realizedProfit"`
	PositionCount    int             `json:"positionCount"`
	ActiveOrderCount int             `json:"activeOrderCount"`
	TradeCount       int             `json:"tradeCount"`
}

// summary builds the projection. marks supplies optional prices for
// unrealized P&L; the caller must hold exclusive access to the ledger.
func (a *Account) summary(marks map[string]decimal.Decimal) AccountSummary {
	a.mu.Lock()
	defer a.mu.Unlock()

	s := AccountSummary{
		Username:       a.UserID,
		RealizedProfit: a.realizedProfit,
		Positions:      make([]PositionView, 0, len(a.positions)),
		ActiveOrders:   make([]Order, 0, len(a.activeOrders)),
		ExecutedTrades: make([]ExecutedTrade, 0, len(a.trades)),
	}
	for _, p := range a.positions {
		view := PositionView{
			Symbol:       p.Symbol,
			Quantity:     p.Quantity,
			AverageCost:  p.AverageCost,
			PositionType: p.Type(),
		}
		if mark, ok := marks[p.Symbol]; ok {
			pnl := p.UnrealizedPnL(mark)
			view.UnrealizedPnL = &pnl
		}
		s.Positions = append(s.Positions, view)
	}
	sort.Slice(s.Positions, func(i, j int) bool { return s.Positions[i].Symbol < s.Positions[j].Symbol })

	for _, o := range a.activeOrders {
		s.ActiveOrders = append(s.ActiveOrders, *o)
	}
	sort.Slice(s.ActiveOrders, func(i, j int) bool { return s.ActiveOrders[i].seq < s.ActiveOrders[j].seq })

	for _, t := range a.trades {
		s.ExecutedTrades = append(s.ExecutedTrades, a.executions(t)...)
	}
	return s
}

func (a *Account) rankingEntry() RankingEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	return RankingEntry{
		Username:         a.UserID,
		RealizedProfit:   a.realizedProfit,
		PositionCount:    len(a.positions),
		ActiveOrderCount: len(a.activeOrders),
		TradeCount:       a.executionCount(),
	}
}

// executions renders t from the account's side. A trade against the
// account's own order shows up twice, once per side.
func (a *Account) executions(t Trade) []ExecutedTrade {
	view := func(side Side) ExecutedTrade {
		et := ExecutedTrade{
			TradeID:      t.ID,
			OrderID:      t.BuyOrderID,
			Symbol:       t.Symbol,
			Price:        t.Price,
			Quantity:     t.Quantity,
			Side:         side,
			Timestamp:    t.Timestamp.Format("2006-01-02T15:04:05.000Z07:00"),
			Counterparty: t.SellerID,
		}
		if side == SELL {
			et.OrderID, et.Counterparty = t.SellOrderID, t.BuyerID
		}
		return et
	}

	var out []ExecutedTrade
	if t.BuyerID == a.UserID {
		out = append(out, view(BUY))
	}
	if t.SellerID == a.UserID {
		out = append(out, view(SELL))
	}
	return out
}

func (a *Account) executionCount() int {
	n := 0
	for _, t := range a.trades {
		n++
		if t.BuyerID == t.SellerID {
			n++
		}
	}
	return n
}

func sign(n int64) int {
	switch {
	case n > 0:
		return 1
	case n < 0:
		return -1
	}
	return 0
}

func abs(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}
