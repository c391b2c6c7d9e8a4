package engine

import (
	"errors"
	"slices"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// market is one instrument: its book plus the lock that serializes every
// mutation of it.
type market struct {
	mu     sync.Mutex
	book   *OrderBook
	trades []Trade
}

// Exchange routes orders to per-instrument books and keeps the accounts of
// both sides of every match consistent with the books.
//
// Locking: a mutating call holds its market's mu and, inside it, a shared
// hold on ledger for its whole validate-match-settle sequence. Reads that
// span instruments or accounts take ledger exclusively, so they only ever
// see state between complete operations. Account and index locks are
// leaves and are never held across each other.
type Exchange struct {
	markets map[string]*market
	symbols []string

	ledger sync.RWMutex

	accountsMu sync.RWMutex
	accounts   map[string]*Account

	ordersMu sync.RWMutex
	orders   map[string]*Order

	matcher  *Matcher
	seq      atomic.Uint64
	now      func() time.Time
	log      *zap.Logger
	recorder Recorder
}

// Option configures an Exchange.
type Option func(*Exchange)

// WithLogger sets the logger. The default discards everything.
func WithLogger(l *zap.Logger) Option {
	return func(e *Exchange) { e.log = l }
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) Option {
	return func(e *Exchange) { e.recorder = r }
}

// WithClock replaces time.Now for order and trade timestamps.
func WithClock(now func() time.Time) Option {
	return func(e *Exchange) { e.now = now }
}

// NewExchange creates an exchange trading the given fixed set of symbols.
func NewExchange(symbols []string, opts ...Option) (*Exchange, error) {
	if len(symbols) == 0 {
		return nil, errors.New("at least one instrument is required")
	}
	e := &Exchange{
		markets:  make(map[string]*market, len(symbols)),
		accounts: make(map[string]*Account),
		orders:   make(map[string]*Order),
		now:      time.Now,
		log:      zap.NewNop(),
		recorder: nopRecorder{},
	}
	for _, opt := range opts {
		opt(e)
	}
	for _, s := range symbols {
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, errors.New("blank instrument symbol")
		}
		if _, dup := e.markets[s]; dup {
			return nil, errors.New("duplicate instrument " + s)
		}
		e.markets[s] = &market{book: NewOrderBook(s)}
		e.symbols = append(e.symbols, s)
	}
	sort.Strings(e.symbols)
	e.matcher = NewMatcher(e.now)

	e.log.Info("exchange initialized", zap.Strings("instruments", e.symbols))
	return e, nil
}

// Instruments lists the tradable symbols in sorted order.
func (e *Exchange) Instruments() []string {
	return slices.Clone(e.symbols)
}

// MaxOrderQuantity bounds a single order so that level totals and positions
// built from many orders stay far from int64 overflow.
const MaxOrderQuantity int64 = 1_000_000_000

// Submit validates and matches a limit order. quantity is floored to a
// whole number. Every resulting trade is settled on both accounts before
// Submit returns.
func (e *Exchange) Submit(symbol string, side Side, price, quantity decimal.Decimal, userID string) (*SubmitResult, error) {
	const op = "submit order"

	m, ok := e.markets[symbol]
	switch {
	case !ok:
		return nil, e.rejected(op, ErrUnknownInstrument)
	case !side.valid():
		return nil, e.rejected(op, ErrInvalidSide)
	case userID == "":
		return nil, e.rejected(op, ErrInvalidUser)
	case !price.IsPositive():
		return nil, e.rejected(op, ErrInvalidPrice)
	}
	qty := quantity.Floor()
	if !qty.IsPositive() || qty.GreaterThan(decimal.NewFromInt(MaxOrderQuantity)) {
		return nil, e.rejected(op, ErrInvalidQuantity)
	}

	start := time.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	e.ledger.RLock()
	defer e.ledger.RUnlock()

	acct := e.accountFor(userID)
	order := &Order{
		ID:               uuid.New().String(),
		Symbol:           symbol,
		Side:             side,
		Price:            price,
		Quantity:         qty.IntPart(),
		OriginalQuantity: qty.IntPart(),
		UserID:           userID,
		Status:           ACTIVE,
		Timestamp:        e.now(),
		seq:              e.seq.Add(1),
	}
	e.ordersMu.Lock()
	e.orders[order.ID] = order
	e.ordersMu.Unlock()
	acct.addOrder(order)

	trades := e.matcher.Match(m.book, order, func(maker *Order, t Trade) {
		e.settle(m, maker, t)
	})
	if order.Status == FILLED && !acct.removeOrder(order.ID) {
		e.violated("filled order %s missing from account %s", order.ID, userID)
	}

	e.recorder.OrderAccepted(symbol, side)
	e.recorder.MatchLatency(symbol, time.Since(start))
	e.log.Debug("order accepted",
		zap.String("order_id", order.ID),
		zap.String("instrument", symbol),
		zap.String("side", string(side)),
		zap.String("price", price.String()),
		zap.Int64("quantity", order.OriginalQuantity),
		zap.String("user", userID),
		zap.String("status", string(order.Status)),
		zap.Int("trades", len(trades)),
	)

	return &SubmitResult{
		OrderID:           order.ID,
		Status:            order.Status,
		FilledQuantity:    order.FilledQuantity(),
		RemainingQuantity: order.Quantity,
		Trades:            trades,
	}, nil
}

// settle applies one trade to both counterparties. It runs inside the
// market lock of the trade's instrument.
func (e *Exchange) settle(m *market, maker *Order, t Trade) {
	buyer := e.lookupAccount(t.BuyerID)
	seller := e.lookupAccount(t.SellerID)
	if buyer == nil || seller == nil {
		e.violated("trade %s references an unknown account", t.ID)
	}

	buyer.ApplyFill(t.Symbol, BUY, t.Quantity, t.Price)
	seller.ApplyFill(t.Symbol, SELL, t.Quantity, t.Price)
	buyer.RecordTrade(t)
	if seller != buyer {
		seller.RecordTrade(t)
	}

	if maker.Status == FILLED {
		owner := buyer
		if maker.Side == SELL {
			owner = seller
		}
		if !owner.removeOrder(maker.ID) {
			e.violated("filled order %s missing from account %s", maker.ID, maker.UserID)
		}
	}
	m.trades = append(m.trades, t)

	e.recorder.TradeExecuted(t.Symbol, t.Quantity, t.Price)
	e.log.Debug("match executed",
		zap.String("trade_id", t.ID),
		zap.String("instrument", t.Symbol),
		zap.Int64("quantity", t.Quantity),
		zap.String("price", t.Price.String()),
		zap.String("buyer", t.BuyerID),
		zap.String("seller", t.SellerID),
	)
}

// Cancel cancels one open order owned by userID.
func (e *Exchange) Cancel(symbol, orderID, userID string) error {
	const op = "cancel order"

	m, ok := e.markets[symbol]
	if !ok {
		return e.rejected(op, ErrUnknownInstrument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e.ledger.RLock()
	defer e.ledger.RUnlock()

	order := e.lookupOrder(orderID)
	switch {
	case order == nil:
		return e.rejected(op, ErrOrderNotFound)
	case order.UserID != userID:
		return e.rejected(op, ErrOrderNotOwned)
	case order.Symbol != symbol:
		return e.rejected(op, ErrOrderWrongInstrument)
	case !order.Status.IsOpen():
		return e.rejected(op, ErrOrderNotCancellable)
	}

	if !m.book.Remove(orderID) {
		e.violated("open order %s is not resting in %s", orderID, symbol)
	}
	order.setStatus(CANCELLED)
	acct := e.lookupAccount(userID)
	if acct == nil || !acct.removeOrder(orderID) {
		e.violated("open order %s missing from account %s", orderID, userID)
	}

	e.recorder.OrdersCancelled(symbol, 1)
	e.log.Info("order cancelled",
		zap.String("order_id", orderID),
		zap.String("instrument", symbol),
		zap.String("user", userID),
	)
	return nil
}

// CancelAll cancels every open order userID holds in symbol and returns
// how many were cancelled.
func (e *Exchange) CancelAll(symbol, userID string) (int, error) {
	const op = "cancel all orders"

	m, ok := e.markets[symbol]
	if !ok {
		return 0, e.rejected(op, ErrUnknownInstrument)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	e.ledger.RLock()
	defer e.ledger.RUnlock()

	acct := e.lookupAccount(userID)
	if acct == nil {
		return 0, e.rejected(op, ErrUnknownUser)
	}

	count := m.book.RemoveAllForUser(userID, func(o *Order) {
		o.setStatus(CANCELLED)
		if !acct.removeOrder(o.ID) {
			e.violated("open order %s missing from account %s", o.ID, userID)
		}
	})
	if n := acct.openOrdersIn(symbol); n != 0 {
		e.violated("account %s still holds %d open orders in %s after cancel all", userID, n, symbol)
	}

	e.recorder.OrdersCancelled(symbol, count)
	e.log.Info("orders cancelled",
		zap.String("instrument", symbol),
		zap.String("user", userID),
		zap.Int("count", count),
	)
	return count, nil
}

// OrderBook returns the aggregated depth of one instrument.
func (e *Exchange) OrderBook(symbol string) (BookSnapshot, error) {
	m, ok := e.markets[symbol]
	if !ok {
		return BookSnapshot{}, reject("get order book", ErrUnknownInstrument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.book.Snapshot(), nil
}

// AllOrderBooks returns the depth of every instrument at one point in time.
func (e *Exchange) AllOrderBooks() map[string]BookSnapshot {
	e.ledger.Lock()
	defer e.ledger.Unlock()

	out := make(map[string]BookSnapshot, len(e.markets))
	for symbol, m := range e.markets {
		out[symbol] = m.book.Snapshot()
	}
	return out
}

// Order returns a copy of any order ever accepted.
func (e *Exchange) Order(orderID string) (Order, error) {
	o := e.lookupOrder(orderID)
	if o == nil {
		return Order{}, reject("get order", ErrOrderNotFound)
	}
	m := e.markets[o.Symbol]
	m.mu.Lock()
	defer m.mu.Unlock()
	return *o, nil
}

// Trades returns up to limit of the most recent trades in symbol, newest
// first. limit <= 0 returns them all.
func (e *Exchange) Trades(symbol string, limit int) ([]Trade, error) {
	m, ok := e.markets[symbol]
	if !ok {
		return nil, reject("get trades", ErrUnknownInstrument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	n := len(m.trades)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Trade, 0, n)
	for i := len(m.trades) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, m.trades[i])
	}
	return out, nil
}

// Account returns the summary of a user who has submitted at least one order.
func (e *Exchange) Account(userID string) (AccountSummary, error) {
	e.ledger.Lock()
	defer e.ledger.Unlock()

	acct := e.lookupAccount(userID)
	if acct == nil {
		return AccountSummary{}, reject("get account", ErrUnknownUser)
	}
	return acct.summary(e.marks()), nil
}

// Ranking orders every account by realized profit, highest first, ties by
// username.
func (e *Exchange) Ranking() []RankingEntry {
	e.ledger.Lock()
	defer e.ledger.Unlock()

	e.accountsMu.RLock()
	out := make([]RankingEntry, 0, len(e.accounts))
	for _, acct := range e.accounts {
		out = append(out, acct.rankingEntry())
	}
	e.accountsMu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if c := out[i].RealizedProfit.Cmp(out[j].RealizedProfit); c != 0 {
			return c > 0
		}
		return out[i].Username < out[j].Username
	})
	return out
}

// marks prices each instrument for unrealized P&L: the mid of the best
// bid and ask, else the last trade. Caller holds ledger exclusively.
func (e *Exchange) marks() map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(e.markets))
	for symbol, m := range e.markets {
		bid, hasBid := m.book.BestBid()
		ask, hasAsk := m.book.BestAsk()
		switch {
		case hasBid && hasAsk:
			out[symbol] = bid.Add(ask).Div(decimal.NewFromInt(2))
		case len(m.trades) > 0:
			out[symbol] = m.trades[len(m.trades)-1].Price
		}
	}
	return out
}

// accountFor returns the user's account, creating it on first use.
func (e *Exchange) accountFor(userID string) *Account {
	if acct := e.lookupAccount(userID); acct != nil {
		return acct
	}
	e.accountsMu.Lock()
	defer e.accountsMu.Unlock()
	if acct, ok := e.accounts[userID]; ok {
		return acct
	}
	acct := newAccount(userID)
	e.accounts[userID] = acct
	return acct
}

func (e *Exchange) lookupAccount(userID string) *Account {
	e.accountsMu.RLock()
	defer e.accountsMu.RUnlock()
	return e.accounts[userID]
}

func (e *Exchange) lookupOrder(orderID string) *Order {
	e.ordersMu.RLock()
	defer e.ordersMu.RUnlock()
	return e.orders[orderID]
}

func (e *Exchange) rejected(op string, err error) error {
	e.recorder.OrderRejected(rejectReason(err))
	return reject(op, err)
}

// violated logs and panics. A broken book/ledger guarantee is never patched.
func (e *Exchange) violated(format string, args ...any) {
	err := invariantf(format, args...)
	e.log.Error("invariant violated", zap.Error(err))
	panic(err)
}
