package engine

import (
	"fmt"
	"math/rand"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func benchExchange(b *testing.B) *Exchange {
	b.Helper()
	ex, err := NewExchange(testInstruments)
	if err != nil {
		b.Fatal(err)
	}
	return ex
}

func alternatingSide(i int) Side {
	if i%2 == 0 {
		return SELL
	}
	return BUY
}

func BenchmarkOrderSubmission(b *testing.B) {
	ex := benchExchange(b)
	qty := decimal.NewFromInt(100)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		price := decimal.New(int64(15000+i%100), -2)
		_, _ = ex.Submit("AAPL", alternatingSide(i), price, qty, "bench")
	}
}

func BenchmarkConcurrentOrders(b *testing.B) {
	ex := benchExchange(b)
	qty := decimal.NewFromInt(100)
	var worker atomic.Int64

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		id := worker.Add(1)
		symbol := testInstruments[int(id)%len(testInstruments)]
		user := fmt.Sprintf("bench-%d", id)
		i := 0
		for pb.Next() {
			price := decimal.New(int64(15000+i%100), -2)
			_, _ = ex.Submit(symbol, alternatingSide(i), price, qty, user)
			i++
		}
	})
}

// TestThroughput measures sustained throughput
func TestThroughput(t *testing.T) {
	if testing.Short() {
		t.Skip("throughput run skipped in short mode")
	}
	ex := newTestExchange(t)

	numOrders := 100000
	numWorkers := 10
	ordersPerWorker := numOrders / numWorkers

	var wg sync.WaitGroup
	var totalOrders atomic.Int64
	start := time.Now()

	for w := 0; w < numWorkers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			rng := rand.New(rand.NewSource(int64(workerID)))
			user := fmt.Sprintf("worker-%d", workerID)

			for i := 0; i < ordersPerWorker; i++ {
				price := decimal.New(int64(15000+rng.Intn(100)), -2)
				_, err := ex.Submit("AAPL", alternatingSide(i), price, decimal.NewFromInt(100), user)
				if err == nil {
					totalOrders.Add(1)
				}
			}
		}(w)
	}

	wg.Wait()
	elapsed := time.Since(start)

	processed := totalOrders.Load()
	assert.Equal(t, int64(numOrders), processed)
	t.Logf("%d orders in %.2fs: %.0f orders/second", processed, elapsed.Seconds(),
		float64(processed)/elapsed.Seconds())
}

// TestConcurrentAccess hammers several instruments at once and then checks
// that the books and the ledger still agree.
func TestConcurrentAccess(t *testing.T) {
	ex := newTestExchange(t)

	numGoroutines := 40
	ordersPerGoroutine := 100

	var wg sync.WaitGroup
	for g := 0; g < numGoroutines; g++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			symbol := testInstruments[id%len(testInstruments)]
			user := fmt.Sprintf("user-%d", id%7)

			for i := 0; i < ordersPerGoroutine; i++ {
				price := decimal.NewFromInt(int64(100 + (id+i)%10))
				res, err := ex.Submit(symbol, alternatingSide(i), price, decimal.NewFromInt(int64(1+i%5)), user)
				if err != nil {
					t.Errorf("submit: %v", err)
					return
				}
				switch i % 25 {
				case 0:
					_ = ex.Cancel(symbol, res.OrderID, user)
				case 13:
					_, _ = ex.CancelAll(symbol, user)
				case 7:
					_ = ex.AllOrderBooks()
					_ = ex.Ranking()
				}
			}
		}(g)
	}
	wg.Wait()

	net := make(map[string]int64)
	resting := make(map[string]int64)
	for _, entry := range ex.Ranking() {
		acct, err := ex.Account(entry.Username)
		require.NoError(t, err)
		for _, p := range acct.Positions {
			net[p.Symbol] += p.Quantity
		}
		for _, o := range acct.ActiveOrders {
			resting[o.Symbol] += o.Quantity
		}
	}
	for symbol, book := range ex.AllOrderBooks() {
		assert.Zero(t, net[symbol], "%s positions net to zero", symbol)

		var depth int64
		for _, l := range slices.Concat(book.Bids, book.Asks) {
			depth += l.Quantity
		}
		assert.Equal(t, resting[symbol], depth, "%s book matches the accounts' active orders", symbol)

		if len(book.Bids) > 0 && len(book.Asks) > 0 {
			assert.True(t, book.Bids[0].Price.LessThan(book.Asks[0].Price), "%s is crossed", symbol)
		}
	}
}

// TestLatencyDistribution measures latency percentiles
func TestLatencyDistribution(t *testing.T) {
	if testing.Short() {
		t.Skip("latency run skipped in short mode")
	}
	ex := newTestExchange(t)

	numOrders := 10000
	latencies := make([]time.Duration, numOrders)
	rng := rand.New(rand.NewSource(1))

	for i := 0; i < numOrders; i++ {
		price := decimal.New(int64(15000+rng.Intn(100)), -2)
		start := time.Now()
		_, err := ex.Submit("AAPL", alternatingSide(i), price, decimal.NewFromInt(100), "latency")
		latencies[i] = time.Since(start)
		require.NoError(t, err)
	}

	slices.Sort(latencies)
	p50 := latencies[numOrders*50/100]
	p99 := latencies[numOrders*99/100]
	p999 := latencies[numOrders*999/1000]

	t.Logf("p50 %s  p99 %s  p999 %s", p50, p99, p999)
	if p99 > 50*time.Millisecond {
		t.Logf("p99 latency %s exceeds 50ms", p99)
	}
}
