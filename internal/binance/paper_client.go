package binance

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

// PaperClient simulates the venue for paper trading: random-walk prices,
// an in-memory order book and a simulated USDT balance.
type PaperClient struct {
	mu sync.RWMutex

	prices     map[string]float64
	lastUpdate time.Time

	usdtBalance float64
	assets      map[string]float64

	nextOrderID int64
	openOrders  map[string][]OpenOrder // symbol -> orders

	rng *rand.Rand
}

// NewPaperClient seeds the simulated account with an initial USDT
// balance and realistic base prices.
func NewPaperClient(initialUSDT float64) *PaperClient {
	return &PaperClient{
		prices: map[string]float64{
			"BTCUSDT":  104500.00,
			"ETHUSDT":  3900.00,
			"BNBUSDT":  710.00,
			"SOLUSDT":  220.00,
			"XRPUSDT":  2.35,
			"ADAUSDT":  1.05,
			"DOGEUSDT": 0.40,
			"AVAXUSDT": 50.00,
			"DOTUSDT":  9.50,
			"LINKUSDT": 28.00,
			"NEARUSDT": 7.00,
			"ARBUSDT":  1.10,
			"OPUSDT":   2.80,
		},
		lastUpdate:  time.Now(),
		usdtBalance: initialUSDT,
		assets:      make(map[string]float64),
		nextOrderID: 1,
		openOrders:  make(map[string][]OpenOrder),
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// updatePrices random-walks each price by up to +/-0.5% once per second.
func (p *PaperClient) updatePrices() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if time.Since(p.lastUpdate) < time.Second {
		return
	}
	for symbol, price := range p.prices {
		change := (p.rng.Float64() - 0.5) * 0.01
		p.prices[symbol] = price * (1 + change)
	}
	p.lastUpdate = time.Now()
}

func (p *PaperClient) price(symbol string) float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if price, ok := p.prices[symbol]; ok {
		return price
	}
	return 100.0
}

// GetKlines fabricates a candle series ending at the current price.
func (p *PaperClient) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	p.updatePrices()
	base := p.price(symbol)

	p.mu.Lock()
	defer p.mu.Unlock()

	klines := make([]Kline, limit)
	price := base
	now := time.Now()
	for i := limit - 1; i >= 0; i-- {
		change := (p.rng.Float64() - 0.5) * 0.02
		open := price / (1 + change)
		high := maxF(open, price) * (1 + p.rng.Float64()*0.005)
		low := minF(open, price) * (1 - p.rng.Float64()*0.005)

		openTime := now.Add(-time.Duration(limit-i) * 24 * time.Hour)
		klines[i] = Kline{
			OpenTime:  openTime.UnixMilli(),
			Open:      open,
			High:      high,
			Low:       low,
			Close:     price,
			Volume:    1000 + p.rng.Float64()*9000,
			CloseTime: openTime.Add(24 * time.Hour).UnixMilli(),
		}
		price = open
	}
	return klines, nil
}

func (p *PaperClient) GetCurrentPrice(symbol string) (float64, error) {
	p.updatePrices()
	return p.price(symbol), nil
}

// GetOpenOrders also simulates fills: resting orders crossed by the
// random-walked price are removed and settled against the balances.
func (p *PaperClient) GetOpenOrders(symbol string) ([]OpenOrder, error) {
	p.updatePrices()

	p.mu.Lock()
	defer p.mu.Unlock()

	price := p.prices[symbol]
	var remaining []OpenOrder
	for _, o := range p.openOrders[symbol] {
		filled := (o.Side == SideBuy && price <= o.Price) ||
			(o.Side == SideSell && price >= o.Price)
		if filled {
			p.settle(o)
			continue
		}
		remaining = append(remaining, o)
	}
	p.openOrders[symbol] = remaining

	out := make([]OpenOrder, len(remaining))
	copy(out, remaining)
	return out, nil
}

func (p *PaperClient) settle(o OpenOrder) {
	notional := o.Price * o.Quantity
	if o.Side == SideBuy {
		p.usdtBalance -= notional
		p.assets[o.Symbol] += o.Quantity
	} else {
		p.usdtBalance += notional
		p.assets[o.Symbol] -= o.Quantity
	}
}

func (p *PaperClient) PlaceOrder(symbol, side string, quantity, price float64) (int64, error) {
	if quantity <= 0 || price <= 0 {
		return 0, fmt.Errorf("invalid order: qty=%v price=%v", quantity, price)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if side == SideBuy && price*quantity > p.usdtBalance {
		return 0, fmt.Errorf("insufficient USDT balance for %s buy", symbol)
	}

	id := p.nextOrderID
	p.nextOrderID++
	p.openOrders[symbol] = append(p.openOrders[symbol], OpenOrder{
		OrderID:   id,
		Symbol:    symbol,
		Side:      side,
		Price:     price,
		Quantity:  quantity,
		CreatedAt: time.Now(),
	})
	return id, nil
}

func (p *PaperClient) CancelOrder(symbol string, orderID int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	orders := p.openOrders[symbol]
	for i, o := range orders {
		if o.OrderID == orderID {
			p.openOrders[symbol] = append(orders[:i], orders[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("order %d not found for %s", orderID, symbol)
}

func (p *PaperClient) GetAccountBalance(asset string) (float64, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if asset == "USDT" {
		return p.usdtBalance, nil
	}
	return p.assets[asset+"USDT"], nil
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
