package binance

import "time"

// VenueClient is the exchange surface the trading core consumes. It is
// shared by every cohort handler and must be safe for concurrent use.
type VenueClient interface {
	GetKlines(symbol, interval string, limit int) ([]Kline, error)
	GetCurrentPrice(symbol string) (float64, error)
	GetOpenOrders(symbol string) ([]OpenOrder, error)
	PlaceOrder(symbol, side string, quantity, price float64) (int64, error)
	CancelOrder(symbol string, orderID int64) error
	GetAccountBalance(asset string) (float64, error)
}

// OpenOrder is one resting order at the venue.
type OpenOrder struct {
	OrderID   int64
	Symbol    string
	Side      string
	Price     float64
	Quantity  float64
	CreatedAt time.Time
}

// Kline represents a candlestick.
type Kline struct {
	OpenTime  int64
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    float64
	CloseTime int64
}

// Order sides.
const (
	SideBuy  = "BUY"
	SideSell = "SELL"
)

// Ensure both implementations satisfy the interface.
var (
	_ VenueClient = (*Client)(nil)
	_ VenueClient = (*PaperClient)(nil)
)
