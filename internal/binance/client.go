// Package binance implements the venue client: a signed REST client with
// proactive rate limiting, a paper-trading client, and a websocket price
// stream.
package binance

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"cohort-trading-bot/internal/retry"
)

const (
	MainnetBaseURL = "https://api.binance.com"
	TestnetBaseURL = "https://testnet.binance.vision"
)

// Client is the live REST client.
type Client struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
}

// NewClient builds a live client. Pass the testnet base URL for testnet
// keys.
func NewClient(apiKey, secretKey, baseURL string) *Client {
	if baseURL == "" {
		baseURL = MainnetBaseURL
	}
	return &Client{
		apiKey:     apiKey,
		secretKey:  secretKey,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    NewRateLimiter(),
	}
}

func (c *Client) get(path string, params url.Values, signed bool, out interface{}) error {
	return c.do(http.MethodGet, path, params, signed, out)
}

func (c *Client) do(method, path string, params url.Values, signed bool, out interface{}) error {
	c.limiter.Wait(path)

	if signed {
		params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
		params.Set("signature", c.sign(params.Encode()))
	}

	endpoint := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())

	var lastBody []byte
	err := retry.Do(context.Background(), retry.DefaultAttempts, retry.DefaultBase, retry.DefaultMax, func() error {
		req, err := http.NewRequest(method, endpoint, nil)
		if err != nil {
			return err
		}
		if signed || c.apiKey != "" {
			req.Header.Set("X-MBX-APIKEY", c.apiKey)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("request failed: %w", err)
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("error reading response: %w", err)
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode == http.StatusTeapot {
			c.limiter.RecordThrottle(resp.Header.Get("Retry-After"))
			return fmt.Errorf("rate limited: %s", string(body))
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("API error: %s", string(body))
		}

		lastBody = body
		return nil
	})
	if err != nil {
		return err
	}

	if out != nil {
		if err := json.Unmarshal(lastBody, out); err != nil {
			return fmt.Errorf("error parsing response: %w", err)
		}
	}
	return nil
}

// GetKlines fetches candlestick data.
func (c *Client) GetKlines(symbol, interval string, limit int) ([]Kline, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("interval", interval)
	params.Set("limit", strconv.Itoa(limit))

	var raw [][]interface{}
	if err := c.get("/api/v3/klines", params, false, &raw); err != nil {
		return nil, fmt.Errorf("error fetching klines: %w", err)
	}

	klines := make([]Kline, len(raw))
	for i, row := range raw {
		if len(row) < 7 {
			continue
		}
		klines[i] = Kline{
			OpenTime:  asInt64(row[0]),
			Open:      parseFloat(row[1]),
			High:      parseFloat(row[2]),
			Low:       parseFloat(row[3]),
			Close:     parseFloat(row[4]),
			Volume:    parseFloat(row[5]),
			CloseTime: asInt64(row[6]),
		}
	}
	return klines, nil
}

// GetCurrentPrice fetches the last price for a symbol.
func (c *Client) GetCurrentPrice(symbol string) (float64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var priceResp struct {
		Symbol string  `json:"symbol"`
		Price  float64 `json:"price,string"`
	}
	if err := c.get("/api/v3/ticker/price", params, false, &priceResp); err != nil {
		return 0, fmt.Errorf("error fetching price: %w", err)
	}
	return priceResp.Price, nil
}

// GetOpenOrders lists resting orders for a symbol.
func (c *Client) GetOpenOrders(symbol string) ([]OpenOrder, error) {
	params := url.Values{}
	params.Set("symbol", symbol)

	var raw []struct {
		OrderID  int64   `json:"orderId"`
		Symbol   string  `json:"symbol"`
		Side     string  `json:"side"`
		Price    float64 `json:"price,string"`
		OrigQty  float64 `json:"origQty,string"`
		Time     int64   `json:"time"`
	}
	if err := c.get("/api/v3/openOrders", params, true, &raw); err != nil {
		return nil, fmt.Errorf("error fetching open orders: %w", err)
	}

	orders := make([]OpenOrder, len(raw))
	for i, o := range raw {
		orders[i] = OpenOrder{
			OrderID:   o.OrderID,
			Symbol:    o.Symbol,
			Side:      o.Side,
			Price:     o.Price,
			Quantity:  o.OrigQty,
			CreatedAt: time.UnixMilli(o.Time),
		}
	}
	return orders, nil
}

// PlaceOrder places a limit order and returns the venue order ID.
func (c *Client) PlaceOrder(symbol, side string, quantity, price float64) (int64, error) {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("side", side)
	params.Set("type", "LIMIT")
	params.Set("timeInForce", "GTC")
	params.Set("quantity", strconv.FormatFloat(quantity, 'f', 8, 64))
	params.Set("price", strconv.FormatFloat(price, 'f', 8, 64))

	var orderResp struct {
		OrderID int64 `json:"orderId"`
	}
	if err := c.do(http.MethodPost, "/api/v3/order", params, true, &orderResp); err != nil {
		return 0, fmt.Errorf("error placing order: %w", err)
	}
	return orderResp.OrderID, nil
}

// CancelOrder cancels a resting order.
func (c *Client) CancelOrder(symbol string, orderID int64) error {
	params := url.Values{}
	params.Set("symbol", symbol)
	params.Set("orderId", strconv.FormatInt(orderID, 10))

	if err := c.do(http.MethodDelete, "/api/v3/order", params, true, nil); err != nil {
		return fmt.Errorf("error canceling order: %w", err)
	}
	return nil
}

// GetAccountBalance returns the free balance of one asset.
func (c *Client) GetAccountBalance(asset string) (float64, error) {
	var account struct {
		Balances []struct {
			Asset string  `json:"asset"`
			Free  float64 `json:"free,string"`
		} `json:"balances"`
	}
	if err := c.get("/api/v3/account", url.Values{}, true, &account); err != nil {
		return 0, fmt.Errorf("error fetching account: %w", err)
	}

	for _, b := range account.Balances {
		if b.Asset == asset {
			return b.Free, nil
		}
	}
	return 0, nil
}

// sign creates the HMAC-SHA256 signature for authenticated requests.
func (c *Client) sign(query string) string {
	mac := hmac.New(sha256.New, []byte(c.secretKey))
	mac.Write([]byte(query))
	return hex.EncodeToString(mac.Sum(nil))
}

func parseFloat(val interface{}) float64 {
	switch v := val.(type) {
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	case float64:
		return v
	default:
		return 0
	}
}

func asInt64(val interface{}) int64 {
	if f, ok := val.(float64); ok {
		return int64(f)
	}
	return 0
}
