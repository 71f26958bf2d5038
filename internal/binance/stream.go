package binance

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	mainnetStreamURL = "wss://stream.binance.com:9443/stream"
	testnetStreamURL = "wss://testnet.binance.vision/stream"
)

// PriceStream subscribes to mini-ticker websocket streams and keeps the
// freshest price per symbol between REST polls. It reconnects with
// backoff until stopped.
type PriceStream struct {
	mu sync.RWMutex

	url     string
	symbols []string
	prices  map[string]float64
	updated map[string]time.Time

	stopChan chan struct{}
	wg       sync.WaitGroup
	log      zerolog.Logger
}

// NewPriceStream builds a stream for the given symbols.
func NewPriceStream(symbols []string, testnet bool, log zerolog.Logger) *PriceStream {
	url := mainnetStreamURL
	if testnet {
		url = testnetStreamURL
	}
	return &PriceStream{
		url:      url,
		symbols:  symbols,
		prices:   make(map[string]float64),
		updated:  make(map[string]time.Time),
		stopChan: make(chan struct{}),
		log:      log.With().Str("component", "price-stream").Logger(),
	}
}

// Start launches the reader goroutine.
func (s *PriceStream) Start() {
	s.wg.Add(1)
	go s.run()
}

// Stop shuts the stream down and waits for the reader to exit.
func (s *PriceStream) Stop() {
	close(s.stopChan)
	s.wg.Wait()
}

// Price returns the last streamed price and its age; ok is false when no
// tick has arrived yet.
func (s *PriceStream) Price(symbol string) (price float64, age time.Duration, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	price, ok = s.prices[symbol]
	if !ok {
		return 0, 0, false
	}
	return price, time.Since(s.updated[symbol]), true
}

func (s *PriceStream) run() {
	defer s.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if err := s.connectAndRead(); err != nil {
			s.log.Warn().Err(err).Dur("backoff", backoff).Msg("stream disconnected")
		}

		select {
		case <-s.stopChan:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 30*time.Second {
			backoff = 30 * time.Second
		}
	}
}

func (s *PriceStream) connectAndRead() error {
	streams := make([]string, len(s.symbols))
	for i, sym := range s.symbols {
		streams[i] = strings.ToLower(sym) + "@miniTicker"
	}
	endpoint := fmt.Sprintf("%s?streams=%s", s.url, strings.Join(streams, "/"))

	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	defer conn.Close()

	s.log.Info().Int("symbols", len(s.symbols)).Msg("price stream connected")

	for {
		select {
		case <-s.stopChan:
			return nil
		default:
		}

		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}

		var frame struct {
			Data struct {
				Symbol string `json:"s"`
				Close  string `json:"c"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &frame); err != nil {
			continue
		}
		if frame.Data.Symbol == "" {
			continue
		}

		price, err := strconv.ParseFloat(frame.Data.Close, 64)
		if err != nil {
			continue
		}

		s.mu.Lock()
		s.prices[frame.Data.Symbol] = price
		s.updated[frame.Data.Symbol] = time.Now()
		s.mu.Unlock()
	}
}
