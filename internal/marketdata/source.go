// Package marketdata assembles the feature bundles the decision engine
// consumes, from persisted market snapshots, venue klines and the AI
// classifier. Heavy indicator computation happens upstream; absent
// inputs default to neutral values.
package marketdata

import (
	"context"
	"math"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/ai"
	"cohort-trading-bot/internal/binance"
	"cohort-trading-bot/internal/regime"
	"cohort-trading-bot/internal/signals"
)

// SnapshotStore reads the persisted market snapshots.
type SnapshotStore interface {
	LatestFearGreed(ctx context.Context) (int, error)
	BTCPriceSeries(ctx context.Context, days int) ([]float64, error)
}

// Source implements hybrid.FeatureSource.
type Source struct {
	client     binance.VenueClient
	store      SnapshotStore
	classifier *ai.Classifier
	watchlist  []string
	log        zerolog.Logger
}

func NewSource(client binance.VenueClient, store SnapshotStore, classifier *ai.Classifier, watchlist []string, log zerolog.Logger) *Source {
	if len(watchlist) == 0 {
		watchlist = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}
	}
	return &Source{
		client:     client,
		store:      store,
		classifier: classifier,
		watchlist:  watchlist,
		log:        log.With().Str("component", "marketdata").Logger(),
	}
}

// CandidateSymbols returns the configured watchlist.
func (s *Source) CandidateSymbols(ctx context.Context) ([]string, error) {
	out := make([]string, len(s.watchlist))
	copy(out, s.watchlist)
	return out, nil
}

// Features builds the per-symbol feature bundle.
func (s *Source) Features(ctx context.Context, symbol string) (signals.MarketFeatures, error) {
	f := signals.MarketFeatures{
		FearGreed:   50,
		RSI:         50,
		SocialScore: 50,
		AIDirection: "NEUTRAL",
		AIRiskLevel: "MEDIUM",
	}

	price, err := s.client.GetCurrentPrice(symbol)
	if err != nil {
		return f, err
	}
	f.Price = price

	if klines, err := s.client.GetKlines(symbol, "1d", 60); err == nil && len(klines) > 1 {
		closes := make([]float64, len(klines))
		var volSum float64
		for i, k := range klines {
			closes[i] = k.Close
			volSum += k.Volume
		}

		f.Volume = klines[len(klines)-1].Volume
		f.AvgVolume = volSum / float64(len(klines))

		prev := closes[len(closes)-2]
		if prev > 0 {
			f.PriceChange24h = (price - prev) / prev * 100
		}
		f.SMA20 = trailingMean(closes, 20)
		f.SMA50 = trailingMean(closes, 50)
	}

	if s.store != nil {
		if fg, err := s.store.LatestFearGreed(ctx); err == nil && fg > 0 {
			f.FearGreed = fg
		}
	}

	if s.classifier != nil && s.classifier.Enabled() {
		if c, err := s.classifier.Classify(ctx, f); err == nil {
			f.AIDirection = c.Direction
			f.AIConfidence = c.Confidence
			f.AIRiskLevel = c.RiskLevel
		}
	}

	return f, nil
}

// RegimeFeatures derives the 4-dim regime vector from the BTC snapshot
// series, mirroring how the snapshots are aggregated at write time.
func (s *Source) RegimeFeatures(ctx context.Context) (regime.Features, error) {
	f := regime.Features{Volatility7d: 2, FearGreedAvg: 50}

	var prices []float64
	if s.store != nil {
		if series, err := s.store.BTCPriceSeries(ctx, 8); err == nil {
			prices = series
		}
		if fg, err := s.store.LatestFearGreed(ctx); err == nil && fg > 0 {
			f.FearGreedAvg = float64(fg)
		}
	}

	if len(prices) < 2 {
		if closes, err := s.dailyBTCCloses(8); err == nil {
			prices = closes
		}
	}
	if len(prices) < 2 {
		return f, nil
	}

	first, last := prices[0], prices[len(prices)-1]
	if first > 0 {
		f.Return7d = (last - first) / first * 100
	}

	// Volatility of daily log returns, in percent.
	var logReturns []float64
	for i := 1; i < len(prices); i++ {
		if prices[i-1] > 0 {
			logReturns = append(logReturns, math.Log(prices[i]/prices[i-1])*100)
		}
	}
	if len(logReturns) > 1 {
		f.Volatility7d = stddev(logReturns)
	}
	return f, nil
}

// DailyCloses adapts venue klines for the returns fallback chain.
func (s *Source) DailyCloses(symbol string, limit int) ([]float64, error) {
	klines, err := s.client.GetKlines(symbol, "1d", limit)
	if err != nil {
		return nil, err
	}
	closes := make([]float64, len(klines))
	for i, k := range klines {
		closes[i] = k.Close
	}
	return closes, nil
}

func (s *Source) dailyBTCCloses(limit int) ([]float64, error) {
	return s.DailyCloses("BTCUSDT", limit)
}

func trailingMean(xs []float64, window int) float64 {
	if len(xs) == 0 {
		return 0
	}
	if len(xs) > window {
		xs = xs[len(xs)-window:]
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64) float64 {
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))

	var variance float64
	for _, x := range xs {
		variance += (x - mean) * (x - mean)
	}
	return math.Sqrt(variance / float64(len(xs)))
}
