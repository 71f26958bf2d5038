package risk

import (
	"context"

	"github.com/rs/zerolog"
)

// TradeReturnsStore supplies realized per-trade returns from persistence.
type TradeReturnsStore interface {
	TradeReturns(ctx context.Context, symbol string, lookbackDays int) ([]float64, error)
}

// KlineSource supplies daily closing prices from the venue when trade
// history is thin.
type KlineSource interface {
	DailyCloses(symbol string, limit int) ([]float64, error)
}

// SeriesCache caches return series for an hour.
type SeriesCache interface {
	Get(ctx context.Context, symbol string) ([]float64, bool)
	Set(ctx context.Context, symbol string, returns []float64)
}

// ChainedReturnsProvider resolves historical returns through the fallback
// chain: cache -> trade history -> daily klines -> synthetic.
type ChainedReturnsProvider struct {
	store  TradeReturnsStore
	klines KlineSource
	cache  SeriesCache
	log    zerolog.Logger
}

func NewChainedReturnsProvider(store TradeReturnsStore, klines KlineSource, cache SeriesCache, log zerolog.Logger) *ChainedReturnsProvider {
	return &ChainedReturnsProvider{
		store:  store,
		klines: klines,
		cache:  cache,
		log:    log.With().Str("component", "returns").Logger(),
	}
}

// HistoricalReturns implements ReturnsProvider.
func (p *ChainedReturnsProvider) HistoricalReturns(ctx context.Context, symbol string, lookbackDays int) []float64 {
	if p.cache != nil {
		if cached, ok := p.cache.Get(ctx, symbol); ok {
			return cached
		}
	}

	returns := p.fromStore(ctx, symbol, lookbackDays)
	if len(returns) < 10 {
		returns = p.fromKlines(symbol, lookbackDays)
	}
	if len(returns) < 10 {
		p.log.Debug().Str("symbol", symbol).Msg("falling back to synthetic returns")
		returns = SyntheticReturns(symbol)
	}

	if p.cache != nil {
		p.cache.Set(ctx, symbol, returns)
	}
	return returns
}

func (p *ChainedReturnsProvider) fromStore(ctx context.Context, symbol string, lookbackDays int) []float64 {
	if p.store == nil {
		return nil
	}
	returns, err := p.store.TradeReturns(ctx, symbol, lookbackDays)
	if err != nil {
		p.log.Debug().Err(err).Str("symbol", symbol).Msg("trade returns fetch failed")
		return nil
	}
	return returns
}

func (p *ChainedReturnsProvider) fromKlines(symbol string, lookbackDays int) []float64 {
	if p.klines == nil {
		return nil
	}
	closes, err := p.klines.DailyCloses(symbol, lookbackDays)
	if err != nil {
		p.log.Debug().Err(err).Str("symbol", symbol).Msg("kline fetch failed")
		return nil
	}
	if len(closes) < 2 {
		return nil
	}

	returns := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		if closes[i-1] == 0 {
			continue
		}
		returns = append(returns, (closes[i]-closes[i-1])/closes[i-1])
	}
	return returns
}
