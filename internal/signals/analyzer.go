// Package signals maps market features to bounded signal components and
// combines them into a composite score with divergence detection.
package signals

import (
	"context"
	"math"

	"github.com/rs/zerolog"
)

// MarketFeatures is the feature bundle one decision is computed from.
// Indicators are inputs here; nothing in this package computes them from
// raw ticks.
type MarketFeatures struct {
	FearGreed int
	RSI       float64

	MACDLine          float64
	MACDSignal        float64
	MACDHistogram     float64
	PrevMACDHistogram *float64

	Price  float64
	SMA20  float64
	SMA50  float64
	SMA200 *float64

	Volume         float64
	AvgVolume      float64
	PriceChange24h float64

	WhaleBuysUSD  float64
	WhaleSellsUSD float64

	SocialScore   float64 // 0..100
	NewsSentiment *float64

	ETFFlow7d        float64 // USD, signed
	FedSentiment     string  // HAWKISH, DOVISH, NEUTRAL
	HighImpactEvents int     // upcoming high-impact events

	AIDirection       string  // BULLISH, BEARISH, NEUTRAL
	AIConfidence      float64 // 0..1
	AIRiskLevel       string  // LOW, MEDIUM, HIGH
	PlaybookAlignment float64
}

// Breakdown records every signal, the weights applied, the composite
// scores and the divergence classification for one decision.
type Breakdown struct {
	FearGreedSignal float64
	RSISignal       float64
	MACDSignal      float64
	TrendSignal     float64
	VolumeSignal    float64
	WhaleSignal     float64
	SentimentSignal float64
	MacroSignal     float64

	AIDirectionSignal float64
	AIConfidence      float64
	AIRiskLevel       string
	PlaybookAlignment float64

	WeightsApplied map[string]float64

	MathComposite float64
	AIComposite   float64
	FinalScore    float64

	HasDivergence      bool
	DivergenceType     string // math_ai_divergence, internal_divergence
	DivergenceStrength float64
}

// MathSignals returns the non-AI components keyed by signal name.
func (b *Breakdown) MathSignals() map[string]float64 {
	return map[string]float64{
		"fear_greed": b.FearGreedSignal,
		"rsi":        b.RSISignal,
		"macd":       b.MACDSignal,
		"trend":      b.TrendSignal,
		"volume":     b.VolumeSignal,
		"whale":      b.WhaleSignal,
		"sentiment":  b.SentimentSignal,
		"macro":      b.MacroSignal,
	}
}

// WeightSource supplies the weight vector applied to a breakdown,
// optionally regime-specific.
type WeightSource interface {
	GetWeights(ctx context.Context, regime string) map[string]float64
}

// Analyzer computes signal breakdowns.
type Analyzer struct {
	weights WeightSource
	log     zerolog.Logger
}

func NewAnalyzer(weights WeightSource, log zerolog.Logger) *Analyzer {
	return &Analyzer{
		weights: weights,
		log:     log.With().Str("component", "signals").Logger(),
	}
}

func clamp(v float64) float64 {
	return math.Max(-1, math.Min(1, v))
}

// FearGreedSignal is contrarian: extreme fear is a buy.
func FearGreedSignal(fearGreed int) float64 {
	switch {
	case fearGreed <= 24:
		return 1.0
	case fearGreed <= 44:
		return 0.5
	case fearGreed <= 55:
		return 0.0
	case fearGreed <= 74:
		return -0.5
	default:
		return -1.0
	}
}

// RSISignal maps RSI to a seven-band ladder.
func RSISignal(rsi float64) float64 {
	switch {
	case rsi < 20:
		return 1.0
	case rsi < 30:
		return 0.7
	case rsi < 40:
		return 0.3
	case rsi < 60:
		return 0.0
	case rsi < 70:
		return -0.3
	case rsi < 80:
		return -0.7
	default:
		return -1.0
	}
}

// MACDSignal scores the crossover direction, the histogram direction and
// the zero-line position.
func MACDSignal(line, signalLine, histogram float64, prevHistogram *float64) float64 {
	var signal float64

	if line > signalLine {
		signal += 0.3
	} else {
		signal -= 0.3
	}

	if prevHistogram != nil {
		if histogram > *prevHistogram {
			signal += 0.4
		} else {
			signal -= 0.4
		}
	} else if histogram > 0 {
		signal += 0.2
	} else {
		signal -= 0.2
	}

	if line > 0 {
		signal += 0.3
	} else {
		signal -= 0.3
	}

	return clamp(signal)
}

// TrendSignal scores SMA alignment: price vs SMA20 (0.3), SMA20 vs SMA50
// (0.4), SMA50 vs SMA200 (0.3 when available).
func TrendSignal(price, sma20, sma50 float64, sma200 *float64) float64 {
	var signal float64

	if price > sma20 {
		signal += 0.3
	} else {
		signal -= 0.3
	}

	if sma20 > sma50 {
		signal += 0.4
	} else {
		signal -= 0.4
	}

	if sma200 != nil {
		if sma50 > *sma200 {
			signal += 0.3
		} else {
			signal -= 0.3
		}
	}

	return clamp(signal)
}

// VolumeSignal: high volume amplifies the price direction, low volume
// zeroes the signal, in between it is proportional to the price change.
func VolumeSignal(currentVolume, avgVolume, priceChange float64) float64 {
	if avgVolume == 0 {
		return 0
	}

	ratio := currentVolume / avgVolume
	switch {
	case ratio > 1.5:
		if priceChange > 0 {
			return math.Min(1, ratio-1)
		}
		return math.Max(-1, -(ratio - 1))
	case ratio < 0.5:
		return 0
	default:
		return priceChange / 10
	}
}

// WhaleSignal is the normalized net flow (buys-sells)/(buys+sells).
func WhaleSignal(buysUSD, sellsUSD float64) float64 {
	total := buysUSD + sellsUSD
	if total == 0 {
		return 0
	}
	return clamp((buysUSD - sellsUSD) / total)
}

// SentimentSignal blends social score with optional news sentiment.
func SentimentSignal(socialScore float64, newsSentiment *float64) float64 {
	social := (socialScore - 50) / 50
	if newsSentiment != nil {
		return social*0.6 + *newsSentiment*0.4
	}
	return social
}

// MacroSignal combines ETF flow bands with the fed stance, halved when a
// high-impact event is upcoming.
func MacroSignal(etfFlow7d float64, fedSentiment string, highImpactEvents int) float64 {
	var signal float64

	switch {
	case etfFlow7d > 500_000_000:
		signal += 0.5
	case etfFlow7d > 0:
		signal += 0.2
	case etfFlow7d < -500_000_000:
		signal -= 0.5
	case etfFlow7d < 0:
		signal -= 0.2
	}

	switch fedSentiment {
	case "DOVISH":
		signal += 0.3
	case "HAWKISH":
		signal -= 0.3
	}

	if highImpactEvents > 0 {
		signal *= 0.5
	}

	return clamp(signal)
}

// AISignal converts the classifier output to a direction signal scaled by
// confidence.
func AISignal(direction string, confidence float64) float64 {
	var code float64
	switch direction {
	case "BULLISH":
		code = 1
	case "BEARISH":
		code = -1
	}
	return code * confidence
}

// Compute builds the full breakdown for one feature bundle.
func (a *Analyzer) Compute(ctx context.Context, f MarketFeatures, regime string) *Breakdown {
	b := &Breakdown{
		FearGreedSignal:   FearGreedSignal(f.FearGreed),
		RSISignal:         RSISignal(f.RSI),
		MACDSignal:        MACDSignal(f.MACDLine, f.MACDSignal, f.MACDHistogram, f.PrevMACDHistogram),
		TrendSignal:       TrendSignal(f.Price, f.SMA20, f.SMA50, f.SMA200),
		VolumeSignal:      VolumeSignal(f.Volume, f.AvgVolume, f.PriceChange24h),
		WhaleSignal:       WhaleSignal(f.WhaleBuysUSD, f.WhaleSellsUSD),
		SentimentSignal:   SentimentSignal(f.SocialScore, f.NewsSentiment),
		MacroSignal:       MacroSignal(f.ETFFlow7d, f.FedSentiment, f.HighImpactEvents),
		AIDirectionSignal: AISignal(f.AIDirection, f.AIConfidence),
		AIConfidence:      f.AIConfidence,
		AIRiskLevel:       f.AIRiskLevel,
		PlaybookAlignment: f.PlaybookAlignment,
	}

	weights := a.weights.GetWeights(ctx, regime)
	b.WeightsApplied = weights

	for name, signal := range b.MathSignals() {
		b.MathComposite += signal * weights[name]
	}
	b.AIComposite = b.AIDirectionSignal * weights["ai"]
	b.FinalScore = clamp(b.MathComposite + b.AIComposite)

	a.detectDivergence(b)
	return b
}

// detectDivergence classifies exactly one divergence; math-vs-AI takes
// precedence over internal disagreement.
func (a *Analyzer) detectDivergence(b *Breakdown) {
	mathSignals := b.MathSignals()

	var mathDirection float64
	bullish, bearish := 0, 0
	for _, s := range mathSignals {
		mathDirection += s
		if s > 0.3 {
			bullish++
		}
		if s < -0.3 {
			bearish++
		}
	}

	aiDirection := b.AIDirectionSignal

	switch {
	case (mathDirection > 0.5 && aiDirection < -0.3) || (mathDirection < -0.5 && aiDirection > 0.3):
		b.HasDivergence = true
		b.DivergenceType = "math_ai_divergence"
		b.DivergenceStrength = math.Abs(mathDirection-aiDirection) / 2
	case bullish >= 3 && bearish >= 3:
		b.HasDivergence = true
		b.DivergenceType = "internal_divergence"
		b.DivergenceStrength = float64(min(bullish, bearish)) / float64(len(mathSignals))
	}
}
