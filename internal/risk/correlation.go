package risk

import (
	"math"
	"strings"
)

// CorrelationMatrix holds pairwise correlations keyed by base asset
// (symbols are looked up with the quote currency stripped). It is a
// configuration input; a data-provided matrix replaces the defaults
// wholesale.
type CorrelationMatrix struct {
	pairs map[[2]string]float64
}

// DefaultUnknownCorrelation applies to pairs not in the matrix — below
// the damping threshold, so unknown pairs are never damped.
const DefaultUnknownCorrelation = 0.3

// CorrelationThreshold is where damping starts.
const CorrelationThreshold = 0.7

// NewCorrelationMatrix builds a matrix from (a, b) -> rho entries.
func NewCorrelationMatrix(entries map[[2]string]float64) CorrelationMatrix {
	pairs := make(map[[2]string]float64, len(entries))
	for k, v := range entries {
		pairs[[2]string{strings.ToUpper(k[0]), strings.ToUpper(k[1])}] = v
	}
	return CorrelationMatrix{pairs: pairs}
}

// DefaultCorrelationMatrix ships the known high-correlation crypto pairs.
func DefaultCorrelationMatrix() CorrelationMatrix {
	return NewCorrelationMatrix(map[[2]string]float64{
		{"BTC", "ETH"}: 0.85,
		{"SOL", "ETH"}: 0.75,
		{"ARB", "OP"}:  0.80,
		{"AVAX", "SOL"}: 0.70,
	})
}

func baseAsset(symbol string) string {
	return strings.TrimSuffix(strings.ToUpper(symbol), "USDT")
}

// Lookup returns the correlation between two symbols, symmetric, with
// the default for unknown pairs.
func (m CorrelationMatrix) Lookup(symbolA, symbolB string) float64 {
	a, b := baseAsset(symbolA), baseAsset(symbolB)
	if rho, ok := m.pairs[[2]string{a, b}]; ok {
		return rho
	}
	if rho, ok := m.pairs[[2]string{b, a}]; ok {
		return rho
	}
	return DefaultUnknownCorrelation
}

// AdjustForCorrelation damps a position size against highly correlated
// existing positions. Each pair above the threshold multiplies the size
// by 1 - (rho - 0.7)/0.3; the compounded factor is floored at 0.3.
func (s *Sizer) AdjustForCorrelation(positionSize float64, newSymbol string, existing []Position) float64 {
	if len(existing) == 0 {
		return positionSize
	}

	adjustment := 1.0
	for _, pos := range existing {
		rho := s.corr.Lookup(newSymbol, pos.Symbol)
		if rho > CorrelationThreshold {
			adjustment *= 1 - (rho-CorrelationThreshold)/(1-CorrelationThreshold)
		}
	}

	return positionSize * math.Max(0.3, adjustment)
}
