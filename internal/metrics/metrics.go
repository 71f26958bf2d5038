// Package metrics computes risk and performance metrics over return series.
//
// All functions are pure: they never touch the database or global state.
// Persistence of snapshots is the caller's job. Returns are decimal
// fractions (0.01 = 1%) unless a function says otherwise.
package metrics

import (
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/stat"
)

const (
	// RiskFreeRate is the annual risk-free rate (stablecoin staking).
	RiskFreeRate = 0.05

	// TradingDaysPerYear uses the crypto 24/7 convention.
	TradingDaysPerYear = 365
)

// Reason explains why a metric could not be computed.
type Reason string

const (
	ReasonInsufficientData Reason = "insufficient_data"
	ReasonDegenerateInput  Reason = "degenerate_input"
)

// Value is an optional metric result. When Valid is false, Reason says why.
type Value struct {
	Value  float64
	Valid  bool
	Reason Reason
}

// Some wraps a computed metric value.
func Some(v float64) Value {
	return Value{Value: v, Valid: true}
}

// None marks a metric as not computable for the given reason.
func None(r Reason) Value {
	return Value{Reason: r}
}

// RiskMetrics bundles every metric computed from one return series.
type RiskMetrics struct {
	Timestamp time.Time

	Sharpe  Value
	Sortino Value
	Calmar  Value

	VolatilityDaily  Value
	VolatilityWeekly Value

	MaxDrawdown Value

	VaR95  Value
	VaR99  Value
	CVaR95 Value
	CVaR99 Value

	Kelly     Value
	HalfKelly Value

	WinRate      Value
	ProfitFactor Value
	AvgWin       Value
	AvgLoss      Value

	ConsecutiveWins   int
	ConsecutiveLosses int
}

// popStdDev is the population standard deviation (divide by n, not n-1),
// matching the convention the rest of the pipeline assumes.
func popStdDev(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	mean := stat.Mean(xs, nil)
	return math.Sqrt(stat.MomentAbout(2, xs, mean, nil))
}

// percentile computes the p-th percentile (0..100) with linear
// interpolation between closest ranks.
func percentile(xs []float64, p float64) float64 {
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	if len(sorted) == 1 {
		return sorted[0]
	}

	pos := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	if lo == hi {
		return sorted[lo]
	}
	frac := pos - float64(lo)
	return sorted[lo]*(1-frac) + sorted[hi]*frac
}

func excessReturns(returns []float64, riskFree float64) []float64 {
	daily := riskFree / TradingDaysPerYear
	excess := make([]float64, len(returns))
	for i, r := range returns {
		excess[i] = r - daily
	}
	return excess
}

// Sharpe computes the Sharpe ratio of a return series.
func Sharpe(returns []float64, riskFree float64, annualize bool) Value {
	if len(returns) < 2 {
		return None(ReasonInsufficientData)
	}

	excess := excessReturns(returns, riskFree)
	std := popStdDev(excess)
	if std == 0 {
		return None(ReasonDegenerateInput)
	}

	sharpe := stat.Mean(excess, nil) / std
	if annualize {
		sharpe *= math.Sqrt(TradingDaysPerYear)
	}
	return Some(sharpe)
}

// Sortino computes the Sortino ratio: identical numerator to Sharpe, the
// denominator uses only strictly negative excess returns. With no negative
// observations the ratio is +Inf.
func Sortino(returns []float64, riskFree float64, annualize bool) Value {
	if len(returns) < 2 {
		return None(ReasonInsufficientData)
	}

	excess := excessReturns(returns, riskFree)
	var downside []float64
	for _, r := range excess {
		if r < 0 {
			downside = append(downside, r)
		}
	}
	if len(downside) == 0 {
		return Some(math.Inf(1))
	}

	std := popStdDev(downside)
	if std == 0 {
		return None(ReasonDegenerateInput)
	}

	sortino := stat.Mean(excess, nil) / std
	if annualize {
		sortino *= math.Sqrt(TradingDaysPerYear)
	}
	return Some(sortino)
}

// Calmar divides the annualized total return by |max drawdown|. Pass an
// invalid maxDrawdown to have it computed from the series.
func Calmar(returns []float64, maxDrawdown Value) Value {
	if len(returns) < 2 {
		return None(ReasonInsufficientData)
	}

	var total float64
	for _, r := range returns {
		total += r
	}
	annual := total * (TradingDaysPerYear / float64(len(returns)))

	if !maxDrawdown.Valid {
		maxDrawdown = MaxDrawdown(returns)
	}
	if !maxDrawdown.Valid || maxDrawdown.Value == 0 {
		return None(ReasonDegenerateInput)
	}

	return Some(annual / math.Abs(maxDrawdown.Value))
}

// MaxDrawdown returns the minimum of cumsum(r) - runningMax(cumsum(r)).
// The result is <= 0.
func MaxDrawdown(returns []float64) Value {
	if len(returns) < 2 {
		return None(ReasonInsufficientData)
	}

	var cum, peak, maxDD float64
	for i, r := range returns {
		cum += r
		if i == 0 || cum > peak {
			peak = cum
		}
		if dd := cum - peak; dd < maxDD {
			maxDD = dd
		}
	}
	return Some(maxDD)
}

// VaR is the (1-confidence) percentile of the return series. Needs at
// least 5 observations.
func VaR(returns []float64, confidence float64) Value {
	if len(returns) < 5 {
		return None(ReasonInsufficientData)
	}
	return Some(percentile(returns, (1-confidence)*100))
}

// CVaR (expected shortfall) is the mean of returns at or below VaR. When
// the tail is empty it equals VaR.
func CVaR(returns []float64, confidence float64) Value {
	v := VaR(returns, confidence)
	if !v.Valid {
		return v
	}

	var tail []float64
	for _, r := range returns {
		if r <= v.Value {
			tail = append(tail, r)
		}
	}
	if len(tail) == 0 {
		return v
	}
	return Some(stat.Mean(tail, nil))
}

// Volatility is the standard deviation of the series, optionally over the
// trailing window, optionally annualized.
func Volatility(returns []float64, window int, annualize bool) Value {
	if len(returns) < 2 {
		return None(ReasonInsufficientData)
	}

	xs := returns
	if window > 0 && len(returns) > window {
		xs = returns[len(returns)-window:]
	}

	vol := popStdDev(xs)
	if annualize {
		vol *= math.Sqrt(TradingDaysPerYear)
	}
	return Some(vol)
}

// Kelly computes the fractional Kelly criterion: f* = (p*b - q)/b with
// b = avgWin/|avgLoss|, clamped to [0,1], scaled by fraction.
func Kelly(winRate, avgWin, avgLoss, fraction float64) Value {
	if avgLoss == 0 || winRate <= 0 || winRate >= 1 {
		return None(ReasonDegenerateInput)
	}

	b := avgWin / math.Abs(avgLoss)
	q := 1 - winRate
	kelly := (winRate*b - q) / b

	kelly = math.Max(0, math.Min(kelly, 1))
	return Some(kelly * fraction)
}

// WinRate is the share of strictly positive returns.
func WinRate(returns []float64) Value {
	if len(returns) == 0 {
		return None(ReasonInsufficientData)
	}
	wins := 0
	for _, r := range returns {
		if r > 0 {
			wins++
		}
	}
	return Some(float64(wins) / float64(len(returns)))
}

// ProfitFactor is gross profit over gross loss. With no losses it is +Inf
// when there is any profit.
func ProfitFactor(returns []float64) Value {
	if len(returns) == 0 {
		return None(ReasonInsufficientData)
	}

	var grossProfit, grossLoss float64
	for _, r := range returns {
		if r > 0 {
			grossProfit += r
		} else if r < 0 {
			grossLoss += -r
		}
	}
	if grossLoss == 0 {
		if grossProfit > 0 {
			return Some(math.Inf(1))
		}
		return None(ReasonDegenerateInput)
	}
	return Some(grossProfit / grossLoss)
}

// AvgWinLoss returns the mean win and the mean absolute loss.
func AvgWinLoss(returns []float64) (avgWin, avgLoss Value) {
	var wins, losses []float64
	for _, r := range returns {
		if r > 0 {
			wins = append(wins, r)
		} else if r < 0 {
			losses = append(losses, -r)
		}
	}

	avgWin = None(ReasonInsufficientData)
	avgLoss = None(ReasonInsufficientData)
	if len(wins) > 0 {
		avgWin = Some(stat.Mean(wins, nil))
	}
	if len(losses) > 0 {
		avgLoss = Some(stat.Mean(losses, nil))
	}
	return avgWin, avgLoss
}

// ConsecutiveStreaks counts the current win and loss streaks from the end
// of the series. At most one of the two is non-zero.
func ConsecutiveStreaks(returns []float64) (wins, losses int) {
	for i := len(returns) - 1; i >= 0; i-- {
		r := returns[i]
		switch {
		case r > 0:
			if losses != 0 {
				return wins, losses
			}
			wins++
		case r < 0:
			if wins != 0 {
				return wins, losses
			}
			losses++
		}
	}
	return wins, losses
}

// CalculateAll computes the full metric bundle for a return series.
func CalculateAll(returns []float64) RiskMetrics {
	winRate := WinRate(returns)
	avgWin, avgLoss := AvgWinLoss(returns)
	consWins, consLosses := ConsecutiveStreaks(returns)
	maxDD := MaxDrawdown(returns)

	kelly := None(ReasonInsufficientData)
	halfKelly := None(ReasonInsufficientData)
	if winRate.Valid && avgWin.Valid && avgLoss.Valid {
		kelly = Kelly(winRate.Value, avgWin.Value, avgLoss.Value, 0.25)
		if kelly.Valid {
			halfKelly = Some(kelly.Value / 2)
		}
	}

	return RiskMetrics{
		Timestamp:         time.Now().UTC(),
		Sharpe:            Sharpe(returns, RiskFreeRate, true),
		Sortino:           Sortino(returns, RiskFreeRate, true),
		Calmar:            Calmar(returns, maxDD),
		VolatilityDaily:   Volatility(returns, 0, false),
		VolatilityWeekly:  Volatility(returns, 7, false),
		MaxDrawdown:       maxDD,
		VaR95:             VaR(returns, 0.95),
		VaR99:             VaR(returns, 0.99),
		CVaR95:            CVaR(returns, 0.95),
		CVaR99:            CVaR(returns, 0.99),
		Kelly:             kelly,
		HalfKelly:         halfKelly,
		WinRate:           winRate,
		ProfitFactor:      ProfitFactor(returns),
		AvgWin:            avgWin,
		AvgLoss:           avgLoss,
		ConsecutiveWins:   consWins,
		ConsecutiveLosses: consLosses,
	}
}

// CorrelationWithPnL is the Pearson correlation between per-trade signal
// values and their PnL outcomes. Degenerate inputs (constant series or
// fewer than 3 pairs) yield an invalid value.
func CorrelationWithPnL(signals, pnls []float64) Value {
	if len(signals) < 3 || len(signals) != len(pnls) {
		return None(ReasonInsufficientData)
	}
	if popStdDev(signals) == 0 || popStdDev(pnls) == 0 {
		return None(ReasonDegenerateInput)
	}
	return Some(stat.Correlation(signals, pnls, nil))
}
