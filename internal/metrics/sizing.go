package metrics

import "math"

// Quantity-level position sizing that combines CVaR risk budgeting with
// the Kelly criterion. The portfolio-level USD sizer lives in the risk
// package; this variant answers "how many units at this entry price".

// MaxRiskBudgetPct is the default risk budget per trade (percent).
const MaxRiskBudgetPct = 2.0

// PositionSizeInput carries everything the quantity sizer needs.
type PositionSizeInput struct {
	PortfolioValue     float64
	EntryPrice         float64
	ExpectedVolatility float64 // fallback risk estimate when returns are thin
	SignalConfidence   float64 // 0..1
	WinRate            Value
	AvgWin             Value
	AvgLoss            Value
	HistoricalReturns  []float64
}

// PositionSizeResult reports the recommended quantity and which
// constraints bound it.
type PositionSizeResult struct {
	RecommendedQuantity float64
	MaxQuantity         float64
	RiskBudgetUsed      float64
	CVaRContribution    float64
	KellyFraction       float64
	MethodUsed          string
	ConstraintsHit      []string
}

// CalculatePositionSize sizes a position as the minimum of the CVaR
// risk-budget quantity and the Kelly quantity, scaled by confidence.
func CalculatePositionSize(in PositionSizeInput) PositionSizeResult {
	var constraints []string

	riskBudgetUSD := in.PortfolioValue * (MaxRiskBudgetPct / 100)
	adjustedBudget := riskBudgetUSD * in.SignalConfidence

	cvar := math.Abs(in.ExpectedVolatility)
	if len(in.HistoricalReturns) >= 5 {
		if cv := CVaR(in.HistoricalReturns, 0.95); cv.Valid {
			cvar = math.Abs(cv.Value)
		}
	}
	if cvar == 0 {
		cvar = 0.05
	}

	cvarMaxPosition := adjustedBudget / cvar
	cvarMaxQuantity := cvarMaxPosition / in.EntryPrice

	kellyFraction := 0.0
	kellyMaxQuantity := 0.0
	hasKelly := false
	if in.WinRate.Valid && in.AvgWin.Valid && in.AvgLoss.Valid {
		if k := Kelly(in.WinRate.Value, in.AvgWin.Value, in.AvgLoss.Value, 0.25); k.Valid && k.Value > 0 {
			kellyFraction = k.Value
			kellyMaxQuantity = in.PortfolioValue * kellyFraction / in.EntryPrice
			hasKelly = true
		}
	}

	final := cvarMaxQuantity
	if hasKelly && kellyMaxQuantity < final {
		final = kellyMaxQuantity
	}

	if final == cvarMaxQuantity {
		constraints = append(constraints, "cvar_limit")
	}
	if hasKelly && final == kellyMaxQuantity {
		constraints = append(constraints, "kelly_limit")
	}

	maxQuantity := riskBudgetUSD / cvar / in.EntryPrice
	if hasKelly && kellyMaxQuantity < maxQuantity {
		maxQuantity = kellyMaxQuantity
	}

	return PositionSizeResult{
		RecommendedQuantity: final,
		MaxQuantity:         maxQuantity,
		RiskBudgetUsed:      final * in.EntryPrice * cvar,
		CVaRContribution:    cvar,
		KellyFraction:       kellyFraction,
		MethodUsed:          "cvar_kelly_hybrid",
		ConstraintsHit:      constraints,
	}
}
