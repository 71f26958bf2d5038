// Package ai calls a DeepSeek-compatible chat API to classify market
// conditions into a direction, confidence and risk level, under hard
// call and cost budgets.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/retry"
	"cohort-trading-bot/internal/signals"
)

const (
	defaultEndpoint = "https://api.deepseek.com/v1/chat/completions"
	defaultModel    = "deepseek-chat"
	requestTimeout  = 30 * time.Second

	// Budget caps. Exceeding either returns ErrBudgetExceeded instead of
	// making a call.
	MaxDailyCalls      = 100
	MaxMonthlyCostUSD  = 5.0
	estimatedCostPerCall = 0.002
)

// ErrBudgetExceeded is returned when a budget cap would be crossed.
var ErrBudgetExceeded = fmt.Errorf("ai budget exceeded")

// Classification is the classifier output.
type Classification struct {
	Direction  string  `json:"direction"`  // BULLISH, BEARISH, NEUTRAL
	Confidence float64 `json:"confidence"` // 0..1
	RiskLevel  string  `json:"risk_level"` // LOW, MEDIUM, HIGH
	Reasoning  string  `json:"reasoning,omitempty"`
}

// Classifier talks to the provider.
type Classifier struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
	log      zerolog.Logger

	mu           sync.Mutex
	callsToday   int
	dayStart     time.Time
	monthCostUSD float64
	monthStart   time.Time
}

func NewClassifier(apiKey string, log zerolog.Logger) *Classifier {
	now := time.Now().UTC()
	return &Classifier{
		apiKey:     apiKey,
		endpoint:   defaultEndpoint,
		model:      defaultModel,
		client:     &http.Client{Timeout: requestTimeout},
		log:        log.With().Str("component", "ai").Logger(),
		dayStart:   now.Truncate(24 * time.Hour),
		monthStart: time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC),
	}
}

// Enabled reports whether an API key is configured.
func (c *Classifier) Enabled() bool { return c.apiKey != "" }

func (c *Classifier) consumeBudget() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now().UTC()
	if now.Sub(c.dayStart) >= 24*time.Hour {
		c.dayStart = now.Truncate(24 * time.Hour)
		c.callsToday = 0
	}
	if now.Month() != c.monthStart.Month() || now.Year() != c.monthStart.Year() {
		c.monthStart = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
		c.monthCostUSD = 0
	}

	if c.callsToday >= MaxDailyCalls {
		return fmt.Errorf("%w: %d calls today", ErrBudgetExceeded, c.callsToday)
	}
	if c.monthCostUSD+estimatedCostPerCall > MaxMonthlyCostUSD {
		return fmt.Errorf("%w: $%.2f this month", ErrBudgetExceeded, c.monthCostUSD)
	}

	c.callsToday++
	c.monthCostUSD += estimatedCostPerCall
	return nil
}

// Classify asks the provider for a market classification. On transport
// failure after retries, a NEUTRAL classification and the error are both
// returned so callers can degrade gracefully.
func (c *Classifier) Classify(ctx context.Context, f signals.MarketFeatures) (Classification, error) {
	neutral := Classification{Direction: "NEUTRAL", Confidence: 0, RiskLevel: "MEDIUM"}

	if !c.Enabled() {
		return neutral, fmt.Errorf("ai classifier disabled: no api key")
	}
	if err := c.consumeBudget(); err != nil {
		return neutral, err
	}

	prompt := buildPrompt(f)

	var result Classification
	err := retry.Do(ctx, retry.DefaultAttempts, retry.DefaultBase, retry.DefaultMax, func() error {
		out, err := c.complete(ctx, prompt)
		if err != nil {
			return err
		}
		result = out
		return nil
	})
	if err != nil {
		c.log.Warn().Err(err).Msg("classification failed, returning neutral")
		return neutral, err
	}

	result.Direction = normalizeDirection(result.Direction)
	result.RiskLevel = normalizeRisk(result.RiskLevel)
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return result, nil
}

func buildPrompt(f signals.MarketFeatures) string {
	return fmt.Sprintf(
		`Classify the market for a crypto asset. Respond with JSON only:
{"direction": "BULLISH|BEARISH|NEUTRAL", "confidence": 0.0-1.0, "risk_level": "LOW|MEDIUM|HIGH", "reasoning": "..."}

Data:
- fear & greed index: %d
- RSI: %.1f
- price vs SMA20/SMA50: %.2f / %.2f / %.2f
- 24h price change: %.2f%%
- volume vs average: %.0f / %.0f
- 7d ETF flow USD: %.0f
- fed stance: %s`,
		f.FearGreed, f.RSI, f.Price, f.SMA20, f.SMA50,
		f.PriceChange24h, f.Volume, f.AvgVolume, f.ETFFlow7d, f.FedSentiment,
	)
}

func (c *Classifier) complete(ctx context.Context, prompt string) (Classification, error) {
	body := map[string]interface{}{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "user", "content": prompt},
		},
		"temperature": 0.1,
	}
	data, err := json.Marshal(body)
	if err != nil {
		return Classification{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewBuffer(data))
	if err != nil {
		return Classification{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("ai request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Classification{}, err
	}
	if resp.StatusCode != http.StatusOK {
		return Classification{}, fmt.Errorf("ai API error %d: %s", resp.StatusCode, string(raw))
	}

	var completion struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &completion); err != nil {
		return Classification{}, fmt.Errorf("error parsing completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return Classification{}, fmt.Errorf("empty completion")
	}

	return parseClassification(completion.Choices[0].Message.Content)
}

// parseClassification extracts the JSON object from the model output,
// tolerating surrounding prose or code fences.
func parseClassification(content string) (Classification, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return Classification{}, fmt.Errorf("no JSON object in response")
	}

	var out Classification
	if err := json.Unmarshal([]byte(content[start:end+1]), &out); err != nil {
		return Classification{}, fmt.Errorf("error parsing classification: %w", err)
	}
	return out, nil
}

func normalizeDirection(d string) string {
	switch strings.ToUpper(strings.TrimSpace(d)) {
	case "BULLISH":
		return "BULLISH"
	case "BEARISH":
		return "BEARISH"
	default:
		return "NEUTRAL"
	}
}

func normalizeRisk(r string) string {
	switch strings.ToUpper(strings.TrimSpace(r)) {
	case "LOW":
		return "LOW"
	case "HIGH":
		return "HIGH"
	default:
		return "MEDIUM"
	}
}
