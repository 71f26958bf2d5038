// Package notification dispatches operator alerts. Duplicate texts
// within one minute are suppressed unless forced.
package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Notifier is the channel the rest of the system talks to.
type Notifier interface {
	Send(text string, force bool) error
}

// Provider is one concrete delivery channel.
type Provider interface {
	Deliver(text string) error
	Name() string
	IsEnabled() bool
}

// dedupeWindow is how long an identical text suppresses re-sends.
const dedupeWindow = time.Minute

// Manager fans a message out to all enabled providers, with duplicate
// suppression.
type Manager struct {
	mu        sync.Mutex
	providers []Provider
	lastSent  map[string]time.Time
	log       zerolog.Logger

	now func() time.Time
}

func NewManager(log zerolog.Logger) *Manager {
	return &Manager{
		lastSent: make(map[string]time.Time),
		log:      log.With().Str("component", "notification").Logger(),
		now:      time.Now,
	}
}

// AddProvider registers a delivery channel.
func (m *Manager) AddProvider(p Provider) {
	m.providers = append(m.providers, p)
}

// Send delivers the text to every enabled provider. A duplicate text
// within the dedupe window is dropped unless force is set.
func (m *Manager) Send(text string, force bool) error {
	m.mu.Lock()
	if !force {
		if last, seen := m.lastSent[text]; seen && m.now().Sub(last) < dedupeWindow {
			m.mu.Unlock()
			return nil
		}
	}
	m.lastSent[text] = m.now()

	// Drop expired entries so the map does not grow unbounded.
	for k, v := range m.lastSent {
		if m.now().Sub(v) > dedupeWindow {
			delete(m.lastSent, k)
		}
	}
	m.mu.Unlock()

	var lastErr error
	for _, p := range m.providers {
		if !p.IsEnabled() {
			continue
		}
		if err := p.Deliver(text); err != nil {
			m.log.Error().Err(err).Str("provider", p.Name()).Msg("delivery failed")
			lastErr = err
		}
	}
	return lastErr
}

// TelegramProvider delivers via the Telegram bot API.
type TelegramProvider struct {
	botToken string
	chatID   string
	enabled  bool
	client   *http.Client
}

// TelegramConfig holds Telegram settings.
type TelegramConfig struct {
	BotToken string
	ChatID   string
	Enabled  bool
}

func NewTelegramProvider(cfg TelegramConfig) *TelegramProvider {
	return &TelegramProvider{
		botToken: cfg.BotToken,
		chatID:   cfg.ChatID,
		enabled:  cfg.Enabled && cfg.BotToken != "" && cfg.ChatID != "",
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *TelegramProvider) Name() string { return "telegram" }

func (t *TelegramProvider) IsEnabled() bool { return t.enabled }

func (t *TelegramProvider) Deliver(text string) error {
	payload := map[string]interface{}{
		"chat_id": t.chatID,
		"text":    text,
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/sendMessage", t.botToken)
	resp, err := t.client.Post(url, "application/json", bytes.NewBuffer(data))
	if err != nil {
		return fmt.Errorf("failed to send telegram message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram API returned status %d", resp.StatusCode)
	}
	return nil
}
