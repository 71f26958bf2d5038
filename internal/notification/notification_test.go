package notification

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type recordingProvider struct {
	delivered []string
}

func (r *recordingProvider) Deliver(text string) error {
	r.delivered = append(r.delivered, text)
	return nil
}

func (r *recordingProvider) Name() string    { return "recording" }
func (r *recordingProvider) IsEnabled() bool { return true }

func TestSend_DeduplicatesWithinWindow(t *testing.T) {
	rec := &recordingProvider{}
	m := NewManager(zerolog.Nop())
	m.AddProvider(rec)

	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	now := base
	m.now = func() time.Time { return now }

	m.Send("alert", false)
	m.Send("alert", false)
	if len(rec.delivered) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(rec.delivered))
	}

	// A different text goes through.
	m.Send("other alert", false)
	if len(rec.delivered) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(rec.delivered))
	}

	// After the window the same text sends again.
	now = base.Add(61 * time.Second)
	m.Send("alert", false)
	if len(rec.delivered) != 3 {
		t.Fatalf("expected 3 deliveries, got %d", len(rec.delivered))
	}
}

func TestSend_ForceBypassesDedupe(t *testing.T) {
	rec := &recordingProvider{}
	m := NewManager(zerolog.Nop())
	m.AddProvider(rec)

	m.Send("reconciliation warning", true)
	m.Send("reconciliation warning", true)
	if len(rec.delivered) != 2 {
		t.Fatalf("force must bypass dedupe, got %d deliveries", len(rec.delivered))
	}
}
