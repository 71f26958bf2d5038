// Package orchestrator supervises the per-cohort hybrid instances: one
// shared venue client, one tick loop, isolated per-cohort failures.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/binance"
	"cohort-trading-bot/internal/cohort"
	"cohort-trading-bot/internal/heartbeat"
	"cohort-trading-bot/internal/hybrid"
)

const (
	// TickInterval is the pause between supervisor rounds.
	TickInterval = 30 * time.Second

	// MaxConsecutiveErrors trips the supervisor.
	MaxConsecutiveErrors = 5
)

// ErrTooManyFailures is returned by Run after the supervisor trips.
var ErrTooManyFailures = errors.New("too many consecutive supervisor errors")

// Supervisor owns the venue client and one hybrid orchestrator per
// active cohort.
type Supervisor struct {
	client        binance.VenueClient
	cohorts       *cohort.Manager
	buildDeps     func(c *cohort.Cohort) hybrid.Deps
	heartbeatPath string
	log           zerolog.Logger

	instances         map[string]*hybrid.Orchestrator
	consecutiveErrors int
}

// NewSupervisor wires the supervisor. buildDeps produces the per-cohort
// dependency bundle (sharing the venue client across all of them).
func NewSupervisor(client binance.VenueClient, cohorts *cohort.Manager, buildDeps func(c *cohort.Cohort) hybrid.Deps, heartbeatPath string, log zerolog.Logger) *Supervisor {
	return &Supervisor{
		client:        client,
		cohorts:       cohorts,
		buildDeps:     buildDeps,
		heartbeatPath: heartbeatPath,
		log:           log.With().Str("component", "supervisor").Logger(),
		instances:     make(map[string]*hybrid.Orchestrator),
	}
}

// Initialize builds one hybrid instance per active cohort, validating
// each derived config. Succeeds iff at least one cohort initialized.
func (s *Supervisor) Initialize(ctx context.Context) error {
	cohorts := s.cohorts.ActiveCohorts()
	if len(cohorts) == 0 {
		return fmt.Errorf("no active cohorts found")
	}

	for _, c := range cohorts {
		cfg := hybrid.FromCohort(c)
		if errs := cfg.Validate(); len(errs) > 0 {
			s.log.Error().Str("cohort", c.Name).Errs("errors", errs).Msg("invalid cohort config")
			continue
		}

		inst := hybrid.NewOrchestrator(cfg, c, s.buildDeps(c))
		if err := inst.LoadPersistedState(); err != nil {
			s.log.Warn().Err(err).Str("cohort", c.Name).Msg("state restore failed, starting fresh")
		}
		s.instances[c.Name] = inst

		s.log.Info().Str("cohort", c.Name).Float64("capital", c.CurrentCapital).
			Float64("grid_range_pct", c.Config.GridRangePct).Msg("cohort initialized")
	}

	if len(s.instances) == 0 {
		return fmt.Errorf("no cohorts initialized")
	}
	s.log.Info().Int("initialized", len(s.instances)).Int("total", len(cohorts)).
		Msg("supervisor initialized")
	return nil
}

// InitialAllocation runs scan-and-allocate on every instance; returns
// how many got allocations.
func (s *Supervisor) InitialAllocation(ctx context.Context) int {
	allocated := 0
	for name, inst := range s.instances {
		result, err := inst.ScanAndAllocate(ctx)
		if err != nil {
			s.log.Error().Err(err).Str("cohort", name).Msg("allocation failed")
			continue
		}
		if result != nil && len(result.Allocations) > 0 {
			allocated++
		} else {
			s.log.Warn().Str("cohort", name).Msg("no allocations")
		}
	}
	return allocated
}

// Tick fans out to each instance. Errors in one cohort never abort the
// others. The heartbeat is touched every round.
func (s *Supervisor) Tick(ctx context.Context) {
	for name, inst := range s.instances {
		if err := inst.Tick(ctx); err != nil {
			s.log.Error().Err(err).Str("cohort", name).Msg("tick failed")
		}
	}

	s.consecutiveErrors = 0
	if err := heartbeat.Touch(s.heartbeatPath); err != nil {
		s.log.Warn().Err(err).Msg("heartbeat touch failed")
	}
}

// Run is the main loop. It exits cleanly on context cancellation (after
// persisting state) or with ErrTooManyFailures once the supervisor trips.
func (s *Supervisor) Run(ctx context.Context) error {
	if len(s.instances) == 0 {
		return fmt.Errorf("no instances configured")
	}

	s.log.Info().Int("cohorts", len(s.instances)).Msg("supervisor starting")

	for {
		if err := s.tickSafely(ctx); err != nil {
			s.consecutiveErrors++
			s.log.Error().Err(err).
				Int("consecutive", s.consecutiveErrors).Int("max", MaxConsecutiveErrors).
				Msg("supervisor error")

			if s.consecutiveErrors >= MaxConsecutiveErrors {
				s.log.Error().Msg("supervisor tripping")
				s.SaveState()
				return ErrTooManyFailures
			}

			backoff := time.Duration(s.consecutiveErrors) * TickInterval
			select {
			case <-ctx.Done():
				s.SaveState()
				return nil
			case <-time.After(backoff):
			}
			continue
		}

		select {
		case <-ctx.Done():
			s.log.Info().Msg("shutdown signal, persisting state")
			s.SaveState()
			return nil
		case <-time.After(TickInterval):
		}
	}
}

// tickSafely converts panics in the tick round into errors so the
// consecutive-error policy applies to them too.
func (s *Supervisor) tickSafely(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("tick panicked: %v", r)
		}
	}()
	s.Tick(ctx)
	return nil
}

// SaveState persists every instance's state files.
func (s *Supervisor) SaveState() {
	for name, inst := range s.instances {
		if err := inst.SaveStateFiles(); err != nil {
			s.log.Error().Err(err).Str("cohort", name).Msg("state save failed")
		}
	}
}

// Status reports per-cohort status for the operator surface.
func (s *Supervisor) Status() map[string]interface{} {
	out := make(map[string]interface{}, len(s.instances))
	for name, inst := range s.instances {
		out[name] = inst.Status()
	}
	return out
}
