package monitoring

import (
	"fmt"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the monitoring tasks on their periods. Each task is
// wrapped with SkipIfStillRunning so only one copy executes at a time.
type Scheduler struct {
	cron  *cron.Cron
	tasks *Tasks
	log   zerolog.Logger
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}

// NewScheduler wires every task to its schedule.
func NewScheduler(tasks *Tasks, log zerolog.Logger) (*Scheduler, error) {
	logger := cronLogger{log: log.With().Str("component", "monitoring-cron").Logger()}
	c := cron.New(cron.WithChain(
		cron.SkipIfStillRunning(logger),
		cron.Recover(logger),
	))

	schedule := []struct {
		spec string
		name string
		run  func()
	}{
		{"*/30 * * * *", "reconcile_orders", tasks.ReconcileOrders},
		{"0 * * * *", "order_timeout_check", tasks.OrderTimeoutCheck},
		{"0 */2 * * *", "portfolio_plausibility", tasks.PortfolioPlausibility},
		{"0 */4 * * *", "grid_health_summary", tasks.GridHealthSummary},
		{"*/30 * * * *", "stale_detection", tasks.StaleDetection},
		{"0 */2 * * *", "tier_health_check", tasks.TierHealthCheck},
		{"0 */12 * * *", "discovery_health_check", tasks.DiscoveryHealthCheck},
	}

	for _, entry := range schedule {
		if _, err := c.AddFunc(entry.spec, entry.run); err != nil {
			return nil, fmt.Errorf("scheduling %s: %w", entry.name, err)
		}
	}

	return &Scheduler{
		cron:  c,
		tasks: tasks,
		log:   log.With().Str("component", "monitoring").Logger(),
	}, nil
}

// AddJob registers an extra scheduled job (weekly learning batch, daily
// summary) under the same skip-if-running protection.
func (s *Scheduler) AddJob(spec, name string, run func()) error {
	if _, err := s.cron.AddFunc(spec, run); err != nil {
		return fmt.Errorf("scheduling %s: %w", name, err)
	}
	return nil
}

// Start launches the cron loop.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Msg("monitoring scheduler started")
}

// Stop halts scheduling and waits for running tasks to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("monitoring scheduler stopped")
}
