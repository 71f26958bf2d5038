package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"cohort-trading-bot/config"
	"cohort-trading-bot/internal/ai"
	"cohort-trading-bot/internal/api"
	"cohort-trading-bot/internal/bayesian"
	"cohort-trading-bot/internal/binance"
	"cohort-trading-bot/internal/cache"
	"cohort-trading-bot/internal/cohort"
	"cohort-trading-bot/internal/cycle"
	"cohort-trading-bot/internal/database"
	"cohort-trading-bot/internal/hybrid"
	"cohort-trading-bot/internal/marketdata"
	"cohort-trading-bot/internal/monitoring"
	"cohort-trading-bot/internal/notification"
	"cohort-trading-bot/internal/orchestrator"
	"cohort-trading-bot/internal/regime"
	"cohort-trading-bot/internal/risk"
	"cohort-trading-bot/internal/signals"
)

// Exit codes: 0 clean shutdown, 1 configuration failure, 2 unrecoverable
// supervisor error.
const (
	exitOK           = 0
	exitConfig       = 1
	exitUnrecoverable = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	_ = godotenv.Load()

	cfg := config.Load()

	log := buildLogger(cfg.Logging)

	if errs := cfg.Validate(); len(errs) > 0 {
		for _, err := range errs {
			log.Error().Err(err).Msg("configuration invalid")
		}
		return exitConfig
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		log.Error().Err(err).Msg("cannot create data directory")
		return exitConfig
	}

	// Persistence is optional: without DATABASE_URL the system runs on
	// in-memory defaults and state files only.
	var repo *database.Repository
	if cfg.DatabaseURL != "" {
		db, err := database.NewDB(ctx, cfg.DatabaseURL, log)
		if err != nil {
			log.Warn().Err(err).Msg("database unavailable, running in memory mode")
		} else {
			defer db.Close()
			if err := db.RunMigrations(ctx); err != nil {
				log.Error().Err(err).Msg("migrations failed")
				return exitConfig
			}
			repo = database.NewRepository(db)
		}
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer rdb.Close()
	}

	client := buildVenueClient(cfg, log)

	notifier := notification.NewManager(log)
	notifier.AddProvider(notification.NewTelegramProvider(notification.TelegramConfig{
		BotToken: cfg.Telegram.BotToken,
		ChatID:   cfg.Telegram.ChatID,
		Enabled:  cfg.Telegram.BotToken != "",
	}))

	classifier := ai.NewClassifier(cfg.AI.DeepSeekAPIKey, log)

	// Component stores stay nil interfaces without a database.
	var (
		cohortStore   cohort.Store
		cycleStore    cycle.Store
		bayesianStore bayesian.Store
		tradeReturns  risk.TradeReturnsStore
		healthStore   monitoring.HealthStore
		snapshotStore marketdata.SnapshotStore
	)
	if repo != nil {
		cohortStore = repo
		cycleStore = repo
		bayesianStore = repo
		tradeReturns = repo
		healthStore = repo
		snapshotStore = repo
	}

	cohortMgr := cohort.NewManager(ctx, cohortStore, log)
	if repo != nil {
		seedDefaultCohorts(ctx, repo, cohortMgr, log)
	}

	detector := regime.NewDetector(log)
	learner := bayesian.NewLearner(ctx, bayesianStore, log)
	analyzer := signals.NewAnalyzer(learner, log)

	source := marketdata.NewSource(client, snapshotStore, classifier, cfg.Watchlist, log)

	returnsCache := cache.NewReturnsCache(rdb, log)
	returnsProvider := risk.NewChainedReturnsProvider(tradeReturns, source, returnsCache, log)
	sizer := risk.NewSizer(returnsProvider, risk.DefaultCorrelationMatrix(), log)

	cycleMgr := cycle.NewManager(ctx, cycleStore, log)

	var recorder hybrid.DecisionRecorder
	if repo != nil {
		recorder = repo
	}

	supervisor := orchestrator.NewSupervisor(client, cohortMgr, func(c *cohort.Cohort) hybrid.Deps {
		return hybrid.Deps{
			Client:   client,
			Detector: detector,
			Analyzer: analyzer,
			Sizer:    sizer,
			Features: source,
			Recorder: recorder,
			DataDir:  cfg.DataDir,
			Log:      log,
		}
	}, cfg.HeartbeatPath, log)

	if err := supervisor.Initialize(ctx); err != nil {
		log.Error().Err(err).Msg("supervisor initialization failed")
		return exitConfig
	}
	supervisor.InitialAllocation(ctx)

	// Cycle bookkeeping: open cycles for cohorts without one.
	for _, c := range cohortMgr.ActiveCohorts() {
		if cycleMgr.ShouldStartNewCycle(c.ID) {
			if _, err := cycleMgr.StartCycle(ctx, c.ID, c.Name, c.CurrentCapital); err != nil {
				log.Warn().Err(err).Str("cohort", c.Name).Msg("cycle start failed")
			}
		}
	}

	tasks := monitoring.NewTasks(cfg.DataDir, client, healthStore, notifier, cfg.Monitoring.TierCheckEnabled, log)
	scheduler, err := monitoring.NewScheduler(tasks, log)
	if err != nil {
		log.Error().Err(err).Msg("monitoring scheduler setup failed")
		return exitConfig
	}

	// Weekly learning batch: Bayesian weight updates plus cycle rollover.
	if err := scheduler.AddJob("0 0 * * 0", "weekly_learning", func() {
		jobCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()

		learner.WeeklyUpdate(jobCtx)

		for _, c := range cohortMgr.ActiveCohorts() {
			if !cycleMgr.ShouldStartNewCycle(c.ID) {
				continue
			}
			closed, err := cycleMgr.CloseCycle(jobCtx, c.ID)
			if err == nil && closed != nil && closed.EndingCapital != nil && !c.Config.Frozen {
				if err := cohortMgr.UpdateCapital(jobCtx, c.Name, *closed.EndingCapital); err != nil {
					log.Warn().Err(err).Str("cohort", c.Name).Msg("capital update failed")
				}
			}
			if _, err := cycleMgr.StartCycle(jobCtx, c.ID, c.Name, c.CurrentCapital); err != nil {
				log.Warn().Err(err).Str("cohort", c.Name).Msg("cycle rollover failed")
			}
		}
	}); err != nil {
		log.Error().Err(err).Msg("weekly job setup failed")
		return exitConfig
	}

	// Daily summary at the configured hour.
	summarySpec := fmt.Sprintf("0 %d * * *", cfg.Monitoring.DailySummaryHour)
	if err := scheduler.AddJob(summarySpec, "daily_summary", func() {
		var b strings.Builder
		b.WriteString("Daily Summary\n")
		for name, status := range supervisor.Status() {
			fmt.Fprintf(&b, "\n%s: %v", name, status)
		}
		if err := notifier.Send(b.String(), true); err != nil {
			log.Warn().Err(err).Msg("daily summary dispatch failed")
		}
	}); err != nil {
		log.Error().Err(err).Msg("daily summary setup failed")
		return exitConfig
	}

	scheduler.Start()
	defer scheduler.Stop()

	// Websocket price stream keeps fresh quotes between REST polls.
	var stream *binance.PriceStream
	if !cfg.Binance.PaperTrading {
		symbols := cfg.Watchlist
		if len(symbols) == 0 {
			symbols = []string{"BTCUSDT", "ETHUSDT", "SOLUSDT", "BNBUSDT"}
		}
		stream = binance.NewPriceStream(symbols, cfg.Binance.TestNet, log)
		stream.Start()
		defer stream.Stop()
	}

	var statusServer *api.Server
	if cfg.API.Enabled {
		statusServer = api.NewServer(cfg.API.Addr, cohortMgr, cycleMgr, supervisor, cfg.HeartbeatPath, log)
		statusServer.Start()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = statusServer.Shutdown(shutdownCtx)
		}()
	}

	log.Info().Msg("cohort trading bot started")
	if err := supervisor.Run(ctx); err != nil {
		log.Error().Err(err).Msg("supervisor stopped")
		return exitUnrecoverable
	}

	log.Info().Msg("clean shutdown")
	return exitOK
}

func buildLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.Pretty {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stderr)
	}
	return log.Level(level).With().Timestamp().Logger()
}

func buildVenueClient(cfg *config.Config, log zerolog.Logger) binance.VenueClient {
	if cfg.Binance.PaperTrading {
		log.Info().Float64("usdt", cfg.Binance.PaperUSDT).Msg("paper trading mode")
		return binance.NewPaperClient(cfg.Binance.PaperUSDT)
	}

	baseURL := binance.MainnetBaseURL
	if cfg.Binance.TestNet {
		baseURL = binance.TestnetBaseURL
	}
	log.Info().Bool("testnet", cfg.Binance.TestNet).Msg("live venue client")
	return binance.NewClient(cfg.Binance.APIKey, cfg.Binance.SecretKey, baseURL)
}

// seedDefaultCohorts persists the in-memory default catalog on first run
// against an empty database.
func seedDefaultCohorts(ctx context.Context, repo *database.Repository, mgr *cohort.Manager, log zerolog.Logger) {
	for _, c := range mgr.ActiveCohorts() {
		if !strings.HasPrefix(c.ID, "default-") {
			continue
		}
		if err := repo.InsertCohort(ctx, c); err != nil {
			log.Warn().Err(err).Str("cohort", c.Name).Msg("cohort seed failed")
		}
	}
}
