// Package api serves the read-only operator status endpoints.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"cohort-trading-bot/internal/cohort"
	"cohort-trading-bot/internal/cycle"
	"cohort-trading-bot/internal/heartbeat"
)

// StatusSource reports per-cohort runtime status.
type StatusSource interface {
	Status() map[string]interface{}
}

// Server is the HTTP status surface. It only reads; all mutation goes
// through the trading loop.
type Server struct {
	engine        *gin.Engine
	srv           *http.Server
	cohorts       *cohort.Manager
	cycles        *cycle.Manager
	status        StatusSource
	heartbeatPath string
	log           zerolog.Logger
}

func NewServer(addr string, cohorts *cohort.Manager, cycles *cycle.Manager, status StatusSource, heartbeatPath string, log zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(cors.Default())

	s := &Server{
		engine:        engine,
		cohorts:       cohorts,
		cycles:        cycles,
		status:        status,
		heartbeatPath: heartbeatPath,
		log:           log.With().Str("component", "api").Logger(),
	}

	engine.GET("/healthz", s.handleHealth)
	engine.GET("/cohorts", s.handleCohorts)
	engine.GET("/cohorts/comparison", s.handleComparison)
	engine.GET("/cycles/:cohort", s.handleCycles)
	engine.GET("/status", s.handleStatus)

	s.srv = &http.Server{
		Addr:         addr,
		Handler:      engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Start serves until Shutdown.
func (s *Server) Start() {
	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error().Err(err).Msg("status server failed")
		}
	}()
	s.log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
}

// Shutdown drains the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	age, err := heartbeat.Age(s.heartbeatPath)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "no heartbeat"})
		return
	}

	status := "ok"
	code := http.StatusOK
	if age > 5*time.Minute {
		status = "stale"
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, gin.H{"status": status, "heartbeat_age_seconds": int(age.Seconds())})
}

func (s *Server) handleCohorts(c *gin.Context) {
	type cohortView struct {
		Name            string  `json:"name"`
		Description     string  `json:"description"`
		StartingCapital float64 `json:"starting_capital"`
		CurrentCapital  float64 `json:"current_capital"`
		GridRangePct    float64 `json:"grid_range_pct"`
		MinConfidence   float64 `json:"min_confidence"`
		Frozen          bool    `json:"frozen"`
	}

	var out []cohortView
	for _, co := range s.cohorts.ActiveCohorts() {
		out = append(out, cohortView{
			Name:            co.Name,
			Description:     co.Description,
			StartingCapital: co.StartingCapital,
			CurrentCapital:  co.CurrentCapital,
			GridRangePct:    co.Config.GridRangePct,
			MinConfidence:   co.Config.MinConfidence,
			Frozen:          co.Config.Frozen,
		})
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) handleComparison(c *gin.Context) {
	report, err := s.cohorts.ComparisonReport(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (s *Server) handleCycles(c *gin.Context) {
	name := c.Param("cohort")
	co := s.cohorts.Get(name)
	if co == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown cohort"})
		return
	}

	cycles, err := s.cycles.CycleComparison(c.Request.Context(), co.ID, 10)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"cohort":    name,
		"active":    s.cycles.ActiveCycle(co.ID),
		"completed": cycles,
	})
}

func (s *Server) handleStatus(c *gin.Context) {
	if s.status == nil {
		c.JSON(http.StatusOK, gin.H{})
		return
	}
	c.JSON(http.StatusOK, s.status.Status())
}
