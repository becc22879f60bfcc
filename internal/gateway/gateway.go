// Package gateway is the HTTP front of the thinking proxy.
//
// DESIGN: One Gateway struct owns every subsystem handle. Nothing in this
// package reaches for globals; construction wires the optimizer, detector,
// signature caches, monitor, and persistence together explicitly, so tests
// can build a Gateway from parts.
//
// Request flow:
//   - handleProxy():   Entry point for generateContent requests
//   - prepareRequest(): Budget selection and signature restoration
//   - forwardWithEscalation(): Upstream round trips plus budget retries
//
// Also includes health check and the loopback-only stats endpoints.
package gateway

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/compresr/thinking-gateway/internal/budget"
	"github.com/compresr/thinking-gateway/internal/config"
	"github.com/compresr/thinking-gateway/internal/detector"
	"github.com/compresr/thinking-gateway/internal/monitoring"
	"github.com/compresr/thinking-gateway/internal/signature"
	"github.com/compresr/thinking-gateway/internal/store"
)

// Gateway proxies model requests, sizing thinking budgets on the way out
// and harvesting signatures and sufficiency signals on the way back.
type Gateway struct {
	cfg *config.Config

	optimizer  *budget.Optimizer
	detector   *detector.SufficiencyDetector
	escalation *detector.EscalationManager
	violations *monitoring.ViolationMetrics
	monitor    *monitoring.CacheMonitor
	tables     *signature.TableCache
	continuity *signature.ContinuityCache
	writer     *store.AsyncWriter

	client    *http.Client
	server    *http.Server
	startTime time.Time
	stopCh    chan struct{}
}

// Deps are the subsystem handles a Gateway is built from. Writer may be
// nil for a memory-only gateway.
type Deps struct {
	Optimizer  *budget.Optimizer
	Detector   *detector.SufficiencyDetector
	Escalation *detector.EscalationManager
	Violations *monitoring.ViolationMetrics
	Monitor    *monitoring.CacheMonitor
	Tables     *signature.TableCache
	Continuity *signature.ContinuityCache
	Writer     *store.AsyncWriter
}

// New builds a Gateway from its parts.
func New(cfg *config.Config, deps Deps) *Gateway {
	return &Gateway{
		cfg:        cfg,
		optimizer:  deps.Optimizer,
		detector:   deps.Detector,
		escalation: deps.Escalation,
		violations: deps.Violations,
		monitor:    deps.Monitor,
		tables:     deps.Tables,
		continuity: deps.Continuity,
		writer:     deps.Writer,
		client:     &http.Client{Timeout: 120 * time.Second},
		startTime:  time.Now(),
		stopCh:     make(chan struct{}),
	}
}

// Routes returns the gateway's HTTP mux.
func (g *Gateway) Routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", g.handleHealth)
	mux.HandleFunc("/stats", g.handleStats)
	mux.HandleFunc("/stats/signatures", g.handleSignatureStats)
	mux.HandleFunc("/stats/escalations", g.handleEscalationStats)
	mux.HandleFunc("/stats/violations", g.handleViolationStats)
	mux.HandleFunc("/stats/reset", g.handleStatsReset)
	mux.HandleFunc("/", g.handleProxy)
	return mux
}

// Start runs the HTTP server and background maintenance until Stop.
func (g *Gateway) Start() error {
	g.server = &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", g.cfg.Server.Port),
		Handler:      g.Routes(),
		ReadTimeout:  g.cfg.Server.ReadTimeout,
		WriteTimeout: g.cfg.Server.WriteTimeout,
	}

	go g.maintenance()

	log.Info().
		Int("port", g.cfg.Server.Port).
		Str("upstream", g.cfg.Server.Upstream).
		Msg("gateway listening")

	if err := g.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

// Stop shuts the server down and stops background maintenance.
func (g *Gateway) Stop(ctx context.Context) error {
	select {
	case <-g.stopCh:
	default:
		close(g.stopCh)
	}
	if g.server != nil {
		return g.server.Shutdown(ctx)
	}
	return nil
}

// maintenance runs the periodic jobs: continuity TTL sweeps, latency
// degradation checks, and metric snapshots to the store.
func (g *Gateway) maintenance() {
	cleanup := time.NewTicker(time.Hour)
	degrade := time.NewTicker(time.Minute)
	persist := time.NewTicker(config.MetricsSaveInterval)
	defer cleanup.Stop()
	defer degrade.Stop()
	defer persist.Stop()

	for {
		select {
		case <-g.stopCh:
			return
		case <-cleanup.C:
			if n := g.continuity.CleanupExpired(); n > 0 {
				log.Debug().Int("removed", n).Msg("continuity cache sweep")
			}
		case <-degrade.C:
			g.monitor.CheckDegradation()
		case <-persist.C:
			g.persistSnapshots()
		}
	}
}

// persistSnapshots queues the current aggregate metrics for storage.
func (g *Gateway) persistSnapshots() {
	if g.writer == nil {
		return
	}
	report := g.monitor.GetReport()
	highValue := g.monitor.HighValueSignatures()
	violations := g.violations.GetReport()

	g.writer.Submit("cache_report", func(s *store.Store) error {
		return s.SaveCacheReport(report)
	})
	if len(highValue) > 0 {
		g.writer.Submit("signature_stats", func(s *store.Store) error {
			return s.SaveSignatureStats(highValue)
		})
	}
	g.writer.Submit("violation_stats", func(s *store.Store) error {
		return s.SaveViolationReport(violations)
	})
}

// isLoopback reports whether the remote address is local. Stats and reset
// endpoints are restricted to localhost.
func isLoopback(remoteAddr string) bool {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		host = remoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
