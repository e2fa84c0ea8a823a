package metrics

import (
	"context"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Scheduler metrics
	TicksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dutytrack_ticks_total",
			Help: "Total scheduler ticks, by membership query outcome",
		},
		[]string{"result"},
	)

	TickDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dutytrack_tick_duration_seconds",
			Help:    "Time spent processing one scheduler tick",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
	)

	// Accrual metrics
	OpenSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "dutytrack_open_sessions",
			Help: "Number of open presence sessions",
		},
	)

	SecondsAccrued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dutytrack_seconds_accrued_total",
			Help: "Presence seconds credited to totals",
		},
		[]string{"source"}, // leave or tick
	)

	SessionEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dutytrack_session_events_total",
			Help: "Session lifecycle events",
		},
		[]string{"event"}, // join, leave, heal, discard
	)

	RolloversTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dutytrack_rollovers_total",
			Help: "Total period rollovers",
		},
	)

	// Collaborator metrics
	RemindersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dutytrack_reminders_total",
			Help: "Reminder instants processed",
		},
		[]string{"reminder", "result"}, // sent, failed, skipped
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dutytrack_reports_total",
			Help: "Period reports delivered",
		},
		[]string{"result"},
	)

	// Storage metrics
	SnapshotSaveFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dutytrack_snapshot_save_failures_total",
			Help: "Snapshot writes that failed",
		},
	)

	SnapshotLoadFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dutytrack_snapshot_load_failures_total",
			Help: "Snapshot loads that failed at startup",
		},
		[]string{"reason"}, // malformed or io
	)

	SnapshotSaveDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dutytrack_snapshot_save_duration_seconds",
			Help:    "Snapshot write duration in seconds",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 5},
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(
		TicksTotal,
		TickDuration,
		OpenSessions,
		SecondsAccrued,
		SessionEvents,
		RolloversTotal,
		RemindersTotal,
		ReportsTotal,
		SnapshotSaveFailures,
		SnapshotLoadFailures,
		SnapshotSaveDuration,
	)
}

// Server is the metrics HTTP server
type Server struct {
	server   *http.Server
	logger   zerolog.Logger
	listener net.Listener // Optional pre-created listener (for systemd socket activation)

	mu     sync.RWMutex
	health func() error
}

// NewServer creates a new metrics server
func NewServer(addr string, logger zerolog.Logger) *Server {
	s := &Server{
		logger: logger.With().Str("component", "metrics").Logger(),
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// SetListener sets a pre-created listener for systemd socket activation
func (s *Server) SetListener(ln net.Listener) {
	s.listener = ln
}

// SetHealthCheck installs the check behind /health. Without one the endpoint
// always reports OK.
func (s *Server) SetHealthCheck(check func() error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.health = check
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	check := s.health
	s.mu.RUnlock()

	if check != nil {
		if err := check(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(err.Error()))
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Start starts the metrics server
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("Starting metrics server")
	go func() {
		var err error
		if s.listener != nil {
			// Use systemd socket-activated listener
			s.logger.Debug().Msg("Using systemd socket-activated metrics listener")
			err = s.server.Serve(s.listener)
		} else {
			// Create and bind listener ourselves
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			s.logger.Error().Err(err).Msg("Metrics server error")
		}
	}()
	return nil
}

// Stop gracefully stops the metrics server
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info().Msg("Stopping metrics server")
	return s.server.Shutdown(ctx)
}
