package relay

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"transcription-relay/internal/clock"
	"transcription-relay/internal/models"
	"transcription-relay/internal/observability/logging"
	"transcription-relay/internal/observability/metrics"
)

const (
	closeIdleTimeout    = models.CloseIdleTimeout
	closeSessionTimeout = models.CloseSessionTimeout

	reasonIdleTimeout    = "idle timeout"
	reasonSessionTimeout = "session timeout"
)

// Sweeper periodically evicts clients that have been idle or connected for
// too long.
type Sweeper struct {
	registry   *Registry
	clock      clock.Clock
	interval   time.Duration
	maxIdle    time.Duration
	maxSession time.Duration
	metrics    *metrics.Metrics
	logger     zerolog.Logger
}

// NewSweeper creates a sweeper over registry.
func NewSweeper(registry *Registry, clk clock.Clock, interval, maxIdle, maxSession time.Duration, m *metrics.Metrics) *Sweeper {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	return &Sweeper{
		registry:   registry,
		clock:      clk,
		interval:   interval,
		maxIdle:    maxIdle,
		maxSession: maxSession,
		metrics:    m,
		logger:     logging.WithComponent("sweeper"),
	}
}

// Sweep evicts every expired client once and reports who was evicted.
func (s *Sweeper) Sweep() []Expiry {
	conns, expired := s.registry.removeExpired(s.maxIdle, s.maxSession)
	for i, c := range conns {
		e := expired[i]
		c.Close(e.Code, e.Reason)
		s.metrics.RecordEviction(metricReason(e.Code))
		s.logger.Info().
			Str("clientId", e.ClientID).
			Int("code", e.Code).
			Str("reason", e.Reason).
			Msg("Evicted client")
	}
	if len(expired) > 0 {
		s.logger.Debug().Int("evicted", len(expired)).Int("remaining", s.registry.Len()).Msg("Sweep completed")
	}
	return expired
}

// Run sweeps on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := s.clock.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.Sweep()
		}
	}
}

func metricReason(code int) string {
	switch code {
	case models.CloseIdleTimeout:
		return "idle"
	case models.CloseSessionTimeout:
		return "session_timeout"
	case models.CloseUpstreamConnectTimeout:
		return "connect_timeout"
	case models.CloseUpstreamConnectFailed:
		return "connect_failed"
	case models.CloseUpstreamClosed:
		return "upstream_closed"
	default:
		return "shutdown"
	}
}
