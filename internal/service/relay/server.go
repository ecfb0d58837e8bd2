package relay

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"transcription-relay/internal/clock"
	"transcription-relay/internal/models"
	"transcription-relay/internal/observability/logging"
	"transcription-relay/internal/observability/metrics"
	"transcription-relay/internal/service/filter"
	"transcription-relay/internal/service/stt"
)

// Config configures the relay server.
type Config struct {
	MaxIdleTime    time.Duration
	MaxSessionTime time.Duration
	SweepInterval  time.Duration
	MinConfidence  float64
	NoiseWords     []string
	Client         ClientConfig
}

// DefaultConfig returns the relay defaults.
func DefaultConfig() Config {
	return Config{
		MaxIdleTime:    5 * time.Minute,
		MaxSessionTime: time.Hour,
		SweepInterval:  60 * time.Second,
		MinConfidence:  0.7,
		Client: ClientConfig{
			ConnectTimeout:     10 * time.Second,
			AudioThrottleLimit: 1000,
			KeepAliveMaxBytes:  1024,
			PendingFrames:      64,
			WriteTimeout:       5 * time.Second,
			SendTimeout:        5 * time.Second,
		},
	}
}

// Deps are the collaborators the server needs. Clock and Metrics default to
// the real clock and the global metrics.
type Deps struct {
	Factory   stt.Factory
	Publisher Publisher
	Clock     clock.Clock
	Metrics   *metrics.Metrics
}

// Server accepts client WebSockets and runs one Client per connection.
type Server struct {
	cfg       Config
	factory   stt.Factory
	publisher Publisher
	filter    *filter.Policy
	clock     clock.Clock
	metrics   *metrics.Metrics
	registry  *Registry
	sweeper   *Sweeper
	upgrader  websocket.Upgrader
	logger    zerolog.Logger

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	stopping bool
	clients  sync.WaitGroup
	sweepers sync.WaitGroup
}

// NewServer creates a relay server. Call Start before serving.
func NewServer(cfg Config, deps Deps) *Server {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.DefaultMetrics
	}
	registry := NewRegistry(deps.Clock, deps.Metrics)
	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		cfg:       cfg,
		factory:   deps.Factory,
		publisher: deps.Publisher,
		filter:    filter.New(cfg.MinConfidence, cfg.NoiseWords),
		clock:     deps.Clock,
		metrics:   deps.Metrics,
		registry:  registry,
		sweeper:   NewSweeper(registry, deps.Clock, cfg.SweepInterval, cfg.MaxIdleTime, cfg.MaxSessionTime, deps.Metrics),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 4 * 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger: logging.WithComponent("relay"),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Registry exposes the connection registry for status endpoints.
func (s *Server) Registry() *Registry { return s.registry }

// Sweeper exposes the sweeper so callers can force a sweep.
func (s *Server) Sweeper() *Sweeper { return s.sweeper }

// Start launches the background sweep.
func (s *Server) Start() {
	s.sweepers.Add(1)
	go func() {
		defer s.sweepers.Done()
		s.sweeper.Run(s.ctx)
	}()
	s.logger.Info().
		Dur("sweepInterval", s.cfg.SweepInterval).
		Dur("maxIdleTime", s.cfg.MaxIdleTime).
		Dur("maxSessionTime", s.cfg.MaxSessionTime).
		Msg("Relay started")
}

// ServeHTTP upgrades the request and serves the client until it ends.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.stopping {
		s.mu.Unlock()
		http.Error(w, "relay shutting down", http.StatusServiceUnavailable)
		return
	}
	s.clients.Add(1)
	s.mu.Unlock()
	defer s.clients.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	id := uuid.NewString()
	adapter, err := s.factory(s.ctx)
	if err != nil {
		s.logger.Error().Err(err).Str("clientId", id).Msg("Failed to create upstream adapter")
		msg := websocket.FormatCloseMessage(models.CloseUpstreamConnectFailed, "upstream connect failed")
		conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		conn.Close()
		return
	}

	newClient(id, conn, adapter, s).Run(s.ctx)
}

// Shutdown stops the sweep, closes every client with 1001 and waits for
// their goroutines to finish or ctx to expire.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.stopping = true
	s.mu.Unlock()

	s.cancel()
	s.sweepers.Wait()
	n := s.registry.EvictAll(websocket.CloseGoingAway, "server shutdown")
	s.logger.Info().Int("clients", n).Msg("Relay shutting down")

	done := make(chan struct{})
	go func() {
		s.clients.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
