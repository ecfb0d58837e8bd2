package app

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	grpcapi "transcription-relay/internal/api/grpc"
	"transcription-relay/internal/config"
	"transcription-relay/internal/events"
	httpapi "transcription-relay/internal/http"
	"transcription-relay/internal/observability/logging"
	"transcription-relay/internal/observability/metrics"
	"transcription-relay/internal/service/relay"
	"transcription-relay/internal/service/stt/provider"
)

// Application holds process-wide state for the relay.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Config

	Publisher *events.Publisher
	Relay     *relay.Server
	HTTP      *httpapi.Server
	GRPC      *grpcapi.Server

	ready atomic.Bool
}

// New constructs the Application and its servers from cfg. Nothing listens
// until Start.
func New(cfg *config.Config) (*Application, error) {
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})

	a := &Application{
		Cfg:    cfg,
		Logger: logging.WithComponent("application"),
	}

	factory, err := provider.NewFactory(cfg.STT)
	if err != nil {
		return nil, fmt.Errorf("stt provider: %w", err)
	}

	a.Publisher = events.NewWithMetrics(&events.Config{
		Enabled:      cfg.Kafka.Enabled,
		Brokers:      cfg.Kafka.Brokers,
		TopicPartial: cfg.Kafka.TopicPartial,
		TopicFinal:   cfg.Kafka.TopicFinal,
		Principal:    cfg.Kafka.Principal,
	}, metrics.DefaultMetrics)

	a.Relay = relay.NewServer(RelayConfig(cfg.Relay), relay.Deps{
		Factory:   factory,
		Publisher: a.Publisher,
		Metrics:   metrics.DefaultMetrics,
	})
	a.HTTP = httpapi.NewServer(":"+cfg.Service.HTTPPort, httpapi.NewRouter(a.Relay, a.Ready))
	a.GRPC = grpcapi.New(":"+cfg.Service.GRPCPort, metrics.DefaultMetrics)

	a.Logger.Info().
		Str("provider", cfg.STT.Provider).
		Str("environment", cfg.Service.Environment).
		Bool("kafka", a.Publisher.Enabled()).
		Msg("Transcription relay application created")
	return a, nil
}

// RelayConfig maps the relay section of the configuration onto the server's.
func RelayConfig(rc config.RelayConfig) relay.Config {
	cfg := relay.DefaultConfig()
	cfg.MaxIdleTime = rc.MaxIdleTime
	cfg.MaxSessionTime = rc.MaxSessionTime
	cfg.SweepInterval = rc.SweepInterval
	cfg.MinConfidence = rc.MinConfidence
	cfg.NoiseWords = rc.NoiseWords
	cfg.Client.ConnectTimeout = rc.ConnectTimeout
	cfg.Client.AudioThrottleLimit = rc.AudioThrottleLimit
	cfg.Client.KeepAliveMaxBytes = rc.KeepAliveMaxBytes
	return cfg
}

// Ready reports whether the relay is accepting traffic.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// Start begins sweeping and serving.
func (a *Application) Start() error {
	a.StartupTime = time.Now().UTC()

	a.Relay.Start()
	if err := a.HTTP.Start(); err != nil {
		return fmt.Errorf("http listen: %w", err)
	}
	if err := a.GRPC.Start(); err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}

	a.ready.Store(true)
	a.GRPC.SetServing(true)

	a.Logger.Info().
		Time("startupTime", a.StartupTime).
		Str("httpAddr", a.HTTP.Addr()).
		Str("grpcAddr", a.GRPC.Addr()).
		Msg("Transcription relay started")
	return nil
}

// Shutdown stops accepting traffic, closes every relay client with 1001 and
// drains the servers.
func (a *Application) Shutdown(ctx context.Context) error {
	a.Logger.Info().Msg("Transcription relay shutting down")
	a.ready.Store(false)
	a.GRPC.SetServing(false)

	var errs []error
	if err := a.Relay.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("relay: %w", err))
	}
	if err := a.HTTP.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http: %w", err))
	}
	a.GRPC.Shutdown(ctx)
	if err := a.Publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("publisher: %w", err))
	}
	return errors.Join(errs...)
}
