// Package provider selects the STT adapter implementation from configuration.
package provider

import (
	"context"
	"fmt"

	"transcription-relay/internal/config"
	"transcription-relay/internal/service/stt"
	"transcription-relay/internal/service/stt/assemblyai"
	"transcription-relay/internal/service/stt/google"
	"transcription-relay/internal/service/stt/mock"
)

// NewFactory returns a factory producing one adapter per relay client.
func NewFactory(cfg config.STTConfig) (stt.Factory, error) {
	switch cfg.Provider {
	case "assemblyai":
		acfg := assemblyai.DefaultConfig()
		acfg.APIKey = cfg.APIKey
		if cfg.URL != "" {
			acfg.URL = cfg.URL
		}
		acfg.SampleRateHz = cfg.SampleRateHz
		acfg.Encoding = cfg.AudioEncoding
		acfg.FormatTurns = cfg.FormatTurns
		return func(context.Context) (stt.Adapter, error) {
			return assemblyai.New(acfg), nil
		}, nil

	case "google":
		gcfg := google.DefaultConfig()
		gcfg.LanguageCode = cfg.LanguageCode
		gcfg.SampleRateHz = int32(cfg.SampleRateHz)
		gcfg.InterimResults = cfg.InterimResults
		gcfg.AudioEncoding = cfg.AudioEncoding
		return func(ctx context.Context) (stt.Adapter, error) {
			return google.NewWithConfig(ctx, gcfg)
		}, nil

	case "mock", "":
		return func(context.Context) (stt.Adapter, error) {
			return mock.New(), nil
		}, nil

	default:
		return nil, fmt.Errorf("unknown stt provider %q", cfg.Provider)
	}
}
