//go:build linux

package mic

import (
	"context"
	"fmt"

	"github.com/jfreymuth/pulse"

	"transcription-relay/internal/capture"
)

// Devices lists the PulseAudio sources.
func Devices() ([]DeviceInfo, error) {
	client, err := pulse.NewClient()
	if err != nil {
		return nil, fmt.Errorf("%w: pulse: %v", capture.ErrDeviceUnavailable, err)
	}
	defer client.Close()

	sources, err := client.ListSources()
	if err != nil {
		return nil, fmt.Errorf("pulse list sources: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sources {
		devices = append(devices, DeviceInfo{ID: s.ID(), Name: s.Name()})
	}
	return devices, nil
}

// Stream records from PulseAudio until ctx is cancelled.
func (s *Source) Stream(ctx context.Context, fn func(samples []float32)) error {
	client, err := pulse.NewClient()
	if err != nil {
		return fmt.Errorf("%w: pulse: %v", capture.ErrDeviceUnavailable, err)
	}
	defer client.Close()

	writer := pulse.Float32Writer(func(buf []float32) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		samples := make([]float32, len(buf))
		copy(samples, buf)
		fn(samples)
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(s.cfg.SampleRate),
		pulse.RecordLatency(0.05),
	}
	if s.cfg.Device != "" {
		source, err := client.SourceByID(s.cfg.Device)
		if err != nil {
			return fmt.Errorf("%w: source %q: %v", capture.ErrDeviceUnavailable, s.cfg.Device, err)
		}
		opts = append(opts, pulse.RecordSource(source))
	}

	stream, err := client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("%w: pulse record: %v", capture.ErrDeviceUnavailable, err)
	}
	stream.Start()
	<-ctx.Done()
	stream.Stop()
	stream.Close()
	return nil
}
