// Package mic captures mono float audio from a system input device.
package mic

import (
	"encoding/binary"
	"math"

	"transcription-relay/internal/capture"
)

// Config selects the device and capture rate.
type Config struct {
	SampleRate int
	// Device is a platform device ID from Devices; empty uses the default
	// input.
	Device string
}

// DeviceInfo describes one input device.
type DeviceInfo struct {
	ID   string
	Name string
}

// Source is a capture.Source backed by the system microphone.
type Source struct {
	cfg Config
}

var _ capture.Source = (*Source)(nil)

// New returns a microphone source. The device is opened by Stream.
func New(cfg Config) *Source {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	return &Source{cfg: cfg}
}

func (s *Source) SampleRate() int { return s.cfg.SampleRate }

// float32FromBytes decodes little-endian IEEE-754 samples.
func float32FromBytes(data []byte) []float32 {
	out := make([]float32, len(data)/4)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return out
}
