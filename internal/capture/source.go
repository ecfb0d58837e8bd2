package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

var (
	// ErrDeviceUnavailable means the microphone could not be opened or was
	// lost while capturing.
	ErrDeviceUnavailable = errors.New("audio device unavailable")

	// ErrUnsupportedFormat is returned for audio files the sources cannot
	// decode.
	ErrUnsupportedFormat = errors.New("unsupported audio format")
)

// Source produces mono float samples in [-1, 1].
type Source interface {
	SampleRate() int
	// Stream delivers samples to fn until the source is exhausted or ctx is
	// cancelled. fn runs on the source's delivery goroutine and must not
	// block.
	Stream(ctx context.Context, fn func(samples []float32)) error
}

// FileSource replays decoded audio from memory.
type FileSource struct {
	samples []float32
	rate    int

	// ChunkSize is the number of samples per delivery.
	ChunkSize int
	// Realtime paces delivery at the audio's own rate.
	Realtime bool
}

// NewFileSource wraps already decoded samples.
func NewFileSource(samples []float32, rate int) *FileSource {
	return &FileSource{samples: samples, rate: rate, ChunkSize: 1024}
}

// OpenFile decodes a .wav or .flac file.
func OpenFile(path string) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	var samples []float32
	var rate int
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".wav":
		samples, rate, err = DecodeWAV(f)
	case ".flac":
		samples, rate, err = DecodeFLAC(f)
	default:
		return nil, fmt.Errorf("%w: extension %q", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return NewFileSource(samples, rate), nil
}

func (s *FileSource) SampleRate() int { return s.rate }

// Duration returns the length of the decoded audio.
func (s *FileSource) Duration() time.Duration {
	if s.rate == 0 {
		return 0
	}
	return time.Duration(len(s.samples)) * time.Second / time.Duration(s.rate)
}

func (s *FileSource) Stream(ctx context.Context, fn func(samples []float32)) error {
	chunk := s.ChunkSize
	if chunk <= 0 {
		chunk = len(s.samples)
	}

	var ticker *time.Ticker
	if s.Realtime && s.rate > 0 {
		ticker = time.NewTicker(time.Duration(chunk) * time.Second / time.Duration(s.rate))
		defer ticker.Stop()
	}

	for off := 0; off < len(s.samples); off += chunk {
		if ticker != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
			}
		} else if ctx.Err() != nil {
			return nil
		}
		end := off + chunk
		if end > len(s.samples) {
			end = len(s.samples)
		}
		fn(s.samples[off:end])
	}
	return nil
}

// MultiSink fans every frame out to several sinks and reports the first
// error.
type MultiSink []Sink

func (m MultiSink) SendAudio(frame []byte) error {
	var first error
	for _, s := range m {
		if err := s.SendAudio(frame); err != nil && first == nil {
			first = err
		}
	}
	return first
}
