// Package capture turns raw microphone or file audio into the relay's
// PCM16 wire frames, deciding per frame whether to send speech, a
// keep-alive or nothing.
package capture

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"transcription-relay/internal/observability/logging"
)

// ErrStopped is returned by Write after Stop.
var ErrStopped = errors.New("capture engine stopped")

// Sink receives encoded wire frames. SendAudio must not block.
type Sink interface {
	SendAudio(frame []byte) error
}

// Config holds the engine's thresholds and sizes.
type Config struct {
	SampleRate               int
	FrameSize                int // samples per VAD frame
	SpeechThreshold          float64
	BackgroundNoiseThreshold float64
	MinSpeechDuration        time.Duration
	KeepAliveInterval        time.Duration
	KeepAliveSamples         int
	KeepAliveAmplitude       float32
	KeepAliveOnNoise         bool
	MaxBuffer                time.Duration
}

// DefaultConfig returns the standard capture settings for 16 kHz speech.
func DefaultConfig() Config {
	return Config{
		SampleRate:               16000,
		FrameSize:                4096,
		SpeechThreshold:          0.015,
		BackgroundNoiseThreshold: 0.005,
		MinSpeechDuration:        100 * time.Millisecond,
		KeepAliveInterval:        time.Second,
		KeepAliveSamples:         256,
		KeepAliveAmplitude:       0.0005,
		KeepAliveOnNoise:         true,
		MaxBuffer:                100 * time.Millisecond,
	}
}

// Stats counts what the engine has done since it was created.
type Stats struct {
	Frames          int
	SpeechFrames    int
	NoiseFrames     int
	SilenceFrames   int
	KeepAlives      int
	Flushes         int
	BytesSent       int
	SendErrors      int
	ResampledChunks int
}

// Engine frames incoming samples, runs voice-activity detection on each
// frame and coalesces outgoing audio before handing it to the sink.
type Engine struct {
	cfg    Config
	sink   Sink
	logger zerolog.Logger

	mu            sync.Mutex
	vad           Detector
	pending       []float32 // samples not yet forming a full frame
	buf           []byte
	bufDur        time.Duration
	pos           time.Duration // stream time of the next frame
	lastKeepAlive time.Duration
	sentKeepAlive bool
	keepAlive     []byte
	stats         Stats
	stopped       bool
}

// NewEngine creates an engine that writes to sink.
func NewEngine(cfg Config, sink Sink) *Engine {
	return &Engine{
		cfg:    cfg,
		sink:   sink,
		logger: logging.WithComponent("capture"),
		vad: Detector{
			SpeechThreshold:          cfg.SpeechThreshold,
			BackgroundNoiseThreshold: cfg.BackgroundNoiseThreshold,
			MinSpeechDuration:        cfg.MinSpeechDuration,
		},
		keepAlive: keepAliveFrame(cfg.KeepAliveSamples, cfg.KeepAliveAmplitude),
	}
}

// keepAliveFrame builds a low-amplitude alternating signal.
func keepAliveFrame(n int, amplitude float32) []byte {
	samples := make([]float32, n)
	for i := range samples {
		if i%2 == 0 {
			samples[i] = amplitude
		} else {
			samples[i] = -amplitude
		}
	}
	return EncodePCM16(samples)
}

// Write feeds samples captured at rate into the engine. It never blocks on
// the network.
func (e *Engine) Write(samples []float32, rate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if rate != e.cfg.SampleRate {
		samples = Resample(samples, rate, e.cfg.SampleRate)
		e.stats.ResampledChunks++
	}

	e.pending = append(e.pending, samples...)
	for len(e.pending) >= e.cfg.FrameSize {
		e.processFrame(e.pending[:e.cfg.FrameSize])
		e.pending = e.pending[e.cfg.FrameSize:]
	}
	if len(e.pending) == 0 {
		e.pending = nil
	}
	return nil
}

func (e *Engine) frameDuration(n int) time.Duration {
	return time.Duration(n) * time.Second / time.Duration(e.cfg.SampleRate)
}

func (e *Engine) processFrame(frame []float32) {
	dur := e.frameDuration(len(frame))
	rms := RMS(frame)
	class, confirmed := e.vad.Observe(rms, dur)
	e.stats.Frames++

	switch class {
	case Speech:
		e.stats.SpeechFrames++
		if confirmed {
			e.buffer(EncodePCM16(frame), dur)
		}
	case Noise:
		e.stats.NoiseFrames++
		if e.cfg.KeepAliveOnNoise {
			e.maybeKeepAlive()
		}
	default:
		e.stats.SilenceFrames++
		e.maybeKeepAlive()
	}
	e.pos += dur
}

func (e *Engine) buffer(data []byte, dur time.Duration) {
	e.buf = append(e.buf, data...)
	e.bufDur += dur
	if e.bufDur >= e.cfg.MaxBuffer {
		e.flushLocked()
	}
}

// maybeKeepAlive emits a keep-alive unless one was sent within the
// interval. Buffered speech goes out first so frames stay in order.
func (e *Engine) maybeKeepAlive() {
	if e.sentKeepAlive && e.pos-e.lastKeepAlive < e.cfg.KeepAliveInterval {
		return
	}
	e.flushLocked()
	e.send(e.keepAlive)
	e.stats.KeepAlives++
	e.sentKeepAlive = true
	e.lastKeepAlive = e.pos
}

func (e *Engine) flushLocked() {
	if len(e.buf) == 0 {
		return
	}
	e.send(e.buf)
	e.stats.Flushes++
	e.buf = nil
	e.bufDur = 0
}

func (e *Engine) send(frame []byte) {
	if err := e.sink.SendAudio(frame); err != nil {
		e.stats.SendErrors++
		e.logger.Debug().Err(err).Int("bytes", len(frame)).Msg("Failed to send audio frame")
		return
	}
	e.stats.BytesSent += len(frame)
}

// Flush sends any coalesced audio immediately.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.flushLocked()
}

// Stop processes the trailing partial frame, flushes everything buffered
// and rejects further writes. Safe to call more than once.
func (e *Engine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.stopped {
		return nil
	}
	e.stopped = true

	if len(e.pending) > 0 {
		e.processFrame(e.pending)
		e.pending = nil
	}
	errs := e.stats.SendErrors
	e.flushLocked()
	e.vad.Reset()

	e.logger.Debug().
		Int("frames", e.stats.Frames).
		Int("speechFrames", e.stats.SpeechFrames).
		Int("keepAlives", e.stats.KeepAlives).
		Int("bytesSent", e.stats.BytesSent).
		Msg("Capture stopped")

	if e.stats.SendErrors > errs {
		return fmt.Errorf("flushing final audio: %d frame(s) not sent", e.stats.SendErrors-errs)
	}
	return nil
}

// Stats returns a copy of the engine counters.
func (e *Engine) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}
