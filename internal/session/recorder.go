package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"transcription-relay/internal/capture"
	"transcription-relay/internal/observability/logging"
)

// Recorder wires a capture source through the engine into the machine and
// owns the stop ordering: source, then engine flush, then socket close and
// reconnect cancellation.
type Recorder struct {
	source  capture.Source
	engine  *capture.Engine
	machine *Machine
	logger  zerolog.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	streamErr error
}

// NewRecorder creates a recorder. The engine must be built with machine as
// its sink (directly or inside a capture.MultiSink).
func NewRecorder(source capture.Source, engine *capture.Engine, machine *Machine) *Recorder {
	return &Recorder{
		source:  source,
		engine:  engine,
		machine: machine,
		logger:  logging.WithComponent("recorder"),
	}
}

// Start connects the machine and begins streaming the source. A failed
// first connection is logged and retried in the background; audio captured
// meanwhile is dropped.
func (r *Recorder) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return errors.New("recorder already started")
	}
	sctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	done := r.done
	r.mu.Unlock()

	if err := r.machine.Start(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Initial relay connection failed, retrying")
	}

	rate := r.source.SampleRate()
	go func() {
		defer close(done)
		err := r.source.Stream(sctx, func(samples []float32) {
			r.engine.Write(samples, rate)
		})
		if err != nil {
			r.logger.Error().Err(err).Msg("Capture source failed")
			r.mu.Lock()
			r.streamErr = err
			r.mu.Unlock()
		}
	}()
	return nil
}

// Done is closed when the source stops delivering audio.
func (r *Recorder) Done() <-chan struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.done
}

// Stop halts the source, flushes buffered audio to the relay, then closes
// the session. It returns the source's error, if any, joined with flush and
// close errors.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return nil
	}

	cancel()
	<-done

	var errs []error
	if err := r.engine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("flushing capture: %w", err))
	}
	if err := r.machine.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("closing session: %w", err))
	}

	r.mu.Lock()
	if r.streamErr != nil {
		errs = append([]error{r.streamErr}, errs...)
	}
	r.mu.Unlock()
	return errors.Join(errs...)
}
