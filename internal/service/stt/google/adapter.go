// Package google provides a Google Cloud Speech-to-Text adapter.
package google

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"transcription-relay/internal/service/stt"
)

// Config holds Google STT-specific configuration.
type Config struct {
	LanguageCode   string
	SampleRateHz   int32
	InterimResults bool
	AudioEncoding  string
}

// DefaultConfig returns sensible defaults for Google STT.
func DefaultConfig() Config {
	return Config{
		LanguageCode:   "en-US",
		SampleRateHz:   16000,
		InterimResults: true,
		AudioEncoding:  "LINEAR16",
	}
}

// parseAudioEncoding converts a string encoding to the Google Speech API enum.
// The relay's own encoding names are accepted alongside the API names.
func parseAudioEncoding(encoding string) speechpb.RecognitionConfig_AudioEncoding {
	switch encoding {
	case "LINEAR16", "pcm_s16le":
		return speechpb.RecognitionConfig_LINEAR16
	case "MULAW", "pcm_mulaw":
		return speechpb.RecognitionConfig_MULAW
	case "FLAC":
		return speechpb.RecognitionConfig_FLAC
	case "AMR":
		return speechpb.RecognitionConfig_AMR
	case "AMR_WB":
		return speechpb.RecognitionConfig_AMR_WB
	case "OGG_OPUS":
		return speechpb.RecognitionConfig_OGG_OPUS
	case "SPEEX_WITH_HEADER_BYTE":
		return speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE
	case "WEBM_OPUS":
		return speechpb.RecognitionConfig_WEBM_OPUS
	default:
		return speechpb.RecognitionConfig_LINEAR16
	}
}

// recognizeStream is the subset of the StreamingRecognize client used here.
type recognizeStream interface {
	Send(*speechpb.StreamingRecognizeRequest) error
	Recv() (*speechpb.StreamingRecognizeResponse, error)
	CloseSend() error
}

type streamOpener func(ctx context.Context) (recognizeStream, error)

// Adapter implements stt.Adapter using Google Cloud Speech-to-Text.
type Adapter struct {
	open   streamOpener
	client *speech.Client
	cfg    Config

	mu     sync.Mutex
	stream recognizeStream
	cancel context.CancelFunc
	closed bool
}

// New creates a new Google STT adapter with default configuration.
// Requires GOOGLE_APPLICATION_CREDENTIALS environment variable to be set.
func New(ctx context.Context) (*Adapter, error) {
	return NewWithConfig(ctx, DefaultConfig())
}

// NewWithConfig creates a new Google STT adapter with custom configuration.
func NewWithConfig(ctx context.Context, cfg Config) (*Adapter, error) {
	c, err := speech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create speech client: %w", err)
	}
	a := &Adapter{client: c, cfg: cfg}
	a.open = func(ctx context.Context) (recognizeStream, error) {
		return c.StreamingRecognize(ctx)
	}
	return a, nil
}

// Name returns the provider name.
func (a *Adapter) Name() string { return "google" }

// Start begins a streaming recognition session and sends the initial config.
func (a *Adapter) Start(ctx context.Context, cb stt.Callback) error {
	streamCtx, cancel := context.WithCancel(ctx)
	stream, err := a.open(streamCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to open recognize stream: %w", err)
	}

	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:        parseAudioEncoding(a.cfg.AudioEncoding),
					SampleRateHertz: a.cfg.SampleRateHz,
					LanguageCode:    a.cfg.LanguageCode,
				},
				InterimResults: a.cfg.InterimResults,
			},
		},
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to send streaming config: %w", err)
	}

	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		stream.CloseSend()
		cancel()
		return errors.New("google adapter closed during start")
	}
	a.stream = stream
	a.cancel = cancel
	a.mu.Unlock()

	// The stream accepts audio as soon as the config is sent.
	cb.OnOpen("")
	go a.listen(stream, cb)
	return nil
}

// SendAudio sends audio bytes to Google Speech-to-Text.
func (a *Adapter) SendAudio(ctx context.Context, audio []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.stream == nil {
		return errors.New("google session not started")
	}
	if a.closed {
		return errors.New("google session closed")
	}
	return a.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

// Close half-closes the stream; listen finishes once Google flushes the
// remaining results.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true

	var err error
	if a.stream != nil {
		err = a.stream.CloseSend()
	}
	if a.client != nil {
		if cerr := a.client.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// listen receives transcript responses from Google and invokes callbacks.
func (a *Adapter) listen(stream recognizeStream, cb stt.Callback) {
	defer func() {
		a.mu.Lock()
		if a.cancel != nil {
			a.cancel()
		}
		a.mu.Unlock()
	}()

	for {
		resp, err := stream.Recv()
		if err == io.EOF {
			cb.OnClose("stream ended")
			return
		}
		if err != nil {
			if status.Code(err) != codes.Canceled {
				cb.OnError(err)
			}
			cb.OnClose(status.Code(err).String())
			return
		}
		if resp.Error != nil {
			cb.OnError(fmt.Errorf("google: %s", resp.Error.Message))
			continue
		}

		for _, r := range resp.Results {
			if len(r.Alternatives) == 0 {
				continue
			}
			alt := r.Alternatives[0]
			if r.IsFinal {
				conf := float64(alt.Confidence)
				cb.OnFinal(alt.Transcript, &conf)
			} else {
				cb.OnPartial(alt.Transcript, nil)
			}
		}
	}
}
