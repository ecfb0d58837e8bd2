package google

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"cloud.google.com/go/speech/apiv1/speechpb"
	rpcstatus "google.golang.org/genproto/googleapis/rpc/status"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.LanguageCode != "en-US" {
		t.Errorf("expected default language 'en-US', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected default sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != true {
		t.Errorf("expected default interim results true, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "LINEAR16" {
		t.Errorf("expected default encoding 'LINEAR16', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding(t *testing.T) {
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16},
		{"MULAW", speechpb.RecognitionConfig_MULAW},
		{"pcm_s16le", speechpb.RecognitionConfig_LINEAR16},
		{"pcm_mulaw", speechpb.RecognitionConfig_MULAW},
		{"FLAC", speechpb.RecognitionConfig_FLAC},
		{"AMR", speechpb.RecognitionConfig_AMR},
		{"AMR_WB", speechpb.RecognitionConfig_AMR_WB},
		{"OGG_OPUS", speechpb.RecognitionConfig_OGG_OPUS},
		{"SPEEX_WITH_HEADER_BYTE", speechpb.RecognitionConfig_SPEEX_WITH_HEADER_BYTE},
		{"WEBM_OPUS", speechpb.RecognitionConfig_WEBM_OPUS},
		{"UNKNOWN", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"invalid", speechpb.RecognitionConfig_LINEAR16}, // fallback
		{"", speechpb.RecognitionConfig_LINEAR16},        // fallback
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

func TestConfig_CustomValues(t *testing.T) {
	cfg := Config{
		LanguageCode:   "es-ES",
		SampleRateHz:   16000,
		InterimResults: false,
		AudioEncoding:  "MULAW",
	}

	if cfg.LanguageCode != "es-ES" {
		t.Errorf("expected language 'es-ES', got %s", cfg.LanguageCode)
	}
	if cfg.SampleRateHz != 16000 {
		t.Errorf("expected sample rate 16000, got %d", cfg.SampleRateHz)
	}
	if cfg.InterimResults != false {
		t.Errorf("expected interim results false, got %v", cfg.InterimResults)
	}
	if cfg.AudioEncoding != "MULAW" {
		t.Errorf("expected encoding 'MULAW', got %s", cfg.AudioEncoding)
	}
}

func TestParseAudioEncoding_CaseSensitive(t *testing.T) {
	// Encoding strings should be uppercase
	tests := []struct {
		input    string
		expected speechpb.RecognitionConfig_AudioEncoding
	}{
		{"linear16", speechpb.RecognitionConfig_LINEAR16}, // lowercase -> fallback
		{"Linear16", speechpb.RecognitionConfig_LINEAR16}, // mixed case -> fallback
		{"LINEAR16", speechpb.RecognitionConfig_LINEAR16}, // uppercase -> match
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got := parseAudioEncoding(tt.input)
			if got != tt.expected {
				t.Errorf("parseAudioEncoding(%q) = %v, want %v", tt.input, got, tt.expected)
			}
		})
	}
}

type fakeStream struct {
	mu        sync.Mutex
	sent      []*speechpb.StreamingRecognizeRequest
	responses chan *speechpb.StreamingRecognizeResponse
	closeSent bool
}

func newFakeStream() *fakeStream {
	return &fakeStream{responses: make(chan *speechpb.StreamingRecognizeResponse, 8)}
}

func (f *fakeStream) Send(req *speechpb.StreamingRecognizeRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, req)
	return nil
}

func (f *fakeStream) Recv() (*speechpb.StreamingRecognizeResponse, error) {
	resp, ok := <-f.responses
	if !ok {
		return nil, io.EOF
	}
	return resp, nil
}

func (f *fakeStream) CloseSend() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closeSent {
		f.closeSent = true
		close(f.responses)
	}
	return nil
}

type recorder struct {
	mu     sync.Mutex
	events []string
	conf   *float64
	closed chan struct{}
}

func (r *recorder) OnOpen(string) { r.add("open") }
func (r *recorder) OnPartial(text string, _ *float64) {
	r.add("partial:" + text)
}
func (r *recorder) OnFinal(text string, conf *float64) {
	r.mu.Lock()
	r.conf = conf
	r.mu.Unlock()
	r.add("final:" + text)
}
func (r *recorder) OnError(error)  { r.add("error") }
func (r *recorder) OnClose(string) { close(r.closed) }

func (r *recorder) add(ev string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func result(text string, final bool, conf float32) *speechpb.StreamingRecognizeResponse {
	return &speechpb.StreamingRecognizeResponse{
		Results: []*speechpb.StreamingRecognitionResult{{
			IsFinal:      final,
			Alternatives: []*speechpb.SpeechRecognitionAlternative{{Transcript: text, Confidence: conf}},
		}},
	}
}

func TestAdapter_StreamingSession(t *testing.T) {
	stream := newFakeStream()
	a := &Adapter{
		cfg:  Config{LanguageCode: "en-US", SampleRateHz: 16000, InterimResults: true, AudioEncoding: "pcm_s16le"},
		open: func(context.Context) (recognizeStream, error) { return stream, nil },
	}
	rec := &recorder{closed: make(chan struct{})}

	if err := a.Start(context.Background(), rec); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := a.SendAudio(context.Background(), []byte{1, 2, 3, 4}); err != nil {
		t.Fatalf("SendAudio: %v", err)
	}

	stream.responses <- result("hello", false, 0)
	stream.responses <- &speechpb.StreamingRecognizeResponse{Error: &rpcstatus.Status{Message: "transient"}}
	stream.responses <- result("hello world", true, 0.92)
	a.Close()

	select {
	case <-rec.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for OnClose")
	}

	want := []string{"open", "partial:hello", "error", "final:hello world"}
	if len(rec.events) != len(want) {
		t.Fatalf("expected %v, got %v", want, rec.events)
	}
	for i := range want {
		if rec.events[i] != want[i] {
			t.Errorf("event %d: expected %s, got %s", i, want[i], rec.events[i])
		}
	}
	if rec.conf == nil || *rec.conf < 0.919 || *rec.conf > 0.921 {
		t.Errorf("expected final confidence 0.92, got %v", rec.conf)
	}

	stream.mu.Lock()
	defer stream.mu.Unlock()
	cfgReq := stream.sent[0].GetStreamingConfig()
	if cfgReq == nil {
		t.Fatal("expected first request to carry the streaming config")
	}
	if cfgReq.Config.Encoding != speechpb.RecognitionConfig_LINEAR16 {
		t.Errorf("expected LINEAR16, got %v", cfgReq.Config.Encoding)
	}
	if cfgReq.Config.SampleRateHertz != 16000 {
		t.Errorf("expected 16000 Hz, got %d", cfgReq.Config.SampleRateHertz)
	}
	if len(stream.sent[1].GetAudioContent()) != 4 {
		t.Errorf("expected audio content in second request")
	}
}

func TestAdapter_SendAfterClose(t *testing.T) {
	stream := newFakeStream()
	a := &Adapter{
		cfg:  DefaultConfig(),
		open: func(context.Context) (recognizeStream, error) { return stream, nil },
	}
	rec := &recorder{closed: make(chan struct{})}
	a.Start(context.Background(), rec)

	if err := a.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := a.SendAudio(context.Background(), []byte{0, 0}); err == nil {
		t.Error("expected error sending after close")
	}
}

func TestAdapter_CloseDuringStartCancelsStream(t *testing.T) {
	stream := newFakeStream()
	var streamCtx context.Context
	a := &Adapter{cfg: DefaultConfig()}
	a.open = func(ctx context.Context) (recognizeStream, error) {
		streamCtx = ctx
		// Close lands while the stream is being opened.
		a.Close()
		return stream, nil
	}
	rec := &recorder{closed: make(chan struct{})}

	if err := a.Start(context.Background(), rec); err == nil {
		t.Fatal("expected Start to fail after Close")
	}
	if streamCtx.Err() == nil {
		t.Error("expected the stream context to be cancelled")
	}
	stream.mu.Lock()
	closeSent := stream.closeSent
	stream.mu.Unlock()
	if !closeSent {
		t.Error("expected the stream to be half-closed")
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if len(rec.events) != 0 {
		t.Errorf("expected no callbacks, got %v", rec.events)
	}
}
