package capture

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWAV_RoundTrip(t *testing.T) {
	want := tone(1000, 0.25)
	var buf bytes.Buffer
	if err := EncodeWAV(&buf, EncodePCM16(want), 16000); err != nil {
		t.Fatal(err)
	}

	got, rate, err := DecodeWAV(&buf)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 16000 {
		t.Errorf("expected 16000 Hz, got %d", rate)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if d := got[i] - want[i]; d > 1.0/32767 || d < -1.0/32767 {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestDecodeWAV_SkipsUnknownChunksAndDownmixes(t *testing.T) {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	binary.Write(&buf, binary.LittleEndian, uint32(0))
	buf.WriteString("WAVE")

	buf.WriteString("LIST")
	binary.Write(&buf, binary.LittleEndian, uint32(3))
	buf.Write([]byte{1, 2, 3, 0}) // odd size plus pad byte

	buf.WriteString("fmt ")
	binary.Write(&buf, binary.LittleEndian, uint32(16))
	binary.Write(&buf, binary.LittleEndian, uint16(1))     // PCM
	binary.Write(&buf, binary.LittleEndian, uint16(2))     // stereo
	binary.Write(&buf, binary.LittleEndian, uint32(8000))  // rate
	binary.Write(&buf, binary.LittleEndian, uint32(32000)) // byte rate
	binary.Write(&buf, binary.LittleEndian, uint16(4))     // block align
	binary.Write(&buf, binary.LittleEndian, uint16(16))    // bits

	buf.WriteString("data")
	binary.Write(&buf, binary.LittleEndian, uint32(8))
	binary.Write(&buf, binary.LittleEndian, []int16{32767, -32767, 16384, 16384})

	got, rate, err := DecodeWAV(&buf)
	if err != nil {
		t.Fatalf("DecodeWAV: %v", err)
	}
	if rate != 8000 {
		t.Errorf("expected 8000 Hz, got %d", rate)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 mono samples, got %d", len(got))
	}
	if got[0] != 0 {
		t.Errorf("expected opposite channels to cancel, got %v", got[0])
	}
	if d := got[1] - 0.5; d > 1e-4 || d < -1e-4 {
		t.Errorf("expected ~0.5, got %v", got[1])
	}
}

func TestDecodeWAV_Rejects(t *testing.T) {
	tests := []struct {
		name string
		data []byte
	}{
		{"not riff", []byte("RIFX\x00\x00\x00\x00WAVE")},
		{"truncated", []byte("RIFF")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, _, err := DecodeWAV(bytes.NewReader(tt.data)); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestFLAC_ArchiveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.flac")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}

	archive, err := NewFLACArchive(f, 16000)
	if err != nil {
		t.Fatalf("NewFLACArchive: %v", err)
	}
	want := tone(FLACBlockSize+1000, 0.3)
	// wire-sized pieces, as the engine would send them
	for off := 0; off < len(want); off += 1600 {
		end := off + 1600
		if end > len(want) {
			end = len(want)
		}
		if err := archive.SendAudio(EncodePCM16(want[off:end])); err != nil {
			t.Fatalf("SendAudio: %v", err)
		}
	}
	if err := archive.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	f.Close()
	if got := archive.Samples(); got != uint64(len(want)) {
		t.Errorf("expected %d samples archived, got %d", len(want), got)
	}
	if err := archive.SendAudio([]byte{0, 0}); err == nil {
		t.Error("expected error after Close")
	}

	src, err := OpenFile(path)
	if err != nil {
		t.Fatalf("OpenFile: %v", err)
	}
	if src.SampleRate() != 16000 {
		t.Errorf("expected 16000 Hz, got %d", src.SampleRate())
	}

	var got []float32
	src.Stream(context.Background(), func(s []float32) { got = append(got, s...) })
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if d := got[i] - want[i]; d > 1.0/32767 || d < -1.0/32767 {
			t.Fatalf("sample %d: expected %v, got %v", i, want[i], got[i])
		}
	}
}

func TestOpenFile_UnsupportedExtension(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audio.mp3")
	os.WriteFile(path, []byte("ID3"), 0o644)

	if _, err := OpenFile(path); !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestFileSource_StreamChunksAndCancels(t *testing.T) {
	src := NewFileSource(make([]float32, 2500), 16000)
	src.ChunkSize = 1000

	var sizes []int
	if err := src.Stream(context.Background(), func(s []float32) { sizes = append(sizes, len(s)) }); err != nil {
		t.Fatal(err)
	}
	if len(sizes) != 3 || sizes[2] != 500 {
		t.Errorf("expected chunks [1000 1000 500], got %v", sizes)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	src.Stream(ctx, func([]float32) { calls++ })
	if calls != 0 {
		t.Errorf("cancelled stream delivered %d chunks", calls)
	}
}

func TestFileSource_Realtime(t *testing.T) {
	src := NewFileSource(make([]float32, 1600), 16000)
	src.ChunkSize = 800
	src.Realtime = true

	start := time.Now()
	src.Stream(context.Background(), func([]float32) {})
	if elapsed := time.Since(start); elapsed < 90*time.Millisecond {
		t.Errorf("realtime replay of 100ms finished in %v", elapsed)
	}
	if d := src.Duration(); d != 100*time.Millisecond {
		t.Errorf("expected 100ms duration, got %v", d)
	}
}

func TestMultiSink(t *testing.T) {
	a := &recordingSink{}
	b := &recordingSink{err: errors.New("full")}
	c := &recordingSink{}

	err := MultiSink{a, b, c}.SendAudio([]byte{1, 2})
	if err == nil {
		t.Error("expected first error to be reported")
	}
	if len(a.sizes()) != 1 || len(c.sizes()) != 1 {
		t.Error("every sink should receive the frame")
	}
}
