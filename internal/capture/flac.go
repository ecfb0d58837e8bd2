package capture

import (
	"fmt"
	"io"
	"sync"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

// FLACBlockSize is the number of samples per archived FLAC frame.
const FLACBlockSize = 4096

// DecodeFLAC reads a FLAC stream and returns mono samples. Multi-channel
// streams are mixed down.
func DecodeFLAC(r io.Reader) ([]float32, int, error) {
	stream, err := flac.New(r)
	if err != nil {
		return nil, 0, fmt.Errorf("parsing flac header: %w", err)
	}
	defer stream.Close()

	bps := int(stream.Info.BitsPerSample)
	if bps < 2 || bps > 32 {
		return nil, 0, fmt.Errorf("%w: %d bits per sample", ErrUnsupportedFormat, bps)
	}
	scale := float32(int64(1)<<(bps-1) - 1)

	var out []float32
	for {
		f, err := stream.ParseNext()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, 0, fmt.Errorf("decoding flac frame: %w", err)
		}
		channels := len(f.Subframes)
		for i := 0; i < f.Subframes[0].NSamples; i++ {
			var sum int64
			for _, sub := range f.Subframes {
				sum += int64(sub.Samples[i])
			}
			out = append(out, float32(sum)/float32(channels)/scale)
		}
	}
	return out, int(stream.Info.SampleRate), nil
}

// FLACArchive is a Sink that losslessly records every wire frame it
// receives.
type FLACArchive struct {
	mu         sync.Mutex
	enc        *flac.Encoder
	sampleRate int
	block      []int16
	samples    uint64
	closed     bool
}

// NewFLACArchive writes a mono 16-bit FLAC stream to w.
func NewFLACArchive(w io.Writer, sampleRate int) (*FLACArchive, error) {
	info := &meta.StreamInfo{
		BlockSizeMin:  FLACBlockSize,
		BlockSizeMax:  FLACBlockSize,
		SampleRate:    uint32(sampleRate),
		NChannels:     1,
		BitsPerSample: 16,
	}
	enc, err := flac.NewEncoder(w, info)
	if err != nil {
		return nil, fmt.Errorf("creating flac encoder: %w", err)
	}
	enc.EnablePredictionAnalysis(true)
	return &FLACArchive{enc: enc, sampleRate: sampleRate}, nil
}

// SendAudio appends a PCM16 frame to the archive.
func (a *FLACArchive) SendAudio(pcm []byte) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return fmt.Errorf("flac archive closed")
	}
	a.block = append(a.block, Int16Samples(pcm)...)
	for len(a.block) >= FLACBlockSize {
		if err := a.writeBlock(a.block[:FLACBlockSize]); err != nil {
			return err
		}
		a.block = a.block[FLACBlockSize:]
	}
	return nil
}

func (a *FLACArchive) writeBlock(block []int16) error {
	samples := make([]int32, len(block))
	for i, s := range block {
		samples[i] = int32(s)
	}
	f := &frame.Frame{
		Header: frame.Header{
			BlockSize:     uint16(len(block)),
			SampleRate:    uint32(a.sampleRate),
			Channels:      frame.ChannelsMono,
			BitsPerSample: 16,
		},
		Subframes: []*frame.Subframe{{
			SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
			Samples:   samples,
			NSamples:  len(block),
		}},
	}
	if err := a.enc.WriteFrame(f); err != nil {
		return fmt.Errorf("writing flac frame: %w", err)
	}
	a.samples += uint64(len(block))
	return nil
}

// Samples returns how many samples have been encoded so far.
func (a *FLACArchive) Samples() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.samples
}

// Close writes the final partial block and finishes the stream.
func (a *FLACArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return nil
	}
	a.closed = true
	if len(a.block) > 0 {
		if err := a.writeBlock(a.block); err != nil {
			return err
		}
		a.block = nil
	}
	return a.enc.Close()
}
