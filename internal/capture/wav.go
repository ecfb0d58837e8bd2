package capture

import (
	"encoding/binary"
	"fmt"
	"io"
)

// DecodeWAV reads a 16-bit PCM RIFF/WAVE stream. Multi-channel audio is
// mixed down to mono.
func DecodeWAV(r io.Reader) ([]float32, int, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return nil, 0, fmt.Errorf("reading RIFF header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return nil, 0, fmt.Errorf("%w: not a RIFF/WAVE stream", ErrUnsupportedFormat)
	}

	var (
		channels, bits int
		rate           int
		haveFmt        bool
	)
	for {
		var hdr [8]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			return nil, 0, fmt.Errorf("reading chunk header: %w", err)
		}
		id := string(hdr[0:4])
		size := int64(binary.LittleEndian.Uint32(hdr[4:8]))

		switch id {
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return nil, 0, fmt.Errorf("reading fmt chunk: %w", err)
			}
			if len(body) < 16 {
				return nil, 0, fmt.Errorf("%w: short fmt chunk", ErrUnsupportedFormat)
			}
			if format := binary.LittleEndian.Uint16(body[0:2]); format != 1 {
				return nil, 0, fmt.Errorf("%w: wav format %d is not PCM", ErrUnsupportedFormat, format)
			}
			channels = int(binary.LittleEndian.Uint16(body[2:4]))
			rate = int(binary.LittleEndian.Uint32(body[4:8]))
			bits = int(binary.LittleEndian.Uint16(body[14:16]))
			if bits != 16 || channels < 1 {
				return nil, 0, fmt.Errorf("%w: %d-bit %d-channel wav", ErrUnsupportedFormat, bits, channels)
			}
			haveFmt = true

		case "data":
			if !haveFmt {
				return nil, 0, fmt.Errorf("%w: data chunk before fmt chunk", ErrUnsupportedFormat)
			}
			data := make([]byte, size)
			n, err := io.ReadFull(r, data)
			if err != nil && err != io.ErrUnexpectedEOF {
				return nil, 0, fmt.Errorf("reading data chunk: %w", err)
			}
			return downmix(DecodePCM16(data[:n]), channels), rate, nil

		default:
			if _, err := io.CopyN(io.Discard, r, size+size%2); err != nil {
				return nil, 0, fmt.Errorf("skipping %q chunk: %w", id, err)
			}
		}
	}
}

// EncodeWAV writes mono PCM16 samples as a canonical 44-byte-header WAV.
func EncodeWAV(w io.Writer, pcm []byte, rate int) error {
	hdr := make([]byte, 44)
	copy(hdr[0:4], "RIFF")
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(36+len(pcm)))
	copy(hdr[8:12], "WAVE")
	copy(hdr[12:16], "fmt ")
	binary.LittleEndian.PutUint32(hdr[16:20], 16)
	binary.LittleEndian.PutUint16(hdr[20:22], 1)
	binary.LittleEndian.PutUint16(hdr[22:24], 1)
	binary.LittleEndian.PutUint32(hdr[24:28], uint32(rate))
	binary.LittleEndian.PutUint32(hdr[28:32], uint32(rate*BytesPerSample))
	binary.LittleEndian.PutUint16(hdr[32:34], BytesPerSample)
	binary.LittleEndian.PutUint16(hdr[34:36], 16)
	copy(hdr[36:40], "data")
	binary.LittleEndian.PutUint32(hdr[40:44], uint32(len(pcm)))

	if _, err := w.Write(hdr); err != nil {
		return err
	}
	_, err := w.Write(pcm)
	return err
}

func downmix(samples []float32, channels int) []float32 {
	if channels <= 1 {
		return samples
	}
	out := make([]float32, len(samples)/channels)
	for i := range out {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += samples[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}
