package capture

import "time"

// Class is the energy classification of one frame.
type Class int

const (
	Silence Class = iota
	Noise
	Speech
)

func (c Class) String() string {
	switch c {
	case Silence:
		return "silence"
	case Noise:
		return "noise"
	case Speech:
		return "speech"
	default:
		return "unknown"
	}
}

// Detector classifies frames by RMS energy and tracks how long speech has
// persisted.
type Detector struct {
	SpeechThreshold          float64
	BackgroundNoiseThreshold float64
	MinSpeechDuration        time.Duration

	speechRun time.Duration
}

// Observe classifies a frame of length dur with the given energy. confirmed
// reports whether speech has lasted at least MinSpeechDuration, counting
// this frame.
func (d *Detector) Observe(rms float64, dur time.Duration) (class Class, confirmed bool) {
	switch {
	case rms > d.SpeechThreshold:
		d.speechRun += dur
		return Speech, d.speechRun >= d.MinSpeechDuration
	case rms > d.BackgroundNoiseThreshold:
		d.speechRun = 0
		return Noise, false
	default:
		d.speechRun = 0
		return Silence, false
	}
}

// InSpeech reports whether the last observed frame was speech.
func (d *Detector) InSpeech() bool {
	return d.speechRun > 0
}

// Reset forgets any speech in progress.
func (d *Detector) Reset() {
	d.speechRun = 0
}
