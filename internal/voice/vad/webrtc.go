package vad

import (
	webrtcvad "github.com/maxhawkins/go-webrtcvad"

	"github.com/msto63/wake/pkg/core/fault"
)

var validRates = []int{8000, 16000, 32000, 48000}

// WebRTC implements Detector with the WebRTC VAD
type WebRTC struct {
	vad        *webrtcvad.VAD
	sampleRate int
	mode       int
}

// NewWebRTC creates a WebRTC detector
func NewWebRTC(cfg Config) (*WebRTC, error) {
	if !ValidRate(cfg.SampleRate) {
		return nil, fault.Newf("invalid sample rate %d, must be one of %v", cfg.SampleRate, validRates).
			WithCode(fault.CodeInvalidConfig)
	}

	v, err := webrtcvad.New()
	if err != nil {
		return nil, fault.Wrap(err, "failed to create WebRTC VAD").WithCode(fault.CodeCaptureFailed)
	}

	mode := clampMode(cfg.Mode)
	if err := v.SetMode(mode); err != nil {
		return nil, fault.Wrap(err, "failed to set VAD mode").WithCode(fault.CodeInvalidConfig)
	}

	return &WebRTC{vad: v, sampleRate: cfg.SampleRate, mode: mode}, nil
}

// IsSpeech reports whether any 10ms slice of frame contains speech. A
// frame shorter than 10ms is zero padded.
func (w *WebRTC) IsSpeech(frame []float32) (bool, error) {
	pcm := ToInt16(frame)
	size := w.sampleRate / 100
	if len(pcm) < size {
		padded := make([]int16, size)
		copy(padded, pcm)
		pcm = padded
	}

	for i := 0; i+size <= len(pcm); i += size {
		active, err := w.vad.Process(w.sampleRate, int16ToBytes(pcm[i:i+size]))
		if err != nil {
			return false, fault.Wrap(err, "VAD processing failed").WithCode(fault.CodeCaptureFailed)
		}
		if active {
			return true, nil
		}
	}
	return false, nil
}

// Close releases resources
func (w *WebRTC) Close() error {
	return nil
}

// Mode returns the aggressiveness mode
func (w *WebRTC) Mode() int {
	return w.mode
}

// ValidRate reports whether the VAD supports rate
func ValidRate(rate int) bool {
	for _, r := range validRates {
		if r == rate {
			return true
		}
	}
	return false
}

func clampMode(mode int) int {
	if mode < 0 {
		return 0
	}
	if mode > 3 {
		return 3
	}
	return mode
}

// ToInt16 converts float samples in [-1, 1] to 16-bit PCM, clamping
func ToInt16(samples []float32) []int16 {
	out := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		}
		if s < -1 {
			s = -1
		}
		out[i] = int16(s * 32767)
	}
	return out
}

// int16ToBytes encodes little-endian
func int16ToBytes(samples []int16) []byte {
	b := make([]byte, len(samples)*2)
	for i, s := range samples {
		b[i*2] = byte(s)
		b[i*2+1] = byte(s >> 8)
	}
	return b
}
