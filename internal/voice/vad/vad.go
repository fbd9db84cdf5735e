// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     vad
// Description: Voice activity detection and phrase boundary tracking
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package vad

import (
	"time"
)

// Detector decides whether a frame contains speech
type Detector interface {
	IsSpeech(frame []float32) (bool, error)
	Close() error
}

// Config holds VAD configuration
type Config struct {
	// SampleRate must be 8000, 16000, 32000 or 48000
	SampleRate int

	// Mode is the aggressiveness, 0-3
	Mode int

	// EndSilence is how much trailing silence closes a phrase
	EndSilence time.Duration

	// MinSpeech is the shortest run of speech that opens a phrase
	MinSpeech time.Duration
}

// DefaultConfig returns default VAD configuration
func DefaultConfig() Config {
	return Config{
		SampleRate: 16000,
		Mode:       2,
		EndSilence: 500 * time.Millisecond,
		MinSpeech:  90 * time.Millisecond,
	}
}

// Phase is the position of the tracker within a phrase
type Phase int

const (
	PhaseSilence Phase = iota
	PhaseSpeech
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseSilence:
		return "silence"
	case PhaseSpeech:
		return "speech"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Tracker turns per-frame speech decisions into phrase boundaries. Time
// is measured in audio, not wall clock, so it is driven by frame length.
type Tracker struct {
	cfg     Config
	phase   Phase
	speech  time.Duration
	silence time.Duration
	total   time.Duration
}

// NewTracker creates a tracker
func NewTracker(cfg Config) *Tracker {
	return &Tracker{cfg: cfg}
}

// Update feeds one frame decision of length d and returns the new phase
func (t *Tracker) Update(isSpeech bool, d time.Duration) Phase {
	switch t.phase {
	case PhaseSilence:
		if isSpeech {
			t.speech += d
			if t.speech >= t.cfg.MinSpeech {
				t.phase = PhaseSpeech
				t.total = t.speech
			}
		} else {
			t.speech = 0
		}
	case PhaseSpeech:
		t.total += d
		if isSpeech {
			t.silence = 0
		} else {
			t.silence += d
			if t.silence >= t.cfg.EndSilence {
				t.phase = PhaseEnded
			}
		}
	}
	return t.phase
}

// Phase returns the current phase
func (t *Tracker) Phase() Phase {
	return t.phase
}

// Spoken returns the audio length since speech started
func (t *Tracker) Spoken() time.Duration {
	return t.total
}

// Reset returns the tracker to silence
func (t *Tracker) Reset() {
	t.phase = PhaseSilence
	t.speech = 0
	t.silence = 0
	t.total = 0
}

// FrameDuration returns the length of n samples at rate
func FrameDuration(n, rate int) time.Duration {
	if rate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(rate)
}
