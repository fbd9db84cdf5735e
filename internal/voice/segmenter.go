// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     voice
// Description: Silence-timeout segmentation of recognized fragments
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package voice

import (
	"strings"
	"time"
)

// DefaultSilenceTimeout closes an utterance after this much quiet
const DefaultSilenceTimeout = 1500 * time.Millisecond

// OutputKind distinguishes segmenter outputs
type OutputKind int

const (
	OutputUtterance OutputKind = iota
	OutputError
)

// Output is an utterance or an error surfaced to the consumer
type Output struct {
	Kind OutputKind
	Text string
	Err  error
}

// Segmenter buffers fragments into utterances. An utterance is flushed
// only when the gap since the last fragment reaches the silence timeout,
// or unconditionally on Flush. It is not safe for concurrent use; the
// pipeline consumer owns it.
type Segmenter struct {
	timeout   time.Duration
	separator string
	now       func() time.Time

	fragments    []string
	lastFragment time.Time
}

// NewSegmenter creates a segmenter. A nil now uses time.Now.
func NewSegmenter(timeout time.Duration, separator string, now func() time.Time) *Segmenter {
	if timeout <= 0 {
		timeout = DefaultSilenceTimeout
	}
	if now == nil {
		now = time.Now
	}
	return &Segmenter{timeout: timeout, separator: separator, now: now}
}

// Observe feeds one recognizer observation and returns what it releases
func (s *Segmenter) Observe(r Recognition) []Output {
	switch r.Kind {
	case KindFragment:
		if strings.TrimSpace(r.Text) == "" {
			return s.Tick()
		}
		s.fragments = append(s.fragments, r.Text)
		s.lastFragment = s.now()
		return nil

	case KindNoSpeech:
		return s.Tick()

	default:
		out := s.Tick()
		return append(out, Output{Kind: OutputError, Err: r.Err})
	}
}

// Tick flushes the buffer when the silence timeout has elapsed
func (s *Segmenter) Tick() []Output {
	if len(s.fragments) == 0 || s.now().Sub(s.lastFragment) < s.timeout {
		return nil
	}
	if text, ok := s.Flush(); ok {
		return []Output{{Kind: OutputUtterance, Text: text}}
	}
	return nil
}

// Flush empties the buffer regardless of timing. ok is false when the
// joined text would be blank.
func (s *Segmenter) Flush() (string, bool) {
	text := strings.Join(s.fragments, s.separator)
	s.fragments = nil
	s.lastFragment = time.Time{}
	if strings.TrimSpace(text) == "" {
		return "", false
	}
	return text, true
}

// Pending reports whether fragments are buffered
func (s *Segmenter) Pending() bool {
	return len(s.fragments) > 0
}

// Remaining returns how long until a pending buffer may flush
func (s *Segmenter) Remaining() time.Duration {
	if len(s.fragments) == 0 {
		return s.timeout
	}
	d := s.timeout - s.now().Sub(s.lastFragment)
	if d < 0 {
		return 0
	}
	return d
}

// Timeout returns the silence timeout
func (s *Segmenter) Timeout() time.Duration {
	return s.timeout
}
