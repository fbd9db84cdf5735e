// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     stt
// Description: Speech-to-text recognizer interface and error classes
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package stt

import (
	"context"
	"errors"

	"github.com/msto63/wake/pkg/core/fault"
)

// Recognizer converts one phrase of audio into text
type Recognizer interface {
	// Recognize transcribes samples. It returns ErrNoMatch when the audio
	// held nothing intelligible and a *ServiceError when the service could
	// not be used at all.
	Recognize(ctx context.Context, samples []float32) (Result, error)

	Close() error
}

// Result holds a transcription
type Result struct {
	Text       string
	Confidence float32
	Language   string
}

// Config holds recognizer configuration
type Config struct {
	// URL is the base URL of a whisper-compatible server
	URL string

	// Language is the recognition language tag, e.g. "zh-CN" or "de"
	Language string

	SampleRate int
}

// DefaultConfig returns default recognizer configuration
func DefaultConfig() Config {
	return Config{
		URL:        "http://localhost:8000",
		Language:   "zh-CN",
		SampleRate: 16000,
	}
}

// ErrNoMatch reports audio without recognizable speech
var ErrNoMatch = fault.New("speech not recognized").WithCode(fault.CodeRecognizerTransient)

// ServiceError reports that the recognition service failed. The listener
// must be restarted before recognition can continue.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	if e.Err == nil {
		return "recognition service error: " + e.Op
	}
	return "recognition service error: " + e.Op + ": " + e.Err.Error()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// IsServiceError reports whether err is or wraps a *ServiceError
func IsServiceError(err error) bool {
	var se *ServiceError
	return errors.As(err, &se)
}
