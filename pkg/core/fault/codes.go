// File: codes.go
// Title: Fault Codes
// Description: Structured codes for classifying failures across the bridge,
//              used for HTTP responses, logging and event mapping.
// Author: Mike Stoffels
// Created: 2026-10-19

package fault

import "net/http"

// Code represents a structured error code
type Code string

const (
	CodeUnknown  Code = "UNKNOWN"
	CodeInternal Code = "INTERNAL"

	// Dialogue sessions
	CodeSessionPoolFull Code = "SESSION_POOL_FULL"
	CodeSessionNotFound Code = "SESSION_NOT_FOUND"

	// Upstream model server
	CodeUpstreamUnavailable Code = "UPSTREAM_UNAVAILABLE"
	CodeUpstreamBadStatus   Code = "UPSTREAM_BAD_STATUS"
	CodeMalformedChunk      Code = "MALFORMED_CHUNK"
	CodeInterrupted         Code = "INTERRUPTED"

	// Relay
	CodeClientDisconnected Code = "CLIENT_DISCONNECTED"

	// Voice pipeline
	CodeRecognizerTransient Code = "RECOGNIZER_TRANSIENT"
	CodeRecognizerService   Code = "RECOGNIZER_SERVICE"
	CodeCaptureFailed       Code = "CAPTURE_FAILED"

	// Input and configuration
	CodeInvalidConfig Code = "INVALID_CONFIG"
	CodeInvalidInput  Code = "INVALID_INPUT"
)

// String returns the string representation of the code
func (c Code) String() string {
	return string(c)
}

// Category returns the component family of the code
func (c Code) Category() string {
	switch c {
	case CodeSessionPoolFull, CodeSessionNotFound:
		return "dialogue"
	case CodeUpstreamUnavailable, CodeUpstreamBadStatus, CodeMalformedChunk, CodeInterrupted:
		return "upstream"
	case CodeClientDisconnected:
		return "relay"
	case CodeRecognizerTransient, CodeRecognizerService, CodeCaptureFailed:
		return "voice"
	case CodeInvalidConfig, CodeInvalidInput:
		return "validation"
	default:
		return "generic"
	}
}

// HTTPStatus returns the HTTP status used when the code reaches a client
func (c Code) HTTPStatus() int {
	switch c {
	case CodeSessionPoolFull:
		return http.StatusTooManyRequests
	case CodeSessionNotFound:
		return http.StatusNotFound
	case CodeInvalidInput, CodeInvalidConfig:
		return http.StatusBadRequest
	case CodeUpstreamUnavailable, CodeUpstreamBadStatus:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Severity returns the default severity for the code
func (c Code) Severity() Severity {
	switch c {
	case CodeCaptureFailed, CodeRecognizerService, CodeUpstreamUnavailable:
		return SeverityHigh
	case CodeInvalidInput, CodeSessionNotFound, CodeSessionPoolFull, CodeInterrupted,
		CodeClientDisconnected, CodeMalformedChunk, CodeRecognizerTransient:
		return SeverityLow
	case CodeInternal:
		return SeverityCritical
	default:
		return SeverityMedium
	}
}
