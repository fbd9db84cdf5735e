// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     version
// Description: Central version management for all components
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package version

// Version constants for all components
const (
	// Platform version
	Platform = "0.3.0"

	// Component versions
	Dialogue  = "0.3.0"
	Relay     = "0.2.0"
	Upstream  = "0.2.0"
	Voice     = "0.3.0"
	Companion = "0.1.0"
	Store     = "0.1.0"
)

// Build information, set via -ldflags
var (
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// ComponentVersion returns the version for a given component name
func ComponentVersion(name string) string {
	switch name {
	case "dialogue":
		return Dialogue
	case "relay":
		return Relay
	case "upstream":
		return Upstream
	case "voice":
		return Voice
	case "companion":
		return Companion
	case "store":
		return Store
	default:
		return Platform
	}
}

// Components lists the component names in display order
func Components() []string {
	return []string{"dialogue", "relay", "upstream", "voice", "companion", "store"}
}
