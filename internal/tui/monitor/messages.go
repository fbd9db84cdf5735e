// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     monitor
// Description: Message types fed into the monitor from the voice pipeline
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package monitor

import (
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/msto63/wake/internal/voice"
)

// stateMsg reports whether capture runs
type stateMsg struct {
	running bool
}

// recognitionMsg carries one listener observation
type recognitionMsg struct {
	r voice.Recognition
}

// decisionMsg carries a gated utterance
type decisionMsg struct {
	utterance string
	decision  voice.Decision
	at        time.Time
}

// errorMsg carries a recognizer or capture error
type errorMsg struct {
	err error
	at  time.Time
}

// startedMsg is sent once the pipeline start returned
type startedMsg struct {
	err error
}

// Observer returns pipeline callbacks that post to send, usually
// (*tea.Program).Send
func Observer(send func(tea.Msg)) voice.Observer {
	return voice.Observer{
		OnState: func(running bool) {
			send(stateMsg{running: running})
		},
		OnRecognition: func(r voice.Recognition) {
			send(recognitionMsg{r: r})
		},
		OnDecision: func(utterance string, d voice.Decision) {
			send(decisionMsg{utterance: utterance, decision: d, at: time.Now()})
		},
		OnError: func(err error) {
			send(errorMsg{err: err, at: time.Now()})
		},
	}
}
