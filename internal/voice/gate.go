package voice

import (
	"strings"
	"sync"
)

// GateState is the activation state of a wake gate
type GateState struct {
	Active bool
}

// Decision is the outcome of one gate evaluation
type Decision struct {
	State     GateState
	Forwarded string
	OK        bool
	Woke      bool
	Dismissed bool
}

// GateRules holds the trigger phrases. An empty WakeWord disables gating.
type GateRules struct {
	WakeWord     string
	DismissWords []string
}

// Evaluate applies the rules to one utterance. It has no side effects.
func (g GateRules) Evaluate(state GateState, utterance string) Decision {
	if g.WakeWord == "" {
		text := strings.TrimSpace(utterance)
		return Decision{State: state, Forwarded: text, OK: text != ""}
	}

	if state.Active {
		if g.dismissed(utterance) {
			return Decision{State: GateState{Active: false}, Dismissed: true}
		}
		return Decision{State: state, Forwarded: utterance, OK: true}
	}

	if !strings.Contains(utterance, g.WakeWord) {
		return Decision{State: state}
	}
	rest := strings.TrimSpace(strings.ReplaceAll(utterance, g.WakeWord, ""))
	return Decision{State: GateState{Active: true}, Forwarded: rest, OK: rest != "", Woke: true}
}

func (g GateRules) dismissed(utterance string) bool {
	for _, w := range g.DismissWords {
		if w != "" && strings.Contains(utterance, w) {
			return true
		}
	}
	return false
}

// Gate holds the state of one wake gate
type Gate struct {
	mu    sync.Mutex
	rules GateRules
	state GateState
}

// NewGate creates an inactive gate
func NewGate(rules GateRules) *Gate {
	return &Gate{rules: rules}
}

// Apply evaluates utterance and stores the new state
func (g *Gate) Apply(utterance string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	d := g.rules.Evaluate(g.state, utterance)
	g.state = d.State
	return d
}

// Active reports whether the gate forwards ordinary utterances
func (g *Gate) Active() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state.Active || g.rules.WakeWord == ""
}
