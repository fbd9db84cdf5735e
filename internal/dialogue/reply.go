package dialogue

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/msto63/wake/internal/relay"
	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

// Reply is the lazy event sequence of one turn. Next is called by a single
// consumer; Close may be called concurrently and releases the generation.
type Reply struct {
	m         *Manager
	ctx       context.Context
	sessionID string
	known     bool
	text      string
	prompt    string
	logger    *logging.Logger

	started bool
	ended   bool
	answer  strings.Builder

	mu       sync.Mutex
	gen      Generation
	closed   atomic.Bool
	finished atomic.Bool
	once     sync.Once
}

// SessionID returns the session the reply belongs to
func (r *Reply) SessionID() string {
	return r.sessionID
}

// Next returns the next event. Token events follow the upstream order;
// the sequence ends after Done, Error or Interrupted.
func (r *Reply) Next() (relay.Event, bool) {
	if r.ended {
		return relay.Event{}, false
	}

	if !r.started {
		r.started = true
		if ev, failed := r.start(); failed {
			return r.end(ev), true
		}
	}

	for {
		chunk, err := r.gen.Next()
		switch {
		case err == nil:
			if chunk == "" {
				continue
			}
			r.answer.WriteString(chunk)
			return relay.Token(chunk), true

		case err == io.EOF:
			if r.known {
				r.m.commit(r.sessionID, r.text, r.answer.String())
			}
			r.logger.Info("turn completed", "chars", r.answer.Len())
			return r.end(relay.Done()), true

		case fault.HasCode(err, fault.CodeInterrupted) || errors.Is(err, context.Canceled):
			r.logger.Info("turn interrupted", "partial_chars", r.answer.Len())
			return r.end(relay.Interrupted()), true

		default:
			r.logger.Error("turn failed", "error", err)
			return r.end(relay.Error(err.Error())), true
		}
	}
}

// start opens the generation and installs it as current. The bool is
// true when the turn ended before streaming began.
func (r *Reply) start() (relay.Event, bool) {
	if r.closed.Load() {
		return relay.Interrupted(), true
	}

	gen, err := r.m.gen.Generate(r.ctx, r.prompt)
	if err != nil {
		r.logger.Error("generation not started", "error", err)
		return relay.Error(err.Error()), true
	}

	r.mu.Lock()
	r.gen = gen
	r.mu.Unlock()

	r.m.install(gen, r.sessionID)

	// Close may have run before the handle was visible to it
	if r.closed.Load() {
		r.m.cancelIfCurrent(gen)
		return relay.Interrupted(), true
	}
	return relay.Event{}, false
}

// end marks the terminal event and clears the current handle
func (r *Reply) end(ev relay.Event) relay.Event {
	r.ended = true
	r.finished.Store(true)
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	if gen != nil {
		r.m.release(gen)
	}
	return ev
}

// InterruptIfCurrent cancels the turn's generation while it is still the
// current one. A generation replaced by a newer turn is left alone, as is
// a turn that has not started streaming.
func (r *Reply) InterruptIfCurrent() bool {
	r.mu.Lock()
	gen := r.gen
	r.mu.Unlock()
	if gen == nil || r.finished.Load() {
		return false
	}
	if !r.m.cancelIfCurrent(gen) {
		return false
	}
	r.logger.Info("current generation interrupted on disconnect")
	return true
}

// Close abandons the turn. An unfinished generation that is still current
// is cancelled and released; one that is no longer current was already
// cancelled by whoever replaced it. History is not touched.
func (r *Reply) Close() {
	r.once.Do(func() {
		r.closed.Store(true)
		r.mu.Lock()
		gen := r.gen
		r.mu.Unlock()
		if gen == nil || r.finished.Load() {
			return
		}
		r.m.cancelIfCurrent(gen)
	})
}
