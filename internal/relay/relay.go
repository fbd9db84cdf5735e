// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     relay
// Description: Forwards event sources to a client as Server-Sent Events
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package relay

import (
	"context"
	"net/http"
	"time"

	"github.com/msto63/wake/pkg/core/logging"
)

// DefaultKeepaliveInterval is the silence window before a keepalive frame
const DefaultKeepaliveInterval = 5 * time.Second

// Source produces events. Next blocks until an event is available and
// returns false once the source is exhausted. Close must unblock a
// pending Next.
type Source interface {
	Next() (Event, bool)
	Close()
}

// Liveness is implemented by sources whose producer can go away while
// the stream is silent
type Liveness interface {
	Active() bool
}

// Interrupter cancels the in-flight generation
type Interrupter interface {
	InterruptCurrent()
}

// Bound is implemented by sources tied to one generation. The relay then
// interrupts through the source, which cancels only while its generation
// is still the current one and reports whether it did.
type Bound interface {
	InterruptIfCurrent() bool
}

// Options configures a relay
type Options struct {
	KeepaliveInterval time.Duration
	// Interrupter is called once when the client leaves before a terminal
	// event. It also enables interrupts through Bound sources.
	Interrupter Interrupter
	Logger      *logging.Logger
}

// Result summarizes a finished relay
type Result struct {
	Frames       int
	Keepalives   int
	Last         Kind
	Terminated   bool
	Disconnected bool
	Interrupted  bool
}

// Relay forwards sources to clients
type Relay struct {
	keepalive   time.Duration
	interrupter Interrupter
	logger      *logging.Logger
}

// New creates a relay
func New(opts Options) *Relay {
	if opts.KeepaliveInterval <= 0 {
		opts.KeepaliveInterval = DefaultKeepaliveInterval
	}
	if opts.Logger == nil {
		opts.Logger = logging.New("relay")
	}
	return &Relay{
		keepalive:   opts.KeepaliveInterval,
		interrupter: opts.Interrupter,
		logger:      opts.Logger,
	}
}

// Serve sets SSE headers and streams src until it ends or the request
// context is cancelled
func (r *Relay) Serve(w http.ResponseWriter, req *http.Request, src Source) Result {
	SetHeaders(w)
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}
	return r.Stream(req.Context(), NewWriter(w), src)
}

// Stream forwards src to out. A cancelled ctx is treated as a client
// disconnect: reading stops, the interrupter is invoked once when a
// generation is still running, and nothing more is written. src is
// always closed before Stream returns.
func (r *Relay) Stream(ctx context.Context, out FrameWriter, src Source) Result {
	var res Result

	events := make(chan Event)
	stop := make(chan struct{})
	pumpDone := make(chan struct{})

	go func() {
		defer close(pumpDone)
		defer close(events)
		for {
			ev, ok := src.Next()
			if !ok {
				return
			}
			select {
			case events <- ev:
				if ev.Terminal() {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	defer func() {
		close(stop)
		src.Close()
		<-pumpDone
	}()

	timer := time.NewTimer(r.keepalive)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.disconnect(src, &res)
			return res

		case ev, ok := <-events:
			if !ok {
				return res
			}
			// A disconnect may race with a ready event; the disconnect wins
			if ctx.Err() != nil {
				r.disconnect(src, &res)
				return res
			}
			if err := out.WriteEvent(ev); err != nil {
				r.logger.Debug("write failed, treating as disconnect", "error", err)
				r.disconnect(src, &res)
				return res
			}
			res.Frames++
			res.Last = ev.Kind
			if ev.Terminal() {
				res.Terminated = true
				return res
			}
			resetTimer(timer, r.keepalive)

		case <-timer.C:
			if l, ok := src.(Liveness); ok && !l.Active() {
				r.logger.Debug("producer inactive, ending stream")
				return res
			}
			if ctx.Err() != nil {
				r.disconnect(src, &res)
				return res
			}
			if err := out.WriteEvent(Keepalive()); err != nil {
				r.disconnect(src, &res)
				return res
			}
			res.Keepalives++
			timer.Reset(r.keepalive)
		}
	}
}

func (r *Relay) disconnect(src Source, res *Result) {
	res.Disconnected = true
	if r.interrupter != nil && !res.Terminated {
		if b, ok := src.(Bound); ok {
			res.Interrupted = b.InterruptIfCurrent()
		} else {
			r.interrupter.InterruptCurrent()
			res.Interrupted = true
		}
	}
	r.logger.Debug("client disconnected", "frames", res.Frames, "interrupted", res.Interrupted)
}

func resetTimer(t *time.Timer, d time.Duration) {
	if !t.Stop() {
		select {
		case <-t.C:
		default:
		}
	}
	t.Reset(d)
}
