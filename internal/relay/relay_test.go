package relay

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/msto63/wake/pkg/core/logging"
)

// chanSource is a Source fed through a channel
type chanSource struct {
	ch     chan Event
	closed chan struct{}
	once   sync.Once
	active atomic.Bool
	closes atomic.Int32
}

func newChanSource(buffer int) *chanSource {
	s := &chanSource{ch: make(chan Event, buffer), closed: make(chan struct{})}
	s.active.Store(true)
	return s
}

func (s *chanSource) Next() (Event, bool) {
	select {
	case ev, ok := <-s.ch:
		return ev, ok
	case <-s.closed:
		return Event{}, false
	}
}

func (s *chanSource) Close() {
	s.closes.Add(1)
	s.once.Do(func() { close(s.closed) })
}

// liveSource adds Liveness
type liveSource struct{ *chanSource }

func (s liveSource) Active() bool { return s.active.Load() }

// recordingWriter records frames and can fail on demand
type recordingWriter struct {
	mu     sync.Mutex
	events []Event
	failAt int
}

func (w *recordingWriter) WriteEvent(ev Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.failAt > 0 && len(w.events)+1 == w.failAt {
		return errors.New("broken pipe")
	}
	w.events = append(w.events, ev)
	return nil
}

func (w *recordingWriter) snapshot() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]Event(nil), w.events...)
}

type countingInterrupter struct{ calls atomic.Int32 }

func (c *countingInterrupter) InterruptCurrent() { c.calls.Add(1) }

func newTestRelay(keepalive time.Duration, in Interrupter) *Relay {
	return New(Options{KeepaliveInterval: keepalive, Interrupter: in, Logger: logging.Discard()})
}

func TestEventFrames(t *testing.T) {
	tests := []struct {
		event Event
		want  string
	}{
		{Token("hi"), `data: {"response":"hi"}` + "\n\n"},
		{Done(), `data: {"done":true}` + "\n\n"},
		{Error("boom"), `data: {"error":"boom"}` + "\n\n"},
		{Interrupted(), `data: {"status":"interrupted"}` + "\n\n"},
		{Keepalive(), `data: {"type":"keepalive"}` + "\n\n"},
		{Transcript("你好"), `data: {"status":"success","text":"你好"}` + "\n\n"},
		{VoiceError("mic"), `data: {"error":"mic","status":"error"}` + "\n\n"},
	}

	for _, tt := range tests {
		t.Run(tt.event.Kind.String(), func(t *testing.T) {
			frame, err := tt.event.Frame()
			if err != nil {
				t.Fatalf("Frame() error = %v", err)
			}
			if string(frame) != tt.want {
				t.Errorf("Frame() = %q, want %q", frame, tt.want)
			}
		})
	}
}

func TestEventTerminal(t *testing.T) {
	terminal := map[Kind]bool{
		KindToken: false, KindDone: true, KindError: true, KindInterrupted: true,
		KindKeepalive: false, KindTranscript: false, KindVoiceError: false,
	}
	for kind, want := range terminal {
		if got := (Event{Kind: kind}).Terminal(); got != want {
			t.Errorf("%s.Terminal() = %v, want %v", kind, got, want)
		}
	}
}

func TestStream_ForwardsUntilTerminal(t *testing.T) {
	src := newChanSource(8)
	src.ch <- Token("hi")
	src.ch <- Token(" there")
	src.ch <- Done()
	src.ch <- Token("never")

	out := &recordingWriter{}
	res := newTestRelay(time.Second, nil).Stream(context.Background(), out, src)

	got := out.snapshot()
	if len(got) != 3 {
		t.Fatalf("frames = %v, want 3", got)
	}
	if got[0] != Token("hi") || got[1] != Token(" there") || got[2] != Done() {
		t.Errorf("frames = %v", got)
	}
	if !res.Terminated || res.Last != KindDone {
		t.Errorf("Result = %+v, want terminated on done", res)
	}
	if src.closes.Load() != 1 {
		t.Errorf("Close() calls = %v, want 1", src.closes.Load())
	}
}

func TestStream_ErrorTerminates(t *testing.T) {
	src := newChanSource(4)
	src.ch <- Error("boom")
	src.ch <- Done()

	out := &recordingWriter{}
	newTestRelay(time.Second, nil).Stream(context.Background(), out, src)

	got := out.snapshot()
	if len(got) != 1 || got[0] != Error("boom") {
		t.Errorf("frames = %v, want exactly [Error(boom)]", got)
	}
}

func TestStream_DisconnectInterruptsOnce(t *testing.T) {
	src := newChanSource(0)
	in := &countingInterrupter{}
	out := &recordingWriter{}
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan Result)
	go func() { done <- newTestRelay(time.Second, in).Stream(ctx, out, src) }()

	src.ch <- Token("partial")
	// Wait until the first frame is written
	deadline := time.After(time.Second)
	for len(out.snapshot()) == 0 {
		select {
		case <-deadline:
			t.Fatal("first frame not written")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	res := <-done

	if !res.Disconnected || !res.Interrupted {
		t.Errorf("Result = %+v, want disconnected and interrupted", res)
	}
	if in.calls.Load() != 1 {
		t.Errorf("InterruptCurrent() calls = %v, want 1", in.calls.Load())
	}

	// Nothing may be written after the disconnect
	select {
	case src.ch <- Token("late"):
	default:
	}
	if got := out.snapshot(); len(got) != 1 {
		t.Errorf("frames = %v, want only the first token", got)
	}
}

func TestStream_WriteErrorIsDisconnect(t *testing.T) {
	src := newChanSource(4)
	src.ch <- Token("a")
	src.ch <- Token("b")

	in := &countingInterrupter{}
	out := &recordingWriter{failAt: 2}
	res := newTestRelay(time.Second, in).Stream(context.Background(), out, src)

	if !res.Disconnected {
		t.Errorf("Disconnected = false, want true")
	}
	if in.calls.Load() != 1 {
		t.Errorf("InterruptCurrent() calls = %v, want 1", in.calls.Load())
	}
	if res.Frames != 1 {
		t.Errorf("Frames = %v, want 1", res.Frames)
	}
}

// boundSource owns a generation that may or may not be current
type boundSource struct {
	*chanSource
	current bool
	calls   atomic.Int32
}

func (s *boundSource) InterruptIfCurrent() bool {
	s.calls.Add(1)
	return s.current
}

func TestStream_BoundSourceDecidesInterrupt(t *testing.T) {
	tests := []struct {
		name    string
		current bool
	}{
		{"still current", true},
		{"replaced", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &boundSource{chanSource: newChanSource(2), current: tt.current}
			src.ch <- Token("a")
			src.ch <- Token("b")

			in := &countingInterrupter{}
			res := newTestRelay(time.Second, in).Stream(context.Background(), &recordingWriter{failAt: 2}, src)

			if src.calls.Load() != 1 {
				t.Errorf("InterruptIfCurrent() calls = %v, want 1", src.calls.Load())
			}
			if in.calls.Load() != 0 {
				t.Errorf("InterruptCurrent() calls = %v, want 0", in.calls.Load())
			}
			if res.Interrupted != tt.current {
				t.Errorf("Interrupted = %v, want %v", res.Interrupted, tt.current)
			}
		})
	}
}

func TestStream_NoInterruptAfterTerminal(t *testing.T) {
	src := newChanSource(1)
	src.ch <- Done()
	in := &countingInterrupter{}

	newTestRelay(time.Second, in).Stream(context.Background(), &recordingWriter{}, src)
	if in.calls.Load() != 0 {
		t.Errorf("InterruptCurrent() calls = %v, want 0", in.calls.Load())
	}
}

func TestStream_KeepaliveWhileActive(t *testing.T) {
	src := liveSource{newChanSource(0)}
	out := &recordingWriter{}

	done := make(chan Result)
	go func() { done <- newTestRelay(20*time.Millisecond, nil).Stream(context.Background(), out, src) }()

	time.Sleep(70 * time.Millisecond)
	src.active.Store(false)

	select {
	case res := <-done:
		if res.Keepalives < 2 {
			t.Errorf("Keepalives = %v, want at least 2", res.Keepalives)
		}
		if res.Disconnected {
			t.Error("inactive producer must not count as disconnect")
		}
	case <-time.After(time.Second):
		t.Fatal("stream did not end after producer went inactive")
	}

	for _, ev := range out.snapshot() {
		if ev.Kind != KindKeepalive {
			t.Errorf("unexpected frame %v", ev)
		}
	}
}

func TestStream_ExhaustedSourceEnds(t *testing.T) {
	src := newChanSource(2)
	src.ch <- Transcript("你好")
	close(src.ch)

	out := &recordingWriter{}
	res := newTestRelay(time.Second, nil).Stream(context.Background(), out, src)

	if res.Frames != 1 || res.Terminated {
		t.Errorf("Result = %+v, want one non-terminal frame", res)
	}
}

func TestServe_HTTP(t *testing.T) {
	src := newChanSource(3)
	src.ch <- Token("hi")
	src.ch <- Done()

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/chat", nil)
	newTestRelay(time.Second, nil).Serve(rec, req, src)

	if ct := rec.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %v, want text/event-stream", ct)
	}
	body := rec.Body.String()
	want := "data: {\"response\":\"hi\"}\n\ndata: {\"done\":true}\n\n"
	if body != want {
		t.Errorf("body = %q, want %q", body, want)
	}
	if !rec.Flushed {
		t.Error("response was not flushed")
	}
	if strings.Count(body, "data: ") != 2 {
		t.Errorf("frame count = %v, want 2", strings.Count(body, "data: "))
	}
}
