package voice

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/msto63/wake/internal/relay"
	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

// scriptListener replays recognitions pushed by the test
type scriptListener struct {
	mu         sync.Mutex
	ch         chan Recognition
	inits      int
	cleanups   int
	failInitAt int
}

func newScriptListener(buffer int) *scriptListener {
	return &scriptListener{ch: make(chan Recognition, buffer)}
}

func (l *scriptListener) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.inits++
	if l.failInitAt > 0 && l.inits == l.failInitAt {
		return errors.New("device busy")
	}
	return nil
}

func (l *scriptListener) Listen(ctx context.Context) (Recognition, error) {
	select {
	case <-ctx.Done():
		return Recognition{}, ctx.Err()
	case r, ok := <-l.ch:
		if !ok {
			return Recognition{}, io.EOF
		}
		return r, nil
	}
}

func (l *scriptListener) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cleanups++
	return nil
}

func (l *scriptListener) counts() (inits, cleanups int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.inits, l.cleanups
}

// recordingSink records forwarded texts and errors
type recordingSink struct {
	mu     sync.Mutex
	texts  []string
	errs   []error
	states []bool
	got    chan string
}

func newRecordingSink() *recordingSink {
	return &recordingSink{got: make(chan string, 16)}
}

func (s *recordingSink) Forward(ctx context.Context, text string) error {
	s.mu.Lock()
	s.texts = append(s.texts, text)
	s.mu.Unlock()
	s.got <- text
	return nil
}

func (s *recordingSink) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs = append(s.errs, err)
}

func (s *recordingSink) SetActive(active bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states = append(s.states, active)
}

func (s *recordingSink) snapshot() ([]string, []error, []bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.texts...), append([]error(nil), s.errs...), append([]bool(nil), s.states...)
}

func (s *recordingSink) expect(t *testing.T, want string) {
	t.Helper()
	select {
	case got := <-s.got:
		if got != want {
			t.Fatalf("forwarded %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("nothing forwarded, want %q", want)
	}
}

func (s *recordingSink) expectNothing(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case got := <-s.got:
		t.Fatalf("forwarded %q, want nothing", got)
	case <-time.After(wait):
	}
}

func waitDone(t *testing.T, p *Pipeline) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("pipeline did not stop")
	}
}

func newTestPipeline(l Listener, sink Sink, cfg Config) *Pipeline {
	cfg.Listener = l
	cfg.Sinks = append(cfg.Sinks, sink)
	cfg.Logger = logging.Discard()
	if cfg.SilenceTimeout == 0 {
		cfg.SilenceTimeout = 30 * time.Millisecond
	}
	return NewPipeline(cfg)
}

func TestPipeline_WakeGateFlow(t *testing.T) {
	l := newScriptListener(4)
	sink := newRecordingSink()
	p := newTestPipeline(l, sink, Config{
		Gate: GateRules{WakeWord: "小明同学", DismissWords: []string{"退下"}},
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	l.ch <- Fragment("今天天气", 1, time.Time{})
	sink.expectNothing(t, 100*time.Millisecond)

	l.ch <- Fragment("小明同学", 1, time.Time{})
	l.ch <- Fragment("你好", 1, time.Time{})
	sink.expect(t, "你好")
	if !p.GateActive() {
		t.Error("GateActive() = false after wake word")
	}

	l.ch <- Fragment("讲个笑话", 1, time.Time{})
	sink.expect(t, "讲个笑话")

	l.ch <- Fragment("退下", 1, time.Time{})
	sink.expectNothing(t, 100*time.Millisecond)
	if p.GateActive() {
		t.Error("GateActive() = true after dismiss")
	}
}

func TestPipeline_StopFlushesFinalUtterance(t *testing.T) {
	l := newScriptListener(1)
	sink := newRecordingSink()
	p := newTestPipeline(l, sink, Config{SilenceTimeout: time.Minute})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	l.ch <- Fragment("还没说完", 1, time.Time{})

	// Let capture hand the fragment to the consumer
	deadline := time.After(time.Second)
	for len(l.ch) > 0 {
		select {
		case <-deadline:
			t.Fatal("fragment not consumed")
		case <-time.After(time.Millisecond):
		}
	}
	time.Sleep(20 * time.Millisecond)

	p.Stop()

	texts, _, states := sink.snapshot()
	if len(texts) != 1 || texts[0] != "还没说完" {
		t.Errorf("forwarded = %v, want [还没说完]", texts)
	}
	if _, cleanups := l.counts(); cleanups != 1 {
		t.Errorf("Cleanup() calls = %v, want 1", cleanups)
	}
	if len(states) != 2 || !states[0] || states[1] {
		t.Errorf("states = %v, want [true false]", states)
	}
	if p.Running() {
		t.Error("Running() = true after Stop")
	}
}

func TestPipeline_TransientErrorSurfaced(t *testing.T) {
	l := newScriptListener(2)
	sink := newRecordingSink()
	p := newTestPipeline(l, sink, Config{})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	l.ch <- Transient(errors.New("glitch"), time.Time{})
	close(l.ch)
	waitDone(t, p)

	_, errs, _ := sink.snapshot()
	if len(errs) != 1 || errs[0].Error() != "glitch" {
		t.Errorf("errors = %v, want [glitch]", errs)
	}
	if p.Err() != nil {
		t.Errorf("Err() = %v, want nil after end of input", p.Err())
	}
}

func TestPipeline_RestartPolicyExhausted(t *testing.T) {
	l := newScriptListener(8)
	for i := 0; i < 4; i++ {
		l.ch <- ServiceFailure(errors.New("service down"), time.Time{})
	}
	sink := newRecordingSink()
	p := newTestPipeline(l, sink, Config{
		Restart: RestartPolicy{MaxRestarts: 2, Delay: time.Millisecond, MaxBackoff: 4 * time.Millisecond},
	})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, p)

	if inits, _ := l.counts(); inits != 3 {
		t.Errorf("Initialize() calls = %v, want 3", inits)
	}
	if !fault.HasCode(p.Err(), fault.CodeRecognizerService) {
		t.Errorf("Err() = %v, want RECOGNIZER_SERVICE", p.Err())
	}

	_, errs, _ := sink.snapshot()
	if len(errs) != 4 {
		t.Fatalf("errors = %v, want three service errors and the final failure", errs)
	}
	if !strings.Contains(errs[3].Error(), "giving up") {
		t.Errorf("last error = %v, want the give-up failure", errs[3])
	}
	if p.Running() {
		t.Error("Running() = true after exhaustion")
	}
}

func TestPipeline_RestartCounterResets(t *testing.T) {
	l := newScriptListener(8)
	l.ch <- ServiceFailure(errors.New("down"), time.Time{})
	l.ch <- NoSpeech(time.Time{})
	l.ch <- ServiceFailure(errors.New("down"), time.Time{})
	l.ch <- NoSpeech(time.Time{})
	l.ch <- ServiceFailure(errors.New("down"), time.Time{})
	close(l.ch)

	sink := newRecordingSink()
	p := newTestPipeline(l, sink, Config{
		Restart: RestartPolicy{MaxRestarts: 1, Delay: time.Millisecond},
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, p)

	if p.Err() != nil {
		t.Errorf("Err() = %v, want nil", p.Err())
	}
	if inits, _ := l.counts(); inits != 4 {
		t.Errorf("Initialize() calls = %v, want 4", inits)
	}
}

func TestPipeline_RestartInitFailureStops(t *testing.T) {
	l := newScriptListener(2)
	l.failInitAt = 2
	l.ch <- ServiceFailure(errors.New("down"), time.Time{})

	sink := newRecordingSink()
	p := newTestPipeline(l, sink, Config{
		Restart: RestartPolicy{MaxRestarts: 3, Delay: time.Millisecond},
	})
	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	waitDone(t, p)

	if !fault.HasCode(p.Err(), fault.CodeRecognizerService) {
		t.Errorf("Err() = %v, want RECOGNIZER_SERVICE", p.Err())
	}
	if !strings.Contains(p.Err().Error(), "device busy") {
		t.Errorf("Err() = %v, want the initialization cause", p.Err())
	}
}

func TestPipeline_StartTwice(t *testing.T) {
	l := newScriptListener(0)
	p := newTestPipeline(l, newRecordingSink(), Config{})

	if err := p.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer p.Stop()

	if err := p.Start(context.Background()); !errors.Is(err, ErrRunning) {
		t.Errorf("second Start() error = %v, want ErrRunning", err)
	}
}

func TestPipeline_StartInitFailure(t *testing.T) {
	l := newScriptListener(0)
	l.failInitAt = 1
	p := newTestPipeline(l, newRecordingSink(), Config{})

	if err := p.Start(context.Background()); err == nil {
		t.Fatal("Start() error = nil, want failure")
	}
	if p.Running() {
		t.Error("Running() = true after failed Start")
	}
	p.Stop()
}

func TestRestartPolicy_Backoff(t *testing.T) {
	p := RestartPolicy{Delay: time.Second, MaxBackoff: 10 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 8 * time.Second, 10 * time.Second, 10 * time.Second}
	for i, w := range want {
		if got := p.Backoff(i + 1); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", i+1, got, w)
		}
	}
}

func TestStdinListener(t *testing.T) {
	in := strings.NewReader("小明同学你好\n\n!glitch\n!!down\n")
	l, err := NewListener(ListenerConfig{Kind: ListenerStdin, Input: in, Logger: logging.Discard()})
	if err != nil {
		t.Fatalf("NewListener() error = %v", err)
	}
	ctx := context.Background()
	if err := l.Initialize(ctx); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	wantKinds := []Kind{KindFragment, KindNoSpeech, KindTransient, KindServiceError}
	for i, want := range wantKinds {
		r, err := l.Listen(ctx)
		if err != nil {
			t.Fatalf("Listen() %d error = %v", i, err)
		}
		if r.Kind != want {
			t.Errorf("Listen() %d kind = %v, want %v", i, r.Kind, want)
		}
	}
	if _, err := l.Listen(ctx); err != io.EOF {
		t.Errorf("Listen() at end error = %v, want io.EOF", err)
	}
	if _, err := l.Listen(ctx); err != io.EOF {
		t.Errorf("Listen() after end error = %v, want io.EOF", err)
	}
}

func TestStdinListener_CleanupReleasesReader(t *testing.T) {
	l := NewStdinListener(strings.NewReader("first\nsecond\n"), nil)
	ctx := context.Background()

	l.Initialize(ctx)
	if r, err := l.Listen(ctx); err != nil || r.Text != "first" {
		t.Fatalf("Listen() = %v, %v, want first", r, err)
	}
	l.Cleanup()

	reading := func() bool {
		l.mu.Lock()
		defer l.mu.Unlock()
		return l.reading
	}
	deadline := time.Now().Add(2 * time.Second)
	for reading() {
		if time.Now().After(deadline) {
			t.Fatal("reader still running after Cleanup")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := l.Listen(ctx); !fault.HasCode(err, fault.CodeCaptureFailed) {
		t.Errorf("Listen() after Cleanup error = %v, want CAPTURE_FAILED", err)
	}

	// The line read before Cleanup is delivered by the next run
	l.Initialize(ctx)
	if r, err := l.Listen(ctx); err != nil || r.Text != "second" {
		t.Errorf("Listen() after restart = %v, %v, want second", r, err)
	}
	if _, err := l.Listen(ctx); err != io.EOF {
		t.Errorf("Listen() at end error = %v, want io.EOF", err)
	}
	l.Cleanup()
	l.Initialize(ctx)
	if _, err := l.Listen(ctx); err != io.EOF {
		t.Errorf("Listen() after end and restart error = %v, want io.EOF", err)
	}
}

func TestNewListener_Errors(t *testing.T) {
	if _, err := NewListener(ListenerConfig{Kind: "carrier-pigeon"}); !fault.HasCode(err, fault.CodeInvalidConfig) {
		t.Errorf("unknown kind error = %v, want INVALID_CONFIG", err)
	}
	if _, err := NewListener(ListenerConfig{Kind: ListenerMicrophone}); !fault.HasCode(err, fault.CodeInvalidConfig) {
		t.Errorf("microphone without recognizer error = %v, want INVALID_CONFIG", err)
	}
}

func TestEventQueue(t *testing.T) {
	q := NewEventQueue(2, logging.Discard())
	q.Forward(context.Background(), "a")
	q.Forward(context.Background(), "b")
	q.Fail(errors.New("mic"))

	if q.Dropped() != 1 {
		t.Errorf("Dropped() = %v, want 1", q.Dropped())
	}

	closes := 0
	src := q.Source(func() { closes++ })
	q.SetActive(true)
	if !src.Active() {
		t.Error("Active() = false, want true")
	}

	want := []relay.Event{relay.Transcript("b"), relay.VoiceError("mic")}
	for i, w := range want {
		ev, ok := src.Next()
		if !ok || ev != w {
			t.Errorf("Next() %d = %v, %v, want %v", i, ev, ok, w)
		}
	}

	src.Close()
	src.Close()
	if closes != 1 {
		t.Errorf("onClose calls = %v, want 1", closes)
	}
	if _, ok := src.Next(); ok {
		t.Error("Next() after Close returned an event")
	}
}
