package dialogue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/msto63/wake/internal/relay"
	"github.com/msto63/wake/internal/upstream"
	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

type step struct {
	text string
	err  error
}

// fakeGen replays steps; a closed step channel ends with io.EOF
type fakeGen struct {
	steps     chan step
	cancelled chan struct{}
	cancels   atomic.Int32
	once      sync.Once
}

func newFakeGen(buffer int) *fakeGen {
	return &fakeGen{steps: make(chan step, buffer), cancelled: make(chan struct{})}
}

func scripted(steps ...step) *fakeGen {
	g := newFakeGen(len(steps))
	for _, s := range steps {
		g.steps <- s
	}
	close(g.steps)
	return g
}

func (g *fakeGen) Next() (string, error) {
	select {
	case <-g.cancelled:
		return "", upstream.ErrInterrupted
	default:
	}
	select {
	case s, ok := <-g.steps:
		if !ok {
			return "", io.EOF
		}
		return s.text, s.err
	case <-g.cancelled:
		return "", upstream.ErrInterrupted
	}
}

func (g *fakeGen) Cancel() {
	g.cancels.Add(1)
	g.once.Do(func() { close(g.cancelled) })
}

// fakeGenerator hands out prepared generations in order
type fakeGenerator struct {
	mu      sync.Mutex
	gens    []*fakeGen
	prompts []string
	err     error
}

func (f *fakeGenerator) push(g *fakeGen) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gens = append(f.gens, g)
}

func (f *fakeGenerator) Generate(ctx context.Context, prompt string) (Generation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.gens) == 0 {
		return nil, fmt.Errorf("no generation prepared")
	}
	g := f.gens[0]
	f.gens = f.gens[1:]
	return g, nil
}

func (f *fakeGenerator) prompt(i int) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prompts[i]
}

type memoryStore struct {
	mu    sync.Mutex
	turns []string
	err   error
}

func (s *memoryStore) SaveTurn(ctx context.Context, sessionID, user, assistant string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.turns = append(s.turns, sessionID+"|"+user+"|"+assistant)
	return nil
}

func newTestManager(gen Generator, max int) *Manager {
	n := 0
	return NewManager(gen, Options{
		MaxSessions: max,
		Logger:      logging.Discard(),
		NewID: func() string {
			n++
			return fmt.Sprintf("s%d", n)
		},
	})
}

// readAll reads a reply to its end, giving up after 100 events
func readAll(r *Reply) []relay.Event {
	var events []relay.Event
	for i := 0; i < 100; i++ {
		ev, ok := r.Next()
		if !ok {
			break
		}
		events = append(events, ev)
	}
	return events
}

func drain(t *testing.T, r *Reply) []relay.Event {
	t.Helper()
	events := readAll(r)
	if len(events) == 0 || !events[len(events)-1].Terminal() {
		t.Fatalf("reply did not end with a terminal event: %v", events)
	}
	return events
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestCreate_FullBeyondLimit(t *testing.T) {
	m := newTestManager(&fakeGenerator{}, 3)

	for i := 0; i < 3; i++ {
		if _, err := m.Create(); err != nil {
			t.Fatalf("Create() #%d error = %v", i+1, err)
		}
	}
	for i := 0; i < 5; i++ {
		id, err := m.Create()
		if !errors.Is(err, ErrFull) {
			t.Errorf("Create() beyond limit = %q, %v, want ErrFull", id, err)
		}
		if !fault.HasCode(err, fault.CodeSessionPoolFull) {
			t.Errorf("code = %v, want %v", fault.GetCode(err), fault.CodeSessionPoolFull)
		}
	}
}

func TestCreate_RecyclesCompleted(t *testing.T) {
	gen := &fakeGenerator{}
	gen.push(scripted(step{text: "hi"}))
	m := newTestManager(gen, 3)

	first, _ := m.Create()
	drain(t, m.Send(context.Background(), first, "hello"))
	if err := m.Complete(first); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}

	id, err := m.Create()
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != first {
		t.Errorf("Create() = %v, want recycled %v", id, first)
	}

	s, _ := m.Get(id)
	if s.Status != StatusActive {
		t.Errorf("Status = %v, want active", s.Status)
	}
	if len(s.History) != 0 {
		t.Errorf("History = %v, want empty after recycling", s.History)
	}
}

func TestCreate_RecyclesOldestAndPurgesOthers(t *testing.T) {
	m := newTestManager(&fakeGenerator{}, 3)

	a, _ := m.Create()
	b, _ := m.Create()
	c, _ := m.Create()
	m.Complete(b)
	m.Complete(a)

	id, err := m.Create()
	if err != nil || id != a {
		t.Fatalf("Create() = %v, %v, want %v", id, err, a)
	}
	if _, ok := m.Get(b); ok {
		t.Errorf("completed session %v should be purged", b)
	}
	if _, ok := m.Get(c); !ok {
		t.Errorf("active session %v must survive", c)
	}
	if active, max := m.Usage(); active != 2 || max != 3 {
		t.Errorf("Usage() = %d/%d, want 2/3", active, max)
	}
}

func TestComplete_Unknown(t *testing.T) {
	m := newTestManager(&fakeGenerator{}, 3)
	if err := m.Complete("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Complete() = %v, want ErrNotFound", err)
	}
}

func TestSend_EndToEnd(t *testing.T) {
	gen := &fakeGenerator{}
	gen.push(scripted(step{text: "hi"}, step{text: " there"}))
	store := &memoryStore{}
	m := NewManager(gen, Options{Logger: logging.Discard(), Store: store})

	id, _ := m.Create()
	events := drain(t, m.Send(context.Background(), id, "hello"))

	want := []relay.Event{relay.Token("hi"), relay.Token(" there"), relay.Done()}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("events[%d] = %v, want %v", i, events[i], want[i])
		}
	}

	s, _ := m.Get(id)
	wantHistory := []Message{{RoleUser, "hello"}, {RoleAssistant, "hi there"}}
	if len(s.History) != 2 || s.History[0] != wantHistory[0] || s.History[1] != wantHistory[1] {
		t.Errorf("History = %v, want %v", s.History, wantHistory)
	}
	if gen.prompt(0) != "User: hello\n" {
		t.Errorf("prompt = %q, want %q", gen.prompt(0), "User: hello\n")
	}
	if m.Busy() {
		t.Error("Busy() = true after completion")
	}
	if len(store.turns) != 1 || store.turns[0] != id+"|hello|hi there" {
		t.Errorf("stored turns = %v", store.turns)
	}
}

func TestSend_PromptIncludesHistory(t *testing.T) {
	gen := &fakeGenerator{}
	gen.push(scripted(step{text: "hi"}))
	gen.push(scripted(step{text: "fine"}))
	m := newTestManager(gen, 3)

	id, _ := m.Create()
	drain(t, m.Send(context.Background(), id, "hello"))
	drain(t, m.Send(context.Background(), id, "how are you"))

	want := "User: hello\nAssistant: hi\nUser: how are you\n"
	if gen.prompt(1) != want {
		t.Errorf("prompt = %q, want %q", gen.prompt(1), want)
	}
}

func TestSend_UnknownSessionKeepsNoHistory(t *testing.T) {
	gen := &fakeGenerator{}
	gen.push(scripted(step{text: "ok"}))
	m := newTestManager(gen, 3)

	events := drain(t, m.Send(context.Background(), "ghost", "ping"))
	if events[len(events)-1] != relay.Done() {
		t.Errorf("last event = %v, want Done", events[len(events)-1])
	}
	if gen.prompt(0) != "ping" {
		t.Errorf("prompt = %q, want raw text", gen.prompt(0))
	}
	if _, ok := m.Get("ghost"); ok {
		t.Error("unknown session must not be created by Send")
	}
}

func TestSend_BadStatus(t *testing.T) {
	gen := &fakeGenerator{}
	gen.push(scripted(step{err: fault.New("boom").WithCode(fault.CodeUpstreamBadStatus)}))
	m := newTestManager(gen, 3)

	id, _ := m.Create()
	events := drain(t, m.Send(context.Background(), id, "hello"))

	if len(events) != 1 || events[0] != relay.Error("boom") {
		t.Errorf("events = %v, want exactly [Error(boom)]", events)
	}
	if s, _ := m.Get(id); len(s.History) != 0 {
		t.Errorf("History = %v, want untouched", s.History)
	}
	if m.Busy() {
		t.Error("Busy() = true after failure")
	}
}

func TestSend_GenerateFailure(t *testing.T) {
	gen := &fakeGenerator{err: fault.New("upstream unavailable").WithCode(fault.CodeUpstreamUnavailable)}
	m := newTestManager(gen, 3)

	id, _ := m.Create()
	events := drain(t, m.Send(context.Background(), id, "hello"))
	if len(events) != 1 || events[0].Kind != relay.KindError {
		t.Errorf("events = %v, want one Error", events)
	}
}

func TestSend_NewGenerationCancelsPreviousOnce(t *testing.T) {
	gen := &fakeGenerator{}
	slow := newFakeGen(0)
	gen.push(slow)
	gen.push(scripted(step{text: "b"}))
	m := newTestManager(gen, 3)

	a, _ := m.Create()
	b, _ := m.Create()

	replyA := m.Send(context.Background(), a, "first")
	resultA := make(chan []relay.Event)
	go func() { resultA <- readAll(replyA) }()
	waitFor(t, m.Busy)

	eventsB := drain(t, m.Send(context.Background(), b, "second"))
	eventsA := <-resultA
	replyA.Close()

	if slow.cancels.Load() != 1 {
		t.Errorf("cancellations of previous = %v, want 1", slow.cancels.Load())
	}
	if len(eventsA) != 1 || eventsA[0] != relay.Interrupted() {
		t.Errorf("events A = %v, want [Interrupted]", eventsA)
	}
	if eventsB[len(eventsB)-1] != relay.Done() {
		t.Errorf("events B = %v, want Done last", eventsB)
	}
	if s, _ := m.Get(a); len(s.History) != 0 {
		t.Errorf("history A = %v, want untouched", s.History)
	}
	if s, _ := m.Get(b); len(s.History) != 2 {
		t.Errorf("history B = %v, want one turn", s.History)
	}
}

func TestInterruptCurrent(t *testing.T) {
	gen := &fakeGenerator{}
	slow := newFakeGen(0)
	gen.push(slow)
	m := newTestManager(gen, 3)

	// No-op without a current generation
	m.InterruptCurrent()

	id, _ := m.Create()
	reply := m.Send(context.Background(), id, "hello")
	done := make(chan []relay.Event)
	go func() { done <- readAll(reply) }()
	waitFor(t, m.Busy)

	m.InterruptCurrent()
	m.InterruptCurrent()

	events := <-done
	if len(events) != 1 || events[0] != relay.Interrupted() {
		t.Errorf("events = %v, want [Interrupted]", events)
	}
	if slow.cancels.Load() != 1 {
		t.Errorf("cancellations = %v, want 1", slow.cancels.Load())
	}
	if m.Busy() {
		t.Error("Busy() = true after interrupt")
	}
}

func TestRelayDisconnectMidStream(t *testing.T) {
	gen := &fakeGenerator{}
	live := newFakeGen(1)
	live.steps <- step{text: "par"}
	gen.push(live)
	m := newTestManager(gen, 3)

	id, _ := m.Create()
	reply := m.Send(context.Background(), id, "hello")

	out := &sliceWriter{}
	ctx, cancel := context.WithCancel(context.Background())
	r := relay.New(relay.Options{KeepaliveInterval: time.Second, Interrupter: m, Logger: logging.Discard()})

	done := make(chan relay.Result)
	go func() { done <- r.Stream(ctx, out, reply) }()

	waitFor(t, func() bool { return out.len() == 1 })
	cancel()
	res := <-done

	if !res.Disconnected || !res.Interrupted {
		t.Errorf("Result = %+v, want disconnected and interrupted", res)
	}
	if live.cancels.Load() != 1 {
		t.Errorf("cancellations = %v, want 1", live.cancels.Load())
	}
	if out.len() != 1 {
		t.Errorf("frames = %v, want 1", out.len())
	}
	if s, _ := m.Get(id); len(s.History) != 0 {
		t.Errorf("History = %v, want no partial reply", s.History)
	}
	if m.Busy() {
		t.Error("Busy() = true after disconnect")
	}
}

func TestRelayDisconnectAfterReplacementSparesNewTurn(t *testing.T) {
	gen := &fakeGenerator{}
	genA := newFakeGen(1)
	genA.steps <- step{text: "a"}
	genB := newFakeGen(1)
	genB.steps <- step{text: "b"}
	gen.push(genA)
	gen.push(genB)
	m := newTestManager(gen, 3)

	a, _ := m.Create()
	b, _ := m.Create()

	out := &gatedWriter{open: 1, gate: make(chan struct{})}
	ctx, cancel := context.WithCancel(context.Background())
	r := relay.New(relay.Options{KeepaliveInterval: time.Second, Interrupter: m, Logger: logging.Discard()})

	done := make(chan relay.Result)
	go func() { done <- r.Stream(ctx, out, m.Send(context.Background(), a, "first")) }()
	waitFor(t, func() bool { return out.written() == 1 })

	// B's first token installs B and cancels A; A's Interrupted frame is
	// held in the writer until A's client has gone
	replyB := m.Send(context.Background(), b, "second")
	if ev, _ := replyB.Next(); ev != relay.Token("b") {
		t.Fatalf("first event B = %v, want token", ev)
	}
	waitFor(t, out.waiting)
	cancel()
	close(out.gate)
	res := <-done

	if !res.Disconnected {
		t.Errorf("Result = %+v, want disconnected", res)
	}
	if res.Interrupted {
		t.Errorf("Result = %+v, want no interrupt of the replacing turn", res)
	}
	if genB.cancels.Load() != 0 {
		t.Errorf("cancellations B = %v, want 0", genB.cancels.Load())
	}
	if !m.Busy() {
		t.Error("Busy() = false, want B still current")
	}

	close(genB.steps)
	events := drain(t, replyB)
	if events[len(events)-1] != relay.Done() {
		t.Errorf("events B = %v, want Done last", events)
	}
	if s, _ := m.Get(b); len(s.History) != 2 {
		t.Errorf("history B = %v, want one turn", s.History)
	}
}

func TestReply_CloseBeforeStart(t *testing.T) {
	gen := &fakeGenerator{}
	m := newTestManager(gen, 3)

	reply := m.Send(context.Background(), "x", "hello")
	reply.Close()

	events := drain(t, reply)
	if len(events) != 1 || events[0] != relay.Interrupted() {
		t.Errorf("events = %v, want [Interrupted]", events)
	}
	if len(gen.prompts) != 0 {
		t.Errorf("Generate called %d times, want 0", len(gen.prompts))
	}
}

func TestStoreFailureDoesNotAffectTurn(t *testing.T) {
	gen := &fakeGenerator{}
	gen.push(scripted(step{text: "hi"}))
	m := NewManager(gen, Options{Logger: logging.Discard(), Store: &memoryStore{err: errors.New("disk full")}})

	id, _ := m.Create()
	events := drain(t, m.Send(context.Background(), id, "hello"))
	if events[len(events)-1] != relay.Done() {
		t.Errorf("last event = %v, want Done", events[len(events)-1])
	}
	if s, _ := m.Get(id); len(s.History) != 2 {
		t.Errorf("History = %v, want one turn", s.History)
	}
}

func TestBuildPrompt(t *testing.T) {
	history := []Message{{RoleUser, "a"}, {RoleAssistant, "b"}}
	if got := BuildPrompt(history, "c"); got != "User: a\nAssistant: b\nUser: c\n" {
		t.Errorf("BuildPrompt() = %q", got)
	}
	if got := BuildPrompt(nil, "c"); got != "User: c\n" {
		t.Errorf("BuildPrompt(nil) = %q", got)
	}
}

type sliceWriter struct {
	mu     sync.Mutex
	events []relay.Event
}

func (w *sliceWriter) WriteEvent(ev relay.Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, ev)
	return nil
}

func (w *sliceWriter) len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.events)
}

// gatedWriter accepts the first open frames; later writes wait for gate
// and then fail as if the client had gone
type gatedWriter struct {
	open    int
	gate    chan struct{}
	mu      sync.Mutex
	count   int
	blocked bool
}

func (w *gatedWriter) WriteEvent(ev relay.Event) error {
	w.mu.Lock()
	if w.count < w.open {
		w.count++
		w.mu.Unlock()
		return nil
	}
	w.blocked = true
	w.mu.Unlock()

	<-w.gate
	return errors.New("client gone")
}

func (w *gatedWriter) written() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

func (w *gatedWriter) waiting() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.blocked
}
