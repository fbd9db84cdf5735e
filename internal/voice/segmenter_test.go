package voice

import (
	"errors"
	"sync"
	"testing"
	"time"
)

// fakeClock is a manually advanced clock
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func utterances(out []Output) []string {
	var texts []string
	for _, o := range out {
		if o.Kind == OutputUtterance {
			texts = append(texts, o.Text)
		}
	}
	return texts
}

func TestSegmenter_FlushAfterSilence(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(time.Second, "", clock.Now)

	s.Observe(Fragment("小明同学", 0.9, clock.Now()))
	clock.Advance(500 * time.Millisecond)
	s.Observe(Fragment("你好", 0.9, clock.Now()))

	clock.Advance(900 * time.Millisecond)
	if out := s.Observe(NoSpeech(clock.Now())); len(out) != 0 {
		t.Fatalf("Observe(NoSpeech) before timeout = %v, want nothing", out)
	}

	clock.Advance(100 * time.Millisecond)
	out := s.Observe(NoSpeech(clock.Now()))
	if got := utterances(out); len(got) != 1 || got[0] != "小明同学你好" {
		t.Fatalf("utterances = %v, want [小明同学你好]", got)
	}

	// Exactly once per gap
	clock.Advance(5 * time.Second)
	if out := s.Observe(NoSpeech(clock.Now())); len(out) != 0 {
		t.Errorf("second flush = %v, want nothing", out)
	}
}

func TestSegmenter_NeverLengthGated(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(time.Second, " ", clock.Now)

	for i := 0; i < 200; i++ {
		clock.Advance(900 * time.Millisecond)
		if out := s.Observe(Fragment("word", 1, clock.Now())); len(out) != 0 {
			t.Fatalf("fragment %d flushed %v", i, out)
		}
		if out := s.Tick(); len(out) != 0 {
			t.Fatalf("tick %d flushed %v", i, out)
		}
	}
	if !s.Pending() {
		t.Error("Pending() = false, want true")
	}
}

func TestSegmenter_TransientFlushesFirst(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(time.Second, "", clock.Now)
	s.Observe(Fragment("hello", 1, clock.Now()))
	clock.Advance(2 * time.Second)

	boom := errors.New("boom")
	out := s.Observe(Transient(boom, clock.Now()))
	if len(out) != 2 {
		t.Fatalf("outputs = %v, want utterance then error", out)
	}
	if out[0].Kind != OutputUtterance || out[0].Text != "hello" {
		t.Errorf("out[0] = %+v, want utterance hello", out[0])
	}
	if out[1].Kind != OutputError || out[1].Err != boom {
		t.Errorf("out[1] = %+v, want error boom", out[1])
	}
}

func TestSegmenter_TransientKeepsBufferBeforeTimeout(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(time.Second, "", clock.Now)
	s.Observe(Fragment("hel", 1, clock.Now()))

	out := s.Observe(Transient(errors.New("glitch"), clock.Now()))
	if len(out) != 1 || out[0].Kind != OutputError {
		t.Fatalf("outputs = %v, want only the error", out)
	}
	if !s.Pending() {
		t.Error("buffer was flushed before the timeout")
	}
}

func TestSegmenter_NeverEmitsBlank(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(time.Second, "", clock.Now)

	s.Observe(Fragment("   ", 1, clock.Now()))
	if s.Pending() {
		t.Error("blank fragment was buffered")
	}
	clock.Advance(2 * time.Second)
	if out := s.Tick(); len(out) != 0 {
		t.Errorf("Tick() = %v, want nothing", out)
	}
	if _, ok := s.Flush(); ok {
		t.Error("Flush() of empty buffer reported ok")
	}
}

func TestSegmenter_FlushIsUnconditional(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(time.Minute, "-", clock.Now)
	s.Observe(Fragment("a", 1, clock.Now()))
	s.Observe(Fragment("b", 1, clock.Now()))

	text, ok := s.Flush()
	if !ok || text != "a-b" {
		t.Errorf("Flush() = %q, %v, want a-b, true", text, ok)
	}
	if s.Pending() {
		t.Error("Pending() after Flush = true")
	}
}

func TestSegmenter_Remaining(t *testing.T) {
	clock := newFakeClock()
	s := NewSegmenter(time.Second, "", clock.Now)

	if got := s.Remaining(); got != time.Second {
		t.Errorf("Remaining() idle = %v, want 1s", got)
	}
	s.Observe(Fragment("x", 1, clock.Now()))
	clock.Advance(300 * time.Millisecond)
	if got := s.Remaining(); got != 700*time.Millisecond {
		t.Errorf("Remaining() = %v, want 700ms", got)
	}
	clock.Advance(time.Second)
	if got := s.Remaining(); got != 0 {
		t.Errorf("Remaining() overdue = %v, want 0", got)
	}
}
