package voice

import (
	"bufio"
	"context"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/msto63/wake/pkg/core/fault"
)

// StdinListener treats each input line as one recognized fragment. An
// empty line is a no-speech observation. A line starting with "!" is a
// transient recognizer failure and "!!" a service failure.
//
// One reader goroutine at a time owns the scanner. After Cleanup it exits
// at its next hand-off and keeps the undelivered line for the next run. A
// reader blocked on input exits once that input arrives.
type StdinListener struct {
	in  io.Reader
	now func() time.Time

	mu      sync.Mutex
	scanner *bufio.Scanner
	run     *stdinRun
	reading bool
	pending *string
	err     error // terminal read error, io.EOF at end of input
}

// stdinRun is the span between Initialize and Cleanup
type stdinRun struct {
	lines chan string
	stop  chan struct{}
}

// NewStdinListener creates a listener reading from in
func NewStdinListener(in io.Reader, now func() time.Time) *StdinListener {
	if now == nil {
		now = time.Now
	}
	return &StdinListener{in: in, now: now, scanner: bufio.NewScanner(in)}
}

// Initialize starts a run. The input and any undelivered line carry over
// from the previous run.
func (l *StdinListener) Initialize(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.run != nil {
		return nil
	}
	l.run = &stdinRun{lines: make(chan string), stop: make(chan struct{})}
	switch {
	case l.err != nil && l.pending == nil:
		close(l.run.lines)
	case !l.reading:
		l.reading = true
		go l.read()
	}
	return nil
}

// read scans lines and hands each one to the current run
func (l *StdinListener) read() {
	for {
		l.mu.Lock()
		if l.run == nil {
			l.reading = false
			l.mu.Unlock()
			return
		}
		line := l.pending
		l.pending = nil
		l.mu.Unlock()

		if line == nil {
			if !l.scanner.Scan() {
				l.finish()
				return
			}
			text := l.scanner.Text()
			line = &text
		}
		if !l.deliver(*line) {
			return
		}
	}
}

// deliver hands line to the current run. It returns false when the run
// was cleaned up and no new run took over; the line is then kept.
func (l *StdinListener) deliver(line string) bool {
	for {
		l.mu.Lock()
		run := l.run
		if run == nil {
			l.pending = &line
			l.reading = false
			l.mu.Unlock()
			return false
		}
		l.mu.Unlock()

		select {
		case run.lines <- line:
			return true
		case <-run.stop:
		}
	}
}

// finish records the end of input and ends the current run
func (l *StdinListener) finish() {
	err := l.scanner.Err()
	if err == nil {
		err = io.EOF
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = err
	l.reading = false
	if l.run != nil {
		close(l.run.lines)
	}
}

// Listen returns the observation for the next line
func (l *StdinListener) Listen(ctx context.Context) (Recognition, error) {
	l.mu.Lock()
	run := l.run
	l.mu.Unlock()
	if run == nil {
		return Recognition{}, fault.New("listener not initialized").WithCode(fault.CodeCaptureFailed)
	}

	select {
	case <-ctx.Done():
		return Recognition{}, ctx.Err()
	case line, ok := <-run.lines:
		if !ok {
			l.mu.Lock()
			defer l.mu.Unlock()
			return Recognition{}, l.err
		}
		return l.parse(line), nil
	}
}

func (l *StdinListener) parse(line string) Recognition {
	now := l.now()
	switch {
	case strings.HasPrefix(line, "!!"):
		return ServiceFailure(fault.New(strings.TrimSpace(line[2:])).WithCode(fault.CodeRecognizerService), now)
	case strings.HasPrefix(line, "!"):
		return Transient(fault.New(strings.TrimSpace(line[1:])).WithCode(fault.CodeRecognizerTransient), now)
	case strings.TrimSpace(line) == "":
		return NoSpeech(now)
	default:
		return Fragment(line, 1, now)
	}
}

// Cleanup ends the current run and releases the reader. The input stays
// open for a restart.
func (l *StdinListener) Cleanup() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.run != nil {
		close(l.run.stop)
		l.run = nil
	}
	return nil
}
