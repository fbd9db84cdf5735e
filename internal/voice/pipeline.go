// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     voice
// Description: Capture, segmentation and wake gating as one pipeline
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

// DefaultQueueSize bounds the capture to consumer channel
const DefaultQueueSize = 32

// deliverTimeout bounds one sink delivery
const deliverTimeout = 5 * time.Second

// ErrRunning is returned by Start on a running pipeline
var ErrRunning = fault.New("voice capture already running").WithCode(fault.CodeCaptureFailed)

// Sink receives forwarded utterances
type Sink interface {
	Forward(ctx context.Context, text string) error
}

// ErrorSink is implemented by sinks that also surface recognizer errors
type ErrorSink interface {
	Fail(err error)
}

// StateSink is implemented by sinks that track whether capture runs
type StateSink interface {
	SetActive(active bool)
}

// Observer receives pipeline notifications. Every callback is optional
// and runs on the consumer goroutine, except OnState. Callbacks must not
// call back into the pipeline.
type Observer struct {
	OnState       func(running bool)
	OnRecognition func(r Recognition)
	OnDecision    func(utterance string, d Decision)
	OnError       func(err error)
}

// RestartPolicy bounds listener restarts after service errors
type RestartPolicy struct {
	MaxRestarts int
	Delay       time.Duration
	MaxBackoff  time.Duration
}

// DefaultRestartPolicy returns three restarts starting at one second
func DefaultRestartPolicy() RestartPolicy {
	return RestartPolicy{MaxRestarts: 3, Delay: time.Second, MaxBackoff: 10 * time.Second}
}

// Backoff returns the delay before restart attempt n, counting from 1
func (p RestartPolicy) Backoff(n int) time.Duration {
	d := p.Delay
	for i := 1; i < n; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		return p.MaxBackoff
	}
	return d
}

// Config configures a Pipeline
type Config struct {
	Listener          Listener
	SilenceTimeout    time.Duration
	FragmentSeparator string
	Gate              GateRules
	QueueSize         int
	Restart           RestartPolicy
	Sinks             []Sink
	Observer          Observer
	Logger            *logging.Logger
	Now               func() time.Time
}

// Pipeline runs a listener on a capture goroutine and feeds its
// observations through a bounded channel to a consumer goroutine that
// owns the segmenter and the gate.
type Pipeline struct {
	cfg    Config
	logger *logging.Logger

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	done    chan struct{}
	err     error
	gate    *Gate
}

// NewPipeline creates a stopped pipeline
func NewPipeline(cfg Config) *Pipeline {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.SilenceTimeout <= 0 {
		cfg.SilenceTimeout = DefaultSilenceTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("voice")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	done := make(chan struct{})
	close(done)
	return &Pipeline{cfg: cfg, logger: cfg.Logger, done: done, gate: NewGate(cfg.Gate)}
}

// Start initializes the listener and launches both goroutines. The
// pipeline runs until Stop, until ctx ends, or until the listener fails
// for good.
func (p *Pipeline) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return ErrRunning
	}
	if p.cfg.Listener == nil {
		return fault.New("no listener configured").WithCode(fault.CodeInvalidConfig)
	}
	if err := p.cfg.Listener.Initialize(ctx); err != nil {
		p.cfg.Listener.Cleanup()
		p.logger.Error("listener initialization failed", "error", err)
		return fault.Wrap(err, "failed to start voice capture")
	}

	runCtx, cancel := context.WithCancel(ctx)
	queue := make(chan Recognition, p.cfg.QueueSize)
	seg := NewSegmenter(p.cfg.SilenceTimeout, p.cfg.FragmentSeparator, p.cfg.Now)
	p.gate = NewGate(p.cfg.Gate)

	p.running = true
	p.cancel = cancel
	p.done = make(chan struct{})
	p.err = nil
	p.setActive(true)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		p.capture(runCtx, queue)
	}()
	go func() {
		defer wg.Done()
		p.consume(queue, seg)
	}()

	done := p.done
	go func() {
		wg.Wait()
		cancel()
		p.mu.Lock()
		p.running = false
		p.mu.Unlock()
		p.setActive(false)
		p.logger.Info("voice capture stopped")
		close(done)
	}()

	p.logger.Info("voice capture started", "queue", p.cfg.QueueSize, "silence_timeout", p.cfg.SilenceTimeout)
	return nil
}

// Stop cancels capture and waits until the final utterance has been
// flushed through the gate. It is a no-op on a stopped pipeline.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	<-done
}

// Running reports whether capture is active
func (p *Pipeline) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

// Done is closed when the current run has fully stopped
func (p *Pipeline) Done() <-chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.done
}

// Err returns the failure that stopped the last run, if any
func (p *Pipeline) Err() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

// GateActive reports whether the wake gate currently forwards
func (p *Pipeline) GateActive() bool {
	p.mu.Lock()
	g := p.gate
	p.mu.Unlock()
	return g.Active()
}

// capture runs the listener and applies the restart policy. It owns the
// listener and closes queue when it returns.
func (p *Pipeline) capture(ctx context.Context, queue chan<- Recognition) {
	defer close(queue)
	defer p.cfg.Listener.Cleanup()

	restarts := 0
	for {
		r, err := p.cfg.Listener.Listen(ctx)
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, io.EOF) {
				p.fail(fault.Wrap(err, "listener failed").WithCode(fault.CodeCaptureFailed))
			}
			return
		}
		if r.At.IsZero() {
			r.At = p.cfg.Now()
		}

		select {
		case queue <- r:
		case <-ctx.Done():
			return
		}

		if r.Kind != KindServiceError {
			restarts = 0
			continue
		}

		restarts++
		if restarts > p.cfg.Restart.MaxRestarts {
			p.fail(fault.Wrap(r.Err, "recognizer kept failing, giving up").
				WithCode(fault.CodeRecognizerService).
				WithDetail("restarts", restarts-1))
			return
		}

		delay := p.cfg.Restart.Backoff(restarts)
		p.logger.Warn("restarting listener", "attempt", restarts, "delay", delay, "error", r.Err)
		p.cfg.Listener.Cleanup()

		timer := time.NewTimer(delay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}

		if err := p.cfg.Listener.Initialize(ctx); err != nil {
			if ctx.Err() == nil {
				p.fail(fault.Wrap(err, "listener restart failed").WithCode(fault.CodeRecognizerService))
			}
			return
		}
	}
}

// fail records the error that ends the run
func (p *Pipeline) fail(err error) {
	p.mu.Lock()
	p.err = err
	p.mu.Unlock()
	p.logger.Error("voice capture stopped on error", "error", err)
}

// consume segments observations, gates utterances and delivers them. It
// returns after the queue is closed and the buffer has been flushed.
func (p *Pipeline) consume(queue <-chan Recognition, seg *Segmenter) {
	idle := time.NewTimer(seg.Timeout())
	defer idle.Stop()

	for {
		select {
		case r, ok := <-queue:
			if !ok {
				p.finish(seg)
				return
			}
			if p.cfg.Observer.OnRecognition != nil {
				p.cfg.Observer.OnRecognition(r)
			}
			p.handle(seg.Observe(r))

		case <-idle.C:
			p.handle(seg.Observe(NoSpeech(p.cfg.Now())))
		}

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(seg.Remaining())
	}
}

// finish flushes what is left and reports a terminal failure
func (p *Pipeline) finish(seg *Segmenter) {
	if text, ok := seg.Flush(); ok {
		p.logger.Info("flushing final utterance", "chars", len(text))
		p.handle([]Output{{Kind: OutputUtterance, Text: text}})
	}
	if err := p.Err(); err != nil {
		p.handle([]Output{{Kind: OutputError, Err: err}})
	}
}

func (p *Pipeline) handle(outputs []Output) {
	for _, out := range outputs {
		switch out.Kind {
		case OutputUtterance:
			p.route(out.Text)
		case OutputError:
			p.report(out.Err)
		}
	}
}

// route passes one utterance through the gate and on to the sinks
func (p *Pipeline) route(utterance string) {
	p.mu.Lock()
	g := p.gate
	p.mu.Unlock()

	d := g.Apply(utterance)
	if p.cfg.Observer.OnDecision != nil {
		p.cfg.Observer.OnDecision(utterance, d)
	}

	switch {
	case d.Woke:
		p.logger.Info("wake word detected", "utterance", utterance)
	case d.Dismissed:
		p.logger.Info("dismissed", "utterance", utterance)
	}
	if !d.OK {
		p.logger.Debug("utterance suppressed", "utterance", utterance, "active", d.State.Active)
		return
	}

	p.logger.Info("forwarding utterance", "text", d.Forwarded)
	for _, sink := range p.cfg.Sinks {
		ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
		if err := sink.Forward(ctx, d.Forwarded); err != nil {
			p.logger.Error("sink delivery failed", "error", err)
		}
		cancel()
	}
}

// report surfaces a recognizer or capture error
func (p *Pipeline) report(err error) {
	if err == nil {
		return
	}
	p.logger.Warn("recognition error", "error", err)
	if p.cfg.Observer.OnError != nil {
		p.cfg.Observer.OnError(err)
	}
	for _, sink := range p.cfg.Sinks {
		if es, ok := sink.(ErrorSink); ok {
			es.Fail(err)
		}
	}
}

func (p *Pipeline) setActive(active bool) {
	for _, sink := range p.cfg.Sinks {
		if ss, ok := sink.(StateSink); ok {
			ss.SetActive(active)
		}
	}
	if p.cfg.Observer.OnState != nil {
		p.cfg.Observer.OnState(active)
	}
}
