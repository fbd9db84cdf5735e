package voice

import (
	"context"

	"github.com/msto63/wake/internal/relay"
	"github.com/msto63/wake/pkg/core/logging"
)

// Controller runs one pipeline on demand and exposes its events to
// streaming clients. Closing an event stream stops capture.
type Controller struct {
	pipeline *Pipeline
	queue    *EventQueue
	logger   *logging.Logger
}

// NewController builds a pipeline from cfg with an event queue added to
// its sinks
func NewController(cfg Config) *Controller {
	if cfg.Logger == nil {
		cfg.Logger = logging.New("voice")
	}
	queue := NewEventQueue(cfg.QueueSize, cfg.Logger.With("sink", "events"))
	cfg.Sinks = append([]Sink{queue}, cfg.Sinks...)
	return &Controller{pipeline: NewPipeline(cfg), queue: queue, logger: cfg.Logger}
}

// Start begins capture. Starting a running controller is a no-op.
func (c *Controller) Start() error {
	if c.pipeline.Running() {
		return nil
	}
	c.queue.Reset()
	err := c.pipeline.Start(context.Background())
	if err == ErrRunning {
		return nil
	}
	return err
}

// Stop ends capture after the final flush
func (c *Controller) Stop() {
	c.pipeline.Stop()
}

// Running reports whether capture is active
func (c *Controller) Running() bool {
	return c.pipeline.Running()
}

// Events returns a relay source for the voice event stream
func (c *Controller) Events() relay.Source {
	return c.queue.Source(func() {
		if c.pipeline.Running() {
			c.logger.Info("event stream closed by client, stopping capture")
			c.pipeline.Stop()
		}
	})
}

// Pipeline returns the underlying pipeline
func (c *Controller) Pipeline() *Pipeline {
	return c.pipeline
}
