// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     audio
// Description: Microphone capture using PortAudio
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package audio

import (
	"context"
	"sync"

	"github.com/gordonklaus/portaudio"

	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

const (
	// DefaultSampleRate matches what the recognizer expects
	DefaultSampleRate = 16000

	// DefaultFramesPerBuffer is 30ms at 16kHz, a valid VAD frame
	DefaultFramesPerBuffer = 480

	// DefaultDevice selects the system default input
	DefaultDevice = "default"
)

// Config holds capture settings
type Config struct {
	SampleRate      int
	FramesPerBuffer int
	DeviceName      string
	Logger          *logging.Logger
}

// DefaultConfig returns the default capture configuration
func DefaultConfig() Config {
	return Config{
		SampleRate:      DefaultSampleRate,
		FramesPerBuffer: DefaultFramesPerBuffer,
		DeviceName:      DefaultDevice,
	}
}

// Capture reads mono float32 frames from an input device
type Capture struct {
	mu          sync.RWMutex
	stream      *portaudio.Stream
	cfg         Config
	running     bool
	initialized bool
	frames      chan []float32
	dropped     int
	done        chan struct{}
	logger      *logging.Logger
}

// NewCapture initializes PortAudio and prepares a capture
func NewCapture(cfg Config) (*Capture, error) {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = DefaultSampleRate
	}
	if cfg.FramesPerBuffer <= 0 {
		cfg.FramesPerBuffer = DefaultFramesPerBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New("audio")
	}

	if err := portaudio.Initialize(); err != nil {
		return nil, fault.Wrap(err, "failed to initialize PortAudio").WithCode(fault.CodeCaptureFailed)
	}

	return &Capture{
		cfg:         cfg,
		initialized: true,
		logger:      cfg.Logger,
	}, nil
}

// Start opens the input stream and begins reading frames. Frames are
// delivered on Frames until ctx is cancelled or Stop is called.
func (c *Capture) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fault.New("capture already running").WithCode(fault.CodeCaptureFailed)
	}

	buffer := make([]float32, c.cfg.FramesPerBuffer)
	stream, err := c.open(buffer)
	if err != nil {
		return fault.Wrap(err, "failed to open audio stream").WithCode(fault.CodeCaptureFailed)
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return fault.Wrap(err, "failed to start audio stream").WithCode(fault.CodeCaptureFailed)
	}

	c.stream = stream
	c.running = true
	c.frames = make(chan []float32, 64)
	c.done = make(chan struct{})
	c.dropped = 0

	go c.readLoop(ctx, stream, buffer, c.frames, c.done)
	c.logger.Info("capture started", "device", c.cfg.DeviceName, "sample_rate", c.cfg.SampleRate)
	return nil
}

// open selects the configured device, falling back to the default input
func (c *Capture) open(buffer []float32) (*portaudio.Stream, error) {
	rate := float64(c.cfg.SampleRate)
	if c.cfg.DeviceName != "" && c.cfg.DeviceName != DefaultDevice {
		device, err := findInputDevice(c.cfg.DeviceName)
		if err == nil {
			params := portaudio.StreamParameters{
				Input: portaudio.StreamDeviceParameters{
					Device:   device,
					Channels: 1,
					Latency:  device.DefaultLowInputLatency,
				},
				SampleRate:      rate,
				FramesPerBuffer: c.cfg.FramesPerBuffer,
			}
			return portaudio.OpenStream(params, buffer)
		}
		c.logger.Warn("input device not found, using default", "device", c.cfg.DeviceName)
	}
	return portaudio.OpenDefaultStream(1, 0, rate, c.cfg.FramesPerBuffer, buffer)
}

func findInputDevice(name string) (*portaudio.DeviceInfo, error) {
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fault.Newf("device not found: %s", name)
}

func (c *Capture) readLoop(ctx context.Context, stream *portaudio.Stream, buffer []float32, out chan []float32, done chan struct{}) {
	defer close(done)
	defer close(out)

	for {
		if ctx.Err() != nil || !c.IsRunning() {
			return
		}
		if err := stream.Read(); err != nil {
			if !c.IsRunning() {
				return
			}
			// Input overflow is recoverable; anything else ends the capture
			if err == portaudio.InputOverflowed {
				continue
			}
			c.logger.Error("audio read failed", "error", err)
			return
		}

		frame := make([]float32, len(buffer))
		copy(frame, buffer)

		select {
		case out <- frame:
		case <-ctx.Done():
			return
		default:
			c.mu.Lock()
			c.dropped++
			c.mu.Unlock()
		}
	}
}

// Frames returns the channel of captured frames. It is closed when
// reading stops.
func (c *Capture) Frames() <-chan []float32 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.frames
}

// Stop stops the stream and waits for the reader to exit
func (c *Capture) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	stream := c.stream
	done := c.done
	c.stream = nil
	dropped := c.dropped
	c.mu.Unlock()

	stopErr := stream.Stop()
	if done != nil {
		<-done
	}
	if err := stream.Close(); err != nil {
		return fault.Wrap(err, "failed to close audio stream").WithCode(fault.CodeCaptureFailed)
	}
	if stopErr != nil {
		c.logger.Warn("audio stream stop reported an error", "error", stopErr)
	}
	c.logger.Info("capture stopped", "dropped_frames", dropped)
	return nil
}

// Close stops capture and terminates PortAudio
func (c *Capture) Close() error {
	if err := c.Stop(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.initialized {
		c.initialized = false
		if err := portaudio.Terminate(); err != nil {
			return fault.Wrap(err, "failed to terminate PortAudio").WithCode(fault.CodeCaptureFailed)
		}
	}
	return nil
}

// IsRunning reports whether the stream is open
func (c *Capture) IsRunning() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.running
}

// SampleRate returns the capture rate in Hz
func (c *Capture) SampleRate() int {
	return c.cfg.SampleRate
}
