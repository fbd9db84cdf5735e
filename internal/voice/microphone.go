package voice

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/msto63/wake/internal/voice/audio"
	"github.com/msto63/wake/internal/voice/stt"
	"github.com/msto63/wake/internal/voice/vad"
	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

// preRoll is kept ahead of detected speech so onsets are not clipped
const preRoll = 300 * time.Millisecond

// microphone captures phrases with PortAudio, delimits them with the
// WebRTC VAD and hands each phrase to the recognizer.
type microphone struct {
	cfg    ListenerConfig
	logger *logging.Logger

	mu       sync.Mutex
	capture  *audio.Capture
	detector vad.Detector
	cancel   context.CancelFunc
}

func newMicrophone(cfg ListenerConfig) *microphone {
	if cfg.PhraseLimit <= 0 {
		cfg.PhraseLimit = 10 * time.Second
	}
	if cfg.ListenWindow <= 0 {
		cfg.ListenWindow = 500 * time.Millisecond
	}
	if cfg.Capture.SampleRate <= 0 {
		cfg.Capture.SampleRate = audio.DefaultSampleRate
	}
	cfg.VAD.SampleRate = cfg.Capture.SampleRate
	if cfg.VAD.EndSilence <= 0 {
		cfg.VAD.EndSilence = vad.DefaultConfig().EndSilence
	}
	if cfg.VAD.MinSpeech <= 0 {
		cfg.VAD.MinSpeech = vad.DefaultConfig().MinSpeech
	}
	cfg.Capture.Logger = cfg.Logger
	return &microphone{cfg: cfg, logger: cfg.Logger}
}

// Initialize opens the input device and the detector
func (m *microphone) Initialize(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capture != nil {
		return nil
	}

	detector, err := vad.NewWebRTC(m.cfg.VAD)
	if err != nil {
		return err
	}
	capture, err := audio.NewCapture(m.cfg.Capture)
	if err != nil {
		detector.Close()
		return err
	}

	captureCtx, cancel := context.WithCancel(context.Background())
	if err := capture.Start(captureCtx); err != nil {
		cancel()
		capture.Close()
		detector.Close()
		return err
	}

	m.capture = capture
	m.detector = detector
	m.cancel = cancel
	m.logger.Info("microphone ready",
		"device", m.cfg.Capture.DeviceName,
		"phrase_limit", m.cfg.PhraseLimit,
		"listen_window", m.cfg.ListenWindow)
	return nil
}

// Listen waits up to the listen window for speech. Without speech it
// reports no-speech; otherwise it records until the phrase ends or the
// phrase limit is reached and returns the recognizer's verdict.
func (m *microphone) Listen(ctx context.Context) (Recognition, error) {
	m.mu.Lock()
	capture, detector := m.capture, m.detector
	m.mu.Unlock()
	if capture == nil {
		return Recognition{}, fault.New("microphone not initialized").WithCode(fault.CodeCaptureFailed)
	}

	rate := capture.SampleRate()
	frames := capture.Frames()
	tracker := vad.NewTracker(m.cfg.VAD)
	ring := audio.NewRingBuffer(int(preRoll.Seconds() * float64(rate)))
	phrase := audio.NewPhrase(int(m.cfg.PhraseLimit.Seconds() * float64(rate)))

	var waited time.Duration
	for {
		var frame []float32
		select {
		case <-ctx.Done():
			return Recognition{}, ctx.Err()
		case f, ok := <-frames:
			if !ok {
				return ServiceFailure(fault.New("audio stream closed").WithCode(fault.CodeCaptureFailed), m.cfg.Now()), nil
			}
			frame = f
		}

		speech, err := detector.IsSpeech(frame)
		if err != nil {
			return Transient(err, m.cfg.Now()), nil
		}

		d := vad.FrameDuration(len(frame), rate)
		before := tracker.Phase()
		phase := tracker.Update(speech, d)

		if before == vad.PhaseSilence {
			if phase == vad.PhaseSilence {
				ring.Write(frame)
				waited += d
				if waited >= m.cfg.ListenWindow {
					return NoSpeech(m.cfg.Now()), nil
				}
				continue
			}
			phrase.Append(ring.Drain())
		}

		full := phrase.Append(frame)
		if phase == vad.PhaseEnded || full {
			m.logger.Debug("phrase captured", "seconds", audio.Duration(phrase.Len(), rate), "limit_reached", full)
			return m.recognize(ctx, phrase.Samples())
		}
	}
}

func (m *microphone) recognize(ctx context.Context, samples []float32) (Recognition, error) {
	res, err := m.cfg.Recognizer.Recognize(ctx, samples)
	now := m.cfg.Now()
	switch {
	case err == nil:
		return Fragment(res.Text, res.Confidence, now), nil
	case ctx.Err() != nil:
		return Recognition{}, ctx.Err()
	case errors.Is(err, stt.ErrNoMatch):
		return NoSpeech(now), nil
	case stt.IsServiceError(err):
		return ServiceFailure(err, now), nil
	default:
		return Transient(err, now), nil
	}
}

// Cleanup releases the device; it is safe to call more than once
func (m *microphone) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capture == nil {
		return nil
	}
	m.cancel()
	err := m.capture.Close()
	m.detector.Close()
	m.capture = nil
	m.detector = nil
	m.cancel = nil
	return err
}
