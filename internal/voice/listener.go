package voice

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/msto63/wake/internal/voice/audio"
	"github.com/msto63/wake/internal/voice/stt"
	"github.com/msto63/wake/internal/voice/vad"
	"github.com/msto63/wake/pkg/core/fault"
	"github.com/msto63/wake/pkg/core/logging"
)

// Listener kinds
const (
	ListenerMicrophone = "microphone"
	ListenerStdin      = "stdin"
)

// Listener produces recognizer observations. Listen blocks until one
// observation is available; an error ends listening for good. Initialize
// may be called again after Cleanup to restart.
type Listener interface {
	Initialize(ctx context.Context) error
	Listen(ctx context.Context) (Recognition, error)
	Cleanup() error
}

// ListenerConfig holds the inputs of every listener kind
type ListenerConfig struct {
	Kind string

	// Stdin
	Input io.Reader

	// Microphone
	Capture      audio.Config
	VAD          vad.Config
	Recognizer   stt.Recognizer
	PhraseLimit  time.Duration
	ListenWindow time.Duration

	Logger *logging.Logger
	Now    func() time.Time
}

// NewListener builds the listener selected by cfg.Kind
func NewListener(cfg ListenerConfig) (Listener, error) {
	if cfg.Logger == nil {
		cfg.Logger = logging.New("listener")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	switch cfg.Kind {
	case ListenerStdin:
		if cfg.Input == nil {
			cfg.Input = os.Stdin
		}
		return NewStdinListener(cfg.Input, cfg.Now), nil
	case ListenerMicrophone, "":
		if cfg.Recognizer == nil {
			return nil, fault.New("microphone listener needs a recognizer").WithCode(fault.CodeInvalidConfig)
		}
		return newMicrophone(cfg), nil
	default:
		return nil, fault.Newf("unknown listener kind %q", cfg.Kind).WithCode(fault.CodeInvalidConfig)
	}
}
