package cmd

import (
	"github.com/msto63/wake/internal/dialogue"
	"github.com/msto63/wake/internal/store"
	"github.com/msto63/wake/internal/upstream"
	"github.com/msto63/wake/internal/voice"
	"github.com/msto63/wake/internal/voice/audio"
	"github.com/msto63/wake/internal/voice/stt"
	"github.com/msto63/wake/internal/voice/vad"
	"github.com/msto63/wake/pkg/core/config"
	"github.com/msto63/wake/pkg/core/logging"
)

// openStore opens the transcript store when it is enabled
func openStore(cfg *config.Config) (*store.Transcripts, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	return store.Open(store.Config{Path: cfg.Store.Path})
}

// newManager wires the dialogue manager to the upstream model server
func newManager(cfg *config.Config, st *store.Transcripts) *dialogue.Manager {
	client := upstream.NewClient(upstream.Config{
		Endpoint:       cfg.Upstream.URL,
		Model:          cfg.Upstream.Model,
		ConnectTimeout: cfg.Upstream.ConnectTimeout.Duration,
		AbortTimeout:   cfg.Upstream.AbortTimeout.Duration,
		Logger:         logging.New("upstream"),
	})

	opts := dialogue.Options{
		MaxSessions: cfg.Dialogue.MaxSessions,
		Logger:      logging.New("dialogue"),
	}
	if st != nil {
		opts.Store = st
	}
	return dialogue.NewManager(dialogue.Backend(client), opts)
}

// newListener builds the configured listener kind
func newListener(cfg *config.Config, kind string) (voice.Listener, error) {
	v := cfg.Voice
	lc := voice.ListenerConfig{
		Kind:   kind,
		Logger: logging.New("listener").With("kind", kind),
	}
	if kind == voice.ListenerMicrophone {
		lc.Capture = audio.Config{
			SampleRate:      v.SampleRate,
			FramesPerBuffer: v.FramesPerBuffer,
			DeviceName:      v.InputDevice,
		}
		vc := vad.DefaultConfig()
		vc.SampleRate = v.SampleRate
		vc.Mode = v.VADMode
		lc.VAD = vc
		lc.Recognizer = stt.NewWhisperHTTP(stt.Config{
			URL:        v.RecognizerURL,
			Language:   v.Language,
			SampleRate: v.SampleRate,
		})
		lc.PhraseLimit = v.PhraseLimit.Duration
		lc.ListenWindow = v.ListenWindow.Duration
	}
	return voice.NewListener(lc)
}

// pipelineConfig maps the voice section onto a pipeline configuration
func pipelineConfig(cfg *config.Config, listener voice.Listener, sinks []voice.Sink, obs voice.Observer) voice.Config {
	v := cfg.Voice
	return voice.Config{
		Listener:          listener,
		SilenceTimeout:    v.SilenceTimeout.Duration,
		FragmentSeparator: v.FragmentSeparator,
		Gate: voice.GateRules{
			WakeWord:     v.WakeWord,
			DismissWords: v.DismissWords,
		},
		QueueSize: v.QueueSize,
		Restart: voice.RestartPolicy{
			MaxRestarts: v.MaxRestarts,
			Delay:       v.RestartDelay.Duration,
			MaxBackoff:  v.MaxBackoff.Duration,
		},
		Sinks:    sinks,
		Observer: obs,
		Logger:   logging.New("voice"),
	}
}
