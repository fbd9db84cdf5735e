// ============================================================================
// Wake - Sprachgesteuerter Chat-Zugang
// ============================================================================
//
// Package:     cmd
// Description: Standalone wake word service
// Author:      Mike Stoffels
// Created:     2026-10-19
// License:     MIT
// ============================================================================

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/msto63/wake/internal/companion"
	"github.com/msto63/wake/internal/relay"
	"github.com/msto63/wake/internal/tui/monitor"
	"github.com/msto63/wake/internal/voice"
	"github.com/msto63/wake/pkg/core/config"
	"github.com/msto63/wake/pkg/core/logging"
)

var (
	listenKind      string
	listenTUI       bool
	listenDirect    bool
	listenCompanion string
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Startet den Aktivierungswort-Dienst",
	Long: `Hört auf das Aktivierungswort und leitet die folgenden Äußerungen weiter.

Standardmäßig gehen erkannte Äußerungen als voice-input an den
Companion-Kanal eines laufenden Servers. Mit --direct werden sie
stattdessen direkt an das Sprachmodell geschickt und die Antwort
ausgegeben.

Tastenkuerzel (--tui):
  q / Ctrl+C  Beenden
  c           Anzeige leeren`,
	RunE: runListen,
}

func init() {
	rootCmd.AddCommand(listenCmd)
	listenCmd.Flags().StringVar(&listenKind, "listener", "", "microphone oder stdin (default aus Config)")
	listenCmd.Flags().BoolVar(&listenTUI, "tui", false, "Terminal-Monitor anzeigen")
	listenCmd.Flags().BoolVar(&listenDirect, "direct", false, "Direkt an das Sprachmodell senden")
	listenCmd.Flags().StringVar(&listenCompanion, "companion-url", "", "WebSocket-Adresse des Companion-Kanals")
}

func runListen(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("Config ungültig", err)
		return err
	}
	if listenKind != "" {
		cfg.Voice.Listener = listenKind
	}
	if listenCompanion != "" {
		cfg.Companion.URL = listenCompanion
	}
	if listenTUI && cfg.Voice.Listener == voice.ListenerStdin {
		return fmt.Errorf("--tui braucht das Terminal und passt nicht zu --listener stdin")
	}

	logOut, closeLog, err := listenLogOutput(cfg)
	if err != nil {
		return err
	}
	defer closeLog()
	setupLogging(cfg, logOut)
	logger := logging.New("wake-listen")

	listener, err := newListener(cfg, cfg.Voice.Listener)
	if err != nil {
		printError("Spracheingabe nicht verfügbar", err)
		return err
	}

	d, err := listenSinks(cfg)
	if err != nil {
		return err
	}
	defer d.close()

	if listenTUI {
		return runListenTUI(cfg, listener, d)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pipeline := voice.NewPipeline(pipelineConfig(cfg, listener, d.sinks, voice.Observer{}))
	if err := pipeline.Start(ctx); err != nil {
		printError("Aufnahme konnte nicht starten", err)
		return err
	}
	logger.Info("listening", "listener", cfg.Voice.Listener, "wake_word", cfg.Voice.WakeWord)

	select {
	case <-ctx.Done():
		pipeline.Stop()
		d.abort()
	case <-pipeline.Done():
	}
	d.wait()
	return pipeline.Err()
}

func runListenTUI(cfg *config.Config, listener voice.Listener, d delivery) error {
	var pipeline *voice.Pipeline
	model := monitor.New(monitor.Config{
		Start: func() error {
			return pipeline.Start(context.Background())
		},
		WakeWord: cfg.Voice.WakeWord,
		Listener: cfg.Voice.Listener,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())
	pipeline = voice.NewPipeline(pipelineConfig(cfg, listener, d.sinks, monitor.Observer(program.Send)))

	_, err := program.Run()
	pipeline.Stop()
	d.abort()
	d.wait()
	if err != nil {
		return err
	}
	return pipeline.Err()
}

// delivery is where gated utterances go
type delivery struct {
	sinks []voice.Sink
	wait  func()
	abort func()
	close func()
}

// listenSinks builds the delivery target: the companion channel or, with
// --direct, a dialogue session on the model server
func listenSinks(cfg *config.Config) (delivery, error) {
	if !listenDirect {
		sender := companion.NewSender(companion.DefaultSenderConfig(cfg.Companion.URL))
		return delivery{
			sinks: []voice.Sink{sender},
			wait:  func() {},
			abort: func() {},
			close: func() { sender.Close() },
		}, nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return delivery{}, err
	}
	manager := newManager(cfg, st)
	id, err := manager.Create()
	if err != nil {
		return delivery{}, err
	}

	out := os.Stdout
	onReply := func(text string, ev relay.Event) {
		if listenTUI {
			return
		}
		switch ev.Kind {
		case relay.KindDone:
			fmt.Fprintf(out, "\n%s\n", text)
		case relay.KindError:
			fmt.Fprintf(out, "\nFehler: %s\n", ev.Text)
		}
	}
	sink := voice.NewDialogueSink(manager, id, onReply, logging.New("voice-dialogue"))
	return delivery{
		sinks: []voice.Sink{sink},
		wait:  sink.Wait,
		abort: manager.InterruptCurrent,
		close: func() {
			if st != nil {
				st.Close()
			}
		},
	}, nil
}

// listenLogOutput keeps logs off the terminal while the monitor owns it
func listenLogOutput(cfg *config.Config) (io.Writer, func(), error) {
	if !listenTUI {
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(cfg.General.DataDir, 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(filepath.Join(cfg.General.DataDir, "listen.log"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { f.Close() }, nil
}
