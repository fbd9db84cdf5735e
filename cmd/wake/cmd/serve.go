package cmd

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/msto63/wake/internal/companion"
	"github.com/msto63/wake/internal/server"
	"github.com/msto63/wake/internal/voice"
	"github.com/msto63/wake/pkg/core/health"
	"github.com/msto63/wake/pkg/core/logging"
	"github.com/msto63/wake/pkg/core/version"
)

var (
	servePort     int
	serveListener string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Startet den HTTP-Server",
	Long: `Startet den Wake HTTP-Server.

Endpunkte:
  POST /chat                 Nachricht senden, Antwort als SSE
  POST /stop_dialogue/{id}   Laufende Antwort abbrechen, Dialog beenden
  POST /sessions             Dialog anlegen
  GET  /sessions[/{id}]      Dialoge anzeigen
  POST /start_voice          Spracheingabe starten
  POST /stop_voice           Spracheingabe stoppen
  GET  /voice_events         Erkannte Äußerungen als SSE
  GET  /ws                   Companion-Kanal (WebSocket)
  GET  /transcripts[/{id}]   Gespeicherte Verläufe
  GET  /health               Health Check`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP-Port (überschreibt die Config)")
	serveCmd.Flags().StringVar(&serveListener, "listener", "", "Spracheingabe: microphone oder stdin")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		printError("Config ungültig", err)
		return err
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
	}
	if serveListener != "" {
		cfg.Voice.Listener = serveListener
	}
	setupLogging(cfg, os.Stdout)
	logger := logging.New("wake")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(cfg)
	if err != nil {
		printError("Transcript-Store nicht verfügbar", err)
		return err
	}
	if st != nil {
		defer st.Close()
	}

	manager := newManager(cfg, st)
	hub := companion.NewHub(logging.New("companion"))
	defer hub.Close()

	registry := health.NewRegistry("wake", version.Platform)
	registry.Register(health.HTTPCheck("upstream", cfg.UpstreamBaseURL()+"/api/tags", 3*time.Second))

	deps := server.Deps{
		Dialogues: manager,
		Companion: hub,
		Health:    registry,
		Logger:    logging.New("server"),
	}
	if st != nil {
		deps.History = st
		registry.Register(health.PingCheck("store", st.Ping))
	}

	listener, err := newListener(cfg, cfg.Voice.Listener)
	if err != nil {
		logger.Warn("voice input disabled", "error", err)
	} else {
		var sinks []voice.Sink
		if cfg.Companion.Enabled {
			sender := companion.NewSender(companion.DefaultSenderConfig(cfg.Companion.URL))
			defer sender.Close()
			sinks = append(sinks, sender)
		}
		deps.Voice = voice.NewController(pipelineConfig(cfg, listener, sinks, voice.Observer{}))
		if cfg.Voice.Listener == voice.ListenerMicrophone {
			if u, err := url.Parse(cfg.Voice.RecognizerURL); err == nil && u.Host != "" {
				registry.Register(health.TCPCheck("recognizer", u.Host, 2*time.Second))
			}
		}
	}

	srv, err := server.New(server.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		ReadTimeout:       cfg.Server.ReadTimeout.Duration,
		WriteTimeout:      cfg.Server.WriteTimeout.Duration,
		StaticDir:         cfg.Server.StaticDir,
		KeepaliveInterval: cfg.Dialogue.KeepaliveInterval.Duration,
		Version:           version.Platform,
	}, deps)
	if err != nil {
		return err
	}
	if err := srv.StartAsync(); err != nil {
		printError("Server konnte nicht starten", err)
		return err
	}

	fmt.Println("Wake")
	fmt.Println("====")
	fmt.Printf("Server:       http://%s\n", srv.Address())
	fmt.Printf("Modell:       %s (%s)\n", cfg.Upstream.Model, cfg.Upstream.URL)
	fmt.Printf("Health Check: http://%s/health\n", srv.Address())
	fmt.Println("Drücke Ctrl+C zum Beenden")

	<-ctx.Done()
	fmt.Println("\nStoppe Server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
