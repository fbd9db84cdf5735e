package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/msto63/wake/pkg/core/config"
	"github.com/msto63/wake/pkg/core/logging"
)

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "wake",
	Short: "Wake - Sprachgesteuerter Chat-Zugang",
	Long: `Wake verbindet einen Browser-Chat und eine Spracheingabe mit einem
lokalen Sprachmodell.

Befehle:
  serve    - HTTP-Server mit Chat, Sprachsteuerung und Ereignisstrom
  listen   - Eigenständiger Aktivierungswort-Dienst
  history  - Gespeicherte Gesprächsverläufe anzeigen
  devices  - Aufnahmegeräte auflisten`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config-Datei (default: ./configs/config.toml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Verbose Output")
}

// loadConfig reads the configuration from --config or the default
// locations and validates it
func loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if cfgFile != "" {
		if err := config.LoadDotEnv(); err != nil {
			return nil, err
		}
		cfg, err = config.Load(cfgFile)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, err
	}
	if verbose {
		cfg.General.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupLogging applies the configured level and format to all loggers
func setupLogging(cfg *config.Config, out io.Writer) {
	level, err := logging.ParseLevel(cfg.General.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warnung: unbekanntes Log-Level %q, nutze info\n", cfg.General.LogLevel)
		level = logging.LevelInfo
	}
	logging.SetDefaults(logging.Config{
		Level:  level,
		Format: logging.ParseFormat(cfg.General.LogFormat),
		Output: out,
	})
}

func printError(msg string, err error) {
	fmt.Fprintf(os.Stderr, "Fehler: %s: %v\n", msg, err)
}
