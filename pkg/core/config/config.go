package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/msto63/wake/pkg/core/fault"
)

// Config holds the complete application configuration
type Config struct {
	General   GeneralConfig   `toml:"general" yaml:"general"`
	Server    ServerConfig    `toml:"server" yaml:"server"`
	Dialogue  DialogueConfig  `toml:"dialogue" yaml:"dialogue"`
	Upstream  UpstreamConfig  `toml:"upstream" yaml:"upstream"`
	Voice     VoiceConfig     `toml:"voice" yaml:"voice"`
	Companion CompanionConfig `toml:"companion" yaml:"companion"`
	Store     StoreConfig     `toml:"store" yaml:"store"`

	// Source is the file the configuration was read from, empty for defaults
	Source string `toml:"-" yaml:"-"`
}

// GeneralConfig holds general application settings
type GeneralConfig struct {
	Name      string `toml:"name" yaml:"name"`
	DataDir   string `toml:"data_dir" yaml:"data_dir"`
	LogLevel  string `toml:"log_level" yaml:"log_level"`
	LogFormat string `toml:"log_format" yaml:"log_format"`
}

// ServerConfig holds the HTTP server settings
type ServerConfig struct {
	Host         string   `toml:"host" yaml:"host"`
	Port         int      `toml:"port" yaml:"port"`
	ReadTimeout  Duration `toml:"read_timeout" yaml:"read_timeout"`
	WriteTimeout Duration `toml:"write_timeout" yaml:"write_timeout"`
	StaticDir    string   `toml:"static_dir" yaml:"static_dir"`
}

// DialogueConfig holds session pool settings
type DialogueConfig struct {
	MaxSessions       int      `toml:"max_sessions" yaml:"max_sessions"`
	KeepaliveInterval Duration `toml:"keepalive_interval" yaml:"keepalive_interval"`
}

// UpstreamConfig holds the inference backend settings
type UpstreamConfig struct {
	URL            string   `toml:"url" yaml:"url"`
	Model          string   `toml:"model" yaml:"model"`
	ConnectTimeout Duration `toml:"connect_timeout" yaml:"connect_timeout"`
	AbortTimeout   Duration `toml:"abort_timeout" yaml:"abort_timeout"`
}

// VoiceConfig holds capture, recognition and gating settings
type VoiceConfig struct {
	Listener          string   `toml:"listener" yaml:"listener"`
	Language          string   `toml:"language" yaml:"language"`
	SilenceTimeout    Duration `toml:"silence_timeout" yaml:"silence_timeout"`
	WakeWord          string   `toml:"wake_word" yaml:"wake_word"`
	DismissWords      []string `toml:"dismiss_words" yaml:"dismiss_words"`
	FragmentSeparator string   `toml:"fragment_separator" yaml:"fragment_separator"`
	QueueSize         int      `toml:"queue_size" yaml:"queue_size"`
	RestartDelay      Duration `toml:"restart_delay" yaml:"restart_delay"`
	MaxRestarts       int      `toml:"max_restarts" yaml:"max_restarts"`
	MaxBackoff        Duration `toml:"max_backoff" yaml:"max_backoff"`
	RecognizerURL     string   `toml:"recognizer_url" yaml:"recognizer_url"`
	SampleRate        int      `toml:"sample_rate" yaml:"sample_rate"`
	FramesPerBuffer   int      `toml:"frames_per_buffer" yaml:"frames_per_buffer"`
	VADMode           int      `toml:"vad_mode" yaml:"vad_mode"`
	PhraseLimit       Duration `toml:"phrase_limit" yaml:"phrase_limit"`
	ListenWindow      Duration `toml:"listen_window" yaml:"listen_window"`
	InputDevice       string   `toml:"input_device" yaml:"input_device"`
}

// CompanionConfig holds the companion channel settings
type CompanionConfig struct {
	URL     string `toml:"url" yaml:"url"`
	Enabled bool   `toml:"enabled" yaml:"enabled"`
}

// StoreConfig holds transcript persistence settings
type StoreConfig struct {
	Enabled bool   `toml:"enabled" yaml:"enabled"`
	Path    string `toml:"path" yaml:"path"`
}

// Duration wraps time.Duration for TOML and YAML parsing
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText formats the duration as a string
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// UnmarshalYAML parses a duration scalar
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.UnmarshalText([]byte(value.Value))
}

// Default returns the configuration used when no file is present
func Default() *Config {
	cfg := &Config{
		Store: StoreConfig{Enabled: true},
		Voice: VoiceConfig{
			DismissWords: []string{"退下", "退下吧"},
			WakeWord:     "小明同学",
		},
	}
	cfg.applyDefaults()
	return cfg
}

// Load loads configuration from a TOML or YAML file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fault.Newf("config file not found: %s", path).WithCode(fault.CodeInvalidConfig)
	}

	cfg := Default()
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fault.Wrap(err, "failed to read config").WithCode(fault.CodeInvalidConfig)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fault.Wrap(err, "failed to parse config").WithCode(fault.CodeInvalidConfig)
		}
	default:
		if _, err := toml.DecodeFile(path, cfg); err != nil {
			return nil, fault.Wrap(err, "failed to parse config").WithCode(fault.CodeInvalidConfig)
		}
	}
	cfg.Source = path

	cfg.applyDefaults()
	cfg.expandEnvVars()
	cfg.applyEnvOverrides()

	return cfg, nil
}

// LoadDotEnv loads .env files into the process environment.
// Missing files are ignored; variables already set are not overwritten.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if err := godotenv.Load(p); err != nil {
			return fault.Wrap(err, "failed to load "+p).WithCode(fault.CodeInvalidConfig)
		}
	}
	return nil
}

// LoadFromEnv loads configuration from WAKE_CONFIG or the default locations.
// Without any file the defaults are used, still subject to env overrides.
func LoadFromEnv() (*Config, error) {
	if err := LoadDotEnv(); err != nil {
		return nil, err
	}

	path := os.Getenv("WAKE_CONFIG")
	if path == "" {
		defaultPaths := []string{
			"./configs/config.toml",
			"./configs/config.yaml",
			"./config.toml",
			filepath.Join(os.Getenv("HOME"), ".config/wake/config.toml"),
		}
		for _, p := range defaultPaths {
			if _, err := os.Stat(p); err == nil {
				path = p
				break
			}
		}
	}

	if path == "" {
		cfg := Default()
		cfg.expandEnvVars()
		cfg.applyEnvOverrides()
		return cfg, nil
	}

	return Load(path)
}

// applyDefaults sets default values for missing configuration
func (c *Config) applyDefaults() {
	// General
	if c.General.Name == "" {
		c.General.Name = "wake"
	}
	if c.General.DataDir == "" {
		c.General.DataDir = "./data"
	}
	if c.General.LogLevel == "" {
		c.General.LogLevel = "info"
	}
	if c.General.LogFormat == "" {
		c.General.LogFormat = "text"
	}

	// Server, write_timeout stays 0 for streaming responses
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout.Duration == 0 {
		c.Server.ReadTimeout.Duration = 30 * time.Second
	}

	// Dialogue
	if c.Dialogue.MaxSessions == 0 {
		c.Dialogue.MaxSessions = 3
	}
	if c.Dialogue.KeepaliveInterval.Duration == 0 {
		c.Dialogue.KeepaliveInterval.Duration = 5 * time.Second
	}

	// Upstream
	if c.Upstream.URL == "" {
		c.Upstream.URL = "http://localhost:11434/api/generate"
	}
	if c.Upstream.Model == "" {
		c.Upstream.Model = "deepseek-r1:1.5b"
	}
	if c.Upstream.ConnectTimeout.Duration == 0 {
		c.Upstream.ConnectTimeout.Duration = 10 * time.Second
	}
	if c.Upstream.AbortTimeout.Duration == 0 {
		c.Upstream.AbortTimeout.Duration = 3 * time.Second
	}

	// Voice
	v := &c.Voice
	if v.Listener == "" {
		v.Listener = "microphone"
	}
	if v.Language == "" {
		v.Language = "zh-CN"
	}
	if v.SilenceTimeout.Duration == 0 {
		v.SilenceTimeout.Duration = 1500 * time.Millisecond
	}
	if v.QueueSize == 0 {
		v.QueueSize = 32
	}
	if v.RestartDelay.Duration == 0 {
		v.RestartDelay.Duration = time.Second
	}
	if v.MaxRestarts == 0 {
		v.MaxRestarts = 3
	}
	if v.MaxBackoff.Duration == 0 {
		v.MaxBackoff.Duration = 10 * time.Second
	}
	if v.RecognizerURL == "" {
		v.RecognizerURL = "http://localhost:8000"
	}
	if v.SampleRate == 0 {
		v.SampleRate = 16000
	}
	if v.FramesPerBuffer == 0 {
		v.FramesPerBuffer = 480
	}
	if v.VADMode == 0 {
		v.VADMode = 2
	}
	if v.PhraseLimit.Duration == 0 {
		v.PhraseLimit.Duration = 10 * time.Second
	}
	if v.ListenWindow.Duration == 0 {
		v.ListenWindow.Duration = 500 * time.Millisecond
	}
	if v.InputDevice == "" {
		v.InputDevice = "default"
	}

	// Companion
	if c.Companion.URL == "" {
		c.Companion.URL = fmt.Sprintf("ws://localhost:%d/ws", c.Server.Port)
	}

	// Store
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.General.DataDir, "transcripts.db")
	}
}

// expandEnvVars expands environment variables in configuration values
func (c *Config) expandEnvVars() {
	c.General.DataDir = os.ExpandEnv(c.General.DataDir)
	c.Server.StaticDir = os.ExpandEnv(c.Server.StaticDir)
	c.Upstream.URL = os.ExpandEnv(c.Upstream.URL)
	c.Voice.RecognizerURL = os.ExpandEnv(c.Voice.RecognizerURL)
	c.Companion.URL = os.ExpandEnv(c.Companion.URL)
	c.Store.Path = os.ExpandEnv(c.Store.Path)
}

// applyEnvOverrides applies WAKE_* variables on top of file values
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("WAKE_OLLAMA_URL"); v != "" {
		c.Upstream.URL = v
	}
	if v := os.Getenv("WAKE_MODEL"); v != "" {
		c.Upstream.Model = v
	}
	if v := os.Getenv("WAKE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Server.Port = port
		}
	}
	if v := os.Getenv("WAKE_LOG_LEVEL"); v != "" {
		c.General.LogLevel = v
	}
	if v, ok := os.LookupEnv("WAKE_WAKE_WORD"); ok {
		c.Voice.WakeWord = v
	}
}

// Validate checks value ranges and URLs
func (c *Config) Validate() error {
	var problems []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		problems = append(problems, fmt.Sprintf("server.port out of range: %d", c.Server.Port))
	}
	if c.Dialogue.MaxSessions < 1 {
		problems = append(problems, "dialogue.max_sessions must be at least 1")
	}
	if c.Dialogue.KeepaliveInterval.Duration <= 0 {
		problems = append(problems, "dialogue.keepalive_interval must be positive")
	}
	if u, err := url.Parse(c.Upstream.URL); err != nil || u.Scheme == "" || u.Host == "" {
		problems = append(problems, fmt.Sprintf("upstream.url is not a valid URL: %q", c.Upstream.URL))
	}
	switch c.Voice.Listener {
	case "microphone", "stdin":
	default:
		problems = append(problems, fmt.Sprintf("voice.listener unknown: %q", c.Voice.Listener))
	}
	if c.Voice.SilenceTimeout.Duration <= 0 {
		problems = append(problems, "voice.silence_timeout must be positive")
	}
	if c.Voice.QueueSize < 1 {
		problems = append(problems, "voice.queue_size must be at least 1")
	}
	if c.Voice.MaxRestarts < 0 {
		problems = append(problems, "voice.max_restarts must not be negative")
	}
	if c.Voice.VADMode < 0 || c.Voice.VADMode > 3 {
		problems = append(problems, fmt.Sprintf("voice.vad_mode must be 0-3, got %d", c.Voice.VADMode))
	}

	if len(problems) > 0 {
		return fault.New("invalid configuration: " + strings.Join(problems, "; ")).
			WithCode(fault.CodeInvalidConfig)
	}
	return nil
}

// ServerAddress returns host:port of the HTTP server
func (c *Config) ServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// UpstreamBaseURL returns scheme and host of the upstream endpoint
func (c *Config) UpstreamBaseURL() string {
	u, err := url.Parse(c.Upstream.URL)
	if err != nil {
		return c.Upstream.URL
	}
	return u.Scheme + "://" + u.Host
}
