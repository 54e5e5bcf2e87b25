package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr         = ":8080"
	DefaultWakeWord           = "lumo"
	DefaultHistory            = 20
	DefaultQueueSize          = 128
	DefaultInteractionLog     = "logs/interactions.jsonl"
	DefaultFeedbackLog        = "logs/feedback_events.jsonl"
	DefaultNotesPath          = "data/notes.jsonl"
	DefaultTuningPath         = "config/thresholds.json"
	DefaultWebSocketPath      = "/ws/audio"
	DefaultWatchInterval      = 5 * time.Second
	DefaultWakeTimeout        = 60 * time.Second
	DefaultConfirmWakeTimeout = 15 * time.Second
	DefaultSilenceTimeout     = 2 * time.Second
	DefaultMaxUtterance       = 30 * time.Second
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"llm": {"openai", "ollama", "anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile"},
	"stt": {"openai", "deepgram", "whisper", "whisper-native"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. Unknown keys are rejected.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a configuration with every default applied: chat API on
// :8080, microphone input, a local Ollama model and a local whisper server.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills every unset field of cfg.
func ApplyDefaults(cfg *Config) {
	setDefault(&cfg.Server.ListenAddr, DefaultListenAddr)
	setDefault(&cfg.Server.LogLevel, LogInfo)

	setDefault(&cfg.Assistant.WakeWord, DefaultWakeWord)
	if cfg.Assistant.History == 0 {
		cfg.Assistant.History = DefaultHistory
	}

	setDefault(&cfg.Audio.Source, SourceMic)
	if cfg.Audio.QueueSize <= 0 {
		cfg.Audio.QueueSize = DefaultQueueSize
	}
	setDefault(&cfg.Audio.WebSocket.Path, DefaultWebSocketPath)

	if len(cfg.Providers.LLM) == 0 {
		cfg.Providers.LLM = []ProviderEntry{{Name: "ollama", Model: "llama3.1"}}
	}
	if len(cfg.Providers.STT) == 0 {
		cfg.Providers.STT = []ProviderEntry{{Name: "whisper", BaseURL: "http://localhost:8081"}}
	}

	setDefault(&cfg.Storage.InteractionLog, DefaultInteractionLog)
	setDefault(&cfg.Storage.FeedbackLog, DefaultFeedbackLog)
	setDefault(&cfg.Actions.NotesPath, DefaultNotesPath)

	setDefault(&cfg.Timings.WakeTimeout, DefaultWakeTimeout)
	setDefault(&cfg.Timings.ConfirmWakeTimeout, DefaultConfirmWakeTimeout)
	setDefault(&cfg.Timings.SilenceTimeout, DefaultSilenceTimeout)
	setDefault(&cfg.Timings.MaxUtterance, DefaultMaxUtterance)

	setDefault(&cfg.Tuning.Path, DefaultTuningPath)
	setDefault(&cfg.Tuning.WatchInterval, DefaultWatchInterval)
}

func setDefault[T comparable](field *T, value T) {
	var zero T
	if *field == zero {
		*field = value
	}
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls needs both cert_file and key_file"))
	}

	// Assistant
	if len(cfg.Assistant.WakeWord) < 2 {
		errs = append(errs, fmt.Errorf("assistant.wake_word %q is too short", cfg.Assistant.WakeWord))
	}

	// Audio
	switch src := cfg.Audio.Source; {
	case src != "" && !src.IsValid():
		errs = append(errs, fmt.Errorf("audio.source %q is invalid; valid values: mic, discord, websocket, wav, none", src))
	case src == SourceDiscord:
		d := cfg.Audio.Discord
		if d.Token == "" || d.GuildID == "" || d.ChannelID == "" {
			errs = append(errs, errors.New("audio.discord needs token, guild_id and channel_id"))
		}
	case src == SourceWAV && cfg.Audio.WAV.Path == "":
		errs = append(errs, errors.New("audio.wav.path is required when source is wav"))
	case src == SourceWebSocket && cfg.Server.ListenAddr == "":
		errs = append(errs, errors.New("audio.source websocket needs server.listen_addr"))
	}

	// Providers
	errs = append(errs, validateProviders("llm", cfg.Providers.LLM)...)
	errs = append(errs, validateProviders("stt", cfg.Providers.STT)...)
	if cfg.Providers.Breaker.MaxFailures < 0 {
		errs = append(errs, errors.New("providers.breaker.max_failures must not be negative"))
	}

	// Timings
	if t := cfg.Timings; t.WakeTimeout < 0 || t.ConfirmWakeTimeout < 0 || t.SilenceTimeout < 0 || t.MaxUtterance < 0 {
		errs = append(errs, errors.New("timings must not be negative"))
	}

	// MCP servers
	seen := make(map[string]int, len(cfg.MCP.Servers))
	for i, srv := range cfg.MCP.Servers {
		if err := srv.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("mcp.servers[%d]: %w", i, err))
		}
		if prev, ok := seen[srv.Name]; ok && srv.Name != "" {
			errs = append(errs, fmt.Errorf("mcp.servers[%d].name %q is a duplicate of mcp.servers[%d]", i, srv.Name, prev))
		}
		seen[srv.Name] = i
	}

	if cfg.Storage.PostgresDSN == "" && cfg.Storage.InteractionLog == "" {
		errs = append(errs, errors.New("storage needs interaction_log or postgres_dsn"))
	}

	return errors.Join(errs...)
}

func validateProviders(kind string, entries []ProviderEntry) []error {
	var errs []error
	for i, e := range entries {
		if e.Name == "" {
			errs = append(errs, fmt.Errorf("providers.%s[%d].name is required", kind, i))
			continue
		}
		validateProviderName(kind, e.Name)
	}
	return errs
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	known, ok := ValidProviderNames[kind]
	if !ok || slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
