package config_test

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/MrWong99/lumo/internal/config"
	"github.com/MrWong99/lumo/internal/mcp"
)

const fullYAML = `
server:
  listen_addr: ":9090"
  log_level: debug
assistant:
  wake_word: nova
  destructive_keywords: [delete, purge]
  history: 5
audio:
  source: wav
  queue_size: 64
  wav:
    path: testdata/hello.wav
providers:
  llm:
    - name: openai
      api_key: sk-test
      model: gpt-4o-mini
    - name: ollama
      model: llama3.1
  stt:
    - name: deepgram
      api_key: dg-test
  breaker:
    max_failures: 3
    reset_timeout: 10s
storage:
  interaction_log: /var/lib/lumo/interactions.jsonl
  postgres_dsn: postgres://localhost/lumo
actions:
  notes_path: /var/lib/lumo/notes.jsonl
  web_search:
    base_url: http://search.local/
mcp:
  servers:
    - name: files
      transport: stdio
      command: mcp-files --root /tmp
      destructive: true
timings:
  wake_timeout: 30s
  silence_timeout: 1500ms
tuning:
  path: /etc/lumo/thresholds.json
  watch_interval: 1s
`

func TestLoadFromReader_Full(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(fullYAML))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.ListenAddr != ":9090" || cfg.Server.LogLevel != config.LogDebug {
		t.Errorf("server: got %+v", cfg.Server)
	}
	if cfg.Assistant.WakeWord != "nova" || len(cfg.Assistant.DestructiveKeywords) != 2 || cfg.Assistant.History != 5 {
		t.Errorf("assistant: got %+v", cfg.Assistant)
	}
	if cfg.Audio.Source != config.SourceWAV || cfg.Audio.QueueSize != 64 || cfg.Audio.WAV.Path != "testdata/hello.wav" {
		t.Errorf("audio: got %+v", cfg.Audio)
	}
	if len(cfg.Providers.LLM) != 2 || cfg.Providers.LLM[1].Name != "ollama" {
		t.Errorf("providers.llm: got %+v", cfg.Providers.LLM)
	}
	if cfg.Providers.Breaker.ResetTimeout != 10*time.Second {
		t.Errorf("breaker reset_timeout: got %v", cfg.Providers.Breaker.ResetTimeout)
	}
	if got := cfg.MCP.Servers; len(got) != 1 || got[0].Transport != mcp.TransportStdio || !got[0].Destructive {
		t.Errorf("mcp.servers: got %+v", got)
	}
	if cfg.Timings.SilenceTimeout != 1500*time.Millisecond || cfg.Timings.WakeTimeout != 30*time.Second {
		t.Errorf("timings: got %+v", cfg.Timings)
	}
	// Unset timings take defaults.
	if cfg.Timings.ConfirmWakeTimeout != config.DefaultConfirmWakeTimeout {
		t.Errorf("confirm_wake_timeout: got %v", cfg.Timings.ConfirmWakeTimeout)
	}
	if cfg.Tuning.Path != "/etc/lumo/thresholds.json" || cfg.Tuning.WatchInterval != time.Second {
		t.Errorf("tuning: got %+v", cfg.Tuning)
	}
}

func TestLoadFromReader_EmptyUsesDefaults(t *testing.T) {
	t.Parallel()

	cfg, err := config.LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := config.Default()
	if cfg.Assistant.WakeWord != "lumo" || cfg.Assistant.History != config.DefaultHistory {
		t.Errorf("assistant defaults: got %+v", cfg.Assistant)
	}
	if cfg.Audio.Source != config.SourceMic || cfg.Audio.QueueSize != config.DefaultQueueSize {
		t.Errorf("audio defaults: got %+v", cfg.Audio)
	}
	if cfg.Providers.LLM[0].Name != want.Providers.LLM[0].Name || cfg.Providers.STT[0].Name != "whisper" {
		t.Errorf("provider defaults: got %+v", cfg.Providers)
	}
	if cfg.Storage.InteractionLog != config.DefaultInteractionLog || cfg.Tuning.Path != config.DefaultTuningPath {
		t.Errorf("path defaults: got %+v %+v", cfg.Storage, cfg.Tuning)
	}
}

func TestLoadFromReader_UnknownField(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("assistant:\n  wake_wrod: lumo\n"))
	if err == nil {
		t.Fatal("expected error for unknown field, got nil")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{name: "bad log level", yaml: "server:\n  log_level: loud\n", wantErr: "server.log_level"},
		{name: "bad source", yaml: "audio:\n  source: radio\n", wantErr: "audio.source"},
		{name: "discord without ids", yaml: "audio:\n  source: discord\n", wantErr: "audio.discord"},
		{name: "wav without path", yaml: "audio:\n  source: wav\n", wantErr: "audio.wav.path"},
		{name: "short wake word", yaml: "assistant:\n  wake_word: x\n", wantErr: "assistant.wake_word"},
		{name: "nameless provider", yaml: "providers:\n  llm:\n    - model: gpt-4o\n", wantErr: "providers.llm[0].name"},
		{name: "tls without key", yaml: "server:\n  tls:\n    cert_file: a.pem\n", wantErr: "server.tls"},
		{name: "negative timing", yaml: "timings:\n  silence_timeout: -1s\n", wantErr: "timings"},
		{
			name:    "mcp stdio without command",
			yaml:    "mcp:\n  servers:\n    - name: a\n      transport: stdio\n",
			wantErr: "mcp.servers[0]",
		},
		{
			name:    "duplicate mcp server",
			yaml:    "mcp:\n  servers:\n    - name: a\n      transport: stdio\n      command: x\n    - name: a\n      transport: stdio\n      command: y\n",
			wantErr: "duplicate",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := config.LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatalf("expected error containing %q, got nil", tc.wantErr)
			}
			if !strings.Contains(err.Error(), tc.wantErr) {
				t.Errorf("error should mention %q, got: %v", tc.wantErr, err)
			}
		})
	}
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()

	_, err := config.LoadFromReader(strings.NewReader("server:\n  log_level: loud\naudio:\n  source: radio\n"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"server.log_level", "audio.source"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("joined error should mention %q, got: %v", want, err)
		}
	}
}

func TestLoad(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "lumo.yaml")
	if err := os.WriteFile(path, []byte("assistant:\n  wake_word: nova\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Assistant.WakeWord != "nova" {
		t.Errorf("wake_word: got %q", cfg.Assistant.WakeWord)
	}

	if _, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("want ErrNotExist for a missing file, got %v", err)
	}
}

func TestLoad_ExampleConfig(t *testing.T) {
	t.Parallel()

	cfg, err := config.Load(filepath.Join("..", "..", "configs", "example.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Providers.LLM) != 2 || cfg.Providers.LLM[0].Name != "ollama" {
		t.Errorf("want ollama primary with one fallback, got %+v", cfg.Providers.LLM)
	}
	if cfg.Providers.Breaker.ResetTimeout != 30*time.Second {
		t.Errorf("want breaker reset 30s, got %v", cfg.Providers.Breaker.ResetTimeout)
	}
}

func TestProviderEntry_StringOption(t *testing.T) {
	t.Parallel()

	e := config.ProviderEntry{Options: map[string]any{"language": "en", "boost": 2}}
	if got := e.StringOption("language"); got != "en" {
		t.Errorf("language: got %q", got)
	}
	if got := e.StringOption("boost"); got != "" {
		t.Errorf("non-string option: got %q", got)
	}
}
