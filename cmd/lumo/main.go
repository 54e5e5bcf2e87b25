// Command lumo is the main entry point for the Lumo voice assistant.
//
// Usage:
//
//	lumo [-config path] [command] [args]
//
// Commands:
//
//	run                        start the assistant (default)
//	stats                      print interaction statistics
//	analyze                    run the improvement loop over recent turns
//	tune                       print threshold suggestions for review
//	apply <parameter> <value>  persist one threshold change
//	thresholds                 print the current thresholds
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"

	"github.com/MrWong99/lumo/internal/app"
	"github.com/MrWong99/lumo/internal/config"
	"github.com/MrWong99/lumo/internal/observe"
	"github.com/MrWong99/lumo/internal/resilience"
	"github.com/MrWong99/lumo/pkg/provider/llm"
	"github.com/MrWong99/lumo/pkg/provider/llm/anyllm"
	oaillm "github.com/MrWong99/lumo/pkg/provider/llm/openai"
	"github.com/MrWong99/lumo/pkg/provider/stt"
	"github.com/MrWong99/lumo/pkg/provider/stt/deepgram"
	oaistt "github.com/MrWong99/lumo/pkg/provider/stt/openai"
	"github.com/MrWong99/lumo/pkg/provider/stt/whisper"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	fs := flag.NewFlagSet("lumo", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "config.yaml", "path to the YAML configuration file")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cmd, rest := "run", fs.Args()
	if len(rest) > 0 {
		cmd, rest = rest[0], rest[1:]
	}

	if cmd == "run" {
		return serve(*configPath, stderr)
	}

	cfg, err := loadOrDefault(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "lumo: %v\n", err)
		return 1
	}
	slog.SetDefault(newLogger(cfg.Server.LogLevel, stderr))

	c, ok := commands[cmd]
	if !ok {
		fmt.Fprintf(stderr, "lumo: unknown command %q\n", cmd)
		fs.Usage()
		return 2
	}
	if err := c(context.Background(), cfg, rest, stdout); err != nil {
		fmt.Fprintf(stderr, "lumo %s: %v\n", cmd, err)
		if errors.Is(err, errUsage) {
			return 2
		}
		return 1
	}
	return 0
}

// loadOrDefault loads path, or the defaults when it does not exist. The
// offline commands only need the storage and tuning locations.
func loadOrDefault(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return config.Default(), nil
	}
	return cfg, err
}

// serve runs the assistant until SIGINT or SIGTERM.
func serve(configPath string, stderr io.Writer) int {
	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(stderr, "lumo: config file %q not found, copy configs/example.yaml to get started\n", configPath)
		} else {
			fmt.Fprintf(stderr, "lumo: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	slog.SetDefault(newLogger(cfg.Server.LogLevel, stderr))

	slog.Info("lumo starting",
		"version", version,
		"config", configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"audio_source", cfg.Audio.Source,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Provider registry ─────────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("lumo ready, press Ctrl+C to shut down", "wake_word", cfg.Assistant.WakeWord)

	code := 0
	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		code = 1
	}

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("stopping")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return code
}

// ── Provider wiring ───────────────────────────────────────────────────────────

// registerBuiltinProviders wires all built-in provider factories into reg.
// Each factory receives a config.ProviderEntry and constructs the appropriate
// provider from the real implementation packages.
func registerBuiltinProviders(reg *config.Registry) {
	// ── LLM ───────────────────────────────────────────────────────────────────

	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := entry.StringOption("organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		return oaillm.New(entry.APIKey, entry.Model, opts...)
	})

	// anthropic, gemini, deepseek, mistral, groq, llamacpp, llamafile and
	// ollama share the same pattern: optional APIKey + optional BaseURL.
	for _, providerName := range []string{
		"anthropic", "gemini", "deepseek", "mistral", "groq", "llamacpp", "llamafile", "ollama",
	} {
		reg.RegisterLLM(providerName, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(providerName, entry.Model, opts...)
		})
	}

	// ── STT ───────────────────────────────────────────────────────────────────

	reg.RegisterSTT("openai", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []oaistt.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaistt.WithBaseURL(entry.BaseURL))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, oaistt.WithLanguage(lang))
		}
		if prompt := entry.StringOption("prompt"); prompt != "" {
			opts = append(opts, oaistt.WithPrompt(prompt))
		}
		return oaistt.New(entry.APIKey, entry.Model, opts...)
	})

	reg.RegisterSTT("deepgram", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []deepgram.Option
		if entry.Model != "" {
			opts = append(opts, deepgram.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, deepgram.WithLanguage(lang))
		}
		if entry.BaseURL != "" {
			opts = append(opts, deepgram.WithEndpoint(entry.BaseURL))
		}
		return deepgram.New(entry.APIKey, opts...)
	})

	reg.RegisterSTT("whisper", func(entry config.ProviderEntry) (stt.Provider, error) {
		var opts []whisper.Option
		if entry.Model != "" {
			opts = append(opts, whisper.WithModel(entry.Model))
		}
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithLanguage(lang))
		}
		return whisper.New(entry.BaseURL, opts...)
	})

	reg.RegisterSTT("whisper-native", func(entry config.ProviderEntry) (stt.Provider, error) {
		modelPath := entry.Model
		if modelPath == "" {
			modelPath = entry.StringOption("model_path")
		}
		var opts []whisper.NativeOption
		if lang := entry.StringOption("language"); lang != "" {
			opts = append(opts, whisper.WithNativeLanguage(lang))
		}
		return whisper.NewNative(modelPath, opts...)
	})

	slog.Debug("registered providers", "llm", reg.LLMNames(), "stt", reg.STTNames())
}

// buildProviders instantiates every configured backend and chains each kind
// into a fallback group, first entry primary. A backend whose name is not
// registered is skipped with a warning.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	var llmChain *resilience.LLMFallback
	for _, entry := range cfg.Providers.LLM {
		p, err := reg.CreateLLM(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered, skipping", "kind", "llm", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", entry.Name, err)
		}
		if llmChain == nil {
			llmChain = resilience.NewLLMFallback(p, entry.Name, fallbackConfig(cfg, "llm"))
		} else {
			llmChain.AddFallback(entry.Name, p)
		}
		collectCloser(ps, p)
		slog.Info("provider created", "kind", "llm", "name", entry.Name, "model", entry.Model)
	}
	if llmChain == nil {
		return nil, errors.New("no usable llm provider configured")
	}
	ps.LLM = llmChain

	// Without an audio source only the chat API runs and STT is optional.
	if cfg.Audio.Source == config.SourceNone {
		return ps, nil
	}

	var sttChain *resilience.STTFallback
	for _, entry := range cfg.Providers.STT {
		p, err := reg.CreateSTT(entry)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Warn("provider not registered, skipping", "kind", "stt", "name", entry.Name)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("create stt provider %q: %w", entry.Name, err)
		}
		if sttChain == nil {
			sttChain = resilience.NewSTTFallback(p, entry.Name, fallbackConfig(cfg, "stt"))
		} else {
			sttChain.AddFallback(entry.Name, p)
		}
		collectCloser(ps, p)
		slog.Info("provider created", "kind", "stt", "name", entry.Name, "model", entry.Model)
	}
	if sttChain != nil {
		ps.STT = sttChain
	}
	return ps, nil
}

// fallbackConfig builds the breaker settings for one provider kind. Breaker
// transitions are counted under "<kind>/<name>".
func fallbackConfig(cfg *config.Config, kind string) resilience.FallbackConfig {
	b := cfg.Providers.Breaker
	return resilience.FallbackConfig{CircuitBreaker: resilience.CircuitBreakerConfig{
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		OnTransition: func(name string, _, to resilience.State) {
			observe.DefaultMetrics().RecordBreakerTransition(context.Background(), kind+"/"+name, to.String())
		},
	}}
}

func collectCloser(ps *app.Providers, p any) {
	if c, ok := p.(io.Closer); ok {
		ps.Closers = append(ps.Closers, c)
	}
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: lvl}))
}
