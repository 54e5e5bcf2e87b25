// Package app wires all Lumo subsystems into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the voice loop and the HTTP surface, and Shutdown
// tears everything down in order.
//
// For testing, inject implementations via functional options
// (WithSource, WithInteractionStore, etc.). When an option is not provided,
// New creates real implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/lumo/internal/action"
	"github.com/MrWong99/lumo/internal/action/notes"
	"github.com/MrWong99/lumo/internal/action/websearch"
	"github.com/MrWong99/lumo/internal/collect"
	"github.com/MrWong99/lumo/internal/config"
	"github.com/MrWong99/lumo/internal/confirm"
	"github.com/MrWong99/lumo/internal/feedback"
	"github.com/MrWong99/lumo/internal/health"
	"github.com/MrWong99/lumo/internal/intent"
	"github.com/MrWong99/lumo/internal/interaction"
	"github.com/MrWong99/lumo/internal/learning"
	"github.com/MrWong99/lumo/internal/mcp"
	"github.com/MrWong99/lumo/internal/observe"
	"github.com/MrWong99/lumo/internal/resilience"
	"github.com/MrWong99/lumo/internal/storage/postgres"
	"github.com/MrWong99/lumo/internal/turn"
	"github.com/MrWong99/lumo/pkg/audio"
	audiodiscord "github.com/MrWong99/lumo/pkg/audio/discord"
	"github.com/MrWong99/lumo/pkg/audio/mic"
	"github.com/MrWong99/lumo/pkg/audio/wsstream"
	"github.com/MrWong99/lumo/pkg/provider/kws"
	"github.com/MrWong99/lumo/pkg/provider/llm"
	"github.com/MrWong99/lumo/pkg/provider/stt"
	"github.com/MrWong99/lumo/pkg/provider/vad"
)

// shutdownGrace bounds how long the HTTP server waits for in-flight requests.
const shutdownGrace = 5 * time.Second

// Providers holds the language and transcription backends. LLM is required;
// STT is only needed when an audio source is configured. Populated by main.go
// via the config registry.
type Providers struct {
	LLM llm.Provider
	STT stt.Provider

	// Closers release provider resources (native models) on shutdown.
	Closers []io.Closer
}

// breakerReporter is implemented by the resilience fallback groups.
type breakerReporter interface {
	States() map[string]resilience.State
}

// Breakers merges the circuit breaker states of both backends, keyed by
// "kind/name". Backends without breakers are omitted.
func (p *Providers) Breakers() map[string]resilience.State {
	out := make(map[string]resilience.State)
	add := func(kind string, v any) {
		r, ok := v.(breakerReporter)
		if !ok {
			return
		}
		for name, st := range r.States() {
			out[kind+"/"+name] = st
		}
	}
	add("llm", p.LLM)
	add("stt", p.STT)
	return out
}

// App owns all subsystem lifetimes and runs the Lumo turn pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Injectable; created from config when nil.
	source       audio.Source
	responder    turn.Responder
	interactions interaction.Store
	noteStore    notes.Store
	sink         feedback.Sink
	metrics      *observe.Metrics

	// Subsystems: initialised in New, torn down in Shutdown.
	pg         *postgres.Store
	logPath    string
	queue      *audio.Queue
	vad        *vad.Energy
	kws        *kws.Energy
	gate       *confirm.Gate
	tuner      *learning.Tuner
	monitor    *learning.Monitor
	watcher    *config.Watcher
	dispatcher *action.Dispatcher
	mcpHost    *mcp.Host
	log        *interaction.Logger
	orch       *turn.Orchestrator
	ws         *wsstream.Source
	mux        *http.ServeMux
	server     *http.Server

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithSource injects the audio source instead of creating one from
// audio.source.
func WithSource(s audio.Source) Option {
	return func(a *App) { a.source = s }
}

// WithResponder injects the sink for spoken replies.
func WithResponder(r turn.Responder) Option {
	return func(a *App) { a.responder = r }
}

// WithInteractionStore injects the interaction store instead of the JSONL
// file (and PostgreSQL mirror) named in config.
func WithInteractionStore(s interaction.Store) Option {
	return func(a *App) { a.interactions = s }
}

// WithNoteStore injects the note store used by the notes actions.
func WithNoteStore(s notes.Store) Option {
	return func(a *App) { a.noteStore = s }
}

// WithFeedbackSink injects the sink for improvement alerts.
func WithFeedbackSink(s feedback.Sink) Option {
	return func(a *App) { a.sink = s }
}

// WithMetrics injects the metric instruments instead of the process-wide
// default.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. The providers struct
// comes from main.go (populated via the config registry). Use Option functions
// to inject test doubles for any subsystem.
//
// New performs all initialisation synchronously: storage connection, tuning
// document load, action registration including MCP servers, audio source
// setup and orchestrator assembly. On error everything opened so far is
// closed again.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (_ *App, err error) {
	if providers == nil || providers.LLM == nil {
		return nil, errors.New("app: an llm provider is required")
	}
	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}
	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}
	defer func() {
		if err != nil {
			a.runClosers()
		}
	}()

	// ── 1. Storage ───────────────────────────────────────────────────────
	if err := a.initStorage(ctx); err != nil {
		return nil, fmt.Errorf("app: init storage: %w", err)
	}

	// ── 2. Thresholds, detectors and gate ───────────────────────────────
	if err := a.initTuning(); err != nil {
		return nil, fmt.Errorf("app: init tuning: %w", err)
	}

	// ── 3. Interaction logger ───────────────────────────────────────────
	every := 0
	if sc := a.tuner.Current().StalenessCheck; sc.Enabled {
		every = sc.CheckInterval
	}
	a.monitor = learning.NewMonitor(a.interactions, a.tuner, a.sink, every)
	a.log = interaction.NewLogger(a.interactions, interaction.WithObserver(a.monitor.Observe))

	// ── 4. Actions ──────────────────────────────────────────────────────
	if err := a.initActions(ctx); err != nil {
		return nil, fmt.Errorf("app: init actions: %w", err)
	}

	// ── 5. Audio source ─────────────────────────────────────────────────
	if err := a.initAudio(); err != nil {
		return nil, fmt.Errorf("app: init audio: %w", err)
	}

	// ── 6. Orchestrator ─────────────────────────────────────────────────
	if err := a.initOrchestrator(); err != nil {
		return nil, fmt.Errorf("app: init orchestrator: %w", err)
	}

	// ── 7. HTTP surface ─────────────────────────────────────────────────
	a.initHTTP()

	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initStorage opens PostgreSQL when a DSN is configured and sets up the
// interaction, note and feedback stores that were not injected.
func (a *App) initStorage(ctx context.Context) error {
	if dsn := a.cfg.Storage.PostgresDSN; dsn != "" && (a.interactions == nil || a.noteStore == nil) {
		store, err := postgres.NewStore(ctx, dsn)
		if err != nil {
			return err
		}
		a.pg = store
		a.closers = append(a.closers, func() error {
			store.Close()
			return nil
		})
		slog.Info("connected to postgres")
	}

	if a.interactions == nil {
		var tee interaction.Tee
		if path := a.cfg.Storage.InteractionLog; path != "" {
			tee = append(tee, interaction.NewFileStore(path))
			a.logPath = path
		}
		if a.pg != nil {
			tee = append(tee, a.pg.Interactions())
		}
		if len(tee) == 1 {
			a.interactions = tee[0]
		} else {
			a.interactions = tee
		}
	}

	if a.noteStore == nil {
		if a.pg != nil {
			a.noteStore = a.pg.Notes()
		} else {
			a.noteStore = notes.NewFileStore(a.cfg.Actions.NotesPath)
		}
	}

	if a.sink == nil && a.cfg.Storage.FeedbackLog != "" {
		a.sink = feedback.NewFileStore(a.cfg.Storage.FeedbackLog)
	}
	return nil
}

// initTuning loads the threshold document and builds the detectors and the
// confirmation gate from it.
func (a *App) initTuning() error {
	tuner, err := learning.NewTuner(a.cfg.Tuning.Path)
	if err != nil {
		return err
	}
	a.tuner = tuner

	th := tuner.Current()
	a.vad = vad.NewEnergy(th.VAD.SilenceThreshold)
	a.kws = kws.NewEnergy(kws.Config{PatternThreshold: th.KWS.PatternThreshold})
	a.gate = confirm.New(confirm.WithTimeout(th.ConfirmationTimeout()))

	w, err := config.NewWatcher(a.cfg.Tuning.Path, a.applyThresholds, config.WithInterval(a.cfg.Tuning.WatchInterval))
	if err != nil {
		return err
	}
	a.watcher = w
	return nil
}

// applyThresholds pushes a reloaded tuning document into the live
// detectors and gate.
func (a *App) applyThresholds(_, next learning.ThresholdConfig, d config.ThresholdDiff) {
	if d.VADChanged {
		a.vad.SetThreshold(d.NewVAD)
		slog.Info("applied vad threshold", "silence_threshold", d.NewVAD)
	}
	if d.KWSChanged {
		a.kws.SetThreshold(d.NewKWS)
		slog.Info("applied kws threshold", "pattern_threshold", d.NewKWS)
	}
	if d.ConfirmationChanged {
		a.gate.SetTimeout(next.ConfirmationTimeout())
		slog.Info("applied confirmation timeout", "timeout", next.ConfirmationTimeout())
	}
	if _, err := a.tuner.Reload(); err != nil {
		slog.Warn("tuner reload failed", "err", err)
	}
}

// initActions registers the built-in actions and every tool of the
// configured MCP servers.
func (a *App) initActions(ctx context.Context) error {
	a.dispatcher = action.New(notes.Actions(a.noteStore)...)

	if ws := a.cfg.Actions.WebSearch; !ws.Disabled {
		opts := []websearch.Option{websearch.WithBreaker(a.breakerConfig("web_search"))}
		if ws.BaseURL != "" {
			opts = append(opts, websearch.WithBaseURL(ws.BaseURL))
		}
		if err := a.dispatcher.Register(websearch.New(opts...).Action()); err != nil {
			return err
		}
	}

	if len(a.cfg.MCP.Servers) == 0 {
		return nil
	}
	host := mcp.New(mcp.WithMetrics(a.metrics))
	a.mcpHost = host
	a.closers = append(a.closers, host.Close)
	for _, srv := range a.cfg.MCP.Servers {
		if err := host.RegisterServer(ctx, srv); err != nil {
			return fmt.Errorf("register mcp server %q: %w", srv.Name, err)
		}
		slog.Info("registered MCP server", "name", srv.Name)
	}
	return host.RegisterActions(a.dispatcher)
}

// breakerConfig derives a circuit breaker config from providers.breaker.
func (a *App) breakerConfig(name string) resilience.CircuitBreakerConfig {
	b := a.cfg.Providers.Breaker
	return resilience.CircuitBreakerConfig{
		Name:         name,
		MaxFailures:  b.MaxFailures,
		ResetTimeout: b.ResetTimeout,
		OnTransition: func(_ string, _, to resilience.State) {
			a.metrics.RecordBreakerTransition(context.Background(), name, to.String())
		},
	}
}

// initAudio creates the configured audio source and the reply channel
// matching it, unless both were injected.
func (a *App) initAudio() error {
	if a.source == nil {
		switch a.cfg.Audio.Source {
		case config.SourceMic:
			if !mic.Available {
				slog.Warn("microphone capture not compiled in; rebuild with -tags portaudio")
			}
			a.source = mic.New()

		case config.SourceDiscord:
			d := a.cfg.Audio.Discord
			session, err := discordgo.New("Bot " + d.Token)
			if err != nil {
				return fmt.Errorf("create discord session: %w", err)
			}
			session.Identify.Intents = discordgo.IntentsGuildVoiceStates | discordgo.IntentsGuildMessages
			if err := session.Open(); err != nil {
				return fmt.Errorf("open discord session: %w", err)
			}
			a.closers = append(a.closers, session.Close)
			a.source = audiodiscord.New(session, d.GuildID, d.ChannelID)
			if a.responder == nil && d.TextChannelID != "" {
				a.responder = audiodiscord.NewResponder(session, d.TextChannelID)
			}

		case config.SourceWebSocket:
			a.ws = wsstream.New(wsstream.WithOriginPatterns(a.cfg.Audio.WebSocket.OriginPatterns...))
			a.source = a.ws
			if a.responder == nil {
				a.responder = a.ws
			}

		case config.SourceWAV:
			a.source = &audio.WAVSource{Path: a.cfg.Audio.WAV.Path, Realtime: true, TrailingSilence: a.cfg.Timings.SilenceTimeout}
		}
	}
	if a.source != nil {
		if a.providers.STT == nil {
			return errors.New("an stt provider is required when an audio source is configured")
		}
		a.queue = audio.NewQueue(a.cfg.Audio.QueueSize)
	}
	return nil
}

// initOrchestrator assembles the turn orchestrator from the subsystems.
func (a *App) initOrchestrator() error {
	t := a.cfg.Timings
	deps := turn.Deps{
		LLM:          a.providers.LLM,
		Actions:      a.dispatcher,
		Gate:         a.gate,
		Log:          a.log,
		Commands:     intent.NewTable(intent.CommandRules(a.cfg.Assistant.DestructiveKeywords)...),
		Wake:         intent.NewWakeMatcher(a.cfg.Assistant.WakeWord),
		Responder:    a.responder,
		Metrics:      a.metrics,
		History:      a.cfg.Assistant.History,
		SystemPrompt: a.cfg.Assistant.SystemPrompt,
		Timings: turn.Timings{
			WakeTimeout:        t.WakeTimeout,
			ConfirmWakeTimeout: t.ConfirmWakeTimeout,
			SilenceTimeout:     t.SilenceTimeout,
		},
	}
	if a.queue != nil {
		deps.Source = a.queue
		deps.VAD = a.vad
		deps.KWS = a.kws
		deps.STT = a.providers.STT
		deps.Collector = collect.New(collect.WithMaxUtterance(t.MaxUtterance))
	}
	o, err := turn.New(deps)
	if err != nil {
		return err
	}
	a.orch = o
	return nil
}

// initHTTP builds the chat API, metrics, health and streaming routes.
func (a *App) initHTTP() {
	mux := http.NewServeMux()
	turn.NewAPI(a.orch).Register(mux)
	mux.Handle("GET /metrics", observe.Handler())
	if a.ws != nil {
		mux.Handle(a.cfg.Audio.WebSocket.Path, a.ws)
	}

	checks := []health.Checker{
		health.Breakers("providers", a.providers.Breakers),
		health.Writable("tuning", a.cfg.Tuning.Path),
	}
	if a.logPath != "" {
		checks = append(checks, health.Writable("interaction_log", a.logPath))
	}
	if a.pg != nil {
		checks = append(checks, health.Ping("postgres", a.pg.Ping))
	}
	health.New(checks...).Register(mux)
	a.mux = mux

	if addr := a.cfg.Server.ListenAddr; addr != "" {
		a.server = &http.Server{
			Addr:              addr,
			Handler:           observe.Middleware(a.metrics)(mux),
			ReadHeaderTimeout: 10 * time.Second,
		}
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP routes without the listener, for tests and
// embedding.
func (a *App) Handler() http.Handler { return observe.Middleware(a.metrics)(a.mux) }

// Orchestrator returns the turn orchestrator.
func (a *App) Orchestrator() *turn.Orchestrator { return a.orch }

// Actions returns the names of every registered action.
func (a *App) Actions() []string { return a.dispatcher.Names() }

// Thresholds returns the tuning values currently applied to the detectors.
func (a *App) Thresholds() learning.ThresholdConfig { return a.watcher.Current() }

// Detectors returns the live VAD and KWS thresholds.
func (a *App) Detectors() (vadThreshold, kwsThreshold float64) {
	return a.vad.Threshold(), a.kws.Threshold()
}

// Breakers returns the circuit breaker state of every backend.
func (a *App) Breakers() map[string]resilience.State {
	return a.providers.Breakers()
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run starts the audio producer, the voice loop, the tuning watcher and the
// HTTP server, and blocks until ctx is cancelled or one of them fails.
// Cancellation is a clean stop and returns nil.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if a.source != nil {
		g.Go(func() error {
			if err := a.source.Stream(gctx, a.queue); err != nil {
				return fmt.Errorf("app: audio source: %w", err)
			}
			slog.Info("audio source finished")
			return nil
		})
		g.Go(func() error { return a.orch.Run(gctx) })
	}

	g.Go(func() error { return a.watcher.Run(gctx) })

	if a.server != nil {
		g.Go(func() error {
			slog.Info("http server listening", "addr", a.server.Addr)
			var err error
			if tls := a.cfg.Server.TLS; tls != nil {
				err = a.server.ListenAndServeTLS(tls.CertFile, tls.KeyFile)
			} else {
				err = a.server.ListenAndServe()
			}
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("app: http server: %w", err)
		})
		g.Go(func() error {
			<-gctx.Done()
			sctx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
			defer cancel()
			return a.server.Shutdown(sctx)
		})
	}

	slog.Info("app running",
		"audio_source", a.cfg.Audio.Source,
		"wake_word", a.orch.WakeWord(),
		"actions", len(a.dispatcher.Names()),
	)
	return g.Wait()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		for _, c := range a.providers.Closers {
			a.closers = append(a.closers, c.Close)
		}
		slog.Info("shutting down", "closers", len(a.closers))

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}
		a.closers = nil

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// runClosers releases everything opened by a failed New.
func (a *App) runClosers() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			slog.Warn("closer error", "index", i, "err", err)
		}
	}
	a.closers = nil
}
