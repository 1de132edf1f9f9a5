// Package app wires all JARVIS subsystems into a running daemon.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run serves the control surface until the context is cancelled,
// and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithProvider,
// WithDevices, WithMetrics, ...). When an option is not provided, New creates
// the real implementation from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/jarvis/internal/assistant"
	"github.com/MrWong99/jarvis/internal/capture"
	"github.com/MrWong99/jarvis/internal/config"
	"github.com/MrWong99/jarvis/internal/health"
	"github.com/MrWong99/jarvis/internal/observe"
	"github.com/MrWong99/jarvis/internal/playback"
	"github.com/MrWong99/jarvis/internal/resilience"
	"github.com/MrWong99/jarvis/internal/server"
	"github.com/MrWong99/jarvis/internal/tools"
	telegramtool "github.com/MrWong99/jarvis/internal/tools/telegram"
	"github.com/MrWong99/jarvis/pkg/audio"
	"github.com/MrWong99/jarvis/pkg/audio/portaudio"
	"github.com/MrWong99/jarvis/pkg/provider/s2s"
	"github.com/MrWong99/jarvis/pkg/provider/s2s/gemini"
	"github.com/MrWong99/jarvis/pkg/telegram"
)

// shutdownGrace bounds the HTTP server drain when Run's context ends.
const shutdownGrace = 10 * time.Second

// App owns all subsystem lifetimes.
type App struct {
	cfg      *config.Config
	log      *slog.Logger
	levelVar *slog.LevelVar
	version  string

	// Subsystems, initialised in New and torn down in Shutdown.
	provider       s2s.Provider
	input          audio.InputDevice
	output         audio.OutputDevice
	httpClient     *http.Client
	breaker        *resilience.Breaker
	telegram       *telegram.Client
	dispatcher     *tools.Dispatcher
	hub            *server.Hub
	orch           *assistant.Orchestrator
	srv            *server.Server
	metrics        *observe.Metrics
	metricsHandler http.Handler
	sinks          []assistant.Sink
	autoConnect    bool

	// closers are called in reverse order during Shutdown.
	closers []func(context.Context) error

	mu      sync.Mutex
	httpSrv *http.Server
	addr    net.Addr

	stopOnce sync.Once
	stopErr  error
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProvider injects the realtime session provider instead of dialling
// Gemini Live.
func WithProvider(p s2s.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithDevices injects the microphone and speaker instead of PortAudio.
func WithDevices(in audio.InputDevice, out audio.OutputDevice) Option {
	return func(a *App) {
		a.input = in
		a.output = out
	}
}

// WithMetrics injects metric instruments and the /metrics handler instead of
// initialising the OpenTelemetry SDK with a Prometheus registry.
func WithMetrics(m *observe.Metrics, metricsHandler http.Handler) Option {
	return func(a *App) {
		a.metrics = m
		a.metricsHandler = metricsHandler
	}
}

// WithTelegramHTTPClient sets the HTTP client used for the Bot API.
func WithTelegramHTTPClient(hc *http.Client) Option {
	return func(a *App) { a.httpClient = hc }
}

// WithLevelVar sets the level variable that config reloads adjust.
func WithLevelVar(lv *slog.LevelVar) Option {
	return func(a *App) { a.levelVar = lv }
}

// WithSink adds a sink that receives session output next to the event hub.
func WithSink(s assistant.Sink) Option {
	return func(a *App) { a.sinks = append(a.sinks, s) }
}

// WithAutoConnect makes Run open a session as soon as the server is up.
func WithAutoConnect(on bool) Option {
	return func(a *App) { a.autoConnect = on }
}

// WithVersion sets the version reported in telemetry.
func WithVersion(v string) Option {
	return func(a *App) { a.version = v }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *App) { a.log = l }
}

// ─── New ─────────────────────────────────────────────────────────────────────

// New creates an App by wiring all subsystems together. cfg must already be
// validated. On error every subsystem created so far is released.
func New(ctx context.Context, cfg *config.Config, opts ...Option) (*App, error) {
	a := &App{
		cfg: cfg,
		log: slog.Default(),
	}
	for _, o := range opts {
		o(a)
	}

	steps := []struct {
		name string
		fn   func(context.Context) error
	}{
		{"observability", a.initObservability},
		{"audio", a.initAudio},
		{"provider", a.initProvider},
		{"tools", a.initTools},
		{"assistant", a.initAssistant},
	}
	for _, step := range steps {
		if err := step.fn(ctx); err != nil {
			return nil, errors.Join(
				fmt.Errorf("app: init %s: %w", step.name, err),
				a.runClosers(context.WithoutCancel(ctx)),
			)
		}
	}
	a.initServer()
	return a, nil
}

// ─── Init helpers ────────────────────────────────────────────────────────────

// initObservability installs the OpenTelemetry providers with a Prometheus
// exporter on a private registry, unless metrics were injected.
func (a *App) initObservability(ctx context.Context) error {
	if a.metrics != nil {
		return nil
	}

	reg := prometheus.NewRegistry()
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    "jarvis",
		ServiceVersion: a.version,
		Registerer:     reg,
	})
	if err != nil {
		return err
	}
	a.closers = append(a.closers, shutdown)

	m, err := observe.NewMetrics(otel.GetMeterProvider())
	if err != nil {
		return err
	}
	a.metrics = m
	a.metricsHandler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	return nil
}

// initAudio opens the PortAudio host unless devices were injected.
func (a *App) initAudio(context.Context) error {
	if a.input != nil && a.output != nil {
		return nil
	}
	host := portaudio.New(
		portaudio.WithInputDevice(a.cfg.Audio.InputDevice),
		portaudio.WithOutputDevice(a.cfg.Audio.OutputDevice),
		portaudio.WithLogger(a.log),
	)
	if a.input == nil {
		a.input = host
	}
	if a.output == nil {
		a.output = host
	}
	return nil
}

// initProvider creates the Gemini Live provider unless one was injected.
func (a *App) initProvider(context.Context) error {
	if a.provider != nil {
		return nil
	}
	opts := []gemini.Option{
		gemini.WithModel(a.cfg.Gemini.Model),
		gemini.WithLogger(a.log),
	}
	if a.cfg.Gemini.BaseURL != "" {
		opts = append(opts, gemini.WithBaseURL(a.cfg.Gemini.BaseURL))
	}
	a.provider = gemini.New(a.cfg.Gemini.APIKey, opts...)
	return nil
}

// initTools builds the Telegram client behind a circuit breaker and rate
// limiter, and registers the message-send tool.
func (a *App) initTools(context.Context) error {
	tc := a.cfg.Telegram
	a.breaker = resilience.New(resilience.Config{
		Name:         "telegram",
		MaxFailures:  tc.Breaker.MaxFailures,
		ResetTimeout: tc.Breaker.ResetTimeout,
		IsFailure:    telegram.IsBreakerFailure,
		Logger:       a.log,
	})

	opts := []telegram.Option{
		telegram.WithCircuitBreaker(a.breaker),
		telegram.WithRateLimit(tc.RateLimit, tc.Burst),
	}
	if tc.BaseURL != "" {
		opts = append(opts, telegram.WithBaseURL(tc.BaseURL))
	}
	if a.httpClient != nil {
		opts = append(opts, telegram.WithHTTPClient(a.httpClient))
	}
	client, err := telegram.New(tc.BotToken, tc.ChatID, opts...)
	if err != nil {
		return err
	}
	a.telegram = client

	a.dispatcher = tools.New(
		[]tools.Tool{telegramtool.Tool(client)},
		tools.WithMetrics(a.metrics),
		tools.WithLogger(a.log),
	)
	return nil
}

// initAssistant builds the event hub and the orchestrator with capture and
// playback factories bound to the configured devices.
func (a *App) initAssistant(context.Context) error {
	a.hub = server.NewHub(a.log)

	sink := assistant.Sink(a.hub)
	if len(a.sinks) > 0 {
		sink = append(assistant.MultiSink{a.hub}, a.sinks...)
	}

	a.orch = assistant.New(
		a.provider,
		SessionConfig(a.cfg),
		sink,
		a.dispatcher,
		a.newRecorder,
		a.newStreamer,
		assistant.WithMetrics(a.metrics),
		assistant.WithLogger(a.log),
	)
	a.closers = append(a.closers, func(context.Context) error { return a.orch.Close() })
	return nil
}

func (a *App) newRecorder(onChunk func(string), onLevel func(float64)) assistant.Recorder {
	return capture.New(a.input, onChunk,
		capture.WithFrameSize(a.cfg.Assistant.CaptureFrameSize),
		capture.WithLevelCallback(onLevel),
		capture.WithLogger(a.log),
	)
}

func (a *App) newStreamer(onLevel func(float64)) assistant.Streamer {
	ctx := context.Background()
	return playback.New(a.output,
		playback.WithLevelCallback(onLevel),
		playback.WithMeterInterval(a.cfg.Assistant.MeterInterval()),
		playback.WithChunkObserver(func(d time.Duration) {
			a.metrics.PlaybackChunks.Add(ctx, 1)
			a.metrics.PlaybackAudio.Add(ctx, d.Seconds())
		}),
		playback.WithDropObserver(func(err error) {
			a.metrics.RecordPlaybackDrop(ctx, dropReason(err))
		}),
		playback.WithLogger(a.log),
	)
}

// dropReason classifies a playback drop for the drops metric.
func dropReason(err error) string {
	switch {
	case errors.Is(err, audio.ErrDecode):
		return "decode"
	case errors.Is(err, playback.ErrNotStarted):
		return "not_started"
	default:
		return "schedule"
	}
}

func (a *App) initServer() {
	a.srv = server.New(a.orch, a.hub,
		server.WithHealth(health.New(
			health.BreakerChecker("telegram", func() string { return a.breaker.State().String() }),
			health.ProbeChecker("assistant", a.checkAssistant),
		)),
		server.WithMetricsHandler(a.metricsHandler),
		server.WithObserveMetrics(a.metrics),
		server.WithOriginPatterns(a.cfg.Server.AllowedOrigins...),
		server.WithLogger(a.log),
	)
}

// errSessionFailed is reported by the readiness probe while the assistant sits
// in the error state.
var errSessionFailed = errors.New("session failed; POST /api/connect to retry")

func (a *App) checkAssistant(context.Context) error {
	if a.orch.State() == assistant.StateError {
		return errSessionFailed
	}
	return nil
}

// SessionConfig derives the realtime session configuration from cfg.
func SessionConfig(cfg *config.Config) s2s.SessionConfig {
	return s2s.SessionConfig{
		Voice:        cfg.Gemini.Voice,
		Instructions: cfg.Assistant.Persona,
		GoogleSearch: cfg.Gemini.SearchEnabled(),
	}
}

// ─── Accessors ───────────────────────────────────────────────────────────────

// Handler returns the HTTP control surface.
func (a *App) Handler() http.Handler { return a.srv }

// Orchestrator returns the session orchestrator.
func (a *App) Orchestrator() *assistant.Orchestrator { return a.orch }

// Dispatcher returns the tool dispatcher.
func (a *App) Dispatcher() *tools.Dispatcher { return a.dispatcher }

// Addr returns the address the server listens on once Serve has started, or
// nil.
func (a *App) Addr() net.Addr {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.addr
}

// ─── Config reload ───────────────────────────────────────────────────────────

// ApplyConfig applies the hot-reloadable parts of a config change. Session
// settings take effect on the next Connect; settings that need a restart are
// logged.
func (a *App) ApplyConfig(old, new *config.Config) {
	d := config.Diff(old, new)

	if d.LogLevelChanged && a.levelVar != nil {
		a.levelVar.Set(ParseLevel(d.NewLogLevel))
		a.log.Info("app: log level changed", "level", d.NewLogLevel)
	}
	if d.SessionChanged {
		a.orch.SetSessionConfig(SessionConfig(new))
		a.log.Info("app: session settings updated; they apply to the next session")
	}
	if len(d.RestartRequired) > 0 {
		a.log.Warn("app: config changes require a restart", "settings", d.RestartRequired)
	}
}

// ParseLevel maps a config log level to a slog level.
func ParseLevel(l config.LogLevel) slog.Level {
	switch l {
	case config.LogDebug:
		return slog.LevelDebug
	case config.LogWarn:
		return slog.LevelWarn
	case config.LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ─── Run ─────────────────────────────────────────────────────────────────────

// Run listens on the configured address and serves until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.cfg.Server.ListenAddr)
	if err != nil {
		return fmt.Errorf("app: listen: %w", err)
	}
	return a.Serve(ctx, ln)
}

// Serve serves the control surface on ln until ctx is cancelled, then drains
// the HTTP server. When auto-connect is enabled it opens a session once the
// listener is up; a failed attempt is logged and can be retried through the
// API. Serve returns ctx.Err() after a clean stop.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	hs := &http.Server{
		Handler:           a.srv,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a.mu.Lock()
	a.httpSrv = hs
	a.addr = ln.Addr()
	a.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		var err error
		if tls := a.cfg.Server.TLS; tls != nil {
			err = hs.ServeTLS(ln, tls.CertFile, tls.KeyFile)
		} else {
			err = hs.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("app: serve: %w", err)
	})

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownGrace)
		defer cancel()
		return hs.Shutdown(shutdownCtx)
	})

	if a.autoConnect {
		g.Go(func() error {
			if err := a.orch.Connect(gctx); err != nil && gctx.Err() == nil {
				a.log.Error("app: auto-connect failed", "err", err)
			}
			return nil
		})
	}

	a.log.Info("app: control surface listening", "addr", ln.Addr().String())
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// ─── Shutdown ────────────────────────────────────────────────────────────────

// Shutdown ends the active session, releases all devices and flushes
// telemetry. It is safe to call more than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		var errs []error
		a.mu.Lock()
		hs := a.httpSrv
		a.mu.Unlock()
		if hs != nil {
			if err := hs.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errs = append(errs, fmt.Errorf("app: http shutdown: %w", err))
			}
		}
		errs = append(errs, a.runClosers(ctx))
		a.stopErr = errors.Join(errs...)
	})
	return a.stopErr
}

// runClosers calls the registered closers in reverse order.
func (a *App) runClosers(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
