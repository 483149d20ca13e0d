package telgpt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/lmittmann/tint"
	"golang.org/x/sync/errgroup"
)

var (
	// When building, set these like:
	// -ldflags "-X github.com/telneko/TelGPT-DiscordBot/telgpt.Version=$$(date +'%Y%m%d')"

	Version   = "dev"
	CommitSHA = "unknown"
	BuildTime = "unknown"
)

// TelGPT wires the Discord gateway to the configured AI providers
type TelGPT struct {
	config     *Config
	logger     *slog.Logger
	discord    *Discord
	status     *StatusNotifier
	router     *Router
	providers  map[string]Provider
	translator Translator
	metrics    *Metrics
	server     *StatusServer

	// runMu prevents concurrent runs
	runMu sync.Mutex

	// trackMu orders runtimeWG.Add against the shutdown Wait
	trackMu sync.Mutex
}

// New builds a TelGPT from config. Providers without a token are left
// out, along with their slash commands. The gateway session isn't
// created until Run.
func New(config *Config) (*TelGPT, error) {
	var errs []error

	if config.HTTPClient == nil {
		config.HTTPClient = &http.Client{Timeout: config.RequestTimeout}
	}

	t := &TelGPT{
		config:  config,
		metrics: newMetrics(),
	}

	t.logger = newLogger(config.LogLevel, "telgpt")
	slog.SetDefault(t.logger)

	config.Discord.httpClient = config.HTTPClient
	t.discord = newDiscord(config.Discord, newLogger(config.Discord.LogLevel, "discord"))
	t.discord.metrics = t.metrics

	discordgo.Logger = discordgoLoggerFunc(
		context.Background(),
		tint.NewHandler(
			defaultLogWriter, &tint.Options{
				Level:     config.Discord.DiscordGoLogLevel,
				AddSource: true,
			},
		).WithAttrs([]slog.Attr{slog.String(loggerNameKey, "discordgo")}),
	)

	var providersLevel slog.Leveler
	if config.Providers != nil && config.Providers.LogLevel != nil {
		providersLevel = config.Providers.LogLevel
	}
	providers, err := buildProviders(config, providersLevel)
	errs = append(errs, err)
	t.providers = make(map[string]Provider, len(providers))
	for name, p := range providers {
		t.providers[name] = instrumentProvider(p, t.metrics)
	}
	t.translator = newTranslator(config.DeepL, config.HTTPClient, newLogger(providersLevel, "deepl"))

	if config.StatusServer != nil && config.StatusServer.Enabled {
		t.server = newStatusServer(
			config.StatusServer,
			t.discord,
			t.metrics,
			newLogger(config.StatusServer.LogLevel, "status_server"),
		)
	}

	return t, errors.Join(errs...)
}

// buildProviders creates a client for every provider with a token set
func buildProviders(config *Config, level slog.Leveler) (map[string]Provider, error) {
	var errs []error
	providers := map[string]Provider{}
	httpClient := config.HTTPClient

	if providerConfigured(config, ProviderOpenAI) {
		providers[ProviderOpenAI] = newOpenAI(config.OpenAI, httpClient)
	}
	if providerConfigured(config, ProviderGemini) {
		g, err := newGemini(context.Background(), config.Gemini, httpClient, newLogger(level, "gemini"))
		if err != nil {
			errs = append(errs, err)
		} else {
			providers[ProviderGemini] = g
		}
	}
	if providerConfigured(config, ProviderClaude) {
		providers[ProviderClaude] = newClaude(config.Claude, httpClient, newLogger(level, "claude"))
	}
	if providerConfigured(config, ProviderStability) {
		providers[ProviderStability] = newStability(
			config.Stability,
			httpClient,
			config.TempDir,
			newLogger(level, "stability"),
		)
	}
	if providerConfigured(config, ProviderGitHub) {
		providers[ProviderGitHub] = newGitHub(config.GitHub, httpClient, newLogger(level, "github"))
	}
	return providers, errors.Join(errs...)
}

// Metrics returns the bot's collectors
func (t *TelGPT) Metrics() *Metrics {
	return t.metrics
}

// Run connects to the Discord gateway, registers slash commands and
// handles events until ctx is canceled, then shuts down gracefully.
func (t *TelGPT) Run(ctx context.Context) error {
	t.runMu.Lock()
	defer t.runMu.Unlock()

	logger := t.logger
	if err := t.config.Validate(); err != nil {
		logger.Error("invalid config", tint.Err(err))
		return err
	}
	ctx = WithLogger(ctx, logger)
	logger.LogAttrs(ctx, slog.LevelInfo, "starting", slog.Any("config", t.config))

	// event handlers run on a context that outlives the runtime context,
	// so in-flight requests can finish during shutdown
	handlerCtx := context.WithoutCancel(ctx)
	runtimeWG := &sync.WaitGroup{}

	g, ctx := errgroup.WithContext(ctx)

	if t.server != nil {
		g.Go(
			func() error {
				return t.server.Serve(ctx)
			},
		)
	}

	if err := t.initDiscordSession(ctx, handlerCtx, runtimeWG); err != nil {
		logger.ErrorContext(ctx, "error creating discord session", tint.Err(err))
		return errors.Join(err, t.stopServer(), g.Wait())
	}

	if err := t.discordInit(ctx); err != nil {
		logger.ErrorContext(ctx, "init error", tint.Err(err))
		t.removeHandlers()
		return errors.Join(err, t.discord.session.Close(), t.stopServer(), g.Wait())
	}

	g.Go(
		func() error {
			<-ctx.Done()
			return t.shutdown(runtimeWG)
		},
	)
	return g.Wait()
}

// initDiscordSession creates the gateway session (unless one was
// already set) and adds the event handlers. Each message or interaction
// is handled in its own goroutine, tracked by runtimeWG.
func (t *TelGPT) initDiscordSession(
	ctx context.Context,
	handlerCtx context.Context,
	runtimeWG *sync.WaitGroup,
) error {
	if t.discord.session == nil {
		session, err := t.discord.newSession()
		if err != nil {
			return fmt.Errorf("error creating discord session: %w", err)
		}
		t.discord.session = session
	}
	session := t.discord.session

	t.status = newStatusNotifier(session, t.config.Discord, t.metrics, t.discord.logger)
	t.discord.status = t.status
	t.router = newRouter(
		t.config,
		session,
		t.providers,
		t.translator,
		t.discord.BotUserID,
		t.metrics,
		t.logger.With(loggerNameKey, "router"),
	)

	t.removeHandlers()
	session.SetIdentify(discordgo.Identify{Intents: t.config.Discord.GatewayIntents})

	// track returns false once shutdown has started, so nothing new is
	// added to runtimeWG while it's being waited on
	track := func() bool {
		t.trackMu.Lock()
		defer t.trackMu.Unlock()
		if ctx.Err() != nil {
			return false
		}
		runtimeWG.Add(1)
		return true
	}

	t.discord.removeHandlerFuncs = []func(){
		session.AddHandler(t.discord.handlerConnect()),
		session.AddHandler(t.discord.handlerDisconnect()),
		session.AddHandler(t.discord.handlerResumed()),
		session.AddHandler(t.discord.handlerReady()),
		session.AddHandler(
			func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
				if !track() {
					t.logger.Warn("shutting down, ignoring interaction", interactionLogAttrs(*i)...)
					return
				}
				go func() {
					defer runtimeWG.Done()
					t.router.HandleInteraction(handlerCtx, i)
				}()
			},
		),
		session.AddHandler(
			func(_ *discordgo.Session, m *discordgo.MessageCreate) {
				if m == nil || m.Message == nil {
					return
				}
				if !track() {
					t.logger.Debug("shutting down, ignoring message", messageLogAttrs(m.Message)...)
					return
				}
				go func() {
					defer runtimeWG.Done()
					t.router.HandleMessage(handlerCtx, m.Message)
				}()
			},
		),
	}
	return nil
}

// discordInit opens the gateway connection and registers slash commands,
// within the startup timeout
func (t *TelGPT) discordInit(ctx context.Context) error {
	startCtx := ctx
	if t.config.StartupTimeout > 0 {
		var cancel context.CancelFunc
		startCtx, cancel = context.WithTimeout(ctx, t.config.StartupTimeout)
		defer cancel()
	}

	t.logger.InfoContext(ctx, "connecting to discord")
	openErr := make(chan error, 1)
	go func() {
		openErr <- t.discord.session.Open()
	}()
	select {
	case <-startCtx.Done():
		return fmt.Errorf("startup cancelled or timed out: %w", startCtx.Err())
	case err := <-openErr:
		if err != nil {
			return fmt.Errorf("error connecting to discord: %w", err)
		}
	}

	commands := applicationCommands(t.config)
	created, err := t.discord.registerCommands(commands, discordgo.WithContext(startCtx))
	if err != nil {
		return err
	}
	t.logger.InfoContext(ctx, "registered commands", "count", len(created))
	return nil
}

// shutdown announces the stop, waits up to ShutdownTimeout for in-flight
// work, then closes the session and the status server
func (t *TelGPT) shutdown(runtimeWG *sync.WaitGroup) error {
	shutdownStart := time.Now()
	t.logger.Warn("shutting down", "shutdown_timeout", t.config.ShutdownTimeout)

	if t.status != nil {
		t.status.stopping()
	}

	// once ctx is done, no handler can add to runtimeWG after this
	t.trackMu.Lock()
	t.trackMu.Unlock() //nolint:staticcheck // barrier

	drained := make(chan struct{})
	go func() {
		runtimeWG.Wait()
		close(drained)
	}()

	var errs []error
	timer := time.NewTimer(t.config.ShutdownTimeout)
	defer timer.Stop()
	select {
	case <-drained:
		t.logger.Info("in-flight requests finished", "duration", time.Since(shutdownStart))
	case <-timer.C:
		err := errors.New("in-flight requests did not finish in time")
		t.logger.Error("shutdown timed out", tint.Err(err))
		errs = append(errs, err)
	}

	t.removeHandlers()
	if err := t.discord.session.Close(); err != nil {
		t.logger.Error("error closing discord session", tint.Err(err))
		errs = append(errs, fmt.Errorf("error closing discord session: %w", err))
	}
	errs = append(errs, t.stopServer())

	t.logger.Info("stopped", "duration", time.Since(shutdownStart))
	return errors.Join(errs...)
}

func (t *TelGPT) removeHandlers() {
	for _, remove := range t.discord.removeHandlerFuncs {
		remove()
	}
	t.discord.removeHandlerFuncs = []func(){}
}

func (t *TelGPT) stopServer() error {
	if t.server == nil {
		return nil
	}
	timeout := t.config.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := t.server.Shutdown(ctx); err != nil {
		t.logger.Error("error shutting down status server", tint.Err(err))
		return fmt.Errorf("error shutting down status server: %w", err)
	}
	return nil
}
