package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	openvia "github.com/openvia/openvia"
	"github.com/openvia/openvia/channel/feishu"
	"github.com/openvia/openvia/channel/telegram"
	"github.com/openvia/openvia/internal/app"
	"github.com/openvia/openvia/internal/config"
	"github.com/openvia/openvia/observer"
	"github.com/openvia/openvia/provider/resolve"
	"github.com/openvia/openvia/store/postgres"
	"github.com/openvia/openvia/store/sqlite"
	"github.com/openvia/openvia/tools/file"
	"github.com/openvia/openvia/tools/shell"
	"github.com/openvia/openvia/tools/skill"

	"github.com/jackc/pgx/v5/pgxpool"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "openvia:", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config: defaults -> file -> env -> flags.
	configPath := flag.String("config", os.Getenv("OPENVIA_CONFIG"), "path to TOML config file")
	adapter := flag.String("adapter", "", "channel to serve: telegram, feishu, or all")
	format := flag.String("format", "", "LLM wire format (openai, claude, gemini, responses, ...)")
	model := flag.String("model", "", "LLM model name")
	baseURL := flag.String("base-url", "", "LLM base URL")
	apiKey := flag.String("api-key", "", "LLM API key")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error")
	flag.Parse()

	cfg := config.Load(*configPath)
	applyFlags(&cfg, *adapter, *format, *model, *baseURL, *apiKey, *logLevel)

	logger := newLogger(cfg.Logging)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Observability (optional).
	var tracer openvia.Tracer
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx)
		if err != nil {
			return fmt.Errorf("observer init: %w", err)
		}
		defer func() {
			shutdownCtx, c := context.WithTimeout(context.Background(), 10*time.Second)
			defer c()
			if err := shutdown(shutdownCtx); err != nil {
				logger.Warn("observer shutdown failed", "error", err)
			}
		}()
		tracer = observer.NewTracer()
	}

	// 3. LLM provider.
	provider, err := resolve.Provider(resolve.Config{
		Format:      cfg.LLM.Format,
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		BaseURL:     cfg.LLM.BaseURL,
		Temperature: cfg.LLM.Temperature,
		TopP:        cfg.LLM.TopP,
		Thinking:    cfg.LLM.Thinking,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     time.Duration(cfg.LLM.TimeoutSecs) * time.Second,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	if inst != nil {
		provider = observer.WrapProvider(provider, cfg.LLM.Model, inst)
	}

	// 4. Tools.
	registry := openvia.NewRegistry(logger)
	registry.RegisterAll(shell.Definitions())
	registry.RegisterAll(file.Definitions())
	registry.RegisterAll(skill.New(cfg.Gateway.SkillsDir).Definitions())

	// 5. Policy with optional durable audit.
	policyOpts := []openvia.EngineOption{openvia.WithPolicyLogger(logger)}
	if len(cfg.LLM.ShellConfirmList) > 0 {
		policyOpts = append(policyOpts, openvia.WithConfirmList(cfg.LLM.ShellConfirmList))
	}
	sink, closeSink, err := auditSink(ctx, cfg.Audit, logger)
	if err != nil {
		return err
	}
	if closeSink != nil {
		defer closeSink()
	}
	if sink != nil {
		policyOpts = append(policyOpts, openvia.WithAuditSink(sink))
	}
	policy := openvia.NewEngine(policyOpts...)

	// 6. Core wiring.
	executor := openvia.NewExecutor(registry, logger)
	sessions := openvia.NewSessionManager(logger)
	sessions.StartSweeper(ctx)
	bridge := openvia.NewBridge(logger)

	gatewayOpts := []openvia.GatewayOption{
		openvia.WithLogger(logger),
		openvia.WithMaxIterations(cfg.LLM.MaxIterations),
		openvia.WithWorkRoot(cfg.Gateway.WorkRoot),
	}
	if cfg.LLM.SystemPrompt != "" {
		gatewayOpts = append(gatewayOpts, openvia.WithSystemPrompt(cfg.LLM.SystemPrompt))
	}
	if tracer != nil {
		gatewayOpts = append(gatewayOpts, openvia.WithTracer(tracer))
	}
	gateway := openvia.NewGateway(provider, registry, executor, policy, sessions, gatewayOpts...)

	// 7. Channels. Approval prompts route to the originating channel.
	channels, err := buildChannels(cfg.Adapters, bridge, logger)
	if err != nil {
		return err
	}
	notifiers := make(map[string]openvia.PermissionNotifier)
	for _, ch := range channels {
		if n, ok := ch.(openvia.PermissionNotifier); ok {
			notifiers[ch.ID()] = n
		}
	}
	bridge.RegisterHandler(func(ctx context.Context, req openvia.PermissionRequest) error {
		n, ok := notifiers[req.Context.ChannelID]
		if !ok {
			return fmt.Errorf("no notifier for channel %q", req.Context.ChannelID)
		}
		return n.HandlePermissionRequest(ctx, req)
	})

	logger.Info("openvia starting",
		"provider", provider.Name(), "model", cfg.LLM.Model, "channels", len(channels))

	// 8. Run until SIGINT/SIGTERM.
	return app.New(gateway, bridge, channels, logger).RunWithSignal()
}

// applyFlags overrides config with non-empty CLI flag values.
func applyFlags(cfg *config.Config, adapter, format, model, baseURL, apiKey, logLevel string) {
	if adapter != "" {
		cfg.Adapters.Default = adapter
	}
	if format != "" {
		cfg.LLM.Format = format
	}
	if model != "" {
		cfg.LLM.Model = model
	}
	if baseURL != "" {
		cfg.LLM.BaseURL = baseURL
	}
	if apiKey != "" {
		cfg.LLM.APIKey = apiKey
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
}

func newLogger(lc config.LoggingConfig) *slog.Logger {
	level := slog.LevelInfo
	switch lc.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if lc.Verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// auditSink builds the configured durable sink, or nil for in-memory only.
func auditSink(ctx context.Context, ac config.AuditConfig, logger *slog.Logger) (openvia.AuditSink, func(), error) {
	switch ac.Backend {
	case "", "none":
		return nil, nil, nil
	case "sqlite":
		s := sqlite.New(ac.SQLitePath, sqlite.WithLogger(logger))
		if err := s.Init(ctx); err != nil {
			return nil, nil, fmt.Errorf("sqlite audit init: %w", err)
		}
		return s, func() { _ = s.Close() }, nil
	case "postgres":
		pool, err := pgxpool.New(ctx, ac.PostgresURL)
		if err != nil {
			return nil, nil, fmt.Errorf("postgres audit connect: %w", err)
		}
		s := postgres.New(pool)
		if err := s.Init(ctx); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("postgres audit init: %w", err)
		}
		return s, pool.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown audit backend %q", ac.Backend)
	}
}

// buildChannels instantiates the configured adapters. The default selects a
// single adapter; "all" starts every adapter with credentials.
func buildChannels(ac config.AdaptersConfig, bridge *openvia.Bridge, logger *slog.Logger) ([]openvia.Channel, error) {
	wantTelegram := ac.Default == "telegram" || ac.Default == "all"
	wantFeishu := ac.Default == "feishu" || ac.Default == "all"

	var channels []openvia.Channel
	if wantTelegram {
		if ac.Telegram.BotToken == "" {
			return nil, fmt.Errorf("telegram adapter selected but bot_token is empty")
		}
		channels = append(channels, telegram.New(ac.Telegram.BotToken, bridge,
			telegram.WithAllowedUsers(ac.Telegram.AllowedUserIDs),
			telegram.WithLogger(logger)))
	}
	if wantFeishu {
		if ac.Feishu.AppID == "" || ac.Feishu.AppSecret == "" {
			return nil, fmt.Errorf("feishu adapter selected but app_id/app_secret are empty")
		}
		addr := ac.Feishu.ListenAddr
		if addr == "" {
			addr = ":8466"
		}
		channels = append(channels, feishu.New(ac.Feishu.AppID, ac.Feishu.AppSecret, addr, bridge,
			feishu.WithAllowedUsers(ac.Feishu.AllowedUserIDs),
			feishu.WithVerifyToken(ac.Feishu.VerifyToken),
			feishu.WithLogger(logger)))
	}
	if len(channels) == 0 {
		return nil, fmt.Errorf("unknown adapter %q", ac.Default)
	}
	return channels, nil
}
