package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"

	"hotlympics/analytics"
	"hotlympics/api/httpapi"
	"hotlympics/backoffice"
	"hotlympics/config"
	"hotlympics/engine"
	"hotlympics/integrations/webhook"
	"hotlympics/leaderboard"
	"hotlympics/realtime"
	sdk "hotlympics/sdk/go"
)

// App aggregates the assembled server components.
type App struct {
	Config  *config.Config
	Logger  *slog.Logger
	Hub     *realtime.Hub
	Storage engine.Storage
	Service *backoffice.Service
	Handler http.Handler
	Server  *http.Server
}

func provideConfig(ctx context.Context) (*config.Config, error) {
	if path := os.Getenv("HOTLYMPICS_CONFIG_FILE"); path != "" {
		return config.LoadFromFile(path)
	}
	if profile := os.Getenv("HOTLYMPICS_PROFILE"); profile != "" {
		return config.LoadProfile(profile)
	}
	return config.Load()
}

func provideLogger(cfg *config.Config) *slog.Logger {
	return setupLogging(cfg)
}

func provideHub() *realtime.Hub {
	return realtime.NewHub()
}

func provideStorage(ctx context.Context, cfg *config.Config) (engine.Storage, error) {
	return backoffice.OpenStorage(ctx, cfg.Storage)
}

func provideSecrets() config.SecretStore {
	return config.NewEnvironmentSecretStore()
}

// provideRemote builds the API client. The token is looked up per request so
// a rotated secret is picked up without a restart.
func provideRemote(ctx context.Context, cfg *config.Config, secrets config.SecretStore) (*sdk.Client, error) {
	if cfg.Environment == config.EnvProduction {
		if _, err := secrets.Get(ctx, cfg.API.TokenEnv); err != nil {
			return nil, err
		}
	}
	tokens := sdk.TokenFunc(func(ctx context.Context) (string, error) {
		return secrets.GetWithDefault(ctx, cfg.API.TokenEnv, ""), nil
	})
	return sdk.NewClient(cfg.API.BaseURL,
		sdk.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		sdk.WithTokenSource(tokens),
	)
}

func provideMetrics(cfg *config.Config) *analytics.Metrics {
	if !cfg.Metrics.Enabled {
		return nil
	}
	return analytics.NewMetrics(cfg.Metrics.Namespace)
}

func provideService(cfg *config.Config, logger *slog.Logger, hub *realtime.Hub, storage engine.Storage, remote *sdk.Client, metrics *analytics.Metrics) (*backoffice.Service, error) {
	opts := []backoffice.Option{
		backoffice.WithRemote(remote),
		backoffice.WithStorage(storage),
		backoffice.WithRealtime(hub),
		backoffice.WithLogger(logger),
		backoffice.WithDispatchMode(engine.DispatchAsync),
		backoffice.WithRefreshConcurrency(cfg.Cache.RefreshConcurrency),
	}
	if cfg.Cache.PreloadImages {
		opts = append(opts, backoffice.WithPrewarmer(leaderboard.NewHTTPPrewarmer(cfg.Cache.PrewarmTimeout)))
	}
	if metrics != nil {
		opts = append(opts, backoffice.WithMetrics(metrics))
	}
	if len(cfg.Webhooks.Endpoints) > 0 {
		sink := webhook.New(cfg.Webhooks.Endpoints,
			webhook.WithClient(&http.Client{Timeout: cfg.Webhooks.Timeout}),
			webhook.WithSecret(cfg.Webhooks.Secret),
			webhook.WithLogger(logger),
		)
		opts = append(opts, backoffice.WithHooks(sink))
	}
	return backoffice.New(opts...)
}

func provideHandler(svc *backoffice.Service, cfg *config.Config, logger *slog.Logger) http.Handler {
	return httpapi.NewMux(svc, httpapi.Options{
		PathPrefix:       cfg.Server.PathPrefix,
		AllowCORSOrigin:  cfg.Server.CORSOrigin,
		APIKeys:          cfg.Security.APIKeys,
		RateLimitEnabled: cfg.Security.EnableRateLimit,
		RateLimitRPM:     cfg.Security.RateLimit.RequestsPerMinute,
		RateLimitBurst:   cfg.Security.RateLimit.BurstSize,
		RateLimitCleanup: cfg.Security.RateLimit.CleanupInterval,
		CacheMaxAge:      cfg.Cache.MaxAge,
		PreloadImages:    cfg.Cache.PreloadImages,
		Leaderboards:     cfg.Cache.Leaderboards,
		MetricsPath:      cfg.Metrics.Path,
		Logger:           logger,
	})
}

func provideServer(cfg *config.Config, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           handler,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}
}

// setupLogging configures the logger based on configuration.
func setupLogging(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.Logging.Level),
	}

	out := os.Stdout
	if cfg.Logging.Output == "stderr" {
		out = os.Stderr
	}

	switch cfg.Logging.Format {
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		handler = slog.NewJSONHandler(out, opts)
	}

	if len(cfg.Logging.Attributes) > 0 {
		handler = handler.WithAttrs(convertAttributes(cfg.Logging.Attributes))
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func convertAttributes(attrs map[string]string) []slog.Attr {
	var result []slog.Attr
	for k, v := range attrs {
		result = append(result, slog.String(k, v))
	}
	return result
}
