// Package backoffice assembles the admin consistency layer: storage, the
// leaderboard cache, the client state store, the mutation coordinator and
// the event fan-out.
package backoffice

import (
	"context"
	"errors"
	"log/slog"
	"time"

	mem "hotlympics/adapters/memory"
	"hotlympics/analytics"
	"hotlympics/core"
	"hotlympics/engine"
	"hotlympics/leaderboard"
	"hotlympics/realtime"
	"hotlympics/state"
)

// Remote is everything the back office needs from the Hotlympics API.
// The sdk client satisfies it.
type Remote interface {
	engine.PhotoAPI
	engine.UserAPI
	engine.StatsRefresher
	leaderboard.Fetcher
}

// Option configures the back office builder.
type Option func(*config)

type config struct {
	storage     engine.Storage
	remote      Remote
	mode        engine.DispatchMode
	hub         *realtime.Hub
	metrics     *analytics.Metrics
	prewarmer   leaderboard.Prewarmer
	hooks       []analytics.Hook
	logger      *slog.Logger
	clock       func() time.Time
	concurrency int
}

// WithStorage sets the persistence adapter behind the leaderboard cache.
func WithStorage(s engine.Storage) Option { return func(c *config) { c.storage = s } }

// WithRemote sets the API collaborator.
func WithRemote(r Remote) Option { return func(c *config) { c.remote = r } }

// WithDispatchMode selects sync or async event dispatch.
func WithDispatchMode(m engine.DispatchMode) Option { return func(c *config) { c.mode = m } }

// WithRealtime wires a realtime hub to receive all mutation events.
func WithRealtime(h *realtime.Hub) Option { return func(c *config) { c.hub = h } }

// WithMetrics records cache and mutation outcomes.
func WithMetrics(m *analytics.Metrics) Option { return func(c *config) { c.metrics = m } }

// WithPrewarmer sets how leaderboard images are warmed.
func WithPrewarmer(p leaderboard.Prewarmer) Option { return func(c *config) { c.prewarmer = p } }

// WithHooks adds event sinks such as webhooks.
func WithHooks(h ...analytics.Hook) Option {
	return func(c *config) { c.hooks = append(c.hooks, h...) }
}

func WithLogger(l *slog.Logger) Option { return func(c *config) { c.logger = l } }

func WithClock(now func() time.Time) Option { return func(c *config) { c.clock = now } }

// WithRefreshConcurrency bounds RefreshMany.
func WithRefreshConcurrency(n int) Option { return func(c *config) { c.concurrency = n } }

// Service bundles the assembled components.
type Service struct {
	Admin        *engine.AdminService
	Leaderboards *leaderboard.Cache
	Activity     *analytics.Activity
	Hub          *realtime.Hub
	Metrics      *analytics.Metrics

	bus   *engine.EventBus
	store *state.Store
}

// New builds a configured Service. If not provided, defaults are used:
//   - storage: in-memory
//   - dispatch: async
//   - prewarmer: none
func New(opts ...Option) (*Service, error) {
	cfg := &config{mode: engine.DispatchAsync, logger: slog.Default(), clock: time.Now}
	for _, o := range opts {
		o(cfg)
	}
	if cfg.remote == nil {
		return nil, errors.New("backoffice: a remote API is required")
	}
	if cfg.storage == nil {
		cfg.storage = mem.New()
	}

	bus := engine.NewEventBus(cfg.mode, engine.WithBusLogger(cfg.logger))
	store := state.NewStore(state.New())
	activity := analytics.NewActivity()

	hooks := append([]analytics.Hook{activity}, cfg.hooks...)
	if cfg.metrics != nil {
		hooks = append(hooks, cfg.metrics)
	}
	bridge := analytics.NewBridge(hooks...)
	bus.Subscribe(engine.AllEvents, func(ctx context.Context, e core.Event) { bridge.OnEvent(e) })
	if cfg.hub != nil {
		bus.Subscribe(engine.AllEvents, cfg.hub.Broadcast)
	}

	cacheStore := engine.NewCacheStore(cfg.storage,
		engine.WithStoreLogger(cfg.logger),
		engine.WithStoreClock(cfg.clock),
	)
	lbOpts := []leaderboard.Option{leaderboard.WithLogger(cfg.logger)}
	if cfg.prewarmer != nil {
		lbOpts = append(lbOpts, leaderboard.WithPrewarmer(cfg.prewarmer))
	}
	if cfg.metrics != nil {
		lbOpts = append(lbOpts, leaderboard.WithRecorder(cfg.metrics))
	}
	if cfg.concurrency > 0 {
		lbOpts = append(lbOpts, leaderboard.WithConcurrency(cfg.concurrency))
	}

	admin := engine.NewAdminService(cfg.remote, cfg.remote, store, bus,
		engine.WithStatsRefresher(cfg.remote),
		engine.WithLogger(cfg.logger),
		engine.WithClock(cfg.clock),
	)

	return &Service{
		Admin:        admin,
		Leaderboards: leaderboard.NewCache(cacheStore, cfg.remote, lbOpts...),
		Activity:     activity,
		Hub:          cfg.hub,
		Metrics:      cfg.metrics,
		bus:          bus,
		store:        store,
	}, nil
}

// Close stops accepting reconciliations, waits for background work and
// drains the event bus.
func (s *Service) Close() {
	s.store.Close()
	s.Admin.Wait()
	s.Leaderboards.WaitPreloads()
	s.bus.Close()
}
