// Package cli implements the hotlympicsctl commands.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"hotlympics/backoffice"
	"hotlympics/config"
	"hotlympics/engine"
	"hotlympics/leaderboard"
	sdk "hotlympics/sdk/go"
)

type rootOptions struct {
	configFile string
	profile    string
	apiURL     string
	storage    string
	token      string
	output     string
	verbose    bool
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "hotlympicsctl",
		Short:         "Hotlympics back office CLI",
		Long:          "Inspect and refresh the leaderboard cache and run admin mutations against the Hotlympics API.",
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.configFile, "config", "", "JSON config file (default: environment and .env)")
	pf.StringVar(&opts.profile, "profile", "", "config profile: development, testing, staging, production")
	pf.StringVar(&opts.apiURL, "api", "", "remote API base URL (overrides config)")
	pf.StringVar(&opts.storage, "storage", "", "storage adapter: memory, file, redis, sql (overrides config)")
	pf.StringVar(&opts.token, "token", "", "bearer token for the remote API (default: secret named by api.token_env)")
	pf.StringVarP(&opts.output, "output", "o", "text", "output format: text or json")
	pf.BoolVarP(&opts.verbose, "verbose", "v", false, "log debug output to stderr")

	root.AddCommand(
		newCacheCmd(opts),
		newUsersCmd(opts),
		newPhotosCmd(opts),
		newWatchCmd(opts),
	)
	return root
}

func (o *rootOptions) loadConfig() (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case o.configFile != "":
		cfg, err = config.LoadFromFile(o.configFile)
	case o.profile != "":
		cfg, err = config.LoadProfile(o.profile)
	default:
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if o.apiURL != "" {
		cfg.API.BaseURL = o.apiURL
	}
	if o.storage != "" {
		cfg.Storage.Adapter = o.storage
	}
	return cfg, nil
}

func (o *rootOptions) logger(stderr io.Writer) *slog.Logger {
	level := slog.LevelWarn
	if o.verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
}

// session is an assembled service plus everything that must be released.
type session struct {
	cfg     *config.Config
	svc     *backoffice.Service
	storage engine.Storage
}

func (s *session) Close() {
	s.svc.Close()
	if c, ok := s.storage.(io.Closer); ok {
		_ = c.Close()
	}
}

func (o *rootOptions) open(cmd *cobra.Command) (*session, error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, err
	}
	ctx := cmd.Context()
	logger := o.logger(cmd.ErrOrStderr())

	token := o.token
	if token == "" {
		token = config.NewEnvironmentSecretStore().GetWithDefault(ctx, cfg.API.TokenEnv, "")
	}
	client, err := sdk.NewClient(cfg.API.BaseURL,
		sdk.WithHTTPClient(&http.Client{Timeout: cfg.API.Timeout}),
		sdk.WithAuthToken(token),
	)
	if err != nil {
		return nil, err
	}
	storage, err := backoffice.OpenStorage(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	opts := []backoffice.Option{
		backoffice.WithRemote(client),
		backoffice.WithStorage(storage),
		backoffice.WithLogger(logger),
		backoffice.WithDispatchMode(engine.DispatchSync),
		backoffice.WithRefreshConcurrency(cfg.Cache.RefreshConcurrency),
	}
	if cfg.Cache.PreloadImages {
		opts = append(opts, backoffice.WithPrewarmer(leaderboard.NewHTTPPrewarmer(cfg.Cache.PrewarmTimeout)))
	}
	svc, err := backoffice.New(opts...)
	if err != nil {
		if c, ok := storage.(io.Closer); ok {
			_ = c.Close()
		}
		return nil, err
	}
	return &session{cfg: cfg, svc: svc, storage: storage}, nil
}

// print writes v as indented JSON, or calls text when the output is text.
func (o *rootOptions) print(w io.Writer, v any, text func(io.Writer)) error {
	switch o.output {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "text", "":
		text(w)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", o.output)
	}
}
