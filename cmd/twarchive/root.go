package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/spf13/cobra"
	"twarchive/pkg/auth"
	"twarchive/pkg/config"
	"twarchive/pkg/logger"
	"twarchive/pkg/metrics"
	"twarchive/pkg/ratelimit"
	"twarchive/pkg/resolver"
	"twarchive/pkg/store"
	"twarchive/pkg/twitter"
	"twarchive/pkg/ui"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
	logFormat  string
	dbDriver   string
	dbDSN      string
	account    string
	noColor    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "twarchive",
	Short: "Archive public timelines and filtered streams",
	Long: `twarchive tracks a curated list of accounts, harvests their timelines into
a relational store, captures filtered live streams into rotating files, and
exports what it has collected.

Features:
  - Handle to stable id resolution with rename tracking
  - Incremental, rate-limit aware timeline harvesting
  - Scheduled harvests with job history and error records
  - Rotating, optionally gzip-compressed stream capture
  - CSV export with derived fields
  - Bulk fetch of items by id`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		ui.SetNoColor(noColor)
	},
}

// exitError carries a specific process exit status.
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		ui.PrintError("Error", err)
		var ee *exitError
		if errors.As(err, &ee) {
			os.Exit(ee.code)
		}
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.config/twarchive/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format (console, json)")
	rootCmd.PersistentFlags().StringVar(&dbDriver, "db-driver", "", "database driver (sqlite, postgres)")
	rootCmd.PersistentFlags().StringVar(&dbDSN, "db-dsn", "", "database DSN or sqlite path")
	rootCmd.PersistentFlags().StringVarP(&account, "account", "a", "", "stored credential to use (default: api.default_account)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.SetVersionTemplate(`twarchive {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// app bundles what most commands need once configuration is loaded.
type app struct {
	cfg *config.Config
	log logger.Logger
}

// loadApp loads configuration with flag overrides and initializes logging.
func loadApp(extra map[string]interface{}) (*app, error) {
	flags := map[string]interface{}{
		"log-level":  logLevel,
		"log-format": logFormat,
		"db-driver":  dbDriver,
		"db-dsn":     dbDSN,
		"account":    account,
	}
	for k, v := range extra {
		flags[k] = v
	}

	cfg, err := config.Load(configFile, flags)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(&cfg.Logging); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return &app{cfg: cfg, log: logger.GetLogger()}, nil
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	return store.Open(ctx, a.cfg.Database, a.log)
}

// client builds an API client for the configured credential.
func (a *app) client(m *metrics.Metrics) (*twitter.Client, error) {
	creds, err := a.credentials()
	if err != nil {
		return nil, err
	}
	c := twitter.NewClient(a.cfg, creds, a.log)
	c.SetTransport(m.Transport(nil))
	return c, nil
}

// credentials pairs the configured consumer key with the stored access
// token of the default account.
func (a *app) credentials() (twitter.Credentials, error) {
	manager, err := auth.NewManager()
	if err != nil {
		return twitter.Credentials{}, fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	session, err := manager.Session(a.cfg.API.DefaultAccount)
	if err != nil {
		return twitter.Credentials{}, fmt.Errorf("credential %q: %w", a.cfg.API.DefaultAccount, err)
	}
	return twitter.Credentials{
		ConsumerKey:       a.cfg.API.ConsumerKey,
		ConsumerSecret:    a.cfg.API.ConsumerSecret,
		AccessToken:       session.AccessToken,
		AccessTokenSecret: session.AccessTokenSecret,
	}, nil
}

func (a *app) pacer(src ratelimit.AdvisorySource) *ratelimit.Pacer {
	return ratelimit.NewPacer(src, ratelimit.PolicyFromConfig(a.cfg.RateLimit), a.log)
}

// resolver wires a Resolver to the API. Without a usable credential every
// lookup fails as an auth error, which still lets inactive accounts be added.
func (a *app) resolver(st *store.Store, m *metrics.Metrics) *resolver.Resolver {
	c, err := a.client(m)
	if err != nil {
		a.log.WithError(err).Debug("no API client available")
		return resolver.New(st, resolver.Unavailable(err), nil, a.log)
	}
	return resolver.New(st, c, a.pacer(c), a.log)
}

// resolverOffline is a Resolver for commands that only read or toggle
// accounts locally.
func (a *app) resolverOffline(st *store.Store) *resolver.Resolver {
	return resolver.New(st, resolver.Unavailable(auth.ErrNoCredential), nil, a.log)
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

// serveMetrics starts the metrics endpoint when addr is set.
func (a *app) serveMetrics(ctx context.Context, m *metrics.Metrics) {
	if a.cfg.Metrics.Addr == "" {
		return
	}
	go func() {
		a.log.InfoWithFields("serving metrics", map[string]interface{}{"addr": a.cfg.Metrics.Addr})
		if err := m.Serve(ctx, a.cfg.Metrics.Addr); err != nil {
			a.log.WithError(err).Error("metrics endpoint failed")
		}
	}()
}
