// Package main implements the country_sync binary that mirrors the public
// country feed into PostgreSQL and optionally serves it over HTTP.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/cybertec-postgresql/country_sync/internal/api"
	"github.com/cybertec-postgresql/country_sync/internal/db"
	"github.com/cybertec-postgresql/country_sync/internal/etcd"
	"github.com/cybertec-postgresql/country_sync/internal/feed"
	"github.com/cybertec-postgresql/country_sync/internal/log"
	"github.com/cybertec-postgresql/country_sync/internal/metrics"
	"github.com/cybertec-postgresql/country_sync/internal/sync"
)

// Config holds the application configuration
type Config struct {
	PostgresDSN   string        `short:"p" env:"COUNTRY_SYNC_POSTGRES_DSN" long:"postgres-dsn" description:"PostgreSQL connection string"`
	EtcdDSN       string        `short:"e" env:"COUNTRY_SYNC_ETCD_DSN" long:"etcd-dsn" description:"etcd connection string; when set the last run status is published there"`
	LogLevel      string        `short:"l" env:"COUNTRY_SYNC_LOG_LEVEL" long:"log-level" description:"Log level: debug|info|warn|error" default:"info"`
	NoColor       bool          `long:"no-color" env:"COUNTRY_SYNC_NO_COLOR" description:"Disable colored log levels"`
	FeedURL       string        `long:"feed-url" env:"COUNTRY_SYNC_FEED_URL" description:"Country feed endpoint (default: restcountries.com v3.1)"`
	FetchTimeout  time.Duration `long:"fetch-timeout" env:"COUNTRY_SYNC_FETCH_TIMEOUT" description:"Timeout of the feed request" default:"30s"`
	FetchRetries  uint64        `long:"fetch-retries" env:"COUNTRY_SYNC_FETCH_RETRIES" description:"Retries of transient feed failures, 0 disables retrying" default:"0"`
	BatchSize     int           `short:"b" env:"COUNTRY_SYNC_BATCH_SIZE" long:"batch-size" description:"Number of countries persisted per transaction" default:"30"`
	Serve         bool          `long:"serve" env:"COUNTRY_SYNC_SERVE" description:"Serve the country API instead of syncing once"`
	ListenAddress string        `long:"listen-address" env:"COUNTRY_SYNC_LISTEN_ADDRESS" description:"HTTP listen address in serve mode" default:":8080"`
	SyncInterval  time.Duration `long:"sync-interval" env:"COUNTRY_SYNC_INTERVAL" description:"Periodic sync interval in serve mode, 0 disables it" default:"0s"`
	Version       bool          `short:"v" long:"version" description:"Show version information"`
	Help          bool
}

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// ParseCLI parses command-line arguments (without the program name) and returns the configuration
func ParseCLI(args []string) (cmdOpts *Config, err error) {
	cmdOpts = new(Config)
	parser := flags.NewParser(cmdOpts, flags.HelpFlag)
	nonParsedArgs, err := parser.ParseArgs(args)
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			cmdOpts.Help = true
		}
		if !flags.WroteHelp(err) {
			parser.WriteHelp(os.Stdout)
		}
		return cmdOpts, err
	}
	if len(nonParsedArgs) > 0 { // we don't expect any non-parsed arguments
		return cmdOpts, fmt.Errorf("unknown argument(s): %v", nonParsedArgs)
	}
	return
}

// ShowVersion prints version information
func ShowVersion(w io.Writer) {
	fmt.Fprintf(w, "country_sync version %s\n", version)
	if commit != "none" && commit != "" {
		fmt.Fprintf(w, "commit: %s\n", commit)
	}
	if date != "unknown" && date != "" {
		fmt.Fprintf(w, "built: %s\n", date)
	}
}

// SetupLogging configures the logging system with structured output
func SetupLogging(logLevel string, noColors bool) error {
	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}
	logrus.SetLevel(level)
	logrus.SetFormatter(log.NewFormatter(noColors))
	logrus.SetReportCaller(false)

	logrus.WithFields(logrus.Fields{
		"version": version,
		"commit":  commit,
		"pid":     os.Getpid(),
	}).Debug("country_sync logging initialized")

	return nil
}

// SetupCloseHandler cancels ctx when the process receives SIGINT or SIGTERM
func SetupCloseHandler(cancel context.CancelFunc) {
	c := make(chan os.Signal, 2)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-c
		logrus.Debug("SetupCloseHandler received an interrupt from OS. Closing session...")
		cancel()
	}()
}

// syncOnce performs a single run and renders the outcome for a human; it
// returns the process exit code
func syncOnce(ctx context.Context, svc *sync.Service, batchSize int, out io.Writer) int {
	fmt.Fprintf(out, "Starting country sync with batch size: %d\n", batchSize)
	result, err := svc.RunOnce(ctx)
	if err != nil {
		fmt.Fprintf(out, "Error occurred while syncing countries: %s\n", err)
		return 1
	}
	logrus.WithFields(logrus.Fields{
		"fetched":  result.Fetched,
		"inserted": result.Inserted,
		"updated":  result.Updated,
		"deleted":  result.Deleted,
		"duration": result.Duration,
	}).Info("Country sync finished")
	fmt.Fprintln(out, "Countries have been successfully synced.")
	return 0
}

// serve runs the HTTP API and the optional periodic sync until ctx is cancelled
func serve(ctx context.Context, config *Config, svc *sync.Service, store api.CountryRepository) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := &http.Server{
		Addr:              config.ListenAddress,
		Handler:           api.NewRouter(api.NewHandler(store), promhttp.Handler()),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logrus.WithField("address", config.ListenAddress).Info("Serving country API")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			cancel()
		}
	}()

	_ = svc.Start(ctx)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("HTTP server shutdown failed")
	}

	select {
	case err := <-serverErr:
		return fmt.Errorf("HTTP server failed: %w", err)
	default:
		return nil
	}
}

func execute(ctx context.Context, config *Config) int {
	if config.BatchSize < 1 {
		fmt.Printf("Error occurred while syncing countries: %s\n", &sync.ConfigurationError{BatchSize: config.BatchSize})
		return 1
	}

	pool, err := db.NewWithRetry(ctx, config.PostgresDSN)
	if err != nil {
		logrus.WithError(err).Error("Failed to connect to PostgreSQL after retries")
		return 1
	}
	defer pool.Close()

	if err := db.MigratePool(ctx, pool); err != nil {
		logrus.WithError(err).Error("Failed to apply migrations")
		return 1
	}

	store := db.NewCountryStore(pool)
	fetcher := feed.WithRetries(feed.NewClient(config.FeedURL, config.FetchTimeout), config.FetchRetries)
	svc := sync.NewService(sync.NewReconciler(fetcher, store), config.BatchSize, config.SyncInterval).
		WithMetrics(metrics.New(prometheus.DefaultRegisterer))

	if config.EtcdDSN != "" {
		publisher, err := etcd.NewPublisherWithRetry(ctx, config.EtcdDSN)
		if err != nil {
			logrus.WithError(err).Error("Failed to connect to etcd after retries")
			return 1
		}
		defer publisher.Close()
		svc.WithPublisher(publisher)
	}

	if !config.Serve {
		return syncOnce(ctx, svc, config.BatchSize, os.Stdout)
	}

	if err := serve(ctx, config, svc, store); err != nil {
		logrus.WithError(err).Error("Serve mode failed")
		return 1
	}
	logrus.Info("Graceful shutdown completed")
	return 0
}

func main() {
	// Quick check for version flags before full parsing
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			ShowVersion(os.Stdout)
			os.Exit(0)
		}
	}

	config, err := ParseCLI(os.Args[1:])
	if err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Printf("Error: %s\n", err)
		os.Exit(1)
	}

	if err := SetupLogging(config.LogLevel, config.NoColor); err != nil {
		logrus.WithError(err).Fatal("Failed to setup logging")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	SetupCloseHandler(cancel)

	code := execute(ctx, config)
	cancel()
	os.Exit(code)
}
