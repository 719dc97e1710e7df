package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/plenumhq/plenum/internal/action"
	"github.com/plenumhq/plenum/internal/auth"
	"github.com/plenumhq/plenum/internal/config"
	"github.com/plenumhq/plenum/internal/datastore"
	"github.com/plenumhq/plenum/internal/logging"
	"github.com/plenumhq/plenum/internal/messagebus"
	"github.com/plenumhq/plenum/internal/server"
	"github.com/plenumhq/plenum/internal/telemetry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the action server",
	Long: `Start the HTTP server and handle action requests until SIGINT or
SIGTERM. Configuration comes from plenum.yaml, PLENUM_* environment
variables and command line flags, in ascending precedence.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, err := config.Load(configPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	applyFlagOverrides(cmd, cfg)

	log := logging.New(cfg.Log.Level, cfg.Log.Format)
	log.Info().
		Str("version", Version).
		Str("listen", cfg.Listen).
		Str("reader", cfg.Datastore.ReaderURL).
		Str("writer", cfg.Datastore.WriterURL).
		Bool("auth_disabled", cfg.Auth.Disabled).
		Msg("starting plenumd")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := telemetry.Init(ctx, "plenum", Version); err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		telemetry.Shutdown(flushCtx)
	}()

	engine := telemetry.WrapEngine(datastore.NewHTTPEngine(
		&http.Client{Timeout: cfg.Datastore.Timeout},
		cfg.Datastore.ReaderURL,
		cfg.Datastore.WriterURL,
		logging.Component(log, "datastore"),
	))
	authService := auth.New(
		cfg.Auth.URL,
		cfg.Auth.TokenSecret,
		cfg.Auth.CookieSecret,
		cfg.Auth.Disabled,
		logging.Component(log, "auth"),
	)
	bus, err := messagebus.New(cfg.Redis.URL, logging.Component(log, "messagebus"))
	if err != nil {
		return fmt.Errorf("connecting message bus: %w", err)
	}
	defer bus.Close()

	srv := server.NewServer(server.Config{
		Handler: &action.Handler{
			Engine: engine,
			Hash:   authService,
			Log:    logging.Component(log, "action"),
		},
		Auth:           authService,
		Bus:            bus,
		Log:            logging.Component(log, "server"),
		RequestTimeout: cfg.RequestTimeout,
	})

	// Runtime log level changes without a restart.
	loader.Watch(func(fresh *config.Config) {
		logging.SetLevel(fresh.Log.Level)
		log.Info().Str("level", fresh.Log.Level).Msg("config reloaded")
	})

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := srv.Start(cfg.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		drainCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(drainCtx)
	})
	return g.Wait()
}

// applyFlagOverrides lets explicitly set command line flags win over file
// and environment values.
func applyFlagOverrides(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("listen") {
		cfg.Listen = flagListen
	}
	if flags.Changed("datastore-reader-url") {
		cfg.Datastore.ReaderURL = flagReaderURL
	}
	if flags.Changed("datastore-writer-url") {
		cfg.Datastore.WriterURL = flagWriterURL
	}
	if flags.Changed("auth-url") {
		cfg.Auth.URL = flagAuthURL
	}
	if flags.Changed("redis-url") {
		cfg.Redis.URL = flagRedisURL
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = flagLogLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = flagLogFormat
	}
}
