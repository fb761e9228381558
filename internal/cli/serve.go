package cli

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/careviah/caregiver/internal/api"
	"github.com/careviah/caregiver/internal/api/middleware"
	"github.com/careviah/caregiver/internal/auth"
	"github.com/careviah/caregiver/internal/config"
	"github.com/careviah/caregiver/internal/resilience"
	"github.com/careviah/caregiver/internal/schedule"
	"github.com/careviah/caregiver/internal/telemetry"
	"github.com/careviah/caregiver/internal/worker"
)

func newServeCmd(opts *options) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the agent",
		Long:  "Poll the care API and serve the local API until interrupted.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}

			log, err := newLogger(os.Stdout, cfg)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return runServe(ctx, cfg, log)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	return cmd
}

// runServe wires the agent and blocks until ctx is cancelled or a component
// fails.
func runServe(ctx context.Context, cfg config.Config, log zerolog.Logger) error {
	log.Info().
		Str("build_time", BuildTime).
		Str("care_api", cfg.CareAPI.BaseURL).
		Msg("starting caregiver agent")

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    serviceName,
		ServiceVersion: Version,
		Environment:    cfg.Environment,
		Enabled:        cfg.Telemetry.Enabled,
		OTLPEndpoint:   cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return fmt.Errorf("initializing telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()
	if cfg.Telemetry.Enabled {
		log.Info().Str("otlp_endpoint", cfg.Telemetry.Endpoint).Msg("OpenTelemetry initialized")
	}

	metrics, err := middleware.NewMetrics()
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}

	warnAboutToken(ctx, cfg.CareAPI, log)

	registry := resilience.NewRegistry()
	client, err := newCareClient(cfg, registry, log)
	if err != nil {
		return err
	}

	store, err := newStore(cfg, log)
	if err != nil {
		return err
	}

	locator, reported, err := newLocator(cfg.Location)
	if err != nil {
		return err
	}

	executor := schedule.NewExecutor(schedule.ExecutorConfig{
		API:             client,
		Locator:         locator,
		LocateTimeout:   cfg.Location.Timeout,
		Store:           store,
		ProximityRadius: cfg.Location.ProximityRadius,
		Logger:          log,
	})

	poller := worker.NewPoller(worker.PollerConfig{
		Interval: cfg.Schedule.PollInterval,
		Timeout:  cfg.Schedule.PollTimeout,
		Store:    store,
		Fetcher:  client,
		Logger:   log,
	})

	router := api.NewRouter(api.RouterConfig{
		Version:     Version,
		BuildTime:   BuildTime,
		Logger:      log,
		ServiceName: serviceName,
		Metrics:     metrics,
		Token:       cfg.Server.Token,
		Store:       store,
		Executor:    executor,
		Poller:      poller,
		Reported:    reported,
		Upstream:    client,
		Registry:    registry,
	})
	if cfg.Server.Token == "" {
		log.Warn().Msg("local API token not set - any local process can clock visits in and out")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	if err := poller.Start(gctx); err != nil {
		return err
	}
	defer poller.Stop()

	if cfg.PubSub.Enabled() {
		handler, err := worker.NewPubSubHandler(gctx, worker.PubSubConfig{
			ProjectID:        cfg.PubSub.ProjectID,
			SubscriptionName: cfg.PubSub.Subscription,
			Poller:           poller,
			Logger:           log,
		})
		if err != nil {
			return err
		}
		defer func() {
			if err := handler.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close pubsub client")
			}
		}()
		g.Go(func() error {
			return handler.Start(gctx)
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", server.Addr).Msg("server listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("caregiver agent stopped")
	return err
}

// warnAboutToken logs who the care API token belongs to and whether it has
// already expired. Refreshing it is someone else's job.
func warnAboutToken(ctx context.Context, cfg config.CareAPIConfig, log zerolog.Logger) {
	token, err := tokenSource(cfg).Token(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("care API token unavailable - schedule calls will fail until one is provided")
		return
	}

	claims, err := auth.Inspect(token)
	if err != nil {
		log.Debug().Err(err).Msg("care API token is not a JWT")
		return
	}

	event := log.Info()
	if claims.Expired(time.Now()) {
		event = log.Warn()
	}
	event.
		Str("user_id", claims.UserID).
		Time("expires_at", claims.ExpiresAt).
		Bool("expired", claims.Expired(time.Now())).
		Msg("care API token loaded")
}
