package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/doctordirect/consult-relay/internal/auth"
	"github.com/doctordirect/consult-relay/internal/config"
	"github.com/doctordirect/consult-relay/internal/core"
	"github.com/doctordirect/consult-relay/internal/metrics"
	"github.com/doctordirect/consult-relay/internal/store"
	transporthttp "github.com/doctordirect/consult-relay/internal/transport/http"
	"github.com/doctordirect/consult-relay/internal/video"
	"github.com/doctordirect/consult-relay/internal/video/livekit"
)

// App wires together core and transport layers.
type App struct {
	server          *stdhttp.Server
	shutdownTimeout time.Duration
	relay           *core.Relay
	store           store.Store
	log             *zerolog.Logger
}

// New constructs the application with provided configuration.
func New(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	st, err := OpenStore(ctx, cfg.Store)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	logger.Info().Str("driver", cfg.Store.Driver).Msg("store initialized")

	mode, err := auth.ParseMode(cfg.Auth.Mode)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	resolver, err := auth.NewResolver(mode, &auth.JWTConfig{
		Secret:   []byte(cfg.Auth.JWTSecret),
		Issuer:   cfg.Auth.JWTIssuer,
		Audience: cfg.Auth.JWTAudience,
		TTL:      cfg.Auth.TokenTTL,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("init auth: %w", err)
	}
	if mode == auth.ModeTrust {
		logger.Warn().Msg("auth mode is trust, claimed identities are accepted without a token")
	}

	var engine video.Engine = video.Disabled{}
	if cfg.LiveKit.Enabled() {
		lk, err := livekit.New(cfg.LiveKit.APIKey, cfg.LiveKit.APISecret, cfg.LiveKit.URL)
		if err != nil {
			_ = st.Close()
			return nil, fmt.Errorf("init video: %w", err)
		}
		engine = lk
		logger.Info().Str("url", cfg.LiveKit.URL).Msg("video enabled")
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	relay := core.NewRelay(st, logger, core.Options{
		EventBuffer:    cfg.Relay.EventBuffer,
		RoomQueueSize:  cfg.Relay.RoomQueueSize,
		PersistTimeout: cfg.Relay.PersistTimeout,
		HistoryLimit:   cfg.Relay.HistoryLimit,
		Observer:       metrics.NewRelayMetrics(reg),
	})

	server := transporthttp.NewServer(transporthttp.Deps{
		Relay:    relay,
		Store:    st,
		Resolver: resolver,
		Video:    engine,
		Metrics:  metrics.NewHTTPMetrics(reg),
		Gatherer: reg,
	}, cfg, logger)

	return &App{
		server:          server,
		shutdownTimeout: cfg.ShutdownTimeout,
		relay:           relay,
		store:           st,
		log:             logger,
	}, nil
}

// Relay exposes the relay for embedding and tests.
func (a *App) Relay() *core.Relay {
	return a.relay
}

// Run starts the relay and HTTP server and blocks until context cancellation or fatal error.
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", a.server.Addr)
	if err != nil {
		a.cleanup()
		return fmt.Errorf("listen %s: %w", a.server.Addr, err)
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener.
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	defer a.cleanup()

	relayCtx, stopRelay := context.WithCancel(context.Background())
	defer stopRelay()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return a.relay.Run(relayCtx)
	})

	g.Go(func() error {
		a.log.Info().Str("addr", ln.Addr().String()).Msg("http server listening")
		if err := a.server.Serve(ln); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
		defer cancel()

		a.log.Info().Msg("shutting down http server")
		err := a.server.Shutdown(shutdownCtx)
		// Shutdown does not wait for hijacked websockets; stopping the relay closes their event streams.
		stopRelay()
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// cleanup closes database and other resources.
func (a *App) cleanup() {
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn().Err(err).Msg("failed to close store")
		} else {
			a.log.Info().Msg("store closed")
		}
	}
}
