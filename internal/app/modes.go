package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/alanyoungcy/flasharb/internal/events"
	"github.com/alanyoungcy/flasharb/internal/ledger"
	"github.com/alanyoungcy/flasharb/internal/opportunity"
	"github.com/alanyoungcy/flasharb/internal/platform/evm"
	"github.com/alanyoungcy/flasharb/internal/registry"
	"github.com/alanyoungcy/flasharb/internal/server"
	"github.com/alanyoungcy/flasharb/internal/server/handler"
	"github.com/alanyoungcy/flasharb/internal/server/ws"
	"github.com/alanyoungcy/flasharb/internal/settlement"
)

// core bundles the services shared by both operating modes.
type core struct {
	emitter     *events.Emitter
	registry    *registry.Service
	opps        *opportunity.Ledger
	coordinator *settlement.Coordinator
	venues      *settlement.Directory
}

// buildCore constructs the mode-independent service graph: event emitter and
// sinks, the trust registry, the opportunity audit ledger, and the settlement
// coordinator. Providers and venues are attached by the caller.
func (a *App) buildCore(ctx context.Context, deps *Dependencies) (*core, error) {
	if err := seedRegistry(ctx, deps.RegistryStore, a.cfg.Registry.Seed); err != nil {
		return nil, fmt.Errorf("app: seed registry: %w", err)
	}

	sinks := []events.Sink{
		events.NewLogSink(a.logger),
		events.NewBusSink(deps.SignalBus, "stream:events"),
	}
	if deps.Notifier != nil {
		sinks = append(sinks, events.NewNotifySink(deps.Notifier))
	}
	emitter := events.NewEmitter(sinks, a.logger)

	reg := registry.New(
		deps.RegistryStore,
		a.cfg.Registry.CapabilityHash,
		a.cfg.Registry.CapabilitySalt,
		emitter,
		a.logger,
	)

	opps := opportunity.NewLedger(deps.OpportunityStore, a.logger)

	venues := settlement.NewDirectory()
	coordinator := settlement.NewCoordinator(
		ledger.New(),
		reg,
		opps,
		emitter,
		venues,
		deps.LockManager,
		settlement.Config{LockTTL: a.cfg.Settlement.LockTTL.Duration},
		a.logger,
	)

	return &core{
		emitter:     emitter,
		registry:    reg,
		opps:        opps,
		coordinator: coordinator,
		venues:      venues,
	}, nil
}

// attachChain registers the configured flash-loan providers and execution
// venues against the coordinator's directory. It requires a live chain client.
func (a *App) attachChain(deps *Dependencies, c *core) error {
	if deps.ChainClient == nil {
		return errors.New("app: chain client not wired")
	}

	for _, pc := range a.cfg.Providers {
		lender, err := evm.NewFlashLender(evm.FlashLenderConfig{
			ID:            pc.ID,
			LenderAddress: pc.LenderAddress,
			Assets:        pc.Assets,
		}, deps.ChainClient, a.logger)
		if err != nil {
			return fmt.Errorf("app: provider %s: %w", pc.ID, err)
		}
		c.coordinator.RegisterProvider(lender)
	}

	for _, vc := range a.cfg.Venues {
		venue, err := evm.NewRouterVenue(evm.RouterVenueConfig{
			ID:            vc.ID,
			RouterAddress: vc.RouterAddress,
		}, deps.ChainClient, a.logger)
		if err != nil {
			return fmt.Errorf("app: venue %s: %w", vc.ID, err)
		}
		c.venues.Register(venue)
	}

	return nil
}

// healthChecks builds the dependency probes for the health endpoint from the
// clients that were actually wired.
func (a *App) healthChecks(deps *Dependencies) []handler.Check {
	checks := []handler.Check{
		{Name: "postgres", Ping: func(ctx context.Context) error {
			return deps.PgClient.Pool().Ping(ctx)
		}},
		{Name: "redis", Ping: deps.RedisClient.Ping},
	}
	if deps.S3Client != nil {
		checks = append(checks, handler.Check{Name: "s3", Ping: deps.S3Client.Health})
	}
	if deps.ChainClient != nil {
		checks = append(checks, handler.Check{Name: "chain", Ping: deps.ChainClient.Health})
	}
	return checks
}

// runAPI starts the HTTP server and WebSocket hub inside the errgroup and
// arranges a graceful shutdown when the context is cancelled. A nil return
// means the server is disabled by configuration.
func (a *App) runAPI(ctx context.Context, g *errgroup.Group, deps *Dependencies, c *core) {
	if !a.cfg.Server.Enabled {
		a.logger.Info("api server disabled")
		return
	}

	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})

	handlers := server.Handlers{
		Health:        handler.NewHealthHandler(a.healthChecks(deps), a.logger),
		Routes:        handler.NewRouteHandler(c.coordinator, c.opps, a.logger),
		Opportunities: handler.NewOpportunityHandler(c.opps, a.logger),
		Registry:      handler.NewRegistryHandler(c.registry, a.logger),
		Archive:       handler.NewArchiveHandler(deps.Archiver, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return hub.Run(ctx)
	})

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("app: api server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

// runArchiveLoop periodically archives finalized opportunity records older
// than the retention window to blob storage. It is a no-op when archival is
// not configured.
func (a *App) runArchiveLoop(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if deps.Archiver == nil {
		return
	}

	retention := time.Duration(a.cfg.S3.RetentionDays) * 24 * time.Hour

	g.Go(func() error {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				cutoff := time.Now().UTC().Add(-retention)
				n, err := deps.Archiver.Archive(ctx, cutoff)
				if err != nil {
					a.logger.Error("scheduled archive failed",
						slog.String("error", err.Error()),
					)
					continue
				}
				if n > 0 {
					a.logger.Info("scheduled archive complete",
						slog.Int("records", n),
						slog.Time("cutoff", cutoff),
					)
				}
			}
		}
	})
}

// SettleMode runs the full engine: chain adapters attached, settlements
// accepted, API server up. Blocks until the context is cancelled.
func (a *App) SettleMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	if a.cfg.Chain.Enabled {
		if err := a.attachChain(deps, c); err != nil {
			return err
		}
	} else {
		a.logger.Warn("chain disabled; submissions will be rejected until providers are attached")
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.emitter.Run(gctx)
	})

	a.runAPI(gctx, g, deps, c)
	a.runArchiveLoop(gctx, g, deps)

	a.logger.Info("settle mode running",
		slog.Int("providers", len(a.cfg.Providers)),
		slog.Int("venues", len(a.cfg.Venues)),
		slog.Bool("distributed_lock", deps.LockManager != nil),
	)

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// MonitorMode runs the engine read-only: the audit trail, registry, and event
// stream are served, but no chain adapters are attached so every settlement
// submission terminates as a rejected record.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	c, err := a.buildCore(ctx, deps)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return c.emitter.Run(gctx)
	})

	a.runAPI(gctx, g, deps, c)
	a.runArchiveLoop(gctx, g, deps)

	a.logger.Info("monitor mode running")

	err = g.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
