package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/wavewarz/battle-engine/internal/crypto"
	"github.com/wavewarz/battle-engine/internal/domain"
	"github.com/wavewarz/battle-engine/internal/engine"
	"github.com/wavewarz/battle-engine/internal/payment"
	"github.com/wavewarz/battle-engine/internal/server"
	"github.com/wavewarz/battle-engine/internal/server/handler"
	"github.com/wavewarz/battle-engine/internal/server/ws"
	"github.com/wavewarz/battle-engine/internal/service"
)

// monitorChannels are the signal bus channels monitor mode follows, one per
// battle event.
var monitorChannels = []string{
	"battles." + domain.EventBattleCreated,
	"battles." + domain.EventSharesPurchased,
	"battles." + domain.EventSharesSold,
	"battles." + domain.EventBattleEnded,
	"battles." + domain.EventSharesClaimed,
}

// ServeMode runs the market engine behind the HTTP + WebSocket API.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, bank, err := a.buildBattleService(ctx, deps)
	if err != nil {
		return fmt.Errorf("serve mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc, bank)
	} else {
		a.logger.WarnContext(ctx, "server.enabled is false; serve mode has no API surface")
	}

	return g.Wait()
}

// MonitorMode consumes battle events from the signal bus, logs them, and
// forwards them to the notifier. No engine runs and no state changes.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode")

	g, ctx := errgroup.WithContext(ctx)

	for _, channel := range monitorChannels {
		g.Go(func() error {
			ch, err := deps.SignalBus.Subscribe(ctx, channel)
			if err != nil {
				return fmt.Errorf("monitor mode: subscribe %s: %w", channel, err)
			}
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case data, ok := <-ch:
					if !ok {
						return nil
					}
					a.logger.InfoContext(ctx, "battle event",
						slog.String("channel", channel),
						slog.String("payload", string(data)),
					)
				}
			}
		})
	}

	return g.Wait()
}

// ArchiveMode runs a single archival pass over settled battles older than the
// retention window and exits.
func (a *App) ArchiveMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting archive mode",
		slog.Int("retention_days", a.cfg.Archive.RetentionDays),
	)

	if deps.Archiver == nil {
		return fmt.Errorf("archive mode: archiver not wired (postgres and s3 required)")
	}

	n, err := a.runArchivePass(ctx, deps)
	if err != nil {
		return fmt.Errorf("archive mode: %w", err)
	}
	a.logger.InfoContext(ctx, "archive pass complete", slog.Int64("records", n))
	return nil
}

// FullMode runs everything: the engine with its API, the event monitor, and a
// periodic archival loop when archival is enabled.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	svc, bank, err := a.buildBattleService(ctx, deps)
	if err != nil {
		return fmt.Errorf("full mode: %w", err)
	}

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, svc, bank)
	}

	// Periodic archival.
	if a.cfg.Archive.Enabled && deps.Archiver != nil {
		interval := a.cfg.Archive.Interval.Duration
		if interval <= 0 {
			interval = 6 * time.Hour
		}
		g.Go(func() error {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-ticker.C:
					n, err := a.runArchivePass(ctx, deps)
					if err != nil {
						a.logger.ErrorContext(ctx, "archive pass failed",
							slog.String("error", err.Error()),
						)
						continue
					}
					if n > 0 {
						a.logger.InfoContext(ctx, "archive pass complete",
							slog.Int64("records", n),
						)
					}
				}
			}
		})
	}

	return g.Wait()
}

// runArchivePass archives every settled battle whose trading window closed
// before the retention cutoff.
func (a *App) runArchivePass(ctx context.Context, deps *Dependencies) (int64, error) {
	cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.Archive.RetentionDays)
	return deps.Archiver.ArchiveSettledBefore(ctx, cutoff)
}

// buildBattleService constructs the payment vault, the market engine, its
// event mirror, and the service layer on top. The vault is returned so the
// HTTP shell can expose its funding endpoints; the resolved admin wallet
// becomes the default admin for created battles.
func (a *App) buildBattleService(ctx context.Context, deps *Dependencies) (*service.BattleService, *payment.Bank, error) {
	admin, err := a.resolveAdmin()
	if err != nil {
		return nil, nil, err
	}
	a.logger.InfoContext(ctx, "battle admin resolved", slog.String("address", admin.Hex()))

	mirror := service.NewEventMirror(
		deps.BattleStore,
		deps.TradeStore,
		deps.ClaimStore,
		deps.BattleCache,
		deps.SignalBus,
		deps.AuditStore,
		deps.Notifier,
		a.logger,
	)

	bank := payment.NewBank()
	platform := common.HexToAddress(a.cfg.Market.PlatformWallet)
	market := engine.NewMarket(bank, platform, engine.WithEventSink(mirror))

	bounds := service.Bounds{
		MinDuration:   a.cfg.Market.MinDuration.Duration,
		MaxDuration:   a.cfg.Market.MaxDuration.Duration,
		MaxStartDelay: a.cfg.Market.MaxStartDelay.Duration,
	}
	svc := service.NewBattleService(
		market,
		admin,
		deps.BattleStore,
		deps.TradeStore,
		deps.ClaimStore,
		deps.BattleCache,
		deps.LockManager,
		bounds,
		a.logger,
	)
	return svc, bank, nil
}

// resolveAdmin determines the battle-admin wallet from the configured key
// material. When both an explicit address and a key are configured, they
// must agree.
func (a *App) resolveAdmin() (common.Address, error) {
	if a.cfg.Admin.PrivateKey == "" && a.cfg.Admin.EncryptedKeyPath == "" {
		return common.HexToAddress(a.cfg.Admin.Address), nil
	}

	keyHex, err := crypto.LoadKey(crypto.KeyConfig{
		RawPrivateKey:    a.cfg.Admin.PrivateKey,
		EncryptedKeyPath: a.cfg.Admin.EncryptedKeyPath,
		KeyPassword:      a.cfg.Admin.KeyPassword,
	})
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve admin: load key: %w", err)
	}
	addr, err := crypto.AddressOfKey(keyHex)
	if err != nil {
		return common.Address{}, fmt.Errorf("resolve admin: derive address: %w", err)
	}
	if a.cfg.Admin.Address != "" && !strings.EqualFold(a.cfg.Admin.Address, addr.Hex()) {
		return common.Address{}, fmt.Errorf(
			"resolve admin: configured address %s does not match key address %s",
			a.cfg.Admin.Address, addr.Hex())
	}
	return addr, nil
}

// startHTTPServer adds the HTTP server and WebSocket hub goroutines to the
// given errgroup. The server is shut down gracefully when the context is
// cancelled.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, svc *service.BattleService, bank *payment.Bank) {
	hub := ws.NewHub(deps.SignalBus, a.logger, ws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health:  handler.NewHealthHandler(a.logger),
		Battles: handler.NewBattleHandler(svc, a.cfg.Server.RequireSignatures, a.logger),
		Bank:    handler.NewBankHandler(bank, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:         a.cfg.Server.Port,
		CORSOrigins:  a.cfg.Server.CORSOrigins,
		APIKey:       a.cfg.Server.APIKey,
		RateLimitRPS: a.cfg.Server.RateLimitRPS,
	}, handlers, hub, deps.RateLimiter, a.logger)

	g.Go(func() error {
		return srv.Start()
	})

	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}
