package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	s3blob "github.com/alanyoungcy/dake/internal/blob/s3"
	"github.com/alanyoungcy/dake/internal/cache/redis"
	"github.com/alanyoungcy/dake/internal/config"
	"github.com/alanyoungcy/dake/internal/crypto"
	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/ledger/memory"
	"github.com/alanyoungcy/dake/internal/notify"
	"github.com/alanyoungcy/dake/internal/oracle"
	"github.com/alanyoungcy/dake/internal/server/handler"
	"github.com/alanyoungcy/dake/internal/service"
	"github.com/alanyoungcy/dake/internal/store/postgres"
)

// Dependencies bundles everything the modes need. Optional collaborators are
// nil when their backend is not configured.
type Dependencies struct {
	Program common.Address
	Ledger  domain.Ledger
	Oracle  *oracle.Local

	Markets    *service.MarketService
	Settlement *service.SettlementService

	Audit   domain.AuditStore
	Cache   domain.MarketCache
	Bus     domain.SignalBus
	Limiter domain.RateLimiter
	Locks   domain.LockManager
	Events  handler.EventReader

	Archiver *s3blob.Archiver
	Notifier *notify.Notifier

	// Health probes each external backend for GET /api/health.
	Health map[string]handler.HealthCheck
}

// funder credits an account outside any transaction.
type funder interface {
	Fund(ctx context.Context, addr common.Address, amount uint64) error
}

// Wire builds the dependencies for cfg and returns a cleanup function that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{
		Program: common.HexToAddress(cfg.Oracle.ProgramAddress),
		Health:  make(map[string]handler.HealthCheck),
	}

	key, err := crypto.LoadKey(crypto.KeySource{
		Raw:      cfg.Oracle.PrivateKey,
		Path:     cfg.Oracle.EncryptedKeyPath,
		Password: cfg.Oracle.KeyPassword,
	})
	if err != nil {
		return fail(fmt.Errorf("wire: oracle key: %w", err))
	}

	// --- Ledger and oracle store ---
	var oracleStore domain.OracleStore
	var fund funder
	switch cfg.Ledger.Backend {
	case "postgres":
		pg, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pg.Close)
		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
		}
		pool := pg.Pool()
		l := postgres.NewLedger(pool, deps.Program)
		deps.Ledger, fund = l, l
		deps.Audit = postgres.NewAuditStore(pool)
		oracleStore = postgres.NewOracleStore(pool)
		deps.Health["postgres"] = pg.Ping
	default:
		l := memory.New(deps.Program)
		deps.Ledger, fund = l, l
	}

	for _, g := range cfg.Ledger.Genesis {
		if err := fund.Fund(ctx, common.HexToAddress(g.Address), g.Balance); err != nil {
			return fail(fmt.Errorf("wire: genesis %s: %w", g.Address, err))
		}
	}

	deps.Oracle, err = oracle.New(key, oracleStore, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: oracle: %w", err))
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = rc.Close() })
		deps.Cache = redis.NewMarketCache(rc, cfg.Redis.CacheTTL.Duration)
		bus := redis.NewSignalBus(rc)
		deps.Bus, deps.Events = bus, bus
		deps.Limiter = redis.NewRateLimiter(rc)
		deps.Locks = redis.NewLockManager(rc)
		deps.Health["redis"] = rc.Ping
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID)
		if err != nil {
			logger.WarnContext(ctx, "telegram notifications disabled", slog.String("error", err.Error()))
		} else {
			senders = append(senders, tg)
		}
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	// --- Services ---
	fx := service.Effects{Bus: deps.Bus, Audit: deps.Audit, Cache: deps.Cache}
	if deps.Notifier.Enabled() {
		fx.Notifier = deps.Notifier
	}
	deps.Markets = service.NewMarketService(deps.Ledger, deps.Oracle, deps.Program, service.MarketConfig{
		DefaultAccounting:     domain.Accounting(cfg.Market.DefaultAccounting),
		DefaultSeedLiquidity:  cfg.Market.DefaultSeedLiquidity,
		EnforceResolutionTime: cfg.Market.EnforceResolutionTime,
	}, fx, logger)
	deps.Settlement = service.NewSettlementService(deps.Ledger, deps.Oracle, deps.Program, fx, logger)

	// --- Settlement archive ---
	if cfg.RunsArchiver() {
		s3c, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		opts := []s3blob.ArchiverOption{}
		if deps.Locks != nil {
			opts = append(opts, s3blob.WithLock(deps.Locks))
		}
		if deps.Audit != nil {
			opts = append(opts, s3blob.WithAudit(deps.Audit))
		}
		if deps.Bus != nil {
			opts = append(opts, s3blob.WithBus(deps.Bus))
		}
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3c), deps.Ledger, cfg.Archive.Prefix, logger, opts...)
		deps.Health["s3"] = s3c.Health
	}

	return deps, cleanup, nil
}
