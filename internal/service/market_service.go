package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/derive"
	"github.com/alanyoungcy/dake/internal/domain"
)

// MarketConfig holds market defaults applied at creation.
type MarketConfig struct {
	DefaultAccounting     domain.Accounting
	DefaultSeedLiquidity  uint64
	EnforceResolutionTime bool
}

// CreateMarketParams are the inputs of CreateMarket. A nil SeedLiquidity or an
// empty Accounting takes the configured default.
type CreateMarketParams struct {
	MarketID       uint64
	Question       string
	ResolutionTime int64
	SeedLiquidity  *uint64
	Accounting     domain.Accounting
}

// MarketService runs the market lifecycle (create, close, resolve), bet
// placement and the market read model.
type MarketService struct {
	ledger  domain.Ledger
	oracle  domain.Oracle
	deriver *derive.Deriver
	cfg     MarketConfig
	fx      emitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewMarketService creates a MarketService. program is the address the
// service acts as towards the oracle and under which accounts are derived.
func NewMarketService(
	ledger domain.Ledger,
	oracle domain.Oracle,
	program common.Address,
	cfg MarketConfig,
	fx Effects,
	logger *slog.Logger,
) *MarketService {
	if cfg.DefaultAccounting == "" {
		cfg.DefaultAccounting = domain.AccountingLocked
	}
	logger = logger.With(slog.String("component", "market_service"))
	return &MarketService{
		ledger:  ledger,
		oracle:  oracle,
		deriver: derive.New(program),
		cfg:     cfg,
		fx:      emitter{fx: fx, logger: logger},
		logger:  logger,
		now:     time.Now,
	}
}

// Deriver exposes the account derivation used by the service.
func (s *MarketService) Deriver() *derive.Deriver {
	return s.deriver
}

// CreateMarket opens a new market with caller as its authority. Seed
// liquidity is added to both pools and funded by the caller.
func (s *MarketService) CreateMarket(ctx context.Context, caller common.Address, p CreateMarketParams) (domain.Market, error) {
	if len(p.Question) > domain.MaxQuestionLen {
		return domain.Market{}, domain.ErrQuestionTooLong
	}
	accounting := p.Accounting
	if accounting == "" {
		accounting = s.cfg.DefaultAccounting
	}
	if !accounting.Valid() {
		return domain.Market{}, domain.ErrInvalidAccounting
	}
	seed := s.cfg.DefaultSeedLiquidity
	if p.SeedLiquidity != nil {
		seed = *p.SeedLiquidity
	}
	if seed > math.MaxUint64/2 {
		return domain.Market{}, fmt.Errorf("market_service: seed liquidity %d: %w", seed, domain.ErrInvalidBetAmount)
	}

	addr := s.deriver.Market(p.MarketID)
	m := domain.Market{
		Address:        addr,
		Authority:      caller,
		MarketID:       p.MarketID,
		Question:       p.Question,
		ResolutionTime: p.ResolutionTime,
		Status:         domain.MarketStatusOpen,
		Accounting:     accounting,
		SeedLiquidity:  seed,
		TotalYesAmount: seed,
		TotalNoAmount:  seed,
		Vault:          s.deriver.Vault(addr),
		CreatedAt:      s.now().UTC(),
	}

	err := s.ledger.Atomically(ctx, caller, func(tx domain.LedgerTx) error {
		if err := tx.CreateMarket(ctx, m); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.ErrMarketExists
			}
			return err
		}
		return tx.Transfer(ctx, caller, m.Vault, 2*seed)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: create market %d: %w", p.MarketID, err)
	}

	s.logger.InfoContext(ctx, "market created",
		slog.Uint64("market_id", m.MarketID),
		slog.String("market", addr.Hex()),
		slog.String("authority", caller.Hex()),
		slog.String("accounting", string(accounting)),
		slog.Uint64("seed_liquidity", seed),
	)
	s.fx.emit(ctx, domain.ChannelMarkets, s.marketEvent(domain.EventMarketCreated, m, caller),
		map[string]any{"market_id": m.MarketID, "question": m.Question, "seed_liquidity": seed},
		"Market created", fmt.Sprintf("#%d %s", m.MarketID, m.Question))
	return m, nil
}

// CloseMarket stops betting on an open market.
func (s *MarketService) CloseMarket(ctx context.Context, caller, market common.Address) (domain.Market, error) {
	var out domain.Market
	err := s.ledger.Atomically(ctx, caller, func(tx domain.LedgerTx) error {
		m, err := tx.Market(ctx, market)
		if err != nil {
			return err
		}
		if m.Authority != caller {
			return domain.ErrUnauthorized
		}
		if !m.IsOpen() {
			return domain.ErrMarketNotOpen
		}
		m.Status = domain.MarketStatusClosed
		out = m
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: close market %s: %w", market.Hex(), err)
	}

	s.logger.InfoContext(ctx, "market closed", slog.String("market", market.Hex()))
	s.fx.invalidate(ctx, market)
	s.fx.emit(ctx, domain.ChannelMarkets, s.marketEvent(domain.EventMarketClosed, out, caller), nil, "", "")
	return out, nil
}

// ResolveMarket records the outcome. Open and closed markets may be resolved;
// a resolved market never changes again.
func (s *MarketService) ResolveMarket(ctx context.Context, caller, market common.Address, outcome bool) (domain.Market, error) {
	now := s.now().UTC()
	var out domain.Market
	err := s.ledger.Atomically(ctx, caller, func(tx domain.LedgerTx) error {
		m, err := tx.Market(ctx, market)
		if err != nil {
			return err
		}
		if m.Authority != caller {
			return domain.ErrUnauthorized
		}
		if m.IsResolved() {
			return domain.ErrMarketAlreadyResolved
		}
		if s.cfg.EnforceResolutionTime && now.Unix() < m.ResolutionTime {
			return domain.ErrResolutionTimeNotReached
		}
		m.Status = domain.MarketStatusResolvedNo
		if outcome {
			m.Status = domain.MarketStatusResolvedYes
		}
		m.ResolvedAt = &now
		out = m
		return tx.PutMarket(ctx, m)
	})
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: resolve market %s: %w", market.Hex(), err)
	}

	s.logger.InfoContext(ctx, "market resolved",
		slog.String("market", market.Hex()),
		slog.String("status", string(out.Status)),
		slog.Uint64("yes_pool", out.TotalYesAmount),
		slog.Uint64("no_pool", out.TotalNoAmount),
	)
	s.fx.invalidate(ctx, market)
	s.fx.emit(ctx, domain.ChannelMarkets, s.marketEvent(domain.EventMarketResolved, out, caller),
		map[string]any{"status": string(out.Status)},
		"Market resolved", fmt.Sprintf("#%d %s -> %s", out.MarketID, out.Question, out.Status))
	return out, nil
}

// GetMarket returns a market, reading through the cache when one is wired.
func (s *MarketService) GetMarket(ctx context.Context, addr common.Address) (domain.Market, error) {
	if s.fx.fx.Cache != nil {
		if m, err := s.fx.fx.Cache.Get(ctx, addr); err == nil {
			return m, nil
		}
	}

	m, err := s.ledger.GetMarket(ctx, addr)
	if err != nil {
		return domain.Market{}, fmt.Errorf("market_service: get market %s: %w", addr.Hex(), err)
	}

	if s.fx.fx.Cache != nil {
		if cacheErr := s.fx.fx.Cache.Set(ctx, m); cacheErr != nil {
			s.logger.WarnContext(ctx, "cache set failed",
				slog.String("market", addr.Hex()),
				slog.String("error", cacheErr.Error()),
			)
		}
	}
	return m, nil
}

// ListMarkets returns markets ordered by market id.
func (s *MarketService) ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error) {
	markets, err := s.ledger.ListMarkets(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("market_service: list markets: %w", err)
	}
	return markets, nil
}

// ListPositions returns every position of market.
func (s *MarketService) ListPositions(ctx context.Context, market common.Address) ([]domain.Position, error) {
	positions, err := s.ledger.ListPositions(ctx, market)
	if err != nil {
		return nil, fmt.Errorf("market_service: list positions: %w", err)
	}
	return positions, nil
}

// GetPosition returns a position by its derived address.
func (s *MarketService) GetPosition(ctx context.Context, addr common.Address) (domain.Position, error) {
	p, err := s.ledger.GetPosition(ctx, addr)
	if err != nil {
		return domain.Position{}, fmt.Errorf("market_service: get position %s: %w", addr.Hex(), err)
	}
	return p, nil
}

// VaultBalance returns the native balance escrowed for market.
func (s *MarketService) VaultBalance(ctx context.Context, market common.Address) (uint64, error) {
	bal, err := s.ledger.BalanceOf(ctx, s.deriver.Vault(market))
	if err != nil {
		return 0, fmt.Errorf("market_service: vault balance: %w", err)
	}
	return bal, nil
}

func (s *MarketService) marketEvent(typ string, m domain.Market, actor common.Address) domain.Event {
	return domain.Event{
		Type:   typ,
		Market: m.Address,
		Actor:  actor,
		Status: m.Status,
		At:     s.now().UTC(),
	}
}
