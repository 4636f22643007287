package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/payout"
)

// BetParams are the inputs of PlaceBet. EncryptedSide is the side sealed to
// the oracle; SideForPool is the same side in clear and is trusted as given
// for pool accounting.
type BetParams struct {
	EncryptedSide   []byte
	Amount          uint64
	SideForPool     uint8
	GrantSelfAccess bool
}

// BetResult is the committed position plus the odds it locked.
type BetResult struct {
	Position   domain.Position
	Market     domain.Market
	Multiplier string
}

// PlaceBet escrows amount from caller into the market vault and records a
// position whose side only the oracle can read.
func (s *MarketService) PlaceBet(ctx context.Context, caller, market common.Address, p BetParams) (BetResult, error) {
	// Fail fast before creating an oracle value a rejected bet would orphan.
	m, err := s.ledger.GetMarket(ctx, market)
	if err != nil {
		return BetResult{}, fmt.Errorf("market_service: place bet: %w", err)
	}
	posAddr := s.deriver.Position(market, caller)
	if err := validateBet(m, p); err != nil {
		return BetResult{}, fmt.Errorf("market_service: place bet: %w", err)
	}
	if _, err := s.ledger.GetPosition(ctx, posAddr); err == nil {
		return BetResult{}, fmt.Errorf("market_service: place bet: %w", domain.ErrPositionExists)
	}

	program := s.deriver.Program()
	side, err := s.oracle.NewEncrypted(ctx, p.EncryptedSide, program)
	if err != nil {
		return BetResult{}, fmt.Errorf("market_service: ingest side: %w", err)
	}
	if p.GrantSelfAccess {
		if err := s.oracle.Allow(ctx, side, program, caller); err != nil {
			return BetResult{}, fmt.Errorf("market_service: allow side: %w", err)
		}
	}

	now := s.now().UTC()
	var res BetResult
	err = s.ledger.Atomically(ctx, caller, func(tx domain.LedgerTx) error {
		m, err := tx.Market(ctx, market)
		if err != nil {
			return err
		}
		if err := validateBet(m, p); err != nil {
			return err
		}

		if err := tx.Transfer(ctx, caller, m.Vault, p.Amount); err != nil {
			return err
		}

		if p.SideForPool == domain.SideYes {
			m.TotalYesAmount = payout.SaturatingAdd(m.TotalYesAmount, p.Amount)
		} else {
			m.TotalNoAmount = payout.SaturatingAdd(m.TotalNoAmount, p.Amount)
		}
		m.ParticipantCount = payout.SaturatingInc32(m.ParticipantCount)

		sideAfter := m.TotalNoAmount
		if p.SideForPool == domain.SideYes {
			sideAfter = m.TotalYesAmount
		}
		totalAfter := payout.SaturatingAdd(m.TotalYesAmount, m.TotalNoAmount)

		pos := domain.Position{
			Address:             posAddr,
			Market:              market,
			Owner:               caller,
			Amount:              p.Amount,
			LockedPayout:        payout.Locked(p.Amount, sideAfter, totalAfter),
			EncryptedSideHandle: side,
			CreatedAt:           now,
		}
		if err := tx.CreatePosition(ctx, pos); err != nil {
			if errors.Is(err, domain.ErrAlreadyExists) {
				return domain.ErrPositionExists
			}
			return err
		}
		if err := tx.PutMarket(ctx, m); err != nil {
			return err
		}
		res = BetResult{Position: pos, Market: m}
		return nil
	})
	if err != nil {
		return BetResult{}, fmt.Errorf("market_service: place bet: %w", err)
	}

	res.Multiplier = payout.Multiplier(res.Position.LockedPayout, res.Position.Amount).String()
	s.logger.InfoContext(ctx, "bet placed",
		slog.String("market", market.Hex()),
		slog.String("position", posAddr.Hex()),
		slog.Uint64("amount", p.Amount),
		slog.Uint64("locked_payout", res.Position.LockedPayout),
		slog.String("multiplier", res.Multiplier),
		slog.Any("participants", res.Market.ParticipantCount),
	)
	s.fx.invalidate(ctx, market)
	ev := s.marketEvent(domain.EventBetPlaced, res.Market, caller)
	ev.Position = &posAddr
	ev.Amount = p.Amount
	s.fx.emit(ctx, domain.ChannelPositions, ev,
		map[string]any{"amount": p.Amount, "locked_payout": res.Position.LockedPayout}, "", "")
	return res, nil
}

func validateBet(m domain.Market, p BetParams) error {
	if !m.IsOpen() {
		return domain.ErrMarketNotOpen
	}
	if p.Amount == 0 {
		return domain.ErrInvalidBetAmount
	}
	if p.SideForPool != domain.SideNo && p.SideForPool != domain.SideYes {
		return domain.ErrInvalidSide
	}
	return nil
}
