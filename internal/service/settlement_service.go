package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/alanyoungcy/dake/internal/derive"
	"github.com/alanyoungcy/dake/internal/domain"
	"github.com/alanyoungcy/dake/internal/payout"
)

// ClaimResult describes a settled claim.
type ClaimResult struct {
	Position   domain.Position
	Payout     uint64
	Profit     uint64
	Multiplier string
}

// SettlementService determines winners confidentially and pays out claims.
type SettlementService struct {
	ledger  domain.Ledger
	oracle  domain.Oracle
	deriver *derive.Deriver
	fx      emitter
	logger  *slog.Logger
	now     func() time.Time
}

// NewSettlementService creates a SettlementService acting as program.
func NewSettlementService(
	ledger domain.Ledger,
	oracle domain.Oracle,
	program common.Address,
	fx Effects,
	logger *slog.Logger,
) *SettlementService {
	logger = logger.With(slog.String("component", "settlement_service"))
	return &SettlementService{
		ledger:  ledger,
		oracle:  oracle,
		deriver: derive.New(program),
		fx:      emitter{fx: fx, logger: logger},
		logger:  logger,
		now:     time.Now,
	}
}

// CheckWinner compares the position's encrypted side with the resolved
// outcome and stores the encrypted result on the position. Anyone may run
// the first check. Once a result is stored only the owner may replace it;
// other callers get the stored position back unchanged. Claimed positions
// are never rechecked.
func (s *SettlementService) CheckWinner(ctx context.Context, caller, position common.Address, grantOwnerAccess bool) (domain.Position, error) {
	pos, err := s.ledger.GetPosition(ctx, position)
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement_service: check winner: %w", err)
	}
	if pos.Claimed {
		return domain.Position{}, fmt.Errorf("settlement_service: check winner: %w", domain.ErrAlreadyClaimed)
	}
	if pos.Checked() && caller != pos.Owner {
		return pos, nil
	}
	m, err := s.ledger.GetMarket(ctx, pos.Market)
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement_service: check winner: %w", err)
	}
	side, ok := m.WinningSide()
	if !ok {
		return domain.Position{}, fmt.Errorf("settlement_service: check winner: %w", domain.ErrMarketNotResolved)
	}

	program := s.deriver.Program()
	outcome, err := s.oracle.Encrypt(ctx, uint256.NewInt(uint64(side)), program)
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement_service: encrypt outcome: %w", err)
	}
	result, err := s.oracle.Equal(ctx, pos.EncryptedSideHandle, outcome, program)
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement_service: compare sides: %w", err)
	}
	if grantOwnerAccess {
		if err := s.oracle.Allow(ctx, result, program, pos.Owner); err != nil {
			return domain.Position{}, fmt.Errorf("settlement_service: allow owner: %w", err)
		}
	}

	var (
		out     domain.Position
		written bool
	)
	err = s.ledger.Atomically(ctx, caller, func(tx domain.LedgerTx) error {
		p, err := tx.Position(ctx, position)
		if err != nil {
			return err
		}
		if p.Claimed {
			return domain.ErrAlreadyClaimed
		}
		out = p
		if p.Checked() && caller != p.Owner {
			return nil
		}
		p.IsWinnerHandle = result
		out, written = p, true
		return tx.PutPosition(ctx, p)
	})
	if err != nil {
		return domain.Position{}, fmt.Errorf("settlement_service: check winner: %w", err)
	}
	if !written {
		return out, nil
	}

	s.logger.InfoContext(ctx, "winner checked",
		slog.String("position", position.Hex()),
		slog.String("is_winner_handle", result.String()),
	)
	ev := domain.Event{Type: domain.EventWinnerChecked, Market: out.Market, Position: &position, Actor: caller, At: s.now().UTC()}
	s.fx.emit(ctx, domain.ChannelPositions, ev, nil, "", "")
	return out, nil
}

// GrantDecryptAccess lets recipient (the owner when nil) decrypt the
// position's winner result. Only the owner may grant.
func (s *SettlementService) GrantDecryptAccess(ctx context.Context, caller, position common.Address, recipient *common.Address) error {
	pos, err := s.ledger.GetPosition(ctx, position)
	if err != nil {
		return fmt.Errorf("settlement_service: grant access: %w", err)
	}
	if pos.Owner != caller {
		return fmt.Errorf("settlement_service: grant access: %w", domain.ErrNotOwner)
	}
	if !pos.Checked() {
		return fmt.Errorf("settlement_service: grant access: %w", domain.ErrNotChecked)
	}

	to := pos.Owner
	if recipient != nil {
		to = *recipient
	}
	if err := s.oracle.Allow(ctx, pos.IsWinnerHandle, s.deriver.Program(), to); err != nil {
		return fmt.Errorf("settlement_service: grant access: %w", err)
	}

	s.logger.InfoContext(ctx, "decrypt access granted",
		slog.String("position", position.Hex()),
		slog.String("recipient", to.Hex()),
	)
	ev := domain.Event{Type: domain.EventAccessGranted, Market: pos.Market, Position: &position, Actor: caller, At: s.now().UTC()}
	s.fx.emit(ctx, domain.ChannelPositions, ev, map[string]any{"recipient": to.Hex()}, "", "")
	return nil
}

// ClaimWinnings pays a proven winner from the market vault. The decryption
// must be the oracle-attested plaintext of the position's winner handle,
// requested by caller.
func (s *SettlementService) ClaimWinnings(ctx context.Context, caller, position common.Address, d domain.Decryption) (ClaimResult, error) {
	now := s.now().UTC()
	var res ClaimResult
	err := s.ledger.Atomically(ctx, caller, func(tx domain.LedgerTx) error {
		pos, err := tx.Position(ctx, position)
		if err != nil {
			return err
		}
		if pos.Owner != caller {
			return domain.ErrNotOwner
		}
		if !pos.Checked() {
			return domain.ErrNotChecked
		}
		if pos.Claimed {
			return domain.ErrAlreadyClaimed
		}
		m, err := tx.Market(ctx, pos.Market)
		if err != nil {
			return err
		}
		winning, _, ok := m.Pools()
		if !ok {
			return domain.ErrMarketNotResolved
		}

		if d.Handle != pos.IsWinnerHandle {
			return fmt.Errorf("handle %s is not the winner result: %w", d.Handle, domain.ErrProofInvalid)
		}
		err = s.oracle.VerifyDecryption(ctx, caller,
			[]domain.Handle{d.Handle}, [][]byte{d.Plaintext}, [][]byte{d.Proof})
		if err != nil {
			return err
		}
		if !payout.ParseBool(d.Plaintext) {
			return domain.ErrNotWinner
		}

		var owed uint64
		switch m.Accounting {
		case domain.AccountingPool:
			total := payout.SaturatingAdd(m.TotalYesAmount, m.TotalNoAmount)
			owed = payout.Proportional(pos.Amount, winning, total)
		default:
			owed = pos.LockedPayout
		}

		vaultBal, err := tx.Balance(ctx, m.Vault)
		if err != nil {
			return err
		}
		amount := payout.Clamp(owed, vaultBal)
		if amount == 0 {
			return domain.ErrNoFunds
		}

		pos.Claimed = true
		pos.PaidOut = amount
		pos.ClaimedAt = &now
		if err := tx.PutPosition(ctx, pos); err != nil {
			return err
		}
		if err := tx.TransferDerived(ctx, derive.VaultSeeds(m.Address), caller, amount); err != nil {
			return err
		}

		res = ClaimResult{
			Position: pos,
			Payout:   amount,
			Profit:   payout.Profit(amount, pos.Amount),
		}
		return nil
	})
	if err != nil {
		return ClaimResult{}, fmt.Errorf("settlement_service: claim winnings: %w", err)
	}

	res.Multiplier = payout.Multiplier(res.Payout, res.Position.Amount).String()
	s.logger.InfoContext(ctx, "winnings claimed",
		slog.String("position", position.Hex()),
		slog.Uint64("bet", res.Position.Amount),
		slog.Uint64("payout", res.Payout),
		slog.Uint64("profit", res.Profit),
		slog.String("multiplier", res.Multiplier),
	)
	s.fx.invalidate(ctx, res.Position.Market)
	ev := domain.Event{
		Type:     domain.EventWinningsClaimed,
		Market:   res.Position.Market,
		Position: &position,
		Actor:    caller,
		Amount:   res.Payout,
		At:       now,
	}
	s.fx.emit(ctx, domain.ChannelPositions, ev,
		map[string]any{"bet": res.Position.Amount, "payout": res.Payout, "profit": res.Profit},
		"Winnings claimed", fmt.Sprintf("%s claimed %d (x%s)", caller.Hex(), res.Payout, res.Multiplier))
	return res, nil
}
