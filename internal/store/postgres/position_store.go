package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/dake/internal/domain"
)

const positionCols = `address, market, owner, amount::text, locked_payout::text,
	side_handle, is_winner_handle, claimed, paid_out::text, created_at, claimed_at`

func scanPosition(row pgx.Row) (domain.Position, error) {
	var (
		p                    domain.Position
		addr, market, owner  []byte
		side, winner         []byte
		amount, locked, paid string
		claimedAt            *time.Time
	)
	err := row.Scan(&addr, &market, &owner, &amount, &locked,
		&side, &winner, &p.Claimed, &paid, &p.CreatedAt, &claimedAt)
	if err != nil {
		return domain.Position{}, err
	}

	p.Address = common.BytesToAddress(addr)
	p.Market = common.BytesToAddress(market)
	p.Owner = common.BytesToAddress(owner)
	p.ClaimedAt = claimedAt

	if p.EncryptedSideHandle, err = domain.HandleFromBytes(side); err != nil {
		return domain.Position{}, err
	}
	if p.IsWinnerHandle, err = domain.HandleFromBytes(winner); err != nil {
		return domain.Position{}, err
	}
	if p.Amount, err = parseU64("amount", amount); err != nil {
		return domain.Position{}, err
	}
	if p.LockedPayout, err = parseU64("locked_payout", locked); err != nil {
		return domain.Position{}, err
	}
	if p.PaidOut, err = parseU64("paid_out", paid); err != nil {
		return domain.Position{}, err
	}
	return p, nil
}

func getPosition(ctx context.Context, q querier, addr common.Address, forUpdate bool) (domain.Position, error) {
	query := `SELECT ` + positionCols + ` FROM positions WHERE address = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	p, err := scanPosition(q.QueryRow(ctx, query, addr.Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Position{}, fmt.Errorf("postgres: position %s: %w", addr.Hex(), domain.ErrNotFound)
		}
		return domain.Position{}, fmt.Errorf("postgres: get position %s: %w", addr.Hex(), err)
	}
	return p, nil
}

func insertPosition(ctx context.Context, q querier, p domain.Position) error {
	const query = `
		INSERT INTO positions (
			address, market, owner, amount, locked_payout,
			side_handle, is_winner_handle, claimed, paid_out, created_at, claimed_at
		) VALUES (
			$1, $2, $3, $4::numeric, $5::numeric,
			$6, $7, $8, $9::numeric, $10, $11
		)`
	_, err := q.Exec(ctx, query,
		p.Address.Bytes(), p.Market.Bytes(), p.Owner.Bytes(),
		u64Text(p.Amount), u64Text(p.LockedPayout),
		p.EncryptedSideHandle[:], p.IsWinnerHandle[:], p.Claimed,
		u64Text(p.PaidOut), p.CreatedAt, p.ClaimedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("postgres: position %s: %w", p.Address.Hex(), domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert position %s: %w", p.Address.Hex(), err)
	}
	return nil
}

// updatePosition writes the settlement columns of p.
func updatePosition(ctx context.Context, q querier, p domain.Position) error {
	const query = `
		UPDATE positions SET
			is_winner_handle = $2,
			claimed          = $3,
			paid_out         = $4::numeric,
			claimed_at       = $5
		WHERE address = $1`
	tag, err := q.Exec(ctx, query,
		p.Address.Bytes(), p.IsWinnerHandle[:], p.Claimed, u64Text(p.PaidOut), p.ClaimedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update position %s: %w", p.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: position %s: %w", p.Address.Hex(), domain.ErrNotFound)
	}
	return nil
}

func listPositions(ctx context.Context, q querier, market common.Address) ([]domain.Position, error) {
	rows, err := q.Query(ctx,
		`SELECT `+positionCols+` FROM positions WHERE market = $1 ORDER BY created_at, address`,
		market.Bytes())
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var out []domain.Position
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions rows: %w", err)
	}
	return out, nil
}
