package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"

	"github.com/alanyoungcy/dake/internal/domain"
)

func balance(ctx context.Context, q querier, addr common.Address, forUpdate bool) (uint64, error) {
	query := `SELECT balance::text FROM accounts WHERE address = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	var s string
	if err := q.QueryRow(ctx, query, addr.Bytes()).Scan(&s); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("postgres: balance %s: %w", addr.Hex(), err)
	}
	return parseU64("balance", s)
}

func credit(ctx context.Context, q querier, addr common.Address, amount uint64) error {
	const query = `
		INSERT INTO accounts (address, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE SET
			balance    = accounts.balance + EXCLUDED.balance,
			updated_at = NOW()`
	if _, err := q.Exec(ctx, query, addr.Bytes(), u64Text(amount)); err != nil {
		if pgCode(err) == codeCheckViolation {
			return fmt.Errorf("postgres: credit %s: balance overflow", addr.Hex())
		}
		return fmt.Errorf("postgres: credit %s: %w", addr.Hex(), err)
	}
	return nil
}

func debit(ctx context.Context, q querier, addr common.Address, amount uint64) error {
	const query = `
		UPDATE accounts SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE address = $1 AND balance >= $2::numeric`
	tag, err := q.Exec(ctx, query, addr.Bytes(), u64Text(amount))
	if err != nil {
		return fmt.Errorf("postgres: debit %s: %w", addr.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: debit %s by %d: %w", addr.Hex(), amount, domain.ErrInsufficientFunds)
	}
	return nil
}

func move(ctx context.Context, q querier, from, to common.Address, amount uint64) error {
	if amount == 0 || from == to {
		return nil
	}
	if err := debit(ctx, q, from, amount); err != nil {
		return err
	}
	return credit(ctx, q, to, amount)
}
