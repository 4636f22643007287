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

const marketCols = `address, authority, market_id::text, question, resolution_time,
	status, accounting, seed_liquidity::text, total_yes::text, total_no::text,
	participant_count, vault, created_at, resolved_at`

func scanMarket(row pgx.Row) (domain.Market, error) {
	var (
		m                      domain.Market
		addr, authority, vault []byte
		id, seed, yes, no      string
		status, accounting     string
		participants           int64
		resolvedAt             *time.Time
	)
	err := row.Scan(&addr, &authority, &id, &m.Question, &m.ResolutionTime,
		&status, &accounting, &seed, &yes, &no,
		&participants, &vault, &m.CreatedAt, &resolvedAt)
	if err != nil {
		return domain.Market{}, err
	}

	m.Address = common.BytesToAddress(addr)
	m.Authority = common.BytesToAddress(authority)
	m.Vault = common.BytesToAddress(vault)
	m.Status = domain.MarketStatus(status)
	m.Accounting = domain.Accounting(accounting)
	m.ParticipantCount = uint32(participants)
	m.ResolvedAt = resolvedAt

	if m.MarketID, err = parseU64("market_id", id); err != nil {
		return domain.Market{}, err
	}
	if m.SeedLiquidity, err = parseU64("seed_liquidity", seed); err != nil {
		return domain.Market{}, err
	}
	if m.TotalYesAmount, err = parseU64("total_yes", yes); err != nil {
		return domain.Market{}, err
	}
	if m.TotalNoAmount, err = parseU64("total_no", no); err != nil {
		return domain.Market{}, err
	}
	return m, nil
}

func getMarket(ctx context.Context, q querier, addr common.Address, forUpdate bool) (domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE address = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	m, err := scanMarket(q.QueryRow(ctx, query, addr.Bytes()))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Market{}, fmt.Errorf("postgres: market %s: %w", addr.Hex(), domain.ErrNotFound)
		}
		return domain.Market{}, fmt.Errorf("postgres: get market %s: %w", addr.Hex(), err)
	}
	return m, nil
}

func insertMarket(ctx context.Context, q querier, m domain.Market) error {
	const query = `
		INSERT INTO markets (
			address, authority, market_id, question, resolution_time,
			status, accounting, seed_liquidity, total_yes, total_no,
			participant_count, vault, created_at, resolved_at
		) VALUES (
			$1, $2, $3::numeric, $4, $5,
			$6, $7, $8::numeric, $9::numeric, $10::numeric,
			$11, $12, $13, $14
		)`
	_, err := q.Exec(ctx, query,
		m.Address.Bytes(), m.Authority.Bytes(), u64Text(m.MarketID), m.Question, m.ResolutionTime,
		string(m.Status), string(m.Accounting), u64Text(m.SeedLiquidity),
		u64Text(m.TotalYesAmount), u64Text(m.TotalNoAmount),
		int64(m.ParticipantCount), m.Vault.Bytes(), m.CreatedAt, m.ResolvedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("postgres: market %s: %w", m.Address.Hex(), domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: insert market %s: %w", m.Address.Hex(), err)
	}
	return nil
}

// updateMarket writes the mutable columns of m.
func updateMarket(ctx context.Context, q querier, m domain.Market) error {
	const query = `
		UPDATE markets SET
			status            = $2,
			total_yes         = $3::numeric,
			total_no          = $4::numeric,
			participant_count = $5,
			resolved_at       = $6
		WHERE address = $1`
	tag, err := q.Exec(ctx, query,
		m.Address.Bytes(), string(m.Status),
		u64Text(m.TotalYesAmount), u64Text(m.TotalNoAmount),
		int64(m.ParticipantCount), m.ResolvedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: update market %s: %w", m.Address.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: market %s: %w", m.Address.Hex(), domain.ErrNotFound)
	}
	return nil
}

func listMarkets(ctx context.Context, q querier, opts domain.ListOpts) ([]domain.Market, error) {
	query := `SELECT ` + marketCols + ` FROM markets WHERE 1=1`
	args := []any{}
	argIdx := 1

	if opts.Status != "" {
		query += fmt.Sprintf(" AND status = $%d", argIdx)
		args = append(args, string(opts.Status))
		argIdx++
	}
	if opts.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND created_at < $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY market_id ASC"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list markets: %w", err)
	}
	defer rows.Close()

	var out []domain.Market
	for rows.Next() {
		m, err := scanMarket(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan market: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list markets rows: %w", err)
	}
	return out, nil
}
