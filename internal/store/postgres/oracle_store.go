package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/dake/internal/domain"
)

// OracleStore implements domain.OracleStore so sealed oracle values and their
// grants survive restarts alongside the ledger.
type OracleStore struct {
	pool *pgxpool.Pool
}

// NewOracleStore creates an OracleStore backed by pool.
func NewOracleStore(pool *pgxpool.Pool) *OracleStore {
	return &OracleStore{pool: pool}
}

func (s *OracleStore) PutValue(ctx context.Context, v domain.SealedValue) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO oracle_values (handle, ciphertext, creator, created_at) VALUES ($1, $2, $3, $4)`,
		v.Handle[:], v.Ciphertext, v.Creator.Bytes(), v.CreatedAt,
	)
	if err != nil {
		if pgCode(err) == codeUniqueViolation {
			return fmt.Errorf("postgres: oracle value %s: %w", v.Handle, domain.ErrAlreadyExists)
		}
		return fmt.Errorf("postgres: put oracle value %s: %w", v.Handle, err)
	}
	return nil
}

func (s *OracleStore) GetValue(ctx context.Context, h domain.Handle) (domain.SealedValue, error) {
	var (
		v       domain.SealedValue
		creator []byte
	)
	err := s.pool.QueryRow(ctx,
		`SELECT ciphertext, creator, created_at FROM oracle_values WHERE handle = $1`, h[:],
	).Scan(&v.Ciphertext, &creator, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.SealedValue{}, fmt.Errorf("postgres: oracle value %s: %w", h, domain.ErrNotFound)
		}
		return domain.SealedValue{}, fmt.Errorf("postgres: get oracle value %s: %w", h, err)
	}
	v.Handle = h
	v.Creator = common.BytesToAddress(creator)
	return v, nil
}

func (s *OracleStore) Grant(ctx context.Context, h domain.Handle, addr common.Address) error {
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO oracle_grants (handle, address)
		SELECT handle, $2 FROM oracle_values WHERE handle = $1
		ON CONFLICT (handle, address) DO NOTHING`,
		h[:], addr.Bytes(),
	)
	if err != nil {
		return fmt.Errorf("postgres: grant %s: %w", h, err)
	}
	if tag.RowsAffected() == 0 {
		// Either the grant already existed or the handle is unknown.
		if _, err := s.GetValue(ctx, h); err != nil {
			return err
		}
	}
	return nil
}

func (s *OracleStore) HasAccess(ctx context.Context, h domain.Handle, addr common.Address) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM oracle_grants WHERE handle = $1 AND address = $2)`,
		h[:], addr.Bytes(),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("postgres: access check %s: %w", h, err)
	}
	return ok, nil
}
