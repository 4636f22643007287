package s3blob

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"path"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/alanyoungcy/dake/internal/domain"
)

// SettlementSource is the read side the archiver needs. domain.Ledger
// satisfies it.
type SettlementSource interface {
	ListMarkets(ctx context.Context, opts domain.ListOpts) ([]domain.Market, error)
	ListPositions(ctx context.Context, market common.Address) ([]domain.Position, error)
}

// BlobStore uploads objects and checks for ones already written.
type BlobStore interface {
	domain.BlobWriter
	domain.BlobChecker
}

const (
	archiveLockKey = "archive:settlements"
	archiveLockTTL = 5 * time.Minute
	archivePage    = 200
)

// Archiver exports resolved markets and their positions as JSONL objects.
// Claims land after resolution, so a market is exported again whenever its
// settlement state changes. Each export is a new object named by the number
// of claimed positions and a digest of the content; earlier exports are left
// untouched.
type Archiver struct {
	blobs  BlobStore
	source SettlementSource
	prefix string
	locks  domain.LockManager
	audit  domain.AuditStore
	bus    domain.SignalBus
	logger *slog.Logger
}

// ArchiverOption customises an Archiver.
type ArchiverOption func(*Archiver)

// WithLock serialises runs across processes.
func WithLock(l domain.LockManager) ArchiverOption {
	return func(a *Archiver) { a.locks = l }
}

// WithAudit records each archived market in the audit log.
func WithAudit(s domain.AuditStore) ArchiverOption {
	return func(a *Archiver) { a.audit = s }
}

// WithBus publishes a market_archived event per object written.
func WithBus(b domain.SignalBus) ArchiverOption {
	return func(a *Archiver) { a.bus = b }
}

// NewArchiver creates an Archiver writing under prefix.
func NewArchiver(blobs BlobStore, source SettlementSource, prefix string, logger *slog.Logger, opts ...ArchiverOption) *Archiver {
	if logger == nil {
		logger = slog.Default()
	}
	a := &Archiver{
		blobs:  blobs,
		source: source,
		prefix: prefix,
		logger: logger.With(slog.String("component", "archiver")),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// ObjectPath returns the object key of one export of a market. claimed is
// the number of claimed positions and data the encoded export.
func (a *Archiver) ObjectPath(m domain.Market, claimed int, data []byte) string {
	digest := ethcrypto.Keccak256(data)
	name := fmt.Sprintf("%06d-%s.jsonl", claimed, hex.EncodeToString(digest[:8]))
	return path.Join(a.prefix, "markets", strconv.FormatUint(m.MarketID, 10), m.Address.Hex(), name)
}

// Run archives on every tick until ctx is cancelled.
func (a *Archiver) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if _, err := a.ArchiveResolved(ctx); err != nil && ctx.Err() == nil {
			a.logger.WarnContext(ctx, "archive run failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ArchiveResolved exports every resolved market whose current settlement
// state has not been written yet and returns how many objects were written.
func (a *Archiver) ArchiveResolved(ctx context.Context) (int, error) {
	if a.locks != nil {
		unlock, err := a.locks.Acquire(ctx, archiveLockKey, archiveLockTTL)
		if err != nil {
			return 0, fmt.Errorf("s3blob: acquire archive lock: %w", err)
		}
		defer unlock()
	}

	written := 0
	for _, status := range []domain.MarketStatus{domain.MarketStatusResolvedYes, domain.MarketStatusResolvedNo} {
		for offset := 0; ; offset += archivePage {
			markets, err := a.source.ListMarkets(ctx, domain.ListOpts{Status: status, Limit: archivePage, Offset: offset})
			if err != nil {
				return written, fmt.Errorf("s3blob: list %s markets: %w", status, err)
			}
			for _, m := range markets {
				ok, err := a.ArchiveMarket(ctx, m)
				if err != nil {
					return written, err
				}
				if ok {
					written++
				}
			}
			if len(markets) < archivePage {
				break
			}
		}
	}
	return written, nil
}

// ArchiveMarket writes one market's current settlement state. It reports
// false when that state has already been exported.
func (a *Archiver) ArchiveMarket(ctx context.Context, m domain.Market) (bool, error) {
	if !m.IsResolved() {
		return false, fmt.Errorf("s3blob: archive market %s: %w", m.Address.Hex(), domain.ErrMarketNotResolved)
	}
	positions, err := a.source.ListPositions(ctx, m.Address)
	if err != nil {
		return false, fmt.Errorf("s3blob: list positions for %s: %w", m.Address.Hex(), err)
	}

	records := make([]settlementRecord, 0, len(positions)+1)
	records = append(records, marketRecord(m))
	var (
		paid    uint64
		claimed int
	)
	for _, p := range positions {
		records = append(records, positionRecord(p))
		paid += p.PaidOut
		if p.Claimed {
			claimed++
		}
	}
	data, err := marshalJSONL(records)
	if err != nil {
		return false, fmt.Errorf("s3blob: encode market %s: %w", m.Address.Hex(), err)
	}

	key := a.ObjectPath(m, claimed, data)
	exists, err := a.blobs.Exists(ctx, key)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	if err := a.blobs.Put(ctx, key, bytes.NewReader(data), "application/x-ndjson"); err != nil {
		return false, err
	}

	a.logger.InfoContext(ctx, "market archived",
		slog.String("market", m.Address.Hex()),
		slog.Uint64("market_id", m.MarketID),
		slog.Int("positions", len(positions)),
		slog.Int("claimed", claimed),
		slog.Uint64("paid_out", paid),
		slog.String("path", key),
	)
	a.record(ctx, m, key, len(positions), claimed, paid)
	return true, nil
}

// record logs and publishes the archive without failing the run.
func (a *Archiver) record(ctx context.Context, m domain.Market, key string, positions, claimed int, paid uint64) {
	if a.audit != nil {
		detail := map[string]any{
			"market":    m.Address.Hex(),
			"market_id": m.MarketID,
			"path":      key,
			"positions": positions,
			"claimed":   claimed,
			"paid_out":  paid,
		}
		if err := a.audit.Log(ctx, domain.EventMarketArchived, detail); err != nil {
			a.logger.WarnContext(ctx, "audit log failed", slog.String("error", err.Error()))
		}
	}
	if a.bus != nil {
		payload, err := json.Marshal(domain.Event{
			Type:   domain.EventMarketArchived,
			Market: m.Address,
			Status: m.Status,
			Amount: paid,
			At:     time.Now().UTC(),
		})
		if err == nil {
			err = a.bus.Publish(ctx, domain.ChannelMarkets, payload)
		}
		if err != nil {
			a.logger.WarnContext(ctx, "publish archive event failed", slog.String("error", err.Error()))
		}
	}
}

// settlementRecord is one JSONL line. Kind is "market" or "position".
type settlementRecord struct {
	Kind             string     `json:"kind"`
	Address          string     `json:"address"`
	Market           string     `json:"market,omitempty"`
	MarketID         uint64     `json:"market_id,omitempty"`
	Question         string     `json:"question,omitempty"`
	Status           string     `json:"status,omitempty"`
	Accounting       string     `json:"accounting,omitempty"`
	TotalYes         uint64     `json:"total_yes,omitempty"`
	TotalNo          uint64     `json:"total_no,omitempty"`
	SeedLiquidity    uint64     `json:"seed_liquidity,omitempty"`
	ParticipantCount uint32     `json:"participant_count,omitempty"`
	Owner            string     `json:"owner,omitempty"`
	Amount           uint64     `json:"amount,omitempty"`
	LockedPayout     uint64     `json:"locked_payout,omitempty"`
	SideHandle       string     `json:"side_handle,omitempty"`
	IsWinnerHandle   string     `json:"is_winner_handle,omitempty"`
	Claimed          bool       `json:"claimed,omitempty"`
	PaidOut          uint64     `json:"paid_out,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	SettledAt        *time.Time `json:"settled_at,omitempty"`
}

func marketRecord(m domain.Market) settlementRecord {
	return settlementRecord{
		Kind:             "market",
		Address:          m.Address.Hex(),
		MarketID:         m.MarketID,
		Question:         m.Question,
		Status:           string(m.Status),
		Accounting:       string(m.Accounting),
		TotalYes:         m.TotalYesAmount,
		TotalNo:          m.TotalNoAmount,
		SeedLiquidity:    m.SeedLiquidity,
		ParticipantCount: m.ParticipantCount,
		CreatedAt:        m.CreatedAt,
		SettledAt:        m.ResolvedAt,
	}
}

func positionRecord(p domain.Position) settlementRecord {
	r := settlementRecord{
		Kind:         "position",
		Address:      p.Address.Hex(),
		Market:       p.Market.Hex(),
		Owner:        p.Owner.Hex(),
		Amount:       p.Amount,
		LockedPayout: p.LockedPayout,
		SideHandle:   p.EncryptedSideHandle.String(),
		Claimed:      p.Claimed,
		PaidOut:      p.PaidOut,
		CreatedAt:    p.CreatedAt,
		SettledAt:    p.ClaimedAt,
	}
	if p.Checked() {
		r.IsWinnerHandle = p.IsWinnerHandle.String()
	}
	return r
}

// marshalJSONL encodes items as newline-delimited JSON.
func marshalJSONL[T any](items []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range items {
		if err := enc.Encode(items[i]); err != nil {
			return nil, fmt.Errorf("encode item %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
