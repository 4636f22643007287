package handler

import (
	"time"

	"github.com/alanyoungcy/dake/internal/domain"
)

// marketView is the JSON form of a market.
type marketView struct {
	Address          string     `json:"address"`
	Authority        string     `json:"authority"`
	MarketID         uint64     `json:"market_id"`
	Question         string     `json:"question"`
	ResolutionTime   int64      `json:"resolution_time"`
	Status           string     `json:"status"`
	Accounting       string     `json:"accounting"`
	SeedLiquidity    uint64     `json:"seed_liquidity"`
	TotalYesAmount   uint64     `json:"total_yes_amount"`
	TotalNoAmount    uint64     `json:"total_no_amount"`
	ParticipantCount uint32     `json:"participant_count"`
	Vault            string     `json:"vault"`
	VaultBalance     *uint64    `json:"vault_balance,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
}

func toMarketView(m domain.Market) marketView {
	return marketView{
		Address:          m.Address.Hex(),
		Authority:        m.Authority.Hex(),
		MarketID:         m.MarketID,
		Question:         m.Question,
		ResolutionTime:   m.ResolutionTime,
		Status:           string(m.Status),
		Accounting:       string(m.Accounting),
		SeedLiquidity:    m.SeedLiquidity,
		TotalYesAmount:   m.TotalYesAmount,
		TotalNoAmount:    m.TotalNoAmount,
		ParticipantCount: m.ParticipantCount,
		Vault:            m.Vault.Hex(),
		CreatedAt:        m.CreatedAt,
		ResolvedAt:       m.ResolvedAt,
	}
}

// positionView is the JSON form of a position. Handles are decimal u128
// strings; the side itself is never exposed.
type positionView struct {
	Address             string     `json:"address"`
	Market              string     `json:"market"`
	Owner               string     `json:"owner"`
	Amount              uint64     `json:"amount"`
	LockedPayout        uint64     `json:"locked_payout"`
	EncryptedSideHandle string     `json:"encrypted_side_handle"`
	IsWinnerHandle      string     `json:"is_winner_handle,omitempty"`
	Claimed             bool       `json:"claimed"`
	PaidOut             uint64     `json:"paid_out"`
	CreatedAt           time.Time  `json:"created_at"`
	ClaimedAt           *time.Time `json:"claimed_at,omitempty"`
}

func toPositionView(p domain.Position) positionView {
	v := positionView{
		Address:             p.Address.Hex(),
		Market:              p.Market.Hex(),
		Owner:               p.Owner.Hex(),
		Amount:              p.Amount,
		LockedPayout:        p.LockedPayout,
		EncryptedSideHandle: p.EncryptedSideHandle.String(),
		Claimed:             p.Claimed,
		PaidOut:             p.PaidOut,
		CreatedAt:           p.CreatedAt,
		ClaimedAt:           p.ClaimedAt,
	}
	if p.Checked() {
		v.IsWinnerHandle = p.IsWinnerHandle.String()
	}
	return v
}

func toPositionViews(ps []domain.Position) []positionView {
	out := make([]positionView, 0, len(ps))
	for _, p := range ps {
		out = append(out, toPositionView(p))
	}
	return out
}
