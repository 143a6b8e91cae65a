package models

import "time"

type SettlementStage string

const (
	// StagePending: journaled, transfer outcome not yet known.
	StagePending SettlementStage = "pending"
	// StageTransferred: funds moved, local state not yet applied.
	StageTransferred SettlementStage = "transferred"
)

// Settlement is the journal entry for one bet. It holds every computed value
// so the local apply can be replayed after the transfer went through.
type Settlement struct {
	BetID        string          `json:"betId"`
	TelegramID   int64           `json:"telegramId"`
	Stage        SettlementStage `json:"stage"`
	Choice       string          `json:"choice"`
	CoinResult   string          `json:"coinResult"`
	Won          bool            `json:"won"`
	WagerRaw     int64           `json:"wagerRaw"`
	FeeRaw       int64           `json:"feeRaw"`
	PayoutRaw    int64           `json:"payoutRaw"`
	NetRaw       int64           `json:"netRaw"`
	ClientSeed   string          `json:"clientSeed"`
	Nonce        int64           `json:"nonce"`
	ServerSeed   string          `json:"serverSeed"`
	ServerHash   string          `json:"serverSeedHash"`
	ResultHash   string          `json:"resultHash"`
	PreCommitted bool            `json:"preCommitted"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

func (s *Settlement) Outcome() Outcome {
	if s.Won {
		return OutcomeWin
	}
	return OutcomeLoss
}

// History builds the history row for this settlement.
func (s *Settlement) History(id string, at time.Time) *GameHistory {
	return &GameHistory{
		ID:             id,
		BetID:          s.BetID,
		TelegramID:     s.TelegramID,
		GameType:       GameTypeCoinFlip,
		WagerAmount:    s.WagerRaw,
		Choice:         s.Choice,
		Outcome:        s.Outcome(),
		PayoutAmount:   s.NetRaw,
		PlatformFee:    s.FeeRaw,
		ServerSeed:     s.ServerSeed,
		ServerSeedHash: s.ServerHash,
		ClientSeed:     s.ClientSeed,
		Nonce:          s.Nonce,
		ResultingHash:  s.ResultHash,
		PreCommitted:   s.PreCommitted,
		Timestamp:      at,
	}
}
