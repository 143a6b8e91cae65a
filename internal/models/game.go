package models

import "time"

type GameType string

const (
	GameTypeCoinFlip GameType = "coinflip"
)

type Outcome string

const (
	OutcomeWin  Outcome = "win"
	OutcomeLoss Outcome = "loss"
)

// GameHistory is the append-only record of one settled bet. Amounts are raw
// token units; PayoutAmount is the signed change to the player's balance.
type GameHistory struct {
	ID             string   `json:"id"`
	BetID          string   `json:"betId"`
	TelegramID     int64    `json:"telegramId"`
	GameType       GameType `json:"gameType"`
	WagerAmount    int64    `json:"wagerAmount"`
	Choice         string   `json:"choice"`
	Outcome        Outcome  `json:"outcome"`
	PayoutAmount   int64    `json:"payoutAmount"`
	PlatformFee    int64    `json:"platformFee"`
	ServerSeed     string   `json:"serverSeed"`
	ServerSeedHash string   `json:"serverSeedHash"`
	ClientSeed     string   `json:"clientSeed"`
	Nonce          int64    `json:"nonce"`
	ResultingHash  string   `json:"resultingHash"`
	// PreCommitted is false when the seed was generated at bet time because
	// the player never fetched its hash.
	PreCommitted bool      `json:"preCommitted"`
	Timestamp    time.Time `json:"timestamp"`
}

// HistoryItem is GameHistory with amounts in token units.
type HistoryItem struct {
	ID             string    `json:"id"`
	GameType       GameType  `json:"gameType"`
	WagerAmount    float64   `json:"wagerAmount"`
	Choice         string    `json:"choice"`
	Outcome        Outcome   `json:"outcome"`
	PayoutAmount   float64   `json:"payoutAmount"`
	PlatformFee    float64   `json:"platformFee"`
	ServerSeed     string    `json:"serverSeed"`
	ServerSeedHash string    `json:"serverSeedHash"`
	ClientSeed     string    `json:"clientSeed"`
	Nonce          int64     `json:"nonce"`
	ResultingHash  string    `json:"resultingHash"`
	PreCommitted   bool      `json:"preCommitted"`
	Timestamp      time.Time `json:"timestamp"`
}

func (g *GameHistory) Item() HistoryItem {
	return HistoryItem{
		ID:             g.ID,
		GameType:       g.GameType,
		WagerAmount:    FromRaw(g.WagerAmount).InexactFloat64(),
		Choice:         g.Choice,
		Outcome:        g.Outcome,
		PayoutAmount:   FromRaw(g.PayoutAmount).InexactFloat64(),
		PlatformFee:    FromRaw(g.PlatformFee).InexactFloat64(),
		ServerSeed:     g.ServerSeed,
		ServerSeedHash: g.ServerSeedHash,
		ClientSeed:     g.ClientSeed,
		Nonce:          g.Nonce,
		ResultingHash:  g.ResultingHash,
		PreCommitted:   g.PreCommitted,
		Timestamp:      g.Timestamp,
	}
}

type HistoryPage struct {
	History      []HistoryItem `json:"history"`
	CurrentPage  int64         `json:"currentPage"`
	TotalPages   int64         `json:"totalPages"`
	TotalRecords int64         `json:"totalRecords"`
}
