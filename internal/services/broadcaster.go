package services

import "coinflip-miniapp-backend/internal/models"

// Broadcaster pushes settlement events to a player's open connections.
type Broadcaster interface {
	BroadcastBalance(telegramID int64, balance float64)
	BroadcastBetSettled(telegramID int64, result *models.BetResult)
}

type noopBroadcaster struct{}

func (noopBroadcaster) BroadcastBalance(int64, float64) {}
func (noopBroadcaster) BroadcastBetSettled(int64, *models.BetResult) {}
