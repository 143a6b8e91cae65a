package services

import (
	"context"
	"sort"

	"coinflip-miniapp-backend/internal/models"
)

const (
	DefaultHistoryLimit     = 25
	DefaultLeaderboardLimit = 20
	MaxPageLimit            = 100
)

type LeaderboardSort string

const (
	SortByNetProfit LeaderboardSort = "netProfit"
	SortByWins      LeaderboardSort = "wins"
	SortByWagered   LeaderboardSort = "wagered"
)

// StatsService serves game history and the leaderboard.
type StatsService struct {
	redisService *RedisService
}

func NewStatsService(redisService *RedisService) *StatsService {
	return &StatsService{redisService: redisService}
}

// History returns one page of a user's settled bets, most recent first.
func (s *StatsService) History(ctx context.Context, telegramID, page, limit int64) (*models.HistoryPage, error) {
	if page < 1 {
		return nil, &models.ValidationError{Field: "page", Message: "Invalid page parameter"}
	}
	if limit < 1 || limit > MaxPageLimit {
		return nil, &models.ValidationError{Field: "limit", Message: "Invalid limit parameter"}
	}

	if _, err := s.redisService.GetUser(ctx, telegramID); err != nil {
		return nil, err
	}

	entries, total, err := s.redisService.GetGameHistory(ctx, telegramID, page, limit)
	if err != nil {
		return nil, err
	}

	items := make([]models.HistoryItem, 0, len(entries))
	for _, e := range entries {
		items = append(items, e.Item())
	}

	return &models.HistoryPage{
		History:      items,
		CurrentPage:  page,
		TotalPages:   models.TotalPages(total, limit),
		TotalRecords: total,
	}, nil
}

// Leaderboard ranks players. Unknown sort keys fall back to net profit.
func (s *StatsService) Leaderboard(ctx context.Context, sortBy LeaderboardSort, limit int) ([]models.LeaderboardEntry, error) {
	if limit < 1 || limit > MaxPageLimit {
		return nil, &models.ValidationError{Field: "limit", Message: "Invalid limit parameter"}
	}

	users, err := s.redisService.GetAllUsers(ctx)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(users, func(i, j int) bool {
		return ranksBefore(users[i], users[j], sortBy)
	})

	if len(users) > limit {
		users = users[:limit]
	}

	entries := make([]models.LeaderboardEntry, 0, len(users))
	for _, u := range users {
		entries = append(entries, models.LeaderboardEntry{
			Username:     u.Username,
			FirstName:    u.FirstName,
			TotalWins:    u.TotalWins,
			TotalLosses:  u.TotalLosses,
			TotalWagered: models.FromRaw(u.TotalWagered).InexactFloat64(),
			NetProfit:    models.FromRaw(u.NetProfit).InexactFloat64(),
		})
	}
	return entries, nil
}

func ranksBefore(a, b *models.User, sortBy LeaderboardSort) bool {
	switch sortBy {
	case SortByWins:
		if a.TotalWins != b.TotalWins {
			return a.TotalWins > b.TotalWins
		}
		return a.NetProfit > b.NetProfit
	case SortByWagered:
		if a.TotalWagered != b.TotalWagered {
			return a.TotalWagered > b.TotalWagered
		}
		return a.NetProfit > b.NetProfit
	default:
		if a.NetProfit != b.NetProfit {
			return a.NetProfit > b.NetProfit
		}
		if a.TotalWins != b.TotalWins {
			return a.TotalWins > b.TotalWins
		}
		return a.TelegramID < b.TelegramID
	}
}
