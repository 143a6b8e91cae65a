package models

import "time"

// TelegramUser is the user object Telegram hands the mini app, either inside
// initData or posted by the client on registration.
type TelegramUser struct {
	ID                    int64  `json:"id"`
	FirstName             string `json:"first_name"`
	LastName              string `json:"last_name,omitempty"`
	Username              string `json:"username,omitempty"`
	LanguageCode          string `json:"language_code,omitempty"`
	IsPremium             bool   `json:"is_premium,omitempty"`
	AllowsWriteToPM       bool   `json:"allows_write_to_pm,omitempty"`
	AddedToAttachmentMenu bool   `json:"added_to_attachment_menu,omitempty"`
	PhotoURL              string `json:"photo_url,omitempty"`
}

type User struct {
	TelegramID   int64     `json:"telegramId"`
	FirstName    string    `json:"firstName"`
	LastName     string    `json:"lastName,omitempty"`
	Username     string    `json:"username,omitempty"`
	LanguageCode string    `json:"languageCode"`
	IsPremium    bool      `json:"isPremium"`
	LastVisited  time.Time `json:"lastVisited"`
	CreatedAt    time.Time `json:"createdAt"`

	// Game statistics, raw token units.
	TotalWins    int64 `json:"totalWins"`
	TotalLosses  int64 `json:"totalLosses"`
	TotalWagered int64 `json:"totalWagered"`
	NetProfit    int64 `json:"netProfit"`
}

func NewUser(tg *TelegramUser, now time.Time) *User {
	lang := tg.LanguageCode
	if lang == "" {
		lang = "en"
	}

	return &User{
		TelegramID:   tg.ID,
		FirstName:    tg.FirstName,
		LastName:     tg.LastName,
		Username:     tg.Username,
		LanguageCode: lang,
		IsPremium:    tg.IsPremium,
		LastVisited:  now,
		CreatedAt:    now,
	}
}

// RecordBet folds one settled bet into the aggregate statistics.
func (u *User) RecordBet(wagerRaw, netRaw int64, won bool) {
	u.TotalWagered += wagerRaw
	if won {
		u.TotalWins++
	} else {
		u.TotalLosses++
	}
	u.NetProfit += netRaw
}

type UserSession struct {
	ID           int64         `json:"id"`
	SessionID    string        `json:"session_id"`
	TelegramUser *TelegramUser `json:"telegram_user"`
	CreatedAt    time.Time     `json:"created_at"`
	LastAccessed time.Time     `json:"last_accessed"`
}

// LeaderboardEntry is the public projection of a user's statistics, amounts
// in token units.
type LeaderboardEntry struct {
	Username     string  `json:"username,omitempty"`
	FirstName    string  `json:"firstName"`
	TotalWins    int64   `json:"totalWins"`
	TotalLosses  int64   `json:"totalLosses"`
	TotalWagered float64 `json:"totalWagered"`
	NetProfit    float64 `json:"netProfit"`
}
