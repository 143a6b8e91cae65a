package services

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"coinflip-miniapp-backend/internal/models"
)

var ErrInvalidInitData = errors.New("invalid telegram init data")

// DefaultInitDataMaxAge bounds how old auth_date may be.
const DefaultInitDataMaxAge = 24 * time.Hour

// ValidateInitData checks the signature of a Telegram WebApp initData string
// and returns the user it carries.
//
// The data-check string is every field except hash, sorted by key and joined
// as key=value lines. The signing key is HMAC-SHA256("WebAppData", botToken).
func ValidateInitData(initData, botToken string, maxAge time.Duration, now time.Time) (*models.TelegramUser, error) {
	if botToken == "" {
		return nil, fmt.Errorf("%w: bot token not configured", ErrInvalidInitData)
	}

	values, err := url.ParseQuery(initData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInitData, err)
	}

	hash := values.Get("hash")
	if hash == "" {
		return nil, fmt.Errorf("%w: missing hash", ErrInvalidInitData)
	}

	expected := signInitData(values, botToken)
	if !hmac.Equal([]byte(expected), []byte(strings.ToLower(hash))) {
		return nil, fmt.Errorf("%w: signature mismatch", ErrInvalidInitData)
	}

	authDate, err := strconv.ParseInt(values.Get("auth_date"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("%w: bad auth_date", ErrInvalidInitData)
	}
	if maxAge > 0 && now.Sub(time.Unix(authDate, 0)) > maxAge {
		return nil, fmt.Errorf("%w: init data expired", ErrInvalidInitData)
	}

	var user models.TelegramUser
	if err := json.Unmarshal([]byte(values.Get("user")), &user); err != nil {
		return nil, fmt.Errorf("%w: bad user payload", ErrInvalidInitData)
	}
	if user.ID == 0 {
		return nil, fmt.Errorf("%w: missing user id", ErrInvalidInitData)
	}

	return &user, nil
}

func signInitData(values url.Values, botToken string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		if k == "hash" {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, k+"="+values.Get(k))
	}

	secret := hmac.New(sha256.New, []byte("WebAppData"))
	secret.Write([]byte(botToken))

	mac := hmac.New(sha256.New, secret.Sum(nil))
	mac.Write([]byte(strings.Join(lines, "\n")))
	return hex.EncodeToString(mac.Sum(nil))
}
