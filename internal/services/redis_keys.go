package services

import "time"

const (
	KeyUserSession = "user:%d:session:%s"
	KeyUserInfo    = "user:%d:info"
	KeyUsers       = "users:all"
	KeyWallet      = "wallet:%d"
	KeyWalletLock  = "lock:wallet:%d"
	KeyHistory     = "history:%s"
	KeyUserHistory = "user:%d:history"
	KeyRateLimit   = "ratelimit:%s:%s"

	// Settlement journal, one document per bet plus a sorted set per stage
	// scored by creation time.
	KeySettlement             = "settlement:%s"
	KeySettlementsPending     = "settlements:pending"
	KeySettlementsTransferred = "settlements:transferred"
	KeyBetSettled             = "bet:%s:settled"

	TTLUserSession = 24 * time.Hour

	lockRetryDelay     = 25 * time.Millisecond
	lockReleaseTimeout = 2 * time.Second
)
