package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"coinflip-miniapp-backend/internal/config"
	"coinflip-miniapp-backend/internal/fairness"
	"coinflip-miniapp-backend/internal/ledger"
	"coinflip-miniapp-backend/internal/models"
)

type EngineConfig struct {
	HouseWalletID      string
	PlatformFeePercent decimal.Decimal
	TransferTimeout    time.Duration
	LockTTL            time.Duration
	LockWait           time.Duration
	PendingAge         time.Duration
}

func NewEngineConfig(cfg *config.Config) EngineConfig {
	return EngineConfig{
		HouseWalletID:      cfg.HouseWalletID,
		PlatformFeePercent: cfg.PlatformFeePercent,
		TransferTimeout:    cfg.TransferTimeout,
		LockTTL:            cfg.WalletLockTTL,
		LockWait:           cfg.WalletLockWait,
		PendingAge:         cfg.ReconcilePendingAge,
	}
}

// CoinFlipEngine settles provably fair coin flips against the ledger.
type CoinFlipEngine struct {
	redisService *RedisService
	ledger       ledger.Ledger
	broadcaster  Broadcaster
	cfg          EngineConfig

	generate func() (fairness.Commitment, error)
	now      func() time.Time
}

func NewCoinFlipEngine(redisService *RedisService, l ledger.Ledger, cfg EngineConfig) *CoinFlipEngine {
	return &CoinFlipEngine{
		redisService: redisService,
		ledger:       l,
		broadcaster:  noopBroadcaster{},
		cfg:          cfg,
		generate:     fairness.GenerateCommitment,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (e *CoinFlipEngine) SetBroadcaster(b Broadcaster) {
	if b == nil {
		b = noopBroadcaster{}
	}
	e.broadcaster = b
}

// SettleBet resolves one bet against the seed committed for
// (clientSeed, nonce), moves the funds and records the result.
//
// Nothing is persisted when the ledger rejects the transfer. When the
// transfer outcome is unknown the journal entry stays pending, which blocks
// the same bet until it is audited. Once the transfer succeeds the bet is
// journaled as transferred, so a failed local write is replayed by the
// reconciler instead of being lost.
func (e *CoinFlipEngine) SettleBet(ctx context.Context, req *models.BetRequest) (*models.BetResult, error) {
	bet, err := req.Validate()
	if err != nil {
		return nil, err
	}

	release, err := e.redisService.LockWallet(ctx, bet.TelegramID, e.cfg.LockTTL, e.cfg.LockWait)
	if err != nil {
		return nil, err
	}
	defer release()

	user, err := e.redisService.GetUser(ctx, bet.TelegramID)
	if err != nil {
		return nil, err
	}
	wallet, err := e.redisService.GetWallet(ctx, bet.TelegramID)
	if err != nil {
		return nil, err
	}
	if e.cfg.HouseWalletID == "" {
		return nil, ErrHouseNotConfigured
	}

	betID := models.BetID(bet.TelegramID, bet.ClientSeed, bet.Nonce)
	if err := e.checkNotSettled(ctx, betID); err != nil {
		return nil, err
	}

	if wallet.Balance.Token < bet.AmountRaw {
		return nil, ErrInsufficientBalance
	}

	logger := slog.With(
		"telegram_id", bet.TelegramID,
		"bet_id", betID,
		"client_seed", bet.ClientSeed,
		"nonce", bet.Nonce,
	)

	commitment, ok := wallet.Commitments().Get(bet.ClientSeed, bet.Nonce)
	preCommitted := ok
	if !ok {
		logger.Warn("no pre-committed seed for bet, generating fallback")
		commitment, err = e.generate()
		if err != nil {
			return nil, fmt.Errorf("failed to generate server seed: %w", err)
		}
	}

	result := fairness.Resolve(commitment.ServerSeed, bet.ClientSeed, bet.Nonce)
	won := result.Outcome == bet.Choice

	now := e.now()
	st := &models.Settlement{
		BetID:        betID,
		TelegramID:   bet.TelegramID,
		Stage:        models.StagePending,
		Choice:       bet.Choice,
		CoinResult:   result.Outcome,
		Won:          won,
		WagerRaw:     bet.AmountRaw,
		ClientSeed:   bet.ClientSeed,
		Nonce:        bet.Nonce,
		ServerSeed:   commitment.ServerSeed,
		ServerHash:   commitment.ServerSeedHash,
		ResultHash:   result.ResultHash,
		PreCommitted: preCommitted,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if won {
		st.FeeRaw = models.PlatformFee(bet.AmountRaw, e.cfg.PlatformFeePercent)
		st.PayoutRaw = bet.AmountRaw - st.FeeRaw
		st.NetRaw = st.PayoutRaw
	} else {
		st.NetRaw = -bet.AmountRaw
	}

	if err := e.redisService.SaveSettlement(ctx, st); err != nil {
		return nil, err
	}

	if err := e.transfer(ctx, wallet, st); err != nil {
		if ledger.IsRejected(err) {
			logger.Error("token transfer rejected", "error", err)
			if derr := e.redisService.DeleteSettlement(context.WithoutCancel(ctx), betID); derr != nil {
				logger.Error("failed to drop settlement journal", "error", derr)
			}
		} else {
			logger.Error("token transfer outcome unknown, settlement left pending for audit", "error", err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}

	// Funds have moved; finish the bookkeeping even if the caller has gone.
	ctx = context.WithoutCancel(ctx)

	st.Stage = models.StageTransferred
	st.UpdatedAt = e.now()
	if err := e.redisService.SaveSettlement(ctx, st); err != nil {
		logger.Error("failed to mark settlement transferred", "error", err)
	}

	if err := e.apply(ctx, wallet, user, st); err != nil {
		logger.Error("failed to record settled bet, left for reconciliation", "error", err)
	}

	res := &models.BetResult{
		Won:            won,
		NewBalance:     models.FromRaw(wallet.Balance.Token).InexactFloat64(),
		CoinResult:     result.Outcome,
		BetAmount:      bet.Amount.InexactFloat64(),
		PayoutAmount:   models.FromRaw(st.PayoutRaw).InexactFloat64(),
		PlatformFee:    models.FromRaw(st.FeeRaw).InexactFloat64(),
		ServerSeed:     commitment.ServerSeed,
		ServerSeedHash: commitment.ServerSeedHash,
		ClientSeed:     bet.ClientSeed,
		Nonce:          bet.Nonce,
		ResultHash:     result.ResultHash,
		PreCommitted:   preCommitted,
	}

	logger.Info("bet settled",
		"won", won,
		"wager_raw", st.WagerRaw,
		"net_raw", st.NetRaw,
		"fee_raw", st.FeeRaw,
	)

	e.broadcaster.BroadcastBetSettled(bet.TelegramID, res)
	e.broadcaster.BroadcastBalance(bet.TelegramID, res.NewBalance)

	return res, nil
}

func (e *CoinFlipEngine) checkNotSettled(ctx context.Context, betID string) error {
	settled, err := e.redisService.IsBetSettled(ctx, betID)
	if err != nil {
		return err
	}
	if settled {
		return ErrBetAlreadySettled
	}

	return e.checkNoJournal(ctx, betID)
}

// checkNoJournal fails when a settlement for betID is still in flight: a
// transferred entry has moved funds, a pending one may have.
func (e *CoinFlipEngine) checkNoJournal(ctx context.Context, betID string) error {
	st, err := e.redisService.GetSettlement(ctx, betID)
	switch {
	case err == nil && st.Stage == models.StageTransferred:
		return ErrBetAlreadySettled
	case err == nil:
		return ErrSettlementPending
	case errors.Is(err, ErrSettlementNotFound):
		return nil
	default:
		return err
	}
}

// transfer moves the settlement's net amount between the player and the
// house. A win whose fee eats the whole payout moves nothing.
func (e *CoinFlipEngine) transfer(ctx context.Context, wallet *models.Wallet, st *models.Settlement) error {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.TransferTimeout)
	defer cancel()

	if st.Won {
		if st.PayoutRaw <= 0 {
			return nil
		}
		return e.ledger.Transfer(ctx, e.cfg.HouseWalletID, wallet.Address, models.FromRaw(st.PayoutRaw))
	}
	return e.ledger.Transfer(ctx, wallet.Address, e.cfg.HouseWalletID, models.FromRaw(st.WagerRaw))
}

// apply writes the local side of a transferred settlement: balance, the
// played leaf, the next nonce's leaf, user statistics and the history row.
func (e *CoinFlipEngine) apply(ctx context.Context, wallet *models.Wallet, user *models.User, st *models.Settlement) error {
	commitments := wallet.Commitments()
	commitments.Set(st.ClientSeed, st.Nonce, fairness.Commitment{
		ServerSeed:     st.ServerSeed,
		ServerSeedHash: st.ServerHash,
	})
	if _, _, err := commitments.GetOrCreate(st.ClientSeed, st.Nonce+1, e.generate); err != nil {
		return fmt.Errorf("failed to pre-commit next seed: %w", err)
	}

	now := e.now()
	wallet.Balance.Token += st.NetRaw
	user.RecordBet(st.WagerRaw, st.NetRaw, st.Won)
	user.LastVisited = now

	entry := st.History(models.GenerateHistoryID(), now)
	return e.redisService.ApplySettlement(ctx, wallet, user, entry)
}

// GetNextHash returns the commitment for (clientSeed, nonce), creating and
// persisting it on first request. The seed itself is never returned.
func (e *CoinFlipEngine) GetNextHash(ctx context.Context, telegramID int64, clientSeed string, nonce int64) (string, error) {
	if clientSeed == "" {
		return "", &models.ValidationError{Field: "clientSeed", Message: "Missing required query parameters: clientSeed"}
	}
	if nonce < 0 {
		return "", &models.ValidationError{Field: "nonce", Message: "Invalid nonce parameter"}
	}

	if _, err := e.redisService.GetUser(ctx, telegramID); err != nil {
		return "", err
	}

	wallet, err := e.redisService.GetWallet(ctx, telegramID)
	if err != nil {
		return "", err
	}
	if c, ok := wallet.Commitments().Get(clientSeed, nonce); ok {
		return c.ServerSeedHash, nil
	}

	release, err := e.redisService.LockWallet(ctx, telegramID, e.cfg.LockTTL, e.cfg.LockWait)
	if err != nil {
		return "", err
	}
	defer release()

	wallet, err = e.redisService.GetWallet(ctx, telegramID)
	if err != nil {
		return "", err
	}
	if c, ok := wallet.Commitments().Get(clientSeed, nonce); ok {
		return c.ServerSeedHash, nil
	}

	// A journaled bet without a leaf was settled on a fallback seed; the
	// reconciler writes that seed as the leaf.
	if err := e.checkNoJournal(ctx, models.BetID(telegramID, clientSeed, nonce)); err != nil {
		return "", err
	}

	c, created, err := wallet.Commitments().GetOrCreate(clientSeed, nonce, e.generate)
	if err != nil {
		return "", fmt.Errorf("failed to generate server seed: %w", err)
	}
	if created {
		if err := e.redisService.SaveWallet(ctx, wallet); err != nil {
			return "", err
		}
	}
	return c.ServerSeedHash, nil
}

// ReconcileSettlements applies every journaled settlement whose transfer
// went through but whose local write never committed, and reports pending
// entries old enough that their transfer outcome needs a manual look.
func (e *CoinFlipEngine) ReconcileSettlements(ctx context.Context) (int, error) {
	ids, err := e.redisService.TransferredSettlements(ctx)
	if err != nil {
		return 0, err
	}

	applied := 0
	var errs []error
	for _, betID := range ids {
		ok, err := e.reconcileOne(ctx, betID)
		if err != nil {
			slog.Error("failed to reconcile settlement", "bet_id", betID, "error", err)
			errs = append(errs, err)
			continue
		}
		if ok {
			applied++
		}
	}

	if e.cfg.PendingAge > 0 {
		audits, err := e.AuditPendingSettlements(ctx, e.now().Add(-e.cfg.PendingAge))
		if err != nil {
			errs = append(errs, err)
		}
		for _, a := range audits {
			slog.Warn("settlement stuck before transfer confirmation, needs audit",
				"bet_id", a.BetID,
				"telegram_id", a.TelegramID,
				"net_raw", a.NetRaw,
				"ledger_balance", a.LedgerBalance.String(),
				"local_balance", a.LocalBalance.String(),
				"transfer_landed", a.TransferLanded(),
			)
		}
	}

	return applied, errors.Join(errs...)
}

// PendingAudit compares the ledger and local balances of a wallet whose
// settlement never got a transfer confirmation.
type PendingAudit struct {
	BetID         string
	TelegramID    int64
	NetRaw        int64
	LedgerBalance decimal.Decimal
	LocalBalance  decimal.Decimal
}

// Drift is the ledger balance minus the local one.
func (a PendingAudit) Drift() decimal.Decimal {
	return a.LedgerBalance.Sub(a.LocalBalance)
}

// TransferLanded reports whether the drift is exactly the settlement's net
// amount, which is what the ledger shows when the unconfirmed transfer went
// through.
func (a PendingAudit) TransferLanded() bool {
	return a.NetRaw != 0 && a.Drift().Equal(models.FromRaw(a.NetRaw))
}

// AuditPendingSettlements checks every pending settlement created before
// cutoff against the ledger. Entries are left in place.
func (e *CoinFlipEngine) AuditPendingSettlements(ctx context.Context, cutoff time.Time) ([]PendingAudit, error) {
	ids, err := e.redisService.StalePendingSettlements(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var (
		audits []PendingAudit
		errs   []error
	)
	for _, betID := range ids {
		st, err := e.redisService.GetSettlement(ctx, betID)
		if err != nil {
			errs = append(errs, fmt.Errorf("settlement %s: %w", betID, err))
			continue
		}
		wallet, err := e.redisService.GetWallet(ctx, st.TelegramID)
		if err != nil {
			errs = append(errs, fmt.Errorf("settlement %s: %w", betID, err))
			continue
		}
		onLedger, err := e.ledger.Balance(ctx, wallet.Address)
		if err != nil {
			errs = append(errs, fmt.Errorf("settlement %s: ledger balance: %w", betID, err))
			continue
		}

		audits = append(audits, PendingAudit{
			BetID:         betID,
			TelegramID:    st.TelegramID,
			NetRaw:        st.NetRaw,
			LedgerBalance: onLedger,
			LocalBalance:  models.FromRaw(wallet.Balance.Token),
		})
	}
	return audits, errors.Join(errs...)
}

func (e *CoinFlipEngine) reconcileOne(ctx context.Context, betID string) (bool, error) {
	st, err := e.redisService.GetSettlement(ctx, betID)
	if err != nil {
		if errors.Is(err, ErrSettlementNotFound) {
			return false, e.redisService.DeleteSettlement(ctx, betID)
		}
		return false, err
	}

	release, err := e.redisService.LockWallet(ctx, st.TelegramID, e.cfg.LockTTL, e.cfg.LockWait)
	if err != nil {
		return false, err
	}
	defer release()

	settled, err := e.redisService.IsBetSettled(ctx, betID)
	if err != nil {
		return false, err
	}
	if settled {
		return false, e.redisService.DeleteSettlement(ctx, betID)
	}

	user, err := e.redisService.GetUser(ctx, st.TelegramID)
	if err != nil {
		return false, err
	}
	wallet, err := e.redisService.GetWallet(ctx, st.TelegramID)
	if err != nil {
		return false, err
	}

	if err := e.apply(ctx, wallet, user, st); err != nil {
		return false, err
	}

	slog.Info("reconciled settlement", "bet_id", betID, "telegram_id", st.TelegramID, "net_raw", st.NetRaw)
	e.broadcaster.BroadcastBalance(st.TelegramID, models.FromRaw(wallet.Balance.Token).InexactFloat64())
	return true, nil
}
