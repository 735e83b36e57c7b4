package coins

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"
)

// Sweeper runs the scheduled expiry jobs: finalizing expiry of aged unused
// batches and sending T-7/T-2 warning notices. Each account is processed in
// its own transaction; one account's failure never halts the batch.
type Sweeper struct {
	store         Store
	notifier      Notifier
	nowFn         func() int64
	logger        *zap.Logger
	thresholdDays []int
}

// NewSweeper wires a Sweeper.
func NewSweeper(store Store, notifier Notifier, now func() int64, logger *zap.Logger) (*Sweeper, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidSweeperConfig)
	}
	if notifier == nil {
		return nil, fmt.Errorf("%w: notifier dependency is nil", ErrInvalidSweeperConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidSweeperConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{
		store:         store,
		notifier:      notifier,
		nowFn:         now,
		logger:        logger,
		thresholdDays: warningThresholdDays,
	}, nil
}

// RunExpirySweep expires aged unused credit across all accounts. Each
// account's expiry debit commits before its notice is attempted, so a crash
// or notifier outage never corrupts a single account, and a re-run finds
// nothing left to expire.
func (sweeper *Sweeper) RunExpirySweep(ctx context.Context) (SweepReport, error) {
	report := SweepReport{}
	nowUnixUTC := sweeper.nowFn()
	userIDs, err := sweeper.store.UsersWithExpiredBatches(ctx, nowUnixUTC)
	if err != nil {
		return report, err
	}
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		frozen, err := sweeper.sweepAccount(ctx, userID, nowUnixUTC)
		if err != nil {
			report.Errors++
			sweeper.logger.Error("expiry sweep failed for account",
				zap.String("user_id", userID.String()),
				zap.Error(err))
			continue
		}
		report.AccountsProcessed++
		report.TotalFrozen += frozen
		if frozen > 0 {
			sweeper.sendNotice(ctx, userID, templateCoinsExpired, map[string]string{
				"amount": strconv.FormatInt(frozen, 10),
			})
		}
	}
	sweeper.logger.Info("expiry sweep finished",
		zap.Int("accounts_processed", report.AccountsProcessed),
		zap.Int64("total_frozen", report.TotalFrozen),
		zap.Int("errors", report.Errors))
	return report, nil
}

// sweepAccount expires the account's aged batches in one transaction and
// reports the frozen amount. The expiry debit is clamped to the current
// balance in case intervening debits already consumed the aged credit.
func (sweeper *Sweeper) sweepAccount(ctx context.Context, userID UserID, nowUnixUTC int64) (int64, error) {
	var frozen int64
	err := sweeper.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, found, err := transactionStore.FindAccount(ctx, userID)
		if err != nil {
			return err
		}
		if !found {
			return nil
		}
		expired, err := transactionStore.ListExpiredBatches(ctx, account.AccountID, nowUnixUTC)
		if err != nil {
			return err
		}
		var total int64
		for _, batch := range expired {
			total += batch.RemainingBalance.Int64()
		}
		if total == 0 {
			return nil
		}
		if total > account.Balance.Int64() {
			total = account.Balance.Int64()
		}
		for _, batch := range expired {
			if err := transactionStore.SetBatchRemaining(ctx, batch.BatchID, 0); err != nil {
				return err
			}
		}
		if total == 0 {
			return nil
		}
		amount, err := NewPositiveAmount(total)
		if err != nil {
			return err
		}
		balanceAfter, err := NewAmount(account.Balance.Int64() - total)
		if err != nil {
			return err
		}
		if _, err := transactionStore.AppendTransaction(ctx, TransactionEntry{
			AccountID:      account.AccountID,
			Direction:      DirectionDebit,
			Amount:         amount,
			Source:         SourceExpiry,
			Description:    "expired unused coins",
			BalanceAfter:   balanceAfter,
			CreatedUnixUTC: nowUnixUTC,
		}); err != nil {
			return err
		}
		account.Balance = balanceAfter
		if err := transactionStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		frozen = total
		return nil
	})
	return frozen, err
}

// RunExpiryWarnings sends warning notices ahead of batch expiry. A notice is
// recorded per (account, year, threshold) only after delivery succeeds, so a
// failed send is retried on the next run and a successful one is never
// duplicated.
func (sweeper *Sweeper) RunExpiryWarnings(ctx context.Context) (WarningReport, error) {
	report := WarningReport{}
	nowUnixUTC := sweeper.nowFn()
	noticeYear := time.Unix(nowUnixUTC, 0).UTC().Year()
	for _, thresholdDays := range sweeper.thresholdDays {
		userIDs, err := sweeper.store.UsersWithBatchesExpiringBetween(ctx, nowUnixUTC, nowUnixUTC+int64(thresholdDays)*secondsPerDay)
		if err != nil {
			report.Errors++
			sweeper.logger.Error("expiry warning scan failed",
				zap.Int("threshold_days", thresholdDays),
				zap.Error(err))
			continue
		}
		for _, userID := range userIDs {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			report.AccountsScanned++
			sent, err := sweeper.warnAccount(ctx, userID, noticeYear, thresholdDays, nowUnixUTC)
			if err != nil {
				report.Errors++
				sweeper.logger.Warn("expiry warning failed for account",
					zap.String("user_id", userID.String()),
					zap.Int("threshold_days", thresholdDays),
					zap.Error(err))
				continue
			}
			if sent {
				report.NoticesSent++
			}
		}
	}
	sweeper.logger.Info("expiry warnings finished",
		zap.Int("accounts_scanned", report.AccountsScanned),
		zap.Int("notices_sent", report.NoticesSent),
		zap.Int("errors", report.Errors))
	return report, nil
}

func (sweeper *Sweeper) warnAccount(ctx context.Context, userID UserID, noticeYear int, thresholdDays int, nowUnixUTC int64) (bool, error) {
	account, found, err := sweeper.store.FindAccount(ctx, userID)
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	alreadySent, err := sweeper.store.HasExpiryNotice(ctx, account.AccountID, noticeYear, thresholdDays)
	if err != nil {
		return false, err
	}
	if alreadySent {
		return false, nil
	}
	if err := sweeper.notifier.Send(ctx, userID, templateCoinsExpiring, map[string]string{
		"days_left": strconv.Itoa(thresholdDays),
	}); err != nil {
		return false, err
	}
	if err := sweeper.store.RecordExpiryNotice(ctx, account.AccountID, noticeYear, thresholdDays, nowUnixUTC); err != nil {
		return false, err
	}
	return true, nil
}

// sendNotice is fire-and-forget: the ledger mutation has already committed,
// so a notifier failure is logged and nothing else.
func (sweeper *Sweeper) sendNotice(ctx context.Context, userID UserID, template string, data map[string]string) {
	if err := sweeper.notifier.Send(ctx, userID, template, data); err != nil {
		sweeper.logger.Warn("notice delivery failed",
			zap.String("user_id", userID.String()),
			zap.String("template", template),
			zap.Error(err))
	}
}
