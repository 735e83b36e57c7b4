package coins

import (
	"context"
	"fmt"
	"strings"
)

// UpdateStreak applies a payment date to the account's streak state and
// credits any earned bonus within the same transaction. Repeated payments in
// one calendar month are a no-op.
func (service *Service) UpdateStreak(requestContext context.Context, userID UserID, paymentUnixUTC int64) (StreakResult, error) {
	var result StreakResult
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return err
		}
		result = CalculateStreak(account.LastPaymentUnixUTC, paymentUnixUTC, account.CurrentStreak)
		if !result.Increased {
			return nil
		}
		account.CurrentStreak = result.NewStreak
		account.LastPaymentUnixUTC = paymentUnixUTC
		if result.Bonus.Int64() > 0 {
			bonus, err := NewPositiveAmount(result.Bonus.Int64())
			if err != nil {
				return err
			}
			if _, err := service.applyCredit(ctx, transactionStore, &account, bonus, SourceRentStreakBonus, nil, streakBonusDescription(result.NewStreak)); err != nil {
				return err
			}
		}
		return transactionStore.SaveAccount(ctx, account)
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationUpdateStreak,
		UserID:    userID,
		Source:    SourceRentStreakBonus,
		Amount:    result.Bonus,
		Error:     operationError,
	})
	if operationError != nil {
		return StreakResult{}, operationError
	}
	return result, nil
}

// RecordRentPayment is the composite rent-payment operation: it credits the
// payment reward, advances the streak, and credits any streak bonus, all
// atomically so external observers never see a partial state.
func (service *Service) RecordRentPayment(requestContext context.Context, userID UserID, reward PositiveAmount, paymentUnixUTC int64, reference *Reference) (RentPaymentReceipt, error) {
	var receipt RentPaymentReceipt
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return err
		}
		creditTransactionID, err := service.applyCredit(ctx, transactionStore, &account, reward, SourceRentPayment, reference, "rent payment reward")
		if err != nil {
			return err
		}
		result := CalculateStreak(account.LastPaymentUnixUTC, paymentUnixUTC, account.CurrentStreak)
		if result.Increased {
			account.CurrentStreak = result.NewStreak
			account.LastPaymentUnixUTC = paymentUnixUTC
		}
		if result.Increased && result.Bonus.Int64() > 0 {
			bonus, err := NewPositiveAmount(result.Bonus.Int64())
			if err != nil {
				return err
			}
			if _, err := service.applyCredit(ctx, transactionStore, &account, bonus, SourceRentStreakBonus, reference, streakBonusDescription(result.NewStreak)); err != nil {
				return err
			}
		}
		if err := transactionStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		receipt = RentPaymentReceipt{
			Balance:             account.Balance,
			CreditTransactionID: creditTransactionID,
			CurrentStreak:       account.CurrentStreak,
			StreakIncreased:     result.Increased,
			BonusAwarded:        result.Bonus,
		}
		return nil
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationRentPayment,
		UserID:    userID,
		Source:    SourceRentPayment,
		Amount:    reward.ToAmount(),
		Reference: reference,
		Error:     operationError,
	})
	if operationError != nil {
		return RentPaymentReceipt{}, operationError
	}
	return receipt, nil
}

// SetDisplayName records the name shown (masked) on the leaderboard.
func (service *Service) SetDisplayName(requestContext context.Context, userID UserID, displayName string) error {
	trimmed := strings.TrimSpace(displayName)
	if trimmed == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidDisplayName)
	}
	operationError := service.store.WithTx(requestContext, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return err
		}
		account.DisplayName = trimmed
		return transactionStore.SaveAccount(ctx, account)
	})
	service.logOperation(requestContext, OperationLog{
		Operation: operationSetDisplayName,
		UserID:    userID,
		Error:     operationError,
	})
	return operationError
}

// ListTransactions lists the account's transaction log entries before a
// cutoff time, newest first. Untouched accounts list as empty.
func (service *Service) ListTransactions(requestContext context.Context, userID UserID, beforeUnixUTC int64, limit int) ([]TransactionEntry, error) {
	if limit <= 0 {
		return nil, fmt.Errorf("%w: must be greater than zero", ErrInvalidLimit)
	}
	account, found, err := service.store.FindAccount(requestContext, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return service.store.ListTransactions(requestContext, account.AccountID, beforeUnixUTC, limit)
}

func streakBonusDescription(streak int) string {
	return fmt.Sprintf("streak bonus for %d consecutive months", streak)
}
