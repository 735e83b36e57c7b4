package coins

import (
	"context"
	"fmt"
)

// Service is the coin ledger engine. It enforces every balance invariant
// atomically per account over an injected Store.
type Service struct {
	store                Store
	nowFn                func() int64
	logger               OperationLogger
	expiryHorizonSeconds int64
}

// NewService wires a Service.
func NewService(store Store, now func() int64, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:                store,
		nowFn:                now,
		expiryHorizonSeconds: defaultExpiryHorizonDays * secondsPerDay,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Credit adds coins to the account, appending a transaction entry and
// opening a fresh batch whose expiry clock starts now. The account is
// created lazily on first credit.
func (service *Service) Credit(ctx context.Context, userID UserID, amount PositiveAmount, source Source, reference *Reference, description string) (Receipt, error) {
	var receipt Receipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, err := transactionStore.GetOrCreateAccount(ctx, userID)
		if err != nil {
			return err
		}
		transactionID, err := service.applyCredit(ctx, transactionStore, &account, amount, source, reference, description)
		if err != nil {
			return err
		}
		if err := transactionStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		receipt = Receipt{Balance: account.Balance, TransactionID: transactionID}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationCredit,
		UserID:    userID,
		Source:    source,
		Amount:    amount.ToAmount(),
		Reference: reference,
		Error:     operationError,
	})
	if operationError != nil {
		return Receipt{}, operationError
	}
	return receipt, nil
}

// Debit removes coins from the account, consuming batches oldest-first.
// It fails with ErrInsufficientBalance and no state change when the account
// does not hold enough coins.
func (service *Service) Debit(ctx context.Context, userID UserID, amount PositiveAmount, source Source, reference *Reference, description string) (Receipt, error) {
	var receipt Receipt
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		account, found, err := transactionStore.FindAccount(ctx, userID)
		if err != nil {
			return err
		}
		if !found {
			return ErrInsufficientBalance
		}
		transactionID, err := service.applyDebit(ctx, transactionStore, &account, amount, source, reference, description)
		if err != nil {
			return err
		}
		if err := transactionStore.SaveAccount(ctx, account); err != nil {
			return err
		}
		receipt = Receipt{Balance: account.Balance, TransactionID: transactionID}
		return nil
	})
	service.logOperation(ctx, OperationLog{
		Operation: operationDebit,
		UserID:    userID,
		Source:    source,
		Amount:    amount.ToAmount(),
		Reference: reference,
		Error:     operationError,
	})
	if operationError != nil {
		return Receipt{}, operationError
	}
	return receipt, nil
}

// Balance returns the account's current view. An account that has never been
// touched reads as the zero value; reads never create accounts.
func (service *Service) Balance(ctx context.Context, userID UserID) (BalanceView, error) {
	account, found, err := service.store.FindAccount(ctx, userID)
	if err != nil {
		return BalanceView{}, err
	}
	if !found {
		return BalanceView{}, nil
	}
	return BalanceView{
		Balance:            account.Balance,
		TotalEarned:        account.TotalEarned,
		CurrentStreak:      account.CurrentStreak,
		LastPaymentUnixUTC: account.LastPaymentUnixUTC,
	}, nil
}

// applyCredit mutates the in-memory account and appends the credit entry and
// its batch. The caller saves the account before the transaction commits.
func (service *Service) applyCredit(ctx context.Context, transactionStore Store, account *Account, amount PositiveAmount, source Source, reference *Reference, description string) (TransactionID, error) {
	nowUnixUTC := service.nowFn()
	balanceAfter, err := NewAmount(account.Balance.Int64() + amount.Int64())
	if err != nil {
		return TransactionID{}, WrapError(operationCredit, "balance", "overflow", ErrInvalidBalance)
	}
	transactionID, err := transactionStore.AppendTransaction(ctx, TransactionEntry{
		AccountID:      account.AccountID,
		Direction:      DirectionCredit,
		Amount:         amount,
		Source:         source,
		Reference:      reference,
		Description:    description,
		BalanceAfter:   balanceAfter,
		CreatedUnixUTC: nowUnixUTC,
	})
	if err != nil {
		return TransactionID{}, err
	}
	if _, err := transactionStore.CreateBatch(ctx, Batch{
		AccountID:        account.AccountID,
		Amount:           amount,
		RemainingBalance: amount.ToAmount(),
		ExpiresAtUnixUTC: nowUnixUTC + service.expiryHorizonSeconds,
		CreatedUnixUTC:   nowUnixUTC,
	}); err != nil {
		return TransactionID{}, err
	}
	account.Balance = balanceAfter
	account.TotalEarned = Amount(account.TotalEarned.Int64() + amount.Int64())
	return transactionID, nil
}

// applyDebit mutates the in-memory account and appends the debit entry,
// consuming open batches oldest-first. The caller saves the account.
func (service *Service) applyDebit(ctx context.Context, transactionStore Store, account *Account, amount PositiveAmount, source Source, reference *Reference, description string) (TransactionID, error) {
	if amount.Int64() > account.Balance.Int64() {
		return TransactionID{}, ErrInsufficientBalance
	}
	batches, err := transactionStore.ListOpenBatches(ctx, account.AccountID)
	if err != nil {
		return TransactionID{}, err
	}
	outstanding := amount.Int64()
	for _, batch := range batches {
		if outstanding == 0 {
			break
		}
		consumed := batch.RemainingBalance.Int64()
		if consumed > outstanding {
			consumed = outstanding
		}
		remaining, err := NewAmount(batch.RemainingBalance.Int64() - consumed)
		if err != nil {
			return TransactionID{}, err
		}
		if err := transactionStore.SetBatchRemaining(ctx, batch.BatchID, remaining); err != nil {
			return TransactionID{}, err
		}
		outstanding -= consumed
	}
	balanceAfter, err := NewAmount(account.Balance.Int64() - amount.Int64())
	if err != nil {
		return TransactionID{}, WrapError(operationDebit, "balance", "negative", ErrInvalidBalance)
	}
	transactionID, err := transactionStore.AppendTransaction(ctx, TransactionEntry{
		AccountID:      account.AccountID,
		Direction:      DirectionDebit,
		Amount:         amount,
		Source:         source,
		Reference:      reference,
		Description:    description,
		BalanceAfter:   balanceAfter,
		CreatedUnixUTC: service.nowFn(),
	})
	if err != nil {
		return TransactionID{}, err
	}
	account.Balance = balanceAfter
	return transactionID, nil
}

func (service *Service) logOperation(ctx context.Context, entry OperationLog) {
	if service.logger == nil {
		return
	}
	if entry.Status == "" {
		if entry.Error != nil {
			entry.Status = operationStatusError
		} else {
			entry.Status = operationStatusOK
		}
	}
	service.logger.LogOperation(ctx, entry)
}
