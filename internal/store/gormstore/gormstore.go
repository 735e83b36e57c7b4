package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/urbansetunoreply-byte/UrbanSetuCloneBackend-sub022/pkg/coins"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	pgUniqueViolationCode   = "23505"
	sqliteConstraintCode    = 19
	driverNamePostgres      = "postgres"
	errorOperationStore     = "store"
	errorSubjectAccount     = "account"
	errorSubjectBatch       = "batch"
	errorSubjectNotice      = "notice"
	errorSubjectStats       = "stats"
	errorSubjectTransaction = "transaction"
	errorCodeCount          = "count"
	errorCodeDuplicate      = "duplicate"
	errorCodeGet            = "get"
	errorCodeInsert         = "insert"
	errorCodeInvalid        = "invalid"
	errorCodeList           = "list"
	errorCodeLookup         = "lookup"
	errorCodeSave           = "save"
	errorCodeScan           = "scan"
	errorCodeUpdate         = "update"
)

// Store implements coins.Store using GORM.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Migrate creates or updates the coin ledger tables.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&Account{}, &CoinBatch{}, &CoinTransaction{}, &ExpiryNotice{})
}

// WithTx executes fn within a transaction.
func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore coins.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &Store{db: transaction})
	})
}

// locked adds a row lock on dialects that support SELECT FOR UPDATE. On
// SQLite the enclosing transaction already serializes writers.
func (store *Store) locked() *gorm.DB {
	if store.db.Dialector.Name() == driverNamePostgres {
		return store.db.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return store.db
}

func (store *Store) GetOrCreateAccount(ctx context.Context, userID coins.UserID) (coins.Account, error) {
	var model Account
	err := store.locked().WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"user_id": clause.Expr{SQL: "excluded.user_id"},
			}),
		}).
		Where("user_id = ?", userID.String()).
		Attrs(Account{UserID: userID.String(), DisplayName: userID.String(), Version: 1}).
		FirstOrCreate(&model).Error
	if err != nil {
		return coins.Account{}, wrapStoreError(errorSubjectAccount, errorCodeLookup, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return coins.Account{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, nil
}

func (store *Store) FindAccount(ctx context.Context, userID coins.UserID) (coins.Account, bool, error) {
	var model Account
	err := store.locked().WithContext(ctx).
		Where("user_id = ?", userID.String()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return coins.Account{}, false, nil
	}
	if err != nil {
		return coins.Account{}, false, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	account, err := mapAccount(model)
	if err != nil {
		return coins.Account{}, false, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return account, true, nil
}

func (store *Store) SaveAccount(ctx context.Context, account coins.Account) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("account_id = ? AND version = ?", account.AccountID.String(), account.Version).
		Updates(map[string]interface{}{
			"display_name":    account.DisplayName,
			"balance":         account.Balance.Int64(),
			"total_earned":    account.TotalEarned.Int64(),
			"current_streak":  account.CurrentStreak,
			"last_payment_at": timePointer(account.LastPaymentUnixUTC),
			"version":         account.Version + 1,
			"updated_at":      time.Now().UTC(),
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectAccount, errorCodeSave, coins.ErrConcurrentModification)
	}
	return nil
}

func (store *Store) AppendTransaction(ctx context.Context, entry coins.TransactionEntry) (coins.TransactionID, error) {
	reference, err := referenceDocument(entry.Reference)
	if err != nil {
		return coins.TransactionID{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	model := CoinTransaction{
		AccountID:    entry.AccountID.String(),
		Direction:    entry.Direction.String(),
		Amount:       entry.Amount.Int64(),
		Source:       entry.Source.String(),
		Reference:    reference,
		Description:  entry.Description,
		BalanceAfter: entry.BalanceAfter.Int64(),
		CreatedAt:    time.Unix(entry.CreatedUnixUTC, 0).UTC(),
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return coins.TransactionID{}, wrapStoreError(errorSubjectTransaction, errorCodeDuplicate, coins.ErrDuplicateReference)
	}
	if err != nil {
		return coins.TransactionID{}, wrapStoreError(errorSubjectTransaction, errorCodeInsert, err)
	}
	transactionID, err := coins.NewTransactionID(model.TransactionID)
	if err != nil {
		return coins.TransactionID{}, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
	}
	return transactionID, nil
}

func (store *Store) CreateBatch(ctx context.Context, batch coins.Batch) (coins.BatchID, error) {
	model := CoinBatch{
		AccountID:        batch.AccountID.String(),
		Amount:           batch.Amount.Int64(),
		RemainingBalance: batch.RemainingBalance.Int64(),
		ExpiresAt:        time.Unix(batch.ExpiresAtUnixUTC, 0).UTC(),
		CreatedAt:        time.Unix(batch.CreatedUnixUTC, 0).UTC(),
	}
	if err := store.db.WithContext(ctx).Create(&model).Error; err != nil {
		return coins.BatchID{}, wrapStoreError(errorSubjectBatch, errorCodeInsert, err)
	}
	batchID, err := coins.NewBatchID(model.BatchID)
	if err != nil {
		return coins.BatchID{}, wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
	}
	return batchID, nil
}

func (store *Store) ListOpenBatches(ctx context.Context, accountID coins.AccountID) ([]coins.Batch, error) {
	var rows []CoinBatch
	err := store.locked().WithContext(ctx).
		Where("account_id = ? AND remaining_balance > 0", accountID.String()).
		Order("created_at ASC, batch_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	return mapBatches(rows)
}

func (store *Store) ListExpiredBatches(ctx context.Context, accountID coins.AccountID, nowUnixUTC int64) ([]coins.Batch, error) {
	var rows []CoinBatch
	err := store.locked().WithContext(ctx).
		Where("account_id = ? AND remaining_balance > 0 AND expires_at <= ?", accountID.String(), time.Unix(nowUnixUTC, 0).UTC()).
		Order("created_at ASC, batch_id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	return mapBatches(rows)
}

func (store *Store) SetBatchRemaining(ctx context.Context, batchID coins.BatchID, remaining coins.Amount) error {
	result := store.db.WithContext(ctx).
		Model(&CoinBatch{}).
		Where("batch_id = ?", batchID.String()).
		Update("remaining_balance", remaining.Int64())
	if result.Error != nil {
		return wrapStoreError(errorSubjectBatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectBatch, errorCodeUpdate, gorm.ErrRecordNotFound)
	}
	return nil
}

func (store *Store) UsersWithExpiredBatches(ctx context.Context, nowUnixUTC int64) ([]coins.UserID, error) {
	return store.usersWithBatches(ctx,
		"coin_batches.remaining_balance > 0 AND coin_batches.expires_at <= ?",
		time.Unix(nowUnixUTC, 0).UTC())
}

func (store *Store) UsersWithBatchesExpiringBetween(ctx context.Context, fromUnixUTC int64, toUnixUTC int64) ([]coins.UserID, error) {
	return store.usersWithBatches(ctx,
		"coin_batches.remaining_balance > 0 AND coin_batches.expires_at > ? AND coin_batches.expires_at <= ?",
		time.Unix(fromUnixUTC, 0).UTC(), time.Unix(toUnixUTC, 0).UTC())
}

func (store *Store) usersWithBatches(ctx context.Context, condition string, args ...interface{}) ([]coins.UserID, error) {
	var rawIDs []string
	err := store.db.WithContext(ctx).
		Model(&CoinBatch{}).
		Distinct().
		Joins("JOIN coin_accounts ON coin_accounts.account_id = coin_batches.account_id").
		Where(condition, args...).
		Order("coin_accounts.user_id ASC").
		Pluck("coin_accounts.user_id", &rawIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectBatch, errorCodeList, err)
	}
	userIDs := make([]coins.UserID, 0, len(rawIDs))
	for _, raw := range rawIDs {
		userID, err := coins.NewUserID(raw)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
		}
		userIDs = append(userIDs, userID)
	}
	return userIDs, nil
}

func (store *Store) HasExpiryNotice(ctx context.Context, accountID coins.AccountID, year int, thresholdDays int) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&ExpiryNotice{}).
		Where("account_id = ? AND year = ? AND threshold_days = ?", accountID.String(), year, thresholdDays).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectNotice, errorCodeCount, err)
	}
	return count > 0, nil
}

func (store *Store) RecordExpiryNotice(ctx context.Context, accountID coins.AccountID, year int, thresholdDays int, sentUnixUTC int64) error {
	model := ExpiryNotice{
		AccountID:     accountID.String(),
		Year:          year,
		ThresholdDays: thresholdDays,
		SentAt:        time.Unix(sentUnixUTC, 0).UTC(),
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return wrapStoreError(errorSubjectNotice, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListTransactions(ctx context.Context, accountID coins.AccountID, beforeUnixUTC int64, limit int) ([]coins.TransactionEntry, error) {
	before := time.Unix(beforeUnixUTC, 0).UTC()
	if beforeUnixUTC == 0 {
		before = time.Now().UTC().Add(time.Second)
	}

	var rows []CoinTransaction
	err := store.db.WithContext(ctx).
		Where("account_id = ? AND created_at < ?", accountID.String(), before).
		Order("created_at DESC, transaction_id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectTransaction, errorCodeList, err)
	}

	entries := make([]coins.TransactionEntry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapTransaction(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectTransaction, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (store *Store) Leaderboard(ctx context.Context, limit int) ([]coins.LeaderboardRow, error) {
	var rows []Account
	err := store.db.WithContext(ctx).
		Order("total_earned DESC, account_id ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	leaderboard := make([]coins.LeaderboardRow, 0, len(rows))
	for _, row := range rows {
		accountID, err := coins.NewAccountID(row.AccountID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		totalEarned, err := coins.NewAmount(row.TotalEarned)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		leaderboard = append(leaderboard, coins.LeaderboardRow{
			AccountID:     accountID,
			DisplayName:   row.DisplayName,
			TotalEarned:   totalEarned,
			CurrentStreak: row.CurrentStreak,
		})
	}
	return leaderboard, nil
}

func (store *Store) Stats(ctx context.Context) (coins.SystemStats, error) {
	var supply struct {
		CirculatingSupply   int64
		TotalMintedLifetime int64
		HoldersCount        int64
	}
	err := store.db.WithContext(ctx).
		Model(&Account{}).
		Select("coalesce(sum(balance),0) as circulating_supply, " +
			"coalesce(sum(total_earned),0) as total_minted_lifetime, " +
			"coalesce(sum(case when balance > 0 then 1 else 0 end),0) as holders_count").
		Scan(&supply).Error
	if err != nil {
		return coins.SystemStats{}, wrapStoreError(errorSubjectStats, errorCodeScan, err)
	}
	var burned sqlSum
	err = store.db.WithContext(ctx).
		Model(&CoinTransaction{}).
		Select("coalesce(sum(amount),0) as total").
		Where("direction = ?", coins.DirectionDebit.String()).
		Scan(&burned).Error
	if err != nil {
		return coins.SystemStats{}, wrapStoreError(errorSubjectStats, errorCodeScan, err)
	}
	return coins.SystemStats{
		CirculatingSupply:   supply.CirculatingSupply,
		TotalMintedLifetime: supply.TotalMintedLifetime,
		TotalBurned:         burned.Total,
		HoldersCount:        supply.HoldersCount,
	}, nil
}

func wrapStoreError(subject string, code string, err error) error {
	return coins.WrapError(errorOperationStore, subject, code, err)
}

type sqlSum struct {
	Total int64
}

type referencePayload struct {
	Kind string `json:"kind"`
	ID   string `json:"id"`
}

func referenceDocument(reference *coins.Reference) (*datatypes.JSON, error) {
	if reference == nil {
		return nil, nil
	}
	raw, err := json.Marshal(referencePayload{Kind: reference.Kind(), ID: reference.ID()})
	if err != nil {
		return nil, err
	}
	document := datatypes.JSON(raw)
	return &document, nil
}

func mapReference(document *datatypes.JSON) (*coins.Reference, error) {
	if document == nil {
		return nil, nil
	}
	var payload referencePayload
	if err := json.Unmarshal([]byte(*document), &payload); err != nil {
		return nil, err
	}
	reference, err := coins.NewReference(payload.Kind, payload.ID)
	if err != nil {
		return nil, err
	}
	return &reference, nil
}

func mapAccount(model Account) (coins.Account, error) {
	accountID, err := coins.NewAccountID(model.AccountID)
	if err != nil {
		return coins.Account{}, err
	}
	userID, err := coins.NewUserID(model.UserID)
	if err != nil {
		return coins.Account{}, err
	}
	balance, err := coins.NewAmount(model.Balance)
	if err != nil {
		return coins.Account{}, err
	}
	totalEarned, err := coins.NewAmount(model.TotalEarned)
	if err != nil {
		return coins.Account{}, err
	}
	return coins.Account{
		AccountID:          accountID,
		UserID:             userID,
		DisplayName:        model.DisplayName,
		Balance:            balance,
		TotalEarned:        totalEarned,
		CurrentStreak:      model.CurrentStreak,
		LastPaymentUnixUTC: timeOrZero(model.LastPaymentAt),
		Version:            model.Version,
	}, nil
}

func mapBatches(rows []CoinBatch) ([]coins.Batch, error) {
	batches := make([]coins.Batch, 0, len(rows))
	for _, row := range rows {
		batch, err := mapBatch(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectBatch, errorCodeInvalid, err)
		}
		batches = append(batches, batch)
	}
	return batches, nil
}

func mapBatch(model CoinBatch) (coins.Batch, error) {
	batchID, err := coins.NewBatchID(model.BatchID)
	if err != nil {
		return coins.Batch{}, err
	}
	accountID, err := coins.NewAccountID(model.AccountID)
	if err != nil {
		return coins.Batch{}, err
	}
	amount, err := coins.NewPositiveAmount(model.Amount)
	if err != nil {
		return coins.Batch{}, err
	}
	remaining, err := coins.NewAmount(model.RemainingBalance)
	if err != nil {
		return coins.Batch{}, err
	}
	return coins.Batch{
		BatchID:          batchID,
		AccountID:        accountID,
		Amount:           amount,
		RemainingBalance: remaining,
		ExpiresAtUnixUTC: model.ExpiresAt.Unix(),
		CreatedUnixUTC:   model.CreatedAt.Unix(),
	}, nil
}

func mapTransaction(model CoinTransaction) (coins.TransactionEntry, error) {
	transactionID, err := coins.NewTransactionID(model.TransactionID)
	if err != nil {
		return coins.TransactionEntry{}, err
	}
	accountID, err := coins.NewAccountID(model.AccountID)
	if err != nil {
		return coins.TransactionEntry{}, err
	}
	direction, err := coins.ParseDirection(model.Direction)
	if err != nil {
		return coins.TransactionEntry{}, err
	}
	amount, err := coins.NewPositiveAmount(model.Amount)
	if err != nil {
		return coins.TransactionEntry{}, err
	}
	source, err := coins.ParseSource(model.Source)
	if err != nil {
		return coins.TransactionEntry{}, err
	}
	balanceAfter, err := coins.NewAmount(model.BalanceAfter)
	if err != nil {
		return coins.TransactionEntry{}, err
	}
	reference, err := mapReference(model.Reference)
	if err != nil {
		return coins.TransactionEntry{}, err
	}
	return coins.TransactionEntry{
		TransactionID:  transactionID,
		AccountID:      accountID,
		Direction:      direction,
		Amount:         amount,
		Source:         source,
		Reference:      reference,
		Description:    model.Description,
		BalanceAfter:   balanceAfter,
		CreatedUnixUTC: model.CreatedAt.Unix(),
	}, nil
}

func timeOrZero(value *time.Time) int64 {
	if value == nil {
		return 0
	}
	return value.Unix()
}

func timePointer(unixUTC int64) *time.Time {
	if unixUTC == 0 {
		return nil
	}
	value := time.Unix(unixUTC, 0).UTC()
	return &value
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode
	}
	return false
}
