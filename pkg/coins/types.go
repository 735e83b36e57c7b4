package coins

import (
	"context"
	"fmt"
	"strings"
)

// Amount is a non-negative quantity of coins.
type Amount int64

// PositiveAmount is a strictly positive quantity of coins.
type PositiveAmount int64

// UserID identifies a platform user owning an account.
type UserID struct {
	value string
}

// AccountID identifies a ledger account.
type AccountID struct {
	value string
}

// TransactionID identifies an immutable transaction log entry.
type TransactionID struct {
	value string
}

// BatchID identifies a credited batch with its own expiry clock.
type BatchID struct {
	value string
}

// Direction marks a transaction as a credit or a debit.
type Direction string

const (
	DirectionCredit Direction = "credit"
	DirectionDebit  Direction = "debit"
)

// Source enumerates where a credit or debit originated.
type Source string

const (
	SourceSignupBonus     Source = "signup_bonus"
	SourceRentPayment     Source = "rent_payment"
	SourceRentStreakBonus Source = "rent_streak_bonus"
	SourceReferral        Source = "referral"
	SourceReview          Source = "review"
	SourceAdminAdjustment Source = "admin_adjustment"
	SourceRedemption      Source = "redemption"
	SourceExpiry          Source = "expiry"
)

// Reference ties a transaction to the platform record that caused it.
type Reference struct {
	kind string
	id   string
}

// NewUserID validates and normalizes a user id.
func NewUserID(raw string) (UserID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return UserID{}, fmt.Errorf("%w: empty value", ErrInvalidUserID)
	}
	return UserID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id UserID) String() string {
	return id.value
}

// NewAccountID validates and normalizes an account id.
func NewAccountID(raw string) (AccountID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return AccountID{}, fmt.Errorf("%w: empty value", ErrInvalidAccountID)
	}
	return AccountID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id AccountID) String() string {
	return id.value
}

// NewTransactionID validates and normalizes a transaction id.
func NewTransactionID(raw string) (TransactionID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return TransactionID{}, fmt.Errorf("%w: empty value", ErrInvalidTransactionID)
	}
	return TransactionID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id TransactionID) String() string {
	return id.value
}

// NewBatchID validates and normalizes a batch id.
func NewBatchID(raw string) (BatchID, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return BatchID{}, fmt.Errorf("%w: empty value", ErrInvalidBatchID)
	}
	return BatchID{value: trimmed}, nil
}

// String returns the normalized identifier.
func (id BatchID) String() string {
	return id.value
}

// NewAmount validates a non-negative amount.
func NewAmount(raw int64) (Amount, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw coin count.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// NewPositiveAmount validates a strictly positive amount.
func NewPositiveAmount(raw int64) (PositiveAmount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return PositiveAmount(raw), nil
}

// Int64 returns the raw coin count.
func (amount PositiveAmount) Int64() int64 {
	return int64(amount)
}

// ToAmount widens a positive amount to a plain amount.
func (amount PositiveAmount) ToAmount() Amount {
	return Amount(amount)
}

// ParseDirection validates a stored direction value.
func ParseDirection(raw string) (Direction, error) {
	switch Direction(raw) {
	case DirectionCredit, DirectionDebit:
		return Direction(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// String returns the direction label.
func (direction Direction) String() string {
	return string(direction)
}

// ParseSource validates a stored source value.
func ParseSource(raw string) (Source, error) {
	switch Source(raw) {
	case SourceSignupBonus, SourceRentPayment, SourceRentStreakBonus,
		SourceReferral, SourceReview, SourceAdminAdjustment,
		SourceRedemption, SourceExpiry:
		return Source(raw), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidSource, raw)
	}
}

// String returns the source label.
func (source Source) String() string {
	return string(source)
}

// NewReference validates a reference to an external record.
func NewReference(kind string, id string) (Reference, error) {
	trimmedKind := strings.TrimSpace(kind)
	trimmedID := strings.TrimSpace(id)
	if trimmedKind == "" || trimmedID == "" {
		return Reference{}, fmt.Errorf("%w: kind and id are required", ErrInvalidReference)
	}
	return Reference{kind: trimmedKind, id: trimmedID}, nil
}

// Kind returns the referenced record kind.
func (reference Reference) Kind() string {
	return reference.kind
}

// ID returns the referenced record id.
func (reference Reference) ID() string {
	return reference.id
}

// Account is the per-user ledger record. The ledger engine owns it
// exclusively; it is created lazily on first credit and never deleted.
type Account struct {
	AccountID          AccountID
	UserID             UserID
	DisplayName        string
	Balance            Amount
	TotalEarned        Amount
	CurrentStreak      int
	LastPaymentUnixUTC int64
	Version            int64
}

// Batch is a credited amount carrying its own expiry clock. Debits consume
// batches oldest-first; fully consumed batches are retained for audit.
type Batch struct {
	BatchID          BatchID
	AccountID        AccountID
	Amount           PositiveAmount
	RemainingBalance Amount
	ExpiresAtUnixUTC int64
	CreatedUnixUTC   int64
}

// TransactionEntry is a single immutable line in the transaction log.
// Corrections are new offsetting entries, never edits.
type TransactionEntry struct {
	TransactionID  TransactionID
	AccountID      AccountID
	Direction      Direction
	Amount         PositiveAmount
	Source         Source
	Reference      *Reference
	Description    string
	BalanceAfter   Amount
	CreatedUnixUTC int64
}

// Receipt reports the outcome of a committed credit or debit.
type Receipt struct {
	Balance       Amount
	TransactionID TransactionID
}

// BalanceView is the read shape for an account; untouched accounts read as
// the zero value.
type BalanceView struct {
	Balance            Amount
	TotalEarned        Amount
	CurrentStreak      int
	LastPaymentUnixUTC int64
}

// StreakResult describes the streak transition for a payment date.
type StreakResult struct {
	NewStreak int
	Increased bool
	Bonus     Amount
}

// RentPaymentReceipt reports the composite rent-payment outcome.
type RentPaymentReceipt struct {
	Balance             Amount
	CreditTransactionID TransactionID
	CurrentStreak       int
	StreakIncreased     bool
	BonusAwarded        Amount
}

// LeaderboardRow is a store-level ranking row before masking.
type LeaderboardRow struct {
	AccountID     AccountID
	DisplayName   string
	TotalEarned   Amount
	CurrentStreak int
}

// LeaderboardEntry is a masked, ranked leaderboard line.
type LeaderboardEntry struct {
	Rank       int
	MaskedName string
	TotalCoins Amount
	Streak     int
}

// SystemStats are full-scan, eventually-consistent system projections.
type SystemStats struct {
	CirculatingSupply   int64
	TotalMintedLifetime int64
	TotalBurned         int64
	HoldersCount        int64
}

// SweepReport summarizes one expiry sweep run.
type SweepReport struct {
	AccountsProcessed int
	TotalFrozen       int64
	Errors            int
}

// WarningReport summarizes one expiry warning run.
type WarningReport struct {
	AccountsScanned int
	NoticesSent     int
	Errors          int
}

// Store is the persistence contract used by the ledger engine, sweeper and
// aggregator. Mutations for a single account are serialized by running them
// inside WithTx; aggregate reads never block writers.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetOrCreateAccount(ctx context.Context, userID UserID) (Account, error)
	FindAccount(ctx context.Context, userID UserID) (Account, bool, error)
	SaveAccount(ctx context.Context, account Account) error
	AppendTransaction(ctx context.Context, entry TransactionEntry) (TransactionID, error)
	CreateBatch(ctx context.Context, batch Batch) (BatchID, error)
	ListOpenBatches(ctx context.Context, accountID AccountID) ([]Batch, error)
	ListExpiredBatches(ctx context.Context, accountID AccountID, nowUnixUTC int64) ([]Batch, error)
	SetBatchRemaining(ctx context.Context, batchID BatchID, remaining Amount) error
	UsersWithExpiredBatches(ctx context.Context, nowUnixUTC int64) ([]UserID, error)
	UsersWithBatchesExpiringBetween(ctx context.Context, fromUnixUTC int64, toUnixUTC int64) ([]UserID, error)
	HasExpiryNotice(ctx context.Context, accountID AccountID, year int, thresholdDays int) (bool, error)
	RecordExpiryNotice(ctx context.Context, accountID AccountID, year int, thresholdDays int, sentUnixUTC int64) error
	ListTransactions(ctx context.Context, accountID AccountID, beforeUnixUTC int64, limit int) ([]TransactionEntry, error)
	Leaderboard(ctx context.Context, limit int) ([]LeaderboardRow, error)
	Stats(ctx context.Context) (SystemStats, error)
}

// Notifier delivers user-facing notices. Failures are logged by callers and
// never roll back a committed ledger mutation.
type Notifier interface {
	Send(ctx context.Context, recipient UserID, template string, data map[string]string) error
}
