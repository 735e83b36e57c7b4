package coins

const (
	operationCredit         = "credit"
	operationDebit          = "debit"
	operationUpdateStreak   = "update_streak"
	operationRentPayment    = "rent_payment"
	operationSetDisplayName = "set_display_name"

	operationStatusOK    = "ok"
	operationStatusError = "error"

	streakBonusPerMonth = 20
	streakBonusCap      = 100

	defaultExpiryHorizonDays = 365
	secondsPerDay            = int64(24 * 60 * 60)

	templateCoinsExpired  = "coins_expired"
	templateCoinsExpiring = "coins_expiring_soon"

	maskedNameVisibleRunes = 3
	maskedNameSuffix       = "***"
)

// Warning notices go out this many days ahead of a batch expiry.
var warningThresholdDays = []int{7, 2}
