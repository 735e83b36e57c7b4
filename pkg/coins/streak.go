package coins

import "time"

// CalculateStreak derives the streak transition for a new payment date. It is
// a pure function and never touches the ledger; callers feed the bonus back
// through a rent_streak_bonus credit.
//
// A payment in the calendar month following the last payment extends the
// streak. A repeat payment within the same calendar month changes nothing,
// which makes the operation safe to replay. Any other gap, including
// out-of-order dates, resets the streak to one.
func CalculateStreak(lastPaymentUnixUTC int64, newPaymentUnixUTC int64, currentStreak int) StreakResult {
	if lastPaymentUnixUTC == 0 {
		return StreakResult{NewStreak: 1, Increased: true}
	}
	lastPayment := time.Unix(lastPaymentUnixUTC, 0).UTC()
	newPayment := time.Unix(newPaymentUnixUTC, 0).UTC()
	monthsDiff := (newPayment.Year()*12 + int(newPayment.Month())) - (lastPayment.Year()*12 + int(lastPayment.Month()))
	switch monthsDiff {
	case 0:
		return StreakResult{NewStreak: currentStreak, Increased: false}
	case 1:
		extended := currentStreak + 1
		return StreakResult{NewStreak: extended, Increased: true, Bonus: streakBonus(extended)}
	default:
		return StreakResult{NewStreak: 1, Increased: true}
	}
}

// streakBonus is the coin bonus for reaching a streak length: 20 coins per
// consecutive month, capped at 100, nothing for a streak of one.
func streakBonus(streak int) Amount {
	if streak <= 1 {
		return 0
	}
	bonus := int64(streak) * streakBonusPerMonth
	if bonus > streakBonusCap {
		bonus = streakBonusCap
	}
	return Amount(bonus)
}
