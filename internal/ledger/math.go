package ledger

import "math"

// Billing arithmetic shared by every settlement path. Keeping it here
// guarantees the explicit end, the auto-termination timer and the
// stale-call sweep all price a call identically.

// BudgetSeconds returns the maximum affordable call duration:
// floor(balance / coinsPerMinute * 60). Zero when the rate is invalid.
func BudgetSeconds(balanceCoins, coinsPerMinute int64) int64 {
	if balanceCoins <= 0 || coinsPerMinute <= 0 {
		return 0
	}
	return balanceCoins * 60 / coinsPerMinute
}

// RawCost returns ceil(elapsedSeconds / 60 * coinsPerMinute) in coins.
func RawCost(elapsedSeconds, coinsPerMinute int64) int64 {
	if elapsedSeconds <= 0 || coinsPerMinute <= 0 {
		return 0
	}
	return (elapsedSeconds*coinsPerMinute + 59) / 60
}

// Charge caps the raw cost at the available balance so clock skew can
// never drive a balance negative.
func Charge(elapsedSeconds, coinsPerMinute, balanceCoins int64) int64 {
	cost := RawCost(elapsedSeconds, coinsPerMinute)
	if balanceCoins < 0 {
		balanceCoins = 0
	}
	if cost > balanceCoins {
		return balanceCoins
	}
	return cost
}

// Share converts charged coins to currency and applies the commission.
// Conversion happens before commission so rounding error stays
// proportionally bounded regardless of call size.
func Share(coinsCharged int64, coinRate, commissionPercent float64) (gross, responderShare float64) {
	gross = float64(coinsCharged) * coinRate
	responderShare = Round2(gross * commissionPercent / 100)
	return gross, responderShare
}

// Round2 rounds half away from zero to two decimals.
func Round2(v float64) float64 {
	return math.Round(v*100) / 100
}
