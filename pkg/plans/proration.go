package plans

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const day = 24 * time.Hour

// ceilDays rounds d up to whole days. Negative durations round toward zero.
func ceilDays(d time.Duration) int {
	n := int(d / day)
	if d > 0 && d%day != 0 {
		n++
	}
	return n
}

// CalculateProration splits the remainder of a billing period between two prices.
// The result depends only on its inputs. A zero now means time.Now().
func CalculateProration(currentPrice, newPrice decimal.Decimal, periodStart, periodEnd, now time.Time) (*ProrationResult, error) {
	if now.IsZero() {
		now = time.Now()
	}

	daysInPeriod := ceilDays(periodEnd.Sub(periodStart))
	if daysInPeriod <= 0 {
		return nil, fmt.Errorf("%w: %s to %s", ErrInvalidBillingPeriod,
			periodStart.Format(time.RFC3339), periodEnd.Format(time.RFC3339))
	}

	daysRemaining := ceilDays(periodEnd.Sub(now))
	if daysRemaining < 0 {
		daysRemaining = 0
	}

	remaining := decimal.NewFromInt(int64(daysRemaining))
	period := decimal.NewFromInt(int64(daysInPeriod))

	credit := currentPrice.Mul(remaining).Div(period).Round(2)
	cost := newPrice.Mul(remaining).Div(period).Round(2)

	due := cost.Sub(credit)
	if due.IsNegative() {
		due = decimal.Zero
	}

	return &ProrationResult{
		DaysRemaining:     daysRemaining,
		DaysInPeriod:      daysInPeriod,
		CreditAmount:      credit,
		NewPlanCost:       cost,
		DueToday:          due,
		NextBillingAmount: newPrice,
	}, nil
}
