package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// StatsRow is the slice of an order the admin dashboard aggregates over.
type StatsRow struct {
	Status        OrderStatus
	PaymentStatus PaymentStatus
	Total         decimal.Decimal
	StockRestored bool
	CreatedAt     time.Time
}

// Summarize builds dashboard figures. Revenue counts paid orders that were not cancelled.
func Summarize(rows []StatsRow, now time.Time) OrderStats {
	now = now.UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)

	st := OrderStats{
		ByStatus: map[string]int{},
		Revenue:  decimal.Zero,
		Monthly:  decimal.Zero,
	}
	for _, s := range []OrderStatus{StatusPlaced, StatusProcessing, StatusShipped, StatusDelivered, StatusCancelled} {
		st.ByStatus[string(s)] = 0
	}
	for _, r := range rows {
		st.Total++
		st.ByStatus[string(r.Status)]++
		created := r.CreatedAt.UTC()
		if !created.Before(dayStart) {
			st.Today++
		}
		if r.Status == StatusCancelled && !r.StockRestored {
			st.Unrestored++
		}
		if r.PaymentStatus != PaymentPaid || r.Status == StatusCancelled {
			continue
		}
		st.Revenue = st.Revenue.Add(r.Total)
		if !created.Before(monthStart) {
			st.Monthly = st.Monthly.Add(r.Total)
		}
	}
	return st
}
