package domain

import "time"

// UsageEvent captures one gated feature call for the usage_events
// collection. Credits before/after bracket the consumption applied by the
// request that emitted the event.
type UsageEvent struct {
	Subject     string
	Feature     string
	Role        string
	IsGuest     bool
	BillingMode Mode

	CostPaidCredits int
	CostFreeCredits int

	PaidCreditsBefore   int
	PaidCreditsAfter    int
	FreeTriesUsedBefore int
	FreeTriesUsedAfter  int

	LatencyMS int64
	At        time.Time
}
