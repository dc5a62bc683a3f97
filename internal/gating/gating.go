// Package gating decides whether a subject may consume a premium feature
// and applies the resulting consumption to their credit state.
package gating

import (
	"time"

	"astrocredits/internal/domain"
)

// Rules carries the free-trial allowance. Built once from configuration at
// process start and passed by value wherever decisions are made.
type Rules struct {
	// FreeTriesPerPeriod is how many free premium calls a subject gets
	// per rolling period.
	FreeTriesPerPeriod int
	// PeriodDays is the rolling period length in whole days.
	PeriodDays int
}

// DefaultRules mirrors the production defaults: 2 free tries per day.
func DefaultRules() Rules {
	return Rules{FreeTriesPerPeriod: 2, PeriodDays: 1}
}

// Decide computes whether the subject may run a premium feature and in
// which billing mode, in strict priority order: premium role, paid
// balance, free-trial allowance.
//
// Decide mutates state: when no free-try period is established it starts
// one at now, and when the period has elapsed it rolls the period over and
// resets the counter. Callers rely on that bootstrap happening as part of
// deciding, so the updated state must be persisted alongside the decision.
// A zero now falls back to the current wall clock; tests inject it.
func (r Rules) Decide(state *domain.CreditsState, now time.Time) domain.Decision {
	if now.IsZero() {
		now = time.Now().UTC()
	}

	// Privileged accounts, not a balance check.
	if state.Role == domain.RolePremium {
		return domain.Decision{Allowed: true, Mode: domain.ModePaid}
	}

	if state.PaidCredits > 0 {
		return domain.Decision{Allowed: true, Mode: domain.ModePaid}
	}

	if state.FreeTriesPeriodStart == nil {
		start := now
		state.FreeTriesPeriodStart = &start
		state.FreeTriesUsed = 0
	} else if wholeDays(now.Sub(*state.FreeTriesPeriodStart)) >= r.PeriodDays {
		start := now
		state.FreeTriesPeriodStart = &start
		state.FreeTriesUsed = 0
	}

	if state.FreeTriesUsed < r.FreeTriesPerPeriod {
		return domain.Decision{Allowed: true, Mode: domain.ModeFreeTry}
	}

	return domain.Decision{
		Allowed: false,
		Mode:    domain.ModeDenied,
		Reason:  domain.ReasonNoCreditsAndNoFree,
	}
}

// wholeDays truncates elapsed time to whole days. 23h59m into a period is
// zero days; exactly PeriodDays*24h fires the rollover. No calendar-day
// alignment here: guest day boundaries exist only in the guests storage
// schema, not in the engine.
func wholeDays(d time.Duration) int {
	return int(d / (24 * time.Hour))
}

// Apply commits the consumption implied by a decision. It is the final
// enforcement point, not just bookkeeping: a disallowed decision or an
// insufficient balance returns domain.ErrPaymentRequired and leaves the
// state untouched.
//
// A free try is an all-or-nothing unit: it increments the counter by one
// whatever featureCost says. A mode the applier does not know yields
// domain.ErrInternalInconsistency.
func Apply(state *domain.CreditsState, decision domain.Decision, featureCost int) error {
	if !decision.Allowed {
		return domain.ErrPaymentRequired
	}

	switch decision.Mode {
	case domain.ModePaid:
		if state.PaidCredits < featureCost {
			return domain.ErrPaymentRequired
		}
		state.PaidCredits -= featureCost
		return nil
	case domain.ModeFreeTry:
		state.FreeTriesUsed++
		return nil
	default:
		return domain.ErrInternalInconsistency
	}
}
