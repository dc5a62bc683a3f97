package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"astrocredits/internal/domain"
	"astrocredits/internal/gating"
	"astrocredits/internal/middleware"
)

// Feature costs in paid credits, per reading type. A free try covers any
// of them whole.
var featureCosts = map[string]int{
	"oroscopo_ai_daily":   1,
	"oroscopo_ai_weekly":  2,
	"oroscopo_ai_monthly": 3,
	"oroscopo_ai_yearly":  5,
	"sinastria_ai":        3,
	"tema_natale_ai":      3,
}

type claimRequest struct {
	Feature string `json:"feature"`
}

type billingBlock struct {
	Allowed bool   `json:"allowed"`
	Mode    string `json:"mode"`
	Reason  string `json:"reason,omitempty"`

	FeatureCost int `json:"feature_cost"`

	PaidCreditsBefore   int `json:"paid_credits_before"`
	PaidCreditsAfter    int `json:"paid_credits_after"`
	FreeTriesUsedBefore int `json:"free_tries_used_before"`
	FreeTriesUsedAfter  int `json:"free_tries_used_after"`
	FreeTriesLeft       int `json:"free_tries_left"`
}

type claimResponse struct {
	Status  string        `json:"status"`
	Billing billingBlock  `json:"billing"`
	Error   *ErrorPayload `json:"error,omitempty"`
}

// PremiumClaim gates one premium feature call: load state, decide, apply
// the consumption and persist. The feature itself (chart, horoscope text)
// is computed by the caller after a successful claim; this endpoint only
// spends the credit or free try.
func (a *App) PremiumClaim(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	locale := middleware.LocaleFromContext(r.Context())

	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		a.json(w, http.StatusUnauthorized, claimResponse{
			Status: "error",
			Error:  &ErrorPayload{Code: "unauthorized", Message: "missing identity"},
		})
		return
	}

	var req claimRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.json(w, http.StatusBadRequest, claimResponse{
			Status: "error",
			Error:  &ErrorPayload{Code: "bad_request", Message: "invalid JSON body"},
		})
		return
	}
	cost, known := featureCosts[req.Feature]
	if !known {
		a.json(w, http.StatusBadRequest, claimResponse{
			Status: "error",
			Error:  &ErrorPayload{Code: "unknown_feature", Message: unknownFeatureMessage(locale)},
		})
		return
	}

	unlock := a.locks.Lock(id.Subject)
	defer unlock()

	state := a.Store.Load(r.Context(), id.Subject, id.Role)
	a.attachTelemetry(r, state)

	paidBefore := state.PaidCredits
	freeBefore := state.FreeTriesUsed

	decision := a.Rules.Decide(state, time.Now().UTC())
	applyErr := gating.Apply(state, decision, cost)

	billing := billingBlock{
		Allowed:             decision.Allowed && applyErr == nil,
		Mode:                string(decision.Mode),
		Reason:              decision.Reason,
		FeatureCost:         cost,
		PaidCreditsBefore:   paidBefore,
		PaidCreditsAfter:    state.PaidCredits,
		FreeTriesUsedBefore: freeBefore,
		FreeTriesUsedAfter:  state.FreeTriesUsed,
	}
	if left := a.Rules.FreeTriesPerPeriod - state.FreeTriesUsed; left > 0 {
		billing.FreeTriesLeft = left
	}

	if applyErr != nil {
		switch {
		case errors.Is(applyErr, domain.ErrPaymentRequired):
			a.json(w, http.StatusPaymentRequired, claimResponse{
				Status:  "denied",
				Billing: billing,
				Error:   &ErrorPayload{Code: "payment_required", Message: deniedMessage(locale)},
			})
		default:
			a.Logger.Error().Err(applyErr).
				Str("subject", id.Subject).
				Str("mode", string(decision.Mode)).
				Msg("premium: apply failed")
			a.json(w, http.StatusInternalServerError, claimResponse{
				Status: "error",
				Error:  &ErrorPayload{Code: "internal", Message: "inconsistent credits state"},
			})
		}
		return
	}

	a.Store.Save(r.Context(), state)

	ev := domain.UsageEvent{
		Subject:             id.Subject,
		Feature:             req.Feature,
		Role:                id.Role,
		IsGuest:             id.IsGuest,
		BillingMode:         decision.Mode,
		PaidCreditsBefore:   paidBefore,
		PaidCreditsAfter:    state.PaidCredits,
		FreeTriesUsedBefore: freeBefore,
		FreeTriesUsedAfter:  state.FreeTriesUsed,
		LatencyMS:           time.Since(started).Milliseconds(),
		At:                  time.Now().UTC(),
	}
	switch decision.Mode {
	case domain.ModePaid:
		ev.CostPaidCredits = cost
	case domain.ModeFreeTry:
		ev.CostFreeCredits = 1
	}
	a.Store.Record(r.Context(), ev)

	a.json(w, http.StatusOK, claimResponse{Status: "ok", Billing: billing})
}

// attachTelemetry stamps the request metadata that guest records keep:
// salted IP hash, truncated user agent and best-effort country.
func (a *App) attachTelemetry(r *http.Request, state *domain.CreditsState) {
	if !state.IsGuest {
		return
	}
	ip := middleware.ClientIP(r)
	if ip != "" {
		state.IPHash = middleware.HashIP(a.IPSalt, ip)
		if a.Geo != nil {
			if country, err := a.Geo.CountryCode(ip); err == nil {
				state.Country = country
			}
		}
	}
	ua := r.UserAgent()
	if len(ua) > 180 {
		ua = ua[:180]
	}
	state.UserAgent = ua
}
