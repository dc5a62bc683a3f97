package handlers

import (
	"net/http"
	"time"

	"astrocredits/internal/middleware"
)

type walletResponse struct {
	CreditsBalance int     `json:"credits_balance"`
	FreeTriesUsed  int     `json:"free_tries_used"`
	FreeTriesLeft  int     `json:"free_tries_left"`
	PeriodStart    *string `json:"free_tries_period_start,omitempty"`
}

// WalletBalance reports the caller's paid balance and remaining free
// tries. Read-only: no period bootstrap, no consumption.
func (a *App) WalletBalance(w http.ResponseWriter, r *http.Request) {
	id, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		a.json(w, http.StatusUnauthorized, map[string]any{
			"error": ErrorPayload{Code: "unauthorized", Message: "missing identity"},
		})
		return
	}

	state := a.Store.Load(r.Context(), id.Subject, id.Role)

	left := a.Rules.FreeTriesPerPeriod - state.FreeTriesUsed
	if left < 0 {
		left = 0
	}

	resp := walletResponse{
		CreditsBalance: state.PaidCredits,
		FreeTriesUsed:  state.FreeTriesUsed,
		FreeTriesLeft:  left,
	}
	if state.FreeTriesPeriodStart != nil {
		s := state.FreeTriesPeriodStart.UTC().Format(time.RFC3339)
		resp.PeriodStart = &s
	}

	a.json(w, http.StatusOK, resp)
}
