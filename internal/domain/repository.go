package domain

import "context"

// CreditsStore loads and persists per-subject credit state.
//
// Load never fails: when the backing service is unconfigured, unreachable
// or holds malformed data, it returns a zeroed state so the caller can
// still gate on the free-trial allowance. Save is best-effort for the same
// reason; a dropped write must not fail a request whose decision has
// already been honored in memory.
type CreditsStore interface {
	Load(ctx context.Context, subject, role string) *CreditsState
	Save(ctx context.Context, state *CreditsState)
}

// UsageSink records gated feature usage for analytics. Best-effort:
// implementations log and drop failures.
type UsageSink interface {
	Record(ctx context.Context, ev UsageEvent)
}
