package store

import (
	"context"

	"astrocredits/internal/domain"
)

// Stub is the degraded adapter used when no backing service is
// configured or reachable. Load always returns a fresh zeroed state and
// Save drops the write, so every request sees an empty balance and a
// full free-try allowance.
type Stub struct{}

func NewStub() Stub { return Stub{} }

func (Stub) Load(_ context.Context, subject, role string) *domain.CreditsState {
	return domain.NewCreditsState(subject, role)
}

func (Stub) Save(context.Context, *domain.CreditsState) {}

func (Stub) Record(context.Context, domain.UsageEvent) {}
