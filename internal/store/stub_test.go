package store

import (
	"context"
	"testing"

	"astrocredits/internal/domain"
)

func TestStubLoadAlwaysZeroed(t *testing.T) {
	s := Stub{}
	ctx := context.Background()

	state := s.Load(ctx, "user-1", domain.RolePremium)
	if state.Subject != "user-1" || state.Role != domain.RolePremium {
		t.Fatalf("identity not carried through: %+v", state)
	}
	if state.PaidCredits != 0 || state.FreeTriesUsed != 0 || state.FreeTriesPeriodStart != nil {
		t.Fatalf("state = %+v, want zeroed", state)
	}

	// Writes vanish; the next load starts from scratch again.
	state.PaidCredits = 10
	state.FreeTriesUsed = 3
	s.Save(ctx, state)
	s.Record(ctx, domain.UsageEvent{Subject: "user-1", Feature: "tema_natale_ai"})

	again := s.Load(ctx, "user-1", domain.RolePremium)
	if again.PaidCredits != 0 || again.FreeTriesUsed != 0 {
		t.Fatalf("state after save = %+v, want zeroed", again)
	}
}

func TestStubGuestDetection(t *testing.T) {
	s := Stub{}
	state := s.Load(context.Background(), domain.GuestPrefix+"9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90", domain.RoleFree)
	if !state.IsGuest {
		t.Fatal("guest subject not flagged")
	}
}
