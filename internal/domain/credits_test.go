package domain

import (
	"errors"
	"testing"
)

func TestIsGuestSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    bool
	}{
		{"anon-9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90", true},
		{"anon-", true},
		{"user-42", false},
		{"", false},
		{"ANON-9f1c2a40", false},
	}
	for _, c := range cases {
		if got := IsGuestSubject(c.subject); got != c.want {
			t.Errorf("IsGuestSubject(%q) = %v, want %v", c.subject, got, c.want)
		}
	}
}

func TestGuestUUID(t *testing.T) {
	id, err := GuestUUID("anon-9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90")
	if err != nil {
		t.Fatalf("GuestUUID error: %v", err)
	}
	if id != "9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90" {
		t.Fatalf("uuid = %q", id)
	}

	for _, subject := range []string{"user-42", "anon-", ""} {
		if _, err := GuestUUID(subject); !errors.Is(err, ErrInvalidSubject) {
			t.Errorf("GuestUUID(%q) err = %v, want ErrInvalidSubject", subject, err)
		}
	}
}

func TestNewCreditsState(t *testing.T) {
	s := NewCreditsState("anon-9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90", RoleFree)
	if !s.IsGuest {
		t.Fatal("guest flag not derived from prefix")
	}
	if s.PaidCredits != 0 || s.FreeTriesUsed != 0 || s.FreeTriesPeriodStart != nil {
		t.Fatalf("fresh state = %+v, want zeroed", s)
	}

	u := NewCreditsState("user-42", RolePremium)
	if u.IsGuest {
		t.Fatal("registered subject flagged as guest")
	}
	if u.Role != RolePremium {
		t.Fatalf("role = %q", u.Role)
	}
}
