package domain

import (
	"strings"
	"time"
)

// GuestPrefix marks anonymous subjects. A guest subject is the prefix
// followed by the UUID minted for the guest cookie.
const GuestPrefix = "anon-"

// RolePremium bypasses credit checks entirely when deciding.
const RolePremium = "premium"

// RoleFree is the default role for callers without an assigned one.
const RoleFree = "free"

// Mode classifies how a premium request is billed.
type Mode string

const (
	ModePaid    Mode = "paid"
	ModeFreeTry Mode = "free_try"
	ModeDenied  Mode = "denied"
)

// ReasonNoCreditsAndNoFree is the denial reason when both the paid balance
// and the free-try allowance are exhausted.
const ReasonNoCreditsAndNoFree = "no_credits_and_no_free"

// CreditsState is the credit and free-try state of one subject for one
// request. It is rehydrated from storage when the request starts and
// written back when it ends; the backing store is the source of truth
// across requests.
type CreditsState struct {
	Subject string
	Role    string
	IsGuest bool

	PaidCredits          int
	FreeTriesUsed        int
	FreeTriesPeriodStart *time.Time

	// Request telemetry carried onto guest records on save. Optional;
	// never read back into gating decisions.
	IPHash    string
	UserAgent string
	Country   string
}

// Decision is the outcome of gating a premium request.
type Decision struct {
	Allowed bool
	Mode    Mode
	Reason  string
}

// NewCreditsState builds a zeroed state for an identity, deriving the
// guest flag from the subject prefix.
func NewCreditsState(subject, role string) *CreditsState {
	return &CreditsState{
		Subject: subject,
		Role:    role,
		IsGuest: IsGuestSubject(subject),
	}
}

// IsGuestSubject reports whether the subject names an anonymous guest.
func IsGuestSubject(subject string) bool {
	return strings.HasPrefix(subject, GuestPrefix)
}

// GuestUUID returns the UUID embedded in a guest subject. The returned
// value is not validated beyond being non-empty; storage adapters parse it
// before keying records on it.
func GuestUUID(subject string) (string, error) {
	if !IsGuestSubject(subject) {
		return "", ErrInvalidSubject
	}
	id := strings.TrimPrefix(subject, GuestPrefix)
	if id == "" {
		return "", ErrInvalidSubject
	}
	return id, nil
}
