package store

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"astrocredits/internal/domain"
)

const testServiceKey = "service-role-test-key"

func newTestSupabase(t *testing.T, handler http.Handler) (*Supabase, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	sb := NewSupabase(SupabaseOptions{
		BaseURL:    srv.URL,
		ServiceKey: testServiceKey,
		HTTPClient: srv.Client(),
		Logger:     zerolog.Nop(),
	})
	return sb, srv
}

func checkAuthHeaders(t *testing.T, r *http.Request) {
	t.Helper()
	if got := r.Header.Get("apikey"); got != testServiceKey {
		t.Errorf("apikey header = %q, want %q", got, testServiceKey)
	}
	if got := r.Header.Get("Authorization"); got != "Bearer "+testServiceKey {
		t.Errorf("Authorization header = %q", got)
	}
}

func TestSupabaseLoadEntitlementHit(t *testing.T) {
	period := "2025-03-09T08:30:00Z"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkAuthHeaders(t, r)
		if r.Method != http.MethodGet || r.URL.Path != "/rest/v1/entitlements" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.URL.Query().Get("user_id"); got != "eq.user-42" {
			t.Errorf("user_id filter = %q", got)
		}
		json.NewEncoder(w).Encode([]entitlementRow{{
			UserID:               "user-42",
			PaidCredits:          7,
			FreeTriesUsed:        1,
			FreeTriesPeriodStart: &period,
		}})
	})
	sb, _ := newTestSupabase(t, handler)

	state := sb.Load(context.Background(), "user-42", domain.RoleFree)
	if state.PaidCredits != 7 || state.FreeTriesUsed != 1 {
		t.Fatalf("state = %+v", state)
	}
	want := time.Date(2025, time.March, 9, 8, 30, 0, 0, time.UTC)
	if state.FreeTriesPeriodStart == nil || !state.FreeTriesPeriodStart.Equal(want) {
		t.Fatalf("period start = %v, want %v", state.FreeTriesPeriodStart, want)
	}
	if state.IsGuest {
		t.Fatal("registered user flagged as guest")
	}
}

func TestSupabaseLoadEntitlementMissCreatesRow(t *testing.T) {
	var created bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkAuthHeaders(t, r)
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte("[]"))
		case http.MethodPost:
			created = true
			if got := r.Header.Get("Prefer"); got != "return=representation" {
				t.Errorf("Prefer header = %q", got)
			}
			var row entitlementRow
			if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
				t.Errorf("decode create payload: %v", err)
			}
			if row.UserID != "user-new" {
				t.Errorf("created user_id = %q", row.UserID)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode([]entitlementRow{row})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})
	sb, _ := newTestSupabase(t, handler)

	state := sb.Load(context.Background(), "user-new", domain.RoleFree)
	if !created {
		t.Fatal("read miss did not create a row")
	}
	if state.PaidCredits != 0 || state.FreeTriesUsed != 0 || state.FreeTriesPeriodStart != nil {
		t.Fatalf("fresh state = %+v, want zeroed", state)
	}
}

func TestSupabaseLoadMalformedTimestamp(t *testing.T) {
	bad := "not-a-timestamp"
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode([]entitlementRow{{
			UserID:               "user-42",
			PaidCredits:          2,
			FreeTriesPeriodStart: &bad,
		}})
	})
	sb, _ := newTestSupabase(t, handler)

	state := sb.Load(context.Background(), "user-42", domain.RoleFree)
	if state.FreeTriesPeriodStart != nil {
		t.Fatalf("period start = %v, want nil for malformed value", state.FreeTriesPeriodStart)
	}
	if state.PaidCredits != 2 {
		t.Fatalf("paid credits = %d, want 2", state.PaidCredits)
	}
}

func TestSupabaseLoadDegradesOnServerError(t *testing.T) {
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"boom"}`, http.StatusInternalServerError)
	})
	sb, _ := newTestSupabase(t, handler)

	state := sb.Load(context.Background(), "user-42", domain.RolePremium)
	if state == nil {
		t.Fatal("Load returned nil")
	}
	if state.PaidCredits != 0 || state.FreeTriesUsed != 0 || state.FreeTriesPeriodStart != nil {
		t.Fatalf("degraded state = %+v, want zeroed", state)
	}
	if state.Role != domain.RolePremium {
		t.Fatalf("role = %q, want premium preserved", state.Role)
	}
}

func TestSupabaseSaveEntitlementPatch(t *testing.T) {
	var got entitlementPatch
	var patched bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkAuthHeaders(t, r)
		if r.Method != http.MethodPatch {
			t.Errorf("method = %s, want PATCH", r.Method)
		}
		if q := r.URL.Query().Get("user_id"); q != "eq.user-42" {
			t.Errorf("user_id filter = %q", q)
		}
		if p := r.Header.Get("Prefer"); p != "return=minimal" {
			t.Errorf("Prefer header = %q", p)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode patch: %v", err)
		}
		patched = true
		w.WriteHeader(http.StatusNoContent)
	})
	sb, _ := newTestSupabase(t, handler)

	start := time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC)
	state := domain.NewCreditsState("user-42", domain.RoleFree)
	state.PaidCredits = 3
	state.FreeTriesUsed = 2
	state.FreeTriesPeriodStart = &start
	sb.Save(context.Background(), state)

	if !patched {
		t.Fatal("no PATCH issued")
	}
	if got.PaidCredits != 3 || got.FreeTriesUsed != 2 {
		t.Fatalf("patch = %+v", got)
	}
	if got.FreeTriesPeriodStart == nil || *got.FreeTriesPeriodStart != "2025-03-10T12:00:00Z" {
		t.Fatalf("patch period start = %v", got.FreeTriesPeriodStart)
	}
}

func TestSupabaseGuestDayRoundTrip(t *testing.T) {
	const subject = domain.GuestPrefix + "9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90"

	var saved guestPatch
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		checkAuthHeaders(t, r)
		switch r.Method {
		case http.MethodPatch:
			if q := r.URL.Query().Get("guest_id"); q != "eq.9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90" {
				t.Errorf("guest_id filter = %q", q)
			}
			if err := json.NewDecoder(r.Body).Decode(&saved); err != nil {
				t.Errorf("decode guest patch: %v", err)
			}
			w.WriteHeader(http.StatusNoContent)
		case http.MethodGet:
			json.NewEncoder(w).Encode([]guestRow{{
				GuestID:  "9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90",
				Day:      saved.Day,
				FreeUses: saved.FreeUses,
			}})
		default:
			t.Errorf("unexpected method %s", r.Method)
		}
	})
	sb, _ := newTestSupabase(t, handler)

	// An afternoon instant goes in; only its calendar date survives.
	start := time.Date(2024, time.May, 17, 15, 42, 9, 0, time.UTC)
	state := domain.NewCreditsState(subject, domain.RoleFree)
	state.FreeTriesUsed = 1
	state.FreeTriesPeriodStart = &start
	sb.Save(context.Background(), state)

	if saved.Day == nil || *saved.Day != "2024-05-17" {
		t.Fatalf("stored day = %v, want 2024-05-17", saved.Day)
	}

	loaded := sb.Load(context.Background(), subject, domain.RoleFree)
	if !loaded.IsGuest {
		t.Fatal("guest subject not flagged as guest")
	}
	if loaded.FreeTriesUsed != 1 {
		t.Fatalf("free tries used = %d, want 1", loaded.FreeTriesUsed)
	}
	wantMidnight := time.Date(2024, time.May, 17, 0, 0, 0, 0, time.UTC)
	if loaded.FreeTriesPeriodStart == nil || !loaded.FreeTriesPeriodStart.Equal(wantMidnight) {
		t.Fatalf("period start = %v, want %v", loaded.FreeTriesPeriodStart, wantMidnight)
	}
}

func TestSupabaseGuestMissCreatesRow(t *testing.T) {
	const subject = domain.GuestPrefix + "9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90"

	var created bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			w.Write([]byte("[]"))
		case http.MethodPost:
			created = true
			var row guestRow
			if err := json.NewDecoder(r.Body).Decode(&row); err != nil {
				t.Errorf("decode guest create: %v", err)
			}
			if row.GuestID != "9f1c2a40-21d0-4c7d-9f3e-8a5b6c7d8e90" {
				t.Errorf("created guest_id = %q", row.GuestID)
			}
			w.WriteHeader(http.StatusCreated)
			json.NewEncoder(w).Encode([]guestRow{row})
		}
	})
	sb, _ := newTestSupabase(t, handler)

	state := sb.Load(context.Background(), subject, domain.RoleFree)
	if !created {
		t.Fatal("guest miss did not create a row")
	}
	if state.FreeTriesUsed != 0 || state.FreeTriesPeriodStart != nil {
		t.Fatalf("fresh guest state = %+v, want zeroed", state)
	}
}

func TestSupabaseLoadUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	sb := NewSupabase(SupabaseOptions{
		BaseURL:    url,
		ServiceKey: testServiceKey,
		Timeout:    time.Second,
		Logger:     zerolog.Nop(),
	})
	state := sb.Load(context.Background(), "user-42", domain.RoleFree)
	if state == nil {
		t.Fatal("Load returned nil")
	}
	if state.PaidCredits != 0 || state.FreeTriesUsed != 0 || state.FreeTriesPeriodStart != nil {
		t.Fatalf("state = %+v, want zeroed on connection failure", state)
	}
}

func TestSupabaseRecordUsageEvent(t *testing.T) {
	var got usageRow
	var inserted bool
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/rest/v1/usage_events" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if p := r.Header.Get("Prefer"); p != "return=minimal" {
			t.Errorf("Prefer header = %q", p)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode usage row: %v", err)
		}
		inserted = true
		w.WriteHeader(http.StatusCreated)
	})
	sb, _ := newTestSupabase(t, handler)

	sb.Record(context.Background(), domain.UsageEvent{
		Subject:         "user-42",
		Feature:         "sinastria_ai",
		Role:            domain.RoleFree,
		BillingMode:     domain.ModePaid,
		CostPaidCredits: 3,
		At:              time.Date(2025, time.March, 10, 12, 0, 0, 0, time.UTC),
	})

	if !inserted {
		t.Fatal("usage event not inserted")
	}
	if got.Feature != "sinastria_ai" || got.CostPaidCredits != 3 {
		t.Fatalf("row = %+v", got)
	}
	if got.CreatedAt != "2025-03-10T12:00:00Z" {
		t.Fatalf("created_at = %q", got.CreatedAt)
	}
}

func TestNewSupabaseNormalizesBaseURL(t *testing.T) {
	for _, in := range []string{
		"https://proj.supabase.co",
		"https://proj.supabase.co/",
		"https://proj.supabase.co/rest/v1",
	} {
		sb := NewSupabase(SupabaseOptions{BaseURL: in, Logger: zerolog.Nop()})
		if !strings.HasSuffix(sb.baseURL, "/rest/v1") || strings.HasSuffix(sb.baseURL, "//rest/v1") {
			t.Errorf("base %q normalized to %q", in, sb.baseURL)
		}
	}
}
