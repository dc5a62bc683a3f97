package store

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"astrocredits/internal/domain"
)

const (
	entitlementsTable = "entitlements"
	guestsTable       = "guests"
	usageEventsTable  = "usage_events"

	dayLayout = "2006-01-02"
)

// SupabaseOptions configures the PostgREST adapter.
type SupabaseOptions struct {
	// BaseURL is the project URL; "/rest/v1" is appended unless already
	// present.
	BaseURL    string
	ServiceKey string
	HTTPClient *http.Client
	Timeout    time.Duration
	Logger     zerolog.Logger
}

// Supabase reads and writes credit state through the Supabase REST API.
// Registered users live in the entitlements collection keyed by user id;
// guests live in the guests collection keyed by the UUID embedded in
// their subject, with the free-try period stored as a bare calendar day.
type Supabase struct {
	httpClient *http.Client
	baseURL    string
	key        string
	logger     zerolog.Logger
}

func NewSupabase(opts SupabaseOptions) *Supabase {
	base := strings.TrimRight(opts.BaseURL, "/")
	if base != "" && !strings.HasSuffix(base, "/rest/v1") {
		base += "/rest/v1"
	}
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Supabase{
		httpClient: client,
		baseURL:    base,
		key:        strings.TrimSpace(opts.ServiceKey),
		logger:     opts.Logger,
	}
}

type entitlementRow struct {
	UserID               string  `json:"user_id"`
	PaidCredits          int     `json:"paid_credits"`
	FreeTriesUsed        int     `json:"free_tries_used"`
	FreeTriesPeriodStart *string `json:"free_tries_period_start"`
}

type guestRow struct {
	GuestID  string  `json:"guest_id"`
	Day      *string `json:"day"`
	FreeUses int     `json:"free_uses"`
	LastSeen string  `json:"last_seen,omitempty"`
	IPHash   string  `json:"ip_hash,omitempty"`
	UA       string  `json:"ua,omitempty"`
	Country  string  `json:"country,omitempty"`
}

// Load rehydrates the subject's state. A missing record is created with
// zero balance, zero tries and no period; any storage failure degrades to
// the same zeroed state the stub returns.
func (s *Supabase) Load(ctx context.Context, subject, role string) *domain.CreditsState {
	state := domain.NewCreditsState(subject, role)
	if state.IsGuest {
		s.loadGuest(ctx, state)
	} else {
		s.loadEntitlement(ctx, state)
	}
	return state
}

func (s *Supabase) loadEntitlement(ctx context.Context, state *domain.CreditsState) {
	filter := "user_id=eq." + url.QueryEscape(state.Subject) + "&limit=1"

	var rows []entitlementRow
	if err := s.get(ctx, entitlementsTable, filter, &rows); err != nil {
		s.logger.Warn().Err(err).Str("subject", state.Subject).
			Msg("store: entitlement read failed, using defaults")
		return
	}

	if len(rows) == 0 {
		created := entitlementRow{UserID: state.Subject}
		var out []entitlementRow
		if err := s.post(ctx, entitlementsTable, created, &out); err != nil {
			s.logger.Warn().Err(err).Str("subject", state.Subject).
				Msg("store: entitlement create failed, using defaults")
			return
		}
		if len(out) > 0 {
			rows = out
		} else {
			rows = []entitlementRow{created}
		}
	}

	row := rows[0]
	if row.PaidCredits > 0 {
		state.PaidCredits = row.PaidCredits
	}
	if row.FreeTriesUsed > 0 {
		state.FreeTriesUsed = row.FreeTriesUsed
	}
	state.FreeTriesPeriodStart = parseTimestamp(row.FreeTriesPeriodStart)
}

func (s *Supabase) loadGuest(ctx context.Context, state *domain.CreditsState) {
	gid, err := guestKey(state.Subject)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", state.Subject).
			Msg("store: unusable guest subject, using defaults")
		return
	}

	var rows []guestRow
	if err := s.get(ctx, guestsTable, "guest_id=eq."+gid+"&limit=1", &rows); err != nil {
		s.logger.Warn().Err(err).Str("guest_id", gid).
			Msg("store: guest read failed, using defaults")
		return
	}

	if len(rows) == 0 {
		created := guestRow{
			GuestID:  gid,
			LastSeen: time.Now().UTC().Format(time.RFC3339),
		}
		var out []guestRow
		if err := s.post(ctx, guestsTable, created, &out); err != nil {
			s.logger.Warn().Err(err).Str("guest_id", gid).
				Msg("store: guest create failed, using defaults")
			return
		}
		if len(out) > 0 {
			rows = out
		} else {
			rows = []guestRow{created}
		}
	}

	row := rows[0]
	if row.FreeUses > 0 {
		state.FreeTriesUsed = row.FreeUses
	}
	state.FreeTriesPeriodStart = parseDay(row.Day)
}

type entitlementPatch struct {
	PaidCredits          int     `json:"paid_credits"`
	FreeTriesUsed        int     `json:"free_tries_used"`
	FreeTriesPeriodStart *string `json:"free_tries_period_start"`
}

type guestPatch struct {
	Day      *string `json:"day"`
	FreeUses int     `json:"free_uses"`
	LastSeen string  `json:"last_seen"`
	IPHash   string  `json:"ip_hash,omitempty"`
	UA       string  `json:"ua,omitempty"`
	Country  string  `json:"country,omitempty"`
}

// Save writes the state back. Failures are dropped with a warning: the
// decision for the current request has already been honored in memory.
func (s *Supabase) Save(ctx context.Context, state *domain.CreditsState) {
	if state.IsGuest {
		s.saveGuest(ctx, state)
		return
	}

	patch := entitlementPatch{
		PaidCredits:          state.PaidCredits,
		FreeTriesUsed:        state.FreeTriesUsed,
		FreeTriesPeriodStart: formatTimestamp(state.FreeTriesPeriodStart),
	}
	filter := "user_id=eq." + url.QueryEscape(state.Subject)
	if err := s.patch(ctx, entitlementsTable, filter, patch); err != nil {
		s.logger.Warn().Err(err).Str("subject", state.Subject).
			Msg("store: entitlement write dropped")
	}
}

func (s *Supabase) saveGuest(ctx context.Context, state *domain.CreditsState) {
	gid, err := guestKey(state.Subject)
	if err != nil {
		s.logger.Warn().Err(err).Str("subject", state.Subject).
			Msg("store: guest write dropped")
		return
	}

	patch := guestPatch{
		Day:      formatDay(state.FreeTriesPeriodStart),
		FreeUses: state.FreeTriesUsed,
		LastSeen: time.Now().UTC().Format(time.RFC3339),
		IPHash:   state.IPHash,
		UA:       state.UserAgent,
		Country:  state.Country,
	}
	if err := s.patch(ctx, guestsTable, "guest_id=eq."+gid, patch); err != nil {
		s.logger.Warn().Err(err).Str("guest_id", gid).
			Msg("store: guest write dropped")
	}
}

type usageRow struct {
	UserID                string `json:"user_id"`
	Feature               string `json:"feature"`
	Role                  string `json:"role,omitempty"`
	IsGuest               bool   `json:"is_guest"`
	BillingMode           string `json:"billing_mode"`
	CostPaidCredits       int    `json:"cost_paid_credits"`
	CostFreeCredits       int    `json:"cost_free_credits"`
	PaidCreditsBefore     int    `json:"paid_credits_before"`
	PaidCreditsAfter      int    `json:"paid_credits_after"`
	FreeCreditsUsedBefore int    `json:"free_credits_used_before"`
	FreeCreditsUsedAfter  int    `json:"free_credits_used_after"`
	LatencyMS             int64  `json:"latency_ms"`
	CreatedAt             string `json:"created_at"`
}

// Record inserts a usage event. Best-effort.
func (s *Supabase) Record(ctx context.Context, ev domain.UsageEvent) {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	row := usageRow{
		UserID:                ev.Subject,
		Feature:               ev.Feature,
		Role:                  ev.Role,
		IsGuest:               ev.IsGuest,
		BillingMode:           string(ev.BillingMode),
		CostPaidCredits:       ev.CostPaidCredits,
		CostFreeCredits:       ev.CostFreeCredits,
		PaidCreditsBefore:     ev.PaidCreditsBefore,
		PaidCreditsAfter:      ev.PaidCreditsAfter,
		FreeCreditsUsedBefore: ev.FreeTriesUsedBefore,
		FreeCreditsUsedAfter:  ev.FreeTriesUsedAfter,
		LatencyMS:             ev.LatencyMS,
		CreatedAt:             at.Format(time.RFC3339),
	}
	if err := s.insert(ctx, usageEventsTable, row); err != nil {
		s.logger.Warn().Err(err).Str("feature", ev.Feature).
			Msg("store: usage event dropped")
	}
}

func (s *Supabase) get(ctx context.Context, table, filter string, out any) error {
	return s.do(ctx, http.MethodGet, table, filter, nil, out, "")
}

func (s *Supabase) post(ctx context.Context, table string, payload, out any) error {
	return s.do(ctx, http.MethodPost, table, "", payload, out, "return=representation")
}

func (s *Supabase) patch(ctx context.Context, table, filter string, payload any) error {
	return s.do(ctx, http.MethodPatch, table, filter, payload, nil, "return=minimal")
}

func (s *Supabase) insert(ctx context.Context, table string, payload any) error {
	return s.do(ctx, http.MethodPost, table, "", payload, nil, "return=minimal")
}

func (s *Supabase) do(ctx context.Context, method, table, filter string, payload, out any, prefer string) error {
	endpoint := s.baseURL + "/" + table
	if filter != "" {
		endpoint += "?" + filter
	}

	var body io.Reader
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("supabase: encode %s payload: %w", table, err)
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if prefer != "" {
		req.Header.Set("Prefer", prefer)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("supabase: %s %s: http %d: %s",
			method, table, resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("supabase: decode %s response: %w", table, err)
		}
	}
	return nil
}

// guestKey validates the UUID embedded in a guest subject; records are
// keyed by its canonical form.
func guestKey(subject string) (string, error) {
	raw, err := domain.GuestUUID(subject)
	if err != nil {
		return "", err
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrInvalidSubject, err)
	}
	return id.String(), nil
}

// parseTimestamp reads a stored RFC 3339 timestamp. Malformed values are
// treated as absent rather than failing the read.
func parseTimestamp(v *string) *time.Time {
	if v == nil || *v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *v)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func formatTimestamp(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}

// parseDay maps a guest usage day to a period start at UTC midnight of
// that date. Malformed values are treated as absent.
func parseDay(v *string) *time.Time {
	if v == nil || *v == "" {
		return nil
	}
	t, err := time.ParseInLocation(dayLayout, *v, time.UTC)
	if err != nil {
		return nil
	}
	return &t
}

// formatDay truncates the period start to its UTC calendar date. Lossy on
// purpose: the guests schema stores a day, not an instant.
func formatDay(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(dayLayout)
	return &s
}
