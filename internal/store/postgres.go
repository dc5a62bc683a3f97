package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"astrocredits/internal/domain"
)

// Postgres talks to the same entitlements/guests records as the REST
// adapter, over a direct database connection. Supabase projects are plain
// Postgres underneath, so a DATABASE_URL skips the REST hop entirely.
type Postgres struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

func NewPostgres(pool *pgxpool.Pool, logger zerolog.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

const schema = `
CREATE TABLE IF NOT EXISTS entitlements (
    user_id TEXT PRIMARY KEY,
    paid_credits INTEGER NOT NULL DEFAULT 0,
    free_tries_used INTEGER NOT NULL DEFAULT 0,
    free_tries_period_start TIMESTAMPTZ,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS guests (
    guest_id UUID PRIMARY KEY,
    day DATE,
    free_uses INTEGER NOT NULL DEFAULT 0,
    last_seen TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    ip_hash TEXT,
    ua TEXT,
    country TEXT
);

CREATE TABLE IF NOT EXISTS usage_events (
    id BIGSERIAL PRIMARY KEY,
    user_id TEXT NOT NULL,
    feature TEXT NOT NULL,
    role TEXT,
    is_guest BOOLEAN NOT NULL DEFAULT FALSE,
    billing_mode TEXT NOT NULL,
    cost_paid_credits INTEGER NOT NULL DEFAULT 0,
    cost_free_credits INTEGER NOT NULL DEFAULT 0,
    paid_credits_before INTEGER,
    paid_credits_after INTEGER,
    free_credits_used_before INTEGER,
    free_credits_used_after INTEGER,
    latency_ms BIGINT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
`

// Migrate creates the backing tables when absent. Hosted Supabase
// projects usually carry the schema already; this keeps self-managed
// databases working out of the box.
func (p *Postgres) Migrate(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schema)
	return err
}

// Load rehydrates the subject's state, creating a zeroed record on a read
// miss. Storage failures degrade to the zeroed state.
func (p *Postgres) Load(ctx context.Context, subject, role string) *domain.CreditsState {
	state := domain.NewCreditsState(subject, role)
	if state.IsGuest {
		p.loadGuest(ctx, state)
	} else {
		p.loadEntitlement(ctx, state)
	}
	return state
}

func (p *Postgres) loadEntitlement(ctx context.Context, state *domain.CreditsState) {
	var (
		paid, used int
		start      *time.Time
	)

	row := p.pool.QueryRow(ctx,
		`SELECT paid_credits, free_tries_used, free_tries_period_start FROM entitlements WHERE user_id = $1`,
		state.Subject)
	err := row.Scan(&paid, &used, &start)
	if errors.Is(err, pgx.ErrNoRows) {
		row = p.pool.QueryRow(ctx, `
INSERT INTO entitlements (user_id)
VALUES ($1)
ON CONFLICT (user_id) DO UPDATE SET updated_at = NOW()
RETURNING paid_credits, free_tries_used, free_tries_period_start;
`, state.Subject)
		err = row.Scan(&paid, &used, &start)
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", state.Subject).
			Msg("store: entitlement read failed, using defaults")
		return
	}

	if paid > 0 {
		state.PaidCredits = paid
	}
	if used > 0 {
		state.FreeTriesUsed = used
	}
	if start != nil {
		u := start.UTC()
		state.FreeTriesPeriodStart = &u
	}
}

func (p *Postgres) loadGuest(ctx context.Context, state *domain.CreditsState) {
	gid, err := guestKey(state.Subject)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", state.Subject).
			Msg("store: unusable guest subject, using defaults")
		return
	}

	var (
		day  *time.Time
		uses int
	)

	row := p.pool.QueryRow(ctx, `SELECT day, free_uses FROM guests WHERE guest_id = $1`, gid)
	err = row.Scan(&day, &uses)
	if errors.Is(err, pgx.ErrNoRows) {
		row = p.pool.QueryRow(ctx, `
INSERT INTO guests (guest_id)
VALUES ($1)
ON CONFLICT (guest_id) DO UPDATE SET last_seen = NOW()
RETURNING day, free_uses;
`, gid)
		err = row.Scan(&day, &uses)
	}
	if err != nil {
		p.logger.Warn().Err(err).Str("guest_id", gid).
			Msg("store: guest read failed, using defaults")
		return
	}

	if uses > 0 {
		state.FreeTriesUsed = uses
	}
	if day != nil {
		// DATE column: period start is UTC midnight of that day.
		y, m, d := day.UTC().Date()
		start := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		state.FreeTriesPeriodStart = &start
	}
}

// Save upserts the state. Failures are dropped with a warning.
func (p *Postgres) Save(ctx context.Context, state *domain.CreditsState) {
	if state.IsGuest {
		p.saveGuest(ctx, state)
		return
	}

	_, err := p.pool.Exec(ctx, `
INSERT INTO entitlements (user_id, paid_credits, free_tries_used, free_tries_period_start, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (user_id) DO UPDATE
SET paid_credits = EXCLUDED.paid_credits,
    free_tries_used = EXCLUDED.free_tries_used,
    free_tries_period_start = EXCLUDED.free_tries_period_start,
    updated_at = NOW();
`, state.Subject, state.PaidCredits, state.FreeTriesUsed, utcOrNil(state.FreeTriesPeriodStart))
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", state.Subject).
			Msg("store: entitlement write dropped")
	}
}

func (p *Postgres) saveGuest(ctx context.Context, state *domain.CreditsState) {
	gid, err := guestKey(state.Subject)
	if err != nil {
		p.logger.Warn().Err(err).Str("subject", state.Subject).
			Msg("store: guest write dropped")
		return
	}

	// The period start is truncated to its UTC calendar day; the guests
	// schema stores a date, not an instant.
	var day *time.Time
	if state.FreeTriesPeriodStart != nil {
		y, m, d := state.FreeTriesPeriodStart.UTC().Date()
		t := time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
		day = &t
	}

	_, err = p.pool.Exec(ctx, `
INSERT INTO guests (guest_id, day, free_uses, last_seen, ip_hash, ua, country)
VALUES ($1, $2, $3, NOW(), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''))
ON CONFLICT (guest_id) DO UPDATE
SET day = EXCLUDED.day,
    free_uses = EXCLUDED.free_uses,
    last_seen = NOW(),
    ip_hash = COALESCE(EXCLUDED.ip_hash, guests.ip_hash),
    ua = COALESCE(EXCLUDED.ua, guests.ua),
    country = COALESCE(EXCLUDED.country, guests.country);
`, gid, day, state.FreeTriesUsed, state.IPHash, state.UserAgent, state.Country)
	if err != nil {
		p.logger.Warn().Err(err).Str("guest_id", gid).
			Msg("store: guest write dropped")
	}
}

// Record inserts a usage event. Best-effort.
func (p *Postgres) Record(ctx context.Context, ev domain.UsageEvent) {
	at := ev.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx, `
INSERT INTO usage_events (
    user_id, feature, role, is_guest, billing_mode,
    cost_paid_credits, cost_free_credits,
    paid_credits_before, paid_credits_after,
    free_credits_used_before, free_credits_used_after,
    latency_ms, created_at
) VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`, ev.Subject, ev.Feature, ev.Role, ev.IsGuest, string(ev.BillingMode),
		ev.CostPaidCredits, ev.CostFreeCredits,
		ev.PaidCreditsBefore, ev.PaidCreditsAfter,
		ev.FreeTriesUsedBefore, ev.FreeTriesUsedAfter,
		ev.LatencyMS, at)
	if err != nil {
		p.logger.Warn().Err(err).Str("feature", ev.Feature).
			Msg("store: usage event dropped")
	}
}

// Close releases the connection pool.
func (p *Postgres) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

func utcOrNil(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
