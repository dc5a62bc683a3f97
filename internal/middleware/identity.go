package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"astrocredits/internal/domain"
)

// Identity is the per-request caller identity. Token verification happens
// upstream; this service consumes the result as opaque subject + role.
type Identity struct {
	Subject string
	Role    string
	IsGuest bool
}

type identityContextKey struct{}

var identityKey = identityContextKey{}

const (
	headerUserID   = "X-User-Id"
	headerUserRole = "X-User-Role"

	guestCookieName = "guest_id"
	// 180 days, matching the cookie the web frontend has always set.
	guestCookieMaxAge = 180 * 24 * 60 * 60
)

// WithIdentity resolves the caller identity. Authenticated callers arrive
// with X-User-Id (and optionally X-User-Role) set by the gateway that
// verified their token; everyone else is a guest tracked by a long-lived
// cookie, with the cookie UUID embedded in the subject.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		subject := strings.TrimSpace(r.Header.Get(headerUserID))
		role := strings.TrimSpace(r.Header.Get(headerUserRole))

		if subject == "" {
			subject = domain.GuestPrefix + guestID(w, r)
		}
		if role == "" {
			role = domain.RoleFree
		}

		id := Identity{
			Subject: subject,
			Role:    role,
			IsGuest: domain.IsGuestSubject(subject),
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// IdentityFromContext returns the resolved identity, if any.
func IdentityFromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok
}

// guestID returns the guest UUID from the cookie, minting and setting it
// when absent or unparsable.
func guestID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(guestCookieName); err == nil {
		if id, err := uuid.Parse(c.Value); err == nil {
			return id.String()
		}
	}

	gid := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     guestCookieName,
		Value:    gid,
		Path:     "/",
		MaxAge:   guestCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return gid
}

// HashIP returns the salted sha256 of an address, the only form in which
// client IPs are persisted.
func HashIP(salt, ip string) string {
	sum := sha256.Sum256([]byte(salt + ip))
	return hex.EncodeToString(sum[:])
}
