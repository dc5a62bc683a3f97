package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"

	"golang.org/x/text/language"
)

type localeContextKey struct{}

// LocaleKey indexes the response language on the request context.
var LocaleKey = localeContextKey{}

// The product ships Italian and English client-facing copy; Italian was
// the original backend's only language.
var localeMatcher = language.NewMatcher([]language.Tag{
	language.English,
	language.Italian,
})

// WithLocale stores the response language ("en" or "it") on the context.
// An explicit X-Locale header wins over Accept-Language negotiation.
func WithLocale(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := strings.TrimSpace(r.Header.Get("X-Locale"))
		if header == "" {
			header = r.Header.Get("Accept-Language")
		}
		ctx := context.WithValue(r.Context(), LocaleKey, matchLocale(header))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func matchLocale(header string) string {
	tags, _, err := language.ParseAcceptLanguage(header)
	if err != nil || len(tags) == 0 {
		return "en"
	}
	tag, _, _ := localeMatcher.Match(tags...)
	base, _ := tag.Base()
	if base.String() == "it" {
		return "it"
	}
	return "en"
}

// LocaleFromContext returns the negotiated locale, defaulting to "en".
func LocaleFromContext(ctx context.Context) string {
	if v, ok := ctx.Value(LocaleKey).(string); ok && v != "" {
		return v
	}
	return "en"
}

// ClientIP returns the best-effort client IP address for the request.
func ClientIP(r *http.Request) string {
	if r == nil {
		return ""
	}
	if xf := r.Header.Get("X-Forwarded-For"); xf != "" {
		for _, part := range strings.Split(xf, ",") {
			ip := strings.TrimSpace(part)
			if ip == "" {
				continue
			}
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
