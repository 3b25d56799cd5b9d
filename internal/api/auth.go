package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/text/language"

	"github.com/MrWong99/rehearse/internal/score"
)

// AuthConfig selects how requests are authenticated.
type AuthConfig struct {
	// Disabled trusts the X-User-ID header. Only for local development.
	Disabled bool

	// Secret is the HS256 key bearer tokens are signed with.
	Secret []byte

	// Issuer and Audience, when set, must match the token's claims.
	Issuer   string
	Audience string
}

// UserHeader carries the user ID when authentication is disabled.
const UserHeader = "X-User-ID"

type userKey struct{}

// WithUserID returns a copy of ctx carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userKey{}, userID)
}

// UserID returns the authenticated user stored in ctx, or "".
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey{}).(string)
	return id
}

// Authenticate returns middleware that resolves the caller's user ID and
// stores it in the request context. The ID is the token's "sub" claim.
// Browsers cannot set headers on WebSocket handshakes, so the token is also
// accepted from the access_token query parameter.
func Authenticate(cfg AuthConfig) func(http.Handler) http.Handler {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.Secret, nil }

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Disabled {
				id := strings.TrimSpace(r.Header.Get(UserHeader))
				if id == "" {
					writeJSON(w, http.StatusUnauthorized, errorBody{Error: UserHeader + " header required", Code: "unauthenticated"})
					return
				}
				next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
				return
			}

			raw := bearerToken(r)
			if raw == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "authorization required", Code: "unauthenticated"})
				return
			}
			var claims jwt.RegisteredClaims
			if _, err := parser.ParseWithClaims(raw, &claims, keyFunc); err != nil {
				msg := "invalid token"
				if errors.Is(err, jwt.ErrTokenExpired) {
					msg = "token has expired"
				}
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: msg, Code: "unauthenticated"})
				return
			}
			if claims.Subject == "" {
				writeJSON(w, http.StatusUnauthorized, errorBody{Error: "token has no subject", Code: "unauthenticated"})
				return
			}
			next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), claims.Subject)))
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		scheme, tok, ok := strings.Cut(h, " ")
		if !ok || !strings.EqualFold(scheme, "Bearer") {
			return ""
		}
		return strings.TrimSpace(tok)
	}
	return r.URL.Query().Get("access_token")
}

// Locales is middleware that stores the caller's Accept-Language
// preferences for localised feedback.
func Locales(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tags, _, err := language.ParseAcceptLanguage(r.Header.Get("Accept-Language"))
		if err != nil || len(tags) == 0 {
			next.ServeHTTP(w, r)
			return
		}
		locales := make([]string, len(tags))
		for i, t := range tags {
			locales[i] = t.String()
		}
		next.ServeHTTP(w, r.WithContext(score.WithLocales(r.Context(), locales...)))
	})
}
