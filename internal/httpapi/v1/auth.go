package v1

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tinoosan/bizledger/internal/config"
)

// Principal is the caller a request acts for.
type Principal struct {
	TenantID int64
	Actor    string
}

type ctxKey string

const ctxKeyPrincipal ctxKey = "principal"

// Dev-mode headers used when no JWT secret is configured.
const (
	headerTenant = "X-Tenant-ID"
	headerActor  = "X-Actor"
)

const anonymousActor = "anonymous"

// TokenClaims are the claims of an access token: sub is the actor.
type TokenClaims struct {
	TenantID int64 `json:"tenant_id"`
	jwt.RegisteredClaims
}

var signingMethod = jwt.SigningMethodHS256

// IssueToken mints an HS256 token for tenantID and actor.
func IssueToken(cfg config.AuthConfig, tenantID int64, actor string, ttl time.Duration, now time.Time) (string, error) {
	if !cfg.Enabled() {
		return "", errors.New("jwt secret is required")
	}
	claims := TokenClaims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor,
			Issuer:    cfg.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	if cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{cfg.Audience}
	}
	signed, err := jwt.NewWithClaims(signingMethod, claims).SignedString([]byte(cfg.Secret))
	if err != nil {
		return "", fmt.Errorf("signing jwt: %w", err)
	}
	return signed, nil
}

func parseToken(cfg config.AuthConfig, raw string) (*TokenClaims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{signingMethod.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	claims := &TokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return []byte(cfg.Secret), nil
	}, opts...)
	if err != nil {
		return nil, err
	}
	if claims.TenantID <= 0 || claims.Subject == "" {
		return nil, errors.New("token lacks tenant_id or sub")
	}
	return claims, nil
}

func parseBearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, tok, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	tok = strings.TrimSpace(tok)
	return tok, tok != ""
}

// authenticate resolves the Principal from a bearer token, or from the dev
// headers when auth is disabled.
func (s *Server) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var p Principal
		if s.auth.Enabled() {
			tok, ok := parseBearerToken(r)
			if !ok {
				writeErr(w, http.StatusUnauthorized, "missing bearer token", "unauthorized")
				return
			}
			claims, err := parseToken(s.auth, tok)
			if err != nil {
				s.log.Debug("rejected token", "request_id", requestID(r), "err", err)
				writeErr(w, http.StatusUnauthorized, "invalid token", "unauthorized")
				return
			}
			p = Principal{TenantID: claims.TenantID, Actor: claims.Subject}
		} else {
			tenantID, err := strconv.ParseInt(r.Header.Get(headerTenant), 10, 64)
			if err != nil || tenantID <= 0 {
				writeErr(w, http.StatusUnauthorized, headerTenant+" header is required", "unauthorized")
				return
			}
			p = Principal{TenantID: tenantID, Actor: strings.TrimSpace(r.Header.Get(headerActor))}
			if p.Actor == "" {
				p.Actor = anonymousActor
			}
		}
		noteAccess(r, p)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKeyPrincipal, p)))
	})
}

func principal(r *http.Request) Principal {
	p, _ := r.Context().Value(ctxKeyPrincipal).(Principal)
	return p
}
