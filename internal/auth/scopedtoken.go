package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MaxScopedTokenTTL bounds every issued token regardless of the caller's
// requested lifetime, the same cap the teacher's JWTManager enforces on
// IssueScopedToken.
const MaxScopedTokenTTL = time.Hour

// Scope names a narrow capability a scoped token grants. VERITAS has no
// multi-tenant agent/role model; the operator API key is the only
// long-lived credential, and scoped tokens exist solely to hand a
// caller (an internal tool, an operator's one-off script) time-boxed
// access to a subset of the surface without sharing that key.
type Scope string

const (
	ScopeDecide    Scope = "decide"     // POST /v1/decide
	ScopeGovern    Scope = "govern"     // /v1/governance/*
	ScopeMemory    Scope = "memory"     // /v1/memory/*
	ScopeTrustRead Scope = "trust:read" // /v1/trust/*
)

// ScopedClaims extends jwt.RegisteredClaims with the scopes a token
// grants. Unlike the teacher's Claims it carries no agent/org/role
// triple: VERITAS authenticates a single service principal (see
// Principal), so a scoped token only narrows what that principal may
// reach, it never impersonates a different identity.
type ScopedClaims struct {
	jwt.RegisteredClaims
	Scopes []Scope `json:"scopes"`
}

// HasScope reports whether claims grants want.
func (c ScopedClaims) HasScope(want Scope) bool {
	for _, s := range c.Scopes {
		if s == want {
			return true
		}
	}
	return false
}

// TokenIssuer signs and validates scoped tokens with HMAC-SHA256, keyed
// by the operator-configured VERITAS_API_SECRET (spec.md §6: "HMAC
// signing key; default empty and refused at use"). Unlike the teacher's
// Ed25519 JWTManager (which loads a long-lived PEM key pair), VERITAS
// has no key-file provisioning story, so the single shared secret that
// already gates the HTTP surface doubles as the token-signing key.
type TokenIssuer struct {
	secret []byte
}

// NewTokenIssuer builds a TokenIssuer around secret. secret may be
// empty — construction never fails, but Issue and Validate both refuse
// to operate until a non-empty VERITAS_API_SECRET is configured,
// matching the spec's "default empty and refused at use" contract.
func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret)}
}

// Issue mints a token granting scopes, for subject (an operator-chosen
// label identifying who the token was handed to), capped at
// MaxScopedTokenTTL. Returns an error if VERITAS_API_SECRET is unset.
func (ti *TokenIssuer) Issue(subject string, scopes []Scope, ttl time.Duration) (string, time.Time, error) {
	if len(ti.secret) == 0 {
		return "", time.Time{}, fmt.Errorf("auth: VERITAS_API_SECRET is not configured; refusing to issue scoped tokens")
	}
	if ttl <= 0 || ttl > MaxScopedTokenTTL {
		ttl = MaxScopedTokenTTL
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)

	claims := ScopedClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    "veritas",
			Audience:  jwt.ClaimStrings{"veritas"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Scopes: scopes,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ti.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign scoped token: %w", err)
	}
	return signed, exp, nil
}

// Validate parses and verifies a scoped token, rejecting anything not
// signed by this issuer's secret or outside its validity window.
// Returns an error if VERITAS_API_SECRET is unset.
func (ti *TokenIssuer) Validate(tokenStr string) (*ScopedClaims, error) {
	if len(ti.secret) == 0 {
		return nil, fmt.Errorf("auth: VERITAS_API_SECRET is not configured; refusing to validate scoped tokens")
	}
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&ScopedClaims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return ti.secret, nil
		},
		jwt.WithAudience("veritas"),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate scoped token: %w", err)
	}
	claims, ok := token.Claims.(*ScopedClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid scoped token claims")
	}
	return claims, nil
}
