// Package auth verifies the identity a connecting client claims.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// CookieName is the cookie the social application stores its session token in.
const CookieName = "jwt"

// Claims is the token body issued by the social application.
type Claims struct {
	UserID string `json:"userId"`
	jwt.RegisteredClaims
}

// Verifier checks HS256 tokens. With no secret configured it trusts the
// identity the client announces.
type Verifier struct {
	secret   []byte
	required bool
}

// NewVerifier builds a verifier. required makes a token mandatory on every
// handshake; it needs a secret.
func NewVerifier(secret string, required bool) *Verifier {
	return &Verifier{secret: []byte(secret), required: required}
}

// Enabled reports whether tokens are checked at all.
func (v *Verifier) Enabled() bool {
	return v != nil && len(v.secret) > 0
}

// Authenticate extracts and verifies the request token. It returns the
// verified user ID, or "" when no token was presented and none is required.
func (v *Verifier) Authenticate(r *http.Request) (string, error) {
	if !v.Enabled() {
		return "", nil
	}

	token := TokenFromRequest(r)
	if token == "" {
		if v.required {
			return "", ErrMissingToken
		}
		return "", nil
	}
	return v.Validate(token)
}

// Validate parses token and returns its userId claim.
func (v *Verifier) Validate(token string) (string, error) {
	if !v.Enabled() {
		return "", ErrAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", fmt.Errorf("%w: expired", ErrInvalidToken)
		}
		return "", ErrInvalidToken
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return "", ErrInvalidToken
	}

	userID := strings.TrimSpace(claims.UserID)
	if userID == "" {
		userID = strings.TrimSpace(claims.Subject)
	}
	if userID == "" {
		return "", ErrInvalidToken
	}
	return userID, nil
}

// Issue signs a token for userID. A non-positive ttl issues a token that
// never expires.
func (v *Verifier) Issue(userID string, ttl time.Duration) (string, error) {
	if !v.Enabled() {
		return "", ErrAuthDisabled
	}
	if strings.TrimSpace(userID) == "" {
		return "", errors.New("user id required")
	}

	now := time.Now()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(ttl))
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// TokenFromRequest looks for a token in the "token" query parameter, the
// Authorization bearer header and the jwt cookie, in that order.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.URL.Query().Get("token")); token != "" {
		return token
	}
	if header := r.Header.Get("Authorization"); header != "" {
		if scheme, token, ok := strings.Cut(header, " "); ok && strings.EqualFold(scheme, "Bearer") {
			return strings.TrimSpace(token)
		}
	}
	if cookie, err := r.Cookie(CookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}
	return ""
}
