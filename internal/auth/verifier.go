// Package auth verifies the bearer credentials issued by the login service.
// Tokens are HS256 JWTs carrying userId, role and name claims.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/loksaikotini/EduCast/internal/models"
)

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrNoToken         = fmt.Errorf("%w: no token provided", ErrUnauthenticated)
	ErrTokenExpired    = fmt.Errorf("%w: token expired", ErrUnauthenticated)
	ErrTokenInvalid    = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
)

// Claims is the token body produced by the login service.
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	Name   string `json:"name"`
	jwt.RegisteredClaims
}

// Verifier checks tokens against a shared HMAC secret.
type Verifier struct {
	secret []byte
	now    func() time.Time
}

// NewVerifier returns a Verifier for the given secret.
func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret), now: time.Now}
}

// Verify validates token and returns the identity it carries. Every failure
// wraps ErrUnauthenticated; the specific sentinel says why.
func (v *Verifier) Verify(token string) (models.Identity, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return models.Identity{}, ErrNoToken
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return v.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithTimeFunc(v.now),
	)
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return models.Identity{}, ErrTokenExpired
	case err != nil:
		return models.Identity{}, ErrTokenInvalid
	}
	if claims.UserID == "" {
		return models.Identity{}, ErrTokenInvalid
	}
	return models.Identity{UserID: claims.UserID, Name: claims.Name, Role: claims.Role}, nil
}

// Issue signs a token for id that expires after ttl. The login service owns
// issuance in production; this exists for tooling and tests.
func (v *Verifier) Issue(id models.Identity, ttl time.Duration) (string, error) {
	now := v.now()
	claims := Claims{
		UserID: id.UserID,
		Role:   id.Role,
		Name:   id.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return s, nil
}

// Reason is the client-facing explanation of a verification failure. It
// never includes parser detail.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrNoToken):
		return "No token provided"
	case errors.Is(err, ErrTokenExpired):
		return "Token expired"
	default:
		return "Invalid token"
	}
}

// TokenFromRequest reads the bearer token from the Authorization header,
// falling back to the token query parameter used by browser WebSocket
// clients, which cannot set headers.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if rest, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(rest)
		}
		return ""
	}
	return r.URL.Query().Get("token")
}
