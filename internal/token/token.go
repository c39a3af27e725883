// Package token issues and verifies the stateless session tokens presented by
// the web client. The wire format is the same three-segment base64url HMAC
// token the service has always used (it is a standard HS256 JWT), but the
// verified payload is a typed claims struct rather than a loose map.
package token

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"tutelliv/internal/domain"
)

// ErrUnauthenticated wraps every verification failure: bad signature,
// malformed token, or expiry.
var ErrUnauthenticated = errors.New("unauthenticated")

// DefaultTTL matches the original 24h session lifetime.
const DefaultTTL = 24 * time.Hour

// Claims is the verified token payload.
type Claims struct {
	UserID    int
	Email     string
	Role      string
	Name      string
	IssuedAt  time.Time
	ExpiresAt time.Time
}

type wireClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email,omitempty"`
	Role  string `json:"role,omitempty"`
	Name  string `json:"name,omitempty"`
}

// Service signs and verifies session tokens with a shared secret.
type Service struct {
	Secret []byte
	TTL    time.Duration
	Now    func() time.Time
}

func (s Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s Service) ttl() time.Duration {
	if s.TTL > 0 {
		return s.TTL
	}
	return DefaultTTL
}

// Issue returns a signed token for the user.
func (s Service) Issue(u domain.User) (string, error) {
	if len(s.Secret) == 0 {
		return "", errors.New("token secret not configured")
	}
	now := s.now().UTC()
	claims := wireClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(u.ID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl())),
		},
		Email: u.Email,
		Role:  u.Role,
		Name:  u.Name,
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.Secret)
}

// Verify parses and validates a token, returning its typed claims.
func (s Service) Verify(raw string) (Claims, error) {
	if len(s.Secret) == 0 {
		return Claims{}, errors.New("token secret not configured")
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
	)
	claims := &wireClaims{}
	parsed, err := parser.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.Secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrUnauthenticated, err)
	}
	if !parsed.Valid {
		return Claims{}, fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%w: subject claim required", ErrUnauthenticated)
	}
	userID, err := strconv.Atoi(claims.Subject)
	if err != nil {
		return Claims{}, fmt.Errorf("%w: malformed subject", ErrUnauthenticated)
	}
	out := Claims{
		UserID: userID,
		Email:  claims.Email,
		Role:   claims.Role,
		Name:   claims.Name,
	}
	if claims.IssuedAt != nil {
		out.IssuedAt = claims.IssuedAt.Time
	}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Time
	}
	return out, nil
}
