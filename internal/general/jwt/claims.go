package jwt

import (
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
)

// Role gates access to the exchange monitor.
type Role string

const (
	RoleOperator Role = "OPERATOR" // live feed and recent exchanges
	RoleViewer   Role = "VIEWER"   // recent exchanges only
)

// ParseRole normalizes and validates a role string.
func ParseRole(in string) (Role, error) {
	role := Role(strings.ToUpper(strings.TrimSpace(in)))
	if !role.Valid() {
		return "", ErrInvalidRole
	}
	return role, nil
}

func (r Role) Valid() bool {
	return r == RoleOperator || r == RoleViewer
}

// Claims defines our canonical JWT claims payload.
type Claims struct {
	Role Role `json:"role"`
	jwtlib.RegisteredClaims
}

var _ jwtlib.Claims = (*Claims)(nil)

// NewClaims constructs monitor claims for subject.
func NewClaims(subject string, role Role, ttl time.Duration, now time.Time) *Claims {
	now = now.UTC()
	return &Claims{
		Role: role,
		RegisteredClaims: jwtlib.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   subject,
			ExpiresAt: jwtlib.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwtlib.NewNumericDate(now),
		},
	}
}
