package cli

import (
	"fmt"
	"time"

	"pump-control/internal/general/jwt"
)

// GenerateMonitorToken mints a token for the exchange monitor.
//
// Typical use (ops only):
//
//	token, _, err := cli.GenerateMonitorToken(secret, 2*time.Hour, "oncall", "OPERATOR")
func GenerateMonitorToken(secret string, ttl time.Duration, subject, roleStr string) (string, jwt.Claims, error) {
	role, err := jwt.ParseRole(roleStr)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("invalid role %q: %w", roleStr, err)
	}

	mgr, err := jwt.NewManager(secret, ttl)
	if err != nil {
		return "", jwt.Claims{}, err
	}

	token, claims, err := mgr.IssueToken(subject, role)
	if err != nil {
		return "", jwt.Claims{}, fmt.Errorf("issue token: %w", err)
	}

	return token, *claims, nil
}
