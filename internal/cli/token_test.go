package cli

import (
	"testing"
	"time"

	"pump-control/internal/general/jwt"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateMonitorToken(t *testing.T) {
	token, claims, err := GenerateMonitorToken("secret", time.Hour, "oncall", "operator")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, "oncall", claims.Subject)
	assert.Equal(t, jwt.RoleOperator, claims.Role)

	mgr, err := jwt.NewManager("secret", time.Hour)
	require.NoError(t, err)
	_, parsed, err := mgr.ParseAndValidate(token)
	require.NoError(t, err)
	assert.Equal(t, "oncall", parsed.Subject)
}

func TestGenerateMonitorTokenErrors(t *testing.T) {
	_, _, err := GenerateMonitorToken("secret", time.Hour, "oncall", "ADMIN")
	assert.ErrorIs(t, err, jwt.ErrInvalidRole)

	_, _, err = GenerateMonitorToken("", time.Hour, "oncall", "VIEWER")
	assert.ErrorIs(t, err, jwt.ErrEmptySecret)
}
