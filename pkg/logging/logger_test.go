package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"ab", "**"},
		{"abc", "***"},
		{"abcd", "abc*"},
		{"super-secret-key", "sup*************"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, MaskSecret(tt.in))
	}
}

func TestIsSensitiveKey(t *testing.T) {
	sensitive := []string{"api_key", "APISecret", "auth_token", "passphrase", "db_password", "aws_credential"}
	for _, key := range sensitive {
		assert.True(t, IsSensitiveKey(key), key)
	}

	benign := []string{"symbol", "price", "client_order_id", "reason"}
	for _, key := range benign {
		assert.False(t, IsSensitiveKey(key), key)
	}
}

func TestNewZapLoggerLevels(t *testing.T) {
	for _, level := range []string{"DEBUG", "info", "WARN", "ERROR", "unknown"} {
		logger, err := NewZapLogger(level)
		require.NoError(t, err)
		require.NotNil(t, logger)
	}
}

func TestWithFieldReturnsIndependentLogger(t *testing.T) {
	logger, err := NewZapLogger("INFO")
	require.NoError(t, err)

	child := logger.WithField("component", "test")
	require.NotNil(t, child)
	grandchild := child.WithFields(map[string]interface{}{"api_key": "super-secret"})
	require.NotNil(t, grandchild)

	// Logging through any of them must not panic
	logger.Info("parent")
	child.Info("child", "api_secret", "super-secret")
	grandchild.Warn("grandchild")
}

func TestGlobalLoggerIsInitialized(t *testing.T) {
	assert.NotNil(t, GetGlobalLogger())
}
