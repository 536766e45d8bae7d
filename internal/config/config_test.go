package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/DanrwAU/zenwifi/internal/zen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeOptionsFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("missing file uses defaults", func(t *testing.T) {
		options, err := Load(filepath.Join(t.TempDir(), "config.yaml"), logger)
		require.NoError(t, err)

		assert.Equal(t, DefaultPollIntervalSeconds, options.PollIntervalSeconds)
		assert.Equal(t, DefaultAPIPort, options.APIPort)
		assert.Equal(t, zen.DefaultBaseURL, options.BaseURL)
		assert.Equal(t, time.Minute, options.PollInterval())
	})

	t.Run("full file", func(t *testing.T) {
		path := writeOptionsFile(t, `
poll_interval_seconds: 30
api_port: 9090
base_url: https://staging.example.com
`)

		options, err := Load(path, logger)
		require.NoError(t, err)

		assert.Equal(t, 30, options.PollIntervalSeconds)
		assert.Equal(t, 9090, options.APIPort)
		assert.Equal(t, "https://staging.example.com", options.BaseURL)
		assert.Equal(t, 30*time.Second, options.PollInterval())
	})

	t.Run("partial file keeps defaults for the rest", func(t *testing.T) {
		path := writeOptionsFile(t, "api_port: 9000\n")

		options, err := Load(path, logger)
		require.NoError(t, err)

		assert.Equal(t, 9000, options.APIPort)
		assert.Equal(t, DefaultPollIntervalSeconds, options.PollIntervalSeconds)
		assert.Equal(t, zen.DefaultBaseURL, options.BaseURL)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeOptionsFile(t, "poll_interval_seconds: [not a number\n")

		_, err := Load(path, logger)
		assert.Error(t, err)
	})
}

func TestCredentialsFromEnv(t *testing.T) {
	t.Run("both set", func(t *testing.T) {
		t.Setenv("ZEN_USERNAME", "user@example.com")
		t.Setenv("ZEN_PASSWORD", "hunter2")

		creds, err := CredentialsFromEnv()
		require.NoError(t, err)
		assert.Equal(t, "user@example.com", creds.Username)
		assert.Equal(t, "hunter2", creds.Password)
	})

	t.Run("missing password", func(t *testing.T) {
		t.Setenv("ZEN_USERNAME", "user@example.com")
		t.Setenv("ZEN_PASSWORD", "")

		_, err := CredentialsFromEnv()
		assert.Error(t, err)
	})
}

func TestValidateCredentials(t *testing.T) {
	logger, _ := zap.NewDevelopment()

	t.Run("valid", func(t *testing.T) {
		mock := zen.NewMockClient()
		assert.NoError(t, ValidateCredentials(context.Background(), mock, logger))
	})

	t.Run("rejected", func(t *testing.T) {
		mock := zen.NewMockClient()
		mock.SetAuthError(fmt.Errorf("%w: invalid credentials", zen.ErrAuthentication))

		err := ValidateCredentials(context.Background(), mock, logger)
		assert.ErrorIs(t, err, zen.ErrAuthentication)
	})

	t.Run("unreachable", func(t *testing.T) {
		mock := zen.NewMockClient()
		mock.SetAuthError(fmt.Errorf("%w: dial tcp: timeout", zen.ErrCommunication))

		err := ValidateCredentials(context.Background(), mock, logger)
		assert.ErrorIs(t, err, zen.ErrCommunication)
	})
}
