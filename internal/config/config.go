package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/DanrwAU/zenwifi/internal/zen"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Defaults applied when the options file is absent or partial
const (
	DefaultPollIntervalSeconds = 60
	DefaultAPIPort             = 8081
)

// Options holds the tunable settings from the optional config.yaml file.
// Credentials deliberately never live here; they come from the environment.
type Options struct {
	PollIntervalSeconds int    `yaml:"poll_interval_seconds"`
	APIPort             int    `yaml:"api_port"`
	BaseURL             string `yaml:"base_url"`
}

// PollInterval returns the polling cadence as a duration
func (o *Options) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalSeconds) * time.Second
}

// Load reads the options file at path. A missing file is not an error; the
// defaults are returned.
func Load(path string, logger *zap.Logger) (*Options, error) {
	options := &Options{
		PollIntervalSeconds: DefaultPollIntervalSeconds,
		APIPort:             DefaultAPIPort,
		BaseURL:             zen.DefaultBaseURL,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Debug("No options file found, using defaults",
				zap.String("path", path))
			return options, nil
		}
		return nil, fmt.Errorf("failed to read options file: %w", err)
	}

	if err := yaml.Unmarshal(data, options); err != nil {
		return nil, fmt.Errorf("failed to parse options file: %w", err)
	}

	if options.PollIntervalSeconds <= 0 {
		options.PollIntervalSeconds = DefaultPollIntervalSeconds
	}
	if options.APIPort <= 0 {
		options.APIPort = DefaultAPIPort
	}
	if options.BaseURL == "" {
		options.BaseURL = zen.DefaultBaseURL
	}

	logger.Info("Options loaded",
		zap.String("path", path),
		zap.Int("poll_interval_seconds", options.PollIntervalSeconds),
		zap.Int("api_port", options.APIPort))

	return options, nil
}

// Credentials holds the vendor account credentials
type Credentials struct {
	Username string
	Password string
}

// CredentialsFromEnv reads ZEN_USERNAME and ZEN_PASSWORD
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		Username: os.Getenv("ZEN_USERNAME"),
		Password: os.Getenv("ZEN_PASSWORD"),
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("ZEN_USERNAME and ZEN_PASSWORD environment variables must be set")
	}
	return creds, nil
}

// ValidateCredentials checks the configured account against the vendor by
// authenticating and resolving the account info, the same check the setup
// flow performs before accepting a credential set.
func ValidateCredentials(ctx context.Context, client zen.ZenClient, logger *zap.Logger) error {
	if err := client.Authenticate(ctx); err != nil {
		logValidationFailure(logger, err)
		return err
	}

	info, err := client.GetUserInfo(ctx)
	if err != nil {
		logValidationFailure(logger, err)
		return err
	}

	logger.Info("Credentials validated",
		zap.String("consumer_id", info.ConsumerID))
	return nil
}

func logValidationFailure(logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, zen.ErrAuthentication):
		logger.Error("Vendor rejected credentials, re-enter them", zap.Error(err))
	case errors.Is(err, zen.ErrCommunication):
		logger.Error("Cannot reach the vendor API", zap.Error(err))
	default:
		logger.Error("Unexpected error validating credentials", zap.Error(err))
	}
}
