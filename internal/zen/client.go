package zen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultBaseURL is the vendor cloud host
const DefaultBaseURL = "https://wifi.zenhq.com"

// requestTimeout bounds every request to the vendor API
const requestTimeout = 10 * time.Second

// ZenClient defines the interface for the Zen cloud API client
type ZenClient interface {
	Authenticate(ctx context.Context) error
	GetUserInfo(ctx context.Context) (*UserInfo, error)
	GetDevices(ctx context.Context) ([]Device, error)
	GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error)
	SetMode(ctx context.Context, deviceID, mode string, setpoint *float64) error
}

// Client implements ZenClient against the Zen cloud API. It owns the
// access/refresh token pair and the resolved consumer ID for one credential
// set; all token mutation is serialized through authMu.
type Client struct {
	baseURL  string
	username string
	password string
	logger   *zap.Logger
	http     *http.Client

	authMu       sync.Mutex
	accessToken  string
	refreshToken string
	consumerID   string
}

// NewClient creates a new Zen API client. Pass DefaultBaseURL outside of
// tests.
func NewClient(baseURL, username, password string, logger *zap.Logger) *Client {
	return &Client{
		baseURL:  strings.TrimSuffix(baseURL, "/"),
		username: username,
		password: password,
		logger:   logger,
		http: &http.Client{
			Timeout: requestTimeout,
		},
	}
}

// Authenticate exchanges the username/password for a token pair
func (c *Client) Authenticate(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.authenticateLocked(ctx)
}

// RefreshTokens exchanges the held refresh token for a new token pair
func (c *Client) RefreshTokens(ctx context.Context) error {
	c.authMu.Lock()
	defer c.authMu.Unlock()
	return c.refreshLocked(ctx)
}

// authenticateLocked performs the password grant. Caller must hold authMu.
func (c *Client) authenticateLocked(ctx context.Context) error {
	form := url.Values{}
	form.Set("grant_type", "password")
	form.Set("username", c.username)
	form.Set("password", c.password)

	if err := c.tokenGrant(ctx, form); err != nil {
		return err
	}

	c.logger.Debug("Authenticated with Zen API", zap.String("username", c.username))
	return nil
}

// refreshLocked performs the refresh grant. Caller must hold authMu.
func (c *Client) refreshLocked(ctx context.Context) error {
	if c.refreshToken == "" {
		return fmt.Errorf("%w: no refresh token available", ErrAuthentication)
	}

	form := url.Values{}
	form.Set("grant_type", "refresh_token")
	form.Set("refresh_token", c.refreshToken)

	if err := c.tokenGrant(ctx, form); err != nil {
		// A rejected refresh token invalidates the whole token state so the
		// next operation re-authenticates from credentials.
		c.accessToken = ""
		c.refreshToken = ""
		return err
	}

	c.logger.Debug("Refreshed Zen API tokens")
	return nil
}

// tokenGrant posts a form-encoded grant to the token endpoint and stores the
// resulting token pair. Caller must hold authMu.
func (c *Client) tokenGrant(ctx context.Context, form url.Values) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/api/token", strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("%w: building token request: %w", ErrAPI, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: token request rejected (status %d)", ErrAuthentication, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: token request returned status %d", ErrAPI, resp.StatusCode)
	}

	var tokens tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tokens); err != nil {
		return fmt.Errorf("%w: decoding token response: %w", ErrAPI, err)
	}
	if tokens.AccessToken == "" {
		return fmt.Errorf("%w: token response contained no access token", ErrAPI)
	}

	c.accessToken = tokens.AccessToken
	c.refreshToken = tokens.RefreshToken
	return nil
}

// currentToken returns the held access token, authenticating first if none
// is held yet.
func (c *Client) currentToken(ctx context.Context) (string, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.accessToken == "" {
		if err := c.authenticateLocked(ctx); err != nil {
			return "", err
		}
	}
	return c.accessToken, nil
}

// refreshAfterUnauthorized rotates the token pair after an unauthorized
// response. If another caller already rotated the pair while this one was in
// flight, the fresh token is reused instead of spending the refresh token
// again.
func (c *Client) refreshAfterUnauthorized(ctx context.Context, stale string) (string, error) {
	c.authMu.Lock()
	defer c.authMu.Unlock()

	if c.accessToken != "" && c.accessToken != stale {
		return c.accessToken, nil
	}
	if err := c.refreshLocked(ctx); err != nil {
		return "", err
	}
	return c.accessToken, nil
}

// doRequest issues an authenticated request. On a 401 it refreshes the token
// pair once and retries; a second unauthorized response is surfaced as
// ErrAuthentication. A successful response with a non-JSON content type is
// an empty success (the vendor returns empty bodies for some writes).
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (json.RawMessage, error) {
	token, err := c.currentToken(ctx)
	if err != nil {
		return nil, err
	}

	resp, err := c.send(ctx, method, path, body, token)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		resp.Body.Close()

		token, err = c.refreshAfterUnauthorized(ctx, token)
		if err != nil {
			return nil, err
		}

		c.logger.Debug("Retrying request with refreshed token",
			zap.String("path", path))

		resp, err = c.send(ctx, method, path, body, token)
		if err != nil {
			return nil, err
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, fmt.Errorf("%w: %s %s unauthorized (status %d)",
			ErrAuthentication, method, path, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: %s %s returned status %d",
			ErrAPI, method, path, resp.StatusCode)
	}

	if !strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		c.logger.Debug("Non-JSON response treated as empty success",
			zap.String("path", path),
			zap.String("content_type", resp.Header.Get("Content-Type")))
		io.Copy(io.Discard, resp.Body)
		return nil, nil
	}

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: reading response body: %v", ErrCommunication, err)
	}
	return raw, nil
}

// send builds and issues one HTTP request with the given bearer token
func (c *Client) send(ctx context.Context, method, path string, body interface{}, token string) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("%w: encoding request body: %w", ErrAPI, err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("%w: building request: %w", ErrAPI, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCommunication, err)
	}
	return resp, nil
}

// GetUserInfo fetches account information and caches the consumer ID
func (c *Client) GetUserInfo(ctx context.Context) (*UserInfo, error) {
	raw, err := c.doRequest(ctx, http.MethodGet, "/api/v1/account/userinfo", nil)
	if err != nil {
		return nil, err
	}

	var info UserInfo
	if err := json.Unmarshal(raw, &info); err != nil {
		return nil, fmt.Errorf("%w: decoding user info: %w", ErrAPI, err)
	}

	c.authMu.Lock()
	c.consumerID = info.ConsumerID
	c.authMu.Unlock()

	c.logger.Debug("Resolved consumer ID", zap.String("consumer_id", info.ConsumerID))
	return &info, nil
}

// GetDevices fetches the device roster for the account, resolving the
// consumer ID first if it has not been resolved yet.
func (c *Client) GetDevices(ctx context.Context) ([]Device, error) {
	c.authMu.Lock()
	consumerID := c.consumerID
	c.authMu.Unlock()

	if consumerID == "" {
		info, err := c.GetUserInfo(ctx)
		if err != nil {
			return nil, err
		}
		consumerID = info.ConsumerID
	}

	path := "/api/v1/consumer/device/getall?consumerId=" + url.QueryEscape(consumerID)
	raw, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	var reply devicesResponse
	if err := json.Unmarshal(raw, &reply); err != nil {
		return nil, fmt.Errorf("%w: decoding device roster: %w", ErrAPI, err)
	}
	return reply.Devices, nil
}

// GetDeviceStatus fetches live status for one device
func (c *Client) GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	path := "/api/v1/device/status?deviceId=" + url.QueryEscape(deviceID)
	raw, err := c.doRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return &DeviceStatus{}, nil
	}

	var status DeviceStatus
	if err := json.Unmarshal(raw, &status); err != nil {
		return nil, fmt.Errorf("%w: decoding device status: %w", ErrAPI, err)
	}
	return &status, nil
}

// SetMode issues a mode-change command, optionally with a setpoint. The
// setpoint is only attached when the mode is not off.
func (c *Client) SetMode(ctx context.Context, deviceID, mode string, setpoint *float64) error {
	endpoint, ok := modeEndpoints[mode]
	if !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	body := map[string]interface{}{"deviceid": deviceID}
	if mode != ModeOff && setpoint != nil {
		body["setpoint"] = *setpoint
	}

	c.logger.Info("Sending mode command",
		zap.String("device_id", deviceID),
		zap.String("mode", mode),
		zap.Bool("has_setpoint", mode != ModeOff && setpoint != nil))

	_, err := c.doRequest(ctx, http.MethodPost, endpoint, body)
	return err
}
