package zen

import (
	"context"
	"fmt"
	"sync"
)

// MockClient implements ZenClient for testing
type MockClient struct {
	mu sync.Mutex

	userInfo   UserInfo
	devices    []Device
	statuses   map[string]*DeviceStatus
	statusErrs map[string]error

	authErr    error
	devicesErr error
	modeErr    error

	// GetDevicesFunc, when set, replaces the canned GetDevices behaviour
	GetDevicesFunc func(ctx context.Context) ([]Device, error)

	authCalls    int
	devicesCalls int
	statusCalls  []string
	modeCalls    []ModeCall
}

// ModeCall records a SetMode invocation
type ModeCall struct {
	DeviceID string
	Mode     string
	Setpoint *float64
}

// NewMockClient creates a new mock Zen client
func NewMockClient() *MockClient {
	return &MockClient{
		userInfo:   UserInfo{ConsumerID: "mock-consumer"},
		statuses:   make(map[string]*DeviceStatus),
		statusErrs: make(map[string]error),
	}
}

// SetDevices sets the canned device roster
func (m *MockClient) SetDevices(devices []Device) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devices = devices
}

// SetDevicesError makes GetDevices fail with err
func (m *MockClient) SetDevicesError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.devicesErr = err
}

// SetDeviceStatus sets the canned status for one device
func (m *MockClient) SetDeviceStatus(deviceID string, status *DeviceStatus) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[deviceID] = status
}

// SetStatusError makes GetDeviceStatus fail for one device
func (m *MockClient) SetStatusError(deviceID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusErrs[deviceID] = err
}

// SetAuthError makes Authenticate fail with err
func (m *MockClient) SetAuthError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authErr = err
}

// SetModeError makes SetMode fail with err after recording the call
func (m *MockClient) SetModeError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modeErr = err
}

// Authenticate simulates a password grant
func (m *MockClient) Authenticate(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.authCalls++
	return m.authErr
}

// GetUserInfo returns the canned user info
func (m *MockClient) GetUserInfo(ctx context.Context) (*UserInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.authErr != nil {
		return nil, m.authErr
	}
	info := m.userInfo
	return &info, nil
}

// GetDevices returns the canned roster
func (m *MockClient) GetDevices(ctx context.Context) ([]Device, error) {
	m.mu.Lock()
	m.devicesCalls++
	hook := m.GetDevicesFunc
	err := m.devicesErr
	devices := append([]Device(nil), m.devices...)
	m.mu.Unlock()

	if hook != nil {
		return hook(ctx)
	}
	if err != nil {
		return nil, err
	}
	return devices, nil
}

// GetDeviceStatus returns the canned status for a device
func (m *MockClient) GetDeviceStatus(ctx context.Context, deviceID string) (*DeviceStatus, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statusCalls = append(m.statusCalls, deviceID)

	if err, ok := m.statusErrs[deviceID]; ok {
		return nil, err
	}
	status, ok := m.statuses[deviceID]
	if !ok {
		return nil, fmt.Errorf("%w: no status for device %s", ErrAPI, deviceID)
	}
	copied := *status
	return &copied, nil
}

// SetMode records a mode command, validating the mode like the real client
func (m *MockClient) SetMode(ctx context.Context, deviceID, mode string, setpoint *float64) error {
	if _, ok := modeEndpoints[mode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidMode, mode)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.modeCalls = append(m.modeCalls, ModeCall{
		DeviceID: deviceID,
		Mode:     mode,
		Setpoint: setpoint,
	})
	return m.modeErr
}

// ModeCalls returns all recorded mode commands
func (m *MockClient) ModeCalls() []ModeCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]ModeCall, len(m.modeCalls))
	copy(calls, m.modeCalls)
	return calls
}

// DevicesCalls returns how many times GetDevices was invoked
func (m *MockClient) DevicesCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.devicesCalls
}

// StatusCalls returns the device IDs whose status was fetched, in order
func (m *MockClient) StatusCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	calls := make([]string, len(m.statusCalls))
	copy(calls, m.statusCalls)
	return calls
}
