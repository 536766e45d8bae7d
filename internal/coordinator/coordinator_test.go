package coordinator

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/DanrwAU/zenwifi/internal/zen"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func provisionedDevice(id, name string) zen.Device {
	return zen.Device{
		ID:            id,
		Name:          name,
		ProvisionDate: time.Date(2023, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func newTestCoordinator(client zen.ZenClient) *Coordinator {
	logger, _ := zap.NewDevelopment()
	return New(client, logger, time.Hour)
}

func TestCoordinator_Refresh_FiltersUnprovisionedSlots(t *testing.T) {
	mock := zen.NewMockClient()
	mock.SetDevices([]zen.Device{
		provisionedDevice("dev-1", "Hallway"),
		{ID: "slot-1", Name: "Empty slot"},
		provisionedDevice("dev-2", "Bedroom"),
		{ID: "slot-2", Name: "Empty slot"},
	})
	mock.SetDeviceStatus("dev-1", &zen.DeviceStatus{IsOnline: true, Mode: 0})
	mock.SetDeviceStatus("dev-2", &zen.DeviceStatus{IsOnline: true, Mode: 2})

	coord := newTestCoordinator(mock)
	require.NoError(t, coord.Refresh(context.Background()))

	data := coord.Data()
	assert.Len(t, data, 2)
	assert.Contains(t, data, "dev-1")
	assert.Contains(t, data, "dev-2")
	assert.NotContains(t, data, "slot-1")
	assert.NotContains(t, data, "slot-2")

	// Unprovisioned slots never get a status fetch either.
	assert.NotContains(t, mock.StatusCalls(), "slot-1")
	assert.NotContains(t, mock.StatusCalls(), "slot-2")
}

func TestCoordinator_Refresh_IsolatesStatusFailures(t *testing.T) {
	mock := zen.NewMockClient()
	mock.SetDevices([]zen.Device{
		provisionedDevice("dev-a", "A"),
		provisionedDevice("dev-b", "B"),
		provisionedDevice("dev-c", "C"),
	})
	mock.SetDeviceStatus("dev-a", &zen.DeviceStatus{IsOnline: true, CurrentTemperature: 21.0})
	mock.SetStatusError("dev-b", fmt.Errorf("%w: connection reset", zen.ErrCommunication))
	mock.SetDeviceStatus("dev-c", &zen.DeviceStatus{IsOnline: true, CurrentTemperature: 23.0})

	coord := newTestCoordinator(mock)
	require.NoError(t, coord.Refresh(context.Background()))

	assert.True(t, coord.LastUpdateSuccess())

	data := coord.Data()
	require.Len(t, data, 3)

	require.NotNil(t, data["dev-a"].Status)
	assert.Equal(t, 21.0, data["dev-a"].Status.CurrentTemperature)

	// B fell back to roster-only data.
	assert.Nil(t, data["dev-b"].Status)
	assert.Equal(t, "B", data["dev-b"].Name)
	assert.False(t, data["dev-b"].Online())

	require.NotNil(t, data["dev-c"].Status)
	assert.Equal(t, 23.0, data["dev-c"].Status.CurrentTemperature)
}

func TestCoordinator_Refresh_RosterFailures(t *testing.T) {
	t.Run("authentication failure flags re-auth and keeps snapshot", func(t *testing.T) {
		mock := zen.NewMockClient()
		mock.SetDevices([]zen.Device{provisionedDevice("dev-1", "Hallway")})
		mock.SetDeviceStatus("dev-1", &zen.DeviceStatus{IsOnline: true})

		coord := newTestCoordinator(mock)
		require.NoError(t, coord.Refresh(context.Background()))
		require.Len(t, coord.Data(), 1)

		mock.SetDevicesError(fmt.Errorf("%w: token rejected", zen.ErrAuthentication))

		err := coord.Refresh(context.Background())
		assert.Error(t, err)
		assert.True(t, coord.AuthRequired())
		assert.False(t, coord.LastUpdateSuccess())

		// Last-known-good snapshot survives the failed cycle.
		data := coord.Data()
		require.Len(t, data, 1)
		assert.Equal(t, "Hallway", data["dev-1"].Name)
	})

	t.Run("transient failure is not an auth condition", func(t *testing.T) {
		mock := zen.NewMockClient()
		mock.SetDevicesError(fmt.Errorf("%w: timeout", zen.ErrCommunication))

		coord := newTestCoordinator(mock)
		err := coord.Refresh(context.Background())
		assert.Error(t, err)
		assert.False(t, coord.AuthRequired())
		assert.False(t, coord.LastUpdateSuccess())
	})

	t.Run("success clears the auth condition", func(t *testing.T) {
		mock := zen.NewMockClient()
		mock.SetDevicesError(fmt.Errorf("%w: token rejected", zen.ErrAuthentication))

		coord := newTestCoordinator(mock)
		require.Error(t, coord.Refresh(context.Background()))
		require.True(t, coord.AuthRequired())

		mock.SetDevicesError(nil)
		mock.SetDevices([]zen.Device{provisionedDevice("dev-1", "Hallway")})
		mock.SetDeviceStatus("dev-1", &zen.DeviceStatus{IsOnline: true})

		require.NoError(t, coord.Refresh(context.Background()))
		assert.False(t, coord.AuthRequired())
		assert.True(t, coord.LastUpdateSuccess())
	})
}

func TestCoordinator_Refresh_RemovedDeviceDisappears(t *testing.T) {
	mock := zen.NewMockClient()
	mock.SetDevices([]zen.Device{
		provisionedDevice("dev-1", "Hallway"),
		provisionedDevice("dev-2", "Bedroom"),
	})
	mock.SetDeviceStatus("dev-1", &zen.DeviceStatus{IsOnline: true})
	mock.SetDeviceStatus("dev-2", &zen.DeviceStatus{IsOnline: true})

	coord := newTestCoordinator(mock)
	require.NoError(t, coord.Refresh(context.Background()))
	require.Len(t, coord.Data(), 2)

	mock.SetDevices([]zen.Device{provisionedDevice("dev-1", "Hallway")})
	require.NoError(t, coord.Refresh(context.Background()))

	data := coord.Data()
	assert.Len(t, data, 1)
	assert.NotContains(t, data, "dev-2")
}

func TestCoordinator_Subscribe(t *testing.T) {
	mock := zen.NewMockClient()
	mock.SetDevices([]zen.Device{provisionedDevice("dev-1", "Hallway")})
	mock.SetDeviceStatus("dev-1", &zen.DeviceStatus{IsOnline: true})

	coord := newTestCoordinator(mock)

	notified := 0
	coord.Subscribe(func() { notified++ })

	require.NoError(t, coord.Refresh(context.Background()))
	assert.Equal(t, 1, notified)

	// Failed cycles notify too, so consumers can mark themselves
	// unavailable.
	mock.SetDevicesError(fmt.Errorf("%w: timeout", zen.ErrCommunication))
	require.Error(t, coord.Refresh(context.Background()))
	assert.Equal(t, 2, notified)
}

func TestCoordinator_RequestRefresh_Coalesces(t *testing.T) {
	mock := zen.NewMockClient()

	entered := make(chan struct{}, 16)
	release := make(chan struct{})
	mock.GetDevicesFunc = func(ctx context.Context) ([]zen.Device, error) {
		entered <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
		}
		return nil, nil
	}

	coord := newTestCoordinator(mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go coord.Start(ctx)

	// First cycle starts immediately and blocks inside the roster fetch.
	<-entered

	// Both manual requests land while the cycle is in flight; they must
	// coalesce into at most one follow-up cycle.
	coord.RequestRefresh()
	coord.RequestRefresh()

	release <- struct{}{}

	select {
	case <-entered:
	case <-time.After(time.Second):
		t.Fatal("coalesced refresh cycle never started")
	}
	release <- struct{}{}

	// No third cycle: the two requests were folded into one.
	select {
	case <-entered:
		t.Fatal("manual refresh requests were not coalesced")
	case <-time.After(100 * time.Millisecond):
	}

	cancel()
	assert.Equal(t, 2, mock.DevicesCalls())
}
