package coordinator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DanrwAU/zenwifi/internal/zen"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultInterval is the default polling cadence
const DefaultInterval = time.Minute

// statusFanout bounds how many per-device status fetches run concurrently
// within one cycle
const statusFanout = 4

// DeviceData is one device's merged record: the roster entry plus, when the
// status fetch succeeded this cycle, its live status. Status is nil when the
// device degraded to roster-only data.
type DeviceData struct {
	zen.Device
	Status *zen.DeviceStatus
}

// Online reports whether the device was reachable as of the last cycle
func (d DeviceData) Online() bool {
	return d.Status != nil && d.Status.IsOnline
}

// UpdateHandler is called after every completed refresh cycle
type UpdateHandler func()

// Coordinator drives the periodic refresh cycle against the Zen API and
// publishes an immutable snapshot of all provisioned devices. Cycles never
// overlap: a single loop goroutine runs them, and manual refresh requests
// coalesce through a capacity-1 trigger channel.
type Coordinator struct {
	client   zen.ZenClient
	logger   *zap.Logger
	interval time.Duration

	mu                sync.RWMutex
	data              map[string]DeviceData
	lastUpdateSuccess bool
	authRequired      bool

	subsMu      sync.Mutex
	subscribers []UpdateHandler

	refreshCh chan struct{}
}

// New creates a new coordinator. A non-positive interval falls back to
// DefaultInterval.
func New(client zen.ZenClient, logger *zap.Logger, interval time.Duration) *Coordinator {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Coordinator{
		client:    client,
		logger:    logger,
		interval:  interval,
		data:      make(map[string]DeviceData),
		refreshCh: make(chan struct{}, 1),
	}
}

// Start runs the refresh loop until ctx is cancelled. The first cycle runs
// immediately.
func (c *Coordinator) Start(ctx context.Context) {
	c.logger.Info("Starting refresh coordinator",
		zap.Duration("interval", c.interval))

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.runCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("Stopping refresh coordinator")
			return
		case <-ticker.C:
			c.runCycle(ctx)
		case <-c.refreshCh:
			c.runCycle(ctx)
		}
	}
}

// RequestRefresh asks for an out-of-band cycle. If a cycle is already
// running the request coalesces into at most one follow-up cycle.
func (c *Coordinator) RequestRefresh() {
	select {
	case c.refreshCh <- struct{}{}:
	default:
	}
}

func (c *Coordinator) runCycle(ctx context.Context) {
	if err := c.Refresh(ctx); err != nil {
		// Already classified and recorded; the next tick retries.
		c.logger.Warn("Refresh cycle failed", zap.Error(err))
	}
}

// Refresh runs one complete cycle: roster fetch, provisioned filter,
// per-device status fan-out, merge, snapshot publish. A roster failure
// aborts the cycle and keeps the previous snapshot; a status failure for one
// device degrades that device to roster-only data.
func (c *Coordinator) Refresh(ctx context.Context) error {
	devices, err := c.client.GetDevices(ctx)
	if err != nil {
		authFailed := errors.Is(err, zen.ErrAuthentication)

		c.mu.Lock()
		c.lastUpdateSuccess = false
		c.authRequired = authFailed
		c.mu.Unlock()

		c.notify()

		if authFailed {
			return fmt.Errorf("re-authentication required: %w", err)
		}
		return fmt.Errorf("fetching device roster: %w", err)
	}

	provisioned := make([]zen.Device, 0, len(devices))
	for _, device := range devices {
		if !device.Provisioned() {
			c.logger.Debug("Skipping unprovisioned device slot",
				zap.String("device_id", device.ID))
			continue
		}
		provisioned = append(provisioned, device)
	}

	statuses := make([]*zen.DeviceStatus, len(provisioned))

	var errsMu sync.Mutex
	var statusErrs error

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(statusFanout)
	for i, device := range provisioned {
		i, device := i, device
		group.Go(func() error {
			status, err := c.client.GetDeviceStatus(groupCtx, device.ID)
			if err != nil {
				// Isolated: the device keeps its roster entry, the cycle
				// keeps going.
				errsMu.Lock()
				statusErrs = multierr.Append(statusErrs,
					fmt.Errorf("device %s: %w", device.ID, err))
				errsMu.Unlock()
				return nil
			}
			statuses[i] = status
			return nil
		})
	}
	group.Wait()

	if statusErrs != nil {
		c.logger.Warn("Status fetch failed for some devices, keeping roster data",
			zap.Error(statusErrs))
	}

	data := make(map[string]DeviceData, len(provisioned))
	for i, device := range provisioned {
		data[device.ID] = DeviceData{
			Device: device,
			Status: statuses[i],
		}
	}

	c.mu.Lock()
	c.data = data
	c.lastUpdateSuccess = true
	c.authRequired = false
	c.mu.Unlock()

	c.logger.Info("Refresh cycle complete",
		zap.Int("roster", len(devices)),
		zap.Int("provisioned", len(provisioned)),
		zap.Int("degraded", len(provisioned)-countStatuses(statuses)))

	c.notify()
	return nil
}

func countStatuses(statuses []*zen.DeviceStatus) int {
	n := 0
	for _, s := range statuses {
		if s != nil {
			n++
		}
	}
	return n
}

// Data returns a copy of the current snapshot
func (c *Coordinator) Data() map[string]DeviceData {
	c.mu.RLock()
	defer c.mu.RUnlock()

	data := make(map[string]DeviceData, len(c.data))
	for id, device := range c.data {
		data[id] = device
	}
	return data
}

// Device returns one device's merged record from the current snapshot
func (c *Coordinator) Device(deviceID string) (DeviceData, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	device, ok := c.data[deviceID]
	return device, ok
}

// LastUpdateSuccess reports whether the most recent cycle succeeded
func (c *Coordinator) LastUpdateSuccess() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastUpdateSuccess
}

// AuthRequired reports whether the most recent cycle failed because the
// vendor no longer accepts our credentials
func (c *Coordinator) AuthRequired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authRequired
}

// Subscribe registers a handler invoked after every completed cycle
func (c *Coordinator) Subscribe(handler UpdateHandler) {
	c.subsMu.Lock()
	c.subscribers = append(c.subscribers, handler)
	c.subsMu.Unlock()
}

// notify invokes all subscribers
func (c *Coordinator) notify() {
	c.subsMu.Lock()
	handlers := append([]UpdateHandler(nil), c.subscribers...)
	c.subsMu.Unlock()

	for _, handler := range handlers {
		handler()
	}
}
