package goble

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/groutine"
)

// Central is the subset of ble.Device the adapter drives.
type Central interface {
	Scan(ctx context.Context, allowDup bool, h ble.AdvHandler) error
	Dial(ctx context.Context, a ble.Addr) (ble.Client, error)
	Stop() error
}

// DeviceFactory creates the platform radio (can be overridden in tests)
//
//nolint:revive // DeviceFactory name is intentional for test mocking
var DeviceFactory = newPlatformDevice

// BringUpRetryInterval is how long Open waits between attempts to power up
// the radio.
var BringUpRetryInterval = time.Second

// Adapter implements device.Adapter on top of go-ble.
type Adapter struct {
	logger *logrus.Logger

	mu        sync.RWMutex
	central   Central
	state     device.AdapterState
	poweredOn chan struct{}
	onceOn    sync.Once
	stop      context.CancelFunc
}

var _ device.Adapter = (*Adapter)(nil)

// NewAdapter creates an adapter in the unknown state. Call Open to bring the
// radio up.
func NewAdapter(logger *logrus.Logger) *Adapter {
	if logger == nil {
		logger = logrus.New()
	}
	return &Adapter{
		logger:    logger,
		state:     device.StateUnknown,
		poweredOn: make(chan struct{}),
	}
}

// Open starts bringing the radio up in the background. The adapter retries
// until the platform reports it powered on or ctx is done; PoweredOn is
// closed on success.
func (a *Adapter) Open(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)

	a.mu.Lock()
	if a.stop != nil {
		a.mu.Unlock()
		cancel()
		return
	}
	a.stop = cancel
	a.mu.Unlock()

	groutine.Go(ctx, "ble-adapter-bringup", func(ctx context.Context) {
		for attempt := 1; ; attempt++ {
			central, err := DeviceFactory()
			if err == nil {
				a.mu.Lock()
				a.central = central
				a.state = device.StatePoweredOn
				a.mu.Unlock()
				a.onceOn.Do(func() { close(a.poweredOn) })
				a.logger.WithField("attempts", attempt).Info("BLE adapter powered on")
				return
			}

			err = NormalizeError(err)
			next := device.StateUnsupported
			if errors.Is(err, device.ErrBluetoothOff) {
				next = device.StatePoweredOff
			}
			a.setState(next)

			a.logger.WithFields(logrus.Fields{
				"attempt": attempt,
				"state":   next,
				"error":   err,
			}).Debug("BLE adapter not ready, retrying")

			select {
			case <-ctx.Done():
				return
			case <-time.After(BringUpRetryInterval):
			}
		}
	})
}

// Close stops the bring-up loop and releases the radio.
func (a *Adapter) Close() error {
	a.mu.Lock()
	stop, central := a.stop, a.central
	a.stop, a.central = nil, nil
	a.state = device.StateUnknown
	a.mu.Unlock()

	if stop != nil {
		stop()
	}
	if central == nil {
		return nil
	}
	return adapterError("stop", "", central.Stop())
}

func (a *Adapter) State() device.AdapterState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state
}

func (a *Adapter) PoweredOn() <-chan struct{} {
	return a.poweredOn
}

func (a *Adapter) setState(s device.AdapterState) {
	a.mu.Lock()
	a.state = s
	a.mu.Unlock()
}

func (a *Adapter) radio(op string) (Central, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.central == nil {
		return nil, &device.AdapterError{Op: op, Err: fmt.Errorf("%w: adapter is %s", device.ErrNotInitialized, a.state)}
	}
	return a.central, nil
}

// Scan runs a scan until ctx is done. Only advertisements carrying one of
// services are delivered, one at a time, in arrival order. A scan ended by
// ctx returns ctx's error unwrapped.
func (a *Adapter) Scan(ctx context.Context, services []string, allowDuplicates bool, handler func(device.Advertisement)) error {
	central, err := a.radio("scan")
	if err != nil {
		return err
	}

	wanted := device.NormalizeUUIDs(services)
	var handlerMu sync.Mutex

	a.logger.WithFields(logrus.Fields{
		"services":         wanted,
		"allow_duplicates": allowDuplicates,
	}).Debug("Starting adapter scan")

	err = central.Scan(ctx, allowDuplicates, func(raw ble.Advertisement) {
		adv := convertAdvertisement(raw)
		if !advertises(adv, wanted) {
			return
		}
		handlerMu.Lock()
		defer handlerMu.Unlock()
		handler(adv)
	})

	if ctxErr := ctx.Err(); ctxErr != nil && (err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return ctxErr
	}
	return adapterError("scan", "", err)
}

// Dial connects to the peripheral identified by id as reported in an
// advertisement. The identifier is passed to go-ble untouched since on macOS
// it is a CoreBluetooth UUID rather than a MAC.
func (a *Adapter) Dial(ctx context.Context, id string) (device.Peripheral, error) {
	central, err := a.radio("connect")
	if err != nil {
		return nil, err
	}

	a.logger.WithField("address", id).Debug("Dialing BLE device...")
	client, err := central.Dial(ctx, ble.NewAddr(id))
	if err != nil {
		return nil, adapterError("connect", id, err)
	}

	a.logger.WithField("address", id).Info("BLE device connected")
	return newConnection(id, client, a.logger), nil
}
