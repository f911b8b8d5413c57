package goble

import (
	"context"
	"fmt"
	"sync"

	"github.com/go-ble/ble"
	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/groutine"
)

// GATTClient is the subset of ble.Client used on a live link.
type GATTClient interface {
	DiscoverServices(filter []ble.UUID) ([]*ble.Service, error)
	DiscoverCharacteristics(filter []ble.UUID, s *ble.Service) ([]*ble.Characteristic, error)
	ReadCharacteristic(c *ble.Characteristic) ([]byte, error)
	WriteCharacteristic(c *ble.Characteristic, value []byte, noRsp bool) error
	CancelConnection() error
}

// BLEConnection is a live link to one peripheral.
type BLEConnection struct {
	address string
	client  GATTClient
	logger  *logrus.Logger

	connMutex sync.Mutex
	closed    bool
	done      chan struct{}
	closeOnce sync.Once
}

func newConnection(address string, client GATTClient, logger *logrus.Logger) *BLEConnection {
	c := &BLEConnection{
		address: address,
		client:  client,
		logger:  logger,
		done:    make(chan struct{}),
	}

	// CoreBluetooth and the Linux HCI stack both expose link loss through
	// Disconnected(); older clients may not, in which case only an explicit
	// Disconnect closes done.
	if watcher, ok := client.(interface{ Disconnected() <-chan struct{} }); ok {
		groutine.Go(context.Background(), "ble-link-monitor:"+address, func(ctx context.Context) {
			select {
			case <-watcher.Disconnected():
				c.logger.WithFields(logrus.Fields{
					"address":   address,
					"goroutine": groutine.Name(ctx),
				}).Debug("Adapter reported link down")
				c.markClosed()
			case <-c.done:
			}
		})
	} else {
		c.logger.WithField("address", address).Debug("Client does not expose Disconnected(), relying on explicit disconnect")
	}
	return c
}

func (c *BLEConnection) Address() string {
	return c.address
}

func (c *BLEConnection) Disconnected() <-chan struct{} {
	return c.done
}

// DiscoverCharacteristics resolves characteristic within service. It returns
// NotFoundError when the service itself is absent and an empty slice when the
// service exists but carries no such characteristic.
func (c *BLEConnection) DiscoverCharacteristics(ctx context.Context, service, characteristic string) ([]device.Characteristic, error) {
	svcUUID, err := ble.Parse(service)
	if err != nil {
		return nil, fmt.Errorf("invalid service UUID %q: %w", service, err)
	}
	charUUID, err := ble.Parse(characteristic)
	if err != nil {
		return nil, fmt.Errorf("invalid characteristic UUID %q: %w", characteristic, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	services, err := c.client.DiscoverServices([]ble.UUID{svcUUID})
	if err != nil {
		return nil, adapterError("discover", c.address, err)
	}

	var svc *ble.Service
	for _, s := range services {
		if device.SameUUID(s.UUID.String(), service) {
			svc = s
			break
		}
	}
	if svc == nil {
		return nil, &device.NotFoundError{Resource: "service", UUIDs: []string{device.NormalizeUUID(service)}}
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	chars, err := c.client.DiscoverCharacteristics([]ble.UUID{charUUID}, svc)
	if err != nil {
		return nil, adapterError("discover", c.address, err)
	}

	// Some stacks ignore the filter; keep only exact matches.
	result := make([]device.Characteristic, 0, 1)
	for _, ch := range chars {
		if device.SameUUID(ch.UUID.String(), characteristic) {
			result = append(result, newCharacteristic(ch, c.client, c.address))
		}
	}

	c.logger.WithFields(logrus.Fields{
		"address":        c.address,
		"service":        device.NormalizeUUID(service),
		"characteristic": device.NormalizeUUID(characteristic),
		"matches":        len(result),
	}).Debug("Characteristic discovery finished")

	return result, nil
}

// Disconnect cancels the link. Calling it on a closed link is a no-op.
func (c *BLEConnection) Disconnect(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.connMutex.Lock()
	if c.closed {
		c.connMutex.Unlock()
		return nil
	}
	c.closed = true
	c.connMutex.Unlock()

	err := c.client.CancelConnection()
	c.markClosed()
	if err != nil {
		c.logger.WithFields(logrus.Fields{
			"address": c.address,
			"error":   err,
		}).Warn("BLE device disconnected with errors")
		return adapterError("disconnect", c.address, err)
	}

	c.logger.WithField("address", c.address).Debug("BLE link cancelled")
	return nil
}

func (c *BLEConnection) markClosed() {
	c.closeOnce.Do(func() {
		c.connMutex.Lock()
		c.closed = true
		c.connMutex.Unlock()
		close(c.done)
	})
}
