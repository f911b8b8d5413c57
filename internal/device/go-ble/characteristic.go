package goble

import (
	"context"

	"github.com/go-ble/ble"
	"github.com/srg/miflora/internal/device"
)

// BLECharacteristic is a characteristic handle resolved on a live go-ble link.
// go-ble calls are not context-aware; callers bound them with deadline.Race.
type BLECharacteristic struct {
	uuid    string
	address string
	char    *ble.Characteristic
	client  GATTClient
}

func newCharacteristic(c *ble.Characteristic, client GATTClient, address string) *BLECharacteristic {
	return &BLECharacteristic{
		uuid:    device.NormalizeUUID(c.UUID.String()),
		address: address,
		char:    c,
		client:  client,
	}
}

func (c *BLECharacteristic) UUID() string {
	return c.uuid
}

// Read issues a GATT read and returns the raw value.
func (c *BLECharacteristic) Read(ctx context.Context) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := c.client.ReadCharacteristic(c.char)
	if err != nil {
		return nil, adapterError("read", c.address, err)
	}
	return data, nil
}

// Write issues a GATT write of exactly data.
func (c *BLECharacteristic) Write(ctx context.Context, data []byte, withoutResponse bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return adapterError("write", c.address, c.client.WriteCharacteristic(c.char, data, withoutResponse))
}
