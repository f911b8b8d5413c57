// Package protocol holds the wire-level knowledge of the soil sensor family:
// GATT UUIDs, mode commands, product identifiers and payload layouts.
package protocol

import (
	"encoding/hex"
	"errors"
	"fmt"
)

// GATT and advertisement UUIDs.
const (
	VendorServiceUUID = "fe95"

	DataServiceUUID            = "0000120400001000800000805f9b34fb"
	ModeCharacteristicUUID     = "00001a0000001000800000805f9b34fb"
	DataCharacteristicUUID     = "00001a0100001000800000805f9b34fb"
	FirmwareCharacteristicUUID = "00001a0200001000800000805f9b34fb"
)

// ModeCommand is a 2-byte opcode written to the mode characteristic.
type ModeCommand [2]byte

var (
	ModeSerial          = ModeCommand{0xb0, 0xff}
	ModeRealtimeEnable  = ModeCommand{0xa0, 0x1f}
	ModeRealtimeDisable = ModeCommand{0xc0, 0x1f}

	// BlinkCommand flashes the status LED. The device does not echo it back.
	BlinkCommand = ModeCommand{0xfd, 0xff}
)

// Bytes returns the command as a fresh slice.
func (c ModeCommand) Bytes() []byte {
	return []byte{c[0], c[1]}
}

func (c ModeCommand) String() string {
	switch c {
	case ModeSerial:
		return "serial"
	case ModeRealtimeEnable:
		return "realtime-enable"
	case ModeRealtimeDisable:
		return "realtime-disable"
	case BlinkCommand:
		return "blink"
	default:
		return hex.EncodeToString(c[:])
	}
}

// DeviceType classifies a device by its advertised product identifier.
type DeviceType string

const (
	TypeMonitor DeviceType = "MiFloraMonitor"
	TypePot     DeviceType = "MiFloraPot"
	TypeUnknown DeviceType = "unknown"
)

const (
	ProductIDMonitor uint16 = 152
	ProductIDPot     uint16 = 349
)

// TypeForProductID maps a product identifier to a device type. Every value
// not listed maps to TypeUnknown.
func TypeForProductID(id uint16) DeviceType {
	switch id {
	case ProductIDMonitor:
		return TypeMonitor
	case ProductIDPot:
		return TypePot
	default:
		return TypeUnknown
	}
}

// ErrShortPayload is returned by decoders given fewer bytes than the layout needs.
var ErrShortPayload = errors.New("payload too short")

func needBytes(what string, data []byte, n int) error {
	if len(data) < n {
		return fmt.Errorf("%s: %w: need %d bytes, got %d", what, ErrShortPayload, n, len(data))
	}
	return nil
}
