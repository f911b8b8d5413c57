package protocol

import (
	"encoding/binary"

	"github.com/srg/miflora/internal/device"
)

// Layout of the fe95 service data entry.
const (
	productIDOffset = 2
	macOffset       = 5
	macLen          = 6
)

// Identity is the classification of one advertisement.
type Identity struct {
	// Address is the normalized MAC used as identity.
	Address string
	// PeripheralID is what the adapter reported and what it expects on Dial.
	PeripheralID string
	Name         string
	Type         DeviceType
	ProductID    uint16
	RSSI         int
}

// Resolve classifies adv. It returns false when adv carries no usable fe95
// entry, or when the product is unknown and keepUnknown is false.
//
// When the adapter reported no usable MAC (empty, all zeros, or an opaque
// platform identifier) the address is rebuilt from the six bytes at offset 5
// of the fe95 payload, which the device sends least significant byte first.
func Resolve(adv device.Advertisement, keepUnknown bool) (Identity, bool) {
	payload, ok := adv.FindServiceData(VendorServiceUUID)
	if !ok || len(payload) < productIDOffset+2 {
		return Identity{}, false
	}

	productID := binary.LittleEndian.Uint16(payload[productIDOffset:])
	typ := TypeForProductID(productID)
	if typ == TypeUnknown && !keepUnknown {
		return Identity{}, false
	}

	address, ok := resolveAddress(adv.Address, payload)
	if !ok {
		return Identity{}, false
	}

	peripheralID := adv.Address
	if peripheralID == "" {
		peripheralID = address
	}

	return Identity{
		Address:      address,
		PeripheralID: peripheralID,
		Name:         adv.LocalName,
		Type:         typ,
		ProductID:    productID,
		RSSI:         adv.RSSI,
	}, true
}

func resolveAddress(reported string, payload []byte) (string, bool) {
	if device.IsMAC(reported) {
		return device.NormalizeAddress(reported), true
	}

	if len(payload) >= macOffset+macLen {
		mac := make([]byte, macLen)
		for i := 0; i < macLen; i++ {
			mac[i] = payload[macOffset+macLen-1-i]
		}
		if addr, err := device.FormatMAC(mac); err == nil && device.IsMAC(addr) {
			return addr, true
		}
	}

	// Opaque platform identifiers are still stable per device.
	if reported != "" {
		return device.NormalizeAddress(reported), true
	}
	return "", false
}
