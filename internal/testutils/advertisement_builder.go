//go:build test

package testutils

import (
	"strconv"
	"strings"

	"github.com/srg/miflora/internal/device"
)

// AdvertisementBuilder builds fe95 advertisements the way the sensors send them.
type AdvertisementBuilder struct {
	reported  string
	mac       string
	name      string
	rssi      int
	productID uint16
	serviceID string
	embedMAC  bool
}

// NewFloraAdvertisement starts a Monitor advertisement reported under address.
func NewFloraAdvertisement(address string) *AdvertisementBuilder {
	return &AdvertisementBuilder{
		reported:  address,
		mac:       address,
		name:      "Flower care",
		rssi:      -60,
		productID: 152,
		serviceID: "fe95",
		embedMAC:  true,
	}
}

// WithName sets the local name for the advertisement.
func (b *AdvertisementBuilder) WithName(name string) *AdvertisementBuilder {
	b.name = name
	return b
}

// WithRSSI sets the signal strength for the advertisement.
func (b *AdvertisementBuilder) WithRSSI(rssi int) *AdvertisementBuilder {
	b.rssi = rssi
	return b
}

// WithProductID sets the product identifier at payload offset 2.
func (b *AdvertisementBuilder) WithProductID(id uint16) *AdvertisementBuilder {
	b.productID = id
	return b
}

// WithReportedAddress overrides what the adapter reports, keeping the MAC in
// the payload. Use "" to emulate adapters that omit it.
func (b *AdvertisementBuilder) WithReportedAddress(addr string) *AdvertisementBuilder {
	b.reported = addr
	return b
}

// WithoutPayloadMAC truncates the payload after the frame counter.
func (b *AdvertisementBuilder) WithoutPayloadMAC() *AdvertisementBuilder {
	b.embedMAC = false
	return b
}

// WithServiceUUID advertises the payload under another service.
func (b *AdvertisementBuilder) WithServiceUUID(uuid string) *AdvertisementBuilder {
	b.serviceID = uuid
	return b
}

func (b *AdvertisementBuilder) Build() device.Advertisement {
	payload := []byte{0x71, 0x20, byte(b.productID), byte(b.productID >> 8), 0x01}
	if b.embedMAC {
		octets := strings.Split(device.NormalizeAddress(b.mac), ":")
		for i := len(octets) - 1; i >= 0; i-- {
			v, err := strconv.ParseUint(octets[i], 16, 8)
			if err != nil {
				panic("advertisement builder: bad mac " + b.mac)
			}
			payload = append(payload, byte(v))
		}
		payload = append(payload, 0x0d)
	}

	return device.Advertisement{
		Address:     b.reported,
		LocalName:   b.name,
		RSSI:        b.rssi,
		ServiceData: []device.ServiceData{{UUID: b.serviceID, Data: payload}},
	}
}
