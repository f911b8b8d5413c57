//go:build test

package mocks

import "github.com/go-ble/ble"

// StubAdvertisement is a fixed go-ble advertisement. Methods outside the set
// below fall through to the nil embedded interface and must not be called.
type StubAdvertisement struct {
	ble.Advertisement

	Name     string
	Address  string
	Strength int
	Svcs     []ble.UUID
	SvcData  []ble.ServiceData
}

func (a *StubAdvertisement) LocalName() string              { return a.Name }
func (a *StubAdvertisement) RSSI() int                      { return a.Strength }
func (a *StubAdvertisement) Addr() ble.Addr                 { return ble.NewAddr(a.Address) }
func (a *StubAdvertisement) Services() []ble.UUID           { return a.Svcs }
func (a *StubAdvertisement) ServiceData() []ble.ServiceData { return a.SvcData }
