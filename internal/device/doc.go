// Package device defines the adapter-neutral BLE surface the soil sensor
// driver talks to: the Adapter radio, connected Peripherals, resolved GATT
// Characteristics and received Advertisements, together with address and
// UUID normalization and the shared error types.
//
// The production implementation lives in internal/device/go-ble; tests use
// the fakes in internal/testutils.
package device
