package goble

import (
	"fmt"

	"github.com/srg/miflora/internal/device"
)

// NormalizeError maps known go-ble error strings onto the device sentinels.
// CoreBluetooth reports a powered-off radio with a dedicated message that
// the generic matcher does not know about.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	if err.Error() == "central manager has invalid state: have=4 want=5: is Bluetooth turned on?" {
		return fmt.Errorf("%w: %v", device.ErrBluetoothOff, err)
	}
	return device.NormalizeError(err)
}

// adapterError wraps a go-ble failure for the given operation, or returns nil.
func adapterError(op, address string, err error) error {
	if err == nil {
		return nil
	}
	return &device.AdapterError{Op: op, Address: address, Err: NormalizeError(err)}
}
