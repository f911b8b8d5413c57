package main

import (
	"errors"
	"fmt"

	"github.com/sony/gobreaker/v2"
	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/publish"
	"github.com/srg/miflora/scanner"
)

// Command-level errors
var (
	// ErrDeviceNotFound is returned when the requested sensor did not
	// advertise within the scan duration.
	ErrDeviceNotFound = errors.New("device not found")
)

// FormatUserError turns err into a one-line message for the terminal. Known
// failures get a hint; anything else is printed as is.
func FormatUserError(err error) string {
	if err == nil {
		return ""
	}

	var (
		modeErr *flora.ModeSwitchError
		nfErr   *device.NotFoundError
	)

	switch {
	case errors.Is(err, device.ErrBluetoothOff):
		return "Bluetooth is turned off, enable it and try again"
	case errors.Is(err, ErrDeviceNotFound):
		return fmt.Sprintf("%v (is the sensor in range? try a longer --duration)", err)
	case errors.Is(err, device.ErrTimeout):
		return fmt.Sprintf("%v (the sensor may be out of range or busy with another client)", err)
	case errors.As(err, &modeErr):
		return fmt.Sprintf("sensor rejected the %s command (wrote %x, read back %x)", modeErr.Command, modeErr.Written, modeErr.Readback)
	case errors.As(err, &nfErr):
		return fmt.Sprintf("%v (not a Mi Flora sensor, or unsupported firmware)", err)
	case errors.Is(err, scanner.ErrAlreadyScanning):
		return "another scan is already running"
	case errors.Is(err, publish.ErrConnectionFailed):
		return fmt.Sprintf("%v (check the mqtt/influxdb sections of the config)", err)
	case errors.Is(err, gobreaker.ErrOpenState):
		return fmt.Sprintf("%v (sensor skipped after repeated failures)", err)
	}
	return err.Error()
}
