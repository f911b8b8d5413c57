//go:build !darwin && !linux

package goble

import (
	"fmt"
	"runtime"

	"github.com/srg/miflora/internal/device"
)

func newPlatformDevice() (Central, error) {
	return nil, fmt.Errorf("%w: no BLE backend for %s", device.ErrUnsupported, runtime.GOOS)
}
