package flora

import (
	"time"

	"github.com/mcuadros/go-defaults"
	"github.com/srg/miflora/internal/protocol"
)

// DefaultTimeout is the budget of every network step unless configured.
const DefaultTimeout = 10 * time.Second

// Timeouts holds the budget of each network step. Steps are raced
// individually, so an operation made of several steps may take the sum of
// their budgets. Zero or negative disables the budget for that step.
type Timeouts struct {
	Connect    time.Duration `default:"10s" yaml:"connect"`
	Disconnect time.Duration `default:"10s" yaml:"disconnect"`
	Discover   time.Duration `default:"10s" yaml:"discover"`
	Read       time.Duration `default:"10s" yaml:"read"`
	Write      time.Duration `default:"10s" yaml:"write"`
}

// Options configures a Device.
type Options struct {
	Timeouts Timeouts `yaml:"timeouts"`

	// WriteWithResponse switches GATT writes to acknowledged writes. The
	// sensors accept write-without-response, which is the default.
	WriteWithResponse bool `default:"false" yaml:"write_with_response"`
}

// DefaultOptions returns options with every timeout set to DefaultTimeout.
func DefaultOptions() *Options {
	opts := &Options{}
	defaults.SetDefaults(opts)
	return opts
}

// Capability is a feature flag derived from the device type.
type Capability uint8

const (
	// CapBlink marks devices with a status LED that can be flashed.
	CapBlink Capability = 1 << iota
)

// Has reports whether c includes all of want.
func (c Capability) Has(want Capability) bool {
	return c&want == want
}

// CapabilitiesFor returns the capabilities of a device type.
func CapabilitiesFor(t protocol.DeviceType) Capability {
	switch t {
	case protocol.TypeMonitor:
		return CapBlink
	default:
		return 0
	}
}
