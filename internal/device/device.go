package device

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/srg/miflora/internal/deadline"
)

// NotFoundError represents an error when a BLE resource is not found
type NotFoundError struct {
	Resource string   // "service", "characteristic"
	UUIDs    []string // [serviceUUID] or [serviceUUID, charUUID]
}

func (e *NotFoundError) Error() string {
	switch len(e.UUIDs) {
	case 0:
		return fmt.Sprintf("%s not found", e.Resource)
	case 1:
		return fmt.Sprintf("%s %q not found", e.Resource, e.UUIDs[0])
	default:
		return fmt.Sprintf("%s %q not found in service %q", e.Resource, e.UUIDs[len(e.UUIDs)-1], e.UUIDs[0])
	}
}

// Is allows errors.Is(err, ErrNotFound) for any NotFoundError
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// ConnectionState represents the specific kind of connection state failure
type ConnectionState string

const (
	NotConnected     ConnectionState = "not_connected"
	AlreadyConnected ConnectionState = "already_connected"
	NotInitialized   ConnectionState = "not_initialized"
)

// ConnectionError represents any connection-related problem
type ConnectionError struct {
	State ConnectionState
	Msg   string
}

func (e *ConnectionError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.State)
	}
	return fmt.Sprintf("%s: %s", e.State, e.Msg)
}

// Is allows errors.Is to compare ConnectionError values by State
func (e *ConnectionError) Is(target error) bool {
	if e == nil {
		return false
	}
	t, ok := target.(*ConnectionError)
	if !ok {
		return false
	}
	return e.State == t.State
}

var (
	ErrNotConnected     = &ConnectionError{State: NotConnected}
	ErrAlreadyConnected = &ConnectionError{State: AlreadyConnected}
	ErrNotInitialized   = &ConnectionError{State: NotInitialized}
)

var (
	ErrNotFound     = errors.New("not found")
	ErrBluetoothOff = errors.New("bluetooth is turned off")
	ErrUnsupported  = errors.New("unsupported")

	// ErrTimeout is the same sentinel every deadline.TimeoutError matches.
	ErrTimeout = deadline.ErrTimeout
)

// AdapterError is a failure reported by the BLE adapter itself. The adapter's
// own error is kept verbatim and reachable through errors.Unwrap.
type AdapterError struct {
	Op      string // "connect", "disconnect", "discover", "read", "write", "scan"
	Address string
	Err     error
}

func (e *AdapterError) Error() string {
	if e.Address == "" {
		return fmt.Sprintf("adapter %s failed: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("adapter %s %s failed: %v", e.Op, e.Address, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// IsConnectionState reports whether err is a ConnectionError with the given state
func IsConnectionState(err error, state ConnectionState) bool {
	var cerr *ConnectionError
	if errors.As(err, &cerr) {
		return cerr.State == state
	}
	return false
}

// AdapterState mirrors the power/authorisation states a BLE adapter reports.
type AdapterState string

const (
	StateUnknown      AdapterState = "unknown"
	StateResetting    AdapterState = "resetting"
	StateUnsupported  AdapterState = "unsupported"
	StateUnauthorized AdapterState = "unauthorized"
	StatePoweredOff   AdapterState = "poweredOff"
	StatePoweredOn    AdapterState = "poweredOn"
)

// ServiceData is one (service UUID, payload) entry of an advertisement.
type ServiceData struct {
	UUID string
	Data []byte
}

// Advertisement is an adapter-neutral snapshot of a received advertisement.
// Address is the identifier as reported by the adapter; on some platforms
// it is an opaque peripheral identifier rather than a MAC.
type Advertisement struct {
	Address     string
	LocalName   string
	RSSI        int
	Services    []string
	ServiceData []ServiceData
}

// FindServiceData returns the payload advertised for the given service UUID.
func (a Advertisement) FindServiceData(uuid string) ([]byte, bool) {
	want := NormalizeUUID(uuid)
	for _, sd := range a.ServiceData {
		if NormalizeUUID(sd.UUID) == want {
			return sd.Data, true
		}
	}
	return nil, false
}

// Adapter is the process-wide BLE radio.
type Adapter interface {
	// State returns the last state reported by the radio.
	State() AdapterState

	// PoweredOn is closed once the radio first reports poweredOn.
	PoweredOn() <-chan struct{}

	// Scan delivers advertisements carrying any of the given services until
	// ctx is done. Handler calls are serialised in arrival order.
	Scan(ctx context.Context, services []string, allowDuplicates bool, handler func(Advertisement)) error

	// Dial opens a link to the peripheral identified by id, as reported in
	// Advertisement.Address.
	Dial(ctx context.Context, id string) (Peripheral, error)
}

// Peripheral is a connected device.
type Peripheral interface {
	Address() string
	DiscoverCharacteristics(ctx context.Context, service, characteristic string) ([]Characteristic, error)
	Disconnect(ctx context.Context) error

	// Disconnected is closed when the link goes down for any reason.
	Disconnected() <-chan struct{}
}

// Characteristic is a resolved GATT characteristic handle on a live link.
type Characteristic interface {
	UUID() string
	Read(ctx context.Context) ([]byte, error)
	Write(ctx context.Context, data []byte, withoutResponse bool) error
}

// containsIgnoreCase checks the substring case-insensitively
func containsIgnoreCase(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// NormalizeError maps well-known adapter messages onto the sentinel errors
// above while keeping the original message.
func NormalizeError(err error) error {
	if err == nil {
		return nil
	}

	msg := err.Error()
	switch {
	case containsIgnoreCase(msg, "is bluetooth turned on"),
		containsIgnoreCase(msg, "bluetooth is turned off"),
		containsIgnoreCase(msg, "powered off"):
		return fmt.Errorf("%w: %v", ErrBluetoothOff, err)
	case containsIgnoreCase(msg, "device not connected"),
		containsIgnoreCase(msg, "disconnected"):
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	case containsIgnoreCase(msg, "device already connected"):
		return fmt.Errorf("%w: %v", ErrAlreadyConnected, err)
	case containsIgnoreCase(msg, "connection is not initialized"):
		return fmt.Errorf("%w: %v", ErrNotInitialized, err)
	default:
		return err
	}
}
