// Package flora is the client driver for Mi Flora soil sensors: one Device
// per physical sensor, with lazily established connections and the
// firmware, sensor and serial queries the sensors support.
package flora

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/protocol"
)

// ConnectionState is the link state of a Device.
type ConnectionState string

const (
	Disconnected  ConnectionState = "disconnected"
	Connecting    ConnectionState = "connecting"
	Connected     ConnectionState = "connected"
	Disconnecting ConnectionState = "disconnecting"
)

type charKey struct {
	service        string
	characteristic string
}

func newCharKey(service, characteristic string) charKey {
	return charKey{service: device.NormalizeUUID(service), characteristic: device.NormalizeUUID(characteristic)}
}

// Device is one sensor. Identity fields are fixed at creation; the
// discovery engine refreshes RSSI and the last-seen time through Touch.
//
// Public operations on one Device are serialised: a second call waits for
// the first to finish, since a GATT link handles one request at a time.
// Operations connect on demand and never disconnect on their own.
type Device struct {
	adapter device.Adapter
	logger  *logrus.Logger
	opts    Options

	address      string
	peripheralID string
	name         string
	typ          protocol.DeviceType
	productID    uint16
	caps         Capability

	seenMu        sync.RWMutex
	rssi          int
	lastDiscovery time.Time

	opMu sync.Mutex

	mu         sync.Mutex
	state      ConnectionState
	link       device.Peripheral
	generation uint64
	chars      map[charKey]device.Characteristic
}

// NewDevice creates a disconnected Device for a resolved identity.
func NewDevice(id protocol.Identity, adapter device.Adapter, opts *Options, logger *logrus.Logger) *Device {
	if opts == nil {
		opts = DefaultOptions()
	}
	if logger == nil {
		logger = logrus.New()
	}

	peripheralID := id.PeripheralID
	if peripheralID == "" {
		peripheralID = id.Address
	}

	return &Device{
		adapter:       adapter,
		logger:        logger,
		opts:          *opts,
		address:       device.NormalizeAddress(id.Address),
		peripheralID:  peripheralID,
		name:          id.Name,
		typ:           id.Type,
		productID:     id.ProductID,
		caps:          CapabilitiesFor(id.Type),
		rssi:          id.RSSI,
		lastDiscovery: time.Now(),
		state:         Disconnected,
	}
}

func (d *Device) Address() string { return d.address }

// PeripheralID is the handle the adapter dials, which differs from Address
// on platforms that hide MAC addresses.
func (d *Device) PeripheralID() string { return d.peripheralID }

func (d *Device) Name() string { return d.name }

func (d *Device) Type() protocol.DeviceType { return d.typ }

func (d *Device) ProductID() uint16 { return d.productID }

func (d *Device) Capabilities() Capability { return d.caps }

func (d *Device) String() string { return fmt.Sprintf("%s %s", d.typ, d.address) }

func (d *Device) log() *logrus.Entry {
	return d.logger.WithFields(logrus.Fields{"address": d.address, "type": d.typ})
}

// RSSI returns the signal strength of the latest advertisement.
func (d *Device) RSSI() int {
	d.seenMu.RLock()
	defer d.seenMu.RUnlock()
	return d.rssi
}

// LastDiscovery returns when the device was last advertised.
func (d *Device) LastDiscovery() time.Time {
	d.seenMu.RLock()
	defer d.seenMu.RUnlock()
	return d.lastDiscovery
}

// Touch records a fresh advertisement.
func (d *Device) Touch(rssi int, at time.Time) {
	d.seenMu.Lock()
	defer d.seenMu.Unlock()
	d.rssi = rssi
	d.lastDiscovery = at
}

// State returns the current link state.
func (d *Device) State() ConnectionState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

func (d *Device) IsConnected() bool {
	return d.State() == Connected
}

// Info is a serialisable snapshot of the identity fields.
type Info struct {
	Address       string              `json:"address"`
	Name          string              `json:"name"`
	Type          protocol.DeviceType `json:"type"`
	RSSI          int                 `json:"rssi"`
	LastDiscovery time.Time           `json:"lastDiscovery"`
}

func (d *Device) Info() Info {
	return Info{
		Address:       d.address,
		Name:          d.name,
		Type:          d.typ,
		RSSI:          d.RSSI(),
		LastDiscovery: d.LastDiscovery(),
	}
}

// QueryResult is the combined answer of Query.
type QueryResult struct {
	Address      string                 `json:"address"`
	Type         protocol.DeviceType    `json:"type"`
	RSSI         int                    `json:"rssi,omitempty"`
	FirmwareInfo *protocol.FirmwareInfo `json:"firmwareInfo,omitempty"`
	SensorValues *protocol.SensorValues `json:"sensorValues,omitempty"`
	Serial       string                 `json:"serial,omitempty"`
}

// QueryOption extends what Query fetches.
type QueryOption func(*queryOptions)

type queryOptions struct {
	serial bool
}

// WithSerial makes Query also fetch the serial number, after the sensor values.
func WithSerial() QueryOption {
	return func(o *queryOptions) { o.serial = true }
}

// Connect opens the link. It is a no-op when already connected.
func (d *Device) Connect(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.connect(ctx)
}

// Disconnect closes the link. It is a no-op when already disconnected. The
// device ends up Disconnected even when the adapter reports an error.
func (d *Device) Disconnect(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.disconnect(ctx)
}

// QueryFirmwareInfo reads battery level and firmware version.
func (d *Device) QueryFirmwareInfo(ctx context.Context) (protocol.FirmwareInfo, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.queryFirmwareInfo(ctx)
}

// QuerySensorValues switches the device to realtime mode and reads the
// current temperature, light, moisture and fertility.
func (d *Device) QuerySensorValues(ctx context.Context) (protocol.SensorValues, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.querySensorValues(ctx)
}

// QuerySerial switches the device to serial mode and returns its serial
// number as hex.
func (d *Device) QuerySerial(ctx context.Context) (string, error) {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	return d.querySerial(ctx)
}

// Query fetches firmware info and then sensor values.
func (d *Device) Query(ctx context.Context, opts ...QueryOption) (*QueryResult, error) {
	var cfg queryOptions
	for _, opt := range opts {
		opt(&cfg)
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.log().Debug("Querying multiple information")

	fw, err := d.queryFirmwareInfo(ctx)
	if err != nil {
		return nil, err
	}
	sv, err := d.querySensorValues(ctx)
	if err != nil {
		return nil, err
	}

	res := &QueryResult{
		Address:      d.address,
		Type:         d.typ,
		RSSI:         d.RSSI(),
		FirmwareInfo: &fw,
		SensorValues: &sv,
	}

	if cfg.serial {
		if res.Serial, err = d.querySerial(ctx); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// StopRealtime switches realtime sensing off again.
func (d *Device) StopRealtime(ctx context.Context) error {
	d.opMu.Lock()
	defer d.opMu.Unlock()
	_, err := d.setMode(ctx, protocol.ModeRealtimeDisable)
	return err
}

// Blink flashes the status LED. Devices without CapBlink return
// device.ErrUnsupported without touching the link.
func (d *Device) Blink(ctx context.Context) error {
	if !d.caps.Has(CapBlink) {
		return fmt.Errorf("%w: %s has no status LED", device.ErrUnsupported, d.typ)
	}

	d.opMu.Lock()
	defer d.opMu.Unlock()

	d.log().Debug("Blinking status LED")
	return d.write(ctx, protocol.DataServiceUUID, protocol.ModeCharacteristicUUID, protocol.BlinkCommand.Bytes())
}

func (d *Device) queryFirmwareInfo(ctx context.Context) (protocol.FirmwareInfo, error) {
	d.log().Debug("Querying firmware information")

	data, err := d.read(ctx, protocol.DataServiceUUID, protocol.FirmwareCharacteristicUUID)
	if err != nil {
		return protocol.FirmwareInfo{}, err
	}
	info, err := protocol.DecodeFirmwareInfo(data)
	if err != nil {
		return protocol.FirmwareInfo{}, err
	}

	d.log().WithFields(logrus.Fields{
		"battery":  info.Battery,
		"firmware": info.Firmware,
	}).Debug("Queried firmware information")
	return info, nil
}

func (d *Device) querySensorValues(ctx context.Context) (protocol.SensorValues, error) {
	d.log().Debug("Querying sensor values")

	if _, err := d.setMode(ctx, protocol.ModeRealtimeEnable); err != nil {
		return protocol.SensorValues{}, err
	}
	data, err := d.read(ctx, protocol.DataServiceUUID, protocol.DataCharacteristicUUID)
	if err != nil {
		return protocol.SensorValues{}, err
	}
	values, err := protocol.DecodeSensorValues(data)
	if err != nil {
		return protocol.SensorValues{}, err
	}

	d.log().WithFields(logrus.Fields{
		"temperature": values.Temperature,
		"lux":         values.Lux,
		"moisture":    values.Moisture,
		"fertility":   values.Fertility,
	}).Debug("Queried sensor values")
	return values, nil
}

func (d *Device) querySerial(ctx context.Context) (string, error) {
	d.log().Debug("Querying serial number")

	if _, err := d.setMode(ctx, protocol.ModeSerial); err != nil {
		return "", err
	}
	data, err := d.read(ctx, protocol.DataServiceUUID, protocol.DataCharacteristicUUID)
	if err != nil {
		return "", err
	}
	serial := protocol.EncodeSerial(data)

	d.log().WithField("serial", serial).Debug("Queried serial number")
	return serial, nil
}
