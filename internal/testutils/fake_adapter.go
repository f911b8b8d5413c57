//go:build test

package testutils

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/srg/miflora/internal/device"
)

// FakeAdapter is a scriptable in-memory device.Adapter.
//
//	adapter := testutils.NewFakeAdapter(true)
//	p := adapter.AddPeripheral("c4:7c:8d:65:d5:26")
//	p.Characteristic(protocol.DataServiceUUID, protocol.ModeCharacteristicUUID).Echo()
//	adapter.QueueAdvertisements(testutils.NewFloraAdvertisement("c4:7c:8d:65:d5:26").Build())
type FakeAdapter struct {
	mu          sync.Mutex
	state       device.AdapterState
	poweredOn   chan struct{}
	onceOn      sync.Once
	peripherals map[string]*FakePeripheral
	queued      []device.Advertisement

	// ScanScript, when set, drives the scan instead of the queued
	// advertisements. emit delivers an advertisement to the scan handler.
	ScanScript func(ctx context.Context, emit func(device.Advertisement))
	ScanErr    error
	DialErr    error
	DialDelay  time.Duration
	DialBlock  bool

	Scans atomic.Int32
	Dials atomic.Int32
}

var _ device.Adapter = (*FakeAdapter)(nil)

// NewFakeAdapter creates an adapter, optionally already powered on.
func NewFakeAdapter(poweredOn bool) *FakeAdapter {
	a := &FakeAdapter{
		state:       device.StatePoweredOff,
		poweredOn:   make(chan struct{}),
		peripherals: make(map[string]*FakePeripheral),
	}
	if poweredOn {
		a.PowerOn()
	}
	return a
}

// PowerOn switches the adapter to poweredOn and releases waiters.
func (a *FakeAdapter) PowerOn() {
	a.mu.Lock()
	a.state = device.StatePoweredOn
	a.mu.Unlock()
	a.onceOn.Do(func() { close(a.poweredOn) })
}

func (a *FakeAdapter) State() device.AdapterState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *FakeAdapter) PoweredOn() <-chan struct{} {
	return a.poweredOn
}

// QueueAdvertisements appends advs to the advertisements every default scan
// emits. Queued advertisements are replayed by each later scan; use
// ScanScript to vary them between scans.
func (a *FakeAdapter) QueueAdvertisements(advs ...device.Advertisement) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.queued = append(a.queued, advs...)
}

// AddPeripheral registers a connectable device under id.
func (a *FakeAdapter) AddPeripheral(id string) *FakePeripheral {
	p := &FakePeripheral{
		id:    id,
		chars: make(map[string]*FakeCharacteristic),
	}
	a.mu.Lock()
	a.peripherals[device.NormalizeAddress(id)] = p
	a.mu.Unlock()
	return p
}

func (a *FakeAdapter) Scan(ctx context.Context, services []string, _ bool, handler func(device.Advertisement)) error {
	a.Scans.Add(1)
	if a.ScanErr != nil {
		return &device.AdapterError{Op: "scan", Err: a.ScanErr}
	}

	wanted := device.NormalizeUUIDs(services)
	var handlerMu sync.Mutex
	emit := func(adv device.Advertisement) {
		if ctx.Err() != nil || !carriesAny(adv, wanted) {
			return
		}
		handlerMu.Lock()
		defer handlerMu.Unlock()
		handler(adv)
	}

	if a.ScanScript != nil {
		a.ScanScript(ctx, emit)
	} else {
		a.mu.Lock()
		queued := append([]device.Advertisement(nil), a.queued...)
		a.mu.Unlock()
		for _, adv := range queued {
			emit(adv)
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

func carriesAny(adv device.Advertisement, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		if _, ok := adv.FindServiceData(w); ok {
			return true
		}
		for _, s := range adv.Services {
			if device.SameUUID(s, w) {
				return true
			}
		}
	}
	return false
}

func (a *FakeAdapter) Dial(ctx context.Context, id string) (device.Peripheral, error) {
	a.Dials.Add(1)

	if a.DialBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := sleepCtx(ctx, a.DialDelay); err != nil {
		return nil, err
	}
	if a.DialErr != nil {
		return nil, &device.AdapterError{Op: "connect", Address: id, Err: a.DialErr}
	}

	a.mu.Lock()
	p, ok := a.peripherals[device.NormalizeAddress(id)]
	a.mu.Unlock()
	if !ok {
		return nil, &device.AdapterError{Op: "connect", Address: id, Err: errors.New("peripheral not in range")}
	}
	return p.newLink(), nil
}

// FakePeripheral is the persistent GATT profile of one fake device. Every
// Dial creates a fresh FakeLink on top of it.
type FakePeripheral struct {
	id string

	mu    sync.Mutex
	chars map[string]*FakeCharacteristic
	links []*FakeLink

	DiscoverErr   error
	DiscoverBlock bool
	DisconnectErr error

	Discoveries atomic.Int32
	Disconnects atomic.Int32
}

func charKey(service, characteristic string) string {
	return device.NormalizeUUID(service) + "/" + device.NormalizeUUID(characteristic)
}

// Characteristic returns (creating if needed) the characteristic in service.
func (p *FakePeripheral) Characteristic(service, characteristic string) *FakeCharacteristic {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := charKey(service, characteristic)
	c, ok := p.chars[key]
	if !ok {
		c = &FakeCharacteristic{uuid: device.NormalizeUUID(characteristic)}
		p.chars[key] = c
	}
	return c
}

// RemoveCharacteristic makes later discoveries of the pair return no match.
func (p *FakePeripheral) RemoveCharacteristic(service, characteristic string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.chars, charKey(service, characteristic))
}

// LastLink returns the link created by the most recent Dial.
func (p *FakePeripheral) LastLink() *FakeLink {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.links) == 0 {
		return nil
	}
	return p.links[len(p.links)-1]
}

func (p *FakePeripheral) newLink() *FakeLink {
	l := &FakeLink{peripheral: p, done: make(chan struct{})}
	p.mu.Lock()
	p.links = append(p.links, l)
	p.mu.Unlock()
	return l
}

// FakeLink is one connection to a FakePeripheral.
type FakeLink struct {
	peripheral *FakePeripheral
	done       chan struct{}
	once       sync.Once
}

var _ device.Peripheral = (*FakeLink)(nil)

func (l *FakeLink) Address() string {
	return l.peripheral.id
}

func (l *FakeLink) Disconnected() <-chan struct{} {
	return l.done
}

// Drop simulates the device going out of range.
func (l *FakeLink) Drop() {
	l.once.Do(func() { close(l.done) })
}

// IsOpen reports whether the link is still up.
func (l *FakeLink) IsOpen() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

func (l *FakeLink) DiscoverCharacteristics(ctx context.Context, service, characteristic string) ([]device.Characteristic, error) {
	p := l.peripheral
	p.Discoveries.Add(1)

	if p.DiscoverBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if p.DiscoverErr != nil {
		return nil, &device.AdapterError{Op: "discover", Address: p.id, Err: p.DiscoverErr}
	}
	if !l.IsOpen() {
		return nil, &device.AdapterError{Op: "discover", Address: p.id, Err: device.ErrNotConnected}
	}

	p.mu.Lock()
	c, ok := p.chars[charKey(service, characteristic)]
	p.mu.Unlock()
	if !ok {
		return []device.Characteristic{}, nil
	}
	return []device.Characteristic{&fakeHandle{c: c, link: l}}, nil
}

func (l *FakeLink) Disconnect(ctx context.Context) error {
	p := l.peripheral
	p.Disconnects.Add(1)
	l.Drop()
	if p.DisconnectErr != nil {
		return &device.AdapterError{Op: "disconnect", Address: p.id, Err: p.DisconnectErr}
	}
	return ctx.Err()
}

// FakeCharacteristic holds the value and behaviour of one characteristic.
type FakeCharacteristic struct {
	uuid string

	mu       sync.Mutex
	value    []byte
	readback []byte
	echo     bool
	writes   []FakeWrite

	ReadDelay  time.Duration
	WriteDelay time.Duration
	ReadBlock  bool
	WriteBlock bool
	ReadErr    error
	WriteErr   error

	Reads atomic.Int32
}

// FakeWrite records one write.
type FakeWrite struct {
	Data            []byte
	WithoutResponse bool
}

// SetValue fixes what reads return.
func (c *FakeCharacteristic) SetValue(v []byte) *FakeCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.value = bytes.Clone(v)
	return c
}

// Echo makes every write become the value later reads return.
func (c *FakeCharacteristic) Echo() *FakeCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.echo = true
	return c
}

// Readback makes reads return v regardless of writes.
func (c *FakeCharacteristic) Readback(v []byte) *FakeCharacteristic {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.echo = false
	c.readback = bytes.Clone(v)
	return c
}

// Writes returns every write seen so far.
func (c *FakeCharacteristic) Writes() []FakeWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FakeWrite(nil), c.writes...)
}

type fakeHandle struct {
	c    *FakeCharacteristic
	link *FakeLink
}

func (h *fakeHandle) UUID() string {
	return h.c.uuid
}

func (h *fakeHandle) Read(ctx context.Context) ([]byte, error) {
	c := h.c
	c.Reads.Add(1)

	if c.ReadBlock {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := sleepCtx(ctx, c.ReadDelay); err != nil {
		return nil, err
	}
	if !h.link.IsOpen() {
		return nil, &device.AdapterError{Op: "read", Err: device.ErrNotConnected}
	}
	if c.ReadErr != nil {
		return nil, &device.AdapterError{Op: "read", Err: c.ReadErr}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.readback != nil {
		return bytes.Clone(c.readback), nil
	}
	return bytes.Clone(c.value), nil
}

func (h *fakeHandle) Write(ctx context.Context, data []byte, withoutResponse bool) error {
	c := h.c

	if c.WriteBlock {
		<-ctx.Done()
		return ctx.Err()
	}
	if err := sleepCtx(ctx, c.WriteDelay); err != nil {
		return err
	}
	if !h.link.IsOpen() {
		return &device.AdapterError{Op: "write", Err: device.ErrNotConnected}
	}
	if c.WriteErr != nil {
		return &device.AdapterError{Op: "write", Err: c.WriteErr}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes = append(c.writes, FakeWrite{Data: bytes.Clone(data), WithoutResponse: withoutResponse})
	if c.echo {
		c.value = bytes.Clone(data)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
