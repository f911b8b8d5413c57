// Package scanner discovers soil sensors from their fe95 advertisements.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cornelk/hashmap"
	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/flora"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/protocol"
	"github.com/srg/miflora/internal/ringchan"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// ErrAlreadyScanning is returned by Discover while another Discover runs.
var ErrAlreadyScanning = errors.New("scan already in progress")

// InvalidArgumentError reports malformed scan options.
type InvalidArgumentError struct {
	Field  string
	Reason string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ProgressCallback is called when the scan phase changes
type ProgressCallback func(phase string)

// DeviceEventType marks if the device was newly discovered or seen again
type DeviceEventType int

const (
	EventNew DeviceEventType = iota
	EventSeen
)

func (t DeviceEventType) String() string {
	if t == EventNew {
		return "new"
	}
	return "seen"
}

type DeviceEvent struct {
	Type DeviceEventType
	Info flora.Info
}

// ScanOptions configures one Discover call.
type ScanOptions struct {
	// Duration bounds the scan. Zero scans until ctx is done or every
	// target address has been found.
	Duration time.Duration `yaml:"duration" default:"10s"`

	// Addresses is the target list. Discover returns as soon as all of
	// them have been seen.
	Addresses []string `yaml:"addresses"`

	// IgnoreUnknown keeps only devices whose address is in Addresses.
	IgnoreUnknown bool `yaml:"ignore_unknown"`

	// KeepUnknownTypes keeps sensors with an unrecognised product id.
	KeepUnknownTypes bool `yaml:"keep_unknown_types"`

	// ClearDevices forgets devices accumulated by earlier calls.
	ClearDevices bool `yaml:"-"`

	AllowDuplicates bool `yaml:"allow_duplicates" default:"true"`
}

// DefaultScanOptions returns default scanning options
func DefaultScanOptions() *ScanOptions {
	return &ScanOptions{
		Duration:        10 * time.Second,
		AllowDuplicates: true,
	}
}

// Engine discovers sensors and owns the Device instances it creates. Devices
// accumulate across Discover calls unless ClearDevices is requested, so a
// Device returned once keeps its connection and cache on later scans.
type Engine struct {
	adapter  device.Adapter
	opts     *flora.Options
	logger   *logrus.Logger
	devices  atomic.Pointer[hashmap.Map[string, *flora.Device]]
	events   *ringchan.RingChannel[DeviceEvent]
	scanning atomic.Bool

	// arrivals holds the same devices as devices, in first-seen order.
	mu       sync.Mutex
	arrivals *orderedmap.OrderedMap[string, *flora.Device]
}

// NewEngine creates a discovery engine on adapter. opts is applied to every
// Device the engine creates.
func NewEngine(adapter device.Adapter, opts *flora.Options, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	if opts == nil {
		opts = flora.DefaultOptions()
	}

	e := &Engine{
		adapter: adapter,
		opts:    opts,
		logger:  logger,
		events:  ringchan.New[DeviceEvent](100),
	}
	e.clearDevices()
	return e
}

func (e *Engine) clearDevices() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.arrivals = orderedmap.New[string, *flora.Device]()
	e.devices.Store(hashmap.New[string, *flora.Device]())
}

// known returns every accumulated device in first-seen order.
func (e *Engine) known() []*flora.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*flora.Device, 0, e.arrivals.Len())
	for pair := e.arrivals.Oldest(); pair != nil; pair = pair.Next() {
		out = append(out, pair.Value)
	}
	return out
}

// session is the state of one Discover call.
type session struct {
	mu         sync.Mutex
	opts       *ScanOptions
	targets    map[string]struct{}
	discovered map[string]*flora.Device
	found      int
	done       func()
}

func (opts *ScanOptions) validate() (map[string]struct{}, error) {
	if opts.Duration < 0 {
		return nil, &InvalidArgumentError{Field: "duration", Reason: fmt.Sprintf("must not be negative, got %v", opts.Duration)}
	}

	targets := make(map[string]struct{}, len(opts.Addresses))
	for _, addr := range opts.Addresses {
		norm := device.NormalizeAddress(addr)
		if norm == "" {
			return nil, &InvalidArgumentError{Field: "addresses", Reason: "empty address"}
		}
		targets[norm] = struct{}{}
	}
	return targets, nil
}

// Discover scans for sensors and returns every device the engine knows,
// in first-seen order: those found by this call plus those accumulated by
// earlier calls. ClearDevices drops the earlier ones first.
//
// It first waits, without a budget, for the adapter to power on. The scan
// then stops when Duration elapses or, with a target list, when every target
// has been found, whichever comes first. Only one Discover may run at a
// time; a concurrent call fails with ErrAlreadyScanning.
func (e *Engine) Discover(ctx context.Context, opts *ScanOptions, progress ProgressCallback) ([]*flora.Device, error) {
	if opts == nil {
		opts = DefaultScanOptions()
	}
	if progress == nil {
		progress = func(string) {}
	}

	if !e.scanning.CompareAndSwap(false, true) {
		return nil, ErrAlreadyScanning
	}
	defer e.scanning.Store(false)

	targets, err := opts.validate()
	if err != nil {
		return nil, err
	}

	if opts.ClearDevices {
		e.clearDevices()
	}

	if e.adapter.State() != device.StatePoweredOn {
		progress("Waiting for adapter")
		e.logger.WithField("state", e.adapter.State()).Info("Waiting for adapter to power on...")
		select {
		case <-e.adapter.PoweredOn():
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for adapter: %w", context.Cause(ctx))
		}
	}

	scanCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.Duration > 0 {
		var cancelTimeout context.CancelFunc
		scanCtx, cancelTimeout = context.WithTimeout(scanCtx, opts.Duration)
		defer cancelTimeout()
	}

	s := &session{
		opts:       opts,
		targets:    targets,
		discovered: make(map[string]*flora.Device),
		done:       cancel,
	}

	e.logger.WithFields(logrus.Fields{
		"duration": opts.Duration,
		"targets":  len(targets),
	}).Info("Starting BLE scan...")
	progress("Scanning")

	start := time.Now()
	err = e.adapter.Scan(scanCtx, []string{protocol.VendorServiceUUID}, opts.AllowDuplicates, func(adv device.Advertisement) {
		e.handleAdvertisement(s, adv)
	})

	if ctx.Err() != nil {
		return nil, fmt.Errorf("scan: %w", context.Cause(ctx))
	}
	if err != nil && scanCtx.Err() == nil {
		return nil, fmt.Errorf("scan failed: %w", err)
	}

	progress("Processing results")

	s.mu.Lock()
	// Late callbacks after this point are dropped.
	s.done = nil
	seen := len(s.discovered)
	s.mu.Unlock()

	found := e.known()
	e.logger.WithFields(logrus.Fields{
		"seen":           seen,
		"device_count":   len(found),
		"events_dropped": e.events.Stats().Overwritten,
		"elapsed":        time.Since(start).Round(time.Millisecond),
	}).Info("BLE scan completed")
	return found, nil
}

// handleAdvertisement classifies adv and records it in the session.
func (e *Engine) handleAdvertisement(s *session, adv device.Advertisement) {
	id, ok := protocol.Resolve(adv, s.opts.KeepUnknownTypes)
	if !ok {
		return
	}

	_, targeted := s.targets[id.Address]
	if s.opts.IgnoreUnknown && !targeted {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done == nil {
		return
	}

	now := time.Now()
	if dev, seen := s.discovered[id.Address]; seen {
		dev.Touch(id.RSSI, now)
		e.events.Send(DeviceEvent{Type: EventSeen, Info: dev.Info()})
		return
	}

	dev := e.remember(id)
	dev.Touch(id.RSSI, now)
	s.discovered[id.Address] = dev

	e.logger.WithFields(logrus.Fields{
		"address": dev.Address(),
		"name":    dev.Name(),
		"type":    dev.Type(),
		"rssi":    id.RSSI,
	}).Info("Discovered device")
	e.events.Send(DeviceEvent{Type: EventNew, Info: dev.Info()})

	if targeted {
		s.found++
	}
	if len(s.targets) > 0 && s.found == len(s.targets) {
		e.logger.WithField("targets", len(s.targets)).Debug("All target devices found, stopping scan")
		s.done()
	}
}

// remember returns the engine's Device for id, creating it on first sight.
func (e *Engine) remember(id protocol.Identity) *flora.Device {
	e.mu.Lock()
	defer e.mu.Unlock()
	if dev, ok := e.arrivals.Get(id.Address); ok {
		return dev
	}
	dev := flora.NewDevice(id, e.adapter, e.opts, e.logger)
	e.arrivals.Set(id.Address, dev)
	e.devices.Load().Set(id.Address, dev)
	return dev
}

// Devices returns every device known to the engine, sorted by address.
func (e *Engine) Devices() []*flora.Device {
	devices := e.devices.Load()
	out := make([]*flora.Device, 0, devices.Len())
	devices.Range(func(_ string, dev *flora.Device) bool {
		out = append(out, dev)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Address() < out[j].Address() })
	return out
}

// Device looks up a known device by address in any accepted notation.
func (e *Engine) Device(address string) (*flora.Device, bool) {
	return e.devices.Load().Get(device.NormalizeAddress(address))
}

// Events returns a read-only channel of device events. Slow consumers lose
// the oldest events.
func (e *Engine) Events() <-chan DeviceEvent {
	return e.events.C()
}

// IsScanning reports whether a Discover call is in progress.
func (e *Engine) IsScanning() bool {
	return e.scanning.Load()
}
