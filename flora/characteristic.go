package flora

import (
	"bytes"
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/srg/miflora/internal/deadline"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/protocol"
)

// resolve returns the handle of a characteristic, connecting first when
// needed. Handles are cached per link and the cache is discarded whenever
// the link changes.
func (d *Device) resolve(ctx context.Context, service, characteristic string) (device.Characteristic, error) {
	if err := d.connect(ctx); err != nil {
		return nil, err
	}

	key := newCharKey(service, characteristic)

	d.mu.Lock()
	link, gen := d.link, d.generation
	if c, ok := d.chars[key]; ok {
		d.mu.Unlock()
		return c, nil
	}
	d.mu.Unlock()

	if link == nil {
		return nil, fmt.Errorf("%s: %w", d.address, device.ErrNotConnected)
	}

	chars, err := deadline.Race(ctx, "discover", d.opts.Timeouts.Discover,
		func(ctx context.Context) ([]device.Characteristic, error) {
			return link.DiscoverCharacteristics(ctx, service, characteristic)
		})
	if err != nil {
		return nil, fmt.Errorf("discover %s/%s: %w", key.service, key.characteristic, err)
	}
	if len(chars) == 0 {
		return nil, &device.NotFoundError{Resource: "characteristic", UUIDs: []string{key.service, key.characteristic}}
	}

	d.mu.Lock()
	if d.generation == gen && d.chars != nil {
		d.chars[key] = chars[0]
	}
	d.mu.Unlock()

	d.log().WithFields(logrus.Fields{
		"service":        key.service,
		"characteristic": key.characteristic,
	}).Debug("Resolved characteristic")
	return chars[0], nil
}

func (d *Device) read(ctx context.Context, service, characteristic string) ([]byte, error) {
	c, err := d.resolve(ctx, service, characteristic)
	if err != nil {
		return nil, err
	}

	data, err := deadline.Race(ctx, "read "+c.UUID(), d.opts.Timeouts.Read, c.Read)
	if err != nil {
		return nil, err
	}

	d.log().WithFields(logrus.Fields{
		"characteristic": c.UUID(),
		"data":           fmt.Sprintf("%x", data),
	}).Debug("Read characteristic")
	return data, nil
}

func (d *Device) write(ctx context.Context, service, characteristic string, data []byte) error {
	c, err := d.resolve(ctx, service, characteristic)
	if err != nil {
		return err
	}

	withoutResponse := !d.opts.WriteWithResponse
	_, err = deadline.Race(ctx, "write "+c.UUID(), d.opts.Timeouts.Write,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, c.Write(ctx, data, withoutResponse)
		})
	if err != nil {
		return err
	}

	d.log().WithFields(logrus.Fields{
		"characteristic":   c.UUID(),
		"data":             fmt.Sprintf("%x", data),
		"without_response": withoutResponse,
	}).Debug("Wrote characteristic")
	return nil
}

// setMode writes cmd to the mode characteristic and reads it back. Any
// readback other than the exact command is a ModeSwitchError.
func (d *Device) setMode(ctx context.Context, cmd protocol.ModeCommand) ([]byte, error) {
	want := cmd.Bytes()
	if err := d.write(ctx, protocol.DataServiceUUID, protocol.ModeCharacteristicUUID, want); err != nil {
		return nil, err
	}

	got, err := d.read(ctx, protocol.DataServiceUUID, protocol.ModeCharacteristicUUID)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(got, want) {
		return got, &ModeSwitchError{Command: cmd, Written: want, Readback: got}
	}

	d.log().WithField("mode", cmd.String()).Debug("Mode switched")
	return got, nil
}
