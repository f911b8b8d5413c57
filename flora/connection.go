package flora

import (
	"context"
	"fmt"

	"github.com/srg/miflora/internal/deadline"
	"github.com/srg/miflora/internal/device"
	"github.com/srg/miflora/internal/groutine"
)

// connect dials the peripheral unless a link is already up. A failed or
// timed-out dial leaves the device Disconnected; a dial that completes after
// its budget expired is torn down in the background.
func (d *Device) connect(ctx context.Context) error {
	d.mu.Lock()
	if d.state == Connected && d.link != nil {
		d.mu.Unlock()
		return nil
	}
	d.state = Connecting
	d.mu.Unlock()

	logger := d.log().WithField("peripheral_id", d.peripheralID)
	logger.Debug("Connecting")

	link, err := deadline.Race(ctx, "connect", d.opts.Timeouts.Connect,
		func(ctx context.Context) (device.Peripheral, error) {
			return d.adapter.Dial(ctx, d.peripheralID)
		},
		deadline.OnAbandon(func(late device.Peripheral) {
			logger.Debug("Dropping connection that completed after its deadline")
			_ = late.Disconnect(context.Background())
		}),
	)
	if err != nil {
		d.mu.Lock()
		d.state = Disconnected
		d.mu.Unlock()
		logger.WithError(err).Debug("Connect failed")
		return fmt.Errorf("connect %s: %w", d.address, err)
	}

	d.mu.Lock()
	d.link = link
	d.generation++
	gen := d.generation
	d.chars = make(map[charKey]device.Characteristic)
	d.state = Connected
	d.mu.Unlock()

	d.watchLink(link, gen)
	logger.Info("Connected")
	return nil
}

// watchLink moves the device to Disconnected when the adapter reports that
// link went down, unless the device has moved on to another link since.
func (d *Device) watchLink(link device.Peripheral, gen uint64) {
	groutine.Go(context.Background(), "link-monitor:"+d.address, func(ctx context.Context) {
		<-link.Disconnected()

		d.mu.Lock()
		if d.generation != gen {
			d.mu.Unlock()
			return
		}
		d.link = nil
		d.chars = nil
		d.state = Disconnected
		d.mu.Unlock()

		d.log().WithField("goroutine", groutine.Name(ctx)).Warn("Link lost")
	})
}

// disconnect tears the link down. The cache and link are dropped before the
// adapter is asked, so the device is Disconnected afterwards whatever the
// adapter reports.
func (d *Device) disconnect(ctx context.Context) error {
	d.mu.Lock()
	link := d.link
	if link == nil {
		d.state = Disconnected
		d.mu.Unlock()
		return nil
	}
	d.state = Disconnecting
	d.generation++
	d.link = nil
	d.chars = nil
	d.mu.Unlock()

	d.log().Debug("Disconnecting")

	_, err := deadline.Race(ctx, "disconnect", d.opts.Timeouts.Disconnect,
		func(ctx context.Context) (struct{}, error) {
			return struct{}{}, link.Disconnect(ctx)
		})

	d.mu.Lock()
	d.state = Disconnected
	d.mu.Unlock()

	if err != nil {
		d.log().WithError(err).Warn("Disconnect reported an error")
		return fmt.Errorf("disconnect %s: %w", d.address, err)
	}
	d.log().Info("Disconnected")
	return nil
}
