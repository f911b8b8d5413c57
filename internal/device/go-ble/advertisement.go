package goble

import (
	"github.com/go-ble/ble"
	"github.com/srg/miflora/internal/device"
)

// advertisement is the subset of ble.Advertisement the adapter consumes.
type advertisement interface {
	LocalName() string
	RSSI() int
	Addr() ble.Addr
	Services() []ble.UUID
	ServiceData() []ble.ServiceData
}

// convertAdvertisement copies a go-ble advertisement into a device.Advertisement.
// Payload slices are copied since go-ble may reuse its buffers.
func convertAdvertisement(adv advertisement) device.Advertisement {
	out := device.Advertisement{
		LocalName: adv.LocalName(),
		RSSI:      adv.RSSI(),
	}
	if addr := adv.Addr(); addr != nil {
		out.Address = addr.String()
	}

	for _, svc := range adv.Services() {
		out.Services = append(out.Services, device.NormalizeUUID(svc.String()))
	}
	for _, sd := range adv.ServiceData() {
		data := make([]byte, len(sd.Data))
		copy(data, sd.Data)
		out.ServiceData = append(out.ServiceData, device.ServiceData{
			UUID: device.NormalizeUUID(sd.UUID.String()),
			Data: data,
		})
	}
	return out
}

// advertises reports whether adv carries any of the wanted services, either
// in its service list or as a service data entry. An empty filter matches.
func advertises(adv device.Advertisement, wanted []string) bool {
	if len(wanted) == 0 {
		return true
	}
	for _, w := range wanted {
		for _, s := range adv.Services {
			if s == w {
				return true
			}
		}
		for _, sd := range adv.ServiceData {
			if sd.UUID == w {
				return true
			}
		}
	}
	return false
}
