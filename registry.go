/* usbhub - host-side USB device management core
 *
 * Device Registry (C3): reconciles the set of attached devices matching
 * a (vendor, product) pair, driven by a HotplugWatcher.
 */

package usbhub

import (
	"sync"

	"github.com/google/gousb"
)

// DeviceFactory builds a Device for a newly discovered physical address.
// It is injected by the Supervisor so the Registry never constructs a
// Worker or UsbHandle itself. serial is the device's raw USB serial
// string, read off the handle before the factory runs.
type DeviceFactory func(addr UsbAddr, handle UsbHandle, serial string) *Device

// Registry is the Device Registry (C3): it owns the current set of
// attached Device objects and reconciles it against reality each time
// Update is called.
type Registry struct {
	ctx       *gousb.Context
	vendorID  uint16
	productID uint16
	factory   DeviceFactory
	watcher   HotplugWatcher

	mu      sync.Mutex
	current UsbAddrList
	devices map[UsbAddr]*Device
	hasRun  bool
}

// NewRegistry creates a Registry for the given (vendor, product) pair.
// It starts its own poll-based HotplugWatcher, per this module's
// hotplug-backend decision (see hotplug.go).
func NewRegistry(ctx *gousb.Context, vendorID, productID uint16, factory DeviceFactory) *Registry {
	return &Registry{
		ctx:       ctx,
		vendorID:  vendorID,
		productID: productID,
		factory:   factory,
		watcher:   newPollWatcher(hotplugPollInterval),
		devices:   make(map[UsbAddr]*Device),
	}
}

// All returns every currently attached Device, in address order.
func (r *Registry) All() []*Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Device, 0, len(r.current))
	for _, addr := range r.current {
		out = append(out, r.devices[addr])
	}
	return out
}

// Find returns the Device whose hashed serial matches serial, or nil.
func (r *Registry) Find(serial string) *Device {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, dev := range r.devices {
		if dev.Serial() == serial {
			return dev
		}
	}
	return nil
}

// hasChanged short-circuits reconciliation: false once Update has run
// at least once and the watcher has no pending marker.
func (r *Registry) hasChanged() bool {
	select {
	case <-r.watcher.Events():
		// Drain any further queued markers; one reconciliation
		// pass covers all of them.
		for {
			select {
			case <-r.watcher.Events():
			default:
				return true
			}
		}
	default:
		return !r.hasRun
	}
}

// Update reconciles the registry against the live device list. It
// returns the Devices removed and added this call, always processing
// removals before additions (removed devices are Closed here; added
// devices are built via the factory and have SetConfiguration called).
func (r *Registry) Update() (removedDevices, addedDevices []*Device) {
	if !r.hasChanged() {
		return nil, nil
	}

	found := buildUsbAddrList(r.ctx, r.vendorID, r.productID)

	r.mu.Lock()
	removed, added := r.current.Diff(found)
	r.mu.Unlock()

	for _, addr := range removed {
		r.mu.Lock()
		dev := r.devices[addr]
		delete(r.devices, addr)
		r.mu.Unlock()

		if dev != nil {
			dev.Close()
			removedDevices = append(removedDevices, dev)
		}
	}

	for _, addr := range added {
		handle, err := addr.Open(r.ctx, r.vendorID, r.productID)
		if err != nil {
			Log.Error(' ', "registry: open %s: %s", addr, err)
			continue
		}

		h, err := OpenGousbHandle(handle)
		if err != nil {
			Log.Error(' ', "registry: claim %s: %s", addr, err)
			handle.Close()
			continue
		}

		serial, err := h.SerialNumber()
		if err != nil {
			Log.Error(' ', "registry: serial number %s: %s", addr, err)
			serial = addr.String()
		}

		dev := r.factory(addr, h, serial)

		r.mu.Lock()
		r.devices[addr] = dev
		r.mu.Unlock()

		dev.SetConfiguration()
		addedDevices = append(addedDevices, dev)
	}

	r.mu.Lock()
	r.current = found
	r.hasRun = true
	r.mu.Unlock()

	return removedDevices, addedDevices
}

// Close stops the watcher and every currently attached device.
func (r *Registry) Close() {
	r.watcher.Close()

	r.mu.Lock()
	devices := r.devices
	r.devices = make(map[UsbAddr]*Device)
	r.current = nil
	r.mu.Unlock()

	for _, dev := range devices {
		dev.Close()
	}
}
