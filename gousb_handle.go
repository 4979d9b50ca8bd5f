/* usbhub - host-side USB device management core
 *
 * UsbHandle is the abstraction the Transfer Worker drives; GousbHandle
 * is its production implementation on top of github.com/google/gousb.
 */

package usbhub

import (
	"context"
	"strings"
	"time"

	"github.com/google/gousb"
)

// UsbHandle is everything the Transfer Worker needs from an open USB
// device. It exists so tests can drive the worker against a fake
// implementation instead of real hardware.
type UsbHandle interface {
	// Control performs a vendor control transfer. dir is true for
	// device-to-host (IN), false for host-to-device (OUT).
	Control(dir bool, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error)

	// ReadBulk reads up to len(data) bytes from the given IN endpoint.
	ReadBulk(endpoint int, data []byte, timeout time.Duration) (int, error)

	// WriteBulk writes data to the given OUT endpoint.
	WriteBulk(endpoint int, data []byte, timeout time.Duration) (int, error)

	// Reset issues a USB port/device reset.
	Reset() error

	// SerialNumber reads the device's USB serial-number string
	// descriptor -- the raw identity that Device.Serial hashes. Its hash,
	// not the raw string, is the stable cross-replug identifier the
	// Update Server's wire protocol exposes to remote clients.
	SerialNumber() (string, error)

	// Close releases the underlying device handle.
	Close() error
}

// GousbHandle implements UsbHandle on top of a *gousb.Device.
//
// gousb's Device.ControlTimeout field bounds a control transfer;
// endpoint reads/writes go through gousb.InEndpoint / gousb.OutEndpoint,
// claimed lazily and cached per endpoint number, the way the teacher's
// usbio_libusb.go keeps one libusb_device_handle per UsbDevHandle and
// reuses it across transfers.
type GousbHandle struct {
	dev    *gousb.Device
	cfg    *gousb.Config
	intf   *gousb.Interface
	inEps  map[int]*gousb.InEndpoint
	outEps map[int]*gousb.OutEndpoint
}

// OpenGousbHandle claims the default configuration/interface of dev and
// returns a handle ready for transfers.
func OpenGousbHandle(dev *gousb.Device) (*GousbHandle, error) {
	dev.SetAutoDetach(true)

	cfg, err := dev.Config(1)
	if err != nil {
		return nil, err
	}

	intf, _, err := cfg.Interface(0, 0)
	if err != nil {
		cfg.Close()
		return nil, err
	}

	return &GousbHandle{
		dev:    dev,
		cfg:    cfg,
		intf:   intf,
		inEps:  make(map[int]*gousb.InEndpoint),
		outEps: make(map[int]*gousb.OutEndpoint),
	}, nil
}

func (h *GousbHandle) Control(dir bool, request uint8, value, index uint16, data []byte, timeout time.Duration) (int, error) {
	h.dev.ControlTimeout = timeout

	rType := uint8(gousb.ControlOut | gousb.ControlVendor | gousb.ControlDevice)
	if dir {
		rType = uint8(gousb.ControlIn | gousb.ControlVendor | gousb.ControlDevice)
	}

	return h.dev.Control(rType, request, value, index, data)
}

func (h *GousbHandle) inEndpoint(addr int) (*gousb.InEndpoint, error) {
	if ep, ok := h.inEps[addr]; ok {
		return ep, nil
	}
	ep, err := h.intf.InEndpoint(addr)
	if err != nil {
		return nil, err
	}
	h.inEps[addr] = ep
	return ep, nil
}

func (h *GousbHandle) outEndpoint(addr int) (*gousb.OutEndpoint, error) {
	if ep, ok := h.outEps[addr]; ok {
		return ep, nil
	}
	ep, err := h.intf.OutEndpoint(addr)
	if err != nil {
		return nil, err
	}
	h.outEps[addr] = ep
	return ep, nil
}

func (h *GousbHandle) ReadBulk(endpoint int, data []byte, timeout time.Duration) (int, error) {
	ep, err := h.inEndpoint(endpoint)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return ep.ReadContext(ctx, data)
}

func (h *GousbHandle) WriteBulk(endpoint int, data []byte, timeout time.Duration) (int, error) {
	ep, err := h.outEndpoint(endpoint)
	if err != nil {
		return 0, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return ep.WriteContext(ctx, data)
}

func (h *GousbHandle) Reset() error {
	return h.dev.Reset()
}

func (h *GousbHandle) SerialNumber() (string, error) {
	return h.dev.SerialNumber()
}

func (h *GousbHandle) Close() error {
	if h.cfg != nil {
		h.cfg.Close()
	}
	return h.dev.Close()
}

// classification helpers: gousb does not expose a stable typed error for
// every platform/backend, so (like the teacher's own handling of
// libusb_error_t) we pattern-match the error text for the conditions the
// Transfer Worker must distinguish.
func isTimeoutErr(err error) bool {
	return containsAny(err.Error(), "timeout", "timed out", "deadline exceeded")
}

func isStallErr(err error) bool {
	return containsAny(err.Error(), "stall", "pipe error", "halt")
}

func isNoDeviceErr(err error) bool {
	return containsAny(err.Error(), "no device", "disconnected", "no such device")
}

func isIOErr(err error) bool {
	return containsAny(err.Error(), "i/o error", "io error")
}

func containsAny(s string, subs ...string) bool {
	s = strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
