/* usbhub - host-side USB device management core */

package usbhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPropertyStoreFiresOnlyOnChange(t *testing.T) {
	ps := newPropertyStore(defaultVendorRequests())

	var changes int
	ps.onPropChange(PropDeviceName, func(old, new string) { changes++ })

	ps.set(PropDeviceName, "widget")
	ps.set(PropDeviceName, "widget") // no change
	ps.set(PropDeviceName, "gadget")

	assert.Equal(t, 2, changes)

	v, ok := ps.get(PropDeviceName)
	assert.True(t, ok)
	assert.Equal(t, "gadget", v)
}

func TestPropertyStoreInitDoneGateOnReplies(t *testing.T) {
	reqs := []vendorRequest{
		{req: ReqGetName, prop: PropDeviceName},
		{req: ReqGetFirmwareVersion, prop: PropFWVersion},
	}
	ps := newPropertyStore(reqs)

	assert.False(t, ps.isInitDone())

	var fired bool
	ps.whenInitDone(func() { fired = true })

	ps.requestReplied(ReqGetName)
	assert.False(t, ps.isInitDone())
	assert.False(t, fired)

	ps.requestReplied(ReqGetFirmwareVersion)
	assert.True(t, ps.isInitDone())
	assert.True(t, fired)
}

func TestPropertyStoreBlacklistReleasesGate(t *testing.T) {
	reqs := []vendorRequest{
		{req: ReqGetName, prop: PropDeviceName},
		{req: ReqGetFirmwareVersion, prop: PropFWVersion},
	}
	ps := newPropertyStore(reqs)

	ps.requestReplied(ReqGetName)
	ps.blacklist(ReqGetFirmwareVersion)

	assert.True(t, ps.isInitDone())
	assert.Len(t, ps.activeRequests(), 1)
}

func TestPropertyStoreWhenInitDoneFiresImmediatelyIfAlreadyDone(t *testing.T) {
	ps := newPropertyStore(nil)
	assert.True(t, ps.isInitDone(), "empty before-init set should start done")

	var fired bool
	ps.whenInitDone(func() { fired = true })
	assert.True(t, fired)
}
