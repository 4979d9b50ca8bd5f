/* usbhub - host-side USB device management core */

package usbhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUsbAddrListAddKeepsSortedOrder(t *testing.T) {
	var list UsbAddrList
	list.Add(UsbAddr{Bus: 2, Address: 1})
	list.Add(UsbAddr{Bus: 1, Address: 5})
	list.Add(UsbAddr{Bus: 1, Address: 2})

	assert.Equal(t, UsbAddrList{
		{Bus: 1, Address: 2},
		{Bus: 1, Address: 5},
		{Bus: 2, Address: 1},
	}, list)
}

func TestUsbAddrListFind(t *testing.T) {
	var list UsbAddrList
	list.Add(UsbAddr{Bus: 1, Address: 1})
	list.Add(UsbAddr{Bus: 1, Address: 2})

	assert.Equal(t, 1, list.Find(UsbAddr{Bus: 1, Address: 2}))
	assert.Equal(t, -1, list.Find(UsbAddr{Bus: 9, Address: 9}))
}

func TestUsbAddrListDiffOrdersRemovedBeforeAdded(t *testing.T) {
	var before UsbAddrList
	before.Add(UsbAddr{Bus: 1, Address: 1})
	before.Add(UsbAddr{Bus: 1, Address: 2})

	var after UsbAddrList
	after.Add(UsbAddr{Bus: 1, Address: 2})
	after.Add(UsbAddr{Bus: 1, Address: 3})

	removed, added := before.Diff(after)

	assert.Equal(t, UsbAddrList{{Bus: 1, Address: 1}}, removed)
	assert.Equal(t, UsbAddrList{{Bus: 1, Address: 3}}, added)
}

func TestUsbAddrListDiffNoChange(t *testing.T) {
	var list UsbAddrList
	list.Add(UsbAddr{Bus: 1, Address: 1})

	removed, added := list.Diff(list)
	assert.Empty(t, removed)
	assert.Empty(t, added)
}
