/* usbhub - host-side USB device management core
 *
 * Device Registry (C3): USB bus addresses and device enumeration.
 */

package usbhub

import (
	"fmt"
	"sort"

	"github.com/google/gousb"
)

// UsbAddr identifies a physical USB device by its (bus, address) pair,
// which is stable for as long as the device stays plugged into the
// same port but is reassigned on replug -- identity across replugs is
// the hashed serial number (see Device.Serial), not UsbAddr.
type UsbAddr struct {
	Bus     int
	Address int
}

func (addr UsbAddr) String() string {
	return fmt.Sprintf("Bus %03d Device %03d", addr.Bus, addr.Address)
}

// Less orders addresses by bus then address, for sorted UsbAddrList.
func (addr UsbAddr) Less(addr2 UsbAddr) bool {
	if addr.Bus != addr2.Bus {
		return addr.Bus < addr2.Bus
	}
	return addr.Address < addr2.Address
}

// Open opens the gousb device matching addr, filtered further by
// vendor/product ID.
func (addr UsbAddr) Open(ctx *gousb.Context, vendorID, productID uint16) (*gousb.Device, error) {
	devs, err := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return desc.Bus == addr.Bus && desc.Address == addr.Address &&
			uint16(desc.Vendor) == vendorID && uint16(desc.Product) == productID
	})

	if err != nil {
		return nil, err
	}

	if len(devs) == 0 {
		return nil, gousb.ErrorNotFound
	}

	// Close any surplus (should not normally happen for a unique
	// bus/address pair, but OpenDevices's filter runs per-candidate).
	for _, extra := range devs[1:] {
		extra.Close()
	}

	return devs[0], nil
}

// UsbAddrList is a UsbAddr slice kept sorted by Less.
type UsbAddrList []UsbAddr

// Add inserts addr into the list, preserving sort order.
func (list *UsbAddrList) Add(addr UsbAddr) {
	l := *list
	i := sort.Search(len(l), func(i int) bool { return !l[i].Less(addr) })

	l = append(l, UsbAddr{})
	copy(l[i+1:], l[i:])
	l[i] = addr

	*list = l
}

// Find returns the index of addr in the list, or -1.
func (list UsbAddrList) Find(addr UsbAddr) int {
	i := sort.Search(len(list), func(i int) bool { return !list[i].Less(addr) })
	if i < len(list) && list[i] == addr {
		return i
	}
	return -1
}

// Diff compares list against list2 and returns the addresses removed
// (present in list but not list2) and added (present in list2 but not
// list), each still in sorted order. Callers must process removed
// before added, per the registry's reconciliation ordering guarantee.
func (list UsbAddrList) Diff(list2 UsbAddrList) (removed, added UsbAddrList) {
	i, j := 0, 0
	for i < len(list) && j < len(list2) {
		switch {
		case list[i] == list2[j]:
			i++
			j++
		case list[i].Less(list2[j]):
			removed = append(removed, list[i])
			i++
		default:
			added = append(added, list2[j])
			j++
		}
	}

	removed = append(removed, list[i:]...)
	added = append(added, list2[j:]...)

	return
}

// buildUsbAddrList enumerates all currently attached devices matching
// vendorID/productID.
func buildUsbAddrList(ctx *gousb.Context, vendorID, productID uint16) UsbAddrList {
	var list UsbAddrList

	devs, _ := ctx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		return uint16(desc.Vendor) == vendorID && uint16(desc.Product) == productID
	})

	for _, dev := range devs {
		list.Add(UsbAddr{Bus: dev.Desc.Bus, Address: dev.Desc.Address})
		dev.Close()
	}

	sort.Slice(list, func(i, j int) bool { return list[i].Less(list[j]) })

	return list
}
