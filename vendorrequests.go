/* usbhub - host-side USB device management core
 *
 * Vendor request / command codes and the default auto-metadata table.
 */

package usbhub

// Request codes, sent as the control transfer's bRequest: the command
// requests (Cmd*) and the auto-metadata vendor requests (ReqGet*).
const (
	CmdHello        uint8 = 0
	CmdGeneral      uint8 = 1
	CmdTerminal     uint8 = 2
	CmdDownloadFile uint8 = 3
	CmdUploadFile   uint8 = 4

	ReqGetProgramState      uint8 = 5
	ReqGetName              uint8 = 6
	ReqGetFirmwareVersion   uint8 = 7
	ReqGetBootloaderVersion uint8 = 8
	ReqGetHardwareVersion   uint8 = 9
	ReqGetBatteryVoltage    uint8 = 11
)

// Sub-commands sent as wValue with CmdGeneral.
const (
	SubCmdStart  uint16 = 1
	SubCmdStop   uint16 = 2
	SubCmdReboot uint16 = 3
)

// PropName enumerates the auto-polled metadata properties a Device
// exposes; the init-done gate is not one of them (see Device.InitDone).
// Kept as a closed set of
// named constants (DESIGN NOTES option (a)) rather than an open string
// key, so callers get compile-time checked accessors.
type PropName int

const (
	PropDeviceName PropName = iota + 1
	PropFWVersion
	PropBootloaderVersion
	PropHardwareVersion
	PropBatteryVoltage
	PropProgramState
	propCount
)

func (p PropName) String() string {
	switch p {
	case PropDeviceName:
		return "name"
	case PropFWVersion:
		return "fw_version"
	case PropBootloaderVersion:
		return "bootloader_version"
	case PropHardwareVersion:
		return "hardware_version"
	case PropBatteryVoltage:
		return "battery_voltage"
	case PropProgramState:
		return "program_state"
	default:
		return "unknown"
	}
}

// vendorRequest pairs a wire request code with the property it updates.
type vendorRequest struct {
	req  uint8
	prop PropName
}

// defaultVendorRequests is the auto-metadata table every Device starts
// with, matching default_commands.py's REQ_GET_* set.
func defaultVendorRequests() []vendorRequest {
	return []vendorRequest{
		{ReqGetName, PropDeviceName},
		{ReqGetFirmwareVersion, PropFWVersion},
		{ReqGetBootloaderVersion, PropBootloaderVersion},
		{ReqGetHardwareVersion, PropHardwareVersion},
		{ReqGetBatteryVoltage, PropBatteryVoltage},
		{ReqGetProgramState, PropProgramState},
	}
}
