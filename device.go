/* usbhub - host-side USB device management core
 *
 * Device (C2): per-device state machine wrapping one USB handle.
 */

package usbhub

import (
	"crypto/sha1"
	"fmt"
	"sync"
	"time"
)

// metadataLength is the reply size used for auto-polled vendor requests.
const metadataLength = 64

// metadataRetries is the control-transfer retry budget for auto-polled
// vendor requests.
const metadataRetries = 2

// Device is the C2 state machine for one attached USB device: identity,
// auto-polled metadata, the text demultiplexer, and the high-level
// start/stop/reboot/upload_file commands.
type Device struct {
	Addr UsbAddr

	handle UsbHandle
	worker *Worker
	cfg    *Config
	log    *Logger

	fullSerial string
	serial     string // SHA1(fullSerial)[:12], formatted XXXX-XXXX-XXXX

	props *propertyStore

	textMu sync.Mutex
	demux  *LineWriter
	onText []func(line string)

	configuredOnce bool
	mu             sync.Mutex
}

// NewDevice builds a Device around an already-open handle and
// immediately kicks off its first metadata poll.
func NewDevice(addr UsbAddr, handle UsbHandle, worker *Worker, cfg *Config, serial string) *Device {
	d := &Device{
		Addr:       addr,
		handle:     handle,
		worker:     worker,
		cfg:        cfg,
		log:        Log,
		fullSerial: serial,
		serial:     hashSerial(serial),
		props:      newPropertyStore(defaultVendorRequests()),
	}

	d.demux = &LineWriter{Callback: d.dispatchText}

	d.UpdateMetadata()

	return d
}

// hashSerial implements the identity rule: SHA1 of the raw serial,
// truncated to the first 12 hex characters, formatted XXXX-XXXX-XXXX.
func hashSerial(serial string) string {
	sum := sha1.Sum([]byte(serial))
	hexsum := fmt.Sprintf("%x", sum)
	raw := hexsum[:12]
	return raw[0:4] + "-" + raw[4:8] + "-" + raw[8:12]
}

// Serial returns the hashed device identity, never the raw serial.
func (d *Device) Serial() string { return d.serial }

// FullSerial returns the raw, unhashed serial number, for callers that
// need it for local correlation (never logged or exposed on the wire).
func (d *Device) FullSerial() string { return d.fullSerial }

// Equal reports whether d and other identify the same physical device
// slot: same bus/address and same vendor/product pair. Two Devices
// built from different Registries (different VID/PID) never compare
// equal even if they happen to share a bus/address.
func (d *Device) Equal(other *Device) bool {
	if d == nil || other == nil {
		return d == other
	}
	return d.Addr == other.Addr &&
		d.cfg.VendorID == other.cfg.VendorID &&
		d.cfg.ProductID == other.cfg.ProductID
}

// Property returns the current value of a metadata property, and
// whether it has ever been set.
func (d *Device) Property(p PropName) (string, bool) { return d.props.get(p) }

// OnPropertyChange registers cb to fire whenever p's value changes.
func (d *Device) OnPropertyChange(p PropName, cb func(old, new string)) {
	d.props.onPropChange(p, cb)
}

// InitDone reports whether every before-init vendor request has
// replied or been blacklisted.
func (d *Device) InitDone() bool { return d.props.isInitDone() }

// WhenInitDone registers cb to run exactly once init becomes done.
func (d *Device) WhenInitDone(cb func()) { d.props.whenInitDone(cb) }

// StatusLine renders a short human-readable summary, convenience for
// any CLI/GUI status display.
func (d *Device) StatusLine() string {
	name, _ := d.Property(PropDeviceName)
	fw, _ := d.Property(PropFWVersion)
	batt, _ := d.Property(PropBatteryVoltage)
	state, _ := d.Property(PropProgramState)
	return fmt.Sprintf("%s v%s, battery %smV, state %s", name, fw, batt, state)
}

// UpdateMetadata submits a control-in vendor request for every
// non-blacklisted entry in the auto-metadata table, on the sync queue,
// matching the spec's auto-poll cadence from the Supervisor's slow tick.
func (d *Device) UpdateMetadata() {
	for _, req := range d.props.activeRequests() {
		d.submitVendorRequest(req)
	}
}

func (d *Device) submitVendorRequest(vr vendorRequest) {
	req := vr.req
	prop := vr.prop

	t := NewControlTask(d.handle, d, true, req, 0, 0, nil, metadataLength,
		d.cfg.ControlTimeout, metadataRetries,
		func(data []byte) { d.handleVendorReply(req, prop, data) },
		func(*Task) { d.blacklistVendorRequest(req) },
	)
	d.worker.AddControlTask(t, true)
}

// handleVendorReply implements the init-done gate: a reply always
// releases req from the before-init set (possibly completing init),
// then the parsed value is written to the property store.
func (d *Device) handleVendorReply(req uint8, prop PropName, data []byte) {
	d.props.requestReplied(req)
	d.props.set(prop, parseASCII(data))
}

// blacklistVendorRequest permanently disables req: future
// UpdateMetadata calls no longer submit it, and (like a reply) it is
// released from the before-init gate.
func (d *Device) blacklistVendorRequest(req uint8) {
	d.props.blacklist(req)
	d.log.Debug(' ', "vendor request %d blacklisted on device %s", req, d.serial)
}

// parseASCII converts a raw vendor-reply buffer into text the way the
// original's parse() helper does: byte-by-byte to ASCII, not UTF-8.
func parseASCII(data []byte) string {
	b := make([]byte, 0, len(data))
	for _, c := range data {
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}

// SetConfiguration marks the device configured and starts the repeating
// protocol read, idempotently. The USB configuration and interface
// themselves are claimed earlier, when the handle is opened
// (OpenGousbHandle).
func (d *Device) SetConfiguration() {
	d.mu.Lock()
	if d.configuredOnce {
		d.mu.Unlock()
		return
	}
	d.configuredOnce = true
	d.mu.Unlock()

	ep := d.cfg.ProtocolEndpoint
	t := NewReadTask(d.handle, d, ep, 512, d.cfg.ReadTimeout, true,
		d.handleProtocolData, nil)
	d.worker.AddReadTask(t, true)
}

// handleProtocolData feeds a completed protocol read through the text
// demultiplexer, which splits it into '\n'-delimited lines and drops
// empty ones.
func (d *Device) handleProtocolData(data []byte) {
	d.demux.Write(data)
}

func (d *Device) dispatchText(line []byte) {
	if n := len(line); n > 0 && line[n-1] == '\n' {
		line = line[:n-1]
	}
	text := parseASCII(line)
	if text == "" {
		return
	}

	d.textMu.Lock()
	subs := append([]func(string){}, d.onText...)
	d.textMu.Unlock()

	for _, cb := range subs {
		cb(text)
	}
}

// OnText registers cb to run for every non-empty demultiplexed line of
// device-originated text.
func (d *Device) OnText(cb func(line string)) {
	d.textMu.Lock()
	d.onText = append(d.onText, cb)
	d.textMu.Unlock()
}

// sendGeneralCommand issues a CmdGeneral control transfer synchronously,
// the backing primitive for Start/Stop/Reboot.
func (d *Device) sendGeneralCommand(subCmd uint16, onComplete func()) {
	t := NewControlTask(d.handle, d, false, CmdGeneral, subCmd, 0, nil, 0,
		d.cfg.ControlTimeout, d.cfg.RetryBudget,
		func([]byte) {
			if onComplete != nil {
				onComplete()
			}
		}, nil)
	d.worker.AddControlTask(t, true)
}

// Start issues the device's "start" command.
func (d *Device) Start(onComplete func()) { d.sendGeneralCommand(SubCmdStart, onComplete) }

// Stop issues the device's "stop" command.
func (d *Device) Stop(onComplete func()) { d.sendGeneralCommand(SubCmdStop, onComplete) }

// Reboot issues the device's "reboot" command.
func (d *Device) Reboot(onComplete func()) { d.sendGeneralCommand(SubCmdReboot, onComplete) }

// SendTerminalCommand issues a CmdTerminal control-out transfer with cmd
// as its payload, NUL-terminated the way the device's console parser
// expects a command line to end.
func (d *Device) SendTerminalCommand(cmd string, onComplete func()) {
	data := append([]byte(cmd), 0)
	t := NewControlTask(d.handle, d, false, CmdTerminal, 0, 0, data, 0,
		d.cfg.ControlTimeout, d.cfg.RetryBudget,
		func([]byte) {
			if onComplete != nil {
				onComplete()
			}
		}, nil)
	d.worker.AddControlTask(t, true)
}

// UploadFile writes srcData to the device under destination filename
// dst, then invokes onComplete with dst once the transfer finishes.
//
// The original implementation built a wrapped_cb that re-invoked
// on_complete with the destination filename but then passed the raw,
// unwrapped on_complete to the low-level write -- a dead local variable
// (onCOmplete) masked the intended behavior. This always invokes the
// caller's callback with the destination filename, which is what every
// caller (notably the firmware Update Server) expects.
func (d *Device) UploadFile(dst string, srcData []byte, onComplete func(dst string)) {
	t := NewControlTask(d.handle, d, false, CmdUploadFile,
		uint16(len(srcData)&0xFFFF), uint16((len(srcData)>>16)&0xFFFF),
		[]byte(dst), 0, time.Second, d.cfg.RetryBudget, nil, nil)
	d.worker.AddControlTask(t, true)

	wt := NewWriteTask(d.handle, d, d.cfg.ProtocolEndpoint, srcData, 60*time.Second,
		func([]byte) {
			if onComplete != nil {
				onComplete(dst)
			}
		}, nil)
	d.worker.AddWriteTask(wt, true)
}

// ControlRequest issues a raw vendor control transfer on the sync
// queue, per §6's control_request primitive: dirIn selects device-to-
// host (true) or host-to-device (false), data is the outgoing payload
// (host-to-device) or nil (device-to-host, filled in up to length
// bytes), and onComplete/onFail receive the usual Task callbacks.
func (d *Device) ControlRequest(dirIn bool, request uint8, value, index uint16,
	data []byte, length int, onComplete func([]byte), onFail func(*Task)) {

	t := NewControlTask(d.handle, d, dirIn, request, value, index, data, length,
		d.cfg.ControlTimeout, d.cfg.RetryBudget, onComplete, onFail)
	d.worker.AddControlTask(t, true)
}

// VendorRequest issues a single control-in vendor request outside the
// auto-metadata table, per §6's vendor_request primitive.
func (d *Device) VendorRequest(request uint8, length int, onComplete func([]byte), onFail func(*Task)) {
	d.ControlRequest(true, request, 0, 0, nil, length, onComplete, onFail)
}

// Read issues a bulk read on endpoint, per §6's read primitive. When
// repeat is true the read is silently re-armed after every completion
// or retryable failure, until CancelAutoreads stops it.
func (d *Device) Read(endpoint, length int, timeout time.Duration, repeat bool,
	onComplete func([]byte), onFail func(*Task)) {

	t := NewReadTask(d.handle, d, endpoint, length, timeout, repeat, onComplete, onFail)
	d.worker.AddReadTask(t, repeat)
}

// Write issues a bulk write on endpoint, per §6's write primitive.
func (d *Device) Write(endpoint int, data []byte, timeout time.Duration,
	onComplete func([]byte), onFail func(*Task)) {

	t := NewWriteTask(d.handle, d, endpoint, data, timeout, onComplete, onFail)
	d.worker.AddWriteTask(t, false)
}

// CancelAutoreads stops repeating reads on the given endpoints, per
// §6's cancel_autoreads primitive. Any transfer already in flight still
// completes naturally.
func (d *Device) CancelAutoreads(eps []int) {
	d.worker.CancelAutoreads(d, eps)
}

// Close releases the underlying USB handle. The worker's in-flight
// tasks for this device, if any, still complete or fail naturally.
func (d *Device) Close() error {
	d.CancelAutoreads([]int{d.cfg.ProtocolEndpoint})
	return d.handle.Close()
}
