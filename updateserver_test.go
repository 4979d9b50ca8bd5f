/* usbhub - host-side USB device management core */

package usbhub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFirmwareTaskWaitTimesOutAsFailure(t *testing.T) {
	ft := newFirmwareTask(nil, nil)
	ok := ft.Wait(30 * time.Millisecond)
	assert.False(t, ok, "an unresolved task must be treated as a failure on timeout")
}

func TestFirmwareTaskResultLatchesOnFirstSet(t *testing.T) {
	ft := newFirmwareTask(nil, nil)
	ft.setResult(true)
	ft.setResult(false) // must not override the first result

	assert.True(t, ft.Wait(10*time.Millisecond))
}

func TestProcessClientCommandParsesKnownKeys(t *testing.T) {
	h := newFakeHandle()
	// device.Stop (control), upload control header + write, reboot control:
	h.controlSteps = []fakeStep{{n: 0}, {n: 0}, {n: 0}}
	h.writeSteps = []fakeStep{{n: 0}}

	dev, w := newTestDevice(t, h)
	defer w.Quit()
	go drainCompletions(w)

	addr := UsbAddr{Bus: 1, Address: 1}
	registry := &Registry{
		current: UsbAddrList{addr},
		devices: map[UsbAddr]*Device{addr: dev},
	}

	srv := &UpdateServer{registry: registry}

	// Stand in for the Supervisor's fast tick, which executes queued
	// firmware tasks.
	go func() {
		for !srv.Poll() {
			time.Sleep(time.Millisecond)
		}
	}()

	lines := []string{
		"update_devices=" + dev.Serial(),
		"fw_main=testdata/firmware",
	}

	// fw_main -> dst "main.bin", src "testdata/firmware" (nonexistent):
	// the task will fail fast on os.ReadFile, which still exercises the
	// parse path and the Wait/false-on-failure contract end to end.
	updated := srv.processClientCommand(lines)
	assert.Empty(t, updated, "a missing firmware file should not count as updated")
}

func TestProcessClientCommandWarnsOnUnknownKey(t *testing.T) {
	srv := &UpdateServer{registry: &Registry{}}
	updated := srv.processClientCommand([]string{"mystery=1"})
	assert.Empty(t, updated)
}
