/* usbhub - host-side USB device management core */

package usbhub

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// waitFor polls cond until it becomes true or the timeout elapses.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	require.Fail(t, "condition never became true within timeout")
}

func TestWorkerControlSuccess(t *testing.T) {
	h := newFakeHandle()
	h.controlSteps = []fakeStep{{data: []byte("hello")}}

	w := NewWorker(nil)
	defer w.Quit()

	var got []byte
	done := make(chan struct{})
	task := NewControlTask(h, "owner", true, ReqGetName, 0, 0, nil, 64,
		time.Second, 0,
		func(data []byte) { got = data; close(done) }, nil)

	w.AddControlTask(task, false)

	waitFor(t, time.Second, func() bool { return w.CompleteControlTask() != nil })
	<-done

	assert.Equal(t, "hello", string(got))
}

func TestWorkerControlStallRetriesThenFails(t *testing.T) {
	h := newFakeHandle()
	h.controlSteps = []fakeStep{
		{err: fakeStallErr{}},
		{err: fakeStallErr{}},
		{err: fakeStallErr{}},
	}

	w := NewWorker(nil)
	defer w.Quit()

	failed := make(chan struct{})
	task := NewControlTask(h, "owner", true, ReqGetName, 0, 0, nil, 64,
		time.Second, 2, nil,
		func(*Task) { close(failed) })

	w.AddControlTask(task, false)

	select {
	case <-failed:
	case <-time.After(2 * time.Second):
		t.Fatal("control task never failed after exhausting stall retries")
	}
}

func TestWorkerControlNoDeviceFailsWithoutRetry(t *testing.T) {
	h := newFakeHandle()
	h.controlSteps = []fakeStep{{err: fakeNoDeviceErr{}}}

	w := NewWorker(nil)
	defer w.Quit()

	failed := make(chan struct{})
	task := NewControlTask(h, "owner", true, ReqGetName, 0, 0, nil, 64,
		time.Second, 3, nil,
		func(*Task) { close(failed) })

	w.AddControlTask(task, false)

	select {
	case <-failed:
	case <-time.After(time.Second):
		t.Fatal("no-device control task should fail immediately, without retry")
	}
	assert.Equal(t, 1, h.controlCalls)
}

func TestWorkerRepeatingReadRearms(t *testing.T) {
	h := newFakeHandle()
	h.readSteps = []fakeStep{
		{data: []byte("a")},
		{data: []byte("b")},
		{data: []byte("c")},
	}

	w := NewWorker(nil)
	defer w.Quit()

	owner := "device-1"
	task := NewReadTask(h, owner, 1, 16, time.Second, true, nil, nil)
	w.AddReadTask(task, true)

	var completions []string
	waitFor(t, time.Second, func() bool {
		for {
			c := w.CompleteReadTask()
			if c == nil {
				break
			}
			completions = append(completions, string(c.Data))
		}
		return len(completions) == 3
	})

	assert.Equal(t, []string{"a", "b", "c"}, completions)
}

func TestWorkerCancelAutoreadsStopsRearm(t *testing.T) {
	h := newFakeHandle()
	h.readSteps = []fakeStep{{data: []byte("a")}}

	w := NewWorker(nil)
	defer w.Quit()

	owner := "device-2"
	task := NewReadTask(h, owner, 1, 16, time.Second, true, nil, nil)
	w.AddReadTask(task, true)

	waitFor(t, time.Second, func() bool { return w.CompleteReadTask() != nil })

	w.CancelAutoreads(owner, []int{1})

	// The first completion already re-armed one fresh read before the
	// cancel, and that in-flight read still runs (failing, since the fake
	// has no second step); nothing is re-armed after it, so exactly two
	// reads were ever issued.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 2, h.readCalls)
}

func TestWorkerWriteShortWriteRequeuesOnPriority(t *testing.T) {
	h := newFakeHandle()
	h.writeSteps = []fakeStep{
		{n: 2}, // short write of first 2 bytes
		{n: 0}, // remaining bytes complete
	}

	w := NewWorker(nil)
	defer w.Quit()

	done := make(chan struct{})
	task := NewWriteTask(h, "owner", 1, []byte("abcd"), time.Second,
		func([]byte) { close(done) }, nil)

	w.AddWriteTask(task, false)
	go drainCompletions(w)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write task never completed after short-write continuation")
	}
	assert.Equal(t, 2, h.writeCalls)
}
