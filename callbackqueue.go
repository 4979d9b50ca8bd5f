/* usbhub - host-side USB device management core
 *
 * Callback Queue (C5): an MPSC hand-off so callbacks raised on the
 * Worker/Supervisor's polling context can be drained on a different
 * thread (e.g. a UI event loop) that also wants to call Poll.
 */

package usbhub

import "sync"

const callbackQueueDrainLimit = 100

type callbackInvocation func()

// CallbackQueue lets any number of producers Wrap a function so calling
// the wrapped version enqueues the call instead of running it; a single
// consumer then drains the queue with Poll.
type CallbackQueue struct {
	mu    sync.Mutex
	items []callbackInvocation
}

// NewCallbackQueue creates an empty CallbackQueue.
func NewCallbackQueue() *CallbackQueue {
	return &CallbackQueue{}
}

// Wrap returns a function that, when called, enqueues an invocation of
// fn with the given arguments captured, and returns immediately.
func Wrap[T any](q *CallbackQueue, fn func(T)) func(T) {
	return func(arg T) {
		q.mu.Lock()
		q.items = append(q.items, func() { fn(arg) })
		q.mu.Unlock()
	}
}

// WrapFunc is the zero-argument form of Wrap.
func WrapFunc(q *CallbackQueue, fn func()) func() {
	return func() {
		q.mu.Lock()
		q.items = append(q.items, fn)
		q.mu.Unlock()
	}
}

// Poll drains up to 100 queued invocations in FIFO order, calling each
// in turn. It returns true if at least one invocation ran.
func (q *CallbackQueue) Poll() bool {
	ran := false

	for i := 0; i < callbackQueueDrainLimit; i++ {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			break
		}
		next := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()

		next()
		ran = true
	}

	return ran
}
