/* usbhub - host-side USB device management core
 *
 * Transfer Worker (C1): the single thread that owns every open USB
 * handle and arbitrates control/read/write tasks across queues, with
 * retry, cancellation, and repeat semantics.
 */

package usbhub

import (
	"sync"
	"time"
)

const (
	// workerPollInterval is the worker's idle sleep between loop
	// iterations, matching the original's 1ms tick.
	workerPollInterval = time.Millisecond

	// syncReadInterleave is how many reads the worker services between
	// sync tasks, so a long synchronous sequence does not starve
	// streaming input.
	syncReadInterleave = 10

	// syncRetryDelay is how long the worker waits before retrying a
	// timed-out sync task.
	syncRetryDelay = 100 * time.Millisecond
)

// Worker is the Transfer Worker: it owns the inbound/outbound queues
// and drives libusb transfers on a single background goroutine.
type Worker struct {
	controlQ       chan *Task
	writeQ         chan *Task
	priorityWriteQ chan *Task
	readQ          chan *Task
	syncQ          chan *Task

	controlCompleteQ chan *Task
	writeCompleteQ   chan *Task
	readCompleteQ    chan *Task

	repeats *repeatRegistry

	quit   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *Logger
}

// queueDepth bounds each channel; the worker is meant to be serviced
// continuously by the Supervisor's fast tick, so deep backlogs indicate
// a stuck caller rather than a steady-state condition.
const queueDepth = 256

// NewWorker creates a Transfer Worker and starts its polling goroutine.
func NewWorker(logger *Logger) *Worker {
	if logger == nil {
		logger = Log
	}

	w := &Worker{
		controlQ:         make(chan *Task, queueDepth),
		writeQ:           make(chan *Task, queueDepth),
		priorityWriteQ:   make(chan *Task, queueDepth),
		readQ:            make(chan *Task, queueDepth),
		syncQ:            make(chan *Task, queueDepth),
		controlCompleteQ: make(chan *Task, queueDepth),
		writeCompleteQ:   make(chan *Task, queueDepth),
		readCompleteQ:    make(chan *Task, queueDepth),
		repeats:          newRepeatRegistry(),
		quit:             make(chan struct{}),
		done:             make(chan struct{}),
		logger:           logger,
	}

	go w.poll()

	return w
}

// Quit stops the worker's polling goroutine and clears every queue.
// It does not block; callers that need to know the worker has actually
// stopped should select on Done().
func (w *Worker) Quit() {
	w.once.Do(func() { close(w.quit) })
}

// Done returns a channel closed once the worker loop has exited and
// drained its queues.
func (w *Worker) Done() <-chan struct{} { return w.done }

// AddControlTask submits a control transfer. If sync is true it is
// queued on the heterogeneous sync queue (in-order with writes),
// otherwise on the control queue.
func (w *Worker) AddControlTask(t *Task, sync bool) {
	if t.Handle == nil {
		return
	}
	if sync {
		w.syncQ <- t
		return
	}
	w.controlQ <- t
}

// AddWriteTask submits a bulk-write task.
func (w *Worker) AddWriteTask(t *Task, sync bool) {
	if sync {
		w.syncQ <- t
		return
	}
	w.writeQ <- t
}

// AddReadTask submits a bulk-read task. When newRepeat is true, the
// (owner, endpoint) pair is registered in the repeat registry so every
// future completion or retryable failure re-arms a fresh read.
func (w *Worker) AddReadTask(t *Task, newRepeat bool) {
	if newRepeat {
		w.repeats.add(t.Owner, t.Endpoint)
	}
	w.readQ <- t
}

// CancelAutoreads stops repeating reads for owner on each endpoint in
// eps; any in-flight transfer still completes naturally.
func (w *Worker) CancelAutoreads(owner interface{}, eps []int) {
	for _, ep := range eps {
		w.repeats.cancel(owner, ep)
	}
}

// CompleteControlTask pops at most one finished control task and runs
// its completion callback inline on the caller's goroutine. Returns the
// task, or nil if the completion queue was empty.
func (w *Worker) CompleteControlTask() *Task {
	select {
	case t := <-w.controlCompleteQ:
		t.complete(t.Data)
		return t
	default:
		return nil
	}
}

// CompleteWriteTask pops at most one finished write task.
func (w *Worker) CompleteWriteTask() *Task {
	select {
	case t := <-w.writeCompleteQ:
		t.complete(t.Data)
		return t
	default:
		return nil
	}
}

// CompleteReadTask pops at most one finished read task.
func (w *Worker) CompleteReadTask() *Task {
	select {
	case t := <-w.readCompleteQ:
		t.complete(t.Data)
		return t
	default:
		return nil
	}
}

// poll is the worker's single-threaded main loop. It owns every
// UsbHandle passed to it through tasks, so libusb (via gousb) is only
// ever touched from this goroutine.
func (w *Worker) poll() {
	defer close(w.done)

	for {
		select {
		case <-w.quit:
			w.drain()
			return
		default:
		}

		w.handleControlTask()
		w.handleWriteTask()
		w.handleReadTask()
		w.handleReadTask()
		w.handleReadTask()
		w.handleSyncTasks()

		time.Sleep(workerPollInterval)
	}
}

func (w *Worker) drain() {
	for _, q := range []chan *Task{
		w.controlQ, w.writeQ, w.priorityWriteQ, w.readQ, w.syncQ,
		w.controlCompleteQ, w.writeCompleteQ, w.readCompleteQ,
	} {
		for {
			select {
			case <-q:
			default:
				goto next
			}
		}
	next:
	}
}

func (w *Worker) submitControl(t *Task) error {
	n, err := t.Handle.Control(t.DirIn, t.Request, t.Value, t.Index, t.controlBuf(), t.Timeout)
	if err != nil {
		return err
	}
	if t.DirIn {
		t.Data = t.Data[:n]
	}
	return nil
}

// controlBuf returns the buffer the transfer reads into/writes from:
// for IN transfers a fresh buffer of Length bytes, for OUT the caller's
// Data as-is.
func (t *Task) controlBuf() []byte {
	if t.DirIn {
		if t.Data == nil {
			t.Data = make([]byte, t.Length)
		}
		return t.Data
	}
	return t.Data
}

func (w *Worker) handleControlTask() {
	select {
	case t := <-w.controlQ:
		err := w.submitControl(t)
		if err == nil {
			if t.OnComplete != nil {
				w.controlCompleteQ <- t
			}
			return
		}
		w.handleControlError(t, err, func() { w.controlQ <- t })
	default:
	}
}

// handleControlError applies the control-queue retry policy (the sync
// queue applies its own, in handleSyncTasks). requeue re-submits t onto
// the queue the caller polled it from.
func (w *Worker) handleControlError(t *Task, err error, requeue func()) {
	uerr := classifyUsbError("control", err)

	switch uerr.Code {
	case UsbErrTimeout:
		w.logger.Debug(' ', "USB timeout, retrying control task")
		requeue()
	case UsbErrStall:
		if t.Retries <= 0 {
			w.logger.Debug(' ', "USB stall, dropping control task")
			t.fail()
		} else {
			t.Retries--
			w.logger.Debug(' ', "USB stall, retrying control task (retries left: %d)", t.Retries)
			requeue()
		}
	case UsbErrNoDevice:
		w.logger.Error(' ', "no such device")
		t.fail()
	default:
		w.logger.Error(' ', "USB control error: %s", err)
		t.fail()
	}
}

func (w *Worker) handleWriteTask() {
	q := w.writeQ
	if len(w.priorityWriteQ) > 0 {
		q = w.priorityWriteQ
	}

	select {
	case t := <-q:
		n, err := t.Handle.WriteBulk(t.Endpoint, t.Data, t.Timeout)
		if err == nil {
			if n == len(t.Data) {
				w.writeCompleteQ <- t
			} else {
				t.Data = t.Data[n:]
				w.priorityWriteQ <- t
			}
			return
		}

		uerr := classifyUsbError("write", err)
		switch uerr.Code {
		case UsbErrTimeout:
			w.logger.Debug(' ', "USB timeout, retrying write task")
			w.priorityWriteQ <- t
		case UsbErrNoDevice:
			w.logger.Error(' ', "no such device")
			t.fail()
		default:
			w.logger.Error(' ', "USB write error: %s", err)
			t.fail()
		}
	default:
	}
}

func (w *Worker) handleReadTask() {
	select {
	case t := <-w.readQ:
		buf := make([]byte, t.Length)
		n, err := t.Handle.ReadBulk(t.Endpoint|0x80, buf, t.Timeout)

		if err == nil {
			t.Data = buf[:n]
			w.readCompleteQ <- t
			w.rearmIfRepeating(t)
			return
		}

		uerr := classifyUsbError("read", err)
		switch uerr.Code {
		case UsbErrTimeout:
			w.rearmIfRepeating(t)
		case UsbErrIO:
			w.rearmIfRepeating(t)
			w.logger.Error(' ', "USB I/O error on read")
			t.fail()
		case UsbErrNoDevice:
			w.logger.Error(' ', "no such device")
			t.fail()
		default:
			w.logger.Error(' ', "unexpected USB read error: %s", err)
			t.fail()
		}
	default:
	}
}

// rearmIfRepeating enqueues a fresh replacement read task with the same
// parameters as t, never reusing t's buffer, when (owner, endpoint) is
// still registered as repeating.
func (w *Worker) rearmIfRepeating(t *Task) {
	if !w.repeats.shouldRepeat(t) {
		return
	}
	fresh := NewReadTask(t.Handle, t.Owner, t.Endpoint, t.Length, t.Timeout, true, t.OnComplete, t.OnFail)
	w.readQ <- fresh
}

func (w *Worker) handleSyncTasks() {
	var retry *Task

	for {
		var t *Task

		if retry != nil && retry.Retries > 0 {
			retry.Retries--
			t = retry
			retry = nil
			time.Sleep(syncRetryDelay)
		} else {
			select {
			case next := <-w.syncQ:
				t = next
			default:
				return
			}
		}

		var err error
		switch t.Kind {
		case TaskControl:
			err = w.submitControl(t)
			if err == nil && t.OnComplete != nil {
				w.controlCompleteQ <- t
			}
		case TaskWrite:
			for len(t.Data) > 0 {
				var n int
				n, err = t.Handle.WriteBulk(t.Endpoint, t.Data, t.Timeout)
				if err != nil {
					break
				}
				t.Data = t.Data[n:]
			}
			if err == nil && t.OnComplete != nil {
				w.writeCompleteQ <- t
			}
		default:
			w.logger.Error(' ', "only write and control tasks are supported on the sync queue")
			t.fail()
		}

		if err != nil {
			uerr := classifyUsbError("sync", err)
			switch uerr.Code {
			case UsbErrTimeout:
				if t.Retries <= 0 {
					w.logger.Debug(' ', "USB timeout, dropping sync task")
					t.fail()
				} else {
					w.logger.Debug(' ', "USB timeout, retrying sync task")
					retry = t
				}
			case UsbErrStall:
				if t.Retries <= 0 {
					w.logger.Debug(' ', "USB stall, dropping sync task")
					t.fail()
				} else {
					w.logger.Debug(' ', "USB stall, retrying sync task (retries left: %d)", t.Retries)
					retry = t
				}
			case UsbErrNoDevice:
				w.logger.Error(' ', "no such device")
				t.fail()
			default:
				w.logger.Error(' ', "USB sync error: %s", err)
				t.fail()
			}
		}

		for i := 0; i < syncReadInterleave; i++ {
			w.handleReadTask()
		}
	}
}
