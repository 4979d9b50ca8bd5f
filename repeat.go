/* usbhub - host-side USB device management core
 *
 * Transfer Worker: repeat-read registry
 */

package usbhub

// repeatKey identifies a repeating read by (owner, endpoint).
type repeatKey struct {
	owner    interface{}
	endpoint int
}

// repeatRegistry tracks which (device, endpoint) pairs have an active
// auto-repeating read, mirroring the original's repeatTasks class.
type repeatRegistry struct {
	active map[repeatKey]bool
}

func newRepeatRegistry() *repeatRegistry {
	return &repeatRegistry{active: make(map[repeatKey]bool)}
}

// shouldRepeat reports whether t should be silently re-submitted. A
// task whose (owner, endpoint) pair was cancelled no longer repeats,
// even if the task itself still carries Repeat == true.
func (r *repeatRegistry) shouldRepeat(t *Task) bool {
	if !t.Repeat {
		return false
	}
	if !r.active[repeatKey{t.Owner, t.Endpoint}] {
		t.Repeat = false
		return false
	}
	return true
}

// add marks (owner, endpoint) as repeating.
func (r *repeatRegistry) add(owner interface{}, endpoint int) {
	r.active[repeatKey{owner, endpoint}] = true
}

// cancel stops repeating reads for (owner, endpoint).
func (r *repeatRegistry) cancel(owner interface{}, endpoint int) {
	delete(r.active, repeatKey{owner, endpoint})
}
