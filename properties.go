/* usbhub - host-side USB device management core
 *
 * Device (C2): property store with compare-and-fire-on-change
 * semantics and the before-init gate.
 */

package usbhub

import "sync"

// propertyStore backs a Device's auto-polled metadata: a closed set of
// named string properties, each with its own change subscribers, plus
// the init-done gate that closes once every before-init vendor request
// has either replied or been blacklisted.
type propertyStore struct {
	mu         sync.Mutex
	values     map[PropName]string
	onChange   map[PropName][]func(old, new string)
	requests   []vendorRequest // mutable copy; blacklisting removes entries
	beforeInit map[uint8]bool  // request codes still gating init_done
	initDone   bool
	onInitDone []func()
}

func newPropertyStore(requests []vendorRequest) *propertyStore {
	ps := &propertyStore{
		values:     make(map[PropName]string, propCount),
		onChange:   make(map[PropName][]func(old, new string)),
		requests:   append([]vendorRequest(nil), requests...),
		beforeInit: make(map[uint8]bool, len(requests)),
	}
	for _, r := range requests {
		ps.beforeInit[r.req] = true
	}
	ps.initDone = len(ps.beforeInit) == 0
	return ps
}

// get returns the current value of prop, and whether it has ever been set.
func (ps *propertyStore) get(prop PropName) (string, bool) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	v, ok := ps.values[prop]
	return v, ok
}

// set stores a new value for prop, firing onChange subscribers only
// when the value actually differs from the prior one.
func (ps *propertyStore) set(prop PropName, value string) {
	ps.mu.Lock()
	old, had := ps.values[prop]
	ps.values[prop] = value
	changed := !had || old != value
	var subs []func(old, new string)
	if changed {
		subs = append(subs, ps.onChange[prop]...)
	}
	ps.mu.Unlock()

	if changed {
		for _, cb := range subs {
			cb(old, value)
		}
	}
}

// onPropChange registers cb to run whenever prop changes.
func (ps *propertyStore) onPropChange(prop PropName, cb func(old, new string)) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.onChange[prop] = append(ps.onChange[prop], cb)
}

// whenInitDone registers cb to run exactly once, as soon as init_done
// becomes true (immediately, if it already is).
func (ps *propertyStore) whenInitDone(cb func()) {
	ps.mu.Lock()
	if ps.initDone {
		ps.mu.Unlock()
		cb()
		return
	}
	ps.onInitDone = append(ps.onInitDone, cb)
	ps.mu.Unlock()
}

func (ps *propertyStore) isInitDone() bool {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return ps.initDone
}

// requestReplied removes req from the before-init set; if that was the
// last entry, init_done flips to true and its subscribers fire.
func (ps *propertyStore) requestReplied(req uint8) {
	ps.mu.Lock()
	delete(ps.beforeInit, req)
	becameDone := !ps.initDone && len(ps.beforeInit) == 0
	if becameDone {
		ps.initDone = true
	}
	var cbs []func()
	if becameDone {
		cbs = ps.onInitDone
		ps.onInitDone = nil
	}
	ps.mu.Unlock()

	for _, cb := range cbs {
		cb()
	}
}

// blacklist permanently removes req from the auto-metadata table and,
// like a reply, releases it from the before-init gate.
func (ps *propertyStore) blacklist(req uint8) []vendorRequest {
	ps.mu.Lock()
	kept := ps.requests[:0:0]
	for _, r := range ps.requests {
		if r.req != req {
			kept = append(kept, r)
		}
	}
	ps.requests = kept
	ps.mu.Unlock()

	ps.requestReplied(req)

	return kept
}

// activeRequests returns the current (non-blacklisted) auto-metadata table.
func (ps *propertyStore) activeRequests() []vendorRequest {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	return append([]vendorRequest(nil), ps.requests...)
}
