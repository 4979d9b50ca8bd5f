/* usbhub - host-side USB device management core */

package usbhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRepeatRegistry(t *testing.T) {
	r := newRepeatRegistry()
	owner := "dev"

	t1 := &Task{Owner: owner, Endpoint: 1, Repeat: true}
	assert.False(t, r.shouldRepeat(t1), "not registered yet, should not repeat")
	assert.False(t, t1.Repeat, "shouldRepeat must clear the flag once unregistered")

	r.add(owner, 1)
	t2 := &Task{Owner: owner, Endpoint: 1, Repeat: true}
	assert.True(t, r.shouldRepeat(t2))

	r.cancel(owner, 1)
	t3 := &Task{Owner: owner, Endpoint: 1, Repeat: true}
	assert.False(t, r.shouldRepeat(t3))
}
