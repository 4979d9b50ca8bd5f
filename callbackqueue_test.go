/* usbhub - host-side USB device management core */

package usbhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCallbackQueueFIFOAndDrain(t *testing.T) {
	q := NewCallbackQueue()

	var order []string
	a := WrapFunc(q, func() { order = append(order, "A") })
	b := WrapFunc(q, func() { order = append(order, "B") })
	c := WrapFunc(q, func() { order = append(order, "C") })

	a()
	b()
	c()

	assert.True(t, q.Poll())
	assert.Equal(t, []string{"A", "B", "C"}, order)
	assert.False(t, q.Poll(), "second poll on an empty queue returns false")
}

func TestCallbackQueueDrainLimit(t *testing.T) {
	q := NewCallbackQueue()

	count := 0
	fn := WrapFunc(q, func() { count++ })
	for i := 0; i < callbackQueueDrainLimit+10; i++ {
		fn()
	}

	q.Poll()
	assert.Equal(t, callbackQueueDrainLimit, count)

	q.Poll()
	assert.Equal(t, callbackQueueDrainLimit+10, count)
}

func TestWrapGeneric(t *testing.T) {
	q := NewCallbackQueue()

	var got string
	wrapped := Wrap(q, func(s string) { got = s })
	wrapped("hello")

	assert.True(t, q.Poll())
	assert.Equal(t, "hello", got)
}
