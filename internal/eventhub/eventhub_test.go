package eventhub

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPublishSubscribe(t *testing.T) {
	a := assert.New(t)

	h := New()

	ch1, cancel1 := h.Subscribe(4)
	defer cancel1()
	ch2, cancel2 := h.Subscribe(4)
	defer cancel2()

	h.Publish(TypeSongUpdate, map[string]int{"id": 3})

	e1 := <-ch1
	a.Equal(TypeSongUpdate, e1.Type)

	e2 := <-ch2
	a.Equal(TypeSongUpdate, e2.Type)
}

func TestCancelClosesChannel(t *testing.T) {
	a := assert.New(t)

	h := New()

	ch, cancel := h.Subscribe(1)
	a.Equal(1, h.SubscriberCount())

	cancel()
	a.Equal(0, h.SubscriberCount())

	_, open := <-ch
	a.False(open)

	// second cancel is harmless
	cancel()
}

func TestSlowSubscriberDoesNotBlock(t *testing.T) {
	a := assert.New(t)

	h := New()

	ch, cancel := h.Subscribe(1)
	defer cancel()

	h.Publish(TypeToast, "one")
	h.Publish(TypeToast, "two")
	h.Publish(TypeToast, "three")

	e := <-ch
	a.Equal("one", e.Data)

	select {
	case e, ok := <-ch:
		a.True(ok)
		a.Fail("unexpected buffered event", e)
	default:
	}
}
