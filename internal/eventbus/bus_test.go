package eventbus

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()
	a, unsubA := b.Subscribe(4)
	c, unsubC := b.Subscribe(4)
	defer unsubA()
	defer unsubC()

	b.Publish(Event{Type: TypeNotice, Data: "x"})

	for _, ch := range []<-chan Event{a, c} {
		select {
		case e := <-ch:
			assert.Equal(t, TypeNotice, e.Type)
			assert.False(t, e.Time.IsZero())
		case <-time.After(time.Second):
			t.Fatal("event not delivered")
		}
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})

	e := <-ch
	assert.Equal(t, "a", e.Type)
	select {
	case e := <-ch:
		t.Fatalf("unexpected event %q", e.Type)
	default:
	}
}

func TestUnsubscribeIsIdempotent(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()
	_, ok := <-ch
	require.False(t, ok)
	b.Publish(Event{Type: "after"})
}

func TestSubscribeByType(t *testing.T) {
	t.Parallel()
	b := New()
	ch, unsub := b.Subscribe(1, TypeSessionComplete, TypeSessionStopped)
	defer unsub()

	// A notice flood must not crowd out the wanted events.
	for i := 0; i < 10; i++ {
		b.Publish(Event{Type: TypeNotice})
	}
	b.Publish(Event{Type: TypeSessionComplete, Data: "id"})

	select {
	case e := <-ch:
		assert.Equal(t, TypeSessionComplete, e.Type)
		assert.Equal(t, "id", e.Data)
	case <-time.After(time.Second):
		t.Fatal("event not delivered")
	}
}
