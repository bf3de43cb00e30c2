package txlifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventBusDeliversToAllSubscribers(t *testing.T) {
	eb := newEventBus()
	defer eb.close()

	ch1, unsub1 := eb.subscribe(4)
	ch2, unsub2 := eb.subscribe(4)
	defer unsub1()
	defer unsub2()

	eb.publish(StatusEvent{TxID: "tx-1", Status: StatusPending})

	ev1 := <-ch1
	ev2 := <-ch2
	assert.Equal(t, "tx-1", ev1.TxID)
	assert.Equal(t, "tx-1", ev2.TxID)
	assert.False(t, ev1.Time.IsZero(), "publish stamps missing times")
}

func TestEventBusDropsForSlowSubscriber(t *testing.T) {
	eb := newEventBus()
	defer eb.close()

	ch, unsub := eb.subscribe(1)
	defer unsub()

	done := make(chan struct{})
	go func() {
		// A full buffer must never block the publisher.
		for i := 0; i < 10; i++ {
			eb.publish(StatusEvent{TxID: "tx-1", Status: StatusPending})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a slow subscriber")
	}

	// The buffered event is still there.
	ev := <-ch
	assert.Equal(t, "tx-1", ev.TxID)
}

func TestEventBusUnsubscribeClosesChannel(t *testing.T) {
	eb := newEventBus()
	defer eb.close()

	ch, unsub := eb.subscribe(1)
	unsub()

	_, open := <-ch
	assert.False(t, open)

	// Unsubscribing twice is harmless.
	unsub()

	// Publishing after unsubscribe must not panic.
	eb.publish(StatusEvent{TxID: "tx-1"})
}

func TestEventBusClose(t *testing.T) {
	eb := newEventBus()

	ch, _ := eb.subscribe(1)
	eb.close()

	_, open := <-ch
	require.False(t, open)

	// Subscribing after close returns a closed channel.
	ch2, unsub := eb.subscribe(1)
	_, open = <-ch2
	assert.False(t, open)
	unsub()
}
