package fanout

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/napper/internal/snapshot"
)

func msg(seq int64) Message {
	return Message{Seq: seq, Origin: "dev-a", State: snapshot.Empty()}
}

func receive(t *testing.T, c *Channel) Message {
	t.Helper()
	select {
	case m := <-c.C():
		return m
	case <-time.After(time.Second):
		t.Fatal("no message received")
		return Message{}
	}
}

func TestHub_BroadcastReachesAll(t *testing.T) {
	h := NewHub()
	a := h.Subscribe("a")
	b := h.Subscribe("b")
	defer a.Close()
	defer b.Close()

	h.Broadcast(msg(1))

	assert.Equal(t, int64(1), receive(t, a).Seq)
	assert.Equal(t, int64(1), receive(t, b).Seq)
}

func TestChannel_LatestWins(t *testing.T) {
	h := NewHub()
	c := h.Subscribe("slow")
	defer c.Close()

	for seq := int64(1); seq <= 5; seq++ {
		h.Broadcast(msg(seq))
	}

	assert.Equal(t, int64(5), receive(t, c).Seq)
	select {
	case m := <-c.C():
		t.Fatalf("unexpected second message %d", m.Seq)
	default:
	}
}

func TestChannel_CloseDetaches(t *testing.T) {
	h := NewHub()
	c := h.Subscribe("a")
	require.Equal(t, 1, h.Len())

	c.Close()
	c.Close()
	assert.Equal(t, 0, h.Len())

	select {
	case <-c.Done():
	default:
		t.Fatal("done not closed")
	}

	h.Broadcast(msg(1))
	select {
	case <-c.C():
		t.Fatal("closed channel received a message")
	default:
	}
}

func TestHub_NewSubscriberGetsNothingOld(t *testing.T) {
	h := NewHub()
	h.Broadcast(msg(1))

	c := h.Subscribe("late")
	defer c.Close()

	select {
	case <-c.C():
		t.Fatal("late subscriber received an old broadcast")
	default:
	}
}

func TestHub_CloseDuringBroadcast(t *testing.T) {
	h := NewHub()
	steady := h.Subscribe("steady")
	defer steady.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		c := h.Subscribe("flaky")
		go func() {
			defer wg.Done()
			c.Close()
		}()
		go func(seq int64) {
			defer wg.Done()
			h.Broadcast(msg(seq))
		}(int64(i + 1))
	}
	wg.Wait()

	h.Broadcast(msg(1000))
	assert.Equal(t, int64(1000), receive(t, steady).Seq)
	assert.Equal(t, 1, h.Len())
}
