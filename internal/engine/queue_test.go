package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func batchJob(name string) job {
	j := newJob(jobAppend)
	j.batch = name
	return j
}

func TestJobQueue_FIFO(t *testing.T) {
	q := newJobQueue()
	for _, name := range []string{"A", "B", "C"} {
		require.True(t, q.Enqueue(batchJob(name)))
	}
	assert.Equal(t, 3, q.Len())

	for _, want := range []string{"A", "B", "C"} {
		j, ok := q.TryDequeue()
		require.True(t, ok)
		assert.Equal(t, want, j.batch)
	}
	_, ok := q.TryDequeue()
	assert.False(t, ok)
}

func TestJobQueue_SignalCoalesces(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(batchJob("A"))
	q.Enqueue(batchJob("B"))

	<-q.Wait()
	select {
	case <-q.Wait():
		t.Fatal("expected a single coalesced signal")
	default:
	}
	assert.Equal(t, 2, q.Len())
}

func TestJobQueue_CloseReturnsPending(t *testing.T) {
	q := newJobQueue()
	q.Enqueue(batchJob("A"))
	q.Enqueue(batchJob("B"))

	pending := q.Close()
	assert.Len(t, pending, 2)
	assert.True(t, q.Closed())
	assert.Equal(t, 0, q.Len())
	assert.Nil(t, q.Close(), "second close returns nothing")

	assert.False(t, q.Enqueue(batchJob("C")))

	_, open := <-q.Wait()
	assert.False(t, open, "wait channel closed")
}

func TestJobQueue_ConcurrentProducers(t *testing.T) {
	q := newJobQueue()
	const producers = 10
	const perProducer = 100

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(batchJob("x"))
			}
		}()
	}
	wg.Wait()

	n := 0
	for {
		if _, ok := q.TryDequeue(); !ok {
			break
		}
		n++
	}
	assert.Equal(t, producers*perProducer, n)
}
