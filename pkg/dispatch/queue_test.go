package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestQueue_RunsTasksInOrder(t *testing.T) {
	q := New(zaptest.NewLogger(t).Sugar())
	defer q.Close()

	var (
		mu  sync.Mutex
		got []int
	)
	for i := 0; i < 100; i++ {
		i := i
		require.True(t, q.Enqueue(func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}))
	}

	require.NoError(t, q.Sync(context.Background()))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 100)
	for i, v := range got {
		assert.Equal(t, i, v)
	}
}

func TestQueue_TasksNeverOverlap(t *testing.T) {
	q := New(zaptest.NewLogger(t).Sugar())
	defer q.Close()

	var running, overlaps int32
	var wg sync.WaitGroup
	for p := 0; p < 8; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				q.Enqueue(func() {
					if atomic.AddInt32(&running, 1) > 1 {
						atomic.AddInt32(&overlaps, 1)
					}
					time.Sleep(10 * time.Microsecond)
					atomic.AddInt32(&running, -1)
				})
			}
		}()
	}
	wg.Wait()

	require.NoError(t, q.Sync(context.Background()))
	assert.Zero(t, atomic.LoadInt32(&overlaps))
}

func TestQueue_PanickingTaskDoesNotStopDelivery(t *testing.T) {
	q := New(zaptest.NewLogger(t).Sugar())
	defer q.Close()

	var ran atomic.Bool
	q.Enqueue(func() { panic("observer blew up") })
	q.Enqueue(func() { ran.Store(true) })

	require.NoError(t, q.Sync(context.Background()))
	assert.True(t, ran.Load())
}

func TestQueue_CloseDrainsBacklogAndRejectsNewTasks(t *testing.T) {
	q := New(zaptest.NewLogger(t).Sugar())

	var count atomic.Int32
	block := make(chan struct{})
	q.Enqueue(func() { <-block })
	for i := 0; i < 10; i++ {
		q.Enqueue(func() { count.Add(1) })
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		close(block)
	}()
	q.Close()

	assert.Equal(t, int32(10), count.Load())
	assert.True(t, q.Closed())
	assert.False(t, q.Enqueue(func() { count.Add(1) }))
	assert.ErrorIs(t, q.Sync(context.Background()), ErrQueueClosed)

	// Close is idempotent.
	q.Close()
}

func TestQueue_EnqueueNilTask(t *testing.T) {
	q := New(nil)
	defer q.Close()

	assert.False(t, q.Enqueue(nil))
	assert.Equal(t, 0, q.Pending())
}

func TestQueue_SyncHonoursContext(t *testing.T) {
	q := New(zaptest.NewLogger(t).Sugar())
	defer q.Close()

	release := make(chan struct{})
	q.Enqueue(func() { <-release })
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Sync(ctx), context.DeadlineExceeded)
}
