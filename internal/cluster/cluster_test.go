package cluster

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/gowasm/gowasm/internal/wasm"
)

func TestCluster_Go_Join_PropagatesError(t *testing.T) {
	c := New(context.Background(), 0)

	boom := errors.New("boom")
	c.Go(func(ctx context.Context) error { return nil })
	c.Go(func(ctx context.Context) error { return boom })

	require.ErrorIs(t, c.Join(), boom)
}

func TestCluster_SetInterrupt_IsIdempotentAndSticky(t *testing.T) {
	c := New(context.Background(), 0)
	require.False(t, c.Interrupted())

	require.True(t, c.SetInterrupt())
	require.True(t, c.Interrupted())

	// A second call reports that an interrupt was already pending.
	require.False(t, c.SetInterrupt())
	require.True(t, c.Interrupted())
}

func TestCluster_CheckSuspend_InterruptTakesPriorityOverSuspend(t *testing.T) {
	c := New(context.Background(), 0)
	c.SetInterrupt()

	err := c.CheckSuspend()
	var trapErr *wasm.TrapError
	require.ErrorAs(t, err, &trapErr)
	require.Equal(t, wasm.TrapIDVoluntaryThreadExit, trapErr.ID)
}

func TestCluster_CheckSuspend_NoneWhileRunning(t *testing.T) {
	c := New(context.Background(), 0)
	require.NoError(t, c.CheckSuspend())
}

// TestCluster_SuspendThreads_WorkersParkAndResume exercises the intended
// usage: SuspendThreads is called from one of the cluster's own threads
// (e.g. the one about to grow a shared memory) and blocks until every
// other thread has observed the stopping state via CheckSuspend and
// parked. Unlike a restart-based design, those worker threads never
// unwind or terminate — each resumes its loop exactly where it left off
// once ResumeThreads releases them.
func TestCluster_SuspendThreads_WorkersParkAndResume(t *testing.T) {
	c := New(context.Background(), 0)

	const workers = 3
	var progress [workers]atomic.Int64
	started := make(chan struct{}, workers)
	for i := 0; i < workers; i++ {
		i := i
		c.Go(func(ctx context.Context) error {
			started <- struct{}{}
			for {
				if err := c.CheckSuspend(); err != nil {
					return err
				}
				progress[i].Add(1)
			}
		})
	}
	for i := 0; i < workers; i++ {
		<-started
	}

	suspended := make(chan struct{})
	c.Go(func(ctx context.Context) error {
		c.SuspendThreads()
		close(suspended)
		// While every other thread is parked, none of their progress
		// counters may advance.
		snapshot := make([]int64, workers)
		for i := range snapshot {
			snapshot[i] = progress[i].Load()
		}
		time.Sleep(20 * time.Millisecond)
		for i := range snapshot {
			if progress[i].Load() != snapshot[i] {
				return errors.New("worker advanced while suspended")
			}
		}
		c.ResumeThreads()
		return nil
	})

	select {
	case <-suspended:
	case <-time.After(5 * time.Second):
		t.Fatal("SuspendThreads never returned")
	}

	atSuspend := make([]int64, workers)
	for i := range atSuspend {
		atSuspend[i] = progress[i].Load()
	}

	// Every worker resumes making progress past where it was parked,
	// rather than having terminated.
	require.Eventually(t, func() bool {
		for i := range progress {
			if progress[i].Load() <= atSuspend[i] {
				return false
			}
		}
		return true
	}, time.Second, time.Millisecond)

	c.SetInterrupt()
	err := c.Join()
	var trapErr *wasm.TrapError
	require.ErrorAs(t, err, &trapErr)
	require.Equal(t, wasm.TrapIDVoluntaryThreadExit, trapErr.ID)
}
