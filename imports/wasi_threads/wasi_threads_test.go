package wasi_threads

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	wazero "github.com/gowasm/gowasm"
	"github.com/gowasm/gowasm/internal/cluster"
)

func TestThreadSpawn_RunsGuestStartFunctionAndReturnsTID(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime()
	defer r.Close(ctx)

	var mu sync.Mutex
	var gotTID, gotArg uint32
	done := make(chan struct{})

	guest, err := r.NewHostModuleBuilder("guest").
		NewFunctionBuilder().
		WithFunc(func(ctx context.Context, tid, startArg uint32) {
			mu.Lock()
			gotTID, gotArg = tid, startArg
			mu.Unlock()
			close(done)
		}).
		Export(startExportName).
		Instantiate(ctx)
	require.NoError(t, err)

	c := cluster.New(ctx, 0)
	th := &threads{cluster: c}
	th.nextTID.Store(1)

	stack := []uint64{42}
	th.threadSpawn(ctx, guest, stack)
	require.Equal(t, uint64(1), stack[0])

	<-done
	require.NoError(t, c.Join())

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, uint32(1), gotTID)
	require.Equal(t, uint32(42), gotArg)
}

func TestThreadSpawn_ReturnsMinusOneWithoutGuestStart(t *testing.T) {
	ctx := context.Background()
	r := wazero.NewRuntime()
	defer r.Close(ctx)

	guest, err := r.NewHostModuleBuilder("guest").Instantiate(ctx)
	require.NoError(t, err)

	c := cluster.New(ctx, 0)
	th := &threads{cluster: c}
	th.nextTID.Store(1)

	stack := []uint64{0}
	th.threadSpawn(ctx, guest, stack)
	require.Equal(t, uint64(0xffffffff), stack[0])
}
