// Package wasi_threads implements the wasi-threads proposal's single
// import, thread-spawn: the host module a guest compiled with shared
// memory links against to start new threads of its own execution.
//
// tetratelabs/wazero has no multi-threaded Wasm support to adapt, so this
// package is new, built directly on internal/cluster — see DESIGN.md.
package wasi_threads

import (
	"context"
	"fmt"
	"sync/atomic"

	wazero "github.com/gowasm/gowasm"
	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/cluster"
)

// ModuleName is the module name guests import thread-spawn from, per the
// wasi-threads proposal.
const ModuleName = "wasi"

// startExportName is the guest-exported entry point every spawned thread
// runs, per the wasi-threads proposal: func(tid i32, startArg i32).
const startExportName = "wasi_thread_start"

type threads struct {
	cluster *cluster.Cluster
	nextTID atomic.Int32
}

// Instantiate instantiates the "wasi" host module backing thread-spawn,
// with c as the Cluster new threads are registered on. Callers create one
// Cluster per module instance with shared memory and pass it to both this
// function and, once done, Cluster.Join to wait for every spawned thread.
func Instantiate(ctx context.Context, r wazero.Runtime, c *cluster.Cluster) (api.Closer, error) {
	t := &threads{cluster: c}
	t.nextTID.Store(1) // tid 0 is reserved for the instantiating (main) thread.

	builder := r.NewHostModuleBuilder(ModuleName)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(t.threadSpawn, []api.ValueType{api.ValueTypeI32}, []api.ValueType{api.ValueTypeI32}).
		WithName("thread-spawn").
		Export("thread-spawn")
	return builder.Instantiate(ctx)
}

// threadSpawn implements thread-spawn(start_arg: i32) -> i32. It returns
// the new thread's id immediately without waiting for it to run (spawn is
// fire-and-forget, matching the proposal), or -1 if the guest does not
// export wasi_thread_start.
func (t *threads) threadSpawn(_ context.Context, mod api.Module, stack []uint64) {
	startArg := uint32(stack[0])

	start := mod.ExportedFunction(startExportName)
	if start == nil {
		stack[0] = uint64(uint32(0xffffffff)) // -1 as i32
		return
	}

	wazero.AttachSuspendHook(mod, t.cluster)

	tid := t.nextTID.Add(1) - 1
	t.cluster.Go(func(ctx context.Context) error {
		_, err := start.Call(ctx, uint64(tid), uint64(startArg))
		if err != nil {
			return fmt.Errorf("thread %d: %w", tid, err)
		}
		return nil
	})

	stack[0] = uint64(uint32(tid))
}
