package wasi_snapshot_preview1

import (
	"context"
	"runtime"

	"github.com/gowasm/gowasm/api"
)

// schedYield implements the WASI function sched_yield by yielding the
// underlying Go goroutine; gowasm has no guest-visible scheduler to yield
// to beyond that.
func (a *wasi) schedYield(_ context.Context, _ api.Module, stack []uint64) {
	runtime.Gosched()
	stack[0] = uint64(ErrnoSuccess)
}
