package wasi_snapshot_preview1

import (
	"context"
	"time"

	"github.com/gowasm/gowasm/api"
)

// WASI clock ids this module understands; process/thread cputime clocks
// are not, since gowasm does not track per-instance CPU time.
const (
	clockIDRealtime  = 0
	clockIDMonotonic = 1
)

// monotonicBase is the reference point the monotonic clock counts from.
var monotonicBase = time.Now()

// clockResGet implements the WASI function clock_res_get. Both supported
// clocks report a 1 nanosecond resolution: the precision Go's time package
// itself reports, not a hardware-backed value.
func (a *wasi) clockResGet(ctx context.Context, mod api.Module, stack []uint64) {
	clockID := uint32(stack[0])
	resultPtr := uint32(stack[1])

	if clockID != clockIDRealtime && clockID != clockIDMonotonic {
		stack[0] = uint64(ErrnoInval)
		return
	}
	if !mod.Memory().WriteUint64Le(ctx, resultPtr, 1) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}

// clockTimeGet implements the WASI function clock_time_get, returning
// nanoseconds since the Unix epoch for realtime and since an arbitrary
// reference point for monotonic (the time since monotonicBase, which
// time.Since measures with Go's monotonic clock reading).
func (a *wasi) clockTimeGet(ctx context.Context, mod api.Module, stack []uint64) {
	clockID := uint32(stack[0])
	// stack[1] is the requested precision, advisory only.
	resultPtr := uint32(stack[2])

	if clockID != clockIDRealtime && clockID != clockIDMonotonic {
		stack[0] = uint64(ErrnoInval)
		return
	}
	now := uint64(time.Now().UnixNano())
	if clockID == clockIDMonotonic {
		now = uint64(time.Since(monotonicBase))
	}
	if !mod.Memory().WriteUint64Le(ctx, resultPtr, now) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}
