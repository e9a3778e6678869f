package wasi_snapshot_preview1

import (
	"context"

	"github.com/gowasm/gowasm/api"
)

// argsSizesGet implements the WASI function args_sizes_get, writing the
// argument count to argc and the size needed to hold every argument
// (each NUL-terminated) to argvBufSize.
func (a *wasi) argsSizesGet(ctx context.Context, mod api.Module, stack []uint64) {
	argc, argvBufSize := uint32(stack[0]), uint32(stack[1])
	mem := mod.Memory()

	size := 0
	for _, arg := range a.cfg.args {
		size += len(arg) + 1
	}

	if !mem.WriteUint32Le(ctx, argc, uint32(len(a.cfg.args))) || !mem.WriteUint32Le(ctx, argvBufSize, uint32(size)) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}

// argsGet implements the WASI function args_get, writing argv (an array of
// pointers into argvBuf) and argvBuf (each argument, NUL-terminated, packed
// back to back) into guest memory.
func (a *wasi) argsGet(ctx context.Context, mod api.Module, stack []uint64) {
	argv, argvBuf := uint32(stack[0]), uint32(stack[1])
	mem := mod.Memory()

	bufPos := argvBuf
	for i, arg := range a.cfg.args {
		if !mem.WriteUint32Le(ctx, argv+uint32(i*4), bufPos) {
			stack[0] = uint64(ErrnoFault)
			return
		}
		if !mem.Write(ctx, bufPos, append([]byte(arg), 0)) {
			stack[0] = uint64(ErrnoFault)
			return
		}
		bufPos += uint32(len(arg) + 1)
	}
	stack[0] = uint64(ErrnoSuccess)
}

// environSizesGet implements the WASI function environ_sizes_get.
func (a *wasi) environSizesGet(ctx context.Context, mod api.Module, stack []uint64) {
	count, bufSize := uint32(stack[0]), uint32(stack[1])
	mem := mod.Memory()

	size := 0
	for _, kv := range a.cfg.environ {
		size += len(kv) + 1
	}

	if !mem.WriteUint32Le(ctx, count, uint32(len(a.cfg.environ))) || !mem.WriteUint32Le(ctx, bufSize, uint32(size)) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}

// environGet implements the WASI function environ_get, in the same
// pointer-array-plus-packed-buffer shape as argsGet.
func (a *wasi) environGet(ctx context.Context, mod api.Module, stack []uint64) {
	environ, environBuf := uint32(stack[0]), uint32(stack[1])
	mem := mod.Memory()

	bufPos := environBuf
	for i, kv := range a.cfg.environ {
		if !mem.WriteUint32Le(ctx, environ+uint32(i*4), bufPos) {
			stack[0] = uint64(ErrnoFault)
			return
		}
		if !mem.Write(ctx, bufPos, append([]byte(kv), 0)) {
			stack[0] = uint64(ErrnoFault)
			return
		}
		bufPos += uint32(len(kv) + 1)
	}
	stack[0] = uint64(ErrnoSuccess)
}
