package wasi_snapshot_preview1

import (
	"context"
	"io"

	"github.com/gowasm/gowasm/api"
)

// Standard stream file descriptors; gowasm has no preopened directories or
// sockets, so these are the only valid fds this module ever sees.
const (
	fdStdin  = 0
	fdStdout = 1
	fdStderr = 2
)

// fdWrite implements the WASI function fd_write: it reads an iovec array
// (iovsLen pairs of (ptr u32, len u32)) out of guest memory, writes the
// concatenated bytes to the writer backing fd, and records the total byte
// count at nwrittenPtr.
func (a *wasi) fdWrite(ctx context.Context, mod api.Module, stack []uint64) {
	fd, iovs, iovsLen, nwrittenPtr := uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3])

	var w io.Writer
	switch fd {
	case fdStdout:
		w = a.cfg.stdout
	case fdStderr:
		w = a.cfg.stderr
	default:
		stack[0] = uint64(ErrnoBadf)
		return
	}

	mem := mod.Memory()
	var written uint32
	for i := uint32(0); i < iovsLen; i++ {
		ptr, ok := mem.ReadUint32Le(ctx, iovs+i*8)
		if !ok {
			stack[0] = uint64(ErrnoFault)
			return
		}
		length, ok := mem.ReadUint32Le(ctx, iovs+i*8+4)
		if !ok {
			stack[0] = uint64(ErrnoFault)
			return
		}
		buf, ok := mem.Read(ctx, ptr, length)
		if !ok {
			stack[0] = uint64(ErrnoFault)
			return
		}
		n, err := w.Write(buf)
		written += uint32(n)
		if err != nil {
			stack[0] = uint64(ErrnoIo)
			return
		}
	}

	if !mem.WriteUint32Le(ctx, nwrittenPtr, written) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}

// fdRead implements the WASI function fd_read: the mirror image of
// fdWrite, filling each iovec in turn from the reader backing fd until it
// is exhausted or returns an error.
func (a *wasi) fdRead(ctx context.Context, mod api.Module, stack []uint64) {
	fd, iovs, iovsLen, nreadPtr := uint32(stack[0]), uint32(stack[1]), uint32(stack[2]), uint32(stack[3])

	if fd != fdStdin {
		stack[0] = uint64(ErrnoBadf)
		return
	}

	mem := mod.Memory()
	var read uint32
	for i := uint32(0); i < iovsLen; i++ {
		ptr, ok := mem.ReadUint32Le(ctx, iovs+i*8)
		if !ok {
			stack[0] = uint64(ErrnoFault)
			return
		}
		length, ok := mem.ReadUint32Le(ctx, iovs+i*8+4)
		if !ok {
			stack[0] = uint64(ErrnoFault)
			return
		}
		buf := make([]byte, length)
		n, err := a.cfg.stdin.Read(buf)
		if n > 0 {
			if !mem.Write(ctx, ptr, buf[:n]) {
				stack[0] = uint64(ErrnoFault)
				return
			}
			read += uint32(n)
		}
		if err != nil {
			break
		}
	}

	if !mem.WriteUint32Le(ctx, nreadPtr, read) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}

// fdClose implements the WASI function fd_close. There is no open-file
// table to release from (gowasm has no preopened directories), so this
// only validates that fd names one of the three standard streams.
func (a *wasi) fdClose(_ context.Context, _ api.Module, stack []uint64) {
	switch uint32(stack[0]) {
	case fdStdin, fdStdout, fdStderr:
		stack[0] = uint64(ErrnoSuccess)
	default:
		stack[0] = uint64(ErrnoBadf)
	}
}
