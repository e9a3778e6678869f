package wasi_snapshot_preview1

import (
	"context"
	"crypto/rand"

	"github.com/gowasm/gowasm/api"
)

// randomGet implements the WASI function random_get, filling bufLen bytes
// starting at buf with cryptographically random data.
func (a *wasi) randomGet(ctx context.Context, mod api.Module, stack []uint64) {
	buf, bufLen := uint32(stack[0]), uint32(stack[1])

	b := make([]byte, bufLen)
	if _, err := rand.Read(b); err != nil {
		stack[0] = uint64(ErrnoIo)
		return
	}
	if !mod.Memory().Write(ctx, buf, b) {
		stack[0] = uint64(ErrnoFault)
		return
	}
	stack[0] = uint64(ErrnoSuccess)
}
