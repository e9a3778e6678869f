package wasi_snapshot_preview1

import (
	"context"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/sys"
)

// procExit implements the WASI function proc_exit. Unlike every other
// export in this module it never returns an errno: the WASI contract is
// that it does not return control to the guest at all. Engine.Call
// recovers the *sys.ExitError this panics so the embedder sees an ordinary
// error return from api.Function.Call / Runtime.InstantiateModule instead
// of a crashed process.
func (a *wasi) procExit(ctx context.Context, mod api.Module, stack []uint64) {
	exitCode := uint32(stack[0])
	_ = mod.CloseWithExitCode(ctx, exitCode)
	panic(sys.NewExitError(exitCode))
}
