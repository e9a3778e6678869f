package wasi_snapshot_preview1

import (
	wazero "github.com/gowasm/gowasm"
	"github.com/gowasm/gowasm/api"
)

// wasi holds the Config every exported function closes over.
type wasi struct {
	cfg *Config
}

func i32() api.ValueType { return api.ValueTypeI32 }

// exportFunctions registers gowasm's boundary-only WASI surface: args,
// environ, a clock, randomness, fd_write/fd_read for the standard streams,
// fd_close as a no-op acknowledgement (there is no open-file table to
// release from), sched_yield, and proc_exit.
func (a *wasi) exportFunctions(builder wazero.HostModuleBuilder) {
	exportFunc(builder, "args_get", a.argsGet, []api.ValueType{i32(), i32()})
	exportFunc(builder, "args_sizes_get", a.argsSizesGet, []api.ValueType{i32(), i32()})
	exportFunc(builder, "environ_get", a.environGet, []api.ValueType{i32(), i32()})
	exportFunc(builder, "environ_sizes_get", a.environSizesGet, []api.ValueType{i32(), i32()})
	exportFunc(builder, "clock_res_get", a.clockResGet, []api.ValueType{i32(), i32()})
	exportFunc(builder, "clock_time_get", a.clockTimeGet, []api.ValueType{i32(), api.ValueTypeI64, i32()})
	exportFunc(builder, "random_get", a.randomGet, []api.ValueType{i32(), i32()})
	exportFunc(builder, "fd_write", a.fdWrite, []api.ValueType{i32(), i32(), i32(), i32()})
	exportFunc(builder, "fd_read", a.fdRead, []api.ValueType{i32(), i32(), i32(), i32()})
	exportFunc(builder, "fd_close", a.fdClose, []api.ValueType{i32()})
	exportFunc(builder, "sched_yield", a.schedYield, nil)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(a.procExit, []api.ValueType{i32()}, nil).
		WithName("proc_exit").
		Export("proc_exit")
}

// exportFunc is a thin helper so exportFunctions above reads as a table
// rather than eleven near-identical chains.
func exportFunc(builder wazero.HostModuleBuilder, name string, fn api.GoModuleFunction, params []api.ValueType) {
	builder.NewFunctionBuilder().
		WithGoModuleFunction(fn, params, []api.ValueType{i32()}).
		WithName(name).
		Export(name)
}
