package wazero

import (
	"context"
	"fmt"
	"math"
	"reflect"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/cluster"
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/sys"
)

// CompiledModule is a WebAssembly module ready to be instantiated
// (Runtime.InstantiateModule) regardless of how many times.
//
// # Notes
//
//   - CompiledModule is immutable, so it cannot be modified once created.
//   - CompiledModule is Closer: make sure to Close it to release resources
//     it holds, usually via a defer after it is instantiated.
type CompiledModule interface {
	// Name returns the module name encoded into the binary, if any.
	Name() string

	api.Closer
}

type compiledModule struct {
	module *wasm.Module
}

func (c *compiledModule) Name() string {
	if c.module.NameSection != nil {
		return c.module.NameSection.ModuleName
	}
	return ""
}

func (c *compiledModule) Close(context.Context) error { return nil }

// ModuleConfig configures resources needed to instantiate a module, notably
// any WASI or host module imports needed.
type ModuleConfig struct {
	name string
}

// NewModuleConfig returns a ModuleConfig that can be used for configuring
// module instantiation.
func NewModuleConfig() *ModuleConfig {
	return &ModuleConfig{}
}

// WithName configures the module name. Defaults to what was decoded from the
// name section, if present, or the empty string.
func (c *ModuleConfig) WithName(name string) *ModuleConfig {
	ret := *c
	ret.name = name
	return &ret
}

// moduleInstance adapts a *wasm.Instance to the api.Module surface that
// embedders and host functions see.
type moduleInstance struct {
	name   string
	module *wasm.Module
	inst   *wasm.Instance
	engine callFunc
}

type callFunc func(inst *wasm.Instance, fn *wasm.FuncInst, args []uint64) ([]uint64, error)

func (m *moduleInstance) String() string { return fmt.Sprintf("Module[%s]", m.name) }

func (m *moduleInstance) Name() string { return m.name }

func (m *moduleInstance) Memory() api.Memory {
	if len(m.inst.Mems) == 0 {
		return nil
	}
	return &apiMemory{mem: m.inst.Mems[0]}
}

func (m *moduleInstance) ExportedFunction(name string) api.Function {
	idx, ok := m.module.FindExport(name, wasm.ExternTypeFunc)
	if !ok {
		return nil
	}
	return &apiFunction{mod: m, fn: m.inst.Funcs[idx], name: name, idx: idx}
}

func (m *moduleInstance) ExportedMemory(name string) api.Memory {
	if _, ok := m.module.FindExport(name, wasm.ExternTypeMemory); !ok {
		return nil
	}
	return m.Memory()
}

func (m *moduleInstance) ExportedGlobal(name string) api.Global {
	idx, ok := m.module.FindExport(name, wasm.ExternTypeGlobal)
	if !ok {
		return nil
	}
	g := m.inst.Globals[idx]
	if g.Type.Mutable {
		return &mutableGlobal{apiGlobal{g: g}}
	}
	return &apiGlobal{g: g}
}

func (m *moduleInstance) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	m.inst.CloseWithExitCode(exitCode)
	return nil
}

func (m *moduleInstance) Close(ctx context.Context) error {
	return m.CloseWithExitCode(ctx, 0)
}

// AttachSuspendHook wires c's cooperative-checkpoint and stop-the-world
// barrier onto mod's underlying instance: the interpreter's loop
// back-edge checkpoint observes c's suspend barrier and interrupt flag,
// and memory.grow on a shared memory suspends every other thread in c
// before reallocating. Used by imports/wasi_threads when a thread's
// wasi_thread_start is spawned into a Cluster; a no-op if mod isn't
// backed by this runtime.
func AttachSuspendHook(mod api.Module, c *cluster.Cluster) {
	if mi, ok := mod.(*moduleInstance); ok {
		mi.inst.CheckSuspend = c.CheckSuspend
		mi.inst.SuspendForGrow = c.SuspendThreads
		mi.inst.ResumeForGrow = c.ResumeThreads
	}
}

// apiFunction adapts one exported wasm.FuncInst to api.Function.
type apiFunction struct {
	mod  *moduleInstance
	fn   *wasm.FuncInst
	name string
	idx  uint32
}

func (f *apiFunction) Definition() api.FunctionDefinition {
	return &funcDefinition{mod: f.mod.name, name: f.name, idx: f.idx, ft: f.fn.Type}
}

func (f *apiFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if f.mod.inst.Closed.Load() {
		return nil, sys.NewExitError(f.mod.inst.ExitCode)
	}
	results, err := f.mod.engine(f.mod.inst, f.fn, params)
	if f.mod.inst.Closed.Load() {
		return results, sys.NewExitError(f.mod.inst.ExitCode)
	}
	return results, err
}

// funcDefinition is a minimal api.FunctionDefinition; gowasm does not track
// parameter/result names or Go reflection metadata for Wasm-defined
// functions, only their module-relative identity and signature.
type funcDefinition struct {
	mod, name string
	idx       uint32
	ft        *wasm.FunctionType
}

func (d *funcDefinition) ModuleName() string { return d.mod }
func (d *funcDefinition) Index() uint32      { return d.idx }
func (d *funcDefinition) Name() string       { return d.name }
func (d *funcDefinition) DebugName() string  { return fmt.Sprintf("%s.%s", d.mod, d.name) }
func (d *funcDefinition) Import() (string, string, bool) {
	return "", "", false
}
func (d *funcDefinition) ExportNames() []string       { return []string{d.name} }
func (d *funcDefinition) GoFunc() *reflect.Value       { return nil }
func (d *funcDefinition) ParamTypes() []api.ValueType  { return d.ft.Params }
func (d *funcDefinition) ParamNames() []string         { return nil }
func (d *funcDefinition) ResultTypes() []api.ValueType { return d.ft.Results }

// apiGlobal adapts an immutable *wasm.GlobalInst to api.Global.
type apiGlobal struct{ g *wasm.GlobalInst }

func (g *apiGlobal) String() string             { return fmt.Sprintf("global(%d)", g.g.Get()) }
func (g *apiGlobal) Type() api.ValueType        { return g.g.Type.ValType }
func (g *apiGlobal) Get(context.Context) uint64 { return g.g.Get() }

// mutableGlobal adds Set; only returned when the global's GlobalType says
// Mutable, so a type-assert to api.MutableGlobal reflects WebAssembly
// mutability (api.Global doc: "safe cast to find out if the value can change").
type mutableGlobal struct{ apiGlobal }

func (g *mutableGlobal) Set(_ context.Context, v uint64) { g.g.Set(v) }

// apiMemory adapts a *wasm.MemInst to api.Memory.
type apiMemory struct{ mem *wasm.MemInst }

func (m *apiMemory) Size(context.Context) uint32 { return uint32(len(m.mem.Buffer)) }

func (m *apiMemory) Grow(_ context.Context, delta uint32) (uint32, bool) {
	return m.mem.Grow(delta)
}

func (m *apiMemory) inBounds(offset, size uint32) bool {
	return uint64(offset)+uint64(size) <= uint64(len(m.mem.Buffer))
}

func (m *apiMemory) ReadByte(_ context.Context, offset uint32) (byte, bool) {
	if !m.inBounds(offset, 1) {
		return 0, false
	}
	return m.mem.Buffer[offset], true
}

func (m *apiMemory) ReadUint16Le(_ context.Context, offset uint32) (uint16, bool) {
	if !m.inBounds(offset, 2) {
		return 0, false
	}
	return uint16(m.mem.Buffer[offset]) | uint16(m.mem.Buffer[offset+1])<<8, true
}

func (m *apiMemory) ReadUint32Le(_ context.Context, offset uint32) (uint32, bool) {
	if !m.inBounds(offset, 4) {
		return 0, false
	}
	b := m.mem.Buffer[offset:]
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24, true
}

func (m *apiMemory) ReadFloat32Le(ctx context.Context, offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(ctx, offset)
	return math.Float32frombits(v), ok
}

func (m *apiMemory) ReadUint64Le(_ context.Context, offset uint32) (uint64, bool) {
	if !m.inBounds(offset, 8) {
		return 0, false
	}
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(m.mem.Buffer[offset+uint32(i)]) << (8 * i)
	}
	return v, true
}

func (m *apiMemory) ReadFloat64Le(ctx context.Context, offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(ctx, offset)
	return math.Float64frombits(v), ok
}

func (m *apiMemory) Read(_ context.Context, offset, byteCount uint32) ([]byte, bool) {
	if !m.inBounds(offset, byteCount) {
		return nil, false
	}
	return m.mem.Buffer[offset : offset+byteCount], true
}

func (m *apiMemory) WriteByte(_ context.Context, offset uint32, v byte) bool {
	if !m.inBounds(offset, 1) {
		return false
	}
	m.mem.Buffer[offset] = v
	return true
}

func (m *apiMemory) WriteUint16Le(_ context.Context, offset uint32, v uint16) bool {
	if !m.inBounds(offset, 2) {
		return false
	}
	m.mem.Buffer[offset] = byte(v)
	m.mem.Buffer[offset+1] = byte(v >> 8)
	return true
}

func (m *apiMemory) WriteUint32Le(_ context.Context, offset, v uint32) bool {
	if !m.inBounds(offset, 4) {
		return false
	}
	b := m.mem.Buffer[offset:]
	b[0], b[1], b[2], b[3] = byte(v), byte(v>>8), byte(v>>16), byte(v>>24)
	return true
}

func (m *apiMemory) WriteFloat32Le(ctx context.Context, offset uint32, v float32) bool {
	return m.WriteUint32Le(ctx, offset, math.Float32bits(v))
}

func (m *apiMemory) WriteUint64Le(_ context.Context, offset uint32, v uint64) bool {
	if !m.inBounds(offset, 8) {
		return false
	}
	for i := 0; i < 8; i++ {
		m.mem.Buffer[offset+uint32(i)] = byte(v >> (8 * i))
	}
	return true
}

func (m *apiMemory) WriteFloat64Le(ctx context.Context, offset uint32, v float64) bool {
	return m.WriteUint64Le(ctx, offset, math.Float64bits(v))
}

func (m *apiMemory) Write(_ context.Context, offset uint32, v []byte) bool {
	if !m.inBounds(offset, uint32(len(v))) {
		return false
	}
	copy(m.mem.Buffer[offset:], v)
	return true
}
