package wazero

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/engine/interpreter"
	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/internal/wasm/binary"
)

// Runtime allows running WebAssembly modules compiled with CompileModule.
//
// The below is a basic copy-paste-ready example, which only traps on bugs
// such as protocol errors.
//
//	r := wazero.NewRuntime()
//	defer r.Close(ctx) // This closes everything this Runtime created.
//
//	compiled, _ := r.CompileModule(ctx, wasm)
//	mod, _ := r.InstantiateModule(ctx, compiled, wazero.NewModuleConfig())
//
// # Notes
//
//   - This is an interface for decoupling, not third-party implementations.
//     All implementations are in wazero.
type Runtime interface {
	// NewHostModuleBuilder lets you create host modules, which are modules
	// written in Go (or other manners outside WebAssembly).
	NewHostModuleBuilder(moduleName string) HostModuleBuilder

	// CompileModule decodes the WebAssembly binary and validates it, ready to
	// be instantiated (InstantiateModule).
	CompileModule(ctx context.Context, binary []byte) (CompiledModule, error)

	// InstantiateModule instantiates the module or returns an error.
	InstantiateModule(ctx context.Context, compiled CompiledModule, mConfig *ModuleConfig) (api.Module, error)

	// Module returns an instantiated module in this Runtime or nil if there
	// aren't any with that name.
	Module(moduleName string) api.Module

	// CloseWithExitCode closes all modules initialized by this Runtime with
	// the exit code. An error is returned if any were not closed cleanly.
	CloseWithExitCode(ctx context.Context, exitCode uint32) error

	api.Closer
}

type runtime struct {
	mux             sync.Mutex
	enabledFeatures wasm.Features
	memoryMaxPages  uint32
	engine          *interpreter.Engine
	modules         map[string]*moduleInstance
	log             *logrus.Entry
}

// NewRuntime creates a new Runtime with the default RuntimeConfig.
//
// Ex.
//
//	r := wazero.NewRuntime()
func NewRuntime() Runtime {
	return NewRuntimeWithConfig(NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a Runtime with the given configuration.
func NewRuntimeWithConfig(rConfig *RuntimeConfig) Runtime {
	c, ok := asRuntimeConfig(rConfig)
	if !ok {
		panic(fmt.Sprintf("unsupported wazero.RuntimeConfig implementation: %v", rConfig))
	}
	log := logrus.WithField("component", "gowasm/runtime")
	return &runtime{
		enabledFeatures: c.enabledFeatures,
		memoryMaxPages:  c.memoryMaxPages,
		engine:          interpreter.NewEngine(c.maxFrames, c.maxStackCells),
		modules:         map[string]*moduleInstance{},
		log:             log,
	}
}

// asRuntimeConfig exists so NewRuntimeWithConfig(nil) panics with the same
// message the config struct's zero value would, since *RuntimeConfig is
// itself the only implementation.
func asRuntimeConfig(rConfig *RuntimeConfig) (*RuntimeConfig, bool) {
	if rConfig == nil {
		return nil, false
	}
	return rConfig, true
}

// CompileModule implements Runtime.CompileModule
func (r *runtime) CompileModule(ctx context.Context, bin []byte) (CompiledModule, error) {
	m, err := binary.DecodeModule(bin, r.enabledFeatures)
	if err != nil {
		return nil, err
	}
	if err := m.IndexExports(); err != nil {
		return nil, err
	}
	if err := wasm.ValidateModule(m, r.enabledFeatures); err != nil {
		return nil, err
	}
	for i := range m.MemorySection {
		lim := &m.MemorySection[i].Limits
		if lim.Max == nil {
			max := r.memoryMaxPages
			lim.Max = &max
		} else if *lim.Max > r.memoryMaxPages {
			return nil, fmt.Errorf("memory[%d] max %d pages exceeds the runtime limit of %d pages", i, *lim.Max, r.memoryMaxPages)
		}
	}
	m.ID = uuid.NewString()
	r.log.WithField("module_id", m.ID).Debug("compiled module")
	return &compiledModule{module: m}, nil
}

// InstantiateModule implements Runtime.InstantiateModule
func (r *runtime) InstantiateModule(ctx context.Context, compiled CompiledModule, mConfig *ModuleConfig) (api.Module, error) {
	if mConfig == nil {
		mConfig = NewModuleConfig()
	}

	var module *wasm.Module
	var inst *wasm.Instance
	var err error
	engineCall := r.engine.Call

	switch c := compiled.(type) {
	case *compiledModule:
		module = c.module
		inst, err = wasm.Instantiate(module, r, engineCall)
	case *hostCompiledModule:
		module = c.module
		inst, err = r.instantiateHostModule(module, c.exports)
	default:
		return nil, fmt.Errorf("unsupported wazero.CompiledModule implementation: %v", compiled)
	}
	if err != nil {
		return nil, fmt.Errorf("instantiating module: %w", err)
	}

	name := mConfig.name
	if name == "" && module.NameSection != nil {
		name = module.NameSection.ModuleName
	}

	r.mux.Lock()
	if _, taken := r.modules[name]; name != "" && taken {
		r.mux.Unlock()
		return nil, fmt.Errorf("module[%s] has already been instantiated", name)
	}
	inst.ExportedName = name
	mi := &moduleInstance{name: name, module: module, inst: inst, engine: engineCall}
	if name != "" {
		r.modules[name] = mi
	}
	r.mux.Unlock()

	return mi, nil
}

// instantiateHostModule builds an Instance directly from a host module's
// exported Go closures, bypassing wasm.Instantiate since there is no
// bytecode or import section to resolve (a host module never imports).
func (r *runtime) instantiateHostModule(m *wasm.Module, exports []hostExport) (*wasm.Instance, error) {
	inst := &wasm.Instance{
		Module:      m,
		DroppedData: map[uint32]bool{},
		DroppedElem: map[uint32]bool{},
	}
	for i, e := range exports {
		goFunc := e.fn.goFunc
		resultCount := len(e.fn.results)
		inst.Funcs = append(inst.Funcs, &wasm.FuncInst{
			Type:   m.TypeSection[i],
			IsHost: true,
			Name:   e.fn.name,
			GoFunc: func(callerInst *wasm.Instance, args []uint64) ([]uint64, error) {
				return r.callHostFunc(goFunc, callerInst, args, resultCount)
			},
		})
	}
	return inst, nil
}

// callHostFunc adapts a host-defined api.GoModuleFunction, which works on
// the uniform-cell stack in place, to the GoFunction call/return convention
// every other wasm.FuncInst uses. stack is sized to fit whichever of
// params/results is larger, mirroring how the engine reuses one buffer.
//
// gowasm's engine does not thread a context.Context through calls —
// host ABIs here are boundary-only, not full cancellation-aware
// syscalls — so host functions always see context.Background().
func (r *runtime) callHostFunc(fn api.GoModuleFunction, callerInst *wasm.Instance, args []uint64, resultCount int) (results []uint64, err error) {
	mod := &moduleInstance{name: callerInst.ExportedName, module: callerInst.Module, inst: callerInst, engine: r.engine.Call}
	size := len(args)
	if resultCount > size {
		size = resultCount
	}
	stack := make([]uint64, size)
	copy(stack, args)
	fn(context.Background(), mod, stack)
	return stack[:resultCount], nil
}

// Module implements Runtime.Module
func (r *runtime) Module(moduleName string) api.Module {
	r.mux.Lock()
	defer r.mux.Unlock()
	if mi, ok := r.modules[moduleName]; ok {
		return mi
	}
	return nil
}

// ResolveFunc implements wasm.ImportResolver
func (r *runtime) ResolveFunc(module, name string) (*wasm.FuncInst, bool) {
	r.mux.Lock()
	mi, ok := r.modules[module]
	r.mux.Unlock()
	if !ok {
		return nil, false
	}
	idx, ok := mi.module.FindExport(name, wasm.ExternTypeFunc)
	if !ok {
		return nil, false
	}
	return mi.inst.Funcs[idx], true
}

// ResolveMemory implements wasm.ImportResolver
func (r *runtime) ResolveMemory(module, name string) (*wasm.MemInst, bool) {
	r.mux.Lock()
	mi, ok := r.modules[module]
	r.mux.Unlock()
	if !ok || len(mi.inst.Mems) == 0 {
		return nil, false
	}
	if _, ok := mi.module.FindExport(name, wasm.ExternTypeMemory); !ok {
		return nil, false
	}
	return mi.inst.Mems[0], true
}

// ResolveTable implements wasm.ImportResolver
func (r *runtime) ResolveTable(module, name string) (*wasm.TableInst, bool) {
	r.mux.Lock()
	mi, ok := r.modules[module]
	r.mux.Unlock()
	if !ok {
		return nil, false
	}
	idx, ok := mi.module.FindExport(name, wasm.ExternTypeTable)
	if !ok {
		return nil, false
	}
	return mi.inst.Tables[idx], true
}

// ResolveGlobal implements wasm.ImportResolver
func (r *runtime) ResolveGlobal(module, name string) (*wasm.GlobalInst, bool) {
	r.mux.Lock()
	mi, ok := r.modules[module]
	r.mux.Unlock()
	if !ok {
		return nil, false
	}
	idx, ok := mi.module.FindExport(name, wasm.ExternTypeGlobal)
	if !ok {
		return nil, false
	}
	return mi.inst.Globals[idx], true
}

// Close implements Runtime.Close
func (r *runtime) Close(ctx context.Context) error {
	return r.CloseWithExitCode(ctx, 0)
}

// CloseWithExitCode implements Runtime.CloseWithExitCode
func (r *runtime) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	r.mux.Lock()
	modules := r.modules
	r.modules = map[string]*moduleInstance{}
	r.mux.Unlock()

	for _, mi := range modules {
		mi.inst.CloseWithExitCode(exitCode)
	}
	return nil
}
