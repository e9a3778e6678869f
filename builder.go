package wazero

import (
	"context"
	"fmt"
	"reflect"

	"github.com/gowasm/gowasm/api"
	"github.com/gowasm/gowasm/internal/wasm"
)

// HostFunctionBuilder defines a host function (in Go), so that a
// WebAssembly binary (e.g. %.wasm file) can import and use it.
//
// Here's an example of an addition function:
//
//	hostModuleBuilder.NewFunctionBuilder().
//		WithFunc(func(ctx context.Context, x, y uint32) uint32 {
//			return x + y
//		}).
//		Export("add")
//
// # Memory
//
// All host functions act on the importing api.Module, including any memory
// exported in its binary (%.wasm file). If you are reading or writing memory,
// it is sand-boxed Wasm memory defined by the guest.
//
// # Notes
//
//   - This is an interface for decoupling, not third-party implementations.
//     All implementations are in wazero.
type HostFunctionBuilder interface {
	// WithGoFunction is an advanced feature for those who need higher
	// performance than WithFunc at the cost of more complexity, by working
	// directly on the uniform-cell stack instead of via reflection.
	WithGoFunction(fn api.GoFunction, params, results []api.ValueType) HostFunctionBuilder

	// WithGoModuleFunction is like WithGoFunction, but also receives the
	// calling api.Module, most often to access its Memory.
	WithGoModuleFunction(fn api.GoModuleFunction, params, results []api.ValueType) HostFunctionBuilder

	// WithFunc uses reflect.Value to map a go `func` to a WebAssembly
	// compatible Signature. An input that isn't a `func` makes WithFunc
	// panic.
	//
	// Here's an example of an addition function:
	//
	//	builder.WithFunc(func(ctx context.Context, x, y uint32) uint32 {
	//		return x + y
	//	})
	//
	// Except for the context.Context and optional api.Module, all parameters
	// or result types must map to WebAssembly numeric value types: uint32,
	// int32, uint64, int64, float32 or float64.
	WithFunc(interface{}) HostFunctionBuilder

	// WithName defines the optional module-local name of this function, e.g.
	// "random_get"
	WithName(name string) HostFunctionBuilder

	// Export exports this to the HostModuleBuilder as the given name, e.g.
	// "random_get"
	Export(name string) HostModuleBuilder
}

// HostModuleBuilder is a way to define host functions (in Go), so that a
// WebAssembly binary (e.g. %.wasm file) can import and use them.
//
// Specifically, this implements the host side of an Application Binary
// Interface (ABI) like WASI.
//
// For example, this defines and instantiates a module named "env" with one
// function:
//
//	ctx := context.Background()
//	r := wazero.NewRuntime()
//	defer r.Close(ctx) // This closes everything this Runtime created.
//
//	hello := func() {
//		println("hello!")
//	}
//	env, _ := r.NewHostModuleBuilder("env").
//		NewFunctionBuilder().WithFunc(hello).Export("hello").
//		Instantiate(ctx)
//
// # Notes
//
//   - HostModuleBuilder is mutable: each method returns the same instance for
//     chaining.
//   - Functions are indexed in order of calls to Export.
type HostModuleBuilder interface {
	// NewFunctionBuilder begins the definition of a host function.
	NewFunctionBuilder() HostFunctionBuilder

	// Compile returns a CompiledModule that can be instantiated by Runtime.
	Compile(context.Context) (CompiledModule, error)

	// Instantiate is a convenience that calls Compile, then
	// Runtime.InstantiateModule.
	Instantiate(context.Context) (api.Module, error)
}

// hostModuleBuilder implements HostModuleBuilder
type hostModuleBuilder struct {
	r          *runtime
	moduleName string
	exports    []hostExport
}

type hostExport struct {
	name string
	fn   *hostFunctionBuilder
}

// NewHostModuleBuilder implements Runtime.NewHostModuleBuilder
func (r *runtime) NewHostModuleBuilder(moduleName string) HostModuleBuilder {
	return &hostModuleBuilder{r: r, moduleName: moduleName}
}

// hostFunctionBuilder implements HostFunctionBuilder
type hostFunctionBuilder struct {
	b       *hostModuleBuilder
	name    string
	params  []api.ValueType
	results []api.ValueType
	goFunc  api.GoModuleFunction
}

// WithGoFunction implements HostFunctionBuilder.WithGoFunction
func (h *hostFunctionBuilder) WithGoFunction(fn api.GoFunction, params, results []api.ValueType) HostFunctionBuilder {
	h.params, h.results = params, results
	h.goFunc = func(ctx context.Context, _ api.Module, stack []uint64) { fn(ctx, stack) }
	return h
}

// WithGoModuleFunction implements HostFunctionBuilder.WithGoModuleFunction
func (h *hostFunctionBuilder) WithGoModuleFunction(fn api.GoModuleFunction, params, results []api.ValueType) HostFunctionBuilder {
	h.params, h.results = params, results
	h.goFunc = fn
	return h
}

// WithFunc implements HostFunctionBuilder.WithFunc
func (h *hostFunctionBuilder) WithFunc(fn interface{}) HostFunctionBuilder {
	params, results, goFunc := reflectHostFunc(fn)
	h.params, h.results, h.goFunc = params, results, goFunc
	return h
}

// WithName implements HostFunctionBuilder.WithName
func (h *hostFunctionBuilder) WithName(name string) HostFunctionBuilder {
	h.name = name
	return h
}

// Export implements HostFunctionBuilder.Export
func (h *hostFunctionBuilder) Export(exportName string) HostModuleBuilder {
	if h.name == "" {
		h.name = exportName
	}
	h.b.exports = append(h.b.exports, hostExport{name: exportName, fn: h})
	return h.b
}

// NewFunctionBuilder implements HostModuleBuilder.NewFunctionBuilder
func (b *hostModuleBuilder) NewFunctionBuilder() HostFunctionBuilder {
	return &hostFunctionBuilder{b: b}
}

// Compile implements HostModuleBuilder.Compile
func (b *hostModuleBuilder) Compile(ctx context.Context) (CompiledModule, error) {
	m := &wasm.Module{NameSection: &wasm.NameSection{ModuleName: b.moduleName}}
	for i, e := range b.exports {
		ft := &wasm.FunctionType{Params: e.fn.params, Results: e.fn.results}
		m.TypeSection = append(m.TypeSection, ft)
		m.FunctionSection = append(m.FunctionSection, uint32(i))
		m.ExportSection = append(m.ExportSection, wasm.Export{Name: e.name, Type: wasm.ExternTypeFunc, Index: uint32(i)})
	}
	if err := m.IndexExports(); err != nil {
		return nil, err
	}
	return &hostCompiledModule{module: m, exports: b.exports}, nil
}

// Instantiate implements HostModuleBuilder.Instantiate
func (b *hostModuleBuilder) Instantiate(ctx context.Context) (api.Module, error) {
	compiled, err := b.Compile(ctx)
	if err != nil {
		return nil, err
	}
	return b.r.InstantiateModule(ctx, compiled, NewModuleConfig().WithName(b.moduleName))
}

// hostCompiledModule is the host-module counterpart to compiledModule: it
// has no bytecode, only a synthetic export table and the Go closures each
// export runs. runtime.InstantiateModule recognizes this type and skips
// the bytecode-oriented wasm.Instantiate path.
type hostCompiledModule struct {
	module  *wasm.Module
	exports []hostExport
}

func (c *hostCompiledModule) Name() string {
	if c.module.NameSection != nil {
		return c.module.NameSection.ModuleName
	}
	return ""
}

func (c *hostCompiledModule) Close(context.Context) error { return nil }

// reflectHostFunc adapts an arbitrary Go func, per HostFunctionBuilder.WithFunc's
// rules, into a GoModuleFunction plus its WebAssembly signature.
func reflectHostFunc(fn interface{}) (params, results []api.ValueType, goFunc api.GoModuleFunction) {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rt.Kind() != reflect.Func {
		panic(fmt.Sprintf("gowasm: not a function: %v", fn))
	}

	ctxType := reflect.TypeOf((*context.Context)(nil)).Elem()
	moduleType := reflect.TypeOf((*api.Module)(nil)).Elem()

	start := 0
	hasModule := false
	if rt.NumIn() > 0 && rt.In(0).Implements(ctxType) {
		start = 1
	}
	if rt.NumIn() > start && rt.In(start) == moduleType {
		hasModule = true
		start++
	}

	for i := start; i < rt.NumIn(); i++ {
		params = append(params, goValueType(rt.In(i)))
	}
	for i := 0; i < rt.NumOut(); i++ {
		results = append(results, goValueType(rt.Out(i)))
	}

	goFunc = func(ctx context.Context, mod api.Module, stack []uint64) {
		in := make([]reflect.Value, rt.NumIn())
		idx := 0
		if start >= 1 {
			in[idx] = reflect.ValueOf(ctx)
			idx++
		}
		if hasModule {
			in[idx] = reflect.ValueOf(mod)
			idx++
		}
		for i, vt := range params {
			in[idx+i] = decodeToGo(rt.In(idx+i), vt, stack[i])
		}
		out := rv.Call(in)
		for i, v := range out {
			stack[i] = encodeFromGo(results[i], v)
		}
	}
	return
}

func goValueType(t reflect.Type) api.ValueType {
	switch t.Kind() {
	case reflect.Uint32, reflect.Int32:
		return api.ValueTypeI32
	case reflect.Uint64, reflect.Int64:
		return api.ValueTypeI64
	case reflect.Float32:
		return api.ValueTypeF32
	case reflect.Float64:
		return api.ValueTypeF64
	case reflect.Uintptr:
		return api.ValueTypeExternref
	default:
		panic(fmt.Sprintf("gowasm: unsupported parameter/result type: %v", t))
	}
}

func decodeToGo(t reflect.Type, vt api.ValueType, cell uint64) reflect.Value {
	switch vt {
	case api.ValueTypeI32:
		if t.Kind() == reflect.Int32 {
			return reflect.ValueOf(int32(uint32(cell)))
		}
		return reflect.ValueOf(uint32(cell))
	case api.ValueTypeI64:
		if t.Kind() == reflect.Int64 {
			return reflect.ValueOf(int64(cell))
		}
		return reflect.ValueOf(cell)
	case api.ValueTypeF32:
		return reflect.ValueOf(api.DecodeF32(cell))
	case api.ValueTypeF64:
		return reflect.ValueOf(api.DecodeF64(cell))
	default:
		return reflect.ValueOf(api.DecodeExternref(cell))
	}
}

func encodeFromGo(vt api.ValueType, v reflect.Value) uint64 {
	switch vt {
	case api.ValueTypeI32:
		if v.Kind() == reflect.Int32 {
			return api.EncodeI32(int32(v.Int()))
		}
		return uint64(uint32(v.Uint()))
	case api.ValueTypeI64:
		if v.Kind() == reflect.Int64 {
			return api.EncodeI64(v.Int())
		}
		return v.Uint()
	case api.ValueTypeF32:
		return api.EncodeF32(float32(v.Float()))
	case api.ValueTypeF64:
		return api.EncodeF64(v.Float())
	default:
		return api.EncodeExternref(uintptr(v.Uint()))
	}
}
