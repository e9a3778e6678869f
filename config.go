package wazero

import (
	"context"

	"github.com/gowasm/gowasm/internal/engine/interpreter"
	"github.com/gowasm/gowasm/internal/wasm"
)

// RuntimeConfig controls runtime behavior, with the default implementation as NewRuntimeConfig.
type RuntimeConfig struct {
	enabledFeatures wasm.Features
	ctx             context.Context
	memoryMaxPages  uint32
	maxFrames       int
	maxStackCells   int
}

// engineLessConfig helps avoid copy/pasting the wrong defaults.
var engineLessConfig = &RuntimeConfig{
	enabledFeatures: wasm.FeaturesMVP,
	ctx:             context.Background(),
	memoryMaxPages:  wasm.MemoryMaxPages,
	maxFrames:       interpreter.DefaultMaxFrames,
	maxStackCells:   interpreter.DefaultMaxStackCells,
}

// clone ensures all fields are copied even if nil.
func (c *RuntimeConfig) clone() *RuntimeConfig {
	ret := *c
	return &ret
}

// NewRuntimeConfig returns a RuntimeConfig using gowasm's tree-walking
// interpreter, the only execution strategy gowasm implements (see
// NewRuntimeConfigInterpreter).
func NewRuntimeConfig() *RuntimeConfig {
	return engineLessConfig.clone()
}

// NewRuntimeConfigInterpreter is an alias for NewRuntimeConfig, kept for
// callers who want to be explicit that they depend on interpretation
// rather than ahead-of-time compilation.
func NewRuntimeConfigInterpreter() *RuntimeConfig {
	return NewRuntimeConfig()
}

// WithContext stores a context on the RuntimeConfig. Defaults to context.Background if nil.
//
// Notes:
// * The Runtime does not read this context: it is not used to invoke a start function.
// * It is not a default context for api.Function calls either.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#start-function%E2%91%A0
func (c *RuntimeConfig) WithContext(ctx context.Context) *RuntimeConfig {
	if ctx == nil {
		ctx = context.Background()
	}
	ret := c.clone()
	ret.ctx = ctx
	return ret
}

// WithMemoryMaxPages reduces the maximum number of pages a module can define from 65536 pages (4GiB) to a lower value.
//
// Notes:
// * If a module defines no memory max limit, Runtime.CompileModule sets max to this value.
// * If a module defines a memory max larger than this amount, it will fail to compile (Runtime.CompileModule).
// * Any "memory.grow" instruction that results in a larger value than this fails at runtime (returns -1).
// * Zero is a valid value: a module that declares a memory max above zero then fails to compile.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#grow-mem
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#memory-types%E2%91%A0
func (c *RuntimeConfig) WithMemoryMaxPages(memoryMaxPages uint32) *RuntimeConfig {
	ret := c.clone()
	ret.memoryMaxPages = memoryMaxPages
	return ret
}

// WithMaxCallStackFrames bounds call recursion depth. Defaults to
// interpreter.DefaultMaxFrames. Exceeding this traps with TrapIDTooManyFrames
// rather than overflowing the Go call stack, since gowasm's engine keeps its
// own frame stack alongside the operand stack instead of recursing in Go.
func (c *RuntimeConfig) WithMaxCallStackFrames(maxFrames int) *RuntimeConfig {
	ret := c.clone()
	ret.maxFrames = maxFrames
	return ret
}

// WithMaxStackCells bounds the shared operand stack, in uniform 64-bit cells
// (v128 values occupy two). Defaults to interpreter.DefaultMaxStackCells.
// Exceeding this traps with TrapIDTooManyStackCells.
func (c *RuntimeConfig) WithMaxStackCells(maxStackCells int) *RuntimeConfig {
	ret := c.clone()
	ret.maxStackCells = maxStackCells
	return ret
}

// WithFinishedFeatures enables currently supported "finished" feature proposals. Use this to improve compatibility with
// tools that enable all features by default.
//
// Note: The features implied can vary and can lead to unpredictable behavior during updates.
// Note: This only includes "finished" features, but "finished" is not an official W3C term: it is possible that
// "finished" features do not make the next W3C recommended WebAssembly core specification.
// See https://github.com/WebAssembly/spec/tree/main/proposals
func (c *RuntimeConfig) WithFinishedFeatures() *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = wasm.FeaturesFinished
	return ret
}

// WithFeatureMutableGlobal allows globals to be mutable. This defaults to true as the feature was finished in
// WebAssembly 1.0 (20191205).
//
// The decoder and validator do not consult this setting: mutable globals are accepted whether it is true or false.
func (c *RuntimeConfig) WithFeatureMutableGlobal(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureMutableGlobal, enabled)
	return ret
}

// WithFeatureSignExtensionOps enables sign extension instructions ("sign-extension-ops"). This defaults to false as the
// feature was not finished in WebAssembly 1.0 (20191205).
//
// This has the following effects:
// * Adds instructions `i32.extend8_s`, `i32.extend16_s`, `i64.extend8_s`, `i64.extend16_s` and `i64.extend32_s`
//
// The decoder and validator do not consult this setting: these instructions are accepted either way.
//
// See https://github.com/WebAssembly/spec/blob/main/proposals/sign-extension-ops/Overview.md
func (c *RuntimeConfig) WithFeatureSignExtensionOps(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureSignExtensionOps, enabled)
	return ret
}

// WithFeatureMultiValue enables multiple values ("multi-value"). This defaults to false as the feature was not finished
// in WebAssembly 1.0 (20191205).
//
// This has the following effects:
// * Function (`func`) types allow more than one result
// * Block types (`block`, `loop` and `if`) can be arbitrary function types
//
// Only the first effect is checked: block types that index the type section are accepted either way.
//
// See https://github.com/WebAssembly/spec/blob/main/proposals/multi-value/Overview.md
func (c *RuntimeConfig) WithFeatureMultiValue(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureMultiValue, enabled)
	return ret
}

// WithFeatureNonTrappingFloatToIntConversion enables the saturating
// float-to-int conversion instructions ("nontrapping-float-to-int-conversions").
// This defaults to false as the feature was not finished in WebAssembly 1.0
// (20191205). The decoder and validator do not consult this setting: the
// instructions are accepted either way.
func (c *RuntimeConfig) WithFeatureNonTrappingFloatToIntConversion(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureNonTrappingFloatToIntConversion, enabled)
	return ret
}

// WithFeatureBulkMemoryOperations enables the bulk memory/table instructions
// ("bulk-memory-operations"): memory.init, data.drop, memory.copy,
// memory.fill, table.init, elem.drop, table.copy. Defaults to false. The
// decoder and validator do not consult this setting: the instructions are
// accepted either way.
func (c *RuntimeConfig) WithFeatureBulkMemoryOperations(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureBulkMemoryOperations, enabled)
	return ret
}

// WithFeatureReferenceTypes enables funcref/externref, ref.null, ref.is_null,
// ref.func, table.get/set/grow/size/fill ("reference-types"). Defaults to
// false. The decoder and validator do not consult this setting: these types
// and instructions are accepted either way.
func (c *RuntimeConfig) WithFeatureReferenceTypes(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureReferenceTypes, enabled)
	return ret
}

// WithFeatureSIMD enables the v128 value type and its instructions
// ("simd"). gowasm implements only v128.const/load/store of this proposal.
// Defaults to false.
func (c *RuntimeConfig) WithFeatureSIMD(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureSIMD, enabled)
	return ret
}

// WithFeatureThreads enables shared memories and the atomic instructions
// ("threads"): memory.atomic.notify/wait, atomic loads/stores, and atomic
// read-modify-write. Defaults to false.
func (c *RuntimeConfig) WithFeatureThreads(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureThreads, enabled)
	return ret
}

// WithFeatureMultiMemory allows more than one memory per module
// ("multi-memory"). Defaults to false.
func (c *RuntimeConfig) WithFeatureMultiMemory(enabled bool) *RuntimeConfig {
	ret := c.clone()
	ret.enabledFeatures = ret.enabledFeatures.Set(wasm.FeatureMultiMemory, enabled)
	return ret
}
