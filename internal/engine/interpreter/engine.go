// Package interpreter is the tree-walking execution engine:
// it walks a validated Module's raw bytecode directly, using the
// ExecInfo the validator attached to each function to resolve branches
// and size the operand/label stacks, rather than compiling to any
// intermediate representation.
package interpreter

import (
	"fmt"

	"github.com/gowasm/gowasm/internal/wasm"
	"github.com/gowasm/gowasm/sys"
)

// Engine owns nothing per-module beyond what *wasm.Module already
// carries (its Code, annotated by the validator) — unlike a JIT engine
// there is no machine code to cache, so Engine is mostly a namespace for
// the call-path entry points plus the resource ceilings every call on
// it is bound by.
type Engine struct {
	MaxFrames     int
	MaxStackCells int
}

// NewEngine constructs an Engine with the given resource ceilings. A
// ceiling of 0 means "use the package default".
func NewEngine(maxFrames, maxStackCells int) *Engine {
	if maxFrames <= 0 {
		maxFrames = DefaultMaxFrames
	}
	if maxStackCells <= 0 {
		maxStackCells = DefaultMaxStackCells
	}
	return &Engine{MaxFrames: maxFrames, MaxStackCells: maxStackCells}
}

const (
	// DefaultMaxFrames bounds call recursion depth (TrapIDTooManyFrames).
	DefaultMaxFrames = 1 << 16
	// DefaultMaxStackCells bounds the operand stack (TrapIDTooManyStackCells).
	DefaultMaxStackCells = 1 << 20
)

// Call invokes fn with args (already encoded as uniform 64-bit cells)
// and returns its results the same way, or a *wasm.TrapError or an
// ordinary host error. A cooperative suspend (internal/cluster) blocks
// inside this call rather than unwinding it; Call only returns once fn
// has actually finished running, not merely parked.
func (e *Engine) Call(inst *wasm.Instance, fn *wasm.FuncInst, args []uint64) (results []uint64, err error) {
	// proc_exit and similar host functions have no result to return
	// immediate termination through (the GoModuleFunction ABI carries no
	// error), so they panic a *sys.ExitError instead. That panic may
	// unwind through any number of nested callEngine frames below before
	// reaching this, the outermost Engine.Call, so the recover lives here
	// rather than at each call site.
	defer func() {
		if r := recover(); r != nil {
			if exitErr, ok := r.(*sys.ExitError); ok {
				err = exitErr
				return
			}
			panic(r)
		}
	}()
	if fn.IsHost {
		return fn.GoFunc(inst, args)
	}
	ce := &callEngine{engine: e, inst: inst}
	return ce.call(fn, args)
}

func (e *Engine) String() string {
	return fmt.Sprintf("interpreter(maxFrames=%d, maxStackCells=%d)", e.MaxFrames, e.MaxStackCells)
}
