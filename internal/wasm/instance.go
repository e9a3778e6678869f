package wasm

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// MemInst is a memory instance: a contiguous, growable byte buffer.
// Growing reallocates the buffer and copies the old contents, shared or
// not; growth on a shared memory is bracketed by the cluster's
// stop-the-world barrier so no other thread touches the old buffer
// meanwhile.
type MemInst struct {
	Buffer []byte
	Max    *uint32 // nil means MemoryMaxPages
	Shared bool

	mu sync.Mutex
}

func NewMemInst(t MemoryType) *MemInst {
	return &MemInst{
		Buffer: make([]byte, uint64(t.Limits.Min)*uint64(MemoryPageSize)),
		Max:    t.Limits.Max,
		Shared: t.Limits.Shared,
	}
}

// PageSize returns the current size of the memory in pages.
func (m *MemInst) PageSize() uint32 {
	return uint32(len(m.Buffer) / int(MemoryPageSize))
}

// Grow attempts to grow the memory by delta pages, returning the
// previous page size, or false if the growth would exceed the memory's
// max. Callers on a shared memory must hold the
// cluster's growth-serializing lock before calling this.
func (m *MemInst) Grow(delta uint32) (previousPages uint32, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur := m.PageSize()
	max := MemoryMaxPages
	if m.Max != nil {
		max = *m.Max
	}
	newSize := uint64(cur) + uint64(delta)
	if newSize > uint64(max) {
		return cur, false
	}
	grown := make([]byte, newSize*uint64(MemoryPageSize))
	copy(grown, m.Buffer)
	m.Buffer = grown
	return cur, true
}

// LockForAtomic/UnlockForAtomic serialize atomic memory accesses; gowasm's
// interpreter has no need for lock-free hardware atomics since every
// access to a given memory, atomic or not, already funnels through the
// same goroutine unless the memory is shared, in which case the
// cluster package's waiter machinery coordinates through this same
// mutex.
func (m *MemInst) LockForAtomic()   { m.mu.Lock() }
func (m *MemInst) UnlockForAtomic() { m.mu.Unlock() }

// TableInst is a table instance: a growable slice of references,
// encoded as function indices (funcref) or opaque externref handles.
// An entry with IsNull set means ref.null.
type TableInst struct {
	ElemType ValueType
	Refs     []Reference
	Max      *uint32
	mu       sync.Mutex
}

// Reference is a table/reference-typed value: either a function index
// into the owning Instance (funcref) or an opaque handle (externref).
// IsNull marks ref.null; the zero value is funcref 0, not null.
type Reference struct {
	IsNull bool
	// FuncIndex is the module-relative function index for a funcref.
	FuncIndex uint32
	// Extern is the arbitrary host value carried by an externref.
	Extern interface{}
}

func NewTableInst(t TableType) *TableInst {
	refs := make([]Reference, t.Limits.Min)
	for i := range refs {
		refs[i].IsNull = true
	}
	return &TableInst{ElemType: t.ElemType, Refs: refs, Max: t.Limits.Max}
}

func (t *TableInst) Grow(delta uint32, fill Reference) (previous uint32, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	cur := uint32(len(t.Refs))
	max := uint32(1<<32 - 1)
	if t.Max != nil {
		max = *t.Max
	}
	if uint64(cur)+uint64(delta) > uint64(max) {
		return cur, false
	}
	grown := make([]Reference, cur+delta)
	copy(grown, t.Refs)
	for i := cur; i < cur+delta; i++ {
		grown[i] = fill
	}
	t.Refs = grown
	return cur, true
}

// GlobalInst is a global instance: a mutable or immutable cell holding
// one uniform 64-bit cell value. v128 globals are
// unsupported, matching the restriction that global types exclude v128
// in the instructions gowasm implements.
type GlobalInst struct {
	Type GlobalType
	val  uint64
}

func (g *GlobalInst) Get() uint64  { return atomic.LoadUint64(&g.val) }
func (g *GlobalInst) Set(v uint64) { atomic.StoreUint64(&g.val, v) }

// GoFunction is the signature host functions implement: given the
// calling Instance (for memory/table access) and the uniform-cell
// argument array, return result cells or a *TrapError.
type GoFunction func(inst *Instance, args []uint64) ([]uint64, error)

// FuncInst is a tagged union over a Wasm-defined function (index into
// its owning Instance's Code) and a host-defined one.
type FuncInst struct {
	Type *FunctionType

	// IsHost distinguishes the two cases below.
	IsHost bool

	// Wasm-defined:
	Module   *Module
	CodeIdx  uint32 // index into Module.CodeSection
	Instance *Instance

	// Host-defined:
	GoFunc GoFunction
	Name   string

	// ConstBody is set instead of CodeIdx for the synthetic function the
	// engine builds to evaluate a const-expression.
	ConstBody []byte
}

// Instance is one instantiation of a Module: its own memories, tables,
// globals, and resolved function index space (imports first, then
// module-defined).E instantiation.
type Instance struct {
	Module *Module

	Funcs   []*FuncInst
	Mems    []*MemInst
	Tables  []*TableInst
	Globals []*GlobalInst

	// DroppedData and DroppedElem track which passive segments have been
	// consumed by data.drop/elem.drop.
	DroppedData map[uint32]bool
	DroppedElem map[uint32]bool

	ExportedName string

	// Closed is set once CloseWithExitCode has run; further calls fail
	// fast rather than re-entering a torn-down instance.
	Closed atomic.Bool
	ExitCode uint32

	waitersMu sync.Mutex
	waiters   map[uint32][]chan struct{}

	// CheckSuspend, when set by a multi-threaded embedder (internal/cluster),
	// is polled at every loop back-edge. It blocks for the duration of a
	// cluster-wide suspend, then returns nil once resumed, or a *TrapError
	// once an interrupt has been requested. nil means this instance runs
	// outside any cluster and is never interrupted this way.
	CheckSuspend func() error

	// SuspendForGrow and ResumeForGrow bracket memory.grow on a shared
	// memory with the cluster's stop-the-world barrier, so the
	// reallocation in MemInst.Grow never races a running thread's
	// load/store. Both nil outside a cluster.
	SuspendForGrow func()
	ResumeForGrow  func()
}

// AtomicNotify wakes up to count waiters blocked in AtomicWait32/64 on
// addr, FIFO, returning how many were actually woken. A non-shared memory can never have a waiter
// registered (atomic.wait traps first with TrapIDAtomicWaitOnUnshared),
// so notify on one is always a no-op returning 0.
func (inst *Instance) AtomicNotify(addr uint32, count uint32) uint32 {
	inst.waitersMu.Lock()
	defer inst.waitersMu.Unlock()
	chans := inst.waiters[addr]
	n := uint32(len(chans))
	if count < n {
		n = count
	}
	for i := uint32(0); i < n; i++ {
		close(chans[i])
	}
	inst.waiters[addr] = chans[n:]
	return n
}

// AtomicWait32/64 block the calling goroutine until notified or timeout
// nanoseconds elapse (timeout<0 means wait forever).G. They
// trap on a non-shared memory rather than ever blocking.
func (inst *Instance) AtomicWait32(addr uint32, expected uint32, timeoutNanos int64) (uint32, error) {
	mem := inst.Mems[0]
	if !mem.Shared {
		return 0, NewTrapError(TrapIDAtomicWaitOnUnshared, "atomic.wait32 on non-shared memory")
	}
	mem.LockForAtomic()
	cur := binaryLittleEndianUint32(mem.Buffer[addr:])
	if cur != expected {
		mem.UnlockForAtomic()
		return 1, nil // "not-equal"
	}
	ch := inst.registerWaiter(addr)
	mem.UnlockForAtomic()
	return waitOn(ch, timeoutNanos)
}

func (inst *Instance) AtomicWait64(addr uint32, expected uint64, timeoutNanos int64) (uint32, error) {
	mem := inst.Mems[0]
	if !mem.Shared {
		return 0, NewTrapError(TrapIDAtomicWaitOnUnshared, "atomic.wait64 on non-shared memory")
	}
	mem.LockForAtomic()
	cur := binaryLittleEndianUint64(mem.Buffer[addr:])
	if cur != expected {
		mem.UnlockForAtomic()
		return 1, nil
	}
	ch := inst.registerWaiter(addr)
	mem.UnlockForAtomic()
	return waitOn(ch, timeoutNanos)
}

func (inst *Instance) registerWaiter(addr uint32) chan struct{} {
	inst.waitersMu.Lock()
	defer inst.waitersMu.Unlock()
	if inst.waiters == nil {
		inst.waiters = map[uint32][]chan struct{}{}
	}
	ch := make(chan struct{})
	inst.waiters[addr] = append(inst.waiters[addr], ch)
	return ch
}

func binaryLittleEndianUint32(b []byte) uint32 { return binary.LittleEndian.Uint32(b) }
func binaryLittleEndianUint64(b []byte) uint64 { return binary.LittleEndian.Uint64(b) }

// waitOn blocks on ch until it is closed (woken by AtomicNotify) or
// timeoutNanos elapses; a negative timeout waits forever. Return values
// follow memory.atomic.wait's convention: 0 "ok" (woken), 2 "timed-out".
func waitOn(ch <-chan struct{}, timeoutNanos int64) (uint32, error) {
	if timeoutNanos < 0 {
		<-ch
		return 0, nil
	}
	t := time.NewTimer(time.Duration(timeoutNanos))
	defer t.Stop()
	select {
	case <-ch:
		return 0, nil
	case <-t.C:
		return 2, nil
	}
}

// ImportResolver looks up one import by module/name, returning the
// already-built FuncInst/MemInst/TableInst/GlobalInst it resolves to.
// Instantiate uses this to wire an Instance's import slots before
// running its start function.
type ImportResolver interface {
	ResolveFunc(module, name string) (*FuncInst, bool)
	ResolveMemory(module, name string) (*MemInst, bool)
	ResolveTable(module, name string) (*TableInst, bool)
	ResolveGlobal(module, name string) (*GlobalInst, bool)
}

// Instantiate builds a new Instance from m: resolving every import
// through resolver, allocating module-defined memories/tables/globals,
// running active element/data segment initializers, and finally the
// start function if one is declared. callFunc is supplied
// by the engine to evaluate const-expressions and the start function
// without internal/wasm depending on internal/engine.
func Instantiate(m *Module, resolver ImportResolver, callFunc func(inst *Instance, fn *FuncInst, args []uint64) ([]uint64, error)) (*Instance, error) {
	inst := &Instance{
		Module:      m,
		DroppedData: map[uint32]bool{},
		DroppedElem: map[uint32]bool{},
	}

	for _, imp := range m.ImportSection {
		switch imp.Type {
		case ExternTypeFunc:
			f, ok := resolver.ResolveFunc(imp.Module, imp.Name)
			if !ok {
				return nil, fmt.Errorf("unresolved import func %s.%s", imp.Module, imp.Name)
			}
			if !f.Type.Equal(m.TypeSection[imp.DescFunc]) {
				return nil, fmt.Errorf("import func %s.%s: type mismatch", imp.Module, imp.Name)
			}
			inst.Funcs = append(inst.Funcs, f)
		case ExternTypeMemory:
			mem, ok := resolver.ResolveMemory(imp.Module, imp.Name)
			if !ok {
				return nil, fmt.Errorf("unresolved import memory %s.%s", imp.Module, imp.Name)
			}
			if !imp.DescMem.Limits.MatchesImport(mem.PageSize(), mem.Max) {
				return nil, fmt.Errorf("import memory %s.%s: limits mismatch", imp.Module, imp.Name)
			}
			inst.Mems = append(inst.Mems, mem)
		case ExternTypeTable:
			tbl, ok := resolver.ResolveTable(imp.Module, imp.Name)
			if !ok {
				return nil, fmt.Errorf("unresolved import table %s.%s", imp.Module, imp.Name)
			}
			if tbl.ElemType != imp.DescTable.ElemType {
				return nil, fmt.Errorf("import table %s.%s: elem type mismatch", imp.Module, imp.Name)
			}
			if !imp.DescTable.Limits.MatchesImport(uint32(len(tbl.Refs)), tbl.Max) {
				return nil, fmt.Errorf("import table %s.%s: limits mismatch", imp.Module, imp.Name)
			}
			inst.Tables = append(inst.Tables, tbl)
		case ExternTypeGlobal:
			g, ok := resolver.ResolveGlobal(imp.Module, imp.Name)
			if !ok {
				return nil, fmt.Errorf("unresolved import global %s.%s", imp.Module, imp.Name)
			}
			if g.Type != imp.DescGlobal {
				return nil, fmt.Errorf("import global %s.%s: type mismatch", imp.Module, imp.Name)
			}
			inst.Globals = append(inst.Globals, g)
		}
	}

	for i, t := range m.TableSection {
		_ = i
		inst.Tables = append(inst.Tables, NewTableInst(t))
	}
	for _, t := range m.MemorySection {
		inst.Mems = append(inst.Mems, NewMemInst(t))
	}

	for idx := range m.GlobalSection {
		g := &m.GlobalSection[idx]
		gi := &GlobalInst{Type: g.Type}
		v, err := evalConst(inst, g.Init, callFunc)
		if err != nil {
			return nil, fmt.Errorf("global %d init: %w", idx, err)
		}
		gi.Set(v)
		inst.Globals = append(inst.Globals, gi)
	}

	for codeIdx := range m.CodeSection {
		funcIdx := uint32(len(inst.Funcs))
		inst.Funcs = append(inst.Funcs, &FuncInst{
			Type:     m.TypeOfFunction(funcIdx),
			Module:   m,
			CodeIdx:  uint32(codeIdx),
			Instance: inst,
		})
	}

	for ei, seg := range m.ElementSection {
		if seg.Mode == ElementModeDeclarative {
			inst.DroppedElem[uint32(ei)] = true
			continue
		}
		if seg.Mode != ElementModeActive {
			continue
		}
		off, err := evalConst(inst, seg.Offset, callFunc)
		if err != nil {
			return nil, fmt.Errorf("element %d offset: %w", ei, err)
		}
		tbl := inst.Tables[seg.Table]
		for i, fidx := range seg.Indices {
			ref := Reference{IsNull: true}
			if fidx != FuncIndexInvalid {
				ref = Reference{FuncIndex: fidx}
			}
			pos := uint32(off) + uint32(i)
			if int(pos) >= len(tbl.Refs) {
				return nil, NewTrapError(TrapIDOOBTable, "active element segment %d out of bounds", ei)
			}
			tbl.Refs[pos] = ref
		}
		inst.DroppedElem[uint32(ei)] = true
	}

	for di, seg := range m.DataSection {
		if seg.Mode != DataModeActive {
			continue
		}
		off, err := evalConst(inst, seg.Offset, callFunc)
		if err != nil {
			return nil, fmt.Errorf("data %d offset: %w", di, err)
		}
		mem := inst.Mems[seg.Memory]
		end := uint64(off) + uint64(len(seg.Init))
		if end > uint64(len(mem.Buffer)) {
			return nil, NewTrapError(TrapIDOOBMemory, "active data segment %d out of bounds", di)
		}
		copy(mem.Buffer[off:], seg.Init)
		inst.DroppedData[uint32(di)] = true
	}

	if m.StartSection != nil {
		fn := inst.Funcs[*m.StartSection]
		if _, err := callFunc(inst, fn, nil); err != nil {
			return nil, err
		}
	}

	return inst, nil
}

// evalConst evaluates a restricted constant expression to a single
// uniform-cell value by running it through the engine's own call path
// with a synthetic const-expression frame.
func evalConst(inst *Instance, ce ConstExpr, callFunc func(*Instance, *FuncInst, []uint64) ([]uint64, error)) (uint64, error) {
	fn := &FuncInst{
		Type:      &FunctionType{Results: []ValueType{valTypeAny}},
		Module:    inst.Module,
		CodeIdx:   FuncIndexInvalid,
		Instance:  inst,
		ConstBody: ce.Body,
	}
	results, err := callFunc(inst, fn, nil)
	if err != nil {
		return 0, err
	}
	if len(results) != 1 {
		return 0, fmt.Errorf("const expression produced %d results, want 1", len(results))
	}
	return results[0], nil
}

// CloseWithExitCode tears down the instance's resources it solely owns
// (non-imported memories/tables are simply dropped for GC; there is no
// native handle to release) and records the exit code a host caller
// (e.g. wasi proc_exit) requested.
func (inst *Instance) CloseWithExitCode(exitCode uint32) {
	if inst.Closed.CompareAndSwap(false, true) {
		inst.ExitCode = exitCode
	}
}
