package interpreter

import (
	"math"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/wasm"
)

// callFrame is one function activation: its locals (by cell index) and
// the operand/label stack heights it owns, so a branch or return can
// truncate back to exactly where this frame started.
type callFrame struct {
	fn        *wasm.FuncInst
	pc        uint32
	body      []byte
	locals    []uint64
	operandBase int
	labelBase   int
}

// label is one entry of the control-flow label stack within a single
// function activation: where to resume, how
// many operand cells to keep across the jump, and whether the target is
// a loop (branch to start) or a block/if (branch to end).
type label struct {
	contPC      uint32
	loopPC      uint32
	isLoop      bool
	operandBase int
	arity       int // number of result cells preserved across the branch
}

// callEngine drives one outermost Engine.Call and every nested call it
// makes, sharing a single operand stack and frame stack across the
// whole chain so depth/size ceilings (TrapIDTooManyFrames /
// TrapIDTooManyStackCells) are enforced globally, not per function.
type callEngine struct {
	engine *Engine
	inst   *wasm.Instance

	stack  []uint64
	frames []*callFrame
	labels []label
}

func (ce *callEngine) call(fn *wasm.FuncInst, args []uint64) ([]uint64, error) {
	if fn.IsHost {
		return fn.GoFunc(ce.inst, args)
	}
	if len(ce.frames) >= ce.engine.MaxFrames {
		return nil, wasm.NewTrapError(wasm.TrapIDTooManyFrames, "call stack exhausted")
	}

	body, locals := ce.prepareFrame(fn, args)
	frame := &callFrame{fn: fn, body: body, locals: locals, operandBase: len(ce.stack), labelBase: len(ce.labels)}
	ce.frames = append(ce.frames, frame)
	defer func() { ce.frames = ce.frames[:len(ce.frames)-1] }()

	resultTypes := fn.Type.Results
	if fn.CodeIdx == wasm.FuncIndexInvalid {
		resultTypes = []wasm.ValueType{0} // const-expr: single unknown-typed cell
	}
	ce.pushLabel(label{contPC: uint32(len(body)), operandBase: len(ce.stack), arity: cellsOfAll(resultTypes)})

	if err := ce.run(frame); err != nil {
		return nil, err
	}

	n := cellsOfAll(resultTypes)
	results := make([]uint64, n)
	copy(results, ce.stack[len(ce.stack)-n:])
	ce.stack = ce.stack[:frame.operandBase]
	ce.labels = ce.labels[:frame.labelBase]
	return results, nil
}

func (ce *callEngine) prepareFrame(fn *wasm.FuncInst, args []uint64) ([]byte, []uint64) {
	if fn.CodeIdx == wasm.FuncIndexInvalid {
		return fn.ConstBody, nil
	}
	code := &fn.Module.CodeSection[fn.CodeIdx]
	locals := make([]uint64, 0, len(fn.Type.Params)+len(code.LocalTypes))
	locals = append(locals, args...)
	for _, t := range code.LocalTypes {
		n := 1
		if t == wasm.ValueTypeV128 {
			n = 2
		}
		for i := 0; i < n; i++ {
			locals = append(locals, 0)
		}
	}
	return code.Body, locals
}

func cellsOfAll(ts []wasm.ValueType) int {
	n := 0
	for _, t := range ts {
		if t == wasm.ValueTypeV128 {
			n += 2
		} else {
			n++
		}
	}
	return n
}

func (ce *callEngine) pushLabel(l label) { ce.labels = append(ce.labels, l) }
func (ce *callEngine) topLabel() *label  { return &ce.labels[len(ce.labels)-1] }

func (ce *callEngine) push(v uint64) error {
	if len(ce.stack) >= ce.engine.MaxStackCells {
		return wasm.NewTrapError(wasm.TrapIDTooManyStackCells, "operand stack exhausted")
	}
	ce.stack = append(ce.stack, v)
	return nil
}

func (ce *callEngine) pop() uint64 {
	v := ce.stack[len(ce.stack)-1]
	ce.stack = ce.stack[:len(ce.stack)-1]
	return v
}

func (ce *callEngine) popN(n int) []uint64 {
	v := append([]uint64(nil), ce.stack[len(ce.stack)-n:]...)
	ce.stack = ce.stack[:len(ce.stack)-n]
	return v
}

// run executes frame.body starting at frame.pc until the frame's own
// outermost label is popped by `end`/`return`/a branch with depth
// reaching it, at which point the function has completed.
func (ce *callEngine) run(frame *callFrame) error {
	body := frame.body
	for int(frame.pc) < len(body) {
		op := body[frame.pc]
		frame.pc++
		advance, err := ce.exec(frame, op)
		if err != nil {
			return err
		}
		if advance == execReturned {
			return nil
		}
	}
	return nil
}

type execSignal int

const (
	execContinue execSignal = iota
	execReturned
)

// exec executes one instruction at frame.pc-1 (the opcode byte already
// consumed), advancing frame.pc past any immediates, and returns
// execReturned once the function's own label has closed.
func (ce *callEngine) exec(frame *callFrame, op wasm.Opcode) (execSignal, error) {
	switch op {
	case wasm.OpcodeUnreachable:
		return 0, wasm.NewTrapError(wasm.TrapIDUnreachable, "unreachable")
	case wasm.OpcodeNop:
	case wasm.OpcodeBlock, wasm.OpcodeLoop:
		opcodePC := frame.pc - 1
		bt, n := ce.readBlockType(frame)
		frame.pc += n
		jt := frame.fn.Module.CodeSection[frame.fn.CodeIdx].ExecInfo.Jumps[opcodePC]
		arity := cellsOfAll(bt.ResultTypes(frame.fn.Module.TypeSection))
		if op == wasm.OpcodeLoop {
			arity = cellsOfAll(bt.ParamTypes(frame.fn.Module.TypeSection))
		}
		ce.pushLabel(label{contPC: jt.EndPC, loopPC: frame.pc, isLoop: op == wasm.OpcodeLoop, operandBase: len(ce.stack) - cellsOfAll(bt.ParamTypes(frame.fn.Module.TypeSection)), arity: arity})
	case wasm.OpcodeIf:
		bt, n := ce.readBlockType(frame)
		blockPC := frame.pc - 1
		frame.pc += n
		cond := ce.pop()
		jt := frame.fn.Module.CodeSection[frame.fn.CodeIdx].ExecInfo.Jumps[blockPC]
		arity := cellsOfAll(bt.ResultTypes(frame.fn.Module.TypeSection))
		ce.pushLabel(label{contPC: jt.EndPC, operandBase: len(ce.stack) - cellsOfAll(bt.ParamTypes(frame.fn.Module.TypeSection)), arity: arity})
		if cond == 0 {
			if jt.ElsePC != 0 {
				frame.pc = jt.ElsePC
			} else {
				frame.pc = jt.EndPC
			}
		}
	case wasm.OpcodeElse:
		// Reached by falling through the `if` branch: skip to matching end.
		l := ce.topLabel()
		frame.pc = l.contPC
	case wasm.OpcodeEnd:
		l := ce.topLabel()
		ce.labels = ce.labels[:len(ce.labels)-1]
		if len(ce.labels) <= frame.labelBase {
			return execReturned, nil
		}
		_ = l
	case wasm.OpcodeBr:
		depth, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		returned, err := ce.branch(frame, depth)
		if err != nil {
			return 0, err
		}
		if returned {
			return execReturned, nil
		}
	case wasm.OpcodeBrIf:
		depth, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		if ce.pop() != 0 {
			returned, err := ce.branch(frame, depth)
			if err != nil {
				return 0, err
			}
			if returned {
				return execReturned, nil
			}
		}
	case wasm.OpcodeBrTable:
		count, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		targets := make([]uint32, count)
		for i := uint32(0); i < count; i++ {
			d, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
			frame.pc += uint32(n)
			targets[i] = d
		}
		def, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		idx := uint32(ce.pop())
		depth := def
		if idx < count {
			depth = targets[idx]
		}
		returned, err := ce.branch(frame, depth)
		if err != nil {
			return 0, err
		}
		if returned {
			return execReturned, nil
		}
	case wasm.OpcodeReturn:
		return execReturned, nil
	case wasm.OpcodeCall:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		if err := ce.callByIndex(idx); err != nil {
			return 0, err
		}
	case wasm.OpcodeCallIndirect, wasm.OpcodeReturnCallIndirect:
		typeIdx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		tblIdx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		if err := ce.callIndirect(typeIdx, tblIdx); err != nil {
			return 0, err
		}
		if op == wasm.OpcodeReturnCallIndirect {
			return execReturned, nil
		}
	case wasm.OpcodeReturnCall:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		if err := ce.callByIndex(idx); err != nil {
			return 0, err
		}
		return execReturned, nil

	case wasm.OpcodeDrop:
		ce.pop()
	case wasm.OpcodeSelect:
		cond := ce.pop()
		b := ce.pop()
		a := ce.pop()
		if cond != 0 {
			ce.push(a)
		} else {
			ce.push(b)
		}
	case wasm.OpcodeSelectT:
		count, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n) + count // skip the value-type vector
		cond := ce.pop()
		b := ce.pop()
		a := ce.pop()
		if cond != 0 {
			ce.push(a)
		} else {
			ce.push(b)
		}

	case wasm.OpcodeLocalGet:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		return 0, ce.push(frame.locals[idx])
	case wasm.OpcodeLocalSet:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		frame.locals[idx] = ce.pop()
	case wasm.OpcodeLocalTee:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		frame.locals[idx] = ce.stack[len(ce.stack)-1]
	case wasm.OpcodeGlobalGet:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		return 0, ce.push(ce.inst.Globals[idx].Get())
	case wasm.OpcodeGlobalSet:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		ce.inst.Globals[idx].Set(ce.pop())

	case wasm.OpcodeTableGet:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		tbl := ce.inst.Tables[idx]
		i := uint32(ce.pop())
		if int(i) >= len(tbl.Refs) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBTable, "table.get out of bounds")
		}
		return 0, ce.push(encodeRef(tbl.Refs[i]))
	case wasm.OpcodeTableSet:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		tbl := ce.inst.Tables[idx]
		v := ce.pop()
		i := uint32(ce.pop())
		if int(i) >= len(tbl.Refs) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBTable, "table.set out of bounds")
		}
		tbl.Refs[i] = decodeRef(v)

	case wasm.OpcodeI32Const:
		v, n := leb128.DecodeInt32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		return 0, ce.push(uint64(uint32(v)))
	case wasm.OpcodeI64Const:
		v, n := leb128.DecodeInt64NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		return 0, ce.push(uint64(v))
	case wasm.OpcodeF32Const:
		bits := leb128Little32(frame.body[frame.pc:])
		frame.pc += 4
		return 0, ce.push(uint64(bits))
	case wasm.OpcodeF64Const:
		bits := leb128Little64(frame.body[frame.pc:])
		frame.pc += 8
		return 0, ce.push(bits)

	case wasm.OpcodeRefNull:
		frame.pc++ // reftype byte
		return 0, ce.push(encodeRef(wasm.Reference{IsNull: true}))
	case wasm.OpcodeRefIsNull:
		v := ce.pop()
		if decodeRef(v).IsNull {
			return 0, ce.push(1)
		}
		return 0, ce.push(0)
	case wasm.OpcodeRefFunc:
		idx, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
		frame.pc += uint32(n)
		return 0, ce.push(encodeRef(wasm.Reference{FuncIndex: idx}))

	case wasm.OpcodeMemorySize:
		frame.pc++
		return 0, ce.push(uint64(ce.inst.Mems[0].PageSize()))
	case wasm.OpcodeMemoryGrow:
		frame.pc++
		delta := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		// A shared memory's buffer may be read or written by any other
		// running thread, so reallocating it first requires stopping
		// every one of them at the cluster's barrier.
		if mem.Shared && ce.inst.SuspendForGrow != nil {
			ce.inst.SuspendForGrow()
		}
		prev, ok := mem.Grow(delta)
		if mem.Shared && ce.inst.ResumeForGrow != nil {
			ce.inst.ResumeForGrow()
		}
		if !ok {
			return 0, ce.push(uint64(uint32(0xffffffff)))
		}
		return 0, ce.push(uint64(prev))

	case wasm.OpcodeMiscPrefix:
		return ce.execMisc(frame)
	case wasm.OpcodeAtomicPrefix:
		return ce.execAtomic(frame)
	case wasm.OpcodeSIMDPrefix:
		return ce.execSIMD(frame)

	default:
		if isLoadOp(op) {
			return ce.execLoad(frame, op)
		}
		if isStoreOp(op) {
			return ce.execStore(frame, op)
		}
		return ce.execNumeric(op)
	}
	return execContinue, nil
}

// branch implements the BRANCH control-flow event: pop
// `depth` labels, preserve the target's arity worth of result cells, and
// either jump (block/if: to end; loop: back to start) or — when the
// branch unwinds the function's own outermost label — signal return.
func (ce *callEngine) branch(frame *callFrame, depth uint32) (bool, error) {
	for i := uint32(0); i < depth; i++ {
		ce.labels = ce.labels[:len(ce.labels)-1]
	}
	l := ce.labels[len(ce.labels)-1]
	vals := ce.stack[len(ce.stack)-l.arity:]
	saved := append([]uint64(nil), vals...)
	if l.isLoop {
		ce.stack = ce.stack[:l.operandBase]
		ce.stack = append(ce.stack, saved...)
		frame.pc = l.loopPC
		// A loop back-edge is the cooperative checkpoint a cluster's
		// suspend-the-world barrier (internal/cluster) and any pending
		// interrupt request are observed at, mirroring the original's
		// per-iteration cluster_check_interrupt call.
		if ce.inst.CheckSuspend != nil {
			if err := ce.inst.CheckSuspend(); err != nil {
				return false, err
			}
		}
		return false, nil
	}
	ce.stack = ce.stack[:l.operandBase]
	ce.stack = append(ce.stack, saved...)
	ce.labels = ce.labels[:len(ce.labels)-1]
	if len(ce.labels) <= frame.labelBase {
		return true, nil
	}
	frame.pc = l.contPC
	return false, nil
}

func (ce *callEngine) callByIndex(idx uint32) error {
	fn := ce.inst.Funcs[idx]
	args := ce.popN(cellsOfAll(fn.Type.Params))
	results, err := ce.call(fn, args)
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := ce.push(r); err != nil {
			return err
		}
	}
	return nil
}

func (ce *callEngine) callIndirect(typeIdx, tblIdx uint32) error {
	tbl := ce.inst.Tables[tblIdx]
	i := uint32(ce.pop())
	if int(i) >= len(tbl.Refs) {
		return wasm.NewTrapError(wasm.TrapIDCallIndirectOOB, "call_indirect out of bounds")
	}
	ref := tbl.Refs[i]
	if ref.IsNull {
		return wasm.NewTrapError(wasm.TrapIDCallIndirectNull, "call_indirect to null element")
	}
	fn := ce.inst.Funcs[ref.FuncIndex]
	want := ce.inst.Module.TypeSection[typeIdx]
	if !fn.Type.Equal(want) {
		return wasm.NewTrapError(wasm.TrapIDCallIndirectTypeMismatch, "call_indirect type mismatch")
	}
	args := ce.popN(cellsOfAll(fn.Type.Params))
	results, err := ce.call(fn, args)
	if err != nil {
		return err
	}
	for _, r := range results {
		if err := ce.push(r); err != nil {
			return err
		}
	}
	return nil
}

func (ce *callEngine) readBlockType(frame *callFrame) (wasm.BlockType, uint32) {
	n64, n := leb128.DecodeInt32NoCheck(frame.body[frame.pc:])
	if n64 == -64 {
		return wasm.BlockType{Kind: wasm.BlockTypeEmpty}, uint32(n)
	}
	if n64 < 0 {
		return wasm.BlockType{Kind: wasm.BlockTypeValueType, ValueType: wasm.ValueType(n64 & 0x7f)}, uint32(n)
	}
	return wasm.BlockType{Kind: wasm.BlockTypeFuncType, TypeIndex: uint32(n64)}, uint32(n)
}

func leb128Little32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}
func leb128Little64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v |= uint64(b[i]) << (8 * i)
	}
	return v
}

func encodeRef(r wasm.Reference) uint64 {
	if r.IsNull {
		return math.MaxUint64
	}
	return uint64(r.FuncIndex)
}

func decodeRef(v uint64) wasm.Reference {
	if v == math.MaxUint64 {
		return wasm.Reference{IsNull: true}
	}
	return wasm.Reference{FuncIndex: uint32(v)}
}
