package wasm

import (
	"bytes"
	"fmt"

	"github.com/gowasm/gowasm/internal/leb128"
)

// maxCellIndexTableCells is the 16-bit prefix-sum table's implementation
// ceiling: functions with more local cells get no table.
const maxCellIndexTableCells = 65535

// ctrlFrame is the validator's control-frame stack entry.
type ctrlFrame struct {
	op          Opcode
	startTypes  []ValueType
	endTypes    []ValueType
	heightAtEntry int
	unreachable bool
	blockPC     uint32 // PC of the opening block/loop/if instruction
	blockType   BlockType
	elsePC      uint32 // filled in when an `else` is seen, for `if`
}

// labelTypes returns the branch-target signature for this frame: a loop
// branches to its own start (so param types are the target signature);
// block/if/function branch to their end (so result types are).
func (f *ctrlFrame) labelTypes() []ValueType {
	if f.op == OpcodeLoop {
		return f.startTypes
	}
	return f.endTypes
}

// validator walks one function body or const-expression exactly once,
// maintaining an abstract operand-type stack alongside the control-frame
// stack, and emits ExecInfo.
type validator struct {
	module   *Module
	features Features

	operands []ValueType
	ctrl     []ctrlFrame

	maxOperands int
	maxLabels   int

	jumps map[uint32]JumpTarget

	// refs is the set of function indices that may legally appear in a
	// ref.func inside a body: those occurring in exports, element
	// segments, or global initializers.
	refs map[uint32]bool

	locals    []ValueType // params ++ declared locals
	funcType  *FunctionType
	isConst   bool
}

// ValidateModule walks every function body and every const-expression
// (globals, element/data offsets) exactly once, attaching ExecInfo to
// each Code entry. It also computes the module-wide ref.func whitelist
// before validating any function body, since a function
// may reference an index declared later in the module.
func ValidateModule(m *Module, features Features) error {
	refs := collectFuncRefs(m)

	for i := range m.CodeSection {
		code := &m.CodeSection[i]
		ft := m.TypeOfFunction(uint32(len(funcImportIndices(m))) + uint32(i))
		locals := append(append([]ValueType{}, ft.Params...), code.LocalTypes...)
		v := &validator{module: m, features: features, refs: refs, locals: locals, funcType: ft}
		info, err := v.run(code.Body, ft.Results)
		if err != nil {
			return fmt.Errorf("function %d: %w", i, err)
		}
		code.ExecInfo = info
	}

	for gi := range m.GlobalSection {
		g := &m.GlobalSection[gi]
		v := &validator{module: m, features: features, refs: refs, isConst: true}
		if _, err := v.run(g.Init.Body, []ValueType{g.Type.ValType}); err != nil {
			return fmt.Errorf("global %d init: %w", gi, err)
		}
	}
	for ei := range m.ElementSection {
		seg := &m.ElementSection[ei]
		if seg.Mode != ElementModeActive {
			continue
		}
		v := &validator{module: m, features: features, refs: refs, isConst: true}
		if _, err := v.run(seg.Offset.Body, []ValueType{ValueTypeI32}); err != nil {
			return fmt.Errorf("element %d offset: %w", ei, err)
		}
	}
	for di := range m.DataSection {
		seg := &m.DataSection[di]
		if seg.Mode != DataModeActive {
			continue
		}
		v := &validator{module: m, features: features, refs: refs, isConst: true}
		if _, err := v.run(seg.Offset.Body, []ValueType{ValueTypeI32}); err != nil {
			return fmt.Errorf("data %d offset: %w", di, err)
		}
	}
	if m.StartSection != nil {
		ft := m.TypeOfFunction(*m.StartSection)
		if len(ft.Params) != 0 || len(ft.Results) != 0 {
			return fmt.Errorf("start function must have type []->[]")
		}
	}
	return nil
}

func funcImportIndices(m *Module) []uint32 {
	var out []uint32
	for i, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc {
			out = append(out, uint32(i))
		}
	}
	return out
}

// collectFuncRefs enforces that a ref.func inside a body may
// only reference an index that occurs outside bodies — exports,
// elements, or global initializers.
func collectFuncRefs(m *Module) map[uint32]bool {
	refs := map[uint32]bool{}
	for _, e := range m.ExportSection {
		if e.Type == ExternTypeFunc {
			refs[e.Index] = true
		}
	}
	for _, seg := range m.ElementSection {
		for _, idx := range seg.Indices {
			if idx != ^uint32(0) {
				refs[idx] = true
			}
		}
	}
	for _, g := range m.GlobalSection {
		if len(g.Init.Body) >= 1 && g.Init.Body[0] == OpcodeRefFunc {
			idx, _ := leb128.DecodeUint32NoCheck(g.Init.Body[1:])
			refs[idx] = true
		}
	}
	return refs
}

func (v *validator) pushFrame(op Opcode, blockPC uint32, start, end []ValueType) {
	v.ctrl = append(v.ctrl, ctrlFrame{
		op: op, startTypes: start, endTypes: end,
		heightAtEntry: len(v.operands), blockPC: blockPC,
	})
	for _, t := range start {
		v.push(t)
	}
	if len(v.ctrl) > v.maxLabels {
		v.maxLabels = len(v.ctrl)
	}
}

func (v *validator) top() *ctrlFrame { return &v.ctrl[len(v.ctrl)-1] }

func (v *validator) push(t ValueType) {
	v.operands = append(v.operands, t)
	if len(v.operands) > v.maxOperands {
		v.maxOperands = len(v.operands)
	}
}

func (v *validator) pop() (ValueType, error) {
	f := v.top()
	if len(v.operands) == f.heightAtEntry {
		if f.unreachable {
			return valTypeUnknown, nil
		}
		return 0, fmt.Errorf("operand stack underflow")
	}
	t := v.operands[len(v.operands)-1]
	v.operands = v.operands[:len(v.operands)-1]
	return t, nil
}

func (v *validator) popExpect(want ValueType) error {
	got, err := v.pop()
	if err != nil {
		return err
	}
	if got == valTypeUnknown || want == valTypeUnknown {
		return nil
	}
	if want == valTypeAny {
		if !isReferenceType(got) {
			return fmt.Errorf("expected a reference type, got %s", api_ValueTypeName(got))
		}
		return nil
	}
	if got != want {
		return fmt.Errorf("type mismatch: expected %s, got %s", api_ValueTypeName(want), api_ValueTypeName(got))
	}
	return nil
}

// api_ValueTypeName avoids importing api solely for error strings in the
// hot validation path; kept tiny and local.
func api_ValueTypeName(vt ValueType) string {
	switch vt {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncref:
		return "funcref"
	case ValueTypeExternref:
		return "externref"
	case valTypeUnknown:
		return "unknown"
	default:
		return "?"
	}
}

func (v *validator) setUnreachable() {
	f := v.top()
	v.operands = v.operands[:f.heightAtEntry]
	f.unreachable = true
}

func (v *validator) run(body []byte, funcResults []ValueType) (*ExecInfo, error) {
	v.jumps = map[uint32]JumpTarget{}
	r := bytes.NewReader(body)
	// The function/const-expr frame itself is ctrl[0]; it has no jump
	// slot and is popped only when `end` closes it.
	v.pushFrame(0xff, 0, nil, funcResults)

	for len(v.ctrl) > 0 {
		pc := uint32(len(body) - r.Len())
		op, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		if err := v.step(r, pc, op, body); err != nil {
			return nil, fmt.Errorf("pc=%d op=%#x: %w", pc, op, err)
		}
	}
	info := &ExecInfo{Jumps: v.jumps, MaxLabels: v.maxLabels, MaxCells: v.maxOperandCells()}
	if len(v.locals) > 0 && v.totalLocalCells() <= maxCellIndexTableCells {
		info.LocalCellOffsets = v.buildLocalCellOffsets()
	}
	return info, nil
}

func (v *validator) maxOperandCells() int {
	// Conservative: cells are counted 1:1 with tracked operand slots,
	// except v128 which the engine stores as two consecutive cells.
	return v.maxOperands * 2
}

func (v *validator) totalLocalCells() int {
	n := 0
	for _, t := range v.locals {
		n += cellsOf(t)
	}
	return n
}

func (v *validator) buildLocalCellOffsets() []uint16 {
	offs := make([]uint16, len(v.locals)+1)
	var cell uint16
	for i, t := range v.locals {
		offs[i] = cell
		cell += uint16(cellsOf(t))
	}
	offs[len(v.locals)] = cell
	return offs
}
