package wasm

// Opcode is a single WebAssembly instruction byte. Multi-byte instruction
// families (bulk-memory/reference-types under 0xFC, SIMD under 0xFD,
// threads/atomics under 0xFE) are decoded as an Opcode plus a trailing
// sub-opcode read via LEB128, per the binary format.
type Opcode = byte

const (
	OpcodeUnreachable Opcode = 0x00
	OpcodeNop         Opcode = 0x01
	OpcodeBlock       Opcode = 0x02
	OpcodeLoop        Opcode = 0x03
	OpcodeIf          Opcode = 0x04
	OpcodeElse        Opcode = 0x05
	OpcodeEnd         Opcode = 0x0b
	OpcodeBr          Opcode = 0x0c
	OpcodeBrIf        Opcode = 0x0d
	OpcodeBrTable     Opcode = 0x0e
	OpcodeReturn      Opcode = 0x0f
	OpcodeCall        Opcode = 0x10
	OpcodeCallIndirect Opcode = 0x11
	OpcodeReturnCall   Opcode = 0x12 // tail-call proposal
	OpcodeReturnCallIndirect Opcode = 0x13

	OpcodeDrop   Opcode = 0x1a
	OpcodeSelect Opcode = 0x1b
	OpcodeSelectT Opcode = 0x1c // select with explicit result type (multi-value/reftypes)

	OpcodeLocalGet  Opcode = 0x20
	OpcodeLocalSet  Opcode = 0x21
	OpcodeLocalTee  Opcode = 0x22
	OpcodeGlobalGet Opcode = 0x23
	OpcodeGlobalSet Opcode = 0x24

	OpcodeTableGet Opcode = 0x25
	OpcodeTableSet Opcode = 0x26

	OpcodeI32Load    Opcode = 0x28
	OpcodeI64Load    Opcode = 0x29
	OpcodeF32Load    Opcode = 0x2a
	OpcodeF64Load    Opcode = 0x2b
	OpcodeI32Load8S  Opcode = 0x2c
	OpcodeI32Load8U  Opcode = 0x2d
	OpcodeI32Load16S Opcode = 0x2e
	OpcodeI32Load16U Opcode = 0x2f
	OpcodeI64Load8S  Opcode = 0x30
	OpcodeI64Load8U  Opcode = 0x31
	OpcodeI64Load16S Opcode = 0x32
	OpcodeI64Load16U Opcode = 0x33
	OpcodeI64Load32S Opcode = 0x34
	OpcodeI64Load32U Opcode = 0x35
	OpcodeI32Store   Opcode = 0x36
	OpcodeI64Store   Opcode = 0x37
	OpcodeF32Store   Opcode = 0x38
	OpcodeF64Store   Opcode = 0x39
	OpcodeI32Store8  Opcode = 0x3a
	OpcodeI32Store16 Opcode = 0x3b
	OpcodeI64Store8  Opcode = 0x3c
	OpcodeI64Store16 Opcode = 0x3d
	OpcodeI64Store32 Opcode = 0x3e

	OpcodeMemorySize Opcode = 0x3f
	OpcodeMemoryGrow Opcode = 0x40

	OpcodeI32Const Opcode = 0x41
	OpcodeI64Const Opcode = 0x42
	OpcodeF32Const Opcode = 0x43
	OpcodeF64Const Opcode = 0x44

	// i32/i64 comparisons and arithmetic occupy 0x45-0xbf contiguously in
	// the WebAssembly encoding; gowasm keeps the same numbering and dispatches
	// on it directly rather than naming all ~120 of them individually here.
	OpcodeI32Eqz Opcode = 0x45
	OpcodeI64Eqz Opcode = 0x50
	OpcodeF32Eq  Opcode = 0x5b
	OpcodeF64Eq  Opcode = 0x61
	OpcodeI32Add Opcode = 0x6a
	OpcodeI64Add Opcode = 0x7c

	// Numeric conversion range 0xa7-0xbf (wrap/trunc/convert/demote/etc).

	OpcodeRefNull   Opcode = 0xd0
	OpcodeRefIsNull Opcode = 0xd1
	OpcodeRefFunc   Opcode = 0xd2

	// OpcodeMiscPrefix introduces the bulk-memory / reference-types /
	// non-trapping-conversion extended instruction set; the next byte
	// (LEB128 u32) selects the sub-opcode (OpcodeMisc*).
	OpcodeMiscPrefix Opcode = 0xfc
	// OpcodeSIMDPrefix introduces the SIMD (v128) instruction set.
	OpcodeSIMDPrefix Opcode = 0xfd
	// OpcodeAtomicPrefix introduces the threads/atomics instruction set.
	OpcodeAtomicPrefix Opcode = 0xfe
)

// Sub-opcodes under OpcodeMiscPrefix (0xFC).
const (
	OpcodeMiscI32TruncSatF32S Opcode = 0x00
	OpcodeMiscI32TruncSatF32U Opcode = 0x01
	OpcodeMiscI32TruncSatF64S Opcode = 0x02
	OpcodeMiscI32TruncSatF64U Opcode = 0x03
	OpcodeMiscI64TruncSatF32S Opcode = 0x04
	OpcodeMiscI64TruncSatF32U Opcode = 0x05
	OpcodeMiscI64TruncSatF64S Opcode = 0x06
	OpcodeMiscI64TruncSatF64U Opcode = 0x07

	OpcodeMiscMemoryInit Opcode = 0x08
	OpcodeMiscDataDrop   Opcode = 0x09
	OpcodeMiscMemoryCopy Opcode = 0x0a
	OpcodeMiscMemoryFill Opcode = 0x0b
	OpcodeMiscTableInit  Opcode = 0x0c
	OpcodeMiscElemDrop   Opcode = 0x0d
	OpcodeMiscTableCopy  Opcode = 0x0e
	OpcodeMiscTableGrow  Opcode = 0x0f
	OpcodeMiscTableSize  Opcode = 0x10
	OpcodeMiscTableFill  Opcode = 0x11
)

// Sub-opcodes under OpcodeAtomicPrefix (0xFE) — the threads proposal.
const (
	OpcodeAtomicMemoryNotify Opcode = 0x00
	OpcodeAtomicMemoryWait32 Opcode = 0x01
	OpcodeAtomicMemoryWait64 Opcode = 0x02
	OpcodeAtomicFence        Opcode = 0x03

	OpcodeAtomicI32Load  Opcode = 0x10
	OpcodeAtomicI64Load  Opcode = 0x11
	OpcodeAtomicI32Load8U  Opcode = 0x12
	OpcodeAtomicI32Load16U Opcode = 0x13
	OpcodeAtomicI64Load8U  Opcode = 0x14
	OpcodeAtomicI64Load16U Opcode = 0x15
	OpcodeAtomicI64Load32U Opcode = 0x16
	OpcodeAtomicI32Store Opcode = 0x17
	OpcodeAtomicI64Store Opcode = 0x18
	OpcodeAtomicI32Store8  Opcode = 0x19
	OpcodeAtomicI32Store16 Opcode = 0x1a
	OpcodeAtomicI64Store8  Opcode = 0x1b
	OpcodeAtomicI64Store16 Opcode = 0x1c
	OpcodeAtomicI64Store32 Opcode = 0x1d

	OpcodeAtomicI32RmwAdd  Opcode = 0x1e
	OpcodeAtomicI64RmwAdd  Opcode = 0x1f
	OpcodeAtomicI32RmwSub  Opcode = 0x25
	OpcodeAtomicI64RmwSub  Opcode = 0x26
	OpcodeAtomicI32RmwCmpxchg Opcode = 0x48
	OpcodeAtomicI64RmwCmpxchg Opcode = 0x49
)

// BlockType classifies a structured control-flow instruction's signature:
// empty, a single value type, or an index into the type section
// (multi-value proposal, decoded from the signed 33-bit immediate).
type BlockType struct {
	// Kind is one of the BlockType* constants below.
	Kind int8
	// ValueType is valid when Kind == BlockTypeValueType.
	ValueType ValueType
	// TypeIndex is valid when Kind == BlockTypeFuncType.
	TypeIndex uint32
}

const (
	BlockTypeEmpty = iota
	BlockTypeValueType
	BlockTypeFuncType
)

// ParamTypes and ResultTypes resolve a BlockType against the module's
// type section (needed only for BlockTypeFuncType).
func (bt BlockType) ParamTypes(types []*FunctionType) []ValueType {
	if bt.Kind == BlockTypeFuncType {
		return types[bt.TypeIndex].Params
	}
	return nil
}

func (bt BlockType) ResultTypes(types []*FunctionType) []ValueType {
	switch bt.Kind {
	case BlockTypeValueType:
		return []ValueType{bt.ValueType}
	case BlockTypeFuncType:
		return types[bt.TypeIndex].Results
	default:
		return nil
	}
}
