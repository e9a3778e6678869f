package interpreter

import (
	"encoding/binary"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/wasm"
)

func isLoadOp(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeI32Load, wasm.OpcodeI64Load, wasm.OpcodeF32Load, wasm.OpcodeF64Load,
		wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U,
		wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U,
		wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		return true
	}
	return false
}

func isStoreOp(op wasm.Opcode) bool {
	switch op {
	case wasm.OpcodeI32Store, wasm.OpcodeI64Store, wasm.OpcodeF32Store, wasm.OpcodeF64Store,
		wasm.OpcodeI32Store8, wasm.OpcodeI32Store16, wasm.OpcodeI64Store8, wasm.OpcodeI64Store16, wasm.OpcodeI64Store32:
		return true
	}
	return false
}

// readMemarg consumes the (align, offset) immediate pair, returning the
// static offset; alignment is advisory in an interpreter (it never
// changes correctness, only whether a real machine would trap on
// unaligned hardware access) so it is parsed and discarded.
func readMemarg(frame *callFrame) uint32 {
	_, n1 := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
	frame.pc += uint32(n1)
	off, n2 := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
	frame.pc += uint32(n2)
	return off
}

func (ce *callEngine) execLoad(frame *callFrame, op wasm.Opcode) (execSignal, error) {
	offset := readMemarg(frame)
	addr := uint32(ce.pop())
	mem := ce.inst.Mems[0]

	width := loadWidth(op)
	ea := uint64(addr) + uint64(offset)
	if ea+uint64(width) > uint64(len(mem.Buffer)) {
		return 0, wasm.NewTrapError(wasm.TrapIDOOBMemory, "out of bounds memory access")
	}
	b := mem.Buffer[ea : ea+uint64(width)]

	var result uint64
	switch op {
	case wasm.OpcodeI32Load:
		result = uint64(binary.LittleEndian.Uint32(b))
	case wasm.OpcodeI64Load:
		result = binary.LittleEndian.Uint64(b)
	case wasm.OpcodeF32Load:
		result = uint64(binary.LittleEndian.Uint32(b))
	case wasm.OpcodeF64Load:
		result = binary.LittleEndian.Uint64(b)
	case wasm.OpcodeI32Load8S:
		result = uint64(uint32(int32(int8(b[0]))))
	case wasm.OpcodeI32Load8U:
		result = uint64(b[0])
	case wasm.OpcodeI32Load16S:
		result = uint64(uint32(int32(int16(binary.LittleEndian.Uint16(b)))))
	case wasm.OpcodeI32Load16U:
		result = uint64(binary.LittleEndian.Uint16(b))
	case wasm.OpcodeI64Load8S:
		result = uint64(int64(int8(b[0])))
	case wasm.OpcodeI64Load8U:
		result = uint64(b[0])
	case wasm.OpcodeI64Load16S:
		result = uint64(int64(int16(binary.LittleEndian.Uint16(b))))
	case wasm.OpcodeI64Load16U:
		result = uint64(binary.LittleEndian.Uint16(b))
	case wasm.OpcodeI64Load32S:
		result = uint64(int64(int32(binary.LittleEndian.Uint32(b))))
	case wasm.OpcodeI64Load32U:
		result = uint64(binary.LittleEndian.Uint32(b))
	}
	return 0, ce.push(result)
}

func (ce *callEngine) execStore(frame *callFrame, op wasm.Opcode) (execSignal, error) {
	offset := readMemarg(frame)
	val := ce.pop()
	addr := uint32(ce.pop())
	mem := ce.inst.Mems[0]

	width := storeWidth(op)
	ea := uint64(addr) + uint64(offset)
	if ea+uint64(width) > uint64(len(mem.Buffer)) {
		return 0, wasm.NewTrapError(wasm.TrapIDOOBMemory, "out of bounds memory access")
	}
	b := mem.Buffer[ea : ea+uint64(width)]

	switch op {
	case wasm.OpcodeI32Store, wasm.OpcodeF32Store:
		binary.LittleEndian.PutUint32(b, uint32(val))
	case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
		binary.LittleEndian.PutUint64(b, val)
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		b[0] = byte(val)
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		binary.LittleEndian.PutUint16(b, uint16(val))
	case wasm.OpcodeI64Store32:
		binary.LittleEndian.PutUint32(b, uint32(val))
	}
	return 0, nil
}

func loadWidth(op wasm.Opcode) int {
	switch op {
	case wasm.OpcodeI32Load, wasm.OpcodeF32Load:
		return 4
	case wasm.OpcodeI64Load, wasm.OpcodeF64Load:
		return 8
	case wasm.OpcodeI32Load8S, wasm.OpcodeI32Load8U, wasm.OpcodeI64Load8S, wasm.OpcodeI64Load8U:
		return 1
	case wasm.OpcodeI32Load16S, wasm.OpcodeI32Load16U, wasm.OpcodeI64Load16S, wasm.OpcodeI64Load16U:
		return 2
	case wasm.OpcodeI64Load32S, wasm.OpcodeI64Load32U:
		return 4
	}
	return 0
}

func storeWidth(op wasm.Opcode) int {
	switch op {
	case wasm.OpcodeI32Store, wasm.OpcodeF32Store, wasm.OpcodeI64Store32:
		return 4
	case wasm.OpcodeI64Store, wasm.OpcodeF64Store:
		return 8
	case wasm.OpcodeI32Store8, wasm.OpcodeI64Store8:
		return 1
	case wasm.OpcodeI32Store16, wasm.OpcodeI64Store16:
		return 2
	}
	return 0
}
