package interpreter

import (
	"encoding/binary"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/wasm"
)

// v128 is stored as two consecutive uniform cells on the operand stack
//; execSIMD covers v128.const/load/store only — the
// minimal surface gowasm exposes.
func (ce *callEngine) execSIMD(frame *callFrame) (execSignal, error) {
	sub, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
	frame.pc += uint32(n)

	switch sub {
	case 0x0c: // v128.const
		lo := binary.LittleEndian.Uint64(frame.body[frame.pc:])
		hi := binary.LittleEndian.Uint64(frame.body[frame.pc+8:])
		frame.pc += 16
		if err := ce.push(lo); err != nil {
			return 0, err
		}
		return 0, ce.push(hi)
	case 0x00: // v128.load
		offset := readMemarg(frame)
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		ea := uint64(addr) + uint64(offset)
		if ea+16 > uint64(len(mem.Buffer)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBMemory, "v128.load out of bounds")
		}
		lo := binary.LittleEndian.Uint64(mem.Buffer[ea:])
		hi := binary.LittleEndian.Uint64(mem.Buffer[ea+8:])
		if err := ce.push(lo); err != nil {
			return 0, err
		}
		return 0, ce.push(hi)
	case 0x0b: // v128.store
		offset := readMemarg(frame)
		hi := ce.pop()
		lo := ce.pop()
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		ea := uint64(addr) + uint64(offset)
		if ea+16 > uint64(len(mem.Buffer)) {
			return 0, wasm.NewTrapError(wasm.TrapIDOOBMemory, "v128.store out of bounds")
		}
		binary.LittleEndian.PutUint64(mem.Buffer[ea:], lo)
		binary.LittleEndian.PutUint64(mem.Buffer[ea+8:], hi)
		return 0, nil
	default:
		return 0, wasm.NewTrapError(wasm.TrapIDMisc, "unsupported SIMD sub-opcode %#x (gowasm implements v128.const/load/store only)", sub)
	}
}
