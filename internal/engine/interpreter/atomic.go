package interpreter

import (
	"encoding/binary"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/wasm"
)

// execAtomic executes the threads/atomics proposal's memory operations.
// gowasm's interpreter is coarse-grained: every atomic access and RMW
// takes the owning MemInst's mutex rather than using lock-free hardware
// atomics, since that is the only way for two concurrently running
// threads to agree on a read-modify-write's result. Plain (non-atomic)
// load/store never take this mutex; they don't need to, since a shared
// memory only ever grows (and its buffer only ever gets reallocated)
// while every other thread is parked at the cluster's stop-the-world
// barrier — see OpcodeMemoryGrow in callengine.go.
func (ce *callEngine) execAtomic(frame *callFrame) (execSignal, error) {
	sub, n := leb128.DecodeUint32NoCheck(frame.body[frame.pc:])
	frame.pc += uint32(n)

	switch byte(sub) {
	case wasm.OpcodeAtomicFence:
		frame.pc++
		return 0, nil
	case wasm.OpcodeAtomicMemoryNotify:
		offset := readMemarg(frame)
		count := uint32(ce.pop())
		addr := uint32(ce.pop())
		woken := ce.inst.AtomicNotify(uint32(uint64(addr)+uint64(offset)), count)
		return 0, ce.push(uint64(woken))
	case wasm.OpcodeAtomicMemoryWait32:
		offset := readMemarg(frame)
		timeout := int64(ce.pop())
		expected := uint32(ce.pop())
		addr := uint32(ce.pop())
		res, err := ce.inst.AtomicWait32(uint32(uint64(addr)+uint64(offset)), expected, timeout)
		if err != nil {
			return 0, err
		}
		return 0, ce.push(uint64(res))
	case wasm.OpcodeAtomicMemoryWait64:
		offset := readMemarg(frame)
		timeout := int64(ce.pop())
		expected := ce.pop()
		addr := uint32(ce.pop())
		res, err := ce.inst.AtomicWait64(uint32(uint64(addr)+uint64(offset)), expected, timeout)
		if err != nil {
			return 0, err
		}
		return 0, ce.push(uint64(res))

	case wasm.OpcodeAtomicI32Load, wasm.OpcodeAtomicI32Load8U, wasm.OpcodeAtomicI32Load16U:
		offset := readMemarg(frame)
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		mem.LockForAtomic()
		defer mem.UnlockForAtomic()
		ea := uint64(addr) + uint64(offset)
		var v uint64
		switch byte(sub) {
		case wasm.OpcodeAtomicI32Load:
			v = uint64(binary.LittleEndian.Uint32(mem.Buffer[ea:]))
		case wasm.OpcodeAtomicI32Load8U:
			v = uint64(mem.Buffer[ea])
		case wasm.OpcodeAtomicI32Load16U:
			v = uint64(binary.LittleEndian.Uint16(mem.Buffer[ea:]))
		}
		return 0, ce.push(v)
	case wasm.OpcodeAtomicI64Load, wasm.OpcodeAtomicI64Load8U, wasm.OpcodeAtomicI64Load16U, wasm.OpcodeAtomicI64Load32U:
		offset := readMemarg(frame)
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		mem.LockForAtomic()
		defer mem.UnlockForAtomic()
		ea := uint64(addr) + uint64(offset)
		var v uint64
		switch byte(sub) {
		case wasm.OpcodeAtomicI64Load:
			v = binary.LittleEndian.Uint64(mem.Buffer[ea:])
		case wasm.OpcodeAtomicI64Load8U:
			v = uint64(mem.Buffer[ea])
		case wasm.OpcodeAtomicI64Load16U:
			v = uint64(binary.LittleEndian.Uint16(mem.Buffer[ea:]))
		case wasm.OpcodeAtomicI64Load32U:
			v = uint64(binary.LittleEndian.Uint32(mem.Buffer[ea:]))
		}
		return 0, ce.push(v)

	case wasm.OpcodeAtomicI32Store, wasm.OpcodeAtomicI32Store8, wasm.OpcodeAtomicI32Store16:
		offset := readMemarg(frame)
		val := uint32(ce.pop())
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		mem.LockForAtomic()
		defer mem.UnlockForAtomic()
		ea := uint64(addr) + uint64(offset)
		switch byte(sub) {
		case wasm.OpcodeAtomicI32Store:
			binary.LittleEndian.PutUint32(mem.Buffer[ea:], val)
		case wasm.OpcodeAtomicI32Store8:
			mem.Buffer[ea] = byte(val)
		case wasm.OpcodeAtomicI32Store16:
			binary.LittleEndian.PutUint16(mem.Buffer[ea:], uint16(val))
		}
		return 0, nil
	case wasm.OpcodeAtomicI64Store, wasm.OpcodeAtomicI64Store8, wasm.OpcodeAtomicI64Store16, wasm.OpcodeAtomicI64Store32:
		offset := readMemarg(frame)
		val := ce.pop()
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		mem.LockForAtomic()
		defer mem.UnlockForAtomic()
		ea := uint64(addr) + uint64(offset)
		switch byte(sub) {
		case wasm.OpcodeAtomicI64Store:
			binary.LittleEndian.PutUint64(mem.Buffer[ea:], val)
		case wasm.OpcodeAtomicI64Store8:
			mem.Buffer[ea] = byte(val)
		case wasm.OpcodeAtomicI64Store16:
			binary.LittleEndian.PutUint16(mem.Buffer[ea:], uint16(val))
		case wasm.OpcodeAtomicI64Store32:
			binary.LittleEndian.PutUint32(mem.Buffer[ea:], uint32(val))
		}
		return 0, nil

	case wasm.OpcodeAtomicI32RmwAdd, wasm.OpcodeAtomicI32RmwSub:
		offset := readMemarg(frame)
		operand := uint32(ce.pop())
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		mem.LockForAtomic()
		defer mem.UnlockForAtomic()
		ea := uint64(addr) + uint64(offset)
		old := binary.LittleEndian.Uint32(mem.Buffer[ea:])
		var nv uint32
		if byte(sub) == wasm.OpcodeAtomicI32RmwAdd {
			nv = old + operand
		} else {
			nv = old - operand
		}
		binary.LittleEndian.PutUint32(mem.Buffer[ea:], nv)
		return 0, ce.push(uint64(old))
	case wasm.OpcodeAtomicI64RmwAdd, wasm.OpcodeAtomicI64RmwSub:
		offset := readMemarg(frame)
		operand := ce.pop()
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		mem.LockForAtomic()
		defer mem.UnlockForAtomic()
		ea := uint64(addr) + uint64(offset)
		old := binary.LittleEndian.Uint64(mem.Buffer[ea:])
		var nv uint64
		if byte(sub) == wasm.OpcodeAtomicI64RmwAdd {
			nv = old + operand
		} else {
			nv = old - operand
		}
		binary.LittleEndian.PutUint64(mem.Buffer[ea:], nv)
		return 0, ce.push(old)
	case wasm.OpcodeAtomicI32RmwCmpxchg:
		offset := readMemarg(frame)
		replacement := uint32(ce.pop())
		expected := uint32(ce.pop())
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		mem.LockForAtomic()
		defer mem.UnlockForAtomic()
		ea := uint64(addr) + uint64(offset)
		old := binary.LittleEndian.Uint32(mem.Buffer[ea:])
		if old == expected {
			binary.LittleEndian.PutUint32(mem.Buffer[ea:], replacement)
		}
		return 0, ce.push(uint64(old))
	case wasm.OpcodeAtomicI64RmwCmpxchg:
		offset := readMemarg(frame)
		replacement := ce.pop()
		expected := ce.pop()
		addr := uint32(ce.pop())
		mem := ce.inst.Mems[0]
		mem.LockForAtomic()
		defer mem.UnlockForAtomic()
		ea := uint64(addr) + uint64(offset)
		old := binary.LittleEndian.Uint64(mem.Buffer[ea:])
		if old == expected {
			binary.LittleEndian.PutUint64(mem.Buffer[ea:], replacement)
		}
		return 0, ce.push(old)

	default:
		return 0, wasm.NewTrapError(wasm.TrapIDMisc, "unimplemented atomic sub-opcode %#x", sub)
	}
}
