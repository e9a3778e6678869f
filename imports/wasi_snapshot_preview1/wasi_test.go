package wasi_snapshot_preview1

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowasm/gowasm/api"
)

// fakeMemory is a minimal api.Memory backed by a plain byte slice, enough
// to drive this module's guest-memory reads/writes without needing a
// compiled WebAssembly binary.
type fakeMemory struct {
	buf []byte
}

func (m *fakeMemory) Size(context.Context) uint32 { return uint32(len(m.buf)) }

func (m *fakeMemory) Grow(context.Context, uint32) (uint32, bool) { return 0, false }

func (m *fakeMemory) inBounds(offset, byteCount uint32) bool {
	return uint64(offset)+uint64(byteCount) <= uint64(len(m.buf))
}

func (m *fakeMemory) ReadByte(_ context.Context, offset uint32) (byte, bool) {
	if !m.inBounds(offset, 1) {
		return 0, false
	}
	return m.buf[offset], true
}

func (m *fakeMemory) ReadUint16Le(_ context.Context, offset uint32) (uint16, bool) {
	if !m.inBounds(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.buf[offset:]), true
}

func (m *fakeMemory) ReadUint32Le(_ context.Context, offset uint32) (uint32, bool) {
	if !m.inBounds(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.buf[offset:]), true
}

func (m *fakeMemory) ReadFloat32Le(context.Context, uint32) (float32, bool) { return 0, false }

func (m *fakeMemory) ReadUint64Le(_ context.Context, offset uint32) (uint64, bool) {
	if !m.inBounds(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.buf[offset:]), true
}

func (m *fakeMemory) ReadFloat64Le(context.Context, uint32) (float64, bool) { return 0, false }

func (m *fakeMemory) Read(_ context.Context, offset, byteCount uint32) ([]byte, bool) {
	if !m.inBounds(offset, byteCount) {
		return nil, false
	}
	return m.buf[offset : offset+byteCount], true
}

func (m *fakeMemory) WriteByte(_ context.Context, offset uint32, v byte) bool {
	if !m.inBounds(offset, 1) {
		return false
	}
	m.buf[offset] = v
	return true
}

func (m *fakeMemory) WriteUint16Le(_ context.Context, offset uint32, v uint16) bool {
	if !m.inBounds(offset, 2) {
		return false
	}
	binary.LittleEndian.PutUint16(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) WriteUint32Le(_ context.Context, offset, v uint32) bool {
	if !m.inBounds(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) WriteFloat32Le(context.Context, uint32, float32) bool { return false }

func (m *fakeMemory) WriteUint64Le(_ context.Context, offset uint32, v uint64) bool {
	if !m.inBounds(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.buf[offset:], v)
	return true
}

func (m *fakeMemory) WriteFloat64Le(context.Context, uint32, float64) bool { return false }

func (m *fakeMemory) Write(_ context.Context, offset uint32, v []byte) bool {
	if !m.inBounds(offset, uint32(len(v))) {
		return false
	}
	copy(m.buf[offset:], v)
	return true
}

// fakeModule is a minimal api.Module exposing only fakeMemory, enough for
// this module's host functions, none of which call anything else on it.
type fakeModule struct {
	mem *fakeMemory
}

func (f *fakeModule) String() string                                  { return "fakeModule" }
func (f *fakeModule) Name() string                                    { return "fakeModule" }
func (f *fakeModule) Memory() api.Memory                              { return f.mem }
func (f *fakeModule) ExportedFunction(string) api.Function            { return nil }
func (f *fakeModule) ExportedMemory(string) api.Memory                { return f.mem }
func (f *fakeModule) ExportedGlobal(string) api.Global                { return nil }
func (f *fakeModule) CloseWithExitCode(context.Context, uint32) error { return nil }
func (f *fakeModule) Close(context.Context) error                    { return nil }

func newFakeModule(size int) *fakeModule {
	return &fakeModule{mem: &fakeMemory{buf: make([]byte, size)}}
}

func TestArgsSizesGetAndArgsGet(t *testing.T) {
	cfg := NewConfig().WithArgs("prog", "a", "bb")
	a := &wasi{cfg: cfg}
	mod := newFakeModule(256)
	ctx := context.Background()

	stack := []uint64{0, 4}
	a.argsSizesGet(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])

	argc, _ := mod.mem.ReadUint32Le(ctx, 0)
	bufSize, _ := mod.mem.ReadUint32Le(ctx, 4)
	require.Equal(t, uint32(3), argc)
	require.Equal(t, uint32(len("prog\x00a\x00bb\x00")), bufSize)

	// argv at 100 (3 pointers), argv_buf at 200.
	stack = []uint64{100, 200}
	a.argsGet(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])

	var ptrs [3]uint32
	for i := range ptrs {
		ptrs[i], _ = mod.mem.ReadUint32Le(ctx, uint32(100+i*4))
	}
	require.Equal(t, [3]uint32{200, 205, 207}, ptrs)

	buf, _ := mod.mem.Read(ctx, 200, bufSize)
	require.Equal(t, "prog\x00a\x00bb\x00", string(buf))
}

func TestEnvironSizesGetAndEnvironGet(t *testing.T) {
	cfg := NewConfig().WithEnviron("FOO=bar", "BAZ=qux")
	a := &wasi{cfg: cfg}
	mod := newFakeModule(256)
	ctx := context.Background()

	stack := []uint64{0, 4}
	a.environSizesGet(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])

	count, _ := mod.mem.ReadUint32Le(ctx, 0)
	bufSize, _ := mod.mem.ReadUint32Le(ctx, 4)
	require.Equal(t, uint32(2), count)
	require.Equal(t, uint32(len("FOO=bar\x00BAZ=qux\x00")), bufSize)

	// environ at 100 (2 pointers), environ_buf at 200.
	stack = []uint64{100, 200}
	a.environGet(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])

	var ptrs [2]uint32
	for i := range ptrs {
		ptrs[i], _ = mod.mem.ReadUint32Le(ctx, uint32(100+i*4))
	}
	require.Equal(t, [2]uint32{200, 208}, ptrs)

	buf, _ := mod.mem.Read(ctx, 200, bufSize)
	require.Equal(t, "FOO=bar\x00BAZ=qux\x00", string(buf))
}

func TestRandomGet_FillsRequestedLength(t *testing.T) {
	a := &wasi{cfg: NewConfig()}
	mod := newFakeModule(64)
	ctx := context.Background()

	stack := []uint64{8, 16}
	a.randomGet(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])
}

func TestClockTimeGet_RejectsUnknownClock(t *testing.T) {
	a := &wasi{cfg: NewConfig()}
	mod := newFakeModule(64)
	ctx := context.Background()

	stack := []uint64{99, 0, 0}
	a.clockTimeGet(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoInval), stack[0])
}

func TestClockTimeGet_Monotonic(t *testing.T) {
	a := &wasi{cfg: NewConfig()}
	mod := newFakeModule(64)
	ctx := context.Background()

	stack := []uint64{uint64(clockIDMonotonic), 0, 0}
	a.clockTimeGet(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])

	nanos, _ := mod.mem.ReadUint64Le(ctx, 0)
	require.NotZero(t, nanos)
}

func TestFdWrite_StdoutConcatenatesIovecs(t *testing.T) {
	var out bytes.Buffer
	a := &wasi{cfg: NewConfig().WithStdout(&out)}
	mod := newFakeModule(256)
	ctx := context.Background()

	// Two iovecs at offset 0: (ptr=100,len=5), (ptr=120,len=1).
	mod.mem.WriteUint32Le(ctx, 0, 100)
	mod.mem.WriteUint32Le(ctx, 4, 5)
	mod.mem.WriteUint32Le(ctx, 8, 120)
	mod.mem.WriteUint32Le(ctx, 12, 1)
	mod.mem.Write(ctx, 100, []byte("hello"))
	mod.mem.Write(ctx, 120, []byte("!"))

	stack := []uint64{fdStdout, 0, 2, 200}
	a.fdWrite(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])
	require.Equal(t, "hello!", out.String())

	written, _ := mod.mem.ReadUint32Le(ctx, 200)
	require.Equal(t, uint32(6), written)
}

func TestFdWrite_RejectsBadFd(t *testing.T) {
	a := &wasi{cfg: NewConfig()}
	mod := newFakeModule(64)
	ctx := context.Background()

	stack := []uint64{42, 0, 0, 0}
	a.fdWrite(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoBadf), stack[0])
}

func TestFdRead_StdinFillsIovecsUntilEOF(t *testing.T) {
	a := &wasi{cfg: NewConfig().WithStdin(bytes.NewBufferString("hi"))}
	mod := newFakeModule(256)
	ctx := context.Background()

	mod.mem.WriteUint32Le(ctx, 0, 100)
	mod.mem.WriteUint32Le(ctx, 4, 10)

	stack := []uint64{fdStdin, 0, 1, 200}
	a.fdRead(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])

	read, _ := mod.mem.ReadUint32Le(ctx, 200)
	require.Equal(t, uint32(2), read)
	buf, _ := mod.mem.Read(ctx, 100, 2)
	require.Equal(t, "hi", string(buf))
}

func TestFdClose_OnlyAcceptsStandardStreams(t *testing.T) {
	a := &wasi{cfg: NewConfig()}
	mod := newFakeModule(8)
	ctx := context.Background()

	for _, fd := range []uint32{fdStdin, fdStdout, fdStderr} {
		stack := []uint64{uint64(fd)}
		a.fdClose(ctx, mod, stack)
		require.Equal(t, uint64(ErrnoSuccess), stack[0], fmt.Sprintf("fd %d", fd))
	}

	stack := []uint64{99}
	a.fdClose(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoBadf), stack[0])
}

func TestProcExit_PanicsExitError(t *testing.T) {
	a := &wasi{cfg: NewConfig()}
	mod := newFakeModule(8)
	ctx := context.Background()

	require.Panics(t, func() {
		a.procExit(ctx, mod, []uint64{7})
	})
}

func TestSchedYield_AlwaysSucceeds(t *testing.T) {
	a := &wasi{cfg: NewConfig()}
	mod := newFakeModule(8)
	ctx := context.Background()

	stack := []uint64{0}
	a.schedYield(ctx, mod, stack)
	require.Equal(t, uint64(ErrnoSuccess), stack[0])
}
