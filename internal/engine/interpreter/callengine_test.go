package interpreter

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowasm/gowasm/internal/wasm"
)

// buildInstance validates m and instantiates it against a fresh Engine,
// returning both so a test can drive Engine.Call directly.
func buildInstance(t *testing.T, m *wasm.Module) (*Engine, *wasm.Instance) {
	t.Helper()
	require.NoError(t, wasm.ValidateModule(m, wasm.FeaturesAll))
	e := NewEngine(0, 0)
	inst, err := wasm.Instantiate(m, nil, e.Call)
	require.NoError(t, err)
	return e, inst
}

// v128Const encodes a v128.const instruction with the given lo/hi halves.
func v128Const(lo, hi uint64) []byte {
	b := []byte{wasm.OpcodeSIMDPrefix, 0x0c}
	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], lo)
	binary.LittleEndian.PutUint64(buf[8:16], hi)
	return append(b, buf[:]...)
}

// TestCallByIndex_PopsV128ArgumentAsTwoCells is a regression test for a
// bug where call/call_indirect popped one operand-stack cell per
// parameter rather than per cell: a v128 parameter occupies two cells,
// so a function with an (i32, v128) signature needs three cells popped,
// not two. Popping only two would hand the callee its i32 param a cell
// short, reading half of the v128 argument instead.
func TestCallByIndex_PopsV128ArgumentAsTwoCells(t *testing.T) {
	// callee: (i32, v128) -> i32, returns its first (i32) parameter.
	calleeType := &wasm.FunctionType{
		Params:  []wasm.ValueType{wasm.ValueTypeI32, wasm.ValueTypeV128},
		Results: []wasm.ValueType{wasm.ValueTypeI32},
	}
	calleeBody := []byte{wasm.OpcodeLocalGet, 0x00, wasm.OpcodeEnd}

	// caller: pushes i32 42, a v128 constant, then calls the callee and
	// returns its result untouched.
	callerType := &wasm.FunctionType{Results: []wasm.ValueType{wasm.ValueTypeI32}}
	callerBody := append([]byte{wasm.OpcodeI32Const, 42}, v128Const(1, 2)...)
	callerBody = append(callerBody, wasm.OpcodeCall, 0x00, wasm.OpcodeEnd)

	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{calleeType, callerType},
		FunctionSection: []uint32{0, 1},
		CodeSection: []wasm.Code{
			{Body: calleeBody},
			{Body: callerBody},
		},
	}

	e, inst := buildInstance(t, m)

	results, err := e.Call(inst, inst.Funcs[1], nil)
	require.NoError(t, err)
	require.Equal(t, []uint64{42}, results)
}

// fakeGrowHooks counts how many times a cluster-style suspend/resume
// pair is invoked around memory.grow.
type fakeGrowHooks struct {
	suspended, resumed int
}

func (f *fakeGrowHooks) suspend() { f.suspended++ }
func (f *fakeGrowHooks) resume()  { f.resumed++ }

// TestMemoryGrow_BracketsOnlySharedMemoryWithSuspendHooks is a regression
// test for the memory.grow stop-the-world wiring: growing a shared
// memory must suspend and resume every other thread in the owning
// cluster around the reallocation, while growing a non-shared memory
// must never touch those hooks at all.
func TestMemoryGrow_BracketsOnlySharedMemoryWithSuspendHooks(t *testing.T) {
	growBody := []byte{wasm.OpcodeLocalGet, 0x00, wasm.OpcodeMemoryGrow, 0x00, wasm.OpcodeEnd}
	fnType := &wasm.FunctionType{
		Params:  []wasm.ValueType{wasm.ValueTypeI32},
		Results: []wasm.ValueType{wasm.ValueTypeI32},
	}

	tests := []struct {
		name   string
		shared bool
	}{
		{"shared memory suspends the cluster", true},
		{"non-shared memory never touches the hooks", false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			max := uint32(2)
			m := &wasm.Module{
				TypeSection:     []*wasm.FunctionType{fnType},
				FunctionSection: []uint32{0},
				MemorySection:   []wasm.MemoryType{{Limits: wasm.Limits{Min: 1, Max: &max, Shared: tc.shared}}},
				CodeSection:     []wasm.Code{{Body: growBody}},
			}

			e, inst := buildInstance(t, m)

			hooks := &fakeGrowHooks{}
			inst.SuspendForGrow = hooks.suspend
			inst.ResumeForGrow = hooks.resume

			results, err := e.Call(inst, inst.Funcs[0], []uint64{1})
			require.NoError(t, err)
			require.Equal(t, []uint64{1}, results) // previous page count

			if tc.shared {
				require.Equal(t, 1, hooks.suspended)
				require.Equal(t, 1, hooks.resumed)
			} else {
				require.Equal(t, 0, hooks.suspended)
				require.Equal(t, 0, hooks.resumed)
			}
		})
	}
}

// TestEngine_Call_EnforcesMaxStackCells pins the operand-stack ceiling:
// a function that pushes more values in a row than the engine allows
// traps partway through, before it ever gets a chance to drop them back
// down to its declared (empty) result signature.
func TestEngine_Call_EnforcesMaxStackCells(t *testing.T) {
	fnType := &wasm.FunctionType{}
	var body []byte
	for i := 0; i < 9; i++ {
		body = append(body, wasm.OpcodeI32Const, 0x01)
	}
	for i := 0; i < 9; i++ {
		body = append(body, wasm.OpcodeDrop)
	}
	body = append(body, wasm.OpcodeEnd)
	m := &wasm.Module{
		TypeSection:     []*wasm.FunctionType{fnType},
		FunctionSection: []uint32{0},
		CodeSection:     []wasm.Code{{Body: body}},
	}
	require.NoError(t, wasm.ValidateModule(m, wasm.FeaturesAll))
	e := NewEngine(0, 8)
	inst, err := wasm.Instantiate(m, nil, e.Call)
	require.NoError(t, err)

	_, err = e.Call(inst, inst.Funcs[0], nil)
	var trapErr *wasm.TrapError
	require.ErrorAs(t, err, &trapErr)
	require.Equal(t, wasm.TrapIDTooManyStackCells, trapErr.ID)
}
