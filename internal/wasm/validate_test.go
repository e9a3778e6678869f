package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func moduleWithFunc(ft *FunctionType, body []byte) *Module {
	return &Module{
		TypeSection:     []*FunctionType{ft},
		FunctionSection: []uint32{0},
		CodeSection:     []Code{{Body: body}},
	}
}

func TestValidateModule_ValidFunctionAttachesExecInfo(t *testing.T) {
	ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
	body := []byte{OpcodeI32Const, 0x00, OpcodeEnd}
	m := moduleWithFunc(ft, body)

	require.NoError(t, ValidateModule(m, FeaturesAll))
	require.NotNil(t, m.CodeSection[0].ExecInfo)
}

func TestValidateModule_ResultTypeMismatchRejected(t *testing.T) {
	ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
	body := []byte{OpcodeEnd} // no value pushed for the declared i32 result
	m := moduleWithFunc(ft, body)

	err := ValidateModule(m, FeaturesAll)
	require.Error(t, err)
}

func TestValidateModule_OperandStackUnderflowRejected(t *testing.T) {
	ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
	body := []byte{OpcodeI32Add, OpcodeEnd} // pops from an empty stack
	m := moduleWithFunc(ft, body)

	err := ValidateModule(m, FeaturesAll)
	require.ErrorContains(t, err, "underflow")
}

func TestValidateModule_UnreachableCodeMayLeaveMismatchedTypes(t *testing.T) {
	ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
	// unreachable makes the operand stack polymorphic, so reaching end
	// without the declared i32 result is not an error.
	body := []byte{OpcodeUnreachable, OpcodeEnd}
	m := moduleWithFunc(ft, body)

	require.NoError(t, ValidateModule(m, FeaturesAll))
}

func TestValidateModule_StartFunctionMustHaveEmptySignature(t *testing.T) {
	ft := &FunctionType{Results: []ValueType{ValueTypeI32}}
	body := []byte{OpcodeI32Const, 0x00, OpcodeEnd}
	m := moduleWithFunc(ft, body)
	start := uint32(0)
	m.StartSection = &start

	err := ValidateModule(m, FeaturesAll)
	require.ErrorContains(t, err, "start function")
}

func TestValidateModule_GlobalInitValidated(t *testing.T) {
	m := &Module{
		GlobalSection: []Global{
			{
				Type: GlobalType{ValType: ValueTypeI32},
				Init: ConstExpr{Body: []byte{OpcodeI32Const, 0x05, OpcodeEnd}},
			},
		},
	}
	require.NoError(t, ValidateModule(m, FeaturesAll))
}
