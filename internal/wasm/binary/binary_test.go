package binary

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/gowasm/gowasm/internal/wasm"
)

// section builds one top-level section: id, LEB128 size (bodies here are
// always under 128 bytes so a single byte suffices), then body.
func section(id wasm.SectionID, body []byte) []byte {
	return append([]byte{id, byte(len(body))}, body...)
}

func header() []byte {
	return append(append([]byte{}, Magic[:]...), Version[:]...)
}

func TestDecodeModule_RejectsBadHeader(t *testing.T) {
	tests := []struct {
		name string
		raw  []byte
	}{
		{"too short", []byte{0x00, 0x61, 0x73}},
		{"bad magic", append([]byte{0x00, 0x61, 0x73, 0x6e}, Version[:]...)},
		{"bad version", append(append([]byte{}, Magic[:]...), 0x02, 0x00, 0x00, 0x00)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeModule(tc.raw, wasm.FeaturesAll)
			require.Error(t, err)
		})
	}
}

func TestDecodeModule_EmptyModule(t *testing.T) {
	m, err := DecodeModule(header(), wasm.FeaturesAll)
	require.NoError(t, err)
	require.Nil(t, m.TypeSection)
}

// TestDecodeModule_DataCountBeforeCode pins the wire-format position of
// the DataCount section: numerically it is the highest section id (12),
// but it is encoded between Element and Code, not after Data.
func TestDecodeModule_DataCountBeforeCode(t *testing.T) {
	raw := header()
	raw = append(raw, section(wasm.SectionIDType, []byte{0x00})...)
	raw = append(raw, section(wasm.SectionIDFunction, []byte{0x00})...)
	raw = append(raw, section(wasm.SectionIDDataCount, []byte{0x00})...)
	raw = append(raw, section(wasm.SectionIDCode, []byte{0x00})...)

	_, err := DecodeModule(raw, wasm.FeaturesAll)
	require.NoError(t, err)
}

func TestDecodeModule_DataCountAfterDataIsOutOfOrder(t *testing.T) {
	raw := header()
	raw = append(raw, section(wasm.SectionIDCode, []byte{0x00})...)
	raw = append(raw, section(wasm.SectionIDData, []byte{0x00})...)
	raw = append(raw, section(wasm.SectionIDDataCount, []byte{0x00})...)

	_, err := DecodeModule(raw, wasm.FeaturesAll)
	require.ErrorContains(t, err, "out of order")
}

func TestDecodeModule_CodeBeforeFunctionIsOutOfOrder(t *testing.T) {
	raw := header()
	raw = append(raw, section(wasm.SectionIDCode, []byte{0x00})...)
	raw = append(raw, section(wasm.SectionIDFunction, []byte{0x00})...)

	_, err := DecodeModule(raw, wasm.FeaturesAll)
	require.ErrorContains(t, err, "out of order")
}

func TestDecodeModule_DuplicateSectionRejected(t *testing.T) {
	raw := header()
	raw = append(raw, section(wasm.SectionIDType, []byte{0x00})...)
	raw = append(raw, section(wasm.SectionIDType, []byte{0x00})...)

	_, err := DecodeModule(raw, wasm.FeaturesAll)
	require.ErrorContains(t, err, "more than once")
}

func TestDecodeModule_CustomSectionsIgnoreOrdering(t *testing.T) {
	custom := section(wasm.SectionIDCustom, append([]byte{0x04}, []byte("name")...))
	raw := header()
	raw = append(raw, section(wasm.SectionIDCode, []byte{0x00})...)
	raw = append(raw, custom...)

	_, err := DecodeModule(raw, wasm.FeaturesAll)
	require.NoError(t, err)
}

func TestDecodeModule_DataCountMismatchWithDataSection(t *testing.T) {
	raw := header()
	raw = append(raw, section(wasm.SectionIDDataCount, []byte{0x01})...)

	_, err := DecodeModule(raw, wasm.FeaturesAll)
	require.ErrorContains(t, err, "disagrees")
}

func TestDecodeModule_FunctionCodeCountMismatch(t *testing.T) {
	raw := header()
	raw = append(raw, section(wasm.SectionIDType, []byte{0x01, 0x60, 0x00, 0x00})...)
	raw = append(raw, section(wasm.SectionIDFunction, []byte{0x01, 0x00})...)

	_, err := DecodeModule(raw, wasm.FeaturesAll)
	require.ErrorContains(t, err, "disagree")
}
