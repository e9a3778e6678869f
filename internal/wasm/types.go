package wasm

import (
	"fmt"
	"strings"

	"github.com/gowasm/gowasm/api"
)

// ValueType aliases api.ValueType so that internal code and the public
// api package agree on wire representation without a conversion step.
type ValueType = api.ValueType

const (
	ValueTypeI32       = api.ValueTypeI32
	ValueTypeI64       = api.ValueTypeI64
	ValueTypeF32       = api.ValueTypeF32
	ValueTypeF64       = api.ValueTypeF64
	ValueTypeV128      ValueType = 0x7b
	ValueTypeFuncref             = api.ValueTypeFuncref
	ValueTypeExternref           = api.ValueTypeExternref
)

// valTypeUnknown and valTypeAny are validator-only pseudo-types: they
// never appear in the binary format and are used solely to track the
// abstract operand-type stack across unreachable code and reference-type
// polymorphism.
const (
	valTypeUnknown ValueType = 0x00
	valTypeAny     ValueType = 0x01
)

func isReferenceType(vt ValueType) bool {
	return vt == ValueTypeFuncref || vt == ValueTypeExternref
}

// cellsOf returns how many uniform 64-bit cells a value of the given type
// occupies on the operand stack.
func cellsOf(vt ValueType) int {
	if vt == ValueTypeV128 {
		return 2
	}
	return 1
}

// FunctionType is the `functype` of the data model: an ordered list of
// parameter types and an ordered list of result types.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType

	// string is a cached, canonical textual form used for equality and as
	// a map key, lazily computed by key().
	string string
}

// Equal reports structural (pointwise) equality of two function types.
func (t *FunctionType) Equal(o *FunctionType) bool {
	if t == o {
		return true
	}
	if t == nil || o == nil {
		return false
	}
	return t.key() == o.key()
}

func (t *FunctionType) key() string {
	if t.string != "" {
		return t.string
	}
	var sb strings.Builder
	for _, p := range t.Params {
		sb.WriteByte(p)
	}
	sb.WriteByte(0)
	for _, r := range t.Results {
		sb.WriteByte(r)
	}
	t.string = sb.String()
	return t.string
}

func (t *FunctionType) String() string {
	return fmt.Sprintf("%s->%s", valueTypesString(t.Params), valueTypesString(t.Results))
}

func valueTypesString(vs []ValueType) string {
	ret := make([]string, len(vs))
	for i, v := range vs {
		ret[i] = api.ValueTypeName(v)
	}
	return "[" + strings.Join(ret, ",") + "]"
}

// ResultTypesEqual is a pointwise comparison of two resulttype lists, used
// by branch-target checking.
func ResultTypesEqual(a, b []ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Limits describes the `min`/optional `max` pair shared by table and
// memory types.
type Limits struct {
	Min     uint32
	Max     *uint32
	Shared  bool // threads proposal: memory only.
	Is64    bool // memory64 proposal: memory only (out of scope to fully support, flag kept for decode-roundtrip).
}

// MatchesImport implements the limits-subtyping rule for imports: the
// importer's min must be satisfied by the exporter's *current* size, and
// if the importer declares a max, the exporter must also declare one no
// larger.
func (l Limits) MatchesImport(actualMin uint32, actualMax *uint32) bool {
	if actualMin < l.Min {
		return false
	}
	if l.Max == nil {
		return true
	}
	if actualMax == nil {
		return false
	}
	return *actualMax <= *l.Max
}

// TableType describes a table's element type and size limits.
type TableType struct {
	ElemType ValueType // ValueTypeFuncref or ValueTypeExternref
	Limits   Limits
}

// MemoryType describes a memory's size limits and flags. Page size is
// fixed at 64KiB unless noted otherwise by a future
// memory64/custom-page-size proposal, which gowasm does not implement.
type MemoryType struct {
	Limits Limits
}

const (
	// MemoryPageSize is 64KiB, the WebAssembly page size.
	MemoryPageSize = uint32(65536)
	// MemoryMaxPages is the absolute ceiling on pages (4GiB address space).
	MemoryMaxPages = uint32(65536)
)

// GlobalType describes a global's value type and mutability.
type GlobalType struct {
	ValType ValueType
	Mutable bool
}

// ExternType classifies an entry of the import or export space.
type ExternType = api.ExternType

const (
	ExternTypeFunc   = api.ExternTypeFunc
	ExternTypeTable  = api.ExternTypeTable
	ExternTypeMemory = api.ExternTypeMemory
	ExternTypeGlobal = api.ExternTypeGlobal
)

// Features is a bitset of enabled post-MVP proposals, checked by the
// validator and the binary decoder (e.g. a shared-memory flag bit is
// malformed unless FeatureThreads is enabled).
type Features uint64

const (
	FeatureMutableGlobal Features = 1 << iota
	FeatureSignExtensionOps
	FeatureMultiValue
	FeatureNonTrappingFloatToIntConversion
	FeatureBulkMemoryOperations
	FeatureReferenceTypes
	FeatureSIMD
	FeatureTailCall
	FeatureThreads
	FeatureMultiMemory
)

// FeaturesMVP contains only what WebAssembly 1.0 (20191205) finished.
const FeaturesMVP = FeatureMutableGlobal

// FeaturesFinished additionally enables proposals that reached phase 4
// ("finished") as of this snapshot.
const FeaturesFinished = FeaturesMVP |
	FeatureSignExtensionOps | FeatureMultiValue |
	FeatureNonTrappingFloatToIntConversion | FeatureBulkMemoryOperations |
	FeatureReferenceTypes

// FeaturesAll additionally enables the post-MVP proposals gowasm
// supports (SIMD, tail calls, threads/atomics, multi-memory).
const FeaturesAll = FeaturesFinished | FeatureSIMD | FeatureTailCall |
	FeatureThreads | FeatureMultiMemory

// Get reports whether f is enabled in the set.
func (set Features) Get(f Features) bool { return set&f != 0 }

// Set returns a copy of the set with f enabled or disabled.
func (set Features) Set(f Features, enabled bool) Features {
	if enabled {
		return set | f
	}
	return set &^ f
}

// require returns an error unless every feature in need is present in set.
func (set Features) require(need Features, what string) error {
	if set&need != need {
		return fmt.Errorf("%s requires a feature that is disabled", what)
	}
	return nil
}
