package wasm

import "sync"

// SectionID identifies a top-level section of the binary format. Order is
// significant for everything except Custom, which may repeat anywhere.
type SectionID = byte

const (
	SectionIDCustom SectionID = iota
	SectionIDType
	SectionIDImport
	SectionIDFunction
	SectionIDTable
	SectionIDMemory
	SectionIDGlobal
	SectionIDExport
	SectionIDStart
	SectionIDElement
	SectionIDCode
	SectionIDData
	SectionIDDataCount
)

// Import describes one entry of the import space.
type Import struct {
	Module, Name string
	Type         ExternType
	DescFunc     uint32 // index into Module.TypeSection
	DescTable    TableType
	DescMem      MemoryType
	DescGlobal   GlobalType
}

// Export describes one entry of the export space. Export names are
// unique within a module (enforced at load time).
type Export struct {
	Name  string
	Type  ExternType
	Index uint32
}

// Code is a function body as decoded: its local-type run-length chunks
// and the raw, unparsed bytecode for its expression. The loader records
// only the byte range; the validator (4.D) is what actually walks it and
// attaches ExecInfo.
type Code struct {
	// LocalTypes are the declared locals in addition to params.
	LocalTypes []ValueType
	// Body is the raw instruction bytes for this function, ending just
	// after its matching `end`. All PCs produced by ExecInfo are offsets
	// into this slice (which is itself a sub-slice of the owning Module's
	// binary
	// original binary bytes").
	Body []byte

	// ExecInfo holds the validator's execution annotations for this body.
	ExecInfo *ExecInfo
}

// ExecInfo holds the per-function-body annotations the validator
// produces in a single pass.
type ExecInfo struct {
	// Jumps maps a block/loop/if instruction's PC to its resolved
	// target(s). `if` instructions occupy two logical slots (end-target,
	// else-target).
	Jumps map[uint32]JumpTarget

	// MaxLabels and MaxCells preallocate the label stack and operand
	// stack for this function's execution, from the high-water marks the
	// validator observed.
	MaxLabels int
	MaxCells  int

	// LocalCellOffsets is the 16-bit prefix-sum table mapping a local
	// index (including parameters) to its starting cell. nil when the
	// function has more than 65535 cells. The interpreter does not read it:
	// it indexes its per-frame locals directly.
	LocalCellOffsets []uint16
}

// JumpTarget is one resolved entry of ExecInfo.Jumps: the PC to continue
// at, and (for `if`) a second PC for the else-branch.
type JumpTarget struct {
	// EndPC is the PC to jump to for `block`/`if` "fallthrough to end" or
	// branches that exit the block.
	EndPC uint32
	// ElsePC is only valid for `if`: the PC of the matching `else` body,
	// or 0 if the `if` has no else (a branch with goto_else then behaves
	// as a forward jump straight to EndPC.F BRANCH).
	ElsePC uint32
	// Op is the opening opcode (OpcodeBlock, OpcodeLoop, or OpcodeIf):
	// branch target arity depends on it (loop uses param arity, the
	// others use result arity.F BRANCH).
	Op Opcode
	// BlockType is this block's signature, used to resolve arities at
	// branch time.
	BlockType BlockType
}

// ElementSegment initializes a table range, either actively at
// instantiation, passively (only reachable via table.init), or
// declaratively (never copied, but makes its funcrefs `ref.func`-legal).
type ElementSegment struct {
	Type    ValueType
	Mode    ElementMode
	Table   uint32
	Offset  ConstExpr // valid when Mode == ElementModeActive
	Indices []uint32  // func indices (funcref init) or 0 (externref init)
}

type ElementMode byte

const (
	ElementModeActive ElementMode = iota
	ElementModePassive
	ElementModeDeclarative
)

// DataSegment initializes a memory range, actively at instantiation or
// passively (only reachable via memory.init).
type DataSegment struct {
	Mode   DataMode
	Memory uint32
	Offset ConstExpr // valid when Mode == DataModeActive
	Init   []byte
}

type DataMode byte

const (
	DataModeActive DataMode = iota
	DataModePassive
)

// ConstExpr is a restricted Wasm expression: *.const, global.get of an
// imported immutable global, or ref.func/ref.null. It is
// stored as its raw bytecode and re-evaluated by the same engine used for
// regular execution, with a synthetic const-expression Frame
// (funcidx == FuncIndexInvalid).
type ConstExpr struct {
	Body []byte
}

// FuncIndexInvalid marks a Frame built for a const-expression, one that
// has no enclosing function.
const FuncIndexInvalid = ^uint32(0)

// Module is the immutable, validated result of loading a binary.
// Nothing here is safely mutated after DecodeModule
// returns; sharing a *Module across many Instances is the whole point of
// Instantiate.
type Module struct {
	TypeSection   []*FunctionType
	ImportSection []Import

	// FunctionSection is indexed the same as the non-imported tail of the
	// function index space; value is an index into TypeSection.
	FunctionSection []uint32
	CodeSection     []Code

	TableSection  []TableType
	MemorySection []MemoryType
	GlobalSection []Global

	ExportSection []Export
	// exportsByName speeds up FindExport; unique names enforced at load.
	exportsByName map[string]*Export

	StartSection *uint32

	ElementSection []ElementSegment
	DataSection    []DataSegment
	// DataCountSection, when present, must equal len(DataSection).
	DataCountSection *uint32

	// NameSection is the optional custom "name" section, binary-search
	// indexed by function index; malformed name sections are ignored
	// silently rather than failing the load.
	NameSection *NameSection

	// ID uniquely identifies this compiled module; the runtime sets it at
	// compile time and uses it as a log field.
	ID string

	// binary is the original input, retained because Code.Body and
	// ConstExpr.Body are sub-slices of it.
	binary []byte

	once sync.Once
}

// Global is the module-level declaration of a global: its type and its
// initializer constant-expression.
type Global struct {
	Type GlobalType
	Init ConstExpr
}

// NameSection is the decoded custom "name" section used purely for
// diagnostics (stack traces, debug names); a malformed one never fails
// the load.
type NameSection struct {
	ModuleName    string
	FunctionNames []NameAssoc // sorted by Index for binary search
	LocalNames    map[uint32][]NameAssoc
}

type NameAssoc struct {
	Index uint32
	Name  string
}

func (n *NameSection) FunctionName(idx uint32) (string, bool) {
	if n == nil {
		return "", false
	}
	lo, hi := 0, len(n.FunctionNames)
	for lo < hi {
		mid := (lo + hi) / 2
		if n.FunctionNames[mid].Index < idx {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(n.FunctionNames) && n.FunctionNames[lo].Index == idx {
		return n.FunctionNames[lo].Name, true
	}
	return "", false
}

// IndexExports builds the name->export lookup used by FindExport,
// rejecting duplicate export names. Called once by the
// binary loader after decoding the export section.
func (m *Module) IndexExports() error {
	byName := make(map[string]*Export, len(m.ExportSection))
	for i := range m.ExportSection {
		e := &m.ExportSection[i]
		if _, dup := byName[e.Name]; dup {
			return &DuplicateExportError{Name: e.Name}
		}
		byName[e.Name] = e
	}
	m.exportsByName = byName
	return nil
}

// DuplicateExportError reports two exports sharing a name.
type DuplicateExportError struct{ Name string }

func (e *DuplicateExportError) Error() string {
	return "duplicate export name " + e.Name
}

// FindExport implements the Module loader surface `find_export`.
func (m *Module) FindExport(name string, kind ExternType) (uint32, bool) {
	e, ok := m.exportsByName[name]
	if !ok || e.Type != kind {
		return 0, false
	}
	return e.Index, true
}

// TypeOfFunction returns the FunctionType of the funcidx'th function,
// accounting for imported functions occupying the low indices.
func (m *Module) TypeOfFunction(funcidx uint32) *FunctionType {
	importedFuncs := m.importedFunctionCount()
	if funcidx < importedFuncs {
		var i uint32
		for _, imp := range m.ImportSection {
			if imp.Type != ExternTypeFunc {
				continue
			}
			if i == funcidx {
				return m.TypeSection[imp.DescFunc]
			}
			i++
		}
		return nil
	}
	return m.TypeSection[m.FunctionSection[funcidx-importedFuncs]]
}

func (m *Module) importedFunctionCount() uint32 {
	var n uint32
	for _, imp := range m.ImportSection {
		if imp.Type == ExternTypeFunc {
			n++
		}
	}
	return n
}
