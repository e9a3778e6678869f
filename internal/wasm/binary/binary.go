// Package binary implements the WebAssembly module loader:
// it decodes the section framing and builds an immutable wasm.Module,
// recording each function's code as an unparsed byte range. It never
// inspects instruction bytes — that is the validator's job.
package binary

import (
	"bytes"
	"fmt"
	"io"
	"sort"

	"github.com/gowasm/gowasm/internal/leb128"
	"github.com/gowasm/gowasm/internal/wasm"
)

// Magic and Version are the fixed 8-byte module header.
var (
	Magic   = [4]byte{0x00, 0x61, 0x73, 0x6d} // "\0asm"
	Version = [4]byte{0x01, 0x00, 0x00, 0x00}
)

// sectionOrder maps a section's id to its required position in the file,
// which is not the same thing: DataCount (id 12) is encoded between
// Element and Code, well before Data (id 11) itself. Custom sections
// carry no order entry since they may appear anywhere and never
// participate in this check.
var sectionOrder = map[wasm.SectionID]int{
	wasm.SectionIDType:      1,
	wasm.SectionIDImport:    2,
	wasm.SectionIDFunction:  3,
	wasm.SectionIDTable:     4,
	wasm.SectionIDMemory:    5,
	wasm.SectionIDGlobal:    6,
	wasm.SectionIDExport:    7,
	wasm.SectionIDStart:     8,
	wasm.SectionIDElement:   9,
	wasm.SectionIDDataCount: 10,
	wasm.SectionIDCode:      11,
	wasm.SectionIDData:      12,
}

// DecodeModule parses raw into a *wasm.Module, enforcing every
// well-formedness rule at decode time. It does not validate instruction
// bodies; call wasm.ValidateModule on the result to do that.
func DecodeModule(raw []byte, features wasm.Features) (*wasm.Module, error) {
	if len(raw) < 8 {
		return nil, fmt.Errorf("invalid binary: too short")
	}
	if !bytes.Equal(raw[0:4], Magic[:]) {
		return nil, fmt.Errorf("invalid magic number")
	}
	if !bytes.Equal(raw[4:8], Version[:]) {
		return nil, fmt.Errorf("invalid version header")
	}

	d := newDecoder(raw[8:], features, raw)
	m := &wasm.Module{}
	lastOrder := -1
	seen := map[wasm.SectionID]bool{}

	for d.r.Len() > 0 {
		id, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return nil, fmt.Errorf("malformed section size: %w", err)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}

		if id == wasm.SectionIDCustom {
			if err := d.decodeCustomSection(m, body); err != nil {
				return nil, err
			}
			continue
		}
		if id > wasm.SectionIDDataCount {
			return nil, fmt.Errorf("unknown section id %d", id)
		}
		if seen[id] {
			return nil, fmt.Errorf("section %d appears more than once", id)
		}
		order, ok := sectionOrder[id]
		if !ok {
			return nil, fmt.Errorf("unknown section id %d", id)
		}
		if order <= lastOrder {
			return nil, fmt.Errorf("section %d out of order", id)
		}
		seen[id] = true
		lastOrder = order

		sd := newDecoder(body, features, raw)
		if err := sd.decodeSection(id, m); err != nil {
			return nil, fmt.Errorf("section %d: %w", id, err)
		}
		if sd.r.Len() != 0 {
			return nil, fmt.Errorf("section %d: trailing bytes", id)
		}
	}

	if m.DataCountSection != nil && int(*m.DataCountSection) != len(m.DataSection) {
		return nil, fmt.Errorf("data count section (%d) disagrees with data segment count (%d)",
			*m.DataCountSection, len(m.DataSection))
	}
	if len(m.FunctionSection) != len(m.CodeSection) {
		return nil, fmt.Errorf("function and code section counts disagree")
	}

	if err := m.IndexExports(); err != nil {
		return nil, err
	}
	return m, nil
}

type decoder struct {
	r        *bytes.Reader
	features wasm.Features
	raw      []byte
	// section is the full byte slice backing r, used to take verbatim
	// sub-slices (e.g. a const-expression's raw body) without copying.
	section []byte
}

func newDecoder(b []byte, features wasm.Features, raw []byte) *decoder {
	return &decoder{r: bytes.NewReader(b), features: features, raw: raw, section: b}
}

func (d *decoder) decodeSection(id wasm.SectionID, m *wasm.Module) error {
	switch id {
	case wasm.SectionIDType:
		return d.decodeTypeSection(m)
	case wasm.SectionIDImport:
		return d.decodeImportSection(m)
	case wasm.SectionIDFunction:
		return d.decodeFunctionSection(m)
	case wasm.SectionIDTable:
		return d.decodeTableSection(m)
	case wasm.SectionIDMemory:
		return d.decodeMemorySection(m)
	case wasm.SectionIDGlobal:
		return d.decodeGlobalSection(m)
	case wasm.SectionIDExport:
		return d.decodeExportSection(m)
	case wasm.SectionIDStart:
		return d.decodeStartSection(m)
	case wasm.SectionIDElement:
		return d.decodeElementSection(m)
	case wasm.SectionIDCode:
		return d.decodeCodeSection(m)
	case wasm.SectionIDData:
		return d.decodeDataSection(m)
	case wasm.SectionIDDataCount:
		n, _, err := leb128.DecodeUint32(d.r)
		if err != nil {
			return err
		}
		m.DataCountSection = &n
		return nil
	}
	return fmt.Errorf("unknown section id %d", id)
}

func (d *decoder) u32() (uint32, error) {
	v, _, err := leb128.DecodeUint32(d.r)
	return v, err
}

func (d *decoder) vecCount() (uint32, error) { return d.u32() }

func (d *decoder) byte() (byte, error) { return d.r.ReadByte() }

func (d *decoder) name() (string, error) {
	n, err := d.u32()
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(d.r, buf); err != nil {
		return "", err
	}
	if !validUTF8(buf) {
		return "", fmt.Errorf("invalid UTF-8 name")
	}
	return string(buf), nil
}

func (d *decoder) valueType() (wasm.ValueType, error) {
	b, err := d.byte()
	if err != nil {
		return 0, err
	}
	switch b {
	case wasm.ValueTypeI32, wasm.ValueTypeI64, wasm.ValueTypeF32, wasm.ValueTypeF64,
		wasm.ValueTypeFuncref, wasm.ValueTypeExternref, wasm.ValueTypeV128:
		return b, nil
	}
	return 0, fmt.Errorf("invalid value type %#x", b)
}

func (d *decoder) limits() (wasm.Limits, error) {
	flags, err := d.byte()
	if err != nil {
		return wasm.Limits{}, err
	}
	min, err := d.u32()
	if err != nil {
		return wasm.Limits{}, err
	}
	l := wasm.Limits{Min: min, Shared: flags&0x02 != 0, Is64: flags&0x04 != 0}
	if l.Shared && !d.features.Get(wasm.FeatureThreads) {
		return wasm.Limits{}, fmt.Errorf("shared memory requires the threads feature")
	}
	if flags&0x01 != 0 {
		max, err := d.u32()
		if err != nil {
			return wasm.Limits{}, err
		}
		l.Max = &max
	} else if l.Shared {
		return wasm.Limits{}, fmt.Errorf("shared memory must declare a max")
	}
	return l, nil
}

func (d *decoder) functionType() (*wasm.FunctionType, error) {
	tag, err := d.byte()
	if err != nil {
		return nil, err
	}
	if tag != 0x60 {
		return nil, fmt.Errorf("invalid functype tag %#x", tag)
	}
	params, err := d.valueTypeVec()
	if err != nil {
		return nil, err
	}
	results, err := d.valueTypeVec()
	if err != nil {
		return nil, err
	}
	if len(results) > 1 && !d.features.Get(wasm.FeatureMultiValue) {
		return nil, fmt.Errorf("multiple results requires the multi-value feature")
	}
	return &wasm.FunctionType{Params: params, Results: results}, nil
}

func (d *decoder) valueTypeVec() ([]wasm.ValueType, error) {
	n, err := d.vecCount()
	if err != nil {
		return nil, err
	}
	out := make([]wasm.ValueType, n)
	for i := range out {
		if out[i], err = d.valueType(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) decodeTypeSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.TypeSection = make([]*wasm.FunctionType, n)
	for i := range m.TypeSection {
		if m.TypeSection[i], err = d.functionType(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) decodeImportSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.ImportSection = make([]wasm.Import, n)
	for i := range m.ImportSection {
		imp := &m.ImportSection[i]
		if imp.Module, err = d.name(); err != nil {
			return err
		}
		if imp.Name, err = d.name(); err != nil {
			return err
		}
		if imp.Type, err = d.byte(); err != nil {
			return err
		}
		switch imp.Type {
		case wasm.ExternTypeFunc:
			if imp.DescFunc, err = d.u32(); err != nil {
				return err
			}
			if int(imp.DescFunc) >= len(m.TypeSection) {
				return fmt.Errorf("import function type index out of range")
			}
		case wasm.ExternTypeTable:
			if imp.DescTable, err = d.tableType(); err != nil {
				return err
			}
		case wasm.ExternTypeMemory:
			lim, err := d.limits()
			if err != nil {
				return err
			}
			imp.DescMem = wasm.MemoryType{Limits: lim}
		case wasm.ExternTypeGlobal:
			if imp.DescGlobal, err = d.globalType(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid import kind %#x", imp.Type)
		}
	}
	return nil
}

func (d *decoder) tableType() (wasm.TableType, error) {
	et, err := d.valueType()
	if err != nil {
		return wasm.TableType{}, err
	}
	if !isRefType(et) {
		return wasm.TableType{}, fmt.Errorf("table element type must be a reference type")
	}
	lim, err := d.limits()
	if err != nil {
		return wasm.TableType{}, err
	}
	return wasm.TableType{ElemType: et, Limits: lim}, nil
}

func isRefType(vt wasm.ValueType) bool {
	return vt == wasm.ValueTypeFuncref || vt == wasm.ValueTypeExternref
}

func (d *decoder) globalType() (wasm.GlobalType, error) {
	vt, err := d.valueType()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	mut, err := d.byte()
	if err != nil {
		return wasm.GlobalType{}, err
	}
	if mut > 1 {
		return wasm.GlobalType{}, fmt.Errorf("invalid global mutability %#x", mut)
	}
	return wasm.GlobalType{ValType: vt, Mutable: mut == 1}, nil
}

func (d *decoder) decodeFunctionSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.FunctionSection = make([]uint32, n)
	for i := range m.FunctionSection {
		if m.FunctionSection[i], err = d.u32(); err != nil {
			return err
		}
		if int(m.FunctionSection[i]) >= len(m.TypeSection) {
			return fmt.Errorf("function type index out of range")
		}
	}
	return nil
}

func (d *decoder) decodeTableSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.TableSection = make([]wasm.TableType, n)
	for i := range m.TableSection {
		if m.TableSection[i], err = d.tableType(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) decodeMemorySection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.MemorySection = make([]wasm.MemoryType, n)
	for i := range m.MemorySection {
		lim, err := d.limits()
		if err != nil {
			return err
		}
		m.MemorySection[i] = wasm.MemoryType{Limits: lim}
	}
	if len(m.MemorySection) > 1 && !d.features.Get(wasm.FeatureMultiMemory) {
		return fmt.Errorf("more than one memory requires the multi-memory feature")
	}
	return nil
}

func (d *decoder) decodeGlobalSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.GlobalSection = make([]wasm.Global, n)
	for i := range m.GlobalSection {
		gt, err := d.globalType()
		if err != nil {
			return err
		}
		ce, err := d.constExpr()
		if err != nil {
			return err
		}
		m.GlobalSection[i] = wasm.Global{Type: gt, Init: ce}
	}
	return nil
}

// constExpr reads a restricted init expression verbatim up to and
// including its `end` opcode, without interpreting it: the validator
// enforces the const-expression restriction and the engine
// evaluates it exactly as a normal expression with a synthetic frame.
func (d *decoder) constExpr() (wasm.ConstExpr, error) {
	startPos, _ := d.r.Seek(0, io.SeekCurrent)
	depth := 0
	for {
		op, err := d.byte()
		if err != nil {
			return wasm.ConstExpr{}, err
		}
		if err := d.skipImmediate(op); err != nil {
			return wasm.ConstExpr{}, err
		}
		switch op {
		case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
			depth++
		case wasm.OpcodeEnd:
			if depth == 0 {
				goto done
			}
			depth--
		}
	}
done:
	endPos, _ := d.r.Seek(0, io.SeekCurrent)
	return wasm.ConstExpr{Body: d.section[startPos:endPos]}, nil
}

// skipImmediate advances past op's immediate operands without
// interpreting them, enough to let constExpr find instruction
// boundaries. It does not attempt a full decode (that is the
// validator's job); it recognizes only the opcodes legal in a
// const-expression plus the block openers needed to track nesting.
func (d *decoder) skipImmediate(op wasm.Opcode) error {
	switch op {
	case wasm.OpcodeI32Const:
		_, _, err := leb128.DecodeInt32(d.r)
		return err
	case wasm.OpcodeI64Const:
		_, _, err := leb128.DecodeInt64(d.r)
		return err
	case wasm.OpcodeF32Const:
		var buf [4]byte
		_, err := io.ReadFull(d.r, buf[:])
		return err
	case wasm.OpcodeF64Const:
		var buf [8]byte
		_, err := io.ReadFull(d.r, buf[:])
		return err
	case wasm.OpcodeGlobalGet, wasm.OpcodeRefFunc:
		_, err := d.u32()
		return err
	case wasm.OpcodeRefNull:
		_, err := d.byte()
		return err
	case wasm.OpcodeBlock, wasm.OpcodeLoop, wasm.OpcodeIf:
		// blocktype: single byte 0x40 (empty) or value type, or signed
		// LEB128 type index.
		b, err := d.byte()
		if err != nil {
			return err
		}
		if b == 0x40 || isRefType(b) || b == wasm.ValueTypeI32 || b == wasm.ValueTypeI64 ||
			b == wasm.ValueTypeF32 || b == wasm.ValueTypeF64 || b == wasm.ValueTypeV128 {
			return nil
		}
		// It was the first byte of a signed LEB128 type index; unread and
		// redecode as such.
		if err := d.r.UnreadByte(); err != nil {
			return err
		}
		_, _, err = leb128.DecodeInt33AsInt64(d.r)
		return err
	case wasm.OpcodeEnd, wasm.OpcodeElse, wasm.OpcodeUnreachable, wasm.OpcodeNop,
		wasm.OpcodeReturn, wasm.OpcodeDrop, wasm.OpcodeSelect:
		return nil
	default:
		return nil
	}
}

func (d *decoder) decodeExportSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.ExportSection = make([]wasm.Export, n)
	for i := range m.ExportSection {
		e := &m.ExportSection[i]
		if e.Name, err = d.name(); err != nil {
			return err
		}
		if e.Type, err = d.byte(); err != nil {
			return err
		}
		if e.Index, err = d.u32(); err != nil {
			return err
		}
	}
	return nil
}

func (d *decoder) decodeStartSection(m *wasm.Module) error {
	idx, err := d.u32()
	if err != nil {
		return err
	}
	m.StartSection = &idx
	return nil
}

func (d *decoder) decodeElementSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.ElementSection = make([]wasm.ElementSegment, n)
	for i := range m.ElementSection {
		flags, err := d.u32()
		if err != nil {
			return err
		}
		seg := wasm.ElementSegment{Type: wasm.ValueTypeFuncref}
		switch flags {
		case 0:
			if seg.Offset, err = d.constExpr(); err != nil {
				return err
			}
			if seg.Indices, err = d.u32Vec(); err != nil {
				return err
			}
		case 1:
			seg.Mode = wasm.ElementModePassive
			if _, err := d.byte(); err != nil { // elemkind, must be 0x00 (funcref)
				return err
			}
			if seg.Indices, err = d.u32Vec(); err != nil {
				return err
			}
		case 2:
			if seg.Table, err = d.u32(); err != nil {
				return err
			}
			if seg.Offset, err = d.constExpr(); err != nil {
				return err
			}
			if _, err := d.byte(); err != nil {
				return err
			}
			if seg.Indices, err = d.u32Vec(); err != nil {
				return err
			}
		case 3:
			seg.Mode = wasm.ElementModeDeclarative
			if _, err := d.byte(); err != nil {
				return err
			}
			if seg.Indices, err = d.u32Vec(); err != nil {
				return err
			}
		case 4, 5, 6, 7:
			// expr-initialized variants (element type + expr list); not
			// commonly emitted by toolchains. Decode minimally: treat as
			// passive/active funcref-only with const-expr init per entry.
			if flags == 4 {
				if seg.Offset, err = d.constExpr(); err != nil {
					return err
				}
			} else if flags == 6 {
				if seg.Table, err = d.u32(); err != nil {
					return err
				}
				if seg.Offset, err = d.constExpr(); err != nil {
					return err
				}
				if seg.Type, err = d.valueType(); err != nil {
					return err
				}
			} else if flags == 5 || flags == 7 {
				if seg.Type, err = d.valueType(); err != nil {
					return err
				}
			}
			cnt, err := d.vecCount()
			if err != nil {
				return err
			}
			seg.Indices = make([]uint32, cnt)
			for j := range seg.Indices {
				ce, err := d.constExpr()
				if err != nil {
					return err
				}
				seg.Indices[j] = refFuncIndexFromConstExpr(ce)
			}
			if flags == 7 {
				seg.Mode = wasm.ElementModeDeclarative
			} else if flags == 5 {
				seg.Mode = wasm.ElementModePassive
			}
		default:
			return fmt.Errorf("invalid element segment flags %d", flags)
		}
		m.ElementSection[i] = seg
	}
	return nil
}

// refFuncIndexFromConstExpr extracts the ref.func operand of a
// single-instruction const-expression body (used by the expr-initialized
// element encodings); ref.null bodies yield ^uint32(0).
func refFuncIndexFromConstExpr(ce wasm.ConstExpr) uint32 {
	if len(ce.Body) >= 2 && ce.Body[0] == wasm.OpcodeRefFunc {
		v, _ := leb128.DecodeUint32NoCheck(ce.Body[1:])
		return v
	}
	return ^uint32(0)
}

func (d *decoder) u32Vec() ([]uint32, error) {
	n, err := d.vecCount()
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	for i := range out {
		if out[i], err = d.u32(); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (d *decoder) decodeCodeSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.CodeSection = make([]wasm.Code, n)
	for i := range m.CodeSection {
		size, err := d.u32()
		if err != nil {
			return err
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(d.r, body); err != nil {
			return err
		}
		code, err := decodeFunctionBody(body)
		if err != nil {
			return err
		}
		m.CodeSection[i] = code
	}
	return nil
}

// decodeFunctionBody splits a code entry into its local-type run-length
// chunks and the remaining raw expression bytes; it does not interpret
// the expression.
func decodeFunctionBody(body []byte) (wasm.Code, error) {
	r := bytes.NewReader(body)
	nChunks, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return wasm.Code{}, err
	}
	var locals []wasm.ValueType
	for i := uint32(0); i < nChunks; i++ {
		count, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return wasm.Code{}, err
		}
		vt, err := r.ReadByte()
		if err != nil {
			return wasm.Code{}, err
		}
		if !isRefType(vt) && vt != wasm.ValueTypeI32 && vt != wasm.ValueTypeI64 &&
			vt != wasm.ValueTypeF32 && vt != wasm.ValueTypeF64 && vt != wasm.ValueTypeV128 {
			return wasm.Code{}, fmt.Errorf("invalid local type %#x", vt)
		}
		for j := uint32(0); j < count; j++ {
			locals = append(locals, vt)
		}
	}
	rest := body[len(body)-r.Len():]
	return wasm.Code{LocalTypes: locals, Body: rest}, nil
}

func (d *decoder) decodeDataSection(m *wasm.Module) error {
	n, err := d.vecCount()
	if err != nil {
		return err
	}
	m.DataSection = make([]wasm.DataSegment, n)
	for i := range m.DataSection {
		flags, err := d.u32()
		if err != nil {
			return err
		}
		seg := wasm.DataSegment{}
		switch flags {
		case 0:
			if seg.Offset, err = d.constExpr(); err != nil {
				return err
			}
		case 1:
			seg.Mode = wasm.DataModePassive
		case 2:
			if seg.Memory, err = d.u32(); err != nil {
				return err
			}
			if seg.Offset, err = d.constExpr(); err != nil {
				return err
			}
		default:
			return fmt.Errorf("invalid data segment flags %d", flags)
		}
		n, err := d.u32()
		if err != nil {
			return err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(d.r, buf); err != nil {
			return err
		}
		seg.Init = buf
		m.DataSection[i] = seg
	}
	return nil
}

func (d *decoder) decodeCustomSection(m *wasm.Module, body []byte) error {
	r := bytes.NewReader(body)
	nameLen, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return nil // malformed custom sections are ignored, not fatal
	}
	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(r, nameBuf); err != nil {
		return nil
	}
	if string(nameBuf) != "name" {
		return nil // other custom sections are discarded
	}
	ns, err := decodeNameSection(body[len(body)-r.Len():])
	if err != nil {
		return nil // malformed name sections are silently ignored
	}
	m.NameSection = ns
	return nil
}

func decodeNameSection(body []byte) (*wasm.NameSection, error) {
	r := bytes.NewReader(body)
	ns := &wasm.NameSection{LocalNames: map[uint32][]wasm.NameAssoc{}}
	for r.Len() > 0 {
		subID, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		size, _, err := leb128.DecodeUint32(r)
		if err != nil {
			return nil, err
		}
		sub := make([]byte, size)
		if _, err := io.ReadFull(r, sub); err != nil {
			return nil, err
		}
		sr := bytes.NewReader(sub)
		switch subID {
		case 0: // module name
			n, _, err := leb128.DecodeUint32(sr)
			if err != nil {
				return nil, err
			}
			buf := make([]byte, n)
			io.ReadFull(sr, buf)
			ns.ModuleName = string(buf)
		case 1: // function names
			count, _, err := leb128.DecodeUint32(sr)
			if err != nil {
				return nil, err
			}
			for i := uint32(0); i < count; i++ {
				idx, _, _ := leb128.DecodeUint32(sr)
				nlen, _, _ := leb128.DecodeUint32(sr)
				buf := make([]byte, nlen)
				io.ReadFull(sr, buf)
				ns.FunctionNames = append(ns.FunctionNames, wasm.NameAssoc{Index: idx, Name: string(buf)})
			}
			sort.Slice(ns.FunctionNames, func(i, j int) bool { return ns.FunctionNames[i].Index < ns.FunctionNames[j].Index })
		}
	}
	return ns, nil
}

func validUTF8(b []byte) bool {
	for i := 0; i < len(b); {
		c := b[i]
		switch {
		case c < 0x80:
			i++
		case c&0xe0 == 0xc0:
			if i+1 >= len(b) || b[i+1]&0xc0 != 0x80 || c < 0xc2 {
				return false
			}
			i += 2
		case c&0xf0 == 0xe0:
			if i+2 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 {
				return false
			}
			r := (uint32(c&0x0f) << 12) | (uint32(b[i+1]&0x3f) << 6) | uint32(b[i+2]&0x3f)
			if r < 0x800 || (r >= 0xd800 && r <= 0xdfff) {
				return false // overlong or surrogate half
			}
			i += 3
		case c&0xf8 == 0xf0:
			if i+3 >= len(b) || b[i+1]&0xc0 != 0x80 || b[i+2]&0xc0 != 0x80 || b[i+3]&0xc0 != 0x80 {
				return false
			}
			r := (uint32(c&0x07) << 18) | (uint32(b[i+1]&0x3f) << 12) | (uint32(b[i+2]&0x3f) << 6) | uint32(b[i+3]&0x3f)
			if r < 0x10000 || r > 0x10ffff {
				return false
			}
			i += 4
		default:
			return false
		}
	}
	return true
}
