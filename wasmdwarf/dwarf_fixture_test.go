package wasmdwarf

import (
	"bytes"
	"encoding/binary"
)

// The functions in this file hand-assemble a minimal but well-formed
// WebAssembly module carrying synthetic DWARF v4 debug sections: one
// compilation unit (language Rust), one subprogram, and a two-row line
// program at a shared address, matching the fixture described by the
// extractor's boundary-behavior scenarios.

func uleb128(x uint64) []byte {
	var b []byte
	for {
		c := byte(x & 0x7f)
		x >>= 7
		if x != 0 {
			c |= 0x80
		}
		b = append(b, c)
		if x == 0 {
			break
		}
	}
	return b
}

func sleb128(x int64) []byte {
	var b []byte
	more := true
	for more {
		c := byte(x & 0x7f)
		x >>= 7
		if (x == 0 && c&0x40 == 0) || (x == -1 && c&0x40 != 0) {
			more = false
		} else {
			c |= 0x80
		}
		b = append(b, c)
	}
	return b
}

func strp(off uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, off)
	return b
}

func u16(v uint16) []byte {
	b := make([]byte, 2)
	binary.LittleEndian.PutUint16(b, v)
	return b
}

func u32(v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return b
}

// fixtureStrings builds a .debug_str table and returns the byte-offsets of
// each string in insertion order.
func fixtureStrings(strs ...string) ([]byte, []uint32) {
	var buf bytes.Buffer
	offsets := make([]uint32, len(strs))
	for i, s := range strs {
		offsets[i] = uint32(buf.Len())
		buf.WriteString(s)
		buf.WriteByte(0)
	}
	return buf.Bytes(), offsets
}

const (
	tagCompileUnit = 0x11
	tagSubprogram  = 0x2e

	formAddr  = 0x01
	formData2 = 0x05
	formData4 = 0x06
	formStrp  = 0x0e

	attrName     = 0x03
	attrStmtList = 0x10
	attrLowpc    = 0x11
	attrHighpc   = 0x12
	attrLanguage = 0x13
	attrCompDir  = 0x1b

	dwLangRustConst = 0x1c
)

// buildFixtureAbbrev builds a .debug_abbrev table with two entries: a
// compile-unit (code 1, with children) and a subprogram (code 2, no
// children).
func buildFixtureAbbrev() []byte {
	var b bytes.Buffer

	// Abbrev 1: compile unit.
	b.Write(uleb128(1))
	b.Write(uleb128(tagCompileUnit))
	b.WriteByte(1) // DW_CHILDREN_yes
	b.Write(uleb128(attrName))
	b.Write(uleb128(formStrp))
	b.Write(uleb128(attrCompDir))
	b.Write(uleb128(formStrp))
	b.Write(uleb128(attrStmtList))
	b.Write(uleb128(formData4))
	b.Write(uleb128(attrLanguage))
	b.Write(uleb128(formData2))
	b.Write(uleb128(0))
	b.Write(uleb128(0))

	// Abbrev 2: subprogram.
	b.Write(uleb128(2))
	b.Write(uleb128(tagSubprogram))
	b.WriteByte(0) // DW_CHILDREN_no
	b.Write(uleb128(attrName))
	b.Write(uleb128(formStrp))
	b.Write(uleb128(attrLowpc))
	b.Write(uleb128(formAddr))
	b.Write(uleb128(attrHighpc))
	b.Write(uleb128(formData4))
	b.Write(uleb128(0))
	b.Write(uleb128(0))

	b.Write(uleb128(0)) // end of table

	return b.Bytes()
}

// buildFixtureLine builds a DWARF v4 .debug_line program with two rows at
// the same address (0x10): the first with is_stmt set (line 42), the
// second with is_stmt cleared (same line), so the projection pass has to
// pick a winner by score rather than by a tie.
func buildFixtureLine(fileName string) []byte {
	var header bytes.Buffer
	header.WriteByte(1) // minimum_instruction_length
	header.WriteByte(1) // maximum_operations_per_instruction
	header.WriteByte(1) // default_is_stmt
	lineBase := int8(-5)
	header.WriteByte(byte(lineBase)) // line_base
	header.WriteByte(14) // line_range
	header.WriteByte(13) // opcode_base
	header.Write([]byte{0, 1, 1, 1, 1, 0, 0, 0, 1, 0, 0, 1})

	// Include directories: none, terminated by empty string.
	header.WriteByte(0)

	// File names: one entry, then terminator.
	header.WriteString(fileName)
	header.WriteByte(0)
	header.Write(uleb128(0)) // dir_index: comp dir
	header.Write(uleb128(0)) // mtime
	header.Write(uleb128(0)) // length
	header.WriteByte(0)      // terminator

	var program bytes.Buffer
	// DW_LNE_set_address 0x10
	program.WriteByte(0) // extended opcode marker
	program.Write(uleb128(1 + 4))
	program.WriteByte(0x02) // DW_LNE_set_address
	program.Write(u32(0x10))

	// DW_LNS_advance_line +41 (1 -> 42)
	program.WriteByte(0x03)
	program.Write(sleb128(41))
	// DW_LNS_copy: emits row (addr=0x10, line=42, is_stmt=true)
	program.WriteByte(0x01)

	// DW_LNS_negate_stmt
	program.WriteByte(0x06)
	// DW_LNS_copy: emits row (addr=0x10, line=42, is_stmt=false)
	program.WriteByte(0x01)

	// DW_LNS_advance_pc +0x10
	program.WriteByte(0x02)
	program.Write(uleb128(0x10))
	// DW_LNE_end_sequence
	program.WriteByte(0)
	program.Write(uleb128(1))
	program.WriteByte(0x01)

	var unit bytes.Buffer
	unit.Write(u16(4)) // version
	unit.Write(u32(uint32(header.Len())))
	unit.Write(header.Bytes())
	unit.Write(program.Bytes())

	var out bytes.Buffer
	out.Write(u32(uint32(unit.Len())))
	out.Write(unit.Bytes())
	return out.Bytes()
}

// buildFixtureInfo builds a single DWARF v4 32-bit compile unit DIE tree:
// the unit itself (carrying name/comp_dir/stmt_list/language) with one
// subprogram child (carrying name/low_pc/high_pc).
func buildFixtureInfo(nameOff, compDirOff, subNameOff uint32) []byte {
	var body bytes.Buffer
	body.Write(u16(4))  // version
	body.Write(u32(0))  // abbrev_offset
	body.WriteByte(4)   // address_size

	// Compile-unit DIE (abbrev 1).
	body.Write(uleb128(1))
	body.Write(strp(nameOff))
	body.Write(strp(compDirOff))
	body.Write(u32(0)) // stmt_list: offset 0 into .debug_line
	body.Write(u16(dwLangRustConst))

	// Subprogram DIE (abbrev 2): low=0x10, high=0x20 (offset form, +0x10).
	body.Write(uleb128(2))
	body.Write(strp(subNameOff))
	body.Write(u32(0x10))
	body.Write(u32(0x10))

	body.Write(uleb128(0)) // end of compile-unit children

	var out bytes.Buffer
	out.Write(u32(uint32(body.Len())))
	out.Write(body.Bytes())
	return out.Bytes()
}

// buildFixtureModule assembles a complete WebAssembly module containing the
// synthetic DWARF sections above as custom sections.
func buildFixtureModule() []byte {
	str, offs := fixtureStrings("count_vowels", "/src", "count_vowels.rs")
	info := buildFixtureInfo(offs[0], offs[1], offs[0])
	line := buildFixtureLine("count_vowels.rs")
	abbrev := buildFixtureAbbrev()

	var out bytes.Buffer
	out.WriteString("\x00asm")
	out.Write(u32(1))

	writeCustomSection(&out, ".debug_abbrev", abbrev)
	writeCustomSection(&out, ".debug_info", info)
	writeCustomSection(&out, ".debug_line", line)
	writeCustomSection(&out, ".debug_str", str)

	return out.Bytes()
}

func writeCustomSection(out *bytes.Buffer, name string, payload []byte) {
	var body bytes.Buffer
	body.Write(uleb128(uint64(len(name))))
	body.WriteString(name)
	body.Write(payload)

	out.WriteByte(0) // custom section id
	out.Write(uleb128(uint64(body.Len())))
	out.Write(body.Bytes())
}
