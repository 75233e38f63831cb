// Copyright 2023 Stealth Rocket, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package wasmdwarf

import (
	"debug/dwarf"
	"errors"
	"io"
	"strings"
	"unicode/utf8"
)

// syntheticAddressThreshold is the cutoff above which addresses are
// presumed to be relocation artifacts rather than real code offsets.
const syntheticAddressThreshold = 0x40000000

// dwLangRust is the DWARF DW_LANG_Rust language code.
const dwLangRust = 0x1c

const (
	sectionInfo   = ".debug_info"
	sectionLine   = ".debug_line"
	sectionStr    = ".debug_str"
	sectionAbbrev = ".debug_abbrev"
	sectionRanges = ".debug_ranges"
)

// candidateLine is a pre-projection line record: it lives both in its
// owning file's line list and, if it is currently winning, as the value of
// an entry in the walker's best-score table. The two references point at
// the same record so that a projection pass can decide inclusion purely by
// identity comparison of ids.
type candidateLine struct {
	id      uint64
	fileID  uint32
	address uint64
	line    uint32
	score   uint32
}

type fileKey struct {
	directory string
	file      string
}

// scoredFile accumulates candidate lines for one (directory, file) pair
// within a single compilation unit.
type scoredFile struct {
	id        uint32
	directory string
	file      string
	language  uint16
	lines     []*candidateLine
}

// scoredUnit accumulates the files referenced by one compilation unit, in
// the order their (directory, file) keys were first seen.
type scoredUnit struct {
	name      string
	directory string
	files     []*scoredFile
	fileIndex map[fileKey]*scoredFile
}

// walker drives a DWARF reader to completion, accumulating units, a
// best-score table keyed by address, and a function table. It owns every
// piece of mutable state for a single extraction and nothing outlives it.
type walker struct {
	units []*scoredUnit
	best  map[uint64]*candidateLine

	functions map[string][2]uint64

	fileIDs    map[fileKey]uint32
	nextFileID uint32
	nextLineID uint64
}

func newWalker() *walker {
	return &walker{
		best:      make(map[uint64]*candidateLine),
		functions: make(map[string][2]uint64),
		fileIDs:   make(map[fileKey]uint32),
	}
}

// walkDWARF loads a DWARF context from the given section payloads and walks
// every compilation unit, returning a populated walker.
func walkDWARF(sections debugSections) (*walker, error) {
	// Without a .debug_info section there are no compilation units to walk,
	// so the result is empty rather than a reader error.
	if len(sections[sectionInfo]) == 0 {
		return newWalker(), nil
	}

	d, err := dwarf.New(
		sections[sectionAbbrev], nil, nil,
		sections[sectionInfo], sections[sectionLine], nil,
		sections[sectionRanges], sections[sectionStr],
	)
	if err != nil {
		return nil, errReader("open", err)
	}

	w := newWalker()
	r := d.Reader()

	for {
		e, err := r.Next()
		if err != nil {
			return nil, errReader("read entry", err)
		}
		if e == nil {
			break
		}
		if e.Tag != dwarf.TagCompileUnit {
			r.SkipChildren()
			continue
		}
		if err := w.walkUnit(d, r, e); err != nil {
			return nil, err
		}
	}

	return w, nil
}

func (w *walker) walkUnit(d *dwarf.Data, r *dwarf.Reader, cu *dwarf.Entry) error {
	name, _ := cu.Val(dwarf.AttrName).(string)
	compDir, _ := cu.Val(dwarf.AttrCompDir).(string)

	var lang uint16
	isRust := false
	if l, ok := cu.Val(dwarf.AttrLanguage).(int64); ok {
		lang = uint16(l)
		isRust = l == dwLangRust
	}

	su := &scoredUnit{
		name:      name,
		directory: compDir,
		fileIndex: make(map[fileKey]*scoredFile),
	}

	lr, err := d.LineReader(cu)
	if err != nil {
		return errReader("line program", err)
	}
	if lr != nil {
		if err := w.walkLineProgram(lr, su, isRust, lang); err != nil {
			return err
		}
	}

	w.units = append(w.units, su)

	return w.scanChildren(r, cu)
}

func (w *walker) walkLineProgram(lr *dwarf.LineReader, su *scoredUnit, isRust bool, lang uint16) error {
	var le dwarf.LineEntry
	for {
		err := lr.Next(&le)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return errReader("line entry", err)
		}

		if le.EndSequence {
			// The end-of-sequence row marks the first address past the
			// sequence rather than an instruction.
			continue
		}
		if le.File == nil {
			continue
		}
		if le.Line == 0 {
			continue
		}

		line := uint32(le.Line - 1)
		if isRust {
			line++
		}

		addr := le.Address
		if addr > syntheticAddressThreshold {
			continue
		}

		if !utf8.ValidString(le.File.Name) {
			return errInvalidPath(le.File.Name)
		}
		dir, file := splitPath(le.File.Name)

		score := scoreRow(rowFlags{
			isStmt:        le.IsStmt,
			prologueEnd:   le.PrologueEnd,
			epilogueBegin: le.EpilogueBegin,
			basicBlock:    le.BasicBlock,
			directory:     dir,
			file:          file,
			line:          line,
		})

		key := fileKey{directory: dir, file: file}
		sf, ok := su.fileIndex[key]
		if !ok {
			sf = &scoredFile{
				id:        w.fileID(key),
				directory: dir,
				file:      file,
				language:  lang,
			}
			su.fileIndex[key] = sf
			su.files = append(su.files, sf)
		}

		rec := &candidateLine{
			id:      w.nextLineID,
			fileID:  sf.id,
			address: addr,
			line:    line,
			score:   score,
		}
		w.nextLineID++

		sf.lines = append(sf.lines, rec)
		w.recordBest(rec)
	}
	return nil
}

// fileID assigns a dense, monotonic id to a (directory, file) pair the
// first time it is seen across the whole extraction.
func (w *walker) fileID(key fileKey) uint32 {
	if id, ok := w.fileIDs[key]; ok {
		return id
	}
	id := w.nextFileID
	w.nextFileID++
	w.fileIDs[key] = id
	return id
}

// recordBest updates the best-score table for rec's address: it replaces
// the incumbent only on a strictly higher score, so the earliest-emitted
// candidate wins ties.
func (w *walker) recordBest(rec *candidateLine) {
	incumbent, ok := w.best[rec.address]
	if !ok || rec.score > incumbent.score {
		w.best[rec.address] = rec
	}
}

// scanChildren walks parent's DIE tree depth-first looking for subprograms,
// independently of the line-number program. The reader must be positioned
// immediately after parent's own entry, i.e. about to read parent's first
// child (or the terminating null entry, if parent has no children).
func (w *walker) scanChildren(r *dwarf.Reader, parent *dwarf.Entry) error {
	if !parent.Children {
		return nil
	}
	for {
		e, err := r.Next()
		if err != nil {
			return errReader("read entry", err)
		}
		if e == nil {
			return errInternal("unexpected end of DWARF stream inside %v", parent.Tag)
		}
		if e.Tag == 0 {
			// Null entry: end of parent's children.
			return nil
		}
		if e.Tag == dwarf.TagSubprogram {
			w.recordSubprogram(e)
		}
		if err := w.scanChildren(r, e); err != nil {
			return err
		}
	}
}

// recordSubprogram extracts a function's name and address range from a
// DW_TAG_subprogram entry and, if complete and within bounds, records it in
// the function table. Incomplete or out-of-range entries are dropped
// silently, per the extraction policy.
func (w *walker) recordSubprogram(e *dwarf.Entry) {
	name, ok := e.Val(dwarf.AttrName).(string)
	if !ok || name == "" {
		return
	}

	low, ok := e.Val(dwarf.AttrLowpc).(uint64)
	if !ok {
		return
	}

	var high uint64
	field := e.AttrField(dwarf.AttrHighpc)
	if field == nil {
		return
	}
	switch field.Class {
	case dwarf.ClassAddress:
		high, ok = field.Val.(uint64)
	case dwarf.ClassConstant:
		var off int64
		off, ok = field.Val.(int64)
		if ok {
			high = low + uint64(off)
		}
	}
	if !ok {
		return
	}

	if low > syntheticAddressThreshold || high > syntheticAddressThreshold || low >= high {
		return
	}

	w.functions[name] = [2]uint64{low, high}
}

func splitPath(name string) (dir, file string) {
	i := strings.LastIndexByte(name, '/')
	if i < 0 {
		return "", name
	}
	return name[:i], name[i+1:]
}

