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

// Package wasmdwarf extracts a compact, address-indexed source-location
// index from the DWARF debugging sections embedded in a WebAssembly module.
package wasmdwarf

import (
	"encoding/json"
	"io"
	"sort"
)

// SourceFile is one source file referenced by a compilation unit, shaped
// for JSON output: the candidate lines and their scores never escape this
// package.
type SourceFile struct {
	ID        uint32 `json:"id"`
	Directory string `json:"directory,omitempty"`
	File      string `json:"file"`
	Language  uint16 `json:"language"`
}

// SourceUnit is one compilation unit and the files it contributed surviving
// lines for.
type SourceUnit struct {
	Name      string       `json:"name"`
	Directory string       `json:"directory"`
	Files     []SourceFile `json:"files"`
}

// Line is one compact [address, file_id, line] triple, sorted ascending by
// address in the final result.
type Line [3]uint64

// Result is the shape of the extractor's output. A successful extraction
// always sets Units, Lines, and Functions (the latter omitted when empty);
// a failed one sets only Error.
type Result struct {
	Units     []SourceUnit
	Lines     []Line
	Functions map[string][2]uint64
	Error     string
}

// resultDoc is the shape of the error document: MarshalJSON sets only its
// Error field, so every other field is omitted. Success documents are
// rendered by MarshalJSON's own struct, which keeps units and lines present.
type resultDoc struct {
	Units     []SourceUnit         `json:"units,omitempty"`
	Lines     []Line               `json:"lines,omitempty"`
	Functions map[string][2]uint64 `json:"functions,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// MarshalJSON renders a failed Result as {"error": "..."} only, and a
// successful Result with units/lines always present (as empty arrays when
// there is nothing to report) and functions omitted when empty.
func (r *Result) MarshalJSON() ([]byte, error) {
	if r.Error != "" {
		return json.Marshal(resultDoc{Error: r.Error})
	}
	units, lines := r.Units, r.Lines
	if units == nil {
		units = []SourceUnit{}
	}
	if lines == nil {
		lines = []Line{}
	}
	// units and lines must always be present on success, even empty, so
	// they cannot carry an omitempty tag the way Functions does.
	return json.Marshal(struct {
		Units     []SourceUnit         `json:"units"`
		Lines     []Line               `json:"lines"`
		Functions map[string][2]uint64 `json:"functions,omitempty"`
	}{units, lines, r.Functions})
}

// Extract reads a complete WebAssembly module from r and builds the
// debug-info index described by Result. Any failure along the way is
// returned as a single error; the caller is responsible for rendering it
// into the on-disk error document (see cmd/wasmdwarf).
func Extract(r io.Reader) (*Result, error) {
	b, err := io.ReadAll(r)
	if err != nil {
		return nil, &IOError{Message: err.Error(), Err: err}
	}
	return ExtractBytes(b)
}

// ExtractBytes runs the same extraction as Extract over an in-memory
// module. It is the entry point used by tests and by callers that already
// hold the module bytes.
func ExtractBytes(b []byte) (*Result, error) {
	sections, err := splitSections(b)
	if err != nil {
		return nil, err
	}

	w, err := walkDWARF(sections)
	if err != nil {
		return nil, err
	}

	return w.project(), nil
}

// ExtractSections runs the DWARF-walk and projection stages directly over
// an already-split set of ".debug_*" payloads, skipping the WebAssembly
// container parse. It is the entry point for callers that obtained the
// sections through another mechanism (e.g. a WebAssembly runtime's own
// custom-section accessor) and so never need the section splitter.
func ExtractSections(sections map[string][]byte) (*Result, error) {
	w, err := walkDWARF(debugSections(sections))
	if err != nil {
		return nil, err
	}
	return w.project(), nil
}

// IOError reports a failure reading the input stream.
type IOError struct {
	Message string
	Err     error
}

func (e *IOError) Error() string { return e.Message }
func (e *IOError) Unwrap() error { return e.Err }

// project implements the projection pass of §4.4: it retains only the
// winning candidate per address, drops empty files and units, and shapes
// the public Result.
func (w *walker) project() *Result {
	units := make([]SourceUnit, 0, len(w.units))

	for _, su := range w.units {
		files := make([]SourceFile, 0, len(su.files))
		for _, sf := range su.files {
			if !hasWinner(w.best, sf) {
				continue
			}
			files = append(files, SourceFile{
				ID:        sf.id,
				Directory: sf.directory,
				File:      sf.file,
				Language:  sf.language,
			})
		}
		if len(files) == 0 {
			continue
		}
		units = append(units, SourceUnit{
			Name:      su.name,
			Directory: su.directory,
			Files:     files,
		})
	}

	lines := make([]Line, 0, len(w.best))
	for addr, rec := range w.best {
		lines = append(lines, Line{addr, uint64(rec.fileID), uint64(rec.line)})
	}
	sort.Slice(lines, func(i, j int) bool { return lines[i][0] < lines[j][0] })

	var functions map[string][2]uint64
	if len(w.functions) > 0 {
		functions = w.functions
	}

	return &Result{
		Units:     units,
		Lines:     lines,
		Functions: functions,
	}
}

// hasWinner reports whether any of sf's candidate lines is currently the
// best-score entry for its address.
func hasWinner(best map[uint64]*candidateLine, sf *scoredFile) bool {
	for _, rec := range sf.lines {
		if w, ok := best[rec.address]; ok && w.id == rec.id {
			return true
		}
	}
	return false
}
