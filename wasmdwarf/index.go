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

import "sort"

// Index wraps an extraction Result with the lookups a profiler needs at
// runtime: resolving a code-section address back to a source file and line,
// and resolving an address to the name of the function containing it. It holds no state
// beyond what Result already carries, so it is cheap to build and safe to
// share across goroutines once constructed (it is never mutated after
// NewIndex returns).
type Index struct {
	result  *Result
	fileByID map[uint32]SourceFile
}

// NewIndex builds a queryable Index from a successful extraction Result.
func NewIndex(r *Result) *Index {
	files := make(map[uint32]SourceFile)
	for _, unit := range r.Units {
		for _, f := range unit.Files {
			files[f.ID] = f
		}
	}
	return &Index{result: r, fileByID: files}
}

// FileByID returns the source file registered under id, if any.
func (ix *Index) FileByID(id uint32) (SourceFile, bool) {
	f, ok := ix.fileByID[id]
	return f, ok
}

// Lookup resolves addr to the source file and line that won the best-score
// table, falling back to the closest line at or below addr when there is no
// exact match, the same convention debuggers use for inexact return
// addresses.
func (ix *Index) Lookup(addr uint64) (file SourceFile, line uint32, ok bool) {
	lines := ix.result.Lines
	i := sort.Search(len(lines), func(i int) bool { return lines[i][0] >= addr })

	if i == len(lines) || lines[i][0] != addr {
		if i == 0 {
			return SourceFile{}, 0, false
		}
		i--
	}

	l := lines[i]
	f, ok := ix.fileByID[uint32(l[1])]
	if !ok {
		return SourceFile{}, 0, false
	}
	return f, uint32(l[2]), true
}

// FunctionAt returns the name of the function whose range contains addr, if
// any.
func (ix *Index) FunctionAt(addr uint64) (string, bool) {
	for name, r := range ix.result.Functions {
		if r[0] <= addr && addr < r[1] {
			return name, true
		}
	}
	return "", false
}
