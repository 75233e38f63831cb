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

import "strings"

// rowFlags carries the line-program row flags and resolved path that feed
// into the scoring function; kept separate from candidateLine so scoring
// never depends on anything but these inputs.
type rowFlags struct {
	isStmt        bool
	prologueEnd   bool
	epilogueBegin bool
	basicBlock    bool
	directory     string
	file          string
	line          uint32
}

const baseScore = 1000

// satSub subtracts delta from score, saturating at zero.
func satSub(score uint32, delta uint32) uint32 {
	if delta >= score {
		return 0
	}
	return score - delta
}

// scoreRow applies the toolchain-biased heuristic table to a single
// line-program row, in the exact order the policy specifies. The result is
// a saturating, purely-functional score of the row; it never consults any
// mutable state.
func scoreRow(f rowFlags) uint32 {
	score := uint32(baseScore)

	if !f.isStmt {
		score = satSub(score, 400)
	}
	if f.prologueEnd || f.epilogueBegin {
		score = satSub(score, 300)
	}
	if f.basicBlock {
		score = satSub(score, 200)
	}
	if strings.Contains(f.directory, "/rustc/") || strings.Contains(f.directory, "/rust/deps/") {
		score = satSub(score, 300)
	}
	if strings.Contains(f.directory, "library/") {
		score = satSub(score, 200)
	}
	if strings.HasPrefix(f.directory, "/") && !strings.Contains(f.directory, "src") {
		score = satSub(score, 100)
	}
	if strings.HasSuffix(f.file, ".rs") {
		score += 100
	}
	if strings.Contains(f.file, "main.rs") || strings.Contains(f.file, "lib.rs") {
		score += 50
	}
	if strings.Contains(f.file, "mod.rs") && !strings.Contains(f.file, "intrinsics") {
		score += 30
	}
	if strings.Contains(f.file, "intrinsics") || strings.Contains(f.file, "panic") {
		score = satSub(score, 150)
	}
	if strings.Contains(f.file, "macros.rs") {
		score = satSub(score, 100)
	}
	if strings.Contains(f.file, "impls.rs") || strings.Contains(f.file, "builders.rs") {
		score = satSub(score, 80)
	}
	if f.line == 0 {
		score = satSub(score, 200)
	} else if f.line < 10 {
		score = satSub(score, 50)
	}
	if depth := strings.Count(f.directory, "/"); depth > 5 {
		score = satSub(score, uint32(depth-5)*20)
	}

	return score
}
