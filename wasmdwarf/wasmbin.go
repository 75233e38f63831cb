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
	"encoding/binary"
	"strings"
)

const customSectionID = 0

// debugSections holds the raw payload of every custom section whose name
// begins with ".debug_", keyed by full section name.
type debugSections map[string][]byte

// splitSections streams the section sequence of a well-formed WebAssembly
// module and returns the custom ".debug_*" payloads found along the way.
//
// It is a weak parser by design: it trusts length-prefixed framing and does
// not validate standard-section contents, since only the custom debug
// sections matter to the extractor.
func splitSections(b []byte) (debugSections, error) {
	if len(b) < 4 || string(b[:4]) != "\x00asm" {
		return nil, errInvalidMagic()
	}
	b = b[4:]

	if len(b) < 4 {
		return nil, errTruncated("missing version")
	}
	version := binary.LittleEndian.Uint32(b[:4])
	if version != 1 {
		return nil, errUnsupportedVersion(version)
	}
	b = b[4:]

	sections := make(debugSections)

	for len(b) > 0 {
		id := b[0]
		b = b[1:]

		length, n := binary.Uvarint(b)
		if n <= 0 {
			return nil, errTruncated("section length")
		}
		b = b[n:]

		if uint64(len(b)) < length {
			return nil, errTruncated("section payload")
		}
		payload := b[:length]
		b = b[length:]

		if id != customSectionID {
			continue
		}

		nameLen, n := binary.Uvarint(payload)
		if n <= 0 {
			return nil, errTruncated("custom section name length")
		}
		payload = payload[n:]
		if uint64(len(payload)) < nameLen {
			return nil, errTruncated("custom section name")
		}
		name := string(payload[:nameLen])
		payload = payload[nameLen:]

		if strings.HasPrefix(name, ".debug_") {
			sections[name] = payload
		}
	}

	return sections, nil
}
