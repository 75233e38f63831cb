//  Copyright 2023 Stealth Rocket, Inc.
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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/spf13/pflag"

	"github.com/wasm-dwarf/wasmdwarf/wasmdwarf"
)

type program struct {
	inputPath  string
	outputPath string
}

func main() {
	log.Default().SetOutput(os.Stderr)
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, stdin io.Reader, stdout io.Writer) int {
	prog, err := parseArgs(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "usage: wasmdwarf [-o output.json] [input.wasm]\n%v\n", err)
		return 2
	}

	in := stdin
	if prog.inputPath != "" {
		f, err := os.Open(prog.inputPath)
		if err != nil {
			return writeResult(stdout, &wasmdwarf.Result{Error: err.Error()})
		}
		defer f.Close()
		in = f
	}

	result, err := wasmdwarf.Extract(in)
	if err != nil {
		result = &wasmdwarf.Result{Error: err.Error()}
	}

	out := stdout
	if prog.outputPath != "" {
		f, createErr := os.Create(prog.outputPath)
		if createErr != nil {
			log.Printf("wasmdwarf: opening output: %s", createErr)
			return 2
		}
		defer f.Close()
		out = f
	}

	return writeResult(out, result)
}

// writeResult serializes result as JSON to out. A failure to do so even for
// an error result is severe enough to warrant exit code 2 (§6).
func writeResult(out io.Writer, result *wasmdwarf.Result) int {
	enc := json.NewEncoder(out)
	if err := enc.Encode(result); err != nil {
		log.Printf("wasmdwarf: writing result: %s", err)
		return 2
	}
	if result.Error != "" {
		return 1
	}
	return 0
}

func parseArgs(args []string) (*program, error) {
	fs := pflag.NewFlagSet("wasmdwarf", pflag.ContinueOnError)
	output := fs.StringP("output", "o", "", "Write the JSON index to this file instead of stdout.")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	prog := &program{outputPath: *output}
	switch rest := fs.Args(); len(rest) {
	case 0:
		// Read from stdin.
	case 1:
		prog.inputPath = rest[0]
	default:
		return nil, fmt.Errorf("expected at most one positional argument, got %d", len(rest))
	}
	return prog, nil
}
