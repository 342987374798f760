// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command abstat plans and analyzes two-arm conversion experiments.
//
// Usage:
//
//	abstat validate --baseline 0.1 --mde 0.05
//	abstat size --preset checkout-button
//	abstat analyze --file observations.yaml --checkpoint 500
//	abstat simulate --preset signup-form --seed 7 --replicates 200
//	abstat presets
//	abstat serve --addr :8090
//
// Exit codes: 0 success, 1 parameters failed validation, 2 error.
package main

import (
	"fmt"
	"io"
	"os"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the CLI and returns the process exit code.
func run(args []string, stdout, stderr io.Writer) int {
	return newCLI(stdout, stderr).run(args)
}

func (c *cli) run(args []string) int {
	root := c.rootCmd()
	root.SetArgs(args)
	err := root.Execute()
	if closeErr := c.close(); closeErr != nil {
		fmt.Fprintf(c.stderr, "Warning: %v\n", closeErr)
	}
	code := exitCode(err)
	if code == exitError {
		fmt.Fprintf(c.stderr, "Error: %v\n", err)
	}
	return code
}
