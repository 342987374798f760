// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	exitOK      = 0
	exitFinding = 1
	exitError   = 2
)

// CommandError carries a command's exit code alongside its cause.
//
// # Description
//
// Commands that complete but report a negative finding (parameters that
// fail validation) return a CommandError with ExitCode 1. The result has
// already been printed, so run does not print the error again.
//
// # Example
//
//	return &CommandError{Command: "validate", ExitCode: exitFinding, Wrapped: err}
type CommandError struct {
	// Command is the subcommand name.
	Command string

	// ExitCode is the process exit code.
	ExitCode int

	// Wrapped is the underlying error.
	Wrapped error
}

// Error returns a formatted error message.
func (e *CommandError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s (exit %d): %v", e.Command, e.ExitCode, e.Wrapped)
	}
	return fmt.Sprintf("%s (exit %d)", e.Command, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

// exitCode maps a command result to a process exit code. Errors without a
// CommandError in their chain are exit 2.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode
	}
	return exitError
}
