package main

import (
	"errors"
	"fmt"
)

// Process exit codes.
const (
	exitPass    = 0
	exitFail    = 1
	exitAborted = 2
)

// exitError carries a non-zero status out of a command that otherwise
// finished normally, such as an analysis that did not pass.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

// exitCodeFor maps a command result to the process status. Anything other
// than a deliberate exitError aborted the command.
func exitCodeFor(err error) int {
	if err == nil {
		return exitPass
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitAborted
}
