package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/shpitdev/leadsync/pkg/redact"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "error: %s\n", redact.Secrets(err.Error()))
		os.Exit(exitCode(err))
	}
}

const (
	exitFailure = 1
	exitConfig  = 2
)

// exitError carries the process exit code for a command failure.
type exitError struct {
	code int
	msg  string
	err  error
}

func (e *exitError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *exitError) Unwrap() error { return e.err }

func configError(msg string, err error) error {
	return &exitError{code: exitConfig, msg: msg, err: err}
}

func exitCode(err error) int {
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFailure
}
