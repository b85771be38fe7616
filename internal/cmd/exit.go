package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/fulmenhq/gofulmen/foundry"
	"go.uber.org/zap"

	"github.com/3leaps/goharvest/internal/observability"
)

// Exit codes.
var (
	exitFailure            = 1
	exitInvalidArgument    = int(foundry.ExitInvalidArgument)
	exitConfigError        = int(foundry.ExitInvalidArgument)
	exitFileNotFound       = int(foundry.ExitFileNotFound)
	exitFileReadError      = int(foundry.ExitFileReadError)
	exitFileWriteError     = int(foundry.ExitFileWriteError)
	exitServiceUnavailable = int(foundry.ExitExternalServiceUnavailable)
	exitSignalInt          = int(foundry.ExitSignalInt)
)

// ExitError carries the process exit code for a failed command.
type ExitError struct {
	Code    int
	Message string
	Err     error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

func exitError(code int, message string, err error) error {
	return &ExitError{Code: code, Message: message, Err: err}
}

// handleExit logs err and returns the code to exit with.
func handleExit(err error) int {
	var ee *ExitError
	if errors.As(err, &ee) {
		observability.CLILogger.Error(ee.Message, zap.Error(ee.Err), zap.Int("exit_code", ee.Code))
		if ee.Code == 0 {
			return exitFailure
		}
		return ee.Code
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	return exitFailure
}
