// Package errors handles fatal startup failures for the daemon binaries.
package errors

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/kochj23/mailsummary/logger"
)

// StartupError wraps a failure of a named startup operation.
type StartupError struct {
	Operation string
	Err       error
}

func (s *StartupError) Error() string {
	return fmt.Sprintf("operation '%s' failed: %v", s.Operation, s.Err)
}

func (s *StartupError) Unwrap() error {
	return s.Err
}

// ErrorHandler funnels fatal startup failures into a single exit channel so
// main() can report them and exit with a non-zero code instead of panicking.
// It logs with the plain stderr logger because failures may happen before
// the structured logger is initialized.
type ErrorHandler struct {
	exitChannel chan int
	logger      *log.Logger
}

func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		exitChannel: make(chan int, 1),
		logger:      log.New(os.Stderr, "[ERROR] ", log.LstdFlags),
	}
}

// signalExit requests a non-zero exit without blocking if one is already
// pending.
func (eh *ErrorHandler) signalExit() {
	select {
	case eh.exitChannel <- 1:
	default:
	}
}

func (eh *ErrorHandler) FatalError(operation string, err error) {
	eh.logger.Printf("FATAL: %v", &StartupError{Operation: operation, Err: err})
	eh.signalExit()
}

func (eh *ErrorHandler) ConfigError(configPath string, err error) {
	if os.IsNotExist(err) {
		eh.logger.Printf("ERROR: configuration file '%s' not found: %v", configPath, err)
	} else {
		eh.logger.Printf("ERROR: failed to parse configuration file '%s': %v", configPath, err)
	}
	eh.signalExit()
}

func (eh *ErrorHandler) ValidationError(field string, err error) {
	eh.logger.Printf("ERROR: invalid configuration - %s: %v", field, err)
	eh.signalExit()
}

// WaitForExit blocks until an exit has been requested and returns the code.
func (eh *ErrorHandler) WaitForExit() int {
	return <-eh.exitChannel
}

func (eh *ErrorHandler) Shutdown(ctx context.Context) {
	select {
	case <-ctx.Done():
		logger.Info("Graceful shutdown initiated")
	default:
		logger.Warn("Unexpected shutdown")
	}
}
