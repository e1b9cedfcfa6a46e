// Package main implements the codepool command, which administers a pool of
// single-use codes: importing batches, claiming codes, and purging used ones.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/phrazzld/codepool/internal/domain"
	"github.com/phrazzld/codepool/internal/redact"
)

// Exit codes
const (
	exitOK        = 0
	exitError     = 1
	exitExhausted = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s := &session{}
	err := newRootCmd(s).ExecuteContext(ctx)
	s.Close()
	stop()
	os.Exit(exitCode(err))
}

// exitCode reports err on stderr and maps it to a process exit code. An
// exhausted pool gets its own code so scripts can tell it apart from failures.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, domain.ErrPoolExhausted):
		fmt.Fprintln(os.Stderr, "pool exhausted")
		return exitExhausted
	default:
		fmt.Fprintf(os.Stderr, "Error: %s\n", redact.Error(err))
		return exitError
	}
}
