package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/signalsfoundry/commensal-automator/internal/daemon"
)

// Exit codes. A held lock gets its own code so a supervisor can tell a
// duplicate launch from a crash and not restart into the same contention.
const (
	exitOK       = 0
	exitFailure  = 1
	exitLockHeld = 3
)

func main() {
	os.Exit(execute(context.Background(), os.Args[1:], os.Stderr))
}

func execute(ctx context.Context, args []string, stderr io.Writer) int {
	cmd := newRootCommand()
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(ctx)
	code := exitCode(err)
	if code != exitOK {
		fmt.Fprintf(stderr, "automator: %v\n", err)
	}
	return code
}

func exitCode(err error) int {
	switch {
	case err == nil, errors.Is(err, context.Canceled):
		return exitOK
	case errors.Is(err, daemon.ErrLockHeld):
		return exitLockHeld
	default:
		return exitFailure
	}
}
