package main

import (
	"fmt"
	"os"

	"github.com/Iron-Ham/spotbridge/internal/cmd"
	"github.com/Iron-Ham/spotbridge/internal/errors"
)

func main() {
	err := cmd.Execute()
	if err == nil {
		return
	}
	fmt.Fprintln(os.Stderr, "Error:", err)
	if errors.IsRetryable(err) {
		fmt.Fprintln(os.Stderr, "This failure may be transient; run the command again.")
	}
	os.Exit(exitCode(err))
}

// exitCode returns 2 for rejected user input and 1 for everything else.
func exitCode(err error) int {
	if errors.IsUserFacing(err) && errors.GetSeverity(err) <= errors.SeverityWarning {
		return 2
	}
	return 1
}
