package cmd

import (
	"fmt"

	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/3leaps/filecast/pkg/store"
)

// exitError creates an error that will cause the CLI to exit with a failure.
// The foundry code is carried in the message for operators and scripts.
func exitError(code int, message string, err error) error {
	return fmt.Errorf("%s: %w (exit code %d)", message, err, code)
}

// storeExitCode picks the foundry category for a store failure.
func storeExitCode(err error) int {
	if store.IsNotFound(err) {
		return foundry.ExitFileNotFound
	}
	return foundry.ExitExternalServiceUnavailable
}
