// Package jobs names import runs.
package jobs

import (
	"strings"

	"github.com/google/uuid"
)

// RunPrefix starts every run ID.
const RunPrefix = "import-"

// NewRunID returns a new random run ID, e.g. "import-6f1c0d...".
func NewRunID() string {
	return RunPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// IsRunID reports whether id has the shape NewRunID produces.
func IsRunID(id string) bool {
	rest, ok := strings.CutPrefix(id, RunPrefix)
	if !ok || len(rest) != 32 {
		return false
	}
	_, err := uuid.Parse(rest)
	return err == nil
}
