// Package ops implements the diagnostics operations shared by the CLI and
// the MCP server. Each operation is a thin call into the engine plus the
// input checks and human-readable messages both surfaces need.
package ops

import "fmt"

// History limits
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
	// DefaultReportHistory is how many history rows a report lists.
	DefaultReportHistory = 10
)

// clampLimit applies the default for non-positive limits and caps the rest.
func clampLimit(limit, def, max int) int {
	if limit <= 0 {
		return def
	}
	if limit > max {
		return max
	}
	return limit
}

// plural returns "n word" with an s appended when n != 1.
func plural(n int, word string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, word)
	}
	return fmt.Sprintf("%d %ss", n, word)
}
