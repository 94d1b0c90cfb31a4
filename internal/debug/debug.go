package debug

import (
	"os"
	"strings"
)

// IsDebuggerAttached returns true if the program is running under a debugger
func IsDebuggerAttached() bool {
	// Check if running under VS Code debugger
	if os.Getenv("VSCODE_DEBUG_MODE") != "" {
		return true
	}

	// Check if Delve debugger is attached
	if os.Getenv("DELVE_DEBUGGER") != "" {
		return true
	}

	// Check program name for common debug indicators
	return strings.Contains(os.Args[0], "__debug_bin")
}
