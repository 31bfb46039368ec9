package tui

import (
	"fmt"
	"io"
	"os"
)

// debugOut receives model traces when IMAGEPRESS_TUI_DEBUG=1. The alt screen
// owns stdout, so run with stderr redirected to a file.
var debugOut io.Writer = func() io.Writer {
	if os.Getenv("IMAGEPRESS_TUI_DEBUG") == "1" {
		return os.Stderr
	}
	return nil
}()

func debugLog(format string, args ...any) {
	if debugOut != nil {
		fmt.Fprintf(debugOut, "[TUI DEBUG] "+format+"\n", args...)
	}
}
