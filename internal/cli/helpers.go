package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/provisr-io/provisr/internal/engine"
)

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
)

// resolveProgram turns an optional positional argument into a project
// directory and entry point. Default is main.pkl in the working directory;
// a directory argument switches projects, a file argument selects both.
func resolveProgram(args []string) (wd, entryPoint string, err error) {
	wd, err = os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint = "main.pkl"

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}

		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}
	return wd, entryPoint, nil
}

// renderEvent prints one scheduler event in apply-log style.
func renderEvent(event engine.Event) {
	switch event.Status {
	case "started":
		fmt.Printf("%s  + %s creating...%s\n", colorGreen, event.Address, colorReset)
	case "retrying":
		fmt.Printf("%s  ~ %s retrying (attempt %d): %v%s\n", colorYellow, event.Address, event.Attempt, event.Error, colorReset)
	case "completed":
		fmt.Printf("%s  + %s created (%s)%s\n", colorGreen, event.Address, event.Duration.Round(time.Millisecond), colorReset)
	case "failed":
		fmt.Printf("%s  - %s failed: %v%s\n", colorRed, event.Address, event.Error, colorReset)
	}
}

// formatValue returns a human-readable representation of an output value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}
