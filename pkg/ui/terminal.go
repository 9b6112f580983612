package ui

import (
	"fmt"
	"io"
	"os"
	"sync/atomic"
	"text/tabwriter"
)

var noColor atomic.Bool

// Color functions for terminal output
var (
	Cyan    = colorize("\033[36m%s\033[0m")
	Yellow  = colorize("\033[33m%s\033[0m")
	Red     = colorize("\033[31m%s\033[0m")
	Green   = colorize("\033[32m%s\033[0m")
	Magenta = colorize("\033[35m%s\033[0m")
	Dim     = colorize("\033[2m%s\033[0m")
)

// SetNoColor disables ANSI colors for all subsequent output.
func SetNoColor(disabled bool) {
	noColor.Store(disabled)
}

// colorize returns a function that wraps text with ANSI color codes
func colorize(colorString string) func(string) string {
	return func(text string) string {
		if noColor.Load() {
			return text
		}
		return fmt.Sprintf(colorString, text)
	}
}

// Stdout and Stderr are where the Print helpers write.
var (
	Stdout io.Writer = os.Stdout
	Stderr io.Writer = os.Stderr
)

// PrintError prints an error message in red to Stderr
func PrintError(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Stderr, Red(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Stderr, Red(msg))
	}
}

// PrintSuccess prints a success message in green
func PrintSuccess(msg string) {
	fmt.Fprintln(Stdout, Green(msg))
}

// PrintInfo prints a label and value
func PrintInfo(label string, value string) {
	fmt.Fprintf(Stdout, "%s: %s\n", Cyan(label), Yellow(value))
}

// PrintWarning prints a warning message in yellow to Stderr
func PrintWarning(msg string, args ...interface{}) {
	if len(args) > 0 {
		fmt.Fprintln(Stderr, Yellow(msg+": "+fmt.Sprintf("%v", args[0])))
	} else {
		fmt.Fprintln(Stderr, Yellow(msg))
	}
}

// PrintHighlight prints a highlighted message in magenta
func PrintHighlight(msg string) {
	fmt.Fprintln(Stdout, Magenta(msg))
}

// NewTable returns a tab-aligned writer over Stdout. Callers must Flush.
func NewTable() *tabwriter.Writer {
	return tabwriter.NewWriter(Stdout, 0, 4, 2, ' ', 0)
}
