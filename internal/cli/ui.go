// Package cli holds what the simulacra commands share: coloured status
// output on stderr and config/logger setup.
package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
)

// Out receives all status output. Payload output (an extracted message)
// goes to stdout directly so it can be piped.
var Out io.Writer = os.Stderr

var (
	headerColor  = color.New(color.FgCyan, color.Bold)
	successColor = color.New(color.FgGreen, color.Bold)
	warnColor    = color.New(color.FgYellow)
	errColor     = color.New(color.FgRed, color.Bold)
	dim          = color.New(color.FgHiBlack)
)

// Header prints a title with an underline.
func Header(title string) {
	headerColor.Fprintf(Out, "\n%s\n", title)
	dim.Fprintln(Out, strings.Repeat("=", len(title)))
}

// Field prints an indented name/value pair.
func Field(name string, value any) {
	dim.Fprintf(Out, "   %-18s", name+":")
	fmt.Fprintf(Out, " %v\n", value)
}

// Success prints a green status line.
func Success(format string, args ...any) {
	successColor.Fprintf(Out, "\n✔ "+format+"\n", args...)
}

// Warn prints a yellow status line.
func Warn(format string, args ...any) {
	warnColor.Fprintf(Out, "! "+format+"\n", args...)
}

// Fail prints err in red.
func Fail(err error) {
	errColor.Fprintf(Out, "✘ %v\n", err)
}

// Exit prints err and exits non-zero when err is not nil.
func Exit(err error) {
	if err == nil {
		return
	}
	Fail(err)
	os.Exit(1)
}
