// Package ui holds the terminal output helpers of the irdigest CLI.
package ui

import (
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
)

var (
	out    io.Writer = os.Stdout
	errOut io.Writer = os.Stderr

	green  = color.New(color.FgGreen)
	red    = color.New(color.FgRed)
	yellow = color.New(color.FgYellow)
	cyan   = color.New(color.FgCyan)
	bold   = color.New(color.Bold)
)

// Init applies the --no-color flag.
func Init(noColor bool) {
	if noColor {
		color.NoColor = true
	}
}

// SetOutput redirects both streams, for tests.
func SetOutput(stdout, stderr io.Writer) {
	out, errOut = stdout, stderr
}

func Success(format string, args ...any) {
	green.Fprint(out, "✓ ")
	fmt.Fprintf(out, format+"\n", args...)
}

func Error(format string, args ...any) {
	red.Fprint(errOut, "✗ ")
	fmt.Fprintf(errOut, format+"\n", args...)
}

func Warning(format string, args ...any) {
	yellow.Fprint(out, "⚠ ")
	fmt.Fprintf(out, format+"\n", args...)
}

func Info(format string, args ...any) {
	cyan.Fprint(out, "ℹ ")
	fmt.Fprintf(out, format+"\n", args...)
}

// Section prints a bold title with an underline.
func Section(title string) {
	bold.Fprintf(out, "\n%s\n", title)
	fmt.Fprintf(out, "%s\n\n", underline(len([]rune(title))))
}

// Println writes plain text to stdout.
func Println(s string) {
	fmt.Fprintln(out, s)
}

// Stdout is the current standard output writer.
func Stdout() io.Writer { return out }

func underline(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = '='
	}
	return string(b)
}
