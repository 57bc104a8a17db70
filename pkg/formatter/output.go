package formatter

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"unicode/utf8"

	"golang.org/x/term"
)

// Color codes for terminal output
const (
	ColorReset  = "\033[0m"
	ColorRed    = "\033[31m"
	ColorGreen  = "\033[32m"
	ColorYellow = "\033[33m"
	ColorBlue   = "\033[34m"
	ColorCyan   = "\033[36m"

	ColorBold = "\033[1m"
	ColorDim  = "\033[2m"
)

// Icons for different message types
const (
	IconSuccess = "✓"
	IconError   = "✗"
	IconWarning = "⚠"
	IconInfo    = "→"
)

// Output writes formatted, optionally coloured messages
type Output struct {
	w       io.Writer
	verbose bool
	noColor bool
}

// New creates an Output on stdout. Colour is used only on a terminal.
func New(verbose, noColor bool) *Output {
	return NewWriter(os.Stdout, verbose, noColor || !IsTerminal(os.Stdout))
}

// NewWriter creates an Output on w
func NewWriter(w io.Writer, verbose, noColor bool) *Output {
	if os.Getenv("NO_COLOR") != "" {
		noColor = true
	}
	return &Output{w: w, verbose: verbose, noColor: noColor}
}

// IsTerminal reports whether w is an interactive terminal
func IsTerminal(w io.Writer) bool {
	type fdProvider interface {
		Fd() uintptr
	}
	if f, ok := w.(fdProvider); ok {
		return term.IsTerminal(int(f.Fd()))
	}
	return false
}

// Writer returns the underlying writer
func (o *Output) Writer() io.Writer {
	return o.w
}

// color applies color to text if colors are enabled
func (o *Output) color(color, text string) string {
	if o.noColor {
		return text
	}
	return color + text + ColorReset
}

func (o *Output) line(icon, color, format string, args ...interface{}) {
	fmt.Fprintf(o.w, "%s %s\n", o.color(color, icon), fmt.Sprintf(format, args...))
}

// Success prints a success message
func (o *Output) Success(format string, args ...interface{}) {
	o.line(IconSuccess, ColorGreen, format, args...)
}

// Error prints an error message
func (o *Output) Error(format string, args ...interface{}) {
	o.line(IconError, ColorRed, format, args...)
}

// Warning prints a warning message
func (o *Output) Warning(format string, args ...interface{}) {
	o.line(IconWarning, ColorYellow, format, args...)
}

// Info prints an info message
func (o *Output) Info(format string, args ...interface{}) {
	o.line(IconInfo, ColorBlue, format, args...)
}

// Verbose prints a message only if verbose mode is enabled
func (o *Output) Verbose(format string, args ...interface{}) {
	if o.verbose {
		fmt.Fprintf(o.w, "  %s\n", o.color(ColorDim, fmt.Sprintf(format, args...)))
	}
}

// Section prints a section header
func (o *Output) Section(title string) {
	fmt.Fprintf(o.w, "\n%s\n\n", o.color(ColorBold, "=== "+title+" ==="))
}

// Plain prints plain text without formatting
func (o *Output) Plain(format string, args ...interface{}) {
	fmt.Fprintf(o.w, format+"\n", args...)
}

// Dim returns dimmed text
func (o *Output) Dim(text string) string {
	return o.color(ColorDim, text)
}

// Table prints a simple table. Cells may carry colour codes.
func (o *Output) Table(headers []string, rows [][]string) {
	if len(rows) == 0 {
		return
	}

	colWidths := make([]int, len(headers))
	for i, header := range headers {
		colWidths[i] = visibleLen(header)
	}
	for _, row := range rows {
		for i, cell := range row {
			if i < len(colWidths) && visibleLen(cell) > colWidths[i] {
				colWidths[i] = visibleLen(cell)
			}
		}
	}

	headerStr := formatRow(headers, colWidths)
	fmt.Fprintln(o.w, o.color(ColorBold, headerStr))
	fmt.Fprintln(o.w, strings.Repeat("─", visibleLen(headerStr)))

	for _, row := range rows {
		fmt.Fprintln(o.w, formatRow(row, colWidths))
	}
}

func formatRow(cells []string, widths []int) string {
	var sb strings.Builder
	for i, cell := range cells {
		if i >= len(widths) {
			break
		}
		sb.WriteString(cell)
		sb.WriteString(strings.Repeat(" ", widths[i]-visibleLen(cell)+2))
	}
	return strings.TrimRight(sb.String(), " ")
}

var ansiCode = regexp.MustCompile(`\x1b\[[0-9;]*m`)

// visibleLen is the printed width of s, ignoring colour codes
func visibleLen(s string) int {
	return utf8.RuneCountInString(ansiCode.ReplaceAllString(s, ""))
}

// KeyValue prints a key-value pair
func (o *Output) KeyValue(key, value string) {
	fmt.Fprintf(o.w, "  %s: %s\n", o.color(ColorBold, key), value)
}

// Divider prints a visual divider
func (o *Output) Divider() {
	fmt.Fprintln(o.w, strings.Repeat("─", 60))
}
