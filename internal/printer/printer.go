// Package printer writes human-facing CLI output. Colors are dropped when
// the destination is not a terminal.
package printer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hay-kot/criterio"
	"golang.org/x/term"
)

// ANSI color codes (Tokyo Night palette)
const (
	ColorReset     = "\033[0m"
	ColorRed       = "\033[38;2;215;95;107m"  // #d75f6b
	ColorGreen     = "\033[38;2;158;206;106m" // #9ece6a
	ColorYellow    = "\033[38;2;224;175;104m" // #e0af68
	ColorGray      = "\033[38;2;86;95;137m"   // #565f89
	ColorBold      = "\033[1m"
	ColorUnderline = "\033[4m"
)

// Symbols
const (
	Check = "✔"
	Cross = "✘"
	Dot   = "•"
)

type ctxKey struct{}

// Printer handles formatted output with colors and styles
type Printer struct {
	writer io.Writer
	color  bool
}

// New creates a Printer writing to w. Color is enabled only when w is a
// terminal.
func New(w io.Writer) *Printer {
	color := false
	if f, ok := w.(*os.File); ok {
		color = term.IsTerminal(int(f.Fd()))
	}
	return &Printer{writer: w, color: color}
}

// NewContext returns a context with the printer attached
func NewContext(ctx context.Context, p *Printer) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

// Ctx retrieves the printer from context, or creates a default one
func Ctx(ctx context.Context) *Printer {
	if p, ok := ctx.Value(ctxKey{}).(*Printer); ok {
		return p
	}
	return New(os.Stderr)
}

// FatalError prints a formatted error box and does NOT exit
// Caller should handle exit code
func (p *Printer) FatalError(err error) {
	if err == nil {
		return
	}

	var fieldErrs criterio.FieldErrors
	if errors.As(err, &fieldErrs) {
		p.printValidationErrors(err, fieldErrs)
		return
	}

	p.writeLines(
		p.colorize(ColorRed, "╭ Error"),
		p.colorize(ColorRed, "│")+" "+p.colorize(ColorGray, err.Error()),
		p.colorize(ColorRed, "╵"),
	)
}

// printValidationErrors renders field errors under the message that wrapped
// them, e.g. "load config: invalid config".
func (p *Printer) printValidationErrors(wrapped error, fieldErrs criterio.FieldErrors) {
	errStr := wrapped.Error()
	fieldErrStr := fieldErrs.Error()

	lines := []string{p.colorize(ColorRed, "╭ Validation Error")}

	if idx := strings.Index(errStr, fieldErrStr); idx > 0 {
		prefix := strings.TrimSuffix(errStr[:idx], ": ")
		lines = append(lines,
			p.colorize(ColorRed, "│")+" "+p.colorize(ColorGray, prefix),
			p.colorize(ColorRed, "│"),
		)
	}

	for _, fe := range fieldErrs {
		line := p.colorize(ColorRed, "│") + " " + p.colorize(ColorRed, Cross) + " "
		if fe.Field != "" {
			line += p.colorize(ColorGray, fe.Field+": ")
		}
		lines = append(lines, line+fe.Err.Error())
	}

	lines = append(lines, p.colorize(ColorRed, "╵"))
	p.writeLines(lines...)
}

// Errorf prints an error message in red
func (p *Printer) Errorf(format string, args ...any) {
	p.writeLines(p.colorize(ColorRed, Cross+" "+fmt.Sprintf(format, args...)))
}

// Successf prints a success message in green
func (p *Printer) Successf(format string, args ...any) {
	p.writeLines(p.colorize(ColorGreen, Check+" "+fmt.Sprintf(format, args...)))
}

// Infof prints an info message in gray
func (p *Printer) Infof(format string, args ...any) {
	p.writeLines(p.colorize(ColorGray, Dot+" "+fmt.Sprintf(format, args...)))
}

// Warnf prints a warning message in yellow
func (p *Printer) Warnf(format string, args ...any) {
	p.writeLines(p.colorize(ColorYellow, Dot+" "+fmt.Sprintf(format, args...)))
}

// Printf prints a plain message without colors
func (p *Printer) Printf(format string, args ...any) {
	p.writeLines(fmt.Sprintf(format, args...))
}

// KeyValue prints an aligned "label: value" line.
func (p *Printer) KeyValue(label string, value any) {
	p.writeLines(fmt.Sprintf("  %s %v", p.colorize(ColorGray, fmt.Sprintf("%-12s", label+":")), value))
}

// Section prints a section header (bold + underlined)
func (p *Printer) Section(title string) {
	p.writeLines(p.colorize(ColorBold+ColorUnderline, title))
}

// CheckItem prints a success item with green checkmark
func (p *Printer) CheckItem(label, detail string) {
	p.printItem(ColorGreen, Check, label, detail)
}

// WarnItem prints a warning item with yellow dot
func (p *Printer) WarnItem(label, detail string) {
	p.printItem(ColorYellow, Dot, label, detail)
}

// FailItem prints a failure item with red cross
func (p *Printer) FailItem(label, detail string) {
	p.printItem(ColorRed, Cross, label, detail)
}

func (p *Printer) printItem(color, symbol, label, detail string) {
	line := "  " + p.colorize(color, symbol) + " " + label
	if detail != "" {
		line += ": " + detail
	}
	p.writeLines(line)
}

func (p *Printer) colorize(color, text string) string {
	if !p.color {
		return text
	}
	return color + text + ColorReset
}

func (p *Printer) writeLines(lines ...string) {
	_, _ = io.WriteString(p.writer, strings.Join(lines, "\n")+"\n")
}
