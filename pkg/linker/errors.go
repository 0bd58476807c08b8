package linker

import (
	"fmt"
	"io"
	"os"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
)

// ColorMode selects when Diagnostics colors its human-readable output.
type ColorMode int

const (
	ColorAuto ColorMode = iota
	ColorAlways
	ColorNever
)

// Diagnostics is the process-wide error/warning sink. It carries both a
// structured logger (for machine-readable output, a *zap.Logger threaded
// in from the caller) and a plain io.Writer that the command-line tool
// actually shows a human.
type Diagnostics struct {
	Logger     *zap.Logger
	Out        io.Writer
	Color      ColorMode
	ErrorCount int
}

func NewDiagnostics(out io.Writer, logger *zap.Logger, color ColorMode) *Diagnostics {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Diagnostics{Logger: logger, Out: out, Color: color}
}

func (d *Diagnostics) useColor() bool {
	switch d.Color {
	case ColorAlways:
		return true
	case ColorNever:
		return false
	default:
		if f, ok := d.Out.(*os.File); ok {
			return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
		}
		return false
	}
}

func (d *Diagnostics) colorize(code, s string) string {
	if !d.useColor() {
		return s
	}
	return "\033[" + code + "m" + s + "\033[0m"
}

// Warn reports a non-fatal diagnostic. The link continues and ErrorCount
// is untouched.
func (d *Diagnostics) Warn(msg string) {
	d.Logger.Warn(msg)
	fmt.Fprintf(d.Out, "wld: %s %s\n", d.colorize("0;1;33", "warning:"), msg)
}

// Error reports a diagnostic that fails the link. The pipeline keeps
// running so further errors can be collected, but the Writer phases are
// skipped once ErrorCount > 0.
func (d *Diagnostics) Error(msg string) {
	d.ErrorCount++
	d.Logger.Error(msg)
	fmt.Fprintf(d.Out, "wld: %s %s\n", d.colorize("0;1;31", "error:"), msg)
}

// Errorf is Error with fmt.Sprintf-style formatting.
func (d *Diagnostics) Errorf(format string, args ...any) {
	d.Error(fmt.Sprintf(format, args...))
}

// Fatal reports a diagnostic and aborts the process immediately.
func (d *Diagnostics) Fatal(msg string) {
	d.Logger.Error(msg, zap.Bool("fatal", true))
	fmt.Fprintf(d.Out, "wld: %s %s\n", d.colorize("0;1;31", "fatal:"), msg)
	os.Exit(1)
}

// Fatalf is Fatal with fmt.Sprintf-style formatting.
func (d *Diagnostics) Fatalf(format string, args ...any) {
	d.Fatal(fmt.Sprintf(format, args...))
}

func errNotDataSymbol(name string) error {
	return fmt.Errorf("symbol %s: getGlobalAddress called on a non-data symbol", name)
}

// errLinkFailed is returned by SymbolTable.diagErr once one or more
// errors have been recorded; the message itself was already printed by
// Diagnostics.Error, so callers just need a non-nil sentinel to unwind.
var errLinkFailed = fmt.Errorf("wld: link failed, see errors above")
