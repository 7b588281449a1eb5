package main

import (
	"os"

	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
)

// out is the CLI's color output, grounded on the teacher's
// termenv.NewOutput(os.Stdout) idiom (internal/cmd/term_colors.go),
// degrading to plain text automatically when stdout isn't a terminal
// (piped into a file, captured by a script).
var out = termenv.NewOutput(os.Stdout)

func colorsEnabled() bool {
	return isatty.IsTerminal(os.Stdout.Fd())
}

func statusGlyph(status string) string {
	if !colorsEnabled() {
		return "*"
	}
	switch status {
	case "connected", "active":
		return out.String("●").Foreground(termenv.ANSIGreen).String()
	case "idle":
		return out.String("○").Foreground(termenv.ANSIYellow).String()
	case "disconnected", "closed":
		return out.String("●").Foreground(termenv.ANSIRed).String()
	default:
		return out.String("○").Foreground(termenv.ANSIWhite).String()
	}
}

func dim(s string) string {
	if !colorsEnabled() {
		return s
	}
	return out.String(s).Faint().String()
}

func bold(s string) string {
	if !colorsEnabled() {
		return s
	}
	return out.String(s).Bold().String()
}
