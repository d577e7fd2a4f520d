// Package logger prints tagged, colored status lines to stdout.
package logger

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"
)

const (
	reset  = "\033[0m"
	bold   = "\033[1m"
	dim    = "\033[2m"
	red    = "\033[31m"
	green  = "\033[32m"
	yellow = "\033[33m"
	cyan   = "\033[36m"
)

var (
	mu       sync.Mutex
	useColor = colorSupported()
)

// colorSupported disables ANSI colors for NO_COLOR and dumb terminals.
func colorSupported() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return os.Getenv("TERM") != "dumb"
}

func paint(color, s string) string {
	if !useColor {
		return s
	}
	return color + s + reset
}

func line(color, symbol, tag, msg string) {
	mu.Lock()
	defer mu.Unlock()
	ts := time.Now().Format("15:04:05")
	fmt.Fprintf(os.Stdout, "%s %s %s %s\n",
		paint(dim, ts),
		paint(color, symbol),
		paint(bold, fmt.Sprintf("[%s]", tag)),
		msg,
	)
}

// Info prints a neutral status line.
func Info(tag, msg string) { line(cyan, "•", tag, msg) }

// Success prints a completion line.
func Success(tag, msg string) { line(green, "✓", tag, msg) }

// Warn prints a warning line.
func Warn(tag, msg string) { line(yellow, "!", tag, msg) }

// Error prints an error line.
func Error(tag, msg string) { line(red, "✗", tag, msg) }

// Banner prints the startup banner.
func Banner(version string) {
	if version == "" {
		version = "dev"
	}
	mu.Lock()
	defer mu.Unlock()
	title := fmt.Sprintf(" EVE Arbitrage Scanner %s ", version)
	border := strings.Repeat("─", len([]rune(title)))
	fmt.Fprintln(os.Stdout, paint(cyan, "┌"+border+"┐"))
	fmt.Fprintln(os.Stdout, paint(cyan, "│")+paint(bold, title)+paint(cyan, "│"))
	fmt.Fprintln(os.Stdout, paint(cyan, "└"+border+"┘"))
}

// Section prints a section header.
func Section(title string) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stdout, "\n%s\n", paint(bold, "── "+title+" ──"))
}

// Stats prints an aligned key/value pair under a section.
func Stats(key string, value interface{}) {
	mu.Lock()
	defer mu.Unlock()
	fmt.Fprintf(os.Stdout, "   %-14s %v\n", key+":", value)
}

// Server prints the listen address.
func Server(addr string) {
	Success("Server", fmt.Sprintf("Listening on http://%s", addr))
}
