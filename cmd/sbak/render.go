package main

import (
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/term"

	"sbak/internal/config"
	"sbak/internal/engine"
)

// Styles for console output.
var (
	styleOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("10")).Bold(true)
	stylePartial = lipgloss.NewStyle().Foreground(lipgloss.Color("11")).Bold(true)
	styleFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true)
	styleHost    = lipgloss.NewStyle().Bold(true)
	styleDim     = lipgloss.NewStyle().Faint(true)
)

// consoleReporter renders pass progress to stdout. On a terminal it
// keeps a single progress line updated in place; elsewhere it prints
// plain lines for pass boundaries and failures only.
type consoleReporter struct {
	mu       sync.Mutex
	enabled  bool
	showFile bool
	tty      bool
	pending  map[string]int
	done     map[string]int
	lineLen  int
}

var _ engine.Reporter = (*consoleReporter)(nil)

func newConsoleReporter(cfg config.ProgressConfig) *consoleReporter {
	return &consoleReporter{
		enabled:  cfg.Enabled,
		showFile: cfg.ShowCurrentFile,
		tty:      term.IsTerminal(int(os.Stdout.Fd())),
		pending:  make(map[string]int),
		done:     make(map[string]int),
	}
}

func (c *consoleReporter) PassStarted(host string, pending int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.pending[host] = pending
	c.done[host] = 0
	if pending > 0 {
		c.println(fmt.Sprintf("%s: %d file(s) to fetch", styleHost.Render(host), pending))
	}
}

func (c *consoleReporter) FileTransferred(host, path string, size int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.done[host]++
	c.progress(host, path)
}

func (c *consoleReporter) FileUnchanged(host, path string) {}

func (c *consoleReporter) FileFailed(host, path string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.done[host]++
	c.println(fmt.Sprintf("%s: %s %s: %v",
		styleHost.Render(host), styleFailed.Render("failed"), path, err))
}

func (c *consoleReporter) SnapshotCreated(host, name string) {}

func (c *consoleReporter) SnapshotPruned(host, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.println(styleDim.Render(fmt.Sprintf("%s: pruned snapshot %s", host, name)))
}

func (c *consoleReporter) PassFinished(host string, hr *engine.HostReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.println(hostSummary(hr))
}

// Summary prints the run totals after all hosts have finished, plus
// the listing errors that made the run fail.
func (c *consoleReporter) Summary(report *engine.RunReport) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.enabled {
		return
	}
	c.clearLine()

	t := report.Totals()
	fmt.Println(styleDim.Render(fmt.Sprintf(
		"%d host(s), %d fetched, %d unchanged, %d failed, %s in %s",
		len(report.Hosts), t.New+t.Modified, t.Unchanged, t.Failed,
		formatBytes(t.Bytes), formatDuration(report.FinishedAt.Sub(report.StartedAt)))))

	for _, hr := range report.Hosts {
		for _, le := range hr.ListErrors {
			fmt.Println(styleFailed.Render("  " + le.Error()))
		}
	}
}

// progress redraws the in-place progress line for host.
func (c *consoleReporter) progress(host, path string) {
	if !c.tty {
		return
	}
	line := fmt.Sprintf("%s: %d/%d", host, c.done[host], c.pending[host])
	if c.showFile {
		line += "  " + path
	}
	c.setLine(line)
}

// setLine rewrites the current terminal line. Only unstyled text goes
// through here; lineLen tracks what needs blanking next time.
func (c *consoleReporter) setLine(s string) {
	pad := ""
	if n := c.lineLen - len(s); n > 0 {
		pad = strings.Repeat(" ", n)
	}
	fmt.Printf("\r%s%s", s, pad)
	c.lineLen = len(s)
}

func (c *consoleReporter) clearLine() {
	if !c.tty || c.lineLen == 0 {
		return
	}
	fmt.Printf("\r%s\r", strings.Repeat(" ", c.lineLen))
	c.lineLen = 0
}

func (c *consoleReporter) println(s string) {
	c.clearLine()
	fmt.Println(s)
}

// hostSummary renders the one-line outcome of a host pass.
func hostSummary(hr *engine.HostReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s  %d new, %d modified, %d unchanged, %d deleted",
		renderStatus(hr.Status), styleHost.Render(hr.Host),
		hr.New, hr.Modified, hr.Unchanged, hr.Deleted)
	if hr.Failed > 0 {
		fmt.Fprintf(&b, ", %s", styleFailed.Render(fmt.Sprintf("%d failed", hr.Failed)))
	}
	fmt.Fprintf(&b, "  (%s in %s)", formatBytes(hr.Bytes), formatDuration(hr.Duration()))
	if hr.Snapshot != "" {
		fmt.Fprintf(&b, "  -> %s", hr.Snapshot)
	}
	if hr.Err != nil {
		fmt.Fprintf(&b, "  %s", styleFailed.Render(hr.Err.Error()))
	}
	return b.String()
}

// renderStatus colors a pass status.
func renderStatus(s engine.HostStatus) string {
	switch s {
	case engine.StatusSuccess:
		return styleOK.Render("ok")
	case engine.StatusPartial:
		return stylePartial.Render("partial")
	default:
		return styleFailed.Render("failed")
	}
}

func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(bytes)/float64(div), "KMGTPE"[exp])
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return d.Truncate(time.Second).String()
}
