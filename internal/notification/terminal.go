package notification

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// terminalChannel prints a banner to a terminal, for a daemon run in the
// foreground.
type terminalChannel struct {
	mu    sync.Mutex
	out   io.Writer
	title lipgloss.Style
	box   lipgloss.Style
}

// NewTerminalChannel creates a banner channel writing to out (stdout when nil).
func NewTerminalChannel(cfg *TerminalConfig, out io.Writer) NotificationChannel {
	if out == nil {
		out = os.Stdout
	}
	accent := cfg.AccentColor
	if accent == "" {
		accent = "#ee9d2b"
	}
	color := lipgloss.Color(accent)
	return &terminalChannel{
		out:   out,
		title: lipgloss.NewStyle().Bold(true).Foreground(color),
		box: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(color).
			Padding(0, 1),
	}
}

func (c *terminalChannel) Name() string { return "terminal" }

// Send prints the banner.
func (c *terminalChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	header := c.title.Render(n.Title)
	if !n.Timestamp.IsZero() {
		header += " " + n.Timestamp.Local().Format("15:04")
	}
	body := lipgloss.JoinVertical(lipgloss.Left, header, n.Message)
	_, err := fmt.Fprintln(c.out, c.box.Render(body))
	return err
}

func (c *terminalChannel) Close() error {
	return nil
}
