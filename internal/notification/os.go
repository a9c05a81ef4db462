package notification

import (
	"fmt"
	"runtime"
	"strings"
)

// osChannel hands notifications to the desktop: notify-send on Linux,
// osascript on macOS.
type osChannel struct {
	config       *OSNotificationConfig
	executor     CommandExecutor
	platform     string
	sendCallback func(Notification)
}

// NewOSNotificationChannel creates the desktop notification channel.
func NewOSNotificationChannel(cfg *OSNotificationConfig, opts ...Option) NotificationChannel {
	o := collect(opts)
	ch := &osChannel{
		config:       cfg,
		executor:     o.executor,
		platform:     o.platform,
		sendCallback: o.sendCallback,
	}
	if ch.executor == nil {
		ch.executor = NewCommandExecutor()
	}
	if ch.platform == "" {
		ch.platform = runtime.GOOS
	}
	return ch
}

func (c *osChannel) Name() string { return "os" }

func (c *osChannel) Send(n Notification) error {
	switch n.Type {
	case NotifyReminder:
		if !c.config.OnReminder {
			return nil
		}
	case NotifyUpdateRequired:
		if !c.config.OnUpdateRequired {
			return nil
		}
	}
	if c.sendCallback != nil {
		c.sendCallback(n)
	}

	switch c.platform {
	case "linux":
		args := []string{"--app-name=tasknest"}
		if c.config.Urgency != "" {
			args = append(args, "--urgency="+c.config.Urgency)
		}
		if n.Channel != "" {
			args = append(args, "--category="+n.Channel)
		}
		return c.executor.Execute("notify-send", append(args, n.Title, n.Message)...)
	case "darwin":
		script := fmt.Sprintf(`display notification "%s" with title "%s"`,
			appleScriptQuote(n.Message), appleScriptQuote(n.Title))
		return c.executor.Execute("osascript", "-e", script)
	default:
		return fmt.Errorf("unsupported platform: %s", c.platform)
	}
}

func (c *osChannel) Close() error { return nil }

var appleScriptEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func appleScriptQuote(s string) string {
	return appleScriptEscaper.Replace(s)
}
