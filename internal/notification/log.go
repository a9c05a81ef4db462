package notification

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// LogEntry is one parsed line of the notification log.
type LogEntry struct {
	At      time.Time        `json:"at"`
	Type    NotificationType `json:"type"`
	TaskID  string           `json:"task_id,omitempty"`
	Channel string           `json:"channel,omitempty"`
	Title   string           `json:"title"`
	Message string           `json:"message"`
}

const logSep = " | "

// format renders e as
// "2026-01-16T10:30:00Z reminder task=abc channel=reminders | Title | Message".
func (e LogEntry) format() string {
	var head strings.Builder
	head.WriteString(e.At.UTC().Format(time.RFC3339))
	head.WriteString(" " + string(e.Type))
	if e.TaskID != "" {
		head.WriteString(" task=" + e.TaskID)
	}
	if e.Channel != "" {
		head.WriteString(" channel=" + e.Channel)
	}
	return head.String() + logSep + oneLine(e.Title) + logSep + oneLine(e.Message)
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// ParseLogLine parses a line written by the log channel.
func ParseLogLine(line string) (LogEntry, error) {
	parts := strings.SplitN(line, logSep, 3)
	if len(parts) != 3 {
		return LogEntry{}, fmt.Errorf("malformed notification log line: %q", line)
	}
	head := strings.Fields(parts[0])
	if len(head) < 2 {
		return LogEntry{}, fmt.Errorf("malformed notification log line: %q", line)
	}
	at, err := time.Parse(time.RFC3339, head[0])
	if err != nil {
		return LogEntry{}, fmt.Errorf("malformed notification timestamp: %w", err)
	}

	e := LogEntry{At: at, Type: NotificationType(head[1]), Title: parts[1], Message: parts[2]}
	for _, kv := range head[2:] {
		k, v, _ := strings.Cut(kv, "=")
		switch k {
		case "task":
			e.TaskID = v
		case "channel":
			e.Channel = v
		}
	}
	return e, nil
}

// logChannel appends one line per notification to a file, so reminders
// fired while nobody watched can be reviewed later.
type logChannel struct {
	config *LogNotificationConfig
	file   *os.File
	size   int64
	mu     sync.Mutex
}

// NewLogNotificationChannel creates the log file channel.
func NewLogNotificationChannel(cfg *LogNotificationConfig) NotificationChannel {
	return &logChannel{config: cfg}
}

func (c *logChannel) Name() string { return "log" }

func (c *logChannel) Send(n Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.open(); err != nil {
		return err
	}
	line := LogEntry{
		At:      n.Timestamp,
		Type:    n.Type,
		TaskID:  n.TaskID,
		Channel: n.Channel,
		Title:   n.Title,
		Message: n.Message,
	}.format() + "\n"

	written, err := c.file.WriteString(line)
	c.size += int64(written)
	if err != nil {
		return fmt.Errorf("failed to write notification: %w", err)
	}
	return c.file.Sync()
}

// open opens the log file, first rotating it to <path>.old once it has
// reached the size limit.
func (c *logChannel) open() error {
	limit := int64(c.config.MaxSizeMB) * 1024 * 1024
	if c.file != nil && (limit <= 0 || c.size < limit) {
		return nil
	}
	if c.file != nil {
		_ = c.file.Close()
		c.file = nil
	}

	if err := os.MkdirAll(filepath.Dir(c.config.Path), 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	if info, err := os.Stat(c.config.Path); err == nil && limit > 0 && info.Size() >= limit {
		if err := os.Rename(c.config.Path, c.config.Path+".old"); err != nil {
			return fmt.Errorf("failed to rotate log file: %w", err)
		}
	}

	file, err := os.OpenFile(c.config.Path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return err
	}
	c.file = file
	c.size = info.Size()
	return nil
}

func (c *logChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.file == nil {
		return nil
	}
	err := c.file.Close()
	c.file = nil
	return err
}

// ReadLog returns the entries of the log at path, oldest first. A missing
// file has no entries; unparsable lines are skipped.
func ReadLog(path string) ([]LogEntry, error) {
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer func() { _ = file.Close() }()

	var entries []LogEntry
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		if e, err := ParseLogLine(scanner.Text()); err == nil {
			entries = append(entries, e)
		}
	}
	return entries, scanner.Err()
}
