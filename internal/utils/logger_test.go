package utils

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

// TestGetLogger verifies the singleton.
func TestGetLogger(t *testing.T) {
	if GetLogger() != GetLogger() {
		t.Error("GetLogger should return the same instance")
	}
}

// TestDebugOnlyShownWhenVerbose verifies debug output is gated on verbose mode.
func TestDebugOnlyShownWhenVerbose(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Debug("hidden %d", 1)
	if buf.Len() != 0 {
		t.Errorf("debug output should be hidden when not verbose, got %q", buf.String())
	}

	l.SetVerbose(true)
	if !l.IsVerbose() {
		t.Fatal("IsVerbose should be true after SetVerbose(true)")
	}
	l.Debug("shown %d", 2)
	if !strings.Contains(buf.String(), "shown 2") || !strings.Contains(buf.String(), "level=DEBUG") {
		t.Errorf("expected debug record, got %q", buf.String())
	}
}

// TestLevels verifies info, warn and error are always shown with their level.
func TestLevels(t *testing.T) {
	var buf bytes.Buffer
	l := NewLogger(&buf)

	l.Info("info message")
	l.Warn("warn %s", "message")
	l.Error("error message")

	out := buf.String()
	for _, want := range []string{"level=INFO", "info message", "level=WARN", "warn message", "level=ERROR", "error message"} {
		if !strings.Contains(out, want) {
			t.Errorf("output should contain %q, got %q", want, out)
		}
	}
}

// TestLoggerThreadSafety exercises concurrent writes and mode flips.
func TestLoggerThreadSafety(t *testing.T) {
	var mu sync.Mutex
	var buf bytes.Buffer
	l := NewLogger(&lockedWriter{mu: &mu, w: &buf})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			l.SetVerbose(i%2 == 0)
			l.Info("message %d", i)
		}(i)
	}
	wg.Wait()
}

type lockedWriter struct {
	mu *sync.Mutex
	w  *bytes.Buffer
}

func (lw *lockedWriter) Write(p []byte) (int, error) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	return lw.w.Write(p)
}

// TestBackgroundLoggerWritesMessages verifies file logging.
func TestBackgroundLoggerWritesMessages(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "daemon.log")
	bl, err := NewBackgroundLogger(path, true)
	if err != nil {
		t.Fatalf("NewBackgroundLogger error: %v", err)
	}
	if !bl.IsEnabled() {
		t.Fatal("expected logger to be enabled")
	}

	bl.Printf("armed %d reminders", 3)
	bl.Close()

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(data), "armed 3 reminders") {
		t.Errorf("log file should contain message, got %q", string(data))
	}
	if bl.IsEnabled() {
		t.Error("logger should be disabled after Close")
	}
}

// TestBackgroundLoggerDisabled verifies graceful degradation.
func TestBackgroundLoggerDisabled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "daemon.log")
	bl, err := NewBackgroundLogger(path, false)
	if err != nil {
		t.Fatalf("NewBackgroundLogger error: %v", err)
	}
	bl.Printf("ignored")
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("disabled logger should not create a file")
	}
	if bl.GetLogPath() != path {
		t.Errorf("GetLogPath() = %q, want %q", bl.GetLogPath(), path)
	}
}
