package alarm

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"
)

// commandSpecs lists supported audio commands in order of preference.
var commandSpecs = []struct {
	name string
	args []string
}{
	{"paplay", nil},
	{"ffplay", []string{"-nodisp", "-autoexit", "-loglevel", "quiet"}},
	{"aplay", []string{"-q"}},
}

// CommandPlayer plays sounds with an external audio command.
type CommandPlayer struct {
	Path string
	Args []string
}

// NewPlayer returns a CommandPlayer for the named command, the first
// supported command found on PATH when name is empty, or a BellPlayer when
// no audio command is available.
func NewPlayer(name string) Player {
	for _, spec := range commandSpecs {
		if name != "" && spec.name != name {
			continue
		}
		if path, err := exec.LookPath(spec.name); err == nil {
			return &CommandPlayer{Path: path, Args: spec.args}
		}
	}
	return NewBellPlayer(os.Stderr)
}

// Play implements Player.
func (p *CommandPlayer) Play(locator string) (Playback, error) {
	if _, err := os.Stat(locator); err != nil {
		return nil, fmt.Errorf("sound not available: %w", err)
	}

	cmd := exec.Command(p.Path, append(append([]string{}, p.Args...), locator)...)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", p.Path, err)
	}

	pb := &processPlayback{cmd: cmd, done: make(chan struct{})}
	go func() {
		_ = cmd.Wait()
		close(pb.done)
	}()
	return pb, nil
}

type processPlayback struct {
	cmd  *exec.Cmd
	done chan struct{}
}

// Stop kills the player process if it is still running.
func (p *processPlayback) Stop() error {
	select {
	case <-p.done:
		return nil
	default:
	}
	if err := p.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return err
	}
	<-p.done
	return nil
}

// BellPlayer rings the terminal bell once a second. It is the fallback
// when no audio command is installed.
type BellPlayer struct {
	out      io.Writer
	interval time.Duration
}

// NewBellPlayer creates a bell player writing to out.
func NewBellPlayer(out io.Writer) *BellPlayer {
	return &BellPlayer{out: out, interval: time.Second}
}

// Play implements Player. The locator is ignored.
func (b *BellPlayer) Play(locator string) (Playback, error) {
	if _, err := io.WriteString(b.out, "\a"); err != nil {
		return nil, err
	}

	pb := &bellPlayback{stop: make(chan struct{}), done: make(chan struct{})}
	ticker := time.NewTicker(b.interval)
	go func() {
		defer close(pb.done)
		defer ticker.Stop()
		for {
			select {
			case <-pb.stop:
				return
			case <-ticker.C:
				_, _ = io.WriteString(b.out, "\a")
			}
		}
	}()
	return pb, nil
}

type bellPlayback struct {
	once sync.Once
	stop chan struct{}
	done chan struct{}
}

func (p *bellPlayback) Stop() error {
	p.once.Do(func() { close(p.stop) })
	<-p.done
	return nil
}
