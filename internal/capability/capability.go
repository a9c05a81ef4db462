// Package capability detects optional platform features and negotiates the
// permissions the native scheduling capability needs.
package capability

import (
	"context"
	"os"
	"os/exec"
	"time"

	"tasknest/internal/utils"
)

// Capabilities holds presence booleans only.
type Capabilities struct {
	NativeScheduling bool `json:"native_scheduling"`
	Permissions      bool `json:"permissions"`
}

// Prober detects capabilities. The zero value probes the real system.
type Prober struct {
	// LookPath finds an executable. Defaults to exec.LookPath.
	LookPath func(file string) (string, error)
	// Run runs a command and reports whether it succeeded.
	Run func(ctx context.Context, name string, args ...string) error
	// Getenv reads the environment. Defaults to os.Getenv.
	Getenv func(key string) string
	// DisableNative forces the in-process fallback.
	DisableNative bool
}

const probeTimeout = 3 * time.Second

// Probe runs the default prober.
func Probe(ctx context.Context, disableNative bool) Capabilities {
	p := &Prober{DisableNative: disableNative}
	return p.Probe(ctx)
}

// Probe reports which capabilities are present. Native scheduling needs
// systemd-run and systemctl on PATH and a reachable user service manager.
// The permission subsystem is the desktop session bus.
func (p *Prober) Probe(ctx context.Context) Capabilities {
	lookPath := p.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	run := p.Run
	if run == nil {
		run = runCommand
	}
	getenv := p.Getenv
	if getenv == nil {
		getenv = os.Getenv
	}

	caps := Capabilities{
		Permissions: getenv("DBUS_SESSION_BUS_ADDRESS") != "",
	}

	if p.DisableNative {
		utils.Debugf("capability: native scheduling disabled by configuration")
		return caps
	}

	for _, bin := range []string{"systemd-run", "systemctl"} {
		if _, err := lookPath(bin); err != nil {
			utils.Debugf("capability: %s not found, using in-process timers", bin)
			return caps
		}
	}

	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	if err := run(ctx, "systemctl", "--user", "show-environment"); err != nil {
		utils.Debugf("capability: user service manager unreachable: %v", err)
		return caps
	}

	caps.NativeScheduling = true
	return caps
}

func runCommand(ctx context.Context, name string, args ...string) error {
	return exec.CommandContext(ctx, name, args...).Run()
}
