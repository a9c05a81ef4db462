package capability

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"tasknest/internal/utils"
)

// Permission names a permission the native scheduling capability needs.
type Permission string

const (
	PostNotifications Permission = "post_notifications"
	ReadStorage       Permission = "read_storage"
	WriteStorage      Permission = "write_storage"
)

// Required lists the permissions checked at startup.
var Required = []Permission{PostNotifications, ReadStorage, WriteStorage}

// PermissionSystem is the platform permission subsystem.
type PermissionSystem interface {
	Check(ctx context.Context, p Permission) (bool, error)
	// Request asks for the given permissions and reports which were granted.
	Request(ctx context.Context, ps []Permission) (map[Permission]bool, error)
}

// Result describes one negotiation.
type Result struct {
	Missing []Permission
	Granted []Permission
	Denied  []Permission
}

// Negotiate checks every required permission concurrently and requests
// only the missing ones. It never fails: a nil permission system, a check
// error or a denied request all degrade to attempting to schedule anyway.
func Negotiate(ctx context.Context, ps PermissionSystem, required []Permission) Result {
	var res Result
	if ps == nil {
		utils.Debugf("capability: no permission subsystem, skipping negotiation")
		return res
	}

	present := make([]bool, len(required))
	g, gctx := errgroup.WithContext(ctx)
	for i, p := range required {
		g.Go(func() error {
			ok, err := ps.Check(gctx, p)
			if err != nil {
				utils.Debugf("capability: checking %s failed: %v", p, err)
				return nil
			}
			present[i] = ok
			return nil
		})
	}
	_ = g.Wait()

	for i, p := range required {
		if !present[i] {
			res.Missing = append(res.Missing, p)
		}
	}
	if len(res.Missing) == 0 {
		return res
	}

	granted, err := ps.Request(ctx, res.Missing)
	if err != nil {
		utils.Warnf("capability: permission request failed: %v", err)
	}
	for _, p := range res.Missing {
		if granted[p] {
			res.Granted = append(res.Granted, p)
		} else {
			res.Denied = append(res.Denied, p)
		}
	}

	if len(res.Granted) > 0 {
		utils.Infof("capability: permissions granted: %v", res.Granted)
	}
	if len(res.Denied) > 0 {
		utils.Warnf("capability: permissions denied: %v (reminders may not be delivered)", res.Denied)
	}
	return res
}

// DesktopPermissions maps permissions onto a Linux desktop session:
// notifications need notify-send, storage needs an accessible data
// directory.
type DesktopPermissions struct {
	DataDir  string
	LookPath func(file string) (string, error)

	mu sync.Mutex
}

var _ PermissionSystem = (*DesktopPermissions)(nil)

// NewDesktopPermissions creates the desktop permission subsystem.
func NewDesktopPermissions(dataDir string) *DesktopPermissions {
	return &DesktopPermissions{DataDir: dataDir, LookPath: exec.LookPath}
}

// Check implements PermissionSystem.
func (d *DesktopPermissions) Check(ctx context.Context, p Permission) (bool, error) {
	switch p {
	case PostNotifications:
		_, err := d.LookPath("notify-send")
		return err == nil, nil
	case ReadStorage:
		info, err := os.Stat(d.DataDir)
		if os.IsNotExist(err) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		return info.IsDir(), nil
	case WriteStorage:
		return d.writable()
	}
	return false, fmt.Errorf("unknown permission %q", p)
}

func (d *DesktopPermissions) writable() (bool, error) {
	f, err := os.CreateTemp(d.DataDir, ".probe-*")
	if os.IsNotExist(err) || os.IsPermission(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)
	return true, nil
}

// Request grants storage permissions by creating the data directory.
// Notification permission cannot be granted from here.
func (d *DesktopPermissions) Request(ctx context.Context, ps []Permission) (map[Permission]bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	granted := make(map[Permission]bool, len(ps))
	var mkdirErr error
	for _, p := range ps {
		switch p {
		case ReadStorage, WriteStorage:
			if mkdirErr == nil {
				mkdirErr = os.MkdirAll(filepath.Clean(d.DataDir), 0755)
			}
			if mkdirErr == nil {
				ok, _ := d.Check(ctx, p)
				granted[p] = ok
			}
		default:
			granted[p] = false
		}
	}
	return granted, mkdirErr
}
