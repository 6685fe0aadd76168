//go:build linux || darwin || freebsd || netbsd || openbsd

package libpath

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/SimplyPrint/gpsh/internal/logging"
)

// execve replaces the running process; it only returns on failure.
var execve = unix.Exec

// reexec restarts the current executable with the same arguments and the
// current environment plus MarkerVar.
func reexec() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	if err := os.Setenv(MarkerVar, "1"); err != nil {
		return fmt.Errorf("failed to set %s: %w", MarkerVar, err)
	}

	logging.Info(logging.CatSystem, "Restarting with updated library path", map[string]any{
		"executable": exe,
		"var":        EnvVar(),
	})
	if err := execve(exe, os.Args, os.Environ()); err != nil {
		return fmt.Errorf("failed to exec %s: %w", exe, err)
	}
	return nil
}
