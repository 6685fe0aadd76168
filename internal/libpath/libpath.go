// Package libpath prepares the native library search path from a local
// support-library directory and a build output directory. It runs once at
// startup, before any PC/SC context is established.
package libpath

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/SimplyPrint/gpsh/internal/logging"
)

// EnvVar returns the variable the platform's dynamic loader reads.
func EnvVar() string {
	switch runtime.GOOS {
	case "darwin":
		return "DYLD_LIBRARY_PATH"
	case "windows":
		return "PATH"
	default:
		return "LD_LIBRARY_PATH"
	}
}

// Resolve lists every entry of libDir (in directory order) followed by
// buildDir. Directories that do not exist are skipped.
func Resolve(libDir, buildDir string) ([]string, error) {
	var entries []string

	if libDir != "" {
		items, err := os.ReadDir(libDir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logging.Debug(logging.CatSystem, "Library directory not found, skipping", map[string]any{
				"dir": libDir,
			})
		case err != nil:
			return nil, fmt.Errorf("failed to read library directory %s: %w", libDir, err)
		default:
			for _, item := range items {
				entries = append(entries, filepath.Join(libDir, item.Name()))
			}
		}
	}

	if buildDir != "" {
		info, err := os.Stat(buildDir)
		switch {
		case errors.Is(err, os.ErrNotExist):
			logging.Debug(logging.CatSystem, "Build directory not found, skipping", map[string]any{
				"dir": buildDir,
			})
		case err != nil:
			return nil, fmt.Errorf("failed to stat build directory %s: %w", buildDir, err)
		case !info.IsDir():
			return nil, fmt.Errorf("build directory %s is not a directory", buildDir)
		default:
			entries = append(entries, buildDir)
		}
	}

	return entries, nil
}

// SearchDirs reduces resolved entries to the distinct directories that hold
// them, keeping first-seen order.
func SearchDirs(entries []string) []string {
	seen := make(map[string]bool)
	var dirs []string
	for _, e := range entries {
		dir := e
		if info, err := os.Stat(e); err != nil || !info.IsDir() {
			dir = filepath.Dir(e)
		}
		abs, err := filepath.Abs(dir)
		if err == nil {
			dir = abs
		}
		if !seen[dir] {
			seen[dir] = true
			dirs = append(dirs, dir)
		}
	}
	return dirs
}

// Apply prepends dirs to the loader search path variable and returns the
// new value. Existing entries are kept after the new ones.
func Apply(dirs []string) (string, error) {
	if len(dirs) == 0 {
		return os.Getenv(EnvVar()), nil
	}

	parts := append([]string{}, dirs...)
	if current := os.Getenv(EnvVar()); current != "" {
		parts = append(parts, strings.Split(current, string(os.PathListSeparator))...)
	}
	value := strings.Join(parts, string(os.PathListSeparator))

	if err := os.Setenv(EnvVar(), value); err != nil {
		return "", fmt.Errorf("failed to set %s: %w", EnvVar(), err)
	}

	logging.Info(logging.CatSystem, "Library search path updated", map[string]any{
		"var":  EnvVar(),
		"dirs": dirs,
	})
	return value, nil
}

// MarkerVar is set in the environment of a process that was restarted with
// the updated search path. Such a process is never restarted again.
const MarkerVar = "GPSH_LIBPATH_APPLIED"

// Bootstrap resolves libDir and buildDir, applies the result and returns the
// resolved entries with the effective search path value.
//
// The dynamic loader reads its search path once, when the process starts.
// Where the platform allows it, a changed value makes the process replace
// itself with a fresh copy that starts with the new environment.
func Bootstrap(libDir, buildDir string) ([]string, string, error) {
	entries, err := Resolve(libDir, buildDir)
	if err != nil {
		return nil, "", err
	}

	dirs := SearchDirs(entries)
	current := os.Getenv(EnvVar())
	if os.Getenv(MarkerVar) != "" || onPath(current, dirs) {
		logging.Debug(logging.CatSystem, "Library search path already in effect", map[string]any{
			"var":   EnvVar(),
			"value": current,
		})
		return entries, current, nil
	}

	value, err := Apply(dirs)
	if err != nil {
		return nil, "", err
	}
	if err := reexec(); err != nil {
		logging.Warn(logging.CatSystem, "Restart with updated library path failed, libraries already loaded keep the old path", map[string]any{
			"var":   EnvVar(),
			"error": err.Error(),
		})
	}
	return entries, value, nil
}

// onPath reports whether value already starts with dirs, in order.
func onPath(value string, dirs []string) bool {
	if len(dirs) == 0 {
		return true
	}
	parts := strings.Split(value, string(os.PathListSeparator))
	if len(parts) < len(dirs) {
		return false
	}
	for i, dir := range dirs {
		if parts[i] != dir {
			return false
		}
	}
	return true
}
