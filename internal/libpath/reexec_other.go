//go:build !(linux || darwin || freebsd || netbsd || openbsd)

package libpath

// reexec does nothing here. On Windows PATH is read when a library is loaded,
// so the value set by Apply already reaches this process.
func reexec() error {
	return nil
}
