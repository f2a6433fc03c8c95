package daemon

import (
	"fmt"
	"os"
)

// writePidFile records the daemon's pid at path.
func writePidFile(path string) error {
	return os.WriteFile(path, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o644)
}

// removePidFile deletes the pid file, best-effort.
func removePidFile(path string) {
	os.Remove(path)
}
