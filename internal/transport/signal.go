package transport

import (
	"os/exec"
	"syscall"
)

func terminateSignal(cmd *exec.Cmd) error {
	return cmd.Process.Signal(syscall.SIGTERM)
}
