//go:build linux

package process

import (
	"fmt"
	"syscall"

	"github.com/prometheus/procfs"
)

// sysProcAttr puts the interpreter in its own process group and has the
// kernel kill it if the server dies first.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGKILL,
	}
}

// residentMemory reads the process's RSS from /proc/<pid>/stat.
func residentMemory(pid int) (int64, error) {
	p, err := procfs.NewProc(pid)
	if err != nil {
		return 0, fmt.Errorf("process: reading proc %d: %w", pid, err)
	}
	stat, err := p.Stat()
	if err != nil {
		return 0, fmt.Errorf("process: reading stat of %d: %w", pid, err)
	}
	return int64(stat.ResidentMemory()), nil
}
