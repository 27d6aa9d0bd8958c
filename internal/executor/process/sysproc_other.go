//go:build unix && !linux

package process

import (
	"syscall"

	"github.com/sakif/code-sandbox/internal/executor"
)

func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{Setpgid: true}
}

// residentMemory is not sampled without procfs; the harness's RLIMIT_AS
// still applies.
func residentMemory(int) (int64, error) {
	return 0, executor.ErrMemoryUnsupported
}
