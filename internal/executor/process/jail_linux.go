//go:build linux

package process

import (
	"fmt"

	"github.com/elastic/go-seccomp-bpf"
	"golang.org/x/sys/unix"
)

// deniedSyscalls fail with EPERM inside a cell. The list covers the network,
// filesystem mutation, process control outside the cell and kernel
// administration; plain reads stay allowed because the interpreter's import
// system needs them. Names the native architecture lacks are skipped.
var deniedSyscalls = []string{
	// network
	"socket", "socketpair", "connect", "bind", "listen", "accept", "accept4",
	"sendto", "sendmsg", "sendmmsg",

	// filesystem mutation
	"unlink", "unlinkat", "rmdir", "rename", "renameat", "renameat2",
	"link", "linkat", "symlink", "symlinkat", "mkdir", "mkdirat", "mknod", "mknodat",
	"chmod", "fchmod", "fchmodat", "chown", "fchown", "lchown", "fchownat",
	"truncate", "utime", "utimes", "utimensat", "futimesat",

	// other processes and credentials
	"kill", "ptrace", "process_vm_readv", "process_vm_writev",
	"setuid", "setgid", "setreuid", "setregid", "setresuid", "setresgid", "setgroups",

	// kernel administration
	"mount", "umount2", "pivot_root", "chroot", "unshare", "setns",
	"reboot", "swapon", "swapoff", "kexec_load", "init_module", "finit_module",
	"delete_module", "bpf", "perf_event_open", "keyctl", "add_key", "request_key",
	"personality", "acct", "quotactl",
}

// restrictSyscalls sets no_new_privs and loads the deny filter on every
// thread. A kernel without seccomp fails the cell instead of running it
// unfiltered.
func restrictSyscalls() error {
	filter := seccomp.Filter{
		NoNewPrivs: true,
		Flag:       seccomp.FilterFlagTSync,
		Policy:     denyPolicy(knownSyscalls(deniedSyscalls)),
	}
	if err := seccomp.LoadFilter(filter); err != nil {
		return fmt.Errorf("loading syscall filter: %w", err)
	}
	return nil
}

func denyPolicy(names []string) seccomp.Policy {
	return seccomp.Policy{
		DefaultAction: seccomp.ActionAllow,
		Syscalls: []seccomp.SyscallGroup{
			{Action: seccomp.ActionErrno, Names: names},
		},
	}
}

// knownSyscalls keeps the names the native architecture defines; arm64 has
// no unlink or rename, for instance.
func knownSyscalls(names []string) []string {
	known := make([]string, 0, len(names))
	for _, name := range names {
		policy := denyPolicy([]string{name})
		if _, err := policy.Assemble(); err == nil {
			known = append(known, name)
		}
	}
	return known
}

func rearmDeathSignal() error {
	if err := unix.Prctl(unix.PR_SET_PDEATHSIG, uintptr(unix.SIGKILL), 0, 0, 0); err != nil {
		return fmt.Errorf("arming parent-death signal: %w", err)
	}
	return nil
}
