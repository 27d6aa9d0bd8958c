//go:build unix

package process

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"strconv"
	"syscall"

	"golang.org/x/sys/unix"
)

// jailCommand is argv[1] of a server binary re-executed as a cell jail.
const jailCommand = "sandbox-cell-jail"

// jailFailedCode is the exit code of a jail that could not set itself up.
// The cell reports it as a runtime failure.
const jailFailedCode = 126

// Jail turns the current process into a cell jail when it was started as one
// and never returns in that case. It must run first in main, and in TestMain
// of any test binary that launches process cells.
//
// The jail is started by Launch with
//
//	<self> sandbox-cell-jail <uid> <gid> <interpreter> [args...]
//
// It switches to uid/gid (-1 keeps the current ids), installs the syscall
// filter and execs the interpreter in place, so the pid, the process group
// and the pipes all carry over to the snippet.
func Jail() {
	if len(os.Args) < 2 || os.Args[1] != jailCommand {
		return
	}
	if err := runJail(os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, "cell jail:", err)
		os.Exit(jailFailedCode)
	}
}

func jailArgs(uid, gid int, interpreter string, args []string) []string {
	out := make([]string, 0, len(args)+4)
	out = append(out, jailCommand, strconv.Itoa(uid), strconv.Itoa(gid), interpreter)
	return append(out, args...)
}

func runJail(args []string) error {
	if len(args) < 3 {
		return errors.New("usage: uid gid interpreter [args...]")
	}
	uid, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("bad uid %q: %w", args[0], err)
	}
	gid, err := strconv.Atoi(args[1])
	if err != nil {
		return fmt.Errorf("bad gid %q: %w", args[1], err)
	}
	interpreter := args[2]

	// exec replaces the process with the credentials and filter of this thread.
	runtime.LockOSThread()

	if uid >= 0 {
		if err := dropPrivileges(uid, gid); err != nil {
			return err
		}
	}
	if err := restrictSyscalls(); err != nil {
		return err
	}

	argv := append([]string{interpreter}, args[3:]...)
	if err := unix.Exec(interpreter, argv, os.Environ()); err != nil {
		return fmt.Errorf("exec %s: %w", interpreter, err)
	}
	return nil
}

// dropPrivileges switches every thread to uid/gid with no supplementary
// groups. The kernel clears the parent-death signal on a credential change,
// so it is armed again.
func dropPrivileges(uid, gid int) error {
	if err := syscall.Setgroups(nil); err != nil {
		return fmt.Errorf("setgroups: %w", err)
	}
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("setgid %d: %w", gid, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("setuid %d: %w", uid, err)
	}
	if os.Geteuid() != uid || os.Getegid() != gid {
		return fmt.Errorf("still running as %d:%d after switching to %d:%d", os.Geteuid(), os.Getegid(), uid, gid)
	}
	return rearmDeathSignal()
}
