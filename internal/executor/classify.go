package executor

import (
	"fmt"
	"time"
)

// outcome is everything the watchdog learned about one run.
type outcome struct {
	timedOut    bool // deadline fired, or the memory ceiling was crossed at/after it
	memExceeded bool // the watchdog saw resident memory above the ceiling
	cancelled   bool // the caller's context ended first
	report      *report
	exit        ExitState
}

// verdict is the classified result of an outcome.
type verdict struct {
	status  Status
	errType string
	message string
}

// classify maps an outcome to a terminal status.
//
// PRECEDENCE:
//
//	TimedOut > MemoryExceeded > Killed > RuntimeFailed > Completed
//
// A run can trip more than one condition (a snippet allocating in a loop can
// cross the memory ceiling in the same tick its deadline fires). The first
// matching line wins.
func classify(o outcome, limits Limits) verdict {
	switch {
	case o.timedOut || o.exit.Signal == "SIGXCPU":
		return verdict{
			status:  StatusTimedOut,
			message: fmt.Sprintf("execution exceeded time limit of %s", limits.TimeLimit.Round(time.Millisecond)),
		}

	case o.memExceeded || o.exit.OOMKilled || (o.report != nil && o.report.Kind == reportMemory):
		return verdict{
			status:  StatusMemoryExceeded,
			errType: "MemoryError",
			message: fmt.Sprintf("execution exceeded memory limit of %d bytes", limits.MemoryLimit),
		}

	case o.cancelled:
		return verdict{status: StatusKilled, message: "execution was cancelled"}

	case o.report != nil && o.report.Kind == reportError:
		return verdict{status: StatusRuntimeFailed, errType: o.report.Type, message: o.report.Message}

	case o.report == nil || o.exit.Code != 0 || o.exit.Signal != "":
		return verdict{status: StatusRuntimeFailed, message: describeExit(o.exit)}
	}
	return verdict{status: StatusCompleted}
}

func describeExit(e ExitState) string {
	if e.Signal != "" {
		return "process terminated by signal " + e.Signal
	}
	return fmt.Sprintf("process exited with code %d", e.Code)
}
