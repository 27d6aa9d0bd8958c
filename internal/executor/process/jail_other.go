//go:build unix && !linux

package process

// restrictSyscalls has no filter to load outside Linux; cells there rely on
// the dropped credentials and the harness rlimits.
func restrictSyscalls() error { return nil }

func rearmDeathSignal() error { return nil }
