package executor

import (
	"fmt"
	"slices"
	"strings"
)

// AllowList is the fixed set of names a snippet may use: builtin functions and
// exception types, plus modules it may import. It is built once at startup and
// shared read-only by every cell.
//
// NOT A SECURITY BOUNDARY:
// Restricting the global namespace does not stop Python code from reaching
// host capabilities through object introspection (attribute walks such as
// ().__class__.__base__.__subclasses__() need no builtin at all). Isolation is
// the job of the runtime: a host process switched to an unprivileged user
// under a syscall filter and rlimits, or a container with no network and a
// read-only root filesystem.
//
// DIFFERENCES FROM THE LEGACY ENDPOINT'S LIST:
// The in-process python-execute endpoint exposed getattr, setattr and
// hasattr. Those are on the denied list below and are left out of
// DefaultAllowList. __build_class__ is added so that class statements work.
type AllowList struct {
	builtins []string
	modules  []string
}

// deniedBuiltins grant filesystem, process, import, dynamic evaluation or
// reflective access. NewAllowList refuses them.
var deniedBuiltins = []string{
	"__import__", "breakpoint", "compile", "delattr", "eval", "exec", "exit",
	"getattr", "globals", "hasattr", "help", "input", "locals", "memoryview",
	"open", "quit", "setattr", "vars",
}

var deniedModules = []string{
	"builtins", "ctypes", "gc", "importlib", "inspect", "io", "multiprocessing",
	"os", "pathlib", "resource", "shutil", "signal", "socket", "subprocess",
	"sys", "threading",
}

// defaultBuiltins mirrors the playground's table minus the reflective helpers.
var defaultBuiltins = []string{
	"print", "len", "str", "int", "float", "bool", "list", "dict", "tuple",
	"set", "range", "enumerate", "zip", "map", "filter", "sorted", "sum",
	"min", "max", "abs", "round", "pow", "divmod", "isinstance", "type",
	"chr", "ord", "hex", "oct", "bin", "any", "all",
	"Exception", "ValueError", "TypeError", "IndexError", "KeyError",
	"AttributeError",
	"__build_class__",
}

var defaultModules = []string{"math"}

// NewAllowList validates and copies the given names.
func NewAllowList(builtins, modules []string) (*AllowList, error) {
	a := &AllowList{}
	for _, name := range builtins {
		name = strings.TrimSpace(name)
		if !isIdentifier(name) {
			return nil, fmt.Errorf("allowlist: invalid builtin name %q", name)
		}
		if slices.Contains(deniedBuiltins, name) {
			return nil, fmt.Errorf("allowlist: builtin %q is not allowed", name)
		}
		if !slices.Contains(a.builtins, name) {
			a.builtins = append(a.builtins, name)
		}
	}
	for _, name := range modules {
		name = strings.TrimSpace(name)
		root, _, _ := strings.Cut(name, ".")
		for _, part := range strings.Split(name, ".") {
			if !isIdentifier(part) {
				return nil, fmt.Errorf("allowlist: invalid module name %q", name)
			}
		}
		if slices.Contains(deniedModules, root) {
			return nil, fmt.Errorf("allowlist: module %q is not allowed", name)
		}
		if !slices.Contains(a.modules, name) {
			a.modules = append(a.modules, name)
		}
	}
	return a, nil
}

// DefaultAllowList returns the builtins and modules exposed when the
// configuration does not name any.
func DefaultAllowList() *AllowList {
	a, err := NewAllowList(defaultBuiltins, defaultModules)
	if err != nil {
		panic(err)
	}
	return a
}

// Builtins returns a copy of the allowed builtin names.
func (a *AllowList) Builtins() []string { return slices.Clone(a.builtins) }

// Modules returns a copy of the allowed module names.
func (a *AllowList) Modules() []string { return slices.Clone(a.modules) }

// Allows reports whether name is an allowed builtin or module.
func (a *AllowList) Allows(name string) bool {
	return slices.Contains(a.builtins, name) || slices.Contains(a.modules, name)
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}
