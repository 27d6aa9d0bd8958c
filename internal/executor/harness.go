package executor

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"math"
)

// harnessSource is the trusted Python program every cell runs. It reads the
// snippet from stdin, applies rlimits, builds the restricted namespace from
// the allow-list and writes one completion report to stderr.
//
//go:embed harness.py
var harnessSource string

// Report kinds written by the harness.
const (
	reportOK     = "ok"
	reportError  = "error"
	reportMemory = "memory"
)

// maxReportSize caps how much of the stream after the report marker is kept.
const maxReportSize = 16 * 1024

type harnessConfig struct {
	Token       string   `json:"token"`
	Builtins    []string `json:"builtins"`
	Modules     []string `json:"modules"`
	MemoryLimit int64    `json:"memory_limit"`
	CPUSeconds  int      `json:"cpu_seconds"`
}

// report is the harness's account of how the snippet ended.
type report struct {
	Kind    string `json:"kind"`
	Type    string `json:"type"`
	Message string `json:"message"`
}

// harnessArgs returns the interpreter arguments for one cell.
//
// -I isolates the interpreter from PYTHON* variables and the user site,
// -S skips site.py, -u keeps stdout unbuffered so partial output survives a
// kill.
func harnessArgs(token string, allow *AllowList, limits Limits) ([]string, error) {
	cfg := harnessConfig{
		Token:       token,
		Builtins:    allow.Builtins(),
		Modules:     allow.Modules(),
		MemoryLimit: limits.MemoryLimit,
		CPUSeconds:  int(math.Ceil(limits.TimeLimit.Seconds())) + 1,
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		return nil, fmt.Errorf("encoding harness config: %w", err)
	}
	return []string{"-I", "-S", "-u", "-c", harnessSource, string(raw)}, nil
}

// reportMarker is the byte sequence that precedes the report on stderr.
func reportMarker(token string) []byte {
	return []byte("\x00cell-report:" + token + "\x00")
}

// parseReport decodes the first line after the marker.
func parseReport(raw []byte) (*report, bool) {
	for i, b := range raw {
		if b == '\n' {
			raw = raw[:i]
			break
		}
	}
	if len(raw) == 0 {
		return nil, false
	}
	var r report
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, false
	}
	switch r.Kind {
	case reportOK, reportError, reportMemory:
		return &r, true
	}
	return nil, false
}
