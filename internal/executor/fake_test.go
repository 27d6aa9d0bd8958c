package executor_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/sakif/code-sandbox/internal/executor"
)

// fakeBehavior scripts what a fake process does once launched.
type fakeBehavior struct {
	stdout     string
	stderr     string
	report     string             // report JSON; empty means the process writes none
	exit       executor.ExitState // exit state on a clean exit
	runFor     time.Duration      // how long before it exits on its own; <0 runs until killed
	ignoreKill bool               // Wait never returns, even after Kill
	rss        func() (int64, error)
}

// fakeRuntime launches fakeProcesses that follow behavior.
type fakeRuntime struct {
	mu        sync.Mutex
	behavior  fakeBehavior
	launchErr error
	launches  int
	procs     []*fakeProcess
	closed    bool
}

func (r *fakeRuntime) Launch(ctx context.Context, spec executor.LaunchSpec) (executor.Process, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.launchErr != nil {
		return nil, r.launchErr
	}
	r.launches++

	b := r.behavior
	io.WriteString(spec.Stdout, b.stdout)
	io.WriteString(spec.Stderr, b.stderr)

	p := &fakeProcess{behavior: b, spec: spec, killed: make(chan struct{})}
	if b.report != "" {
		p.reportLine = fmt.Sprintf("\x00cell-report:%s\x00%s\n", tokenOf(spec), b.report)
	}
	r.procs = append(r.procs, p)
	return p, nil
}

func (r *fakeRuntime) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeRuntime) Launches() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.launches
}

func (r *fakeRuntime) Procs() []*fakeProcess {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*fakeProcess(nil), r.procs...)
}

type fakeProcess struct {
	behavior   fakeBehavior
	spec       executor.LaunchSpec
	reportLine string
	killed     chan struct{}
	killOnce   sync.Once
}

func (p *fakeProcess) Wait() (executor.ExitState, error) {
	var exit <-chan time.Time
	if p.behavior.runFor >= 0 {
		exit = time.After(p.behavior.runFor)
	}
	select {
	case <-exit:
		if p.reportLine != "" {
			io.WriteString(p.spec.Stderr, p.reportLine)
		}
		return p.behavior.exit, nil
	case <-p.killed:
		if p.behavior.ignoreKill {
			select {}
		}
		return executor.ExitState{Code: -1, Signal: "SIGKILL"}, nil
	}
}

func (p *fakeProcess) Kill() error {
	p.killOnce.Do(func() { close(p.killed) })
	return nil
}

func (p *fakeProcess) Killed() bool {
	select {
	case <-p.killed:
		return true
	default:
		return false
	}
}

func (p *fakeProcess) MemoryUsage() (int64, error) {
	if p.behavior.rss == nil {
		return 0, executor.ErrMemoryUnsupported
	}
	return p.behavior.rss()
}

// tokenOf pulls the report token out of the harness config argument.
func tokenOf(spec executor.LaunchSpec) string {
	var cfg struct {
		Token string `json:"token"`
	}
	if len(spec.Args) == 0 {
		return ""
	}
	if err := json.Unmarshal([]byte(spec.Args[len(spec.Args)-1]), &cfg); err != nil {
		return ""
	}
	return cfg.Token
}

const okReport = `{"kind":"ok"}`

var errNoDocker = errors.New("cannot connect to the docker daemon")
