package sched

import (
	"context"
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// proc is the scheduler's view of one child process: start, probe,
// terminate, wait. A reaper goroutine calls Wait as soon as the child is
// started so exit is observed without blocking the scheduler and no child
// is ever left as a zombie.
type proc struct {
	cmd     *exec.Cmd
	done    chan struct{}
	waitErr error
}

func startProc(bin string, args []string, extraEnv []string) (*proc, error) {
	cmd := exec.Command(bin, args...)
	if len(extraEnv) > 0 {
		cmd.Env = append(cmd.Environ(), extraEnv...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", bin, err)
	}

	p := &proc{cmd: cmd, done: make(chan struct{})}
	go func() {
		p.waitErr = cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *proc) PID() int {
	return p.cmd.Process.Pid
}

// Alive is the non-blocking liveness probe.
func (p *proc) Alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Terminate asks the child to exit. Signalling an already-exited child is
// not an error worth surfacing.
func (p *proc) Terminate() {
	if p.Alive() {
		_ = p.cmd.Process.Signal(syscall.SIGTERM)
	}
}

// Kill force-terminates the child.
func (p *proc) Kill() {
	if p.Alive() {
		_ = p.cmd.Process.Kill()
	}
}

// Reap blocks until the child has been waited on, escalating to SIGKILL
// when it has not exited within grace. Exit status is not Reap's concern;
// children routinely die from signals the scheduler sent itself.
func (p *proc) Reap(ctx context.Context, grace time.Duration) error {
	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-p.done:
		return nil
	case <-ctx.Done():
	case <-timer.C:
	}

	p.Kill()
	select {
	case <-p.done:
		return nil
	case <-time.After(grace):
		return fmt.Errorf("pid %d did not exit after SIGKILL", p.PID())
	}
}

// ExitErr reports how the child exited. Valid only after Reap.
func (p *proc) ExitErr() error {
	return p.waitErr
}
