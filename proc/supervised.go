// Package proc runs external processes in their own process group so that a
// timeout can terminate the whole tree, not just the immediate child. The
// simulators invoked by the regression are known to fork helpers that would
// otherwise outlive a kill of the parent alone.
package proc

import (
	"errors"
	"fmt"
	"os/exec"
	"time"

	"golang.org/x/sys/unix"
)

// ErrTimeout is returned by Wait when the deadline expired and the process
// group was terminated.
var ErrTimeout = errors.New("process timed out")

// graceAfterTerm is how long a group gets to exit after SIGTERM before it is
// SIGKILLed.
const graceAfterTerm = 5 * time.Second

// Supervised is a started process whose whole group can be terminated.
type Supervised struct {
	cmd *exec.Cmd
}

// Start launches cmd in a new process group. The caller must have wired
// cmd's stdio before calling.
func Start(cmd *exec.Cmd) (*Supervised, error) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &unix.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", cmd.Path, err)
	}
	return &Supervised{cmd: cmd}, nil
}

// Wait blocks until the process exits or timeout elapses. On timeout the
// entire process group is terminated and ErrTimeout is returned. A non-zero
// exit surfaces as the usual *exec.ExitError.
func (s *Supervised) Wait(timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		done <- s.cmd.Wait()
	}()

	select {
	case err := <-done:
		return err
	case <-time.After(timeout):
		s.TerminateGroup()
		// Reap the child so it does not linger as a zombie.
		select {
		case <-done:
		case <-time.After(graceAfterTerm):
			s.killGroup()
			<-done
		}
		return ErrTimeout
	}
}

// TerminateGroup sends SIGTERM to the whole process group.
func (s *Supervised) TerminateGroup() {
	pgid, err := unix.Getpgid(s.cmd.Process.Pid)
	if err != nil {
		// Fall back to the direct child.
		_ = s.cmd.Process.Signal(unix.SIGTERM)
		return
	}
	_ = unix.Kill(-pgid, unix.SIGTERM)
}

func (s *Supervised) killGroup() {
	pgid, err := unix.Getpgid(s.cmd.Process.Pid)
	if err != nil {
		_ = s.cmd.Process.Kill()
		return
	}
	_ = unix.Kill(-pgid, unix.SIGKILL)
}

// Pid returns the process id of the supervised child.
func (s *Supervised) Pid() int {
	return s.cmd.Process.Pid
}
