package process

import (
	"os"
	"os/exec"
	"syscall"

	"github.com/creack/pty"
)

// StartProcess forks and execs a child according to params, returning
// its PID and a channel that delivers exactly one ChildExit once it
// terminates. The caller must drain that channel.
//
// An error here means the command never ran at all (bad binary, fork
// failure, ...); no PID or channel is produced in that case.
func StartProcess(params ExecParams) (int, <-chan ChildExit, error) {
	if len(params.Command) == 0 {
		return 0, nil, &ExecError{Stage: StageDoExec, Err: os.ErrInvalid}
	}

	cmd := exec.Command(params.Command[0], params.Command[1:]...)
	applyEnvironment(cmd, params)
	applyCredentials(cmd, params)

	closer, err := attachIO(cmd, params)
	if err != nil {
		return 0, nil, err
	}

	if err := cmd.Start(); err != nil {
		if closer != nil {
			closer.Close()
		}
		return 0, nil, &ExecError{Stage: StageDoExec, Err: err}
	}
	if closer != nil {
		closer.Close()
	}

	return reapAsync(cmd)
}

func applyEnvironment(cmd *exec.Cmd, params ExecParams) {
	if params.WorkingDir != "" {
		cmd.Dir = params.WorkingDir
	}
	if len(params.Env) > 0 {
		cmd.Env = append(os.Environ(), params.Env...)
	}
}

func applyCredentials(cmd *exec.Cmd, params ExecParams) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if params.RunAsUID != 0 || params.RunAsGID != 0 {
		cmd.SysProcAttr.Credential = &syscall.Credential{
			Uid: params.RunAsUID,
			Gid: params.RunAsGID,
		}
	}
}

// attachIO wires up the child's stdio according to params: a pty pair
// for UsePty, the raw console device otherwise for OnConsole, or an
// OutputPipe for buffered log capture. It returns the fd the caller
// should close once the child has forked (the parent's copy of a
// pty/console descriptor it handed to the child as stdio).
func attachIO(cmd *exec.Cmd, params ExecParams) (*os.File, error) {
	if !params.OnConsole {
		if params.OutputPipe != nil {
			cmd.Stdout = params.OutputPipe
			cmd.Stderr = params.OutputPipe
		}
		return nil, nil
	}

	if params.UsePty {
		return attachPty(cmd)
	}
	return attachRawConsole(cmd), nil
}

// attachPty allocates a pty pair via creack/pty, giving the child the
// slave end as its controlling terminal and leaving stdio otherwise
// untouched (the master end is what the parent would read from for a
// pty-backed log/console session, which the caller is responsible for
// wiring up via cmd.ExtraFiles or a dedicated reader if it wants one).
func attachPty(cmd *exec.Cmd) (*os.File, error) {
	ptmx, tty, err := pty.Open()
	if err != nil {
		return nil, &ExecError{Stage: StageSetupStdio, Err: err}
	}
	cmd.Stdin = tty
	cmd.Stdout = tty
	cmd.Stderr = tty
	cmd.SysProcAttr.Setpgid = false
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	cmd.SysProcAttr.Ctty = 0

	// The master side is the parent's handle on the session; nothing
	// reads it today, so close it immediately after fork rather than
	// leaking it. tty (the slave/child side) is closed by the generic
	// post-Start cleanup in StartProcess via the returned handle.
	ptmx.Close()
	return tty, nil
}

// attachRawConsole opens /dev/console directly and makes it the
// child's controlling terminal, falling back to the parent's own
// stdio if the device can't be opened (e.g. not actually running
// under a Linux console).
func attachRawConsole(cmd *exec.Cmd) *os.File {
	console, err := os.OpenFile("/dev/console", os.O_RDWR, 0)
	if err != nil {
		cmd.Stdin = os.Stdin
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		return nil
	}

	cmd.Stdin = console
	cmd.Stdout = console
	cmd.Stderr = console

	// Setsid makes the child a session leader (implies a fresh pgid);
	// Setctty+Ctty=0 then does ioctl(TIOCSCTTY) on fd 0 in the child so
	// /dev/console becomes its controlling terminal and job control works.
	cmd.SysProcAttr.Setpgid = false
	cmd.SysProcAttr.Setsid = true
	cmd.SysProcAttr.Setctty = true
	cmd.SysProcAttr.Ctty = 0
	return console
}

func reapAsync(cmd *exec.Cmd) (int, <-chan ChildExit, error) {
	pid := cmd.Process.Pid
	exitCh := make(chan ChildExit, 1)

	go func() {
		defer close(exitCh)

		var status syscall.WaitStatus
		if err := cmd.Wait(); err != nil {
			if exitErr, ok := err.(*exec.ExitError); ok {
				status = exitErr.Sys().(syscall.WaitStatus)
			}
		}

		exitCh <- ChildExit{PID: pid, Status: status}
	}()

	return pid, exitCh, nil
}

// SignalProcess sends sig to pid, or to its whole process group when
// processOnly is false (the default for service stop signals, so a
// forked grandchild can't survive its parent).
func SignalProcess(pid int, sig syscall.Signal, processOnly bool) error {
	if pid <= 0 {
		return nil
	}
	if processOnly {
		return syscall.Kill(pid, sig)
	}
	return syscall.Kill(-pid, sig)
}
