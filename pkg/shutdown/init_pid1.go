// Package shutdown implements PID 1 initialization and system shutdown
// operations for vinit, including reboot, halt, poweroff, and soft-reboot.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/vinit-sh/vinit/pkg/logging"
)

// InitPID1 runs the one-time setup vinit needs when the kernel has
// handed it PID 1: claim /dev/console, become the reaper for anything
// that gets orphaned, stop the kernel honoring Ctrl+Alt+Del, and
// detach from terminal job control entirely. Every step here is
// best-effort: a failure is logged and ignored rather than aborting
// boot, since none of them are things a running system can recover
// from by crashing early instead.
func InitPID1(logger *logging.Logger) error {
	if err := claimConsole(); err != nil {
		logger.Debug("console redirect: %v (non-fatal)", err)
	} else {
		logger.Debug("stdio redirected to /dev/console")
	}

	if err := disableCtrlAltDel(); err != nil {
		logger.Debug("disable ctrl-alt-del: %v (non-fatal)", err)
	} else {
		logger.Debug("ctrl-alt-del reboot disabled")
	}

	if err := SetChildSubreaper(); err != nil {
		logger.Debug("set child subreaper: %v (non-fatal)", err)
	} else {
		logger.Debug("child subreaper flag set")
	}

	detachTerminalSignals()
	logger.Debug("terminal job-control signals ignored (SIGTSTP, SIGTTIN, SIGTTOU, SIGPIPE)")

	return nil
}

// claimConsole points fd 0/1/2 at /dev/console. stdin is opened
// read-only; stdout and stderr share a single read-write descriptor.
func claimConsole() error {
	in, err := os.OpenFile("/dev/console", os.O_RDONLY, 0)
	if err != nil {
		return err
	}
	if err := dupOnto(in, 0); err != nil {
		return err
	}

	out, err := os.OpenFile("/dev/console", os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := dupOnto(out, 1); err != nil {
		return err
	}
	return dupOnto(out, 2)
}

// dupOnto dups f onto target and closes f's own descriptor afterward,
// unless f already occupies one of the low three fds itself.
func dupOnto(f *os.File, target int) error {
	fd := int(f.Fd())
	if err := syscall.Dup2(fd, target); err != nil {
		f.Close()
		return err
	}
	if fd > 2 {
		f.Close()
	}
	return nil
}

// disableCtrlAltDel tells the kernel to deliver SIGINT to PID 1
// instead of rebooting immediately, giving vinit a chance to run an
// orderly shutdown sequence first.
func disableCtrlAltDel() error {
	return unix.Reboot(unix.LINUX_REBOOT_CMD_CAD_OFF)
}

// SetChildSubreaper marks the calling process as a subreaper: any
// descendant that gets orphaned reparents here instead of to PID 1's
// usual fallback. Exported so tests can exercise it directly without
// actually running as PID 1.
func SetChildSubreaper() error {
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, 1, 0, 0, 0)
}

// isChildSubreaper reports whether the calling process currently has
// the subreaper flag set. Used only by tests to confirm
// SetChildSubreaper took effect.
func isChildSubreaper() (bool, error) {
	flag, err := unix.PrctlRetInt(unix.PR_GET_CHILD_SUBREAPER, 0, 0, 0, 0)
	if err != nil {
		return false, err
	}
	return flag != 0, nil
}

// detachTerminalSignals ignores the signals a terminal's job control
// would otherwise send us; none of them mean anything to an init
// system and left unhandled they could stop it outright.
func detachTerminalSignals() {
	signal.Ignore(
		syscall.SIGTSTP,
		syscall.SIGTTIN,
		syscall.SIGTTOU,
		syscall.SIGPIPE,
	)
}
