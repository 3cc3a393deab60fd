package process

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"syscall"
)

// PIDResult classifies the outcome of ReadPIDFile.
type PIDResult int

const (
	// PIDResultOK: a positive PID was parsed and that process is alive
	// (or at least not confirmed dead; see the EPERM case below).
	PIDResultOK PIDResult = iota
	// PIDResultFailed: the file couldn't be read, or didn't contain a
	// usable PID.
	PIDResultFailed
	// PIDResultTerminated: the PID parsed fine but no such process exists.
	PIDResultTerminated
)

// ReadPIDFile extracts a PID from a pid-file written by a bgprocess
// service and probes whether that process is still around. dinit-style
// pid-files may carry trailing data after the PID on later lines, so
// only the first line is parsed.
func ReadPIDFile(path string) (int, PIDResult, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return 0, PIDResultFailed, fmt.Errorf("reading pid file: %w", err)
	}

	pid, err := parseLeadingPID(raw)
	if err != nil {
		return 0, PIDResultFailed, err
	}

	return pid, probeAlive(pid), nil
}

func parseLeadingPID(raw []byte) (int, error) {
	firstLine := string(raw)
	if idx := strings.IndexByte(firstLine, '\n'); idx >= 0 {
		firstLine = firstLine[:idx]
	}
	firstLine = strings.TrimSpace(firstLine)
	if firstLine == "" {
		return 0, errors.New("pid file is empty")
	}

	pid, err := strconv.Atoi(firstLine)
	if err != nil {
		return 0, fmt.Errorf("invalid pid in file: %w", err)
	}
	if pid <= 0 {
		return 0, fmt.Errorf("non-positive pid in file: %d", pid)
	}
	return pid, nil
}

// probeAlive signals pid with signal 0, which the kernel delivers to
// nobody but still validates that the target exists and is reachable.
func probeAlive(pid int) PIDResult {
	err := syscall.Kill(pid, 0)
	switch {
	case err == nil:
		return PIDResultOK
	case errors.Is(err, syscall.ESRCH):
		return PIDResultTerminated
	case errors.Is(err, syscall.EPERM):
		// Exists, owned by someone else: still alive as far as we're
		// concerned, we just can't prove it with a zero-signal.
		return PIDResultOK
	default:
		return PIDResultFailed
	}
}
