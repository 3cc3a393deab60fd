// vinit is a service manager and init system inspired by dinit, written in Go.
package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/vinit-sh/vinit/pkg/config"
	"github.com/vinit-sh/vinit/pkg/control"
	"github.com/vinit-sh/vinit/pkg/dashboard"
	"github.com/vinit-sh/vinit/pkg/eventloop"
	"github.com/vinit-sh/vinit/pkg/logging"
	"github.com/vinit-sh/vinit/pkg/service"
	"github.com/vinit-sh/vinit/pkg/shutdown"
)

const (
	version = "0.1.0"

	defaultSystemServiceDir = "/etc/vinit.d"
	defaultUserServiceDir   = ".config/vinit.d"
	defaultBootService      = "boot"
	defaultSystemSocket     = "/dev/vinitctl"
	defaultUserSocket       = ".vinitctl"
)

func main() {
	bootStartTime := time.Now()

	var (
		serviceDirs string
		socketPath  string
		systemMode  bool
		logLevel    string
		dashAddr    string
	)

	flag.StringVarP(&serviceDirs, "services-dir", "d", "", "service description directory (comma-separated for multiple)")
	flag.StringVarP(&socketPath, "socket-path", "p", "", "control socket path")
	flag.BoolVarP(&systemMode, "system", "s", false, "run as system service manager")
	flag.StringVar(&logLevel, "log-level", "info", "log level (debug, info, notice, warn, error)")
	flag.StringVar(&dashAddr, "dashboard-addr", "", "address for the read-only HTTP status dashboard (disabled if empty)")
	flag.Parse()

	isPID1 := os.Getpid() == 1
	if isPID1 {
		systemMode = true
	}

	// Non-flag tokens name services to start at boot; "auto" is a no-op
	// placeholder some callers pass to mean "use the default boot target".
	var toStart []string
	for _, arg := range flag.Args() {
		if arg == "auto" {
			continue
		}
		toStart = append(toStart, arg)
	}
	if len(toStart) == 0 {
		toStart = []string{defaultBootService}
	}

	level := parseLogLevel(logLevel)
	logger := logging.New(level)

	if isPID1 {
		logger.Notice("vinit starting as PID 1 (init system mode)")
		if err := shutdown.InitPID1(logger); err != nil {
			logger.Error("PID 1 initialization warning: %v", err)
		}
	} else if systemMode {
		logger.Notice("vinit starting in system mode")
	} else {
		logger.Info("vinit starting in user mode")
	}

	dirs := resolveServiceDirs(serviceDirs, systemMode)
	logger.Info("Service directories: %v", dirs)

	sock := resolveSocketPath(socketPath, systemMode)
	logger.Debug("Control socket: %s", sock)

	serviceSet := service.NewServiceSet(logger)

	serviceSet.SetBootStartTime(bootStartTime)
	serviceSet.SetBootServiceName(toStart[0])
	if uptime, err := readKernelUptime(); err == nil {
		serviceSet.SetKernelUptime(uptime)
	}

	loader := config.NewDirLoader(serviceSet, dirs)
	serviceSet.SetLoader(loader)
	watcher, err := config.NewDirWatcher(dirs, logger)
	if err != nil {
		logger.Debug("Service directory watcher unavailable: %v (non-fatal)", err)
	} else {
		defer watcher.Close()
	}

	for _, name := range toStart {
		svc, err := serviceSet.LoadService(name)
		if err != nil {
			logger.Error("Failed to load service '%s': %v", name, err)
			if isPID1 && name == toStart[0] {
				logger.Error("Cannot proceed without boot service in init mode")
				select {}
			}
			continue
		}
		serviceSet.StartService(svc)
		logger.Info("Service '%s' started", name)
	}

	ctx := context.Background()
	ctrlServer := control.NewServer(serviceSet, sock, logger)
	if err := ctrlServer.Start(ctx); err != nil {
		logger.Error("Failed to start control socket: %v", err)
	} else {
		defer ctrlServer.Stop()
	}

	if dashAddr != "" {
		dash := dashboard.New(serviceSet, logger)
		if err := dash.Start(dashAddr); err != nil {
			logger.Error("Failed to start status dashboard: %v", err)
		} else {
			defer dash.Stop(ctx)
		}
	}

	loop := eventloop.New(serviceSet, logger)
	if isPID1 {
		loop.SetPID1Mode(true)
	}
	if watcher != nil {
		watcher.OnChange = func(name string) {
			logger.Info("Service description for '%s' changed on disk, reloading", name)
			if svc := serviceSet.FindService(name, false); svc != nil {
				if _, err := loader.ReloadService(svc); err != nil {
					logger.Error("Failed to reload '%s': %v", name, err)
				}
			}
		}
	}

	ctrlServer.ShutdownFunc = func(st service.ShutdownType) {
		loop.InitiateShutdown(st)
	}

	if err := loop.Run(ctx); err != nil {
		if err == context.Canceled {
			logger.Info("Event loop cancelled")
		} else {
			logger.Error("Event loop error: %v", err)
		}
	}

	shutdownType := loop.GetShutdownType()

	if isPID1 {
		handlePID1Shutdown(shutdownType, logger)
		// handlePID1Shutdown does not return
	}

	logger.Info("vinit shutdown complete")
	if shutdownType == service.ShutdownNone && !isPID1 {
		os.Exit(1)
	}
}

// handlePID1Shutdown performs the appropriate system action after all services
// have stopped when running as PID 1. This function does not return.
func handlePID1Shutdown(shutdownType service.ShutdownType, logger *logging.Logger) {
	switch shutdownType {
	case service.ShutdownNone:
		logger.Error("Boot failure detected, attempting reboot")
		shutdown.Execute(service.ShutdownReboot, logger)

	case service.ShutdownSoftReboot:
		logger.Notice("Performing soft reboot")
		if err := shutdown.SoftReboot(logger); err != nil {
			logger.Error("Soft reboot failed: %v, falling back to hard reboot", err)
			shutdown.Execute(service.ShutdownReboot, logger)
		}
		shutdown.InfiniteHold()

	case service.ShutdownHalt, service.ShutdownPoweroff, service.ShutdownReboot:
		shutdown.Execute(shutdownType, logger)

	case service.ShutdownRemain:
		logger.Notice("Shutdown type is REMAIN, staying up with no services")
		shutdown.InfiniteHold()

	default:
		logger.Error("Unknown shutdown type: %s, halting", shutdownType)
		shutdown.Execute(service.ShutdownHalt, logger)
	}
}

func parseLogLevel(s string) logging.Level {
	switch strings.ToLower(s) {
	case "debug":
		return logging.LevelDebug
	case "info":
		return logging.LevelInfo
	case "notice":
		return logging.LevelNotice
	case "warn", "warning":
		return logging.LevelWarn
	case "error":
		return logging.LevelError
	default:
		return logging.LevelInfo
	}
}

func resolveServiceDirs(flagValue string, systemMode bool) []string {
	if flagValue != "" {
		return strings.Split(flagValue, ",")
	}

	if systemMode {
		return []string{defaultSystemServiceDir}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return []string{defaultUserServiceDir}
	}
	return []string{home + "/" + defaultUserServiceDir}
}

// readKernelUptime reads /proc/uptime and returns the system uptime duration.
// This represents the time from kernel boot to when vinit started.
func readKernelUptime() (time.Duration, error) {
	data, err := os.ReadFile("/proc/uptime")
	if err != nil {
		return 0, err
	}
	fields := strings.Fields(string(data))
	if len(fields) < 1 {
		return 0, fmt.Errorf("unexpected /proc/uptime format")
	}
	secs, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		return 0, err
	}
	return time.Duration(secs * float64(time.Second)), nil
}

func resolveSocketPath(flagValue string, systemMode bool) string {
	if flagValue != "" {
		return flagValue
	}

	if systemMode {
		return defaultSystemSocket
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return defaultUserSocket
	}
	return home + "/" + defaultUserSocket
}
