package service

import (
	"testing"
	"time"
)

func TestScriptedLifecycle(t *testing.T) {
	set, _ := newTestSet()

	svc := NewScriptedService(set, "scripted-svc")
	svc.SetStartCommand([]string{"/bin/true"})
	svc.SetStopCommand([]string{"/bin/true"})
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(300 * time.Millisecond) // start command to finish

	if svc.State() != StateStarted {
		t.Errorf("expected STARTED, got %v", svc.State())
	}

	svc.Stop(true)
	set.ProcessQueues()
	time.Sleep(300 * time.Millisecond)

	if svc.State() != StateStopped {
		t.Errorf("expected STOPPED, got %v", svc.State())
	}
}

func TestScriptedStartCommandFailureStopsTheService(t *testing.T) {
	set, _ := newTestSet()

	svc := NewScriptedService(set, "fail-svc")
	svc.SetStartCommand([]string{"/bin/false"})
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(300 * time.Millisecond)

	if svc.State() != StateStopped {
		t.Errorf("expected STOPPED after the start command exits nonzero, got %v", svc.State())
	}
	if !svc.DidStartFail() {
		t.Error("expected the start to be recorded as a failure")
	}
}

func TestScriptedStartCommandExecFailure(t *testing.T) {
	set, _ := newTestSet()

	svc := NewScriptedService(set, "exec-fail-svc")
	svc.SetStartCommand([]string{"/nonexistent/script"})
	set.AddService(svc)

	set.StartService(svc)
	time.Sleep(300 * time.Millisecond)

	if svc.State() != StateStopped {
		t.Errorf("expected STOPPED when the start command can't even be exec'd, got %v", svc.State())
	}
}

func TestScriptedWithNoCommandsIsImmediate(t *testing.T) {
	set, _ := newTestSet()

	// No start/stop commands means the transition completes at once.
	svc := NewScriptedService(set, "empty-svc")
	set.AddService(svc)

	set.StartService(svc)
	if svc.State() != StateStarted {
		t.Errorf("expected an immediate STARTED with no start command, got %v", svc.State())
	}

	set.StopService(svc)
	if svc.State() != StateStopped {
		t.Errorf("expected an immediate STOPPED with no stop command, got %v", svc.State())
	}
}

func TestScriptedHardDependencyLifecycle(t *testing.T) {
	set, _ := newTestSet()

	dep := NewInternalService(set, "dep-svc")
	set.AddService(dep)

	svc := NewScriptedService(set, "scripted-dep-svc")
	svc.SetStartCommand([]string{"/bin/true"})
	svc.SetStopCommand([]string{"/bin/true"})
	set.AddService(svc)
	svc.Record().AddDep(dep, DepRegular)

	set.StartService(svc)
	time.Sleep(300 * time.Millisecond)

	if dep.State() != StateStarted {
		t.Errorf("dep-svc should be STARTED, got %v", dep.State())
	}
	if svc.State() != StateStarted {
		t.Errorf("scripted-dep-svc should be STARTED, got %v", svc.State())
	}

	set.StopService(svc)
	time.Sleep(300 * time.Millisecond)

	if svc.State() != StateStopped {
		t.Errorf("scripted-dep-svc should be STOPPED, got %v", svc.State())
	}
	if dep.State() != StateStopped {
		t.Errorf("dep-svc should follow it down, got %v", dep.State())
	}
}
