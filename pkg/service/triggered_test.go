package service

import "testing"

func TestTriggeredStaysStartingUntilTriggered(t *testing.T) {
	set, _ := newTestSet()
	svc := NewTriggeredService(set, "triggered-svc")
	set.AddService(svc)

	set.StartService(svc)

	if svc.State() != StateStarting {
		t.Errorf("a triggered service with no trigger yet should be STARTING, got %v", svc.State())
	}
}

func TestTriggeredCompletesOnceTriggered(t *testing.T) {
	set, logger := newTestSet()
	svc := NewTriggeredService(set, "triggered-svc")
	set.AddService(svc)

	set.StartService(svc)
	if svc.State() != StateStarting {
		t.Fatalf("expected STARTING, got %v", svc.State())
	}

	svc.SetTrigger(true)

	if svc.State() != StateStarted {
		t.Errorf("expected STARTED once triggered, got %v", svc.State())
	}
	if len(logger.started) != 1 || logger.started[0] != "triggered-svc" {
		t.Errorf("expected a single ServiceStarted notification for triggered-svc")
	}
}

func TestTriggeredBeforeStartSkipsStarting(t *testing.T) {
	set, _ := newTestSet()
	svc := NewTriggeredService(set, "triggered-svc")
	set.AddService(svc)

	svc.SetTrigger(true) // armed before StartService is even called
	set.StartService(svc)

	if svc.State() != StateStarted {
		t.Errorf("expected STARTED directly when already triggered, got %v", svc.State())
	}
}

func TestTriggeredStop(t *testing.T) {
	set, _ := newTestSet()
	svc := NewTriggeredService(set, "triggered-svc")
	set.AddService(svc)

	svc.SetTrigger(true)
	set.StartService(svc)
	if svc.State() != StateStarted {
		t.Fatalf("expected STARTED, got %v", svc.State())
	}

	set.StopService(svc)

	if svc.State() != StateStopped {
		t.Errorf("expected STOPPED, got %v", svc.State())
	}
}

func TestTriggeredWaitsOnHardDependencyThenTrigger(t *testing.T) {
	set, _ := newTestSet()
	dep := NewInternalService(set, "dep-svc")
	svc := NewTriggeredService(set, "triggered-svc")
	set.AddService(dep)
	set.AddService(svc)
	svc.Record().AddDep(dep, DepRegular)

	set.StartService(svc)

	if dep.State() != StateStarted {
		t.Errorf("dep-svc should be STARTED, got %v", dep.State())
	}
	if svc.State() != StateStarting {
		t.Errorf("triggered-svc should sit in STARTING once deps are satisfied but untriggered, got %v", svc.State())
	}

	svc.SetTrigger(true)

	if svc.State() != StateStarted {
		t.Errorf("expected STARTED once both deps and the trigger are satisfied, got %v", svc.State())
	}
}

func TestTriggeredStartCanBeCancelledBeforeTrigger(t *testing.T) {
	set, _ := newTestSet()
	svc := NewTriggeredService(set, "triggered-svc")
	set.AddService(svc)

	set.StartService(svc)
	if svc.State() != StateStarting {
		t.Fatalf("expected STARTING, got %v", svc.State())
	}

	svc.Stop(true) // never gets triggered
	set.ProcessQueues()

	if svc.State() != StateStopped {
		t.Errorf("expected STOPPED once the pending start is cancelled, got %v", svc.State())
	}
}
