package service

import "testing"

// testLogger is the ServiceLogger used across this package's tests: it
// just accumulates every notification it receives so assertions can
// inspect them afterward.
type testLogger struct {
	started []string
	stopped []string
	failed  []string
	errors  []string
}

func (l *testLogger) ServiceStarted(name string)         { l.started = append(l.started, name) }
func (l *testLogger) ServiceStopped(name string)         { l.stopped = append(l.stopped, name) }
func (l *testLogger) ServiceFailed(name string, _ bool)  { l.failed = append(l.failed, name) }
func (l *testLogger) Error(format string, _ ...interface{}) { l.errors = append(l.errors, format) }
func (l *testLogger) Info(format string, args ...interface{})  {}

func newTestSet() (*ServiceSet, *testLogger) {
	logger := &testLogger{}
	return NewServiceSet(logger), logger
}

func TestInternalServiceLifecycleNotifiesTheLogger(t *testing.T) {
	set, logger := newTestSet()
	svc := NewInternalService(set, "test-svc")
	set.AddService(svc)

	set.StartService(svc)

	if svc.State() != StateStarted {
		t.Errorf("expected STARTED, got %v", svc.State())
	}
	if len(logger.started) != 1 || logger.started[0] != "test-svc" {
		t.Errorf("expected a ServiceStarted notification for test-svc, got %v", logger.started)
	}

	set.StopService(svc)

	if svc.State() != StateStopped {
		t.Errorf("expected STOPPED, got %v", svc.State())
	}
	if len(logger.stopped) != 1 || logger.stopped[0] != "test-svc" {
		t.Errorf("expected a ServiceStopped notification for test-svc, got %v", logger.stopped)
	}
}

func TestHardDependencyStartsAndStopsWithDependent(t *testing.T) {
	set, _ := newTestSet()
	dep := NewInternalService(set, "dep-svc")
	main := NewInternalService(set, "main-svc")
	set.AddService(dep)
	set.AddService(main)
	main.Record().AddDep(dep, DepRegular)

	set.StartService(main)

	if dep.State() != StateStarted {
		t.Errorf("dep-svc should be STARTED, got %v", dep.State())
	}
	if main.State() != StateStarted {
		t.Errorf("main-svc should be STARTED, got %v", main.State())
	}

	// Nothing else holds a reference on dep-svc, so releasing main-svc
	// should take it down too.
	set.StopService(main)

	if main.State() != StateStopped {
		t.Errorf("main-svc should be STOPPED, got %v", main.State())
	}
	if dep.State() != StateStopped {
		t.Errorf("dep-svc should be STOPPED once released, got %v", dep.State())
	}
}

func TestThreeDeepDependencyChain(t *testing.T) {
	set, _ := newTestSet()
	a := NewInternalService(set, "svc-a")
	b := NewInternalService(set, "svc-b")
	c := NewInternalService(set, "svc-c")
	set.AddService(a)
	set.AddService(b)
	set.AddService(c)

	c.Record().AddDep(b, DepRegular)
	b.Record().AddDep(a, DepRegular)

	set.StartService(c)

	for _, svc := range []Service{a, b, c} {
		if svc.State() != StateStarted {
			t.Errorf("%s should be STARTED, got %v", svc.Record().Name(), svc.State())
		}
	}

	set.StopService(c)

	for _, svc := range []Service{a, b, c} {
		if svc.State() != StateStopped {
			t.Errorf("%s should be STOPPED, got %v", svc.Record().Name(), svc.State())
		}
	}
}

func TestSharedDependencySurvivesUntilLastDependentStops(t *testing.T) {
	set, _ := newTestSet()
	dep := NewInternalService(set, "shared-dep")
	a := NewInternalService(set, "svc-a")
	b := NewInternalService(set, "svc-b")
	set.AddService(dep)
	set.AddService(a)
	set.AddService(b)

	a.Record().AddDep(dep, DepRegular)
	b.Record().AddDep(dep, DepRegular)

	set.StartService(a)
	set.StartService(b)

	if dep.State() != StateStarted {
		t.Errorf("shared-dep should be STARTED, got %v", dep.State())
	}

	set.StopService(a)

	if a.State() != StateStopped {
		t.Errorf("svc-a should be STOPPED, got %v", a.State())
	}
	if dep.State() != StateStarted {
		t.Errorf("shared-dep should remain STARTED while svc-b still needs it, got %v", dep.State())
	}

	set.StopService(b)

	if dep.State() != StateStopped {
		t.Errorf("shared-dep should be STOPPED once the last dependent releases it, got %v", dep.State())
	}
}

func TestPinning(t *testing.T) {
	t.Run("PinStart resists a stop until Unpin", func(t *testing.T) {
		set, _ := newTestSet()
		svc := NewInternalService(set, "pinned-svc")
		set.AddService(svc)

		set.StartService(svc)
		svc.PinStart()

		if svc.State() != StateStarted {
			t.Errorf("expected STARTED, got %v", svc.State())
		}

		svc.Stop(true)
		set.ProcessQueues()

		if svc.State() != StateStarted {
			t.Errorf("a start-pinned service should ignore a stop request, got %v", svc.State())
		}

		svc.Unpin()

		if svc.State() != StateStopped {
			t.Errorf("expected STOPPED once unpinned, got %v", svc.State())
		}
	})

	t.Run("PinStop resists a start", func(t *testing.T) {
		set, _ := newTestSet()
		svc := NewInternalService(set, "pin-stopped-svc")
		set.AddService(svc)

		svc.PinStop()
		svc.Start()
		set.ProcessQueues()

		if svc.State() != StateStopped {
			t.Errorf("a stop-pinned service should ignore a start request, got %v", svc.State())
		}
	})
}

func TestStopAllServicesHaltsEveryActiveService(t *testing.T) {
	set, _ := newTestSet()
	svcs := []Service{
		NewInternalService(set, "svc-a"),
		NewInternalService(set, "svc-b"),
		NewInternalService(set, "svc-c"),
	}
	for _, svc := range svcs {
		set.AddService(svc)
		set.StartService(svc)
	}

	if set.CountActiveServices() != 3 {
		t.Errorf("expected 3 active services, got %d", set.CountActiveServices())
	}

	set.StopAllServices(ShutdownHalt)

	for _, svc := range svcs {
		if svc.State() != StateStopped {
			t.Errorf("%s should be STOPPED, got %v", svc.Record().Name(), svc.State())
		}
	}
	if set.CountActiveServices() != 0 {
		t.Errorf("expected 0 active services after StopAllServices, got %d", set.CountActiveServices())
	}
}

func TestRestartOfAStartedServiceReturnsToStarted(t *testing.T) {
	set, _ := newTestSet()
	svc := NewInternalService(set, "restart-svc")
	set.AddService(svc)

	set.StartService(svc)
	if svc.State() != StateStarted {
		t.Fatalf("expected STARTED, got %v", svc.State())
	}

	accepted := svc.Restart()
	set.ProcessQueues()

	if !accepted {
		t.Error("Restart() should accept a restart of a STARTED service")
	}
	if svc.State() != StateStarted {
		t.Errorf("expected STARTED again after restart, got %v", svc.State())
	}
}

// testListener is a ServiceListener that just records the sequence of
// events it was handed.
type testListener struct {
	events []ServiceEvent
}

func (l *testListener) ServiceEvent(_ Service, event ServiceEvent) {
	l.events = append(l.events, event)
}

func TestListenersSeeStartThenStop(t *testing.T) {
	set, _ := newTestSet()
	svc := NewInternalService(set, "listener-svc")
	set.AddService(svc)

	listener := &testListener{}
	svc.AddListener(listener)

	set.StartService(svc)

	if len(listener.events) != 1 || listener.events[0] != EventStarted {
		t.Errorf("expected [STARTED], got %v", listener.events)
	}

	set.StopService(svc)

	if len(listener.events) != 2 || listener.events[1] != EventStopped {
		t.Errorf("expected [STARTED, STOPPED], got %v", listener.events)
	}
}
