package service

import "testing"

// pairedServices wires up two internal services under set and returns
// them as (dependency, dependent), saving every test below from
// repeating the same four lines of setup.
func pairedServices(set *ServiceSet, depName, mainName string) (Service, Service) {
	dep := NewInternalService(set, depName)
	main := NewInternalService(set, mainName)
	set.AddService(dep)
	set.AddService(main)
	return dep, main
}

func TestSoftDependency(t *testing.T) {
	t.Run("failure does not cascade", func(t *testing.T) {
		set, _ := newTestSet()
		dep, main := pairedServices(set, "soft-dep", "main-svc")
		main.Record().AddDep(dep, DepSoft)

		dep.PinStop() // dep can never reach STARTED
		set.StartService(main)

		if main.State() != StateStarted {
			t.Errorf("main should reach STARTED despite a failed soft dependency, got %v", main.State())
		}
	})

	t.Run("stopping the dependency does not stop the dependent", func(t *testing.T) {
		set, _ := newTestSet()
		dep, main := pairedServices(set, "soft-dep", "main-svc")
		main.Record().AddDep(dep, DepSoft)

		set.StartService(main)
		if dep.State() != StateStarted || main.State() != StateStarted {
			t.Fatalf("setup: want both STARTED, got dep=%v main=%v", dep.State(), main.State())
		}

		set.StopService(dep)

		if dep.State() != StateStopped {
			t.Errorf("dep should be STOPPED, got %v", dep.State())
		}
		if main.State() != StateStarted {
			t.Errorf("main should stay STARTED once its soft dep stops, got %v", main.State())
		}
	})

	t.Run("dependents reattach after the dependency restarts", func(t *testing.T) {
		set, _ := newTestSet()
		dep, main := pairedServices(set, "soft-dep", "main-svc")
		main.Record().AddDep(dep, DepSoft)

		set.StartService(main)
		if dep.State() != StateStarted || main.State() != StateStarted {
			t.Fatalf("setup: want both STARTED, got dep=%v main=%v", dep.State(), main.State())
		}

		before := dep.RequiredBy()
		dep.Restart()
		set.ProcessQueues()

		if dep.State() != StateStarted {
			t.Errorf("dep should be STARTED again after restart, got %v", dep.State())
		}
		if after := dep.RequiredBy(); after < before {
			t.Errorf("dep's reference count should not drop below %d after restart, got %d", before, after)
		}
		if main.State() != StateStarted {
			t.Errorf("main should remain STARTED through dep's restart, got %v", main.State())
		}
	})
}

func TestWaitsForDependencyFailureDoesNotCascade(t *testing.T) {
	set, _ := newTestSet()
	dep, main := pairedServices(set, "waitsfor-dep", "main-svc")
	main.Record().AddDep(dep, DepWaitsFor)

	dep.PinStop()
	set.StartService(main)

	if main.State() != StateStarted {
		t.Errorf("main should reach STARTED despite a failed waits-for dependency, got %v", main.State())
	}
}

func TestRegularDependency(t *testing.T) {
	t.Run("failure cascades to the dependent", func(t *testing.T) {
		set, _ := newTestSet()
		dep, main := pairedServices(set, "regular-dep", "main-svc")
		main.Record().AddDep(dep, DepRegular)

		dep.PinStop()
		set.StartService(main)

		if main.State() != StateStopped {
			t.Errorf("main should be STOPPED when a hard dependency fails, got %v", main.State())
		}
		if !main.Record().DidStartFail() {
			t.Error("main should report a failed start")
		}
	})

	t.Run("stopping the dependent releases the dependency", func(t *testing.T) {
		set, _ := newTestSet()
		dep, main := pairedServices(set, "regular-dep", "main-svc")
		main.Record().AddDep(dep, DepRegular)

		set.StartService(main)
		if dep.State() != StateStarted || main.State() != StateStarted {
			t.Fatalf("setup: want both STARTED, got dep=%v main=%v", dep.State(), main.State())
		}

		set.StopService(main)

		if main.State() != StateStopped {
			t.Errorf("main should be STOPPED, got %v", main.State())
		}
		if dep.State() != StateStopped {
			t.Errorf("dep should follow main down once released, got %v", dep.State())
		}
	})
}

func TestMilestoneDependency(t *testing.T) {
	t.Run("failure before the milestone is reached cascades", func(t *testing.T) {
		set, _ := newTestSet()
		dep, main := pairedServices(set, "milestone-dep", "main-svc")
		main.Record().AddDep(dep, DepMilestone)

		dep.PinStop()
		set.StartService(main)

		if main.State() != StateStopped {
			t.Errorf("main should be STOPPED: milestone dep never reached STARTED, got %v", main.State())
		}
		if !main.Record().DidStartFail() {
			t.Error("main should report a failed start")
		}
	})

	t.Run("becomes soft once satisfied", func(t *testing.T) {
		set, _ := newTestSet()
		dep, main := pairedServices(set, "milestone-dep", "main-svc")
		main.Record().AddDep(dep, DepMilestone)

		set.StartService(main)
		if dep.State() != StateStarted || main.State() != StateStarted {
			t.Fatalf("setup: want both STARTED, got dep=%v main=%v", dep.State(), main.State())
		}

		// The milestone was already hit, so WaitingOn has flipped to
		// false: stopping dep now behaves like a soft dependency.
		set.StopService(dep)

		if dep.State() != StateStopped {
			t.Errorf("dep should be STOPPED, got %v", dep.State())
		}
		if main.State() != StateStarted {
			t.Errorf("main should survive the milestone dep stopping post-satisfaction, got %v", main.State())
		}
	})
}

func TestOrderingDependencies(t *testing.T) {
	t.Run("before: logged start order respects the edge", func(t *testing.T) {
		set, logger := newTestSet()
		first := NewInternalService(set, "before-svc")
		second := NewInternalService(set, "target-svc")
		set.AddService(first)
		set.AddService(second)
		first.Record().AddDep(second, DepBefore)

		set.StartService(first)
		set.StartService(second)

		if first.State() != StateStarted {
			t.Errorf("before-svc should be STARTED, got %v", first.State())
		}
		if second.State() != StateStarted {
			t.Errorf("target-svc should be STARTED, got %v", second.State())
		}

		firstIdx, secondIdx := -1, -1
		for i, name := range logger.started {
			switch name {
			case "before-svc":
				firstIdx = i
			case "target-svc":
				secondIdx = i
			}
		}
		if firstIdx >= 0 && secondIdx >= 0 && firstIdx > secondIdx {
			t.Errorf("before-svc logged after target-svc (indices %d, %d)", firstIdx, secondIdx)
		}
	})

	t.Run("after: starting the dependent alone does not pull in the target", func(t *testing.T) {
		set, _ := newTestSet()
		svcA := NewInternalService(set, "after-svc")
		svcB := NewInternalService(set, "target-svc")
		set.AddService(svcA)
		set.AddService(svcB)
		svcA.Record().AddDep(svcB, DepAfter)

		set.StartService(svcA)

		if svcA.State() != StateStarted {
			t.Errorf("after-svc should be STARTED regardless of the ordering target, got %v", svcA.State())
		}
	})

	t.Run("ordering-only edges never call Require", func(t *testing.T) {
		set, _ := newTestSet()
		svcA := NewInternalService(set, "ordering-svc")
		svcB := NewInternalService(set, "target-svc")
		set.AddService(svcA)
		set.AddService(svcB)
		svcA.Record().AddDep(svcB, DepBefore)

		set.StartService(svcA)

		if svcA.State() != StateStarted {
			t.Errorf("ordering-svc should be STARTED, got %v", svcA.State())
		}
		if svcB.RequiredBy() > 0 {
			t.Errorf("a before/after edge must not hold a reference on its target, requiredBy=%d", svcB.RequiredBy())
		}

		set.StopService(svcA)

		if svcA.State() != StateStopped {
			t.Errorf("ordering-svc should be STOPPED, got %v", svcA.State())
		}
	})
}
