package service

import (
	"syscall"
	"time"
)

// Service is the common surface every managed unit exposes to the
// scheduler. Concrete service kinds (process, scripted, bgprocess,
// triggered, internal) embed *ServiceRecord to get a working
// implementation of everything below except BringUp/BringDown, which
// each kind supplies itself.
type Service interface {
	Name() string
	Type() ServiceType

	State() ServiceState
	TargetState() ServiceState
	StopReason() StoppedReason

	// Lifecycle hooks invoked by the record's own state machine.
	BringUp() bool // start the underlying process/action; false on failure
	BringDown()    // begin stopping it
	CanInterruptStart() bool
	InterruptStart() bool
	BecomingInactive()
	CheckRestart() bool

	PID() int
	GetExitStatus() ExitStatus

	Dependencies() []*ServiceDep
	Dependents() []*ServiceDep
	RequiredBy() int

	Start()
	Stop(bringDown bool)
	Restart() bool
	ForcedStop()

	PinStart()
	PinStop()
	Unpin()

	AddListener(ServiceListener)
	RemoveListener(ServiceListener)

	GetLogBuffer() *LogBuffer
	GetLogType() LogType

	Record() *ServiceRecord
}

// ServiceListener observes state transitions of a Service.
type ServiceListener interface {
	ServiceEvent(svc Service, event ServiceEvent)
}

// pinState tracks the start/stop pins that hold a service in place
// regardless of what its dependency graph would otherwise request.
type pinState struct {
	stopPinned   bool // pinned stopped; Start() is a no-op while true
	startPinned  bool // pinned started, explicitly
	depsPinStart bool // pinned started transitively, via a hard dependent
}

func (p pinState) startHeld() bool { return p.startPinned || p.depsPinStart }

// pendingWork is the set of propagation actions a record still owes
// the next DoPropagation() pass. ServiceSet drains these through the
// propagation queue before any state actually transitions.
type pendingWork struct {
	acquire  bool // re-acquire hard dependencies
	release  bool // release held dependency acquisitions
	failure  bool // a hard dependency failed to start
	start    bool // (re)issue doStart
	stop     bool // (re)issue doStop
	pinCheck bool // dependent pin state may have changed, recheck
}

func (p pendingWork) any() bool {
	return p.acquire || p.release || p.failure || p.start || p.stop || p.pinCheck
}

// bootTiming records the three timestamps needed to report startup
// latency over the control socket (see the boot-time command).
type bootTiming struct {
	requestedAt time.Time // doStart() first called
	startedAt   time.Time // reached STARTED
	stoppedAt   time.Time // reached STOPPED
}

// ServiceRecord is the shared scheduling state every service kind
// embeds. It owns the dependency graph edges touching this service,
// the pending-propagation bits, and the STOPPED/STARTING/STARTED/
// STOPPING transition logic; concrete kinds only decide what BringUp
// and BringDown actually do to a process.
type ServiceRecord struct {
	self Service // back-pointer so shared code can call kind-specific hooks
	name string
	kind ServiceType

	state   ServiceState
	desired ServiceState

	autoRestart    AutoRestartMode
	smoothRecovery bool

	pins    pinState
	pending pendingWork

	awaitingDeps    bool // STARTING/STOPPING, still blocked on a dependency edge
	awaitingConsole bool // STARTING, queued for exclusive console access
	consoleHeld     bool
	explicitlyUp    bool // an operator/parent Start() is keeping refCount >= 1

	lastStartFailed  bool
	lastStartSkipped bool

	autoRestarting bool // a restart currently in flight is an auto-restart
	userRestarting bool // a restart currently in flight is an explicit one

	loading    bool
	forcedStop bool

	refCount int

	deps       []*ServiceDep // edges where this service is the dependent
	dependedBy []*ServiceDep // edges where this service is the dependency

	set *ServiceSet

	// services and serviceName hold the same values as set and name;
	// the process, bgprocess and scripted kinds refer to them by these names.
	services    *ServiceSet
	serviceName string

	listeners []ServiceListener

	stopSignal    syscall.Signal
	sockPath      string
	sockPerms     int
	lastStopReason  StoppedReason
	chainService  string // started once this service finishes, if eligible

	InPropQueue bool
	InStopQueue bool

	Flags ServiceFlags

	descDir string // directory the description file was loaded from

	timing bootTiming
}

// NewServiceRecord builds a ServiceRecord in its resting (STOPPED)
// state, ready to be embedded by a concrete service kind.
func NewServiceRecord(self Service, set *ServiceSet, name string, kind ServiceType) *ServiceRecord {
	return &ServiceRecord{
		self:        self,
		name:        name,
		kind:        kind,
		state:       StateStopped,
		desired:     StateStopped,
		autoRestart: RestartNever,
		stopSignal:  syscall.SIGTERM,
		set:         set,
		services:    set,
		serviceName: name,
	}
}

// --- Identity, state and dependency accessors ---

func (sr *ServiceRecord) Name() string              { return sr.name }
func (sr *ServiceRecord) Type() ServiceType          { return sr.kind }
func (sr *ServiceRecord) State() ServiceState        { return sr.state }
func (sr *ServiceRecord) TargetState() ServiceState  { return sr.desired }
func (sr *ServiceRecord) StopReason() StoppedReason  { return sr.lastStopReason }
func (sr *ServiceRecord) RequiredBy() int            { return sr.refCount }
func (sr *ServiceRecord) Dependencies() []*ServiceDep { return sr.deps }
func (sr *ServiceRecord) Dependents() []*ServiceDep   { return sr.dependedBy }
func (sr *ServiceRecord) Record() *ServiceRecord      { return sr }

// Defaults for service kinds that have no process of their own
// (internal, triggered); process-backed kinds override these.
func (sr *ServiceRecord) PID() int                 { return -1 }
func (sr *ServiceRecord) GetExitStatus() ExitStatus { return ExitStatus{} }
func (sr *ServiceRecord) BecomingInactive()         {}
func (sr *ServiceRecord) CheckRestart() bool        { return true }
func (sr *ServiceRecord) GetSmoothRecovery() bool   { return sr.smoothRecovery }
func (sr *ServiceRecord) GetLogBuffer() *LogBuffer   { return nil }
func (sr *ServiceRecord) GetLogType() LogType        { return LogNone }

// UnrecoverableStop stops the service with no possibility of restart,
// regardless of its autorestart setting.
func (sr *ServiceRecord) UnrecoverableStop() {
	sr.desired = StateStopped
	sr.ForcedStop()
}

func (sr *ServiceRecord) AddListener(l ServiceListener) {
	sr.listeners = append(sr.listeners, l)
}

func (sr *ServiceRecord) RemoveListener(l ServiceListener) {
	for i, existing := range sr.listeners {
		if existing == l {
			sr.listeners = append(sr.listeners[:i], sr.listeners[i+1:]...)
			return
		}
	}
}

func (sr *ServiceRecord) emit(event ServiceEvent) {
	for _, l := range sr.listeners {
		l.ServiceEvent(sr.self, event)
	}
}

// --- Configuration setters, called while building the record from a description ---

func (sr *ServiceRecord) SetAutoRestart(mode AutoRestartMode) { sr.autoRestart = mode }
func (sr *ServiceRecord) SetSmoothRecovery(v bool)            { sr.smoothRecovery = v }
func (sr *ServiceRecord) SetChainTo(name string)              { sr.chainService = name }
func (sr *ServiceRecord) SetServiceDscDir(dir string)         { sr.descDir = dir }
func (sr *ServiceRecord) SetTermSignal(sig syscall.Signal)    { sr.stopSignal = sig }
func (sr *ServiceRecord) SetFlags(flags ServiceFlags)         { sr.Flags = flags }

func (sr *ServiceRecord) SetSocketDetails(path string, perms int) {
	sr.sockPath = path
	sr.sockPerms = perms
}

// --- Status predicates used by the scheduler and by control-socket queries ---

func (sr *ServiceRecord) IsMarkedActive() bool    { return sr.explicitlyUp }
func (sr *ServiceRecord) IsStartPinned() bool     { return sr.pins.startHeld() }
func (sr *ServiceRecord) IsStopPinned() bool      { return sr.pins.stopPinned }
func (sr *ServiceRecord) DidStartFail() bool      { return sr.lastStartFailed }
func (sr *ServiceRecord) WasStartSkipped() bool   { return sr.lastStartSkipped }
func (sr *ServiceRecord) IsLoading() bool         { return sr.loading }
func (sr *ServiceRecord) HasConsole() bool        { return sr.consoleHeld }
func (sr *ServiceRecord) WaitingForConsole() bool { return sr.awaitingConsole }

func (sr *ServiceRecord) StartRequestTime() time.Time { return sr.timing.requestedAt }
func (sr *ServiceRecord) StartedTime() time.Time      { return sr.timing.startedAt }
func (sr *ServiceRecord) StoppedTime() time.Time      { return sr.timing.stoppedAt }

// StartupDuration is the time from the start request to reaching
// STARTED, or 0 if the service has never fully started.
func (sr *ServiceRecord) StartupDuration() time.Duration {
	if sr.timing.startedAt.IsZero() || sr.timing.requestedAt.IsZero() {
		return 0
	}
	return sr.timing.startedAt.Sub(sr.timing.requestedAt)
}

// IsFundamentallyStopped reports whether a service has no meaningful
// activity left to wait on: either fully STOPPED, or STARTING but
// still blocked on dependencies that haven't come up yet.
func (sr *ServiceRecord) IsFundamentallyStopped() bool {
	return sr.state == StateStopped || (sr.state == StateStarting && sr.awaitingDeps)
}

// CanInterruptStop reports whether a STOPPING service can reverse
// straight back to STARTED without waiting for BringDown to finish.
func (sr *ServiceRecord) CanInterruptStop() bool {
	return sr.awaitingDeps && !sr.forcedStop
}

// --- Top-level operations invoked by operators, dependents, or the control socket ---

// Start marks the service as explicitly wanted and kicks off doStart.
func (sr *ServiceRecord) Start() {
	if sr.pins.stopPinned {
		return
	}
	if !sr.explicitlyUp {
		sr.refCount++
		sr.explicitlyUp = true
	}
	sr.doStart()
}

// Stop drops explicit activation and, once nothing else needs the
// service, brings it down (immediately if bringDown is set).
func (sr *ServiceRecord) Stop(bringDown bool) {
	if sr.explicitlyUp {
		sr.explicitlyUp = false
		sr.refCount--
	}

	if bringDown || sr.refCount == 0 {
		sr.desired = StateStopped
	}
	if sr.pins.startHeld() {
		return
	}

	if sr.refCount == 0 {
		bringDown = true
		sr.queueRelease()
	}

	if bringDown && sr.state != StateStopped {
		sr.lastStopReason = ReasonNormal
		sr.doStop(false)
	}
}

// Restart restarts a STARTED service immediately, returning false if
// the service isn't running to begin with.
func (sr *ServiceRecord) Restart() bool {
	if sr.state != StateStarted {
		return false
	}
	sr.lastStopReason = ReasonNormal
	sr.forcedStop = true
	sr.doStop(true)
	return true
}

// ForcedStop stops the service (and propagates to hard dependents)
// bypassing pins that would otherwise hold it up — used for shutdown.
func (sr *ServiceRecord) ForcedStop() {
	if sr.state == StateStopped {
		return
	}
	sr.forcedStop = true
	if !sr.pins.startHeld() {
		sr.pending.stop = true
		sr.set.AddPropQueue(sr.self)
	}
}

// PinStart holds the service in STARTED. Hard dependencies are
// transitively pinned too, so that unpinning this service alone can't
// strand it without something it needs.
func (sr *ServiceRecord) PinStart() {
	if sr.pins.startPinned {
		return
	}
	if !sr.pins.depsPinStart {
		sr.propagatePinToHardDeps()
	}
	sr.pins.startPinned = true
}

// PinStop holds the service in STOPPED; Start() becomes a no-op.
func (sr *ServiceRecord) PinStop() {
	sr.pins.stopPinned = true
}

// Unpin releases both pins, re-evaluating whether the service should
// now stop (if it was only running because it was pinned).
func (sr *ServiceRecord) Unpin() {
	if sr.pins.startPinned {
		sr.pins.startPinned = false
		if !sr.pins.depsPinStart {
			sr.propagatePinToHardDeps()
			if sr.state == StateStarted {
				if sr.refCount == 0 {
					sr.pending.release = true
					sr.set.AddPropQueue(sr.self)
				}
				if sr.desired == StateStopped || sr.forcedStop {
					sr.doStop(false)
					sr.set.ProcessQueues()
				}
			}
		}
	}
	sr.pins.stopPinned = false
}

// propagatePinToHardDeps asks every hard dependency to recheck
// whether it's still transitively pinned now that this service's own
// pin state has changed.
func (sr *ServiceRecord) propagatePinToHardDeps() {
	for _, dep := range sr.deps {
		if !dep.IsHard() {
			continue
		}
		toRec := dep.To.Record()
		if !toRec.pins.depsPinStart {
			toRec.pending.pinCheck = true
			sr.set.AddPropQueue(dep.To)
		}
	}
}

// Require increments the reference count, starting the service if
// this is the first hold on it.
func (sr *ServiceRecord) Require() {
	sr.refCount++
	if sr.refCount != 1 {
		return
	}
	if sr.state != StateStarting && sr.state != StateStarted {
		sr.pending.start = true
		sr.set.AddPropQueue(sr.self)
	}
}

// Release drops a reference, stopping the service once the count
// reaches zero (unless issueStop is false, used during cascades where
// the caller will issue the stop itself).
func (sr *ServiceRecord) Release(issueStop bool) {
	sr.refCount--
	if sr.refCount != 0 {
		return
	}

	if sr.state == StateStopping && sr.desired == StateStarted && !sr.pins.startHeld() {
		sr.emit(EventStartCancelled)
	}
	sr.desired = StateStopped

	if sr.pins.startHeld() {
		return
	}
	sr.queueRelease()

	if sr.state != StateStopped && sr.state != StateStopping && issueStop {
		sr.lastStopReason = ReasonNormal
		sr.doStop(false)
	}
}

func (sr *ServiceRecord) queueRelease() {
	sr.pending.release = !sr.pending.acquire
	sr.pending.acquire = false
	if sr.pending.release {
		sr.set.AddPropQueue(sr.self)
	}
}

// ReleaseDependencies drops every dependency acquisition this record
// is still holding.
func (sr *ServiceRecord) ReleaseDependencies() {
	for _, dep := range sr.deps {
		if dep.HoldingAcq {
			dep.HoldingAcq = false
			dep.To.Record().Release(true)
		}
	}
}

// --- Propagation and transition queue processing (the heart of ProcessQueues) ---

// DoPropagation applies whichever pendingWork bits are set, in a fixed
// order: acquiring/releasing dependencies first, then failure/start/
// stop requests, then pin rechecks. Order matters — e.g. a failure
// must be applied before a fresh start request for the same pass.
func (sr *ServiceRecord) DoPropagation() {
	if sr.pending.acquire {
		sr.acquireDependencies()
		sr.pending.acquire = false
	}
	if sr.pending.release {
		sr.ReleaseDependencies()
		sr.pending.release = false
	}
	if sr.pending.failure {
		sr.pending.failure = false
		sr.lastStopReason = ReasonDepFailed
		sr.state = StateStopped
		sr.failedToStart(true, true)
	}
	if sr.pending.start {
		sr.pending.start = false
		sr.doStart()
	}
	if sr.pending.stop {
		sr.pending.stop = false
		sr.doStop(sr.userRestarting)
	}
	if sr.pending.pinCheck {
		sr.pending.pinCheck = false
		sr.recheckDependentPin()
	}
}

func (sr *ServiceRecord) acquireDependencies() {
	for _, dep := range sr.deps {
		if dep.IsOnlyOrdering() {
			continue
		}
		dep.To.Record().Require()
		dep.HoldingAcq = true
	}
}

// recheckDependentPin recomputes whether any hard dependent still
// needs this service pinned started, propagating further if that
// answer changed.
func (sr *ServiceRecord) recheckDependentPin() {
	pinned := false
	for _, dept := range sr.dependedBy {
		if dept.IsHard() && dept.From.Record().IsStartPinned() {
			pinned = true
			break
		}
	}
	if pinned == sr.pins.depsPinStart {
		return
	}
	sr.pins.depsPinStart = pinned

	for _, dep := range sr.deps {
		if !dep.IsHard() {
			continue
		}
		toRec := dep.To.Record()
		if toRec.pins.depsPinStart != pinned {
			toRec.pending.pinCheck = true
			sr.set.AddPropQueue(dep.To)
		}
	}

	if !sr.pins.startHeld() && sr.state == StateStarted &&
		(sr.desired == StateStopped || sr.forcedStop) {
		sr.doStop(false)
	}
}

// ExecuteTransition drives the actual BringUp/BringDown call once a
// STARTING or STOPPING service's blocking dependencies have cleared.
func (sr *ServiceRecord) ExecuteTransition() {
	switch sr.state {
	case StateStarting:
		if sr.checkDepsStarted() {
			sr.awaitingDeps = false
			sr.allDepsStarted()
		}
	case StateStopping:
		if sr.stopCheckDependents() {
			sr.awaitingDeps = false
			sr.self.BringDown()
		}
	}
}

// --- Starting ---

func (sr *ServiceRecord) doStart() {
	wasActive := sr.state != StateStopped
	if !wasActive {
		sr.timing.requestedAt = time.Now()
	}
	sr.desired = StateStarted

	if sr.pins.stopPinned {
		if !wasActive {
			sr.failedToStart(false, false)
		}
		return
	}

	if !wasActive {
		sr.reattachSoftDependents()
	}

	if wasActive {
		if sr.state != StateStopping || !sr.CanInterruptStop() {
			return
		}
		sr.emit(EventStopCancelled)
	} else {
		sr.set.ServiceActive(sr.self)
		sr.pending.acquire = !sr.pending.release
		sr.pending.release = false
		if sr.pending.acquire {
			sr.set.AddPropQueue(sr.self)
		}
	}

	sr.initiateStart()
}

// reattachSoftDependents re-acquires soft dependents that are already
// starting or started, so a restarted dependency picks them back up
// rather than leaving them permanently detached.
func (sr *ServiceRecord) reattachSoftDependents() {
	for _, dept := range sr.dependedBy {
		if dept.IsHard() {
			continue
		}
		fromState := dept.From.Record().state
		if !dept.HoldingAcq && (fromState == StateStarted || fromState == StateStarting) {
			dept.HoldingAcq = true
			sr.refCount++
		}
	}
}

func (sr *ServiceRecord) initiateStart() {
	sr.lastStartFailed = false
	sr.lastStartSkipped = false
	sr.state = StateStarting
	sr.awaitingDeps = true

	if sr.startCheckDependencies() {
		sr.set.AddTransitionQueue(sr.self)
	}
}

// startCheckDependencies marks every not-yet-started dependency (and
// ordering-only dependents that should wait behind us) and reports
// whether all of them are already up.
func (sr *ServiceRecord) startCheckDependencies() bool {
	allStarted := true
	for _, dep := range sr.deps {
		if dep.IsOnlyOrdering() && dep.To.State() != StateStarting {
			continue
		}
		if dep.To.State() != StateStarted {
			dep.WaitingOn = true
			allStarted = false
		}
	}
	for _, dept := range sr.dependedBy {
		if !dept.WaitingOn && dept.IsOnlyOrdering() && dept.From.State() == StateStarting {
			dept.WaitingOn = true
		}
	}
	return allStarted
}

func (sr *ServiceRecord) checkDepsStarted() bool {
	for _, dep := range sr.deps {
		if dep.WaitingOn {
			return false
		}
	}
	return true
}

func (sr *ServiceRecord) allDepsStarted() {
	if sr.Flags.StartsOnConsole && !sr.consoleHeld {
		sr.queueForConsole()
		return
	}
	sr.awaitingDeps = false
	if !sr.self.BringUp() {
		sr.state = StateStopping
		sr.failedToStart(false, true)
	}
}

// Started is called by a concrete service kind once BringUp has
// actually succeeded (the child process execed, the script finished,
// etc).
func (sr *ServiceRecord) Started() {
	if sr.consoleHeld && !sr.Flags.RunsOnConsole {
		sr.releaseConsole()
	}
	sr.timing.startedAt = time.Now()

	if sr.set.bootServiceName != "" && sr.name == sr.set.bootServiceName && sr.set.bootReadyTime.IsZero() {
		sr.set.bootReadyTime = time.Now()
	}

	sr.set.logger.ServiceStarted(sr.name)
	sr.state = StateStarted
	sr.emit(EventStarted)

	if sr.forcedStop || sr.desired == StateStopped {
		sr.doStop(false)
		return
	}

	for _, dept := range sr.dependedBy {
		if dept.WaitingOn {
			dept.From.Record().dependencyStarted()
			dept.WaitingOn = false
		}
	}
}

// --- Stopping ---

// Stopped is called by a concrete service kind once BringDown has
// actually completed (the child exited, the stop script ran, etc).
func (sr *ServiceRecord) Stopped() {
	sr.timing.stoppedAt = time.Now()
	if sr.consoleHeld {
		sr.releaseConsole()
	}
	sr.forcedStop = false

	willRestart := sr.desired == StateStarted && !sr.pins.stopPinned
	if !willRestart {
		sr.breakSoftDependents()
	}
	for _, dep := range sr.deps {
		dep.To.Record().dependentStopped()
	}

	sr.state = StateStopped

	if willRestart {
		sr.initiateStart()
	} else {
		sr.self.BecomingInactive()
		if sr.explicitlyUp {
			sr.explicitlyUp = false
			sr.Release(false)
		} else if sr.refCount == 0 {
			sr.set.ServiceInactive(sr.self)
		}
	}

	if !sr.lastStartFailed {
		sr.set.logger.ServiceStopped(sr.name)
		sr.maybeChain(willRestart)
	}
	sr.emit(EventStopped)
}

// breakSoftDependents detaches every soft dependent, since this
// service isn't coming back up to hold them.
func (sr *ServiceRecord) breakSoftDependents() {
	for _, dept := range sr.dependedBy {
		if dept.IsHard() {
			continue
		}
		if dept.WaitingOn {
			dept.WaitingOn = false
			dept.From.Record().dependencyStarted()
		}
		if dept.HoldingAcq {
			dept.HoldingAcq = false
			sr.Release(false)
		}
	}
}

// maybeChain starts the configured chain-to service, if this stop
// qualifies: either the service is flagged to always chain, or it
// exited cleanly on its own (not as part of a dependency-driven
// restart) and the system isn't shutting down.
func (sr *ServiceRecord) maybeChain(willRestart bool) {
	if sr.chainService == "" || sr.set.IsShuttingDown() {
		return
	}
	eligible := sr.Flags.AlwaysChain ||
		(sr.lastStopReason.DidFinish() && sr.self.GetExitStatus().Exited() &&
			sr.self.GetExitStatus().ExitCode() == 0 && !willRestart)
	if !eligible {
		return
	}
	next, err := sr.set.LoadService(sr.chainService)
	if err != nil {
		sr.set.logger.Error("Couldn't chain to service %s: %v", sr.chainService, err)
		return
	}
	next.Start()
}

// failedToStart unwinds a service that could not reach STARTED:
// cancels dependents waiting on it (or propagates failure to hard
// dependents that required it outright), and optionally runs the full
// Stopped() path immediately.
func (sr *ServiceRecord) failedToStart(depFailed bool, immediateStop bool) {
	sr.desired = StateStopped

	if sr.awaitingConsole {
		sr.set.UnqueueConsole(sr.self)
		sr.awaitingConsole = false
	}
	if sr.explicitlyUp {
		sr.explicitlyUp = false
		sr.Release(false)
	}

	sr.cancelDependentStarts()

	sr.lastStartFailed = true
	sr.set.logger.ServiceFailed(sr.name, depFailed)
	sr.emit(EventFailedStart)
	sr.pins.startPinned = false

	if immediateStop {
		sr.Stopped()
	}
}

func (sr *ServiceRecord) cancelDependentStarts() {
	for _, dept := range sr.dependedBy {
		switch dept.DepType {
		case DepRegular, DepMilestone:
			if dept.From.State() == StateStarting {
				dept.From.Record().pending.failure = true
				sr.set.AddPropQueue(dept.From)
			}
		case DepWaitsFor, DepSoft, DepBefore, DepAfter:
			if dept.WaitingOn {
				dept.WaitingOn = false
				dept.From.Record().dependencyStarted()
			}
		}
		if dept.HoldingAcq {
			dept.HoldingAcq = false
			sr.Release(false)
		}
	}
}

// doStop begins stopping the service, first deciding whether this is
// actually an (auto- or explicitly-requested) restart, then cascading
// the stop to hard dependents before touching our own state.
func (sr *ServiceRecord) doStop(withRestart bool) {
	if sr.pins.startHeld() {
		return
	}

	sr.autoRestarting = false
	sr.userRestarting = false

	forRestart := withRestart
	restartDeps := withRestart
	if !withRestart {
		forRestart = sr.decideAutoRestart()
	}

	if !forRestart && sr.explicitlyUp {
		sr.explicitlyUp = false
		sr.Release(false)
	}

	allDepsStopped := sr.stopDependents(forRestart, restartDeps)

	if sr.state == StateStarted {
		sr.state = StateStopping
		sr.awaitingDeps = !allDepsStopped
		if allDepsStopped {
			sr.set.AddTransitionQueue(sr.self)
		}
		return
	}

	if sr.state != StateStarting {
		return
	}
	if !sr.cancelStarting() {
		return
	}
	sr.emit(EventStartCancelled)
	sr.state = StateStopping
	sr.awaitingDeps = !allDepsStopped
	if allDepsStopped {
		sr.set.AddTransitionQueue(sr.self)
	}
}

// decideAutoRestart checks the autorestart policy against the last
// exit, arming sr.autoRestarting if a restart is warranted.
func (sr *ServiceRecord) decideAutoRestart() bool {
	if sr.desired != StateStarted {
		return false
	}
	switch sr.autoRestart {
	case RestartAlways:
		sr.autoRestarting = sr.self.CheckRestart()
		return sr.autoRestarting
	case RestartOnFailure:
		status := sr.self.GetExitStatus()
		if status.Signaled() || (status.Exited() && status.ExitCode() != 0) {
			sr.autoRestarting = sr.self.CheckRestart()
			return sr.autoRestarting
		}
	}
	return false
}

// cancelStarting is called from doStop for a STARTING service that
// isn't blocked on deps/console; it gives the concrete kind a chance
// to veto the cancellation (a process that already execed can't be
// un-started, for instance).
func (sr *ServiceRecord) cancelStarting() bool {
	if !sr.awaitingDeps && !sr.awaitingConsole {
		if !sr.self.CanInterruptStart() {
			return false
		}
		if !sr.self.InterruptStart() {
			sr.emit(EventStartCancelled)
			return false
		}
		return true
	}
	if sr.awaitingConsole {
		sr.set.UnqueueConsole(sr.self)
		sr.awaitingConsole = false
	}
	return true
}

func (sr *ServiceRecord) dependencyStarted() {
	if (sr.state == StateStarting || sr.state == StateStarted) && sr.awaitingDeps {
		sr.set.AddTransitionQueue(sr.self)
	}
}

func (sr *ServiceRecord) dependentStopped() {
	if sr.state == StateStopping && sr.awaitingDeps {
		sr.set.AddTransitionQueue(sr.self)
	}
}

func (sr *ServiceRecord) stopCheckDependents() bool {
	for _, dept := range sr.dependedBy {
		if dept.IsHard() && dept.HoldingAcq && !dept.WaitingOn {
			return false
		}
	}
	return true
}

// stopDependents cascades a stop (or dependency-restart) down to hard
// dependents and detaches soft ones, reporting whether every hard
// dependent has already reached a stopped-enough state.
func (sr *ServiceRecord) stopDependents(forRestart bool, restartDeps bool) bool {
	allStopped := true

	for _, dept := range sr.dependedBy {
		if !dept.IsHard() {
			if !forRestart {
				sr.detachSoftDependent(dept)
			}
			continue
		}

		depFrom := dept.From.Record()
		if !depFrom.IsFundamentallyStopped() {
			allStopped = false
		}

		if sr.forcedStop {
			if sr.desired == StateStopped {
				depFrom.lastStopReason = ReasonDepFailed
				depFrom.desired = StateStopped
			}
			depFrom.ForcedStop()
		}

		if dept.From.State() == StateStopped {
			continue
		}

		if sr.desired == StateStopped {
			if depFrom.desired != StateStopped {
				depFrom.desired = StateStopped
				if depFrom.explicitlyUp {
					depFrom.explicitlyUp = false
					depFrom.Release(true)
				}
				depFrom.pending.stop = true
				sr.set.AddPropQueue(dept.From)
			}
		} else if restartDeps && dept.From.State() != StateStopping {
			depFrom.lastStopReason = ReasonDepRestart
			depFrom.userRestarting = true
			depFrom.pending.stop = true
			sr.set.AddPropQueue(dept.From)
		}
	}

	return allStopped
}

func (sr *ServiceRecord) detachSoftDependent(dept *ServiceDep) {
	if dept.WaitingOn {
		dept.WaitingOn = false
		dept.From.Record().dependencyStarted()
	}
	if dept.HoldingAcq {
		dept.HoldingAcq = false
		sr.Release(false)
	}
}

// --- Console arbitration hooks (queue itself lives in ServiceSet) ---

func (sr *ServiceRecord) queueForConsole() {
	sr.awaitingConsole = true
	sr.set.AppendConsoleQueue(sr.self)
}

func (sr *ServiceRecord) releaseConsole() {
	sr.consoleHeld = false
	sr.set.PullConsoleQueue()
}

// AcquiredConsole is called by ServiceSet when this service reaches
// the front of the console queue and the console is now free.
func (sr *ServiceRecord) AcquiredConsole() {
	sr.awaitingConsole = false
	sr.consoleHeld = true

	if sr.state != StateStarting {
		sr.releaseConsole()
	} else if sr.checkDepsStarted() {
		sr.allDepsStarted()
	} else {
		sr.releaseConsole()
	}
}

// --- Dependency graph edits ---

// AddDep records a dependency from this service onto `to`, acquiring
// it immediately if this service is already starting/started and the
// dependency type calls for an acquisition.
func (sr *ServiceRecord) AddDep(to Service, depType DependencyType) *ServiceDep {
	dep := NewServiceDep(sr.self, to, depType)
	sr.deps = append(sr.deps, dep)

	toRec := to.Record()
	toRec.dependedBy = append(toRec.dependedBy, dep)

	if depType != DepBefore && depType != DepAfter {
		acquirable := depType == DepRegular || to.State() == StateStarted || to.State() == StateStarting
		if acquirable && (sr.state == StateStarting || sr.state == StateStarted) {
			toRec.Require()
			dep.HoldingAcq = true
		}
	}

	return dep
}

// RmDep removes the first dependency of depType pointing at `to`,
// reporting whether one was found.
func (sr *ServiceRecord) RmDep(to Service, depType DependencyType) bool {
	for i, dep := range sr.deps {
		if dep.To == to && dep.DepType == depType {
			sr.removeDepAt(i)
			return true
		}
	}
	return false
}

func (sr *ServiceRecord) removeDepAt(i int) {
	dep := sr.deps[i]
	toRec := dep.To.Record()

	for j, d := range toRec.dependedBy {
		if d == dep {
			toRec.dependedBy = append(toRec.dependedBy[:j], toRec.dependedBy[j+1:]...)
			break
		}
	}
	if dep.HoldingAcq {
		toRec.Release(true)
	}
	sr.deps = append(sr.deps[:i], sr.deps[i+1:]...)
}

// SetDependents replaces the dependedBy slice wholesale; used by the
// loader when reload transfers dependents from an old record to a
// freshly-parsed replacement.
func (sr *ServiceRecord) SetDependents(deps []*ServiceDep) {
	sr.dependedBy = deps
}

// ClearDependencies drops this record's own dependency edges without
// touching the targets' dependedBy lists (the caller is responsible
// for that, typically because it's about to discard the record).
func (sr *ServiceRecord) ClearDependencies() {
	sr.deps = nil
}
