package service

// ServiceDep is one edge of the dependency graph: From depends on To,
// with DepType governing how a state change in To propagates back to
// From. The same struct instance is reachable from both ends — From's
// ServiceRecord.deps and To's ServiceRecord.dependedBy both hold a
// pointer to it, so mutating WaitingOn/HoldingAcq on one side is
// immediately visible from the other.
type ServiceDep struct {
	From Service
	To   Service

	WaitingOn  bool // From is blocked on To starting (or failing)
	HoldingAcq bool // From currently holds a Require() on To

	DepType DependencyType
}

// NewServiceDep links from -> to with the given relationship. Callers
// normally go through ServiceRecord.AddDep rather than calling this
// directly, since AddDep also wires the reverse dependedBy edge and
// acquires the dependency if appropriate.
func NewServiceDep(from, to Service, depType DependencyType) *ServiceDep {
	return &ServiceDep{From: from, To: to, DepType: depType}
}

// IsHard reports whether a failure or stop of To must cascade to
// From. REGULAR is always hard; MILESTONE is hard only until it's
// been satisfied once (WaitingOn clears), after which it behaves like
// a SOFT dependency. WAITS_FOR, SOFT, BEFORE and AFTER are never hard.
func (d *ServiceDep) IsHard() bool {
	return d.DepType == DepRegular || (d.DepType == DepMilestone && d.WaitingOn)
}

// IsOnlyOrdering reports whether this edge exists purely to sequence
// startup (BEFORE/AFTER) and carries no require/release or
// stop-cascade semantics at all.
func (d *ServiceDep) IsOnlyOrdering() bool {
	return d.DepType == DepBefore || d.DepType == DepAfter
}

// PrelimDep is a not-yet-resolved dependency target read off a service
// description file, before the loader has turned the name into a
// loaded Service and can call AddDep.
type PrelimDep struct {
	To      string
	DepType DependencyType
}
