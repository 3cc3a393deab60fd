package service

// InternalService represents a placeholder/milestone target with no
// backing process: a pure dependency-graph node such as a boot target
// that exists only to gather other services under one name. Reaching
// STARTED and STOPPED is instantaneous — there is nothing to wait for.
type InternalService struct {
	ServiceRecord
}

// NewInternalService creates a milestone-style service that starts
// and stops instantly.
func NewInternalService(set *ServiceSet, name string) *InternalService {
	svc := &InternalService{}
	svc.ServiceRecord = *NewServiceRecord(svc, set, name, TypeInternal)
	return svc
}

func (s *InternalService) BringUp() bool {
	s.Started()
	return true
}

func (s *InternalService) BringDown() {
	s.Stopped()
}

// CanInterruptStart and InterruptStart both return true: an internal
// service has no in-flight action to abandon, so a stop request
// during STARTING can always proceed immediately.
func (s *InternalService) CanInterruptStart() bool { return true }
func (s *InternalService) InterruptStart() bool    { return true }
