package asyncmqtt

import (
	"errors"
)

var (
	ErrQuotaExceeded = errors.New("in-flight quota exceeded")
)

// FlowController limits the number of outgoing QoS 1 and QoS 2 PUBLISH
// packets awaiting PUBACK or PUBCOMP. A maximum of zero means unlimited.
//
// Not safe for concurrent use.
type FlowController struct {
	maximum  int
	inFlight map[uint16]struct{}
}

// NewFlowController creates a flow controller with the given maximum.
func NewFlowController(maximum int) *FlowController {
	return &FlowController{
		maximum:  max(maximum, 0),
		inFlight: make(map[uint16]struct{}),
	}
}

// Maximum returns the configured maximum. Zero means unlimited.
func (f *FlowController) Maximum() int {
	return f.maximum
}

// InFlight returns the number of unacknowledged publishes.
func (f *FlowController) InFlight() int {
	return len(f.inFlight)
}

// CanSend returns true if another publish may be sent.
func (f *FlowController) CanSend() bool {
	return f.maximum == 0 || len(f.inFlight) < f.maximum
}

// Contains returns true if id holds a slot.
func (f *FlowController) Contains(id uint16) bool {
	_, ok := f.inFlight[id]
	return ok
}

// Acquire records id as in flight. Re-acquiring an id already in flight
// always succeeds, so retransmissions are not counted twice.
func (f *FlowController) Acquire(id uint16) error {
	if _, ok := f.inFlight[id]; ok {
		return nil
	}
	if !f.CanSend() {
		return ErrQuotaExceeded
	}
	f.inFlight[id] = struct{}{}
	return nil
}

// Release frees the slot held by id. It returns false for unknown ids.
func (f *FlowController) Release(id uint16) bool {
	if _, ok := f.inFlight[id]; !ok {
		return false
	}
	delete(f.inFlight, id)
	return true
}

// Reset releases every slot.
func (f *FlowController) Reset() {
	clear(f.inFlight)
}
