// Package filterreg implements the ordered Filter Registry of spec.md §4.3:
// first-match-wins routing of inbound CAN frames to a Transfer by pattern,
// and of outbound logical messages to a Transfer by flow-control PID.
package filterreg

import (
	"sync"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
	"github.com/LoveWonYoung/iso15765proxy/pidcodec"
	"github.com/LoveWonYoung/iso15765proxy/transfer"
)

// Filter holds a reference to a Transfer, the mask/pattern/flow-control
// PIDs it was installed with, and a handle to the plain pass-filter
// previously installed on the wrapped raw CAN channel (spec.md §3
// "Filter"). The underlying-filter handle is opaque to the registry; it is
// the Channel Adapter's job to tear it down when the Filter is removed.
type Filter struct {
	ID             passthru.FilterID
	Transfer       *transfer.Transfer
	UnderlyingID   passthru.FilterID
}

// Registry is an ordered collection of Filters attached to one logical
// channel. The linear scans in ByPattern/ByFlowControl are adequate for
// the small filter counts typical in diagnostics (spec.md §9); an indexed
// lookup would be a valid optimisation as long as it preserves
// first-match-wins ordering for overlapping masks, which this slice-backed
// implementation does by construction.
type Registry struct {
	mu      sync.Mutex
	filters []*Filter
}

// New creates an empty Filter Registry.
func New() *Registry {
	return &Registry{}
}

// Add appends a Filter to the registry, making it the last match
// considered by ByPattern/ByFlowControl among any overlapping filters
// already installed.
func (r *Registry) Add(f *Filter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.filters = append(r.filters, f)
}

// Remove deletes the Filter with the given ID, reporting whether it was
// found. It does not tear down the underlying CAN-layer filter; that is the
// Channel Adapter's responsibility once Remove confirms the Filter existed.
func (r *Registry) Remove(id passthru.FilterID) (*Filter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, f := range r.filters {
		if f.ID == id {
			r.filters = append(r.filters[:i:i], r.filters[i+1:]...)
			return f, true
		}
	}
	return nil, false
}

// Clear empties the registry (stop_msg_filter for "all", via
// clear_message_filters). It returns the removed filters so the caller can
// tear down their underlying CAN-layer filters.
func (r *Registry) Clear() []*Filter {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := r.filters
	r.filters = nil
	return removed
}

// ByPattern returns the first Filter whose Transfer's pattern matches the
// frame's PID under its mask, used for inbound frame dispatch (spec.md §8
// property 6). Ties are broken by insertion order.
func (r *Registry) ByPattern(pid uint32) (*Filter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.filters {
		if f.Transfer.PatternPID() == pid&f.Transfer.MaskPID() {
			return f, true
		}
	}
	return nil, false
}

// ByFlowControl returns the first Filter whose Transfer's flow-control PID
// equals the logical message's PID, used for outbound dispatch.
func (r *Registry) ByFlowControl(pid uint32) (*Filter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, f := range r.filters {
		if f.Transfer.FlowControlPID() == pid {
			return f, true
		}
	}
	return nil, false
}

// pidOf is a small helper so callers can pass a *passthru.Msg directly
// without repeating the unpack-or-zero dance at every call site.
func pidOf(msg *passthru.Msg) uint32 {
	if msg.DataSize < 4 {
		return 0
	}
	return pidcodec.UnpackPID([4]byte(msg.Data[0:4]))
}

// ByPatternMsg is ByPattern convenience wrapper taking a raw frame.
func (r *Registry) ByPatternMsg(frame *passthru.Msg) (*Filter, bool) {
	return r.ByPattern(pidOf(frame))
}

// ByFlowControlMsg is ByFlowControl's convenience wrapper taking a logical
// message.
func (r *Registry) ByFlowControlMsg(logical *passthru.Msg) (*Filter, bool) {
	return r.ByFlowControl(pidOf(logical))
}
