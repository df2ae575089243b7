package isochannel

import (
	"time"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
)

// PeriodicID identifies a periodic message scheduled on the wrapped
// channel. The Channel Adapter never schedules periodic messages itself
// (spec.md §1 non-goals); it only forwards the calls.
type PeriodicID uint32

// PeriodicScheduler is the subset of RawChannel capability a wrapped
// channel needs to support StartPeriodicMsg/StopPeriodicMsg. It is kept
// separate from RawChannel itself because not every RawChannel
// implementation (e.g. a bare loopback bus used in tests) needs to support
// periodic scheduling.
type PeriodicScheduler interface {
	StartPeriodicMsg(msg *passthru.Msg, interval time.Duration) (PeriodicID, error)
	StopPeriodicMsg(id PeriodicID) error
}

// StartPeriodicMsg delegates unchanged to the wrapped channel (spec.md
// §4.4 "Other operations").
func (a *Adapter) StartPeriodicMsg(msg *passthru.Msg, interval time.Duration) (PeriodicID, error) {
	sched, ok := a.raw.(PeriodicScheduler)
	if !ok {
		return 0, passthru.ErrUnsupportedOperation
	}
	return sched.StartPeriodicMsg(msg, interval)
}

// StopPeriodicMsg delegates unchanged to the wrapped channel.
func (a *Adapter) StopPeriodicMsg(id PeriodicID) error {
	sched, ok := a.raw.(PeriodicScheduler)
	if !ok {
		return passthru.ErrUnsupportedOperation
	}
	return sched.StopPeriodicMsg(id)
}
