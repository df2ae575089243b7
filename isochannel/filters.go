package isochannel

import (
	"github.com/LoveWonYoung/iso15765proxy/filterreg"
	"github.com/LoveWonYoung/iso15765proxy/passthru"
	"github.com/LoveWonYoung/iso15765proxy/transfer"
)

// StartMsgFilter implements spec.md §4.4 "start_msg_filter". For
// FLOW_CONTROL_FILTER, all three of mask/pattern/flowControl must be
// non-nil; the adapter installs a sanitised plain pass-filter on the
// wrapped CAN channel and constructs a Transfer from the original PIDs.
// Any other filter type is delegated untouched.
func (a *Adapter) StartMsgFilter(filterType passthru.FilterType, mask, pattern, flowControl *passthru.Msg) (passthru.FilterID, error) {
	if filterType != passthru.FlowControlFilter {
		return a.raw.StartMsgFilter(filterType, mask, pattern)
	}

	if mask == nil || pattern == nil || flowControl == nil {
		return 0, passthru.ErrNullParameter
	}

	sanitisedMask := sanitiseForCAN(*mask)
	sanitisedPattern := sanitiseForCAN(*pattern)

	underlyingID, err := a.raw.StartMsgFilter(passthru.PassFilter, &sanitisedMask, &sanitisedPattern)
	if err != nil {
		return 0, err
	}

	maskPID, err := mask.PID()
	if err != nil {
		a.raw.StopMsgFilter(underlyingID)
		return 0, err
	}
	patternPID, err := pattern.PID()
	if err != nil {
		a.raw.StopMsgFilter(underlyingID)
		return 0, err
	}
	flowControlPID, err := flowControl.PID()
	if err != nil {
		a.raw.StopMsgFilter(underlyingID)
		return 0, err
	}

	tr := transfer.New(maskPID, patternPID, flowControlPID)
	id := a.ids.allocate()
	a.registry.Add(&filterreg.Filter{
		ID:           id,
		Transfer:     tr,
		UnderlyingID: underlyingID,
	})
	return id, nil
}

// sanitiseForCAN copies msg with its protocol retagged to CAN and the
// ISO15765-only receive-status/transmit-flag bits cleared, matching the
// original's prepareSentMessageHeaders-style stripping before the mask and
// pattern reach the wrapped channel's plain pass-filter.
func sanitiseForCAN(msg passthru.Msg) passthru.Msg {
	msg.ProtocolID = passthru.ProtocolCAN
	msg.RxStatus &^= passthru.RxStatusISO15765PaddingError | passthru.RxStatusISO15765AddrType
	msg.TxFlags &^= passthru.TxFlagISO15765FramePad
	return msg
}

// StopMsgFilter implements spec.md §4.4 "stop_msg_filter": if id names a
// registered Filter, it and its underlying CAN-layer filter are torn down;
// otherwise the call is delegated to the wrapped channel.
func (a *Adapter) StopMsgFilter(id passthru.FilterID) error {
	if f, ok := a.registry.Remove(id); ok {
		return a.raw.StopMsgFilter(f.UnderlyingID)
	}
	return a.raw.StopMsgFilter(id)
}

// ClearMessageFilters empties the local registry without tearing down the
// underlying CAN-layer filters (spec.md §4.4 "clear_message_filters empties
// the local registry") — mirroring the original's
// ChannelISO15765::clearMessageFilters. Real teardown of an individual
// filter's underlying CAN-layer filter happens via StopMsgFilter.
func (a *Adapter) ClearMessageFilters() error {
	a.registry.Clear()
	return nil
}
