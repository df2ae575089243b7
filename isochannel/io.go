package isochannel

import (
	"time"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
	"github.com/LoveWonYoung/iso15765proxy/transfer"
)

// WriteMsgs implements spec.md §4.4 "write_msgs": for each logical message
// in the batch, in order, locate a Transfer via ByFlowControl and drive its
// WriteMsg. A message with no matching Transfer is skipped silently; a
// protocol failure on one message never aborts the batch. The returned
// count is always accurate even when the deadline cuts the batch short
// (spec.md §7's closing paragraph: batch operations report progress, they
// never abort as an operation).
func (a *Adapter) WriteMsgs(batch []passthru.Msg, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	count := 0

	for i := range batch {
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}

		logical := &batch[i]
		f, ok := a.registry.ByFlowControlMsg(logical)
		if !ok {
			a.log.Printf("isochannel: no flow-control filter for outbound message, skipping")
			continue
		}

		if err := f.Transfer.WriteMsg(a.raw, logical, remain); err != nil {
			a.log.Printf("isochannel: write_msg failed: %v", err)
			continue
		}
		count++
	}
	return count, nil
}

// ReadMsgs implements spec.md §4.4 "read_msgs": fill up to len(out) slots,
// each by reading raw CAN frames one at a time and feeding them to the
// Transfer selected by ByPattern, until that Transfer reports Complete or
// the batch deadline expires.
func (a *Adapter) ReadMsgs(out []passthru.Msg, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	count := 0

	for count < len(out) {
		remain := time.Until(deadline)
		if remain <= 0 {
			break
		}
		got, done := a.fillOneSlot(&out[count], deadline)
		if got {
			count++
		}
		if done {
			break
		}
	}
	return count, nil
}

// fillOneSlot reads raw CAN frames until one Transfer completes a logical
// message into *slot, or the deadline is reached. It returns (true, _) iff
// slot was filled, and (_, true) iff the caller should stop trying
// further slots (deadline reached).
func (a *Adapter) fillOneSlot(slot *passthru.Msg, deadline time.Time) (filled, timedOut bool) {
	for {
		remain := time.Until(deadline)
		if remain <= 0 {
			return false, true
		}

		var frame [1]passthru.Msg
		n, err := a.raw.ReadMsgs(frame[:], remain)
		if err != nil || n != 1 {
			return false, true
		}

		f, ok := a.registry.ByPatternMsg(&frame[0])
		if !ok {
			// Unmatched PID: drop the frame without side effects
			// and keep reading for this slot (spec.md §8 property 6).
			continue
		}

		remainAfterRead := time.Until(deadline)
		result, err := f.Transfer.ReadMsg(a.raw, a.config, &frame[0], slot, remainAfterRead)
		switch result {
		case transfer.Complete:
			return true, false
		case transfer.Pending, transfer.Failed:
			if err != nil {
				a.log.Printf("isochannel: read_msg: %v", err)
			}
			continue
		}
	}
}
