// Package transfer implements the per-filter ISO 15765-2 segmentation and
// reassembly state machine (spec.md §4.2): the core of the proxy. A
// Transfer owns exactly one in-flight segmented message, in either
// direction, and is driven synchronously by the Channel Adapter — there is
// no goroutine or timer loop here, matching spec.md §5.
package transfer

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
	"github.com/LoveWonYoung/iso15765proxy/pidcodec"
)

// State is one of the three states a Transfer can be in. Using a distinct
// type (rather than a flat struct whose fields are valid only in some
// states) is the tagged-variant redesign spec.md §9 calls for; Reset is the
// single place that can return a Transfer to StateStart, and it always
// zeroes offset/sequence/bs/stmin together, so the invariant of spec.md §3
// holds by construction.
type State int

const (
	StateStart State = iota
	StateFlowControl
	StateBlock
)

// Result reports the outcome of a single inbound ReadMsg call.
type Result int

const (
	Complete Result = iota
	Pending
	Failed
)

var (
	errWrongState       = errors.New("transfer: wrong state for this frame")
	errWrongPID         = errors.New("transfer: PID does not match filter mask/pattern")
	errUnexpectedFrame  = errors.New("transfer: unexpected frame kind for current state")
	errSequenceMismatch = errors.New("transfer: consecutive-frame sequence mismatch")
	errShortWrite       = errors.New("transfer: underlying channel did not accept exactly one frame")
	errShortRead        = errors.New("transfer: underlying channel did not return exactly one frame")
)

// Logger is the minimal interface the core uses for diagnostics, so tests
// can inject a silent or capturing logger instead of the package-global
// log.Default(). Grounded in the teacher's direct log.Printf calls
// (driver/adapter.go), generalised one step so the core is not hard-wired
// to the global logger.
type Logger interface {
	Printf(format string, args ...any)
}

// rawChannel is the narrow subset of isochannel.RawChannel the Transfer
// needs: one blocking read and one blocking write of CAN frames. Declaring
// it locally (rather than importing isochannel) keeps transfer leaves-first
// relative to the channel adapter, which is the dependency direction
// spec.md §2 specifies.
type rawChannel interface {
	ReadMsgs(out []passthru.Msg, timeout time.Duration) (int, error)
	WriteMsgs(in []passthru.Msg, timeout time.Duration) (int, error)
}

// ConfigReader is the read side of the Channel Adapter's configuration
// store: Transfer consults it for ISO15765_BS/ISO15765_STMIN every time it
// emits a Flow Control, exactly as the original's sendFlowControlMessage
// re-reads the channel configuration on every call rather than caching it.
type ConfigReader interface {
	Get(param passthru.ConfigParam) uint32
}

// Transfer owns the state of exactly one in-flight segmented message,
// inbound or outbound, for one Filter (spec.md §3 "Transfer").
type Transfer struct {
	maskPID         uint32
	patternPID      uint32
	flowControlPID  uint32

	state    State
	buffer   passthru.Msg
	offset   int
	sequence int
	bs       int
	stmin    time.Duration

	log Logger
}

// New creates a Transfer bound to a Filter's mask/pattern/flow-control PID
// triple. It starts in StateStart with all per-transfer fields zeroed.
func New(maskPID, patternPID, flowControlPID uint32) *Transfer {
	return &Transfer{
		maskPID:        maskPID,
		patternPID:     patternPID,
		flowControlPID: flowControlPID,
		log:            log.Default(),
	}
}

// SetLogger overrides the diagnostic logger, nil reverts to log.Default().
func (t *Transfer) SetLogger(l Logger) {
	if l == nil {
		l = log.Default()
	}
	t.log = l
}

// State returns the Transfer's current state, for tests asserting the
// reset-on-error invariant (spec.md §8 property 7).
func (t *Transfer) State() State { return t.state }

// MaskPID, PatternPID and FlowControlPID expose the filter triple this
// Transfer was constructed with, for the Filter Registry's lookups.
func (t *Transfer) MaskPID() uint32        { return t.maskPID }
func (t *Transfer) PatternPID() uint32     { return t.patternPID }
func (t *Transfer) FlowControlPID() uint32 { return t.flowControlPID }

// Idle reports whether the Transfer holds no per-transfer state, i.e. its
// invariant equivalent of state == StateStart (spec.md §3).
func (t *Transfer) Idle() bool {
	return t.state == StateStart && t.offset == 0 && t.sequence == 0 && t.bs == 0 && t.stmin == 0
}

// Reset returns the Transfer to StateStart and zeroes every per-transfer
// field. It is the sole place capable of producing that state, which is
// what keeps the spec.md §3 invariant true by construction.
func (t *Transfer) Reset() {
	t.state = StateStart
	t.buffer = passthru.Msg{}
	t.offset = 0
	t.sequence = 0
	t.bs = 0
	t.stmin = 0
}

// sfCfPayload and ffPayload are the number of payload bytes available to a
// Single Frame/Consecutive Frame (7) vs. a First Frame (6), once the PCI
// byte (and for First Frame, the length byte) are accounted for.
const (
	sfCfPayload = 7
	ffPayload   = 6
)

// remaining returns min(totalLength - offset, 7). The outbound path passes
// the logical message's DataSize as totalLength; readBlock passes the
// reassembly buffer's DataSize, which readStart set to 4 plus the First
// Frame's total length.
func remaining(totalLength, offset int) int {
	n := totalLength - offset
	if n > sfCfPayload {
		n = sfCfPayload
	}
	return n
}

// WriteMsg drives the outbound path (spec.md §4.2.1). logical must carry a
// 4-byte CAN-id prefix in Data[0:4] followed by the payload to segment.
// WriteMsg blocks until the whole message has been transferred, the
// deadline derived from timeout expires, or a protocol failure occurs; in
// each of those cases the Transfer is reset before returning. A logical
// message shorter than 4 bytes is rejected with ErrInvalidMsg without
// touching the Transfer's state.
func (t *Transfer) WriteMsg(ch rawChannel, logical *passthru.Msg, timeout time.Duration) error {
	if logical.DataSize < 4 {
		return passthru.ErrInvalidMsg
	}
	if t.state != StateStart {
		t.log.Printf("transfer: WriteMsg called while not idle, resetting")
		t.Reset()
		return errWrongState
	}

	deadline := time.Now().Add(timeout)

	for t.offset < logical.DataSize {
		remain := time.Until(deadline)
		if remain <= 0 {
			t.Reset()
			return passthru.ErrTimeout
		}

		switch t.state {
		case StateStart:
			if err := t.writeStart(ch, logical, remain); err != nil {
				t.Reset()
				return err
			}
		case StateFlowControl:
			if err := t.awaitFlowControl(ch, remain); err != nil {
				t.Reset()
				return err
			}
		case StateBlock:
			if err := t.writeBlockFrame(ch, logical, remain); err != nil {
				t.Reset()
				return err
			}
		default:
			t.Reset()
			return errWrongState
		}
	}

	t.Reset()
	return nil
}

func (t *Transfer) writeStart(ch rawChannel, logical *passthru.Msg, timeout time.Duration) error {
	t.offset = 4
	total := logical.DataSize - t.offset
	chunk := remaining(logical.DataSize, t.offset)

	var frame passthru.Msg
	t.prepareSentHeaders(&frame, logical)

	if chunk < total {
		// First Frame: 12-bit total length, 6 data bytes.
		frame.Data[4] = pidcodec.PCIByte(pidcodec.FirstFrame) | byte((total>>8)&0x0F)
		frame.Data[5] = byte(total & 0xFF)
		copy(frame.Data[6:6+ffPayload], logical.Data[t.offset:t.offset+ffPayload])
		frame.DataSize = 6 + ffPayload
		t.sequence = 1
		t.offset += ffPayload
		t.state = StateFlowControl
	} else {
		// Single Frame: the whole message fits in one frame.
		frame.Data[4] = pidcodec.PCIByte(pidcodec.SingleFrame) | byte(chunk&0x0F)
		copy(frame.Data[5:5+chunk], logical.Data[t.offset:t.offset+chunk])
		frame.DataSize = 5 + chunk
		t.offset += chunk
		// Single Frame completes the transfer with no Flow Control
		// exchanged; t.offset now equals logical.DataSize so the
		// caller's loop exits without visiting StateFlowControl.
		t.state = StateFlowControl
	}

	t.padIfRequested(&frame, logical)

	return t.writeOneFrame(ch, &frame, timeout)
}

func (t *Transfer) awaitFlowControl(ch rawChannel, timeout time.Duration) error {
	var in [1]passthru.Msg
	n, err := ch.ReadMsgs(in[:], timeout)
	if err != nil {
		return err
	}
	if n != 1 {
		return errShortRead
	}
	frame := &in[0]
	if frame.DataSize < 4 {
		return passthru.ErrInvalidMsg
	}
	pid, err := frame.PID()
	if err != nil {
		return err
	}
	if pid&t.maskPID != t.patternPID {
		return errWrongPID
	}
	if pidcodec.FrameKindOf(frame.Data[4]) != pidcodec.FlowControl {
		return fmt.Errorf("transfer: expected flow control frame, got kind %v", pidcodec.FrameKindOf(frame.Data[4]))
	}

	t.bs = int(frame.Data[5])
	t.stmin = time.Duration(frame.Data[6]) * time.Millisecond
	time.Sleep(t.stmin)
	t.state = StateBlock
	return nil
}

func (t *Transfer) writeBlockFrame(ch rawChannel, logical *passthru.Msg, timeout time.Duration) error {
	var frame passthru.Msg
	t.prepareSentHeaders(&frame, logical)

	chunk := remaining(logical.DataSize, t.offset)
	frame.Data[4] = pidcodec.PCIByte(pidcodec.ConsecutiveFrame) | byte(t.sequence&0x0F)
	copy(frame.Data[5:5+chunk], logical.Data[t.offset:t.offset+chunk])
	frame.DataSize = 5 + chunk

	t.sequence = (t.sequence + 1) % 16
	t.offset += chunk

	t.padIfRequested(&frame, logical)

	if err := t.writeOneFrame(ch, &frame, timeout); err != nil {
		return err
	}

	// BS == 0 means "no blocking limit": the peer asked for every
	// remaining frame in a single block, so the countdown never fires
	// again (spec.md §8 property 4). Any positive BS counts down
	// normally to the next Flow Control wait.
	if t.bs > 0 {
		t.bs--
		if t.bs <= 0 {
			t.state = StateFlowControl
			return nil
		}
	}
	time.Sleep(t.stmin)
	return nil
}

// ReadMsg drives the inbound path (spec.md §4.2.2). incoming is a single
// raw CAN frame already routed to this Transfer by the Filter Registry.
// On Complete, *out holds the reassembled logical message and the Transfer
// has been reset; on Failed the Transfer has been reset and no partial
// message is ever delivered (spec.md §8 property 7).
func (t *Transfer) ReadMsg(ch rawChannel, cfg ConfigReader, incoming *passthru.Msg, out *passthru.Msg, timeout time.Duration) (Result, error) {
	if incoming.DataSize < 4 {
		t.Reset()
		return Failed, passthru.ErrInvalidMsg
	}
	pid, err := incoming.PID()
	if err != nil {
		t.Reset()
		return Failed, err
	}
	if pid&t.maskPID != t.patternPID {
		t.Reset()
		return Failed, errWrongPID
	}

	kind := pidcodec.FrameKindOf(incoming.Data[4])

	switch t.state {
	case StateStart:
		return t.readStart(ch, cfg, incoming, out, kind, timeout)
	case StateBlock:
		return t.readBlock(ch, cfg, incoming, out, kind, timeout)
	default:
		t.Reset()
		return Failed, errWrongState
	}
}

func (t *Transfer) readStart(ch rawChannel, cfg ConfigReader, incoming, out *passthru.Msg, kind pidcodec.FrameKind, timeout time.Duration) (Result, error) {
	t.prepareReceivedHeaders(incoming)
	t.offset = 4

	switch kind {
	case pidcodec.SingleFrame:
		length := int(incoming.Data[4] & 0x0F)
		copy(t.buffer.Data[t.offset:t.offset+length], incoming.Data[5:5+length])
		t.buffer.DataSize = t.offset + length
		*out = t.buffer
		t.Reset()
		return Complete, nil

	case pidcodec.FirstFrame:
		total := (int(incoming.Data[4]&0x0F) << 8) | int(incoming.Data[5])
		t.buffer.DataSize = 4 + total
		copy(t.buffer.Data[t.offset:t.offset+ffPayload], incoming.Data[6:6+ffPayload])
		t.offset = 10
		t.sequence = 1

		if err := t.sendFlowControl(ch, cfg, timeout); err != nil {
			t.Reset()
			return Failed, err
		}
		t.state = StateBlock
		return Pending, nil

	default:
		t.Reset()
		return Failed, errUnexpectedFrame
	}
}

func (t *Transfer) readBlock(ch rawChannel, cfg ConfigReader, incoming, out *passthru.Msg, kind pidcodec.FrameKind, timeout time.Duration) (Result, error) {
	// spec.md §9 REDESIGN FLAG: the original accepted any frame here and
	// read its low nibble as a sequence number, so a stray SF/FF/FC frame
	// mid-reassembly was silently consumed. Tighten: require a
	// Consecutive Frame before inspecting the sequence nibble.
	if kind != pidcodec.ConsecutiveFrame {
		t.Reset()
		return Failed, errUnexpectedFrame
	}

	seq := int(incoming.Data[4] & 0x0F)
	if seq != t.sequence&0x0F {
		t.Reset()
		return Failed, errSequenceMismatch
	}

	chunk := remaining(t.buffer.DataSize, t.offset)
	copy(t.buffer.Data[t.offset:t.offset+chunk], incoming.Data[5:5+chunk])
	t.sequence = (t.sequence + 1) % 16
	t.offset += chunk

	// Same BS == 0 "unlimited block" treatment as the outbound path.
	if t.bs > 0 {
		t.bs--
		if t.bs <= 0 {
			if err := t.sendFlowControl(ch, cfg, timeout); err != nil {
				t.Reset()
				return Failed, err
			}
		}
	}

	if t.offset >= t.buffer.DataSize {
		*out = t.buffer
		t.Reset()
		return Complete, nil
	}
	return Pending, nil
}

// sendFlowControl implements spec.md §4.2.3: read BS/STmin from the
// channel's configuration store at the moment of sending, assign them to
// this Transfer (so subsequent inbound Consecutive Frames are counted
// against this block), and write a single Flow Control frame.
func (t *Transfer) sendFlowControl(ch rawChannel, cfg ConfigReader, timeout time.Duration) error {
	t.bs = int(cfg.Get(passthru.CfgISO15765BS))
	t.stmin = time.Duration(cfg.Get(passthru.CfgISO15765STmin)) * time.Millisecond

	var frame passthru.Msg
	frame.ProtocolID = passthru.ProtocolCAN
	frame.SetPID(t.flowControlPID)
	frame.Data[4] = pidcodec.PCIByte(pidcodec.FlowControl) | byte(pidcodec.FlowStatusContinueToSend)
	frame.Data[5] = byte(t.bs)
	frame.Data[6] = byte(t.stmin / time.Millisecond)
	frame.DataSize = 7
	pad(&frame)

	return t.writeOneFrame(ch, &frame, timeout)
}

func (t *Transfer) writeOneFrame(ch rawChannel, frame *passthru.Msg, timeout time.Duration) error {
	in := [1]passthru.Msg{*frame}
	n, err := ch.WriteMsgs(in[:], timeout)
	if err != nil {
		return err
	}
	if n != 1 {
		return errShortWrite
	}
	return nil
}

// prepareSentHeaders copies the original's prepareSentMessageHeaders: the
// PID is carried verbatim from the logical message, the protocol is
// rewritten to CAN, and the ISO15765-only transmit-flag bits are stripped
// before the frame goes down to the raw channel.
func (t *Transfer) prepareSentHeaders(frame, logical *passthru.Msg) {
	frame.ProtocolID = passthru.ProtocolCAN
	frame.RxStatus = 0
	frame.TxFlags = logical.TxFlags &^ (passthru.TxFlagISO15765FramePad | passthru.TxFlagISO15765AddrType)
	frame.Timestamp = 0
	frame.ExtraDataIndex = 0
	copy(frame.Data[0:4], logical.Data[0:4])
}

// prepareReceivedHeaders copies the original's prepareReceivedMessageHeaders
// into this Transfer's reassembly buffer: protocol becomes ISO15765, the
// receive-status bits carry over, and the PID is copied from the inbound
// frame.
func (t *Transfer) prepareReceivedHeaders(incoming *passthru.Msg) {
	t.buffer = passthru.Msg{}
	t.buffer.ProtocolID = passthru.ProtocolISO15765
	t.buffer.RxStatus = incoming.RxStatus
	copy(t.buffer.Data[0:4], incoming.Data[0:4])
}

func (t *Transfer) padIfRequested(frame, logical *passthru.Msg) {
	if logical.TxFlags&passthru.TxFlagISO15765FramePad != 0 {
		pad(frame)
	}
}

// pad zero-fills a frame's data out to 12 bytes (4-byte PID prefix plus an
// 8-byte CAN payload) and sets DataSize accordingly (spec.md §4.1 "pad_to_can").
func pad(frame *passthru.Msg) {
	for i := frame.DataSize; i < 4+8; i++ {
		frame.Data[i] = 0
	}
	frame.DataSize = 4 + 8
}
