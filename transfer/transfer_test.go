package transfer

import (
	"testing"
	"time"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
	"github.com/LoveWonYoung/iso15765proxy/pidcodec"
)

// fakeChannel is a hand-rolled stand-in for isochannel.RawChannel, queuing
// frames to hand back from ReadMsgs and recording everything WriteMsgs is
// given, the same style as uds_client_test.go's MockCANDriver/MockTransport.
type fakeChannel struct {
	inbox []passthru.Msg
	sent  []passthru.Msg
}

func (f *fakeChannel) ReadMsgs(out []passthru.Msg, timeout time.Duration) (int, error) {
	if len(f.inbox) == 0 {
		return 0, nil
	}
	out[0] = f.inbox[0]
	f.inbox = f.inbox[1:]
	return 1, nil
}

func (f *fakeChannel) WriteMsgs(in []passthru.Msg, timeout time.Duration) (int, error) {
	f.sent = append(f.sent, in...)
	return len(in), nil
}

func (f *fakeChannel) push(pid uint32, pci byte, rest ...byte) {
	var m passthru.Msg
	m.SetPID(pid)
	m.Data[4] = pci
	copy(m.Data[5:], rest)
	m.DataSize = 5 + len(rest)
	f.inbox = append(f.inbox, m)
}

type fakeConfig struct {
	values map[passthru.ConfigParam]uint32
}

func (c *fakeConfig) Get(param passthru.ConfigParam) uint32 { return c.values[param] }

func logicalMsg(pid uint32, payload []byte) *passthru.Msg {
	var m passthru.Msg
	m.SetPID(pid)
	m.DataSize = 4 + len(payload)
	copy(m.Data[4:], payload)
	return &m
}

// S1: a 5-byte payload fits in a Single Frame, no Flow Control expected.
func TestWriteMsg_SingleFrame(t *testing.T) {
	ch := &fakeChannel{}
	tr := New(0x1FFFFFFF, 0x7E8, 0x7E0)

	payload := []byte{1, 2, 3, 4, 5}
	if err := tr.WriteMsg(ch, logicalMsg(0x7E0, payload), time.Second); err != nil {
		t.Fatalf("WriteMsg: %v", err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("sent %d frames, want 1", len(ch.sent))
	}
	frame := ch.sent[0]
	if pidcodec.FrameKindOf(frame.Data[4]) != pidcodec.SingleFrame {
		t.Errorf("frame kind = %v, want SingleFrame", pidcodec.FrameKindOf(frame.Data[4]))
	}
	if int(frame.Data[4]&0x0F) != len(payload) {
		t.Errorf("SF length nibble = %d, want %d", frame.Data[4]&0x0F, len(payload))
	}
	if !tr.Idle() {
		t.Error("Transfer should be idle after a completed WriteMsg")
	}
}

// S2: a payload long enough to need First Frame + Consecutive Frames,
// driven through a Flow Control response with a positive BS.
func TestWriteMsg_MultiFrameWithFlowControl(t *testing.T) {
	ch := &fakeChannel{}
	ch.push(0x7E8, pidcodec.PCIByte(pidcodec.FlowControl)|byte(pidcodec.FlowStatusContinueToSend), 0x08, 0x00)

	tr := New(0x1FFFFFFF, 0x7E8, 0x7E0)
	payload := make([]byte, 20)
	for i := range payload {
		payload[i] = byte(i)
	}

	if err := tr.WriteMsg(ch, logicalMsg(0x7E0, payload), time.Second); err != nil {
		t.Fatalf("WriteMsg: %v", err)
	}

	if pidcodec.FrameKindOf(ch.sent[0].Data[4]) != pidcodec.FirstFrame {
		t.Fatalf("first sent frame kind = %v, want FirstFrame", pidcodec.FrameKindOf(ch.sent[0].Data[4]))
	}
	for _, f := range ch.sent[1:] {
		if pidcodec.FrameKindOf(f.Data[4]) != pidcodec.ConsecutiveFrame {
			t.Errorf("expected ConsecutiveFrame, got %v", pidcodec.FrameKindOf(f.Data[4]))
		}
	}

	var reassembled []byte
	reassembled = append(reassembled, ch.sent[0].Data[6:12]...)
	for _, f := range ch.sent[1:] {
		reassembled = append(reassembled, f.Data[5:f.DataSize]...)
	}
	if len(reassembled) != len(payload) {
		t.Fatalf("reassembled %d bytes, want %d", len(reassembled), len(payload))
	}
	for i := range payload {
		if reassembled[i] != payload[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, reassembled[i], payload[i])
		}
	}
}

// Property 4: BS == 0 means every remaining Consecutive Frame goes out
// after a single Flow Control, never re-triggering a second one.
func TestWriteMsg_BlockSizeZeroMeansUnlimited(t *testing.T) {
	ch := &fakeChannel{}
	ch.push(0x7E8, pidcodec.PCIByte(pidcodec.FlowControl)|byte(pidcodec.FlowStatusContinueToSend), 0x00, 0x00)

	tr := New(0x1FFFFFFF, 0x7E8, 0x7E0)
	payload := make([]byte, 50)

	if err := tr.WriteMsg(ch, logicalMsg(0x7E0, payload), time.Second); err != nil {
		t.Fatalf("WriteMsg: %v", err)
	}

	// Only the one Flow Control pushed into the inbox was ever consumed;
	// if the Transfer had re-entered StateFlowControl it would have blocked
	// on an empty inbox and WriteMsg would have timed out instead.
	if len(ch.inbox) != 0 {
		t.Errorf("expected the single Flow Control to be fully consumed, %d frames left", len(ch.inbox))
	}
}

// Property 7: a protocol failure resets the Transfer and never delivers a
// partial message.
func TestReadMsg_SequenceMismatchFailsAndResets(t *testing.T) {
	ch := &fakeChannel{}
	cfg := &fakeConfig{values: map[passthru.ConfigParam]uint32{}}
	tr := New(0x1FFFFFFF, 0x7E0, 0x7E8)

	var ff passthru.Msg
	ff.SetPID(0x7E0)
	ff.Data[4] = pidcodec.PCIByte(pidcodec.FirstFrame) | 0x00
	ff.Data[5] = 20
	ff.DataSize = 12

	var out passthru.Msg
	res, err := tr.ReadMsg(ch, cfg, &ff, &out, time.Second)
	if res != Pending || err != nil {
		t.Fatalf("first frame: result=%v err=%v, want Pending/nil", res, err)
	}
	if tr.State() != StateBlock {
		t.Fatalf("state after First Frame = %v, want StateBlock", tr.State())
	}

	var badCF passthru.Msg
	badCF.SetPID(0x7E0)
	badCF.Data[4] = pidcodec.PCIByte(pidcodec.ConsecutiveFrame) | 0x05 // wrong sequence, want 1
	badCF.DataSize = 12

	res, err = tr.ReadMsg(ch, cfg, &badCF, &out, time.Second)
	if res != Failed {
		t.Fatalf("result = %v, want Failed", res)
	}
	if err == nil {
		t.Error("expected a sequence-mismatch error")
	}
	if !tr.Idle() {
		t.Error("Transfer should be reset to idle after a protocol failure")
	}
}

// REDESIGN FLAG: a stray non-Consecutive-Frame while reassembling fails
// the transfer instead of being silently consumed as a sequence number.
func TestReadMsg_UnexpectedFrameKindDuringBlockFails(t *testing.T) {
	ch := &fakeChannel{}
	cfg := &fakeConfig{values: map[passthru.ConfigParam]uint32{}}
	tr := New(0x1FFFFFFF, 0x7E0, 0x7E8)

	var ff passthru.Msg
	ff.SetPID(0x7E0)
	ff.Data[4] = pidcodec.PCIByte(pidcodec.FirstFrame)
	ff.Data[5] = 20
	ff.DataSize = 12
	var out passthru.Msg
	if _, err := tr.ReadMsg(ch, cfg, &ff, &out, time.Second); err != nil {
		t.Fatalf("first frame: %v", err)
	}

	var strayFC passthru.Msg
	strayFC.SetPID(0x7E0)
	strayFC.Data[4] = pidcodec.PCIByte(pidcodec.FlowControl)
	strayFC.DataSize = 7

	res, err := tr.ReadMsg(ch, cfg, &strayFC, &out, time.Second)
	if res != Failed || err == nil {
		t.Fatalf("result=%v err=%v, want Failed/non-nil", res, err)
	}
}

// Property 6: an inbound frame whose PID doesn't match this Transfer's
// mask/pattern is rejected, not silently absorbed into reassembly state.
func TestReadMsg_WrongPIDFails(t *testing.T) {
	ch := &fakeChannel{}
	cfg := &fakeConfig{values: map[passthru.ConfigParam]uint32{}}
	tr := New(0x1FFFFFFF, 0x7E0, 0x7E8)

	var frame passthru.Msg
	frame.SetPID(0x123)
	frame.Data[4] = pidcodec.PCIByte(pidcodec.SingleFrame) | 0x03
	frame.DataSize = 8

	var out passthru.Msg
	res, err := tr.ReadMsg(ch, cfg, &frame, &out, time.Second)
	if res != Failed || err == nil {
		t.Fatalf("result=%v err=%v, want Failed/non-nil", res, err)
	}
}

// Reassembly over multiple Consecutive Frames with BS from the config
// store, verifying one Flow Control is sent in answer to the First Frame
// and the reassembled payload matches what was sent.
func TestReadMsg_MultiFrameReassembly(t *testing.T) {
	ch := &fakeChannel{}
	cfg := &fakeConfig{values: map[passthru.ConfigParam]uint32{
		passthru.CfgISO15765BS:    2,
		passthru.CfgISO15765STmin: 0,
	}}
	tr := New(0x1FFFFFFF, 0x7E0, 0x7E8)

	total := 20
	var ff passthru.Msg
	ff.SetPID(0x7E0)
	ff.Data[4] = pidcodec.PCIByte(pidcodec.FirstFrame) | byte((total>>8)&0x0F)
	ff.Data[5] = byte(total & 0xFF)
	ffPayload := []byte{0, 1, 2, 3, 4, 5}
	copy(ff.Data[6:12], ffPayload)
	ff.DataSize = 12

	var out passthru.Msg
	res, err := tr.ReadMsg(ch, cfg, &ff, &out, time.Second)
	if res != Pending || err != nil {
		t.Fatalf("First Frame: result=%v err=%v", res, err)
	}
	if len(ch.sent) != 1 {
		t.Fatalf("expected one Flow Control sent after First Frame, got %d", len(ch.sent))
	}

	rest := []byte{6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16, 17, 18, 19}
	seq := 1
	offset := 0
	for offset < len(rest) {
		chunk := 7
		if offset+chunk > len(rest) {
			chunk = len(rest) - offset
		}
		var cf passthru.Msg
		cf.SetPID(0x7E0)
		cf.Data[4] = pidcodec.PCIByte(pidcodec.ConsecutiveFrame) | byte(seq&0x0F)
		copy(cf.Data[5:5+chunk], rest[offset:offset+chunk])
		cf.DataSize = 5 + chunk

		res, err = tr.ReadMsg(ch, cfg, &cf, &out, time.Second)
		if err != nil {
			t.Fatalf("Consecutive Frame seq %d: %v", seq, err)
		}
		offset += chunk
		seq = (seq + 1) % 16
		if offset < len(rest) && res != Pending {
			t.Fatalf("mid-reassembly result = %v, want Pending", res)
		}
	}
	if res != Complete {
		t.Fatalf("final result = %v, want Complete", res)
	}

	got := out.Payload()
	want := append(append([]byte{}, ffPayload...), rest...)
	if len(got) != len(want) {
		t.Fatalf("reassembled %d bytes, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("byte %d = %#x, want %#x", i, got[i], want[i])
		}
	}
	if !tr.Idle() {
		t.Error("Transfer should be reset to idle after Complete")
	}
}

// Property 7 / timeout: WriteMsg never delivers a partial state on timeout.
func TestWriteMsg_TimeoutResetsTransfer(t *testing.T) {
	ch := &fakeChannel{} // no Flow Control queued: awaitFlowControl starves
	tr := New(0x1FFFFFFF, 0x7E8, 0x7E0)

	payload := make([]byte, 20)
	err := tr.WriteMsg(ch, logicalMsg(0x7E0, payload), 5*time.Millisecond)
	if err == nil {
		t.Fatal("expected a timeout error")
	}
	if !tr.Idle() {
		t.Error("Transfer should be reset to idle after a timeout")
	}
}
