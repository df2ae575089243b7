package isochannel

import (
	"testing"
	"time"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
	"github.com/LoveWonYoung/iso15765proxy/pidcodec"
)

// fakeRawChannel is a hand-rolled stand-in for RawChannel, recording every
// Ioctl/StartMsgFilter call so tests can assert on delegation without a
// real CAN bus underneath.
type fakeRawChannel struct {
	inbox       []passthru.Msg
	sent        []passthru.Msg
	ioctlCalls  []passthru.IoctlID
	filterCalls []passthru.FilterType
	nextID      passthru.FilterID
}

func (f *fakeRawChannel) ReadMsgs(out []passthru.Msg, timeout time.Duration) (int, error) {
	if len(f.inbox) == 0 {
		return 0, nil
	}
	out[0] = f.inbox[0]
	f.inbox = f.inbox[1:]
	return 1, nil
}

func (f *fakeRawChannel) WriteMsgs(in []passthru.Msg, timeout time.Duration) (int, error) {
	f.sent = append(f.sent, in...)
	return len(in), nil
}

func (f *fakeRawChannel) StartMsgFilter(filterType passthru.FilterType, mask, pattern *passthru.Msg) (passthru.FilterID, error) {
	f.filterCalls = append(f.filterCalls, filterType)
	f.nextID++
	return f.nextID, nil
}

func (f *fakeRawChannel) StopMsgFilter(id passthru.FilterID) error { return nil }

func (f *fakeRawChannel) Ioctl(id passthru.IoctlID, input, output any) error {
	f.ioctlCalls = append(f.ioctlCalls, id)
	return nil
}

func (f *fakeRawChannel) push(pid uint32, pci byte, rest ...byte) {
	var m passthru.Msg
	m.SetPID(pid)
	m.Data[4] = pci
	copy(m.Data[5:], rest)
	m.DataSize = 5 + len(rest)
	f.inbox = append(f.inbox, m)
}

func idMsg(pid uint32) *passthru.Msg {
	var m passthru.Msg
	m.SetPID(pid)
	m.DataSize = 4
	return &m
}

// Property 8: a config key the adapter owns is serviced locally; anything
// else triggers exactly one ioctl on the wrapped channel.
func TestConfig_OwnedKeyServicedLocally(t *testing.T) {
	raw := &fakeRawChannel{}
	a := New(raw)

	cfg := passthru.SConfig{Parameter: passthru.CfgISO15765BS, Value: 4}
	if err := a.SetConfig(&cfg); err != nil {
		t.Fatalf("SetConfig: %v", err)
	}
	if len(raw.ioctlCalls) != 0 {
		t.Errorf("owned key should never reach the wrapped channel, got %d ioctl calls", len(raw.ioctlCalls))
	}

	var readBack passthru.SConfig
	readBack.Parameter = passthru.CfgISO15765BS
	if err := a.GetConfig(&readBack); err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if readBack.Value != 4 {
		t.Errorf("GetConfig returned %d, want 4", readBack.Value)
	}
}

func TestConfig_UnknownKeyForwardedToWrappedChannel(t *testing.T) {
	raw := &fakeRawChannel{}
	a := New(raw)

	cfg := passthru.SConfig{Parameter: 0x99, Value: 1}
	if err := a.GetConfig(&cfg); err != nil {
		t.Fatalf("GetConfig: %v", err)
	}
	if len(raw.ioctlCalls) != 1 || raw.ioctlCalls[0] != passthru.GetConfig {
		t.Errorf("expected exactly one GetConfig ioctl forwarded, got %v", raw.ioctlCalls)
	}
}

// S5 / Property 6: an inbound frame whose PID matches no installed filter
// is dropped silently; it never aborts the read.
func TestReadMsgs_UnmatchedPIDIsDroppedNotDelivered(t *testing.T) {
	raw := &fakeRawChannel{}
	a := New(raw)

	mask := idMsg(0x1FFFFFFF)
	pattern := idMsg(0x7E8)
	flowControl := idMsg(0x7E0)
	if _, err := a.StartMsgFilter(passthru.FlowControlFilter, mask, pattern, flowControl); err != nil {
		t.Fatalf("StartMsgFilter: %v", err)
	}

	raw.push(0x123, pidcodec.PCIByte(pidcodec.SingleFrame)|0x02, 0xAA, 0xBB) // unmatched PID
	raw.push(0x7E8, pidcodec.PCIByte(pidcodec.SingleFrame)|0x02, 0xCC, 0xDD) // matched

	var out [1]passthru.Msg
	n, err := a.ReadMsgs(out[:], 50*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadMsgs: %v", err)
	}
	if n != 1 {
		t.Fatalf("ReadMsgs returned %d messages, want 1", n)
	}
	if out[0].Payload()[0] != 0xCC {
		t.Errorf("delivered payload %v, want frame starting 0xCC", out[0].Payload())
	}
}

func TestReadMsgs_TimesOutWithNoMatchingFrames(t *testing.T) {
	raw := &fakeRawChannel{}
	a := New(raw)

	var out [1]passthru.Msg
	n, err := a.ReadMsgs(out[:], 10*time.Millisecond)
	if err != nil {
		t.Fatalf("ReadMsgs: %v", err)
	}
	if n != 0 {
		t.Errorf("ReadMsgs returned %d messages, want 0 on timeout", n)
	}
}

func TestWriteMsgs_SkipsMessagesWithNoFlowControlFilter(t *testing.T) {
	raw := &fakeRawChannel{}
	a := New(raw)

	var logical passthru.Msg
	logical.SetPID(0x999)
	logical.DataSize = 4 + 3

	n, err := a.WriteMsgs([]passthru.Msg{logical}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WriteMsgs: %v", err)
	}
	if n != 0 {
		t.Errorf("WriteMsgs delivered %d messages, want 0 with no matching filter", n)
	}
}

func TestStartMsgFilter_FlowControlInstallsUnderlyingPassFilter(t *testing.T) {
	raw := &fakeRawChannel{}
	a := New(raw)

	mask := idMsg(0x1FFFFFFF)
	pattern := idMsg(0x7E8)
	flowControl := idMsg(0x7E0)

	id, err := a.StartMsgFilter(passthru.FlowControlFilter, mask, pattern, flowControl)
	if err != nil {
		t.Fatalf("StartMsgFilter: %v", err)
	}
	if id == 0 {
		t.Error("expected a non-zero filter ID")
	}
	if len(raw.filterCalls) != 1 || raw.filterCalls[0] != passthru.PassFilter {
		t.Errorf("expected exactly one underlying PassFilter installed, got %v", raw.filterCalls)
	}
}

func TestClearMessageFilters_EmptiesRegistryWithoutError(t *testing.T) {
	raw := &fakeRawChannel{}
	a := New(raw)

	mask := idMsg(0x1FFFFFFF)
	pattern := idMsg(0x7E8)
	flowControl := idMsg(0x7E0)
	if _, err := a.StartMsgFilter(passthru.FlowControlFilter, mask, pattern, flowControl); err != nil {
		t.Fatalf("StartMsgFilter: %v", err)
	}

	if err := a.ClearMessageFilters(); err != nil {
		t.Fatalf("ClearMessageFilters: %v", err)
	}

	var logical passthru.Msg
	logical.SetPID(0x7E0)
	logical.DataSize = 4 + 1
	n, err := a.WriteMsgs([]passthru.Msg{logical}, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("WriteMsgs: %v", err)
	}
	if n != 0 {
		t.Error("no filters should remain after ClearMessageFilters")
	}
}
