// Package passthru defines the pass-through (J2534-style) message and
// constant vocabulary consumed by the ISO 15765-2 proxy: the fixed-layout
// message record, protocol/filter/ioctl identifiers, the transmit-flag and
// receive-status bits the proxy cares about, and the sentinel error table
// returned by a real pass-through DLL.
package passthru

import "github.com/LoveWonYoung/iso15765proxy/pidcodec"

// DataCapacity is the size of Msg.Data: four bytes of CAN identifier prefix
// plus up to 4KiB of reassembled ISO 15765 payload. A raw CAN frame only
// ever occupies the first 12 bytes of it.
const DataCapacity = 4 + 4096

// Msg is the fixed-layout pass-through message record of spec.md §3: a
// protocol tag, receive-status and transmit-flags bitfields, a timestamp,
// an opaque extra-data index, a data length, and a fixed-capacity buffer
// whose first four bytes are the CAN identifier.
type Msg struct {
	ProtocolID    ProtocolID
	RxStatus      RxStatus
	TxFlags       TxFlags
	Timestamp     uint32
	ExtraDataIndex uint32
	DataSize      int
	Data          [DataCapacity]byte
}

// PID returns the 29-bit CAN identifier carried in the message's first four
// bytes, or an error if DataSize is too small to hold one.
func (m *Msg) PID() (uint32, error) {
	if m.DataSize < 4 {
		return 0, ErrInvalidMsg
	}
	return pidcodec.UnpackPID([4]byte(m.Data[0:4])), nil
}

// SetPID writes pid into the message's first four bytes, raising DataSize
// to 4 if it was smaller so the message carries at least its PID.
func (m *Msg) SetPID(pid uint32) {
	packed := pidcodec.PackPID(pid)
	copy(m.Data[0:4], packed[:])
	if m.DataSize < 4 {
		m.DataSize = 4
	}
}

// Payload returns the bytes of the message beyond the 4-byte PID prefix.
func (m *Msg) Payload() []byte {
	if m.DataSize <= 4 {
		return nil
	}
	return m.Data[4:m.DataSize]
}

// ProtocolID identifies the wire protocol a message belongs to.
type ProtocolID uint32

// Protocol identifiers the proxy cares about. Code that retags a message's
// protocol uses these named constants; no code in this module derives one
// protocol identifier from another arithmetically.
const (
	ProtocolCAN       ProtocolID = 5
	ProtocolISO15765  ProtocolID = 6
)

// RxStatus is the receive-status bitfield of a Msg.
type RxStatus uint32

// ISO15765-specific receive-status bits.
const (
	RxStatusISO15765PaddingError RxStatus = 0x00000010
	RxStatusISO15765AddrType     RxStatus = 0x00000080
)

// TxFlags is the transmit-flags bitfield of a Msg.
type TxFlags uint32

// ISO15765-specific transmit-flag bits.
const (
	TxFlagISO15765FramePad TxFlags = 0x00000040
	TxFlagISO15765AddrType TxFlags = 0x00000080
)

// FilterType selects the behaviour of StartMsgFilter.
type FilterType uint32

// Filter types recognised by a pass-through channel (spec.md §6).
const (
	PassFilter        FilterType = 1
	BlockFilter       FilterType = 2
	FlowControlFilter FilterType = 3
)

// FilterID identifies an installed filter, returned by StartMsgFilter.
type FilterID uint32

// IoctlID selects the operation performed by Ioctl.
type IoctlID uint32

// Ioctl identifiers the adapter either services locally or forwards.
const (
	GetConfig           IoctlID = 1
	SetConfig           IoctlID = 2
	ClearTxBuffer       IoctlID = 3
	ClearRxBuffer       IoctlID = 4
	ClearPeriodicMsgs   IoctlID = 5
	ClearMsgFilters     IoctlID = 6
)

// ConfigParam identifies a single configuration key in an SConfig list.
type ConfigParam uint32

// Configuration keys owned by the Channel Adapter; every other key is
// forwarded to the wrapped channel (spec.md §4.4 "Configuration").
const (
	CfgISO15765BS       ConfigParam = 0x18
	CfgISO15765STmin    ConfigParam = 0x19
	CfgISO15765AddrType ConfigParam = 0x1A
)

// SConfig is one configuration parameter/value pair, the unit ioctl
// GetConfig/SetConfig operate on.
type SConfig struct {
	Parameter ConfigParam
	Value     uint32
}
