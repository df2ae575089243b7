package passthru

import "errors"

// Sentinel errors a real pass-through DLL's return codes map onto. The
// list mirrors the SAE J2534-1 status-code table; only a handful of these
// are ever raised by this module (ErrInvalidMsg, ErrNullParameter,
// ErrTimeout, ErrNotSupported, ErrDeviceNotConnected, ErrInvalidFilterID,
// ErrUnsupportedOperation), the rest exist so a RawChannel
// implementation backed by a real device has somewhere to report into.
var (
	ErrNotSupported        = errors.New("passthru: function not supported by device")
	ErrInvalidChannelID    = errors.New("passthru: invalid channel ID")
	ErrInvalidProtocolID   = errors.New("passthru: invalid or unsupported protocol ID")
	ErrNullParameter       = errors.New("passthru: null pointer supplied where a valid pointer is required")
	ErrInvalidIoctlValue   = errors.New("passthru: invalid value for ioctl parameter")
	ErrInvalidFlags        = errors.New("passthru: invalid flag values")
	ErrFailed              = errors.New("passthru: undefined error")
	ErrDeviceNotConnected  = errors.New("passthru: unable to communicate with device")
	ErrTimeout             = errors.New("passthru: read or write timeout")
	ErrInvalidMsg          = errors.New("passthru: invalid message structure")
	ErrInvalidTimeInterval = errors.New("passthru: invalid time interval")
	ErrExceededLimit       = errors.New("passthru: exceeded maximum number of message IDs or allocated space")
	ErrInvalidMsgID        = errors.New("passthru: invalid msg ID")
	ErrDeviceInUse         = errors.New("passthru: device is currently open")
	ErrInvalidIoctlID      = errors.New("passthru: invalid ioctl ID")
	ErrBufferEmpty         = errors.New("passthru: message buffer empty, no messages available to read")
	ErrBufferFull          = errors.New("passthru: message buffer full, not all messages were transmitted")
	ErrBufferOverflow      = errors.New("passthru: buffer overflow, messages were lost")
	ErrChannelInUse        = errors.New("passthru: channel number is currently connected")
	ErrInvalidFilterID     = errors.New("passthru: invalid filter ID")
	ErrNoFlowControl       = errors.New("passthru: no flow control filter set or matched")
	ErrNotUnique           = errors.New("passthru: CAN ID matches an existing flow-control filter")
	ErrUnsupportedOperation = errors.New("passthru: operation not supported by this channel")
)
