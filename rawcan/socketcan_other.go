//go:build !linux

package rawcan

import (
	"errors"
	"time"

	"github.com/LoveWonYoung/iso15765proxy/passthru"
)

var errSocketCANLinuxOnly = errors.New("rawcan: SocketCAN is only supported on linux")

// SocketCAN is the non-Linux stand-in: every method but Close reports
// errSocketCANLinuxOnly, since DialSocketCAN never actually produces one.
// It exists only so callers that build isochannel.RawChannel values from a
// DialSocketCAN result (e.g. cmd/isotpctl's --iface flag) compile unchanged
// on every platform.
type SocketCAN struct{}

// DialSocketCAN reports errSocketCANLinuxOnly on every platform but Linux.
func DialSocketCAN(iface string) (*SocketCAN, error) {
	return nil, errSocketCANLinuxOnly
}

func (s *SocketCAN) ReadMsgs([]passthru.Msg, time.Duration) (int, error) {
	return 0, errSocketCANLinuxOnly
}

func (s *SocketCAN) WriteMsgs([]passthru.Msg, time.Duration) (int, error) {
	return 0, errSocketCANLinuxOnly
}

func (s *SocketCAN) StartMsgFilter(passthru.FilterType, *passthru.Msg, *passthru.Msg) (passthru.FilterID, error) {
	return 0, errSocketCANLinuxOnly
}

func (s *SocketCAN) StopMsgFilter(passthru.FilterID) error {
	return errSocketCANLinuxOnly
}

func (s *SocketCAN) Ioctl(passthru.IoctlID, any, any) error {
	return errSocketCANLinuxOnly
}

func (s *SocketCAN) Close() error {
	return nil
}
