package cmd

import (
	"github.com/LoveWonYoung/iso15765proxy/isochannel"
	"github.com/LoveWonYoung/iso15765proxy/isodevice"
	"github.com/LoveWonYoung/iso15765proxy/passthru"
	"github.com/LoveWonYoung/iso15765proxy/rawcan"
)

// loopbackBus is shared across subcommand invocations so "isotpctl send"
// and "isotpctl recv" run against the same bus when --iface is "loopback"
// and both ends are exercised in a single process, as loopbackTestCMD does.
var loopbackBus = rawcan.NewLoopbackBus()

// openDevice resolves --iface into a *isodevice.Device: "loopback" shares
// the package-level in-memory bus, anything else dials a Linux SocketCAN
// interface of that name.
func openDevice() (*isodevice.Device, error) {
	lib := isodevice.New()
	if iface == "loopback" {
		lib.Register("loopback", isodevice.RegisterFunc(func() (isochannel.RawChannel, error) {
			return loopbackBus.Open(), nil
		}))
		return lib.Open("loopback")
	}

	lib.Register(iface, isodevice.RegisterFunc(func() (isochannel.RawChannel, error) {
		return rawcan.DialSocketCAN(iface)
	}))
	return lib.Open(iface)
}

// canIDFilter builds the exact-match mask/pattern pair StartMsgFilter
// expects for a single CAN identifier: mask admits only an exact 29-bit
// match, pattern is the identifier itself.
func canIDFilter(id uint32) (mask, pattern passthru.Msg) {
	mask.SetPID(0x1FFFFFFF)
	pattern.SetPID(id)
	return mask, pattern
}

func init() {
	rootCmd.AddCommand(sendCMD, recvCMD, loopbackTestCMD)
}
