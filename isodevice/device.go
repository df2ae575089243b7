// Package isodevice implements the Library/Device ownership graph of
// spec.md §9: strict downward ownership from Library to Device to Channel,
// replacing the original's cyclic shared_ptr graph between Device and its
// open channels. A Device never holds a reference back to the Library that
// opened it, and a Channel never holds a reference back to its Device.
// Neither Library nor Device has a Close operation.
package isodevice

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/avast/retry-go"

	"github.com/LoveWonYoung/iso15765proxy/isochannel"
	"github.com/LoveWonYoung/iso15765proxy/passthru"
)

// ChannelOpener is what a Device needs from the transport it wraps to open
// a new RawChannel. Named per transport (a LoopbackBus, a SocketCAN dial
// function, ...); Library never imports rawcan itself, keeping the
// ownership graph one-directional (spec.md §9).
type ChannelOpener interface {
	Open() (isochannel.RawChannel, error)
}

// Version identifies a Device's reported firmware/driver version, the
// supplemental surface original_source names on DeviceISO15765::readVersion
// and the distilled spec.md left as thin wiring (SPEC_FULL.md §4.4).
type Version struct {
	Firmware string
	DLL      string
	API      string
}

// VersionReader is implemented by a ChannelOpener that can also report its
// own version; not every transport can (a bare loopback bus can't), so this
// is a narrow optional capability rather than part of ChannelOpener itself.
type VersionReader interface {
	ReadVersion() (Version, error)
}

// Library is the top-level owner: it knows how to reach a set of named
// devices, and hands out a *Device for each on Open. Library never tracks
// which Devices are currently open; that bookkeeping is the caller's.
type Library struct {
	mu      sync.Mutex
	openers map[string]ChannelOpener
	log     *log.Logger
}

// New creates an empty Library.
func New() *Library {
	return &Library{openers: make(map[string]ChannelOpener), log: log.Default()}
}

// SetLogger overrides the library's diagnostic logger.
func (l *Library) SetLogger(lg *log.Logger) {
	if lg == nil {
		lg = log.Default()
	}
	l.log = lg
}

// Register associates name with a transport opener, making it reachable by
// Open. Typically called once per known device at startup (a SocketCAN
// interface name, a loopback bus instance under test).
func (l *Library) Register(name string, opener ChannelOpener) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.openers[name] = opener
}

// Open returns a new Device wrapping the transport registered under name.
// The returned Device does not reference this Library; closing the Library
// (there is no such operation — Library owns no resources of its own) has
// no effect on Devices already returned by Open.
func (l *Library) Open(name string) (*Device, error) {
	l.mu.Lock()
	opener, ok := l.openers[name]
	l.mu.Unlock()
	if !ok {
		return nil, fmt.Errorf("isodevice: no device registered as %q", name)
	}
	return &Device{opener: opener, log: l.log}, nil
}

// Device can have any number of Channels open at a time. Each call to Connect
// produces an independent *isochannel.Adapter; the Device keeps no
// reference to channels it has already handed back, matching spec.md §9's
// "strict downward ownership" redesign — a Channel that outlives its
// Device is simply a dangling handle the caller must not use, not a
// lifetime bug the Device has to prevent.
type Device struct {
	opener ChannelOpener
	log    *log.Logger
}

// connectRetryAttempts bounds how many StartMsgFilter install attempts
// Connect makes in total (the first try included) before giving up. Real pass-through devices are
// known to transiently fail filter installation immediately after
// PassThruConnect (SPEC_FULL.md §11); this absorbs that without a fixed
// time.Sleep.
const connectRetryAttempts = 3

// Connect opens a fresh ISO 15765 channel on this device's transport,
// wraps it in a Channel Adapter, and installs the given flow-control filter
// before returning. The filter install is retried a bounded number of
// times, since a newly connected device sometimes refuses the very first
// StartMsgFilter call.
func (d *Device) Connect(mask, pattern, flowControl *passthru.Msg) (*isochannel.Adapter, passthru.FilterID, error) {
	raw, err := d.opener.Open()
	if err != nil {
		return nil, 0, fmt.Errorf("isodevice: open channel: %w", err)
	}

	adapter := isochannel.New(raw)

	var filterID passthru.FilterID
	err = retry.Do(
		func() error {
			id, err := adapter.StartMsgFilter(passthru.FlowControlFilter, mask, pattern, flowControl)
			if err != nil {
				return err
			}
			filterID = id
			return nil
		},
		retry.Attempts(connectRetryAttempts),
		retry.Delay(10*time.Millisecond),
		retry.OnRetry(func(n uint, err error) {
			d.log.Printf("isodevice: flow-control filter install attempt %d failed: %v", n+1, err)
		}),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("isodevice: install flow-control filter: %w", err)
	}

	return adapter, filterID, nil
}

// ReadVersion forwards to the wrapped transport unchanged, exactly the way
// the original's DeviceISO15765::readVersion just forwards to its
// underlying device (SPEC_FULL.md §4.4). A transport that does not
// implement VersionReader (e.g. a bare loopback bus) reports
// ErrNotSupported rather than a zero Version.
func (d *Device) ReadVersion() (Version, error) {
	vr, ok := d.opener.(VersionReader)
	if !ok {
		return Version{}, passthru.ErrNotSupported
	}
	return vr.ReadVersion()
}

var errNilOpener = errors.New("isodevice: ChannelOpener must not be nil")

// RegisterFunc adapts a plain func() (isochannel.RawChannel, error) to a
// ChannelOpener, the same lightweight adapter shape as notnil-canbus's
// BusCreatorFunc, for callers that don't need a full type of their own.
type RegisterFunc func() (isochannel.RawChannel, error)

// Open implements ChannelOpener.
func (f RegisterFunc) Open() (isochannel.RawChannel, error) {
	if f == nil {
		return nil, errNilOpener
	}
	return f()
}
