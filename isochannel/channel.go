// Package isochannel implements the outward-facing Channel Adapter of
// spec.md §4.4: it presents the pass-through channel contract
// (StartMsgFilter/StopMsgFilter/ReadMsgs/WriteMsgs/ioctl/config) in terms
// of the Frame Codec, Transfer state machine and Filter Registry, driving
// a wrapped raw CAN channel underneath.
package isochannel

import (
	"log"
	"sync"
	"time"

	"github.com/LoveWonYoung/iso15765proxy/filterreg"
	"github.com/LoveWonYoung/iso15765proxy/passthru"
)

// RawChannel is the wrapped raw CAN channel capability set the Channel
// Adapter consumes (spec.md §6.1): blocking batch read/write of CAN
// frames, plain pass-filter install/uninstall, and ioctl for anything the
// adapter does not own itself.
type RawChannel interface {
	ReadMsgs(out []passthru.Msg, timeout time.Duration) (int, error)
	WriteMsgs(in []passthru.Msg, timeout time.Duration) (int, error)
	StartMsgFilter(filterType passthru.FilterType, mask, pattern *passthru.Msg) (passthru.FilterID, error)
	StopMsgFilter(id passthru.FilterID) error
	Ioctl(id passthru.IoctlID, input, output any) error
}

// ConfigStore is the Channel Adapter's local store for the three
// configuration keys it owns (spec.md §4.4 "Configuration"); everything
// else is forwarded to the wrapped channel's Ioctl. Modeled after the
// original's Configuration::getValue/setValue.
type ConfigStore struct {
	mu     sync.Mutex
	values map[passthru.ConfigParam]uint32
}

// NewConfigStore creates an empty store.
func NewConfigStore() *ConfigStore {
	return &ConfigStore{values: make(map[passthru.ConfigParam]uint32)}
}

// Get returns the stored value for param, or zero if never set.
func (c *ConfigStore) Get(param passthru.ConfigParam) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[param]
}

// Set stores value for param.
func (c *ConfigStore) Set(param passthru.ConfigParam, value uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[param] = value
}

// ownedConfigParams are the keys the Channel Adapter services itself.
var ownedConfigParams = map[passthru.ConfigParam]bool{
	passthru.CfgISO15765BS:       true,
	passthru.CfgISO15765STmin:    true,
	passthru.CfgISO15765AddrType: true,
}

// filterIDAllocator hands out Channel-local filter IDs; it starts at 1 so zero
// can mean "no filter" in callers that zero-initialize.
type filterIDAllocator struct {
	mu   sync.Mutex
	next passthru.FilterID
}

func (a *filterIDAllocator) allocate() passthru.FilterID {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	return a.next
}

// Adapter is the Channel Adapter: one per opened pass-through channel. It
// owns the Filter Registry, the configuration store, and the wrapped raw
// CAN channel for the channel's lifetime (spec.md §3 "Channel Adapter").
type Adapter struct {
	raw      RawChannel
	registry *filterreg.Registry
	config   *ConfigStore
	ids      filterIDAllocator
	log      *log.Logger
}

// New wraps raw in a Channel Adapter.
func New(raw RawChannel) *Adapter {
	return &Adapter{
		raw:      raw,
		registry: filterreg.New(),
		config:   NewConfigStore(),
		log:      log.Default(),
	}
}

// SetLogger overrides the adapter's diagnostic logger.
func (a *Adapter) SetLogger(l *log.Logger) {
	if l == nil {
		l = log.Default()
	}
	a.log = l
}
