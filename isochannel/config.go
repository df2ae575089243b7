package isochannel

import "github.com/LoveWonYoung/iso15765proxy/passthru"

// GetConfig implements spec.md §4.4 "Configuration": owned keys are
// serviced from the local ConfigStore, everything else triggers exactly
// one GET_CONFIG ioctl on the wrapped channel with the same parameter
// (spec.md §8 property 8).
func (a *Adapter) GetConfig(cfg *passthru.SConfig) error {
	if ownedConfigParams[cfg.Parameter] {
		cfg.Value = a.config.Get(cfg.Parameter)
		return nil
	}
	return a.raw.Ioctl(passthru.GetConfig, cfg, nil)
}

// SetConfig is GetConfig's write-side counterpart.
func (a *Adapter) SetConfig(cfg *passthru.SConfig) error {
	if ownedConfigParams[cfg.Parameter] {
		a.config.Set(cfg.Parameter, cfg.Value)
		return nil
	}
	return a.raw.Ioctl(passthru.SetConfig, cfg, nil)
}

// Ioctl delegates any operation the adapter does not own itself. Config
// get/set should go through GetConfig/SetConfig instead, which is how a
// real pass-through DLL's generic Ioctl(GET_CONFIG/SET_CONFIG, ...) would
// actually be dispatched by a caller building an SCONFIG_LIST; this method
// exists for everything else (start/stop periodic message, vendor
// ioctls, ...).
func (a *Adapter) Ioctl(id passthru.IoctlID, input, output any) error {
	switch id {
	case passthru.ClearTxBuffer, passthru.ClearRxBuffer, passthru.ClearPeriodicMsgs:
		return passthru.ErrUnsupportedOperation
	case passthru.ClearMsgFilters:
		return a.ClearMessageFilters()
	default:
		return a.raw.Ioctl(id, input, output)
	}
}
