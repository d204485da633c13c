// Package fake provides an in-memory hardware control channel for tests and
// dry runs. it hands out sequential ids and records every installed object
// so callers can assert on device state.
package fake

import (
	"github.com/pkg/errors"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
)

// L2Filter is an installed shared L2 filter record
type L2Filter struct {
	Dst hw.VnicID
	Cfg hw.L2FilterConfig
}

// MatchFilter is an installed exact-match or tuple filter record
type MatchFilter struct {
	Filter types.Filter
}

// NewControlChannel returns a new fake control channel
func NewControlChannel() *ControlChannel {
	return &ControlChannel{
		l2Filters:     make(map[hw.FilterID]*L2Filter),
		emFilters:     make(map[hw.FilterID]*MatchFilter),
		ntupleFilters: make(map[hw.FilterID]*MatchFilter),
		vnics:         make(map[hw.VnicID]hw.VnicConfig),
		rssCtxs:       make(map[hw.RSSContextID]bool),
		rssCfgs:       make(map[hw.VnicID]hw.RSSConfig),
		vfVnics:       make(map[uint32]hw.VnicID),
	}
}

// ControlChannel implements hw.ControlChannel in memory
type ControlChannel struct {
	nextFilterID hw.FilterID
	nextVnicID   hw.VnicID
	nextRssCtxID hw.RSSContextID

	l2Filters     map[hw.FilterID]*L2Filter
	emFilters     map[hw.FilterID]*MatchFilter
	ntupleFilters map[hw.FilterID]*MatchFilter
	vnics         map[hw.VnicID]hw.VnicConfig
	rssCtxs       map[hw.RSSContextID]bool
	rssCfgs       map[hw.VnicID]hw.RSSConfig

	tunnelActive uint32
	tunnelOwner  uint16

	vfVnics map[uint32]hw.VnicID
}

// SetL2Filter implements hw.ControlChannel interface
func (c *ControlChannel) SetL2Filter(dst hw.VnicID, cfg hw.L2FilterConfig) (hw.FilterID, error) {
	id := c.nextFilterID
	c.nextFilterID++
	c.l2Filters[id] = &L2Filter{Dst: dst, Cfg: cfg}
	return id, nil
}

// ClearL2Filter implements hw.ControlChannel interface
func (c *ControlChannel) ClearL2Filter(id hw.FilterID) error {
	if _, ok := c.l2Filters[id]; !ok {
		return errors.Errorf("unknown L2 filter id %d", id)
	}
	delete(c.l2Filters, id)
	return nil
}

// SetEMFilter implements hw.ControlChannel interface
func (c *ControlChannel) SetEMFilter(f *types.Filter) (hw.FilterID, error) {
	id := c.nextFilterID
	c.nextFilterID++
	c.emFilters[id] = &MatchFilter{Filter: *f}
	return id, nil
}

// ClearEMFilter implements hw.ControlChannel interface
func (c *ControlChannel) ClearEMFilter(id hw.FilterID) error {
	if _, ok := c.emFilters[id]; !ok {
		return errors.Errorf("unknown exact-match filter id %d", id)
	}
	delete(c.emFilters, id)
	return nil
}

// SetNTupleFilter implements hw.ControlChannel interface
func (c *ControlChannel) SetNTupleFilter(f *types.Filter) (hw.FilterID, error) {
	id := c.nextFilterID
	c.nextFilterID++
	c.ntupleFilters[id] = &MatchFilter{Filter: *f}
	return id, nil
}

// ClearNTupleFilter implements hw.ControlChannel interface
func (c *ControlChannel) ClearNTupleFilter(id hw.FilterID) error {
	if _, ok := c.ntupleFilters[id]; !ok {
		return errors.Errorf("unknown tuple filter id %d", id)
	}
	delete(c.ntupleFilters, id)
	return nil
}

// AllocVnic implements hw.ControlChannel interface
func (c *ControlChannel) AllocVnic() (hw.VnicID, error) {
	id := c.nextVnicID
	c.nextVnicID++
	c.vnics[id] = hw.VnicConfig{ID: id}
	return id, nil
}

// FreeVnic implements hw.ControlChannel interface
func (c *ControlChannel) FreeVnic(id hw.VnicID) error {
	if _, ok := c.vnics[id]; !ok {
		return errors.Errorf("unknown receive context id %d", id)
	}
	delete(c.vnics, id)
	delete(c.rssCfgs, id)
	return nil
}

// ConfigureVnic implements hw.ControlChannel interface
func (c *ControlChannel) ConfigureVnic(cfg hw.VnicConfig) error {
	if _, ok := c.vnics[cfg.ID]; !ok {
		return errors.Errorf("unknown receive context id %d", cfg.ID)
	}
	c.vnics[cfg.ID] = cfg
	return nil
}

// AllocRSSContext implements hw.ControlChannel interface
func (c *ControlChannel) AllocRSSContext() (hw.RSSContextID, error) {
	id := c.nextRssCtxID
	c.nextRssCtxID++
	c.rssCtxs[id] = true
	return id, nil
}

// FreeRSSContext implements hw.ControlChannel interface
func (c *ControlChannel) FreeRSSContext(id hw.RSSContextID) error {
	if !c.rssCtxs[id] {
		return errors.Errorf("unknown RSS context id %d", id)
	}
	delete(c.rssCtxs, id)
	return nil
}

// ConfigureRSS implements hw.ControlChannel interface
func (c *ControlChannel) ConfigureRSS(cfg hw.RSSConfig) error {
	if _, ok := c.vnics[cfg.Vnic]; !ok {
		return errors.Errorf("unknown receive context id %d", cfg.Vnic)
	}
	if len(cfg.Key) != hw.RSSKeySize {
		return errors.Errorf("invalid RSS key size %d", len(cfg.Key))
	}
	if len(cfg.Table) != hw.RSSTableSize {
		return errors.Errorf("invalid RSS table size %d", len(cfg.Table))
	}
	c.rssCfgs[cfg.Vnic] = cfg
	return nil
}

// QueryTunnelRedirect implements hw.ControlChannel interface
func (c *ControlChannel) QueryTunnelRedirect() (uint32, error) {
	return c.tunnelActive, nil
}

// SetTunnelRedirect implements hw.ControlChannel interface
func (c *ControlChannel) SetTunnelRedirect(t types.TunnelType) error {
	c.tunnelActive |= t.Bit()
	return nil
}

// FreeTunnelRedirect implements hw.ControlChannel interface
func (c *ControlChannel) FreeTunnelRedirect(t types.TunnelType) error {
	if c.tunnelActive&t.Bit() == 0 {
		return errors.Errorf("tunnel %s is not redirected", t)
	}
	c.tunnelActive &^= t.Bit()
	return nil
}

// TunnelRedirectInfo implements hw.ControlChannel interface
func (c *ControlChannel) TunnelRedirectInfo(t types.TunnelType) (uint16, error) {
	if c.tunnelActive&t.Bit() == 0 {
		return 0, errors.Errorf("tunnel %s is not redirected", t)
	}
	return c.tunnelOwner, nil
}

// VFDefaultVnic implements hw.ControlChannel interface
func (c *ControlChannel) VFDefaultVnic(vf uint32) (hw.VnicID, error) {
	id, ok := c.vfVnics[vf]
	if !ok {
		return hw.InvalidVnicID, errors.Errorf("no driver loaded on VF %d", vf)
	}
	return id, nil
}

// SetVFDefaultVnic seeds the default receive context id of a VF
func (c *ControlChannel) SetVFDefaultVnic(vf uint32, id hw.VnicID) {
	c.vfVnics[vf] = id
}

// SetTunnelOwner seeds the function id owning future tunnel redirects
func (c *ControlChannel) SetTunnelOwner(fid uint16) {
	c.tunnelOwner = fid
}

// L2FilterCount returns the number of installed L2 filters
func (c *ControlChannel) L2FilterCount() int { return len(c.l2Filters) }

// EMFilterCount returns the number of installed exact-match filters
func (c *ControlChannel) EMFilterCount() int { return len(c.emFilters) }

// NTupleFilterCount returns the number of installed tuple filters
func (c *ControlChannel) NTupleFilterCount() int { return len(c.ntupleFilters) }

// VnicCount returns the number of allocated receive contexts
func (c *ControlChannel) VnicCount() int { return len(c.vnics) }

// RSSContextCount returns the number of allocated RSS contexts
func (c *ControlChannel) RSSContextCount() int { return len(c.rssCtxs) }

// L2FilterByID returns the installed L2 filter with the given id, nil if none
func (c *ControlChannel) L2FilterByID(id hw.FilterID) *L2Filter {
	return c.l2Filters[id]
}

// RSSConfigFor returns the RSS config programmed on a receive context
func (c *ControlChannel) RSSConfigFor(id hw.VnicID) (hw.RSSConfig, bool) {
	cfg, ok := c.rssCfgs[id]
	return cfg, ok
}

// TunnelActive returns the active tunnel redirect bitmap
func (c *ControlChannel) TunnelActive() uint32 { return c.tunnelActive }
