package flow

import (
	"net"

	"github.com/pkg/errors"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/utils"
)

// macLen is the Ethernet address length in bytes
const macLen = 6

// l2Entry is one shared L2 filter slot. an entry is live while its reference
// count is above zero; it keeps the match key of the descriptor that created
// it so later rules can find and share it.
type l2Entry struct {
	Slot   int
	HWID   hw.FilterID
	RefCnt int
	// Dst is the receive context the filter steers to. descriptors refined
	// by a tuple or exact-match filter share an entry regardless of where
	// it steers; a pure L2 flow steers through its entry, so only an entry
	// pointing at the flow's own context can back it.
	Dst hw.VnicID

	// Addr/AddrMask are what the hardware filter matches on
	Addr     net.HardwareAddr
	AddrMask net.HardwareAddr

	// dedup key, copied from the creating descriptor
	SrcMAC        net.HardwareAddr
	DstMAC        net.HardwareAddr
	EtherType     uint16
	OuterVlanID   uint16
	OuterVlanMask uint16
	InnerVlanID   uint16
	InnerVlanMask uint16

	Flags      types.FilterFlag
	PlaceBelow bool
}

func (e *l2Entry) reset() {
	slot := e.Slot
	*e = l2Entry{}
	e.Slot = slot
	e.HWID = hw.InvalidFilterID
	e.Dst = hw.InvalidVnicID
}

// matches compares the entry's dedup key against a candidate descriptor
func (e *l2Entry) matches(f *types.Filter) bool {
	return e.EtherType == f.EtherType &&
		e.OuterVlanID == f.OuterVlanID &&
		e.OuterVlanMask == f.OuterVlanMask &&
		e.InnerVlanID == f.InnerVlanID &&
		e.InnerVlanMask == f.InnerVlanMask &&
		utils.MACsEqual(e.SrcMAC, f.SrcMAC) &&
		utils.MACsEqual(e.DstMAC, f.DstMAC)
}

// l2Arena is the shared L2 filter pool. slots are acquired in place, there
// is no free list. slot 0 holds the port filter installed at startup.
type l2Arena struct {
	slots []*l2Entry
}

func newL2Arena(size int) *l2Arena {
	a := &l2Arena{slots: make([]*l2Entry, size)}
	for i := range a.slots {
		e := &l2Entry{Slot: i}
		e.reset()
		a.slots[i] = e
	}
	return a
}

// portFilter returns the default port L2 filter entry, nil until installed
func (a *l2Arena) portFilter() *l2Entry {
	if a.slots[0].RefCnt == 0 {
		return nil
	}
	return a.slots[0]
}

func (a *l2Arena) acquire() (*l2Entry, error) {
	for _, e := range a.slots {
		if e.RefCnt == 0 {
			return e, nil
		}
	}
	return nil, errors.Wrap(ErrResourceExhausted, "no free shared L2 filter slot")
}

// l2FindOrCreate resolves the shared L2 filter backing a descriptor: reuse
// the port filter when the destination MAC matches it, otherwise share any
// live entry with an identical L2 key, otherwise install a new filter
// steering to dst. steering marks a descriptor that collapses into its L2
// filter and therefore only shares entries pointing at dst itself. the
// returned entry's reference count includes the descriptor's reference.
func (m *Manager) l2FindOrCreate(f *types.Filter, dst hw.VnicID, steering bool) (*l2Entry, error) {
	// fast path for untagged traffic to the port MAC
	if e := m.l2.portFilter(); e != nil && utils.MACsEqual(e.Addr, f.DstMAC) {
		e.RefCnt++
		return e, nil
	}

	for _, e := range m.l2.slots {
		if e.RefCnt == 0 {
			continue
		}
		if steering && e.Dst != dst {
			continue
		}
		if e.matches(f) {
			e.RefCnt++
			m.log.V(10).Info("sharing L2 filter", "slot", e.Slot, "refCnt", e.RefCnt)
			return e, nil
		}
	}

	return m.l2Create(f, dst)
}

// l2Create installs a new shared L2 filter for the descriptor
func (m *Manager) l2Create(f *types.Filter, dst hw.VnicID) (*l2Entry, error) {
	e, err := m.l2.acquire()
	if err != nil {
		return nil, err
	}

	cfg := hw.L2FilterConfig{
		AddrMask:      utils.BroadcastMAC(macLen),
		EtherType:     f.EtherType,
		OuterVlanID:   f.OuterVlanID,
		OuterVlanMask: f.OuterVlanMask,
		InnerVlanID:   f.InnerVlanID,
		InnerVlanMask: f.InnerVlanMask,
	}

	flags := types.FlagRxPath
	if f.L2Flags&(types.L2SrcValid|types.L2DstValid) != 0 {
		flags |= types.FlagOutermost
		cfg.Outermost = true
		m.log.V(10).Info("creating outer L2 filter")
	}

	if f.SourceKeyed() {
		m.log.V(10).Info("creating L2 filter keyed on source MAC")
		flags |= types.FlagSourceMAC
		cfg.SourceAddr = true
		cfg.Addr = cloneMAC(f.SrcMAC)
	} else {
		m.log.V(10).Info("creating L2 filter keyed on destination MAC")
		cfg.Addr = cloneMAC(f.DstMAC)
	}

	// high priority destination flows get a placement hint pushing the
	// filter below existing ones
	if f.Priority > 65535 && f.DstKeyed() {
		cfg.PlaceBelow = true
		e.PlaceBelow = true
	}

	id, err := m.hwc.SetL2Filter(dst, cfg)
	if err != nil {
		e.reset()
		return nil, errors.Wrap(ErrResourceExhausted, err.Error())
	}

	e.HWID = id
	e.RefCnt = 1
	e.Dst = dst
	e.Addr = cfg.Addr
	e.AddrMask = cfg.AddrMask
	e.SrcMAC = cloneMAC(f.SrcMAC)
	e.DstMAC = cloneMAC(f.DstMAC)
	e.EtherType = f.EtherType
	e.OuterVlanID = f.OuterVlanID
	e.OuterVlanMask = f.OuterVlanMask
	e.InnerVlanID = f.InnerVlanID
	e.InnerVlanMask = f.InnerVlanMask
	e.Flags = flags
	return e, nil
}

// l2Release drops one reference on a shared L2 filter slot, uninstalling the
// hardware filter when the count reaches zero. a negative slot is a no-op.
func (m *Manager) l2Release(slot int) error {
	if slot < 0 || slot >= len(m.l2.slots) {
		return nil
	}
	e := m.l2.slots[slot]
	if e.RefCnt == 0 {
		return nil
	}
	e.RefCnt--
	if e.RefCnt > 0 {
		m.log.V(10).Info("released L2 filter reference", "slot", slot, "refCnt", e.RefCnt)
		return nil
	}
	if err := m.hwc.ClearL2Filter(e.HWID); err != nil {
		e.RefCnt++
		return errors.Wrap(ErrHardwareFailure, err.Error())
	}
	m.log.V(5).Info("uninstalled L2 filter", "slot", slot)
	e.reset()
	return nil
}

// updateFilterFromL2 finalizes a descriptor against its shared L2 filter.
// an exact-match descriptor with no L3/L4 refinement collapses into a plain
// L2 filter, reusing the shared filter as its own hardware object.
func updateFilterFromL2(f *types.Filter, e *l2Entry, useNtuple bool) {
	if !useNtuple && f.L2Only() {
		f.Kind = types.FilterKindL2
		f.Flags = e.Flags
		f.L2Addr = cloneMAC(e.Addr)
		f.L2AddrMask = utils.BroadcastMAC(macLen)
		f.PlaceBelow = e.PlaceBelow
	}
	f.L2Slot = e.Slot
	f.L2FilterID = uint64(e.HWID)
}
