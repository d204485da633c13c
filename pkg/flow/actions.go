package flow

import (
	"math/rand"

	"github.com/pkg/errors"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/vnic"
)

// compileActions interprets the rule's action list, resolves or provisions
// the target receive context and finalizes the descriptor's destination and
// enable bits. it returns the context the flow steers to, nil for flows
// bound to the default context (drop, count, mirror, tunnel redirect).
// partial hardware state provisioned before a failure is rolled back here.
func (m *Manager) compileActions(attrs *types.Attrs, actions []types.Action,
	f *types.Filter, useNtuple bool) (*vnic.VNIC, error) {
	idx, act := nextAction(actions, 0)
	if act == nil {
		return nil, errors.Wrap(ErrInvalidAction, "empty action list")
	}

	var v *vnic.VNIC
	var fresh bool
	var err error

	switch a := act.(type) {
	case *types.QueueAction:
		v, fresh, err = m.compileQueueAction(attrs, a, f, useNtuple)
	case *types.RSSAction:
		v, fresh, err = m.compileRSSAction(attrs, a, f, useNtuple)
	case *types.DropAction:
		err = m.compileDropAction(f)
	case *types.CountAction:
		err = m.compileCountAction(f)
	case *types.VFAction:
		err = m.compileVFAction(a, f)
	default:
		return nil, errors.Wrapf(ErrInvalidAction, "unsupported action %s", act.Type())
	}
	if err != nil {
		if fresh && v != nil {
			m.rollbackVnic(v)
		}
		return nil, err
	}

	// after the recognized action the list must end
	if _, next := nextAction(actions, idx+1); next != nil {
		m.l2Release(f.L2Slot)
		f.L2Slot = -1
		if fresh && v != nil && !v.HasFlows() {
			m.rollbackVnic(v)
		}
		return nil, errors.Wrapf(ErrInvalidAction,
			"unexpected %s action after %s", next.Type(), act.Type())
	}

	return v, nil
}

// nextAction returns the first non-void action at or after position i
func nextAction(actions []types.Action, i int) (int, types.Action) {
	for ; i < len(actions); i++ {
		if actions[i].Type() != types.ActionTypeVoid {
			return i, actions[i]
		}
	}
	return len(actions), nil
}

func (m *Manager) compileQueueAction(attrs *types.Attrs, act *types.QueueAction,
	f *types.Filter, useNtuple bool) (*vnic.VNIC, bool, error) {
	q := act.Index
	// queue 0 belongs to the default context and is not usable for steering
	if q == 0 || q >= uint32(m.dev.NumRxQueues()) {
		return nil, false, errors.Wrapf(ErrInvalidAction, "invalid queue id %d", q)
	}
	m.log.V(5).Info("compiling queue action", "queue", q)

	slot := attrs.Group
	if slot == 0 {
		m.log.V(10).Info("group id is 0, using queue index as context slot")
		slot = q
	}

	v := m.vnics.Get(int(slot))
	if v == nil {
		return nil, false, errors.Wrapf(ErrInvalidAction,
			"no receive context for group %d", slot)
	}

	fresh := false
	if v.QueueCount > 0 {
		if v.StartQueue != q {
			return v, false, errors.Wrapf(ErrConflict,
				"receive context %d already in use", slot)
		}
	} else {
		if m.queueOwner[q] != 0 {
			return v, false, errors.Wrapf(ErrConflict,
				"queue %d in use by another receive context", q)
		}

		m.queueOwner[q] = int(slot)
		v.StartQueue = q
		v.EndQueue = q
		v.QueueCount = 1
		v.FwGroupIDs = []hw.GroupID{m.dev.GroupID(q)}
		fresh = true

		if err := m.vnicPrep(v); err != nil {
			return v, fresh, err
		}
	}

	if err := m.bindL2(f, v, useNtuple); err != nil {
		return v, fresh, err
	}
	return v, fresh, nil
}

func (m *Manager) compileRSSAction(attrs *types.Attrs, act *types.RSSAction,
	f *types.Filter, useNtuple bool) (*vnic.VNIC, bool, error) {
	if attrs.Group == 0 {
		return nil, false, errors.Wrap(ErrInvalidAction,
			"group id cannot be 0 for an RSS action")
	}
	if len(act.Queues) == 0 {
		return nil, false, errors.Wrap(ErrInvalidAction,
			"RSS action carries no queues")
	}

	v := m.vnics.Get(int(attrs.Group))
	if v == nil {
		return nil, false, errors.Wrapf(ErrInvalidAction,
			"no receive context for RSS group %d", attrs.Group)
	}

	// an already provisioned context is reusable only with an identical
	// queue set
	if v.QueueCount > 0 {
		if err := m.matchVnicRssCfg(v, act); err != nil {
			return v, false, err
		}
		if err := m.bindL2(f, v, useNtuple); err != nil {
			return v, false, err
		}
		return v, false, nil
	}

	for _, q := range act.Queues {
		m.log.V(10).Info("RSS action queue", "queue", q)
		if q == 0 || q >= uint32(m.dev.NumRxQueues()) {
			return v, false, errors.Wrapf(ErrInvalidAction,
				"invalid queue id %d for RSS", q)
		}
		if m.queueOwner[q] != 0 {
			return v, false, errors.Wrapf(ErrConflict,
				"queue %d active with another receive context", q)
		}
	}

	for _, q := range act.Queues {
		m.queueOwner[q] = int(attrs.Group)
	}
	v.QueueCount = len(act.Queues)
	v.StartQueue = act.Queues[0]
	v.EndQueue = act.Queues[len(act.Queues)-1]
	v.FwGroupIDs = make([]hw.GroupID, 0, len(act.Queues))
	for _, q := range act.Queues {
		v.FwGroupIDs = append(v.FwGroupIDs, m.dev.GroupID(q))
	}

	if err := m.vnicPrep(v); err != nil {
		return v, true, err
	}

	// indirection table round-robins over the bound queue groups
	v.RSSTable = make([]hw.GroupID, 0, hw.RSSTableSize)
	for len(v.RSSTable) < hw.RSSTableSize {
		for _, g := range v.FwGroupIDs {
			if len(v.RSSTable) == hw.RSSTableSize {
				break
			}
			v.RSSTable = append(v.RSSTable, g)
		}
	}

	// hashing is programmed only when more than one queue is bound
	if v.QueueCount > 1 {
		v.HashTypes = act.HashTypes
		v.HashKey = make([]byte, hw.RSSKeySize)
		if len(act.Key) == 0 {
			rand.Read(v.HashKey)
		} else {
			copy(v.HashKey, act.Key)
		}

		err := m.hwc.ConfigureRSS(hw.RSSConfig{
			Vnic:      v.HWID,
			Context:   v.RSSCtx,
			HashTypes: v.HashTypes,
			Key:       v.HashKey,
			Table:     v.RSSTable,
		})
		if err != nil {
			return v, true, errors.Wrap(ErrHardwareFailure, err.Error())
		}
	} else {
		m.log.V(10).Info("no RSS config required", "slot", v.Index)
	}

	if err := m.bindL2(f, v, useNtuple); err != nil {
		return v, true, err
	}
	return v, true, nil
}

func (m *Manager) compileDropAction(f *types.Filter) error {
	e, err := m.l2FindOrCreate(f, m.vnics.Default().HWID, false)
	if err != nil {
		return err
	}
	f.L2Slot = e.Slot
	f.L2FilterID = uint64(e.HWID)
	f.DstID = uint16(m.vnics.Default().HWID)
	f.Flags = types.FlagDrop
	return nil
}

func (m *Manager) compileCountAction(f *types.Filter) error {
	e, err := m.l2FindOrCreate(f, m.vnics.Default().HWID, false)
	if err != nil {
		return err
	}
	f.L2Slot = e.Slot
	f.L2FilterID = uint64(e.HWID)
	f.DstID = uint16(m.vnics.Default().HWID)
	f.Flags = types.FlagMeter
	return nil
}

func (m *Manager) compileVFAction(act *types.VFAction, f *types.Filter) error {
	// tunnel patterns redirect the whole tunnel type, no receive context or
	// filter object is involved
	if f.TunnelType == types.TunnelTypeVxlan || f.TunnelType == types.TunnelTypeIPGre {
		// on a VF the redirect targets the issuing function itself
		if !m.dev.IsPF() && (!m.dev.IsTrustedVF() || act.ID != 0) {
			return errors.Wrap(ErrPermissionDenied,
				"tunnel redirect requires a trusted function")
		}
		f.Enables |= types.FieldTunnelType
		f.Kind = types.FilterKindTunnelRedirect
		return nil
	}

	if act.ID >= uint32(m.dev.NumVFs()) {
		return errors.Wrapf(ErrInvalidAction, "VF id %d out of range", act.ID)
	}

	dfltVnic, err := m.hwc.VFDefaultVnic(act.ID)
	if err != nil {
		// no driver loaded on the VF
		return errors.Wrapf(ErrInvalidAction,
			"unable to get default receive context for VF %d: %v", act.ID, err)
	}
	f.MirrorDstID = uint16(dfltVnic)
	f.Enables |= types.FieldMirrorDst

	e, err := m.l2FindOrCreate(f, m.vnics.Default().HWID, false)
	if err != nil {
		return err
	}
	f.L2Slot = e.Slot
	f.L2FilterID = uint64(e.HWID)
	f.DstID = uint16(m.vnics.Default().HWID)
	return nil
}

// bindL2 points the descriptor at the context and resolves its shared L2
// filter. a descriptor with no tuple or L3/L4 refinement collapses into the
// L2 filter, so sharing is restricted to entries steering to the context.
func (m *Manager) bindL2(f *types.Filter, v *vnic.VNIC, useNtuple bool) error {
	f.DstID = uint16(v.HWID)
	e, err := m.l2FindOrCreate(f, v.HWID, !useNtuple && f.L2Only())
	if err != nil {
		return err
	}
	m.log.V(10).Info("resolved L2 filter", "slot", e.Slot, "refCnt", e.RefCnt)
	updateFilterFromL2(f, e, useNtuple)
	return nil
}

// vnicPrep provisions the hardware receive context for a freshly bound slot.
// an RSS context is allocated only when the slot serves more than one queue.
func (m *Manager) vnicPrep(v *vnic.VNIC) error {
	id, err := m.hwc.AllocVnic()
	if err != nil {
		return errors.Wrap(ErrResourceExhausted, err.Error())
	}
	v.HWID = id

	if v.QueueCount > 1 {
		ctx, err := m.hwc.AllocRSSContext()
		if err != nil {
			return errors.Wrap(ErrResourceExhausted, err.Error())
		}
		v.RSSCtx = ctx
	} else {
		m.log.V(10).Info("no RSS context required", "slot", v.Index)
	}

	v.VlanStrip = m.dev.VlanStripEnabled()

	err = m.hwc.ConfigureVnic(hw.VnicConfig{
		ID:           v.HWID,
		DefaultGroup: v.FwGroupIDs[0],
		VlanStrip:    v.VlanStrip,
	})
	if err != nil {
		return errors.Wrap(ErrHardwareFailure, err.Error())
	}

	m.log.V(5).Info("provisioned receive context", "slot", v.Index, "id", v.HWID,
		"queues", v.QueueCount)
	return nil
}

// matchVnicRssCfg verifies that a requested RSS queue set matches the
// context's bound set, order independent
func (m *Manager) matchVnicRssCfg(v *vnic.VNIC, act *types.RSSAction) error {
	if v.QueueCount != len(act.Queues) {
		return errors.Wrap(ErrConflict, "receive context and RSS config mismatch")
	}

	match := 0
	for _, q := range act.Queues {
		g := m.dev.GroupID(q)
		for _, have := range v.FwGroupIDs {
			if g == have {
				match++
				break
			}
		}
	}
	if match != v.QueueCount {
		m.log.V(5).Info("RSS queue set mismatch", "slot", v.Index,
			"want", v.QueueCount, "matched", match)
		return errors.Wrap(ErrConflict, "receive context and RSS config mismatch")
	}
	return nil
}

// rollbackVnic tears down a context provisioned earlier in the same call
func (m *Manager) rollbackVnic(v *vnic.VNIC) {
	if v.Default || v.HasFlows() {
		return
	}
	m.teardownVnic(v)
}
