// Package flow compiles declarative packet match and action rules into a
// deduplicated, reference counted set of hardware filter objects and keeps
// that set consistent as rules are validated, created, destroyed and flushed.
package flow

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/device"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/vnic"
)

// Flow is an installed rule, the externally visible handle
type Flow struct {
	// ID is the flow handle
	ID uuid.UUID
	// Filter is the flow's compiled Match Descriptor
	Filter *types.Filter
	// VnicSlot is the receive context slot the flow steers to. flows with
	// no dedicated context (drop, count, mirror, tunnel redirect) carry the
	// default slot 0.
	VnicSlot int
}

// Manager owns the flow table, the receive context arena and the shared L2
// filter table of one port. a single flow lock serializes validate, create,
// destroy and flush; hardware commands are synchronous round trips made
// while holding it.
type Manager struct {
	mu  sync.Mutex
	log klog.Logger
	hwc hw.ControlChannel
	dev device.Registry

	vnics *vnic.Pool
	l2    *l2Arena
	flows map[uuid.UUID]*Flow

	// queueOwner maps queue index to the owning context slot. slot 0 means
	// the queue is in the default context's pool and free for steering.
	queueOwner []int
}

// NewManager builds a Manager, provisions the default receive context over
// the port's queues and installs the port L2 filter steering to it.
func NewManager(log klog.Logger, hwc hw.ControlChannel, dev device.Registry,
	maxVnics, maxL2Filters int) (*Manager, error) {
	numRx := dev.NumRxQueues()
	if numRx <= 0 {
		return nil, errors.Wrap(ErrInvalidArgument, "device has no receive queues")
	}
	if maxVnics < 2 || maxL2Filters < 1 {
		return nil, errors.Wrap(ErrInvalidArgument, "invalid pool sizes")
	}

	m := &Manager{
		log:        log,
		hwc:        hwc,
		dev:        dev,
		vnics:      vnic.NewPool(maxVnics),
		l2:         newL2Arena(maxL2Filters),
		flows:      make(map[uuid.UUID]*Flow),
		queueOwner: make([]int, numRx),
	}

	if err := m.setupDefaultVnic(); err != nil {
		return nil, err
	}
	if err := m.setupPortFilter(); err != nil {
		return nil, err
	}
	return m, nil
}

// setupDefaultVnic provisions slot 0 over all receive queues
func (m *Manager) setupDefaultVnic() error {
	v := m.vnics.Default()
	numRx := m.dev.NumRxQueues()

	id, err := m.hwc.AllocVnic()
	if err != nil {
		return errors.Wrap(ErrResourceExhausted, err.Error())
	}
	v.HWID = id
	v.StartQueue = 0
	v.EndQueue = uint32(numRx - 1)
	v.QueueCount = numRx
	v.VlanStrip = m.dev.VlanStripEnabled()
	v.FwGroupIDs = make([]hw.GroupID, 0, numRx)
	for q := 0; q < numRx; q++ {
		v.FwGroupIDs = append(v.FwGroupIDs, m.dev.GroupID(uint32(q)))
	}

	err = m.hwc.ConfigureVnic(hw.VnicConfig{
		ID:           v.HWID,
		DefaultGroup: v.FwGroupIDs[0],
		VlanStrip:    v.VlanStrip,
	})
	if err != nil {
		return errors.Wrap(ErrHardwareFailure, err.Error())
	}

	m.log.V(5).Info("provisioned default receive context", "id", v.HWID, "queues", numRx)
	return nil
}

// setupPortFilter installs the port MAC L2 filter on the default context
func (m *Manager) setupPortFilter() error {
	mac := m.dev.PortMAC()
	if len(mac) == 0 {
		m.log.V(5).Info("no port MAC, skipping port filter")
		return nil
	}

	f := types.NewFilterBuilder().WithDstMAC(mac).Build()
	_, err := m.l2Create(f, m.vnics.Default().HWID)
	if err != nil {
		return err
	}
	m.log.V(5).Info("installed port L2 filter", "mac", mac.String())
	return nil
}

// Validate dry-runs the full compile and dedup pipeline for a rule without
// persisting any state.
func (m *Manager) Validate(attrs *types.Attrs, pattern types.Pattern, actions []types.Action) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkArgs(attrs, pattern, actions); err != nil {
		return err
	}

	f, v, err := m.compile(attrs, pattern, actions)
	m.releaseCompiled(f, v)
	return err
}

// Create compiles a rule, deduplicates it against installed flows, installs
// it in hardware and registers the resulting Flow. a rule matching an
// existing flow's pattern but naming a different destination updates that
// flow in place and returns it; the flow handle is stable across the update.
func (m *Manager) Create(attrs *types.Attrs, pattern types.Pattern, actions []types.Action) (*Flow, error) {
	if !m.dev.IsPF() && !m.dev.IsTrustedVF() {
		return nil, errors.Wrap(ErrPermissionDenied,
			"cannot create flows on an untrusted virtual function")
	}
	if !m.dev.Started() {
		return nil, errors.Wrap(ErrInvalidArgument, "device must be started")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := checkArgs(attrs, pattern, actions); err != nil {
		return nil, err
	}

	f, v, err := m.compile(attrs, pattern, actions)
	if err != nil {
		return nil, err
	}

	existing, err := m.matchExisting(f)
	if err != nil {
		m.releaseCompiled(f, v)
		return nil, err
	}

	if f.Kind == types.FilterKindTunnelRedirect && f.Enables == types.FieldTunnelType {
		err = m.installTunnelRedirect(f)
	} else {
		err = m.installFilter(f)
	}
	if err != nil {
		m.releaseCompiled(f, v)
		if existing != nil {
			// the old filter is already gone, the flow has no hardware
			// state left to keep
			m.unregisterFlow(existing)
		}
		return nil, err
	}

	slot := 0
	if v != nil {
		slot = v.Index
	}

	if existing != nil {
		// same pattern, new destination: the existing flow was already
		// re-pointed at the new descriptor, move it to its new context
		m.moveFlow(existing, slot)
		m.log.V(5).Info("updated flow destination", "flow", existing.ID, "slot", slot)
		return existing, nil
	}

	flow := &Flow{ID: uuid.New(), Filter: f, VnicSlot: slot}
	m.flows[flow.ID] = flow
	m.vnics.Get(slot).AddFlow(flow.ID)
	m.log.V(5).Info("created flow", "flow", flow.ID, "slot", slot, "kind", f.Kind)
	return flow, nil
}

// Destroy uninstalls a flow and releases its descriptor and shared L2 filter
// reference. the flow's receive context is torn down when its flow list
// becomes empty.
func (m *Manager) Destroy(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	flow, ok := m.flows[id]
	if !ok {
		return errors.Wrapf(ErrNotFound, "flow %s", id)
	}

	if err := m.uninstallFlow(flow); err != nil {
		return err
	}
	m.unregisterFlow(flow)
	m.log.V(5).Info("destroyed flow", "flow", id)
	return nil
}

// Flush destroys all flows. tunnel redirects owned by another function are
// removed from the table without touching hardware; any other hardware
// failure aborts the flush, leaving already removed flows removed.
func (m *Manager) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, v := range m.vnics.Live() {
		ids := make([]uuid.UUID, len(v.Flows))
		copy(ids, v.Flows)
		for _, id := range ids {
			flow, ok := m.flows[id]
			if !ok {
				continue
			}
			if err := m.uninstallFlow(flow); err != nil {
				return errors.WithMessagef(err, "failed to flush flow %s", id)
			}
			m.unregisterFlow(flow)
		}
	}
	m.log.V(5).Info("flushed all flows")
	return nil
}

// Get returns the flow with the given handle, nil if unknown
func (m *Manager) Get(id uuid.UUID) *Flow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.flows[id]
}

// Len returns the number of installed flows
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.flows)
}

func checkArgs(attrs *types.Attrs, pattern types.Pattern, actions []types.Action) error {
	if attrs == nil {
		return errors.Wrap(ErrInvalidArgument, "no attributes")
	}
	if pattern == nil {
		return errors.Wrap(ErrInvalidArgument, "no match pattern")
	}
	if actions == nil {
		return errors.Wrap(ErrInvalidArgument, "no actions")
	}
	return nil
}

// compile runs the field extractor, kind selection and action compilation,
// producing an installable Match Descriptor and its resolved context.
func (m *Manager) compile(attrs *types.Attrs, pattern types.Pattern,
	actions []types.Action) (*types.Filter, *vnic.VNIC, error) {
	useNtuple, err := filterKindCheck(pattern)
	if err != nil {
		return nil, nil, err
	}
	m.log.V(10).Info("selected filter kind", "useNtuple", useNtuple)

	if err := parseAttrs(attrs); err != nil {
		return nil, nil, err
	}

	f := types.NewFilter()
	e := &extractor{
		log:       m.log,
		dev:       m.dev,
		hwc:       m.hwc,
		attrs:     attrs,
		useNtuple: useNtuple,
	}
	if err := e.extract(pattern, f); err != nil {
		return nil, nil, err
	}

	// ingress only
	if f.Kind == types.FilterKindExactMatch {
		f.Flags = types.FlagRxPath
	}

	v, err := m.compileActions(attrs, actions, f, useNtuple)
	if err != nil {
		return nil, nil, err
	}
	return f, v, nil
}

// releaseCompiled rolls back a compiled but unregistered descriptor: its
// shared L2 filter reference is dropped and a context freshly provisioned
// for it is torn down.
func (m *Manager) releaseCompiled(f *types.Filter, v *vnic.VNIC) {
	if v != nil && !v.Default && !v.HasFlows() {
		m.teardownVnic(v)
	}
	if f != nil {
		if err := m.l2Release(f.L2Slot); err != nil {
			m.log.Error(err, "failed to release L2 filter", "slot", f.L2Slot)
		}
		f.L2Slot = -1
	}
}

// matchExisting scans installed flows for one whose descriptor matches the
// candidate field for field. an identical destination is a duplicate rule;
// a different destination re-points the existing flow at the candidate
// descriptor and returns the flow for registration under its new context.
func (m *Manager) matchExisting(nf *types.Filter) (*Flow, error) {
	for _, flow := range m.flows {
		mf := flow.Filter
		if !mf.MatchEquals(nf) {
			continue
		}
		if mf.DstID == nf.DstID {
			m.log.V(5).Info("flow already exists", "flow", flow.ID)
			return nil, errors.Wrapf(ErrDuplicateRule, "flow %s", flow.ID)
		}

		m.log.V(5).Info("flow with same pattern exists, updating destination",
			"flow", flow.ID)

		// uninstall the old hardware filter. the candidate descriptor
		// carries its own L2 reference pointing at the new destination.
		switch mf.Kind {
		case types.FilterKindExactMatch:
			if mf.Installed() {
				if err := m.hwc.ClearEMFilter(hw.FilterID(mf.HWID)); err != nil {
					return nil, errors.Wrap(ErrHardwareFailure, err.Error())
				}
			}
		case types.FilterKindNTuple:
			if mf.Installed() {
				if err := m.hwc.ClearNTupleFilter(hw.FilterID(mf.HWID)); err != nil {
					return nil, errors.Wrap(ErrHardwareFailure, err.Error())
				}
			}
		}
		if err := m.l2Release(mf.L2Slot); err != nil {
			return nil, err
		}

		flow.Filter = nf
		return flow, nil
	}
	return nil, nil
}

// installTunnelRedirect points all traffic of the descriptor's tunnel type
// at this function, replacing an existing redirect held by it.
func (m *Manager) installTunnelRedirect(f *types.Filter) error {
	active, err := m.hwc.QueryTunnelRedirect()
	if err != nil {
		return errors.Wrap(ErrHardwareFailure, "unable to query tunnel redirect state: "+err.Error())
	}
	if active == f.TunnelType.Bit() {
		if err := m.hwc.FreeTunnelRedirect(f.TunnelType); err != nil {
			return errors.Wrap(ErrHardwareFailure,
				"unable to free preexisting tunnel redirect: "+err.Error())
		}
	}
	if err := m.hwc.SetTunnelRedirect(f.TunnelType); err != nil {
		return errors.Wrap(ErrHardwareFailure,
			"unable to redirect tunnel: "+err.Error())
	}
	m.log.V(5).Info("installed tunnel redirect", "tunnel", f.TunnelType.String())
	return nil
}

// installFilter installs the descriptor's hardware filter object. plain L2
// descriptors are already installed through their shared L2 filter.
func (m *Manager) installFilter(f *types.Filter) error {
	switch f.Kind {
	case types.FilterKindExactMatch:
		f.Enables |= types.FieldL2FilterID
		id, err := m.hwc.SetEMFilter(f)
		if err != nil {
			return errors.Wrap(ErrHardwareFailure, err.Error())
		}
		f.HWID = uint64(id)
	case types.FilterKindNTuple:
		f.Enables |= types.FieldL2FilterID
		id, err := m.hwc.SetNTupleFilter(f)
		if err != nil {
			return errors.Wrap(ErrHardwareFailure, err.Error())
		}
		f.HWID = uint64(id)
	case types.FilterKindL2:
		f.HWID = f.L2FilterID
	}
	return nil
}

// uninstallFlow removes a flow's hardware state
func (m *Manager) uninstallFlow(flow *Flow) error {
	f := flow.Filter

	if f.Kind == types.FilterKindTunnelRedirect && f.Enables == types.FieldTunnelType {
		return m.destroyTunnelRedirect(f)
	}

	switch f.Kind {
	case types.FilterKindExactMatch:
		if f.Installed() {
			if err := m.hwc.ClearEMFilter(hw.FilterID(f.HWID)); err != nil {
				return errors.Wrap(ErrHardwareFailure, err.Error())
			}
			f.HWID = types.InvalidHWID
		}
	case types.FilterKindNTuple:
		if f.Installed() {
			if err := m.hwc.ClearNTupleFilter(hw.FilterID(f.HWID)); err != nil {
				return errors.Wrap(ErrHardwareFailure, err.Error())
			}
			f.HWID = types.InvalidHWID
		}
	}

	if err := m.l2Release(f.L2Slot); err != nil {
		return err
	}
	f.L2Slot = -1
	return nil
}

// destroyTunnelRedirect frees the tunnel redirect if this function owns it.
// a redirect owned by another function is left alone and the flow is removed
// from the table without touching hardware.
func (m *Manager) destroyTunnelRedirect(f *types.Filter) error {
	active, err := m.hwc.QueryTunnelRedirect()
	if err != nil {
		return errors.Wrap(ErrHardwareFailure, "unable to query tunnel redirect state: "+err.Error())
	}
	if active != f.TunnelType.Bit() {
		return nil
	}

	dstFid, err := m.hwc.TunnelRedirectInfo(f.TunnelType)
	if err != nil {
		return errors.Wrap(ErrHardwareFailure, "tunnel redirect info query failed: "+err.Error())
	}

	if m.dev.FunctionID() != dstFid+m.dev.FirstVFID() {
		m.log.V(5).Info("tunnel redirect owned by another function, skipping hardware free",
			"tunnel", f.TunnelType.String(), "owner", dstFid)
		return nil
	}

	if err := m.hwc.FreeTunnelRedirect(f.TunnelType); err != nil {
		return errors.Wrap(ErrHardwareFailure, err.Error())
	}
	m.log.V(5).Info("freed tunnel redirect", "tunnel", f.TunnelType.String())
	return nil
}

// unregisterFlow removes the flow from its context and the flow table,
// tearing down an emptied non-default context.
func (m *Manager) unregisterFlow(flow *Flow) {
	v := m.vnics.Get(flow.VnicSlot)
	if v != nil {
		v.RemoveFlow(flow.ID)
		if !v.Default && !v.HasFlows() {
			m.teardownVnic(v)
		}
	}
	delete(m.flows, flow.ID)
}

// moveFlow re-registers a flow under a new context slot, tearing down the
// old context if its flow list became empty
func (m *Manager) moveFlow(flow *Flow, slot int) {
	old := m.vnics.Get(flow.VnicSlot)
	if old != nil && old.Index != slot {
		old.RemoveFlow(flow.ID)
		if !old.Default && !old.HasFlows() {
			m.teardownVnic(old)
		}
	}
	if old == nil || old.Index != slot {
		m.vnics.Get(slot).AddFlow(flow.ID)
	}
	flow.VnicSlot = slot
}

// teardownVnic frees a context's hardware state and reverts its queues to
// the default pool. hardware free failures are logged, the slot is reclaimed
// regardless. a slot whose provisioning never reached hardware still has its
// queue claims reverted.
func (m *Manager) teardownVnic(v *vnic.VNIC) {
	if v.Live() {
		if v.QueueCount > 1 && v.RSSCtx != hw.InvalidRSSContextID {
			if err := m.hwc.FreeRSSContext(v.RSSCtx); err != nil {
				m.log.Error(err, "failed to free RSS context", "slot", v.Index)
			}
		}
		if err := m.hwc.FreeVnic(v.HWID); err != nil {
			m.log.Error(err, "failed to free receive context", "slot", v.Index)
		}
	}
	for q := range m.queueOwner {
		if m.queueOwner[q] == v.Index {
			m.queueOwner[q] = 0
		}
	}
	m.log.V(5).Info("torn down receive context", "slot", v.Index)
	v.Reset()
}
