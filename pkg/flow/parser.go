package flow

import (
	"encoding/binary"
	"net"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/device"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/utils"
)

const vlanIDMask = 0x0fff

// parseAttrs validates rule attributes. only the ingress direction is supported.
func parseAttrs(attrs *types.Attrs) error {
	if !attrs.Ingress {
		return errors.Wrap(ErrUnsupportedAttribute, "only ingress rules are supported")
	}
	if attrs.Egress {
		return errors.Wrap(ErrUnsupportedAttribute, "egress rules are not supported")
	}
	return nil
}

// filterKindCheck walks the pattern and decides between tuple and exact
// matching. plain L2 matchers prefer exact match, L3/L4 matchers force
// tuple match, and a VLAN matcher cannot be combined with tuple match.
func filterKindCheck(pattern types.Pattern) (bool, error) {
	useNtuple := true
	hasVlan := false

	for _, item := range pattern {
		switch item.Type() {
		case types.ItemTypeAny, types.ItemTypeEth:
			useNtuple = false
		case types.ItemTypeVlan:
			useNtuple = false
			hasVlan = true
		case types.ItemTypeIPv4, types.ItemTypeIPv6, types.ItemTypeTCP, types.ItemTypeUDP:
			useNtuple = true
		}
	}

	if hasVlan && useNtuple {
		return false, errors.Wrap(ErrInvalidMatchField,
			"cannot use VLAN matching with a tuple filter")
	}
	return useNtuple, nil
}

// extractor accumulates a Match Descriptor while walking a pattern
type extractor struct {
	log       klog.Logger
	dev       device.Registry
	hwc       hw.ControlChannel
	attrs     *types.Attrs
	useNtuple bool
	// inner requests matching inner headers of encapsulated traffic
	inner bool
}

// extract validates the pattern items against per kind maskability rules and
// fills in the descriptor's match fields, enable bits and L2 validity flags.
func (e *extractor) extract(pattern types.Pattern, f *types.Filter) error {
	if e.useNtuple {
		f.Kind = types.FilterKindNTuple
	} else {
		f.Kind = types.FilterKindExactMatch
	}

	for _, item := range pattern {
		if item.HasRange() {
			return errors.Wrapf(ErrInvalidMatchField,
				"%s item: ranges are not supported as match criteria", item.Type())
		}
		if err := checkSpecMask(item); err != nil {
			return err
		}

		var err error
		switch it := item.(type) {
		case *types.VoidItem:
		case *types.AnyItem:
			e.inner = it.Spec.Num > 3
			if e.inner {
				e.log.V(10).Info("matching inner headers")
			}
		case *types.EthItem:
			err = e.extractEth(it, f)
		case *types.VlanItem:
			err = e.extractVlan(it, f)
		case *types.IPv4Item:
			err = e.extractIPv4(it, f)
		case *types.IPv6Item:
			err = e.extractIPv6(it, f)
		case *types.TCPItem:
			err = e.extractTCP(it, f)
		case *types.UDPItem:
			err = e.extractUDP(it, f)
		case *types.VxlanItem:
			err = e.extractVxlan(it, f)
		case *types.NvgreItem:
			err = e.extractNvgre(it, f)
		case *types.GreItem:
			e.extractGre(it, f)
		case *types.VFItem:
			err = e.extractVF(it, f)
		default:
			return errors.Wrapf(ErrInvalidMatchField,
				"unsupported pattern item %s", item.Type())
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// checkSpecMask enforces spec/mask presence. tunnel items may omit both,
// meaning "match this tunnel type generically"; every other item requires both.
func checkSpecMask(item types.Item) error {
	switch item.Type() {
	case types.ItemTypeVoid:
		return nil
	case types.ItemTypeVxlan, types.ItemTypeNvgre, types.ItemTypeGre:
		if item.HasSpec() != item.HasMask() {
			return errors.Wrapf(ErrInvalidMatchField,
				"invalid %s item: spec and mask must both be set or both be empty",
				item.Type())
		}
		return nil
	}
	if !item.HasSpec() || !item.HasMask() {
		return errors.Wrapf(ErrInvalidMatchField,
			"%s item: spec or mask is missing", item.Type())
	}
	return nil
}

func (e *extractor) extractEth(item *types.EthItem, f *types.Filter) error {
	spec, mask := item.Spec, item.Mask

	// MAC masks cannot be partially set, all 0s or all 1s only
	if (!utils.IsZeroMAC(mask.Src) && !utils.IsBroadcastMAC(mask.Src)) ||
		(!utils.IsZeroMAC(mask.Dst) && !utils.IsBroadcastMAC(mask.Dst)) {
		return errors.Wrap(ErrInvalidMatchField, "MAC address mask not valid")
	}

	if mask.EtherType != 0 && mask.EtherType != 0xffff {
		return errors.Wrap(ErrInvalidMatchField, "ethertype mask not valid")
	}

	if utils.IsBroadcastMAC(mask.Dst) {
		if !utils.IsUnicastMAC(spec.Dst) {
			return errors.Wrap(ErrInvalidMatchField, "destination MAC is not unicast")
		}
		f.DstMAC = cloneMAC(spec.Dst)
		f.Enables |= types.FieldDstMAC
		if e.inner {
			f.L2Flags |= types.L2InnerDstValid
		} else {
			f.L2Flags |= types.L2DstValid
		}
		f.Priority = e.attrs.Priority
		e.log.V(10).Info("creating a priority flow", "priority", f.Priority)
	}

	if utils.IsBroadcastMAC(mask.Src) {
		if !utils.IsUnicastMAC(spec.Src) {
			return errors.Wrap(ErrInvalidMatchField, "source MAC is not unicast")
		}
		f.SrcMAC = cloneMAC(spec.Src)
		f.Enables |= types.FieldSrcMAC
		if e.inner {
			f.L2Flags |= types.L2InnerSrcValid
		} else {
			f.L2Flags |= types.L2SrcValid
		}
	}

	if mask.EtherType != 0 {
		f.EtherType = spec.EtherType
		f.Enables |= types.FieldEtherType
	}
	return nil
}

func (e *extractor) extractVlan(item *types.VlanItem, f *types.Filter) error {
	spec, mask := item.Spec, item.Mask

	if f.Enables&types.FieldEtherType != 0 {
		return errors.Wrap(ErrInvalidMatchField, "VLAN TPID matching is not supported")
	}

	// only the 12 bit VLAN id may be matched
	if mask.TCI != vlanIDMask {
		return errors.Wrap(ErrInvalidMatchField, "VLAN mask is invalid")
	}
	f.OuterVlanID = spec.TCI & vlanIDMask
	f.Enables |= types.FieldOuterVlanID

	if mask.InnerEtherType != 0 && mask.InnerEtherType != 0xffff {
		return errors.Wrap(ErrInvalidMatchField, "inner ethertype mask not valid")
	}
	if mask.InnerEtherType != 0 {
		f.EtherType = spec.InnerEtherType
		f.Enables |= types.FieldEtherType
	}
	return nil
}

func (e *extractor) extractIPv4(item *types.IPv4Item, f *types.Filter) error {
	spec, mask := item.Spec, item.Mask

	// only the source and destination addresses are maskable
	if mask.VersionIHL != 0 || mask.TOS != 0 || mask.TotalLength != 0 ||
		mask.PacketID != 0 || mask.FragmentOffset != 0 || mask.TTL != 0 ||
		mask.Proto != 0 || mask.Checksum != 0 {
		return errors.Wrap(ErrInvalidMatchField, "invalid IPv4 mask")
	}

	e.extractIPs(spec.Src, spec.Dst, mask.Src, mask.Dst, f)
	f.AddrType = types.AddrTypeIPv4

	if spec.Proto != 0 {
		f.IPProto = spec.Proto
		f.Enables |= types.FieldIPProto
	}
	return nil
}

func (e *extractor) extractIPv6(item *types.IPv6Item, f *types.Filter) error {
	spec, mask := item.Spec, item.Mask

	// only the source and destination addresses are maskable
	if mask.VTCFlow != 0 || mask.PayloadLen != 0 || mask.Proto != 0 ||
		mask.HopLimit != 0 {
		return errors.Wrap(ErrInvalidMatchField, "invalid IPv6 mask")
	}

	e.extractIPs(spec.Src, spec.Dst, mask.Src, mask.Dst, f)
	f.AddrType = types.AddrTypeIPv6
	return nil
}

func (e *extractor) extractIPs(src, dst, srcMask, dstMask net.IP, f *types.Filter) {
	f.SrcIP = cloneIP(src)
	f.DstIP = cloneIP(dst)
	f.Enables |= types.FieldSrcIP | types.FieldDstIP

	if !utils.IsMaskZero(net.IPMask(srcMask)) {
		f.SrcIPMask = net.IPMask(cloneIP(srcMask))
		if e.useNtuple {
			f.Enables |= types.FieldSrcIPMask
		}
	}
	if !utils.IsMaskZero(net.IPMask(dstMask)) {
		f.DstIPMask = net.IPMask(cloneIP(dstMask))
		if e.useNtuple {
			f.Enables |= types.FieldDstIPMask
		}
	}
}

func (e *extractor) extractTCP(item *types.TCPItem, f *types.Filter) error {
	spec, mask := item.Spec, item.Mask

	// only the source and destination ports are maskable
	if mask.Seq != 0 || mask.Ack != 0 || mask.DataOff != 0 ||
		mask.Flags != 0 || mask.Window != 0 || mask.Checksum != 0 ||
		mask.Urgent != 0 {
		return errors.Wrap(ErrInvalidMatchField, "invalid TCP mask")
	}

	e.extractPorts(spec.SrcPort, spec.DstPort, mask.SrcPort, mask.DstPort, f)
	return nil
}

func (e *extractor) extractUDP(item *types.UDPItem, f *types.Filter) error {
	spec, mask := item.Spec, item.Mask

	if mask.Length != 0 || mask.Checksum != 0 {
		return errors.Wrap(ErrInvalidMatchField, "invalid UDP mask")
	}

	e.extractPorts(spec.SrcPort, spec.DstPort, mask.SrcPort, mask.DstPort, f)
	return nil
}

func (e *extractor) extractPorts(srcPort, dstPort, srcMask, dstMask uint16, f *types.Filter) {
	f.SrcPort = srcPort
	f.DstPort = dstPort
	f.Enables |= types.FieldSrcPort | types.FieldDstPort

	if dstMask != 0 {
		f.DstPortMask = dstMask
		if e.useNtuple {
			f.Enables |= types.FieldDstPortMask
		}
	}
	if srcMask != 0 {
		f.SrcPortMask = srcMask
		if e.useNtuple {
			f.Enables |= types.FieldSrcPortMask
		}
	}
}

func (e *extractor) extractVxlan(item *types.VxlanItem, f *types.Filter) error {
	spec, mask := item.Spec, item.Mask

	// a bare VXLAN item matches the tunnel type generically
	if spec == nil && mask == nil {
		f.TunnelType = types.TunnelTypeVxlan
		return nil
	}

	if spec.Rsvd1 != 0 || spec.Rsvd0 != [3]byte{} || spec.Flags != 0x8 {
		return errors.Wrap(ErrInvalidMatchField, "invalid VXLAN item")
	}

	if mask.VNI != [3]byte{0xff, 0xff, 0xff} {
		return errors.Wrap(ErrInvalidMatchField, "invalid VNI mask")
	}

	f.TunnelID = tunnelID(spec.VNI)
	f.TunnelType = types.TunnelTypeVxlan
	return nil
}

func (e *extractor) extractNvgre(item *types.NvgreItem, f *types.Filter) error {
	spec, mask := item.Spec, item.Mask

	// a bare NVGRE item matches the tunnel type generically
	if spec == nil && mask == nil {
		f.TunnelType = types.TunnelTypeNvgre
		return nil
	}

	if spec.CKSRsvdVer != 0x2000 || spec.Protocol != 0x6558 {
		return errors.Wrap(ErrInvalidMatchField, "invalid NVGRE item")
	}

	if mask.TNI != [3]byte{0xff, 0xff, 0xff} {
		return errors.Wrap(ErrInvalidMatchField, "invalid TNI mask")
	}

	f.TunnelID = tunnelID(spec.TNI)
	f.TunnelType = types.TunnelTypeNvgre
	return nil
}

func (e *extractor) extractGre(item *types.GreItem, f *types.Filter) {
	// only a bare GRE item, matching the tunnel type generically, selects
	// a tunnel. a specific GRE header match contributes no criteria.
	if item.Spec == nil && item.Mask == nil {
		f.TunnelType = types.TunnelTypeIPGre
	}
}

func (e *extractor) extractVF(item *types.VFItem, f *types.Filter) error {
	vf := item.Spec.ID

	if !e.dev.IsPF() {
		return errors.Wrap(ErrInvalidMatchField,
			"VF matching is only supported on a physical function")
	}
	if vf >= uint32(e.dev.NumVFs()) {
		return errors.Wrapf(ErrInvalidMatchField, "VF id %d out of range", vf)
	}
	if !e.attrs.Transfer {
		return errors.Wrap(ErrInvalidMatchField,
			"matching VF traffic without affecting it (transfer attribute) is unsupported")
	}

	dfltVnic, err := e.hwc.VFDefaultVnic(vf)
	if err != nil {
		// no driver loaded on the VF
		return errors.Wrapf(ErrInvalidMatchField,
			"unable to get default receive context for VF %d: %v", vf, err)
	}

	f.MirrorDstID = uint16(dfltVnic)
	f.Enables |= types.FieldMirrorDst
	return nil
}

// tunnelID packs a 3 byte network order VNI/TNI into a host integer
func tunnelID(vni [3]byte) uint32 {
	var b [4]byte
	copy(b[1:], vni[:])
	return binary.BigEndian.Uint32(b[:])
}

func cloneMAC(mac net.HardwareAddr) net.HardwareAddr {
	out := make(net.HardwareAddr, len(mac))
	copy(out, mac)
	return out
}

func cloneIP(ip net.IP) net.IP {
	out := make(net.IP, len(ip))
	copy(out, ip)
	return out
}
