package types

import (
	"fmt"
	"net"
	"strconv"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/utils"
)

const (
	// Filter kinds. exactly one is set on a compiled Match Descriptor.
	FilterKindL2             FilterKind = "l2"
	FilterKindNTuple         FilterKind = "ntuple"
	FilterKindExactMatch     FilterKind = "em"
	FilterKindTunnelRedirect FilterKind = "tunnel-redirect"

	// Address family of the descriptor's L3 fields
	AddrTypeNone AddrType = ""
	AddrTypeIPv4 AddrType = "ipv4"
	AddrTypeIPv6 AddrType = "ipv6"

	// Tunnel types
	TunnelTypeNone  TunnelType = 0
	TunnelTypeVxlan TunnelType = 1
	TunnelTypeNvgre TunnelType = 2
	TunnelTypeIPGre TunnelType = 3
)

// FilterKind is the hardware filter kind a descriptor compiles to
type FilterKind string

// AddrType is the descriptor's L3 address family
type AddrType string

// TunnelType identifies a tunnel encapsulation type
type TunnelType uint8

// Bit returns the tunnel type's position in the active-redirect bitmap
// reported by the hardware control channel.
func (t TunnelType) Bit() uint32 {
	return 1 << uint32(t)
}

// String returns the tunnel type name
func (t TunnelType) String() string {
	switch t {
	case TunnelTypeVxlan:
		return "vxlan"
	case TunnelTypeNvgre:
		return "nvgre"
	case TunnelTypeIPGre:
		return "ipgre"
	}
	return "none"
}

// FieldFlag is a bitmask of descriptor fields enabled for matching
type FieldFlag uint32

const (
	FieldSrcMAC FieldFlag = 1 << iota
	FieldDstMAC
	FieldEtherType
	FieldOuterVlanID
	FieldInnerVlanID
	FieldSrcIP
	FieldDstIP
	FieldSrcIPMask
	FieldDstIPMask
	FieldIPProto
	FieldSrcPort
	FieldDstPort
	FieldSrcPortMask
	FieldDstPortMask
	FieldMirrorDst
	FieldL2FilterID
	FieldTunnelType
)

// L2Flag marks which L2 addresses of the pattern are match-valid
type L2Flag uint8

const (
	L2DstValid L2Flag = 1 << iota
	L2SrcValid
	L2InnerDstValid
	L2InnerSrcValid
)

// l2OnlyFlags covers every L2Flag bit. a descriptor whose flags are contained
// in this set needs no L3/L4 refinement.
const l2OnlyFlags = L2DstValid | L2SrcValid | L2InnerDstValid | L2InnerSrcValid

// FilterFlag carries hardware behavior flags of the descriptor
type FilterFlag uint32

const (
	FlagRxPath FilterFlag = 1 << iota
	FlagDrop
	FlagMeter
	FlagOutermost
	FlagSourceMAC
)

// InvalidHWID is the hardware identifier sentinel of an uninstalled object
const InvalidHWID uint64 = ^uint64(0)

// Filter is the Match Descriptor: the canonical, hardware-addressable
// representation of a compiled rule's match criteria and action target.
type Filter struct {
	Kind    FilterKind
	Flags   FilterFlag
	Enables FieldFlag
	L2Flags L2Flag

	SrcMAC        net.HardwareAddr
	DstMAC        net.HardwareAddr
	EtherType     uint16
	OuterVlanID   uint16
	OuterVlanMask uint16
	InnerVlanID   uint16
	InnerVlanMask uint16

	AddrType  AddrType
	SrcIP     net.IP
	DstIP     net.IP
	SrcIPMask net.IPMask
	DstIPMask net.IPMask
	IPProto   uint8

	SrcPort     uint16
	DstPort     uint16
	SrcPortMask uint16
	DstPortMask uint16

	TunnelType TunnelType
	TunnelID   uint32

	// Priority is the rule's placement priority taken from its attributes
	Priority uint32
	// PlaceBelow requests a hardware placement hint for high priority values
	PlaceBelow bool

	// L2Addr/L2AddrMask are the address programmed into the backing shared L2 filter
	L2Addr     net.HardwareAddr
	L2AddrMask net.HardwareAddr
	// L2Slot is the shared L2 filter table slot backing this descriptor, -1 when none
	L2Slot int
	// L2FilterID is the hardware id of the backing shared L2 filter
	L2FilterID uint64

	// DstID is the destination receive context hardware id
	DstID uint16
	// MirrorDstID is the mirror destination receive context hardware id (VF redirect)
	MirrorDstID uint16

	// HWID is assigned by the hardware on install. InvalidHWID until then.
	HWID uint64
}

// NewFilter returns an empty Match Descriptor with id sentinels set
func NewFilter() *Filter {
	return &Filter{
		L2Slot:     -1,
		L2FilterID: InvalidHWID,
		HWID:       InvalidHWID,
	}
}

// L2Only returns true if the descriptor matches on L2 fields alone
// (no L3/L4 refinement beyond the valid L2 address flags)
func (f *Filter) L2Only() bool {
	return f.L2Flags&^l2OnlyFlags == 0
}

// SourceKeyed returns true if the pattern is keyed on a source MAC address
func (f *Filter) SourceKeyed() bool {
	return f.L2Flags&(L2SrcValid|L2InnerSrcValid) != 0
}

// DstKeyed returns true if the pattern is keyed on a destination MAC address
func (f *Filter) DstKeyed() bool {
	return f.L2Flags&(L2DstValid|L2InnerDstValid) != 0
}

// Installed returns true if the descriptor carries a hardware identifier
func (f *Filter) Installed() bool {
	return f.HWID != InvalidHWID
}

// MatchEquals compares the match criteria of this descriptor with other,
// field for field, ignoring the destination. two descriptors that MatchEquals
// represent the same rule pattern possibly steered to different targets.
func (f *Filter) MatchEquals(other *Filter) bool {
	if f == other {
		return true
	}
	if f == nil || other == nil {
		return false
	}
	if f.Kind != other.Kind ||
		f.Flags != other.Flags ||
		f.SrcPort != other.SrcPort ||
		f.SrcPortMask != other.SrcPortMask ||
		f.DstPort != other.DstPort ||
		f.DstPortMask != other.DstPortMask ||
		f.IPProto != other.IPProto ||
		f.AddrType != other.AddrType ||
		f.EtherType != other.EtherType ||
		f.TunnelID != other.TunnelID ||
		f.TunnelType != other.TunnelType {
		return false
	}
	if f.OuterVlanID != other.OuterVlanID ||
		f.OuterVlanMask != other.OuterVlanMask ||
		f.InnerVlanID != other.InnerVlanID ||
		f.InnerVlanMask != other.InnerVlanMask {
		return false
	}
	if !utils.MACsEqual(f.L2Addr, other.L2Addr) ||
		!utils.MACsEqual(f.L2AddrMask, other.L2AddrMask) ||
		!utils.MACsEqual(f.SrcMAC, other.SrcMAC) ||
		!utils.MACsEqual(f.DstMAC, other.DstMAC) {
		return false
	}
	if !ipEqual(f.SrcIP, other.SrcIP) ||
		!ipEqual(f.DstIP, other.DstIP) ||
		!maskEqual(f.SrcIPMask, other.SrcIPMask) ||
		!maskEqual(f.DstIPMask, other.DstIPMask) {
		return false
	}
	return true
}

// Equals compares this descriptor with other including the destination
func (f *Filter) Equals(other *Filter) bool {
	return f.MatchEquals(other) && f.DstID == other.DstID
}

// GenCmdLineArgs implements CmdLineGenerator interface. it renders the
// descriptor's match criteria and destination in a human-readable form.
func (f *Filter) GenCmdLineArgs() []string {
	args := []string{"kind", string(f.Kind)}

	if f.Enables&FieldDstMAC != 0 {
		args = append(args, "dst_mac", f.DstMAC.String())
	}
	if f.Enables&FieldSrcMAC != 0 {
		args = append(args, "src_mac", f.SrcMAC.String())
	}
	if f.Enables&FieldEtherType != 0 {
		args = append(args, "ethertype", fmt.Sprintf("0x%04x", f.EtherType))
	}
	if f.Enables&FieldOuterVlanID != 0 {
		args = append(args, "ovlan", strconv.FormatUint(uint64(f.OuterVlanID), 10))
	}
	if f.Enables&FieldInnerVlanID != 0 {
		args = append(args, "ivlan", strconv.FormatUint(uint64(f.InnerVlanID), 10))
	}
	if f.Enables&FieldSrcIP != 0 {
		args = append(args, "src_ip", f.SrcIP.String())
		if f.Enables&FieldSrcIPMask != 0 {
			args = append(args, "src_ip_mask", net.IP(f.SrcIPMask).String())
		}
	}
	if f.Enables&FieldDstIP != 0 {
		args = append(args, "dst_ip", f.DstIP.String())
		if f.Enables&FieldDstIPMask != 0 {
			args = append(args, "dst_ip_mask", net.IP(f.DstIPMask).String())
		}
	}
	if f.Enables&FieldIPProto != 0 {
		args = append(args, "ip_proto", strconv.FormatUint(uint64(f.IPProto), 10))
	}
	if f.Enables&FieldSrcPort != 0 {
		args = append(args, "src_port", strconv.FormatUint(uint64(f.SrcPort), 10))
	}
	if f.Enables&FieldDstPort != 0 {
		args = append(args, "dst_port", strconv.FormatUint(uint64(f.DstPort), 10))
	}
	if f.TunnelType != TunnelTypeNone {
		args = append(args, "tunnel", f.TunnelType.String())
		if f.TunnelID != 0 {
			args = append(args, "tunnel_id", strconv.FormatUint(uint64(f.TunnelID), 10))
		}
	}
	if f.Enables&FieldMirrorDst != 0 {
		args = append(args, "mirror_dst", strconv.FormatUint(uint64(f.MirrorDstID), 10))
	}

	switch {
	case f.Flags&FlagDrop != 0:
		args = append(args, "action", "drop")
	case f.Flags&FlagMeter != 0:
		args = append(args, "action", "count")
	case f.Kind == FilterKindTunnelRedirect:
		args = append(args, "action", "tunnel-redirect")
	default:
		args = append(args, "dst_id", strconv.FormatUint(uint64(f.DstID), 10))
	}

	return args
}

func ipEqual(ip1, ip2 net.IP) bool {
	if len(ip1) == 0 || len(ip2) == 0 {
		return utils.IsZeroBytes(ip1) && utils.IsZeroBytes(ip2)
	}
	return ip1.Equal(ip2)
}

func maskEqual(m1, m2 net.IPMask) bool {
	if len(m1) != len(m2) {
		return utils.IsZeroBytes(m1) && utils.IsZeroBytes(m2)
	}
	for i := range m1 {
		if m1[i] != m2[i] {
			return false
		}
	}
	return true
}

// Builders

// NewFilterBuilder returns a new FilterBuilder
func NewFilterBuilder() *FilterBuilder {
	return &FilterBuilder{filter: NewFilter()}
}

// FilterBuilder is a Match Descriptor builder
type FilterBuilder struct {
	filter *Filter
}

// WithKind sets the filter kind
func (fb *FilterBuilder) WithKind(k FilterKind) *FilterBuilder {
	fb.filter.Kind = k
	return fb
}

// WithFlags sets hardware behavior flags
func (fb *FilterBuilder) WithFlags(fl FilterFlag) *FilterBuilder {
	fb.filter.Flags = fl
	return fb
}

// WithDstMAC sets the destination MAC match field
func (fb *FilterBuilder) WithDstMAC(mac net.HardwareAddr) *FilterBuilder {
	fb.filter.DstMAC = mac
	fb.filter.Enables |= FieldDstMAC
	fb.filter.L2Flags |= L2DstValid
	return fb
}

// WithSrcMAC sets the source MAC match field
func (fb *FilterBuilder) WithSrcMAC(mac net.HardwareAddr) *FilterBuilder {
	fb.filter.SrcMAC = mac
	fb.filter.Enables |= FieldSrcMAC
	fb.filter.L2Flags |= L2SrcValid
	return fb
}

// WithEtherType sets the ethertype match field
func (fb *FilterBuilder) WithEtherType(et uint16) *FilterBuilder {
	fb.filter.EtherType = et
	fb.filter.Enables |= FieldEtherType
	return fb
}

// WithOuterVlan sets the outer VLAN id match field
func (fb *FilterBuilder) WithOuterVlan(id, mask uint16) *FilterBuilder {
	fb.filter.OuterVlanID = id
	fb.filter.OuterVlanMask = mask
	fb.filter.Enables |= FieldOuterVlanID
	return fb
}

// WithSrcIP sets the source IP match field
func (fb *FilterBuilder) WithSrcIP(ip net.IP, mask net.IPMask) *FilterBuilder {
	fb.filter.SrcIP = ip
	fb.filter.Enables |= FieldSrcIP
	if mask != nil {
		fb.filter.SrcIPMask = mask
		fb.filter.Enables |= FieldSrcIPMask
	}
	return fb
}

// WithDstIP sets the destination IP match field
func (fb *FilterBuilder) WithDstIP(ip net.IP, mask net.IPMask) *FilterBuilder {
	fb.filter.DstIP = ip
	fb.filter.Enables |= FieldDstIP
	if mask != nil {
		fb.filter.DstIPMask = mask
		fb.filter.Enables |= FieldDstIPMask
	}
	return fb
}

// WithAddrType sets the L3 address family
func (fb *FilterBuilder) WithAddrType(at AddrType) *FilterBuilder {
	fb.filter.AddrType = at
	return fb
}

// WithIPProto sets the IP protocol match field
func (fb *FilterBuilder) WithIPProto(proto uint8) *FilterBuilder {
	fb.filter.IPProto = proto
	fb.filter.Enables |= FieldIPProto
	return fb
}

// WithPorts sets the L4 port match fields
func (fb *FilterBuilder) WithPorts(src, dst uint16) *FilterBuilder {
	fb.filter.SrcPort = src
	fb.filter.DstPort = dst
	fb.filter.Enables |= FieldSrcPort | FieldDstPort
	return fb
}

// WithTunnel sets the tunnel type and id match fields
func (fb *FilterBuilder) WithTunnel(t TunnelType, id uint32) *FilterBuilder {
	fb.filter.TunnelType = t
	fb.filter.TunnelID = id
	return fb
}

// Build returns the built Match Descriptor
// Note: calling Build() multiple times will not return a completely
// new object on each call. that is, pointer/slice/map types will not be deep copied.
// to create several objects, different builders should be used.
func (fb *FilterBuilder) Build() *Filter {
	return fb.filter
}
