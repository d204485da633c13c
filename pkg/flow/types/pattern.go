package types

import (
	"net"
)

const (
	ItemTypeVoid  ItemType = "void"
	ItemTypeAny   ItemType = "any"
	ItemTypeEth   ItemType = "eth"
	ItemTypeVlan  ItemType = "vlan"
	ItemTypeIPv4  ItemType = "ipv4"
	ItemTypeIPv6  ItemType = "ipv6"
	ItemTypeTCP   ItemType = "tcp"
	ItemTypeUDP   ItemType = "udp"
	ItemTypeVxlan ItemType = "vxlan"
	ItemTypeNvgre ItemType = "nvgre"
	ItemTypeGre   ItemType = "gre"
	ItemTypeVF    ItemType = "vf"
)

// ItemType is the type of a match pattern item
type ItemType string

// Item is a single matcher in a rule's match pattern. a pattern is an ordered
// sequence of Items; the end of the slice is the pattern's end marker.
// Spec and Mask presence must agree; Range (a spec upper bound) is never
// supported as match criteria.
type Item interface {
	// Type returns the item type
	Type() ItemType
	// HasSpec returns true if the item carries a spec
	HasSpec() bool
	// HasMask returns true if the item carries a mask
	HasMask() bool
	// HasRange returns true if the item carries a range (last) qualifier
	HasRange() bool
}

// Pattern is an ordered match pattern
type Pattern []Item

// VoidItem is a no-op placeholder item, skipped during parsing
type VoidItem struct{}

func (i *VoidItem) Type() ItemType { return ItemTypeVoid }
func (i *VoidItem) HasSpec() bool  { return false }
func (i *VoidItem) HasMask() bool  { return false }
func (i *VoidItem) HasRange() bool { return false }

// AnyFields is the spec of an AnyItem
type AnyFields struct {
	// Num is the number of headers covered. a value above 3 selects inner headers.
	Num uint32
}

// AnyItem matches any protocol at the given depth
type AnyItem struct {
	Spec *AnyFields
	Mask *AnyFields
	Last *AnyFields
}

func (i *AnyItem) Type() ItemType { return ItemTypeAny }
func (i *AnyItem) HasSpec() bool  { return i.Spec != nil }
func (i *AnyItem) HasMask() bool  { return i.Mask != nil }
func (i *AnyItem) HasRange() bool { return i.Last != nil }

// EthFields holds Ethernet header fields for spec/mask purposes
type EthFields struct {
	Dst       net.HardwareAddr
	Src       net.HardwareAddr
	EtherType uint16
}

// EthItem matches the Ethernet header
type EthItem struct {
	Spec *EthFields
	Mask *EthFields
	Last *EthFields
}

func (i *EthItem) Type() ItemType { return ItemTypeEth }
func (i *EthItem) HasSpec() bool  { return i.Spec != nil }
func (i *EthItem) HasMask() bool  { return i.Mask != nil }
func (i *EthItem) HasRange() bool { return i.Last != nil }

// VlanFields holds 802.1q tag fields
type VlanFields struct {
	// TCI is the tag control information field. only the 12 VLAN id bits are matchable.
	TCI uint16
	// InnerEtherType is the ethertype following the tag
	InnerEtherType uint16
}

// VlanItem matches a VLAN tag
type VlanItem struct {
	Spec *VlanFields
	Mask *VlanFields
	Last *VlanFields
}

func (i *VlanItem) Type() ItemType { return ItemTypeVlan }
func (i *VlanItem) HasSpec() bool  { return i.Spec != nil }
func (i *VlanItem) HasMask() bool  { return i.Mask != nil }
func (i *VlanItem) HasRange() bool { return i.Last != nil }

// IPv4Fields holds IPv4 header fields
type IPv4Fields struct {
	VersionIHL     uint8
	TOS            uint8
	TotalLength    uint16
	PacketID       uint16
	FragmentOffset uint16
	TTL            uint8
	Proto          uint8
	Checksum       uint16
	Src            net.IP
	Dst            net.IP
}

// IPv4Item matches the IPv4 header. only Src and Dst are maskable.
type IPv4Item struct {
	Spec *IPv4Fields
	Mask *IPv4Fields
	Last *IPv4Fields
}

func (i *IPv4Item) Type() ItemType { return ItemTypeIPv4 }
func (i *IPv4Item) HasSpec() bool  { return i.Spec != nil }
func (i *IPv4Item) HasMask() bool  { return i.Mask != nil }
func (i *IPv4Item) HasRange() bool { return i.Last != nil }

// IPv6Fields holds IPv6 header fields
type IPv6Fields struct {
	VTCFlow    uint32
	PayloadLen uint16
	Proto      uint8
	HopLimit   uint8
	Src        net.IP
	Dst        net.IP
}

// IPv6Item matches the IPv6 header. only Src and Dst are maskable.
type IPv6Item struct {
	Spec *IPv6Fields
	Mask *IPv6Fields
	Last *IPv6Fields
}

func (i *IPv6Item) Type() ItemType { return ItemTypeIPv6 }
func (i *IPv6Item) HasSpec() bool  { return i.Spec != nil }
func (i *IPv6Item) HasMask() bool  { return i.Mask != nil }
func (i *IPv6Item) HasRange() bool { return i.Last != nil }

// TCPFields holds TCP header fields
type TCPFields struct {
	SrcPort  uint16
	DstPort  uint16
	Seq      uint32
	Ack      uint32
	DataOff  uint8
	Flags    uint8
	Window   uint16
	Checksum uint16
	Urgent   uint16
}

// TCPItem matches the TCP header. only SrcPort and DstPort are maskable.
type TCPItem struct {
	Spec *TCPFields
	Mask *TCPFields
	Last *TCPFields
}

func (i *TCPItem) Type() ItemType { return ItemTypeTCP }
func (i *TCPItem) HasSpec() bool  { return i.Spec != nil }
func (i *TCPItem) HasMask() bool  { return i.Mask != nil }
func (i *TCPItem) HasRange() bool { return i.Last != nil }

// UDPFields holds UDP header fields
type UDPFields struct {
	SrcPort  uint16
	DstPort  uint16
	Length   uint16
	Checksum uint16
}

// UDPItem matches the UDP header. only SrcPort and DstPort are maskable.
type UDPItem struct {
	Spec *UDPFields
	Mask *UDPFields
	Last *UDPFields
}

func (i *UDPItem) Type() ItemType { return ItemTypeUDP }
func (i *UDPItem) HasSpec() bool  { return i.Spec != nil }
func (i *UDPItem) HasMask() bool  { return i.Mask != nil }
func (i *UDPItem) HasRange() bool { return i.Last != nil }

// VxlanFields holds VXLAN header fields
type VxlanFields struct {
	// Flags must carry the fixed protocol value 0x08 when a spec is present
	Flags uint8
	Rsvd0 [3]byte
	// VNI is the 24 bit VXLAN network identifier
	VNI   [3]byte
	Rsvd1 uint8
}

// VxlanItem matches VXLAN encapsulation. with no spec and no mask it matches
// the tunnel type generically.
type VxlanItem struct {
	Spec *VxlanFields
	Mask *VxlanFields
	Last *VxlanFields
}

func (i *VxlanItem) Type() ItemType { return ItemTypeVxlan }
func (i *VxlanItem) HasSpec() bool  { return i.Spec != nil }
func (i *VxlanItem) HasMask() bool  { return i.Mask != nil }
func (i *VxlanItem) HasRange() bool { return i.Last != nil }

// NvgreFields holds NVGRE header fields
type NvgreFields struct {
	// CKSRsvdVer must carry the fixed protocol value 0x2000 when a spec is present
	CKSRsvdVer uint16
	// Protocol must carry the transparent ethernet bridging ethertype 0x6558
	Protocol uint16
	// TNI is the 24 bit tenant network identifier
	TNI    [3]byte
	FlowID uint8
}

// NvgreItem matches NVGRE encapsulation. with no spec and no mask it matches
// the tunnel type generically.
type NvgreItem struct {
	Spec *NvgreFields
	Mask *NvgreFields
	Last *NvgreFields
}

func (i *NvgreItem) Type() ItemType { return ItemTypeNvgre }
func (i *NvgreItem) HasSpec() bool  { return i.Spec != nil }
func (i *NvgreItem) HasMask() bool  { return i.Mask != nil }
func (i *NvgreItem) HasRange() bool { return i.Last != nil }

// GreFields holds GRE header fields
type GreFields struct {
	CRKSRsvdVer uint16
	Protocol    uint16
}

// GreItem matches GRE encapsulation. only the generic (no spec, no mask) form
// contributes match criteria, selecting the IP-over-GRE tunnel type.
type GreItem struct {
	Spec *GreFields
	Mask *GreFields
	Last *GreFields
}

func (i *GreItem) Type() ItemType { return ItemTypeGre }
func (i *GreItem) HasSpec() bool  { return i.Spec != nil }
func (i *GreItem) HasMask() bool  { return i.Mask != nil }
func (i *GreItem) HasRange() bool { return i.Last != nil }

// VFFields identifies a virtual function
type VFFields struct {
	ID uint32
}

// VFItem matches traffic of a given virtual function. valid only on a
// physical function with the transfer attribute set.
type VFItem struct {
	Spec *VFFields
	Mask *VFFields
	Last *VFFields
}

func (i *VFItem) Type() ItemType { return ItemTypeVF }
func (i *VFItem) HasSpec() bool  { return i.Spec != nil }
func (i *VFItem) HasMask() bool  { return i.Mask != nil }
func (i *VFItem) HasRange() bool { return i.Last != nil }
