package main

import (
	"encoding/json"
	"net"
	"os"

	"github.com/pkg/errors"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/utils"
)

// ruleFile is the on-disk rule set schema
type ruleFile struct {
	Rules []ruleSpec `json:"rules"`
}

// ruleSpec is one flow rule in the rule file
type ruleSpec struct {
	Attrs   attrsSpec    `json:"attrs"`
	Pattern []itemSpec   `json:"pattern"`
	Actions []actionSpec `json:"actions"`
}

type attrsSpec struct {
	Group    uint32 `json:"group,omitempty"`
	Priority uint32 `json:"priority,omitempty"`
	Ingress  bool   `json:"ingress"`
	Egress   bool   `json:"egress,omitempty"`
	Transfer bool   `json:"transfer,omitempty"`
}

// itemSpec is one match pattern item. fields are exact match criteria;
// masks are derived, with src and dst addresses taking CIDR prefixes.
type itemSpec struct {
	Type string `json:"type"`

	DstMAC    string  `json:"dstMAC,omitempty"`
	SrcMAC    string  `json:"srcMAC,omitempty"`
	EtherType *uint16 `json:"etherType,omitempty"`

	VlanID *uint16 `json:"vlanID,omitempty"`

	Src   string `json:"src,omitempty"`
	Dst   string `json:"dst,omitempty"`
	Proto uint8  `json:"proto,omitempty"`

	SrcPort *uint16 `json:"srcPort,omitempty"`
	DstPort *uint16 `json:"dstPort,omitempty"`

	VNI *uint32 `json:"vni,omitempty"`

	ID uint32 `json:"id,omitempty"`
}

// actionSpec is one rule action
type actionSpec struct {
	Type string `json:"type"`

	Index     uint32   `json:"index,omitempty"`
	Queues    []uint32 `json:"queues,omitempty"`
	HashTypes uint32   `json:"hashTypes,omitempty"`
	ID        uint32   `json:"id,omitempty"`
}

// loadRules reads and decodes the rule file at path
func loadRules(path string) ([]ruleSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read rules file %s", path)
	}
	var rf ruleFile
	if err := json.Unmarshal(data, &rf); err != nil {
		return nil, errors.Wrapf(err, "failed to decode rules file %s", path)
	}
	return rf.Rules, nil
}

// parse converts the rule into the attrs, pattern and actions the flow
// manager consumes
func (r *ruleSpec) parse() (*types.Attrs, types.Pattern, []types.Action, error) {
	attrs := &types.Attrs{
		Group:    r.Attrs.Group,
		Priority: r.Attrs.Priority,
		Ingress:  r.Attrs.Ingress,
		Egress:   r.Attrs.Egress,
		Transfer: r.Attrs.Transfer,
	}

	pattern := make(types.Pattern, 0, len(r.Pattern))
	for i := range r.Pattern {
		item, err := r.Pattern[i].parse()
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "pattern item %d", i)
		}
		pattern = append(pattern, item)
	}

	actions := make([]types.Action, 0, len(r.Actions))
	for i := range r.Actions {
		action, err := r.Actions[i].parse()
		if err != nil {
			return nil, nil, nil, errors.Wrapf(err, "action %d", i)
		}
		actions = append(actions, action)
	}

	return attrs, pattern, actions, nil
}

func (s *itemSpec) parse() (types.Item, error) {
	switch s.Type {
	case "eth":
		return s.parseEth()
	case "vlan":
		return s.parseVlan()
	case "ipv4":
		return s.parseIP(false)
	case "ipv6":
		return s.parseIP(true)
	case "tcp", "udp":
		return s.parseL4()
	case "vxlan":
		return s.parseVxlan()
	case "nvgre":
		return s.parseNvgre()
	case "gre":
		return &types.GreItem{}, nil
	case "vf":
		return &types.VFItem{
			Spec: &types.VFFields{ID: s.ID},
			Mask: &types.VFFields{ID: ^uint32(0)},
		}, nil
	default:
		return nil, errors.Errorf("unknown pattern item type %q", s.Type)
	}
}

func (s *itemSpec) parseEth() (types.Item, error) {
	spec := &types.EthFields{}
	mask := &types.EthFields{}
	if s.DstMAC != "" {
		dst, err := net.ParseMAC(s.DstMAC)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid dstMAC %q", s.DstMAC)
		}
		spec.Dst = dst
		mask.Dst = utils.BroadcastMAC(len(dst))
	}
	if s.SrcMAC != "" {
		src, err := net.ParseMAC(s.SrcMAC)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid srcMAC %q", s.SrcMAC)
		}
		spec.Src = src
		mask.Src = utils.BroadcastMAC(len(src))
	}
	if s.EtherType != nil {
		spec.EtherType = *s.EtherType
		mask.EtherType = 0xffff
	}
	return &types.EthItem{Spec: spec, Mask: mask}, nil
}

func (s *itemSpec) parseVlan() (types.Item, error) {
	if s.VlanID == nil {
		return nil, errors.New("vlan item requires vlanID")
	}
	return &types.VlanItem{
		Spec: &types.VlanFields{TCI: *s.VlanID},
		Mask: &types.VlanFields{TCI: 0x0fff},
	}, nil
}

func (s *itemSpec) parseIP(v6 bool) (types.Item, error) {
	var srcNet, dstNet *net.IPNet
	var err error
	if s.Src != "" {
		if srcNet, err = utils.IPToIPNet(s.Src); err != nil {
			return nil, errors.Wrapf(err, "invalid src %q", s.Src)
		}
	}
	if s.Dst != "" {
		if dstNet, err = utils.IPToIPNet(s.Dst); err != nil {
			return nil, errors.Wrapf(err, "invalid dst %q", s.Dst)
		}
	}

	// the address family must agree with the item type
	if srcNet != nil && utils.IsIPv4(srcNet.IP) == v6 {
		return nil, errors.Errorf("src %q does not match the item address family", s.Src)
	}
	if dstNet != nil && utils.IsIPv4(dstNet.IP) == v6 {
		return nil, errors.Errorf("dst %q does not match the item address family", s.Dst)
	}

	if v6 {
		spec := &types.IPv6Fields{}
		mask := &types.IPv6Fields{}
		if srcNet != nil {
			spec.Src = srcNet.IP.To16()
			mask.Src = net.IP(srcNet.Mask)
		}
		if dstNet != nil {
			spec.Dst = dstNet.IP.To16()
			mask.Dst = net.IP(dstNet.Mask)
		}
		spec.Proto = s.Proto
		return &types.IPv6Item{Spec: spec, Mask: mask}, nil
	}

	spec := &types.IPv4Fields{}
	mask := &types.IPv4Fields{}
	if srcNet != nil {
		spec.Src = srcNet.IP.To4()
		mask.Src = net.IP(srcNet.Mask)
	}
	if dstNet != nil {
		spec.Dst = dstNet.IP.To4()
		mask.Dst = net.IP(dstNet.Mask)
	}
	spec.Proto = s.Proto
	return &types.IPv4Item{Spec: spec, Mask: mask}, nil
}

func (s *itemSpec) parseL4() (types.Item, error) {
	var srcPort, dstPort, srcMask, dstMask uint16
	if s.SrcPort != nil {
		srcPort, srcMask = *s.SrcPort, 0xffff
	}
	if s.DstPort != nil {
		dstPort, dstMask = *s.DstPort, 0xffff
	}
	if s.Type == "udp" {
		return &types.UDPItem{
			Spec: &types.UDPFields{SrcPort: srcPort, DstPort: dstPort},
			Mask: &types.UDPFields{SrcPort: srcMask, DstPort: dstMask},
		}, nil
	}
	return &types.TCPItem{
		Spec: &types.TCPFields{SrcPort: srcPort, DstPort: dstPort},
		Mask: &types.TCPFields{SrcPort: srcMask, DstPort: dstMask},
	}, nil
}

func (s *itemSpec) parseVxlan() (types.Item, error) {
	if s.VNI == nil {
		return &types.VxlanItem{}, nil
	}
	if *s.VNI > 0xffffff {
		return nil, errors.Errorf("VNI %d out of range", *s.VNI)
	}
	return &types.VxlanItem{
		Spec: &types.VxlanFields{Flags: 0x8, VNI: vniBytes(*s.VNI)},
		Mask: &types.VxlanFields{VNI: [3]byte{0xff, 0xff, 0xff}},
	}, nil
}

func (s *itemSpec) parseNvgre() (types.Item, error) {
	if s.VNI == nil {
		return &types.NvgreItem{}, nil
	}
	if *s.VNI > 0xffffff {
		return nil, errors.Errorf("TNI %d out of range", *s.VNI)
	}
	return &types.NvgreItem{
		Spec: &types.NvgreFields{CKSRsvdVer: 0x2000, Protocol: 0x6558, TNI: vniBytes(*s.VNI)},
		Mask: &types.NvgreFields{TNI: [3]byte{0xff, 0xff, 0xff}},
	}, nil
}

func vniBytes(vni uint32) [3]byte {
	return [3]byte{byte(vni >> 16), byte(vni >> 8), byte(vni)}
}

func (s *actionSpec) parse() (types.Action, error) {
	switch s.Type {
	case "queue":
		return types.NewQueueAction(s.Index), nil
	case "rss":
		rb := types.NewRSSActionBuilder().WithHashTypes(s.HashTypes)
		for _, q := range s.Queues {
			rb = rb.WithQueue(q)
		}
		return rb.Build(), nil
	case "drop":
		return types.NewDropAction(), nil
	case "count":
		return types.NewCountAction(), nil
	case "vf":
		return types.NewVFAction(s.ID), nil
	default:
		return nil, errors.Errorf("unknown action type %q", s.Type)
	}
}
