package hw

import (
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
)

const (
	// InvalidFilterID is the id sentinel of an uninstalled filter object
	InvalidFilterID FilterID = ^FilterID(0)
	// InvalidVnicID is the id sentinel of an unallocated receive context
	InvalidVnicID VnicID = 0xffff
	// InvalidRSSContextID is the id sentinel of an unallocated RSS context
	InvalidRSSContextID RSSContextID = 0xffff
	// InvalidGroupID is the id sentinel of an unallocated queue group
	InvalidGroupID GroupID = 0xffff

	// RSSTableSize is the number of entries in a receive context's RSS indirection table
	RSSTableSize = 128
	// RSSKeySize is the RSS hash key size in bytes
	RSSKeySize = 40
)

// FilterID is a hardware-assigned filter object identifier
type FilterID uint64

// VnicID is a hardware receive context identifier
type VnicID uint16

// RSSContextID is a hardware RSS context identifier
type RSSContextID uint16

// GroupID is a hardware queue group identifier
type GroupID uint16

// L2FilterConfig describes a shared L2 filter to install
type L2FilterConfig struct {
	// Addr is the MAC address to match, with an all 1s AddrMask for exact match
	Addr     net.HardwareAddr
	AddrMask net.HardwareAddr
	// SourceAddr requests matching Addr against the source MAC instead of destination
	SourceAddr bool
	// Outermost requests matching the outermost header of encapsulated traffic
	Outermost bool
	// PlaceBelow is a placement hint pushing the filter below existing ones
	PlaceBelow bool

	EtherType     uint16
	OuterVlanID   uint16
	OuterVlanMask uint16
	InnerVlanID   uint16
	InnerVlanMask uint16
}

// GenCmdLineArgs implements CmdLineGenerator interface
func (c *L2FilterConfig) GenCmdLineArgs() []string {
	args := []string{}
	if c.SourceAddr {
		args = append(args, "src_mac", c.Addr.String())
	} else {
		args = append(args, "dst_mac", c.Addr.String())
	}
	args = append(args, "mac_mask", c.AddrMask.String())
	if c.EtherType != 0 {
		args = append(args, "ethertype", fmt.Sprintf("0x%04x", c.EtherType))
	}
	if c.OuterVlanMask != 0 {
		args = append(args, "ovlan", strconv.FormatUint(uint64(c.OuterVlanID), 10))
	}
	if c.InnerVlanMask != 0 {
		args = append(args, "ivlan", strconv.FormatUint(uint64(c.InnerVlanID), 10))
	}
	if c.Outermost {
		args = append(args, "outermost")
	}
	if c.PlaceBelow {
		args = append(args, "place_below")
	}
	return args
}

// VnicConfig describes a receive context to configure
type VnicConfig struct {
	ID VnicID
	// DefaultGroup is the context's default queue group
	DefaultGroup GroupID
	// VlanStrip enables VLAN tag stripping on the context
	VlanStrip bool
}

// GenCmdLineArgs implements CmdLineGenerator interface
func (c *VnicConfig) GenCmdLineArgs() []string {
	args := []string{
		"id", strconv.FormatUint(uint64(c.ID), 10),
		"default_group", strconv.FormatUint(uint64(c.DefaultGroup), 10),
	}
	if c.VlanStrip {
		args = append(args, "vlan_strip")
	}
	return args
}

// RSSConfig describes a receive context's RSS state to program
type RSSConfig struct {
	Vnic      VnicID
	Context   RSSContextID
	HashTypes uint32
	// Key is the RSSKeySize byte hash key
	Key []byte
	// Table is the RSSTableSize entry indirection table of queue group ids
	Table []GroupID
}

// GenCmdLineArgs implements CmdLineGenerator interface. the indirection table
// is rendered as a compact group list since full 128 entry dumps add no value.
func (c *RSSConfig) GenCmdLineArgs() []string {
	args := []string{
		"vnic", strconv.FormatUint(uint64(c.Vnic), 10),
		"ctx", strconv.FormatUint(uint64(c.Context), 10),
		"hash_types", fmt.Sprintf("0x%08x", c.HashTypes),
	}
	groups := []string{}
	seen := map[GroupID]bool{}
	for _, g := range c.Table {
		if !seen[g] {
			seen[g] = true
			groups = append(groups, strconv.FormatUint(uint64(g), 10))
		}
	}
	args = append(args, "groups", strings.Join(groups, ","))
	return args
}

// ControlChannel is the synchronous command interface used to program and
// query device filter and receive context state. implementations are expected
// to be blocking with bounded latency; timeout and retry policy is theirs.
// errors returned are surfaced by the flow layer wrapped with its own context.
type ControlChannel interface {
	// SetL2Filter installs a shared L2 filter steering to the given receive context
	SetL2Filter(dst VnicID, cfg L2FilterConfig) (FilterID, error)
	// ClearL2Filter uninstalls a shared L2 filter
	ClearL2Filter(id FilterID) error

	// SetEMFilter installs an exact-match filter described by the descriptor
	SetEMFilter(f *types.Filter) (FilterID, error)
	// ClearEMFilter uninstalls an exact-match filter
	ClearEMFilter(id FilterID) error

	// SetNTupleFilter installs a tuple filter described by the descriptor
	SetNTupleFilter(f *types.Filter) (FilterID, error)
	// ClearNTupleFilter uninstalls a tuple filter
	ClearNTupleFilter(id FilterID) error

	// AllocVnic allocates a hardware receive context
	AllocVnic() (VnicID, error)
	// FreeVnic frees a hardware receive context
	FreeVnic(id VnicID) error
	// ConfigureVnic applies the receive context configuration
	ConfigureVnic(cfg VnicConfig) error

	// AllocRSSContext allocates a hardware RSS context
	AllocRSSContext() (RSSContextID, error)
	// FreeRSSContext frees a hardware RSS context
	FreeRSSContext(id RSSContextID) error
	// ConfigureRSS programs a receive context's RSS table, hash types and key
	ConfigureRSS(cfg RSSConfig) error

	// QueryTunnelRedirect returns the bitmap of tunnel types currently redirected
	QueryTunnelRedirect() (uint32, error)
	// SetTunnelRedirect redirects all traffic of the tunnel type to the caller's function
	SetTunnelRedirect(t types.TunnelType) error
	// FreeTunnelRedirect removes the tunnel type redirect
	FreeTunnelRedirect(t types.TunnelType) error
	// TunnelRedirectInfo returns the destination function id owning the tunnel redirect
	TunnelRedirectInfo(t types.TunnelType) (uint16, error)

	// VFDefaultVnic returns the default receive context of the given virtual
	// function, or an error if no driver is loaded on it
	VFDefaultVnic(vf uint32) (VnicID, error)
}
