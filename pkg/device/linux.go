package device

import (
	"net"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink"
	"k8s.io/klog/v2"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	mnet "github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/net"
)

// NewLinuxRegistry builds a registry that fills config gaps from the host:
// the netdev is resolved by name or PCI address, and queue count, MAC address
// and link state are taken from the live link.
func NewLinuxRegistry(log klog.Logger, cfg Config,
	nlProvider mnet.NetlinkProvider, snProvider mnet.SriovnetProvider) (*LinuxRegistry, error) {
	name := cfg.Name
	if name == "" {
		if cfg.PCIAddress == "" {
			return nil, errors.New("either netdev name or PCI address is required")
		}
		uplink, err := snProvider.GetUplinkRepresentor(cfg.PCIAddress)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to resolve netdev for %s", cfg.PCIAddress)
		}
		log.V(5).Info("resolved uplink netdev", "pci", cfg.PCIAddress, "netdev", uplink)
		name = uplink
	}

	link, err := nlProvider.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get link %s", name)
	}

	attrs := link.Attrs()
	if cfg.NumRxQueues == 0 {
		cfg.NumRxQueues = attrs.NumRxQueues
	}
	mac := attrs.HardwareAddr
	if cfg.PortMAC != "" {
		mac, err = net.ParseMAC(cfg.PortMAC)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid port MAC %q", cfg.PortMAC)
		}
	}
	cfg.Name = name

	log.V(5).Info("discovered port", "netdev", name, "mac", mac.String(),
		"rxQueues", cfg.NumRxQueues, "operState", attrs.OperState.String())

	return &LinuxRegistry{
		cfg:  cfg,
		mac:  mac,
		up:   attrs.OperState == netlink.OperUp || attrs.Flags&net.FlagUp != 0,
		sn:   snProvider,
		name: name,
	}, nil
}

// LinuxRegistry is a Registry backed by host netdev state at construction
// time. it does not track later link changes.
type LinuxRegistry struct {
	cfg  Config
	mac  net.HardwareAddr
	up   bool
	sn   mnet.SriovnetProvider
	name string
}

func (r *LinuxRegistry) Name() string {
	return r.name
}

func (r *LinuxRegistry) NumRxQueues() int {
	return r.cfg.NumRxQueues
}

func (r *LinuxRegistry) GroupID(queue uint32) hw.GroupID {
	if queue >= uint32(r.cfg.NumRxQueues) {
		return hw.InvalidGroupID
	}
	return hw.GroupID(queue)
}

func (r *LinuxRegistry) PortMAC() net.HardwareAddr {
	return r.mac
}

func (r *LinuxRegistry) VlanStripEnabled() bool {
	return r.cfg.VlanStrip
}

func (r *LinuxRegistry) NumVFs() int {
	return r.cfg.NumVFs
}

func (r *LinuxRegistry) IsPF() bool {
	return r.cfg.PF
}

func (r *LinuxRegistry) IsTrustedVF() bool {
	return r.cfg.TrustedVF
}

func (r *LinuxRegistry) Started() bool {
	return r.up
}

func (r *LinuxRegistry) FunctionID() uint16 {
	return r.cfg.FunctionID
}

func (r *LinuxRegistry) FirstVFID() uint16 {
	return r.cfg.FirstVFID
}

// VFRepresentor returns the representor netdev of the given VF on this port
func (r *LinuxRegistry) VFRepresentor(vfIndex int) (string, error) {
	return r.sn.GetVfRepresentor(r.name, vfIndex)
}

// VFIndexByPCIAddress resolves a VF PCI address to its index on this port
func (r *LinuxRegistry) VFIndexByPCIAddress(pciAddress string) (int, error) {
	return r.sn.GetVfIndexByPciAddress(pciAddress)
}
