// Package device exposes read-only queries about the port this subsystem
// programs: receive queue layout, virtual function topology and device wide
// receive configuration. the flow layer consumes it as a narrow interface.
package device

import (
	"net"

	"github.com/pkg/errors"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
)

// Registry is the device and queue registry consumed by the flow layer
type Registry interface {
	// Name returns the port netdev name
	Name() string
	// NumRxQueues returns the number of receive queues on the port
	NumRxQueues() int
	// GroupID returns the hardware queue group id backing the given queue
	GroupID(queue uint32) hw.GroupID
	// PortMAC returns the port's permanent MAC address
	PortMAC() net.HardwareAddr
	// VlanStripEnabled reports the device wide VLAN strip receive offload
	VlanStripEnabled() bool
	// NumVFs returns the number of virtual functions on the port
	NumVFs() int
	// IsPF reports whether this port is a physical function
	IsPF() bool
	// IsTrustedVF reports whether this port is a trusted virtual function
	IsTrustedVF() bool
	// Started reports whether the device has been started
	Started() bool
	// FunctionID returns this port's hardware function id
	FunctionID() uint16
	// FirstVFID returns the hardware function id of the port's first VF
	FirstVFID() uint16
}

// Config describes a port to the registry. zero values fall back to values
// discovered from the host where a discovering registry is used.
type Config struct {
	Name        string `json:"name"`
	PCIAddress  string `json:"pciAddress,omitempty"`
	NumRxQueues int    `json:"numRxQueues"`
	NumVFs      int    `json:"numVFs"`
	PF          bool   `json:"pf"`
	TrustedVF   bool   `json:"trustedVF"`
	VlanStrip   bool   `json:"vlanStrip"`
	FunctionID  uint16 `json:"functionID"`
	FirstVFID   uint16 `json:"firstVFID"`
	PortMAC     string `json:"portMAC"`
}

// NewStaticRegistry builds a registry answering queries from the given
// config alone, with queue group ids mapped one to one to queue indexes.
func NewStaticRegistry(cfg Config) (*StaticRegistry, error) {
	var mac net.HardwareAddr
	if cfg.PortMAC != "" {
		var err error
		mac, err = net.ParseMAC(cfg.PortMAC)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid port MAC %q", cfg.PortMAC)
		}
	}
	if cfg.NumRxQueues <= 0 {
		return nil, errors.Errorf("invalid receive queue count %d", cfg.NumRxQueues)
	}
	return &StaticRegistry{cfg: cfg, mac: mac}, nil
}

// StaticRegistry is a config-backed Registry
type StaticRegistry struct {
	cfg     Config
	mac     net.HardwareAddr
	started bool
}

// Start marks the device started. flow rules are accepted only afterwards.
func (r *StaticRegistry) Start() {
	r.started = true
}

// Stop marks the device stopped
func (r *StaticRegistry) Stop() {
	r.started = false
}

func (r *StaticRegistry) Name() string {
	return r.cfg.Name
}

func (r *StaticRegistry) NumRxQueues() int {
	return r.cfg.NumRxQueues
}

func (r *StaticRegistry) GroupID(queue uint32) hw.GroupID {
	if queue >= uint32(r.cfg.NumRxQueues) {
		return hw.InvalidGroupID
	}
	return hw.GroupID(queue)
}

func (r *StaticRegistry) PortMAC() net.HardwareAddr {
	return r.mac
}

func (r *StaticRegistry) VlanStripEnabled() bool {
	return r.cfg.VlanStrip
}

func (r *StaticRegistry) NumVFs() int {
	return r.cfg.NumVFs
}

func (r *StaticRegistry) IsPF() bool {
	return r.cfg.PF
}

func (r *StaticRegistry) IsTrustedVF() bool {
	return r.cfg.TrustedVF
}

func (r *StaticRegistry) Started() bool {
	return r.started
}

func (r *StaticRegistry) FunctionID() uint16 {
	return r.cfg.FunctionID
}

func (r *StaticRegistry) FirstVFID() uint16 {
	return r.cfg.FirstVFID
}
