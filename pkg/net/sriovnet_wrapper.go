package net

import (
	"github.com/Mellanox/sriovnet"
)

// SriovnetProvider is a wrapper interface on top of sriovnet, covering the
// SR-IOV topology queries the device registry needs
type SriovnetProvider interface {
	// GetUplinkRepresentor gets a VF or PF PCI address (e.g '0000:03:00.4') and
	// returns the uplink representor netdev name for that VF or PF.
	GetUplinkRepresentor(pciAddress string) (string, error)
	// GetVfIndexByPciAddress gets a VF PCI address (e.g '0000:03:00.4') and
	// returns the correlate VF index.
	GetVfIndexByPciAddress(vfPciAddress string) (int, error)
	// GetVfRepresentor gets an uplink netdev and VF index and returns the VF representor
	GetVfRepresentor(uplink string, vfIndex int) (string, error)
}

// NewSriovnetProviderImpl creates a new SriovnetProviderImpl
func NewSriovnetProviderImpl() *SriovnetProviderImpl {
	return &SriovnetProviderImpl{}
}

// SriovnetProviderImpl implements SriovnetProvider interface
type SriovnetProviderImpl struct{}

// GetUplinkRepresentor implements SriovnetProvider interface
func (s *SriovnetProviderImpl) GetUplinkRepresentor(pciAddress string) (string, error) {
	return sriovnet.GetUplinkRepresentor(pciAddress)
}

// GetVfIndexByPciAddress implements SriovnetProvider interface
func (s *SriovnetProviderImpl) GetVfIndexByPciAddress(vfPciAddress string) (int, error) {
	return sriovnet.GetVfIndexByPciAddress(vfPciAddress)
}

// GetVfRepresentor implements SriovnetProvider interface
func (s *SriovnetProviderImpl) GetVfRepresentor(uplink string, vfIndex int) (string, error) {
	return sriovnet.GetVfRepresentor(uplink, vfIndex)
}
