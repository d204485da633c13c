// Package cmdline implements the hardware control channel on top of a vendor
// flow control command line tool, invoked once per operation.
package cmdline

import (
	"encoding/json"
	"strconv"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"k8s.io/utils/exec"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
)

// NewControlChannelCmdLineImpl creates a new instance of ControlChannelCmdLineImpl
func NewControlChannelCmdLineImpl(dev string, log klog.Logger, executor exec.Interface) *ControlChannelCmdLineImpl {
	return &ControlChannelCmdLineImpl{
		netDev:   dev,
		log:      log,
		executor: executor,
		cmdline:  "flowctl",
		options:  []string{"-json"},
	}
}

// ControlChannelCmdLineImpl is a concrete implementation of the ControlChannel
// interface utilizing a flow control command line tool
type ControlChannelCmdLineImpl struct {
	netDev   string
	log      klog.Logger
	executor exec.Interface

	cmdline string
	options []string
}

// cAllocated is the tool's JSON output for allocating commands
type cAllocated struct {
	ID uint64 `json:"id"`
}

// cTunnelRedirect is one entry of the tool's tunnel redirect list output
type cTunnelRedirect struct {
	Type   string `json:"type"`
	DstFID uint16 `json:"dst_fid"`
}

// cVFInfo is the tool's VF info output
type cVFInfo struct {
	DefaultVnic *uint16 `json:"default_vnic"`
}

// execCmdNoOutput executes the tool with args, returning error if occurred
func (c *ControlChannelCmdLineImpl) execCmdNoOutput(args []string) error {
	finalArgs := append(c.options, args...)
	c.log.V(10).Info("executing", "cmd", c.cmdline, "args", finalArgs)
	cmd := c.executor.Command(c.cmdline, finalArgs...)
	err := cmd.Run()
	c.log.V(10).Info("exec result", "err", err)
	return err
}

// execCmd executes the tool with args, returning stdout output and error
func (c *ControlChannelCmdLineImpl) execCmd(args []string) ([]byte, error) {
	finalArgs := append(c.options, args...)
	c.log.V(10).Info("executing", "cmd", c.cmdline, "args", finalArgs)
	cmd := c.executor.Command(c.cmdline, finalArgs...)
	out, err := cmd.Output()
	c.log.V(10).Info("exec result", "err", err, "out", out)
	return out, err
}

// execAllocCmd executes an allocating command and parses the assigned id
func (c *ControlChannelCmdLineImpl) execAllocCmd(args []string) (uint64, error) {
	out, err := c.execCmd(args)
	if err != nil {
		return 0, err
	}
	var alloc cAllocated
	if err := json.Unmarshal(out, &alloc); err != nil {
		return 0, errors.Wrap(err, "failed to parse allocated object id")
	}
	return alloc.ID, nil
}

// SetL2Filter implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) SetL2Filter(dst hw.VnicID, cfg hw.L2FilterConfig) (hw.FilterID, error) {
	args := []string{"l2-filter", "add", "dev", c.netDev,
		"dst_id", strconv.FormatUint(uint64(dst), 10)}
	args = append(args, cfg.GenCmdLineArgs()...)
	id, err := c.execAllocCmd(args)
	return hw.FilterID(id), err
}

// ClearL2Filter implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) ClearL2Filter(id hw.FilterID) error {
	return c.execCmdNoOutput([]string{"l2-filter", "del", "dev", c.netDev,
		"id", strconv.FormatUint(uint64(id), 10)})
}

// SetEMFilter implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) SetEMFilter(f *types.Filter) (hw.FilterID, error) {
	args := []string{"em-filter", "add", "dev", c.netDev}
	args = append(args, f.GenCmdLineArgs()...)
	id, err := c.execAllocCmd(args)
	return hw.FilterID(id), err
}

// ClearEMFilter implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) ClearEMFilter(id hw.FilterID) error {
	return c.execCmdNoOutput([]string{"em-filter", "del", "dev", c.netDev,
		"id", strconv.FormatUint(uint64(id), 10)})
}

// SetNTupleFilter implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) SetNTupleFilter(f *types.Filter) (hw.FilterID, error) {
	args := []string{"ntuple-filter", "add", "dev", c.netDev}
	args = append(args, f.GenCmdLineArgs()...)
	id, err := c.execAllocCmd(args)
	return hw.FilterID(id), err
}

// ClearNTupleFilter implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) ClearNTupleFilter(id hw.FilterID) error {
	return c.execCmdNoOutput([]string{"ntuple-filter", "del", "dev", c.netDev,
		"id", strconv.FormatUint(uint64(id), 10)})
}

// AllocVnic implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) AllocVnic() (hw.VnicID, error) {
	id, err := c.execAllocCmd([]string{"vnic", "alloc", "dev", c.netDev})
	return hw.VnicID(id), err
}

// FreeVnic implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) FreeVnic(id hw.VnicID) error {
	return c.execCmdNoOutput([]string{"vnic", "free", "dev", c.netDev,
		"id", strconv.FormatUint(uint64(id), 10)})
}

// ConfigureVnic implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) ConfigureVnic(cfg hw.VnicConfig) error {
	args := []string{"vnic", "set", "dev", c.netDev}
	args = append(args, cfg.GenCmdLineArgs()...)
	return c.execCmdNoOutput(args)
}

// AllocRSSContext implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) AllocRSSContext() (hw.RSSContextID, error) {
	id, err := c.execAllocCmd([]string{"rss-ctx", "alloc", "dev", c.netDev})
	return hw.RSSContextID(id), err
}

// FreeRSSContext implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) FreeRSSContext(id hw.RSSContextID) error {
	return c.execCmdNoOutput([]string{"rss-ctx", "free", "dev", c.netDev,
		"id", strconv.FormatUint(uint64(id), 10)})
}

// ConfigureRSS implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) ConfigureRSS(cfg hw.RSSConfig) error {
	args := []string{"rss", "set", "dev", c.netDev}
	args = append(args, cfg.GenCmdLineArgs()...)
	return c.execCmdNoOutput(args)
}

// tunnelRedirectList fetches and parses the active tunnel redirect entries
func (c *ControlChannelCmdLineImpl) tunnelRedirectList() ([]cTunnelRedirect, error) {
	out, err := c.execCmd([]string{"tunnel-redirect", "list", "dev", c.netDev})
	if err != nil {
		return nil, err
	}
	var redirects []cTunnelRedirect
	if err := json.Unmarshal(out, &redirects); err != nil {
		return nil, errors.Wrap(err, "failed to parse tunnel redirect list")
	}
	return redirects, nil
}

// QueryTunnelRedirect implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) QueryTunnelRedirect() (uint32, error) {
	redirects, err := c.tunnelRedirectList()
	if err != nil {
		return 0, err
	}
	var bitmap uint32
	for _, r := range redirects {
		t, err := tunnelTypeFromString(r.Type)
		if err != nil {
			return 0, err
		}
		bitmap |= t.Bit()
	}
	return bitmap, nil
}

// SetTunnelRedirect implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) SetTunnelRedirect(t types.TunnelType) error {
	return c.execCmdNoOutput([]string{"tunnel-redirect", "add", "dev", c.netDev,
		"type", t.String()})
}

// FreeTunnelRedirect implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) FreeTunnelRedirect(t types.TunnelType) error {
	return c.execCmdNoOutput([]string{"tunnel-redirect", "del", "dev", c.netDev,
		"type", t.String()})
}

// TunnelRedirectInfo implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) TunnelRedirectInfo(t types.TunnelType) (uint16, error) {
	redirects, err := c.tunnelRedirectList()
	if err != nil {
		return 0, err
	}
	for _, r := range redirects {
		if r.Type == t.String() {
			return r.DstFID, nil
		}
	}
	return 0, errors.Errorf("no active redirect for tunnel type %s", t.String())
}

// VFDefaultVnic implements ControlChannel interface
func (c *ControlChannelCmdLineImpl) VFDefaultVnic(vf uint32) (hw.VnicID, error) {
	out, err := c.execCmd([]string{"vf", "info", "dev", c.netDev,
		"id", strconv.FormatUint(uint64(vf), 10)})
	if err != nil {
		return hw.InvalidVnicID, err
	}
	var info cVFInfo
	if err := json.Unmarshal(out, &info); err != nil {
		return hw.InvalidVnicID, errors.Wrap(err, "failed to parse VF info")
	}
	if info.DefaultVnic == nil {
		return hw.InvalidVnicID, errors.Errorf("no driver loaded on VF %d", vf)
	}
	return hw.VnicID(*info.DefaultVnic), nil
}

func tunnelTypeFromString(s string) (types.TunnelType, error) {
	switch s {
	case "vxlan":
		return types.TunnelTypeVxlan, nil
	case "nvgre":
		return types.TunnelTypeNvgre, nil
	case "ipgre":
		return types.TunnelTypeIPGre, nil
	}
	return types.TunnelTypeNone, errors.Errorf("unknown tunnel type %q", s)
}
