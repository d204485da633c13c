package cmdline_test

import (
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	klog "k8s.io/klog/v2"
	"k8s.io/utils/exec"

	testingexec "k8s.io/utils/exec/testing"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	driver "github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw/cmdline"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/utils"
)

const (
	fakeNetDev = "fake"
)

// fakeExecHelper is a wrapper around testingexec.FakeExec which provides some
// utility functionality to aid in testing
type fakeExecHelper struct {
	testingexec.FakeExec
}

// AddFakeCmd adds a new testingexec.FakeCommandAction to fakeExecHelper.CommandScript
// that creates a new *testingexec.FakeCmd with the called arguments to Command()
func (feh *fakeExecHelper) AddFakeCmd() *testingexec.FakeCmd {
	fakeCmd := &testingexec.FakeCmd{}
	var action testingexec.FakeCommandAction = func(cmd string, args ...string) exec.Cmd {
		return testingexec.InitFakeCmd(fakeCmd, cmd, args...)
	}
	feh.CommandScript = append(feh.CommandScript, action)
	return fakeCmd
}

func newFakeAction(stdout, stderr []byte, err error) testingexec.FakeAction {
	return func() ([]byte, []byte, error) {
		return stdout, stderr, err
	}
}

var _ = Describe("ControlChannel cmdline driver tests", func() {
	var fakeExec *fakeExecHelper
	var channel hw.ControlChannel
	var log = klog.NewKlogr().WithName("hw-driver-cmdline-test")
	var testError = errors.New("test error!")

	BeforeEach(func() {
		fakeExec = &fakeExecHelper{testingexec.FakeExec{}}
		channel = driver.NewControlChannelCmdLineImpl(fakeNetDev, log, fakeExec)
	})

	Context("SetL2Filter", func() {
		var fakeCmd *testingexec.FakeCmd
		cfg := hw.L2FilterConfig{
			Addr:     net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55},
			AddrMask: utils.BroadcastMAC(6),
		}
		expectedCmdArgs := []string{"flowctl", "-json", "l2-filter", "add", "dev", fakeNetDev, "dst_id", "3"}
		expectedCmdArgs = append(expectedCmdArgs, cfg.GenCmdLineArgs()...)

		BeforeEach(func() {
			fakeCmd = fakeExec.AddFakeCmd()
		})

		It("returns the assigned filter id when underlying command passes", func() {
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				[]byte(`{"id": 17}`), nil, nil))

			id, err := channel.SetL2Filter(3, cfg)

			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(BeEquivalentTo(17))
			Expect(fakeCmd.Argv).To(BeEquivalentTo(expectedCmdArgs))
		})

		It("returns error when underlying command errors", func() {
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				nil, nil, testError))

			_, err := channel.SetL2Filter(3, cfg)

			Expect(err).To(HaveOccurred())
		})

		It("returns error when output cannot be parsed", func() {
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				[]byte(`garbage`), nil, nil))

			_, err := channel.SetL2Filter(3, cfg)

			Expect(err).To(HaveOccurred())
		})
	})

	Context("ClearL2Filter", func() {
		var fakeCmd *testingexec.FakeCmd
		expectedCmdArgs := []string{"flowctl", "-json", "l2-filter", "del", "dev", fakeNetDev, "id", "17"}

		BeforeEach(func() {
			fakeCmd = fakeExec.AddFakeCmd()
		})

		It("returns no error when underlying command passes", func() {
			fakeCmd.RunScript = append(fakeCmd.RunScript, newFakeAction(nil, nil, nil))

			err := channel.ClearL2Filter(17)

			Expect(err).ToNot(HaveOccurred())
			Expect(fakeCmd.Argv).To(BeEquivalentTo(expectedCmdArgs))
		})

		It("returns error when underlying command errors", func() {
			fakeCmd.RunScript = append(fakeCmd.RunScript, newFakeAction(nil, nil, testError))

			err := channel.ClearL2Filter(17)

			Expect(err).To(HaveOccurred())
		})
	})

	Context("SetNTupleFilter", func() {
		var fakeCmd *testingexec.FakeCmd
		filter := types.NewFilterBuilder().
			WithKind(types.FilterKindNTuple).
			WithAddrType(types.AddrTypeIPv4).
			WithDstIP(net.ParseIP("192.0.2.10").To4(), net.CIDRMask(32, 32)).
			WithIPProto(6).
			WithPorts(0, 443).
			Build()
		filter.DstID = 4

		BeforeEach(func() {
			fakeCmd = fakeExec.AddFakeCmd()
		})

		It("passes the rendered descriptor to the tool", func() {
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				[]byte(`{"id": 5}`), nil, nil))

			id, err := channel.SetNTupleFilter(filter)

			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(BeEquivalentTo(5))
			expected := []string{"flowctl", "-json", "ntuple-filter", "add", "dev", fakeNetDev}
			expected = append(expected, filter.GenCmdLineArgs()...)
			Expect(fakeCmd.Argv).To(BeEquivalentTo(expected))
		})
	})

	Context("vnic and RSS context allocation", func() {
		It("allocates and frees a vnic", func() {
			allocCmd := fakeExec.AddFakeCmd()
			allocCmd.OutputScript = append(allocCmd.OutputScript, newFakeAction(
				[]byte(`{"id": 2}`), nil, nil))
			freeCmd := fakeExec.AddFakeCmd()
			freeCmd.RunScript = append(freeCmd.RunScript, newFakeAction(nil, nil, nil))

			id, err := channel.AllocVnic()
			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(BeEquivalentTo(2))

			Expect(channel.FreeVnic(id)).ToNot(HaveOccurred())
			Expect(freeCmd.Argv).To(BeEquivalentTo(
				[]string{"flowctl", "-json", "vnic", "free", "dev", fakeNetDev, "id", "2"}))
		})

		It("configures RSS with the rendered config", func() {
			fakeCmd := fakeExec.AddFakeCmd()
			fakeCmd.RunScript = append(fakeCmd.RunScript, newFakeAction(nil, nil, nil))
			cfg := hw.RSSConfig{
				Vnic:      2,
				Context:   1,
				HashTypes: 0xff,
				Key:       make([]byte, hw.RSSKeySize),
				Table:     []hw.GroupID{1, 2, 1, 2},
			}

			Expect(channel.ConfigureRSS(cfg)).ToNot(HaveOccurred())
			expected := []string{"flowctl", "-json", "rss", "set", "dev", fakeNetDev}
			expected = append(expected, cfg.GenCmdLineArgs()...)
			Expect(fakeCmd.Argv).To(BeEquivalentTo(expected))
		})
	})

	Context("tunnel redirect", func() {
		redirectListOut := `[
		{"type":"vxlan","dst_fid":3},
		{"type":"ipgre","dst_fid":6}
	]`

		It("builds the active bitmap from the list output", func() {
			fakeCmd := fakeExec.AddFakeCmd()
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				[]byte(redirectListOut), nil, nil))

			bitmap, err := channel.QueryTunnelRedirect()

			Expect(err).ToNot(HaveOccurred())
			Expect(bitmap).To(Equal(types.TunnelTypeVxlan.Bit() | types.TunnelTypeIPGre.Bit()))
		})

		It("returns the owning function id for an active redirect", func() {
			fakeCmd := fakeExec.AddFakeCmd()
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				[]byte(redirectListOut), nil, nil))

			fid, err := channel.TunnelRedirectInfo(types.TunnelTypeIPGre)

			Expect(err).ToNot(HaveOccurred())
			Expect(fid).To(BeEquivalentTo(6))
		})

		It("returns error for an inactive redirect", func() {
			fakeCmd := fakeExec.AddFakeCmd()
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				[]byte(`[]`), nil, nil))

			_, err := channel.TunnelRedirectInfo(types.TunnelTypeNvgre)

			Expect(err).To(HaveOccurred())
		})

		It("adds a redirect by tunnel type name", func() {
			fakeCmd := fakeExec.AddFakeCmd()
			fakeCmd.RunScript = append(fakeCmd.RunScript, newFakeAction(nil, nil, nil))

			Expect(channel.SetTunnelRedirect(types.TunnelTypeVxlan)).ToNot(HaveOccurred())
			Expect(fakeCmd.Argv).To(BeEquivalentTo(
				[]string{"flowctl", "-json", "tunnel-redirect", "add", "dev", fakeNetDev, "type", "vxlan"}))
		})
	})

	Context("VFDefaultVnic", func() {
		It("returns the VF default vnic id", func() {
			fakeCmd := fakeExec.AddFakeCmd()
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				[]byte(`{"default_vnic": 9}`), nil, nil))

			id, err := channel.VFDefaultVnic(2)

			Expect(err).ToNot(HaveOccurred())
			Expect(id).To(BeEquivalentTo(9))
			Expect(fakeCmd.Argv).To(BeEquivalentTo(
				[]string{"flowctl", "-json", "vf", "info", "dev", fakeNetDev, "id", "2"}))
		})

		It("returns error when no driver is loaded on the VF", func() {
			fakeCmd := fakeExec.AddFakeCmd()
			fakeCmd.OutputScript = append(fakeCmd.OutputScript, newFakeAction(
				[]byte(`{}`), nil, nil))

			_, err := channel.VFDefaultVnic(2)

			Expect(err).To(HaveOccurred())
		})
	})
})
