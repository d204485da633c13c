package filewriter_test

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	klog "k8s.io/klog/v2"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw/fake"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw/filewriter"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/utils"
)

func getLastModifiedTime(path string) time.Time {
	fInfo, err := os.Lstat(path)
	ExpectWithOffset(1, err).ToNot(HaveOccurred())
	return fInfo.ModTime()
}

var _ = Describe("Control channel file writer tests", Ordered, func() {
	var tempDir string
	var logger klog.Logger

	l2Cfg := hw.L2FilterConfig{
		Addr:     net.HardwareAddr{0x02, 0x11, 0x22, 0x33, 0x44, 0x55},
		AddrMask: utils.BroadcastMAC(6),
	}

	BeforeAll(func() {
		// init logger
		fs := flag.NewFlagSet("test-flag-set", flag.PanicOnError)
		klog.InitFlags(fs)
		Expect(fs.Set("v", "8")).ToNot(HaveOccurred())
		logger = klog.NewKlogr().WithName("filewriter-test")
		DeferCleanup(klog.Flush)
		By("Logger initialized")

		// create temp dir
		tempDir = GinkgoT().TempDir()
		By(fmt.Sprintf("Generated temp dir for test: %s", tempDir))
	})

	Context("file writer with bad path", func() {
		It("programs the inner channel even when the state file cannot be written", func() {
			nonExistentPath := filepath.Join(tempDir, "does", "not", "exist")
			inner := fake.NewControlChannel()
			channel := filewriter.NewControlChannelFileWriterImpl(inner, nonExistentPath, logger)

			_, err := channel.SetL2Filter(0, l2Cfg)

			Expect(err).ToNot(HaveOccurred())
			Expect(inner.L2FilterCount()).To(Equal(1))
		})
	})

	Context("file writer with valid path", func() {
		var tmpFilePath string
		var inner *fake.ControlChannel
		var channel hw.ControlChannel

		BeforeEach(func() {
			tmpFilePath = filepath.Join(tempDir, "test-file")
			exist, err := utils.PathExists(tmpFilePath)
			Expect(err).ToNot(HaveOccurred())
			Expect(exist).To(BeFalse())
			inner = fake.NewControlChannel()
			channel = filewriter.NewControlChannelFileWriterImpl(inner, tmpFilePath, logger)
		})

		AfterEach(func() {
			exist, err := utils.PathExists(tmpFilePath)
			Expect(err).ToNot(HaveOccurred())
			if exist {
				Expect(os.Remove(tmpFilePath)).ToNot(HaveOccurred())
			}
		})

		It("writes programmed objects in programming order", func() {
			vid, err := channel.AllocVnic()
			Expect(err).ToNot(HaveOccurred())
			Expect(channel.ConfigureVnic(hw.VnicConfig{
				ID:           vid,
				DefaultGroup: 1,
				VlanStrip:    true,
			})).ToNot(HaveOccurred())

			_, err = channel.SetL2Filter(vid, l2Cfg)
			Expect(err).ToNot(HaveOccurred())

			content, err := os.ReadFile(tmpFilePath)
			Expect(err).ToNot(HaveOccurred())
			expectedFileContent := `vnic id 0 default_group 1 vlan_strip
l2-filter 0 dst_id 0 dst_mac 02:11:22:33:44:55 mac_mask ff:ff:ff:ff:ff:ff
`
			Expect(string(content)).To(BeEquivalentTo(expectedFileContent))
		})

		It("drops the object line when it is cleared", func() {
			vid, err := channel.AllocVnic()
			Expect(err).ToNot(HaveOccurred())
			Expect(channel.ConfigureVnic(hw.VnicConfig{
				ID:           vid,
				DefaultGroup: 1,
			})).ToNot(HaveOccurred())

			fid, err := channel.SetL2Filter(vid, l2Cfg)
			Expect(err).ToNot(HaveOccurred())
			Expect(channel.ClearL2Filter(fid)).ToNot(HaveOccurred())

			content, err := os.ReadFile(tmpFilePath)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(BeEquivalentTo("vnic id 0 default_group 1\n"))
		})

		It("does not rewrite the file when state did not change", func() {
			vid, err := channel.AllocVnic()
			Expect(err).ToNot(HaveOccurred())
			cfg := hw.VnicConfig{ID: vid, DefaultGroup: 1}
			Expect(channel.ConfigureVnic(cfg)).ToNot(HaveOccurred())

			firstModified := getLastModifiedTime(tmpFilePath)

			Expect(channel.ConfigureVnic(cfg)).ToNot(HaveOccurred())

			lastModified := getLastModifiedTime(tmpFilePath)

			Expect(firstModified.Equal(lastModified)).To(BeTrue())
		})

		It("forgets a context's rss line when the context is freed", func() {
			vid, err := channel.AllocVnic()
			Expect(err).ToNot(HaveOccurred())
			Expect(channel.ConfigureVnic(hw.VnicConfig{ID: vid, DefaultGroup: 1})).ToNot(HaveOccurred())

			table := make([]hw.GroupID, hw.RSSTableSize)
			for i := range table {
				table[i] = hw.GroupID(1 + i%2)
			}
			Expect(channel.ConfigureRSS(hw.RSSConfig{
				Vnic:      vid,
				Context:   0,
				HashTypes: 0xff,
				Key:       make([]byte, hw.RSSKeySize),
				Table:     table,
			})).ToNot(HaveOccurred())

			Expect(channel.FreeVnic(vid)).ToNot(HaveOccurred())

			content, err := os.ReadFile(tmpFilePath)
			Expect(err).ToNot(HaveOccurred())
			Expect(string(content)).To(BeEmpty())
		})
	})
})
