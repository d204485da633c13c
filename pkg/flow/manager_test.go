package flow_test

import (
	"net"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"
	klog "k8s.io/klog/v2"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/device"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow/types"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw/fake"
	hwmocks "github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw/mocks"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/utils"
)

const (
	portMAC = "02:11:22:33:44:55"
	macX    = "aa:bb:cc:dd:ee:01"
	macY    = "aa:bb:cc:dd:ee:02"
)

func mustMAC(s string) net.HardwareAddr {
	mac, err := net.ParseMAC(s)
	Expect(err).ToNot(HaveOccurred())
	return mac
}

func ingress() *types.Attrs {
	return &types.Attrs{Ingress: true}
}

func ethDstPattern(mac string) types.Pattern {
	return types.Pattern{
		&types.EthItem{
			Spec: &types.EthFields{Dst: mustMAC(mac)},
			Mask: &types.EthFields{Dst: utils.BroadcastMAC(6)},
		},
	}
}

func tcpPattern(dstIP string, dstPort uint16) types.Pattern {
	return types.Pattern{
		&types.IPv4Item{
			Spec: &types.IPv4Fields{
				Src: net.ParseIP("192.0.2.1").To4(),
				Dst: net.ParseIP(dstIP).To4(),
			},
			Mask: &types.IPv4Fields{
				Src: net.IPv4bcast.To4(),
				Dst: net.IPv4bcast.To4(),
			},
		},
		&types.TCPItem{
			Spec: &types.TCPFields{DstPort: dstPort},
			Mask: &types.TCPFields{DstPort: 0xffff},
		},
	}
}

func newTestManager(cfg device.Config, hwc hw.ControlChannel) (*flow.Manager, *device.StaticRegistry) {
	reg, err := device.NewStaticRegistry(cfg)
	Expect(err).ToNot(HaveOccurred())
	reg.Start()
	m, err := flow.NewManager(klog.NewKlogr().WithName("manager-test"), hwc, reg, 8, 8)
	Expect(err).ToNot(HaveOccurred())
	return m, reg
}

var _ = Describe("Flow Manager tests", func() {
	var m *flow.Manager
	var hwc *fake.ControlChannel
	var reg *device.StaticRegistry

	pfConfig := device.Config{
		Name:        "p0",
		NumRxQueues: 8,
		NumVFs:      4,
		PF:          true,
		FunctionID:  6,
		FirstVFID:   2,
		PortMAC:     portMAC,
	}

	BeforeEach(func() {
		DeferCleanup(klog.Flush)
		hwc = fake.NewControlChannel()
		m, reg = newTestManager(pfConfig, hwc)

		// default receive context and port L2 filter
		Expect(hwc.VnicCount()).To(Equal(1))
		Expect(hwc.L2FilterCount()).To(Equal(1))
	})

	Context("argument checks", func() {
		It("rejects nil attributes", func() {
			err := m.Validate(nil, ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrInvalidArgument)).To(BeTrue())
		})

		It("rejects nil pattern", func() {
			err := m.Validate(ingress(), nil, []types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrInvalidArgument)).To(BeTrue())
		})

		It("rejects nil actions", func() {
			err := m.Validate(ingress(), ethDstPattern(macX), nil)
			Expect(errors.Is(err, flow.ErrInvalidArgument)).To(BeTrue())
		})

		It("rejects non-ingress rules", func() {
			err := m.Validate(&types.Attrs{}, ethDstPattern(macX),
				[]types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrUnsupportedAttribute)).To(BeTrue())
		})

		It("rejects egress rules", func() {
			err := m.Validate(&types.Attrs{Ingress: true, Egress: true}, ethDstPattern(macX),
				[]types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrUnsupportedAttribute)).To(BeTrue())
		})
	})

	Context("validate", func() {
		It("accepts a valid rule without persisting state", func() {
			err := m.Validate(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())

			Expect(m.Len()).To(Equal(0))
			Expect(hwc.VnicCount()).To(Equal(1))
			Expect(hwc.L2FilterCount()).To(Equal(1))
		})

		It("is idempotent with respect to installed flows", func() {
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())
			before := m.Len()

			Expect(m.Validate(ingress(), ethDstPattern(macY),
				[]types.Action{types.NewQueueAction(4)})).ToNot(HaveOccurred())
			Expect(m.Len()).To(Equal(before))
		})
	})

	Context("queue steering", func() {
		It("creates an L2 flow steering to a queue", func() {
			f, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())

			Expect(f.Filter.Kind).To(Equal(types.FilterKindL2))
			Expect(f.VnicSlot).To(Equal(3))
			Expect(m.Len()).To(Equal(1))
			Expect(hwc.VnicCount()).To(Equal(2))
			Expect(hwc.L2FilterCount()).To(Equal(2))
			Expect(hwc.EMFilterCount()).To(Equal(0))
		})

		It("creates a tuple flow steering to a queue", func() {
			f, err := m.Create(ingress(), tcpPattern("198.51.100.7", 443),
				[]types.Action{types.NewQueueAction(2)})
			Expect(err).ToNot(HaveOccurred())

			Expect(f.Filter.Kind).To(Equal(types.FilterKindNTuple))
			Expect(hwc.NTupleFilterCount()).To(Equal(1))
			Expect(f.Filter.DstPort).To(Equal(uint16(443)))
		})

		It("rejects queue 0", func() {
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(0)})
			Expect(errors.Is(err, flow.ErrInvalidAction)).To(BeTrue())
		})

		It("rejects a queue beyond the device range", func() {
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(9)})
			Expect(errors.Is(err, flow.ErrInvalidAction)).To(BeTrue())
		})

		It("shares a receive context between flows on the same queue", func() {
			f1, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())
			f2, err := m.Create(ingress(), ethDstPattern(macY), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())

			Expect(f1.VnicSlot).To(Equal(f2.VnicSlot))
			Expect(hwc.VnicCount()).To(Equal(2))
		})

		It("rejects steering to a queue owned by another context", func() {
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())

			attrs := ingress()
			attrs.Group = 4
			_, err = m.Create(attrs, ethDstPattern(macY), []types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrConflict)).To(BeTrue())
		})

		It("detects duplicate rules", func() {
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())

			_, err = m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrDuplicateRule)).To(BeTrue())
			Expect(m.Len()).To(Equal(1))
			Expect(hwc.L2FilterCount()).To(Equal(2))
		})

		It("updates the destination of a flow with the same pattern", func() {
			f1, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())

			f2, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(4)})
			Expect(err).ToNot(HaveOccurred())

			Expect(f2.ID).To(Equal(f1.ID))
			Expect(f2.VnicSlot).To(Equal(4))
			Expect(m.Len()).To(Equal(1))
			// the emptied context on queue 3 is torn down
			Expect(hwc.VnicCount()).To(Equal(2))
			Expect(hwc.L2FilterCount()).To(Equal(2))

			// queue 3 is free for steering again
			_, err = m.Create(ingress(), ethDstPattern(macY), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())
		})

		It("applies the placement hint for high priority destination flows", func() {
			attrs := ingress()
			attrs.Priority = 70000
			f, err := m.Create(attrs, ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())

			Expect(f.Filter.PlaceBelow).To(BeTrue())
			installed := hwc.L2FilterByID(hw.FilterID(f.Filter.L2FilterID))
			Expect(installed).ToNot(BeNil())
			Expect(installed.Cfg.PlaceBelow).To(BeTrue())
		})
	})

	Context("shared L2 filters", func() {
		ethTCPPattern := func(dstPort uint16) types.Pattern {
			p := ethDstPattern(macX)
			return append(p, tcpPattern("198.51.100.7", dstPort)...)
		}

		It("backs multiple tuple flows with one L2 filter", func() {
			f1, err := m.Create(ingress(), ethTCPPattern(80), []types.Action{types.NewQueueAction(2)})
			Expect(err).ToNot(HaveOccurred())
			f2, err := m.Create(ingress(), ethTCPPattern(443), []types.Action{types.NewQueueAction(2)})
			Expect(err).ToNot(HaveOccurred())

			Expect(hwc.NTupleFilterCount()).To(Equal(2))
			Expect(hwc.L2FilterCount()).To(Equal(2))
			Expect(f1.Filter.L2FilterID).To(Equal(f2.Filter.L2FilterID))

			Expect(m.Destroy(f1.ID)).ToNot(HaveOccurred())
			Expect(hwc.L2FilterCount()).To(Equal(2))

			Expect(m.Destroy(f2.ID)).ToNot(HaveOccurred())
			Expect(hwc.L2FilterCount()).To(Equal(1))
			Expect(hwc.NTupleFilterCount()).To(Equal(0))
			Expect(m.Len()).To(Equal(0))
		})

		It("backs tuple flows on different queues with one L2 filter", func() {
			f1, err := m.Create(ingress(), ethTCPPattern(80), []types.Action{types.NewQueueAction(2)})
			Expect(err).ToNot(HaveOccurred())
			f2, err := m.Create(ingress(), ethTCPPattern(443), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())

			Expect(hwc.VnicCount()).To(Equal(3))
			Expect(hwc.NTupleFilterCount()).To(Equal(2))
			Expect(hwc.L2FilterCount()).To(Equal(2))
			Expect(f1.Filter.L2FilterID).To(Equal(f2.Filter.L2FilterID))

			Expect(m.Destroy(f1.ID)).ToNot(HaveOccurred())
			Expect(hwc.L2FilterCount()).To(Equal(2))
			Expect(m.Destroy(f2.ID)).ToNot(HaveOccurred())
			Expect(hwc.L2FilterCount()).To(Equal(1))
		})
	})

	Context("drop and count", func() {
		It("creates a drop flow on the default context", func() {
			f, err := m.Create(ingress(), tcpPattern("198.51.100.7", 80),
				[]types.Action{types.NewDropAction()})
			Expect(err).ToNot(HaveOccurred())

			Expect(f.Filter.Flags & types.FlagDrop).ToNot(BeZero())
			Expect(f.VnicSlot).To(Equal(0))
			Expect(hwc.VnicCount()).To(Equal(1))
		})

		It("creates a count flow on the default context", func() {
			f, err := m.Create(ingress(), tcpPattern("198.51.100.7", 80),
				[]types.Action{types.NewCountAction()})
			Expect(err).ToNot(HaveOccurred())

			Expect(f.Filter.Flags & types.FlagMeter).ToNot(BeZero())
			Expect(f.VnicSlot).To(Equal(0))
		})

		It("rejects a second action and rolls back", func() {
			_, err := m.Create(ingress(), tcpPattern("198.51.100.7", 80),
				[]types.Action{types.NewDropAction(), types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrInvalidAction)).To(BeTrue())

			Expect(m.Len()).To(Equal(0))
			Expect(hwc.L2FilterCount()).To(Equal(1))
			Expect(hwc.VnicCount()).To(Equal(1))
		})

		It("skips void actions", func() {
			_, err := m.Create(ingress(), tcpPattern("198.51.100.7", 80),
				[]types.Action{&types.VoidAction{}, types.NewDropAction(), &types.VoidAction{}})
			Expect(err).ToNot(HaveOccurred())
		})
	})

	Context("RSS", func() {
		rssAttrs := func(group uint32) *types.Attrs {
			a := ingress()
			a.Group = group
			return a
		}

		It("rejects an RSS action without a group", func() {
			act := types.NewRSSActionBuilder().WithQueue(1).WithQueue(2).Build()
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{act})
			Expect(errors.Is(err, flow.ErrInvalidAction)).To(BeTrue())
		})

		It("rejects an RSS action with an empty queue set", func() {
			act := types.NewRSSActionBuilder().WithHashTypes(0xff).Build()
			_, err := m.Create(rssAttrs(2), ethDstPattern(macX), []types.Action{act})
			Expect(errors.Is(err, flow.ErrInvalidAction)).To(BeTrue())
			Expect(hwc.VnicCount()).To(Equal(1))
		})

		It("provisions a context spreading over the queue set", func() {
			act := types.NewRSSActionBuilder().
				WithQueue(1).WithQueue(2).WithQueue(3).WithQueue(4).
				WithHashTypes(0xff).Build()
			f, err := m.Create(rssAttrs(2), ethDstPattern(macX), []types.Action{act})
			Expect(err).ToNot(HaveOccurred())

			Expect(f.VnicSlot).To(Equal(2))
			Expect(hwc.VnicCount()).To(Equal(2))
			Expect(hwc.RSSContextCount()).To(Equal(1))

			cfg, ok := hwc.RSSConfigFor(hw.VnicID(f.Filter.DstID))
			Expect(ok).To(BeTrue())
			Expect(cfg.Key).To(HaveLen(hw.RSSKeySize))
			Expect(cfg.Table).To(HaveLen(hw.RSSTableSize))
			Expect(cfg.HashTypes).To(Equal(uint32(0xff)))
		})

		It("accepts a second flow with the same queue set in any order", func() {
			act1 := types.NewRSSActionBuilder().WithQueue(1).WithQueue(2).Build()
			_, err := m.Create(rssAttrs(2), ethDstPattern(macX), []types.Action{act1})
			Expect(err).ToNot(HaveOccurred())

			act2 := types.NewRSSActionBuilder().WithQueue(2).WithQueue(1).Build()
			f2, err := m.Create(rssAttrs(2), ethDstPattern(macY), []types.Action{act2})
			Expect(err).ToNot(HaveOccurred())
			Expect(f2.VnicSlot).To(Equal(2))
			Expect(hwc.VnicCount()).To(Equal(2))
		})

		It("rejects a mismatched queue set on a provisioned context", func() {
			act1 := types.NewRSSActionBuilder().WithQueue(1).WithQueue(2).Build()
			_, err := m.Create(rssAttrs(2), ethDstPattern(macX), []types.Action{act1})
			Expect(err).ToNot(HaveOccurred())

			act2 := types.NewRSSActionBuilder().WithQueue(3).WithQueue(4).Build()
			_, err = m.Create(rssAttrs(2), ethDstPattern(macY), []types.Action{act2})
			Expect(errors.Is(err, flow.ErrConflict)).To(BeTrue())
		})

		It("rejects a queue set overlapping another context", func() {
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(5)})
			Expect(err).ToNot(HaveOccurred())

			act := types.NewRSSActionBuilder().WithQueue(5).WithQueue(6).Build()
			_, err = m.Create(rssAttrs(6), ethDstPattern(macY), []types.Action{act})
			Expect(errors.Is(err, flow.ErrConflict)).To(BeTrue())
		})
	})

	Context("VF redirect and mirror", func() {
		It("mirrors matched traffic to a VF default context", func() {
			hwc.SetVFDefaultVnic(2, 9)

			f, err := m.Create(ingress(), tcpPattern("198.51.100.7", 80),
				[]types.Action{types.NewVFAction(2)})
			Expect(err).ToNot(HaveOccurred())

			Expect(f.Filter.MirrorDstID).To(Equal(uint16(9)))
			Expect(f.Filter.Enables & types.FieldMirrorDst).ToNot(BeZero())
			Expect(hwc.NTupleFilterCount()).To(Equal(1))
		})

		It("rejects a VF action out of range", func() {
			_, err := m.Create(ingress(), tcpPattern("198.51.100.7", 80),
				[]types.Action{types.NewVFAction(10)})
			Expect(errors.Is(err, flow.ErrInvalidAction)).To(BeTrue())
		})

		It("rejects a VF action when no driver is loaded on the VF", func() {
			_, err := m.Create(ingress(), tcpPattern("198.51.100.7", 80),
				[]types.Action{types.NewVFAction(1)})
			Expect(errors.Is(err, flow.ErrInvalidAction)).To(BeTrue())
		})

		It("mirrors traffic matched by a VF item", func() {
			hwc.SetVFDefaultVnic(1, 8)

			attrs := ingress()
			attrs.Transfer = true
			pattern := types.Pattern{
				&types.VFItem{
					Spec: &types.VFFields{ID: 1},
					Mask: &types.VFFields{ID: 0xffffffff},
				},
			}
			f, err := m.Create(attrs, pattern, []types.Action{types.NewCountAction()})
			Expect(err).ToNot(HaveOccurred())
			Expect(f.Filter.MirrorDstID).To(Equal(uint16(8)))
		})

		It("rejects a VF item without the transfer attribute", func() {
			hwc.SetVFDefaultVnic(1, 8)

			pattern := types.Pattern{
				&types.VFItem{
					Spec: &types.VFFields{ID: 1},
					Mask: &types.VFFields{ID: 0xffffffff},
				},
			}
			_, err := m.Create(ingress(), pattern, []types.Action{types.NewCountAction()})
			Expect(errors.Is(err, flow.ErrInvalidMatchField)).To(BeTrue())
		})
	})

	Context("tunnel redirect", func() {
		vxlanToVF := func() (*flow.Flow, error) {
			return m.Create(ingress(), types.Pattern{&types.VxlanItem{}},
				[]types.Action{types.NewVFAction(0)})
		}

		It("redirects a tunnel type to this function", func() {
			f, err := vxlanToVF()
			Expect(err).ToNot(HaveOccurred())

			Expect(f.Filter.Kind).To(Equal(types.FilterKindTunnelRedirect))
			Expect(hwc.TunnelActive()).To(Equal(types.TunnelTypeVxlan.Bit()))
		})

		It("frees an owned redirect on destroy", func() {
			// the device's function id maps to redirect owner 4
			hwc.SetTunnelOwner(4)
			f, err := vxlanToVF()
			Expect(err).ToNot(HaveOccurred())

			Expect(m.Destroy(f.ID)).ToNot(HaveOccurred())
			Expect(hwc.TunnelActive()).To(BeZero())
			Expect(m.Len()).To(Equal(0))
		})

		It("leaves a redirect owned by another function in place on destroy", func() {
			hwc.SetTunnelOwner(9)
			f, err := vxlanToVF()
			Expect(err).ToNot(HaveOccurred())

			Expect(m.Destroy(f.ID)).ToNot(HaveOccurred())
			Expect(hwc.TunnelActive()).To(Equal(types.TunnelTypeVxlan.Bit()))
			Expect(m.Len()).To(Equal(0))
		})
	})

	Context("device gating", func() {
		It("rejects rule creation on a stopped device", func() {
			reg.Stop()
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrInvalidArgument)).To(BeTrue())
		})

		It("still validates rules on a stopped device", func() {
			reg.Stop()
			err := m.Validate(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())
		})

		It("rejects rule creation on an untrusted virtual function", func() {
			vfHwc := fake.NewControlChannel()
			vfMgr, _ := newTestManager(device.Config{
				Name:        "vf0",
				NumRxQueues: 4,
				PortMAC:     "02:11:22:33:44:66",
			}, vfHwc)

			_, err := vfMgr.Create(ingress(), ethDstPattern(macX),
				[]types.Action{types.NewQueueAction(2)})
			Expect(errors.Is(err, flow.ErrPermissionDenied)).To(BeTrue())
		})
	})

	Context("destroy and flush", func() {
		It("fails to destroy an unknown flow", func() {
			f, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())
			Expect(m.Destroy(f.ID)).ToNot(HaveOccurred())

			err = m.Destroy(f.ID)
			Expect(errors.Is(err, flow.ErrNotFound)).To(BeTrue())
		})

		It("tears down the flow's context when its last flow is destroyed", func() {
			f, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())
			Expect(hwc.VnicCount()).To(Equal(2))

			Expect(m.Destroy(f.ID)).ToNot(HaveOccurred())
			Expect(hwc.VnicCount()).To(Equal(1))
			Expect(hwc.L2FilterCount()).To(Equal(1))
		})

		It("removes all flows and their hardware state on flush", func() {
			_, err := m.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())
			_, err = m.Create(ingress(), tcpPattern("198.51.100.7", 80),
				[]types.Action{types.NewDropAction()})
			Expect(err).ToNot(HaveOccurred())

			act := types.NewRSSActionBuilder().WithQueue(1).WithQueue(2).Build()
			attrs := ingress()
			attrs.Group = 2
			_, err = m.Create(attrs, ethDstPattern(macY), []types.Action{act})
			Expect(err).ToNot(HaveOccurred())
			Expect(m.Len()).To(Equal(3))

			Expect(m.Flush()).ToNot(HaveOccurred())
			Expect(m.Len()).To(Equal(0))
			Expect(hwc.VnicCount()).To(Equal(1))
			Expect(hwc.L2FilterCount()).To(Equal(1))
			Expect(hwc.NTupleFilterCount()).To(Equal(0))
			Expect(hwc.EMFilterCount()).To(Equal(0))
			Expect(hwc.RSSContextCount()).To(Equal(0))
		})
	})

	Context("hardware failures", func() {
		var mhwc *hwmocks.ControlChannel
		var mm *flow.Manager

		BeforeEach(func() {
			mhwc = hwmocks.NewControlChannel(GinkgoT())
			// default receive context and port L2 filter
			mhwc.On("AllocVnic").Return(hw.VnicID(0), nil).Once()
			mhwc.On("ConfigureVnic", mock.Anything).Return(nil)
			mhwc.On("SetL2Filter", hw.VnicID(0), mock.Anything).Return(hw.FilterID(0), nil).Once()
			mm, _ = newTestManager(pfConfig, mhwc)
		})

		It("rolls back compiled state when clearing the updated filter fails", func() {
			mhwc.On("AllocVnic").Return(hw.VnicID(1), nil).Once()
			mhwc.On("SetL2Filter", hw.VnicID(1), mock.Anything).Return(hw.FilterID(1), nil).Once()
			mhwc.On("SetNTupleFilter", mock.Anything).Return(hw.FilterID(2), nil).Once()

			_, err := mm.Create(ingress(), tcpPattern("198.51.100.7", 443),
				[]types.Action{types.NewQueueAction(2)})
			Expect(err).ToNot(HaveOccurred())

			// the same pattern steering elsewhere updates the flow in place.
			// when clearing the old filter fails, the context provisioned for
			// the update must be freed and the flow left untouched.
			mhwc.On("AllocVnic").Return(hw.VnicID(2), nil).Once()
			mhwc.On("ClearNTupleFilter", hw.FilterID(2)).Return(errors.New("hw timeout")).Once()
			mhwc.On("FreeVnic", hw.VnicID(2)).Return(nil).Once()

			_, err = mm.Create(ingress(), tcpPattern("198.51.100.7", 443),
				[]types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrHardwareFailure)).To(BeTrue())
			Expect(mm.Len()).To(Equal(1))
		})

		It("releases the queue claim when context provisioning fails", func() {
			mhwc.On("AllocVnic").Return(hw.InvalidVnicID, errors.New("no resources")).Once()

			_, err := mm.Create(ingress(), ethDstPattern(macX), []types.Action{types.NewQueueAction(3)})
			Expect(errors.Is(err, flow.ErrResourceExhausted)).To(BeTrue())

			// queue 3 reverted to the default pool, another context can claim it
			mhwc.On("AllocVnic").Return(hw.VnicID(1), nil).Once()
			mhwc.On("SetL2Filter", hw.VnicID(1), mock.Anything).Return(hw.FilterID(1), nil).Once()

			attrs := ingress()
			attrs.Group = 5
			f, err := mm.Create(attrs, ethDstPattern(macY), []types.Action{types.NewQueueAction(3)})
			Expect(err).ToNot(HaveOccurred())
			Expect(f.VnicSlot).To(Equal(5))
		})
	})
})
