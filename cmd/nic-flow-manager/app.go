package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
	"k8s.io/utils/exec"

	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/device"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/flow"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw/cmdline"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw/fake"
	"github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/hw/filewriter"
	mnet "github.com/k8snetworkplumbingwg/nic-flow-manager/pkg/net"
)

// loadDeviceConfig reads and decodes the device config file at path
func loadDeviceConfig(path string) (device.Config, error) {
	var cfg device.Config
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, errors.Wrapf(err, "failed to read device config %s", path)
	}
	if err := json.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrapf(err, "failed to decode device config %s", path)
	}
	return cfg, nil
}

// newRegistry builds the device registry, discovering from the host netdev
// when requested
func newRegistry(log klog.Logger, opts *Options, cfg device.Config) (device.Registry, error) {
	if opts.discover {
		return device.NewLinuxRegistry(log.WithName("device"), cfg,
			mnet.NewNetlinkProviderImpl(), mnet.NewSriovnetProviderImpl())
	}
	reg, err := device.NewStaticRegistry(cfg)
	if err != nil {
		return nil, err
	}
	reg.Start()
	return reg, nil
}

// run compiles and programs the rule set once, then exits
func run(opts *Options) error {
	log := klog.NewKlogr().WithName("nic-flow-manager")

	if opts.deviceConfigPath == "" || opts.rulesPath == "" {
		return errors.New("both --device-config and --rules are required")
	}

	cfg, err := loadDeviceConfig(opts.deviceConfigPath)
	if err != nil {
		return err
	}

	reg, err := newRegistry(log, opts, cfg)
	if err != nil {
		return err
	}

	var hwc hw.ControlChannel
	switch opts.hwDriver {
	case "cmdline":
		hwc = cmdline.NewControlChannelCmdLineImpl(reg.Name(),
			log.WithName("hw-cmdline-driver"), exec.New())
	case "fake":
		hwc = fake.NewControlChannel()
	default:
		return errors.Errorf("unknown hardware driver: %s", opts.hwDriver)
	}
	if opts.stateFilePath != "" {
		hwc = filewriter.NewControlChannelFileWriterImpl(hwc, opts.stateFilePath,
			log.WithName("state-writer"))
	}

	mgr, err := flow.NewManager(log.WithName("flow"), hwc, reg,
		opts.maxContexts, opts.maxL2Filters)
	if err != nil {
		return errors.Wrap(err, "failed to create flow manager")
	}

	rules, err := loadRules(opts.rulesPath)
	if err != nil {
		return err
	}
	log.Info("loaded rules", "count", len(rules), "port", reg.Name())

	failed := 0
	for i := range rules {
		attrs, pattern, actions, err := rules[i].parse()
		if err != nil {
			log.Error(err, "malformed rule", "rule", i)
			failed++
			continue
		}

		if opts.validateOnly {
			if err := mgr.Validate(attrs, pattern, actions); err != nil {
				log.Error(err, "rule failed validation", "rule", i)
				failed++
				continue
			}
			log.Info("rule is valid", "rule", i)
			continue
		}

		f, err := mgr.Create(attrs, pattern, actions)
		if err != nil {
			log.Error(err, "failed to create flow", "rule", i)
			failed++
			continue
		}
		log.Info("created flow", "rule", i, "flow", f.ID.String(), "kind", f.Filter.Kind)
	}

	if failed > 0 {
		return errors.Errorf("%d of %d rules failed", failed, len(rules))
	}
	return nil
}
