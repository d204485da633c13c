package main

import (
	"flag"

	"github.com/spf13/pflag"
	"k8s.io/klog/v2"
)

// Options stores option for the command
type Options struct {
	// deviceConfigPath is the path to the device config JSON file
	deviceConfigPath string
	// rulesPath is the path to the flow rules JSON file
	rulesPath     string
	stateFilePath string
	hwDriver      string
	validateOnly  bool
	discover      bool
	maxContexts   int
	maxL2Filters  int
}

// AddFlags adds command line flags into command
func (o *Options) AddFlags(fs *pflag.FlagSet) {
	klog.InitFlags(nil)
	fs.SortFlags = false
	fs.StringVar(&o.deviceConfigPath, "device-config", o.deviceConfigPath,
		"Path to the device config JSON file.")
	fs.StringVar(&o.rulesPath, "rules", o.rulesPath,
		"Path to the flow rules JSON file.")
	fs.StringVar(&o.stateFilePath, "state-file", o.stateFilePath,
		"If non-empty, will use this path to write the programmed hardware state for troubleshooting.")
	fs.StringVar(&o.hwDriver, "hw-driver", o.hwDriver,
		"Hardware driver to program filters with. one of: cmdline, fake.")
	fs.BoolVar(&o.validateOnly, "validate-only", o.validateOnly,
		"Validate the rules without programming them.")
	fs.BoolVar(&o.discover, "discover", o.discover,
		"Discover device properties from the host netdev instead of the config file alone.")
	fs.IntVar(&o.maxContexts, "max-contexts", o.maxContexts,
		"Size of the receive context arena.")
	fs.IntVar(&o.maxL2Filters, "max-l2-filters", o.maxL2Filters,
		"Size of the shared L2 filter table.")
	fs.AddGoFlagSet(flag.CommandLine)
}

// NewOptions initializes Options
func NewOptions() *Options {
	return &Options{
		hwDriver:     "cmdline",
		maxContexts:  16,
		maxL2Filters: 64,
	}
}
