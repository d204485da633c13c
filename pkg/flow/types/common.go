package types

// CmdLineGenerator is an interface for generating command line args for a flow object.
// it is used to render objects in a human-readable form for the command-log
// hardware channel decorator and for CLI output.
type CmdLineGenerator interface {
	// GenCmdLineArgs returns command line arguments which represent the object
	GenCmdLineArgs() []string
}

// Attrs holds rule-level attributes provided alongside a match pattern and actions
type Attrs struct {
	// Group is the receive context group id the rule targets. zero means "derive from action".
	Group uint32
	// Priority is a placement priority hint for the rule
	Priority uint32
	// Ingress requests matching received traffic. must be set.
	Ingress bool
	// Egress requests matching transmitted traffic. not supported.
	Egress bool
	// Transfer requests the rule to affect matched traffic (required for VF matching)
	Transfer bool
}
