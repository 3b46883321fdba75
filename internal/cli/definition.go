package cli

import "simbridge/internal/global"

func DefineOptions() (cmdOpts *global.CommandSet) {
	// Root level
	root := &global.CommandSet{
		Description:     "Simulation Record Bridge (simbridge)",
		FullDescription: "  Exchanges cyclic process images and acyclic record data between simulated controllers and a host runtime",
		CommandName:     RootCLICommand,
		ChildCommands:   make(map[string]*global.CommandSet),
	}

	// Daemon
	root.ChildCommands["run"] = &global.CommandSet{
		CommandName:     "run",
		Description:     "Run Bridge",
		FullDescription: "Starts the simulated instances, their cycle controllers and the shared record broker",
		ChildCommands:   nil,
	}

	// Config check
	root.ChildCommands["validate"] = &global.CommandSet{
		CommandName:     "validate",
		Description:     "Validate Configuration",
		FullDescription: "Parses the configuration file and prints the resulting instance layout",
		ChildCommands:   nil,
	}

	// Setup
	root.ChildCommands["configure"] = &global.CommandSet{
		CommandName:     "configure",
		Description:     "Setup Actions",
		FullDescription: "Writes a template configuration file (JSON, or YAML for .yaml/.yml paths)",
		ChildCommands:   nil,
	}

	// Version Info
	root.ChildCommands["version"] = &global.CommandSet{
		CommandName:     "version",
		Description:     "Show Version Information",
		FullDescription: "Display meta information about program",
	}

	cmdOpts = root
	return
}
