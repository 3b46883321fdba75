package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"simbridge/internal/bridge"
	"simbridge/internal/global"
	"simbridge/internal/lifecycle"
	"simbridge/internal/logctx"
	"strconv"
)

func RunMode(ctx context.Context, cliOpts *global.CommandSet, commandname string, args []string) {
	var configPath string
	commandFlags := flag.NewFlagSet(commandname, flag.ExitOnError)
	SetGlobalArguments(commandFlags)
	SetCommon(commandFlags, &configPath)

	commandFlags.Usage = func() {
		PrintHelpMenu(commandFlags, commandname, cliOpts)
	}
	commandFlags.Parse(args[0:])
	logctx.SetLogLevel(ctx, global.Verbosity)

	daemonConfig, err := loadDaemonConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	bridgeDaemon := bridge.NewDaemon(daemonConfig)
	err = bridgeDaemon.Start(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error starting bridge daemon: %v\n", err)
		os.Exit(1)
	}

	err = lifecycle.NotifyReady(ctx)
	if err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog, "Systemd notify ready failed: %v\n", err)
	}
	err = lifecycle.NotifyStatus(ctx, "Bridging "+strconv.Itoa(len(bridgeDaemon.Nodes))+" instance(s)")
	if err != nil {
		logctx.LogEvent(ctx, global.VerbosityStandard, global.WarnLog, "Systemd notify status failed: %v\n", err)
	}

	go lifecycle.SignalHandler(ctx, bridgeDaemon)

	bridgeDaemon.Run()
}

// Parses the config file and prints the instance layout
func ValidateMode(cliOpts *global.CommandSet, commandname string, args []string) {
	var configPath string
	commandFlags := flag.NewFlagSet(commandname, flag.ExitOnError)
	SetCommon(commandFlags, &configPath)

	commandFlags.Usage = func() {
		PrintHelpMenu(commandFlags, commandname, cliOpts)
	}
	commandFlags.Parse(args[0:])

	daemonConfig, err := loadDaemonConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Print(describeConfig(daemonConfig))
}

func loadDaemonConfig(configPath string) (daemonConfig bridge.Config, err error) {
	jsonCfg, err := bridge.LoadConfig(configPath)
	if err != nil {
		return
	}
	daemonConfig, err = jsonCfg.NewDaemonConf()
	return
}

// Human readable summary of a parsed config
func describeConfig(cfg bridge.Config) (summary string) {
	summary = fmt.Sprintf("Configuration valid: %d instance(s)\n", len(cfg.Instances))
	for _, inst := range cfg.Instances {
		cycle := inst.Controller.CycleTime
		if cycle == 0 {
			cycle = global.DefaultCycleTime
		}
		summary += fmt.Sprintf("  %s (id %d): cycle %v, inputs %d/%d bytes, outputs %d/%d bytes, %d script step(s), %d seeded record(s)\n",
			inst.Name, inst.Controller.InstanceID, cycle,
			len(inst.Controller.InputAddress), inst.Simulation.InputSize,
			len(inst.Controller.OutputAddress), inst.Simulation.OutputSize,
			len(inst.Script), len(inst.Seed))
	}
	if cfg.TraceFilePath != "" {
		summary += fmt.Sprintf("  trace file: %s\n", cfg.TraceFilePath)
	}
	if cfg.TraceBeatsAddress != "" {
		summary += fmt.Sprintf("  trace beats: %s\n", cfg.TraceBeatsAddress)
	}
	return
}
