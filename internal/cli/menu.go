package cli

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"simbridge/internal/global"
	"sort"
	"strings"
	"text/tabwriter"
)

const (
	RootCLICommand  string = "root"
	helpMenuTrailer string = `
Configuration is read from %s unless -c/--config is given.
Metric query help is served at http://%s:%d/ when the query server is enabled.
`
)

// Prints usage for command (or the root) with its flags to stdout
func PrintHelpMenu(fs *flag.FlagSet, command string, rootCmd *global.CommandSet) {
	writeHelpMenu(os.Stdout, filepath.Base(os.Args[0]), fs, command, rootCmd)
}

func writeHelpMenu(out io.Writer, program string, fs *flag.FlagSet, command string, rootCmd *global.CommandSet) {
	cmdSet := rootCmd
	if command != "" && command != RootCLICommand {
		var known bool
		cmdSet, known = rootCmd.ChildCommands[command]
		if !known {
			fmt.Fprintf(out, "Unknown command: %s\n", command)
			return
		}
	}

	usage := []string{program}
	if cmdSet == rootCmd {
		usage = append(usage, "<command>")
	} else {
		usage = append(usage, cmdSet.CommandName)
	}
	if cmdSet.UsageOption != "" {
		usage = append(usage, cmdSet.UsageOption)
	}
	usage = append(usage, "[options]")
	fmt.Fprintf(out, "Usage: %s\n\n", strings.Join(usage, " "))

	if cmdSet == rootCmd {
		fmt.Fprintln(out, rootCmd.Description)
		fmt.Fprintln(out, rootCmd.FullDescription)
		fmt.Fprintln(out)
		writeCommands(out, rootCmd.ChildCommands)
	} else if cmdSet.FullDescription != "" {
		fmt.Fprintf(out, "  %s\n\n", cmdSet.FullDescription)
	}

	writeOptions(out, fs)

	if cmdSet == rootCmd {
		fmt.Fprintf(out, helpMenuTrailer, global.DefaultConfigPath, global.HTTPListenAddr, global.HTTPListenPort)
	}
}

func writeCommands(out io.Writer, commands map[string]*global.CommandSet) {
	if len(commands) == 0 {
		return
	}
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)

	fmt.Fprintln(out, "  Commands:")
	table := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(table, "    %s\t%s\n", name, commands[name].Description)
	}
	table.Flush()
	fmt.Fprintln(out)
}

// One line per option. Short and long spellings registered with the same usage text share a line.
func writeOptions(out io.Writer, fs *flag.FlagSet) {
	type option struct {
		short, long string
		usage       string
		defaultVal  string
	}
	var options []*option
	byUsage := make(map[string]*option)

	// VisitAll is lexical, so "c" is seen before "config"
	fs.VisitAll(func(arg *flag.Flag) {
		opt, seen := byUsage[arg.Usage]
		if !seen {
			opt = &option{usage: arg.Usage, defaultVal: arg.DefValue}
			byUsage[arg.Usage] = opt
			options = append(options, opt)
		}
		if len(arg.Name) == 1 {
			opt.short = arg.Name
		} else {
			opt.long = arg.Name
		}
	})
	if len(options) == 0 {
		return
	}

	fmt.Fprintln(out, "  Options:")
	table := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, opt := range options {
		var names string
		switch {
		case opt.short != "" && opt.long != "":
			names = "-" + opt.short + ", --" + opt.long
		case opt.short != "":
			names = "-" + opt.short
		default:
			names = "    --" + opt.long
		}

		desc := opt.usage
		if opt.defaultVal != "" && opt.defaultVal != "false" && opt.defaultVal != "0" {
			desc += " [default: " + opt.defaultVal + "]"
		}
		fmt.Fprintf(table, "    %s\t%s\n", names, desc)
	}
	table.Flush()
}
