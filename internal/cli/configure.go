package cli

import (
	"bufio"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"simbridge/internal/bridge"
	"simbridge/internal/global"
	"strings"

	"golang.org/x/term"
	"gopkg.in/yaml.v3"
)

// Setup options
func ConfigureMode(cliOpts *global.CommandSet, commandname string, args []string) {
	var templateConfPath string
	var printTemplate bool

	commandFlags := flag.NewFlagSet(commandname, flag.ExitOnError)
	commandFlags.StringVar(&templateConfPath, "c", global.DefaultConfigPath, "Path to write the template config file to")
	commandFlags.StringVar(&templateConfPath, "config", global.DefaultConfigPath, "Path to write the template config file to")
	commandFlags.BoolVar(&printTemplate, "print", false, "Print the template config to stdout instead of writing a file")

	commandFlags.Usage = func() {
		PrintHelpMenu(commandFlags, commandname, cliOpts)
	}
	commandFlags.Parse(args[0:])

	var err error
	if printTemplate {
		_, err = fmt.Print(bridge.ConfigTemplate)
	} else {
		interactive := term.IsTerminal(int(os.Stdout.Fd()))
		err = CreateTemplateConfig(templateConfPath, interactive, os.Stdin, os.Stdout)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// Writes the template config to path. An existing file is only replaced after
// an interactive "yes", never without a terminal.
func CreateTemplateConfig(path string, interactive bool, input io.Reader, output io.Writer) (err error) {
	_, err = os.Stat(path)
	if err == nil {
		// No terminal - no overwrite
		if !interactive {
			fmt.Fprintf(output, "Existing configuration file present, not overwriting\n")
			return
		}

		// File exists, prompt user for confirmation to overwrite
		fmt.Fprintf(output, "Configuration file already exists at '%s'. Are you SURE you want to overwrite it? (yes/no): ", path)
		reader := bufio.NewReader(input)
		answer, _ := reader.ReadString('\n')
		answer = strings.TrimSpace(answer)

		if strings.ToLower(answer) != "yes" {
			fmt.Fprintf(output, "Not overwriting configuration file\n")
			return
		}
	} else if !os.IsNotExist(err) {
		err = fmt.Errorf("failed checking config file existence: %w", err)
		return
	}

	content, err := renderTemplate(path)
	if err != nil {
		return
	}

	err = os.WriteFile(path, content, 0640)
	if err != nil {
		err = fmt.Errorf("failed to write template config: %w", err)
		return
	}
	fmt.Fprintf(output, "Template configuration written to '%s'\n", path)
	return
}

// JSON template, converted to YAML when the path asks for it
func renderTemplate(path string) (content []byte, err error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var cfg bridge.JSONConfig
		err = json.Unmarshal([]byte(bridge.ConfigTemplate), &cfg)
		if err != nil {
			err = fmt.Errorf("invalid built-in template: %w", err)
			return
		}
		content, err = yaml.Marshal(cfg)
		if err != nil {
			err = fmt.Errorf("failed to encode template as yaml: %w", err)
		}
	default:
		content = []byte(bridge.ConfigTemplate)
	}
	return
}
