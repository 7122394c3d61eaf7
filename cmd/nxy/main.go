// Command nxy is the admin command-line client for a nxyd server.
package main

import (
	"fmt"
	"os"

	"github.com/jessevdk/go-flags"

	"github.com/nxyio/nxy/internal/buildinfo"
	"github.com/nxyio/nxy/internal/cli"
)

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" || arg == "-v" {
			fmt.Println("nxy", buildinfo.String())
			return
		}
	}

	parser := flags.NewParser(nil, flags.HelpFlag|flags.PassDoubleDash)

	agent, err := parser.AddCommand("agent", "Manage agents", "", &struct{}{})
	mustAddCommand(err)
	addCmd(agent, "list", "List known agents", "", &cli.AgentListCmd{})
	addCmd(agent, "assign", "Assign a configuration to an agent", "", &cli.AgentAssignCmd{})
	addCmd(agent, "download", "Ask an agent to download a store path", "", &cli.AgentDownloadCmd{})
	addCmd(agent, "activate", "Ask an agent to activate a store path", "", &cli.AgentActivateCmd{})

	flake, err := parser.AddCommand("flake", "Manage tracked flakes", "", &struct{}{})
	mustAddCommand(err)
	addCmd(flake, "list", "List tracked flakes", "", &cli.FlakeListCmd{})
	addCmd(flake, "add", "Register and process a new flake", "", &cli.FlakeAddCmd{})
	addCmd(flake, "update", "Refresh all tracked flakes", "", &cli.FlakeUpdateCmd{})

	configuration, err := parser.AddCommand("configuration", "Inspect evaluated configurations", "", &struct{}{})
	mustAddCommand(err)
	addCmd(configuration, "list", "List configurations", "", &cli.ConfigurationListCmd{})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func addCmd(to *flags.Command, name, short, long string, iface any) *flags.Command {
	cmd, err := to.AddCommand(name, short, long, iface)
	mustAddCommand(err)
	return cmd
}

func mustAddCommand(err error) {
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to add command:", err)
		os.Exit(1)
	}
}
