package cli

import (
	"fmt"
	"os"
	"strconv"
)

// GlobalOptions are shared by every subcommand, matching spec §6's
// "Environment / CLI" contract: NXY_SERVER (default http://localhost:8080)
// and --format {table,json}.
type GlobalOptions struct {
	Server string `long:"server" env:"NXY_SERVER" default:"http://localhost:8080" description:"nxy admin API base URL"`
	Format string `long:"format" default:"table" choice:"table" choice:"json" description:"output format"`
}

func (g GlobalOptions) client() *Client { return NewClient(g.Server) }
func (g GlobalOptions) format() Format  { return Format(g.Format) }

type AgentListCmd struct {
	GlobalOptions
}

func (cmd *AgentListCmd) Execute(_ []string) error {
	agents, err := cmd.client().ListAgents()
	if err != nil {
		return err
	}
	return renderAgents(os.Stdout, cmd.format(), agents)
}

type AgentAssignCmd struct {
	GlobalOptions
	Args struct {
		AgentID  string `positional-arg-name:"agent-id"`
		ConfigID string `positional-arg-name:"config-id"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *AgentAssignCmd) Execute(_ []string) error {
	configID, err := strconv.ParseInt(cmd.Args.ConfigID, 10, 64)
	if err != nil {
		return fmt.Errorf("config-id must be an integer: %w", err)
	}
	return cmd.client().AssignConfiguration(cmd.Args.AgentID, configID)
}

type AgentDownloadCmd struct {
	GlobalOptions
	Args struct {
		AgentID   string `positional-arg-name:"agent-id"`
		StorePath string `positional-arg-name:"store-path"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *AgentDownloadCmd) Execute(_ []string) error {
	return cmd.client().Download(cmd.Args.AgentID, cmd.Args.StorePath)
}

type AgentActivateCmd struct {
	GlobalOptions
	Args struct {
		AgentID   string `positional-arg-name:"agent-id"`
		StorePath string `positional-arg-name:"store-path"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *AgentActivateCmd) Execute(_ []string) error {
	return cmd.client().Activate(cmd.Args.AgentID, cmd.Args.StorePath)
}

type FlakeListCmd struct {
	GlobalOptions
}

func (cmd *FlakeListCmd) Execute(_ []string) error {
	flakes, err := cmd.client().ListFlakes()
	if err != nil {
		return err
	}
	return renderFlakes(os.Stdout, cmd.format(), flakes)
}

type FlakeAddCmd struct {
	GlobalOptions
	Args struct {
		FlakeURL string `positional-arg-name:"flake-url"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *FlakeAddCmd) Execute(_ []string) error {
	flake, err := cmd.client().RegisterFlake(cmd.Args.FlakeURL)
	if err != nil {
		return err
	}
	return renderFlakes(os.Stdout, cmd.format(), []Flake{*flake})
}

type FlakeUpdateCmd struct {
	GlobalOptions
}

func (cmd *FlakeUpdateCmd) Execute(_ []string) error {
	return cmd.client().RefreshFlakes()
}

type ConfigurationListCmd struct {
	GlobalOptions
}

func (cmd *ConfigurationListCmd) Execute(_ []string) error {
	configs, err := cmd.client().ListConfigurations()
	if err != nil {
		return err
	}
	return renderConfigurations(os.Stdout, cmd.format(), configs)
}
