// Command nxy-agent runs on a managed host: it dials the server,
// maintains the persistent session, and answers the server's RPCs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"

	"github.com/nxyio/nxy/internal/agentd"
	"github.com/nxyio/nxy/internal/buildinfo"
	"github.com/nxyio/nxy/internal/logging"
)

type runConfig struct {
	Log logging.Config `group:"Logging" namespace:"log"`

	Args struct {
		StateDir  string `positional-arg-name:"state-dir" description:"directory holding the agent's persisted identity"`
		ServerURL string `positional-arg-name:"server-url" description:"websocket URL of the nxyd session endpoint"`
	} `positional-args:"yes" required:"yes"`
}

func (cmd *runConfig) Execute(_ []string) error {
	logging.Init(cmd.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)
	go func() {
		<-signalCh
		cancel()
	}()

	if err := agentd.Run(ctx, cmd.Args.ServerURL, cmd.Args.StateDir); err != nil && ctx.Err() == nil {
		return fmt.Errorf("agentd: %w", err)
	}
	return nil
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" {
			fmt.Println("nxy-agent", buildinfo.String())
			return
		}
	}

	var cmd runConfig
	parser := flags.NewParser(&cmd, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
