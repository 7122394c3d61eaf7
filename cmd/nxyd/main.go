// Command nxyd is the nxy control-plane server: it accepts agent
// sessions, serves the admin HTTP API, and runs the reconciliation loop.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jessevdk/go-flags"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	log "github.com/sirupsen/logrus"

	"github.com/nxyio/nxy/internal/buildinfo"
	"github.com/nxyio/nxy/internal/fleet"
	"github.com/nxyio/nxy/internal/httpapi"
	"github.com/nxyio/nxy/internal/logging"
	"github.com/nxyio/nxy/internal/reconcile"
	"github.com/nxyio/nxy/internal/store"
)

type serveConfig struct {
	Listen      string `long:"listen" env:"LISTEN" default:":8080" description:"address to listen on for agent sessions and the admin API"`
	DBDriver    string `long:"db-driver" env:"DB_DRIVER" default:"sqlite3" choice:"sqlite3" choice:"postgres" description:"database driver"`
	DBDSN       string `long:"db-dsn" env:"DB_DSN" default:"nxy.db" description:"database connection string"`
	ExternalURL string `long:"external-url" env:"EXTERNAL_URL" required:"true" description:"substituter URL agents are told to download store paths from"`
	Log         logging.Config `group:"Logging" namespace:"log"`
}

func (cmd *serveConfig) Execute(_ []string) error {
	logging.Init(cmd.Log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := store.Open(ctx, cmd.DBDriver, cmd.DBDSN)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close()

	fl := fleet.NewManager(ctx, db, cmd.ExternalURL)
	engine := reconcile.NewEngine(db, fl.OnConfigurationUpdate)
	srv := httpapi.New(db, fl, engine, cmd.ExternalURL)

	httpServer := &http.Server{Addr: cmd.Listen, Handler: srv.Routes()}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", cmd.Listen).WithField("version", buildinfo.String()).Info("nxyd: listening")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-signalCh:
		log.WithField("signal", sig).Info("nxyd: caught signal, shutting down")
		cancel()
		return httpServer.Shutdown(context.Background())
	case err := <-errCh:
		return fmt.Errorf("serving: %w", err)
	}
}

func main() {
	for _, arg := range os.Args[1:] {
		if arg == "--version" {
			fmt.Println("nxyd", buildinfo.String())
			return
		}
	}

	var cmd serveConfig
	parser := flags.NewParser(&cmd, flags.HelpFlag|flags.PassDoubleDash)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
