package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/pvmon/pvmon/internal/app"
)

// globalFlags are shared by every command that starts a runtime.
type globalFlags struct {
	configPath string
	connector  string
	target     string
	logLevel   string
	interval   time.Duration
}

func (g *globalFlags) options(pvs []string) (app.Options, error) {
	parsed, err := parsePVArgs(pvs)
	if err != nil {
		return app.Options{}, err
	}
	return app.Options{
		ConfigPath:   g.configPath,
		Connector:    g.connector,
		Target:       g.target,
		LogLevel:     g.logLevel,
		PollInterval: g.interval,
		PVs:          parsed,
	}, nil
}

func main() {
	if err := run(); err != nil {
		slog.Error("pvmon failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := newRootCommand().ExecuteContext(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func newRootCommand() *cobra.Command {
	g := &globalFlags{}
	root := &cobra.Command{
		Use:           app.Name,
		Short:         "Watch and write process variables",
		Version:       app.CurrentBuild().String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.StringVar(&g.configPath, "config", "", "config file path (default: user config dir)")
	flags.StringVar(&g.connector, "connector", "", "connector override: loopback, ip, serial, websocket, mqtt")
	flags.StringVar(&g.target, "target", "", "connector target override, e.g. host:port or /dev/ttyUSB0@115200")
	flags.StringVar(&g.logLevel, "log-level", "", "log level override")
	flags.DurationVar(&g.interval, "interval", 0, "poll interval override")

	root.AddCommand(
		newWatchCommand(g),
		newGetCommand(g),
		newPutCommand(g),
		newHistoryCommand(),
		newVersionCommand(),
	)
	return root
}

func printErr(cmd *cobra.Command, format string, args ...any) {
	_, _ = fmt.Fprintf(cmd.ErrOrStderr(), format+"\n", args...)
}
