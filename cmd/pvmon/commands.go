package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/pvmon/pvmon/internal/app"
	"github.com/pvmon/pvmon/internal/events"
	"github.com/pvmon/pvmon/internal/persistence"
	"github.com/pvmon/pvmon/internal/pv"
)

const (
	defaultWaitTimeout = 5 * time.Second
	timestampLayout    = "2006-01-02 15:04:05.000"
)

func newWatchCommand(g *globalFlags) *cobra.Command {
	var (
		duration     time.Duration
		checkUpdates bool
	)
	cmd := &cobra.Command{
		Use:   "watch [pv[@type]...]",
		Short: "Print PV values as they change",
		Long: `Watch subscribes to the given PVs and to every PV listed in the config
file, then prints each value the poll loop picks up. The config file is
reloaded on change.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts, err := g.options(args)
			if err != nil {
				return err
			}
			opts.WatchConfig = true

			rt, err := app.Initialize(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if len(rt.Watched()) == 0 {
				return errors.New("no PVs to watch: pass names or list them in the config file")
			}

			printer := newChangePrinter(cmd.OutOrStdout())
			rt.Poller.OnChange(func() { printer.print(rt.Watched(), time.Now()) })

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}
			if checkUpdates {
				announceUpdates(ctx, cmd, rt)
			}
			rt.Poller.Run(ctx)

			return nil
		},
	}
	cmd.Flags().DurationVar(&duration, "duration", 0, "stop after this long (0 runs until interrupted)")
	cmd.Flags().BoolVar(&checkUpdates, "check-updates", false, "periodically check for a newer release")
	return cmd
}

func announceUpdates(ctx context.Context, cmd *cobra.Command, rt *app.Runtime) {
	updates := rt.Bus.Subscribe(events.TopicUpdateCheck)
	checker := app.NewUpdateChecker(app.UpdateCheckerConfig{CurrentVersion: app.BuildVersion()})
	go checker.Run(ctx, app.DefaultUpdateCheckInterval, rt.Bus)
	go func() {
		// ends when the runtime closes the bus
		for raw := range updates {
			if st, ok := raw.(app.UpdateStatus); ok {
				printErr(cmd, "update available: %s %s", st.Latest.Version, st.Latest.URL)
			}
		}
	}()
}

// changePrinter prints handles whose rendered value differs from what it
// printed last.
type changePrinter struct {
	out  io.Writer
	last map[string]string
}

func newChangePrinter(out io.Writer) *changePrinter {
	return &changePrinter{out: out, last: make(map[string]string)}
}

func (p *changePrinter) print(handles []*pv.Handle, now time.Time) {
	for _, h := range handles {
		v := h.Snapshot()
		if v.Kind() == pv.KindUnset {
			continue
		}
		text := v.String()
		if prev, ok := p.last[h.Name()]; ok && prev == text {
			continue
		}
		p.last[h.Name()] = text
		_, _ = fmt.Fprintf(p.out, "%s %s %s\n", now.Format(timestampLayout), h.Name(), text)
	}
}

func newGetCommand(g *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "get <pv[@type]>",
		Short: "Print the current value of a PV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, h, err := startForPV(cmd.Context(), g, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			v, err := firstValue(cmd.Context(), rt, h, timeout)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), v.String())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultWaitTimeout, "how long to wait for the first value")
	return cmd
}

func newPutCommand(g *globalFlags) *cobra.Command {
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "put <pv[@type]> <value>",
		Short: "Write a value to a PV",
		Long: `Put waits for the PV's first value so the type and enum choices are
known, writes the parsed value, then prints the value read back.
Enum PVs accept a choice label or an index. Arrays are written as
"[1, 2, 3]".`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, h, err := startForPV(cmd.Context(), g, args[0])
			if err != nil {
				return err
			}
			defer func() { _ = rt.Close() }()

			if _, err := firstValue(cmd.Context(), rt, h, timeout); err != nil {
				return err
			}
			if err := h.PutText(cmd.Context(), args[1]); err != nil {
				return err
			}

			readback, err := firstValue(cmd.Context(), rt, h, timeout)
			if err != nil {
				printErr(cmd, "put sent, no readback: %v", err)
				return nil
			}
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), readback.String())
			return nil
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultWaitTimeout, "how long to wait for the value and its readback")
	return cmd
}

func startForPV(ctx context.Context, g *globalFlags, arg string) (*app.Runtime, *pv.Handle, error) {
	opts, err := g.options([]string{arg})
	if err != nil {
		return nil, nil, err
	}
	opts.NoArchive = true
	return startRuntime(ctx, opts)
}

// startRuntime starts a runtime for exactly one command line PV and returns
// its handle.
func startRuntime(ctx context.Context, opts app.Options) (*app.Runtime, *pv.Handle, error) {
	rt, err := app.Initialize(ctx, opts)
	if err != nil {
		return nil, nil, err
	}
	h, err := rt.Registry.Get(opts.PVs[0].Name)
	if err != nil {
		_ = rt.Close()
		return nil, nil, err
	}
	return rt, h, nil
}

func firstValue(ctx context.Context, rt *app.Runtime, h *pv.Handle, timeout time.Duration) (pv.Value, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	return rt.FirstValue(ctx, h)
}

func newHistoryCommand() *cobra.Command {
	var (
		limit       int
		transitions bool
		wipe        bool
	)
	cmd := &cobra.Command{
		Use:   "history [pv]",
		Short: "Print archived samples",
		Long: `History reads the local archive. Without a PV it lists the archived
names. With --events it prints connect and disconnect transitions
instead of samples.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, err := app.ResolvePaths()
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			db, err := persistence.Open(ctx, paths.DBFile)
			if err != nil {
				return err
			}
			defer func() { _ = db.Close() }()

			out := cmd.OutOrStdout()
			switch {
			case wipe:
				if err := persistence.ClearDatabase(ctx, db); err != nil {
					return err
				}
				printErr(cmd, "archive cleared: %s", paths.DBFile)
				return nil
			case len(args) == 0:
				names, err := persistence.NewSampleRepo(db).Names(ctx)
				if err != nil {
					return err
				}
				for _, name := range names {
					_, _ = fmt.Fprintln(out, name)
				}
				return nil
			case transitions:
				list, err := persistence.NewChannelEventRepo(db).ListRecent(ctx, args[0], limit)
				if err != nil {
					return err
				}
				for _, ev := range list {
					state := "disconnected"
					if ev.Connected {
						state = "connected"
					}
					_, _ = fmt.Fprintf(out, "%s %s\n", ev.Timestamp.Local().Format(timestampLayout), state)
				}
				return nil
			default:
				samples, err := persistence.NewSampleRepo(db).ListRecent(ctx, args[0], limit)
				if err != nil {
					return err
				}
				for _, s := range samples {
					_, _ = fmt.Fprintf(out, "%s %s %s\n", s.Timestamp.Local().Format(timestampLayout), s.Kind, s.Text)
				}
				return nil
			}
		},
	}
	cmd.Flags().IntVar(&limit, "limit", app.DefaultHistoryLimit, "maximum number of rows")
	cmd.Flags().BoolVar(&transitions, "events", false, "print connection transitions")
	cmd.Flags().BoolVar(&wipe, "clear", false, "delete every archived row")
	return cmd
}

func newVersionCommand() *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, app.CurrentBuild().String())
			if !check {
				return nil
			}

			checker := app.NewUpdateChecker(app.UpdateCheckerConfig{CurrentVersion: app.BuildVersion()})
			status, err := checker.Check(cmd.Context())
			if err != nil {
				return fmt.Errorf("check for updates: %w", err)
			}
			if !status.Available {
				_, _ = fmt.Fprintf(out, "up to date (latest %s)\n", status.Latest.Version)
				return nil
			}
			_, _ = fmt.Fprintf(out, "update available: %s\n%s\n", status.Latest.Version, status.Latest.URL)
			return nil
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "query the release feed for a newer version")
	return cmd
}
