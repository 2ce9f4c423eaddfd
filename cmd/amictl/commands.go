package main

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/dongle"
)

func newCheckCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Log in and run core show version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, s *ami.Session) error {
				res, err := s.CheckVersion(ctx)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if opts.jsonOut {
					return printJSON(out, map[string]string{
						"banner":  s.Banner(),
						"version": dongle.ParseVersion(res.Raw),
					})
				}
				fmt.Fprintf(out, "banner:  %s\nversion: %s\n", s.Banner(), dongle.ParseVersion(res.Raw))
				return nil
			})
		},
	}
}

func newExecCmd(opts *options) *cobra.Command {
	var raw bool
	cmd := &cobra.Command{
		Use:   "exec <command...>",
		Short: "Run a console command and print its output",
		Example: `  amictl exec core show channels
  amictl exec --raw dongle show devices`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.Join(args, " ")
			return opts.withSession(cmd, func(ctx context.Context, s *ami.Session) error {
				res, err := s.Execute(ctx, command)
				if err != nil {
					return err
				}
				return printResult(cmd, opts, res, raw)
			})
		},
	}
	cmd.Flags().BoolVar(&raw, "raw", false, "print the whole response frame")
	return cmd
}

func newDevicesCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List chan_dongle devices",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return opts.withSession(cmd, func(ctx context.Context, s *ami.Session) error {
				res, err := s.Execute(ctx, dongle.CmdShowDevices)
				if err != nil {
					return err
				}
				if dongle.IsErrorResponse(res.Raw) {
					return fmt.Errorf("command rejected: %s", res.Response().Message())
				}
				devices, warnings := dongle.ParseDeviceList(res.Raw)
				printWarnings(cmd, warnings)
				return printDevices(cmd, opts, devices)
			})
		},
	}
}

func newStateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "state <dongle-id>",
		Short: "Show the state dump of one device",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := dongle.ShowDeviceState(args[0])
			if err != nil {
				return err
			}
			return opts.withSession(cmd, func(ctx context.Context, s *ami.Session) error {
				res, err := s.Execute(ctx, command)
				if err != nil {
					return err
				}
				if dongle.IsErrorResponse(res.Raw) {
					return fmt.Errorf("command rejected: %s", res.Response().Message())
				}
				state, warnings := dongle.ParseDeviceState(res.Raw)
				printWarnings(cmd, warnings)
				return printState(cmd, opts, state)
			})
		},
	}
}

func newSMSCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "sms <dongle-id> <number> <text...>",
		Short: "Send an SMS through a device",
		Args:  cobra.MinimumNArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := dongle.SendSMS(args[0], args[1], strings.Join(args[2:], " "))
			if err != nil {
				return err
			}
			return runMessage(cmd, opts, command)
		},
	}
}

func newUSSDCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "ussd <dongle-id> <code>",
		Short: "Send a USSD code through a device",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			command, err := dongle.SendUSSD(args[0], args[1])
			if err != nil {
				return err
			}
			return runMessage(cmd, opts, command)
		},
	}
}

func runMessage(cmd *cobra.Command, opts *options, command string) error {
	return opts.withSession(cmd, func(ctx context.Context, s *ami.Session) error {
		res, err := s.Execute(ctx, command)
		if err != nil {
			return err
		}
		if dongle.IsErrorResponse(res.Raw) {
			return fmt.Errorf("command rejected: %s", res.Response().Message())
		}
		return printResult(cmd, opts, res, false)
	})
}

func printResult(cmd *cobra.Command, opts *options, res ami.Result, raw bool) error {
	out := cmd.OutOrStdout()
	switch {
	case opts.jsonOut:
		return printJSON(out, map[string]interface{}{
			"raw":      res.Raw,
			"output":   dongle.CommandOutput(res.Raw),
			"complete": res.Complete,
		})
	case raw:
		fmt.Fprint(out, res.Raw)
	default:
		for _, line := range dongle.CommandOutput(res.Raw) {
			fmt.Fprintln(out, line)
		}
	}
	return nil
}

func printDevices(cmd *cobra.Command, opts *options, devices []dongle.Device) error {
	out := cmd.OutOrStdout()
	if opts.jsonOut {
		return printJSON(out, devices)
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATE\tSIGNAL\tPROVIDER\tIMEI\tNUMBER")
	for _, d := range devices {
		sig := dongle.ParseSignal(d.RSSIRaw)
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n", d.DongleID, d.State, sig, d.Provider, d.IMEI, d.Number)
	}
	return tw.Flush()
}

func printState(cmd *cobra.Command, opts *options, state dongle.State) error {
	out := cmd.OutOrStdout()
	sig := state.Signal()
	if opts.jsonOut {
		return printJSON(out, map[string]interface{}{
			"values":  state,
			"signal":  sig,
			"quality": dongle.Quality(sig),
		})
	}

	keys := make([]string, 0, len(state))
	for k := range state {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, k := range keys {
		fmt.Fprintf(tw, "%s\t%s\n", k, state[k])
	}
	fmt.Fprintf(tw, "signal\t%s (%s)\n", sig, dongle.Quality(sig))
	return tw.Flush()
}

func printWarnings(cmd *cobra.Command, warnings []dongle.ParseWarning) {
	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w.String())
	}
}
