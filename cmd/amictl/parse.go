package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dongle-server/dongle-server/internal/dongle"
	"github.com/dongle-server/dongle-server/pkg/crypto"
)

func newParseCmd(opts *options) *cobra.Command {
	parse := &cobra.Command{
		Use:   "parse",
		Short: "Parse captured console output read from stdin",
		Long: `Parse captured chan_dongle output without connecting to a manager.

The input may be a full AMI response or the bare console text.`,
	}

	parse.AddCommand(&cobra.Command{
		Use:   "devices",
		Short: "Parse dongle show devices output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			devices, warnings := dongle.ParseDeviceList(string(raw))
			printWarnings(cmd, warnings)
			return printDevices(cmd, opts, devices)
		},
	})

	parse.AddCommand(&cobra.Command{
		Use:   "state",
		Short: "Parse dongle show device state output",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			state, warnings := dongle.ParseDeviceState(string(raw))
			printWarnings(cmd, warnings)
			return printState(cmd, opts, state)
		},
	})

	return parse
}

func newHashPasswordCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password <password>",
		Short: "Print a bcrypt hash for the users section of the config",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash, err := crypto.HashPassword(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hash)
			return nil
		},
	}
}
