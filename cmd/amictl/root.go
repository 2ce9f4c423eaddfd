package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dongle-server/dongle-server/internal/ami"
	"github.com/dongle-server/dongle-server/internal/config"
)

var version = "dev"

// options are the connection flags shared by every subcommand
type options struct {
	configFile string
	host       string
	port       int
	username   string
	secret     string
	timeout    time.Duration
	verbose    bool
	jsonOut    bool
}

func newRootCmd() *cobra.Command {
	opts := &options{}

	root := &cobra.Command{
		Use:           "amictl",
		Short:         "Query an Asterisk manager and its chan_dongle devices",
		Version:       version,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if opts.verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	f := root.PersistentFlags()
	f.StringVarP(&opts.configFile, "config", "c", "", "configuration file with an ami section")
	f.StringVar(&opts.host, "host", "127.0.0.1", "manager host")
	f.IntVar(&opts.port, "port", ami.DefaultPort, "manager port")
	f.StringVarP(&opts.username, "username", "u", "", "manager username")
	f.StringVarP(&opts.secret, "secret", "s", "", "manager secret")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline for the command")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "log session activity")
	f.BoolVar(&opts.jsonOut, "json", false, "print JSON instead of text")

	root.AddCommand(
		newCheckCmd(opts),
		newExecCmd(opts),
		newDevicesCmd(opts),
		newStateCmd(opts),
		newSMSCmd(opts),
		newUSSDCmd(opts),
		newParseCmd(opts),
		newHashPasswordCmd(),
	)
	return root
}

// sessionConfig merges the config file with the flags that were set
// explicitly.
func (o *options) sessionConfig(cmd *cobra.Command) (ami.Config, error) {
	cfg := ami.Config{Host: o.host, Port: o.port, Username: o.username, Secret: o.secret}

	if o.configFile != "" {
		fileCfg, err := config.Load(o.configFile)
		if err != nil {
			return ami.Config{}, err
		}
		cfg = fileCfg.AMI.SessionConfig()

		flags := cmd.Flags()
		if flags.Changed("host") {
			cfg.Host = o.host
		}
		if flags.Changed("port") {
			cfg.Port = o.port
		}
		if flags.Changed("username") {
			cfg.Username = o.username
		}
		if flags.Changed("secret") {
			cfg.Secret = o.secret
		}
	}
	return cfg, nil
}

// withSession connects, logs in, runs fn and logs off.
func (o *options) withSession(cmd *cobra.Command, fn func(ctx context.Context, s *ami.Session) error) error {
	cfg, err := o.sessionConfig(cmd)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), o.timeout)
	defer cancel()

	s := ami.NewSession(cfg)
	if err := s.Connect(ctx); err != nil {
		return err
	}
	defer s.Disconnect(context.Background())

	if err := s.Login(ctx, cfg.Username, cfg.Secret); err != nil {
		return err
	}
	return fn(ctx, s)
}

func printJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
