package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/jonwraymond/sitesync/config"
)

// rootOptions holds flags shared by every command.
type rootOptions struct {
	configFile string
}

func (o *rootOptions) load(ctx context.Context) (*config.Manager, error) {
	var opts []config.Option
	if o.configFile != "" {
		opts = append(opts, config.WithFile(o.configFile))
	}
	m := config.NewManager(opts...)
	if err := m.Load(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "sitesync",
		Short:         "Construction project data sync",
		Long:          "sitesync serves projects, work items and daily logs over a cached, rate-limited JSON API, and syncs with it as a client.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configFile, "config", "c", "", "config file (default: sitesync.yaml in ., the user config dir or /etc/sitesync)")

	cmd.AddCommand(newServeCmd(opts))
	cmd.AddCommand(newListCmd(opts))
	cmd.AddCommand(newStatsCmd(opts))
	cmd.AddCommand(newCreateCmd(opts))
	cmd.AddCommand(newConfigCmd(opts))
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "sitesync %s\n", version)
			fmt.Fprintf(out, "commit: %s\n", commit)
			fmt.Fprintf(out, "built: %s\n", buildDate)
		},
	}
}

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with credentials redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			m, err := opts.load(cmd.Context())
			if err != nil {
				return err
			}
			if f := m.File(); f != "" {
				fmt.Fprintf(cmd.ErrOrStderr(), "# loaded from %s\n", f)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(m.Settings()); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
}
