package cli

import (
	"fmt"

	"github.com/chainlesschain/skilltools/internal/daemon"
	"github.com/spf13/cobra"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	var port int

	cmd := &cobra.Command{
		Use:     "serve",
		Aliases: []string{"start"},
		Short:   "Run the gateway daemon in the foreground",
		Long: `Run the skilltools daemon. The daemon installs the builtin catalog,
loads custom tools from the catalog directory and watches it for changes,
prunes invocation history on schedule, and serves the JSON-RPC gateway until
SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load("", true); err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				opts.cfg.Gateway.Port = port
			}
			if err := opts.cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			d, err := daemon.New(opts.cfg, opts.log)
			if err != nil {
				return fmt.Errorf("failed to create daemon: %w", err)
			}
			if err := d.Start(); err != nil {
				return fmt.Errorf("failed to start daemon: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "skilltools %s serving on %s\n", daemon.Version, d.GetGatewayServer().Addr())
			d.Wait()
			return nil
		},
	}

	cmd.Flags().IntVar(&port, "port", 0, "override gateway.port")
	return cmd
}
