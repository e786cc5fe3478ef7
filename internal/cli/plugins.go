package cli

import (
	"fmt"
	"strings"

	"github.com/chainlesschain/skilltools/internal/daemon"
	"github.com/chainlesschain/skilltools/pkg/plugin"
	"github.com/spf13/cobra"
)

func newPluginsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plugins",
		Short: "Inspect handler plugins",
	}
	cmd.AddCommand(newPluginsListCmd(opts))
	return cmd
}

func newPluginsListCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Load the plugin directory and show what each plugin serves",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.engine(daemon.EngineOptions{SkipHistory: true})
			if err != nil {
				return err
			}
			defer engine.Close()

			out := cmd.OutOrStdout()
			if engine.Plugins == nil {
				fmt.Fprintln(out, "Plugins are disabled")
				return nil
			}

			records := engine.Plugins.Records()
			if asJSON {
				if records == nil {
					records = []plugin.Record{}
				}
				return printJSON(out, records)
			}
			if len(records) == 0 {
				fmt.Fprintf(out, "No plugins in %s\n", opts.cfg.Plugins.Dir)
				return nil
			}

			rows := make([][]string, 0, len(records))
			for _, r := range records {
				state := string(r.State)
				if r.State == plugin.StateLoaded {
					state = outcome(true)
				} else if r.State == plugin.StateFailed {
					state = failStyle.Render(state)
				}
				rows = append(rows, []string{r.ID, r.Version, state, strings.Join(r.Tools, ","), r.Error})
			}
			renderTable(out, []string{"ID", "VERSION", "STATE", "TOOLS", "ERROR"}, rows)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print records as JSON")
	return cmd
}
