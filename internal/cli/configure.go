package cli

import (
	"fmt"

	"github.com/chainlesschain/skilltools/internal/config"
	"github.com/spf13/cobra"
)

func newConfigureCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "configure",
		Short: "Run interactive configuration wizard",
		Long: `Run an interactive configuration wizard. It asks for the gateway port
and secret, the custom tool directory, history retention and log level, then
writes the config file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			wizard := config.NewWizard(cmd.InOrStdin(), cmd.OutOrStdout())
			cfg, err := wizard.Run()
			if err != nil {
				return fmt.Errorf("configuration failed: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}

			loader := config.NewLoader(opts.cfgFile)
			if err := loader.Save(cfg); err != nil {
				return fmt.Errorf("failed to save configuration: %w", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "\nConfiguration saved to: %s\n", loader.GetConfigPath())
			fmt.Fprintln(out, "\nYou can now start skilltools with: skilltools serve")
			return nil
		},
	}
}
