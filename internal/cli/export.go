package cli

import (
	"fmt"
	"strings"

	"github.com/chainlesschain/skilltools/internal/daemon"
	"github.com/chainlesschain/skilltools/pkg/llmtools"
	"github.com/spf13/cobra"
)

func newExportCmd(opts *rootOptions) *cobra.Command {
	var (
		format string
		flags  listFlags
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export enabled tools as LLM tool specs",
		Long: `Export enabled tools as provider tool declarations. The json format is
provider neutral {name, description, input_schema}; anthropic and openai
render the SDK request parameter types.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter, err := flags.filter()
			if err != nil {
				return err
			}
			engine, err := opts.engine(daemon.EngineOptions{SkipHistory: true})
			if err != nil {
				return err
			}
			defer engine.Close()

			defs := llmtools.Exportable(engine.Registry, filter)
			out := cmd.OutOrStdout()
			switch strings.ToLower(format) {
			case "json", "":
				return printJSON(out, llmtools.Specs(defs))
			case "anthropic":
				return printJSON(out, llmtools.AnthropicTools(defs))
			case "openai":
				return printJSON(out, llmtools.OpenAITools(defs))
			default:
				return fmt.Errorf("unknown format %q: want json, anthropic or openai", format)
			}
		},
	}

	cmd.Flags().StringVar(&format, "format", "json", "json, anthropic or openai")
	cmd.Flags().StringVar(&flags.category, "category", "", "only tools in this category")
	cmd.Flags().StringVar(&flags.toolType, "type", "", "only tools of this tool_type")
	cmd.Flags().StringVar(&flags.permission, "permission", "", "only tools requiring this permission")
	cmd.Flags().StringVar(&flags.source, "source", "all", "builtin, custom or all")
	return cmd
}
