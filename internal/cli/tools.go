package cli

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/chainlesschain/skilltools/internal/daemon"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/spf13/cobra"
)

type listFlags struct {
	category   string
	toolType   string
	permission string
	enabled    bool
	source     string
	asJSON     bool
}

func (f listFlags) filter() (registry.Filter, error) {
	filter := registry.Filter{
		Category:    f.category,
		ToolType:    f.toolType,
		Permission:  f.permission,
		EnabledOnly: f.enabled,
	}
	switch strings.ToLower(f.source) {
	case "", "all":
	case "builtin":
		filter.BuiltinOnly = true
	case "custom":
		filter.CustomOnly = true
	default:
		return filter, fmt.Errorf("invalid --source %q: want builtin, custom or all", f.source)
	}
	return filter, nil
}

func newToolsCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool registry",
	}
	cmd.AddCommand(newToolsListCmd(opts), newToolsShowCmd(opts), newToolsCategoriesCmd(opts))
	return cmd
}

func newToolsListCmd(opts *rootOptions) *cobra.Command {
	var flags listFlags

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List registered tools",
		Args:  cobra.NoArgs,
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

			defs := engine.Registry.List(filter)
			out := cmd.OutOrStdout()
			if flags.asJSON {
				return printJSON(out, defs)
			}

			bound := make(map[string]bool)
			for _, id := range engine.Handlers.Bound() {
				bound[id] = true
			}

			rows := make([][]string, 0, len(defs))
			for _, def := range defs {
				rows = append(rows, []string{
					def.ID,
					def.Name,
					def.Category,
					strconv.Itoa(int(def.RiskLevel)),
					yesNo(def.Enabled),
					yesNo(bound[def.ID]),
					strings.Join(def.RequiredPermissions, ","),
				})
			}
			renderTable(out, []string{"ID", "NAME", "CATEGORY", "RISK", "ENABLED", "HANDLER", "PERMISSIONS"}, rows)
			fmt.Fprintf(out, "%d tools\n", len(defs))
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.category, "category", "", "only tools in this category")
	cmd.Flags().StringVar(&flags.toolType, "type", "", "only tools of this tool_type")
	cmd.Flags().StringVar(&flags.permission, "permission", "", "only tools requiring this permission")
	cmd.Flags().BoolVar(&flags.enabled, "enabled", false, "only enabled tools")
	cmd.Flags().StringVar(&flags.source, "source", "all", "builtin, custom or all")
	cmd.Flags().BoolVar(&flags.asJSON, "json", false, "print definitions as JSON")
	return cmd
}

func newToolsShowCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id-or-name>",
		Short: "Print one tool definition as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.engine(daemon.EngineOptions{SkipHistory: true})
			if err != nil {
				return err
			}
			defer engine.Close()

			def, ok := engine.Registry.Get(args[0])
			if !ok {
				return fmt.Errorf("tool %q: %w", args[0], registry.ErrNotFound)
			}
			return printJSON(cmd.OutOrStdout(), def)
		},
	}
}

func newToolsCategoriesCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "categories",
		Short: "Count tools per category",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := opts.engine(daemon.EngineOptions{SkipHistory: true})
			if err != nil {
				return err
			}
			defer engine.Close()

			counts := engine.Registry.Categories()
			names := make([]string, 0, len(counts))
			for name := range counts {
				names = append(names, name)
			}
			sort.Strings(names)

			out := cmd.OutOrStdout()
			for _, name := range names {
				fmt.Fprintf(out, "%-16s %d\n", name, counts[name])
			}
			return nil
		},
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
