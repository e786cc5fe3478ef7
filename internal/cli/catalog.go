package cli

import (
	"fmt"
	"io"
	"sort"

	"github.com/chainlesschain/skilltools/pkg/catalog"
	"github.com/chainlesschain/skilltools/pkg/registry"
	"github.com/chainlesschain/skilltools/pkg/tooldef"
	"github.com/spf13/cobra"
)

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Work with tool catalog files",
	}
	cmd.AddCommand(newCatalogCheckCmd(opts))
	return cmd
}

func newCatalogCheckCmd(opts *rootOptions) *cobra.Command {
	var examples bool

	cmd := &cobra.Command{
		Use:   "check [file...]",
		Short: "Validate catalog files without starting the daemon",
		Long: `Decode and register catalog files into a scratch registry holding the
builtin catalog, reporting every rejected entry. Without arguments the
configured custom tool directory is checked. With --examples each example's
params are also validated against its parameters schema; example mismatches
are reported but never fail the check.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load("warn", false); err != nil {
				return err
			}

			// Custom entries are checked against the builtin catalog for
			// collisions. The builtin report only matters without file args.
			reg := registry.New()
			var report catalog.Report
			if !opts.cfg.Catalog.SkipBuiltin {
				builtin, err := catalog.InstallBuiltins(reg)
				if err != nil {
					return err
				}
				if len(args) == 0 {
					report = builtin
				}
			}

			loader := catalog.NewLoader(reg)
			if len(args) == 0 {
				dirReport, err := loader.LoadDir(opts.cfg.Catalog.CustomDir)
				if err != nil {
					return err
				}
				report = mergeReports(report, dirReport)
			}
			for _, path := range args {
				fileReport, err := loader.LoadFile(path)
				if err != nil {
					return err
				}
				report = mergeReports(report, fileReport)
			}

			out := cmd.OutOrStdout()
			printReport(out, report)
			if examples {
				printExampleViolations(out, reg.List(registry.Filter{}))
			}
			if !report.OK() {
				return fmt.Errorf("%d catalog entries rejected", len(report.Rejected))
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&examples, "examples", false, "also validate documented examples")
	return cmd
}

func mergeReports(a, b catalog.Report) catalog.Report {
	a.Registered = append(a.Registered, b.Registered...)
	a.Replaced = append(a.Replaced, b.Replaced...)
	a.Rejected = append(a.Rejected, b.Rejected...)
	return a
}

func printReport(w io.Writer, report catalog.Report) {
	fmt.Fprintf(w, "registered: %d\n", len(report.Registered))
	if len(report.Replaced) > 0 {
		fmt.Fprintf(w, "replaced: %d\n", len(report.Replaced))
	}
	fmt.Fprintf(w, "rejected: %d\n", len(report.Rejected))
	for _, rej := range report.Rejected {
		id := rej.ID
		if id == "" {
			id = "<no id>"
		}
		fmt.Fprintf(w, "  %s[%d] %s: %s\n", rej.Source, rej.Index, id, rej.Reason)
	}
}

func printExampleViolations(w io.Writer, defs []*tooldef.ToolDefinition) {
	total := 0
	for _, def := range defs {
		violations := tooldef.ExampleViolations(def)
		if len(violations) == 0 {
			continue
		}
		indexes := make([]int, 0, len(violations))
		for i := range violations {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		for _, i := range indexes {
			total++
			fmt.Fprintf(w, "example %s[%d]: %v\n", def.ID, i, violations[i])
		}
	}
	fmt.Fprintf(w, "example mismatches: %d\n", total)
}
