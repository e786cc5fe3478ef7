package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chainlesschain/skilltools/internal/daemon"
	"github.com/chainlesschain/skilltools/internal/tracing"
	"github.com/chainlesschain/skilltools/pkg/risk"
	"github.com/chainlesschain/skilltools/pkg/toolexecutor"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type invokeFlags struct {
	args        string
	argsFile    string
	grants      []string
	confirm     bool
	elevated    bool
	interactive bool
	timeout     time.Duration
	actor       string
}

// InvocationError is returned when a tool ran through the executor but did
// not succeed. The envelope has already been printed.
type InvocationError struct {
	Tool string
	Kind toolexecutor.ErrorKind
	Msg  string
}

func (e *InvocationError) Error() string {
	return fmt.Sprintf("%s failed (%s): %s", e.Tool, e.Kind, e.Msg)
}

func newInvokeCmd(opts *rootOptions) *cobra.Command {
	var flags invokeFlags

	cmd := &cobra.Command{
		Use:   "invoke <tool>",
		Short: "Invoke a tool and print its result envelope",
		Long: `Invoke a tool by id or name. Arguments are a JSON object given with
--args or read from --args-file (JSON or YAML). Grants are exact permission
strings. Risk level 3 needs --confirm and levels 4-5 need --elevated, unless
--interactive prompts for approval on the terminal.`,
		Example: `  skilltools invoke tool_hash_calculator --args '{"data":"hello","algorithm":"sha256"}'
  skilltools invoke tool_file_deleter --args-file args.yaml --grant file:write --elevated`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := readArgs(flags)
			if err != nil {
				return err
			}

			var eo daemon.EngineOptions
			if flags.interactive {
				eo.Approvals = toolexecutor.NewApprovalManager(
					toolexecutor.NewCLIApprovalHandler(cmd.InOrStdin(), cmd.ErrOrStderr()),
				)
			}
			engine, err := opts.engine(eo)
			if err != nil {
				return err
			}
			defer engine.Close()
			if eo.Approvals != nil {
				eo.Approvals.SetDefaultTimeout(opts.cfg.Executor.ApprovalTimeout())
			}

			ic := &toolexecutor.InvocationContext{
				Granted:  flags.grants,
				Approval: risk.Approval{Confirmed: flags.confirm, Elevated: flags.elevated},
				Timeout:  flags.timeout,
				Actor:    flags.actor,
			}

			ctx := cmd.Context()
			ctx = tracing.WithTraceID(ctx, tracing.NewTraceID())
			ctx = tracing.WithActor(ctx, flags.actor)

			res := engine.Executor.Invoke(ctx, args[0], toolArgs, ic)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return &InvocationError{Tool: args[0], Kind: res.Kind, Msg: res.Error}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&flags.args, "args", "", "arguments as a JSON object")
	cmd.Flags().StringVar(&flags.argsFile, "args-file", "", "read arguments from a JSON or YAML file")
	cmd.Flags().StringSliceVar(&flags.grants, "grant", nil, "granted permission (repeatable)")
	cmd.Flags().BoolVar(&flags.confirm, "confirm", false, "confirm a risk level 3 tool")
	cmd.Flags().BoolVar(&flags.elevated, "elevated", false, "approve a risk level 4-5 tool")
	cmd.Flags().BoolVar(&flags.interactive, "interactive", false, "prompt for approval instead of failing")
	cmd.Flags().DurationVar(&flags.timeout, "timeout", 0, "timeout for tools that set none")
	cmd.Flags().StringVar(&flags.actor, "actor", "cli", "caller recorded in audit and history")
	cmd.MarkFlagsMutuallyExclusive("args", "args-file")
	return cmd
}

func readArgs(flags invokeFlags) (map[string]any, error) {
	out := map[string]any{}
	switch {
	case flags.args != "":
		if err := json.Unmarshal([]byte(flags.args), &out); err != nil {
			return nil, fmt.Errorf("--args must be a JSON object: %w", err)
		}
	case flags.argsFile != "":
		data, err := os.ReadFile(flags.argsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read args file: %w", err)
		}
		switch strings.ToLower(filepath.Ext(flags.argsFile)) {
		case ".yaml", ".yml":
			err = yaml.Unmarshal(data, &out)
		default:
			err = json.Unmarshal(data, &out)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", flags.argsFile, err)
		}
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}
