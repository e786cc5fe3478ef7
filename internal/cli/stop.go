package cli

import (
	"fmt"
	"syscall"
	"time"

	"github.com/chainlesschain/skilltools/internal/daemon"
	"github.com/spf13/cobra"
)

func newStopCmd(opts *rootOptions) *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the skilltools daemon",
		Long: `Stop the skilltools daemon gracefully.
Sends SIGTERM to the daemon and waits for it to shut down, then SIGKILL.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load("warn", false); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pidFile := daemon.NewPIDFile(opts.cfg.DataDir)

			if !pidFile.IsRunning() {
				_ = pidFile.Stop()
				fmt.Fprintln(out, "Daemon is not running")
				return nil
			}
			if err := pidFile.Signal(syscall.SIGTERM); err != nil {
				return fmt.Errorf("failed to send SIGTERM: %w", err)
			}

			deadline := time.Now().Add(timeout)
			for time.Now().Before(deadline) {
				if !pidFile.IsRunning() {
					fmt.Fprintln(out, "Daemon stopped successfully")
					return nil
				}
				time.Sleep(100 * time.Millisecond)
			}

			fmt.Fprintln(out, "Timeout reached, sending SIGKILL...")
			if err := pidFile.Signal(syscall.SIGKILL); err != nil {
				return fmt.Errorf("failed to send SIGKILL: %w", err)
			}
			_ = pidFile.Stop()
			fmt.Fprintln(out, "Daemon killed")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 30*time.Second, "how long to wait for the daemon to stop")
	return cmd
}
