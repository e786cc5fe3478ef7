package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/chainlesschain/skilltools/internal/config"
	"github.com/chainlesschain/skilltools/internal/daemon"
	"github.com/spf13/cobra"
)

// health is the body of the gateway's /healthz endpoint.
type health struct {
	Status     string `json:"status"`
	Tools      int    `json:"tools"`
	Generation uint64 `json:"generation"`
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		Long:  `Show whether the skilltools daemon is running and query its gateway health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.load("warn", false); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			pidFile := daemon.NewPIDFile(opts.cfg.DataDir)

			if !pidFile.IsRunning() {
				fmt.Fprintln(out, "Status: stopped")
				return nil
			}
			pid, err := pidFile.GetPID()
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "Status: running")
			fmt.Fprintf(out, "PID: %d\n", pid)

			ctx, cancel := context.WithTimeout(cmd.Context(), 3*time.Second)
			defer cancel()
			h, err := fetchHealth(ctx, opts.cfg)
			if err != nil {
				fmt.Fprintf(out, "Gateway: unreachable (%v)\n", err)
				return nil
			}
			fmt.Fprintf(out, "Gateway: %s\n", h.Status)
			fmt.Fprintf(out, "Tools: %d\n", h.Tools)
			fmt.Fprintf(out, "Registry generation: %d\n", h.Generation)
			return nil
		},
	}
}

func gatewayURL(cfg *config.Config, path string) string {
	host := cfg.Gateway.Host
	if host == "" || host == "0.0.0.0" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(cfg.Gateway.Port)) + path
}

func fetchHealth(ctx context.Context, cfg *config.Config) (*health, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, gatewayURL(cfg, "/healthz"), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %s", resp.Status)
	}
	var h health
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, fmt.Errorf("failed to decode health: %w", err)
	}
	return &h, nil
}
