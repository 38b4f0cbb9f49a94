package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/spf13/cobra"

	"github.com/dkozyrev/smswatch/internal/watch"
)

// newStatusCmd creates the 'status' subcommand, an operator query
// against a running daemon's status endpoint.
func newStatusCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Queries a running watcher for its status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := resty.New().SetTimeout(5 * time.Second)

			var st watch.Status
			resp, err := client.R().
				SetContext(cmd.Context()).
				SetResult(&st).
				Get(addr + "/status")
			if err != nil {
				return fmt.Errorf("query status: %w", err)
			}
			if resp.IsError() {
				return fmt.Errorf("query status: %s", resp.Status())
			}

			out, err := json.MarshalIndent(st, "", "  ")
			if err != nil {
				return fmt.Errorf("render status: %w", err)
			}
			cmd.Println(string(out))
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "base URL of the running watcher")
	return cmd
}
