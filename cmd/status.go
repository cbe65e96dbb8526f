package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sales-agent/internal/monitoring"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print a pipeline metrics snapshot",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		collector := monitoring.NewCollector(st, cfg.Orchestrator.StaleDeferredAge())
		snap, err := collector.Collect(ctx, cfg.Monitoring.LookbackWindowHours)
		if err != nil {
			return eris.Wrap(err, "collect metrics")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
