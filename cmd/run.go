package main

import (
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/store"
)

var (
	runLeadID string
	runLimit  int
	runSweep  bool
)

// runnablePhases are the phases the run command drives forward. Deferred
// leads re-enter through the sweep, not here.
var runnablePhases = []model.Phase{
	model.PhaseDiscovered,
	model.PhasePreQualifying,
	model.PhaseQualified,
	model.PhaseEngaging,
	model.PhaseBooked,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Advance active leads through the pipeline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initAgent(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		if runLeadID != "" {
			lead, err := env.Orchestrator.Process(ctx, runLeadID)
			if err != nil {
				return eris.Wrapf(err, "process lead %s", runLeadID)
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(lead)
		}

		var ids []string
		for _, phase := range runnablePhases {
			leads, err := env.Store.ListLeads(ctx, store.LeadFilter{Phase: phase, Limit: runLimit})
			if err != nil {
				return eris.Wrapf(err, "list %s leads", phase)
			}
			for _, l := range leads {
				ids = append(ids, l.ID)
			}
		}

		if len(ids) > 0 {
			if err := env.Orchestrator.ProcessBatch(ctx, ids); err != nil {
				return eris.Wrap(err, "process batch")
			}
		}
		zap.L().Info("run complete", zap.Int("leads_processed", len(ids)))

		if runSweep {
			since := time.Now().AddDate(0, 0, -cfg.Salesforce.OutcomeDays)
			res, err := env.Orchestrator.Sweep(ctx, since)
			if err != nil {
				return eris.Wrap(err, "sweep")
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVar(&runLeadID, "lead", "", "process a single lead by ID")
	runCmd.Flags().IntVar(&runLimit, "limit", 500, "maximum leads per phase")
	runCmd.Flags().BoolVar(&runSweep, "sweep", false, "run the maintenance sweep after processing")
	rootCmd.AddCommand(runCmd)
}
