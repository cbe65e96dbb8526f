package main

import (
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var outcomesDays int

var outcomesCmd = &cobra.Command{
	Use:   "outcomes",
	Short: "Deal outcome operations",
}

var outcomesSyncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull closed-deal outcomes from the CRM",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		if cfg.Salesforce.ClientID == "" {
			return eris.New("salesforce is not configured (SALESAGENT_SALESFORCE_CLIENT_ID)")
		}

		env, err := initAgent(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		days := outcomesDays
		if days <= 0 {
			days = cfg.Salesforce.OutcomeDays
		}
		since := time.Now().AddDate(0, 0, -days)

		res, err := env.Orchestrator.Sweep(ctx, since)
		if err != nil {
			return eris.Wrap(err, "outcome sync")
		}

		zap.L().Info("outcome sync complete",
			zap.Int("outcomes_synced", res.OutcomesSynced),
			zap.Int("deferred_processed", res.DeferredProcessed),
			zap.Int("booked_retried", res.BookedRetried),
		)
		return nil
	},
}

func init() {
	outcomesSyncCmd.Flags().IntVar(&outcomesDays, "days", 0, "lookback window in days (default from config)")
	outcomesCmd.AddCommand(outcomesSyncCmd)
	rootCmd.AddCommand(outcomesCmd)
}
