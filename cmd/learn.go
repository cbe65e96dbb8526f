package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/icp"
	"github.com/sells-group/sales-agent/internal/learning"
	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/store"
)

var (
	learnDays   int
	learnDryRun bool
)

var learnCmd = &cobra.Command{
	Use:   "learn",
	Short: "Run a learning cycle over recorded outcomes",
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

		profiles, err := loadProfiles(ctx, st)
		if err != nil {
			return err
		}

		engine := learning.NewEngine(profiles, st, st, cfg.Learning, learning.WithOutcomeMarker(st))

		// Only outcomes no completed cycle has consumed yet; re-listing an
		// already-applied outcome would re-apply its drift.
		since := time.Now().AddDate(0, 0, -learnDays)
		outcomes, err := st.ListUnevaluatedOutcomes(ctx, since)
		if err != nil {
			return eris.Wrap(err, "list outcomes")
		}
		for _, o := range outcomes {
			if err := engine.Ingest(o); err != nil {
				zap.L().Warn("skipping outcome",
					zap.String("outcome_id", o.ID),
					zap.Error(err),
				)
			}
		}

		var suggestions []*model.LearningSuggestion
		if learnDryRun {
			suggestions, err = engine.Evaluate(ctx)
		} else {
			suggestions, err = engine.RunCycle(ctx)
		}
		if err != nil {
			return eris.Wrap(err, "learning cycle")
		}

		zap.L().Info("learning cycle finished",
			zap.Int("outcomes", len(outcomes)),
			zap.Int("suggestions", len(suggestions)),
			zap.Bool("dry_run", learnDryRun),
		)

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(suggestions)
	},
}

var errSuggestionNotProposed = eris.New("suggestion is not proposed")

// applySuggestion commits a proposed suggestion on operator approval and
// persists its status change.
func applySuggestion(ctx context.Context, st store.Store, profiles *icp.Store, id string) (*model.ICPProfile, error) {
	suggestions, err := st.ListSuggestions(ctx, "")
	if err != nil {
		return nil, eris.Wrap(err, "list suggestions")
	}
	for i := range suggestions {
		sg := &suggestions[i]
		if sg.ID != id {
			continue
		}
		if sg.Status != model.SuggestionProposed {
			return nil, eris.Wrapf(errSuggestionNotProposed, "suggestion %s is %s", id, sg.Status)
		}
		profile, err := profiles.CommitManual(ctx, sg)
		if err != nil {
			return nil, err
		}
		if err := st.SaveSuggestion(ctx, sg); err != nil {
			return nil, eris.Wrap(err, "persist suggestion status")
		}
		return profile, nil
	}
	return nil, eris.Wrapf(store.ErrNotFound, "suggestion %s", id)
}

var learnApplyCmd = &cobra.Command{
	Use:   "apply <suggestion-id>",
	Short: "Apply a proposed suggestion as a new profile version",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		if err := st.Migrate(ctx); err != nil {
			return eris.Wrap(err, "migrate store")
		}

		profiles, err := loadProfiles(ctx, st)
		if err != nil {
			return err
		}

		profile, err := applySuggestion(ctx, st, profiles, args[0])
		if err != nil {
			return err
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(profile)
	},
}

func init() {
	learnCmd.Flags().IntVar(&learnDays, "days", 30, "outcome lookback window in days")
	learnCmd.Flags().BoolVar(&learnDryRun, "dry-run", false, "evaluate without applying or persisting suggestions")
	learnCmd.AddCommand(learnApplyCmd)
	rootCmd.AddCommand(learnCmd)
}
