package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/sales-agent/internal/qualify"
	"github.com/sells-group/sales-agent/internal/scoring"
)

var qualifyLeadID string

var qualifyCmd = &cobra.Command{
	Use:   "qualify",
	Short: "Score and qualify one lead against the current profile (dry run)",
	Long:  "Evaluates a lead against the current ICP profile and framework and prints the verdict. Nothing is persisted and the lead's phase does not change.",
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
		framework, err := loadFramework()
		if err != nil {
			return err
		}

		lead, err := st.GetLead(ctx, qualifyLeadID)
		if err != nil {
			return eris.Wrapf(err, "get lead %s", qualifyLeadID)
		}

		profile := profiles.Current()
		res, err := scoring.Score(lead, profile)
		if err != nil {
			return eris.Wrap(err, "score lead")
		}
		verdict, err := qualify.Qualify(lead, res, profile, framework)
		if err != nil {
			return eris.Wrap(err, "qualify lead")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(verdict)
	},
}

func init() {
	qualifyCmd.Flags().StringVar(&qualifyLeadID, "lead", "", "lead ID (required)")
	_ = qualifyCmd.MarkFlagRequired("lead")
	rootCmd.AddCommand(qualifyCmd)
}
