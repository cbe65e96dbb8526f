package main

import (
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/icp"
)

var (
	icpInitFile        string
	icpShowVersion     int
	icpShowHistory     bool
	icpRollbackVersion int
)

var icpCmd = &cobra.Command{
	Use:   "icp",
	Short: "Inspect and manage the ICP profile",
}

var icpShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the current (or a historical) profile version",
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

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		if icpShowHistory {
			return enc.Encode(profiles.History())
		}
		if icpShowVersion > 0 {
			p, ok := profiles.Version(icpShowVersion)
			if !ok {
				return eris.Errorf("profile version %d not found", icpShowVersion)
			}
			return enc.Encode(p)
		}
		return enc.Encode(profiles.Current())
	},
}

var icpInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Seed or replace the profile from a YAML definition",
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

		seed, err := icp.LoadProfileFile(icpInitFile)
		if err != nil {
			return err
		}

		history, err := st.ListProfileVersions(ctx)
		if err != nil {
			return eris.Wrap(err, "list profile versions")
		}

		if len(history) == 0 {
			if err := st.SaveProfileVersion(ctx, seed); err != nil {
				return eris.Wrap(err, "save seed profile")
			}
			zap.L().Info("icp profile seeded",
				zap.String("profile_id", seed.ID),
				zap.Int("criteria", len(seed.Criteria)),
			)
			return nil
		}

		// An existing history means this is an operator edit, which lands
		// as a new version so rollback stays possible.
		profiles, err := loadProfiles(ctx, st)
		if err != nil {
			return err
		}
		next, err := profiles.Replace(ctx, seed.Criteria)
		if err != nil {
			return err
		}
		zap.L().Info("icp profile replaced",
			zap.Int("version", next.Version),
			zap.Int("criteria", len(next.Criteria)),
		)
		return nil
	},
}

var icpRollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Roll the profile back to an earlier version",
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

		next, err := profiles.Rollback(ctx, icpRollbackVersion)
		if err != nil {
			return err
		}
		zap.L().Info("icp profile rolled back",
			zap.Int("to_version", icpRollbackVersion),
			zap.Int("new_version", next.Version),
		)
		return nil
	},
}

func init() {
	icpShowCmd.Flags().IntVar(&icpShowVersion, "version", 0, "show a specific version")
	icpShowCmd.Flags().BoolVar(&icpShowHistory, "history", false, "show the full version history")

	icpInitCmd.Flags().StringVar(&icpInitFile, "file", "", "path to profile YAML (required)")
	_ = icpInitCmd.MarkFlagRequired("file")

	icpRollbackCmd.Flags().IntVar(&icpRollbackVersion, "version", 0, "version to restore (required)")
	_ = icpRollbackCmd.MarkFlagRequired("version")

	icpCmd.AddCommand(icpShowCmd, icpInitCmd, icpRollbackCmd)
	rootCmd.AddCommand(icpCmd)
}
