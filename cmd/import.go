package main

import (
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/intake"
	"github.com/sells-group/sales-agent/internal/model"
	"github.com/sells-group/sales-agent/internal/store"
	"github.com/sells-group/sales-agent/internal/territory"
)

var importPath string

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import a lead list (CSV, XLSX, or ftp:// URL)",
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

		importer := intake.NewImporter(cfg.Intake)

		var result *intake.ImportResult
		if strings.HasPrefix(importPath, "ftp://") {
			result, err = importer.ImportFTP(ctx, importPath)
		} else {
			result, err = importer.ImportFile(ctx, importPath)
		}
		if err != nil {
			return eris.Wrap(err, "import lead list")
		}

		annotated := 0
		if cfg.Territory.ShapefilePath != "" {
			assigner, err := territory.LoadShapefile(cfg.Territory.ShapefilePath, cfg.Territory.NameField)
			if err != nil {
				return eris.Wrap(err, "load territory boundaries")
			}
			annotated = annotateTerritories(assigner, result.Leads)
		}

		created := 0
		if bulk, ok := st.(store.BulkLeadWriter); ok {
			n, err := bulk.BulkInsertLeads(ctx, result.Leads)
			if err != nil {
				return eris.Wrap(err, "bulk insert leads")
			}
			created = int(n)
		} else {
			for i := range result.Leads {
				if err := st.CreateLead(ctx, &result.Leads[i]); err != nil {
					return eris.Wrapf(err, "create lead %s", result.Leads[i].CompanyName)
				}
				created++
			}
		}

		zap.L().Info("import complete",
			zap.String("source", importPath),
			zap.Int("created", created),
			zap.Int("annotated", annotated),
			zap.Int("skipped", result.Skipped),
		)
		return nil
	},
}

// annotateTerritories stamps each lead with the territory containing its
// coordinates. Leads without coordinates or outside every boundary are left
// untouched.
func annotateTerritories(a *territory.Assigner, leads []model.Lead) int {
	annotated := 0
	for i := range leads {
		if a.Annotate(&leads[i]) {
			annotated++
		}
	}
	return annotated
}

func init() {
	importCmd.Flags().StringVar(&importPath, "from", "", "lead list path or ftp:// URL (required)")
	_ = importCmd.MarkFlagRequired("from")
	rootCmd.AddCommand(importCmd)
}
