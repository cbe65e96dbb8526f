package intake

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/sales-agent/internal/config"
	"github.com/sells-group/sales-agent/internal/model"
)

// Importer turns lead-list files into discovered leads. Column headers map
// onto lead fields: a company-name column is required, a domain column is
// recognized, and every other column lands in the lead's raw attributes.
type Importer struct {
	cfg config.IntakeConfig
	ftp *FTPFetcher
	now func() time.Time
}

// ImportResult summarizes one list ingestion.
type ImportResult struct {
	Leads   []model.Lead
	Skipped int // rows with no usable company name
}

// NewImporter creates an Importer from intake config.
func NewImporter(cfg config.IntakeConfig) *Importer {
	return &Importer{
		cfg: cfg,
		ftp: NewFTPFetcher(FTPOptions{
			Timeout:  time.Duration(cfg.FTPTimeoutSecs) * time.Second,
			User:     cfg.FTPUser,
			Password: cfg.FTPPassword,
		}),
		now: time.Now,
	}
}

// WithNow fixes the importer clock for tests.
func (im *Importer) WithNow(fn func() time.Time) *Importer {
	im.now = fn
	return im
}

// ImportFile ingests a local CSV or XLSX lead list.
func (im *Importer) ImportFile(ctx context.Context, path string) (*ImportResult, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return im.importCSV(ctx, path)
	case ".xlsx":
		return im.importXLSX(path)
	default:
		return nil, eris.Errorf("intake: unsupported lead-list format %q", filepath.Ext(path))
	}
}

// ImportFTP downloads a lead list from an FTP drop into the temp dir and
// ingests it.
func (im *Importer) ImportFTP(ctx context.Context, ftpURL string) (*ImportResult, error) {
	tempDir := im.cfg.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	local := filepath.Join(tempDir, filepath.Base(ftpURL))

	n, err := im.ftp.DownloadToFile(ctx, ftpURL, local)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: download %s", ftpURL)
	}
	defer os.Remove(local)

	zap.L().Info("intake: lead list downloaded",
		zap.String("url", ftpURL),
		zap.Int64("bytes", n),
	)
	return im.ImportFile(ctx, local)
}

func (im *Importer) importCSV(ctx context.Context, path string) (*ImportResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "intake: open %s", path)
	}
	defer f.Close()

	headerCh := make(chan []string, 1)
	rowCh, errCh := StreamCSV(ctx, f, CSVOptions{
		HasHeader: true,
		HeaderCh:  headerCh,
		TrimSpace: true,
	})

	var header []string
	var rows [][]string
	for row := range rowCh {
		if header == nil {
			header = <-headerCh
		}
		rows = append(rows, row)
	}
	if err := <-errCh; err != nil {
		return nil, err
	}
	if header == nil {
		select {
		case header = <-headerCh:
		default:
			return nil, eris.Errorf("intake: %s has no header row", path)
		}
	}
	return im.buildLeads(header, rows), nil
}

func (im *Importer) importXLSX(path string) (*ImportResult, error) {
	header, rows, err := ReadXLSX(path, XLSXOptions{SheetName: im.cfg.SheetName})
	if err != nil {
		return nil, err
	}
	return im.buildLeads(header, rows), nil
}

func (im *Importer) buildLeads(header []string, rows [][]string) *ImportResult {
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = normalizeHeader(h)
	}

	res := &ImportResult{}
	now := im.now().UTC()
	for _, row := range rows {
		lead := model.Lead{
			ID:            "ld-" + uuid.New().String(),
			RawAttributes: make(map[string]any),
			Phase:         model.PhaseDiscovered,
			PhaseHistory: []model.PhaseChange{
				{Phase: model.PhaseDiscovered, Reason: "lead-list-import", Timestamp: now},
			},
			CreatedAt: now,
			UpdatedAt: now,
		}

		for i, cell := range row {
			if i >= len(cols) || cell == "" {
				continue
			}
			switch cols[i] {
			case "company", "company_name", "name":
				lead.CompanyName = cell
			case "domain", "website", "url":
				lead.Domain = normalizeDomain(cell)
			default:
				lead.RawAttributes[cols[i]] = coerceCell(cell)
			}
		}

		if lead.CompanyName == "" {
			res.Skipped++
			continue
		}
		res.Leads = append(res.Leads, lead)
	}

	zap.L().Info("intake: lead list parsed",
		zap.Int("leads", len(res.Leads)),
		zap.Int("skipped", res.Skipped),
	)
	return res
}

// normalizeHeader lower-snake-cases a column header so "Head Count" and
// "head_count" map to the same attribute path.
func normalizeHeader(h string) string {
	h = strings.TrimSpace(strings.ToLower(h))
	h = strings.ReplaceAll(h, " ", "_")
	h = strings.ReplaceAll(h, "-", "_")
	return h
}

func normalizeDomain(s string) string {
	s = strings.TrimSpace(strings.ToLower(s))
	s = strings.TrimPrefix(s, "https://")
	s = strings.TrimPrefix(s, "http://")
	s = strings.TrimPrefix(s, "www.")
	if i := strings.IndexByte(s, '/'); i >= 0 {
		s = s[:i]
	}
	return s
}

// coerceCell keeps spreadsheet numerics numeric so range criteria can match
// them without string parsing at scoring time.
func coerceCell(s string) any {
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return n
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}
