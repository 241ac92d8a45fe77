package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/kadirpekel/finrag/pkg/config"
	"github.com/kadirpekel/finrag/pkg/document"
	"github.com/kadirpekel/finrag/pkg/finance"
	"github.com/kadirpekel/finrag/pkg/retrieval"
)

// Data types accepted by integrate_data.
const (
	DataDocuments   = "documents"
	DataBankReports = "bank_reports"
	DataMacro       = "macro_data"
	DataPolicy      = "policy_files"
)

// IntegrationRequest selects what to load. Paths is used by the documents
// type; the other types scan their configured directory and may be narrowed
// by bank name and year.
type IntegrationRequest struct {
	DataType  string   `json:"data_type"`
	Paths     []string `json:"paths,omitempty"`
	BankNames []string `json:"bank_names,omitempty"`
	Years     []int    `json:"years,omitempty"`
}

// IntegrationResult reports what was loaded.
type IntegrationResult struct {
	DataType   string   `json:"data_type"`
	Files      int      `json:"files"`
	Documents  int      `json:"documents"`
	Chunks     int      `json:"chunks"`
	Indicators int      `json:"indicators"`
	Failed     []string `json:"failed,omitempty"`
}

// IntegrationService parses source files, indexes their text and records
// any figures found in their tables.
type IntegrationService struct {
	cfg        config.ServicesConfig
	ingester   Ingester
	indicators *Indicators
	vocab      *finance.Vocabulary
	parsers    *document.Registry
}

func NewIntegrationService(cfg config.ServicesConfig, ingester Ingester, indicators *Indicators, vocab *finance.Vocabulary) *IntegrationService {
	if vocab == nil {
		vocab = finance.Default()
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	return &IntegrationService{
		cfg:        cfg,
		ingester:   ingester,
		indicators: indicators,
		vocab:      vocab,
		parsers:    document.NewRegistry(),
	}
}

// Integrate loads one batch. Files that fail to parse are listed in the
// result and do not fail the batch.
func (s *IntegrationService) Integrate(ctx context.Context, req IntegrationRequest) (*IntegrationResult, error) {
	if s.ingester == nil {
		return nil, errors.New("no ingester configured")
	}

	var (
		paths []string
		meta  = map[string]any{"data_type": req.DataType}
		err   error
	)
	switch req.DataType {
	case DataDocuments:
		if len(req.Paths) == 0 {
			return nil, fmt.Errorf("%w: paths are required for %s", ErrInvalidArgument, DataDocuments)
		}
		paths, err = s.expand(ctx, req.Paths)
	case DataBankReports:
		paths, err = s.scan(ctx, s.cfg.BankReportsDir, req.DataType)
		paths = s.filter(paths, req.BankNames, req.Years)
	case DataMacro:
		paths, err = s.scan(ctx, s.cfg.MacroDataDir, req.DataType)
		paths = s.filter(paths, nil, req.Years)
		meta["company"] = MacroCompany
		meta["category"] = "macro"
	case DataPolicy:
		paths, err = s.scan(ctx, s.cfg.PolicyFilesDir, req.DataType)
		meta["knowledge_base"] = "credit_policy"
	default:
		return nil, fmt.Errorf("%w: unknown data type %q", ErrInvalidArgument, req.DataType)
	}
	if err != nil {
		return nil, err
	}

	res := &IntegrationResult{DataType: req.DataType, Files: len(paths)}
	parsed := make([]*document.Parsed, len(paths))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i, path := range paths {
		g.Go(func() error {
			doc, err := s.parsers.Parse(gctx, path)
			if err != nil {
				slog.Warn("Skipping unreadable file", "path", path, "error", err)
				mu.Lock()
				res.Failed = append(res.Failed, path)
				mu.Unlock()
				return nil
			}
			parsed[i] = doc
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	slices.Sort(res.Failed)

	docs := make([]retrieval.IngestDocument, 0, len(parsed))
	for _, doc := range parsed {
		if doc == nil {
			continue
		}
		md := s.metadata(doc, meta)
		docs = append(docs, retrieval.IngestDocument{
			ID:       doc.Path,
			Source:   doc.Path,
			Content:  doc.Content,
			Metadata: md,
		})
		res.Indicators += s.recordTables(ctx, doc, md)
	}
	res.Documents = len(docs)
	if len(docs) == 0 {
		return res, nil
	}

	stats, err := s.ingester.Ingest(ctx, docs)
	res.Chunks = stats.Chunks
	if err != nil {
		return res, fmt.Errorf("ingest finished with errors: %w", err)
	}
	return res, nil
}

func (s *IntegrationService) expand(ctx context.Context, paths []string) ([]string, error) {
	var out []string
	for _, p := range paths {
		found, err := s.scan(ctx, p, DataDocuments)
		if err != nil {
			return nil, err
		}
		out = append(out, found...)
	}
	return out, nil
}

// scan lists supported files under root, or root itself when it is a file.
func (s *IntegrationService) scan(ctx context.Context, root, dataType string) ([]string, error) {
	if root == "" {
		return nil, fmt.Errorf("%w: no directory configured for %s", ErrInvalidArgument, dataType)
	}
	out, err := s.parsers.Files(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s: %w", root, err)
	}
	return out, nil
}

// filter keeps files whose names mention one of the banks and one of the years.
func (s *IntegrationService) filter(paths, banks []string, years []int) []string {
	if len(banks) == 0 && len(years) == 0 {
		return paths
	}
	var out []string
	for _, p := range paths {
		name := filepath.Base(p)
		if len(banks) > 0 {
			company := s.vocab.ExtractCompany(name)
			if !slices.ContainsFunc(banks, func(b string) bool {
				return strings.Contains(name, b) || (company != "" && s.vocab.CanonicalCompany(b) == company)
			}) {
				continue
			}
		}
		if len(years) > 0 && !slices.Contains(years, finance.ExtractYear(name)) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func (s *IntegrationService) metadata(doc *document.Parsed, base map[string]any) map[string]any {
	md := make(map[string]any, len(doc.Metadata)+len(base)+2)
	for k, v := range doc.Metadata {
		md[k] = v
	}
	for k, v := range base {
		md[k] = v
	}
	name := filepath.Base(doc.Path)
	if _, ok := md["company"]; !ok {
		if c := s.vocab.ExtractCompany(name); c != "" {
			md["company"] = c
		}
	}
	if y := finance.ExtractYear(name); y != 0 {
		md["year"] = y
	}
	return md
}

// recordTables stores figures from tables whose header row lists years and
// whose first column names a known indicator. It returns the number recorded.
func (s *IntegrationService) recordTables(ctx context.Context, doc *document.Parsed, md map[string]any) int {
	company := str(md["company"])
	if company == "" || s.indicators == nil {
		return 0
	}
	recorded := 0
	var header []int
	for _, line := range strings.Split(doc.Content, "\n") {
		cells := splitRow(line)
		if len(cells) < 2 {
			header = nil
			continue
		}
		if years := headerYears(cells); years != nil {
			header = years
			continue
		}
		if header == nil {
			continue
		}
		indicator := s.vocab.ExtractIndicator(cells[0])
		if indicator == "" {
			continue
		}
		for i, cell := range cells[1:] {
			if i >= len(header) || header[i] == 0 {
				break
			}
			n, err := finance.ParseNumber(cell)
			if err != nil {
				continue
			}
			p := IndicatorPoint{
				Company:   company,
				Indicator: indicator,
				Year:      header[i],
				Value:     n.Value,
				Unit:      n.Unit,
				Source:    doc.Path,
			}
			if err := s.indicators.Record(ctx, p); err != nil {
				slog.Warn("Failed to record figure", "path", doc.Path, "indicator", indicator, "error", err)
				continue
			}
			recorded++
		}
	}
	return recorded
}

func splitRow(line string) []string {
	line = strings.TrimSpace(line)
	var parts []string
	switch {
	case strings.Contains(line, "|"):
		parts = strings.Split(strings.Trim(line, "|"), "|")
	case strings.Contains(line, ","):
		parts = strings.Split(line, ",")
	default:
		return nil
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

var yearCell = regexp.MustCompile(`^(20\d{2})\s*(年|年度|A)?$`)

// headerYears returns the year of each column after the first, or nil when
// the row is not a year header.
func headerYears(cells []string) []int {
	years := make([]int, len(cells)-1)
	found := false
	for i, c := range cells[1:] {
		if m := yearCell.FindStringSubmatch(c); m != nil {
			years[i], _ = strconv.Atoi(m[1])
			found = true
		}
	}
	if !found {
		return nil
	}
	return years
}
