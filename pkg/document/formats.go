package document

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/xuri/excelize/v2"
)

// maxSheetRows bounds how much of one worksheet is extracted.
const maxSheetRows = 2000

type pdfParser struct{}

func (pdfParser) Extensions() []string { return []string{".pdf"} }

func (pdfParser) Parse(ctx context.Context, path string, size int64) (*Parsed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	reader, err := pdf.NewReader(f, size)
	if err != nil {
		return nil, err
	}

	pages := reader.NumPage()
	parts := make([]string, 0, pages)
	failed := 0
	for n := 1; n <= pages; n++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := reader.Page(n)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			failed++
			continue
		}
		if text = strings.TrimSpace(text); text != "" {
			parts = append(parts, text)
		}
	}

	return &Parsed{
		Content: strings.Join(parts, "\n\n"),
		Metadata: map[string]any{
			"format":       "pdf",
			"pages":        pages,
			"failed_pages": failed,
		},
	}, nil
}

type wordParser struct{}

func (wordParser) Extensions() []string { return []string{".docx"} }

func (wordParser) Parse(_ context.Context, path string, _ int64) (*Parsed, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return &Parsed{
		Content:  stripXML(r.Editable().GetContent()),
		Metadata: map[string]any{"format": "docx"},
	}, nil
}

// stripXML reduces WordprocessingML to text, one paragraph per line.
func stripXML(raw string) string {
	raw = strings.ReplaceAll(raw, "</w:p>", "\n")
	var b strings.Builder
	inTag := false
	for _, r := range raw {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	lines := strings.Split(b.String(), "\n")
	out := lines[:0]
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return strings.Join(out, "\n")
}

type excelParser struct{}

func (excelParser) Extensions() []string { return []string{".xlsx"} }

// Parse renders each sheet as pipe-separated rows, so a statement row like
// "营业收入 | 1505.6 | 1275.5" stays together in one chunk.
func (excelParser) Parse(ctx context.Context, path string, _ int64) (*Parsed, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	parts := make([]string, 0, len(sheets))
	for _, sheet := range sheets {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rows, err := f.GetRows(sheet)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheet, err)
		}

		var b strings.Builder
		fmt.Fprintf(&b, "## %s\n", sheet)
		for i, row := range rows {
			if i == maxSheetRows {
				b.WriteString("...\n")
				break
			}
			cells := make([]string, 0, len(row))
			for _, c := range row {
				cells = append(cells, strings.TrimSpace(c))
			}
			line := strings.Trim(strings.Join(cells, " | "), " |")
			if line != "" {
				b.WriteString(line)
				b.WriteByte('\n')
			}
		}
		parts = append(parts, strings.TrimSpace(b.String()))
	}

	return &Parsed{
		Content:  strings.Join(parts, "\n\n"),
		Metadata: map[string]any{"format": "xlsx", "sheets": len(sheets)},
	}, nil
}

type textParser struct{}

func (textParser) Extensions() []string { return []string{".txt", ".md", ".csv", ".json"} }

func (textParser) Parse(_ context.Context, path string, _ int64) (*Parsed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return &Parsed{
		Content:  strings.TrimPrefix(string(data), "\ufeff"),
		Metadata: map[string]any{"format": "text"},
	}, nil
}
