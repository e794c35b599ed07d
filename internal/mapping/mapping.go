// Package mapping loads analyst-authored source-to-target mapping sheets.
// It canonicalizes the export headers, flattens free-text cells, and drops
// rows that cannot identify a target column.
package mapping

import (
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Row is one source-to-target mapping line. Free-text fields are kept
// verbatim apart from whitespace flattening; they are never mutated after
// load.
type Row struct {
	Index        int // zero-based position in the input file
	SourceTable  string
	SourceColumn string
	TargetTable  string
	TargetColumn string
	TargetType   string
	BusinessRule string
	JoinClause   string
	Transform    string
}

// Sheet is an ordered collection of normalized mapping rows.
type Sheet struct {
	Rows    []Row
	Dropped int // rows skipped for missing target column
}

// headerCanon maps the messy export header variants onto canonical names.
// Patterns are tried in order; the first match wins.
var headerCanon = []struct {
	rx    *regexp.Regexp
	canon string
}{
	{regexp.MustCompile(`(?i)^source table[ /_]?(file )?name`), "src_table"},
	{regexp.MustCompile(`(?i)^source column[ /_]?(field )?name`), "src_column"},
	{regexp.MustCompile(`(?i)^target table[ /_]?(file )?name`), "tgt_table"},
	{regexp.MustCompile(`(?i)^target column[ /_]?(field )?name`), "tgt_column"},
	{regexp.MustCompile(`(?i)^target data ?type`), "tgt_datatype"},
	{regexp.MustCompile(`(?i)^business rule`), "business_rule"},
	{regexp.MustCompile(`(?i)^join clause`), "join_clause"},
	{regexp.MustCompile(`(?i)^transformation (rule|logic)`), "transformation_logic"},
	{regexp.MustCompile(`(?i)^source table$`), "src_table"},
	{regexp.MustCompile(`(?i)^source column$`), "src_column"},
	{regexp.MustCompile(`(?i)^target table$`), "tgt_table"},
	{regexp.MustCompile(`(?i)^target column$`), "tgt_column"},
}

// CanonHeader reduces a raw header cell to its canonical column name.
// Unknown headers come back lowercased with spacing collapsed so callers can
// still index them.
func CanonHeader(h string) string {
	h = strings.TrimSpace(h)
	h = strings.ReplaceAll(h, "_", " ")
	h = regexp.MustCompile(`\s+`).ReplaceAllString(h, " ")
	for _, c := range headerCanon {
		if c.rx.MatchString(h) {
			return c.canon
		}
	}
	return strings.ToLower(strings.ReplaceAll(h, " ", "_"))
}

// Flatten collapses a free-text cell to a single NFC-normalized line.
func Flatten(s string) string {
	s = norm.NFC.String(s)
	s = strings.ReplaceAll(s, "\r", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	return strings.TrimSpace(s)
}

// normalizeSourceTable keeps the first whitespace token, lowercased. Analysts
// occasionally write "OSSBR_2_1 mas" with an inline alias; the alias is
// recovered later from the free text, not here.
func normalizeSourceTable(s string) string {
	fields := strings.Fields(strings.TrimSpace(s))
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

// Load reads and normalizes a mapping CSV from disk.
func Load(path string, logger *slog.Logger) (*Sheet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open mapping file: %w", err)
	}
	defer f.Close()
	return Parse(f, logger)
}

// Parse normalizes mapping rows from a CSV stream. Rows without a target
// column are dropped with a warning; everything else is preserved in file
// order, which downstream stages rely on for merge precedence.
func Parse(r io.Reader, logger *slog.Logger) (*Sheet, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read mapping csv: %w", err)
	}
	if len(records) == 0 {
		return &Sheet{}, nil
	}

	// Canonicalize headers; duplicate canonical names keep the first
	// non-blank cell per row (exports repeat "Table/File Name" for source
	// and target sides, so position disambiguates before dedup).
	idx := map[string][]int{}
	for i, h := range records[0] {
		c := CanonHeader(h)
		idx[c] = append(idx[c], i)
	}

	cell := func(rec []string, name string) string {
		for _, i := range idx[name] {
			if i < len(rec) {
				if v := Flatten(rec[i]); v != "" {
					return v
				}
			}
		}
		return ""
	}

	sheet := &Sheet{}
	for n, rec := range records[1:] {
		row := Row{
			Index:        n,
			SourceTable:  normalizeSourceTable(cell(rec, "src_table")),
			SourceColumn: strings.ToLower(cell(rec, "src_column")),
			TargetTable:  strings.ToLower(cell(rec, "tgt_table")),
			TargetColumn: strings.ToLower(cell(rec, "tgt_column")),
			TargetType:   strings.ToUpper(cell(rec, "tgt_datatype")),
			BusinessRule: cell(rec, "business_rule"),
			JoinClause:   cell(rec, "join_clause"),
			Transform:    cell(rec, "transformation_logic"),
		}
		if row.TargetColumn == "" {
			sheet.Dropped++
			logger.Warn("dropping mapping row without target column",
				slog.Int("row", n+2),
				slog.String("source_table", row.SourceTable),
				slog.String("source_column", row.SourceColumn))
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

// TargetTables returns the distinct target tables in first-seen order.
func (s *Sheet) TargetTables() []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range s.Rows {
		t := r.TargetTable
		if t == "" {
			t = "target_table"
		}
		if !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

// RowsFor returns the rows feeding one target table, preserving file order.
// Rows with a blank target table fall into the synthetic "target_table"
// bucket so they are never silently lost.
func (s *Sheet) RowsFor(targetTable string) []Row {
	var out []Row
	for _, r := range s.Rows {
		t := r.TargetTable
		if t == "" {
			t = "target_table"
		}
		if t == targetTable {
			out = append(out, r)
		}
	}
	return out
}

// SourceTables returns distinct source tables in first-seen order, blank
// entries excluded.
func SourceTables(rows []Row) []string {
	seen := map[string]bool{}
	var out []string
	for _, r := range rows {
		if r.SourceTable == "" || seen[r.SourceTable] {
			continue
		}
		seen[r.SourceTable] = true
		out = append(out, r.SourceTable)
	}
	return out
}
