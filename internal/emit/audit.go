package emit

import (
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/leapstack-labs/leapmap/internal/compile"
)

// BuildAudit renders the audit trail as a Markdown table, one row per derived
// column in projection order. The raw rule text is carried verbatim apart
// from the escaping Markdown tables force on us.
func BuildAudit(m *compile.Model) []byte {
	var sb strings.Builder
	sb.WriteString("# Transformation Rules Audit\n\n")
	sb.WriteString("Target table: `" + m.TargetTable + "`\n\n")

	tw := table.NewWriter()
	tw.Style().Format.Header = text.FormatDefault
	tw.AppendHeader(table.Row{"Row", "Target Column", "Raw Rule (verbatim)", "Compiled Expression", "Notes"})
	for _, rec := range m.Audit {
		tw.AppendRow(table.Row{
			rec.Row,
			mdCell(rec.Target),
			mdCell(rec.Raw),
			mdCell(rec.Compiled),
			mdCell(rec.Notes),
		})
	}
	sb.WriteString(tw.RenderMarkdown())
	sb.WriteString("\n")
	return []byte(sb.String())
}

// mdCell makes free text safe inside a Markdown table cell.
func mdCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	s = strings.ReplaceAll(s, "\r\n", "<br>")
	s = strings.ReplaceAll(s, "\n", "<br>")
	return s
}
