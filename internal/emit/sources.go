package emit

import (
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"

	"github.com/leapstack-labs/leapmap/internal/compile"
	"github.com/leapstack-labs/leapmap/internal/interpret"
)

// BuildSourceReport renders the per-source interpretation summary: one table
// row per participating entity with the aliases, referenced columns, join
// predicates and row filters the compiled model settled on. Emitted next to
// the audit on verbose runs only, so it never counts toward the synchronized
// artifact set.
func BuildSourceReport(m *compile.Model) []byte {
	var sb strings.Builder
	sb.WriteString("# Source Interpretation Summary\n\n")
	sb.WriteString("Target table: `" + m.TargetTable + "`\n\n")

	cols := columnsByAlias(m)

	tw := table.NewWriter()
	tw.Style().Format.Header = text.FormatDefault
	tw.AppendHeader(table.Row{"Source Table", "Alias", "Role", "Columns Referenced", "Join Predicates", "Row Filters"})
	for _, e := range m.Graph.Entities {
		role := "joined"
		if e == m.Graph.Base {
			role = "base"
		}
		var preds []string
		for _, j := range e.Joins {
			preds = append(preds, j.Predicate)
		}
		tw.AppendRow(table.Row{
			mdCell(e.Name),
			mdCell(e.Alias),
			role,
			mdCell(strings.Join(cols[e.Alias], ", ")),
			mdCell(strings.Join(preds, " AND ")),
			mdCell(strings.Join(e.Filters, " AND ")),
		})
	}
	sb.WriteString(tw.RenderMarkdown())
	sb.WriteString("\n")

	var statics, notes []string
	for _, e := range m.Graph.Entities {
		targets := make([]string, 0, len(e.Statics))
		for t := range e.Statics {
			targets = append(targets, t)
		}
		sort.Strings(targets)
		for _, t := range targets {
			statics = append(statics, "- `"+t+"` = `"+e.Statics[t]+"`")
		}
		for _, n := range e.Notes {
			notes = append(notes, "- "+n+" (on `"+e.Name+"`)")
		}
		if w := e.Window; w != nil {
			note := "- dedup `" + e.Name + "` over (" + strings.Join(w.PartitionBy, ", ") + ")"
			if !w.ExplicitTieBreak {
				note += " with no named tie-break"
			}
			notes = append(notes, note)
		}
	}
	if len(statics) > 0 {
		sb.WriteString("\n## Static assignments\n\n")
		sb.WriteString(strings.Join(statics, "\n") + "\n")
	}
	if len(notes) > 0 {
		sb.WriteString("\n## Notes\n\n")
		sb.WriteString(strings.Join(notes, "\n") + "\n")
	}
	return []byte(sb.String())
}

// columnsByAlias walks every compiled expression and groups the qualified
// column references under their entity alias, sorted for stable output.
func columnsByAlias(m *compile.Model) map[string][]string {
	byAlias := map[string]map[string]bool{}
	for _, c := range m.Columns {
		for _, ref := range interpret.Refs(c.FinalExpr()) {
			q := strings.ToLower(ref.Qualifier)
			if byAlias[q] == nil {
				byAlias[q] = map[string]bool{}
			}
			byAlias[q][strings.ToLower(ref.Column)] = true
		}
	}
	out := make(map[string][]string, len(byAlias))
	for q, set := range byAlias {
		names := make([]string, 0, len(set))
		for n := range set {
			names = append(names, n)
		}
		sort.Strings(names)
		out[q] = names
	}
	return out
}
