// Package emit renders the compiled model into its three synchronized
// artifacts: the SQL view text, the job JSON, and the audit Markdown. The
// emitter walks the model once and is fully deterministic — re-emitting an
// unchanged model is byte-identical, so regenerated artifacts diff cleanly.
package emit

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapmap/internal/compile"
	"github.com/leapstack-labs/leapmap/internal/graph"
)

var nonWordRx = regexp.MustCompile(`[^\w]`)

// columnAlias sanitizes a target column name for use after AS.
func columnAlias(target string) string {
	return nonWordRx.ReplaceAllString(target, "_")
}

// ViewName returns the canonical view name, dt_<malcode>_<target>.
func ViewName(m *compile.Model) string {
	return "dt_" + strings.ToLower(m.Malcode) + "_" + strings.ToLower(m.TargetTable)
}

// BuildSQL renders the complete view: one staging CTE per source entity
// (filters and dedup window applied there, never in the projection), a join
// CTE, and the final projection with lookup joins appended last.
func BuildSQL(m *compile.Model) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "-- view: %s\n", ViewName(m))
	sb.WriteString("WITH\n")

	for _, e := range m.Graph.Entities {
		writeStagingCTE(&sb, e)
		sb.WriteString(",\n")
	}

	writeJoinCTE(&sb, m)
	sb.WriteString("\n")
	writeProjection(&sb, m)
	sb.WriteString(";\n")
	return sb.String()
}

// writeStagingCTE renders the per-entity staging selection. Exclusion
// filters and the dedup window live here so the final projection never
// carries row-level filtering.
func writeStagingCTE(sb *strings.Builder, e *graph.Entity) {
	fmt.Fprintf(sb, "%s AS (\n", e.Alias)
	fmt.Fprintf(sb, "  SELECT %s.*\n", e.Alias)
	fmt.Fprintf(sb, "  FROM %s %s", e.Name, e.Alias)

	for _, note := range e.Notes {
		fmt.Fprintf(sb, "\n  -- NOTE: exclusion rule retained for review: %s", note)
	}
	for i, f := range e.Filters {
		if i == 0 {
			fmt.Fprintf(sb, "\n  WHERE %s", f)
		} else {
			fmt.Fprintf(sb, "\n    AND %s", f)
		}
	}
	if w := e.Window; w != nil && len(w.PartitionBy) > 0 {
		fmt.Fprintf(sb, "\n  QUALIFY ROW_NUMBER() OVER (PARTITION BY %s ORDER BY %s) = 1",
			strings.Join(w.PartitionBy, ", "), strings.Join(w.OrderBy, ", "))
		if !w.ExplicitTieBreak {
			sb.WriteString(" -- TODO: replace default tie-break with a real ordering column")
		}
	}
	sb.WriteString("\n)")
}

// writeJoinCTE renders step1: the base entity joined to every other staged
// entity through the inferred edges. Edges are emitted only once their
// anchor endpoint is in FROM scope; an anchor that no edge ever brings in is
// guard-joined first so predicates never reference an alias that is not in
// the statement.
func writeJoinCTE(sb *strings.Builder, m *compile.Model) {
	base := m.Graph.Base
	fmt.Fprintf(sb, "step1 AS (\n")
	fmt.Fprintf(sb, "  SELECT %s.*\n", base.Alias)
	fmt.Fprintf(sb, "  FROM %s", base.Alias)

	scope := map[*graph.Entity]bool{base: true}
	edges := m.Graph.Edges()
	emitted := make([]bool, len(edges))
	for remaining := len(edges); remaining > 0; {
		progress := false
		for i, edge := range edges {
			if emitted[i] {
				continue
			}
			other, anchor := edge.Right, edge.Left
			if other == base {
				other, anchor = edge.Left, edge.Right
			}
			if !scope[anchor] {
				continue
			}
			pred := edge.Predicate
			if strings.TrimSpace(pred) == "" {
				pred = "1 = 1 -- TODO: supply the join condition"
			}
			fmt.Fprintf(sb, "\n  %s JOIN %s ON %s", edge.Kind, other.Alias, pred)
			scope[other] = true
			emitted[i] = true
			remaining--
			progress = true
		}
		if progress {
			continue
		}
		// Every pending edge hangs between entities outside the scope.
		// Guard the first pending anchor in and retry.
		for i, edge := range edges {
			if emitted[i] {
				continue
			}
			// Base-anchored edges always emit in the first pass, so the
			// missing endpoint is the left one.
			anchor := edge.Left
			fmt.Fprintf(sb, "\n  %s JOIN %s ON 1 = 1 -- TODO: supply the join condition",
				edge.Kind, anchor.Alias)
			scope[anchor] = true
			break
		}
	}
	sb.WriteString("\n)")
}

// writeProjection renders the final SELECT: every derived column in target
// order, lookup joins appended after the source.
func writeProjection(sb *strings.Builder, m *compile.Model) {
	sb.WriteString("SELECT\n")
	for i, col := range m.Columns {
		if m.Audit[i].Notes != "" {
			fmt.Fprintf(sb, "  -- %s\n", m.Audit[i].Notes)
		}
		for _, c := range col.Comments {
			fmt.Fprintf(sb, "  %s\n", c)
		}
		fmt.Fprintf(sb, "  %s AS %s", col.FinalExpr(), columnAlias(col.Target))
		if i < len(m.Columns)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("FROM step1")
	for _, b := range m.Lookups {
		fmt.Fprintf(sb, "\n%s", lookupJoin(b))
	}
}

// lookupJoin renders one reusable standard-code join. The domain filter uses
// the full set of code domains served through the binding so a single join
// instance covers every column that shares the view.
func lookupJoin(b *compile.LookupBinding) string {
	domains := make([]string, len(b.Domains))
	for i, d := range b.Domains {
		domains[i] = "'" + d + "'"
	}
	domainPred := b.Alias + "." + b.CodeName + " = " + domains[0]
	if len(domains) > 1 {
		domainPred = b.Alias + "." + b.CodeName + " IN (" + strings.Join(domains, ", ") + ")"
	}
	return fmt.Sprintf("LEFT JOIN %s %s ON %s = %s.%s AND %s",
		b.View, b.Alias, b.Driver, b.Alias, b.SourceValue, domainPred)
}
