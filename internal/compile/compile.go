package compile

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapmap/internal/graph"
	"github.com/leapstack-labs/leapmap/internal/interpret"
	"github.com/leapstack-labs/leapmap/internal/mapping"
)

// DefaultCodeSuffix marks target columns whose values come from a standard
// code domain.
const DefaultCodeSuffix = "_cd"

// Options tunes a compilation.
type Options struct {
	CodeSuffix string
	Logger     *slog.Logger
}

func (o *Options) defaults() {
	if o.CodeSuffix == "" {
		o.CodeSuffix = DefaultCodeSuffix
	}
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
}

// Compile folds the interpreted rules for one target table into a model.
// Rows and rules are parallel slices in original file order; that order
// drives merge precedence and the final projection order.
func Compile(targetTable, malcode string, rows []mapping.Row, rules []*interpret.Rule, g *graph.Graph, opts Options) *Model {
	opts.defaults()

	m := &Model{TargetTable: targetTable, Malcode: malcode, Graph: g}

	byRow := map[int]*interpret.Rule{}
	for _, r := range rules {
		byRow[r.Row.Index] = r
	}

	// Group rows per target column, first-seen order.
	var order []string
	groups := map[string][]mapping.Row{}
	for _, row := range rows {
		key := strings.ToLower(row.TargetColumn)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], row)
	}

	for _, target := range order {
		group := groups[target]
		col, audit := compileColumn(target, group, byRow, g, opts)
		m.Columns = append(m.Columns, col)
		m.Audit = append(m.Audit, audit)
		if col.IsStatic {
			g.Base.Statics[col.Target] = col.Expr
		}
	}
	return m
}

// compileColumn merges every row defining one target column into a single
// derived column plus its audit record.
func compileColumn(target string, group []mapping.Row, byRow map[int]*interpret.Rule, g *graph.Graph, opts Options) (*DerivedColumn, AuditRecord) {
	col := &DerivedColumn{
		Target:  target,
		IsCoded: strings.HasSuffix(strings.ToLower(target), opts.CodeSuffix),
		Merged:  len(group),
	}

	var (
		rawParts []string
		branches []interpret.Branch
		residual string
		static   string
	)

	for _, row := range group {
		if col.Type == "" && row.TargetType != "" {
			col.Type = row.TargetType
		}
		rule := byRow[row.Index]
		if rule == nil {
			continue
		}
		if raw := rawRuleText(row); raw != "" {
			rawParts = append(rawParts, raw)
		}

		switch {
		case rule.Has(interpret.KindStaticAssignment):
			// First static wins; later ones count as merged duplicates.
			if static == "" {
				static = substituteSource(rule.Static, row, g)
			}
		case rule.Has(interpret.KindConditional):
			branches = append(branches, rule.Branches...)
		case rule.Residual != "" && residual == "":
			residual = rule.Residual
		}
		if _, comment := interpret.ExtractCaseCore(row.Transform); comment != "" {
			col.Comments = appendUnique(col.Comments, comment)
		}
	}

	switch {
	case static != "":
		// "Straight move" also lands here; only a true literal (no source
		// reference left after substitution) counts as a static assignment.
		expr := g.Rewrite(static)
		if len(interpret.Refs(expr)) == 0 {
			col.IsStatic = true
			col.Expr = CastLiteral(expr, col.Type)
		} else {
			col.Expr = expr
		}
	case len(branches) > 0:
		col.Expr = renderConditional(dedupBranches(branches), g)
	case residual != "":
		col.Expr = passthrough(residual, g)
	default:
		col.Expr = defaultExpr(group[0], g, col.Type)
	}

	col.Deps = entityDeps(col.Expr, g)

	notes := ""
	if col.Merged > 1 {
		notes = fmt.Sprintf("merged %d variations", col.Merged)
	}
	opts.Logger.Debug("compiled column",
		slog.String("target", target),
		slog.Int("merged", col.Merged),
		slog.Bool("coded", col.IsCoded))

	audit := AuditRecord{
		Row:      group[0].Index + 1,
		Target:   target,
		Raw:      strings.Join(rawParts, " | "),
		Compiled: col.Expr,
		Notes:    notes,
	}
	return col, audit
}

// rawRuleText is the verbatim text the audit pairs with the compiled
// expression: the transformation text when present, the business rule
// otherwise.
func rawRuleText(row mapping.Row) string {
	if row.Transform != "" {
		return row.Transform
	}
	return row.BusinessRule
}

// substituteSource replaces the interpreter's source placeholder with the
// aliased source column of the defining row.
func substituteSource(expr string, row mapping.Row, g *graph.Graph) string {
	if !strings.Contains(expr, interpret.SourcePlaceholder) {
		return expr
	}
	ref := "NULL"
	if row.SourceColumn != "" {
		alias := ""
		if e := g.EntityFor(row.SourceTable); e != nil {
			alias = e.Alias
		} else if g.Base != nil {
			alias = g.Base.Alias
		}
		if alias != "" {
			ref = alias + "." + row.SourceColumn
		} else {
			ref = row.SourceColumn
		}
	}
	return strings.ReplaceAll(expr, interpret.SourcePlaceholder, ref)
}

// dedupBranches drops branches whose condition text repeats an earlier one,
// keeping first-seen order. A second ELSE is a duplicate definition, not a
// new branch.
func dedupBranches(in []interpret.Branch) []interpret.Branch {
	var out []interpret.Branch
	seen := map[string]bool{}
	haveElse := false
	for _, b := range in {
		if b.IsElse {
			if haveElse {
				continue
			}
			haveElse = true
			out = append(out, b)
			continue
		}
		key := strings.ToLower(interpret.Squash(b.When))
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, b)
	}
	return out
}

// renderConditional renders the ordered branch set as one CASE expression.
// Unresolved branches stay visible as guarded NULLs; dropping them would
// silently change output cardinality.
func renderConditional(branches []interpret.Branch, g *graph.Graph) string {
	var sb strings.Builder
	sb.WriteString("CASE")
	elseVal := ""
	for _, b := range branches {
		if b.IsElse {
			elseVal = g.Rewrite(b.Then)
			continue
		}
		if b.Unresolved {
			sb.WriteString(" WHEN 1 = 0 THEN NULL /* unresolved condition: " + commentSafe(b.Raw) + " */")
			continue
		}
		sb.WriteString(" WHEN " + g.Rewrite(b.When) + " THEN " + g.Rewrite(b.Then))
	}
	if elseVal != "" {
		sb.WriteString(" ELSE " + elseVal)
	}
	sb.WriteString(" END")
	return sb.String()
}

// passthrough emits residual text that already looks like SQL; prose that
// references no source column degrades to a guarded NULL so the view still
// compiles and the ambiguity stays visible.
func passthrough(text string, g *graph.Graph) string {
	t := interpret.Squash(text)
	if len(interpret.Refs(t)) > 0 || looksLikeSQLValue(t) {
		return g.Rewrite(t)
	}
	return GuardUnresolved(t)
}

// defaultExpr covers rows with no usable rule text at all: a straight column
// reference when the source column is known, a typed NULL otherwise.
func defaultExpr(row mapping.Row, g *graph.Graph, declared string) string {
	if row.SourceColumn != "" {
		if e := g.EntityFor(row.SourceTable); e != nil {
			return e.Alias + "." + row.SourceColumn
		}
		return row.SourceColumn
	}
	return CastLiteral("NULL", declared)
}

// GuardUnresolved wraps text that matched no known pattern in a guarded NULL
// with the offending text quoted in a comment, truncated and comment-safe.
func GuardUnresolved(text string) string {
	return "NULL /* unresolved expression guarded: " + commentSafe(text) + " */"
}

func commentSafe(text string) string {
	s := interpret.Squash(text)
	if len(s) > 120 {
		s = s[:120] + "..."
	}
	s = strings.ReplaceAll(s, "/*", "/ *")
	s = strings.ReplaceAll(s, "*/", "* /")
	return s
}

func looksLikeSQLValue(t string) bool {
	up := strings.ToUpper(t)
	if strings.EqualFold(t, "NULL") {
		return true
	}
	for _, fn := range []string{"RTRIM(", "LTRIM(", "TRIM(", "COALESCE(", "CAST(", "TRY_CAST(", "TO_DATE(", "SUBSTRING(", "UPPER(", "LOWER(", "CONCAT(", "NULLIF("} {
		if strings.Contains(up, fn) {
			return true
		}
	}
	return intLitRx.MatchString(t) || decLitRx.MatchString(t) || quotedLitRx.MatchString(t)
}

func entityDeps(expr string, g *graph.Graph) []string {
	var out []string
	seen := map[string]bool{}
	for _, ref := range interpret.Refs(expr) {
		if e := g.EntityForQualifier(ref.Qualifier); e != nil && !seen[e.Name] {
			seen[e.Name] = true
			out = append(out, e.Name)
		}
	}
	return out
}

func appendUnique(xs []string, x string) []string {
	for _, v := range xs {
		if v == x {
			return xs
		}
	}
	return append(xs, x)
}
