package lookup

import (
	"log/slog"
	"strings"

	"github.com/leapstack-labs/leapmap/internal/compile"
	"github.com/leapstack-labs/leapmap/internal/interpret"
)

// Resolve rewrites every lookup-eligible derived column: coded name, no
// static assignment, and a declared domain in the catalog. Everything else is
// left untouched — a coded column with no catalog entry emits its raw
// expression, which is surfaced in the audit, not treated as a failure.
//
// One join is registered per (malcode, view); columns sharing the view reuse
// it, accumulating their domains on the binding. The audit record of each
// rewritten column is updated in the same pass.
func Resolve(m *compile.Model, catalog *Catalog, logger *slog.Logger) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if catalog == nil {
		return
	}

	for i, col := range m.Columns {
		if !col.IsCoded || col.IsStatic {
			continue
		}
		view, ok := catalog.ViewFor(m.Malcode, col.Target)
		if !ok {
			logger.Debug("coded column has no lookup catalog entry",
				slog.String("target", col.Target))
			continue
		}

		driver := firstQualified(col.Expr)
		if driver == "" {
			// Nothing to join on; keep the raw expression.
			logger.Warn("lookup skipped, no driver column in expression",
				slog.String("target", col.Target))
			continue
		}

		b := m.Binding(m.Malcode, view.Name)
		if b == nil {
			b = &compile.LookupBinding{
				Malcode:     m.Malcode,
				View:        view.Name,
				Alias:       view.Name,
				Driver:      driver,
				SourceValue: view.SourceValue,
				CodeName:    view.CodeName,
				CodeValue:   view.CodeValue,
			}
			m.Lookups = append(m.Lookups, b)
		}
		b.Domains = appendDomain(b.Domains, strings.ToLower(col.Target))

		col.LookupExpr = wrapExpr(col, b)
		m.Audit[i].Compiled = col.LookupExpr
		logger.Debug("bound lookup",
			slog.String("target", col.Target),
			slog.String("view", view.Name),
			slog.String("driver", driver))
	}
}

// wrapExpr builds the lookup-priority template: prefer the standard code
// value when the join matched this column's domain, fall back to the compiled
// expression otherwise.
func wrapExpr(col *compile.DerivedColumn, b *compile.LookupBinding) string {
	dt := strings.ToUpper(strings.TrimSpace(col.Type))
	if dt == "" {
		dt = "STRING"
	}
	return "CAST(CASE WHEN " + b.Alias + "." + b.CodeName + " = '" + strings.ToLower(col.Target) + "'" +
		" THEN " + b.Alias + "." + b.CodeValue +
		" ELSE " + col.Expr + " END AS " + dt + ")"
}

// firstQualified returns the first alias.column token of the expression; it
// becomes the join driver.
func firstQualified(expr string) string {
	refs := interpret.Refs(expr)
	if len(refs) == 0 {
		return ""
	}
	return refs[0].String()
}

func appendDomain(domains []string, d string) []string {
	for _, v := range domains {
		if v == d {
			return domains
		}
	}
	return append(domains, d)
}
