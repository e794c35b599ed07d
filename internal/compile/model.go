// Package compile turns interpreted mapping rules into the compiled model:
// one derived column per target column, with the audit record produced in the
// same pass so the audit trail can never drift from the emitted SQL.
package compile

import (
	"github.com/leapstack-labs/leapmap/internal/graph"
)

// DerivedColumn is the compiled expression for one target column.
type DerivedColumn struct {
	Target     string
	Type       string // declared target datatype, may be empty
	Expr       string // compiled expression SQL
	LookupExpr string // lookup-wrapped expression, set by the resolver
	IsCoded    bool   // name carries the standard-code suffix
	IsStatic   bool
	Deps       []string // names of source entities the expression reads
	Merged     int      // raw rows merged into this column (>= 1)
	Comments   []string // trailing context comments, rendered after the expr
}

// FinalExpr returns the expression the emitter must project: the lookup
// override when one was bound, the compiled expression otherwise.
func (d *DerivedColumn) FinalExpr() string {
	if d.LookupExpr != "" {
		return d.LookupExpr
	}
	return d.Expr
}

// AuditRecord links one derived column back to the raw rule text that
// produced it. Records are index-aligned with Model.Columns.
type AuditRecord struct {
	Row      int // 1-based position of the first defining row
	Target   string
	Raw      string // verbatim rule text, merged definitions concatenated
	Compiled string
	Notes    string
}

// LookupBinding is one reusable standard-code lookup join. Bindings with the
// same (malcode, view) pair share a single emitted join; the Domains list
// accumulates every code domain served through it.
type LookupBinding struct {
	Malcode     string
	View        string
	Alias       string
	Driver      string // qualified source column driving the join
	Domains     []string
	SourceValue string // lookup-side column compared to the driver
	CodeName    string // lookup-side code-domain column
	CodeValue   string // lookup-side code-value column
}

// Model is everything the emitter walks: source graph, ordered derived
// columns, their audit records, and the lookup joins bound to coded columns.
type Model struct {
	TargetTable string
	Malcode     string
	Graph       *graph.Graph
	Columns     []*DerivedColumn
	Audit       []AuditRecord
	Lookups     []*LookupBinding
}

// Statics returns the target columns holding static assignments, in column
// order, as (target, expression) pairs.
func (m *Model) Statics() [][2]string {
	var out [][2]string
	for _, c := range m.Columns {
		if c.IsStatic {
			out = append(out, [2]string{c.Target, c.Expr})
		}
	}
	return out
}

// Binding returns the lookup binding registered for the (malcode, view)
// pair, or nil.
func (m *Model) Binding(malcode, view string) *LookupBinding {
	for _, b := range m.Lookups {
		if b.Malcode == malcode && b.View == view {
			return b
		}
	}
	return nil
}
