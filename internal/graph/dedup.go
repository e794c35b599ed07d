package graph

import (
	"strings"

	"github.com/leapstack-labs/leapmap/internal/interpret"
)

// Synthesize attaches interpreted exclusion predicates and dedup windows to
// the graph's entities. Filters become conjunctive WHERE terms on the
// entity's staging selection; dedup keys become a uniqueness window. When the
// rules name no tie-break ordering, the key column doubles as the ordering
// and the rendered SQL flags it for a human to replace.
func Synthesize(g *Graph, rules []*interpret.Rule) {
	seenFilter := map[string]bool{}
	seenNote := map[string]bool{}

	for _, rule := range rules {
		owner := g.EntityFor(rule.Row.SourceTable)
		if owner == nil {
			owner = g.Base
		}

		for _, pred := range rule.Exclusions {
			pred = g.Rewrite(interpret.Squash(pred))
			target := entityForPredicate(g, pred, owner)
			key := target.Name + "|" + strings.ToLower(pred)
			if seenFilter[key] {
				continue
			}
			seenFilter[key] = true
			target.Filters = append(target.Filters, pred)
		}

		for _, note := range rule.Notes {
			key := owner.Name + "|" + strings.ToLower(note)
			if seenNote[key] {
				continue
			}
			seenNote[key] = true
			owner.Notes = append(owner.Notes, note)
		}

		for _, k := range rule.DedupKeys {
			target := g.EntityForQualifier(k.Qualifier)
			if target == nil {
				target = owner
			}
			col := target.Alias + "." + k.Column
			if target.Window == nil {
				target.Window = &Window{}
			}
			if !contains(target.Window.PartitionBy, col) {
				target.Window.PartitionBy = append(target.Window.PartitionBy, col)
			}
		}
	}

	// Default tie-break: the key itself, kept stable but explicitly marked.
	for _, e := range g.Entities {
		if e.Window != nil && len(e.Window.OrderBy) == 0 {
			e.Window.OrderBy = append(e.Window.OrderBy, e.Window.PartitionBy...)
			e.Window.ExplicitTieBreak = false
		}
	}
}

// entityForPredicate picks the entity the filter belongs to: the first
// qualifier that resolves wins, the rule's own source entity otherwise.
func entityForPredicate(g *Graph, pred string, fallback *Entity) *Entity {
	for _, ref := range interpret.Refs(pred) {
		if e := g.EntityForQualifier(ref.Qualifier); e != nil {
			return e
		}
	}
	return fallback
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if strings.EqualFold(v, x) {
			return true
		}
	}
	return false
}
