// Package graph builds the per-target source graph: one entity per
// participating table, deterministic alias assignment, and deduplicated LEFT
// join edges mined from interpreted rules.
package graph

import (
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/leapstack-labs/leapmap/internal/interpret"
	"github.com/leapstack-labs/leapmap/internal/mapping"
)

// JoinEdge is a directed LEFT join between two entities. Duplicate edges
// (same ordered pair, same normalized predicate) collapse to one.
type JoinEdge struct {
	Left      *Entity
	Right     *Entity
	Predicate string
	Kind      string // always "LEFT"
}

// Window enforces row uniqueness for one entity: ROW_NUMBER over the business
// key. OrderBy defaults to the key itself when the rules name no tie-break;
// that default is flagged for human review in the rendered SQL.
type Window struct {
	PartitionBy      []string
	OrderBy          []string
	ExplicitTieBreak bool
}

// Entity is one source table participating in the derivation.
type Entity struct {
	Name    string
	Alias   string
	Joins   []JoinEdge
	Filters []string          // conjunctive row filters, SQL text
	Notes   []string          // exclusion prose kept as comments
	Statics map[string]string // target column -> literal
	Window  *Window
}

// Graph is the compiled source model for one target table.
type Graph struct {
	Base     *Entity
	Entities []*Entity // ordered, base first

	byName   map[string]*Entity
	byAlias  map[string]*Entity
	generics map[string]*Entity // "ref"-style shorthands -> entity
}

// Builder options.
type options struct {
	defaultAliases map[string]string
	logger         *slog.Logger
}

// Option configures Build.
type Option func(*options)

// WithDefaultAliases supplies the standing alias table used when free text
// only offers a generic shorthand (ref, ref1, ...).
func WithDefaultAliases(m map[string]string) Option {
	return func(o *options) { o.defaultAliases = m }
}

// WithLogger attaches a logger to the build.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// Build assembles the source graph for one target table. Rows and rules must
// be in original file order; alias assignment and edge ordering follow that
// order so recompilation is byte-stable.
func Build(rows []mapping.Row, rules []*interpret.Rule, opts ...Option) *Graph {
	o := options{logger: slog.New(slog.DiscardHandler)}
	for _, fn := range opts {
		fn(&o)
	}

	g := &Graph{
		byName:   map[string]*Entity{},
		byAlias:  map[string]*Entity{},
		generics: map[string]*Entity{},
	}

	// Alias hints from all free text, first hint per table wins. Generic
	// shorthands are remembered separately so qualifiers like "ref." still
	// resolve, but they never become assigned aliases.
	hinted := map[string]string{}
	aliasTable := map[string]string{} // hinted alias -> table, first hint wins
	genericOf := map[string]string{}  // generic alias -> table
	for _, r := range rows {
		for _, txt := range []string{r.JoinClause, r.BusinessRule, r.Transform} {
			for _, h := range interpret.AliasHints(txt) {
				if interpret.IsGenericAlias(h.Alias) {
					if _, ok := genericOf[h.Alias]; !ok {
						genericOf[h.Alias] = h.Table
					}
					continue
				}
				if _, ok := hinted[h.Table]; !ok {
					hinted[h.Table] = h.Alias
				}
				if _, ok := aliasTable[h.Alias]; !ok {
					aliasTable[h.Alias] = h.Table
				}
			}
		}
	}

	// Register entities in first-seen order; count occurrences to pick the
	// base entity (most rows, first seen wins ties).
	counts := map[string]int{}
	for _, r := range rows {
		if r.SourceTable == "" {
			continue
		}
		counts[r.SourceTable]++
		if g.byName[r.SourceTable] == nil {
			g.register(r.SourceTable, hinted, o)
		}
	}

	// Tables mentioned by join hints but absent from the source column: they
	// still need an entity so filters and statics stay attachable. The
	// qualifier may be the table name itself or a hinted alias.
	for _, rule := range rules {
		for _, h := range rule.JoinHints {
			for _, q := range []string{h.Left.Qualifier, h.Right.Qualifier} {
				q = strings.ToLower(q)
				if g.byAlias[q] != nil || g.byName[q] != nil || interpret.IsGenericAlias(q) {
					continue
				}
				if _, ok := hinted[q]; ok {
					g.register(q, hinted, o)
				} else if tbl, ok := aliasTable[q]; ok && g.byName[tbl] == nil {
					g.register(tbl, hinted, o)
				}
			}
		}
	}

	base := ""
	for _, e := range g.Entities {
		if base == "" || counts[e.Name] > counts[base] {
			base = e.Name
		}
	}
	if base == "" {
		// No source tables at all; synthesize a placeholder so emission
		// still produces a complete statement.
		g.register("source_table", hinted, o)
		base = "source_table"
	}
	g.Base = g.byName[base]

	// Bind generic shorthands to their entities for qualifier resolution.
	// Sorted iteration keeps alias assignment stable across runs.
	generics := make([]string, 0, len(genericOf))
	for generic := range genericOf {
		generics = append(generics, generic)
	}
	sort.Strings(generics)
	for _, generic := range generics {
		table := genericOf[generic]
		if e := g.byName[table]; e != nil {
			g.generics[generic] = e
		} else if g.byAlias[generic] == nil {
			// Shorthand for a table we never registered; register it so its
			// filters remain attachable.
			g.generics[generic] = g.register(table, hinted, o)
		}
	}

	g.buildEdges(rules, o)
	g.guardUnjoined(o)
	return g
}

// guardUnjoined attaches an empty-predicate edge from the base to every
// entity no rule joined. The emitter renders the missing condition as a
// guarded 1 = 1 so the statement stays complete and the gap stays visible.
func (g *Graph) guardUnjoined(o options) {
	joined := map[*Entity]bool{g.Base: true}
	for _, edge := range g.Edges() {
		joined[edge.Left] = true
		joined[edge.Right] = true
	}
	for _, e := range g.Entities {
		if joined[e] {
			continue
		}
		o.logger.Warn("no join condition found for source entity",
			slog.String("table", e.Name))
		g.Base.Joins = append(g.Base.Joins, JoinEdge{
			Left: g.Base, Right: e, Kind: "LEFT",
		})
	}
}

// register creates an entity with a deterministic alias: text hint first,
// then the standing default, then the table's first four characters, with a
// numeric suffix on collision.
func (g *Graph) register(table string, hinted map[string]string, o options) *Entity {
	alias := hinted[table]
	if alias == "" || interpret.IsGenericAlias(alias) {
		if def, ok := o.defaultAliases[table]; ok {
			alias = def
		}
	}
	if alias == "" {
		alias = table
		if len(alias) > 4 {
			alias = alias[:4]
		}
	}
	alias = strings.ToLower(alias)

	if g.byAlias[alias] != nil {
		base := alias
		for i := 1; ; i++ {
			alias = fmt.Sprintf("%s%d", base, i)
			if g.byAlias[alias] == nil {
				break
			}
		}
	}

	e := &Entity{Name: table, Alias: alias, Statics: map[string]string{}}
	g.Entities = append(g.Entities, e)
	g.byName[table] = e
	g.byAlias[alias] = e
	o.logger.Debug("registered source entity",
		slog.String("table", table), slog.String("alias", alias))
	return e
}

// buildEdges turns join hints into edges attached to the referencing entity,
// base side preferred on the left, duplicates collapsed.
func (g *Graph) buildEdges(rules []*interpret.Rule, o options) {
	seen := map[string]bool{}
	for _, rule := range rules {
		owner := g.EntityFor(rule.Row.SourceTable)
		if owner == nil {
			owner = g.Base
		}
		for _, h := range rule.JoinHints {
			left := g.EntityForQualifier(h.Left.Qualifier)
			right := g.EntityForQualifier(h.Right.Qualifier)
			if left == nil && right == nil {
				continue
			}
			if left == nil {
				left = owner
			}
			if right == nil {
				right = owner
			}
			if left == right {
				continue // self joins are noise from restated key columns
			}
			if right == g.Base {
				left, right = right, left
			}
			pred := g.Rewrite(h.Raw)
			key := left.Name + "|" + right.Name + "|" + strings.ToLower(interpret.Squash(pred))
			if seen[key] {
				continue
			}
			seen[key] = true
			owner.Joins = append(owner.Joins, JoinEdge{
				Left: left, Right: right, Predicate: pred, Kind: "LEFT",
			})
		}
	}
}

// EntityFor returns the entity for a table name, or nil.
func (g *Graph) EntityFor(table string) *Entity {
	return g.byName[strings.ToLower(table)]
}

// EntityForQualifier resolves a free-text qualifier that may be an assigned
// alias, a table name, or a generic shorthand (which maps to the base).
func (g *Graph) EntityForQualifier(q string) *Entity {
	q = strings.ToLower(q)
	if e := g.byAlias[q]; e != nil {
		return e
	}
	if e := g.byName[q]; e != nil {
		return e
	}
	return g.generics[q]
}

// Edges returns every join edge in entity order.
func (g *Graph) Edges() []JoinEdge {
	var out []JoinEdge
	for _, e := range g.Entities {
		out = append(out, e.Joins...)
	}
	return out
}

// Rewrite normalizes qualifier usage in a SQL fragment: table names used as
// qualifiers become the assigned alias, so emitted predicates always speak in
// aliases.
func (g *Graph) Rewrite(text string) string {
	out := text
	for _, e := range g.Entities {
		if e.Name == e.Alias {
			continue
		}
		rx := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e.Name) + `\.`)
		out = rx.ReplaceAllString(out, e.Alias+".")
	}
	for generic, e := range g.generics {
		if generic == e.Alias {
			continue
		}
		rx := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(generic) + `\.`)
		out = rx.ReplaceAllString(out, e.Alias+".")
	}
	return out
}
