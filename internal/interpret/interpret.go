// Package interpret reduces free-form mapping rule text to structured
// derivation intent. The classification is heuristic by design: trigger
// phrases and identifier patterns are matched in a fixed order, and anything
// left over is carried forward verbatim as an unresolved candidate rather
// than discarded, so the downstream compiler stays total over messy input.
package interpret

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapmap/internal/mapping"
)

// Kind tags one recognized intent of a mapping row.
type Kind int

const (
	KindUnresolved Kind = iota
	KindExclusion
	KindDedup
	KindStaticAssignment
	KindConditional
	KindJoinHint
)

// String returns the tag name used in logs and reports.
func (k Kind) String() string {
	switch k {
	case KindExclusion:
		return "exclusion"
	case KindDedup:
		return "dedup"
	case KindStaticAssignment:
		return "static"
	case KindConditional:
		return "conditional"
	case KindJoinHint:
		return "join-hint"
	default:
		return "unresolved"
	}
}

// ColumnRef is one <qualifier>.<COLUMN> token extracted from rule text.
type ColumnRef struct {
	Qualifier string
	Column    string
}

func (c ColumnRef) String() string { return c.Qualifier + "." + c.Column }

// JoinHint is a candidate equality join predicate mined from free text.
type JoinHint struct {
	Left  ColumnRef
	Right ColumnRef
	Raw   string // normalized predicate text, left = right
}

// Branch is one conditional fragment. When Unresolved is set the condition
// text could not be reduced to SQL and must render as a guarded NULL branch.
type Branch struct {
	When       string // condition SQL, empty for a bare ELSE fragment
	Then       string // value SQL
	IsElse     bool
	Unresolved bool
	Raw        string
}

// Rule is the structured interpretation of one mapping row. A row can carry
// several intents at once (e.g. a business rule that both excludes records
// and hints a join).
type Rule struct {
	Row        mapping.Row
	Intents    []Kind
	Exclusions []string    // conjunctive row-filter predicates, SQL text
	Notes      []string    // exclusion/dedup prose kept for the audit trail
	DedupKeys  []ColumnRef // business-key columns for uniqueness windows
	Static     string      // SQL literal for a static assignment
	Branches   []Branch    // conditional fragments in encounter order
	JoinHints  []JoinHint
	Refs       []ColumnRef // every alias.COLUMN seen across the row's text
	Residual   string      // expression text that matched no trigger
}

// Has reports whether the rule carries the given intent tag.
func (r *Rule) Has(k Kind) bool {
	for _, i := range r.Intents {
		if i == k {
			return true
		}
	}
	return false
}

func (r *Rule) tag(k Kind) {
	if !r.Has(k) {
		r.Intents = append(r.Intents, k)
	}
}

var (
	qualIDRx = regexp.MustCompile(`\b([A-Za-z][A-Za-z0-9_]*)\.([A-Za-z][A-Za-z0-9_]*)\b`)
	eqPairRx = regexp.MustCompile(`\b([A-Za-z_]\w*)\.(\w+)\s*=\s*([A-Za-z_]\w*)\.(\w+)`)
	spacesRx = regexp.MustCompile(`\s+`)

	dupKeyRx    = regexp.MustCompile(`(?i)\bduplicate(?:s)?\b[^A-Za-z0-9_]*(?:on\s+|by\s+|record(?:s)?\s+on\s+)?([A-Za-z][A-Za-z0-9_]*)\.([A-Za-z][A-Za-z0-9_]*)`)
	allSpacesRx = regexp.MustCompile(`(?i)\b([A-Za-z][A-Za-z0-9_]*)\.([A-Za-z][A-Za-z0-9_]*)\b[^=<>]*\ball\s+spaces\b`)
	notEqLitRx  = regexp.MustCompile(`(?i)\b([A-Za-z][A-Za-z0-9_]*)\.([A-Za-z][A-Za-z0-9_]*)\s*<>\s*'([^']*)'`)
	whenSplitRx = regexp.MustCompile(`(?i)\bwhen\b`)
	thenSplitRx = regexp.MustCompile(`(?i)\bthen\b`)
	elseRx      = regexp.MustCompile(`(?is)\belse\b(.*?)(?:\bend\b|$)`)
	trailEndRx  = regexp.MustCompile(`(?i)\bend\s*$`)
	condOpRx    = regexp.MustCompile(`(?i)(=|<>|>=|<=|>|<|\bis\s+not\s+null\b|\bis\s+null\b|\blike\b|\bin\s*\()`)
	ifThenRx    = regexp.MustCompile(`(?is)^\s*if\b(.*?)\bthen\b(.+)$`)
)

// Squash collapses runs of whitespace to single spaces.
func Squash(s string) string {
	return strings.TrimSpace(spacesRx.ReplaceAllString(s, " "))
}

// cleanFreeText strips trailing developer-note noise that commonly follows a
// usable rule ("... log an exception and continue").
func cleanFreeText(s string) string {
	s = regexp.MustCompile(`(?i)\blog an exception.*`).ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Refs extracts every qualified column token from the text, first-seen order.
func Refs(text string) []ColumnRef {
	var out []ColumnRef
	seen := map[string]bool{}
	for _, m := range qualIDRx.FindAllStringSubmatch(text, -1) {
		// Skip lineage noise like "i.e" and decimal-looking tokens.
		if strings.EqualFold(m[1], "i") || strings.EqualFold(m[2], "e") {
			continue
		}
		key := strings.ToLower(m[1] + "." + m[2])
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, ColumnRef{Qualifier: m[1], Column: m[2]})
	}
	return out
}

// EqualityPairs extracts alias.col = alias.col predicates from the text.
func EqualityPairs(text string) []JoinHint {
	var out []JoinHint
	for _, m := range eqPairRx.FindAllStringSubmatch(text, -1) {
		h := JoinHint{
			Left:  ColumnRef{Qualifier: m[1], Column: m[2]},
			Right: ColumnRef{Qualifier: m[3], Column: m[4]},
		}
		h.Raw = fmt.Sprintf("%s = %s", h.Left, h.Right)
		out = append(out, h)
	}
	return out
}

// conditionParses reports whether a condition fragment looks like SQL we can
// emit as-is: it must reference a qualified column and contain a comparison.
func conditionParses(cond string) bool {
	return len(Refs(cond)) > 0 && condOpRx.MatchString(cond)
}

// parseConditional splits CASE-like or "If ... then ..." text into ordered
// branches. Unparseable conditions are kept, flagged Unresolved.
func parseConditional(text string) []Branch {
	core, _ := ExtractCaseCore(text)
	body := core
	if m := regexp.MustCompile(`(?is)^\s*case\b`).FindString(body); m != "" {
		body = body[len(m):]
	} else if m := ifThenRx.FindStringSubmatch(body); m != nil {
		b := Branch{When: Squash(m[1]), Then: Squash(m[2]), Raw: Squash(text)}
		b.Unresolved = !conditionParses(b.When)
		return []Branch{b}
	}

	var out []Branch
	var elseBranch *Branch
	if m := elseRx.FindStringSubmatch(body); m != nil {
		elseBranch = &Branch{Then: Squash(m[1]), IsElse: true, Raw: Squash(m[0])}
		if i := strings.Index(body, m[0]); i >= 0 {
			body = body[:i]
		}
	}
	segs := whenSplitRx.Split(body, -1)
	for _, seg := range segs[1:] {
		parts := thenSplitRx.Split(seg, 2)
		if len(parts) != 2 {
			continue
		}
		val := Squash(trailEndRx.ReplaceAllString(parts[1], ""))
		b := Branch{When: Squash(parts[0]), Then: val, Raw: Squash(seg)}
		b.Unresolved = !conditionParses(b.When)
		out = append(out, b)
	}
	if elseBranch != nil {
		out = append(out, *elseBranch)
	}
	return out
}

// looksConditional reports whether text carries a conditional trigger.
func looksConditional(text string) bool {
	t := strings.ToLower(text)
	if strings.Contains(t, "case") && strings.Contains(t, "when") {
		return true
	}
	if ifThenRx.MatchString(text) {
		return true
	}
	// Fragments from redundantly-defined columns: "x THEN y" / "ELSE y".
	return regexp.MustCompile(`(?i)\bthen\b`).MatchString(text) ||
		regexp.MustCompile(`(?i)^\s*else\b`).MatchString(text)
}

// parseFragment handles branch fragments that omit CASE/WHEN, e.g.
// "ref.sm_SECURITY_CODE IS NOT NULL THEN RTRIM(ref.FUND_DESC)" or
// "ELSE RTRIM(mas.SRSHSBESE)".
func parseFragment(text string) []Branch {
	t := Squash(text)
	if m := regexp.MustCompile(`(?is)^else\b(.*)$`).FindStringSubmatch(t); m != nil {
		v := strings.TrimSuffix(Squash(m[1]), "END")
		return []Branch{{Then: Squash(v), IsElse: true, Raw: t}}
	}
	if m := regexp.MustCompile(`(?is)^(.*?)\bthen\b(.*)$`).FindStringSubmatch(t); m != nil {
		cond := Squash(strings.TrimPrefix(strings.TrimSpace(m[1]), "WHEN "))
		cond = Squash(regexp.MustCompile(`(?i)^when\b`).ReplaceAllString(cond, ""))
		val := Squash(regexp.MustCompile(`(?i)\bend\s*$`).ReplaceAllString(m[2], ""))
		b := Branch{When: cond, Then: val, Raw: t}
		b.Unresolved = !conditionParses(cond)
		return []Branch{b}
	}
	return nil
}

// Interpret classifies one mapping row. All three free-text fields are
// scanned; trigger order follows the original analyst conventions, most
// specific first.
func Interpret(row mapping.Row) *Rule {
	r := &Rule{Row: row}

	biz := cleanFreeText(row.BusinessRule)
	join := cleanFreeText(row.JoinClause)
	trans := cleanFreeText(row.Transform)

	for _, t := range []string{join, biz, trans} {
		r.Refs = appendRefs(r.Refs, Refs(t))
	}

	// Join hints: explicit join clauses plus equality pairs buried anywhere.
	if join != "" {
		if hints := JoinHintsFromText(join); len(hints) > 0 {
			r.JoinHints = append(r.JoinHints, hints...)
			r.tag(KindJoinHint)
		}
	}
	for _, t := range []string{biz, trans} {
		if hasJoinKeyword(t) {
			if hints := JoinHintsFromText(t); len(hints) > 0 {
				r.JoinHints = append(r.JoinHints, hints...)
				r.tag(KindJoinHint)
			}
		}
	}

	interpretBusinessRule(r, biz)
	interpretTransform(r, trans)

	if len(r.Intents) == 0 {
		r.Intents = []Kind{KindUnresolved}
	}
	return r
}

// interpretBusinessRule handles exclusion and dedup triggers.
func interpretBusinessRule(r *Rule, text string) {
	if text == "" {
		return
	}
	low := strings.ToLower(text)

	if m := dupKeyRx.FindStringSubmatch(text); m != nil {
		r.DedupKeys = append(r.DedupKeys, ColumnRef{Qualifier: m[1], Column: m[2]})
		r.tag(KindDedup)
	}

	for _, m := range allSpacesRx.FindAllStringSubmatch(text, -1) {
		r.Exclusions = append(r.Exclusions,
			fmt.Sprintf("TRIM(%s.%s) <> ''", m[1], m[2]))
		r.tag(KindExclusion)
	}

	excluding := strings.Contains(low, "exclude") ||
		strings.Contains(low, "reject the record") ||
		strings.Contains(low, "reject record")
	for _, m := range notEqLitRx.FindAllStringSubmatch(text, -1) {
		// "WHERE x <> 'A' reject the record" means keep only the 'A' rows.
		r.Exclusions = append(r.Exclusions,
			fmt.Sprintf("%s.%s = '%s'", m[1], m[2], m[3]))
		r.tag(KindExclusion)
		excluding = false // predicate captured, no note needed
	}
	if excluding {
		r.Notes = append(r.Notes, Squash(text))
		r.tag(KindExclusion)
	}
}

// interpretTransform handles static assignments, conditionals, and the
// unresolved fallback.
func interpretTransform(r *Rule, text string) {
	if text == "" {
		// Business rules occasionally carry the assignment ("Set to NULL").
		text = cleanFreeText(r.Row.BusinessRule)
		if text == "" || r.Has(KindExclusion) || r.Has(KindDedup) {
			return
		}
	}

	if lit, ok := ParseSetRule(text, r.Row); ok {
		r.Static = lit
		r.tag(KindStaticAssignment)
		return
	}

	if looksConditional(text) {
		branches := parseConditional(text)
		if len(branches) == 0 {
			branches = parseFragment(text)
		}
		if len(branches) > 0 {
			r.Branches = append(r.Branches, branches...)
			r.tag(KindConditional)
			return
		}
	}

	// Bare SQL-ish expression referencing a source column passes through as
	// residual; true prose becomes an unresolved candidate either way.
	if stripped := StripFromJoin(text); stripped != "" && !r.Has(KindJoinHint) {
		r.Residual = Squash(stripped)
		r.tag(KindUnresolved)
	} else if stripped != "" {
		r.Residual = Squash(stripped)
	}
}

func appendRefs(dst, src []ColumnRef) []ColumnRef {
	seen := map[string]bool{}
	for _, c := range dst {
		seen[strings.ToLower(c.String())] = true
	}
	for _, c := range src {
		k := strings.ToLower(c.String())
		if !seen[k] {
			seen[k] = true
			dst = append(dst, c)
		}
	}
	return dst
}

func hasJoinKeyword(t string) bool {
	low := " " + strings.ToLower(t) + " "
	return strings.Contains(low, " join ") || strings.Contains(low, " with ")
}
