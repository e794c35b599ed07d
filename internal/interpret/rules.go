package interpret

import (
	"regexp"
	"strings"

	"github.com/leapstack-labs/leapmap/internal/mapping"
)

// SourcePlaceholder stands in for the (not yet aliased) source column inside
// interpreted expressions. The expression compiler substitutes the entity
// alias once the source graph is built.
const SourcePlaceholder = "{src}"

// TableAlias is a (table, alias) pair mined from FROM/JOIN phrases.
type TableAlias struct {
	Table string
	Alias string
}

var (
	fromJoinRx = regexp.MustCompile(`(?i)\b(?:from|join)\s+([A-Za-z0-9_\.]+)\s+([A-Za-z][A-Za-z0-9_]*)\b`)
	caseSegRx  = regexp.MustCompile(`(?is)(case\b.*?\bend)`)
	setToRx    = regexp.MustCompile(`(?i)\bset(?:\s+\w+)?\s+to\s+(.+)$`)
	isoDateRx  = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	intRx      = regexp.MustCompile(`^[+-]?\d+$`)
	decRx      = regexp.MustCompile(`^[+-]?\d+\.\d+$`)
	parenRx    = regexp.MustCompile(`\s*\([^)]*\)\s*$`)
	defaultRx  = regexp.MustCompile(`(?i)(?:if|when)\s+(?:the\s+)?(?:\w+\s+is\s+)?(blank|empty|null|missing)\b[^a-z0-9]+(?:then|use|set|assign|pass|default(?:\s+to)?)\s+('?[-\w\.]+'?)`)
	numericRx  = regexp.MustCompile(`(?i)(?:not\s+)?numeric\b.*?(?:else|default(?:\s+to)?|then)\s+('?[-\w\.]+'?)`)
	dateChkRx  = regexp.MustCompile(`(?i)(?:not\s+a?\s*valid\s+date|fails?\s+date\s+parse)\b.*?(?:else|default(?:\s+to)?|then)\s+('?[-\w\.]+'?)`)
)

// badAliases are tokens that follow FROM/JOIN but are never an alias.
var badAliases = map[string]bool{
	"on": true, "with": true, "join": true, "as": true, "using": true,
	"left": true, "inner": true, "right": true, "full": true,
	"where": true, "and": true, "or": true, "select": true,
}

// genericAliases are analyst shorthands too ambiguous to keep; the graph
// builder swaps them for configured defaults.
var genericAliases = map[string]bool{
	"ref": true, "ref1": true, "ref2": true, "ref3": true, "ref4": true,
}

// IsGenericAlias reports whether the alias is an ambiguous shorthand.
func IsGenericAlias(a string) bool { return genericAliases[strings.ToLower(a)] }

// AliasHints mines (table, alias) pairs from free text. Qualified tables keep
// only their leaf name; the pairs are reported first-seen with duplicates
// collapsed.
func AliasHints(text string) []TableAlias {
	var out []TableAlias
	seen := map[string]bool{}
	for _, m := range fromJoinRx.FindAllStringSubmatch(Squash(text), -1) {
		tbl, alias := m[1], strings.ToLower(m[2])
		if badAliases[alias] {
			continue
		}
		parts := strings.Split(tbl, ".")
		leaf := strings.ToLower(parts[len(parts)-1])
		if leaf == "" || seen[leaf] {
			continue
		}
		seen[leaf] = true
		out = append(out, TableAlias{Table: leaf, Alias: alias})
	}
	return out
}

var substrEqRx = regexp.MustCompile(`(?i)substring\(\s*([A-Za-z_]\w*)\.(\w+)\s*,\s*(\d+)\s*,\s*(\d+)\s*\)\s*=\s*([A-Za-z_]\w*)\.(\w+)`)

// JoinHintsFromText extracts candidate join predicates: every pair of
// qualified column tokens connected by "=", plus the substring-key variant
// analysts use for composite send codes.
func JoinHintsFromText(text string) []JoinHint {
	var out []JoinHint
	seen := map[string]bool{}
	add := func(h JoinHint) {
		k := strings.ToLower(h.Raw)
		if !seen[k] {
			seen[k] = true
			out = append(out, h)
		}
	}
	t := Squash(text)
	for _, h := range EqualityPairs(t) {
		add(h)
	}
	for _, m := range substrEqRx.FindAllStringSubmatch(t, -1) {
		h := JoinHint{
			Left:  ColumnRef{Qualifier: m[1], Column: m[2]},
			Right: ColumnRef{Qualifier: m[5], Column: m[6]},
		}
		h.Raw = "substring(" + h.Left.String() + ", " + m[3] + ", " + m[4] + ") = " + h.Right.String()
		add(h)
	}
	return out
}

// StripFromJoin cuts trailing FROM/JOIN clauses off an expression so a SELECT
// fragment pasted with its source context compiles as a bare expression.
func StripFromJoin(expr string) string {
	e := regexp.MustCompile(`(?i)\s+\bfrom\b`).Split(expr, 2)[0]
	e = regexp.MustCompile(`(?i)\s+(left|inner|right|full)\s+join\b`).Split(e, 2)[0]
	return strings.TrimSpace(e)
}

// ExtractCaseCore returns the CASE…END block of the text and, when trailing
// FROM/JOIN context was chopped off, a comment preserving it.
func ExtractCaseCore(text string) (core string, contextComment string) {
	t := Squash(text)
	if t == "" {
		return "", ""
	}
	clean := StripFromJoin(t)
	if seg := caseSegRx.FindString(clean); seg != "" {
		core = strings.TrimSpace(seg)
	} else {
		core = clean
	}
	if rest := strings.TrimSpace(strings.TrimPrefix(t, clean)); rest != "" {
		contextComment = "-- source context preserved: " + Squash(rest)
	}
	return core, contextComment
}

// ParseSetRule converts "Set to …", "Straight move", and the cast/default
// idioms into SQL. The second return is false when the text is not a
// recognized assignment.
func ParseSetRule(text string, row mapping.Row) (string, bool) {
	t := strings.TrimSpace(text)
	if t == "" {
		return "", false
	}
	low := strings.ToLower(t)

	if strings.Contains(low, "set to null") {
		return "NULL", true
	}
	if strings.Contains(low, "current_timestamp") {
		return "CURRENT_TIMESTAMP()", true
	}
	if strings.Contains(low, "etl.effective.start.date") {
		return `TO_DATE('${etl.effective.start.date}', 'yyyyMMddHHmmss')`, true
	}

	// Type-coercion idioms keep the declared fallback literal.
	if m := numericRx.FindStringSubmatch(low); m != nil {
		return "COALESCE(TRY_CAST(" + SourcePlaceholder + " AS DECIMAL(17,2)), " + normalizeLiteral(m[1]) + ")", true
	}
	if m := dateChkRx.FindStringSubmatch(low); m != nil {
		return "COALESCE(TRY_CAST(" + SourcePlaceholder + " AS DATE), " + normalizeLiteral(m[1]) + ")", true
	}
	if m := defaultRx.FindStringSubmatch(low); m != nil {
		return "COALESCE(" + SourcePlaceholder + ", " + normalizeLiteral(m[2]) + ")", true
	}

	// Literal dates.
	if d := isoDateRx.FindString(t); d != "" && !strings.Contains(low, "join") {
		if strings.Contains(low, "cast") {
			return "CAST('" + d + "' AS DATE)", true
		}
		return "'" + d + "'", true
	}

	if m := setToRx.FindStringSubmatch(t); m != nil {
		return normalizeSetValue(m[1]), true
	}

	if strings.Contains(low, "straight move") {
		if isDateLike(row.TargetType) || regexp.MustCompile(`(?i)yyyy[-/]mm[-/]dd|date\s*field`).MatchString(low) {
			return "TO_DATE(" + SourcePlaceholder + ", 'yyyy-MM-dd')", true
		}
		return SourcePlaceholder, true
	}

	return "", false
}

// normalizeSetValue reduces the right-hand side of a "Set to X" rule to a SQL
// literal: trailing notes and comment markers stripped, leading plus signs and
// zeros dropped from integers, plus-prefixed codes and bare words quoted.
func normalizeSetValue(val string) string {
	v := strings.TrimSpace(val)
	v = regexp.MustCompile(`--.*`).ReplaceAllString(v, "")
	v = parenRx.ReplaceAllString(v, "")
	v = strings.TrimSpace(strings.TrimSuffix(v, "."))

	if strings.EqualFold(v, "null") {
		return "NULL"
	}
	if regexp.MustCompile(`^\+?0*\d+$`).MatchString(v) {
		num := strings.TrimLeft(v, "+0")
		if num == "" {
			num = "0"
		}
		return num
	}
	if intRx.MatchString(v) || decRx.MatchString(v) {
		return v
	}
	if strings.HasPrefix(v, "+") {
		return "'" + v + "'"
	}
	if regexp.MustCompile(`^'[^']*'$`).MatchString(v) {
		return v
	}
	return "'" + strings.Trim(v, `'"`) + "'"
}

func normalizeLiteral(v string) string {
	v = strings.TrimSpace(v)
	if strings.EqualFold(v, "null") {
		return "NULL"
	}
	if intRx.MatchString(v) || decRx.MatchString(v) {
		return v
	}
	return "'" + strings.Trim(v, `'"`) + "'"
}

func isDateLike(datatype string) bool {
	d := strings.ToLower(datatype)
	return strings.Contains(d, "date") || strings.Contains(d, "timestamp")
}
