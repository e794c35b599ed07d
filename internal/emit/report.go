package emit

import (
	"fmt"
	"regexp"
	"strings"
)

// Warning is one structural concern found in emitted SQL. Warnings never
// block emission; they exist so reviewers know where to look first.
type Warning struct {
	Check   string
	Message string
}

func (w Warning) String() string {
	return w.Check + ": " + w.Message
}

var (
	caseRx      = regexp.MustCompile(`(?i)\bCASE\b`)
	endRx       = regexp.MustCompile(`(?i)\bEND\b`)
	joinAliasRx = regexp.MustCompile(`(?i)\bJOIN\s+(\S+)\s+(\w+)\s+ON\b`)
	bareJoinRx  = regexp.MustCompile(`(?i)\bJOIN\b`)
	onRx        = regexp.MustCompile(`(?i)\bON\b`)

	fromScopeRx  = regexp.MustCompile(`(?i)\bFROM[ \t]+([A-Za-z_][\w.]*)(?:[ \t]+([A-Za-z_]\w*))?`)
	joinOnLineRx = regexp.MustCompile(`(?i)\bJOIN[ \t]+([A-Za-z_][\w.]*)(?:[ \t]+([A-Za-z_]\w*))?[ \t]+ON[ \t]+([^\n]*)`)
	qualifierRx  = regexp.MustCompile(`\b([A-Za-z_]\w*)\.[A-Za-z_]`)
	stringLitRx  = regexp.MustCompile(`'[^']*'`)
)

// CheckSQL runs lightweight structural checks over an emitted SQL artifact:
// unbalanced CASE/END, mismatched parentheses, duplicate join aliases, and
// joins missing an ON clause.
func CheckSQL(sql string) []Warning {
	var warns []Warning
	stripped := stripSQLComments(sql)

	if c, e := len(caseRx.FindAllString(stripped, -1)), len(endRx.FindAllString(stripped, -1)); c != e {
		warns = append(warns, Warning{
			Check:   "case_end_balance",
			Message: fmt.Sprintf("%d CASE vs %d END", c, e),
		})
	}
	if open, closed := strings.Count(stripped, "("), strings.Count(stripped, ")"); open != closed {
		warns = append(warns, Warning{
			Check:   "paren_balance",
			Message: fmt.Sprintf("%d open vs %d close parentheses", open, closed),
		})
	}

	seen := map[string]bool{}
	for _, m := range joinAliasRx.FindAllStringSubmatch(stripped, -1) {
		alias := strings.ToLower(m[2])
		if seen[alias] {
			warns = append(warns, Warning{
				Check:   "duplicate_join_alias",
				Message: "alias " + alias + " joined more than once",
			})
		}
		seen[alias] = true
	}

	if j, o := len(bareJoinRx.FindAllString(stripped, -1)), len(onRx.FindAllString(stripped, -1)); j > o {
		warns = append(warns, Warning{
			Check:   "join_missing_on",
			Message: fmt.Sprintf("%d JOIN vs %d ON", j, o),
		})
	}
	warns = append(warns, joinScopeWarnings(stripped)...)
	return warns
}

// joinScopeWarnings flags ON predicates that qualify columns with an alias
// the join chain never introduced. Scanning starts at the join CTE when one
// is present; staging CTE aliases only count once the chain pulls them in.
func joinScopeWarnings(stripped string) []Warning {
	region := stripped
	if i := strings.Index(region, "step1 AS ("); i >= 0 {
		region = region[i:]
	}

	scope := map[string]bool{}
	flagged := map[string]bool{}
	var warns []Warning
	for _, line := range strings.Split(region, "\n") {
		if m := fromScopeRx.FindStringSubmatch(line); m != nil {
			scope[strings.ToLower(m[1])] = true
			if m[2] != "" {
				scope[strings.ToLower(m[2])] = true
			}
		}
		for _, m := range joinOnLineRx.FindAllStringSubmatch(line, -1) {
			scope[strings.ToLower(m[1])] = true
			if m[2] != "" {
				scope[strings.ToLower(m[2])] = true
			}
			pred := stringLitRx.ReplaceAllString(m[3], "''")
			for _, q := range qualifierRx.FindAllStringSubmatch(pred, -1) {
				alias := strings.ToLower(q[1])
				if scope[alias] || flagged[alias] {
					continue
				}
				flagged[alias] = true
				warns = append(warns, Warning{
					Check:   "join_scope",
					Message: "predicate references alias " + alias + " before it joins",
				})
			}
		}
	}
	return warns
}

// stripSQLComments removes line and block comments so literal keywords inside
// preserved source context do not skew the counts.
func stripSQLComments(sql string) string {
	var sb strings.Builder
	inLine, inBlock := false, false
	for i := 0; i < len(sql); i++ {
		switch {
		case inLine:
			if sql[i] == '\n' {
				inLine = false
				sb.WriteByte('\n')
			}
		case inBlock:
			if sql[i] == '*' && i+1 < len(sql) && sql[i+1] == '/' {
				inBlock = false
				i++
			}
		case sql[i] == '-' && i+1 < len(sql) && sql[i+1] == '-':
			inLine = true
			i++
		case sql[i] == '/' && i+1 < len(sql) && sql[i+1] == '*':
			inBlock = true
			i++
		default:
			sb.WriteByte(sql[i])
		}
	}
	return sb.String()
}
