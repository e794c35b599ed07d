package compile

import (
	"regexp"
	"strings"
)

var (
	intLitRx     = regexp.MustCompile(`^[-+]?\d+$`)
	decLitRx     = regexp.MustCompile(`^[-+]?\d+\.\d+$`)
	quotedLitRx  = regexp.MustCompile(`^'[^']*'$`)
	isoDateLitRx = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	tryCastAsRx  = regexp.MustCompile(`(?i)try_cast\([^)]* as ([a-z0-9_()]+,?\s*\d*\)?)`)
	structuredRx = regexp.MustCompile(`(?i)^(CASE|CAST|TRY_CAST|TO_DATE|COALESCE|CURRENT_TIMESTAMP)\b`)
)

// InferDatatype guesses a SQL type for a literal expression when the mapping
// sheet declares none.
func InferDatatype(expr string) string {
	e := strings.ToLower(strings.TrimSpace(expr))
	switch {
	case e == "'y'" || e == "'n'":
		return "STRING"
	case strings.Contains(e, "to_date("):
		return "DATE"
	case strings.Contains(e, "current_timestamp"):
		return "TIMESTAMP"
	}
	if m := tryCastAsRx.FindStringSubmatch(e); m != nil {
		return strings.ToUpper(strings.TrimRight(m[1], ")"))
	}
	switch {
	case decLitRx.MatchString(e):
		return "DECIMAL(17,2)"
	case intLitRx.MatchString(e):
		return "BIGINT"
	case isoDateLitRx.MatchString(strings.Trim(e, "'")) && quotedLitRx.MatchString(e):
		return "DATE"
	default:
		return "STRING"
	}
}

// needsCast reports whether the expression is a bare literal that should be
// wrapped in an explicit cast. Structured expressions are never re-wrapped.
func needsCast(expr string) bool {
	e := strings.TrimSpace(expr)
	if e == "" || structuredRx.MatchString(e) {
		return false
	}
	if strings.EqualFold(e, "NULL") {
		return true
	}
	bare := strings.Trim(e, "'")
	return intLitRx.MatchString(bare) || decLitRx.MatchString(bare) || quotedLitRx.MatchString(e)
}

// castTo wraps a literal in the declared type. Numeric types go through
// TRY_CAST so sheet typos degrade to NULL instead of failing the view.
func castTo(expr, datatype string) string {
	dt := strings.ToUpper(strings.TrimSpace(datatype))
	e := strings.TrimSpace(expr)
	if dt == "" {
		return e
	}
	if strings.EqualFold(e, "NULL") {
		return "CAST(NULL AS " + dt + ")"
	}
	switch {
	case strings.HasPrefix(dt, "DECIMAL"):
		return "COALESCE(TRY_CAST(" + e + " AS " + dt + "), TRY_CAST(NULL AS " + dt + "))"
	case dt == "BIGINT" || dt == "INT" || dt == "INTEGER" || dt == "DOUBLE" || dt == "FLOAT":
		return "TRY_CAST(" + e + " AS " + dt + ")"
	default:
		return "CAST(" + e + " AS " + dt + ")"
	}
}

// CastLiteral applies the declared (or inferred) type to a compiled literal
// expression, leaving structured SQL untouched.
func CastLiteral(expr, declared string) string {
	if !needsCast(expr) {
		return strings.TrimSpace(expr)
	}
	dt := declared
	if dt == "" {
		dt = InferDatatype(expr)
	}
	return castTo(expr, dt)
}
