package emit

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/internal/compile"
	"github.com/leapstack-labs/leapmap/internal/graph"
	"github.com/leapstack-labs/leapmap/internal/interpret"
	"github.com/leapstack-labs/leapmap/internal/lookup"
	"github.com/leapstack-labs/leapmap/internal/mapping"
)

func testModel(t *testing.T) *compile.Model {
	t.Helper()
	rows := []mapping.Row{
		{Index: 0, SourceTable: "ossbr_2_1", SourceColumn: "offer_id", TargetColumn: "offer_id", TargetType: "BIGINT",
			Transform:    "Straight move",
			JoinClause:   "FROM OSSBR_2_1 mas LEFT JOIN OSSBR_BRKG brk ON mas.acct = brk.acct",
			BusinessRule: "Remove duplicates on mas.offer_id"},
		{Index: 1, SourceTable: "ossbr_2_1", SourceColumn: "crncy", TargetColumn: "curncy_cd", TargetType: "STRING",
			Transform: "Straight move"},
		{Index: 2, SourceTable: "ossbr_2_1", TargetColumn: "final_offer_dt", TargetType: "DATE",
			Transform: "Set to NULL"},
		{Index: 3, SourceTable: "ossbr_brkg", SourceColumn: "rec_type", TargetColumn: "rec_type",
			BusinessRule: "where brk.rec_type <> 'T' exclude the record",
			Transform:    "Straight move"},
	}
	rules := make([]*interpret.Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, interpret.Interpret(r))
	}
	g := graph.Build(rows, rules)
	graph.Synthesize(g, rules)
	m := compile.Compile("client_offer", "mcb", rows, rules, g, compile.Options{})

	catalog := &lookup.Catalog{Malcodes: map[string][]lookup.View{
		"mcb": {{
			Name: "lk_mcb_cd", Domains: []string{"curncy_cd"},
			SourceValue: "source_value1", CodeName: "stndrd_cd_name", CodeValue: "stndrd_cd_value",
		}},
	}}
	lookup.Resolve(m, catalog, nil)
	return m
}

func TestViewName(t *testing.T) {
	m := &compile.Model{TargetTable: "Client_Offer", Malcode: "MCB"}
	assert.Equal(t, "dt_mcb_client_offer", ViewName(m))
}

func TestBuildSQL_Shape(t *testing.T) {
	m := testModel(t)
	sql := BuildSQL(m)

	assert.True(t, strings.HasPrefix(sql, "-- view: dt_mcb_client_offer\n"))
	assert.True(t, strings.HasSuffix(sql, ";\n"))

	// Staging CTEs carry filters and the dedup window.
	assert.Contains(t, sql, "mas AS (\n  SELECT mas.*\n  FROM ossbr_2_1 mas")
	assert.Contains(t, sql, "QUALIFY ROW_NUMBER() OVER (PARTITION BY mas.offer_id ORDER BY mas.offer_id) = 1")
	assert.Contains(t, sql, "TODO: replace default tie-break")
	assert.Contains(t, sql, "WHERE brk.rec_type = 'T'")

	// Join CTE and projection.
	assert.Contains(t, sql, "step1 AS (\n  SELECT mas.*\n  FROM mas\n  LEFT JOIN brk ON mas.acct = brk.acct")
	assert.Contains(t, sql, "mas.offer_id AS offer_id")
	assert.Contains(t, sql, "CAST(NULL AS DATE) AS final_offer_dt")

	// Lookup join rides after FROM step1 with the wrapped projection.
	assert.Contains(t, sql, "CAST(CASE WHEN lk_mcb_cd.stndrd_cd_name = 'curncy_cd' THEN lk_mcb_cd.stndrd_cd_value ELSE mas.crncy END AS STRING) AS curncy_cd")
	assert.Contains(t, sql, "LEFT JOIN lk_mcb_cd lk_mcb_cd ON mas.crncy = lk_mcb_cd.source_value1 AND lk_mcb_cd.stndrd_cd_name = 'curncy_cd'")
}

func TestBuildSQL_NonBaseJoinPairStaysInScope(t *testing.T) {
	rows := []mapping.Row{
		{Index: 0, SourceTable: "mas_tbl", SourceColumn: "offer_id", TargetColumn: "offer_id", TargetType: "BIGINT",
			Transform: "Straight move"},
		{Index: 1, SourceTable: "mas_tbl", SourceColumn: "ind", TargetColumn: "ind",
			JoinClause: "FROM TBL_A aa JOIN TBL_B bb ON aa.k = bb.k",
			Transform:  "Straight move"},
	}
	rules := make([]*interpret.Rule, 0, len(rows))
	for _, r := range rows {
		rules = append(rules, interpret.Interpret(r))
	}
	g := graph.Build(rows, rules)
	graph.Synthesize(g, rules)
	m := compile.Compile("offer_ind", "mcb", rows, rules, g, compile.Options{})

	sql := BuildSQL(m)

	// A join between two non-base entities must not reference an alias the
	// chain never brought in: the left endpoint is guard-joined first.
	guard := strings.Index(sql, "LEFT JOIN aa ON 1 = 1")
	ref := strings.Index(sql, "LEFT JOIN bb ON aa.k = bb.k")
	require.NotEqual(t, -1, guard)
	require.NotEqual(t, -1, ref)
	assert.Less(t, guard, ref)
	assert.Empty(t, CheckSQL(sql))
}

func TestBuildSQL_Deterministic(t *testing.T) {
	a := BuildSQL(testModel(t))
	b := BuildSQL(testModel(t))
	assert.Equal(t, a, b)
}

func TestBuildJob(t *testing.T) {
	m := testModel(t)
	job := BuildJob(m, "job-123", "dt_mcb_client_offer.sql")

	assert.Equal(t, "job-123", job.JobID)
	assert.Equal(t, "mcb", job.SourceMalcode)
	assert.Equal(t, "ossbr_2_1", job.BaseEntity)

	require.Len(t, job.Joins, 1)
	assert.Equal(t, "ossbr_brkg", job.Joins[0].Right)

	require.Len(t, job.DerivedColumns, len(m.Columns))
	byTarget := map[string]JobColumn{}
	for _, c := range job.DerivedColumns {
		byTarget[c.Target] = c
	}
	assert.True(t, byTarget["curncy_cd"].Coded)
	assert.True(t, byTarget["curncy_cd"].Lookup)
	assert.False(t, byTarget["offer_id"].Lookup)

	require.Len(t, job.StaticAssignments, 1)
	assert.Equal(t, "final_offer_dt", job.StaticAssignments[0].Target)

	require.Len(t, job.Lookups, 1)
	assert.Equal(t, []string{"curncy_cd"}, job.Lookups[0].Domains)

	assert.Equal(t, "@dt_mcb_client_offer.sql", job.Modules.Transformation.SQL)
	assert.Contains(t, job.Modules.DataSourcing.SourceList, "ossbr_brkg")
	assert.Equal(t, "delta", job.Modules.LoadEnrich.TargetFormat)

	data, err := MarshalJob(job)
	require.NoError(t, err)
	assert.True(t, json.Valid(data))
	assert.True(t, strings.HasSuffix(string(data), "\n"))
}

func TestBuildAudit(t *testing.T) {
	m := testModel(t)
	md := string(BuildAudit(m))

	assert.Contains(t, md, "# Transformation Rules Audit")
	assert.Contains(t, md, "`client_offer`")
	assert.Contains(t, md, "| Row |")
	assert.Contains(t, md, "Straight move")

	// One audit row per projection column.
	lines := strings.Split(md, "\n")
	dataRows := 0
	for _, l := range lines {
		if strings.HasPrefix(l, "| ") && !strings.HasPrefix(l, "| Row") && !strings.HasPrefix(l, "| ---") {
			dataRows++
		}
	}
	assert.Equal(t, len(m.Columns), dataRows)
}

func TestBuildSourceReport(t *testing.T) {
	m := testModel(t)
	md := string(BuildSourceReport(m))

	assert.Contains(t, md, "# Source Interpretation Summary")
	assert.Contains(t, md, "`client_offer`")
	assert.Contains(t, md, "| Source Table |")
	assert.Contains(t, md, "ossbr_2_1")
	assert.Contains(t, md, "base")
	assert.Contains(t, md, "ossbr_brkg")
	// The exclusion filter and the defaulted dedup tie-break both surface.
	assert.Contains(t, md, "brk.rec_type = 'T'")
	assert.Contains(t, md, "no named tie-break")
}

func TestMdCell(t *testing.T) {
	assert.Equal(t, `a\|b<br>c`, mdCell("a|b\nc"))
}

func TestCheckSQL(t *testing.T) {
	clean := BuildSQL(testModel(t))
	assert.Empty(t, CheckSQL(clean))

	warns := CheckSQL("SELECT CASE WHEN a = 1 THEN 2 FROM t JOIN u")
	checks := map[string]bool{}
	for _, w := range warns {
		checks[w.Check] = true
	}
	assert.True(t, checks["case_end_balance"])
	assert.True(t, checks["join_missing_on"])

	warns = CheckSQL("SELECT (a FROM t JOIN u x ON 1=1 LEFT JOIN v x ON 2=2")
	checks = map[string]bool{}
	for _, w := range warns {
		checks[w.Check] = true
	}
	assert.True(t, checks["paren_balance"])
	assert.True(t, checks["duplicate_join_alias"])
}

func TestCheckSQL_JoinScope(t *testing.T) {
	sql := "WITH\naa AS (\n  SELECT aa.*\n  FROM tbl_a aa\n),\n" +
		"step1 AS (\n  SELECT mas.*\n  FROM mas\n  LEFT JOIN bb ON aa.k = bb.k\n)\n" +
		"SELECT mas.x AS x\nFROM step1;\n"

	warns := CheckSQL(sql)
	require.Len(t, warns, 1)
	assert.Equal(t, "join_scope", warns[0].Check)
	assert.Contains(t, warns[0].Message, "aa")
}
