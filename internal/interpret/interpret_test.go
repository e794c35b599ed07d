package interpret

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/internal/mapping"
)

func TestParseSetRule(t *testing.T) {
	dateRow := mapping.Row{TargetType: "DATE"}

	tests := []struct {
		name string
		text string
		row  mapping.Row
		want string
		ok   bool
	}{
		{name: "set to null", text: "Set to NULL", want: "NULL", ok: true},
		{name: "current timestamp", text: "set to current_timestamp", want: "CURRENT_TIMESTAMP()", ok: true},
		{name: "etl start date", text: "Set to etl.effective.start.date", want: `TO_DATE('${etl.effective.start.date}', 'yyyyMMddHHmmss')`, ok: true},
		{name: "zero padded int", text: "Set to +000", want: "0", ok: true},
		{name: "padded int", text: "Set to 007", want: "7", ok: true},
		{name: "plus code quoted", text: "Set to +C", want: "'+C'", ok: true},
		{name: "bare word quoted", text: "Set to CAD", want: "'CAD'", ok: true},
		{name: "trailing note stripped", text: "Set to 1 (hard coded per analyst)", want: "1", ok: true},
		{name: "iso date with cast", text: "cast '2020-01-01' as date", want: "CAST('2020-01-01' AS DATE)", ok: true},
		{name: "straight move", text: "Straight move", want: SourcePlaceholder, ok: true},
		{name: "straight move date", text: "Straight move", row: dateRow, want: "TO_DATE(" + SourcePlaceholder + ", 'yyyy-MM-dd')", ok: true},
		{name: "numeric fallback", text: "if not numeric then 0", want: "COALESCE(TRY_CAST(" + SourcePlaceholder + " AS DECIMAL(17,2)), 0)", ok: true},
		{name: "blank default", text: "If blank then use 'N'", want: "COALESCE(" + SourcePlaceholder + ", 'N')", ok: true},
		{name: "prose is not a set rule", text: "Derive from the broker reference data", want: "", ok: false},
		{name: "empty", text: "", want: "", ok: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ParseSetRule(tt.text, tt.row)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAliasHints(t *testing.T) {
	text := "select * FROM OSSBR_2_1 mas LEFT JOIN schema.OSSBR_BRKG brk ON mas.id = brk.id JOIN other ref"
	hints := AliasHints(text)
	require.Len(t, hints, 3)
	assert.Equal(t, TableAlias{Table: "ossbr_2_1", Alias: "mas"}, hints[0])
	assert.Equal(t, TableAlias{Table: "ossbr_brkg", Alias: "brk"}, hints[1])
	assert.Equal(t, TableAlias{Table: "other", Alias: "ref"}, hints[2])
	assert.True(t, IsGenericAlias("ref"))
	assert.False(t, IsGenericAlias("mas"))
}

func TestAliasHints_SkipsKeywordAliases(t *testing.T) {
	hints := AliasHints("FROM tbl_a LEFT JOIN tbl_b ON tbl_a.k = tbl_b.k")
	// "LEFT" and "ON" must not be mistaken for aliases.
	for _, h := range hints {
		assert.NotContains(t, []string{"left", "on"}, h.Alias)
	}
}

func TestJoinHintsFromText(t *testing.T) {
	hints := JoinHintsFromText("join on mas.acct_id = brk.acct_id and substring(mas.send_cd, 1, 4) = ref.plan_cd")
	require.Len(t, hints, 2)
	assert.Equal(t, "mas.acct_id = brk.acct_id", hints[0].Raw)
	assert.Equal(t, "substring(mas.send_cd, 1, 4) = ref.plan_cd", hints[1].Raw)

	// Repeats collapse.
	hints = JoinHintsFromText("mas.a = brk.a and mas.a = brk.a")
	assert.Len(t, hints, 1)
}

func TestExtractCaseCore(t *testing.T) {
	core, comment := ExtractCaseCore("CASE WHEN mas.cd = 'A' THEN 1 ELSE 0 END FROM OSSBR_2_1 mas")
	assert.Equal(t, "CASE WHEN mas.cd = 'A' THEN 1 ELSE 0 END", core)
	assert.Contains(t, comment, "-- source context preserved:")
	assert.Contains(t, comment, "FROM OSSBR_2_1 mas")

	core, comment = ExtractCaseCore("CASE WHEN x.a = 1 THEN 2 END")
	assert.Equal(t, "CASE WHEN x.a = 1 THEN 2 END", core)
	assert.Empty(t, comment)
}

func TestInterpret_Exclusions(t *testing.T) {
	r := Interpret(mapping.Row{
		TargetColumn: "acct_id",
		BusinessRule: "If mas.acct_id is all spaces reject the record",
	})
	require.True(t, r.Has(KindExclusion))
	require.Len(t, r.Exclusions, 1)
	assert.Equal(t, "TRIM(mas.acct_id) <> ''", r.Exclusions[0])
}

func TestInterpret_FlippedNotEqual(t *testing.T) {
	r := Interpret(mapping.Row{
		TargetColumn: "rec_type",
		BusinessRule: "where mas.rec_type <> 'T' exclude the record",
	})
	require.True(t, r.Has(KindExclusion))
	require.Len(t, r.Exclusions, 1)
	// Keep only the rows the rule names; the exclusion flips.
	assert.Equal(t, "mas.rec_type = 'T'", r.Exclusions[0])
	assert.Empty(t, r.Notes)
}

func TestInterpret_ExclusionProseKeptAsNote(t *testing.T) {
	r := Interpret(mapping.Row{
		TargetColumn: "x",
		BusinessRule: "Exclude cancelled offers per the ops runbook",
	})
	require.True(t, r.Has(KindExclusion))
	assert.Empty(t, r.Exclusions)
	require.Len(t, r.Notes, 1)
	assert.Contains(t, r.Notes[0], "Exclude cancelled offers")
}

func TestInterpret_Dedup(t *testing.T) {
	r := Interpret(mapping.Row{
		TargetColumn: "offer_id",
		BusinessRule: "Remove duplicates on mas.offer_id",
	})
	require.True(t, r.Has(KindDedup))
	require.Len(t, r.DedupKeys, 1)
	assert.Equal(t, "mas.offer_id", r.DedupKeys[0].String())
}

func TestInterpret_StaticFromBusinessRule(t *testing.T) {
	// Assignment written in the business-rule cell with a blank transform.
	r := Interpret(mapping.Row{TargetColumn: "filler", BusinessRule: "Set to NULL"})
	require.True(t, r.Has(KindStaticAssignment))
	assert.Equal(t, "NULL", r.Static)
}

func TestInterpret_Conditional(t *testing.T) {
	r := Interpret(mapping.Row{
		TargetColumn: "fund_desc",
		Transform:    "CASE WHEN ref.sm_security_code IS NOT NULL THEN RTRIM(ref.fund_desc) ELSE RTRIM(mas.srshsbese) END",
	})
	require.True(t, r.Has(KindConditional))
	require.Len(t, r.Branches, 2)
	assert.Equal(t, "ref.sm_security_code IS NOT NULL", r.Branches[0].When)
	assert.Equal(t, "RTRIM(ref.fund_desc)", r.Branches[0].Then)
	assert.False(t, r.Branches[0].Unresolved)
	assert.True(t, r.Branches[1].IsElse)
	assert.Equal(t, "RTRIM(mas.srshsbese)", r.Branches[1].Then)
}

func TestInterpret_ConditionalFragments(t *testing.T) {
	then := Interpret(mapping.Row{
		TargetColumn: "fund_desc",
		Transform:    "ref.sm_security_code IS NOT NULL THEN RTRIM(ref.fund_desc)",
	})
	require.True(t, then.Has(KindConditional))
	require.Len(t, then.Branches, 1)
	assert.False(t, then.Branches[0].IsElse)

	els := Interpret(mapping.Row{
		TargetColumn: "fund_desc",
		Transform:    "ELSE RTRIM(mas.srshsbese) END",
	})
	require.True(t, els.Has(KindConditional))
	require.Len(t, els.Branches, 1)
	assert.True(t, els.Branches[0].IsElse)
	assert.Equal(t, "RTRIM(mas.srshsbese)", els.Branches[0].Then)
}

func TestInterpret_UnparseableConditionFlagged(t *testing.T) {
	r := Interpret(mapping.Row{
		TargetColumn: "status",
		Transform:    "If the upstream feed arrived late then 'L'",
	})
	require.True(t, r.Has(KindConditional))
	require.Len(t, r.Branches, 1)
	assert.True(t, r.Branches[0].Unresolved)
}

func TestInterpret_ResidualExpression(t *testing.T) {
	r := Interpret(mapping.Row{
		TargetColumn: "amount",
		Transform:    "RTRIM(mas.amt_field) FROM OSSBR_2_1 mas",
	})
	require.True(t, r.Has(KindUnresolved))
	assert.Equal(t, "RTRIM(mas.amt_field)", r.Residual)
}

func TestInterpret_JoinHintsFromJoinClause(t *testing.T) {
	r := Interpret(mapping.Row{
		TargetColumn: "x",
		JoinClause:   "LEFT JOIN OSSBR_BRKG brk ON mas.acct = brk.acct",
	})
	require.True(t, r.Has(KindJoinHint))
	require.Len(t, r.JoinHints, 1)
	assert.Equal(t, "mas.acct = brk.acct", r.JoinHints[0].Raw)
}

func TestInterpret_NoJoinHintWithoutKeyword(t *testing.T) {
	// An equality in prose without join context stays out of the hints.
	r := Interpret(mapping.Row{
		TargetColumn: "x",
		BusinessRule: "mas.a = brk.a only when reconciling",
	})
	assert.False(t, r.Has(KindJoinHint))
}

func TestRefs(t *testing.T) {
	refs := Refs("use mas.acct_id, i.e. brk.acct_id joined with mas.acct_id again")
	require.Len(t, refs, 2)
	assert.Equal(t, "mas.acct_id", refs[0].String())
	assert.Equal(t, "brk.acct_id", refs[1].String())
}

func TestCleanFreeText(t *testing.T) {
	got := cleanFreeText("Set to 1. Log an exception and continue processing")
	assert.Equal(t, "Set to 1.", got)
}
