package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/leapmap/internal/lookup"
	"github.com/leapstack-labs/leapmap/internal/testutil"
)

const sheetCSV = `Source Table/File Name,Source Column/Field Name,Target Table/File Name,Target Column/Field Name,Target DataType,Business Rule,Join Clause,Transformation Rule
OSSBR_2_1,offer_id,client_offer,offer_id,BIGINT,Remove duplicates on mas.offer_id,FROM OSSBR_2_1 mas LEFT JOIN OSSBR_SECMAST ref ON mas.sec_id = ref.sec_id,Straight move
OSSBR_2_1,offer_dt,client_offer,final_offer_dt,DATE,,,Set to NULL
OSSBR_2_1,fund_nm,client_offer,tantrum_na,STRING,,,ref.sm_security_code IS NOT NULL THEN RTRIM(ref.fund_desc)
OSSBR_2_1,fund_nm,client_offer,tantrum_na,STRING,,,ELSE RTRIM(mas.srshsbese) END
OSSBR_2_1,crncy,client_offer,curncy_cd,STRING,,,Straight move
OSSBR_2_1,offer_id,fee_schedule,offer_id,BIGINT,,,Straight move
`

type memStore struct {
	runs []Run
}

func (s *memStore) RecordRun(_ context.Context, run Run) error {
	s.runs = append(s.runs, run)
	return nil
}

func setupOpts(t *testing.T, csv string) (Options, string) {
	t.Helper()
	dir := t.TempDir()
	input := filepath.Join(dir, "mapping.csv")
	require.NoError(t, os.WriteFile(input, []byte(csv), 0o644))
	out := filepath.Join(dir, "out")

	catalog := &lookup.Catalog{Malcodes: map[string][]lookup.View{
		"mcb": {{
			Name: "lk_mcb_cd", Domains: []string{"curncy_cd"},
			SourceValue: "source_value1", CodeName: "stndrd_cd_name", CodeValue: "stndrd_cd_value",
		}},
	}}

	return Options{
		InputPath: input,
		OutDir:    out,
		Malcode:   "mcb",
		JobID:     "job-test",
		Catalog:   catalog,
		Logger:    testutil.NewTestLogger(t),
	}, out
}

func TestGenerate_EndToEnd(t *testing.T) {
	opts, out := setupOpts(t, sheetCSV)
	store := &memStore{}
	opts.Store = store

	results, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, results, 2)

	// Results follow the sheet's first-seen target-table order.
	assert.Equal(t, "client_offer", results[0].TargetTable)
	assert.Equal(t, "fee_schedule", results[1].TargetTable)
	assert.Equal(t, "dt_mcb_client_offer", results[0].ViewName)

	sqlData, err := os.ReadFile(filepath.Join(out, "dt_mcb_client_offer.sql"))
	require.NoError(t, err)
	sql := string(sqlData)

	// Typed NULL static.
	assert.Contains(t, sql, "CAST(NULL AS DATE) AS final_offer_dt")
	// Redundantly-defined column merges into one CASE expression.
	assert.Contains(t, sql, "ELSE RTRIM(mas.srshsbese) END AS tantrum_na")
	assert.Equal(t, 1, strings.Count(sql, "AS tantrum_na"))
	// Coded column defers to the lookup view; the join is emitted once.
	assert.Contains(t, sql, "ELSE mas.crncy END AS STRING) AS curncy_cd")
	assert.Equal(t, 1, strings.Count(sql, "LEFT JOIN lk_mcb_cd"))

	// Audit rows match projection columns.
	audit, err := os.ReadFile(filepath.Join(out, "dt_mcb_client_offer_audit.md"))
	require.NoError(t, err)
	assert.Contains(t, string(audit), "merged 2 variations")

	// Job JSON parses and references the SQL artifact.
	jobData, err := os.ReadFile(filepath.Join(out, "dt_mcb_client_offer_job.json"))
	require.NoError(t, err)
	var job map[string]any
	require.NoError(t, json.Unmarshal(jobData, &job))
	assert.Equal(t, "job-test", job["job_id"])

	// Both target tables recorded.
	require.Len(t, store.runs, 2)
	assert.Equal(t, "succeeded", store.runs[0].Status)
	assert.Equal(t, "job-test", store.runs[0].JobID)

	// The interpretation summary is opt-in and was not requested.
	_, err = os.Stat(filepath.Join(out, "dt_mcb_client_offer_sources.md"))
	assert.True(t, os.IsNotExist(err))
}

func TestGenerate_SourceReport(t *testing.T) {
	opts, out := setupOpts(t, sheetCSV)
	opts.SourceReport = true

	_, err := Generate(context.Background(), opts)
	require.NoError(t, err)

	md, err := os.ReadFile(filepath.Join(out, "dt_mcb_client_offer_sources.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "# Source Interpretation Summary")
	assert.Contains(t, string(md), "ossbr_2_1")
}

func TestGenerate_Idempotent(t *testing.T) {
	opts, out := setupOpts(t, sheetCSV)

	_, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	first, err := os.ReadFile(filepath.Join(out, "dt_mcb_client_offer.sql"))
	require.NoError(t, err)

	_, err = Generate(context.Background(), opts)
	require.NoError(t, err)
	second, err := os.ReadFile(filepath.Join(out, "dt_mcb_client_offer.sql"))
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second), "re-emission must be byte-identical")
}

func TestGenerate_EmptySheetFails(t *testing.T) {
	opts, _ := setupOpts(t, "Source Table,Source Column,Target Table,Target Column\n")
	_, err := Generate(context.Background(), opts)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoResolvableColumns)
}

func TestGenerate_MissingInputFails(t *testing.T) {
	opts, _ := setupOpts(t, sheetCSV)
	opts.InputPath = filepath.Join(t.TempDir(), "nope.csv")
	_, err := Generate(context.Background(), opts)
	require.Error(t, err)
}

func TestGenerate_UnresolvedRowsAreNotFatal(t *testing.T) {
	csv := `Source Table,Source Column,Target Table,Target Column,Transformation Rule
mas_tbl,a,client_offer,c1,Straight move
mas_tbl,b,client_offer,c2,Ask the upstream team what this means
`
	opts, out := setupOpts(t, csv)
	results, err := Generate(context.Background(), opts)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 2, results[0].Columns)

	sql, err := os.ReadFile(filepath.Join(out, "dt_mcb_client_offer.sql"))
	require.NoError(t, err)
	assert.Contains(t, string(sql), "/* unresolved expression guarded:")
}
