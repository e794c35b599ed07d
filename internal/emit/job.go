package emit

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/leapstack-labs/leapmap/internal/compile"
)

// Job is the machine-consumable description of one generated view, mirroring
// the compiled model: base entity, joins, derived columns, static
// assignments, and the modules block consumed by downstream orchestration.
type Job struct {
	JobID             string      `json:"job_id"`
	SourceMalcode     string      `json:"source_malcode"`
	SourceBasepath    string      `json:"source_basepath"`
	Comment           string      `json:"comment"`
	BaseEntity        string      `json:"base_entity"`
	Joins             []JobJoin   `json:"joins"`
	DerivedColumns    []JobColumn `json:"derived_columns"`
	StaticAssignments []JobStatic `json:"static_assignments"`
	Lookups           []JobLookup `json:"lookups,omitempty"`
	Modules           jobModules  `json:"modules"`
}

// JobJoin is one join edge of the compiled model.
type JobJoin struct {
	Left      string `json:"left"`
	Right     string `json:"right"`
	Kind      string `json:"kind"`
	Predicate string `json:"predicate"`
}

// JobColumn is one derived column of the final projection.
type JobColumn struct {
	Target     string   `json:"target"`
	Expression string   `json:"expression"`
	Datatype   string   `json:"datatype,omitempty"`
	Coded      bool     `json:"coded,omitempty"`
	Lookup     bool     `json:"lookup,omitempty"`
	Merged     int      `json:"merged,omitempty"`
	DependsOn  []string `json:"depends_on,omitempty"`
}

// JobStatic is one static assignment.
type JobStatic struct {
	Target     string `json:"target"`
	Expression string `json:"expression"`
}

// JobLookup is one reusable lookup join.
type JobLookup struct {
	View    string   `json:"view"`
	Alias   string   `json:"alias"`
	Driver  string   `json:"driver"`
	Domains []string `json:"domains"`
}

type jobModules struct {
	DataSourcing   dataSourcingModule `json:"data_sourcing_process"`
	Transformation transformModule    `json:"data_transformation"`
	LoadEnrich     loadEnrichModule   `json:"load_enrich_process"`
}

type dataSourcingModule struct {
	Options    moduleOptions          `json:"options"`
	Loggable   bool                   `json:"loggable"`
	SourceList []string               `json:"sourcelist"`
	Tables     map[string]sourceTable `json:"tables"`
}

type sourceTable struct {
	Type       string `json:"type"`
	TableName  string `json:"table_name"`
	ReadFormat string `json:"read_format"`
	Path       string `json:"path"`
}

type transformModule struct {
	Name     string        `json:"name"`
	SQL      string        `json:"sql"`
	Loggable bool          `json:"loggable"`
	Options  moduleOptions `json:"options"`
}

type loadEnrichModule struct {
	Name         string        `json:"name"`
	SQL          string        `json:"sql"`
	TargetPath   string        `json:"target_path"`
	TargetTable  string        `json:"target_table"`
	TargetFormat string        `json:"target_format"`
	ModeOfWrite  string        `json:"mode_of_write"`
	PartitionBy  string        `json:"partition_by"`
	Loggable     bool          `json:"loggable"`
	Options      moduleOptions `json:"options"`
}

type moduleOptions struct {
	Module string `json:"module"`
	Method string `json:"method"`
}

// BuildJob assembles the job description from the compiled model. sqlFile is
// the emitted SQL file name the transformation module references.
func BuildJob(m *compile.Model, jobID, sqlFile string) *Job {
	mal := strings.ToLower(m.Malcode)
	view := ViewName(m)

	var sources []string
	tables := map[string]sourceTable{}
	for _, e := range m.Graph.Entities {
		sources = append(sources, e.Name)
		tables[e.Name] = sourceTable{
			Type:       "sz_zone",
			TableName:  e.Name,
			ReadFormat: "view",
			Path:       "${adls.source.root}/" + e.Name,
		}
	}

	job := &Job{
		JobID:          jobID,
		SourceMalcode:  mal,
		SourceBasepath: strings.ToUpper(m.Malcode),
		Comment: fmt.Sprintf("This job is responsible for loading data into %s from %s - %s",
			m.TargetTable, mal, strings.Join(sources, ", ")),
		BaseEntity: m.Graph.Base.Name,
		Modules: jobModules{
			DataSourcing: dataSourcingModule{
				Options:    moduleOptions{Module: "data_sourcing_process", Method: "process"},
				Loggable:   true,
				SourceList: sources,
				Tables:     tables,
			},
			Transformation: transformModule{
				Name:     view,
				SQL:      "@" + sqlFile,
				Loggable: true,
				Options:  moduleOptions{Module: "data_transformation", Method: "process"},
			},
			LoadEnrich: loadEnrichModule{
				Name:         m.TargetTable + "_daily",
				SQL:          "SELECT * FROM " + view,
				TargetPath:   "${adls.stage.root}/" + strings.ToUpper(m.Malcode),
				TargetTable:  "/" + m.TargetTable,
				TargetFormat: "delta",
				ModeOfWrite:  "replace_partition",
				PartitionBy:  "effective_dt",
				Loggable:     true,
				Options:      moduleOptions{Module: "load_enrich_process", Method: "process"},
			},
		},
	}

	for _, edge := range m.Graph.Edges() {
		job.Joins = append(job.Joins, JobJoin{
			Left:      edge.Left.Name,
			Right:     edge.Right.Name,
			Kind:      edge.Kind,
			Predicate: edge.Predicate,
		})
	}
	for _, col := range m.Columns {
		job.DerivedColumns = append(job.DerivedColumns, JobColumn{
			Target:     col.Target,
			Expression: col.FinalExpr(),
			Datatype:   col.Type,
			Coded:      col.IsCoded,
			Lookup:     col.LookupExpr != "",
			Merged:     col.Merged,
			DependsOn:  col.Deps,
		})
	}
	for _, s := range m.Statics() {
		job.StaticAssignments = append(job.StaticAssignments, JobStatic{
			Target: s[0], Expression: s[1],
		})
	}
	if job.StaticAssignments == nil {
		job.StaticAssignments = []JobStatic{}
	}
	if job.Joins == nil {
		job.Joins = []JobJoin{}
	}
	for _, b := range m.Lookups {
		job.Lookups = append(job.Lookups, JobLookup{
			View: b.View, Alias: b.Alias, Driver: b.Driver, Domains: b.Domains,
		})
	}
	return job
}

// MarshalJob renders the job JSON with stable indentation and a trailing
// newline.
func MarshalJob(j *Job) ([]byte, error) {
	data, err := json.MarshalIndent(j, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal job json: %w", err)
	}
	return append(data, '\n'), nil
}
