// Package pipeline drives the full generation run: mapping sheet in,
// synchronized SQL, job JSON, and audit Markdown artifacts out. Target tables
// compile independently and in parallel; writes happen only after every
// table rendered, so a failed run never leaves a partial artifact set.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/leapstack-labs/leapmap/internal/compile"
	"github.com/leapstack-labs/leapmap/internal/emit"
	"github.com/leapstack-labs/leapmap/internal/graph"
	"github.com/leapstack-labs/leapmap/internal/interpret"
	"github.com/leapstack-labs/leapmap/internal/lookup"
	"github.com/leapstack-labs/leapmap/internal/mapping"
)

// ErrNoResolvableColumns is returned when a target table yields no derived
// columns at all, which means the sheet carried nothing usable for it.
var ErrNoResolvableColumns = errors.New("no resolvable columns")

// Run is the persisted summary of one pipeline execution for one target
// table.
type Run struct {
	ID          string
	JobID       string
	TargetTable string
	Malcode     string
	SQLPath     string
	JobPath     string
	AuditPath   string
	Columns     int
	Lookups     int
	Unresolved  int
	Warnings    int
	Status      string
	StartedAt   time.Time
	CompletedAt time.Time
}

// Store records pipeline runs. The zero-value pipeline works without one.
type Store interface {
	RecordRun(ctx context.Context, run Run) error
}

// Options configures a generation run.
type Options struct {
	InputPath      string
	OutDir         string
	Malcode        string
	JobID          string // generated when empty
	CodeSuffix     string
	DefaultAliases map[string]string
	Catalog        *lookup.Catalog
	SourceReport   bool // also emit the per-source interpretation summary
	Logger         *slog.Logger
	Store          Store
}

func (o *Options) defaults() {
	if o.Logger == nil {
		o.Logger = slog.New(slog.DiscardHandler)
	}
	if o.JobID == "" {
		o.JobID = uuid.NewString()
	}
	if o.CodeSuffix == "" {
		o.CodeSuffix = compile.DefaultCodeSuffix
	}
	if o.Catalog == nil {
		o.Catalog = &lookup.Catalog{}
	}
}

// Result describes the artifacts generated for one target table.
type Result struct {
	TargetTable string
	ViewName    string
	SQLPath     string
	JobPath     string
	AuditPath   string
	Columns     int
	Lookups     int
	Unresolved  int
	DroppedRows int
	Warnings    []emit.Warning
}

// rendered holds one table's artifacts before anything touches disk.
type rendered struct {
	result Result
	files  []emit.File
}

// Generate runs the whole pipeline. Results come back in the sheet's
// first-seen target-table order regardless of which tables finished first.
func Generate(ctx context.Context, opts Options) ([]Result, error) {
	opts.defaults()
	log := opts.Logger
	started := time.Now().UTC()

	sheet, err := mapping.Load(opts.InputPath, log)
	if err != nil {
		return nil, fmt.Errorf("failed to load mapping sheet: %w", err)
	}
	tables := sheet.TargetTables()
	if len(tables) == 0 {
		return nil, fmt.Errorf("%s: %w", opts.InputPath, ErrNoResolvableColumns)
	}
	log.Info("mapping sheet loaded",
		"rows", len(sheet.Rows), "dropped", sheet.Dropped, "target_tables", len(tables))

	var mu sync.Mutex
	byTable := make(map[string]rendered, len(tables))
	g, gctx := errgroup.WithContext(ctx)
	for _, table := range tables {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := renderTable(table, sheet.RowsFor(table), sheet.Dropped, opts)
			if err != nil {
				return fmt.Errorf("target table %s: %w", table, err)
			}
			mu.Lock()
			byTable[table] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var files []emit.File
	results := make([]Result, 0, len(tables))
	for _, table := range tables {
		r := byTable[table]
		files = append(files, r.files...)
		results = append(results, r.result)
	}
	if err := emit.WriteSet(files, 0o644); err != nil {
		return nil, fmt.Errorf("failed to write artifacts: %w", err)
	}

	for _, r := range results {
		log.Info("artifacts written",
			"target_table", r.TargetTable, "view", r.ViewName,
			"columns", r.Columns, "lookups", r.Lookups,
			"unresolved", r.Unresolved, "warnings", len(r.Warnings))
		for _, w := range r.Warnings {
			log.Warn("sql sanity check", "target_table", r.TargetTable,
				"check", w.Check, "detail", w.Message)
		}
		if opts.Store != nil {
			run := Run{
				ID:          uuid.NewString(),
				JobID:       opts.JobID,
				TargetTable: r.TargetTable,
				Malcode:     opts.Malcode,
				SQLPath:     r.SQLPath,
				JobPath:     r.JobPath,
				AuditPath:   r.AuditPath,
				Columns:     r.Columns,
				Lookups:     r.Lookups,
				Unresolved:  r.Unresolved,
				Warnings:    len(r.Warnings),
				Status:      "succeeded",
				StartedAt:   started,
				CompletedAt: time.Now().UTC(),
			}
			if err := opts.Store.RecordRun(ctx, run); err != nil {
				log.Warn("failed to record run", "target_table", r.TargetTable, "error", err)
			}
		}
	}
	return results, nil
}

// renderTable compiles one target table and renders its three artifacts in
// memory.
func renderTable(table string, rows []mapping.Row, dropped int, opts Options) (rendered, error) {
	rules := make([]*interpret.Rule, 0, len(rows))
	for _, row := range rows {
		rules = append(rules, interpret.Interpret(row))
	}

	src := graph.Build(rows, rules,
		graph.WithDefaultAliases(opts.DefaultAliases),
		graph.WithLogger(opts.Logger))
	graph.Synthesize(src, rules)

	model := compile.Compile(table, opts.Malcode, rows, rules, src, compile.Options{
		CodeSuffix: opts.CodeSuffix,
		Logger:     opts.Logger,
	})
	if len(model.Columns) == 0 {
		return rendered{}, ErrNoResolvableColumns
	}
	lookup.Resolve(model, opts.Catalog, opts.Logger)

	view := emit.ViewName(model)
	sqlName := view + ".sql"
	sqlText := emit.BuildSQL(model)
	jobData, err := emit.MarshalJob(emit.BuildJob(model, opts.JobID, sqlName))
	if err != nil {
		return rendered{}, err
	}
	auditData := emit.BuildAudit(model)

	unresolved := 0
	for _, c := range model.Columns {
		if c.Expr == "" || containsGuard(c.Expr) {
			unresolved++
		}
	}

	res := Result{
		TargetTable: table,
		ViewName:    view,
		SQLPath:     filepath.Join(opts.OutDir, sqlName),
		JobPath:     filepath.Join(opts.OutDir, view+"_job.json"),
		AuditPath:   filepath.Join(opts.OutDir, view+"_audit.md"),
		Columns:     len(model.Columns),
		Lookups:     len(model.Lookups),
		Unresolved:  unresolved,
		DroppedRows: dropped,
		Warnings:    emit.CheckSQL(sqlText),
	}
	out := rendered{
		result: res,
		files: []emit.File{
			{Path: res.SQLPath, Data: []byte(sqlText)},
			{Path: res.JobPath, Data: jobData},
			{Path: res.AuditPath, Data: auditData},
		},
	}
	if opts.SourceReport {
		out.files = append(out.files, emit.File{
			Path: filepath.Join(opts.OutDir, view+"_sources.md"),
			Data: emit.BuildSourceReport(model),
		})
	}
	return out, nil
}

func containsGuard(expr string) bool {
	return strings.Contains(expr, "/* unresolved expression guarded:")
}
