package harness

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/roach88/kerncheck/internal/command"
	"github.com/roach88/kerncheck/internal/engine"
	"github.com/roach88/kerncheck/internal/extract"
	"github.com/roach88/kerncheck/internal/kapp"
	"github.com/roach88/kerncheck/internal/pipeline"
	"github.com/roach88/kerncheck/internal/registry"
	"github.com/roach88/kerncheck/internal/report"
	"github.com/roach88/kerncheck/internal/store"
	"github.com/roach88/kerncheck/internal/testdef"
)

// Options configure a run.
type Options struct {
	// Root is the test tree.
	Root string
	// Filters select tests by path prefix, ID or glob. Empty selects all.
	Filters []string
	// Kinds restricts the run to these families. Empty selects all.
	Kinds []testdef.Kind
	// Changed keeps only tests that are new, edited or not passing in the
	// latest recorded run. It requires History.
	Changed bool

	Settings testdef.Settings
	Jobs     int
	Strict   bool

	// KGen is the extraction binary used when Extractor is nil.
	KGen      string
	Runner    command.Runner
	Extractor extract.Extractor

	Registry *registry.Registry
	// History records the run when set.
	History *store.Store

	Logger *slog.Logger
	Clock  pipeline.Sequencer
	RunIDs engine.RunIDGenerator
	Now    func() time.Time
}

func (o Options) logger() *slog.Logger {
	if o.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return o.Logger
}

func (o Options) services() testdef.Services {
	runner := o.Runner
	if runner == nil {
		runner = command.NewExecRunner(o.logger())
	}
	ext := o.Extractor
	if ext == nil {
		ext = &extract.Tool{Binary: o.KGen, Runner: runner}
	}
	return testdef.Services{Runner: runner, Extractor: ext, Logger: o.logger()}
}

// Outcome is the result of Run.
type Outcome struct {
	RunID     string
	StartedAt time.Time
	Selection *Selection
	Summary   *report.Summary
	// Nodes is nil when nothing was selected.
	Nodes *engine.Result
	// Stores holds each test's result store by test ID.
	Stores map[string]*pipeline.Store
	// HistorySeq is the run's sequence in the history store, or zero.
	HistorySeq int64
}

// Graph expands the tests' templates into one task graph. Nodes are named
// "<testID>:<stage>" and only depend on stages of their own test. bind
// supplies each node's action and may be nil for a plan-only graph.
func Graph(tests []testdef.Definition, bind func(def testdef.Definition, stage string) func(context.Context) error) (*engine.Graph, error) {
	var nodes []engine.Node
	for _, def := range tests {
		id := def.Common().ID
		tpl := def.Template()
		for _, stage := range tpl.Names() {
			preds := tpl.Predecessors(stage)
			qualified := make([]string, len(preds))
			for i, p := range preds {
				qualified[i] = engine.QualifiedName(id, p)
			}
			n := engine.Node{
				Name:  engine.QualifiedName(id, stage),
				Test:  id,
				Stage: stage,
				Preds: qualified,
			}
			if bind != nil {
				n.Action = bind(def, stage)
			}
			nodes = append(nodes, n)
		}
	}
	return engine.NewGraph(nodes)
}

// Run executes the selected tests and returns their summary. Test failures
// are reported in the summary; the returned error is reserved for discovery,
// scheduler and history faults.
func Run(ctx context.Context, opts Options) (*Outcome, error) {
	logger := opts.logger()
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ids := opts.RunIDs
	if ids == nil {
		ids = engine.UUIDv7Generator{}
	}
	clock := opts.Clock
	if clock == nil {
		clock = engine.NewClock()
	}

	sel, err := Select(ctx, opts)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		RunID:     ids.Generate(),
		StartedAt: now().UTC(),
		Selection: sel,
		Stores:    make(map[string]*pipeline.Store, len(sel.Tests)),
	}
	logger.Info("run started",
		"run_id", out.RunID,
		"root", sel.Root,
		"tests", len(sel.Tests),
		"skipped", len(sel.Skipped),
		"unchanged", sel.Unchanged,
	)

	if len(sel.Tests) > 0 {
		runs := make(map[string]*pipeline.Run, len(sel.Tests))
		for _, def := range sel.Tests {
			b := def.Common()
			st := pipeline.NewStore()
			out.Stores[b.ID] = st
			runs[b.ID] = &pipeline.Run{
				Test:     b.ID,
				Template: def.Template(),
				Store:    st,
				Clock:    clock,
				Logger:   logger,
			}
		}

		g, err := Graph(sel.Tests, func(def testdef.Definition, stage string) func(context.Context) error {
			run := runs[def.Common().ID]
			return func(ctx context.Context) error {
				return run.Execute(ctx, stage, def.Handler(stage))
			}
		})
		if err != nil {
			return nil, fmt.Errorf("build task graph: %w", err)
		}

		sched := &engine.Scheduler{Jobs: opts.Jobs, Logger: logger}
		out.Nodes, err = sched.Run(ctx, g)
		if err != nil {
			return nil, fmt.Errorf("run task graph: %w", err)
		}
	}

	results := make([]report.TestResult, 0, len(sel.Tests))
	for _, def := range sel.Tests {
		r := terminal(def, out.Nodes, out.Stores[def.Common().ID])
		b := def.Common()
		b.Status, b.Message = r.Status, r.Message
		logger.Info("test finished", "test", r.ID, "status", r.Status, "failed_stage", r.FailedStage)
		if !opts.Settings.LeaveTemp {
			cleanup(logger, r)
			r.Workdir = ""
		}
		results = append(results, r)
	}

	out.Summary = report.Summarize(results)
	out.Summary.RunID = out.RunID
	out.Summary.Skipped = sel.SkippedReport()

	if opts.History != nil {
		out.HistorySeq, err = record(ctx, opts.History, out)
		if err != nil {
			return out, err
		}
	}

	logger.Info("run finished",
		"run_id", out.RunID,
		"total", out.Summary.Total,
		"passed", out.Summary.Passed,
		"failed", out.Summary.Failed,
	)
	return out, nil
}

// terminal derives a test's outcome from its terminal stage.
func terminal(def testdef.Definition, nodes *engine.Result, st *pipeline.Store) report.TestResult {
	b := def.Common()
	r := report.TestResult{
		ID:      b.ID,
		Seq:     b.Seq,
		Kind:    string(def.Kind()),
		Status:  pipeline.StatusUnknown,
		Workdir: st.GetString(kapp.StageMkdir, kapp.KeyWorkdir),
	}
	if nodes == nil {
		return r
	}

	nr := nodes.Node(engine.QualifiedName(b.ID, def.Template().Terminal()))
	switch nr.State {
	case engine.Passed:
		r.Status = pipeline.StatusPassed
	case engine.Failed, engine.Skipped:
		r.Status = pipeline.StatusFailed
		if sf := pipeline.RootCause(nr.Err); sf != nil {
			r.FailedStage = sf.Stage
			r.Message = sf.Message
			if r.Message == "" {
				r.Message = sf.Error()
			}
			r.Stdout, r.Stderr = sf.Stdout, sf.Stderr
		} else if nr.Err != nil {
			r.Message = nr.Err.Error()
		}
	}
	return r
}

func cleanup(logger *slog.Logger, r report.TestResult) {
	if r.Workdir == "" {
		return
	}
	if err := os.RemoveAll(r.Workdir); err != nil {
		logger.Warn("failed to remove working directory", "test", r.ID, "workdir", r.Workdir, "error", err)
	}
}

func record(ctx context.Context, h *store.Store, out *Outcome) (int64, error) {
	records := make([]store.Record, 0, len(out.Summary.Results))
	for _, r := range out.Summary.Results {
		records = append(records, store.Record{
			TestID:      r.ID,
			Seq:         r.Seq,
			Kind:        r.Kind,
			Status:      r.Status,
			Message:     r.Message,
			FailedStage: r.FailedStage,
			Fingerprint: out.Selection.Fingerprints[r.ID],
		})
	}
	seq, err := h.WriteRun(ctx, store.Run{
		ID:        out.RunID,
		StartedAt: out.StartedAt,
		Root:      out.Selection.Root,
		Total:     out.Summary.Total,
		Passed:    out.Summary.Passed,
		Failed:    out.Summary.Failed,
	}, records)
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	return seq, nil
}
