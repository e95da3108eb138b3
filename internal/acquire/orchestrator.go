package acquire

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/metrics"
	"github.com/sells-group/etrends/internal/model"
	"github.com/sells-group/etrends/internal/store"
)

const defaultFetchTimeout = 2 * time.Minute

// Options tunes an Orchestrator.
type Options struct {
	// FetchTimeout bounds the fetch step of a run.
	FetchTimeout time.Duration
	Metrics      *metrics.Metrics
}

// Orchestrator runs one source through reconciliation and writes exactly one
// audit log entry per run.
type Orchestrator struct {
	st      store.Store
	engine  Reconciler
	sources map[model.SourceKind]Source
	opts    Options
	now     func() time.Time
}

// NewOrchestrator wires sources to the engine and audit store.
func NewOrchestrator(st store.Store, engine Reconciler, opts Options, sources ...Source) *Orchestrator {
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaultFetchTimeout
	}
	m := make(map[model.SourceKind]Source, len(sources))
	for _, s := range sources {
		m[s.Kind()] = s
	}
	return &Orchestrator{st: st, engine: engine, sources: m, opts: opts, now: time.Now}
}

// Kinds lists the registered source kinds in name order.
func (o *Orchestrator) Kinds() []model.SourceKind {
	kinds := make([]model.SourceKind, 0, len(o.sources))
	for k := range o.sources {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Run performs one acquisition: fetch, reconcile, then log the outcome.
// Fetch and reconcile failures produce an unsuccessful Outcome and a nil
// error. A non-nil error means the kind is unknown or the audit entry could
// not be written; in the latter case the Outcome is still returned.
func (o *Orchestrator) Run(ctx context.Context, kind model.SourceKind, scheduled bool) (*model.Outcome, error) {
	src, ok := o.sources[kind]
	if !ok {
		return nil, eris.Errorf("acquire: unknown source kind %q", kind)
	}

	start := o.now()
	out := &model.Outcome{RunID: uuid.NewString(), Kind: kind}
	log := zap.L().With(
		zap.String("component", "acquire"),
		zap.String("run_id", out.RunID),
		zap.String("kind", string(kind)),
		zap.Bool("scheduled", scheduled),
	)
	transition := func(s model.RunState, fields ...zap.Field) {
		out.State = s
		log.Info("run "+string(s), fields...)
	}

	transition(model.RunStarted)

	err := o.fetchAndReconcile(ctx, src, out, transition)
	if err != nil {
		out.Success = false
		out.Message = err.Error()
	} else {
		out.Success = true
		out.Message = fmt.Sprintf("%s acquisition completed: %d new, %d updated, %d new vendors",
			kind.Title(), out.Result.NewPrices, out.Result.UpdatedPrices, out.Result.CreatedVendors)
	}

	elapsed := o.now().Sub(start)
	entry := &model.AcquisitionLogEntry{
		RunID:          out.RunID,
		Timestamp:      o.now().UTC(),
		Success:        out.Success,
		Message:        out.Message,
		Scheduled:      scheduled,
		Kind:           kind,
		CreatedVendors: out.Result.CreatedVendors,
		NewPrices:      out.Result.NewPrices,
		UpdatedPrices:  out.Result.UpdatedPrices,
		Duration:       elapsed,
	}
	// The audit write must land even when the caller's context is done.
	logErr := o.st.AppendLog(context.WithoutCancel(ctx), entry)
	o.opts.Metrics.ObserveRun(kind, scheduled, out.Success, elapsed, out.Result)

	if logErr != nil {
		transition(model.RunFailed, zap.Error(logErr))
		return out, model.PersistenceError(eris.Wrap(logErr, "acquire: append audit log"))
	}
	transition(model.RunLogged, zap.Int64("log_id", entry.ID))

	if out.Success {
		transition(model.RunSucceeded,
			zap.Int("created_vendors", out.Result.CreatedVendors),
			zap.Int("new_prices", out.Result.NewPrices),
			zap.Int("updated_prices", out.Result.UpdatedPrices),
			zap.Duration("elapsed", elapsed),
		)
	} else {
		out.State = model.RunFailed
		log.Warn("run failed", zap.Error(err), zap.Duration("elapsed", elapsed))
	}
	return out, nil
}

func (o *Orchestrator) fetchAndReconcile(ctx context.Context, src Source, out *model.Outcome, transition func(model.RunState, ...zap.Field)) error {
	transition(model.RunFetching)
	fctx, cancel := context.WithTimeout(ctx, o.opts.FetchTimeout)
	batch, err := src.Fetch(fctx)
	cancel()
	if err != nil {
		return err
	}

	transition(model.RunReconciling, zap.Int("records", batch.Len()))
	res, err := batch.Apply(ctx, o.engine)
	if err != nil {
		return err
	}
	out.Result = res
	return nil
}

// Log returns past runs, newest first.
func (o *Orchestrator) Log(ctx context.Context, filter model.LogFilter) ([]model.AcquisitionLogEntry, error) {
	entries, err := o.st.ListLog(ctx, filter)
	if err != nil {
		return nil, model.PersistenceError(err)
	}
	return entries, nil
}

// LastSuccess returns the newest successful run of kind, or nil.
func (o *Orchestrator) LastSuccess(ctx context.Context, kind model.SourceKind) (*model.AcquisitionLogEntry, error) {
	e, err := o.st.LastSuccess(ctx, kind)
	if err != nil {
		return nil, model.PersistenceError(err)
	}
	return e, nil
}
