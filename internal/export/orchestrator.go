package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"parcelscope/internal/model"
)

var (
	// ErrJobActive rejects starting a second export while one runs
	ErrJobActive = errors.New("an export job is already running")

	// ErrEmptyScope rejects a job with no ZIPs to export
	ErrEmptyScope = errors.New("export scope contains no ZIPs")
)

// State tracks where the orchestrator is in its run
type State string

const (
	StateIdle        State = "idle"
	StatePrecounting State = "precounting"
	StateExporting   State = "exporting"
	StateFinalizing  State = "finalizing"
	StateCancelled   State = "cancelled"
	StateErrored     State = "errored"
)

// Querier is the slice of the paged query adapter the orchestrator
// needs; arcgis.Layer satisfies it
type Querier interface {
	Count(ctx context.Context, where string) (int, error)
	FetchPage(ctx context.Context, req model.PageRequest) ([]model.ParcelRow, error)
	ZipWhere(zip string) string
}

// Sink receives each page's enriched rows; a failure aborts the job
type Sink interface {
	Send(ctx context.Context, rows []model.ParcelRow) error
}

// Options configures a Runner
type Options struct {
	PageSize  int
	PageDelay time.Duration // politeness delay between page requests
	Deliver   Deliverer
	Sink      Sink // optional webhook
	Verbose   bool
	Stderr    io.Writer
}

// Runner drives one export job at a time: per-ZIP precount, strictly
// sequential page loops, CSV accumulation, optional webhook streaming,
// and cooperative cancellation. Entities and pages are never processed
// concurrently, so progress counters are monotonic and CSV row order is
// deterministic for a fixed sort key.
type Runner struct {
	querier   Querier
	sink      Sink
	deliver   Deliverer
	pageSize  int
	pageDelay time.Duration
	verbose   bool
	stderr    io.Writer

	running atomic.Bool

	mu       sync.Mutex
	state    State
	progress *model.ExportProgress
}

// NewRunner creates an export runner
func NewRunner(querier Querier, opts Options) *Runner {
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = 1000
	}
	deliver := opts.Deliver
	if deliver == nil {
		deliver = FileDeliverer(".")
	}
	stderr := opts.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	return &Runner{
		querier:   querier,
		sink:      opts.Sink,
		deliver:   deliver,
		pageSize:  pageSize,
		pageDelay: opts.PageDelay,
		verbose:   opts.Verbose,
		stderr:    stderr,
		state:     StateIdle,
	}
}

// State returns the orchestrator's current state
func (r *Runner) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Progress returns a snapshot of the running job's progress, or of
// the last run once it ends. Safe to call from any goroutine while an
// export is in flight.
func (r *Runner) Progress() *model.ExportProgress {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.progress == nil {
		return nil
	}
	return r.progress.Clone()
}

func (r *Runner) setState(s State) {
	r.mu.Lock()
	r.state = s
	r.mu.Unlock()
}

// update mutates the live progress under the lock; the export loop is
// the only writer, but Progress may read concurrently
func (r *Runner) update(fn func(p *model.ExportProgress)) {
	r.mu.Lock()
	fn(r.progress)
	r.mu.Unlock()
}

// Run executes the job to completion, cancellation, or first fatal
// error. Exactly one job may run at a time. Progress and the activity
// log survive for inspection however the run ends.
func (r *Runner) Run(ctx context.Context, job model.ExportJob) error {
	if !r.running.CompareAndSwap(false, true) {
		return ErrJobActive
	}
	defer r.running.Store(false)

	if len(job.Scope) == 0 {
		return ErrEmptyScope
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.OwnerFilter == "" {
		job.OwnerFilter = model.FilterAll
	}

	cols, err := resolveColumns(job.Columns)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.progress = model.NewExportProgress()
	r.mu.Unlock()

	err = r.run(ctx, job, cols)
	switch {
	case err == nil:
		r.setState(StateIdle)
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		// Cancellation is reported distinctly from failure
		r.update(func(p *model.ExportProgress) {
			p.Logf("export %s cancelled after %d rows", job.ID, p.TotalRows)
		})
		r.setState(StateCancelled)
	default:
		r.update(func(p *model.ExportProgress) {
			p.Logf("export %s failed: %v", job.ID, err)
		})
		r.setState(StateErrored)
	}
	return err
}

func (r *Runner) run(ctx context.Context, job model.ExportJob, cols []column) error {
	r.update(func(p *model.ExportProgress) {
		p.Logf("export %s started: %d ZIPs, filter=%s, mode=%s", job.ID, len(job.Scope), job.OwnerFilter, job.Mode)
	})

	if err := r.precount(ctx, job); err != nil {
		return err
	}

	r.setState(StateExporting)

	// Pacing applies across all page requests in the run, not per ZIP
	limiter := rate.NewLimiter(rate.Inf, 1)
	if r.pageDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(r.pageDelay), 1)
	}

	var single *csvBuffer
	if job.Mode != model.ModePerZip {
		var err error
		if single, err = newCSVBuffer(headerLabels(cols)); err != nil {
			return err
		}
	}

	for _, scope := range job.Scope {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := r.exportZip(ctx, job, scope, cols, single, limiter); err != nil {
			return err
		}
	}

	if single != nil {
		r.setState(StateFinalizing)
		data, err := single.finalize()
		if err != nil {
			return err
		}
		name := csvFilename("", job.OwnerFilter)
		if err := r.deliver(name, data); err != nil {
			return fmt.Errorf("deliver %s: %w", name, err)
		}
		r.update(func(p *model.ExportProgress) {
			p.Logf("wrote %s (%d rows)", name, single.rows)
		})
	}

	r.update(func(p *model.ExportProgress) {
		p.Logf("export %s complete: %d rows", job.ID, p.TotalRows)
	})
	return nil
}

// precount queries every scoped ZIP's total for progress denominators.
// Best-effort: a failure here logs and leaves totals unknown rather
// than failing the job.
func (r *Runner) precount(ctx context.Context, job model.ExportJob) error {
	r.setState(StatePrecounting)

	expected := 0
	complete := true
	for _, scope := range job.Scope {
		if err := ctx.Err(); err != nil {
			return err
		}

		n, err := r.querier.Count(ctx, r.querier.ZipWhere(scope.Zip))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			r.update(func(p *model.ExportProgress) {
				p.Logf("precount %s failed: %v", scope.Zip, err)
				p.PerZip[scope.Zip] = &model.ZipProgress{Total: -1}
			})
			complete = false
			continue
		}
		r.update(func(p *model.ExportProgress) {
			p.PerZip[scope.Zip] = &model.ZipProgress{Total: n}
		})
		expected += n
	}

	if complete {
		r.update(func(p *model.ExportProgress) {
			p.ExpectedTotal = expected
			p.Logf("precount complete: %d rows expected", expected)
		})
	}
	return nil
}

func (r *Runner) exportZip(ctx context.Context, job model.ExportJob, scope model.ZipScope, cols []column, single *csvBuffer, limiter *rate.Limiter) error {
	where := r.querier.ZipWhere(scope.Zip)

	total := -1
	r.update(func(p *model.ExportProgress) {
		zp := p.PerZip[scope.Zip]
		if zp == nil {
			zp = &model.ZipProgress{Total: -1}
			p.PerZip[scope.Zip] = zp
		}
		total = zp.Total
	})
	if total < 0 {
		// Second chance at a denominator; still best-effort
		if n, err := r.querier.Count(ctx, where); err == nil {
			total = n
			r.update(func(p *model.ExportProgress) {
				p.PerZip[scope.Zip].Total = n
			})
		} else if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	buf := single
	if buf == nil {
		var err error
		if buf, err = newCSVBuffer(headerLabels(cols)); err != nil {
			return err
		}
	}

	fetched := 0
	exported := 0
	for offset := 0; ; offset += r.pageSize {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := limiter.Wait(ctx); err != nil {
			return err
		}

		rows, err := r.querier.FetchPage(ctx, model.PageRequest{
			Where:  where,
			Offset: offset,
			Limit:  r.pageSize,
		})
		if err != nil {
			return fmt.Errorf("zip %s page at offset %d: %w", scope.Zip, offset, err)
		}
		if len(rows) == 0 {
			break
		}

		kept := rows[:0:0]
		for _, row := range rows {
			if job.OwnerFilter.Matches(row.OwnerClass) {
				kept = append(kept, row)
			}
		}

		if r.sink != nil && len(kept) > 0 {
			if err := r.sink.Send(ctx, kept); err != nil {
				return fmt.Errorf("zip %s webhook: %w", scope.Zip, err)
			}
		}

		if err := buf.appendRows(cols, kept); err != nil {
			return err
		}

		fetched += len(rows)
		exported += len(kept)
		r.update(func(p *model.ExportProgress) {
			p.PerZip[scope.Zip].Done = fetched
			p.TotalRows += len(kept)
		})
		if r.verbose {
			fmt.Fprintf(r.stderr, "  %s: %d/%s rows\n", scope.Zip, fetched, totalLabel(total))
		}
	}

	r.update(func(p *model.ExportProgress) {
		p.Logf("zip %s done: %d fetched, %d exported", scope.Zip, fetched, exported)
	})

	if single == nil {
		r.setState(StateFinalizing)
		data, err := buf.finalize()
		if err != nil {
			return err
		}
		name := csvFilename(scope.Zip, job.OwnerFilter)
		if err := r.deliver(name, data); err != nil {
			return fmt.Errorf("deliver %s: %w", name, err)
		}
		r.update(func(p *model.ExportProgress) {
			p.Logf("wrote %s (%d rows)", name, buf.rows)
		})
		r.setState(StateExporting)
	}
	return nil
}

func totalLabel(total int) string {
	if total < 0 {
		return "?"
	}
	return fmt.Sprintf("%d", total)
}
