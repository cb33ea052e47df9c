package export

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"parcelscope/internal/model"
)

func mkRow(id int64, owner, zip string, value float64) model.ParcelRow {
	class := model.OwnerResidential
	if strings.Contains(strings.ToUpper(owner), "LLC") {
		class = model.OwnerBusiness
	}
	return model.ParcelRow{
		ObjectID:    id,
		Zip5:        zip,
		OwnerRaw:    owner,
		OwnerName:   owner,
		OwnerClass:  class,
		MarketValue: value,
	}
}

// fakeQuerier serves fixed pages per ZIP, keyed by the where clause it
// built itself
type fakeQuerier struct {
	mu         sync.Mutex
	pages      map[string][][]model.ParcelRow
	counts     map[string]int
	countErr   error
	pageErr    error
	errAtCall  int // which FetchPage call pageErr fires on (1-based); 0 = every call
	fetchCalls int
	release    chan struct{} // when set, FetchPage blocks until closed
}

func (f *fakeQuerier) ZipWhere(zip string) string { return "zip=" + zip }

func (f *fakeQuerier) Count(ctx context.Context, where string) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	return f.counts[strings.TrimPrefix(where, "zip=")], nil
}

func (f *fakeQuerier) FetchPage(ctx context.Context, req model.PageRequest) ([]model.ParcelRow, error) {
	if f.release != nil {
		select {
		case <-f.release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	f.fetchCalls++
	call := f.fetchCalls
	f.mu.Unlock()

	if f.pageErr != nil && (f.errAtCall == 0 || call == f.errAtCall) {
		return nil, f.pageErr
	}

	zip := strings.TrimPrefix(req.Where, "zip=")
	pages := f.pages[zip]
	idx := req.Offset / req.Limit
	if idx >= len(pages) {
		return nil, nil
	}
	return pages[idx], nil
}

// memoryDeliverer captures finalized artifacts by name
type memoryDeliverer struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newMemoryDeliverer() *memoryDeliverer {
	return &memoryDeliverer{files: make(map[string][]byte)}
}

func (d *memoryDeliverer) deliver(filename string, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.files[filename] = append([]byte(nil), data...)
	return nil
}

type fakeSink struct {
	err     error
	batches [][]model.ParcelRow
}

func (s *fakeSink) Send(ctx context.Context, rows []model.ParcelRow) error {
	if s.err != nil {
		return s.err
	}
	s.batches = append(s.batches, rows)
	return nil
}

func twoZipQuerier() *fakeQuerier {
	return &fakeQuerier{
		pages: map[string][][]model.ParcelRow{
			"78756": {
				{mkRow(1, "SMITH, JOHN", "78756", 100000), mkRow(2, "ACME LLC", "78756", 500000)},
				{mkRow(3, "DOE, JANE", "78756", 200000)},
			},
			"78757": {
				{mkRow(4, "GARCIA, MARIA", "78757", 150000)},
			},
		},
		counts: map[string]int{"78756": 3, "78757": 1},
	}
}

func twoZipScope() []model.ZipScope {
	return []model.ZipScope{{Zip: "78756", Count: 3}, {Zip: "78757", Count: 1}}
}

func newTestRunner(q Querier, d Deliverer, sink Sink) *Runner {
	return NewRunner(q, Options{PageSize: 2, Deliver: d, Sink: sink})
}

func TestRunner_EmptyScope(t *testing.T) {
	r := newTestRunner(twoZipQuerier(), newMemoryDeliverer().deliver, nil)
	err := r.Run(context.Background(), model.ExportJob{})
	if !errors.Is(err, ErrEmptyScope) {
		t.Fatalf("Expected ErrEmptyScope, got %v", err)
	}
}

func TestRunner_SingleMode(t *testing.T) {
	q := twoZipQuerier()
	d := newMemoryDeliverer()
	r := newTestRunner(q, d.deliver, nil)

	err := r.Run(context.Background(), model.ExportJob{
		Scope:   twoZipScope(),
		Mode:    model.ModeSingle,
		Columns: []string{"object_id", "owner", "market_value"},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	data, ok := d.files["parcels_all.csv"]
	if !ok {
		t.Fatalf("Expected parcels_all.csv, got %v", keysOf(d.files))
	}

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 5 { // header + 4 rows
		t.Fatalf("Expected 5 lines, got %d: %q", len(lines), lines)
	}
	if lines[0] != "Object ID,Owner,Market Value" {
		t.Errorf("Unexpected header: %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "1,") || !strings.HasPrefix(lines[4], "4,") {
		t.Errorf("Row order not deterministic: %q", lines)
	}
	if !strings.Contains(lines[1], `"$100,000.00"`) {
		t.Errorf("Currency not formatted: %q", lines[1])
	}

	progress := r.Progress()
	if progress.TotalRows != 4 {
		t.Errorf("TotalRows = %d, want 4", progress.TotalRows)
	}
	if progress.ExpectedTotal != 4 {
		t.Errorf("ExpectedTotal = %d, want 4", progress.ExpectedTotal)
	}
	if zp := progress.PerZip["78756"]; zp == nil || zp.Done != 3 || zp.Total != 3 {
		t.Errorf("PerZip[78756] = %+v", progress.PerZip["78756"])
	}
	if r.State() != StateIdle {
		t.Errorf("State = %s, want idle", r.State())
	}
}

func TestRunner_Deterministic(t *testing.T) {
	runOnce := func() []byte {
		d := newMemoryDeliverer()
		r := newTestRunner(twoZipQuerier(), d.deliver, nil)
		if err := r.Run(context.Background(), model.ExportJob{
			Scope: twoZipScope(),
			Mode:  model.ModeSingle,
		}); err != nil {
			t.Fatalf("Run failed: %v", err)
		}
		return d.files["parcels_all.csv"]
	}

	first, second := runOnce(), runOnce()
	if !bytes.Equal(first, second) {
		t.Error("Two runs over the same pages produced different CSVs")
	}
}

func TestRunner_PerZipMode(t *testing.T) {
	d := newMemoryDeliverer()
	r := newTestRunner(twoZipQuerier(), d.deliver, nil)

	err := r.Run(context.Background(), model.ExportJob{
		Scope:       twoZipScope(),
		Mode:        model.ModePerZip,
		OwnerFilter: model.FilterResidential,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(d.files) != 2 {
		t.Fatalf("Expected one CSV per ZIP, got %v", keysOf(d.files))
	}
	first, ok := d.files["parcels_78756_residential.csv"]
	if !ok {
		t.Fatalf("Missing per-zip artifact: %v", keysOf(d.files))
	}
	// The LLC row is filtered out client-side
	if strings.Contains(string(first), "ACME") {
		t.Errorf("Business row leaked through residential filter:\n%s", first)
	}
	lines := strings.Split(strings.TrimSpace(string(first)), "\n")
	if len(lines) != 3 { // header + 2 residential rows
		t.Errorf("Expected 3 lines, got %d", len(lines))
	}
}

func TestRunner_PrecountFailureNonFatal(t *testing.T) {
	q := twoZipQuerier()
	q.countErr = errors.New("stats endpoint down")
	d := newMemoryDeliverer()
	r := newTestRunner(q, d.deliver, nil)

	err := r.Run(context.Background(), model.ExportJob{
		Scope: twoZipScope(),
		Mode:  model.ModeSingle,
	})
	if err != nil {
		t.Fatalf("Precount failure should not fail the job: %v", err)
	}

	progress := r.Progress()
	if progress.ExpectedTotal != -1 {
		t.Errorf("ExpectedTotal = %d, want -1 (unknown)", progress.ExpectedTotal)
	}
	if progress.TotalRows != 4 {
		t.Errorf("TotalRows = %d, want 4", progress.TotalRows)
	}
	if !logContains(progress, "precount 78756 failed") {
		t.Errorf("Expected precount failure in log: %+v", progress.Log)
	}
}

func TestRunner_PageErrorAborts(t *testing.T) {
	q := twoZipQuerier()
	q.pageErr = errors.New("boom")
	q.errAtCall = 2
	d := newMemoryDeliverer()
	r := newTestRunner(q, d.deliver, nil)

	err := r.Run(context.Background(), model.ExportJob{
		Scope: twoZipScope(),
		Mode:  model.ModeSingle,
	})
	if err == nil {
		t.Fatal("Expected page error to abort the job")
	}
	if r.State() != StateErrored {
		t.Errorf("State = %s, want errored", r.State())
	}
	// Partial progress is preserved for inspection
	progress := r.Progress()
	if progress.TotalRows != 2 {
		t.Errorf("TotalRows = %d, want 2 (first page kept)", progress.TotalRows)
	}
	if len(d.files) != 0 {
		t.Errorf("No CSV should be finalized after abort, got %v", keysOf(d.files))
	}
}

func TestRunner_WebhookFailureFatal(t *testing.T) {
	d := newMemoryDeliverer()
	sink := &fakeSink{err: &WebhookError{StatusCode: 500, URL: "http://hook"}}
	r := newTestRunner(twoZipQuerier(), d.deliver, sink)

	err := r.Run(context.Background(), model.ExportJob{
		Scope: twoZipScope(),
		Mode:  model.ModeSingle,
	})
	var whErr *WebhookError
	if !errors.As(err, &whErr) {
		t.Fatalf("Expected WebhookError, got %v", err)
	}
	if len(d.files) != 0 {
		t.Errorf("No CSV should be delivered after webhook failure")
	}
}

func TestRunner_WebhookReceivesRows(t *testing.T) {
	sink := &fakeSink{}
	d := newMemoryDeliverer()
	r := newTestRunner(twoZipQuerier(), d.deliver, sink)

	if err := r.Run(context.Background(), model.ExportJob{
		Scope: twoZipScope(),
		Mode:  model.ModeSingle,
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	total := 0
	for _, batch := range sink.batches {
		total += len(batch)
	}
	if total != 4 {
		t.Errorf("Webhook received %d rows, want 4", total)
	}
}

func TestRunner_Cancellation(t *testing.T) {
	q := twoZipQuerier()
	q.release = make(chan struct{})
	d := newMemoryDeliverer()
	r := newTestRunner(q, d.deliver, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, model.ExportJob{Scope: twoZipScope(), Mode: model.ModeSingle})
	}()

	cancel()
	err := <-done
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}
	if r.State() != StateCancelled {
		t.Errorf("State = %s, want cancelled", r.State())
	}
	if !logContains(r.Progress(), "cancelled") {
		t.Errorf("Expected cancellation in activity log: %+v", r.Progress().Log)
	}
	if len(d.files) != 0 {
		t.Errorf("No CSV should be finalized after cancellation")
	}
}

func TestRunner_SingleFlight(t *testing.T) {
	q := twoZipQuerier()
	q.release = make(chan struct{})
	d := newMemoryDeliverer()
	r := newTestRunner(q, d.deliver, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- r.Run(ctx, model.ExportJob{Scope: twoZipScope(), Mode: model.ModeSingle})
	}()

	// Wait until the first job is inside its page loop
	for r.State() != StateExporting {
		time.Sleep(time.Millisecond)
	}

	second := r.Run(context.Background(), model.ExportJob{Scope: twoZipScope()})
	if !errors.Is(second, ErrJobActive) {
		t.Errorf("Expected ErrJobActive for concurrent job, got %v", second)
	}

	close(q.release)
	if err := <-done; err != nil {
		t.Fatalf("First job failed: %v", err)
	}
}

func TestRunner_ProgressSnapshot(t *testing.T) {
	d := newMemoryDeliverer()
	r := newTestRunner(twoZipQuerier(), d.deliver, nil)
	if err := r.Run(context.Background(), model.ExportJob{
		Scope: twoZipScope(),
		Mode:  model.ModeSingle,
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	first := r.Progress()
	first.TotalRows = 999
	first.PerZip["78756"].Done = 999
	first.Log = nil

	second := r.Progress()
	if second.TotalRows != 4 {
		t.Errorf("Mutating a snapshot leaked into TotalRows: %d", second.TotalRows)
	}
	if second.PerZip["78756"].Done != 3 {
		t.Errorf("Mutating a snapshot leaked into PerZip: %+v", second.PerZip["78756"])
	}
	if len(second.Log) == 0 {
		t.Error("Mutating a snapshot leaked into the activity log")
	}
}

func TestRunner_ProgressReadableMidRun(t *testing.T) {
	q := twoZipQuerier()
	q.release = make(chan struct{})
	d := newMemoryDeliverer()
	r := newTestRunner(q, d.deliver, nil)

	done := make(chan error, 1)
	go func() {
		done <- r.Run(context.Background(), model.ExportJob{Scope: twoZipScope(), Mode: model.ModeSingle})
	}()

	// Precount finishes before the first page fetch blocks, so a
	// mid-run snapshot must eventually show the expected total
	sawExpected := false
	for i := 0; i < 1000 && !sawExpected; i++ {
		if p := r.Progress(); p != nil && p.ExpectedTotal == 4 {
			sawExpected = true
		}
		time.Sleep(time.Millisecond)
	}
	close(q.release)
	if err := <-done; err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if !sawExpected {
		t.Error("Never observed precount totals in a mid-run snapshot")
	}
}

func TestRunner_PerZipFinalizeState(t *testing.T) {
	q := twoZipQuerier()
	var r *Runner
	var states []State
	deliver := func(filename string, data []byte) error {
		states = append(states, r.State())
		return nil
	}
	r = NewRunner(q, Options{PageSize: 2, Deliver: deliver})

	if err := r.Run(context.Background(), model.ExportJob{
		Scope: twoZipScope(),
		Mode:  model.ModePerZip,
	}); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(states) != 2 {
		t.Fatalf("Delivered %d artifacts, want 2", len(states))
	}
	for i, s := range states {
		if s != StateFinalizing {
			t.Errorf("Delivery %d happened in state %s, want finalizing", i, s)
		}
	}
	if r.State() != StateIdle {
		t.Errorf("State = %s, want idle after completion", r.State())
	}
}

func TestRunner_UnknownColumn(t *testing.T) {
	r := newTestRunner(twoZipQuerier(), newMemoryDeliverer().deliver, nil)
	err := r.Run(context.Background(), model.ExportJob{
		Scope:   twoZipScope(),
		Columns: []string{"bogus"},
	})
	if err == nil || !strings.Contains(err.Error(), "unknown column") {
		t.Fatalf("Expected unknown column error, got %v", err)
	}
}

func keysOf(m map[string][]byte) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}

func logContains(p *model.ExportProgress, substr string) bool {
	for _, entry := range p.Log {
		if strings.Contains(entry.Message, substr) {
			return true
		}
	}
	return false
}

func TestCSVFilename(t *testing.T) {
	if got := csvFilename("", model.FilterBusiness); got != "parcels_business.csv" {
		t.Errorf("csvFilename = %q", got)
	}
	if got := csvFilename("78756", model.FilterAll); got != "parcels_78756_all.csv" {
		t.Errorf("csvFilename = %q", got)
	}
}

func TestFormatMoney(t *testing.T) {
	cases := map[float64]string{
		0:          "$0.00",
		1234:       "$1,234.00",
		1234567.5:  "$1,234,567.50",
		-42:        "-$42.00",
		999:        "$999.00",
		1000:       "$1,000.00",
	}
	for v, want := range cases {
		if got := formatMoney(v); got != want {
			t.Errorf("formatMoney(%v) = %q, want %q", v, got, want)
		}
	}
}
