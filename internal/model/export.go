package model

import (
	"fmt"
	"time"
)

// ExportMode selects the output shape of an export run
type ExportMode string

const (
	// ModeSingle accumulates all scoped ZIPs into one CSV
	ModeSingle ExportMode = "single"
	// ModePerZip finalizes one CSV per ZIP as its pages complete
	ModePerZip ExportMode = "per-zip"
)

// OwnerFilter restricts exported rows by owner classification
type OwnerFilter string

const (
	FilterAll         OwnerFilter = "all"
	FilterBusiness    OwnerFilter = "business"
	FilterResidential OwnerFilter = "residential"
)

// Matches reports whether a row's classification passes the filter
func (f OwnerFilter) Matches(class OwnerClass) bool {
	switch f {
	case FilterBusiness:
		return class == OwnerBusiness
	case FilterResidential:
		return class == OwnerResidential
	default:
		return true
	}
}

// ExportJob describes one export run over a set of ZIP scopes
type ExportJob struct {
	ID          string      `json:"id"`
	Scope       []ZipScope  `json:"scope"`
	OwnerFilter OwnerFilter `json:"owner_filter"`
	Columns     []string    `json:"columns"`
	Mode        ExportMode  `json:"mode"`
	WebhookURL  string      `json:"webhook_url,omitempty"`
}

// ZipProgress tracks one ZIP's rows done vs. expected
type ZipProgress struct {
	Done  int `json:"done"`
	Total int `json:"total"`
}

// LogEntry is one timestamped activity-log line
type LogEntry struct {
	At      time.Time `json:"at"`
	Message string    `json:"message"`
}

// ExportProgress is the live (and, after the run, last-run snapshot)
// state of an export job. Mutated only by the export loop.
type ExportProgress struct {
	PerZip    map[string]*ZipProgress `json:"per_zip"`
	TotalRows int                     `json:"total_rows"`

	// ExpectedTotal is -1 when precounting failed
	ExpectedTotal int `json:"expected_total"`

	Log []LogEntry `json:"log"`
}

// NewExportProgress returns empty progress with an unknown expected total
func NewExportProgress() *ExportProgress {
	return &ExportProgress{
		PerZip:        make(map[string]*ZipProgress),
		ExpectedTotal: -1,
	}
}

// Clone returns a deep copy, safe to hand to callers while the
// export loop keeps mutating the original
func (p *ExportProgress) Clone() *ExportProgress {
	out := &ExportProgress{
		PerZip:        make(map[string]*ZipProgress, len(p.PerZip)),
		TotalRows:     p.TotalRows,
		ExpectedTotal: p.ExpectedTotal,
		Log:           append([]LogEntry(nil), p.Log...),
	}
	for zip, zp := range p.PerZip {
		copied := *zp
		out.PerZip[zip] = &copied
	}
	return out
}

// Logf appends a timestamped line to the activity log
func (p *ExportProgress) Logf(format string, args ...interface{}) {
	p.Log = append(p.Log, LogEntry{
		At:      time.Now().UTC(),
		Message: fmt.Sprintf(format, args...),
	})
}
