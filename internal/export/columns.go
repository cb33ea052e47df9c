// Package export drives batch CSV export of parcel rows: a state-machine
// orchestrator paging through scoped ZIPs sequentially, an incremental
// CSV accumulator, and an optional webhook sink for page batches.
package export

import (
	"fmt"
	"strconv"
	"strings"

	"parcelscope/internal/model"
)

// column is one export projection: a stable identifier, the CSV header
// label, and the row-to-cell extractor
type column struct {
	id    string
	label string
	value func(r *model.ParcelRow) string
}

// columnRegistry is the ordered set of selectable columns
var columnRegistry = []column{
	{"object_id", "Object ID", func(r *model.ParcelRow) string { return strconv.FormatInt(r.ObjectID, 10) }},
	{"zip", "ZIP", func(r *model.ParcelRow) string { return r.Zip5 }},
	{"owner", "Owner", func(r *model.ParcelRow) string { return r.OwnerName }},
	{"owner_raw", "Owner (raw)", func(r *model.ParcelRow) string { return r.OwnerRaw }},
	{"owner_class", "Owner Class", func(r *model.ParcelRow) string { return r.OwnerClass.String() }},
	{"first_name", "First Name", func(r *model.ParcelRow) string {
		if p, ok := r.PrimaryOwner(); ok {
			return p.First
		}
		return ""
	}},
	{"last_name", "Last Name", func(r *model.ParcelRow) string {
		if p, ok := r.PrimaryOwner(); ok {
			return p.Last
		}
		return ""
	}},
	{"owner_key", "Owner Key", func(r *model.ParcelRow) string { return r.OwnerKey }},
	{"address", "Address", func(r *model.ParcelRow) string { return r.Address }},
	{"market_value", "Market Value", func(r *model.ParcelRow) string { return formatMoney(r.MarketValue) }},
}

// DefaultColumns returns the full column id set in registry order
func DefaultColumns() []string {
	ids := make([]string, len(columnRegistry))
	for i, c := range columnRegistry {
		ids[i] = c.id
	}
	return ids
}

// resolveColumns maps selected ids onto registry columns, preserving the
// caller's order
func resolveColumns(ids []string) ([]column, error) {
	if len(ids) == 0 {
		ids = DefaultColumns()
	}

	byID := make(map[string]column, len(columnRegistry))
	for _, c := range columnRegistry {
		byID[c.id] = c
	}

	cols := make([]column, 0, len(ids))
	for _, id := range ids {
		c, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf("unknown column %q (known: %s)", id, strings.Join(DefaultColumns(), ", "))
		}
		cols = append(cols, c)
	}
	return cols, nil
}

// formatMoney renders a currency cell with thousands grouping
func formatMoney(v float64) string {
	neg := v < 0
	if neg {
		v = -v
	}

	s := strconv.FormatFloat(v, 'f', 2, 64)
	dot := strings.Index(s, ".")
	intPart, frac := s[:dot], s[dot:]

	var b strings.Builder
	for i, d := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(d)
	}

	out := "$" + b.String() + frac
	if neg {
		out = "-" + out
	}
	return out
}
