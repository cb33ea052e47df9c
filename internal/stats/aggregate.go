// Package stats builds aggregate views of a parcel layer without
// fetching rows: value histograms from per-bucket count queries,
// owner and ZIP leaderboards from grouped statistics, and an
// approximate median read off the histogram.
package stats

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"parcelscope/internal/arcgis"
	"parcelscope/internal/names"
)

// Querier is the slice of the layer API the engine needs. All queries
// are aggregate-only; the engine never pages feature rows.
type Querier interface {
	Count(ctx context.Context, where string) (int, error)
	GroupBy(ctx context.Context, where, groupField string, stats []arcgis.Statistic, orderBy string) ([]arcgis.GroupResult, error)
	RangeWhere(base, field string, lo, hi float64, hasHi bool) string
	ValueField() string
	OwnerField() string
	ZipField() string
}

// Bin is one value bucket. HasHi=false marks the open-ended top
// bucket. Count is filled in by Histogram.
type Bin struct {
	Lo    float64
	Hi    float64
	HasHi bool
	Count int
}

// Label renders the bucket range for display
func (b Bin) Label() string {
	if !b.HasHi {
		return fmt.Sprintf("$%s+", groupThousands(int64(b.Lo)))
	}
	return fmt.Sprintf("$%s - $%s", groupThousands(int64(b.Lo)), groupThousands(int64(b.Hi)))
}

// LeaderEntry is one row of a leaderboard. Key is the dedup key the
// entry was merged under, Label the display form of the first raw
// name seen for it.
type LeaderEntry struct {
	Key   string
	Label string
	Count int
	Value float64
}

// Engine runs aggregate queries against one layer, pacing them like
// the export path does so stats runs stay polite too.
type Engine struct {
	q       Querier
	limiter *rate.Limiter
}

func NewEngine(q Querier, queryDelay time.Duration) *Engine {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if queryDelay > 0 {
		limiter = rate.NewLimiter(rate.Every(queryDelay), 1)
	}
	return &Engine{q: q, limiter: limiter}
}

// DefaultValueBins returns the standard market-value buckets, with an
// open-ended top bucket.
func DefaultValueBins() []Bin {
	bounds := []float64{0, 100000, 200000, 300000, 500000, 750000, 1000000}
	bins := make([]Bin, 0, len(bounds))
	for i, lo := range bounds {
		if i+1 < len(bounds) {
			bins = append(bins, Bin{Lo: lo, Hi: bounds[i+1], HasHi: true})
		} else {
			bins = append(bins, Bin{Lo: lo})
		}
	}
	return bins
}

// Histogram fills bucket counts by issuing one count query per bin,
// each conjoining the bin's range predicate onto the base filter.
// Queries run strictly sequentially.
func (e *Engine) Histogram(ctx context.Context, where string, bins []Bin) ([]Bin, error) {
	out := make([]Bin, len(bins))
	copy(out, bins)

	for i := range out {
		if err := e.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		pred := e.q.RangeWhere(where, e.q.ValueField(), out[i].Lo, out[i].Hi, out[i].HasHi)
		n, err := e.q.Count(ctx, pred)
		if err != nil {
			return nil, fmt.Errorf("histogram bucket %s: %w", out[i].Label(), err)
		}
		out[i].Count = n
	}
	return out, nil
}

// ApproxMedianFromBins estimates the median from bucket counts: the
// midpoint of the first bucket whose cumulative count reaches half
// the total. For an open-ended bucket the lower bound is returned,
// and an empty histogram yields 0.
func ApproxMedianFromBins(bins []Bin) float64 {
	total := 0
	for _, b := range bins {
		total += b.Count
	}
	if total == 0 {
		return 0
	}

	half := (total + 1) / 2
	cum := 0
	for _, b := range bins {
		cum += b.Count
		if cum >= half {
			if !b.HasHi {
				return b.Lo
			}
			return (b.Lo + b.Hi) / 2
		}
	}
	return 0
}

// TopOwners merges a by-count and a by-total-value owner leaderboard.
// The server groups by the raw owner string; near-duplicate spellings
// collapse client-side under the normalized owner key.
func (e *Engine) TopOwners(ctx context.Context, where string, n int) ([]LeaderEntry, error) {
	ownerField := e.q.OwnerField()

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	byCount, err := e.q.GroupBy(ctx, where, ownerField, []arcgis.Statistic{
		{Type: "count", Field: ownerField, Alias: "cnt"},
	}, "cnt DESC")
	if err != nil {
		return nil, fmt.Errorf("owners by count: %w", err)
	}

	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	byValue, err := e.q.GroupBy(ctx, where, ownerField, []arcgis.Statistic{
		{Type: "sum", Field: e.q.ValueField(), Alias: "total"},
	}, "total DESC")
	if err != nil {
		return nil, fmt.Errorf("owners by value: %w", err)
	}

	return truncate(MergeOwnerLeaderboards(byCount, byValue), n), nil
}

// MergeOwnerLeaderboards joins two grouped results on the normalized
// owner key, summing counts from the first and values from the
// second. A group missing from one side contributes 0 for that
// metric. Names with no extractable person key (businesses, mostly)
// fall back to their raw string as the join key, so distinct raw
// spellings of them stay distinct.
func MergeOwnerLeaderboards(byCount, byValue []arcgis.GroupResult) []LeaderEntry {
	entries := make(map[string]*LeaderEntry)
	var order []string

	lookup := func(rawKey string) *LeaderEntry {
		raw := strings.TrimSpace(rawKey)
		if raw == "" {
			return nil
		}
		key := names.OwnerKey(raw)
		if key == "" {
			key = raw
		}
		entry, ok := entries[key]
		if !ok {
			entry = &LeaderEntry{Key: key, Label: names.CleanOwnerName(raw)}
			entries[key] = entry
			order = append(order, key)
		}
		return entry
	}

	for _, g := range byCount {
		if entry := lookup(g.Key); entry != nil {
			entry.Count += int(g.Stats["cnt"])
		}
	}
	for _, g := range byValue {
		if entry := lookup(g.Key); entry != nil {
			entry.Value += g.Stats["total"]
		}
	}

	merged := make([]LeaderEntry, 0, len(order))
	for _, key := range order {
		merged = append(merged, *entries[key])
	}
	sort.SliceStable(merged, func(i, j int) bool {
		if merged[i].Count != merged[j].Count {
			return merged[i].Count > merged[j].Count
		}
		if merged[i].Value != merged[j].Value {
			return merged[i].Value > merged[j].Value
		}
		return merged[i].Label < merged[j].Label
	})
	return merged
}

// TopZips groups by the raw ZIP field and rolls ZIP+4 variants up
// into 5-digit buckets, summing counts and values across every raw
// key that normalizes to the same bucket. Keys with no leading
// 5-digit run are dropped.
func (e *Engine) TopZips(ctx context.Context, where string, n int) ([]LeaderEntry, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	groups, err := e.q.GroupBy(ctx, where, e.q.ZipField(), []arcgis.Statistic{
		{Type: "count", Field: e.q.ZipField(), Alias: "cnt"},
		{Type: "sum", Field: e.q.ValueField(), Alias: "total"},
	}, "cnt DESC")
	if err != nil {
		return nil, fmt.Errorf("zips: %w", err)
	}

	buckets := make(map[string]*LeaderEntry)
	var order []string
	for _, g := range groups {
		zip := names.Zip5(g.Key)
		if zip == "" {
			continue
		}
		entry, ok := buckets[zip]
		if !ok {
			entry = &LeaderEntry{Key: zip, Label: zip}
			buckets[zip] = entry
			order = append(order, zip)
		}
		entry.Count += int(g.Stats["cnt"])
		entry.Value += g.Stats["total"]
	}

	rolled := make([]LeaderEntry, 0, len(order))
	for _, zip := range order {
		rolled = append(rolled, *buckets[zip])
	}
	sort.SliceStable(rolled, func(i, j int) bool {
		if rolled[i].Count != rolled[j].Count {
			return rolled[i].Count > rolled[j].Count
		}
		return rolled[i].Key < rolled[j].Key
	})
	return truncate(rolled, n), nil
}

// Report is the combined stats view the CLI renders
type Report struct {
	Total  int
	Bins   []Bin
	Median float64
	Owners []LeaderEntry
	Zips   []LeaderEntry
}

// Report assembles the full aggregate view for one filter expression
func (e *Engine) Report(ctx context.Context, where string, topN int) (*Report, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	total, err := e.q.Count(ctx, where)
	if err != nil {
		return nil, fmt.Errorf("total: %w", err)
	}

	bins, err := e.Histogram(ctx, where, DefaultValueBins())
	if err != nil {
		return nil, err
	}
	owners, err := e.TopOwners(ctx, where, topN)
	if err != nil {
		return nil, err
	}
	zips, err := e.TopZips(ctx, where, topN)
	if err != nil {
		return nil, err
	}

	return &Report{
		Total:  total,
		Bins:   bins,
		Median: ApproxMedianFromBins(bins),
		Owners: owners,
		Zips:   zips,
	}, nil
}

func truncate(entries []LeaderEntry, n int) []LeaderEntry {
	if n > 0 && len(entries) > n {
		return entries[:n]
	}
	return entries
}

// FormatMoney renders a dollar amount rounded to whole dollars
func FormatMoney(v float64) string {
	n := int64(v + 0.5)
	if v < 0 {
		n = int64(v - 0.5)
	}
	return "$" + groupThousands(n)
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	var parts []string
	for len(s) > 3 {
		parts = append([]string{s[len(s)-3:]}, parts...)
		s = s[:len(s)-3]
	}
	parts = append([]string{s}, parts...)
	out := strings.Join(parts, ",")
	if neg {
		out = "-" + out
	}
	return out
}
