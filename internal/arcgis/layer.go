package arcgis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"parcelscope/internal/cache"
	"parcelscope/internal/model"
	"parcelscope/internal/names"
)

// Layer issues count and paged data queries against one feature layer
// and shapes raw features into typed parcel rows. Paging is stateless
// on the server side: every page is an independent request that can be
// re-issued after a failure without side effects.
type Layer struct {
	client *Client
	url    string
	fields model.FieldConfig

	store    cache.Cache // nil disables memoization
	cacheTTL time.Duration

	available map[string]bool // discovered remote schema; nil until first use
	discovery error           // non-nil when discovery failed
}

// NewLayer creates a query adapter for the layer at layerURL
func NewLayer(client *Client, layerURL string, fields model.FieldConfig, store cache.Cache, ttl time.Duration) *Layer {
	return &Layer{
		client:   client,
		url:      strings.TrimSuffix(layerURL, "/"),
		fields:   fields,
		store:    store,
		cacheTTL: ttl,
	}
}

// Statistic is one outStatistics entry for a grouped aggregate query
type Statistic struct {
	Type  string `json:"statisticType"`          // count, sum, avg
	Field string `json:"onStatisticField"`
	Alias string `json:"outStatisticFieldName"`
}

// GroupResult is one group row from a grouped aggregate query
type GroupResult struct {
	Key   string
	Stats map[string]float64
}

// ValueField returns the configured market-value field name
func (l *Layer) ValueField() string { return l.fields.MarketValue }

// OwnerField returns the configured owner field name
func (l *Layer) OwnerField() string { return l.fields.Owner }

// ZipField returns the configured ZIP field name
func (l *Layer) ZipField() string { return l.fields.Zip }

// ZipWhere builds the filter expression for parcels in a ZIP prefix
func (l *Layer) ZipWhere(zip string) string {
	return fmt.Sprintf("%s LIKE '%s%%'", l.fields.Zip, strings.ReplaceAll(zip, "'", "''"))
}

// ownerWhereTokens is the server-side approximation of the business
// heuristic: the high-frequency entity suffixes expressible as LIKE
// patterns. Classification of fetched rows stays client-side; this
// only narrows aggregate queries.
var ownerWhereTokens = []string{"LLC", "INC", "CORP", "LTD", "TRUST", "PARTNERS", "HOLDINGS"}

// OwnerWhere builds an approximate server-side predicate for the owner
// classification filter. Returns "" for the all filter.
func (l *Layer) OwnerWhere(filter model.OwnerFilter) string {
	if filter != model.FilterBusiness && filter != model.FilterResidential {
		return ""
	}

	likes := make([]string, len(ownerWhereTokens))
	for i, tok := range ownerWhereTokens {
		likes[i] = fmt.Sprintf("%s LIKE '%%%s%%'", l.fields.Owner, tok)
	}
	pred := "(" + strings.Join(likes, " OR ") + ")"
	if filter == model.FilterResidential {
		pred = "NOT " + pred
	}
	return pred
}

// And conjoins two filter expressions, tolerating empty sides
func And(a, b string) string {
	a, b = strings.TrimSpace(a), strings.TrimSpace(b)
	switch {
	case a == "" || a == "1=1":
		return normalizeWhere(b)
	case b == "" || b == "1=1":
		return a
	default:
		return fmt.Sprintf("(%s) AND (%s)", a, b)
	}
}

// RangeWhere conjoins a numeric range predicate onto a base filter.
// hasHi=false leaves the range open-ended above.
func (l *Layer) RangeWhere(base, field string, lo, hi float64, hasHi bool) string {
	pred := fmt.Sprintf("%s >= %s", field, trimFloat(lo))
	if hasHi {
		pred = fmt.Sprintf("%s AND %s < %s", pred, field, trimFloat(hi))
	}
	if base == "" || base == "1=1" {
		return pred
	}
	return fmt.Sprintf("(%s) AND %s", base, pred)
}

// Fields returns the remote layer's queryable field set, discovered
// once from the layer metadata endpoint and cached. Discovery failure
// is remembered and degrades field selection rather than failing
// queries.
func (l *Layer) Fields(ctx context.Context) (map[string]bool, error) {
	if l.available != nil || l.discovery != nil {
		return l.available, l.discovery
	}

	body, err := l.cached(ctx, cache.Key(l.url, "schema"), func() ([]byte, error) {
		return l.client.RequestWithRetry(ctx, l.url, nil)
	})
	if err != nil {
		l.discovery = err
		return nil, err
	}

	var meta struct {
		Fields []struct {
			Name string `json:"name"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(body, &meta); err != nil {
		l.discovery = fmt.Errorf("decode layer metadata: %w", err)
		return nil, l.discovery
	}

	l.available = make(map[string]bool, len(meta.Fields))
	for _, f := range meta.Fields {
		l.available[f.Name] = true
	}
	return l.available, nil
}

// outFields returns the explicit field list when every configured field
// is confirmed present on the remote schema, else "*"
func (l *Layer) outFields(ctx context.Context) string {
	available, err := l.Fields(ctx)
	if err != nil {
		return "*"
	}

	wanted := []string{l.fields.ObjectID, l.fields.Owner, l.fields.Address, l.fields.Zip, l.fields.MarketValue}
	for _, f := range wanted {
		if !available[f] {
			return "*"
		}
	}
	return strings.Join(wanted, ",")
}

// sortField validates a requested sort key against the remote schema,
// falling back to the object ID field so an unrecognized key never
// produces an invalid-field error
func (l *Layer) sortField(ctx context.Context, requested string) string {
	if requested == "" {
		return l.fields.ObjectID
	}
	available, err := l.Fields(ctx)
	if err != nil || available[requested] {
		return requested
	}
	return l.fields.ObjectID
}

// Count runs a count-only query for the filter
func (l *Layer) Count(ctx context.Context, where string) (int, error) {
	form := url.Values{}
	form.Set("where", normalizeWhere(where))
	form.Set("returnCountOnly", "true")

	body, err := l.cached(ctx, cache.Key(l.url, "count", normalizeWhere(where)), func() ([]byte, error) {
		return l.client.RequestWithRetry(ctx, l.url+"/query", form)
	})
	if err != nil {
		return 0, err
	}

	var result struct {
		Count int `json:"count"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return 0, fmt.Errorf("decode count: %w", err)
	}
	return result.Count, nil
}

// FetchPage fetches one offset/limit slice of the filtered result set,
// shaped into enriched parcel rows
func (l *Layer) FetchPage(ctx context.Context, req model.PageRequest) ([]model.ParcelRow, error) {
	dir := strings.ToUpper(req.OrderDir)
	if dir != "DESC" {
		dir = "ASC"
	}

	form := url.Values{}
	form.Set("where", normalizeWhere(req.Where))
	form.Set("outFields", l.outFields(ctx))
	form.Set("orderByFields", l.sortField(ctx, req.OrderBy)+" "+dir)
	form.Set("resultOffset", strconv.Itoa(req.Offset))
	form.Set("resultRecordCount", strconv.Itoa(req.Limit))

	body, err := l.client.RequestWithRetry(ctx, l.url+"/query", form)
	if err != nil {
		return nil, err
	}

	var result struct {
		Features []struct {
			Attributes map[string]interface{} `json:"attributes"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode page: %w", err)
	}

	rows := make([]model.ParcelRow, 0, len(result.Features))
	for _, feature := range result.Features {
		rows = append(rows, l.shapeRow(feature.Attributes))
	}
	return rows, nil
}

// GroupBy runs a grouped aggregate query and flattens each group's
// aliased statistics
func (l *Layer) GroupBy(ctx context.Context, where, groupField string, stats []Statistic, orderBy string) ([]GroupResult, error) {
	statsJSON, err := json.Marshal(stats)
	if err != nil {
		return nil, fmt.Errorf("encode statistics: %w", err)
	}

	form := url.Values{}
	form.Set("where", normalizeWhere(where))
	form.Set("groupByFieldsForStatistics", groupField)
	form.Set("outStatistics", string(statsJSON))
	if orderBy != "" {
		form.Set("orderByFields", orderBy)
	}

	body, err := l.client.RequestWithRetry(ctx, l.url+"/query", form)
	if err != nil {
		return nil, err
	}

	var result struct {
		Features []struct {
			Attributes map[string]interface{} `json:"attributes"`
		} `json:"features"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode group result: %w", err)
	}

	groups := make([]GroupResult, 0, len(result.Features))
	for _, feature := range result.Features {
		group := GroupResult{
			Key:   attrString(feature.Attributes[groupField]),
			Stats: make(map[string]float64, len(stats)),
		}
		for _, s := range stats {
			group.Stats[s.Alias] = attrNumber(feature.Attributes[s.Alias])
		}
		groups = append(groups, group)
	}
	return groups, nil
}

// ZipScopes bootstraps the export/aggregation work units: per-ZIP
// parcel counts, rolled up into 5-digit buckets. Raw keys that do not
// normalize to a 5-digit ZIP are dropped.
func (l *Layer) ZipScopes(ctx context.Context) ([]model.ZipScope, error) {
	groups, err := l.GroupBy(ctx, "1=1", l.fields.Zip, []Statistic{
		{Type: "count", Field: l.fields.ObjectID, Alias: "cnt"},
	}, "")
	if err != nil {
		return nil, fmt.Errorf("zip scopes: %w", err)
	}

	counts := make(map[string]int)
	for _, g := range groups {
		zip := names.Zip5(g.Key)
		if zip == "" {
			continue
		}
		counts[zip] += int(g.Stats["cnt"])
	}

	scopes := make([]model.ZipScope, 0, len(counts))
	for zip, count := range counts {
		scopes = append(scopes, model.ZipScope{Zip: zip, Count: count})
	}
	sort.Slice(scopes, func(i, j int) bool { return scopes[i].Zip < scopes[j].Zip })
	return scopes, nil
}

// shapeRow enriches one raw feature with the computed owner and value
// fields
func (l *Layer) shapeRow(attributes map[string]interface{}) model.ParcelRow {
	rawOwner := attrString(attributes[l.fields.Owner])

	row := model.ParcelRow{
		Attributes: attributes,
		ObjectID:   int64(attrNumber(attributes[l.fields.ObjectID])),
		Zip5:       names.Zip5(attrString(attributes[l.fields.Zip])),
		OwnerRaw:   rawOwner,
		OwnerClass: names.Classify(rawOwner),
		OwnerName:  names.CleanOwnerName(rawOwner),
		OwnerKey:   names.OwnerKey(rawOwner),
		Owners:     names.SplitPersonNames(rawOwner),
		Address:    names.CleanAddress(attrString(attributes[l.fields.Address])),
	}

	switch v := attributes[l.fields.MarketValue].(type) {
	case float64:
		row.MarketValue = v
	case string:
		row.MarketValue = names.ParseNumber(v)
	}

	return row
}

// cached runs fetch through the memoization layer when enabled
func (l *Layer) cached(ctx context.Context, key string, fetch func() ([]byte, error)) ([]byte, error) {
	if l.store == nil {
		return fetch()
	}
	if body, found := l.store.Get(key); found {
		return body, nil
	}

	body, err := fetch()
	if err != nil {
		return nil, err
	}
	_ = l.store.Set(key, body, l.cacheTTL)
	return body, nil
}

func normalizeWhere(where string) string {
	if strings.TrimSpace(where) == "" {
		return "1=1"
	}
	return where
}

func attrString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return trimFloat(t)
	case nil:
		return ""
	default:
		return fmt.Sprintf("%v", t)
	}
}

func attrNumber(v interface{}) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case string:
		return names.ParseNumber(t)
	default:
		return 0
	}
}

func trimFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
