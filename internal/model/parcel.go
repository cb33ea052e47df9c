package model

// ParcelRow is one parcel record shaped from a raw service feature.
// Attributes holds the raw remote fields; the rest are computed locally.
type ParcelRow struct {
	Attributes map[string]interface{} `json:"attributes"`

	ObjectID int64  `json:"object_id"`
	Zip5     string `json:"zip5"`

	OwnerRaw   string     `json:"owner_raw"`
	OwnerClass OwnerClass `json:"owner_class"`

	// Display/dedup derivations of the owner field
	OwnerName string       `json:"owner_name,omitempty"`
	OwnerKey  string       `json:"owner_key,omitempty"`
	Owners    []PersonName `json:"owners,omitempty"`

	Address     string  `json:"address,omitempty"`
	MarketValue float64 `json:"market_value"`
}

// PrimaryOwner returns the first parsed co-owner, if any
func (r *ParcelRow) PrimaryOwner() (PersonName, bool) {
	if len(r.Owners) == 0 {
		return PersonName{}, false
	}
	return r.Owners[0], true
}

// ZipScope is one postal-code unit of export/aggregation work,
// derived at bootstrap from the service's per-ZIP parcel counts.
// Immutable once created.
type ZipScope struct {
	Zip   string `json:"zip"`
	Count int    `json:"count"`
}

// PageRequest is one offset/limit slice of a server-side result set.
// Pages are stateless on the server: any page can be re-issued after a
// failure without side effects.
type PageRequest struct {
	Where    string `json:"where"`
	OrderBy  string `json:"order_by"`
	OrderDir string `json:"order_dir"`
	Offset   int    `json:"offset"`
	Limit    int    `json:"limit"`
}

// PageResult pairs a fetched page with the total count of its result set
type PageResult struct {
	Rows       []ParcelRow `json:"rows"`
	TotalCount int         `json:"total_count"`
}
