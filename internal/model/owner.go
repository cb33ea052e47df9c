package model

// OwnerClass is the business/residential classification of an owner name
type OwnerClass string

const (
	OwnerBusiness    OwnerClass = "business"
	OwnerResidential OwnerClass = "residential"
)

func (c OwnerClass) String() string {
	return string(c)
}

// PersonName is one co-owner parsed out of a raw owner field.
// Full is the cleaned single-owner substring before token splitting.
type PersonName struct {
	First  string `json:"first"`
	Middle string `json:"middle,omitempty"`
	Last   string `json:"last"`
	Full   string `json:"full"`
}
