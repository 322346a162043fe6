package model

import "time"

// Tariff categories.  The set is closed; admin-created tariffs must use one
// of these.
const (
	CategoryZoo       = "zoo"
	CategoryParking   = "parking"
	CategoryCamera    = "camera"
	CategoryTransport = "transport"
)

// ValidCategory reports whether c is one of the fixed tariff categories.
func ValidCategory(c string) bool {
	switch c {
	case CategoryZoo, CategoryParking, CategoryCamera, CategoryTransport:
		return true
	}
	return false
}

// TariffEntry is a priceable catalog row as stored in the `tariffs`
// table.  ItemCode is the business key; CategoryCode is the pricing key
// that cart lines resolve to (equal to ItemCode for every row this service
// creates, but older rows may group several item codes under one
// category code).
//
// Fields:
//
//	ID           – primary key, also the insertion sequence used as the
//	               last tie-break when ordering rows.
//	DisplayOrder – position in the catalog, unique across all rows after
//	               resequencing; 1..N are reserved for protected rows.
//	ValidFrom/To – optional inclusive YYYY-MM-DD window.
//	Protected    – derived from the canonical set, never stored.
type TariffEntry struct {
	ID           uint64    `json:"id"`
	ItemCode     string    `json:"itemCode"`
	CategoryCode string    `json:"categoryCode"`
	Label        string    `json:"label"`
	Category     string    `json:"category"`
	Price        float64   `json:"price"`
	DisplayOrder int       `json:"displayOrder"`
	IsActive     bool      `json:"isActive"`
	ValidFrom    *string   `json:"validFrom,omitempty"`
	ValidTo      *string   `json:"validTo,omitempty"`
	Protected    bool      `json:"protected"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// AvailableOn reports whether the entry's validity window covers date
// (YYYY-MM-DD).  Open ends are unbounded.
func (t TariffEntry) AvailableOn(date string) bool {
	if t.ValidFrom != nil && *t.ValidFrom != "" && date < *t.ValidFrom {
		return false
	}
	if t.ValidTo != nil && *t.ValidTo != "" && date > *t.ValidTo {
		return false
	}
	return true
}
