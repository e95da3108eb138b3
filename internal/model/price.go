package model

import (
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
)

// SourceKind identifies which upstream an acquisition run reads from.
type SourceKind string

const (
	SourceLocal   SourceKind = "local"
	SourceFederal SourceKind = "federal"
)

// AllSourceKinds lists every supported source kind.
func AllSourceKinds() []SourceKind {
	return []SourceKind{SourceLocal, SourceFederal}
}

// ParseSourceKind converts "local" or "federal" (any case) into a SourceKind.
func ParseSourceKind(s string) (SourceKind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local":
		return SourceLocal, nil
	case "federal":
		return SourceFederal, nil
	default:
		return "", eris.Errorf("unknown source kind: %q (valid: local, federal)", s)
	}
}

// Title returns the capitalized kind, used in run messages.
func (k SourceKind) Title() string {
	switch k {
	case SourceLocal:
		return "Local"
	case SourceFederal:
		return "Federal"
	default:
		return string(k)
	}
}

// DateLayout is the calendar-date layout used for observation dates.
const DateLayout = "2006-01-02"

// Day truncates t to its UTC calendar day.
func Day(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Vendor is a heating-oil dealer, identified by its exact listed name.
type Vendor struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Town      string    `json:"town"`
	CreatedAt time.Time `json:"created_at"`
}

// PriceRecord is one vendor's price on one observation date.
type PriceRecord struct {
	ID       int64           `json:"id"`
	VendorID int64           `json:"vendor_id"`
	Price    decimal.Decimal `json:"price"`
	Date     time.Time       `json:"date"`
}

// PriceObservation is a PriceRecord joined with its vendor, as returned by
// range queries.
type PriceObservation struct {
	VendorID   int64           `json:"vendor_id"`
	VendorName string          `json:"vendor_name"`
	Town       string          `json:"town"`
	Price      decimal.Decimal `json:"price"`
	Date       time.Time       `json:"date"`
}

// FederalPriceRecord is the federal reference price for one observation date.
type FederalPriceRecord struct {
	Date  time.Time       `json:"date"`
	Price decimal.Decimal `json:"price"`
}

// LocalRecord is a normalized row from the vendor listing page.
type LocalRecord struct {
	Company string
	Town    string
	Price   decimal.Decimal
	Date    time.Time
}

// FederalPoint is a normalized entry from the federal pricing API.
type FederalPoint struct {
	Date  time.Time
	Price decimal.Decimal
}

// ReconciliationResult counts what a reconciliation batch changed.
type ReconciliationResult struct {
	CreatedVendors int `json:"created_vendors"`
	NewPrices      int `json:"new_prices"`
	UpdatedPrices  int `json:"updated_prices"`
}
