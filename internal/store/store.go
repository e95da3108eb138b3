// Package store persists vendors, prices, federal reference prices and the
// acquisition audit log.
package store

import (
	"context"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"

	"github.com/sells-group/etrends/internal/config"
	"github.com/sells-group/etrends/internal/model"
)

// Store defines the persistence interface for the acquisition pipeline.
type Store interface {
	// InTx runs fn inside one transaction. The transaction commits when fn
	// returns nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(Tx) error) error

	// Audit log
	AppendLog(ctx context.Context, entry *model.AcquisitionLogEntry) error
	ListLog(ctx context.Context, filter model.LogFilter) ([]model.AcquisitionLogEntry, error)
	LastSuccess(ctx context.Context, kind model.SourceKind) (*model.AcquisitionLogEntry, error)

	// Reads
	PricesBetween(ctx context.Context, from, to time.Time) ([]model.PriceObservation, error)
	FederalBetween(ctx context.Context, from, to time.Time) ([]model.FederalPriceRecord, error)
	RecentPrices(ctx context.Context, limit int) ([]model.PriceObservation, error)
	CountVendors(ctx context.Context) (int, error)
	CountPrices(ctx context.Context) (int, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx is the write surface available inside InTx.
type Tx interface {
	// FindVendorByName returns the vendor with exactly this name, or nil.
	FindVendorByName(ctx context.Context, name string) (*model.Vendor, error)
	CreateVendor(ctx context.Context, name, town string) (*model.Vendor, error)
	// UpsertPrice writes the price for (vendorID, date) and reports whether
	// a new row was inserted.
	UpsertPrice(ctx context.Context, vendorID int64, date time.Time, price decimal.Decimal) (bool, error)
	// UpsertFederalPrices writes points keyed by date. Points must not repeat
	// a date.
	UpsertFederalPrices(ctx context.Context, points []model.FederalPoint) (created, updated int, err error)
}

const defaultLogLimit = 50

// Open connects to the backend named by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

func logLimit(filter model.LogFilter) int {
	if filter.Limit <= 0 {
		return defaultLogLimit
	}
	return filter.Limit
}
