// Package trend builds read-side price views over a trailing window of days.
package trend

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/etrends/internal/model"
)

// ErrInvalidWindow is returned for a non-positive window.
var ErrInvalidWindow = errors.New("window must be a positive number of days")

// recentLimit is the number of records in Summary.
const recentLimit = 10

// Reader is the store surface the aggregator reads.
type Reader interface {
	PricesBetween(ctx context.Context, from, to time.Time) ([]model.PriceObservation, error)
	FederalBetween(ctx context.Context, from, to time.Time) ([]model.FederalPriceRecord, error)
	RecentPrices(ctx context.Context, limit int) ([]model.PriceObservation, error)
	CountVendors(ctx context.Context) (int, error)
	CountPrices(ctx context.Context) (int, error)
}

// VendorPrice is one vendor's latest in-window price.
type VendorPrice struct {
	VendorID   int64           `json:"vendor_id" yaml:"vendor_id"`
	VendorName string          `json:"vendor_name" yaml:"vendor_name"`
	Town       string          `json:"town" yaml:"town"`
	Price      decimal.Decimal `json:"price" yaml:"price"`
	Date       time.Time       `json:"date" yaml:"date"`
}

// Points is a date-ascending price series.
type Points struct {
	Dates  []time.Time       `json:"dates" yaml:"dates"`
	Prices []decimal.Decimal `json:"prices" yaml:"prices"`
}

func (p *Points) add(d time.Time, price decimal.Decimal) {
	p.Dates = append(p.Dates, d)
	p.Prices = append(p.Prices, price)
}

// Series holds per-vendor and federal series over one window.
type Series struct {
	From    time.Time          `json:"from" yaml:"from"`
	To      time.Time          `json:"to" yaml:"to"`
	Vendors map[string]*Points `json:"vendors" yaml:"vendors"`
	Federal Points             `json:"federal" yaml:"federal"`
}

// Summary is a store-wide overview.
type Summary struct {
	VendorCount int                      `json:"vendor_count" yaml:"vendor_count"`
	PriceCount  int                      `json:"price_count" yaml:"price_count"`
	Recent      []model.PriceObservation `json:"recent" yaml:"recent"`
}

// Aggregator computes trend views from committed store state.
type Aggregator struct {
	r   Reader
	now func() time.Time
}

// New creates an Aggregator reading from r.
func New(r Reader) *Aggregator {
	return &Aggregator{r: r, now: time.Now}
}

// window returns [today-days, today] in UTC calendar days.
func (a *Aggregator) window(days int) (time.Time, time.Time, error) {
	if days <= 0 {
		return time.Time{}, time.Time{}, eris.Wrapf(ErrInvalidWindow, "trend: got %d", days)
	}
	to := model.Day(a.now())
	return to.AddDate(0, 0, -days), to, nil
}

// LatestPrices returns each vendor's most recent price inside the window,
// cheapest first. Ties sort by vendor name.
func (a *Aggregator) LatestPrices(ctx context.Context, windowDays int) ([]VendorPrice, error) {
	from, to, err := a.window(windowDays)
	if err != nil {
		return nil, err
	}

	obs, err := a.r.PricesBetween(ctx, from, to)
	if err != nil {
		return nil, eris.Wrap(err, "trend: latest prices")
	}

	latest := make(map[int64]model.PriceObservation)
	for _, o := range obs {
		if cur, ok := latest[o.VendorID]; !ok || o.Date.After(cur.Date) {
			latest[o.VendorID] = o
		}
	}

	out := make([]VendorPrice, 0, len(latest))
	for _, o := range latest {
		out = append(out, VendorPrice{
			VendorID:   o.VendorID,
			VendorName: o.VendorName,
			Town:       o.Town,
			Price:      o.Price,
			Date:       o.Date,
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Price.Cmp(out[j].Price); c != 0 {
			return c < 0
		}
		return out[i].VendorName < out[j].VendorName
	})
	return out, nil
}

// Series returns per-vendor and federal series for the window. The two reads
// run concurrently.
func (a *Aggregator) Series(ctx context.Context, windowDays int) (*Series, error) {
	from, to, err := a.window(windowDays)
	if err != nil {
		return nil, err
	}

	var (
		local   []model.PriceObservation
		federal []model.FederalPriceRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		local, err = a.r.PricesBetween(gctx, from, to)
		return eris.Wrap(err, "trend: local series")
	})
	g.Go(func() error {
		var err error
		federal, err = a.r.FederalBetween(gctx, from, to)
		return eris.Wrap(err, "trend: federal series")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	s := &Series{From: from, To: to, Vendors: make(map[string]*Points)}
	sort.SliceStable(local, func(i, j int) bool { return local[i].Date.Before(local[j].Date) })
	for _, o := range local {
		p, ok := s.Vendors[o.VendorName]
		if !ok {
			p = &Points{}
			s.Vendors[o.VendorName] = p
		}
		p.add(o.Date, o.Price)
	}
	sort.SliceStable(federal, func(i, j int) bool { return federal[i].Date.Before(federal[j].Date) })
	for _, f := range federal {
		s.Federal.add(f.Date, f.Price)
	}
	return s, nil
}

// Summary returns vendor and price counts plus the most recent records.
func (a *Aggregator) Summary(ctx context.Context) (*Summary, error) {
	var s Summary
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		s.VendorCount, err = a.r.CountVendors(gctx)
		return eris.Wrap(err, "trend: count vendors")
	})
	g.Go(func() error {
		var err error
		s.PriceCount, err = a.r.CountPrices(gctx)
		return eris.Wrap(err, "trend: count prices")
	})
	g.Go(func() error {
		var err error
		s.Recent, err = a.r.RecentPrices(gctx, recentLimit)
		return eris.Wrap(err, "trend: recent prices")
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return &s, nil
}
