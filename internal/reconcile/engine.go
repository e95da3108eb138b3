// Package reconcile upserts normalized source records into the store.
package reconcile

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etrends/internal/model"
	"github.com/sells-group/etrends/internal/store"
)

// Engine applies one batch per call inside a single store transaction.
// Batches of the same source kind are serialized; local and federal batches
// may run concurrently.
type Engine struct {
	st store.Store

	localMu   sync.Mutex
	federalMu sync.Mutex
}

// New returns an Engine writing to st.
func New(st store.Store) *Engine {
	return &Engine{st: st}
}

// ReconcileLocal creates unseen vendors and upserts one price per
// (vendor, date). Vendor identity is the exact name; an existing vendor keeps
// its stored town.
func (e *Engine) ReconcileLocal(ctx context.Context, records []model.LocalRecord) (model.ReconciliationResult, error) {
	e.localMu.Lock()
	defer e.localMu.Unlock()

	log := zap.L().With(zap.String("component", "reconcile"), zap.String("kind", string(model.SourceLocal)))

	var res model.ReconciliationResult
	err := e.st.InTx(ctx, func(tx store.Tx) error {
		res = model.ReconciliationResult{}
		vendors := make(map[string]int64)

		for _, r := range records {
			id, ok := vendors[r.Company]
			if !ok {
				v, err := tx.FindVendorByName(ctx, r.Company)
				if err != nil {
					return err
				}
				if v == nil {
					v, err = tx.CreateVendor(ctx, r.Company, r.Town)
					if err != nil {
						return err
					}
					res.CreatedVendors++
					log.Debug("created vendor", zap.String("vendor", v.Name), zap.String("town", v.Town))
				}
				id = v.ID
				vendors[r.Company] = id
			}

			inserted, err := tx.UpsertPrice(ctx, id, model.Day(r.Date), r.Price)
			if err != nil {
				return err
			}
			if inserted {
				res.NewPrices++
			} else {
				res.UpdatedPrices++
			}
		}
		return nil
	})
	if err != nil {
		return model.ReconciliationResult{}, model.PersistenceError(eris.Wrap(err, "reconcile local"))
	}

	log.Info("reconciled local batch",
		zap.Int("records", len(records)),
		zap.Int("created_vendors", res.CreatedVendors),
		zap.Int("new_prices", res.NewPrices),
		zap.Int("updated_prices", res.UpdatedPrices),
	)
	return res, nil
}

// ReconcileFederal upserts one reference price per date. When a batch
// repeats a date the last point wins.
func (e *Engine) ReconcileFederal(ctx context.Context, points []model.FederalPoint) (model.ReconciliationResult, error) {
	e.federalMu.Lock()
	defer e.federalMu.Unlock()

	log := zap.L().With(zap.String("component", "reconcile"), zap.String("kind", string(model.SourceFederal)))

	batch := dedupeByDate(points)
	if len(batch) < len(points) {
		log.Warn("collapsed duplicate federal dates", zap.Int("points", len(points)), zap.Int("unique", len(batch)))
	}

	var res model.ReconciliationResult
	err := e.st.InTx(ctx, func(tx store.Tx) error {
		created, updated, err := tx.UpsertFederalPrices(ctx, batch)
		if err != nil {
			return err
		}
		res = model.ReconciliationResult{NewPrices: created, UpdatedPrices: updated}
		return nil
	})
	if err != nil {
		return model.ReconciliationResult{}, model.PersistenceError(eris.Wrap(err, "reconcile federal"))
	}

	log.Info("reconciled federal batch",
		zap.Int("points", len(batch)),
		zap.Int("new_prices", res.NewPrices),
		zap.Int("updated_prices", res.UpdatedPrices),
	)
	return res, nil
}

// dedupeByDate keeps the last point per calendar day, in first-seen order.
func dedupeByDate(points []model.FederalPoint) []model.FederalPoint {
	idx := make(map[string]int, len(points))
	out := make([]model.FederalPoint, 0, len(points))
	for _, p := range points {
		p.Date = model.Day(p.Date)
		k := p.Date.Format(model.DateLayout)
		if i, ok := idx[k]; ok {
			out[i] = p
			continue
		}
		idx[k] = len(out)
		out = append(out, p)
	}
	return out
}
