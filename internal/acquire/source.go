// Package acquire runs acquisition sources through reconciliation and
// records every attempt in the audit log.
package acquire

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/etrends/internal/extract"
	"github.com/sells-group/etrends/internal/fetcher"
	"github.com/sells-group/etrends/internal/model"
)

// maxPageBytes caps the listing page download.
const maxPageBytes = 8 << 20

// Reconciler persists normalized batches.
type Reconciler interface {
	ReconcileLocal(ctx context.Context, records []model.LocalRecord) (model.ReconciliationResult, error)
	ReconcileFederal(ctx context.Context, points []model.FederalPoint) (model.ReconciliationResult, error)
}

// Batch is the normalized output of one Source fetch.
type Batch interface {
	Len() int
	Apply(ctx context.Context, r Reconciler) (model.ReconciliationResult, error)
}

// LocalBatch holds rows from the vendor listing page.
type LocalBatch []model.LocalRecord

func (b LocalBatch) Len() int { return len(b) }

func (b LocalBatch) Apply(ctx context.Context, r Reconciler) (model.ReconciliationResult, error) {
	return r.ReconcileLocal(ctx, b)
}

// FederalBatch holds federal reference points.
type FederalBatch []model.FederalPoint

func (b FederalBatch) Len() int { return len(b) }

func (b FederalBatch) Apply(ctx context.Context, r Reconciler) (model.ReconciliationResult, error) {
	return r.ReconcileFederal(ctx, b)
}

// Source fetches and normalizes one upstream. Fetch must not touch the store.
type Source interface {
	Kind() model.SourceKind
	Fetch(ctx context.Context) (Batch, error)
}

// LocalSource downloads the vendor listing page and extracts its price table.
type LocalSource struct {
	f   fetcher.Fetcher
	ex  *extract.Extractor
	url string
	now func() time.Time
}

// NewLocalSource creates a LocalSource reading pageURL.
func NewLocalSource(f fetcher.Fetcher, ex *extract.Extractor, pageURL string) *LocalSource {
	return &LocalSource{f: f, ex: ex, url: pageURL, now: time.Now}
}

func (s *LocalSource) Kind() model.SourceKind { return model.SourceLocal }

func (s *LocalSource) Fetch(ctx context.Context) (Batch, error) {
	body, err := s.f.Download(ctx, s.url)
	if err != nil {
		return nil, model.FetchError(eris.Wrap(err, "local: download listing"))
	}
	defer body.Close() //nolint:errcheck

	html, err := fetcher.ReadLimited(body, maxPageBytes)
	if err != nil {
		return nil, model.FetchError(eris.Wrap(err, "local: read listing"))
	}

	records, err := s.ex.Parse(html, s.now())
	if err != nil {
		return nil, err
	}
	return LocalBatch(records), nil
}

// FederalFetcher is the federal API client surface used by FederalSource.
type FederalFetcher interface {
	Fetch(ctx context.Context, since *time.Time) ([]model.FederalPoint, error)
}

// FederalSource pulls the trailing lookback window of federal prices.
type FederalSource struct {
	client   FederalFetcher
	lookback time.Duration
	now      func() time.Time
}

// NewFederalSource creates a FederalSource. lookbackDays <= 0 requests
// everything the API exposes.
func NewFederalSource(client FederalFetcher, lookbackDays int) *FederalSource {
	return &FederalSource{
		client:   client,
		lookback: time.Duration(lookbackDays) * 24 * time.Hour,
		now:      time.Now,
	}
}

func (s *FederalSource) Kind() model.SourceKind { return model.SourceFederal }

func (s *FederalSource) Fetch(ctx context.Context) (Batch, error) {
	var since *time.Time
	if s.lookback > 0 {
		t := model.Day(s.now().Add(-s.lookback))
		since = &t
	}
	points, err := s.client.Fetch(ctx, since)
	if err != nil {
		return nil, model.FetchError(err)
	}
	return FederalBatch(points), nil
}
