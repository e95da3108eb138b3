package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/etrends/internal/model"
)

// maxScan bounds the audit entries read per kind for one snapshot.
const maxScan = 1000

// KindHealth summarizes recent runs of one source kind.
type KindHealth struct {
	Kind        model.SourceKind `json:"kind"`
	Total       int              `json:"total"`
	Succeeded   int              `json:"succeeded"`
	Failed      int              `json:"failed"`
	FailRate    float64          `json:"fail_rate"`
	LastSuccess *time.Time       `json:"last_success,omitempty"`
}

// Snapshot holds a point-in-time view of acquisition health.
type Snapshot struct {
	Kinds         []KindHealth `json:"kinds"`
	LookbackHours int          `json:"lookback_hours"`
	CollectedAt   time.Time    `json:"collected_at"`
}

// LogReader is the audit log surface the collector reads.
type LogReader interface {
	ListLog(ctx context.Context, filter model.LogFilter) ([]model.AcquisitionLogEntry, error)
	LastSuccess(ctx context.Context, kind model.SourceKind) (*model.AcquisitionLogEntry, error)
}

// Collector gathers health figures from the acquisition audit log.
type Collector struct {
	log LogReader
	now func() time.Time
}

// NewCollector creates a new collector.
func NewCollector(log LogReader) *Collector {
	return &Collector{log: log, now: time.Now}
}

// Collect gathers a snapshot over the given lookback window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := c.now().UTC()
	snap := &Snapshot{LookbackHours: lookbackHours, CollectedAt: now}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	for _, kind := range model.AllSourceKinds() {
		h := KindHealth{Kind: kind}

		entries, err := c.log.ListLog(ctx, model.LogFilter{Kind: kind, Limit: maxScan})
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: list %s runs", kind)
		}
		// Newest first, so stop at the first entry outside the window.
		for _, e := range entries {
			if e.Timestamp.Before(cutoff) {
				break
			}
			h.Total++
			if e.Success {
				h.Succeeded++
			} else {
				h.Failed++
			}
		}
		if h.Total > 0 {
			h.FailRate = float64(h.Failed) / float64(h.Total)
		}

		last, err := c.log.LastSuccess(ctx, kind)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: last %s success", kind)
		}
		if last != nil {
			ts := last.Timestamp.UTC()
			h.LastSuccess = &ts
		}

		snap.Kinds = append(snap.Kinds, h)
	}

	return snap, nil
}
