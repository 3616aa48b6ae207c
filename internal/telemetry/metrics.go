package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const meterName = "github.com/jonathan/publication-pipeline"

// Counters are the pipeline's record counters, tagged by source.
type Counters struct {
	Inserted       metric.Int64Counter
	Duplicates     metric.Int64Counter
	InsertErrors   metric.Int64Counter
	Dropped        metric.Int64Counter
	ReconcileDrops metric.Int64Counter
}

// NewCounters creates the counters on the current global meter provider.
// It is called after Setup so that an installed provider is picked up.
func NewCounters() (*Counters, error) {
	meter := otel.Meter(meterName)
	var (
		c   Counters
		err error
	)
	if c.Inserted, err = meter.Int64Counter("pubpipe.records.inserted",
		metric.WithDescription("records written to the store")); err != nil {
		return nil, err
	}
	if c.Duplicates, err = meter.Int64Counter("pubpipe.records.duplicates",
		metric.WithDescription("inserts rejected by the unique title index")); err != nil {
		return nil, err
	}
	if c.InsertErrors, err = meter.Int64Counter("pubpipe.records.insert_errors",
		metric.WithDescription("inserts that failed for any other reason")); err != nil {
		return nil, err
	}
	if c.Dropped, err = meter.Int64Counter("pubpipe.records.dropped",
		metric.WithDescription("listing items dropped without a title")); err != nil {
		return nil, err
	}
	if c.ReconcileDrops, err = meter.Int64Counter("pubpipe.reconcile.deleted",
		metric.WithDescription("duplicate records deleted by reconciliation")); err != nil {
		return nil, err
	}
	return &c, nil
}

// Add increments counter by n for source. Zero increments are skipped.
func Add(ctx context.Context, counter metric.Int64Counter, n int, source string) {
	if counter == nil || n == 0 {
		return
	}
	counter.Add(ctx, int64(n), metric.WithAttributes(attribute.String("source", source)))
}
