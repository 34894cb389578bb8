package observer

import (
	"context"
	"time"

	kbase "github.com/nevindra/kbase"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// ObservedStore wraps a kbase.Store with OTEL instrumentation on the write
// and search paths. Get, Delete, Init, and Close pass through untouched.
type ObservedStore struct {
	inner kbase.Store
	inst  *Instruments
	kind  string
}

var _ kbase.Store = (*ObservedStore)(nil)

// WrapStore returns an instrumented store. kind names the backend
// ("sqlite", "postgres", "memory") for metric attribution.
func WrapStore(inner kbase.Store, kind string, inst *Instruments) *ObservedStore {
	return &ObservedStore{inner: inner, inst: inst, kind: kind}
}

func (o *ObservedStore) Init(ctx context.Context) error { return o.inner.Init(ctx) }
func (o *ObservedStore) Close() error                   { return o.inner.Close() }

func (o *ObservedStore) Get(ctx context.Context, documentID string) ([]kbase.Entry, error) {
	return o.inner.Get(ctx, documentID)
}

func (o *ObservedStore) Delete(ctx context.Context, documentID string) (bool, error) {
	return o.inner.Delete(ctx, documentID)
}

func (o *ObservedStore) Ingest(ctx context.Context, documentID string, entries []kbase.Entry) (kbase.IngestStats, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "store.ingest", trace.WithAttributes(
		AttrStoreKind.String(o.kind),
		AttrDocumentID.String(documentID),
		AttrChunkCount.Int(len(entries)),
	))
	defer span.End()
	start := time.Now()

	stats, err := o.inner.Ingest(ctx, documentID, entries)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}

	attrs := metric.WithAttributes(
		AttrStoreKind.String(o.kind),
		attribute.String("status", status),
	)
	o.inst.StoreIngests.Add(ctx, 1, attrs)
	o.inst.IngestDuration.Record(ctx, durationMs, metric.WithAttributes(AttrStoreKind.String(o.kind)))
	if err == nil {
		o.inst.ChunksIngested.Add(ctx, int64(stats.ChunkCount), metric.WithAttributes(AttrStoreKind.String(o.kind)))
	}

	return stats, err
}

func (o *ObservedStore) Search(ctx context.Context, query []float32, topK int, opts ...kbase.SearchOption) ([]kbase.SearchHit, error) {
	ctx, span := o.inst.Tracer.Start(ctx, "store.search", trace.WithAttributes(
		AttrStoreKind.String(o.kind),
		AttrTopK.Int(topK),
	))
	defer span.End()
	start := time.Now()

	hits, err := o.inner.Search(ctx, query, topK, opts...)

	durationMs := float64(time.Since(start).Milliseconds())
	status := "ok"
	if err != nil {
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetAttributes(AttrHitCount.Int(len(hits)))
	}

	o.inst.StoreSearches.Add(ctx, 1, metric.WithAttributes(
		AttrStoreKind.String(o.kind),
		attribute.String("status", status),
	))
	o.inst.SearchDuration.Record(ctx, durationMs, metric.WithAttributes(AttrStoreKind.String(o.kind)))

	return hits, err
}
