package store

import (
	"context"
	"log"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/meridian-news/curator/internal/curation"
)

var (
	storeMetricsOnce   sync.Once
	statusTransitions  otelmetric.Int64Counter
	childAssignments   otelmetric.Int64Counter
	integrityViolation otelmetric.Int64Counter
)

func initStoreMetrics() {
	meter := otel.Meter("curator/store")
	var err error
	statusTransitions, err = meter.Int64Counter(
		"curation_status_transitions_total",
		otelmetric.WithDescription("Successful narrative status transitions"),
	)
	if err != nil {
		log.Printf("store metrics init: curation_status_transitions_total: %v", err)
	}
	childAssignments, err = meter.Int64Counter(
		"narrative_child_assignments_total",
		otelmetric.WithDescription("Narratives newly assigned to a parent"),
	)
	if err != nil {
		log.Printf("store metrics init: narrative_child_assignments_total: %v", err)
	}
	integrityViolation, err = meter.Int64Counter(
		"hierarchy_integrity_violations_total",
		otelmetric.WithDescription("Violations found by integrity scans"),
	)
	if err != nil {
		log.Printf("store metrics init: hierarchy_integrity_violations_total: %v", err)
	}
}

func recordStatusTransition(ctx context.Context, from, to curation.Status) {
	storeMetricsOnce.Do(initStoreMetrics)
	if statusTransitions == nil {
		return
	}
	statusTransitions.Add(ctx, 1, otelmetric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func recordAssignment(ctx context.Context, n int) {
	storeMetricsOnce.Do(initStoreMetrics)
	if childAssignments == nil {
		return
	}
	childAssignments.Add(ctx, int64(n))
}

func recordIntegrityViolations(ctx context.Context, check string, n int) {
	storeMetricsOnce.Do(initStoreMetrics)
	if integrityViolation == nil || n == 0 {
		return
	}
	integrityViolation.Add(ctx, int64(n), otelmetric.WithAttributes(
		attribute.String("check", check),
	))
}
