package server

import (
	"context"
	"log"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/redis/go-redis/v9"

	"github.com/meridian-news/curator/internal/store"
)

// IntegritySweeper periodically runs the hierarchy integrity scan and
// rebuilds the cache when drift is detected. Not load-bearing for
// correctness; the write path maintains the invariants it checks.
type IntegritySweeper struct {
	Store    *store.Store
	Rdb      *redis.Client
	Schedule string
	LockTTL  time.Duration
	Stop     chan struct{}

	lastRun *time.Time
}

func (s *IntegritySweeper) Start() {
	ticker := time.NewTicker(5 * time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *IntegritySweeper) tick() {
	if !isDue(s.Schedule, s.lastRun) {
		return
	}
	ctx := context.Background()

	// distributed lock so only one instance sweeps
	if s.Rdb != nil {
		ttl := s.LockTTL
		if ttl <= 0 {
			ttl = 2 * time.Minute
		}
		ok, _ := s.Rdb.SetNX(ctx, "curator:sweep:lock", "1", ttl).Result()
		if !ok {
			return
		}
		defer s.Rdb.Del(ctx, "curator:sweep:lock")
	}

	now := time.Now()
	s.lastRun = &now

	logger := log.New(log.Writer(), "[SWEEP] ", log.LstdFlags)
	report, err := s.Store.ValidateIntegrity(ctx)
	if err != nil {
		logger.Printf("integrity scan failed: %v", err)
		return
	}
	if !report.Healthy() {
		logger.Printf("integrity violations: self_ref=%d dangling=%d depth=%d mislabeled=%d",
			report.SelfReferenceCount, report.DanglingParentCount,
			report.DepthViolationCount, report.MislabeledRootCount)
	}
	if report.OrphanedGroupCount > 0 {
		logger.Printf("warning: %d cluster groups without a parent narrative", report.OrphanedGroupCount)
	}

	drifted, err := s.Store.DetectCacheDrift(ctx)
	if err != nil {
		logger.Printf("drift detection failed: %v", err)
		return
	}
	if len(drifted) > 0 {
		logger.Printf("hierarchy cache drift on %d roots; rebuilding", len(drifted))
		if err := s.Store.RefreshHierarchyCache(ctx); err != nil {
			logger.Printf("cache rebuild failed: %v", err)
		}
	}
}

// isDue reports whether the sweep should run now given its schedule and
// last run. Supports "@daily", "@hourly" and 5-field cron expressions;
// invalid expressions fall back to @daily.
func isDue(schedule string, last *time.Time) bool {
	now := time.Now()
	switch schedule {
	case "@daily":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		if last == nil {
			return true
		}
		return now.Sub(*last) >= time.Hour
	default:
		expr, err := cronexpr.Parse(schedule)
		if err != nil {
			if last == nil {
				return true
			}
			return now.Sub(*last) >= 24*time.Hour
		}
		if last == nil {
			return true
		}
		next := expr.Next(*last)
		return !next.IsZero() && !next.After(now)
	}
}
