package trending

import (
	"context"
	"sync"
	"time"

	"github.com/fntelecomllc/writepath/internal/logging"
)

// Snapshot is one category's most recent top-K computation.
type Snapshot struct {
	Category  string        `json:"category"`
	Videos    []ScoredVideo `json:"videos"`
	UpdatedAt time.Time     `json:"updatedAt"`
}

// Publisher is the fan-out hook the Trending Service invokes with each
// fresh snapshot — satisfied by the Fan-out Gateway.
type Publisher interface {
	PublishTrending(ctx context.Context, snap Snapshot) error
}

// Service periodically recomputes top-K per category and caches the result
// in memory for cheap reads between ticks, per spec.md §4.6's Trending
// Service loop.
type Service struct {
	counter    *Counter
	publisher  Publisher
	categories []string
	topK       int
	interval   time.Duration
	log        *logging.Logger

	mu        sync.RWMutex
	snapshots map[string]Snapshot
}

// NewService returns a Service over counter, recomputing the given
// categories (plus AllCategory, always included) every interval.
func NewService(counter *Counter, publisher Publisher, categories []string, topK int, interval time.Duration) *Service {
	return &Service{
		counter:    counter,
		publisher:  publisher,
		categories: categories,
		topK:       topK,
		interval:   interval,
		log:        logging.New("trending_service"),
		snapshots:  make(map[string]Snapshot),
	}
}

// Snapshot returns the most recently computed top-K for category, or the
// zero Snapshot if none has been computed yet.
func (s *Service) Snapshot(category string) (Snapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snapshots[category]
	return snap, ok
}

func (s *Service) recomputeOne(ctx context.Context, category string) {
	videos, err := s.counter.TopK(ctx, category, s.topK)
	if err != nil {
		s.log.Warn(ctx, "topk_failed", map[string]interface{}{"category": category, "error": err.Error()})
		return
	}
	snap := Snapshot{Category: category, Videos: videos, UpdatedAt: time.Now().UTC()}

	s.mu.Lock()
	s.snapshots[category] = snap
	s.mu.Unlock()

	if s.publisher != nil {
		if err := s.publisher.PublishTrending(ctx, snap); err != nil {
			s.log.Warn(ctx, "publish_trending_failed", map[string]interface{}{"category": category, "error": err.Error()})
		}
	}
}

// recomputeAll runs one full pass across AllCategory plus every configured
// category. A failure on one category is logged and never stops the rest.
func (s *Service) recomputeAll(ctx context.Context) {
	s.recomputeOne(ctx, AllCategory)
	for _, c := range s.categories {
		s.recomputeOne(ctx, c)
	}
}

// Run blocks, recomputing every interval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	s.recomputeAll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.recomputeAll(ctx)
		}
	}
}
