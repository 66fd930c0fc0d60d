// Package trending implements the Top-K Windowed Counter (spec.md §4.6):
// a sliding-window view counter over per-category bucketed sorted sets,
// and the Trending Service that periodically recomputes and publishes
// top-K snapshots.
package trending

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/fntelecomllc/writepath/internal/corerr"
	"github.com/fntelecomllc/writepath/internal/idempotency"
	"github.com/fntelecomllc/writepath/internal/kv"
)

// AllCategory is the sentinel category tracked alongside every specific one,
// backing "trending overall" views.
const AllCategory = "all"

// ScoredVideo is one row of a topK result.
type ScoredVideo struct {
	VideoID uuid.UUID `json:"videoId"`
	Score   int64     `json:"score"`
}

// Counter is the Top-K Windowed Counter.
type Counter struct {
	kv           *kv.Client
	bucketWidth  time.Duration
	window       time.Duration
	buffer       time.Duration
	dedupeWindow time.Duration
}

// New returns a Counter with the given bucket width and sliding window.
// A one-bucket-width buffer keeps keys alive slightly past the window so a
// topK call mid-bucket never observes a just-expired member.
func New(kvClient *kv.Client, bucketWidth, window time.Duration) *Counter {
	return &Counter{
		kv:           kvClient,
		bucketWidth:  bucketWidth,
		window:       window,
		buffer:       bucketWidth,
		dedupeWindow: 10 * time.Second,
	}
}

func (c *Counter) bucketFor(t time.Time) int64 {
	return t.Unix() / int64(c.bucketWidth.Seconds())
}

func bucketKey(category string, bucket int64) string {
	return fmt.Sprintf("views:bucket:%s:%d", category, bucket)
}

func (c *Counter) ttl() time.Duration {
	return c.window + c.buffer
}

// RecordView increments videoID's count in both the "all" and per-category
// bucketed sorted sets for the current bucket. Each ZINCRBY and its TTL
// refresh is a separate call (four round trips when a category is given);
// they are not pipelined or batched into one round trip.
//
// When idem is non-nil every call is deduplicated through the shared
// idempotency cache: a non-empty dedupeKey is used verbatim as the key, so
// repeats of that key count once for as long as its completed entry lives;
// an empty dedupeKey falls back to a key over videoID, category and the
// current 10s bucket, so at most one view per video and category counts in
// each 10s bucket. Pass a nil idem to count every call.
func (c *Counter) RecordView(ctx context.Context, idem *idempotency.Cache, videoID uuid.UUID, category, dedupeKey string) error {
	if idem != nil {
		key := idempotency.DeriveKey(dedupeKey, videoID.String(), category,
			fmt.Sprintf("%d", time.Now().Unix()/int64(c.dedupeWindow.Seconds())))
		outcome, err := idem.Reserve(ctx, key)
		if err != nil {
			return corerr.New(corerr.Internal, err)
		}
		if outcome.State != idempotency.Acquired {
			return nil
		}
		defer func() {
			if pubErr := idem.Publish(ctx, key, []byte("1")); pubErr != nil {
				_ = pubErr // best-effort; a duplicate count on cache-publish failure is harmless
			}
		}()
	}

	bucket := c.bucketFor(time.Now())
	member := videoID.String()

	allKey := bucketKey(AllCategory, bucket)
	if _, err := c.kv.ZIncrBy(ctx, allKey, 1, member); err != nil {
		return corerr.New(corerr.Internal, err)
	}
	if err := c.kv.Expire(ctx, allKey, c.ttl()); err != nil {
		return corerr.New(corerr.Internal, err)
	}

	if category != "" && category != AllCategory {
		catKey := bucketKey(category, bucket)
		if _, err := c.kv.ZIncrBy(ctx, catKey, 1, member); err != nil {
			return corerr.New(corerr.Internal, err)
		}
		if err := c.kv.Expire(ctx, catKey, c.ttl()); err != nil {
			return corerr.New(corerr.Internal, err)
		}
	}
	return nil
}

// windowBucketKeys returns every bucket key for category spanning the
// current sliding window, oldest first.
func (c *Counter) windowBucketKeys(category string, now time.Time) []string {
	numBuckets := int(math.Ceil(c.window.Seconds() / c.bucketWidth.Seconds()))
	current := c.bucketFor(now)
	keys := make([]string, 0, numBuckets)
	for i := numBuckets - 1; i >= 0; i-- {
		keys = append(keys, bucketKey(category, current-int64(i)))
	}
	return keys
}

// TopK implements spec.md §4.6's topK algorithm: filter the window's bucket
// keys to those that still exist, then either read the sole survivor
// directly or ZUNIONSTORE the survivors into scratch space before ranking.
func (c *Counter) TopK(ctx context.Context, category string, k int) ([]ScoredVideo, error) {
	candidates := c.windowBucketKeys(category, time.Now())

	existing := make([]string, 0, len(candidates))
	for _, key := range candidates {
		n, err := c.kv.Exists(ctx, key)
		if err != nil {
			return nil, corerr.New(corerr.Internal, err)
		}
		if n > 0 {
			existing = append(existing, key)
		}
	}

	if len(existing) == 0 {
		return nil, nil
	}

	sourceKey := existing[0]
	if len(existing) > 1 {
		sourceKey = fmt.Sprintf("views:topk_scratch:%s:%d", category, time.Now().UnixNano())
		if err := c.kv.ZUnionStore(ctx, sourceKey, 10*time.Second, existing...); err != nil {
			return nil, corerr.New(corerr.Internal, err)
		}
		defer func() { _ = c.kv.Del(context.WithoutCancel(ctx), sourceKey) }()
	}

	rows, err := c.kv.ZRevRangeWithScores(ctx, sourceKey, int64(k))
	if err != nil {
		return nil, corerr.New(corerr.Internal, err)
	}

	out := make([]ScoredVideo, 0, len(rows))
	for _, r := range rows {
		id, perr := uuid.Parse(r.Member.(string))
		if perr != nil {
			continue
		}
		out = append(out, ScoredVideo{VideoID: id, Score: int64(r.Score)})
	}
	return out, nil
}
