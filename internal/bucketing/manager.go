package bucketing

import (
	"hash"
	"sync"
	"time"

	"kyc-service/internal/config"

	"github.com/spaolacci/murmur3"
)

// BucketingManager spreads user rows over a fixed number of partitions so no
// single Scylla partition grows without bound.
type BucketingManager struct {
	userBuckets  int
	eventBuckets int
	hasherPool   sync.Pool
}

func NewBucketingManager(cfg *config.Config) *BucketingManager {
	bm := &BucketingManager{
		userBuckets:  positive(cfg.Bucketing.UserBuckets, 256),
		eventBuckets: positive(cfg.Bucketing.EventBuckets, 64),
	}
	bm.hasherPool = sync.Pool{
		New: func() interface{} { return murmur3.New64() },
	}
	return bm
}

// GetUserBucket returns the users-table partition for userID, in
// [0, userBuckets). The same id always lands in the same bucket.
func (bm *BucketingManager) GetUserBucket(userID string) int {
	return bm.getBucket(userID, bm.userBuckets)
}

// GetEventBucket spreads throttle keys and audit rows.
func (bm *BucketingManager) GetEventBucket(identifier string) int {
	return bm.getBucket(identifier, bm.eventBuckets)
}

// GetTimeBucket floors t to a window of windowSeconds.
func (bm *BucketingManager) GetTimeBucket(t time.Time, windowSeconds int) int64 {
	w := int64(positive(windowSeconds, 1))
	return t.Unix() / w * w
}

func (bm *BucketingManager) GetDateBucket(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func (bm *BucketingManager) GetUserBuckets() int  { return bm.userBuckets }
func (bm *BucketingManager) GetEventBuckets() int { return bm.eventBuckets }

func (bm *BucketingManager) getBucket(key string, numBuckets int) int {
	hasher := bm.hasherPool.Get().(hash.Hash64)
	defer bm.hasherPool.Put(hasher)

	hasher.Reset()
	_, _ = hasher.Write([]byte(key))
	return int(hasher.Sum64() % uint64(numBuckets))
}

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
