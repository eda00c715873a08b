package coordination

import "fmt"

// Key layout. Everything this service writes to Redis lives under the
// memobase: prefix so several deployments can share an instance.

// UserLockKey is the distributed flush lock for one (project, user,
// blob type) triple.
func UserLockKey(projectID, userID, blobType string) string {
	return fmt.Sprintf("memobase:user_lock:%s:%s:%s:flush", projectID, userID, blobType)
}

// FlushQueueKey is the per-user work queue of pending flush batches.
func FlushQueueKey(projectID, userID, blobType string) string {
	return fmt.Sprintf("memobase:flush_queue:%s:%s:%s", projectID, userID, blobType)
}

// ProfileCacheKey caches one user's full profile listing.
func ProfileCacheKey(projectID, userID string) string {
	return fmt.Sprintf("memobase:profile_cache:%s:%s", projectID, userID)
}
