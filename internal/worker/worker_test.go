package worker

import (
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, rdb
}

// queueLen tolerates the missing key miniredis reports for an empty list.
func queueLen(mr *miniredis.Miniredis, key string) int {
	items, err := mr.List(key)
	if err != nil {
		return 0
	}
	return len(items)
}
