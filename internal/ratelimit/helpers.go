package ratelimit

import (
	"strconv"
	"time"
)

func bucketKey(strategy, identity string) string {
	return BucketKeyPrefix + strategy + ":" + identity
}

// formatMinutes rounds d up to whole minutes, with a floor of one.
func formatMinutes(d time.Duration) string {
	minutes := int64((d + time.Minute - 1) / time.Minute)
	if minutes < 1 {
		minutes = 1
	}
	return strconv.FormatInt(minutes, 10) + " minutes"
}

func remaining(max, count int64) int64 {
	if count >= max {
		return 0
	}
	return max - count
}
