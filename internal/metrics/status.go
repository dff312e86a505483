package metrics

import (
	"sort"
	"strconv"
)

// StatusBucket is the number of responses observed with one status code.
// Code "0" stands for requests that failed before a response arrived.
type StatusBucket struct {
	Code  string
	Count int
}

// FlattenStatusBuckets converts a status->count map into rows sorted by
// descending count, then by numeric code for stability.
func FlattenStatusBuckets(buckets map[string]int) []StatusBucket {
	if len(buckets) == 0 {
		return nil
	}
	rows := make([]StatusBucket, 0, len(buckets))
	for code, count := range buckets {
		rows = append(rows, StatusBucket{Code: code, Count: count})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count == rows[j].Count {
			return codeLess(rows[i].Code, rows[j].Code)
		}
		return rows[i].Count > rows[j].Count
	})
	return rows
}

func codeLess(a, b string) bool {
	ai, aErr := strconv.Atoi(a)
	bi, bErr := strconv.Atoi(b)
	if aErr == nil && bErr == nil {
		return ai < bi
	}
	return a < b
}
