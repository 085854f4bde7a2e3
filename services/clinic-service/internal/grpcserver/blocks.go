package grpcserver

import (
	"sort"

	"github.com/novadent/platform/services/clinic-service/internal/storage"
)

type block struct {
	start int
	end   int
}

// mergeBlocks collapses overlapping or touching time-off entries into
// disjoint ascending windows. Entries with a non-positive span are dropped.
func mergeBlocks(in []storage.TimeOff) []block {
	var b []block
	for _, t := range in {
		if t.EndMinute > t.StartMinute {
			b = append(b, block{start: t.StartMinute, end: t.EndMinute})
		}
	}
	if len(b) == 0 {
		return nil
	}

	sort.Slice(b, func(i, j int) bool {
		if b[i].start != b[j].start {
			return b[i].start < b[j].start
		}
		return b[i].end < b[j].end
	})
	merged := make([]block, 0, len(b))
	for _, cur := range b {
		if len(merged) == 0 {
			merged = append(merged, cur)
			continue
		}
		last := &merged[len(merged)-1]
		if cur.start > last.end {
			merged = append(merged, cur)
			continue
		}
		if cur.end > last.end {
			last.end = cur.end
		}
	}
	return merged
}
