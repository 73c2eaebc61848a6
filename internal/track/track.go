// Package track groups batch records into per-aircraft sequences ordered by
// timestamp. Every per-aircraft check runs on these groups.
package track

import (
	"sort"
	"strings"

	"flightguard/internal/model"
)

// Group is one aircraft's records, as indices into the batch, oldest first.
type Group struct {
	AircraftID string
	Indices    []int
}

// GroupByAircraft buckets records by normalized aircraft id and sorts every
// bucket by timestamp, breaking ties by batch position. Groups are returned
// in aircraft id order. Records without an id are left out.
func GroupByAircraft(records []model.TelemetryRecord) []Group {
	buckets := make(map[string][]int)
	for i := range records {
		id := Key(records[i].AircraftID)
		if id == "" {
			continue
		}
		buckets[id] = append(buckets[id], i)
	}
	ids := make([]string, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	groups := make([]Group, 0, len(ids))
	for _, id := range ids {
		idx := buckets[id]
		sort.SliceStable(idx, func(a, b int) bool {
			ta, tb := records[idx[a]].Timestamp, records[idx[b]].Timestamp
			if ta.Equal(tb) {
				return idx[a] < idx[b]
			}
			return ta.Before(tb)
		})
		groups = append(groups, Group{AircraftID: id, Indices: idx})
	}
	return groups
}

// Key normalizes an aircraft id for grouping and keying.
func Key(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// Previous maps each record index to the index of the record before it in its
// aircraft's sequence, or -1 for the first record.
func Previous(groups []Group, n int) []int {
	prev := make([]int, n)
	for i := range prev {
		prev[i] = -1
	}
	for _, g := range groups {
		for k := 1; k < len(g.Indices); k++ {
			prev[g.Indices[k]] = g.Indices[k-1]
		}
	}
	return prev
}
