package router

import (
	"sort"

	"github.com/nurcahyapriantoro/Agrilends-sub001/pkg/types"
)

// mergeRecords deduplicates by record ID and applies the requested ordering.
// Migration can briefly leave a record visible on two partitions; the first
// copy seen wins, which is safe because copies of the same record are
// identical by construction.
func mergeRecords(records []types.Record, op Op) []types.Record {
	seen := make(map[string]struct{}, len(records))
	out := make([]types.Record, 0, len(records))
	for _, rec := range records {
		if _, dup := seen[rec.ID]; dup {
			continue
		}
		seen[rec.ID] = struct{}{}
		out = append(out, rec)
	}

	switch op.SortBy {
	case SortCreatedAt:
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].CreatedAt.Equal(out[j].CreatedAt) {
				return out[i].ID < out[j].ID
			}
			if op.Descending {
				return out[i].CreatedAt.After(out[j].CreatedAt)
			}
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		})
	case SortRecordID:
		sort.SliceStable(out, func(i, j int) bool {
			if op.Descending {
				return out[i].ID > out[j].ID
			}
			return out[i].ID < out[j].ID
		})
	}
	return out
}
