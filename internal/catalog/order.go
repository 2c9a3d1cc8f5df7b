package catalog

import "sort"

// Reconcile returns pending without any path present in done. It does not
// modify pending and is idempotent.
func Reconcile(pending []WorkItem, done map[string]struct{}) []WorkItem {
	out := make([]WorkItem, 0, len(pending))
	for _, item := range pending {
		if _, ok := done[item.Path]; ok {
			continue
		}
		out = append(out, item)
	}
	return out
}

// Order returns a copy of items sorted by descending size with ties broken
// by discovery order.
func Order(items []WorkItem) []WorkItem {
	out := append([]WorkItem(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return before(out[i], out[j]) })
	return out
}

func before(a, b WorkItem) bool {
	if a.Size != b.Size {
		return a.Size > b.Size
	}
	return a.Seq < b.Seq
}
