package syncer

import "github.com/IshaanNene/CartKeeper/internal/types"

// Merge reconciles the local cache with the remote set. Every remote record
// is kept. A local record whose id the remote lacks is added. When both
// sides hold an id, the record with the strictly later lastModified wins
// whole; on a tie the remote copy wins.
//
// The result lists remote records in remote order, then local-only records
// in local order.
func Merge(local, remote []types.Product) []types.Product {
	out := make([]types.Product, 0, len(remote)+len(local))
	index := make(map[string]int, len(remote)+len(local))

	for _, r := range remote {
		if _, ok := index[r.ID]; ok {
			continue
		}
		index[r.ID] = len(out)
		out = append(out, r)
	}

	for _, l := range local {
		i, ok := index[l.ID]
		if !ok {
			index[l.ID] = len(out)
			out = append(out, l)
			continue
		}
		if l.LastModified.After(out[i].LastModified) {
			out[i] = l
		}
	}

	return out
}

// reconcile folds the post-upload remote set into merged. It behaves like
// Merge, except that a local-only record is dropped when the remote already
// holds its page under another id; that happens when a merge-only upload
// skipped it.
func reconcile(merged, remote []types.Product) []types.Product {
	keys := make(map[string]bool, len(remote))
	ids := make(map[string]bool, len(remote))
	for _, r := range remote {
		keys[types.CanonicalURL(r.URL)] = true
		ids[r.ID] = true
	}

	kept := make([]types.Product, 0, len(merged))
	for _, p := range merged {
		if !ids[p.ID] && keys[types.CanonicalURL(p.URL)] {
			continue
		}
		kept = append(kept, p)
	}
	return Merge(kept, remote)
}

// without drops the products whose id is in removed.
func without(ps []types.Product, removed []string) []types.Product {
	if len(removed) == 0 {
		return ps
	}
	gone := make(map[string]bool, len(removed))
	for _, id := range removed {
		gone[id] = true
	}
	out := make([]types.Product, 0, len(ps))
	for _, p := range ps {
		if !gone[p.ID] {
			out = append(out, p)
		}
	}
	return out
}
