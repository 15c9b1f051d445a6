package poll

import (
	"quake-notifier/feed"
	"quake-notifier/pkg/quake"
)

// Diff compares a fetched snapshot against the prior state.
//
// Entries are walked oldest-first (the feed lists newest first). An entry is
// new only if prior is non-nil and does not contain its ID, so a first run
// reports nothing. The returned state holds every ID of the snapshot.
func Diff(snap *feed.Snapshot, prior *quake.State) ([]quake.Entry, *quake.State) {
	next := &quake.State{
		LastModified: snap.LastModified,
		Seen:         make(quake.IDSet, len(snap.Entries)),
	}

	var fresh []quake.Entry
	for i := len(snap.Entries) - 1; i >= 0; i-- {
		entry := snap.Entries[i]
		if next.Seen.Has(entry.ID) {
			continue // Duplicate within the same document
		}
		next.Seen[entry.ID] = struct{}{}
		if prior != nil && !prior.Seen.Has(entry.ID) {
			fresh = append(fresh, entry)
		}
	}
	return fresh, next
}
