// Package leaderboard caches leaderboard snapshots and ranks entries.
package leaderboard

import "hotlympics/core"

// Board abstracts ranking operations over leaderboard entries, ordered by
// rating, then wins, then battles, all descending, with image id last.
type Board interface {
	Update(e core.Entry)
	Remove(id core.ImageID)
	TopN(n int) []core.Entry
	Get(id core.ImageID) (core.Entry, bool)
	Len() int
}
