package realtime

// Reconcile is the one Last-Write-Wins rule, applied by every event consumer
// and by the batch pull path. It returns true when the incoming change must
// overwrite local state: only a strictly newer server timestamp wins, so
// re-applying the same change is a no-op and arrival order does not matter.
func Reconcile(localServerUpdatedAt, incomingTS int64) bool {
	return incomingTS > localServerUpdatedAt
}
