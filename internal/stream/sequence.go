package stream

// seqTracker detects gaps per subscription id within one connection epoch.
// sids are only unique per connection, so it is reset on every reconnect.
type seqTracker struct {
	last map[int64]int64
}

func newSeqTracker() *seqTracker {
	return &seqTracker{last: make(map[int64]int64)}
}

func (t *seqTracker) reset() {
	clear(t.last)
}

// forget drops tracking for an unsubscribed sid.
func (t *seqTracker) forget(sid int64) {
	delete(t.last, sid)
}

// check records seq for sid and reports how many messages were skipped.
func (t *seqTracker) check(sid, seq int64) (seqGap bool, gapSize int) {
	last, exists := t.last[sid]
	t.last[sid] = seq
	if !exists {
		// First message for this subscription
		return false, 0
	}
	if seq != last+1 {
		if seq <= last {
			// Server restarted numbering; nothing measurable was lost.
			return true, 0
		}
		return true, int(seq - last - 1)
	}
	return false, 0
}
