package fifoqueue

// computeExpiry implements §4.2's ttl rule: expiry = system_time +
// min(per-message TTL, queue TTL) when either is set; ttl=0 is special-cased
// to system_time+1 so a message with an explicit zero TTL must be consumed
// within the same millisecond it was enqueued (Open Question #1 in
// spec.md §9 — preserved rather than redesigned, see DESIGN.md).
func computeExpiry(systemTime Timestamp, msgTTL *int64, queueTTL int64) Timestamp {
	var ttl *int64
	switch {
	case msgTTL != nil && queueTTL > 0:
		m := *msgTTL
		if queueTTL < m {
			m = queueTTL
		}
		ttl = &m
	case msgTTL != nil:
		ttl = msgTTL
	case queueTTL > 0:
		ttl = &queueTTL
	default:
		return 0
	}

	if *ttl == 0 {
		return systemTime + 1
	}
	return systemTime + Timestamp(*ttl)
}
