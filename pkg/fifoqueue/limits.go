package fifoqueue

// enforceLimits implements §4.8's overflow and consumer-lock-timeout
// accounting, run after every mutating command.
func enforceLimits(meta Meta, state *State) []Effect {
	var effects []Effect

	switch state.Cfg.Overflow {
	case OverflowDropHead:
		for overLimit(state) {
			ref, ok := takeNext(state)
			if !ok {
				break
			}
			effects = append(effects, deadletter(state, ReasonMaxlen, ref))
		}
	case OverflowRejectPublish:
		effects = append(effects, updateBlockedEnqueuers(state)...)
	}

	effects = append(effects, enforceConsumerLockTimeouts(meta, state)...)
	return effects
}

// readyCount is the "ready" half of §4.8's overflow comparison: messages
// actually available for delivery (not checked out by any consumer).
// Checked-out messages are excluded — they are no longer candidates for
// drop-head or for blocking a publisher, since a consumer already owns
// them — and so is the dead-letter history in state.DLX, which drop-head
// itself adds to and which is never drained from inside the core.
func readyCount(state *State) int64 {
	return int64(len(state.Messages) + len(state.Returns))
}

// overLimit reports whether the queue currently exceeds its configured
// length or byte ceiling.
func overLimit(state *State) bool {
	if state.Cfg.MaxLength > 0 && readyCount(state) > state.Cfg.MaxLength {
		return true
	}
	if state.Cfg.MaxBytes > 0 && state.MsgBytesEnqueue > state.Cfg.MaxBytes {
		return true
	}
	return false
}

// updateBlockedEnqueuers implements reject_publish's block/unblock
// hysteresis: publishers are blocked at the hard limit and only unblocked
// once usage falls back under RejectPublishResumeFraction of it, so a
// queue sitting right at the limit doesn't flap.
func updateBlockedEnqueuers(state *State) []Effect {
	var effects []Effect

	over := overLimit(state)
	underResume := true
	if state.Cfg.MaxLength > 0 {
		resume := int64(float64(state.Cfg.MaxLength) * RejectPublishResumeFraction)
		underResume = underResume && readyCount(state) <= resume
	}
	if state.Cfg.MaxBytes > 0 {
		resume := int64(float64(state.Cfg.MaxBytes) * RejectPublishResumeFraction)
		underResume = underResume && state.MsgBytesEnqueue <= resume
	}

	for pid, enq := range state.Enqueuers {
		switch {
		case over && enq.BlockedAt == nil:
			idx := LogIndex(0)
			enq.BlockedAt = &idx
			effects = append(effects, SendMsgEffect{Pid: pid, Payload: enqueuerBlockedMsg{}, Target: SendRaEvent})
		case underResume && enq.BlockedAt != nil:
			enq.BlockedAt = nil
			effects = append(effects, SendMsgEffect{Pid: pid, Payload: enqueuerUnblockedMsg{}, Target: SendRaEvent})
		}
	}
	return effects
}

type enqueuerBlockedMsg struct{}
type enqueuerUnblockedMsg struct{}

// enforceConsumerLockTimeouts implements the consumer-lock-timeout half of
// §4.8: any checked-out message whose delivery deadline has elapsed is
// returned to the queue as though the consumer had explicitly returned it,
// and its delivery-count is bumped per §4.6's redelivery accounting.
func enforceConsumerLockTimeouts(meta Meta, state *State) []Effect {
	if state.Cfg.ConsumerLockMs <= 0 {
		return nil
	}

	var anyTimedOut bool
	for _, consumer := range state.Consumers {
		var timedOut []uint64
		for msgID, cm := range consumer.CheckedOut {
			if cm.DeadlineTs <= meta.SystemTime {
				timedOut = append(timedOut, msgID)
			}
		}
		for _, msgID := range timedOut {
			cm := consumer.CheckedOut[msgID]
			delete(consumer.CheckedOut, msgID)
			requeueCheckedOut(state, cm.Ref)
			anyTimedOut = true
		}
		if len(timedOut) > 0 {
			admitToServiceQueue(state, consumer)
		}
	}

	if !anyTimedOut {
		return nil
	}
	return runCheckoutEngine(meta, state)
}

// requeueCheckedOut pushes ref back onto Returns, bumping its
// delivery-count exactly as an explicit return does (§4.6), and moves its
// bytes back from MsgBytesCheckout to MsgBytesEnqueue now that it is ready
// again. Callers are responsible for having already removed ref from its
// consumer's CheckedOut map.
func requeueCheckedOut(state *State, ref MsgRef) {
	releaseCheckedOut(state, ref)
	state.MsgBytesEnqueue += int64(ref.Header.SizeBytes)
	ref.Header.DeliveryCount++
	state.Returns = append(state.Returns, ref)
}
