package fifoqueue

// enqueueOutcome distinguishes the three publisher-sequencing results of
// §4.2 from each other so handleEnqueue can decide what (if anything) to
// append.
type enqueueOutcome int

const (
	enqueueAccepted enqueueOutcome = iota
	enqueueOutOfSequence
	enqueueDuplicate
)

func handleEnqueue(meta Meta, body []byte, seqno *uint64, ttl *int64, state *State) (Reply, []Effect) {
	var effects []Effect

	if seqno != nil && meta.From != "" {
		enq, known := state.Enqueuers[meta.From]
		if !known {
			enq = &Enqueuer{NextSeqno: 0, Status: StatusUp}
			state.Enqueuers[meta.From] = enq
			effects = append(effects, MonitorEffect{Kind: MonitorProcess, Target: meta.From})
		}

		switch classifySeqno(enq.NextSeqno, *seqno) {
		case enqueueOutOfSequence:
			return asReply(ErrNotEnqueued()), effects
		case enqueueDuplicate:
			return OK{}, effects
		}
		enq.NextSeqno = *seqno + 1
	}

	ref := appendMessage(meta, body, ttl, state)
	state.LastActive = meta.SystemTime

	checkoutEffects := runCheckoutEngine(meta, state)
	effects = append(effects, checkoutEffects...)

	limitEffects := enforceLimits(meta, state)
	effects = append(effects, limitEffects...)

	cursorEffects := maybeEmitReleaseCursor(meta, state)
	effects = append(effects, cursorEffects...)

	_ = ref
	return OK{}, effects
}

// handleEnqueueV2 adapts the compact enqueue_v2 wire command, whose
// publisher identity travels in meta.ReplyMode rather than meta.From, onto
// the same pipeline as a classic enqueue.
func handleEnqueueV2(meta Meta, cmd EnqueueV2Command, state *State) (Reply, []Effect) {
	if meta.ReplyMode != nil && meta.ReplyMode.Pid != "" {
		meta.From = meta.ReplyMode.Pid
	}
	return handleEnqueue(meta, cmd.Body, cmd.Seqno, cmd.TTL, state)
}

func classifySeqno(expected, got uint64) enqueueOutcome {
	switch {
	case got == expected:
		return enqueueAccepted
	case got > expected:
		return enqueueOutOfSequence
	default:
		return enqueueDuplicate
	}
}

// appendMessage performs the append procedure of §4.2: compute size and
// expiry, build the header, push the MsgRef, update counters, and cache
// the raw body for immediate redelivery if a consumer is already waiting
// on an otherwise-empty queue.
func appendMessage(meta Meta, body []byte, ttl *int64, state *State) MsgRef {
	header := Header{
		SizeBytes: uint32(len(body)),
		ExpiryTs:  computeExpiry(meta.SystemTime, ttl, state.Cfg.MsgTTL),
	}
	ref := MsgRef{Index: meta.Index, Header: header}

	state.Messages = append(state.Messages, ref)
	state.RaIndexes.Append(ref.Index)
	state.MsgBytesEnqueue += int64(header.SizeBytes)
	state.MessagesTotal++
	state.EnqueueCount++

	if state.serviceQueue.Len() > 0 && len(state.Messages) == 1 && len(state.Returns) == 0 {
		state.MsgCache = &MsgCache{Index: meta.Index, Body: body}
	} else {
		state.MsgCache = nil
	}

	return ref
}
