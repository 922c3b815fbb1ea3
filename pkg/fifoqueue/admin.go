package fifoqueue

// handleRegisterEnqueuer implements explicit publisher registration: a
// publisher that wants sequenced enqueues can register up front instead of
// relying on the first Enqueue command to do it implicitly.
func handleRegisterEnqueuer(meta Meta, cmd RegisterEnqueuerCommand, state *State) (Reply, []Effect) {
	if meta.From == "" {
		return OK{}, nil
	}
	if _, known := state.Enqueuers[meta.From]; known {
		return OK{}, nil
	}
	state.Enqueuers[meta.From] = &Enqueuer{NextSeqno: 0, Status: StatusUp}
	return OK{}, []Effect{MonitorEffect{Kind: MonitorProcess, Target: meta.From}}
}

// handlePurge discards every ready message (ahead of any consumer) without
// involving the DLX — an administrative action, not a queue policy.
func handlePurge(meta Meta, cmd PurgeCommand, state *State) (Reply, []Effect) {
	purged := int64(len(state.Messages) + len(state.Returns))

	for _, ref := range state.Messages {
		state.RaIndexes.Delete(ref.Index)
		state.MsgBytesEnqueue -= int64(ref.Header.SizeBytes)
	}
	for _, ref := range state.Returns {
		state.RaIndexes.Delete(ref.Index)
		state.MsgBytesEnqueue -= int64(ref.Header.SizeBytes)
	}
	state.MessagesTotal -= purged
	state.Messages = nil
	state.Returns = nil
	state.MsgCache = nil

	return PurgeReply{Purged: purged}, runCheckoutEngine(meta, state)
}

// handlePurgeNodes forcibly removes every consumer and enqueuer living on
// one of the given nodes, as if each had gone down with a conclusive
// reason — used when an operator decommissions a node rather than waiting
// for the normal liveness machinery to notice.
func handlePurgeNodes(meta Meta, cmd PurgeNodesCommand, state *State) (Reply, []Effect) {
	nodes := make(map[string]bool, len(cmd.Nodes))
	for _, n := range cmd.Nodes {
		nodes[n] = true
	}

	for key, consumer := range state.Consumers {
		if !nodes[nodeOf(consumer.Cfg.Pid)] {
			continue
		}
		for _, cm := range consumer.CheckedOut {
			requeueCheckedOut(state, cm.Ref)
		}
		delete(state.Consumers, key)
		if state.Cfg.ConsumerStrategy == SingleActive {
			detachSingleActive(state, key)
		}
	}

	for pid := range state.Enqueuers {
		if nodes[nodeOf(pid)] {
			delete(state.Enqueuers, pid)
		}
	}

	return OK{}, runCheckoutEngine(meta, state)
}

// handleUpdateConfig applies a sparse ConfigUpdate, leaving any field left
// nil at its current value.
func handleUpdateConfig(meta Meta, cmd UpdateConfigCommand, state *State) (Reply, []Effect) {
	u := cmd.Update
	if u.DeadLetterHandler != nil {
		state.Cfg.DLH = *u.DeadLetterHandler
	}
	if u.ReleaseCursorEvery != nil {
		state.Cfg.ReleaseCursorEvery.Base = *u.ReleaseCursorEvery
		state.Cfg.ReleaseCursorEvery.Current = *u.ReleaseCursorEvery
	}
	if u.Overflow != nil {
		state.Cfg.Overflow = *u.Overflow
	}
	if u.MaxLength != nil {
		state.Cfg.MaxLength = *u.MaxLength
	}
	if u.MaxBytes != nil {
		state.Cfg.MaxBytes = *u.MaxBytes
	}
	if u.DeliveryLimit != nil {
		state.Cfg.DeliveryLimit = *u.DeliveryLimit
	}
	if u.Expires != nil {
		state.Cfg.Expires = *u.Expires
	}
	if u.MsgTTL != nil {
		state.Cfg.MsgTTL = *u.MsgTTL
	}
	if u.SingleActiveConsumerOn != nil {
		if *u.SingleActiveConsumerOn {
			state.Cfg.ConsumerStrategy = SingleActive
		} else {
			state.Cfg.ConsumerStrategy = Competing
		}
	}

	return OK{}, enforceLimits(meta, state)
}

// handleGarbageCollection is advisory: real compaction happens in the
// replication substrate, so the core has nothing to do beyond
// acknowledging the tick.
func handleGarbageCollection(meta Meta, cmd GarbageCollectionCommand, state *State) (Reply, []Effect) {
	return OK{}, nil
}

// handleEvalConsumerTimeouts is EvalConsumerTimeoutsCommand's narrower
// counterpart to enforceConsumerLockTimeouts: it only re-evaluates the
// named consumers, for a caller that already knows which ones are
// suspect rather than wanting a full sweep.
func handleEvalConsumerTimeouts(meta Meta, cmd EvalConsumerTimeoutsCommand, state *State) (Reply, []Effect) {
	if state.Cfg.ConsumerLockMs <= 0 {
		return OK{}, nil
	}

	var any bool
	for _, key := range cmd.Keys {
		consumer, ok := state.Consumers[key]
		if !ok {
			continue
		}
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
			any = true
		}
		if len(timedOut) > 0 {
			admitToServiceQueue(state, consumer)
		}
	}

	if !any {
		return OK{}, nil
	}
	return OK{}, runCheckoutEngine(meta, state)
}

// handleTimeout is the periodic "expire_msgs" tick; the checkout engine
// already sweeps expired head messages as its first step, so the tick
// simply runs it.
func handleTimeout(meta Meta, cmd TimeoutCommand, state *State) (Reply, []Effect) {
	return OK{}, runCheckoutEngine(meta, state)
}

// handleDLX acknowledges a report from the dead-letter sidecar. The
// in-core DLX state already records its own history at the point a
// message is dead-lettered (§4.8), so nothing further needs bookkeeping
// here; the command exists so the sidecar's settle/discard decisions are
// still ordered through the same replicated log as everything else.
func handleDLX(meta Meta, cmd DLXCommand, state *State) (Reply, []Effect) {
	return OK{}, nil
}
