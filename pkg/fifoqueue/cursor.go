package fifoqueue

// maybeEmitReleaseCursor implements the Release-Cursor Manager of §4.9. A
// release cursor tells the replication substrate it is safe to truncate its
// log up to Index, because Dehydrated is a complete, smaller replacement
// for everything the log below that point would otherwise need to
// reconstruct.
func maybeEmitReleaseCursor(meta Meta, state *State) []Effect {
	state.enqueuesSinceCursor++
	if state.enqueuesSinceCursor < state.Cfg.ReleaseCursorEvery.Current {
		return nil
	}
	state.enqueuesSinceCursor = 0
	adaptReleaseCursorInterval(state)

	idx, ok := state.RaIndexes.Smallest()
	if !ok {
		return nil
	}

	snapshot := dehydrate(state)
	state.ReleaseCursors = append(state.ReleaseCursors, ReleaseCursor{Index: idx, Dehydrated: snapshot})
	return []Effect{ReleaseCursorEffect{Index: idx, Dehydrated: snapshot}}
}

// adaptReleaseCursorInterval widens the interval between cursors when the
// queue is mostly drained (cheap to keep re-deriving state from the log)
// and narrows it back toward Base when a deep backlog makes frequent
// truncation worth the snapshot cost.
func adaptReleaseCursorInterval(state *State) {
	interval := &state.Cfg.ReleaseCursorEvery
	backlogged := state.MessagesTotal > 2*interval.Base

	if backlogged {
		interval.Current = interval.Base
		return
	}

	doubled := interval.Current * 2
	if doubled > state.Cfg.ReleaseCursorEveryMax {
		doubled = state.Cfg.ReleaseCursorEveryMax
	}
	interval.Current = doubled
}

// dehydrate produces a deep-enough copy of state for embedding in a
// release cursor: everything needed to resume the queue from Index forward
// without replaying the truncated log prefix.
func dehydrate(state *State) *State {
	out := &State{
		Cfg:              state.Cfg,
		Messages:         append([]MsgRef{}, state.Messages...),
		Returns:          append([]MsgRef{}, state.Returns...),
		RaIndexes:        cloneIndexSet(state.RaIndexes),
		MessagesTotal:    state.MessagesTotal,
		MsgBytesEnqueue:  state.MsgBytesEnqueue,
		MsgBytesCheckout: state.MsgBytesCheckout,
		EnqueueCount:     state.EnqueueCount,
		Enqueuers:        cloneEnqueuers(state.Enqueuers),
		Consumers:        cloneConsumers(state.Consumers),
		serviceQueue:     newServiceQueue(),
		WaitingConsumers: append([]uint64{}, state.WaitingConsumers...),
		ActiveConsumer:   state.ActiveConsumer,
		DLX:              state.DLX.Dehydrate(),
		LastActive:       state.LastActive,
		nextConsumerSeq:  state.nextConsumerSeq,
	}
	for key, consumer := range out.Consumers {
		if consumerReady(consumer) {
			out.serviceQueue.Push(key, consumer.Priority, consumer.seq)
		}
	}
	return out
}

func cloneIndexSet(s *IndexSet) *IndexSet {
	clone := NewIndexSet()
	for idx := range s.members {
		clone.Append(idx)
	}
	return clone
}

func cloneEnqueuers(in map[string]*Enqueuer) map[string]*Enqueuer {
	out := make(map[string]*Enqueuer, len(in))
	for pid, enq := range in {
		copyEnq := *enq
		out[pid] = &copyEnq
	}
	return out
}

func cloneConsumers(in map[uint64]*Consumer) map[uint64]*Consumer {
	out := make(map[uint64]*Consumer, len(in))
	for key, c := range in {
		copyC := *c
		copyC.CheckedOut = make(map[uint64]CheckedMsg, len(c.CheckedOut))
		for id, cm := range c.CheckedOut {
			copyC.CheckedOut[id] = cm
		}
		out[key] = &copyC
	}
	return out
}
