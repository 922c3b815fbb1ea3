package fifoqueue

import "sort"

// attachSingleActive implements §4.7's activation ladder for a
// newly-registered consumer under the single_active discipline: it becomes
// active if the queue has none, preempts a lower-priority active consumer
// (which fades rather than stops abruptly), or joins the waiting list.
func attachSingleActive(state *State, consumer *Consumer) {
	if state.ActiveConsumer == nil {
		promoteSingleActive(state, consumer.Key)
		return
	}

	active, ok := state.Consumers[*state.ActiveConsumer]
	if !ok {
		promoteSingleActive(state, consumer.Key)
		return
	}

	if consumer.Priority > active.Priority {
		fadeSingleActive(state, active)
		promoteSingleActive(state, consumer.Key)
		return
	}

	insertWaiting(state, consumer.Key)
}

// promoteSingleActive makes key the sole active consumer and admits it to
// the service queue.
func promoteSingleActive(state *State, key uint64) {
	k := key
	state.ActiveConsumer = &k
	removeFromWaiting(state, key)
	if consumer, ok := state.Consumers[key]; ok {
		admitToServiceQueue(state, consumer)
	}
}

// fadeSingleActive marks a preempted active consumer as fading: it keeps
// whatever it has already checked out (so in-flight work isn't lost) but
// stops receiving new deliveries and is pruned once fully drained.
func fadeSingleActive(state *State, consumer *Consumer) {
	consumer.Status = StatusFading
}

// pruneFadedConsumers removes any fading consumer whose checked-out set has
// fully drained, completing the handover started by fadeSingleActive.
func pruneFadedConsumers(state *State) {
	for key, consumer := range state.Consumers {
		if consumer.Status == StatusFading && len(consumer.CheckedOut) == 0 {
			delete(state.Consumers, key)
		}
	}
}

// detachSingleActive implements the withdrawal half of §4.7: when the
// active consumer cancels or is removed, the highest-priority waiting
// consumer is promoted in its place; a waiting consumer simply leaves the
// list.
func detachSingleActive(state *State, key uint64) {
	if state.ActiveConsumer != nil && *state.ActiveConsumer == key {
		state.ActiveConsumer = nil
		if next, ok := popWaiting(state); ok {
			promoteSingleActive(state, next)
		}
		return
	}
	removeFromWaiting(state, key)
}

func insertWaiting(state *State, key uint64) {
	removeFromWaiting(state, key)
	state.WaitingConsumers = append(state.WaitingConsumers, key)
	sortWaiting(state)
}

func removeFromWaiting(state *State, key uint64) {
	out := state.WaitingConsumers[:0]
	for _, k := range state.WaitingConsumers {
		if k != key {
			out = append(out, k)
		}
	}
	state.WaitingConsumers = out
}

// popWaiting removes and returns the highest-priority waiting consumer.
func popWaiting(state *State) (uint64, bool) {
	if len(state.WaitingConsumers) == 0 {
		return 0, false
	}
	key := state.WaitingConsumers[0]
	state.WaitingConsumers = state.WaitingConsumers[1:]
	return key, true
}

// sortWaiting keeps WaitingConsumers ordered by priority (desc) then
// registration order (asc), matching the service queue's own tie-break.
func sortWaiting(state *State) {
	sort.SliceStable(state.WaitingConsumers, func(i, j int) bool {
		ci, cj := state.Consumers[state.WaitingConsumers[i]], state.Consumers[state.WaitingConsumers[j]]
		if ci == nil || cj == nil {
			return false
		}
		if ci.Priority != cj.Priority {
			return ci.Priority > cj.Priority
		}
		return ci.seq < cj.seq
	})
}
