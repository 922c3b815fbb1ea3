package fifoqueue

import "strings"

// nodeOf extracts the node component of an "tag@node"-style pid, the
// convention DownCommand/NodeupCommand/NodedownCommand pids are encoded in.
func nodeOf(pid string) string {
	if idx := strings.LastIndex(pid, "@"); idx >= 0 {
		return pid[idx+1:]
	}
	return pid
}

// handleDown implements §4.10's process-monitor notification. A
// "noconnection" reason only suspects the process — it may still be alive
// behind a partition, so the consumer stays registered as suspected_down,
// but its checked-out messages are returned to the queue so other
// consumers can take them. Under single-active the suspected consumer is
// not moved to the waiting list. Any other reason is conclusive: the
// process is gone, so its work is returned and the consumer removed.
func handleDown(meta Meta, cmd DownCommand, state *State) (Reply, []Effect) {
	for key, consumer := range state.Consumers {
		if consumer.Cfg.Pid != cmd.Pid {
			continue
		}
		if cmd.Reason == DownNoConnection {
			consumer.Status = StatusSuspectedDown
			for msgID, cm := range consumer.CheckedOut {
				delete(consumer.CheckedOut, msgID)
				requeueCheckedOut(state, cm.Ref)
			}
			continue
		}
		consumer.Status = StatusCancelled
		for msgID, cm := range consumer.CheckedOut {
			delete(consumer.CheckedOut, msgID)
			requeueCheckedOut(state, cm.Ref)
		}
		delete(state.Consumers, key)
		if state.Cfg.ConsumerStrategy == SingleActive {
			detachSingleActive(state, key)
		}
	}

	if enq, ok := state.Enqueuers[cmd.Pid]; ok {
		if cmd.Reason == DownNoConnection {
			enq.Status = StatusSuspectedDown
		} else {
			delete(state.Enqueuers, cmd.Pid)
		}
	}

	return OK{}, runCheckoutEngine(meta, state)
}

// handleNodedown implements §4.10: every process known to live on Node is
// suspected down, but nothing is reclaimed yet — a node can recover, and
// reclaiming eagerly would duplicate delivery across a transient partition.
func handleNodedown(meta Meta, cmd NodedownCommand, state *State) (Reply, []Effect) {
	for _, consumer := range state.Consumers {
		if nodeOf(consumer.Cfg.Pid) == cmd.Node {
			consumer.Status = StatusSuspectedDown
		}
	}
	for pid, enq := range state.Enqueuers {
		if nodeOf(pid) == cmd.Node {
			enq.Status = StatusSuspectedDown
		}
	}
	return OK{}, nil
}

// handleNodeup implements §4.10's resolved Open Question: recovery clears
// suspected-down status but does not eagerly force redelivery. A suspected
// consumer simply becomes eligible again the next time some other event
// runs the checkout engine, rather than this command synthesizing one.
func handleNodeup(meta Meta, cmd NodeupCommand, state *State) (Reply, []Effect) {
	for _, consumer := range state.Consumers {
		if nodeOf(consumer.Cfg.Pid) == cmd.Node && consumer.Status == StatusSuspectedDown {
			consumer.Status = StatusUp
		}
	}
	for pid, enq := range state.Enqueuers {
		if nodeOf(pid) == cmd.Node && enq.Status == StatusSuspectedDown {
			enq.Status = StatusUp
		}
	}
	return OK{}, nil
}
