package fifoqueue

// Apply is the state machine's single entry point (§4.1): given the
// metadata and command the replication substrate has agreed on for this
// log index, it mutates state in place and returns whatever the caller
// should be told plus the side effects the substrate must carry out.
//
// Apply never reads the wall clock, generates randomness, or performs I/O
// itself — every external input arrives through meta, and every external
// action leaves through the returned effects.
func Apply(meta Meta, cmd Command, state *State) (Reply, []Effect) {
	switch c := cmd.(type) {
	case EnqueueCommand:
		return handleEnqueue(meta, c.Body, c.Seqno, c.TTL, state)
	case EnqueueV2Command:
		return handleEnqueueV2(meta, c, state)
	case RegisterEnqueuerCommand:
		return handleRegisterEnqueuer(meta, c, state)
	case CheckoutCommand:
		return handleCheckout(meta, c, state)
	case CancelCommand:
		return handleCancel(meta, c, state)
	case SettleCommand:
		return handleSettle(meta, c, state)
	case ReturnCommand:
		return handleReturn(meta, c, state)
	case DiscardCommand:
		return handleDiscard(meta, c, state)
	case DeferCommand:
		return handleDefer(meta, c, state)
	case CreditCommand:
		return handleCredit(meta, c, state)
	case RequeueCommand:
		return handleRequeue(meta, c, state)
	case PurgeCommand:
		return handlePurge(meta, c, state)
	case PurgeNodesCommand:
		return handlePurgeNodes(meta, c, state)
	case UpdateConfigCommand:
		return handleUpdateConfig(meta, c, state)
	case GarbageCollectionCommand:
		return handleGarbageCollection(meta, c, state)
	case EvalConsumerTimeoutsCommand:
		return handleEvalConsumerTimeouts(meta, c, state)
	case TimeoutCommand:
		return handleTimeout(meta, c, state)
	case DownCommand:
		return handleDown(meta, c, state)
	case NodeupCommand:
		return handleNodeup(meta, c, state)
	case NodedownCommand:
		return handleNodedown(meta, c, state)
	case MachineVersionCommand:
		return handleMachineVersion(meta, c, state)
	case DLXCommand:
		return handleDLX(meta, c, state)
	default:
		// Unknown commands are logged upstream and otherwise ignored (§4.1,
		// §7): a future command variant the replica doesn't yet understand
		// must not wedge the state machine.
		return OK{}, nil
	}
}
