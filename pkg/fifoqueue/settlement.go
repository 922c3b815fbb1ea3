package fifoqueue

// handleSettle implements §4.6's settle: the consumer has fully processed
// these messages, so they leave the system for good.
func handleSettle(meta Meta, cmd SettleCommand, state *State) (Reply, []Effect) {
	consumer, ok := state.Consumers[cmd.ConsumerKey]
	if !ok {
		return asReply(ErrInvalidConsumerKey(cmd.ConsumerKey)), nil
	}

	for _, msgID := range cmd.MsgIDs {
		cm, ok := consumer.CheckedOut[msgID]
		if !ok {
			continue
		}
		delete(consumer.CheckedOut, msgID)
		removeRef(state, cm.Ref)
	}

	admitToServiceQueue(state, consumer)
	effects := runCheckoutEngine(meta, state)
	effects = append(effects, enforceLimits(meta, state)...)
	effects = append(effects, maybeEmitReleaseCursor(meta, state)...)
	return OK{}, effects
}

// handleReturn implements §4.6's return: the consumer could not process
// these messages right now. Each one goes back onto Returns with its
// delivery-count bumped, unless that bump would exceed the configured
// delivery limit, in which case it is dead-lettered instead.
func handleReturn(meta Meta, cmd ReturnCommand, state *State) (Reply, []Effect) {
	consumer, ok := state.Consumers[cmd.ConsumerKey]
	if !ok {
		return asReply(ErrInvalidConsumerKey(cmd.ConsumerKey)), nil
	}

	var dlEffects []Effect
	for _, msgID := range cmd.MsgIDs {
		cm, ok := consumer.CheckedOut[msgID]
		if !ok {
			continue
		}
		delete(consumer.CheckedOut, msgID)
		releaseCheckedOut(state, cm.Ref)

		ref := cm.Ref
		ref.Header.DeliveryCount++
		if state.Cfg.DeliveryLimit > 0 && int64(ref.Header.DeliveryCount) > state.Cfg.DeliveryLimit {
			dlEffects = append(dlEffects, deadletterCheckedOut(state, ReasonDeliveryLimit, ref))
			continue
		}
		state.MsgBytesEnqueue += int64(ref.Header.SizeBytes)
		state.Returns = append(state.Returns, ref)
	}

	admitToServiceQueue(state, consumer)
	effects := append(dlEffects, runCheckoutEngine(meta, state)...)
	effects = append(effects, enforceLimits(meta, state)...)
	return OK{}, effects
}

// handleDiscard implements §4.6's discard: an explicit basic.reject
// without requeue. The message is handed straight to the DLX regardless
// of delivery limit.
func handleDiscard(meta Meta, cmd DiscardCommand, state *State) (Reply, []Effect) {
	consumer, ok := state.Consumers[cmd.ConsumerKey]
	if !ok {
		return asReply(ErrInvalidConsumerKey(cmd.ConsumerKey)), nil
	}

	var dlEffects []Effect
	for _, msgID := range cmd.MsgIDs {
		cm, ok := consumer.CheckedOut[msgID]
		if !ok {
			continue
		}
		delete(consumer.CheckedOut, msgID)
		releaseCheckedOut(state, cm.Ref)
		dlEffects = append(dlEffects, deadletterCheckedOut(state, ReasonRejected, cm.Ref))
	}

	admitToServiceQueue(state, consumer)
	effects := append(dlEffects, runCheckoutEngine(meta, state)...)
	return OK{}, effects
}

// handleDefer implements §4.6's defer: the AMQP 1.0 `modify` outcome with
// delivery-failed unset — the consumer isn't ready for this message yet,
// but it is not a processing failure, so it goes to the back of the fresh
// queue rather than jumping the line through Returns and its delivery
// count is left untouched.
func handleDefer(meta Meta, cmd DeferCommand, state *State) (Reply, []Effect) {
	consumer, ok := state.Consumers[cmd.ConsumerKey]
	if !ok {
		return asReply(ErrInvalidConsumerKey(cmd.ConsumerKey)), nil
	}

	for _, msgID := range cmd.MsgIDs {
		cm, ok := consumer.CheckedOut[msgID]
		if !ok {
			continue
		}
		delete(consumer.CheckedOut, msgID)
		releaseCheckedOut(state, cm.Ref)
		state.MsgBytesEnqueue += int64(cm.Ref.Header.SizeBytes)
		state.Messages = append(state.Messages, cm.Ref)
	}

	admitToServiceQueue(state, consumer)
	effects := runCheckoutEngine(meta, state)
	return OK{}, effects
}

// handleCancel implements consumer withdrawal: any outstanding checked-out
// messages rejoin Returns (with delivery-count bumped, subject to the same
// delivery-limit dead-lettering as an explicit return), the consumer is
// removed from the registry, and under single_active the next waiting
// consumer is promoted.
func handleCancel(meta Meta, cmd CancelCommand, state *State) (Reply, []Effect) {
	consumer, ok := state.Consumers[cmd.ConsumerKey]
	if !ok {
		return asReply(ErrConsumerNotFound(cmd.ConsumerKey)), nil
	}

	var dlEffects []Effect
	for _, cm := range consumer.CheckedOut {
		releaseCheckedOut(state, cm.Ref)
		ref := cm.Ref
		ref.Header.DeliveryCount++
		if state.Cfg.DeliveryLimit > 0 && int64(ref.Header.DeliveryCount) > state.Cfg.DeliveryLimit {
			dlEffects = append(dlEffects, deadletterCheckedOut(state, ReasonDeliveryLimit, ref))
			continue
		}
		state.MsgBytesEnqueue += int64(ref.Header.SizeBytes)
		state.Returns = append(state.Returns, ref)
	}

	delete(state.Consumers, cmd.ConsumerKey)
	if state.Cfg.ConsumerStrategy == SingleActive {
		detachSingleActive(state, cmd.ConsumerKey)
	}

	return OK{}, append(dlEffects, runCheckoutEngine(meta, state)...)
}

// handleRequeue implements RequeueCommand: a client-side requeue of a
// message that was never fully checked out against this state (typically
// raised when a consumer is cancelled mid-flight before reaching its
// delivery limit). It simply rejoins Returns with its count bumped, same
// as an explicit return.
func handleRequeue(meta Meta, cmd RequeueCommand, state *State) (Reply, []Effect) {
	ref := cmd.Ref
	ref.Header.DeliveryCount++
	if state.Cfg.DeliveryLimit > 0 && int64(ref.Header.DeliveryCount) > state.Cfg.DeliveryLimit {
		dlEffect := deadletter(state, ReasonDeliveryLimit, ref)
		return OK{}, append([]Effect{dlEffect}, runCheckoutEngine(meta, state)...)
	}
	state.Returns = append(state.Returns, ref)
	return OK{}, runCheckoutEngine(meta, state)
}
