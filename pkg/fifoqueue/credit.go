package fifoqueue

// handleCredit dispatches a `credit` command to whichever flow-control
// protocol the consumer registered under (§4.5): v1 simple prefetch treats
// Credit as a new absolute ceiling, v2 treats it as additional credit on
// top of whatever the consumer already holds and supports `drain`.
func handleCredit(meta Meta, cmd CreditCommand, state *State) (Reply, []Effect) {
	consumer, ok := state.Consumers[cmd.ConsumerKey]
	if !ok {
		return asReply(ErrInvalidConsumerKey(cmd.ConsumerKey)), nil
	}

	switch consumer.Cfg.CreditMode.Kind {
	case CreditModeCredited:
		return handleCreditV2(meta, cmd, consumer, state)
	default:
		return handleCreditV1(meta, cmd, consumer, state)
	}
}

func handleCreditV1(meta Meta, cmd CreditCommand, consumer *Consumer, state *State) (Reply, []Effect) {
	consumer.Cfg.CreditMode.Max = cmd.Credit
	admitToServiceQueue(state, consumer)

	effects := runCheckoutEngine(meta, state)

	available := messagesReady(state)
	drained := cmd.Drain && available == 0

	return SendCreditReply{
		ConsumerTag:   consumer.Cfg.Tag,
		MessagesReady: available,
		Drained:       drained,
		DeliveryCount: consumer.DeliveryCount,
	}, effects
}

func handleCreditV2(meta Meta, cmd CreditCommand, consumer *Consumer, state *State) (Reply, []Effect) {
	consumer.Credit += cmd.Credit
	admitToServiceQueue(state, consumer)

	effects := runCheckoutEngine(meta, state)

	available := messagesReady(state)
	drain := cmd.Drain
	if drain && consumer.Credit > 0 && available == 0 {
		// Nothing left to give this consumer: the AMQP 1.0 drain contract
		// requires the credit to be relinquished, not merely idle.
		consumer.Credit = 0
	}

	return CreditReplyV2{
		ConsumerTag:   consumer.Cfg.Tag,
		DeliveryCount: consumer.DeliveryCount,
		Credit:        consumer.Credit,
		Available:     available,
		Drain:         drain,
	}, effects
}

// messagesReady reports how many messages are currently eligible for
// delivery (returns plus fresh messages).
func messagesReady(state *State) int64 {
	return int64(len(state.Returns) + len(state.Messages))
}
