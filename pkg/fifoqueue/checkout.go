package fifoqueue

import "time"

// maxChunkBytes bounds how many payload bytes a single delivery effect may
// carry (§4.4 step 5) so no single effect carries an unbounded batch.
const maxChunkBytes = 128 * 1024

// takeNext implements §4.3's strict FIFO law: returns drain before fresh
// messages. The taken index is (re-)recorded in RaIndexes — a no-op for
// returned messages, which are already indexed.
func takeNext(state *State) (MsgRef, bool) {
	if len(state.Returns) > 0 {
		ref := state.Returns[0]
		state.Returns = state.Returns[1:]
		state.RaIndexes.Append(ref.Index)
		return ref, true
	}
	if len(state.Messages) > 0 {
		ref := state.Messages[0]
		state.Messages = state.Messages[1:]
		state.RaIndexes.Append(ref.Index)
		return ref, true
	}
	return MsgRef{}, false
}

// peekNext returns the head of returns-then-messages without removing it.
func peekNext(state *State) (MsgRef, bool) {
	if len(state.Returns) > 0 {
		return state.Returns[0], true
	}
	if len(state.Messages) > 0 {
		return state.Messages[0], true
	}
	return MsgRef{}, false
}

// expireHeadMessages implements §4.8's per-message TTL sweep: drop any
// head message whose expiry has passed, handing it to DLX with reason
// "expired", and returns the timer effect for the next soonest expiry.
func expireHeadMessages(meta Meta, state *State) []Effect {
	var effects []Effect
	for {
		ref, ok := peekNext(state)
		if !ok || !ref.Header.HasExpiry() || ref.Header.ExpiryTs > meta.SystemTime {
			break
		}
		ref, _ = takeNext(state)
		effects = append(effects, deadletter(state, ReasonExpired, ref))
	}
	return append(effects, nextExpiryTimer(meta, state))
}

// nextExpiryTimer arms (or cancels) the "expire_msgs" timer for the
// soonest-expiring head message, per §4.8. A zero Delay with no pending
// expiry tells the substrate to cancel any outstanding timer.
func nextExpiryTimer(meta Meta, state *State) Effect {
	ref, ok := peekNext(state)
	if !ok || !ref.Header.HasExpiry() {
		return TimerEffect{Name: "expire_msgs", Delay: 0}
	}
	delayMs := int64(ref.Header.ExpiryTs) - int64(meta.SystemTime)
	if delayMs < 0 {
		delayMs = 0
	}
	return TimerEffect{Name: "expire_msgs", Delay: time.Duration(delayMs) * time.Millisecond}
}

// deadletter hands ref to the in-core DLX bookkeeping, keeping
// messages_total and the index set consistent with Invariant 1/2, and
// returns the effect that tells whatever sits outside the pure core to
// persist the dead letter durably. ref must still be counted in
// MsgBytesEnqueue — it came straight off the head of Messages/Returns, not
// out of a consumer's checked-out set (for that case use
// deadletterCheckedOut).
func deadletter(state *State, reason DeadLetterReason, ref MsgRef) Effect {
	state.MsgBytesEnqueue -= int64(ref.Header.SizeBytes)
	return deadletterCheckedOut(state, reason, ref)
}

// deadletterCheckedOut is deadletter's counterpart for a ref whose checkout
// bytes a caller has already released via releaseCheckedOut — the
// delivery-limit-exceeded paths of return/cancel. Invariant 5's disjoint
// enqueue/checkout sums mean this path must not touch MsgBytesEnqueue a
// second time.
func deadletterCheckedOut(state *State, reason DeadLetterReason, ref MsgRef) Effect {
	state.DLX = state.DLX.Deadletter(reason, ref)
	state.RaIndexes.Delete(ref.Index)
	state.MessagesTotal--
	return DeadLetterEffect{QueueName: state.Cfg.Name, Entry: DeadLetterEntry{Reason: reason, Ref: ref}}
}

// delivery is one message handed to one consumer during a single Checkout
// Engine pass.
type delivery struct {
	consumerKey uint64
	msgID       uint64
	ref         MsgRef
}

// runCheckoutEngine is the main loop of §4.4, executed after every
// mutating command.
func runCheckoutEngine(meta Meta, state *State) []Effect {
	effects := expireHeadMessages(meta, state)
	if state.Cfg.ConsumerStrategy == SingleActive {
		pruneFadedConsumers(state)
	}

	deliveriesByConsumer := make(map[uint64][]delivery)
	order := []uint64{}

	for {
		key, ok := state.serviceQueue.Pop()
		if !ok {
			break
		}
		consumer, ok := state.Consumers[key]
		if !ok || !consumerReady(consumer) {
			continue
		}

		ref, ok := takeNext(state)
		if !ok {
			// No message ready: this consumer stays off the service queue
			// until the next event re-admits it (it is re-pushed by
			// whatever later event increases readiness).
			state.serviceQueue.Push(key, consumer.Priority, consumer.seq)
			break
		}

		msgID := consumer.NextMsgID
		consumer.NextMsgID++
		deadline := meta.SystemTime + Timestamp(state.Cfg.ConsumerLockMs)
		consumer.CheckedOut[msgID] = CheckedMsg{DeadlineTs: deadline, Ref: ref}
		if consumer.Cfg.CreditMode.Kind == CreditModeCredited {
			consumer.Credit--
		}
		consumer.DeliveryCount++
		state.MsgBytesEnqueue -= int64(ref.Header.SizeBytes)
		state.MsgBytesCheckout += int64(ref.Header.SizeBytes)

		if _, seen := deliveriesByConsumer[key]; !seen {
			order = append(order, key)
		}
		deliveriesByConsumer[key] = append(deliveriesByConsumer[key], delivery{consumerKey: key, msgID: msgID, ref: ref})

		if consumerReady(consumer) {
			state.serviceQueue.Push(key, consumer.Priority, consumer.seq)
		}
	}

	for _, key := range order {
		effects = append(effects, deliveryEffects(state, key, deliveriesByConsumer[key])...)
	}

	return effects
}

// deliveryEffects turns one consumer's batch from this pass into one or
// more send effects, chunked by payload bytes (§4.4 step 5).
func deliveryEffects(state *State, key uint64, batch []delivery) []Effect {
	consumer := state.Consumers[key]

	if len(batch) == 1 && state.MsgCache != nil && state.MsgCache.Index == batch[0].ref.Index {
		body := state.MsgCache.Body
		state.MsgCache = nil
		return []Effect{SendMsgEffect{
			Pid: consumer.Cfg.Pid,
			Payload: deliveryPayload{
				ConsumerTag: consumer.Cfg.Tag,
				Messages:    []deliveredMessage{{MsgID: batch[0].msgID, Index: batch[0].ref.Index, Body: body}},
			},
			Target: SendRaEvent,
		}}
	}

	var effects []Effect
	chunkStart := 0
	chunkBytes := 0
	for i, d := range batch {
		chunkBytes += int(d.ref.Header.SizeBytes)
		if chunkBytes >= maxChunkBytes || i == len(batch)-1 {
			chunk := batch[chunkStart : i+1]
			effects = append(effects, logReadDeliveryEffect(consumer.Cfg.Pid, consumer.Cfg.Tag, chunk))
			chunkStart = i + 1
			chunkBytes = 0
		}
	}
	return effects
}

func logReadDeliveryEffect(pid, tag string, chunk []delivery) Effect {
	indexes := make([]LogIndex, len(chunk))
	for i, d := range chunk {
		indexes[i] = d.ref.Index
	}
	return LogEffect{
		Indexes: indexes,
		Continue: func(bodies [][]byte) []Effect {
			msgs := make([]deliveredMessage, len(chunk))
			for i, d := range chunk {
				var body []byte
				if i < len(bodies) {
					body = bodies[i]
				}
				msgs[i] = deliveredMessage{MsgID: d.msgID, Index: d.ref.Index, Body: body}
			}
			return []Effect{SendMsgEffect{
				Pid:     pid,
				Payload: deliveryPayload{ConsumerTag: tag, Messages: msgs},
				Target:  SendRaEvent,
			}}
		},
	}
}

// deliveryPayload is the shape of a send_msg effect's Payload when it
// carries a delivery batch.
type deliveryPayload struct {
	ConsumerTag string
	Messages    []deliveredMessage
}

type deliveredMessage struct {
	MsgID uint64
	Index LogIndex
	Body  []byte
}

// registerOrMergeConsumer implements the non-dequeue branch of the
// Checkout command (§4.4): register a new consumer or merge credit/priority
// into an existing one, assign it a v4-style consumer_key (its attach log
// index), and admit it to the service queue if eligible.
func registerOrMergeConsumer(meta Meta, cmd CheckoutCommand, state *State) *Consumer {
	for _, c := range state.Consumers {
		if c.Cfg.Tag == cmd.ConsumerTag && c.Cfg.Pid == cmd.Pid {
			c.Priority = cmd.Priority
			c.Cfg.CreditMode = cmd.CreditMode
			admitToServiceQueue(state, c)
			return c
		}
	}

	key := uint64(meta.Index)
	consumer := &Consumer{
		Key: key,
		Cfg: ConsumerCfg{
			Tag:        cmd.ConsumerTag,
			Pid:        cmd.Pid,
			Lifetime:   LifetimeAuto,
			CreditMode: cmd.CreditMode,
			Meta:       cmd.Meta,
		},
		Status:     StatusUp,
		Priority:   cmd.Priority,
		CheckedOut: make(map[uint64]CheckedMsg),
		seq:        state.nextConsumerSeq,
	}
	state.nextConsumerSeq++
	if cmd.CreditMode.Kind == CreditModeCredited {
		consumer.DeliveryCount = cmd.CreditMode.InitialDeliveryCount
	}
	state.Consumers[key] = consumer

	if state.Cfg.ConsumerStrategy == SingleActive {
		attachSingleActive(state, consumer)
	} else {
		admitToServiceQueue(state, consumer)
	}

	return consumer
}

// admitToServiceQueue pushes consumer onto the service queue if it
// currently satisfies Invariant 3. The synthetic dequeue consumer never
// joins the service queue — it only ever owns a message through a direct
// basic.get draw, never through the Checkout Engine's delivery loop, even
// if that message is later reclaimed on a consumer-lock timeout.
func admitToServiceQueue(state *State, consumer *Consumer) {
	if consumer.Cfg.Tag == dequeueConsumerTag {
		return
	}
	if consumerReady(consumer) {
		state.serviceQueue.Push(consumer.Key, consumer.Priority, consumer.seq)
	}
}

// consumerReady reports whether consumer may receive another delivery
// right now. Under the v1 simple-prefetch protocol eligibility is derived
// from the outstanding checked-out count against its prefetch ceiling;
// under v2 it is the explicit Credit balance (§4.5).
func consumerReady(consumer *Consumer) bool {
	if consumer.Status != StatusUp {
		return false
	}
	if consumer.Cfg.CreditMode.Kind == CreditModeCredited {
		return consumer.Credit > 0
	}
	max := consumer.Cfg.CreditMode.Max
	if max <= 0 {
		return true
	}
	return int64(len(consumer.CheckedOut)) < max
}

// handleCheckout dispatches between streaming registration and the
// basic.get-style synchronous dequeue path.
func handleCheckout(meta Meta, cmd CheckoutCommand, state *State) (Reply, []Effect) {
	if cmd.Spec != nil && cmd.Spec.Dequeue {
		if state.Cfg.ConsumerStrategy == SingleActive {
			return asReply(ErrUnsupportedSingleActiveDequeue()), nil
		}
		return handleDequeue(meta, cmd, state)
	}

	consumer := registerOrMergeConsumer(meta, cmd, state)
	effects := runCheckoutEngine(meta, state)
	effects = append(effects, enforceLimits(meta, state)...)
	return CheckoutSummaryReply{ConsumerKey: consumer.Key}, effects
}

// dequeueConsumerTag marks the synthetic, auto-created consumer that owns a
// manual-ack basic.get draw (handleDequeue with Spec.AutoSettle false). It
// never attaches to the service queue and never receives deliveries through
// the Checkout Engine — its only entry arrives directly from handleDequeue
// — so it exists purely to give the drawn message an owner it can later be
// settled or returned against.
const dequeueConsumerTag = "__dequeue__"

// dequeueConsumer returns pid's synthetic get-consumer, creating it on
// first use. Keyed by pid rather than by attach index since a given pid may
// issue several manual-ack dequeues across the consumer's lifetime and they
// all share the one owner.
func dequeueConsumer(meta Meta, pid string, state *State) *Consumer {
	for _, c := range state.Consumers {
		if c.Cfg.Tag == dequeueConsumerTag && c.Cfg.Pid == pid {
			return c
		}
	}

	key := uint64(meta.Index)
	consumer := &Consumer{
		Key:        key,
		Cfg:        ConsumerCfg{Tag: dequeueConsumerTag, Pid: pid, Lifetime: LifetimeAuto},
		Status:     StatusUp,
		CheckedOut: make(map[uint64]CheckedMsg),
		seq:        state.nextConsumerSeq,
	}
	state.nextConsumerSeq++
	state.Consumers[key] = consumer
	return consumer
}

// handleDequeue implements the classic basic.get synchronous draw: take one
// message off the head, optionally auto-settle it, and deliver its body via
// a log-read effect since the reply itself cannot carry the body (Apply
// never touches the log directly, §4.11). A draw always moves the
// message's bytes from MsgBytesEnqueue to MsgBytesCheckout, exactly as a
// streaming delivery does (§8 Invariant 5); auto-settle immediately
// reverses that for MsgBytesCheckout via removeRef, while a manual-ack draw
// leaves the message recorded against a synthetic consumer so a later
// Settle/Return/Discard can find it.
func handleDequeue(meta Meta, cmd CheckoutCommand, state *State) (Reply, []Effect) {
	ref, ok := takeNext(state)
	if !ok {
		return DequeueReply{Empty: true}, nil
	}

	state.MsgBytesEnqueue -= int64(ref.Header.SizeBytes)
	state.MsgBytesCheckout += int64(ref.Header.SizeBytes)

	if cmd.Spec.AutoSettle {
		removeRef(state, ref)
		return DequeueReply{Ref: ref}, []Effect{logReadDequeueEffect(cmd.Pid, ref)}
	}

	consumer := dequeueConsumer(meta, cmd.Pid, state)
	msgID := consumer.NextMsgID
	consumer.NextMsgID++
	deadline := meta.SystemTime + Timestamp(state.Cfg.ConsumerLockMs)
	consumer.CheckedOut[msgID] = CheckedMsg{DeadlineTs: deadline, Ref: ref}

	return DequeueReply{Ref: ref, MsgID: msgID, ConsumerKey: consumer.Key}, []Effect{logReadDequeueEffect(cmd.Pid, ref)}
}

// removeRef retires ref from the live index set without involving the DLX
// (used by a settled basic.get draw, distinct from deadletter's §4.8 path).
// By the time this is called ref's bytes are already in MsgBytesCheckout
// (moved there at checkout/draw time), so only the checkout side needs
// releasing here.
func removeRef(state *State, ref MsgRef) {
	state.RaIndexes.Delete(ref.Index)
	state.MessagesTotal--
	releaseCheckedOut(state, ref)
}

// releaseCheckedOut reverses the MsgBytesCheckout accounting the checkout
// engine records at delivery time, for any path where a checked-out
// message leaves a consumer's outstanding set — settled, returned,
// discarded, deferred, or reclaimed on timeout.
func releaseCheckedOut(state *State, ref MsgRef) {
	state.MsgBytesCheckout -= int64(ref.Header.SizeBytes)
}

func logReadDequeueEffect(pid string, ref MsgRef) Effect {
	return LogEffect{
		Indexes: []LogIndex{ref.Index},
		Continue: func(bodies [][]byte) []Effect {
			var body []byte
			if len(bodies) > 0 {
				body = bodies[0]
			}
			return []Effect{SendMsgEffect{
				Pid:     pid,
				Payload: deliveryPayload{Messages: []deliveredMessage{{Index: ref.Index, Body: body}}},
				Target:  SendRaEvent,
			}}
		},
	}
}
