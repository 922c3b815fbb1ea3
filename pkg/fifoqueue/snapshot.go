package fifoqueue

import (
	"bytes"
	"encoding/gob"
)

func init() {
	gob.Register(&MemoryDeadLetterSink{})
}

// wireState is the gob-friendly shape of State: every field a snapshot
// needs to resume from, using only exported fields and concrete types so
// gob never has to reach past this package's boundary. Unexported
// bookkeeping (serviceQueue, nextConsumerSeq, enqueuesSinceCursor) is
// rebuilt on decode exactly as dehydrate already rebuilds serviceQueue
// for an in-memory release cursor.
type wireState struct {
	Cfg              Config
	Messages         []MsgRef
	Returns          []MsgRef
	IndexMembers     []LogIndex
	MessagesTotal    int64
	MsgBytesEnqueue  int64
	MsgBytesCheckout int64
	EnqueueCount     int64
	Enqueuers        map[string]*Enqueuer
	Consumers        map[uint64]*Consumer
	WaitingConsumers []uint64
	ActiveConsumer   *uint64
	ReleaseCursors   []ReleaseCursor
	DLX              DeadLetterSink
	LastActive       Timestamp
}

// EncodeSnapshot serializes state into a self-contained byte slice
// suitable for the durable storage a ReleaseCursorEffect's Dehydrated
// state is handed off to (internal/snapshot).
func EncodeSnapshot(state *State) ([]byte, error) {
	w := wireState{
		Cfg:              state.Cfg,
		Messages:         state.Messages,
		Returns:          state.Returns,
		MessagesTotal:    state.MessagesTotal,
		MsgBytesEnqueue:  state.MsgBytesEnqueue,
		MsgBytesCheckout: state.MsgBytesCheckout,
		EnqueueCount:     state.EnqueueCount,
		Enqueuers:        state.Enqueuers,
		Consumers:        state.Consumers,
		WaitingConsumers: state.WaitingConsumers,
		ActiveConsumer:   state.ActiveConsumer,
		ReleaseCursors:   state.ReleaseCursors,
		DLX:              state.DLX,
		LastActive:       state.LastActive,
	}
	if state.RaIndexes != nil {
		for idx := range state.RaIndexes.members {
			w.IndexMembers = append(w.IndexMembers, idx)
		}
	}

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&w); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeSnapshot reverses EncodeSnapshot, reconstructing a State whose
// derived, unexported bookkeeping (the service queue) is rebuilt from the
// decoded Consumers the same way dehydrate builds it for an in-memory
// release cursor.
func DecodeSnapshot(data []byte) (*State, error) {
	var w wireState
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&w); err != nil {
		return nil, err
	}

	out := &State{
		Cfg:              w.Cfg,
		Messages:         w.Messages,
		Returns:          w.Returns,
		RaIndexes:        NewIndexSet(),
		MessagesTotal:    w.MessagesTotal,
		MsgBytesEnqueue:  w.MsgBytesEnqueue,
		MsgBytesCheckout: w.MsgBytesCheckout,
		EnqueueCount:     w.EnqueueCount,
		Enqueuers:        w.Enqueuers,
		Consumers:        w.Consumers,
		serviceQueue:     newServiceQueue(),
		WaitingConsumers: w.WaitingConsumers,
		ActiveConsumer:   w.ActiveConsumer,
		ReleaseCursors:   w.ReleaseCursors,
		DLX:              w.DLX,
		LastActive:       w.LastActive,
	}
	for _, idx := range w.IndexMembers {
		out.RaIndexes.Append(idx)
	}
	if out.Enqueuers == nil {
		out.Enqueuers = make(map[string]*Enqueuer)
	}
	if out.Consumers == nil {
		out.Consumers = make(map[uint64]*Consumer)
	}
	if out.DLX == nil {
		out.DLX = NewMemoryDeadLetterSink()
	}
	for key, consumer := range out.Consumers {
		if consumerReady(consumer) {
			out.serviceQueue.Push(key, consumer.Priority, consumer.seq)
		}
	}
	return out, nil
}
