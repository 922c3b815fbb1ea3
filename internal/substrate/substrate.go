// Package substrate is the replication layer: it runs one Raft group per
// queue and is the only thing in this codebase that proposes commands to,
// and applies committed entries against, the pure fifoqueue state
// machine. Apply itself never touches the network, the clock, or a
// random source — substrate is what supplies Meta.SystemTime and decides
// when a command is durable enough to apply.
package substrate

import (
	"bytes"
	"context"
	"encoding/gob"
	"log/slog"
	"time"

	"github.com/hayabusa-fifo/fifoqueue/pkg/algorithms/consensus/raft"
	"github.com/hayabusa-fifo/fifoqueue/pkg/concurrency"
	"github.com/hayabusa-fifo/fifoqueue/pkg/fifoqueue"
)

func init() {
	// gob needs every concrete Command/Effect-adjacent type it will be
	// asked to encode behind the Command interface registered up front.
	gob.Register(fifoqueue.EnqueueCommand{})
	gob.Register(fifoqueue.EnqueueV2Command{})
	gob.Register(fifoqueue.RegisterEnqueuerCommand{})
	gob.Register(fifoqueue.CheckoutCommand{})
	gob.Register(fifoqueue.CancelCommand{})
	gob.Register(fifoqueue.SettleCommand{})
	gob.Register(fifoqueue.ReturnCommand{})
	gob.Register(fifoqueue.DiscardCommand{})
	gob.Register(fifoqueue.DeferCommand{})
	gob.Register(fifoqueue.CreditCommand{})
	gob.Register(fifoqueue.RequeueCommand{})
	gob.Register(fifoqueue.PurgeCommand{})
	gob.Register(fifoqueue.PurgeNodesCommand{})
	gob.Register(fifoqueue.UpdateConfigCommand{})
	gob.Register(fifoqueue.GarbageCollectionCommand{})
	gob.Register(fifoqueue.EvalConsumerTimeoutsCommand{})
	gob.Register(fifoqueue.TimeoutCommand{})
	gob.Register(fifoqueue.DownCommand{})
	gob.Register(fifoqueue.NodeupCommand{})
	gob.Register(fifoqueue.NodedownCommand{})
	gob.Register(fifoqueue.MachineVersionCommand{})
	gob.Register(fifoqueue.DLXCommand{})
}

// EncodeCommand gob-encodes cmd for inclusion in a raft.LogEntry.
func EncodeCommand(cmd fifoqueue.Command) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(&cmd); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DecodeCommand reverses EncodeCommand.
func DecodeCommand(data []byte) (fifoqueue.Command, error) {
	var cmd fifoqueue.Command
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&cmd); err != nil {
		return nil, err
	}
	return cmd, nil
}

// EffectSink is how a Queue hands the effects an Apply call produced off
// to the rest of the system (internal/effects' interpreter, in
// production).
type EffectSink interface {
	Handle(ctx context.Context, queueName string, effects []fifoqueue.Effect)
}

// Clock supplies wall-clock readings, kept as an interface purely so
// tests can inject a fake one; production always uses systemClock.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Queue binds one fifoqueue.State to a raft.Node and proposes/applies
// commands against it in log order. One Queue exists per queue per
// replica.
type Queue struct {
	name  string
	node  *raft.Node
	sink  EffectSink
	clock Clock
	log   *slog.Logger

	mu    *concurrency.SmartMutex
	state *fifoqueue.State
}

// NewQueue constructs a Queue not yet bound to a raft.Node. state should
// be fifoqueue.NewState's result for a brand-new queue, or a
// snapshot-restored State when recovering. Callers must construct the
// raft.Node with ApplyFunc as its apply callback, then call Attach before
// starting the node's Run loop — raft.New needs the callback up front, so
// the binding can't happen in one step.
func NewQueue(name string, state *fifoqueue.State, sink EffectSink, log *slog.Logger) *Queue {
	if log == nil {
		log = slog.Default()
	}
	mu := concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "substrate." + name})
	return &Queue{name: name, state: state, sink: sink, clock: systemClock{}, log: log, mu: mu}
}

// MonitorApply starts the SmartMutex's background deadlock-risk watcher for
// this queue's apply lock. Callers should run this alongside the raft
// node's Run loop and cancel ctx on shutdown.
func (q *Queue) MonitorApply(ctx context.Context) {
	q.mu.Monitor(ctx)
}

// ApplyFunc returns the callback to pass as raft.New's apply parameter so
// that committed entries land on this Queue.
func (q *Queue) ApplyFunc() func(raft.LogEntry) {
	return q.applyEntry
}

// Attach binds the raft.Node this Queue proposes commands through. Must
// be called once, before Propose or the node's Run loop starts.
func (q *Queue) Attach(node *raft.Node) {
	q.node = node
}

// Propose submits cmd to the raft group. It only succeeds if this replica
// is currently leader; followers should forward the command to whichever
// node is. The command is not guaranteed applied by the time Propose
// returns — raft calls back into ApplyFunc once the entry commits.
func (q *Queue) Propose(cmd fifoqueue.Command) (index int, isLeader bool, err error) {
	data, err := EncodeCommand(cmd)
	if err != nil {
		return 0, false, err
	}
	idx, _, leader := q.node.Propose(data)
	return idx, leader, nil
}

func (q *Queue) applyEntry(entry raft.LogEntry) {
	cmd, err := DecodeCommand(entry.Data)
	if err != nil {
		q.log.Error("substrate: failed to decode committed entry", "queue", q.name, "index", entry.Index, "error", err)
		return
	}

	meta := fifoqueue.Meta{
		Index:      fifoqueue.LogIndex(entry.Index),
		SystemTime: fifoqueue.Timestamp(q.clock.Now().UnixMilli()),
	}

	q.mu.Lock()
	_, effects := fifoqueue.Apply(meta, cmd, q.state)
	q.mu.Unlock()

	if q.sink != nil && len(effects) > 0 {
		q.sink.Handle(context.Background(), q.name, effects)
	}
}

// State returns the queue's live state for read-only inspection (e.g. by
// a status/metrics endpoint). Callers must not mutate it.
func (q *Queue) State() *fifoqueue.State {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.state
}
