// Package effects is the only place in this codebase that performs I/O on
// behalf of the queue state machine. fifoqueue.Apply never touches the
// network, a clock, or a file; every external action it wants carried out
// comes back as one of the fifoqueue.Effect variants, and Interpreter is
// what actually executes them.
package effects

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hayabusa-fifo/fifoqueue/internal/dlx"
	"github.com/hayabusa-fifo/fifoqueue/internal/snapshot"
	"github.com/hayabusa-fifo/fifoqueue/pkg/concurrency"
	"github.com/hayabusa-fifo/fifoqueue/pkg/fifoqueue"
	"github.com/hayabusa-fifo/fifoqueue/pkg/messaging"
	"github.com/hayabusa-fifo/fifoqueue/pkg/resilience"
)

// maxConcurrentEffects bounds how many effects from one batch run at once.
// A single Apply call can return dozens of send effects (a large consumer
// fan-out, e.g.); without a cap a pathological batch would spawn one
// goroutine per effect with no ceiling.
const maxConcurrentEffects = 64

// LogReader fetches raw command bodies by log index, the durable
// materialization of a LogEffect's request.
type LogReader interface {
	Fetch(ctx context.Context, indexes []fifoqueue.LogIndex) ([][]byte, error)
}

// Proposer re-submits a command produced while interpreting an effect
// (a TimerEffect firing, or a LogEffect's continuation) back into the
// replicated log. It is the substrate.Queue.Propose method in production.
type Proposer interface {
	Propose(cmd fifoqueue.Command) (index int, isLeader bool, err error)
}

// Transport delivers a SendMsgEffect's payload to whatever process or
// connection Pid names. Production wires this to the same messaging
// broker the queue's consumers are attached through.
type Transport interface {
	Deliver(ctx context.Context, pid string, payload any) error
}

// Config bounds the retry/circuit-breaker protection wrapped around each
// durable write an Interpreter performs, so a flaky Redis or S3 doesn't
// stall command application indefinitely.
type Config struct {
	Retry   resilience.RetryConfig
	Breaker resilience.CircuitBreakerConfig
}

// Interpreter executes the effects Apply returns. All its dependencies
// are optional: a nil Transport, DLXSink or SnapshotStore means the
// corresponding effect is dropped without logging, a nil LogReader means a
// LogEffect is dropped with a warning, and a nil Proposer means timers
// never fire.
type Interpreter struct {
	Transport     Transport
	DLXSink       *dlx.Sink
	SnapshotStore snapshot.Store
	LogReader     LogReader
	Proposer      Proposer

	breaker *resilience.CircuitBreaker
	retry   resilience.RetryConfig
	log     *slog.Logger
	sem     *concurrency.Semaphore
}

// New builds an Interpreter. log may be nil, in which case slog.Default
// is used.
func New(cfg Config, log *slog.Logger) *Interpreter {
	if log == nil {
		log = slog.Default()
	}
	breakerCfg := cfg.Breaker
	if breakerCfg.Name == "" {
		breakerCfg.Name = "effects-interpreter"
	}
	retryCfg := cfg.Retry
	if retryCfg.MaxAttempts <= 0 {
		retryCfg = resilience.DefaultRetryConfig()
	}
	return &Interpreter{
		breaker: resilience.NewCircuitBreaker(breakerCfg),
		retry:   retryCfg,
		log:     log,
		sem:     concurrency.NewSemaphore(maxConcurrentEffects),
	}
}

// Handle runs every effect produced for queueName's latest Apply call
// concurrently: effects within a batch are independent of each other by
// construction, so one being slow (or failing) never delays or blocks
// the rest.
func (in *Interpreter) Handle(ctx context.Context, queueName string, effectList []fifoqueue.Effect) {
	g, gctx := errgroup.WithContext(ctx)
	for _, eff := range effectList {
		eff := eff
		if err := in.sem.Acquire(gctx, 1); err != nil {
			return
		}
		g.Go(func() error {
			defer in.sem.Release(1)
			in.handleOne(gctx, queueName, eff)
			return nil
		})
	}
	_ = g.Wait()
}

func (in *Interpreter) handleOne(ctx context.Context, queueName string, eff fifoqueue.Effect) {
	switch e := eff.(type) {
	case fifoqueue.SendMsgEffect:
		in.handleSend(ctx, e)
	case fifoqueue.MonitorEffect:
		in.handleMonitor(ctx, e)
	case fifoqueue.LogEffect:
		in.handleLog(ctx, e)
	case fifoqueue.ReplyEffect:
		// Replies to the originating client are a transport-layer concern
		// handled at the RPC boundary, not here; nothing to interpret.
	case fifoqueue.ReleaseCursorEffect:
		in.handleReleaseCursor(ctx, queueName, e)
	case fifoqueue.TimerEffect:
		in.handleTimer(ctx, e)
	case fifoqueue.ModCallEffect:
		in.log.Warn("effects: unhandled mod_call effect", "module", e.Module, "function", e.Function)
	case fifoqueue.AuxEffect:
		// Opaque escape hatch for future substrate-specific behavior;
		// nothing generic to do with it here.
	case fifoqueue.DeadLetterEffect:
		in.handleDeadLetter(ctx, e)
	default:
		in.log.Warn("effects: unknown effect type")
	}
}

func (in *Interpreter) handleSend(ctx context.Context, e fifoqueue.SendMsgEffect) {
	if in.Transport == nil {
		return
	}
	if err := in.Transport.Deliver(ctx, e.Pid, e.Payload); err != nil {
		in.log.Error("effects: delivery failed", "pid", e.Pid, "target", e.Target, "error", err)
	}
}

func (in *Interpreter) handleMonitor(_ context.Context, e fifoqueue.MonitorEffect) {
	in.log.Debug("effects: monitor requested", "kind", e.Kind, "target", e.Target)
}

func (in *Interpreter) handleLog(ctx context.Context, e fifoqueue.LogEffect) {
	if in.LogReader == nil {
		in.log.Warn("effects: log effect dropped, no log reader configured")
		return
	}
	bodies, err := in.LogReader.Fetch(ctx, e.Indexes)
	if err != nil {
		in.log.Error("effects: failed to fetch log bodies", "error", err)
		return
	}
	// Continue hands back the further effects hydrating these bodies
	// produces (typically SendMsgEffects carrying the actual delivery);
	// interpret them the same way as any other batch.
	in.Handle(ctx, "", e.Continue(bodies))
}

func (in *Interpreter) handleReleaseCursor(ctx context.Context, queueName string, e fifoqueue.ReleaseCursorEffect) {
	if in.SnapshotStore == nil {
		return
	}
	payload, err := fifoqueue.EncodeSnapshot(e.Dehydrated)
	if err != nil {
		in.log.Error("effects: failed to encode release cursor", "queue", queueName, "error", err)
		return
	}

	err = in.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, in.retry, func(ctx context.Context) error {
			return in.SnapshotStore.Put(ctx, queueName, uint64(e.Index), payload)
		})
	})
	if err != nil {
		in.log.Error("effects: failed to persist release cursor", "queue", queueName, "index", e.Index, "error", err)
	}
}

// handleTimer schedules e.Name to fire after e.Delay by re-proposing a
// TimeoutCommand, which drives the expire_msgs tick of §4.8. Without a
// Proposer configured it only logs the request, which is the correct
// behavior for a queue running with expiry disabled. A zero Delay is the
// core's cancel request: nothing new is scheduled, but timers scheduled
// earlier are not stopped and still propose their TimeoutCommand.
func (in *Interpreter) handleTimer(ctx context.Context, e fifoqueue.TimerEffect) {
	in.log.Debug("effects: timer scheduled", "name", e.Name, "delay", e.Delay)
	if in.Proposer == nil || e.Delay <= 0 {
		return
	}
	concurrency.SafeGo(ctx, func() {
		time.Sleep(e.Delay)
		if _, _, err := in.Proposer.Propose(fifoqueue.TimeoutCommand{Kind: e.Name}); err != nil {
			in.log.Error("effects: failed to re-propose timer", "name", e.Name, "error", err)
		}
	})
}

func (in *Interpreter) handleDeadLetter(ctx context.Context, e fifoqueue.DeadLetterEffect) {
	if in.DLXSink == nil {
		return
	}
	storedAt := time.Now()
	err := in.breaker.Execute(ctx, func(ctx context.Context) error {
		return resilience.Retry(ctx, in.retry, func(ctx context.Context) error {
			return in.DLXSink.Persist(ctx, storedAt, e)
		})
	})
	if err != nil {
		in.log.Error("effects: failed to persist dead letter", "queue", e.QueueName, "reason", e.Entry.Reason, "error", err)
	}
}

// BrokerTransport implements Transport on top of a messaging.Broker,
// giving each destination pid its own lazily-created, cached Producer.
// This is how a SendMsgEffect's delivery ultimately reaches a consumer
// connected over Kafka/RabbitMQ rather than an in-process channel.
type BrokerTransport struct {
	broker messaging.Broker

	mu        sync.Mutex
	producers map[string]messaging.Producer
}

// NewBrokerTransport wraps broker as a Transport.
func NewBrokerTransport(broker messaging.Broker) *BrokerTransport {
	return &BrokerTransport{broker: broker, producers: make(map[string]messaging.Producer)}
}

// Deliver marshals payload as JSON and publishes it to the topic named by
// pid, reusing a cached Producer across calls to the same pid.
func (t *BrokerTransport) Deliver(ctx context.Context, pid string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	producer, err := t.producerFor(pid)
	if err != nil {
		return err
	}
	return producer.Publish(ctx, &messaging.Message{Topic: pid, Payload: body})
}

func (t *BrokerTransport) producerFor(pid string) (messaging.Producer, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if p, ok := t.producers[pid]; ok {
		return p, nil
	}
	p, err := t.broker.Producer(pid)
	if err != nil {
		return nil, err
	}
	t.producers[pid] = p
	return p, nil
}

// Close releases every cached producer.
func (t *BrokerTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, p := range t.producers {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
