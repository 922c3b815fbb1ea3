// Package liveness watches the node-local pids a queue's process monitor
// cares about and turns their arrival or disappearance into
// fifoqueue.DownCommand / NodeupCommand values (§4.10).
// It uses NATS as the gossip transport: every node periodically publishes
// its own heartbeat and subscribes to everyone else's, so losing a pid's
// heartbeat stream (rather than losing a single TCP connection) is what
// drives a "down", reported with the inconclusive noconnection reason.
package liveness

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hayabusa-fifo/fifoqueue/pkg/fifoqueue"
)

const (
	subjectHeartbeat = "fifoqueue.liveness.heartbeat"
	subjectMonitor   = "fifoqueue.liveness.monitor"
)

// Config configures the liveness Monitor.
type Config struct {
	URL               string        `env:"LIVENESS_NATS_URL" env-default:"nats://127.0.0.1:4222"`
	Node              string        `env:"NODE_NAME" env-default:"node1"`
	HeartbeatInterval time.Duration `env:"LIVENESS_HEARTBEAT_INTERVAL" env-default:"2s"`
	// SuspectAfter is how long a peer's heartbeat may go missing before it
	// is reported down. Kept well above HeartbeatInterval to tolerate
	// ordinary jitter without flapping.
	SuspectAfter time.Duration `env:"LIVENESS_SUSPECT_AFTER" env-default:"6s"`
}

type heartbeat struct {
	Node string    `json:"node"`
	Pid  string    `json:"pid"`
	At   time.Time `json:"at"`
}

// Monitor tracks peer liveness over NATS and emits Events that a substrate
// can feed into fifoqueue.Apply as DownCommand/NodeupCommand. It emits
// EventDown and EventNodeup only; it never emits EventNodedown.
type Monitor struct {
	cfg  Config
	conn *nats.Conn
	log  *slog.Logger

	mu      sync.Mutex
	seen    map[string]time.Time // pid -> last heartbeat
	down    map[string]bool      // pid -> currently reported down
	monitor []string             // pids this node has been asked to watch

	events chan Event
}

// Event is a liveness observation ready to be turned into a fifoqueue
// command by the caller (which knows the replication term/index to stamp
// it with).
type Event struct {
	Kind EventKind
	Pid  string // set for Down
	Node string // set for Nodeup/Nodedown
}

type EventKind int

const (
	EventDown EventKind = iota
	EventNodeup
	EventNodedown
)

// New connects to NATS and starts watching. Call Watch to add pids this
// node's process monitor cares about.
func New(cfg Config, log *slog.Logger) (*Monitor, error) {
	conn, err := nats.Connect(cfg.URL, nats.Name("fifoqueue-liveness-"+cfg.Node))
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	m := &Monitor{
		cfg:    cfg,
		conn:   conn,
		log:    log,
		seen:   make(map[string]time.Time),
		down:   make(map[string]bool),
		events: make(chan Event, 64),
	}
	return m, nil
}

// Events returns the channel Event values are delivered on.
func (m *Monitor) Events() <-chan Event {
	return m.events
}

// Watch registers pid as one this node's process monitor should track.
func (m *Monitor) Watch(pid string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.monitor = append(m.monitor, pid)
	m.seen[pid] = time.Now()
}

// Run publishes this node's heartbeat on HeartbeatInterval and sweeps for
// missing peers until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context, localPid string) error {
	sub, err := m.conn.Subscribe(subjectHeartbeat, func(msg *nats.Msg) {
		var hb heartbeat
		if err := json.Unmarshal(msg.Data, &hb); err != nil {
			m.log.Warn("liveness: malformed heartbeat", "error", err)
			return
		}
		m.recordHeartbeat(hb)
	})
	if err != nil {
		return err
	}
	defer func() { _ = sub.Unsubscribe() }()

	heartbeatTicker := time.NewTicker(m.cfg.HeartbeatInterval)
	defer heartbeatTicker.Stop()
	sweepTicker := time.NewTicker(m.cfg.SuspectAfter / 2)
	defer sweepTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-heartbeatTicker.C:
			m.publishHeartbeat(localPid)
		case <-sweepTicker.C:
			m.sweep()
		}
	}
}

func (m *Monitor) publishHeartbeat(localPid string) {
	payload, err := json.Marshal(heartbeat{Node: m.cfg.Node, Pid: localPid, At: time.Now()})
	if err != nil {
		return
	}
	if err := m.conn.Publish(subjectHeartbeat, payload); err != nil {
		m.log.Warn("liveness: failed to publish heartbeat", "error", err)
	}
}

func (m *Monitor) recordHeartbeat(hb heartbeat) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, watched := m.seen[hb.Pid]; !watched {
		return
	}
	m.seen[hb.Pid] = hb.At
	if m.down[hb.Pid] {
		delete(m.down, hb.Pid)
		m.emit(Event{Kind: EventNodeup, Node: hb.Node})
	}
}

func (m *Monitor) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for pid, last := range m.seen {
		if m.down[pid] {
			continue
		}
		if now.Sub(last) > m.cfg.SuspectAfter {
			m.down[pid] = true
			m.emit(Event{Kind: EventDown, Pid: pid})
		}
	}
}

func (m *Monitor) emit(ev Event) {
	select {
	case m.events <- ev:
	default:
		m.log.Warn("liveness: event channel full, dropping", "kind", ev.Kind)
	}
}

// Close releases the NATS connection.
func (m *Monitor) Close() {
	m.conn.Close()
}

// ToCommand converts an Event into the fifoqueue.Command the substrate
// should propose, using DownNoConnection as a conservative default reason
// since NATS heartbeat loss cannot distinguish a crashed process from a
// partitioned one.
func ToCommand(ev Event) fifoqueue.Command {
	switch ev.Kind {
	case EventDown:
		return fifoqueue.DownCommand{Pid: ev.Pid, Reason: fifoqueue.DownNoConnection}
	case EventNodeup:
		return fifoqueue.NodeupCommand{Node: ev.Node}
	case EventNodedown:
		return fifoqueue.NodedownCommand{Node: ev.Node}
	default:
		return nil
	}
}
