// Command queuenode runs a single replica's worth of queues: it loads
// configuration, wires the durable side effects (dead-letter storage,
// release-cursor snapshots, liveness gossip, broker transport) and then
// drives each configured queue's raft group, applying committed commands
// against the pure fifoqueue state machine.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/hayabusa-fifo/fifoqueue/internal/dlx"
	"github.com/hayabusa-fifo/fifoqueue/internal/effects"
	"github.com/hayabusa-fifo/fifoqueue/internal/liveness"
	"github.com/hayabusa-fifo/fifoqueue/internal/snapshot"
	"github.com/hayabusa-fifo/fifoqueue/internal/substrate"
	"github.com/hayabusa-fifo/fifoqueue/pkg/algorithms/consensus/raft"
	"github.com/hayabusa-fifo/fifoqueue/pkg/concurrency/distlock"
	lockredis "github.com/hayabusa-fifo/fifoqueue/pkg/concurrency/distlock/adapters/redis"
	"github.com/hayabusa-fifo/fifoqueue/pkg/config"
	"github.com/hayabusa-fifo/fifoqueue/pkg/fifoqueue"
	"github.com/hayabusa-fifo/fifoqueue/pkg/logger"
	"github.com/hayabusa-fifo/fifoqueue/pkg/messaging/adapters/rabbitmq"
)

// AppConfig is this process's complete environment-sourced configuration.
type AppConfig struct {
	logger.Config

	Queues []string `env:"QUEUE_NAMES" env-separator:"," env-default:"default"`
	Node   string   `env:"NODE_NAME" env-default:"node1"`
	Peers  []string `env:"PEER_PIDS" env-separator:","`

	Redis    redisConfig
	Snapshot snapshotConfig
	MQ       rabbitmq.Config
	Live     liveness.Config
}

type redisConfig struct {
	Addr string `env:"REDIS_ADDR" env-default:"127.0.0.1:6379"`
}

type snapshotConfig struct {
	Backend string `env:"SNAPSHOT_BACKEND" env-default:"local" validate:"oneof=local s3"`
	LocalDir string `env:"SNAPSHOT_LOCAL_DIR" env-default:"./data/snapshots"`
	S3       snapshot.S3Config
}

func main() {
	var cfg AppConfig
	if err := config.Load(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}

	log := logger.Init(cfg.Config)
	log.Info("queuenode starting", "node", cfg.Node, "queues", cfg.Queues)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
	defer redisClient.Close()
	dlxSink := dlx.New(redisClient, 10000, 30*24*time.Hour)

	snapStore, err := buildSnapshotStore(ctx, cfg.Snapshot)
	if err != nil {
		log.Error("failed to build snapshot store", "error", err)
		os.Exit(1)
	}

	broker, err := rabbitmq.New(cfg.MQ)
	if err != nil {
		log.Error("failed to connect to broker", "error", err)
		os.Exit(1)
	}
	defer broker.Close()
	transport := effects.NewBrokerTransport(broker)
	defer transport.Close()

	live, err := liveness.New(cfg.Live, log)
	if err != nil {
		log.Warn("liveness monitor unavailable, continuing without it", "error", err)
		live = nil
	}
	if live != nil {
		defer live.Close()
		for _, peerPid := range cfg.Peers {
			peerPid = strings.TrimSpace(peerPid)
			if peerPid != "" {
				live.Watch(peerPid)
			}
		}
		go func() {
			if err := live.Run(ctx, cfg.Node); err != nil && ctx.Err() == nil {
				log.Error("liveness monitor stopped", "error", err)
			}
		}()
	}

	locker := lockredis.New(redisClient, "queuenode:")
	defer locker.Close()

	queues := make([]*substrate.Queue, 0, len(cfg.Queues))
	for _, name := range cfg.Queues {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}

		lock, ok, err := acquireQueueLock(ctx, locker, name)
		if err != nil {
			log.Error("failed to acquire queue lock", "queue", name, "error", err)
			continue
		}
		if !ok {
			log.Warn("queue already owned by another replica, skipping", "queue", name)
			continue
		}
		go holdQueueLock(ctx, lock)
		defer lock.Release(context.Background())

		q, node := startQueue(name, dlxSink, snapStore, transport, log)
		queues = append(queues, q)
		go node.Run()
		defer node.Stop()
		go q.MonitorApply(ctx)

		if live != nil {
			go relayLiveness(ctx, live, q)
		}
	}

	log.Info("queuenode ready", "queue_count", len(queues))
	<-ctx.Done()
	log.Info("queuenode shutting down")
}

// queueLockTTL bounds how long a replica may hold a queue's lock between
// renewals before another replica is allowed to take over (e.g. after a
// crash that never reaches the deferred Release).
const queueLockTTL = 15 * time.Second

// acquireQueueLock claims exclusive ownership of name across every
// queuenode replica sharing this Redis instance, so the same queue is never
// run by two processes at once (distlock.Locker's "preventing duplicate
// processing" use case).
func acquireQueueLock(ctx context.Context, locker distlock.Locker, name string) (distlock.Lock, bool, error) {
	lock := locker.NewLock(name, queueLockTTL)
	ok, err := lock.Acquire(ctx)
	return lock, ok, err
}

// holdQueueLock renews lock at half its TTL until ctx is cancelled, keeping
// this replica's ownership alive for as long as it keeps running the
// queue's raft group.
func holdQueueLock(ctx context.Context, lock distlock.Lock) {
	ticker := time.NewTicker(queueLockTTL / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := lock.Extend(ctx, queueLockTTL); err != nil {
				slog.Default().Error("failed to extend queue lock", "error", err)
			}
		}
	}
}

func buildSnapshotStore(ctx context.Context, cfg snapshotConfig) (snapshot.Store, error) {
	switch cfg.Backend {
	case "s3":
		return snapshot.NewS3(ctx, cfg.S3)
	default:
		return snapshot.NewLocal(cfg.LocalDir)
	}
}

// startQueue wires one queue's state machine to its own single-member
// raft group and returns the substrate.Queue plus the node whose Run loop
// the caller starts. Multi-member replication requires a real Transport
// implementation (gRPC or similar) supplied by the deployment; the
// in-process loopbackTransport here intentionally only supports running
// with no peers, the valid "unreplicated" deployment mode.
func startQueue(name string, dlxSink *dlx.Sink, snapStore snapshot.Store, transport effects.Transport, log *slog.Logger) (*substrate.Queue, *raft.Node) {
	interp := effects.New(effects.Config{}, log)
	interp.Transport = transport
	interp.DLXSink = dlxSink
	interp.SnapshotStore = snapStore

	state := fifoqueue.NewState(fifoqueue.Config{Name: name, ResourceID: name})
	q := substrate.NewQueue(name, state, interp, log)

	node := raft.New(name, nil, loopbackTransport{}, q.ApplyFunc())
	q.Attach(node)
	interp.Proposer = q

	return q, node
}

// loopbackTransport satisfies raft.Transport for a single-member group,
// where RequestVote/AppendEntries are never actually invoked since there
// are no peers to call.
type loopbackTransport struct{}

func (loopbackTransport) RequestVote(string, int, string, int, int) (int, bool) { return 0, false }
func (loopbackTransport) AppendEntries(string, int, string, int, int, []raft.LogEntry, int) (int, bool) {
	return 0, false
}

func relayLiveness(ctx context.Context, live *liveness.Monitor, q *substrate.Queue) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-live.Events():
			if !ok {
				return
			}
			if cmd := liveness.ToCommand(ev); cmd != nil {
				if _, _, err := q.Propose(cmd); err != nil {
					slog.Default().Error("failed to propose liveness command", "error", err)
				}
			}
		}
	}
}
