// Package dlx is the durable side of a queue's dead-letter handling. The
// pure core (pkg/fifoqueue) only ever tracks dead letters in memory, as
// part of State.DLX — it cannot perform I/O. Sink persists the
// fifoqueue.DeadLetterEffect the core emits each time it dead-letters a
// message, so operators can inspect or replay them outside the replicated
// log.
package dlx

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/hayabusa-fifo/fifoqueue/pkg/errors"
	"github.com/hayabusa-fifo/fifoqueue/pkg/fifoqueue"
	"github.com/redis/go-redis/v9"
)

// Error codes for the dlx package.
const (
	CodePersistFailed = "DLX_PERSIST_FAILED"
	CodeListFailed    = "DLX_LIST_FAILED"
)

func errPersistFailed(err error) *errors.AppError {
	return errors.New(CodePersistFailed, "failed to persist dead letter", err)
}

func errListFailed(err error) *errors.AppError {
	return errors.New(CodeListFailed, "failed to list dead letters", err)
}

// record is the JSON-serializable shape a dead letter is stored as.
type record struct {
	Reason    fifoqueue.DeadLetterReason `json:"reason"`
	Index     uint64                     `json:"index"`
	SizeBytes uint32                     `json:"size_bytes"`
	StoredAt  int64                      `json:"stored_at_ms"`
}

// Sink persists dead letters to Redis, one capped list per queue, trimmed
// to MaxEntries so a pathologically bursty queue can't grow it unbounded.
type Sink struct {
	client     redis.Cmdable
	maxEntries int64
	ttl        time.Duration
}

// New returns a Sink backed by client. maxEntries <= 0 defaults to 10000;
// ttl <= 0 means entries never expire on their own.
func New(client redis.Cmdable, maxEntries int64, ttl time.Duration) *Sink {
	if maxEntries <= 0 {
		maxEntries = 10000
	}
	return &Sink{client: client, maxEntries: maxEntries, ttl: ttl}
}

func (s *Sink) key(queueName string) string {
	return fmt.Sprintf("fifoqueue:dlx:%s", queueName)
}

// Persist records a single dead-letter effect, capturing storedAt as the
// wall-clock time the effect was interpreted (never the machine's
// SystemTime, which belongs only to the replicated log).
func (s *Sink) Persist(ctx context.Context, storedAt time.Time, effect fifoqueue.DeadLetterEffect) error {
	rec := record{
		Reason:    effect.Entry.Reason,
		Index:     uint64(effect.Entry.Ref.Index),
		SizeBytes: effect.Entry.Ref.Header.SizeBytes,
		StoredAt:  storedAt.UnixMilli(),
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		return errPersistFailed(err)
	}

	key := s.key(effect.QueueName)
	pipe := s.client.Pipeline()
	pipe.LPush(ctx, key, payload)
	pipe.LTrim(ctx, key, 0, s.maxEntries-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errPersistFailed(err)
	}
	return nil
}

// List returns up to limit of the most recently dead-lettered entries for
// queueName, newest first.
func (s *Sink) List(ctx context.Context, queueName string, limit int64) ([]fifoqueue.DeadLetterEntry, error) {
	raw, err := s.client.LRange(ctx, s.key(queueName), 0, limit-1).Result()
	if err != nil {
		return nil, errListFailed(err)
	}

	entries := make([]fifoqueue.DeadLetterEntry, 0, len(raw))
	for _, item := range raw {
		var rec record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			continue
		}
		entries = append(entries, fifoqueue.DeadLetterEntry{
			Reason: rec.Reason,
			Ref: fifoqueue.MsgRef{
				Index:  fifoqueue.LogIndex(rec.Index),
				Header: fifoqueue.Header{SizeBytes: rec.SizeBytes},
			},
		})
	}
	return entries, nil
}

// Count reports how many dead letters are currently retained for
// queueName.
func (s *Sink) Count(ctx context.Context, queueName string) (int64, error) {
	n, err := s.client.LLen(ctx, s.key(queueName)).Result()
	if err != nil {
		return 0, errListFailed(err)
	}
	return n, nil
}
