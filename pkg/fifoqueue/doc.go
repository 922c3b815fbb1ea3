// Package fifoqueue implements the deterministic state machine of a single
// replicated FIFO message queue: the per-queue logic that a Raft-like
// consensus group executes identically on every replica.
//
// Apply is the core entry point: given metadata supplied by the
// replication substrate (log index, wall-clock time, publisher pid) and
// a Command decoded from the log, it mutates a State in place and returns
// a Reply for the caller plus a list of Effects for the substrate to carry
// out. Apply never reads the wall clock, never generates randomness, and
// never blocks — every time-dependent decision is driven by meta.SystemTime,
// so replicas that apply the same command log end up byte-for-byte
// identical.
//
// The replication layer itself (log replication, leader election, snapshot
// transport, network I/O) is not part of this package; see internal/substrate
// for a reference wiring on top of a Raft-like log.
package fifoqueue
