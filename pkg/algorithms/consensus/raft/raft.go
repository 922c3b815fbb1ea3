// Package raft implements a minimal single-group Raft consensus core:
// leader election, log replication, and commit-index advancement. It is
// transport-agnostic — callers supply a Transport that knows how to reach
// peers over whatever RPC mechanism the deployment uses.
package raft

import (
	"math/rand"
	"sync"
	"time"
)

// State is one of the three Raft roles a Node can be in.
type State int

const (
	Follower State = iota
	Candidate
	Leader
)

func (s State) String() string {
	switch s {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// LogEntry is one replicated log entry.
type LogEntry struct {
	Term  int
	Index int
	Data  []byte
}

// Transport is how a Node reaches its peers. Implementations translate
// these calls onto whatever wire protocol the deployment uses (gRPC, the
// Erlang-distribution-style framing a ra-like substrate would use, or an
// in-process channel for tests).
type Transport interface {
	RequestVote(peer string, term int, candidateID string, lastLogIndex int, lastLogTerm int) (peerTerm int, granted bool)
	AppendEntries(peer string, term int, leaderID string, prevLogIndex int, prevLogTerm int, entries []LogEntry, leaderCommit int) (peerTerm int, success bool)
}

const (
	minElectionTimeout = 150 * time.Millisecond
	maxElectionTimeout = 300 * time.Millisecond
	heartbeatInterval  = 50 * time.Millisecond
)

// Node is one member of a Raft group.
type Node struct {
	mu sync.Mutex

	id    string
	peers []string
	trans Transport

	// apply is invoked, in commit order, once an entry's index is known to
	// be committed by a majority.
	apply func(LogEntry)

	state       State
	currentTerm int
	votedFor    string
	log         []LogEntry
	commitIndex int
	lastApplied int

	// leader-only volatile state.
	nextIndex  map[string]int
	matchIndex map[string]int

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Node. apply may be nil if the caller only cares about
// who holds leadership (as in election-speed tests) and never proposes
// entries.
func New(id string, peers []string, trans Transport, apply func(LogEntry)) *Node {
	return &Node{
		id:          id,
		peers:       append([]string{}, peers...),
		trans:       trans,
		apply:       apply,
		state:       Follower,
		currentTerm: 0,
		nextIndex:   make(map[string]int),
		matchIndex:  make(map[string]int),
		stopCh:      make(chan struct{}),
	}
}

// State reports the node's current role.
func (n *Node) State() State {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.state
}

// Term reports the node's current term.
func (n *Node) Term() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// Run drives the node's election/heartbeat loop until Stop is called. It
// is meant to run in its own goroutine.
func (n *Node) Run() {
	n.wg.Add(1)
	defer n.wg.Done()
	for {
		select {
		case <-n.stopCh:
			return
		default:
		}

		switch n.State() {
		case Follower, Candidate:
			n.runElectionTimeout()
		case Leader:
			n.runLeader()
		}
	}
}

// Stop halts the node's background loop.
func (n *Node) Stop() {
	close(n.stopCh)
	n.wg.Wait()
}

func randomElectionTimeout() time.Duration {
	span := maxElectionTimeout - minElectionTimeout
	return minElectionTimeout + time.Duration(rand.Int63n(int64(span)))
}

// runElectionTimeout waits out a randomized timeout and then starts an
// election, unless the node is stopped first. Nothing resets the timeout:
// receiving AppendEntries or RequestVote does not postpone it.
func (n *Node) runElectionTimeout() {
	select {
	case <-time.After(randomElectionTimeout()):
		n.mu.Lock()
		n.state = Candidate
		n.mu.Unlock()
		n.runCandidate()
	case <-n.stopCh:
	}
}

// runCandidate runs one election round: increments the term, votes for
// itself, and requests votes from every peer concurrently. It becomes
// leader as soon as a majority (including itself) has granted a vote.
func (n *Node) runCandidate() {
	n.mu.Lock()
	n.currentTerm++
	term := n.currentTerm
	n.votedFor = n.id
	lastIndex, lastTerm := n.lastLogInfoLocked()
	n.mu.Unlock()

	votes := 1 // self
	var mu sync.Mutex
	var wg sync.WaitGroup
	becameLeader := make(chan struct{}, 1)

	needed := len(n.peers)/2 + 1

	for _, peer := range n.peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			peerTerm, granted := n.trans.RequestVote(peer, term, n.id, lastIndex, lastTerm)

			n.mu.Lock()
			if peerTerm > n.currentTerm {
				n.currentTerm = peerTerm
				n.state = Follower
				n.votedFor = ""
				n.mu.Unlock()
				return
			}
			stillCandidate := n.state == Candidate && n.currentTerm == term
			n.mu.Unlock()

			if !stillCandidate || !granted {
				return
			}

			mu.Lock()
			votes++
			reached := votes >= needed
			mu.Unlock()

			if reached {
				select {
				case becameLeader <- struct{}{}:
				default:
				}
			}
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-becameLeader:
	case <-done:
	case <-n.stopCh:
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state == Candidate && n.currentTerm == term && votes >= needed {
		n.becomeLeaderLocked()
	}
}

func (n *Node) becomeLeaderLocked() {
	n.state = Leader
	lastIndex := len(n.log)
	for _, peer := range n.peers {
		n.nextIndex[peer] = lastIndex + 1
		n.matchIndex[peer] = 0
	}
}

// runLeader sends one round of heartbeats/replication to every peer, then
// pauses for heartbeatInterval.
func (n *Node) runLeader() {
	n.mu.Lock()
	term := n.currentTerm
	n.mu.Unlock()

	var wg sync.WaitGroup
	for _, peer := range n.peers {
		peer := peer
		wg.Add(1)
		go func() {
			defer wg.Done()
			n.replicateTo(peer, term)
		}()
	}
	wg.Wait()

	n.advanceCommitIndex()

	select {
	case <-time.After(heartbeatInterval):
	case <-n.stopCh:
	}
}

func (n *Node) replicateTo(peer string, term int) {
	n.mu.Lock()
	if n.state != Leader || n.currentTerm != term {
		n.mu.Unlock()
		return
	}
	next := n.nextIndex[peer]
	if next < 1 {
		next = 1
	}
	prevIndex := next - 1
	prevTerm := 0
	if prevIndex >= 1 && prevIndex <= len(n.log) {
		prevTerm = n.log[prevIndex-1].Term
	}
	var entries []LogEntry
	if next-1 < len(n.log) {
		entries = append(entries, n.log[next-1:]...)
	}
	leaderCommit := n.commitIndex
	n.mu.Unlock()

	peerTerm, success := n.trans.AppendEntries(peer, term, n.id, prevIndex, prevTerm, entries, leaderCommit)

	n.mu.Lock()
	defer n.mu.Unlock()
	if peerTerm > n.currentTerm {
		n.currentTerm = peerTerm
		n.state = Follower
		n.votedFor = ""
		return
	}
	if n.state != Leader || n.currentTerm != term {
		return
	}
	if success {
		n.matchIndex[peer] = prevIndex + len(entries)
		n.nextIndex[peer] = n.matchIndex[peer] + 1
	} else if n.nextIndex[peer] > 1 {
		n.nextIndex[peer]--
	}
}

// advanceCommitIndex applies the Raft commit rule: an index is committed
// once it is replicated to a majority AND was appended during the current
// term.
func (n *Node) advanceCommitIndex() {
	n.mu.Lock()
	if n.state != Leader {
		n.mu.Unlock()
		return
	}
	needed := len(n.peers)/2 + 1
	for idx := len(n.log); idx > n.commitIndex; idx-- {
		if n.log[idx-1].Term != n.currentTerm {
			continue
		}
		count := 1
		for _, peer := range n.peers {
			if n.matchIndex[peer] >= idx {
				count++
			}
		}
		if count >= needed {
			n.commitIndex = idx
			break
		}
	}
	toApply := n.commitApply()
	n.mu.Unlock()

	for _, entry := range toApply {
		if n.apply != nil {
			n.apply(entry)
		}
	}
}

// commitApply collects newly-committed entries under the lock and
// advances lastApplied; callers invoke n.apply on the result outside the
// lock.
func (n *Node) commitApply() []LogEntry {
	var out []LogEntry
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		out = append(out, n.log[n.lastApplied-1])
	}
	return out
}

// Propose appends data as a new log entry if this node is currently
// leader, returning the entry's index. It does not block for the entry to
// commit; callers that need that can poll CommitIndex.
func (n *Node) Propose(data []byte) (index int, term int, isLeader bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.state != Leader {
		return 0, n.currentTerm, false
	}
	entry := LogEntry{Term: n.currentTerm, Index: len(n.log) + 1, Data: data}
	n.log = append(n.log, entry)
	return entry.Index, n.currentTerm, true
}

// CommitIndex reports the highest log index known to be committed.
func (n *Node) CommitIndex() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

func (n *Node) lastLogInfoLocked() (index int, term int) {
	if len(n.log) == 0 {
		return 0, 0
	}
	last := n.log[len(n.log)-1]
	return last.Index, last.Term
}

// HandleRequestVote is the inbound RPC handler a Transport's server side
// calls when a peer requests this node's vote.
func (n *Node) HandleRequestVote(term int, candidateID string, lastLogIndex int, lastLogTerm int) (peerTerm int, granted bool) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if term < n.currentTerm {
		return n.currentTerm, false
	}
	if term > n.currentTerm {
		n.currentTerm = term
		n.state = Follower
		n.votedFor = ""
	}

	myIndex, myTerm := n.lastLogInfoLocked()
	upToDate := lastLogTerm > myTerm || (lastLogTerm == myTerm && lastLogIndex >= myIndex)

	if (n.votedFor == "" || n.votedFor == candidateID) && upToDate {
		n.votedFor = candidateID
		return n.currentTerm, true
	}
	return n.currentTerm, false
}

// HandleAppendEntries is the inbound RPC handler for AppendEntries/heartbeats.
func (n *Node) HandleAppendEntries(term int, leaderID string, prevLogIndex int, prevLogTerm int, entries []LogEntry, leaderCommit int) (peerTerm int, success bool) {
	n.mu.Lock()

	if term < n.currentTerm {
		n.mu.Unlock()
		return n.currentTerm, false
	}
	n.currentTerm = term
	n.state = Follower
	n.votedFor = leaderID

	if prevLogIndex > 0 {
		if prevLogIndex > len(n.log) || n.log[prevLogIndex-1].Term != prevLogTerm {
			n.mu.Unlock()
			return n.currentTerm, false
		}
	}

	n.log = append(n.log[:prevLogIndex], entries...)

	if leaderCommit > n.commitIndex {
		if leaderCommit < len(n.log) {
			n.commitIndex = leaderCommit
		} else {
			n.commitIndex = len(n.log)
		}
	}
	toApply := n.commitApply()
	n.mu.Unlock()

	for _, entry := range toApply {
		if n.apply != nil {
			n.apply(entry)
		}
	}
	return n.currentTerm, true
}
