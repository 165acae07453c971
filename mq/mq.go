// Package mq implements the bounded inbound queues that sit between the
// transport and the transition engine. Every sender, identified by its pid,
// has its own dedicated queue with its own dedicated maximum capacity, so an
// adversary sending messages "from the far future" can fill only its own
// queue, never another sender's. Queues keep messages sorted by
// view, so that when they drain into the engine, view-advancing artifacts
// are seen in order. MessageQueues do not handle de-duplication, and are not
// safe for concurrent use.
package mq

import (
	"fmt"
	"sort"

	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/process"
)

// A MessageQueue buffers inbound messages per sender until the engine drains
// them between fixpoint iterations.
type MessageQueue struct {
	opts        Options
	queuesByPid map[block.Pid][]process.Message
}

// New returns an empty MessageQueue.
func New(opts Options) MessageQueue {
	return MessageQueue{
		opts:        opts,
		queuesByPid: make(map[block.Pid][]process.Message),
	}
}

// Insert a message received from the given sender. This method assumes that
// the sender has already been authenticated and filtered.
func (mq *MessageQueue) Insert(from block.Pid, msg process.Message) {
	q := mq.queuesByPid[from]

	msgView := view(msg)
	insertAt := sort.Search(len(q), func(i int) bool {
		return view(q[i]) > msgView
	})

	q = append(q, nil)
	copy(q[insertAt+1:], q[insertAt:])
	q[insertAt] = msg

	// Drop excess elements beyond the per-sender capacity. This protects
	// against adversaries that might seek to cause an OOM.
	if len(q) > mq.opts.MaxCapacity {
		q = q[:mq.opts.MaxCapacity]
	}
	mq.queuesByPid[from] = q
}

// Consume every queued message, invoking the callback for each one in view
// order per sender. All consumed messages are dropped from the queue.
func (mq *MessageQueue) Consume(handle func(process.Message)) (n int) {
	for from, q := range mq.queuesByPid {
		for _, msg := range q {
			handle(msg)
			n++
		}
		delete(mq.queuesByPid, from)
	}
	return
}

// Len returns the number of queued messages across all senders.
func (mq *MessageQueue) Len() int {
	n := 0
	for _, q := range mq.queuesByPid {
		n += len(q)
	}
	return n
}

func view(msg process.Message) block.View {
	switch msg := msg.(type) {
	case process.BlockMessage:
		return msg.Block.View
	case process.VoteMessage:
		return msg.Vote.View
	case process.QCMessage:
		return msg.QC.View
	case process.ViewMessageMessage:
		return msg.ViewMessage.View
	case process.EndViewMessage:
		return msg.EndView.View
	case process.ViewCertMessage:
		return msg.ViewCert.View
	default:
		panic(fmt.Errorf("non-exhaustive pattern: %T", msg))
	}
}
