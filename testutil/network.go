package testutil

import (
	"sync"
	"time"

	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/process"
)

// An Envelope is one in-flight message.
type Envelope struct {
	From block.Pid
	To   block.Pid
	Msg  process.Message
}

// A Handler is the part of a replica that the network delivers into.
type Handler interface {
	HandleMessage(from block.Pid, m process.Message)
	Tick(now time.Time)
}

// A Network connects replicas in-process. Sends are enqueued into one global
// FIFO and delivered by explicit pumping, so tests control interleaving and
// can drop or delay traffic per link. The zero filter delivers everything.
type Network struct {
	mu       sync.Mutex
	replicas map[block.Pid]Handler
	queue    []Envelope

	// Drop decides whether an envelope is discarded instead of delivered.
	Drop func(Envelope) bool
	// Hold decides whether an envelope stays queued for later rounds.
	Hold func(Envelope) bool
}

// NewNetwork returns an empty network.
func NewNetwork() *Network {
	return &Network{
		replicas: map[block.Pid]Handler{},
	}
}

// Register attaches a replica to the network.
func (net *Network) Register(pid block.Pid, r Handler) {
	net.mu.Lock()
	defer net.mu.Unlock()
	net.replicas[pid] = r
}

// BroadcasterFor returns the broadcaster that a process at the given pid
// should be constructed with.
func (net *Network) BroadcasterFor(from block.Pid, n int) process.Broadcaster {
	return &networkBroadcaster{net: net, from: from, n: n}
}

// Deliver pops and delivers one deliverable envelope. It returns false when
// nothing could be delivered.
func (net *Network) Deliver() bool {
	net.mu.Lock()
	var env Envelope
	found := false
	for i := range net.queue {
		if net.Hold != nil && net.Hold(net.queue[i]) {
			continue
		}
		env = net.queue[i]
		net.queue = append(net.queue[:i], net.queue[i+1:]...)
		found = true
		break
	}
	net.mu.Unlock()
	if !found {
		return false
	}
	if net.Drop != nil && net.Drop(env) {
		return true
	}
	if r, ok := net.replicas[env.To]; ok {
		r.HandleMessage(env.From, env.Msg)
	}
	return true
}

// Settle pumps the network until no envelope can be delivered or the step
// budget runs out.
func (net *Network) Settle(maxSteps int) int {
	steps := 0
	for steps < maxSteps && net.Deliver() {
		steps++
	}
	return steps
}

// Tick advances every registered replica to the given time.
func (net *Network) Tick(now time.Time) {
	net.mu.Lock()
	replicas := make([]Handler, 0, len(net.replicas))
	for _, r := range net.replicas {
		replicas = append(replicas, r)
	}
	net.mu.Unlock()
	for _, r := range replicas {
		r.Tick(now)
	}
}

// Pending returns the number of queued envelopes.
func (net *Network) Pending() int {
	net.mu.Lock()
	defer net.mu.Unlock()
	return len(net.queue)
}

type networkBroadcaster struct {
	net  *Network
	from block.Pid
	n    int
}

func (b *networkBroadcaster) Broadcast(m process.Message) {
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	for to := 0; to < b.n; to++ {
		if block.Pid(to) == b.from {
			continue
		}
		b.net.queue = append(b.net.queue, Envelope{From: b.from, To: block.Pid(to), Msg: m})
	}
}

func (b *networkBroadcaster) Cast(to block.Pid, m process.Message) {
	b.net.mu.Lock()
	defer b.net.mu.Unlock()
	b.net.queue = append(b.net.queue, Envelope{From: b.from, To: to, Msg: m})
}
