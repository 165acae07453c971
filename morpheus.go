// Package morpheus implements a Byzantine fault tolerant state machine
// replication engine. A fixed set of n processes replicates a totally
// ordered log of transactions while tolerating up to f < n/3 faults under
// partial synchrony. The engine morphs between a leaderless low-throughput
// path, in which transaction blocks finalize directly through two rounds of
// all-to-all voting, and a leader-based path, in which a view leader issues
// leader blocks that order competing transaction blocks; both paths share
// one view and voting substrate.
package morpheus

import (
	"time"

	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/process"
	"github.com/renproject/morpheus/replica"
	"github.com/renproject/morpheus/sig"
)

type (
	Kind         = block.Kind
	View         = block.View
	Height       = block.Height
	Slot         = block.Slot
	Pid          = block.Pid
	Transaction  = block.Transaction
	Transactions = block.Transactions
	Block        = block.Block
	Vote         = block.Vote
	VoteData     = block.VoteData
	QC           = block.QC
	ViewMessage  = block.ViewMessage
	EndView      = block.EndView
	ViewCert     = block.ViewCert
	Message      = process.Message
	Broadcaster  = process.Broadcaster
	Observer     = process.Observer
	Catcher      = process.Catcher
	State        = process.State
	Process      = process.Process
	Members      = sig.Members
	Signer       = sig.Signer
	Options      = replica.Options
	Journal      = replica.Journal
	Receipt      = replica.Receipt
	Replica      = replica.Replica
	Replicas     = replica.Replicas
)

// Morpheus drives one Replica: the host hands it inbound messages and
// transactions, and reads back the committed log.
type Morpheus interface {
	Start()
	Run(done <-chan struct{})
	HandleMessage(from Pid, m Message)
	Tick(now time.Time)
	SubmitTransaction(tx Transaction) Receipt
	CommittedPrefix() Transactions
	SubscribeCommits(callback func(Transactions))
	CurrentView() View
}

type morpheus struct {
	replica *Replica
}

// New Morpheus.
func New(options Options, whoami Pid, members Members, signer Signer, journal Journal, broadcaster Broadcaster, observer Observer, catcher Catcher) Morpheus {
	return &morpheus{
		replica: replica.New(options, whoami, members, signer, journal, broadcaster, observer, catcher),
	}
}

func (m *morpheus) Start() {
	m.replica.Start()
}

func (m *morpheus) Run(done <-chan struct{}) {
	m.replica.Run(done)
}

func (m *morpheus) HandleMessage(from Pid, msg Message) {
	m.replica.HandleMessage(from, msg)
}

func (m *morpheus) Tick(now time.Time) {
	m.replica.Tick(now)
}

func (m *morpheus) CurrentView() View {
	return m.replica.CurrentView()
}

func (m *morpheus) SubmitTransaction(tx Transaction) Receipt {
	return m.replica.SubmitTransaction(tx)
}

func (m *morpheus) CommittedPrefix() Transactions {
	return m.replica.CommittedPrefix()
}

func (m *morpheus) SubscribeCommits(callback func(Transactions)) {
	m.replica.SubscribeCommits(callback)
}
