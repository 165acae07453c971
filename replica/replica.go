// Package replica binds one consensus process to its host: it authenticates
// and de-duplicates inbound messages, buffers them through bounded per-sender
// queues, journals everything the process must survive a restart with, feeds
// application payloads into block production, and surfaces the committed
// transaction log.
package replica

import (
	"fmt"
	"sync"
	"time"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/mq"
	"github.com/renproject/morpheus/order"
	"github.com/renproject/morpheus/process"
	"github.com/renproject/morpheus/quorum"
	"github.com/renproject/morpheus/scheduler"
	"github.com/renproject/morpheus/sig"
	"github.com/renproject/morpheus/store"
	"github.com/renproject/morpheus/timer"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/sha3"
)

// A Journal persists everything a process must reload before enabling any
// rule after a restart: its state, and the monotone sets of blocks and QCs
// in its store. Appends must be idempotent by content, because restarts
// replay the journal through the store, which re-records what it re-ingests.
type Journal interface {
	SaveState(*process.State)
	RestoreState(*process.State)
	AppendBlock(block.Block)
	AppendQC(block.QC)
	Blocks() block.Blocks
	QCs() block.QCs
}

// A Receipt acknowledges a submitted transaction.
type Receipt struct {
	TxHash id.Hash
}

// Options define a set of properties that can be used to parameterise the
// replica and its behaviour.
type Options struct {
	// Logging.
	Logger logrus.FieldLogger

	// Delta is the synchrony bound assumed by the view timers.
	Delta time.Duration

	// MaxMessageQueueSize is the per-sender capacity of the inbound queue.
	MaxMessageQueueSize int

	// BatchSize bounds how many queued transactions go into one block.
	BatchSize int

	// Clock supplies local timestamps.
	Clock timer.Clock

	// FastPathVotes broadcasts 0-votes instead of sending them to authors.
	FastPathVotes bool

	// DebugChecks enables the engine's invariant checker.
	DebugChecks bool
}

func (options *Options) setZerosToDefaults() {
	if options.Logger == nil {
		options.Logger = logrus.StandardLogger()
	}
	if options.Delta == time.Duration(0) {
		options.Delta = timer.DefaultDelta
	}
	if options.MaxMessageQueueSize == 0 {
		options.MaxMessageQueueSize = 512
	}
	if options.BatchSize == 0 {
		options.BatchSize = 64
	}
	if options.Clock == nil {
		options.Clock = timer.SystemClock{}
	}
}

// Replicas defines a wrapper type around the []*Replica type.
type Replicas []*Replica

// A Replica owns one Process and serialises all access to it. It is safe for
// concurrent use by the transport, the timer, and the application.
type Replica struct {
	options Options
	mu      *sync.Mutex

	whoami    block.Pid
	store     *store.Store
	p         *process.Process
	viewTimer *timer.ViewTimer
	journal   Journal

	messageQueue mq.MessageQueue
	seen         map[id.Hash]bool

	payloads block.Transactions

	committed   int
	subscribers []func(block.Transactions)
}

// New returns a Replica wired to the journal. The process is restored from
// the journal by Start, which must be called before messages are handled.
func New(options Options, whoami block.Pid, members sig.Members, signer sig.Signer, journal Journal, broadcaster process.Broadcaster, observer process.Observer, catcher process.Catcher) *Replica {
	options.setZerosToDefaults()
	n := len(members)
	if n < 4 {
		panic(fmt.Errorf("invariant violation: need at least 4 processes, got %v", n))
	}
	f := (n - 1) / 3

	replica := &Replica{
		options: options,
		mu:      new(sync.Mutex),

		whoami:  whoami,
		journal: journal,

		messageQueue: mq.New(mq.DefaultOptions().WithMaxCapacity(options.MaxMessageQueueSize)),
		seen:         map[id.Hash]bool{},

		payloads: block.Transactions{},
	}

	st := store.New(store.DefaultOptions().
		WithLogger(options.Logger).
		WithRecorder(journalRecorder{journal: journal}))
	agg := quorum.New(quorum.DefaultOptions().WithLogger(options.Logger), n, f)
	viewTimer := timer.NewViewTimer(timer.DefaultOptions().WithDelta(options.Delta))
	sched := scheduler.NewRoundRobin(n)

	p := process.New(
		process.DefaultOptions().
			WithFastPathVotes(options.FastPathVotes).
			WithDebugChecks(options.DebugChecks),
		whoami,
		n, f,
		members,
		signer,
		sched,
		st,
		agg,
		viewTimer,
		journalSaveRestorer{journal: journal},
		broadcaster,
		(*payloadSource)(replica),
		observer,
		catcher,
	)

	replica.store = st
	replica.p = p
	replica.viewTimer = viewTimer
	return replica
}

// Start restores the journal and runs the engine once. The journal is
// replayed through the message handler, so any voting opportunity that was
// received but not yet acted on before the crash is re-evaluated; the
// restored state guarantees that nothing already voted or produced is
// repeated.
func (replica *Replica) Start() {
	replica.mu.Lock()
	defer replica.mu.Unlock()

	replica.p.Restore()
	for _, qc := range replica.journal.QCs() {
		replica.p.HandleMessage(process.QCMessage{QC: qc})
	}
	for _, b := range replica.journal.Blocks() {
		replica.p.HandleMessage(process.BlockMessage{Block: b})
	}
	replica.p.Start(replica.options.Clock.Now())
	replica.p.Save()
	replica.notifyCommits()
}

// HandleMessage is the entry point for messages arriving from the transport.
// Duplicates are suppressed by content hash; fresh messages are buffered in
// the per-sender queue and drained into the engine.
func (replica *Replica) HandleMessage(from block.Pid, m process.Message) {
	replica.mu.Lock()
	defer replica.mu.Unlock()

	hash := m.Hash()
	if replica.seen[hash] {
		return
	}
	replica.seen[hash] = true

	replica.messageQueue.Insert(from, m)
	replica.flush()
}

// Tick drives the view-local timeout rules. Hosts call it at the timer's
// resolution, or use Run to let the replica drive itself.
func (replica *Replica) Tick(now time.Time) {
	replica.mu.Lock()
	defer replica.mu.Unlock()

	replica.p.Tick(now)
	replica.p.Save()
	replica.notifyCommits()
}

// Run starts the replica and drives its clock until the done channel closes.
func (replica *Replica) Run(done <-chan struct{}) {
	replica.Start()
	replica.viewTimer.Ticks(done, replica.Tick)
}

// SubmitTransaction appends an application payload to the queue feeding
// local block production.
func (replica *Replica) SubmitTransaction(tx block.Transaction) Receipt {
	replica.mu.Lock()
	defer replica.mu.Unlock()

	replica.payloads = append(replica.payloads, tx)
	replica.p.Tick(replica.options.Clock.Now())
	replica.p.Save()
	replica.notifyCommits()
	return Receipt{TxHash: sha3.Sum256(tx)}
}

// CommittedPrefix returns the committed transaction sequence extracted from
// the current store. It extends monotonically across calls.
func (replica *Replica) CommittedPrefix() block.Transactions {
	replica.mu.Lock()
	defer replica.mu.Unlock()

	return order.Committed(replica.store)
}

// SubscribeCommits registers a callback invoked with the full committed
// prefix whenever it strictly extends.
func (replica *Replica) SubscribeCommits(callback func(block.Transactions)) {
	replica.mu.Lock()
	defer replica.mu.Unlock()

	replica.subscribers = append(replica.subscribers, callback)
}

// CurrentView of the underlying process.
func (replica *Replica) CurrentView() block.View {
	replica.mu.Lock()
	defer replica.mu.Unlock()

	return replica.p.CurrentView()
}

func (replica *Replica) flush() {
	replica.messageQueue.Consume(replica.p.HandleMessage)
	replica.p.Save()
	replica.notifyCommits()
}

func (replica *Replica) notifyCommits() {
	prefix := order.Committed(replica.store)
	if len(prefix) <= replica.committed {
		return
	}
	replica.committed = len(prefix)
	for _, callback := range replica.subscribers {
		callback(prefix)
	}
}

// payloadSource adapts the replica's transaction queue to the engine's
// payload interface.
type payloadSource Replica

func (src *payloadSource) Ready() bool {
	return len(src.payloads) > 0
}

func (src *payloadSource) Next() block.Transactions {
	batch := src.payloads
	if len(batch) > src.options.BatchSize {
		batch = batch[:src.options.BatchSize]
	}
	next := make(block.Transactions, len(batch))
	copy(next, batch)
	src.payloads = src.payloads[len(batch):]
	return next
}

type journalRecorder struct {
	journal Journal
}

func (r journalRecorder) RecordBlock(b block.Block) {
	r.journal.AppendBlock(b)
}

func (r journalRecorder) RecordQC(qc block.QC) {
	r.journal.AppendQC(qc)
}

type journalSaveRestorer struct {
	journal Journal
}

func (sr journalSaveRestorer) Save(state *process.State) {
	sr.journal.SaveState(state)
}

func (sr journalSaveRestorer) Restore(state *process.State) {
	sr.journal.RestoreState(state)
}
