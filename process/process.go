// Package process implements the per-process consensus state machine of the
// Morpheus protocol: validation of inbound artifacts, the ordered transition
// rules that vote, produce blocks, and drive view changes, and the local
// state that makes those rules computable incrementally.
//
// A Process is a deterministic automaton that communicates with other
// Processes to implement a Byzantine fault tolerant replicated state
// machine. It is intended to be used as part of a larger component that
// handles transport, authentication, and persistence.
//
// Processes are not safe for concurrent use. All methods must be called by
// the same goroutine that allocates and starts the Process.
package process

import (
	"fmt"
	"io"
	"time"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/quorum"
	"github.com/renproject/morpheus/scheduler"
	"github.com/renproject/morpheus/sig"
	"github.com/renproject/morpheus/store"
	"github.com/renproject/morpheus/timer"
	"github.com/sirupsen/logrus"
)

// A Broadcaster is used to send messages to one or all processes in the
// network. It is assumed that all messages between correct processes are
// eventually delivered, and that per-sender order is preserved after GST; no
// other ordering is assumed. Messages that a process sends to itself do not
// pass through the Broadcaster.
type Broadcaster interface {
	Broadcast(Message)
	Cast(block.Pid, Message)
}

// A PayloadSource supplies the transactions that go into locally produced
// transaction blocks. Ready reports whether a payload is waiting; Next
// drains it. Next must return a non-empty batch whenever Ready is true.
type PayloadSource interface {
	Ready() bool
	Next() block.Transactions
}

// An Observer is notified when note-worthy events happen for the first
// time.
type Observer interface {
	DidAdvanceView(block.View)
	DidFinalizeBlock(id.Hash)
}

// A Catcher is used to catch equivocation: two valid blocks signed by one
// author for the same kind and slot. The core records the evidence and takes
// no further action.
type Catcher interface {
	CatchDoubleBlock(first, second block.Block)
}

// Options define a set of properties that can be used to parameterise the
// process and its behaviour.
type Options struct {
	// Logging.
	Logger logrus.FieldLogger

	// FastPathVotes broadcasts 0-votes to all processes instead of sending
	// them to the block author only.
	FastPathVotes bool

	// DebugChecks cross-checks the derived indices against their defining
	// relations after every transition. Expensive; for tests and debug
	// deployments only.
	DebugChecks bool
}

// DefaultOptions returns the default process options.
func DefaultOptions() Options {
	return Options{
		Logger: loggerWithFields(logrus.New()),
	}
}

// WithLogLevel updates the log level of the process's logger.
func (opts Options) WithLogLevel(level logrus.Level) Options {
	logger := logrus.New()
	logger.SetLevel(level)
	opts.Logger = loggerWithFields(logger)
	return opts
}

// WithLogOutput updates where the process's logger will log data to.
func (opts Options) WithLogOutput(output io.Writer) Options {
	logger := logrus.New()
	logger.SetOutput(output)
	opts.Logger = loggerWithFields(logger)
	return opts
}

// WithFastPathVotes updates the 0-vote fast-path flag.
func (opts Options) WithFastPathVotes(enabled bool) Options {
	opts.FastPathVotes = enabled
	return opts
}

// WithDebugChecks updates the invariant-checking flag.
func (opts Options) WithDebugChecks(enabled bool) Options {
	opts.DebugChecks = enabled
	return opts
}

func loggerWithFields(logger *logrus.Logger) logrus.FieldLogger {
	return logger.
		WithField("lib", "morpheus").
		WithField("pkg", "process")
}

// Processes defines a wrapper type around the []*Process type.
type Processes []*Process

// A Process is one participant in the replicated state machine. It owns its
// store and aggregator exclusively, and it mutates them only inside the
// ordered transition rules.
type Process struct {
	opts Options

	whoami  block.Pid
	n, f    int
	members sig.Members

	signer       sig.Signer
	scheduler    scheduler.Scheduler
	store        *store.Store
	agg          *quorum.Aggregator
	validator    *Validator
	viewTimer    *timer.ViewTimer
	saveRestorer SaveRestorer
	broadcaster  Broadcaster
	payloads     PayloadSource
	observer     Observer
	catcher      Catcher

	state State
	now   time.Time

	// inbox holds self-delivered artifacts awaiting ingestion; it is drained
	// at the top of every fixpoint iteration.
	inbox []Message

	finalizeNotified map[id.Hash]bool

	// Work-lists feeding the voting rules. Entries are discarded when voted
	// or when their view has passed.
	pendingZeroVotes []id.Hash
	pendingZeroQCs   []block.QC
	pendingLeadOne   []id.Hash
	pendingTrOne     []id.Hash
	pendingLeadTwo   []block.VoteData
	pendingTrTwo     []block.VoteData
}

// New returns a Process in the default state. Restore must be called before
// the first message is handled if a journal exists.
func New(opts Options, whoami block.Pid, n, f int, members sig.Members, signer sig.Signer, sched scheduler.Scheduler, st *store.Store, agg *quorum.Aggregator, viewTimer *timer.ViewTimer, saveRestorer SaveRestorer, broadcaster Broadcaster, payloads PayloadSource, observer Observer, catcher Catcher) *Process {
	if opts.Logger == nil {
		opts.Logger = loggerWithFields(logrus.New())
	}
	if n < 4 || f != (n-1)/3 {
		panic(fmt.Errorf("invariant violation: need n >= 4 and f = (n-1)/3, got n=%v f=%v", n, f))
	}
	if len(members) != n {
		panic(fmt.Errorf("invariant violation: expected %v members, got %v", n, len(members)))
	}
	return &Process{
		opts: opts,

		whoami:  whoami,
		n:       n,
		f:       f,
		members: members,

		signer:       signer,
		scheduler:    sched,
		store:        st,
		agg:          agg,
		validator:    NewValidator(members, sched, n, f),
		viewTimer:    viewTimer,
		saveRestorer: saveRestorer,
		broadcaster:  broadcaster,
		payloads:     payloads,
		observer:     observer,
		catcher:      catcher,

		state:            DefaultState(),
		finalizeNotified: map[id.Hash]bool{},
	}
}

// Pid of this process.
func (p *Process) Pid() block.Pid {
	return p.whoami
}

// CurrentView of this process.
func (p *Process) CurrentView() block.View {
	return p.state.CurrentView
}

// CurrentPhase of the current view.
func (p *Process) CurrentPhase() Phase {
	return p.state.Phase(p.state.CurrentView)
}

// State returns a copy of the process state.
func (p *Process) State() State {
	return p.state.Clone()
}

// Store returns the indexed store owned by this process. Callers outside the
// engine must treat it as read-only.
func (p *Process) Store() *store.Store {
	return p.store
}

// Save the process state using the save-restorer.
func (p *Process) Save() {
	if p.saveRestorer != nil {
		p.saveRestorer.Save(&p.state)
	}
}

// Restore the process state using the save-restorer. Recovery is satisfied
// by loading the journal before enabling any rule: a restored process will
// not re-vote or re-produce in a way that contradicts its journal.
func (p *Process) Restore() {
	if p.saveRestorer != nil {
		p.saveRestorer.Restore(&p.state)
	}
}

// Start the process at the given local time. The process introduces itself
// to the leader of its current view, so that the leader can justify its
// first leader block; the fixpoint is then run once so that a leader can
// begin producing immediately.
func (p *Process) Start(now time.Time) {
	p.now = now
	if p.state.ViewEnteredAt.IsZero() {
		p.state.ViewEnteredAt = now
	}
	v := p.state.CurrentView
	vm := block.ViewMessage{
		View:     v,
		MaxOneQC: p.store.Greatest1QC(),
		Signer:   p.whoami,
	}
	signature, err := p.signer.Sign(vm.SigHash())
	if err != nil {
		p.opts.Logger.Warnf("signing view message: %v", err)
	} else {
		vm.Signature = signature
		p.cast(p.scheduler.Leader(v), ViewMessageMessage{ViewMessage: vm})
	}
	p.step()
}

// HandleMessage is the entry point for inbound artifacts. Invalid artifacts
// are dropped silently; valid ones are ingested and the transition rules are
// re-run to fixpoint.
func (p *Process) HandleMessage(m Message) {
	if err := p.validator.ValidateMessage(m); err != nil {
		p.opts.Logger.Warnf("dropping message: %v", err)
		return
	}
	p.inbox = append(p.inbox, m)
	p.step()
}

// Tick advances the process's notion of local time and re-runs the
// transition rules, enabling the view-local timeout rules.
func (p *Process) Tick(now time.Time) {
	if now.After(p.now) {
		p.now = now
	}
	p.step()
}

// step executes the enabled-rule fixpoint: ingestion first, then repeatedly
// the first enabled rule, until no rule is enabled. Rule order is
// semantically significant.
func (p *Process) step() {
	for {
		p.drainInbox()
		switch {
		case p.trySynthesizeViewCert():
		case p.tryAdvanceView():
		case p.tryZeroVote():
		case p.tryEmitZeroQC():
		case p.tryProduceTransactionBlock():
		case p.tryProduceLeaderBlock():
		case p.tryTransactionVotes():
		case p.tryLeaderVotes():
		case p.tryComplain():
		default:
			if len(p.inbox) == 0 {
				if p.opts.DebugChecks {
					if violations := p.CheckInvariants(); len(violations) > 0 {
						panic(fmt.Errorf("invariant violation: %v", violations))
					}
				}
				return
			}
		}
	}
}

// drainInbox ingests every self-delivered or validated artifact queued for
// the store and aggregator. Ingestion is not a rule: it models the automatic
// update of the received-message set.
func (p *Process) drainInbox() {
	for len(p.inbox) > 0 {
		m := p.inbox[0]
		p.inbox = p.inbox[1:]
		p.ingest(m)
	}
}

func (p *Process) ingest(m Message) {
	switch m := m.(type) {
	case BlockMessage:
		p.ingestBlock(m.Block)
	case VoteMessage:
		p.ingestVote(m.Vote)
	case QCMessage:
		p.ingestQC(m.QC)
	case ViewMessageMessage:
		p.ingestQC(m.ViewMessage.MaxOneQC)
		p.store.AddViewMessage(m.ViewMessage)
	case EndViewMessage:
		p.agg.InsertEndView(m.EndView)
	case ViewCertMessage:
		p.store.IngestViewCert(m.ViewCert)
	default:
		panic(fmt.Errorf("non-exhaustive pattern: %T", m))
	}
}

func (p *Process) ingestBlock(b block.Block) {
	added, newQCs, equiv := p.store.IngestBlock(b)
	if !added {
		return
	}
	hash := b.Hash()
	p.pendingZeroVotes = append(p.pendingZeroVotes, hash)
	switch b.Kind {
	case block.KindLeader:
		p.pendingLeadOne = append(p.pendingLeadOne, hash)
	case block.KindTransaction:
		p.pendingTrOne = append(p.pendingTrOne, hash)
	}
	for i := range newQCs {
		p.noteQC(newQCs[i])
	}
	if equiv != nil {
		p.opts.Logger.Warnf("equivocation evidence: %v", equiv.Key)
		if p.catcher != nil {
			first, _ := p.store.Block(equiv.FirstHash)
			second, _ := p.store.Block(equiv.SecondHash)
			p.catcher.CatchDoubleBlock(first, second)
		}
	}
}

func (p *Process) ingestVote(v block.Vote) {
	fresh, qc, formed := p.agg.InsertVote(v)
	if !fresh {
		return
	}
	if formed {
		// The synthesised QC is looped back as store ingestion.
		p.inbox = append(p.inbox, QCMessage{QC: qc})
	}
}

func (p *Process) ingestQC(qc block.QC) {
	if p.store.IngestQC(qc) {
		p.noteQC(qc)
	}
}

// noteQC feeds the work-lists that depend on fresh QCs: 2-vote candidates
// for fresh 1-QCs, and the one-time 0-QC broadcast for own blocks.
func (p *Process) noteQC(qc block.QC) {
	if qc.Level == 1 {
		switch qc.Kind {
		case block.KindLeader:
			p.pendingLeadTwo = append(p.pendingLeadTwo, qc.VoteData)
		case block.KindTransaction:
			p.pendingTrTwo = append(p.pendingTrTwo, qc.VoteData)
		}
	}
	if qc.Level == 0 && qc.Author == p.whoami && !p.state.ZeroQCsSent[qc.BlockHash] {
		p.pendingZeroQCs = append(p.pendingZeroQCs, qc)
	}
	if p.observer != nil && p.store.IsFinalized(qc.VoteData) && !p.finalizeNotified[qc.BlockHash] {
		p.finalizeNotified[qc.BlockHash] = true
		p.observer.DidFinalizeBlock(qc.BlockHash)
	}
}

// If f+1 end-view messages are held for some greatest view not below the
// current one, combine them into a certificate for the next view and
// broadcast it.
func (p *Process) trySynthesizeViewCert() bool {
	view, ok := p.agg.MaxEndViewQuorum(p.state.CurrentView)
	if !ok {
		return false
	}
	cert := p.agg.MakeViewCert(view)
	p.opts.Logger.Debugf("synthesized view certificate: view=%v", cert.View)
	p.broadcast(ViewCertMessage{ViewCert: cert})
	return true
}

// Advance to the greatest view for which a certificate or a QC is held,
// re-broadcasting the triggering artifact and introducing ourselves to the
// new leader.
func (p *Process) tryAdvanceView() bool {
	current := p.state.CurrentView
	target := current
	var trigger Message

	if maxQCView, maxQC := p.store.MaxView(); maxQCView > target {
		target = maxQCView
		trigger = QCMessage{QC: maxQC}
	}
	if certView, cert, ok := p.store.MaxCertView(); ok && certView > current && certView >= target {
		target = certView
		trigger = ViewCertMessage{ViewCert: cert}
	}
	if target == current {
		return false
	}

	p.state.CurrentView = target
	p.state.ViewEnteredAt = p.now
	if _, ok := p.state.Phases[target]; !ok {
		p.state.Phases[target] = LeadPhase
	}
	p.state.ComplainedQCs = map[block.VoteData]bool{}

	p.broadcast(trigger)

	leader := p.scheduler.Leader(target)
	tips := p.store.Tips()
	for i := range tips {
		if tips[i].Author == p.whoami && tips[i].Kind != block.KindGenesis {
			p.cast(leader, QCMessage{QC: tips[i]})
		}
	}
	vm := block.ViewMessage{
		View:     target,
		MaxOneQC: p.store.Greatest1QC(),
		Signer:   p.whoami,
	}
	signature, err := p.signer.Sign(vm.SigHash())
	if err != nil {
		p.opts.Logger.Warnf("signing view message: %v", err)
		return true
	}
	vm.Signature = signature
	p.cast(leader, ViewMessageMessage{ViewMessage: vm})

	p.opts.Logger.Debugf("entered view=%v leader=%v", target, leader)
	if p.observer != nil {
		p.observer.DidAdvanceView(target)
	}
	return true
}

// Cast a 0-vote for every fresh block in the store, at most once per
// production key.
func (p *Process) tryZeroVote() bool {
	for len(p.pendingZeroVotes) > 0 {
		hash := p.pendingZeroVotes[0]
		p.pendingZeroVotes = p.pendingZeroVotes[1:]
		b, ok := p.store.Block(hash)
		if !ok || b.Kind == block.KindGenesis {
			continue
		}
		if p.state.HasVoted(0, b.Kind, b.Slot, b.Author) {
			continue
		}
		p.state.RecordVote(0, b.Kind, b.Slot, b.Author)
		vote, err := p.newVote(0, b)
		if err != nil {
			p.opts.Logger.Warnf("signing 0-vote: %v", err)
			return true
		}
		if p.opts.FastPathVotes {
			p.broadcast(VoteMessage{Vote: vote})
		} else {
			p.cast(b.Author, VoteMessage{Vote: vote})
		}
		return true
	}
	return false
}

// Broadcast the 0-QC for an own block exactly once.
func (p *Process) tryEmitZeroQC() bool {
	for len(p.pendingZeroQCs) > 0 {
		qc := p.pendingZeroQCs[0]
		p.pendingZeroQCs = p.pendingZeroQCs[1:]
		if p.state.ZeroQCsSent[qc.BlockHash] {
			continue
		}
		p.state.ZeroQCsSent[qc.BlockHash] = true
		p.broadcast(QCMessage{QC: qc})
		return true
	}
	return false
}

// Produce a transaction block when a payload is waiting and the QC for
// the previous self-authored transaction block is held.
func (p *Process) tryProduceTransactionBlock() bool {
	if p.payloads == nil || !p.payloads.Ready() {
		return false
	}
	slot := p.state.TransactionSlot
	prev := block.QCs{}
	if slot == 0 {
		prev = append(prev, block.GenesisQC())
	} else {
		qc, ok := p.store.AnyQCAt(block.ProductionKey{Kind: block.KindTransaction, Author: p.whoami, Slot: slot - 1})
		if !ok {
			return false
		}
		prev = append(prev, qc)
	}
	if tip, ok := p.store.SingleTip(); ok {
		if !tip.BlockHash.Equal(&prev[0].BlockHash) {
			prev = append(prev, tip)
		}
	}

	// A block whose 1-QC reaches at least its own height would be invalid;
	// production waits until the DAG settles under a dominating tip.
	height := maxHeight(prev) + 1
	oneQC := p.store.Greatest1QC()
	if oneQC.Height >= height {
		return false
	}

	payload := p.payloads.Next()
	if len(payload) == 0 {
		return false
	}

	b := block.Block{
		Kind:          block.KindTransaction,
		View:          p.state.CurrentView,
		Height:        height,
		Author:        p.whoami,
		Slot:          slot,
		Payload:       payload,
		Prev:          prev,
		OneQC:         oneQC,
		Justification: block.ViewMessages{},
	}
	signature, err := p.signer.Sign(b.SigHash())
	if err != nil {
		p.opts.Logger.Warnf("signing transaction block: %v", err)
		return true
	}
	b.Signature = signature

	p.state.TransactionSlot = slot + 1
	p.opts.Logger.Debugf("produced transaction block: slot=%v height=%v", b.Slot, b.Height)
	p.broadcast(BlockMessage{Block: b})
	return true
}

// Produce a leader block when leading the current view in the lead
// phase, the readiness conditions hold, and the DAG has competing tips to
// order.
func (p *Process) tryProduceLeaderBlock() bool {
	v := p.state.CurrentView
	if p.scheduler.Leader(v) != p.whoami {
		return false
	}
	if p.state.Phase(v) != LeadPhase {
		return false
	}
	if _, ok := p.store.SingleTip(); ok {
		return false
	}
	if !p.leaderReady(v) {
		return false
	}

	slot := p.state.LeaderSlot
	prev := p.store.Tips()
	if slot > 0 {
		key := block.ProductionKey{Kind: block.KindLeader, Author: p.whoami, Slot: slot - 1}
		if !containsKey(prev, key) {
			qc, ok := p.store.AnyQCAt(key)
			if !ok {
				return false
			}
			prev = append(prev, qc)
		}
	}

	var oneQC block.QC
	var justification block.ViewMessages
	if !p.store.HasLeaderBlockBy(v, p.whoami) {
		vms := p.store.ViewMessages(v)
		if len(vms) > p.n-p.f {
			vms = vms[:p.n-p.f]
		}
		justification = vms
		oneQC = vms[0].MaxOneQC
		for i := range vms {
			if oneQC.VoteData.Compare(vms[i].MaxOneQC.VoteData) < 0 {
				oneQC = vms[i].MaxOneQC
			}
		}
	} else {
		qc, ok := p.store.QCAt(block.ProductionKey{Kind: block.KindLeader, Author: p.whoami, Slot: slot - 1}, 1)
		if !ok {
			return false
		}
		oneQC = qc
		justification = block.ViewMessages{}
	}

	b := block.Block{
		Kind:          block.KindLeader,
		View:          v,
		Height:        maxHeight(prev) + 1,
		Author:        p.whoami,
		Slot:          slot,
		Payload:       block.Transactions{},
		Prev:          prev,
		OneQC:         oneQC,
		Justification: justification,
	}
	signature, err := p.signer.Sign(b.SigHash())
	if err != nil {
		p.opts.Logger.Warnf("signing leader block: %v", err)
		return true
	}
	b.Signature = signature

	p.state.LeaderSlot = slot + 1
	p.opts.Logger.Debugf("produced leader block: view=%v slot=%v height=%v", b.View, b.Slot, b.Height)
	p.broadcast(BlockMessage{Block: b})
	return true
}

// leaderReady reports whether this process, as leader of the view, may issue
// its next leader block: for the first block of the view it needs n-f view
// messages and a QC for its previous leader block (if any); for continuation
// blocks it needs a 1-QC for the previous one.
func (p *Process) leaderReady(v block.View) bool {
	slot := p.state.LeaderSlot
	if !p.store.HasLeaderBlockBy(v, p.whoami) {
		if len(p.store.ViewMessages(v)) < p.n-p.f {
			return false
		}
		if slot > 0 {
			if _, ok := p.store.AnyQCAt(block.ProductionKey{Kind: block.KindLeader, Author: p.whoami, Slot: slot - 1}); !ok {
				return false
			}
		}
		return true
	}
	if slot == 0 {
		return false
	}
	_, ok := p.store.QCAt(block.ProductionKey{Kind: block.KindLeader, Author: p.whoami, Slot: slot - 1}, 1)
	return ok
}

// Direct-path voting on transaction blocks: enabled only while every
// leader block of the current view (if any) is finalized. Both votes flip
// the view into the direct phase.
func (p *Process) tryTransactionVotes() bool {
	v := p.state.CurrentView
	if p.store.HasUnfinalizedLeader(v) {
		return false
	}

	kept := p.pendingTrOne[:0]
	voted := false
	for _, hash := range p.pendingTrOne {
		if voted {
			kept = append(kept, hash)
			continue
		}
		b, ok := p.store.Block(hash)
		if !ok || b.View < v {
			continue
		}
		if p.state.HasVoted(1, block.KindTransaction, b.Slot, b.Author) {
			continue
		}
		if b.View > v {
			kept = append(kept, hash)
			continue
		}
		if !p.store.BlockIsSingleTip(hash) {
			kept = append(kept, hash)
			continue
		}
		if b.OneQC.VoteData.Compare(p.store.Greatest1QC().VoteData) < 0 {
			kept = append(kept, hash)
			continue
		}
		p.state.RecordVote(1, block.KindTransaction, b.Slot, b.Author)
		p.state.Phases[v] = DirectPhase
		vote, err := p.newVote(1, b)
		if err != nil {
			p.opts.Logger.Warnf("signing 1-vote: %v", err)
			continue
		}
		p.broadcast(VoteMessage{Vote: vote})
		voted = true
	}
	p.pendingTrOne = kept
	if voted {
		return true
	}

	keptTwo := p.pendingTrTwo[:0]
	for _, vd := range p.pendingTrTwo {
		if voted {
			keptTwo = append(keptTwo, vd)
			continue
		}
		if p.state.HasVoted(2, block.KindTransaction, vd.Slot, vd.Author) {
			continue
		}
		tip, ok := p.store.SingleTip()
		if !ok || !tip.VoteData.Equal(vd) {
			keptTwo = append(keptTwo, vd)
			continue
		}
		if p.store.MaxHeight() > vd.Height {
			keptTwo = append(keptTwo, vd)
			continue
		}
		p.state.RecordVote(2, block.KindTransaction, vd.Slot, vd.Author)
		p.state.Phases[v] = DirectPhase
		vote, err := p.newVoteData(2, vd)
		if err != nil {
			p.opts.Logger.Warnf("signing 2-vote: %v", err)
			continue
		}
		p.broadcast(VoteMessage{Vote: vote})
		voted = true
	}
	p.pendingTrTwo = keptTwo
	return voted
}

// Lead-phase voting on leader blocks of the current view.
func (p *Process) tryLeaderVotes() bool {
	v := p.state.CurrentView
	if p.state.Phase(v) != LeadPhase {
		return false
	}

	kept := p.pendingLeadOne[:0]
	voted := false
	for _, hash := range p.pendingLeadOne {
		if voted {
			kept = append(kept, hash)
			continue
		}
		b, ok := p.store.Block(hash)
		if !ok || b.View < v {
			continue
		}
		if p.state.HasVoted(1, block.KindLeader, b.Slot, b.Author) {
			continue
		}
		if b.View > v {
			kept = append(kept, hash)
			continue
		}
		p.state.RecordVote(1, block.KindLeader, b.Slot, b.Author)
		vote, err := p.newVote(1, b)
		if err != nil {
			p.opts.Logger.Warnf("signing 1-vote: %v", err)
			continue
		}
		p.broadcast(VoteMessage{Vote: vote})
		voted = true
	}
	p.pendingLeadOne = kept
	if voted {
		return true
	}

	keptTwo := p.pendingLeadTwo[:0]
	for _, vd := range p.pendingLeadTwo {
		if voted {
			keptTwo = append(keptTwo, vd)
			continue
		}
		if vd.View < v {
			continue
		}
		if p.state.HasVoted(2, block.KindLeader, vd.Slot, vd.Author) {
			continue
		}
		if vd.View > v {
			keptTwo = append(keptTwo, vd)
			continue
		}
		p.state.RecordVote(2, block.KindLeader, vd.Slot, vd.Author)
		vote, err := p.newVoteData(2, vd)
		if err != nil {
			p.opts.Logger.Warnf("signing 2-vote: %v", err)
			continue
		}
		p.broadcast(VoteMessage{Vote: vote})
		voted = true
	}
	p.pendingLeadTwo = keptTwo
	return voted
}

// Complaints: after 6Δ in the view, report a maximal unfinalized QC to
// the leader; after 12Δ, ask to end the view. Both fire at most once per
// view per artifact.
func (p *Process) tryComplain() bool {
	v := p.state.CurrentView
	inView := p.now.Sub(p.state.ViewEnteredAt)

	if p.viewTimer.ComplainDeadlineReached(p.state.ViewEnteredAt, p.now) {
		if qc, ok := p.store.MaxUnfinalized(); ok && !p.state.ComplainedQCs[qc.VoteData] {
			p.state.ComplainedQCs[qc.VoteData] = true
			p.opts.Logger.Debugf("complaining to leader: view=%v inView=%v qc=%v", v, inView, qc)
			p.cast(p.scheduler.Leader(v), QCMessage{QC: qc})
			return true
		}
	}

	if p.viewTimer.EndViewDeadlineReached(p.state.ViewEnteredAt, p.now) {
		if p.store.HasUnfinalized() && !p.state.EndViewSent[v] {
			p.state.EndViewSent[v] = true
			ev := block.EndView{View: v, Signer: p.whoami}
			partial, err := p.signer.Sign(ev.SigHash())
			if err != nil {
				p.opts.Logger.Warnf("signing end-view: %v", err)
				return true
			}
			ev.Partial = partial
			p.opts.Logger.Debugf("requesting end of view: view=%v inView=%v", v, inView)
			p.broadcast(EndViewMessage{EndView: ev})
			return true
		}
	}
	return false
}

func (p *Process) newVote(level uint8, b block.Block) (block.Vote, error) {
	return p.newVoteData(level, block.NewVoteData(level, b))
}

func (p *Process) newVoteData(level uint8, vd block.VoteData) (block.Vote, error) {
	vd.Level = level
	partial, err := p.signer.Sign(vd.SigHash())
	if err != nil {
		return block.Vote{}, err
	}
	return block.Vote{VoteData: vd, Signer: p.whoami, Partial: partial}, nil
}

// broadcast emits one copy of the message per recipient. The copy addressed
// to this process is delivered immediately, equivalent to direct store
// ingestion.
func (p *Process) broadcast(m Message) {
	p.inbox = append(p.inbox, m)
	if p.broadcaster != nil {
		p.broadcaster.Broadcast(m)
	}
}

// cast sends the message to one process; a message to self is delivered
// immediately.
func (p *Process) cast(to block.Pid, m Message) {
	if to == p.whoami {
		p.inbox = append(p.inbox, m)
		return
	}
	if p.broadcaster != nil {
		p.broadcaster.Cast(to, m)
	}
}

func maxHeight(qcs block.QCs) block.Height {
	max := block.Height(0)
	for i := range qcs {
		if qcs[i].Height > max {
			max = qcs[i].Height
		}
	}
	return max
}

func containsKey(qcs block.QCs, key block.ProductionKey) bool {
	for i := range qcs {
		if qcs[i].Key() == key {
			return true
		}
	}
	return false
}
