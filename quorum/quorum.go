// Package quorum accumulates partial signatures towards quorum certificates
// and view certificates. Partials are keyed by vote data (for 0/1/2-QCs) or
// by view (for end-view certificates); when a key reaches its threshold of
// distinct signers, the partials combine into a certificate. Duplicate
// partials from one signer are dropped, and once a certificate has been
// produced for a key, further partials for it are ignored.
package quorum

import (
	"fmt"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
	"github.com/renproject/morpheus/sig"
	"github.com/sirupsen/logrus"
)

// Options define a set of properties that parameterise the aggregator.
type Options struct {
	Logger logrus.FieldLogger
}

// DefaultOptions returns the default aggregator options.
func DefaultOptions() Options {
	return Options{
		Logger: logrus.StandardLogger(),
	}
}

// WithLogger updates the logger used by the aggregator.
func (opts Options) WithLogger(logger logrus.FieldLogger) Options {
	opts.Logger = logger
	return opts
}

// An Aggregator tracks partial signatures until thresholds are reached. It
// assumes that partials handed to it have already been verified; a partial
// that fails verification must be dropped before insertion.
type Aggregator struct {
	opts Options
	n, f int

	votes     map[block.VoteData]map[block.Pid]block.Vote
	votesDone map[block.VoteData]bool

	endViews     map[block.View]map[block.Pid]block.EndView
	endViewsDone map[block.View]bool
}

// New returns an empty aggregator for a system of n processes tolerating f
// faults.
func New(opts Options, n, f int) *Aggregator {
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	return &Aggregator{
		opts: opts,
		n:    n,
		f:    f,

		votes:     map[block.VoteData]map[block.Pid]block.Vote{},
		votesDone: map[block.VoteData]bool{},

		endViews:     map[block.View]map[block.Pid]block.EndView{},
		endViewsDone: map[block.View]bool{},
	}
}

// InsertVote records a vote towards a QC. When the vote completes an n-f
// quorum of distinct signers for its vote data, the partials are combined and
// the QC is returned. The first return reports whether the vote was fresh.
func (agg *Aggregator) InsertVote(v block.Vote) (bool, block.QC, bool) {
	if agg.votesDone[v.VoteData] {
		return false, block.QC{}, false
	}
	if agg.votes[v.VoteData] == nil {
		agg.votes[v.VoteData] = map[block.Pid]block.Vote{}
	}
	if _, ok := agg.votes[v.VoteData][v.Signer]; ok {
		return false, block.QC{}, false
	}
	agg.votes[v.VoteData][v.Signer] = v

	if len(agg.votes[v.VoteData]) < agg.n-agg.f {
		return true, block.QC{}, false
	}

	partials := make([]id.Signature, 0, agg.n-agg.f)
	for _, vote := range agg.votes[v.VoteData] {
		partials = append(partials, vote.Partial)
	}
	threshSig, err := sig.Combine(partials, agg.n-agg.f)
	if err != nil {
		panic(fmt.Errorf("invariant violation: combining vote partials: %v", err))
	}
	agg.votesDone[v.VoteData] = true
	delete(agg.votes, v.VoteData)
	return true, block.QC{VoteData: v.VoteData, Signature: threshSig}, true
}

// NumVotes returns the number of distinct signers recorded for the vote
// data.
func (agg *Aggregator) NumVotes(vd block.VoteData) int {
	return len(agg.votes[vd])
}

// InsertEndView records an end-view message, deduplicated per signer.
// Certificates are synthesised separately, so that the engine can order the
// synthesis against its other transitions.
func (agg *Aggregator) InsertEndView(ev block.EndView) bool {
	if agg.endViewsDone[ev.View] {
		return false
	}
	if agg.endViews[ev.View] == nil {
		agg.endViews[ev.View] = map[block.Pid]block.EndView{}
	}
	if _, ok := agg.endViews[ev.View][ev.Signer]; ok {
		return false
	}
	agg.endViews[ev.View][ev.Signer] = ev
	return true
}

// MaxEndViewQuorum returns the greatest view not below min for which f+1
// end-view messages are held and no certificate has been produced yet.
func (agg *Aggregator) MaxEndViewQuorum(min block.View) (block.View, bool) {
	best, ok := block.View(0), false
	for view, endViews := range agg.endViews {
		if view < min || agg.endViewsDone[view] || len(endViews) < agg.f+1 {
			continue
		}
		if !ok || view > best {
			best, ok = view, true
		}
	}
	return best, ok
}

// MakeViewCert combines the end-view partials for the view into a
// certificate for the next view. Calling it without a quorum is a bug.
func (agg *Aggregator) MakeViewCert(view block.View) block.ViewCert {
	endViews := agg.endViews[view]
	partials := make([]id.Signature, 0, len(endViews))
	for _, endView := range endViews {
		partials = append(partials, endView.Partial)
	}
	threshSig, err := sig.Combine(partials, agg.f+1)
	if err != nil {
		panic(fmt.Errorf("invariant violation: combining end-view partials: %v", err))
	}
	agg.endViewsDone[view] = true
	delete(agg.endViews, view)
	return block.ViewCert{View: view + 1, Signature: threshSig}
}
