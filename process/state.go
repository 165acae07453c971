package process

import (
	"time"

	"github.com/renproject/id"
	"github.com/renproject/morpheus/block"
)

// Phase of a view. Every view starts in the lead phase, in which the leader
// orders blocks; it can transition to the direct phase, and never back.
type Phase uint8

// Enumerate phase values.
const (
	LeadPhase Phase = iota
	DirectPhase
)

// String implements the `fmt.Stringer` interface.
func (phase Phase) String() string {
	switch phase {
	case LeadPhase:
		return "lead"
	case DirectPhase:
		return "direct"
	default:
		return "phase(?)"
	}
}

// A VotedKey identifies one voting opportunity. A process casts at most one
// vote per key over its entire lifetime.
type VotedKey struct {
	Level  uint8      `json:"level"`
	Kind   block.Kind `json:"kind"`
	Slot   block.Slot `json:"slot"`
	Author block.Pid  `json:"author"`
}

// The State of a process. It is isolated from the Process so that it can be
// journaled and restored across restarts: a restarted process must not vote
// or produce in a way that contradicts what it journaled.
type State struct {
	CurrentView     block.View `json:"currentView"`
	LeaderSlot      block.Slot `json:"leaderSlot"`      // Next slot for leader blocks produced locally.
	TransactionSlot block.Slot `json:"transactionSlot"` // Next slot for transaction blocks produced locally.

	// Voted records every vote cast; entries are monotone-add-only.
	Voted map[VotedKey]bool `json:"voted"`
	// Phases maps views to their phase; entries move from lead to direct only.
	Phases map[block.View]Phase `json:"phases"`

	ViewEnteredAt time.Time `json:"viewEnteredAt"`

	// ZeroQCsSent guards the one-time broadcast of a 0-QC per own block.
	ZeroQCsSent map[id.Hash]bool `json:"zeroQCsSent"`
	// ComplainedQCs guards the per-view 6Δ complaint; cleared on view entry.
	ComplainedQCs map[block.VoteData]bool `json:"complainedQCs"`
	// EndViewSent guards the per-view 12Δ end-view message.
	EndViewSent map[block.View]bool `json:"endViewSent"`
}

// DefaultState returns the state that a fresh process starts from: view zero
// in the lead phase, with both slot counters at zero.
func DefaultState() State {
	return State{
		CurrentView:     0,
		LeaderSlot:      0,
		TransactionSlot: 0,
		Voted:           map[VotedKey]bool{},
		Phases:          map[block.View]Phase{0: LeadPhase},
		ViewEnteredAt:   time.Time{},
		ZeroQCsSent:     map[id.Hash]bool{},
		ComplainedQCs:   map[block.VoteData]bool{},
		EndViewSent:     map[block.View]bool{},
	}
}

// Clone returns a deep copy of the state.
func (state State) Clone() State {
	cloned := state
	cloned.Voted = make(map[VotedKey]bool, len(state.Voted))
	for k, v := range state.Voted {
		cloned.Voted[k] = v
	}
	cloned.Phases = make(map[block.View]Phase, len(state.Phases))
	for k, v := range state.Phases {
		cloned.Phases[k] = v
	}
	cloned.ZeroQCsSent = make(map[id.Hash]bool, len(state.ZeroQCsSent))
	for k, v := range state.ZeroQCsSent {
		cloned.ZeroQCsSent[k] = v
	}
	cloned.ComplainedQCs = make(map[block.VoteData]bool, len(state.ComplainedQCs))
	for k, v := range state.ComplainedQCs {
		cloned.ComplainedQCs[k] = v
	}
	cloned.EndViewSent = make(map[block.View]bool, len(state.EndViewSent))
	for k, v := range state.EndViewSent {
		cloned.EndViewSent[k] = v
	}
	return cloned
}

// Equal compares one state with another.
func (state State) Equal(other State) bool {
	if state.CurrentView != other.CurrentView ||
		state.LeaderSlot != other.LeaderSlot ||
		state.TransactionSlot != other.TransactionSlot ||
		!state.ViewEnteredAt.Equal(other.ViewEnteredAt) {
		return false
	}
	if len(state.Voted) != len(other.Voted) || len(state.Phases) != len(other.Phases) {
		return false
	}
	for k, v := range state.Voted {
		if other.Voted[k] != v {
			return false
		}
	}
	for k, v := range state.Phases {
		if other.Phases[k] != v {
			return false
		}
	}
	return true
}

// Phase of the view; views without an entry have not been entered and are in
// the lead phase.
func (state State) Phase(view block.View) Phase {
	return state.Phases[view]
}

// HasVoted reports whether a vote has been cast for the key.
func (state State) HasVoted(level uint8, kind block.Kind, slot block.Slot, author block.Pid) bool {
	return state.Voted[VotedKey{Level: level, Kind: kind, Slot: slot, Author: author}]
}

// RecordVote marks the key as voted.
func (state State) RecordVote(level uint8, kind block.Kind, slot block.Slot, author block.Pid) {
	state.Voted[VotedKey{Level: level, Kind: kind, Slot: slot, Author: author}] = true
}

// A SaveRestorer defines a storage interface for the State.
type SaveRestorer interface {
	Save(*State)
	Restore(*State)
}
