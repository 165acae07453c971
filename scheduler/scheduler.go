// Package scheduler defines how views are assigned to leaders. At any given
// view, exactly one process is expected to issue leader blocks, and all
// processes must arrive at the same decision about which process that is.
// The schedule is therefore deterministic and locally computable.
package scheduler

import (
	"github.com/renproject/morpheus/block"
)

// A Scheduler determines which process leads a view.
type Scheduler interface {
	Leader(view block.View) block.Pid
}

// RoundRobin assigns leadership by cycling through the n process ids in
// order. Round-robin scheduling is easy to implement and understand, but is
// unfair under skewed load; it should be avoided when the leader is expected
// to receive a reward.
type RoundRobin struct {
	n int
}

// NewRoundRobin returns a Scheduler over n processes.
func NewRoundRobin(n int) Scheduler {
	if n <= 0 {
		panic("no processes to schedule")
	}
	return &RoundRobin{n: n}
}

// Leader of the view: the view number modulo the number of processes.
func (rr *RoundRobin) Leader(view block.View) block.Pid {
	if view < 0 {
		panic("invalid view")
	}
	return block.Pid(uint64(view) % uint64(rr.n))
}
