package process

import (
	"fmt"
)

// CheckInvariants cross-checks the process state and the derived indices of
// its store against the relations that define them, returning a description
// of every violation found. It is expensive and intended for tests and for
// deployments running with debug checks enabled; a violation is a bug, and
// the engine aborts when it finds one mid-run.
func (p *Process) CheckInvariants() []string {
	violations := p.store.SelfCheck()

	if _, ok := p.state.Phases[p.state.CurrentView]; !ok {
		violations = append(violations, fmt.Sprintf("current view %v has no phase entry", p.state.CurrentView))
	}

	for key := range p.state.Voted {
		if key.Level > 2 {
			violations = append(violations, fmt.Sprintf("voted entry %v has level %d", key, key.Level))
		}
	}

	if p.now.Before(p.state.ViewEnteredAt) {
		violations = append(violations, fmt.Sprintf("view entered at %v, after local time %v", p.state.ViewEnteredAt, p.now))
	}

	if p.state.LeaderSlot < 0 || p.state.TransactionSlot < 0 {
		violations = append(violations, fmt.Sprintf("negative slot counters: lead=%v tr=%v", p.state.LeaderSlot, p.state.TransactionSlot))
	}

	return violations
}
