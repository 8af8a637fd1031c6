package workflows

import "sort"

// StateMachine enforces status transitions against a fixed table
type StateMachine struct {
	allowedTransitions map[string][]string
	states             []string
}

// NewStateMachine creates a state machine from a from -> allowed targets table.
// States that only appear as targets are terminal.
func NewStateMachine(transitions map[string][]string) *StateMachine {
	table := make(map[string][]string, len(transitions))
	seen := make(map[string]struct{})
	for from, to := range transitions {
		table[from] = append([]string(nil), to...)
		seen[from] = struct{}{}
		for _, s := range to {
			seen[s] = struct{}{}
		}
	}
	states := make([]string, 0, len(seen))
	for s := range seen {
		states = append(states, s)
	}
	sort.Strings(states)
	return &StateMachine{allowedTransitions: table, states: states}
}

// CanTransition checks if a status transition is allowed
func (sm *StateMachine) CanTransition(from, to string) bool {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return false
	}
	for _, allowedTo := range allowed {
		if allowedTo == to {
			return true
		}
	}
	return false
}

// GetAllowedTransitions returns the allowed next statuses for a given status
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return append([]string(nil), allowed...)
}

// IsTerminal reports whether status is a known state no transition leaves
func (sm *StateMachine) IsTerminal(status string) bool {
	i := sort.SearchStrings(sm.states, status)
	if i == len(sm.states) || sm.states[i] != status {
		return false
	}
	return len(sm.allowedTransitions[status]) == 0
}

// States returns every status named by the table, sorted
func (sm *StateMachine) States() []string {
	return append([]string(nil), sm.states...)
}

// TerminalStates returns the sorted states no transition leaves
func (sm *StateMachine) TerminalStates() []string {
	var terminal []string
	for _, s := range sm.states {
		if len(sm.allowedTransitions[s]) == 0 {
			terminal = append(terminal, s)
		}
	}
	return terminal
}
