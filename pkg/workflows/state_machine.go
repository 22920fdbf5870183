package workflows

// StateMachine enforces one-directional lifecycle transitions. Request
// statuses and swap phases are both monotonic: once a terminal state is
// reached nothing moves again.
type StateMachine struct {
	allowedTransitions map[string][]string
}

// NewStateMachine creates a state machine from an allowed-transition table.
func NewStateMachine(transitions map[string][]string) *StateMachine {
	return &StateMachine{allowedTransitions: transitions}
}

// NewRequestStateMachine returns the tokenization-request lifecycle. APPROVED
// requests move to MINTED only as the effect of a successful deployment; no
// state ever returns to PENDING.
func NewRequestStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"PENDING":  {"APPROVED", "REJECTED"},
		"APPROVED": {"MINTED"},
		"REJECTED": {},
		"MINTED":   {},
	})
}

// NewSwapStateMachine returns the swap-attempt phase graph. FAILED_CLEAN is
// reachable before payment confirmation; FAILED_REFUND_REQUIRED only after.
func NewSwapStateMachine() *StateMachine {
	return NewStateMachine(map[string][]string{
		"RESERVED":               {"PAYMENT_PENDING", "FAILED_CLEAN"},
		"PAYMENT_PENDING":        {"PAYMENT_CONFIRMED", "FAILED_CLEAN"},
		"PAYMENT_CONFIRMED":      {"TRANSFER_PENDING", "FAILED_REFUND_REQUIRED"},
		"TRANSFER_PENDING":       {"COMPLETED", "FAILED_REFUND_REQUIRED"},
		"COMPLETED":              {},
		"FAILED_REFUND_REQUIRED": {},
		"FAILED_CLEAN":           {},
	})
}

// CanTransition checks if a status transition is allowed.
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

// GetAllowedTransitions returns the allowed next statuses for a given status.
func (sm *StateMachine) GetAllowedTransitions(from string) []string {
	allowed, exists := sm.allowedTransitions[from]
	if !exists {
		return []string{}
	}
	return allowed
}

// IsTerminal reports whether no further transition is possible.
func (sm *StateMachine) IsTerminal(state string) bool {
	return len(sm.allowedTransitions[state]) == 0
}
