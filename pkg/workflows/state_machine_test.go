package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestLifecycle(t *testing.T) {
	sm := NewRequestStateMachine()

	assert.True(t, sm.CanTransition("PENDING", "APPROVED"))
	assert.True(t, sm.CanTransition("PENDING", "REJECTED"))
	assert.True(t, sm.CanTransition("APPROVED", "MINTED"))

	// MINTED is only reachable through APPROVED
	assert.False(t, sm.CanTransition("PENDING", "MINTED"))
	assert.False(t, sm.CanTransition("REJECTED", "APPROVED"))
	assert.False(t, sm.CanTransition("MINTED", "PENDING"))

	assert.True(t, sm.IsTerminal("REJECTED"))
	assert.True(t, sm.IsTerminal("MINTED"))
	assert.False(t, sm.IsTerminal("APPROVED"))
}

func TestSwapPhaseGraph(t *testing.T) {
	sm := NewSwapStateMachine()

	assert.True(t, sm.CanTransition("RESERVED", "PAYMENT_PENDING"))
	assert.True(t, sm.CanTransition("PAYMENT_PENDING", "PAYMENT_CONFIRMED"))
	assert.True(t, sm.CanTransition("PAYMENT_CONFIRMED", "TRANSFER_PENDING"))
	assert.True(t, sm.CanTransition("TRANSFER_PENDING", "COMPLETED"))

	// Clean failure only before payment confirmation
	assert.True(t, sm.CanTransition("RESERVED", "FAILED_CLEAN"))
	assert.True(t, sm.CanTransition("PAYMENT_PENDING", "FAILED_CLEAN"))
	assert.False(t, sm.CanTransition("PAYMENT_CONFIRMED", "FAILED_CLEAN"))
	assert.False(t, sm.CanTransition("TRANSFER_PENDING", "FAILED_CLEAN"))

	// Refund-required only after payment confirmation
	assert.True(t, sm.CanTransition("PAYMENT_CONFIRMED", "FAILED_REFUND_REQUIRED"))
	assert.True(t, sm.CanTransition("TRANSFER_PENDING", "FAILED_REFUND_REQUIRED"))
	assert.False(t, sm.CanTransition("RESERVED", "FAILED_REFUND_REQUIRED"))
	assert.False(t, sm.CanTransition("PAYMENT_PENDING", "FAILED_REFUND_REQUIRED"))

	// Terminal phases never move
	for _, terminal := range []string{"COMPLETED", "FAILED_CLEAN", "FAILED_REFUND_REQUIRED"} {
		assert.True(t, sm.IsTerminal(terminal))
		assert.Empty(t, sm.GetAllowedTransitions(terminal))
	}
}
