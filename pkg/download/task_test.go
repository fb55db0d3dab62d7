package download

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeChecksum(t *testing.T) {
	assert.Equal(t, "abc123", normalizeChecksum("abc123"))
	assert.Equal(t, "abc123", normalizeChecksum("sha256:abc123"))
	assert.Equal(t, "abc123", normalizeChecksum("  SHA256:ABC123  "))
	assert.Equal(t, "", normalizeChecksum(""))
}

func TestTaskStateTerminal(t *testing.T) {
	terminal := []TaskState{StateCompleted, StateFailed, StatePaused}
	for _, s := range terminal {
		assert.True(t, s.Terminal(), s.String())
	}
	active := []TaskState{StatePending, StateResolving, StateTransferring, StateVerifying}
	for _, s := range active {
		assert.False(t, s.Terminal(), s.String())
	}
}

func TestSetStateRejectsLeavingTerminal(t *testing.T) {
	tk := &task{state: StateCompleted}
	assert.Panics(t, func() { tk.setState(StateTransferring) })
}
