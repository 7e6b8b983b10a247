package executor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestState_String(t *testing.T) {
	cases := map[State]string{
		StateConfigured: "Configured",
		StateBuilding:   "Building",
		StateCreated:    "Created",
		StateStarting:   "Starting",
		StateReady:      "Ready",
		StateStopping:   "Stopping",
		StateStopped:    "Stopped",
		State(99):       "Unknown",
	}
	for state, want := range cases {
		assert.Equal(t, want, state.String())
	}
}
