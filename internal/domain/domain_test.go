package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalNameLowercases(t *testing.T) {
	for _, name := range []string{"My-Site", "MY-SITE", " my-site ", "my-site"} {
		assert.Equal(t, "my-site", CanonicalName(name), name)
	}
	assert.Equal(t, CanonicalName(CanonicalName("Mixed_Case")), CanonicalName("Mixed_Case"))
}

func TestParseDeploymentStatus(t *testing.T) {
	status, ok := ParseDeploymentStatus("ready")
	assert.True(t, ok)
	assert.Equal(t, StatusReady, status)

	_, ok = ParseDeploymentStatus("DEPLOYING")
	assert.False(t, ok)
}

func TestTerminalStatuses(t *testing.T) {
	assert.False(t, StatusQueued.IsTerminal())
	assert.False(t, StatusBuilding.IsTerminal())
	assert.True(t, StatusReady.IsTerminal())
	assert.True(t, StatusError.IsTerminal())
	assert.True(t, StatusCanceled.IsTerminal())
}
