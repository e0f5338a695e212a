package configs

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"gopkg.in/yaml.v3"
)

func TestVaultConfigTemplate_IsValidYAML(t *testing.T) {
	var parsed map[string]any

	assert.NoError(t, yaml.Unmarshal([]byte(VaultConfigTemplate), &parsed))
	assert.Equal(t, 1, parsed["version"])
	assert.NotContains(t, parsed, "backends", "backends keep their default order")
}
