package cmd

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/vaultrag/pkg/version"
)

func TestVersionCmd_Default(t *testing.T) {
	out, err := runCmd(t, "version")

	require.NoError(t, err)
	assert.Contains(t, out, "vaultrag "+version.Version)
	assert.Contains(t, out, "commit")
}

func TestVersionCmd_Short(t *testing.T) {
	out, err := runCmd(t, "version", "--short")

	require.NoError(t, err)
	assert.Equal(t, version.Version, strings.TrimSpace(out))
}

func TestVersionCmd_JSON(t *testing.T) {
	out, err := runCmd(t, "version", "--json")
	require.NoError(t, err)

	var info version.BuildInfo
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.Equal(t, version.Version, info.Version)
	assert.NotEmpty(t, info.GoVersion)
}
