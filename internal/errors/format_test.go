package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeProviderUnavailable, "embedding provider unavailable", nil).
		WithSuggestion("Run 'ollama serve'")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: embedding provider unavailable")
	assert.Contains(t, out, "Hint: Run 'ollama serve'")
	assert.Contains(t, out, "Code: ERR_303_PROVIDER_UNAVAILABLE")
	assert.Equal(t, "", FormatForCLI(nil))
}

func TestFormatForCLI_PlainError(t *testing.T) {
	out := FormatForCLI(errors.New("boom"))
	assert.Contains(t, out, "Code: ERR_501_INTERNAL")
}

func TestFormatJSON(t *testing.T) {
	err := New(ErrCodeStoreWrite, "upsert failed", errors.New("disk full")).WithDetail("doc", "a.md")

	data, jerr := FormatJSON(err)
	require.NoError(t, jerr)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeStoreWrite, decoded["code"])
	assert.Equal(t, "disk full", decoded["cause"])
	assert.Equal(t, "PIPELINE", decoded["category"])
}

func TestLogAttr(t *testing.T) {
	plain := LogAttr(errors.New("boom"))
	assert.Equal(t, "error", plain.Key)
	assert.Equal(t, "boom", plain.Value.String())

	grouped := LogAttr(New(ErrCodeSearchFailed, "search failed", nil))
	assert.Equal(t, "error", grouped.Key)
	assert.Equal(t, slog.KindGroup, grouped.Value.Kind())

	assert.True(t, LogAttr(nil).Equal(slog.Attr{}))
}
