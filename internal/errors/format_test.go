package errors

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatForCLI(t *testing.T) {
	err := New(ErrCodeConfigInvalid, "unknown backend", nil).WithSuggestion("use hnsw")

	out := FormatForCLI(err)

	assert.Contains(t, out, "Error: unknown backend")
	assert.Contains(t, out, "Hint: use hnsw")
	assert.Contains(t, out, "Code: ERR_102_CONFIG_INVALID")
	assert.Empty(t, FormatForCLI(nil))
}

func TestFormatJSON_WrapsPlainErrors(t *testing.T) {
	data, err := FormatJSON(errors.New("plain"))
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, ErrCodeInternal, decoded["code"])
	assert.Equal(t, "plain", decoded["message"])
}

func TestLogAttrs(t *testing.T) {
	attrs := LogAttrs(BusyError("svc"))
	assert.Len(t, attrs, 4)
	assert.Nil(t, LogAttrs(nil))
}
