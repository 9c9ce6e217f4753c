package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"message","text":"hi"}`))
	require.NoError(t, err)
	assert.Equal(t, "message", f.Type)

	var req ChatRequest
	require.NoError(t, f.Decode(&req))
	assert.Equal(t, "hi", req.Text)
}

func TestParseFrame_MalformedJSON(t *testing.T) {
	_, err := ParseFrame([]byte(`{"type":`))
	assert.Error(t, err)
}

func TestParseFrame_MissingType(t *testing.T) {
	_, err := ParseFrame([]byte(`{"text":"hi"}`))
	assert.Error(t, err)
}

func TestFrameDecode_TaskRequest(t *testing.T) {
	f, err := ParseFrame([]byte(`{"type":"task","action":"claim","task":{"id":"T1","title":"do it"}}`))
	require.NoError(t, err)

	var req TaskRequest
	require.NoError(t, f.Decode(&req))
	assert.Equal(t, "claim", req.Action)
	assert.Equal(t, "T1", req.Task.ID)
}
